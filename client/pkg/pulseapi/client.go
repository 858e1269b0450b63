// Package pulseapi is an HTTP client for the Pulse backend REST API.
package pulseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/malbeclabs/pulse/utils/pkg/metrics"
	"github.com/malbeclabs/pulse/utils/pkg/retry"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the backend address used when none is configured.
	DefaultBaseURL = "http://localhost:8000/api/v1"

	// RequestIDHeader carries a per-call id for correlating client and
	// backend logs.
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 16 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Logger  *slog.Logger

	// HTTPClient overrides the default client. Timeouts are the transport's
	// responsibility; the client adds none of its own.
	HTTPClient *http.Client

	// RequestsPerSecond caps outbound requests. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int

	// Retry applies to idempotent reads that are not part of a poll cycle.
	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must be http or https, got %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient()
	}
	if cfg.RequestsPerSecond < 0 {
		return errors.New("requests per second must not be negative")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Client talks to the Pulse backend.
type Client struct {
	log        *slog.Logger
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Config
}

// New creates a new Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		log:        cfg.Logger,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		retry:      cfg.Retry,
	}, nil
}

// BaseURL returns the normalized backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   time.Minute,
	}
}

// call describes one API operation.
type call struct {
	op     string
	method string
	path   string
	body   any
	out    any
	retry  bool
}

func (c *Client) do(ctx context.Context, cl call) error {
	var payload []byte
	if cl.body != nil {
		var err error
		payload, err = json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", cl.op, err)
		}
	}

	cfg := retry.NoRetry()
	if cl.retry {
		cfg = c.retry
		cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
			metrics.APIRetriesTotal.WithLabelValues(cl.op).Inc()
			c.log.Debug("retrying api request", "operation", cl.op, "attempt", attempt, "backoff", backoff, "error", err)
		}
	}

	return retry.Do(ctx, cfg, func() error {
		return c.doOnce(ctx, cl, payload)
	})
}

func (c *Client) doOnce(ctx context.Context, cl call, payload []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", cl.op, err)
	}

	span := sentry.StartSpan(ctx, "http.client", sentry.WithDescription(cl.method+" "+cl.path))
	defer span.Finish()
	span.SetData("pulse.operation", cl.op)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(span.Context(), cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", cl.op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.New().String()
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(cl.op, 0, time.Since(start), err)
		span.Status = sentry.SpanStatusInternalError
		c.log.Debug("api request failed", "operation", cl.op, "request_id", requestID, "error", err)
		return fmt.Errorf("%s: failed to send request: %w", cl.op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	metrics.RecordAPIRequest(cl.op, resp.StatusCode, time.Since(start), err)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return fmt.Errorf("%s: failed to read response: %w", cl.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.Status = sentry.HTTPtoSpanStatus(resp.StatusCode)
		msg := errorMessage(respBody)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.log.Debug("api request returned error status",
			"operation", cl.op,
			"request_id", requestID,
			"status", resp.StatusCode,
			"message", msg,
		)
		return &Error{Operation: cl.op, Status: resp.StatusCode, Message: msg}
	}
	span.Status = sentry.SpanStatusOK

	if cl.out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, cl.out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", cl.op, err)
	}
	return nil
}

func pathID(id string) string {
	return url.PathEscape(id)
}
