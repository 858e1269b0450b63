// Package history lists past workflow runs. Entries are read-only snapshots;
// nothing here mutates a running workflow.
package history

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

// Client is the subset of the backend API used to build the history.
type Client interface {
	ListHistory(ctx context.Context) ([]pulseapi.HistoryItem, error)
	GetStatus(ctx context.Context, requestID string) (pulseapi.WorkflowStatusResponse, error)
}

// Entry is one past run.
type Entry struct {
	RequestID string
	Query     string
	Status    pulseapi.WorkflowStatus
	Current   string // step in progress, if the status was refreshed
	CreatedAt time.Time
	UpdatedAt time.Time

	// RefreshErr is set when the live status could not be fetched. Status then
	// holds the value from the history listing.
	RefreshErr error
}

// Options controls List.
type Options struct {
	// RefreshStatus fetches the live status of runs that are not terminal.
	RefreshStatus bool
	// Concurrency bounds concurrent status refreshes.
	Concurrency int
}

type Config struct {
	Logger *slog.Logger
	Client Client
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	return nil
}

type Lister struct {
	log    *slog.Logger
	client Client
}

func NewLister(cfg Config) (*Lister, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Lister{log: cfg.Logger, client: cfg.Client}, nil
}

// IsTerminalStatus reports whether a workflow with this status is finished.
func IsTerminalStatus(status pulseapi.WorkflowStatus) bool {
	switch status {
	case pulseapi.WorkflowDone, pulseapi.WorkflowCompleted, pulseapi.WorkflowFailed:
		return true
	default:
		return false
	}
}

// List returns past runs, newest first.
func (l *Lister) List(ctx context.Context, opts Options) ([]Entry, error) {
	items, err := l.client.ListHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow history: %w", err)
	}

	entries := make([]Entry, len(items))
	for i, item := range items {
		entries[i] = Entry{
			RequestID: item.RequestID,
			Query:     item.Query,
			Status:    item.Status,
			CreatedAt: item.CreatedAt.Time,
			UpdatedAt: item.UpdatedAt.Time,
		}
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RequestID, b.RequestID)
	})

	if opts.RefreshStatus {
		if err := l.refresh(ctx, entries, opts.Concurrency); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (l *Lister) refresh(ctx context.Context, entries []Entry, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range entries {
		if IsTerminalStatus(entries[i].Status) {
			continue
		}
		g.Go(func() error {
			e := &entries[i]
			status, err := l.client.GetStatus(gctx, e.RequestID)
			if err != nil {
				l.log.Warn("history: failed to refresh status", "request_id", e.RequestID, "error", err)
				e.RefreshErr = err
				return nil
			}
			e.Status = status.Status
			e.Current = status.Current
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
