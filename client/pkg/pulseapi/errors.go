package pulseapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorMessageLen bounds how much of an error body is kept.
const maxErrorMessageLen = 500

// Error is a non-2xx response from the backend. It implements StatusCode()
// so retry.IsRetryable can classify it.
type Error struct {
	Operation string
	Status    int
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: API error: %s (status %d)", e.Operation, e.Message, e.Status)
}

func (e *Error) StatusCode() int {
	return e.Status
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// errorMessage extracts a readable message from an error body. FastAPI
// reports errors as {"detail": ...}.
func errorMessage(body []byte) string {
	var problem struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &problem); err == nil && problem.Detail != nil {
		if s, ok := problem.Detail.(string); ok {
			return truncate(s)
		}
		if b, err := json.Marshal(problem.Detail); err == nil {
			return truncate(string(b))
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) > maxErrorMessageLen {
		return s[:maxErrorMessageLen] + "..."
	}
	return s
}
