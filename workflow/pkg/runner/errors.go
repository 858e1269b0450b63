package runner

import (
	"errors"
	"fmt"

	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
)

var (
	// ErrValidation is returned when the input of Start is rejected locally.
	ErrValidation = errors.New("validation failed")

	// ErrNotStarted is returned by Poll before a run was started.
	ErrNotStarted = errors.New("workflow not started")

	// ErrAlreadyStarted is returned by Start on a runner that holds a run.
	ErrAlreadyStarted = errors.New("workflow already started")

	// ErrInFlight is returned when an operation is attempted while another
	// request of the same runner has not settled.
	ErrInFlight = errors.New("another request is in flight")

	// ErrRunReset is returned when Reset was called while the request was in
	// flight. The response is discarded.
	ErrRunReset = errors.New("run was reset while the request was in flight")
)

// SchemaUnavailableError is returned by Start when the schema of a
// connection could not be resolved.
type SchemaUnavailableError struct {
	ConnectionID string
	Err          error
}

func (e *SchemaUnavailableError) Error() string {
	return fmt.Sprintf("schema unavailable for connection %q: %v", e.ConnectionID, e.Err)
}

func (e *SchemaUnavailableError) Unwrap() error {
	return e.Err
}

// TransportError is a failed outbound call: network, HTTP status or decode.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status of the failed call, or 0 if the call
// never got a response.
func (e *TransportError) StatusCode() int {
	var apiErr *pulseapi.Error
	if errors.As(e.Err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// BackendReportedError is a well-formed response whose own status reports a
// failure.
type BackendReportedError struct {
	Op      string
	Status  string
	Message string
}

func (e *BackendReportedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: backend reported status %q", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: backend reported status %q: %s", e.Op, e.Status, e.Message)
}
