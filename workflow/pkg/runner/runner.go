// Package runner drives one natural-language-to-SQL workflow run: submission,
// step polling, terminal detection and extraction of the generated SQL.
//
// A Runner holds no timer. Callers poll it on their own schedule (see the
// poller package) and must not overlap calls; overlapping calls are rejected
// with ErrInFlight.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
	"github.com/malbeclabs/pulse/utils/pkg/metrics"
	"github.com/qmuntal/stateless"
)

// WorkflowClient submits workflows and fetches their steps.
type WorkflowClient interface {
	SubmitWorkflow(ctx context.Context, req pulseapi.WorkflowRequest) (pulseapi.WorkflowResponse, error)
	GetSteps(ctx context.Context, requestID string) ([]pulseapi.StepOutput, error)
}

// SchemaClient resolves the schema of a stored connection.
type SchemaClient interface {
	GetSchema(ctx context.Context, connectionID string) (pulseapi.SchemaResponse, error)
}

type Config struct {
	Logger    *slog.Logger
	Workflows WorkflowClient
	Schemas   SchemaClient // optional; required to start from a ConnectionRef
	UserID    string       // optional; sent with every submission
	StepNames []string     // placeholder steps of a new run; defaults to DefaultStepNames
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Workflows == nil {
		return errors.New("workflow client is required")
	}
	if len(cfg.StepNames) == 0 {
		cfg.StepNames = DefaultStepNames
	}
	seen := make(map[string]struct{}, len(cfg.StepNames))
	for _, name := range cfg.StepNames {
		if name == "" {
			return errors.New("step names must not be empty")
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("duplicate step name %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

type Runner struct {
	log *slog.Logger
	cfg Config

	mu  sync.Mutex
	fsm *stateless.StateMachine
	run Run

	// inFlight is set while a Start or Poll request is outstanding.
	inFlight bool
	// generation is bumped by Reset so responses to older requests are dropped.
	generation uint64
	polls      int
}

func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(triggerStart, StatePolling).
		Ignore(triggerReset)
	fsm.Configure(StatePolling).
		Permit(triggerComplete, StateComplete).
		Permit(triggerReset, StateIdle)
	fsm.Configure(StateComplete).
		Permit(triggerReset, StateIdle).
		Ignore(triggerComplete)

	return &Runner{
		log: cfg.Logger,
		cfg: cfg,
		fsm: fsm,
		run: Run{State: StateIdle},
	}, nil
}

// Start submits query as a new workflow and returns the request id assigned
// by the backend. A ConnectionRef source is resolved to a schema first. On
// success the run is polling and every step is pending; no poll is made.
func (r *Runner) Start(ctx context.Context, query string, source SchemaSource) (string, error) {
	if err := validateStart(query, source); err != nil {
		metrics.RecordWorkflowStart("invalid")
		return "", err
	}

	r.mu.Lock()
	if r.state() != StateIdle {
		r.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	if r.inFlight {
		r.mu.Unlock()
		return "", ErrInFlight
	}
	r.inFlight = true
	gen := r.generation
	r.mu.Unlock()

	requestID, err := r.submit(ctx, query, source)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		metrics.RecordWorkflowStart("discarded")
		return "", ErrRunReset
	}
	r.inFlight = false
	if err != nil {
		var schemaErr *SchemaUnavailableError
		if errors.As(err, &schemaErr) {
			metrics.RecordWorkflowStart("schema_unavailable")
		} else {
			metrics.RecordWorkflowStart("error")
		}
		return "", err
	}

	if err := r.fsm.Fire(triggerStart); err != nil {
		return "", fmt.Errorf("failed to enter polling state: %w", err)
	}
	r.run = Run{
		RequestID:     requestID,
		Query:         query,
		Source:        source,
		Steps:         placeholderSteps(r.cfg.StepNames),
		PollingActive: true,
		State:         StatePolling,
	}
	r.polls = 0
	metrics.RecordWorkflowStart("ok")
	r.log.Info("workflow started", "request_id", requestID)
	return requestID, nil
}

func validateStart(query string, source SchemaSource) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query is empty", ErrValidation)
	}
	if source.IsConnection() {
		if strings.TrimSpace(source.ConnectionID()) == "" {
			return fmt.Errorf("%w: connection id is empty", ErrValidation)
		}
		return nil
	}
	if source.Inline() == nil {
		return fmt.Errorf("%w: schema is required", ErrValidation)
	}
	return nil
}

func (r *Runner) submit(ctx context.Context, query string, source SchemaSource) (string, error) {
	schema := source.Inline()
	if source.IsConnection() {
		resolved, err := r.resolveSchema(ctx, source.ConnectionID())
		if err != nil {
			return "", err
		}
		schema = resolved
	}

	resp, err := r.cfg.Workflows.SubmitWorkflow(ctx, pulseapi.WorkflowRequest{
		Query:  query,
		Schema: schema,
		UserID: r.cfg.UserID,
	})
	if err != nil {
		r.log.Warn("workflow submission failed", "error", err)
		return "", &TransportError{Op: "submit_workflow", Err: err}
	}
	if resp.RequestID == "" {
		return "", &BackendReportedError{
			Op:      "submit_workflow",
			Status:  "ok",
			Message: "response has no request id",
		}
	}
	return resp.RequestID, nil
}

func (r *Runner) resolveSchema(ctx context.Context, connectionID string) (*pulseapi.DatabaseSchema, error) {
	if r.cfg.Schemas == nil {
		return nil, &SchemaUnavailableError{
			ConnectionID: connectionID,
			Err:          errors.New("no schema client configured"),
		}
	}

	resp, err := r.cfg.Schemas.GetSchema(ctx, connectionID)
	if err != nil {
		r.log.Warn("schema lookup failed", "connection_id", connectionID, "error", err)
		return nil, &SchemaUnavailableError{
			ConnectionID: connectionID,
			Err:          &TransportError{Op: "get_schema", Err: err},
		}
	}
	if resp.Status != pulseapi.SchemaStatusOK {
		r.log.Warn("schema lookup reported failure",
			"connection_id", connectionID,
			"status", resp.Status,
			"message", resp.Message,
		)
		return nil, &SchemaUnavailableError{
			ConnectionID: connectionID,
			Err:          &BackendReportedError{Op: "get_schema", Status: resp.Status, Message: resp.Message},
		}
	}
	if resp.Schema == nil {
		return nil, &SchemaUnavailableError{
			ConnectionID: connectionID,
			Err:          &BackendReportedError{Op: "get_schema", Status: resp.Status, Message: "response has no schema"},
		}
	}
	return resp.Schema, nil
}

// Poll fetches the current steps and replaces the local snapshot with them.
// When every step is done or failed polling is flagged as finished. On
// failure the previous snapshot is kept and the error is returned.
func (r *Runner) Poll(ctx context.Context) ([]StepState, error) {
	r.mu.Lock()
	if r.run.RequestID == "" {
		r.mu.Unlock()
		return nil, ErrNotStarted
	}
	if r.inFlight {
		r.mu.Unlock()
		return nil, ErrInFlight
	}
	r.inFlight = true
	gen := r.generation
	requestID := r.run.RequestID
	r.mu.Unlock()

	out, err := r.cfg.Workflows.GetSteps(ctx, requestID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		metrics.RecordWorkflowPoll("discarded")
		r.log.Debug("discarding poll response of reset run", "request_id", requestID)
		return nil, ErrRunReset
	}
	r.inFlight = false
	if err != nil {
		metrics.RecordWorkflowPoll("error")
		r.log.Warn("poll failed", "request_id", requestID, "error", err)
		return nil, &TransportError{Op: "get_steps", Err: err}
	}

	r.polls++
	r.run.Steps = StepsFromWire(out)
	metrics.RecordWorkflowPoll("ok")
	r.log.Debug("polled workflow steps", "request_id", requestID, "steps", len(r.run.Steps))

	if r.state() == StatePolling && isTerminal(r.run.Steps) {
		if err := r.fsm.Fire(triggerComplete); err != nil {
			return nil, fmt.Errorf("failed to enter complete state: %w", err)
		}
		r.run.PollingActive = false
		r.run.State = StateComplete
		failed := anyFailed(r.run.Steps)
		metrics.RecordWorkflowCompleted(failed, r.polls)
		r.log.Info("workflow finished", "request_id", requestID, "failed", failed, "polls", r.polls)
	}

	return cloneSteps(r.run.Steps), nil
}

// FinalSQL returns the SQL produced by the composer step, if any.
func (r *Runner) FinalSQL() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ExtractFinalSQL(r.run.Steps)
}

// ExtractFinalSQL returns the non-empty string at SQLQueryKey in the output of
// the composer step.
func ExtractFinalSQL(steps []StepState) (string, bool) {
	i := slices.IndexFunc(steps, func(s StepState) bool { return s.Name == ComposerStep })
	if i < 0 || steps[i].Output == nil {
		return "", false
	}
	sql, ok := steps[i].Output[SQLQueryKey].(string)
	if !ok || sql == "" {
		return "", false
	}
	return sql, true
}

// Reset drops the current run and returns the runner to idle. It only affects
// local state; the backend keeps working on a submitted workflow. Any
// request still in flight has its response discarded.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run.RequestID != "" {
		r.log.Debug("resetting workflow run", "request_id", r.run.RequestID, "state", r.state())
	}
	if r.inFlight {
		r.generation++
		r.inFlight = false
	}
	// Ignored from idle.
	_ = r.fsm.Fire(triggerReset)
	r.run = Run{State: StateIdle}
	r.polls = 0
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

func (r *Runner) state() State {
	return r.fsm.MustState().(State)
}

func (r *Runner) RequestID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.RequestID
}

// Steps returns a copy of the current step snapshot.
func (r *Runner) Steps() []StepState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSteps(r.run.Steps)
}

func (r *Runner) PollingActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.PollingActive
}

// Snapshot returns a copy of the current run.
func (r *Runner) Snapshot() Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.run
	run.Steps = cloneSteps(r.run.Steps)
	return run
}
