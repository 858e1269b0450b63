package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
	pulsetesting "github.com/malbeclabs/pulse/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollResult struct {
	steps []pulseapi.StepOutput
	err   error
}

type fakeBackend struct {
	mu sync.Mutex

	requestIDs []string
	submitErr  error
	submits    []pulseapi.WorkflowRequest

	polls     []pollResult
	pollCalls int

	schema      pulseapi.SchemaResponse
	schemaErr   error
	schemaCalls int
}

func (f *fakeBackend) SubmitWorkflow(_ context.Context, req pulseapi.WorkflowRequest) (pulseapi.WorkflowResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		return pulseapi.WorkflowResponse{}, f.submitErr
	}
	id := fmt.Sprintf("req-%d", len(f.submits))
	if len(f.requestIDs) >= len(f.submits) {
		id = f.requestIDs[len(f.submits)-1]
	}
	return pulseapi.WorkflowResponse{RequestID: id}, nil
}

func (f *fakeBackend) GetSteps(_ context.Context, _ string) ([]pulseapi.StepOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	if len(f.polls) == 0 {
		return nil, errors.New("no scripted poll response")
	}
	res := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return res.steps, res.err
}

func (f *fakeBackend) GetSchema(_ context.Context, _ string) (pulseapi.SchemaResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemaCalls++
	return f.schema, f.schemaErr
}

func (f *fakeBackend) calls() (submits, polls, schemas int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits), f.pollCalls, f.schemaCalls
}

func newTestRunner(t *testing.T, backend *fakeBackend) *Runner {
	t.Helper()
	r, err := New(Config{
		Logger:    pulsetesting.NewLogger(),
		Workflows: backend,
		Schemas:   backend,
	})
	require.NoError(t, err)
	return r
}

func steps(statuses ...pulseapi.StepStatus) []pulseapi.StepOutput {
	out := make([]pulseapi.StepOutput, len(statuses))
	for i, s := range statuses {
		out[i] = pulseapi.StepOutput{Name: DefaultStepNames[i], Status: s}
	}
	return out
}

const (
	pending = pulseapi.StepPending
	running = pulseapi.StepRunning
	done    = pulseapi.StepDone
	failed  = pulseapi.StepFailed
)

var emptySchema = map[string]any{"tables": map[string]any{}}

func TestPulse_Runner_New_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Workflows: &fakeBackend{}})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: pulsetesting.NewLogger()})
	require.ErrorContains(t, err, "workflow client is required")

	_, err = New(Config{Logger: pulsetesting.NewLogger(), Workflows: &fakeBackend{}, StepNames: []string{"a", "a"}})
	require.ErrorContains(t, err, "duplicate step name")
}

func TestPulse_Runner_Start_RejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	r := newTestRunner(t, backend)

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := r.Start(context.Background(), q, InlineSchema(emptySchema))
		require.ErrorIs(t, err, ErrValidation, "query %q", q)
	}
	_, err := r.Start(context.Background(), "   ", ConnectionRef("conn-1"))
	require.ErrorIs(t, err, ErrValidation)

	submits, polls, schemas := backend.calls()
	assert.Zero(t, submits)
	assert.Zero(t, polls)
	assert.Zero(t, schemas)
	assert.Equal(t, StateIdle, r.State())
	assert.Empty(t, r.RequestID())
}

func TestPulse_Runner_Start_RejectsMissingSource(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	r := newTestRunner(t, backend)

	_, err := r.Start(context.Background(), "q", SchemaSource{})
	require.ErrorIs(t, err, ErrValidation)

	_, err = r.Start(context.Background(), "q", ConnectionRef(" "))
	require.ErrorIs(t, err, ErrValidation)

	submits, _, schemas := backend.calls()
	assert.Zero(t, submits)
	assert.Zero(t, schemas)
}

func TestPulse_Runner_Start_SchemaLookupReportsError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{schema: pulseapi.SchemaResponse{Status: "error", Message: "connection refused"}}
	r := newTestRunner(t, backend)

	_, err := r.Start(context.Background(), "how many users", ConnectionRef("conn-1"))

	var schemaErr *SchemaUnavailableError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "conn-1", schemaErr.ConnectionID)
	var reported *BackendReportedError
	require.ErrorAs(t, err, &reported)
	assert.Equal(t, "error", reported.Status)
	assert.Equal(t, "connection refused", reported.Message)

	submits, _, schemas := backend.calls()
	assert.Zero(t, submits)
	assert.Equal(t, 1, schemas)
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, r.PollingActive())
}

func TestPulse_Runner_Start_SchemaLookupTransportError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{schemaErr: errors.New("dial tcp: connection refused")}
	r := newTestRunner(t, backend)

	_, err := r.Start(context.Background(), "how many users", ConnectionRef("conn-1"))

	var schemaErr *SchemaUnavailableError
	require.ErrorAs(t, err, &schemaErr)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "get_schema", transportErr.Op)

	submits, _, _ := backend.calls()
	assert.Zero(t, submits)
}

func TestPulse_Runner_Start_SchemaLookupWithoutSchema(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{schema: pulseapi.SchemaResponse{Status: pulseapi.SchemaStatusOK}}
	r := newTestRunner(t, backend)

	_, err := r.Start(context.Background(), "how many users", ConnectionRef("conn-1"))
	var schemaErr *SchemaUnavailableError
	require.ErrorAs(t, err, &schemaErr)

	submits, _, _ := backend.calls()
	assert.Zero(t, submits)
}

func TestPulse_Runner_Start_ConnectionRefWithoutSchemaClient(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	r, err := New(Config{Logger: pulsetesting.NewLogger(), Workflows: backend})
	require.NoError(t, err)

	_, err = r.Start(context.Background(), "q", ConnectionRef("conn-1"))
	var schemaErr *SchemaUnavailableError
	require.ErrorAs(t, err, &schemaErr)
}

func TestPulse_Runner_Start_ResolvesConnectionSchema(t *testing.T) {
	t.Parallel()

	schema := &pulseapi.DatabaseSchema{Tables: map[string]pulseapi.SchemaTable{
		"users": {Columns: []pulseapi.SchemaColumn{{Name: "id", Type: "integer"}}},
	}}
	backend := &fakeBackend{
		requestIDs: []string{"abc123"},
		schema:     pulseapi.SchemaResponse{Status: pulseapi.SchemaStatusOK, Schema: schema},
	}
	r, err := New(Config{
		Logger:    pulsetesting.NewLogger(),
		Workflows: backend,
		Schemas:   backend,
		UserID:    "user-7",
	})
	require.NoError(t, err)

	id, err := r.Start(context.Background(), "how many users", ConnectionRef("conn-1"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	require.Len(t, backend.submits, 1)
	assert.Equal(t, schema, backend.submits[0].Schema)
	assert.Equal(t, "user-7", backend.submits[0].UserID)
	assert.Equal(t, "how many users", backend.submits[0].Query)
}

func TestPulse_Runner_Start_InitializesPendingSteps(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{requestIDs: []string{"abc123"}}
	r := newTestRunner(t, backend)

	id, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	assert.Equal(t, StatePolling, r.State())
	assert.True(t, r.PollingActive())
	got := r.Steps()
	require.Len(t, got, 4)
	for i, s := range got {
		assert.Equal(t, DefaultStepNames[i], s.Name)
		assert.Equal(t, pending, s.Status)
		assert.Nil(t, s.Output)
	}

	submits, polls, schemas := backend.calls()
	assert.Equal(t, 1, submits)
	assert.Zero(t, polls)
	assert.Zero(t, schemas)
	assert.Equal(t, emptySchema, backend.submits[0].Schema)
}

func TestPulse_Runner_Start_SubmitFailure(t *testing.T) {
	t.Parallel()

	apiErr := &pulseapi.Error{Operation: "submit_workflow", Status: 500, Message: "boom"}
	backend := &fakeBackend{submitErr: apiErr}
	r := newTestRunner(t, backend)

	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, 500, transportErr.StatusCode())
	assert.Equal(t, StateIdle, r.State())
	assert.Empty(t, r.RequestID())

	// The runner is still usable.
	backend.submitErr = nil
	_, err = r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)
}

func TestPulse_Runner_Start_EmptyRequestID(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{requestIDs: []string{""}}
	r := newTestRunner(t, backend)

	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	var reported *BackendReportedError
	require.ErrorAs(t, err, &reported)
	assert.Equal(t, StateIdle, r.State())
}

func TestPulse_Runner_Start_Twice(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{requestIDs: []string{"abc123", "other"}}
	r := newTestRunner(t, backend)

	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)
	_, err = r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, "abc123", r.RequestID())

	submits, _, _ := backend.calls()
	assert.Equal(t, 1, submits)
}

func TestPulse_Runner_Poll_NotStarted(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	r := newTestRunner(t, backend)

	_, err := r.Poll(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
	_, polls, _ := backend.calls()
	assert.Zero(t, polls)
}

func TestPulse_Runner_Poll_TerminalDetection(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{
		{steps: steps(pending, pending, pending, pending)},
		{steps: steps(running, pending, pending, pending)},
		{steps: steps(done, running, pending, pending)},
		{steps: steps(done, done, done, done)},
	}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	for i := range 3 {
		_, err := r.Poll(context.Background())
		require.NoError(t, err)
		assert.True(t, r.PollingActive(), "poll %d", i+1)
		assert.Equal(t, StatePolling, r.State())
	}

	got, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.False(t, r.PollingActive())
	assert.Equal(t, StateComplete, r.State())
}

func TestPulse_Runner_Poll_NoFalseTerminalOnPartialData(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{
		{steps: steps(done, failed, running, pending)},
	}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	_, err = r.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, r.PollingActive())
	assert.Equal(t, StatePolling, r.State())
}

func TestPulse_Runner_Poll_EmptySnapshotIsNotTerminal(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{{steps: []pulseapi.StepOutput{}}}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	got, err := r.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.True(t, r.PollingActive())
}

func TestPulse_Runner_Poll_FailedStepsAreTerminal(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{{steps: steps(done, failed, failed, failed)}}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	_, err = r.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, r.PollingActive())
	_, ok := r.FinalSQL()
	assert.False(t, ok)
}

func TestPulse_Runner_Poll_ReplacesStepsWholesale(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{
		{steps: []pulseapi.StepOutput{
			{Name: "planner", Status: done, Output: map[string]any{"plan": "x"}},
			{Name: "composer", Status: done, Output: map[string]any{"sql_query": "SELECT 1"}},
		}},
		{steps: []pulseapi.StepOutput{
			{Name: "planner", Status: done, Output: map[string]any{"plan": "x"}},
			{Name: "composer", Status: running},
		}},
	}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	_, err = r.Poll(context.Background())
	require.NoError(t, err)
	sql, ok := r.FinalSQL()
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", sql)

	got, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "composer", got[1].Name)
	assert.Equal(t, running, got[1].Status)
	assert.Nil(t, got[1].Output)
	_, ok = r.FinalSQL()
	assert.False(t, ok)
}

func TestPulse_Runner_Poll_CollapsesDuplicateSteps(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{{steps: []pulseapi.StepOutput{
		{Name: "planner", Status: running},
		{Name: "mapper", Status: pending},
		{Name: "planner", Status: done},
	}}}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	got, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "planner", got[0].Name)
	assert.Equal(t, done, got[0].Status)
	assert.Equal(t, "mapper", got[1].Name)
}

func TestPulse_Runner_Poll_ConvertsTimestamps(t *testing.T) {
	t.Parallel()

	started := pulseapi.NewEpochTime(time.Unix(1700000000, 0))
	backend := &fakeBackend{polls: []pollResult{{steps: []pulseapi.StepOutput{
		{Name: "planner", Status: running, StartedAt: &started, FinishedAt: &pulseapi.EpochTime{}},
	}}}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	got, err := r.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got[0].StartedAt)
	assert.True(t, got[0].StartedAt.Equal(started.Time))
	assert.Nil(t, got[0].FinishedAt)
}

func TestPulse_Runner_FinalSQL(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{
		{steps: []pulseapi.StepOutput{{Name: "composer", Status: running}}},
		{steps: []pulseapi.StepOutput{{Name: "composer", Status: done, Output: map[string]any{"sql_query": "SELECT 1"}}}},
	}}
	r := newTestRunner(t, backend)

	_, ok := r.FinalSQL()
	assert.False(t, ok, "absent before start")

	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)
	_, ok = r.FinalSQL()
	assert.False(t, ok, "absent on placeholder steps")

	_, err = r.Poll(context.Background())
	require.NoError(t, err)
	_, ok = r.FinalSQL()
	assert.False(t, ok, "absent before composer output")

	_, err = r.Poll(context.Background())
	require.NoError(t, err)
	sql, ok := r.FinalSQL()
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", sql)

	r.Reset()
	_, ok = r.FinalSQL()
	assert.False(t, ok, "absent after reset")
}

func TestPulse_Runner_FinalSQL_IgnoresNonStringValues(t *testing.T) {
	t.Parallel()

	for _, v := range []any{nil, "", 42, map[string]any{"q": "SELECT 1"}} {
		got, ok := ExtractFinalSQL([]StepState{{Name: ComposerStep, Status: done, Output: map[string]any{SQLQueryKey: v}}})
		assert.False(t, ok, "value %v", v)
		assert.Empty(t, got)
	}
	_, ok := ExtractFinalSQL([]StepState{{Name: "validator", Status: done, Output: map[string]any{SQLQueryKey: "SELECT 1"}}})
	assert.False(t, ok)
}

func TestPulse_Runner_Poll_TransportErrorKeepsSnapshot(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{
		{steps: steps(done, running, pending, pending)},
		{err: errors.New("connection reset by peer")},
		{steps: steps(done, done, done, done)},
	}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	first, err := r.Poll(context.Background())
	require.NoError(t, err)

	_, err = r.Poll(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "get_steps", transportErr.Op)
	assert.ErrorContains(t, err, "connection reset by peer")
	assert.Equal(t, first, r.Steps())
	assert.True(t, r.PollingActive())
	assert.Equal(t, StatePolling, r.State())

	_, err = r.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, r.PollingActive())
}

func TestPulse_Runner_Poll_AfterComplete(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{
		{steps: steps(done, done, done, done)},
		{steps: steps(done, done, running, done)},
	}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	_, err = r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateComplete, r.State())

	got, err := r.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, running, got[2].Status)
	assert.Equal(t, StateComplete, r.State())
	assert.False(t, r.PollingActive())
}

func TestPulse_Runner_Reset_Idempotent(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		requestIDs: []string{"first", "second"},
		polls:      []pollResult{{steps: steps(done, done, done, done)}},
	}
	r := newTestRunner(t, backend)

	r.Reset()
	r.Reset()
	fromIdle := r.Snapshot()

	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)
	_, err = r.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateComplete, r.State())

	r.Reset()
	fromComplete := r.Snapshot()
	assert.Equal(t, fromIdle, fromComplete)
	assert.Equal(t, Run{State: StateIdle}, fromComplete)

	id, err := r.Start(context.Background(), "q2", InlineSchema(emptySchema))
	require.NoError(t, err)
	assert.Equal(t, "second", id)
	assert.Equal(t, StatePolling, r.State())
	assert.True(t, r.PollingActive())
}

func TestPulse_Runner_Reset_WhilePolling(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{{steps: steps(running, pending, pending, pending)}}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)
	_, err = r.Poll(context.Background())
	require.NoError(t, err)

	r.Reset()
	assert.Equal(t, StateIdle, r.State())
	assert.Empty(t, r.Steps())
	assert.False(t, r.PollingActive())

	_, err = r.Poll(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
}

type blockingSteps struct {
	*fakeBackend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSteps) GetSteps(ctx context.Context, id string) ([]pulseapi.StepOutput, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeBackend.GetSteps(ctx, id)
}

func TestPulse_Runner_Poll_RejectsOverlapAndDiscardsAfterReset(t *testing.T) {
	t.Parallel()

	backend := &blockingSteps{
		fakeBackend: &fakeBackend{polls: []pollResult{{steps: steps(done, done, done, done)}}},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	r, err := New(Config{Logger: pulsetesting.NewLogger(), Workflows: backend})
	require.NoError(t, err)
	_, err = r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Poll(context.Background())
		errCh <- err
	}()
	<-backend.entered

	_, err = r.Poll(context.Background())
	require.ErrorIs(t, err, ErrInFlight)

	r.Reset()
	close(backend.release)
	require.ErrorIs(t, <-errCh, ErrRunReset)

	assert.Equal(t, StateIdle, r.State())
	assert.Empty(t, r.Steps())
	assert.Empty(t, r.RequestID())
}

func TestPulse_Runner_Snapshot_IsCopy(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{polls: []pollResult{{steps: []pulseapi.StepOutput{
		{Name: "composer", Status: done, Output: map[string]any{"sql_query": "SELECT 1"}},
	}}}}
	r := newTestRunner(t, backend)
	_, err := r.Start(context.Background(), "q", InlineSchema(emptySchema))
	require.NoError(t, err)
	_, err = r.Poll(context.Background())
	require.NoError(t, err)

	snap := r.Snapshot()
	snap.Steps[0].Output["sql_query"] = "DROP TABLE users"
	snap.Steps[0].Status = failed

	sql, ok := r.FinalSQL()
	require.True(t, ok)
	assert.Equal(t, "SELECT 1", sql)
	assert.Equal(t, done, r.Steps()[0].Status)
}

func TestPulse_Runner_EndToEnd(t *testing.T) {
	t.Parallel()

	const finalQuery = "SELECT COUNT(*) FROM users WHERE age > 18 AND active = true"
	all := func(status pulseapi.StepStatus) []pulseapi.StepOutput {
		return steps(status, status, status, status)
	}
	final := all(done)
	final[2].Output = map[string]any{"sql_query": finalQuery}

	backend := &fakeBackend{
		requestIDs: []string{"abc123"},
		polls: []pollResult{
			{steps: all(pending)},
			{steps: steps(running, pending, pending, pending)},
			{steps: steps(done, done, running, pending)},
			{steps: final},
		},
	}
	r := newTestRunner(t, backend)

	id, err := r.Start(context.Background(), "count all active users where age > 18", InlineSchema(emptySchema))
	require.NoError(t, err)
	require.Equal(t, "abc123", id)

	got, err := r.Poll(context.Background())
	require.NoError(t, err)
	for _, s := range got {
		assert.Equal(t, pending, s.Status)
	}
	assert.True(t, r.PollingActive())

	polls := 1
	for r.PollingActive() {
		_, err := r.Poll(context.Background())
		require.NoError(t, err)
		polls++
		require.LessOrEqual(t, polls, 4)
	}
	assert.Equal(t, 4, polls)

	sql, ok := r.FinalSQL()
	require.True(t, ok)
	assert.Equal(t, finalQuery, sql)
}
