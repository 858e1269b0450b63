package runner

import (
	"maps"
	"time"

	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle     State = "idle"
	StatePolling  State = "polling"
	StateComplete State = "complete"
)

type trigger string

const (
	triggerStart    trigger = "start"
	triggerComplete trigger = "complete"
	triggerReset    trigger = "reset"
)

// ComposerStep is the step whose output carries the generated SQL.
const ComposerStep = "composer"

// SQLQueryKey is the composer output key holding the final SQL.
const SQLQueryKey = "sql_query"

// DefaultStepNames is the pipeline order used for the placeholder steps of a
// freshly started run.
var DefaultStepNames = []string{"planner", "mapper", ComposerStep, "validator"}

// StepState is the local view of one pipeline step.
type StepState struct {
	Name       string
	Status     pulseapi.StepStatus
	Output     map[string]any
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Terminal reports whether the step has finished, successfully or not.
func (s StepState) Terminal() bool {
	return s.Status == pulseapi.StepDone || s.Status == pulseapi.StepFailed
}

func (s StepState) clone() StepState {
	out := s
	if s.Output != nil {
		out.Output = maps.Clone(s.Output)
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// SchemaSource is where a run gets its schema from: either a schema document
// passed inline or the id of a stored connection whose schema is looked up
// before submission.
type SchemaSource struct {
	inline       any
	connectionID string
	isConnection bool
}

// InlineSchema uses schema as is.
func InlineSchema(schema any) SchemaSource {
	return SchemaSource{inline: schema}
}

// ConnectionRef resolves the schema of the stored connection id.
func ConnectionRef(id string) SchemaSource {
	return SchemaSource{connectionID: id, isConnection: true}
}

func (s SchemaSource) IsConnection() bool { return s.isConnection }

func (s SchemaSource) ConnectionID() string { return s.connectionID }

func (s SchemaSource) Inline() any { return s.inline }

// Run is a point-in-time copy of a runner's state.
type Run struct {
	RequestID     string
	Query         string
	Source        SchemaSource
	Steps         []StepState
	PollingActive bool
	State         State
}

func cloneSteps(steps []StepState) []StepState {
	if steps == nil {
		return nil
	}
	out := make([]StepState, len(steps))
	for i, s := range steps {
		out[i] = s.clone()
	}
	return out
}

func placeholderSteps(names []string) []StepState {
	steps := make([]StepState, len(names))
	for i, name := range names {
		steps[i] = StepState{Name: name, Status: pulseapi.StepPending}
	}
	return steps
}

// StepsFromWire converts a steps response, collapsing duplicate names. The
// last entry for a name wins and keeps the position of the first.
func StepsFromWire(in []pulseapi.StepOutput) []StepState {
	steps := make([]StepState, 0, len(in))
	index := make(map[string]int, len(in))
	for _, o := range in {
		s := StepState{
			Name:       o.Name,
			Status:     o.Status,
			Output:     o.Output,
			StartedAt:  epochPtr(o.StartedAt),
			FinishedAt: epochPtr(o.FinishedAt),
		}
		if i, ok := index[o.Name]; ok {
			steps[i] = s
			continue
		}
		index[o.Name] = len(steps)
		steps = append(steps, s)
	}
	return steps
}

func epochPtr(t *pulseapi.EpochTime) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// isTerminal reports whether a snapshot describes a finished run: at least one
// step, every step done or failed.
func isTerminal(steps []StepState) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

func anyFailed(steps []StepState) bool {
	for _, s := range steps {
		if s.Status == pulseapi.StepFailed {
			return true
		}
	}
	return false
}
