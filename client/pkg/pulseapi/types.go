package pulseapi

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// StepStatus is the status of a single pipeline step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
)

// WorkflowStatus is the overall status of a workflow as reported by the
// status and history endpoints. It is a superset of StepStatus.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowDone      WorkflowStatus = "done"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowRetrying  WorkflowStatus = "retrying"
)

// EpochTime is a timestamp encoded as Unix seconds (possibly fractional).
type EpochTime struct {
	time.Time
}

// NewEpochTime returns t as an EpochTime.
func NewEpochTime(t time.Time) EpochTime {
	return EpochTime{Time: t.UTC()}
}

func (t *EpochTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return nil
}

func (t EpochTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	secs := float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
	return []byte(strconv.FormatFloat(secs, 'f', -1, 64)), nil
}

// WorkflowRequest is the body of POST /workflows.
type WorkflowRequest struct {
	Query  string `json:"query"`
	Schema any    `json:"schema"`
	UserID string `json:"user_id,omitempty"`
}

// WorkflowResponse is returned when a workflow is accepted.
type WorkflowResponse struct {
	RequestID string `json:"request_id"`
}

// StepOutput is one entry of GET /workflows/{id}/steps.
type StepOutput struct {
	Name       string         `json:"name"`
	Status     StepStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	StartedAt  *EpochTime     `json:"started_at,omitempty"`
	FinishedAt *EpochTime     `json:"finished_at,omitempty"`
}

// WorkflowStatusResponse is returned by GET /workflows/{id}/status.
type WorkflowStatusResponse struct {
	Status  WorkflowStatus `json:"status"`
	Current string         `json:"current,omitempty"`
}

// HistoryItem is one entry of GET /workflows/history.
type HistoryItem struct {
	RequestID string         `json:"request_id"`
	Query     string         `json:"query"`
	Status    WorkflowStatus `json:"status"`
	CreatedAt EpochTime      `json:"created_at"`
	UpdatedAt EpochTime      `json:"updated_at"`
}

// SchemaColumn describes a column of a table in a database schema.
type SchemaColumn struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable *bool   `json:"nullable,omitempty"`
	Default  *string `json:"default,omitempty"`
}

// SchemaTable describes a table in a database schema.
type SchemaTable struct {
	Columns []SchemaColumn `json:"columns"`
}

// DatabaseSchema is the schema document the workflow plans against.
type DatabaseSchema struct {
	Tables map[string]SchemaTable `json:"tables"`
}

// SchemaStatusOK is the status reported by a successful schema lookup.
const SchemaStatusOK = "ok"

// SchemaResponse is returned by GET /instances/{id}/schema.
type SchemaResponse struct {
	Status  string          `json:"status"`
	Schema  *DatabaseSchema `json:"schema,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DatabaseType is the engine of a stored connection.
type DatabaseType string

const (
	DatabasePostgres DatabaseType = "postgresql"
	DatabaseMySQL    DatabaseType = "mysql"
	DatabaseSQLite   DatabaseType = "sqlite"
)

// Instance is a stored database connection.
type Instance struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	DBType    DatabaseType `json:"db_type"`
	Host      string       `json:"host"`
	Port      int          `json:"port"`
	Database  string       `json:"database"`
	Username  string       `json:"username"`
	CreatedAt EpochTime    `json:"created_at"`
	UpdatedAt EpochTime    `json:"updated_at"`
}

// InstanceCreate is the body of POST /instances.
type InstanceCreate struct {
	Name     string       `json:"name"`
	DBType   DatabaseType `json:"db_type"`
	Host     string       `json:"host"`
	Port     int          `json:"port"`
	Database string       `json:"database"`
	Username string       `json:"username"`
	Password string       `json:"password"`
}

// InstanceUpdate is the body of PUT /instances/{id}. Nil fields are left
// unchanged.
type InstanceUpdate struct {
	Name     *string       `json:"name,omitempty"`
	DBType   *DatabaseType `json:"db_type,omitempty"`
	Host     *string       `json:"host,omitempty"`
	Port     *int          `json:"port,omitempty"`
	Database *string       `json:"database,omitempty"`
	Username *string       `json:"username,omitempty"`
	Password *string       `json:"password,omitempty"`
}

// TestResult is returned by POST /instances/{id}/test.
type TestResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	ConnectionID string `json:"connection_id"`
	SQL          string `json:"sql"`
}

// QueryResult holds the rows of an executed query.
type QueryResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"row_count"`
	ExecutionTimeMs float64  `json:"execution_time_ms"`
}

// QueryResponse is returned by the query endpoints. Exactly one of Data and
// Error is set.
type QueryResponse struct {
	Status string       `json:"status"`
	Data   *QueryResult `json:"data"`
	Error  string       `json:"error,omitempty"`
}

// OK reports whether the query succeeded.
func (r QueryResponse) OK() bool {
	return r.Status == "ok" && r.Data != nil
}
