package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Execution status values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// Schedule types.
const (
	ScheduleCron     = "cron"
	ScheduleOnce     = "once"
	ScheduleInterval = "interval"
)

// Credential types.
const (
	CredentialAPIKey     = "api_key"
	CredentialOAuthToken = "oauth_token"
	CredentialEnvVar     = "env_var"
	CredentialSecret     = "secret"
)

// credentialNameRe enforces the credential naming contract.
var credentialNameRe = regexp.MustCompile(`^[A-Z0-9_]+$`)

// ValidCredentialName reports whether name is uppercase/digits/underscores.
func ValidCredentialName(name string) bool {
	return credentialNameRe.MatchString(name)
}

// GenTemplateID generates a new time-ordered UUID v7 for a template.
func GenTemplateID() string {
	return uuid.Must(uuid.NewV7()).String()
}

const timeLayout = "2006-01-02T15:04:05.000Z"

// Time is a UTC timestamp persisted as an ISO-8601 TEXT column.
type Time struct {
	time.Time
}

// Now returns the current UTC time truncated to millisecond precision,
// matching the persisted layout.
func Now() Time {
	return Time{time.Now().UTC().Truncate(time.Millisecond)}
}

// At wraps a time.Time as a store timestamp.
func At(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Millisecond)}
}

func (t Time) Value() (driver.Value, error) {
	return t.UTC().Format(timeLayout), nil
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case time.Time:
		t.Time = v.UTC()
		return nil
	default:
		return fmt.Errorf("cannot scan %T into store.Time", src)
	}
}

func (t *Time) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(timeLayout))
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return t.parse(s)
}

// ParamDef describes one typed template parameter.
type ParamDef struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParamDefs is an ordered parameter schema stored as a JSON column.
type ParamDefs []ParamDef

func (p ParamDefs) Value() (driver.Value, error) { return jsonValue(p) }
func (p *ParamDefs) Scan(src any) error          { return jsonScan(src, p) }

// StringList is a set of names stored as a JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) { return jsonValue(l) }
func (l *StringList) Scan(src any) error          { return jsonScan(src, l) }

// Contains reports whether the list includes name.
func (l StringList) Contains(name string) bool {
	for _, v := range l {
		if v == name {
			return true
		}
	}
	return false
}

// ParamValues maps parameter names to concrete values, stored as JSON.
type ParamValues map[string]any

func (p ParamValues) Value() (driver.Value, error) { return jsonValue(p) }
func (p *ParamValues) Scan(src any) error          { return jsonScan(src, p) }

// ExecutionOutput is the captured console plus the script's final value.
type ExecutionOutput struct {
	Console []string `json:"console"`
	Result  any      `json:"result"`
}

func (o ExecutionOutput) Value() (driver.Value, error) { return jsonValue(o) }
func (o *ExecutionOutput) Scan(src any) error          { return jsonScan(src, o) }

func jsonValue(v any) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonScan(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(v), dst)
	case []byte:
		return json.Unmarshal(v, dst)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}

// Template is an immutable script artifact with a typed parameter schema.
type Template struct {
	ID                  string     `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	Description         string     `db:"description" json:"description,omitempty"`
	Category            string     `db:"category" json:"category,omitempty"`
	Code                string     `db:"code" json:"code"`
	ParamsSchema        ParamDefs  `db:"params_schema" json:"paramsSchema"`
	RequiredCredentials StringList `db:"required_credentials" json:"requiredCredentials"`
	SuggestedSchedule   string     `db:"suggested_schedule" json:"suggestedSchedule,omitempty"`
	IsBuiltin           bool       `db:"is_builtin" json:"isBuiltin"`
	CreatedAt           Time       `db:"created_at" json:"createdAt"`
	UpdatedAt           Time       `db:"updated_at" json:"updatedAt"`
}

// Task binds a template to parameter values and a schedule.
type Task struct {
	ID            int64       `db:"id" json:"id"`
	TemplateID    string      `db:"template_id" json:"templateId"`
	Name          string      `db:"name" json:"name"`
	Description   string      `db:"description" json:"description,omitempty"`
	Params        ParamValues `db:"params" json:"params"`
	ScheduleType  string      `db:"schedule_type" json:"scheduleType"`
	ScheduleValue string      `db:"schedule_value" json:"scheduleValue"`
	Credentials   StringList  `db:"credentials" json:"credentials"`
	Enabled       bool        `db:"enabled" json:"enabled"`
	LastRunAt     *Time       `db:"last_run_at" json:"lastRunAt,omitempty"`
	NextRunAt     *Time       `db:"next_run_at" json:"nextRunAt,omitempty"`
	CreatedAt     Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     Time        `db:"updated_at" json:"updatedAt"`
}

// Execution records one past or in-progress run of a task.
type Execution struct {
	ID         int64            `db:"id" json:"id"`
	TaskID     int64            `db:"task_id" json:"taskId"`
	StartedAt  Time             `db:"started_at" json:"startedAt"`
	FinishedAt *Time            `db:"finished_at" json:"finishedAt,omitempty"`
	Status     string           `db:"status" json:"status"`
	Output     *ExecutionOutput `db:"output" json:"output,omitempty"`
	Error      string           `db:"error" json:"error,omitempty"`
	DurationMs *int64           `db:"duration_ms" json:"durationMs,omitempty"`
}

// Credential is secret metadata. The encrypted value lives in a separate
// column and is never surfaced by listing calls; HasValue is derived.
type Credential struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Type        string `db:"type" json:"type"`
	Description string `db:"description" json:"description,omitempty"`
	HasValue    bool   `db:"has_value" json:"hasValue"`
	CreatedAt   Time   `db:"created_at" json:"createdAt"`
	LastUsedAt  *Time  `db:"last_used_at" json:"lastUsedAt,omitempty"`
}
