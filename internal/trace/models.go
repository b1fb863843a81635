package trace

import "time"

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSoft    = "soft_error"
)

// Run is one lesson generation from request to final response.
type Run struct {
	ID         string    `json:"id"`
	OwnerID    int64     `json:"owner_id"`
	Theme      string    `json:"theme,omitempty"`
	Mood       string    `json:"mood,omitempty"`
	ContentID  *int64    `json:"generated_content_id,omitempty"`
	Status     string    `json:"status"`
	StepCode   string    `json:"step_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms,omitempty"`
	SpanCount  int       `json:"span_count,omitempty"`
}

// Span is one pipeline stage inside a run.
type Span struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
}
