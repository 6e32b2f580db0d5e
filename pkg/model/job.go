package model

import "time"

// JobStatus is the lifecycle state of a scheduled job. Jobs have no
// cancellation state; only tasks do.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// DefaultMaxAttempts is applied when a job is created without a budget.
const DefaultMaxAttempts = 3

// ScheduledJob is a durable, time-triggered instruction consumed by the
// scheduler's poll loop. TaskID/SubstepID/UserID are correlation fields for
// jobs that drive substep execution.
type ScheduledJob struct {
	ID           string                 `json:"id"`
	JobType      string                 `json:"job_type"`
	JobParams    map[string]interface{} `json:"job_params,omitempty"`
	Status       JobStatus              `json:"status"`
	ScheduledFor time.Time              `json:"scheduled_for"`
	Attempts     int                    `json:"attempts"`
	MaxAttempts  int                    `json:"max_attempts"`
	LastError    string                 `json:"last_error,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	TaskID       string                 `json:"task_id,omitempty"`
	SubstepID    string                 `json:"substep_id,omitempty"`
	UserID       string                 `json:"user_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
