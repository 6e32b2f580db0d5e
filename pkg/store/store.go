package store

import (
	"errors"
	"time"

	"stepflow/pkg/model"
)

// ErrUnavailable wraps backend reachability failures. Poll loops treat it as
// "skip this cycle", distinct from a per-job handler failure.
var ErrUnavailable = errors.New("store unavailable")

// TaskStore defines the persistence layer for tasks, scheduled jobs and
// meetings. It is the only shared mutable resource; orchestrator and
// scheduler never issue lower-level queries around it.
type TaskStore interface {
	SaveTask(model.Task) error
	GetTask(id string) (model.Task, bool, error)
	ListTasks(userID, status string, limit int) ([]model.Task, error)
	GetTaskByMeeting(meetingID string) (model.Task, bool, error)

	CreateJob(model.ScheduledJob) error
	GetJob(id string) (model.ScheduledJob, bool, error)
	// ListDueJobs returns up to limit jobs with status=pending and
	// scheduled_for <= now, oldest first.
	ListDueJobs(now time.Time, limit int) ([]model.ScheduledJob, error)
	// ClaimJob flips a job from pending to processing. It must be
	// conditional: only one caller can win a claim, so overlapping poll
	// cycles never dispatch the same job twice.
	ClaimJob(id string, now time.Time) (model.ScheduledJob, bool, error)
	UpdateJob(model.ScheduledJob) error

	SaveMeeting(model.Meeting) error
	GetMeeting(id string) (model.Meeting, bool, error)
	// ListScheduledMeetings returns meetings with status=scheduled whose
	// start_time falls in [now-window, now].
	ListScheduledMeetings(now time.Time, window time.Duration) ([]model.Meeting, error)
	UpdateMeeting(model.Meeting) error

	Ping() error
}

// NewMemory is a helper to construct the in-memory implementation without
// importing it directly.
func NewMemory() TaskStore {
	return NewMemoryStore()
}
