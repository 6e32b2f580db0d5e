package model

import "time"

// TaskStatus is the lifecycle state of an orchestrated task.
// completed/failed/cancelled are terminal.
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskInProgress   TaskStatus = "in_progress"
	TaskWaitingInput TaskStatus = "waiting_input"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
	TaskCancelled    TaskStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// SubstepStatus is the lifecycle state of a single substep.
type SubstepStatus string

const (
	SubstepPending    SubstepStatus = "pending"
	SubstepInProgress SubstepStatus = "in_progress"
	SubstepCompleted  SubstepStatus = "completed"
	SubstepFailed     SubstepStatus = "failed"
	SubstepSkipped    SubstepStatus = "skipped"
	SubstepWaiting    SubstepStatus = "waiting" // awaiting an external event
)

// DetectionType describes how a substep's completion is discovered.
type DetectionType string

const (
	DetectImmediate DetectionType = "immediate" // executed eagerly
	DetectScheduled DetectionType = "scheduled" // executed at scheduled_at
	DetectWebhook   DetectionType = "webhook"   // completed via callback
	DetectPolling   DetectionType = "polling"   // completed via repeated checks
	DetectManual    DetectionType = "manual"    // completed by user confirmation
)

// Substep is one weighted, dependency-aware unit of work inside a task.
// StepNumber is display order, not execution order.
type Substep struct {
	ID              string                 `json:"id"`
	StepNumber      int                    `json:"step_number"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description,omitempty"`
	Status          SubstepStatus          `json:"status"`
	ProgressWeight  int                    `json:"progress_weight"`
	ActionType      string                 `json:"action_type,omitempty"`
	ActionParams    map[string]interface{} `json:"action_params,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ScheduledAt     *time.Time             `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DetectionType   DetectionType          `json:"detection_type"`
	DetectionConfig map[string]interface{} `json:"detection_config,omitempty"`
	DependsOn       []string               `json:"depends_on,omitempty"`
}

// Done reports whether the substep satisfies dependents; completed and
// skipped both count.
func (s Substep) Done() bool {
	return s.Status == SubstepCompleted || s.Status == SubstepSkipped
}

// Task is the user-visible unit of multi-step work. Substeps are owned by
// the task and do not outlive it.
type Task struct {
	ID                  string                 `json:"id"`
	UserID              string                 `json:"user_id"`
	Title               string                 `json:"title"`
	Description         string                 `json:"description,omitempty"`
	TaskType            string                 `json:"task_type"`
	Status              TaskStatus             `json:"status"`
	ProgressPercent     int                    `json:"progress_percent"`
	Substeps            []Substep              `json:"substeps"`
	EstimatedCompletion *time.Time             `json:"estimated_completion,omitempty"`
	ActualCompletion    *time.Time             `json:"actual_completion,omitempty"`
	StartedAt           *time.Time             `json:"started_at,omitempty"`
	NeedsUserInput      bool                   `json:"needs_user_input"`
	InputPrompt         string                 `json:"input_prompt,omitempty"`
	InputOptions        []string               `json:"input_options,omitempty"`
	UserInputReceived   interface{}            `json:"user_input_received,omitempty"`
	MeetingID           string                 `json:"meeting_id,omitempty"`
	MessageID           string                 `json:"message_id,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// Progress computes percent complete as the weight share of completed
// substeps, floored. A task without substeps reports 0.
func (t Task) Progress() int {
	total := 0
	completed := 0
	for _, s := range t.Substeps {
		total += s.ProgressWeight
		if s.Status == SubstepCompleted {
			completed += s.ProgressWeight
		}
	}
	if total == 0 {
		return 0
	}
	return completed * 100 / total
}

// Substep returns a pointer into the task's substep slice by id.
func (t *Task) Substep(id string) (*Substep, bool) {
	for i := range t.Substeps {
		if t.Substeps[i].ID == id {
			return &t.Substeps[i], true
		}
	}
	return nil, false
}

// AllDone reports whether every substep is completed or skipped.
// A task with no substeps is never considered done by this check.
func (t Task) AllDone() bool {
	if len(t.Substeps) == 0 {
		return false
	}
	for _, s := range t.Substeps {
		if !s.Done() {
			return false
		}
	}
	return true
}
