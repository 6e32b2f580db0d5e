// Package orchestrator is the only writer of task and substep state. It
// creates tasks, executes immediate substeps through the action executor,
// recomputes weighted progress, and advances the task lifecycle as substeps
// finish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"stepflow/pkg/executor"
	"stepflow/pkg/model"
	"stepflow/pkg/store"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrSubstepNotFound = errors.New("substep not found")
)

// ValidationError reports a malformed task spec. It is surfaced
// synchronously to the CreateTask caller and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid task spec: " + e.Reason
}

// Notifier receives a task snapshot after every state change. The WS hub
// implements it; a nil notifier is fine.
type Notifier interface {
	TaskUpdated(model.Task)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier wires real-time update delivery.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithBestEffort keeps a task in progress when a substep fails instead of
// failing the whole task. The default propagates substep failure upward.
func WithBestEffort() Option {
	return func(o *Orchestrator) { o.failFast = false }
}

// Orchestrator mutates tasks through the TaskStore. All mutations for a task
// are serialized on the task lock, so two completions never interleave into
// a corrupted intermediate state.
type Orchestrator struct {
	store    store.TaskStore
	exec     executor.Executor
	notifier Notifier
	failFast bool
	locks    *taskLocks
}

// New builds an orchestrator around the given store and executor.
func New(st store.TaskStore, exec executor.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		exec:     exec,
		failFast: true,
		locks:    newTaskLocks(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SubstepSpec describes one substep at task creation.
type SubstepSpec struct {
	ID              string                 `json:"id,omitempty"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description,omitempty"`
	Weight          int                    `json:"weight,omitempty"`
	ActionType      string                 `json:"action_type,omitempty"`
	ActionParams    map[string]interface{} `json:"action_params,omitempty"`
	DetectionType   model.DetectionType    `json:"detection_type,omitempty"`
	DetectionConfig map[string]interface{} `json:"detection_config,omitempty"`
	ScheduledAt     *time.Time             `json:"scheduled_at,omitempty"`
	DependsOn       []string               `json:"depends_on,omitempty"`
}

// TaskSpec describes a task to create.
type TaskSpec struct {
	UserID              string                 `json:"user_id"`
	Title               string                 `json:"title"`
	Description         string                 `json:"description,omitempty"`
	TaskType            string                 `json:"task_type,omitempty"`
	Substeps            []SubstepSpec          `json:"substeps"`
	EstimatedCompletion *time.Time             `json:"estimated_completion,omitempty"`
	MeetingID           string                 `json:"meeting_id,omitempty"`
	MessageID           string                 `json:"message_id,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
}

// CreateTask validates and persists a new task. Substep ids must be unique
// within the task and depends_on references must resolve to substeps of the
// same task without cycles.
func (o *Orchestrator) CreateTask(spec TaskSpec) (model.Task, error) {
	substeps := make([]model.Substep, 0, len(spec.Substeps))
	seen := map[string]bool{}
	for i, ss := range spec.Substeps {
		id := ss.ID
		if id == "" {
			id = uuid.NewString()
		}
		if seen[id] {
			return model.Task{}, &ValidationError{Reason: fmt.Sprintf("duplicate substep id %s", id)}
		}
		seen[id] = true
		if ss.Weight < 0 {
			return model.Task{}, &ValidationError{Reason: fmt.Sprintf("substep %s has negative weight", id)}
		}
		weight := ss.Weight
		if weight == 0 {
			weight = 10
		}
		detection := ss.DetectionType
		if detection == "" {
			detection = model.DetectImmediate
		}
		substeps = append(substeps, model.Substep{
			ID:              id,
			StepNumber:      i + 1,
			Title:           ss.Title,
			Description:     ss.Description,
			Status:          model.SubstepPending,
			ProgressWeight:  weight,
			ActionType:      ss.ActionType,
			ActionParams:    ss.ActionParams,
			DetectionType:   detection,
			DetectionConfig: ss.DetectionConfig,
			ScheduledAt:     ss.ScheduledAt,
			DependsOn:       ss.DependsOn,
		})
	}
	for _, s := range substeps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return model.Task{}, &ValidationError{Reason: fmt.Sprintf("substep %s depends on unknown id %s", s.ID, dep)}
			}
		}
	}
	if err := checkAcyclic(substeps); err != nil {
		return model.Task{}, err
	}

	now := time.Now()
	task := model.Task{
		ID:                  uuid.NewString(),
		UserID:              spec.UserID,
		Title:               spec.Title,
		Description:         spec.Description,
		TaskType:            spec.TaskType,
		Status:              model.TaskPending,
		Substeps:            substeps,
		EstimatedCompletion: spec.EstimatedCompletion,
		MeetingID:           spec.MeetingID,
		MessageID:           spec.MessageID,
		Metadata:            spec.Metadata,
		CreatedAt:           now,
	}
	if len(o.NextRunnableSubsteps(task)) > 0 {
		task.Status = model.TaskInProgress
		task.StartedAt = &now
	}
	if err := o.store.SaveTask(task); err != nil {
		return model.Task{}, err
	}
	o.notify(task)
	return task, nil
}

func checkAcyclic(substeps []model.Substep) error {
	deps := make(map[string][]string, len(substeps))
	for _, s := range substeps {
		deps[s.ID] = s.DependsOn
	}
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return false
		case done:
			return true
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if !visit(dep) {
				return false
			}
		}
		state[id] = done
		return true
	}
	for _, s := range substeps {
		if !visit(s.ID) {
			return &ValidationError{Reason: fmt.Sprintf("dependency cycle through substep %s", s.ID)}
		}
	}
	return nil
}

// GetTask returns the current snapshot of a task.
func (o *Orchestrator) GetTask(id string) (model.Task, error) {
	t, ok, err := o.store.GetTask(id)
	if err != nil {
		return model.Task{}, err
	}
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// ListTasks lists tasks filtered by user and/or status.
func (o *Orchestrator) ListTasks(userID, status string, limit int) ([]model.Task, error) {
	return o.store.ListTasks(userID, status, limit)
}

// NextRunnableSubsteps returns the pending substeps whose dependencies are
// all completed or skipped. This is the single gate every dispatch path must
// consult; detection type does not bypass it.
func (o *Orchestrator) NextRunnableSubsteps(task model.Task) []model.Substep {
	byID := map[string]model.Substep{}
	for _, s := range task.Substeps {
		byID[s.ID] = s
	}
	out := []model.Substep{}
	for _, s := range task.Substeps {
		if s.Status != model.SubstepPending {
			continue
		}
		ready := true
		for _, dep := range s.DependsOn {
			if d, ok := byID[dep]; !ok || !d.Done() {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, s)
		}
	}
	return out
}

// ExecuteTask runs every runnable immediate substep in order, then schedules
// the time-triggered ones as jobs and parks webhook/polling substeps in
// waiting state.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) (model.Task, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	task, err := o.GetTask(taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status.Terminal() {
		return task, nil
	}
	now := time.Now()
	task.Status = model.TaskInProgress
	if task.StartedAt == nil {
		task.StartedAt = &now
	}

	for {
		ran := false
		for _, candidate := range o.NextRunnableSubsteps(task) {
			if candidate.DetectionType != model.DetectImmediate {
				continue
			}
			s, _ := task.Substep(candidate.ID)
			o.runSubstep(ctx, &task, s)
			ran = true
			task.ProgressPercent = task.Progress()
			if err := o.store.SaveTask(task); err != nil {
				return task, err
			}
			o.notify(task)
			if task.Status == model.TaskFailed {
				return task, nil
			}
			break
		}
		if !ran {
			break
		}
	}

	if immediatesDone(task) {
		if err := o.scheduleFutureSubsteps(&task); err != nil {
			return task, err
		}
	}
	o.finalize(&task)
	if err := o.store.SaveTask(task); err != nil {
		return task, err
	}
	o.notify(task)
	return task, nil
}

func immediatesDone(task model.Task) bool {
	for _, s := range task.Substeps {
		if s.DetectionType == model.DetectImmediate && !s.Done() {
			return false
		}
	}
	return true
}

// runSubstep executes one substep through the action executor and applies
// the outcome in place.
func (o *Orchestrator) runSubstep(ctx context.Context, task *model.Task, s *model.Substep) {
	now := time.Now()
	s.Status = model.SubstepInProgress
	s.StartedAt = &now

	res, err := o.exec.Execute(ctx, s.ActionType, s.ActionParams)
	if err == nil && res.Status != "completed" {
		err = errors.New(res.Error)
		if res.Error == "" {
			err = fmt.Errorf("action %s reported %s", s.ActionType, res.Status)
		}
	}
	if err != nil {
		s.Status = model.SubstepFailed
		s.ErrorMessage = err.Error()
		log.Printf("orchestrator: substep %q failed: %v", s.Title, err)
		if o.failFast {
			task.Status = model.TaskFailed
		}
		return
	}
	doneAt := time.Now()
	s.Status = model.SubstepCompleted
	s.Result = res.Result
	s.CompletedAt = &doneAt
}

// scheduleFutureSubsteps creates execute_substep jobs for scheduled substeps
// and parks webhook/polling substeps as waiting.
func (o *Orchestrator) scheduleFutureSubsteps(task *model.Task) error {
	for i := range task.Substeps {
		s := &task.Substeps[i]
		if s.Status != model.SubstepPending {
			continue
		}
		switch s.DetectionType {
		case model.DetectScheduled:
			if s.ScheduledAt == nil {
				continue
			}
			job := model.ScheduledJob{
				ID:      uuid.NewString(),
				JobType: "execute_substep",
				JobParams: map[string]interface{}{
					"task_id":    task.ID,
					"substep_id": s.ID,
					"user_id":    task.UserID,
				},
				Status:       model.JobPending,
				ScheduledFor: *s.ScheduledAt,
				MaxAttempts:  model.DefaultMaxAttempts,
				TaskID:       task.ID,
				SubstepID:    s.ID,
				UserID:       task.UserID,
			}
			if err := o.store.CreateJob(job); err != nil {
				return err
			}
			log.Printf("orchestrator: scheduled %q at %s", s.Title, s.ScheduledAt.Format(time.RFC3339))
		case model.DetectWebhook, model.DetectPolling:
			s.Status = model.SubstepWaiting
		}
	}
	return nil
}

// CompleteSubstep marks a substep completed and advances the task. It is
// idempotent: completing an already-completed substep returns the current
// snapshot unchanged, so duplicate scheduler dispatch cannot corrupt state.
func (o *Orchestrator) CompleteSubstep(taskID, substepID string, result map[string]interface{}) (model.Task, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	task, err := o.GetTask(taskID)
	if err != nil {
		return model.Task{}, err
	}
	s, ok := task.Substep(substepID)
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", ErrSubstepNotFound, substepID)
	}
	if s.Status == model.SubstepCompleted {
		return task, nil
	}
	now := time.Now()
	s.Status = model.SubstepCompleted
	s.Result = result
	s.CompletedAt = &now
	s.ErrorMessage = ""

	task.ProgressPercent = task.Progress()
	o.finalize(&task)
	if err := o.store.SaveTask(task); err != nil {
		return task, err
	}
	o.notify(task)
	return task, nil
}

// FailSubstep records a substep failure. Under the default fail-fast policy
// the task fails with it; best-effort mode records the error and moves on.
func (o *Orchestrator) FailSubstep(taskID, substepID, errorMessage string) (model.Task, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	task, err := o.GetTask(taskID)
	if err != nil {
		return model.Task{}, err
	}
	s, ok := task.Substep(substepID)
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", ErrSubstepNotFound, substepID)
	}
	s.Status = model.SubstepFailed
	s.ErrorMessage = errorMessage
	if o.failFast && !task.Status.Terminal() {
		task.Status = model.TaskFailed
	}
	task.ProgressPercent = task.Progress()
	if err := o.store.SaveTask(task); err != nil {
		return task, err
	}
	o.notify(task)
	return task, nil
}

// SkipSubstep marks a substep skipped. Skipped satisfies dependents exactly
// like completed and counts toward completion closure, but adds no progress
// weight.
func (o *Orchestrator) SkipSubstep(taskID, substepID string) (model.Task, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	task, err := o.GetTask(taskID)
	if err != nil {
		return model.Task{}, err
	}
	s, ok := task.Substep(substepID)
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", ErrSubstepNotFound, substepID)
	}
	if s.Done() {
		return task, nil
	}
	s.Status = model.SubstepSkipped
	task.ProgressPercent = task.Progress()
	o.finalize(&task)
	if err := o.store.SaveTask(task); err != nil {
		return task, err
	}
	o.notify(task)
	return task, nil
}

// CancelTask moves a task to cancelled. Only external callers cancel; there
// is no preemption of in-flight substep execution.
func (o *Orchestrator) CancelTask(taskID string) (model.Task, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	task, err := o.GetTask(taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status.Terminal() {
		return task, fmt.Errorf("task %s already %s", taskID, task.Status)
	}
	task.Status = model.TaskCancelled
	if err := o.store.SaveTask(task); err != nil {
		return task, err
	}
	o.notify(task)
	return task, nil
}

// RequestInput pauses the task until ProvideInput is called. This is a side
// channel on the task, not a substep.
func (o *Orchestrator) RequestInput(taskID, prompt string, options []string) (model.Task, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	task, err := o.GetTask(taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status.Terminal() {
		return task, fmt.Errorf("task %s already %s", taskID, task.Status)
	}
	task.Status = model.TaskWaitingInput
	task.NeedsUserInput = true
	task.InputPrompt = prompt
	task.InputOptions = options
	if err := o.store.SaveTask(task); err != nil {
		return task, err
	}
	o.notify(task)
	return task, nil
}

// ProvideInput records the user's answer and resumes the task.
func (o *Orchestrator) ProvideInput(taskID string, value interface{}) (model.Task, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	task, err := o.GetTask(taskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Status != model.TaskWaitingInput {
		return task, fmt.Errorf("task %s is not waiting for input", taskID)
	}
	task.NeedsUserInput = false
	task.UserInputReceived = value
	task.InputPrompt = ""
	task.InputOptions = nil
	task.Status = model.TaskInProgress
	if err := o.store.SaveTask(task); err != nil {
		return task, err
	}
	o.notify(task)
	return task, nil
}

// finalize applies completion closure: the task completes exactly when every
// substep is completed or skipped.
func (o *Orchestrator) finalize(task *model.Task) {
	if task.Status.Terminal() {
		return
	}
	if task.AllDone() {
		now := time.Now()
		task.Status = model.TaskCompleted
		task.ActualCompletion = &now
		task.ProgressPercent = task.Progress()
	}
}

func (o *Orchestrator) notify(task model.Task) {
	if o.notifier != nil {
		o.notifier.TaskUpdated(task)
	}
}
