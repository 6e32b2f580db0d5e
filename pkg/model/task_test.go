package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestProgressEmptyTask(t *testing.T) {
	task := Task{}
	if got := task.Progress(); got != 0 {
		t.Fatalf("empty task progress = %d, want 0", got)
	}
}

func TestProgressWeighted(t *testing.T) {
	task := Task{Substeps: []Substep{
		{ID: "a", ProgressWeight: 10, Status: SubstepCompleted},
		{ID: "b", ProgressWeight: 30, Status: SubstepPending},
	}}
	if got := task.Progress(); got != 25 {
		t.Fatalf("progress = %d, want 25", got)
	}
	task.Substeps[1].Status = SubstepCompleted
	if got := task.Progress(); got != 100 {
		t.Fatalf("progress = %d, want 100", got)
	}
}

func TestProgressFloors(t *testing.T) {
	task := Task{Substeps: []Substep{
		{ID: "a", ProgressWeight: 1, Status: SubstepCompleted},
		{ID: "b", ProgressWeight: 1, Status: SubstepPending},
		{ID: "c", ProgressWeight: 1, Status: SubstepPending},
	}}
	if got := task.Progress(); got != 33 {
		t.Fatalf("progress = %d, want 33 (floored)", got)
	}
}

func TestProgressBounds(t *testing.T) {
	statuses := []SubstepStatus{SubstepPending, SubstepInProgress, SubstepCompleted, SubstepFailed, SubstepSkipped, SubstepWaiting}
	for _, st := range statuses {
		task := Task{Substeps: []Substep{
			{ID: "a", ProgressWeight: 7, Status: st},
			{ID: "b", ProgressWeight: 13, Status: SubstepCompleted},
		}}
		got := task.Progress()
		if got < 0 || got > 100 {
			t.Fatalf("status %s: progress %d out of bounds", st, got)
		}
	}
}

func TestSkippedCountsTowardClosureNotProgress(t *testing.T) {
	task := Task{Substeps: []Substep{
		{ID: "a", ProgressWeight: 10, Status: SubstepCompleted},
		{ID: "b", ProgressWeight: 10, Status: SubstepSkipped},
	}}
	if !task.AllDone() {
		t.Fatal("completed+skipped should close the task")
	}
	if got := task.Progress(); got != 50 {
		t.Fatalf("progress = %d, want 50 (skipped adds no weight)", got)
	}
}

func TestAllDoneEmpty(t *testing.T) {
	if (Task{}).AllDone() {
		t.Fatal("task with no substeps must not be done")
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []TaskStatus{TaskCompleted, TaskFailed, TaskCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskPending, TaskInProgress, TaskWaitingInput} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestTaskSerializationTimestamps(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	task := Task{
		ID:        "t1",
		Status:    TaskPending,
		CreatedAt: at,
		Substeps: []Substep{
			{ID: "s1", StepNumber: 1, Status: SubstepPending, ProgressWeight: 10, DetectionType: DetectImmediate, ScheduledAt: &at},
		},
	}
	b, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "2026-03-14T15:09:26Z") {
		t.Fatalf("timestamps should serialize as RFC3339, got %s", b)
	}
	var back Task
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Substeps[0].ScheduledAt == nil || !back.Substeps[0].ScheduledAt.Equal(at) {
		t.Fatal("scheduled_at did not round-trip")
	}
}
