package store

import (
	"sort"
	"sync"
	"time"

	"stepflow/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/demo
// and as the test double.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]model.Task
	jobs     map[string]model.ScheduledJob
	meetings map[string]model.Meeting
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]model.Task),
		jobs:     make(map[string]model.ScheduledJob),
		meetings: make(map[string]model.Meeting),
	}
}

// Ping reports readiness for health/info endpoints.
func (m *MemoryStore) Ping() error { return nil }

func (m *MemoryStore) SaveTask(t model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *MemoryStore) GetTask(id string) (model.Task, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, false, nil
	}
	return cloneTask(t), true, nil
}

func (m *MemoryStore) ListTasks(userID, status string, limit int) ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Task{}
	for _, t := range m.tasks {
		if userID != "" && t.UserID != userID {
			continue
		}
		if status != "" && string(t.Status) != status {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) GetTaskByMeeting(meetingID string) (model.Task, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if t.MeetingID == meetingID {
			return cloneTask(t), true, nil
		}
	}
	return model.Task{}, false, nil
}

func (m *MemoryStore) CreateJob(j model.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = model.DefaultMaxAttempts
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *MemoryStore) GetJob(id string) (model.ScheduledJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok, nil
}

func (m *MemoryStore) ListDueJobs(now time.Time, limit int) ([]model.ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.ScheduledJob{}
	for _, j := range m.jobs {
		if j.Status == model.JobPending && !j.ScheduledFor.After(now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimJob is a compare-and-swap under the store lock: the claim succeeds
// only while the job is still pending.
func (m *MemoryStore) ClaimJob(id string, now time.Time) (model.ScheduledJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != model.JobPending {
		return model.ScheduledJob{}, false, nil
	}
	j.Status = model.JobProcessing
	j.Attempts++
	started := now
	j.StartedAt = &started
	m.jobs[id] = j
	return j, true, nil
}

func (m *MemoryStore) UpdateJob(j model.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *MemoryStore) SaveMeeting(mt model.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mt.CreatedAt.IsZero() {
		mt.CreatedAt = time.Now()
	}
	m.meetings[mt.ID] = mt
	return nil
}

func (m *MemoryStore) GetMeeting(id string) (model.Meeting, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.meetings[id]
	return mt, ok, nil
}

func (m *MemoryStore) ListScheduledMeetings(now time.Time, window time.Duration) ([]model.Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := now.Add(-window)
	out := []model.Meeting{}
	for _, mt := range m.meetings {
		if mt.Status != model.MeetingScheduled {
			continue
		}
		if mt.StartTime.After(now) || mt.StartTime.Before(cutoff) {
			continue
		}
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) UpdateMeeting(mt model.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetings[mt.ID] = mt
	return nil
}

// cloneTask deep-copies the substep slice so callers cannot mutate stored
// state through the returned snapshot.
func cloneTask(t model.Task) model.Task {
	t.Substeps = append([]model.Substep(nil), t.Substeps...)
	return t
}
