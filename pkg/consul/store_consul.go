//go:build consul

package consul

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"stepflow/pkg/model"
)

// Store is a Consul-KV-backed TaskStore implementation. Records are JSON
// blobs; job claims ride on KV check-and-set so only one scheduler instance
// can win a claim.
type Store struct {
	cli *consulapi.Client
}

const (
	taskPrefix    = "stepflow/tasks/"
	jobPrefix     = "stepflow/jobs/"
	meetingPrefix = "stepflow/meetings/"
)

func NewStore(addr string) *Store {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		log.Printf("consul: client init failed for %s: %v", addr, err)
	}
	return &Store{cli: cli}
}

func (s *Store) Ping() error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	_, err := s.cli.Status().Leader()
	return err
}

func (s *Store) put(key string, v interface{}) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) get(key string, v interface{}) (bool, uint64, error) {
	if s.cli == nil {
		return false, 0, fmt.Errorf("consul client not configured")
	}
	kv, _, err := s.cli.KV().Get(key, nil)
	if err != nil || kv == nil {
		return false, 0, err
	}
	if err := json.Unmarshal(kv.Value, v); err != nil {
		return false, 0, err
	}
	return true, kv.ModifyIndex, nil
}

func (s *Store) SaveTask(t model.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()
	return s.put(taskPrefix+t.ID, t)
}

func (s *Store) GetTask(id string) (model.Task, bool, error) {
	var t model.Task
	ok, _, err := s.get(taskPrefix+id, &t)
	return t, ok, err
}

func (s *Store) ListTasks(userID, status string, limit int) ([]model.Task, error) {
	if s.cli == nil {
		return nil, fmt.Errorf("consul client not configured")
	}
	pairs, _, err := s.cli.KV().List(taskPrefix, nil)
	if err != nil {
		return nil, err
	}
	out := []model.Task{}
	for _, p := range pairs {
		var t model.Task
		if err := json.Unmarshal(p.Value, &t); err != nil {
			continue
		}
		if userID != "" && t.UserID != userID {
			continue
		}
		if status != "" && string(t.Status) != status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) GetTaskByMeeting(meetingID string) (model.Task, bool, error) {
	tasks, err := s.ListTasks("", "", 0)
	if err != nil {
		return model.Task{}, false, err
	}
	for _, t := range tasks {
		if t.MeetingID == meetingID {
			return t, true, nil
		}
	}
	return model.Task{}, false, nil
}

func (s *Store) CreateJob(j model.ScheduledJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = model.DefaultMaxAttempts
	}
	return s.put(jobPrefix+j.ID, j)
}

func (s *Store) GetJob(id string) (model.ScheduledJob, bool, error) {
	var j model.ScheduledJob
	ok, _, err := s.get(jobPrefix+id, &j)
	return j, ok, err
}

func (s *Store) ListDueJobs(now time.Time, limit int) ([]model.ScheduledJob, error) {
	if s.cli == nil {
		return nil, fmt.Errorf("consul client not configured")
	}
	pairs, _, err := s.cli.KV().List(jobPrefix, nil)
	if err != nil {
		return nil, err
	}
	out := []model.ScheduledJob{}
	for _, p := range pairs {
		var j model.ScheduledJob
		if err := json.Unmarshal(p.Value, &j); err != nil {
			continue
		}
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

// ClaimJob uses KV CAS on the job's ModifyIndex; losing the race returns
// ok=false without error.
func (s *Store) ClaimJob(id string, now time.Time) (model.ScheduledJob, bool, error) {
	if s.cli == nil {
		return model.ScheduledJob{}, false, fmt.Errorf("consul client not configured")
	}
	var j model.ScheduledJob
	ok, idx, err := s.get(jobPrefix+id, &j)
	if err != nil || !ok || j.Status != model.JobPending {
		return model.ScheduledJob{}, false, err
	}
	j.Status = model.JobProcessing
	j.Attempts++
	started := now
	j.StartedAt = &started
	b, err := json.Marshal(j)
	if err != nil {
		return model.ScheduledJob{}, false, err
	}
	won, _, err := s.cli.KV().CAS(&consulapi.KVPair{Key: jobPrefix + id, Value: b, ModifyIndex: idx}, nil)
	if err != nil || !won {
		return model.ScheduledJob{}, false, err
	}
	return j, true, nil
}

func (s *Store) UpdateJob(j model.ScheduledJob) error {
	return s.put(jobPrefix+j.ID, j)
}

func (s *Store) SaveMeeting(m model.Meeting) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.put(meetingPrefix+m.ID, m)
}

func (s *Store) GetMeeting(id string) (model.Meeting, bool, error) {
	var m model.Meeting
	ok, _, err := s.get(meetingPrefix+id, &m)
	return m, ok, err
}

func (s *Store) ListScheduledMeetings(now time.Time, window time.Duration) ([]model.Meeting, error) {
	if s.cli == nil {
		return nil, fmt.Errorf("consul client not configured")
	}
	pairs, _, err := s.cli.KV().List(meetingPrefix, nil)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-window)
	out := []model.Meeting{}
	for _, p := range pairs {
		var m model.Meeting
		if err := json.Unmarshal(p.Value, &m); err != nil {
			continue
		}
		if m.Status != model.MeetingScheduled {
			continue
		}
		if m.StartTime.After(now) || m.StartTime.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) UpdateMeeting(m model.Meeting) error {
	return s.put(meetingPrefix+m.ID, m)
}
