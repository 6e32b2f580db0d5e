package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"stepflow/pkg/model"
)

// SQLiteStore persists records as JSON documents with indexed status/time
// columns for the poll queries. A single connection keeps writes serialized.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks(
	id TEXT PRIMARY KEY,
	user_id TEXT,
	status TEXT,
	meeting_id TEXT,
	created_at INTEGER,
	doc TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_meeting ON tasks(meeting_id);
CREATE TABLE IF NOT EXISTS scheduled_jobs(
	id TEXT PRIMARY KEY,
	status TEXT,
	scheduled_for INTEGER,
	doc TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON scheduled_jobs(status, scheduled_for);
CREATE TABLE IF NOT EXISTS meetings(
	id TEXT PRIMARY KEY,
	status TEXT,
	start_time INTEGER,
	doc TEXT
);
CREATE INDEX IF NOT EXISTS idx_meetings_window ON meetings(status, start_time);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping() error {
	ctx, cancel := opCtx()
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (s *SQLiteStore) SaveTask(t model.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, user_id, status, meeting_id, created_at, doc) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, status=excluded.status,
		 meeting_id=excluded.meeting_id, doc=excluded.doc`,
		t.ID, t.UserID, string(t.Status), t.MeetingID, t.CreatedAt.Unix(), string(doc))
	return wrapUnavailable(err)
}

func (s *SQLiteStore) GetTask(id string) (model.Task, bool, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id=?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.Task{}, false, nil
	}
	if err != nil {
		return model.Task{}, false, wrapUnavailable(err)
	}
	var t model.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return model.Task{}, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) ListTasks(userID, status string, limit int) ([]model.Task, error) {
	q := `SELECT doc FROM tasks WHERE 1=1`
	args := []interface{}{}
	if userID != "" {
		q += ` AND user_id=?`
		args = append(args, userID)
	}
	if status != "" {
		q += ` AND status=?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryTasks(q, args...)
}

func (s *SQLiteStore) GetTaskByMeeting(meetingID string) (model.Task, bool, error) {
	out, err := s.queryTasks(`SELECT doc FROM tasks WHERE meeting_id=? LIMIT 1`, meetingID)
	if err != nil || len(out) == 0 {
		return model.Task{}, false, err
	}
	return out[0], true, nil
}

func (s *SQLiteStore) queryTasks(q string, args ...interface{}) ([]model.Task, error) {
	ctx, cancel := opCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	out := []model.Task{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			continue
		}
		var t model.Task
		if err := json.Unmarshal([]byte(doc), &t); err == nil {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateJob(j model.ScheduledJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	if j.Status == "" {
		j.Status = model.JobPending
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = model.DefaultMaxAttempts
	}
	return s.writeJob(j)
}

func (s *SQLiteStore) GetJob(id string) (model.ScheduledJob, bool, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM scheduled_jobs WHERE id=?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.ScheduledJob{}, false, nil
	}
	if err != nil {
		return model.ScheduledJob{}, false, wrapUnavailable(err)
	}
	var j model.ScheduledJob
	if err := json.Unmarshal([]byte(doc), &j); err != nil {
		return model.ScheduledJob{}, false, err
	}
	return j, true, nil
}

func (s *SQLiteStore) ListDueJobs(now time.Time, limit int) ([]model.ScheduledJob, error) {
	ctx, cancel := opCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM scheduled_jobs WHERE status=? AND scheduled_for<=? ORDER BY scheduled_for LIMIT ?`,
		string(model.JobPending), now.Unix(), limit)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	out := []model.ScheduledJob{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			continue
		}
		var j model.ScheduledJob
		if err := json.Unmarshal([]byte(doc), &j); err == nil {
			out = append(out, j)
		}
	}
	return out, rows.Err()
}

// ClaimJob wins only if the row is still pending; the conditional UPDATE is
// what keeps overlapping poll cycles from double-dispatching.
func (s *SQLiteStore) ClaimJob(id string, now time.Time) (model.ScheduledJob, bool, error) {
	j, ok, err := s.GetJob(id)
	if err != nil || !ok || j.Status != model.JobPending {
		return model.ScheduledJob{}, false, err
	}
	j.Status = model.JobProcessing
	j.Attempts++
	started := now
	j.StartedAt = &started
	doc, err := json.Marshal(j)
	if err != nil {
		return model.ScheduledJob{}, false, err
	}
	ctx, cancel := opCtx()
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status=?, doc=? WHERE id=? AND status=?`,
		string(model.JobProcessing), string(doc), id, string(model.JobPending))
	if err != nil {
		return model.ScheduledJob{}, false, wrapUnavailable(err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return model.ScheduledJob{}, false, nil
	}
	return j, true, nil
}

func (s *SQLiteStore) UpdateJob(j model.ScheduledJob) error {
	return s.writeJob(j)
}

func (s *SQLiteStore) writeJob(j model.ScheduledJob) error {
	doc, err := json.Marshal(j)
	if err != nil {
		return err
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs(id, status, scheduled_for, doc) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status,
		 scheduled_for=excluded.scheduled_for, doc=excluded.doc`,
		j.ID, string(j.Status), j.ScheduledFor.Unix(), string(doc))
	return wrapUnavailable(err)
}

func (s *SQLiteStore) SaveMeeting(m model.Meeting) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := opCtx()
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO meetings(id, status, start_time, doc) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status,
		 start_time=excluded.start_time, doc=excluded.doc`,
		m.ID, string(m.Status), m.StartTime.Unix(), string(doc))
	return wrapUnavailable(err)
}

func (s *SQLiteStore) GetMeeting(id string) (model.Meeting, bool, error) {
	ctx, cancel := opCtx()
	defer cancel()
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM meetings WHERE id=?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.Meeting{}, false, nil
	}
	if err != nil {
		return model.Meeting{}, false, wrapUnavailable(err)
	}
	var m model.Meeting
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return model.Meeting{}, false, err
	}
	return m, true, nil
}

func (s *SQLiteStore) ListScheduledMeetings(now time.Time, window time.Duration) ([]model.Meeting, error) {
	ctx, cancel := opCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM meetings WHERE status=? AND start_time<=? AND start_time>=? ORDER BY start_time`,
		string(model.MeetingScheduled), now.Unix(), now.Add(-window).Unix())
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	defer rows.Close()
	out := []model.Meeting{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			continue
		}
		var m model.Meeting
		if err := json.Unmarshal([]byte(doc), &m); err == nil {
			out = append(out, m)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateMeeting(m model.Meeting) error {
	return s.SaveMeeting(m)
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
