package model

import "time"

// MeetingStatus tracks a meeting through its time window.
type MeetingStatus string

const (
	MeetingScheduled  MeetingStatus = "scheduled"
	MeetingInProgress MeetingStatus = "in_progress"
	MeetingCompleted  MeetingStatus = "completed"
)

// Meeting is a time-bounded record whose elapsed duration can auto-complete
// a linked task. TaskID is empty for meetings without an orchestrated task.
type Meeting struct {
	ID              string        `json:"id"`
	Title           string        `json:"title,omitempty"`
	Status          MeetingStatus `json:"status"`
	StartTime       time.Time     `json:"start_time"`
	DurationMinutes int           `json:"duration_minutes"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	TaskID          string        `json:"task_id,omitempty"`
	MeetingLink     string        `json:"meeting_link,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// EndsBy returns the scheduled end of the meeting window.
func (m Meeting) EndsBy() time.Time {
	d := m.DurationMinutes
	if d <= 0 {
		d = 30
	}
	return m.StartTime.Add(time.Duration(d) * time.Minute)
}
