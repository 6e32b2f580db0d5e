package scheduler

import (
	"context"
	"log"
	"time"

	"stepflow/pkg/model"
)

// pollMeetings drives time-based meeting transitions: scheduled meetings
// past their window complete (and auto-complete their linked task's
// remaining substeps); meetings past their start move to in_progress.
// Elapsed time alone is treated as completion evidence here, bypassing the
// action executor entirely.
func (s *Scheduler) pollMeetings(_ context.Context) {
	now := time.Now()
	meetings, err := s.store.ListScheduledMeetings(now, s.cfg.MeetingWindow)
	if err != nil {
		log.Printf("scheduler: meeting poll skipped: %v", err)
		return
	}
	for _, m := range meetings {
		switch {
		case now.After(m.EndsBy()):
			s.completeMeeting(m, now)
		case !now.Before(m.StartTime):
			m.Status = model.MeetingInProgress
			if err := s.store.UpdateMeeting(m); err != nil {
				log.Printf("scheduler: meeting %s update failed: %v", m.ID, err)
				continue
			}
			log.Printf("scheduler: meeting %s marked in_progress", m.ID)
		}
	}
}

func (s *Scheduler) completeMeeting(m model.Meeting, now time.Time) {
	m.Status = model.MeetingCompleted
	m.EndTime = &now
	if err := s.store.UpdateMeeting(m); err != nil {
		log.Printf("scheduler: meeting %s update failed: %v", m.ID, err)
		return
	}

	task, ok, err := s.store.GetTaskByMeeting(m.ID)
	if err != nil {
		log.Printf("scheduler: meeting %s task lookup failed: %v", m.ID, err)
		return
	}
	if ok {
		result := map[string]interface{}{
			"auto_completed": true,
			"reason":         "meeting duration elapsed",
		}
		for _, sub := range task.Substeps {
			if sub.Status != model.SubstepPending && sub.Status != model.SubstepWaiting {
				continue
			}
			if _, err := s.orch.CompleteSubstep(task.ID, sub.ID, result); err != nil {
				log.Printf("scheduler: auto-complete substep %s failed: %v", sub.ID, err)
			}
		}
	}
	log.Printf("scheduler: meeting %s completed", m.ID)
}
