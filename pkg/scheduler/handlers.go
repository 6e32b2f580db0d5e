package scheduler

import (
	"context"
	"fmt"

	"stepflow/pkg/model"
)

// executeSubstepJob resolves the substep named in the job params and runs it
// through the action executor. Missing or unknown ids fail the job, not the
// substep. The dependency gate applies here too: a substep whose
// dependencies are unmet is not runnable no matter what scheduled it.
func (s *Scheduler) executeSubstepJob(ctx context.Context, job model.ScheduledJob) (map[string]interface{}, error) {
	taskID := paramString(job.JobParams, "task_id")
	substepID := paramString(job.JobParams, "substep_id")
	if taskID == "" || substepID == "" {
		return nil, fmt.Errorf("execute_substep: missing task_id or substep_id")
	}

	task, err := s.orch.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("execute_substep: %w", err)
	}
	substep, ok := task.Substep(substepID)
	if !ok {
		return nil, fmt.Errorf("execute_substep: substep %s not found in task %s", substepID, taskID)
	}
	if substep.Status == model.SubstepCompleted {
		return map[string]interface{}{"already_completed": true}, nil
	}

	runnable := false
	for _, r := range s.orch.NextRunnableSubsteps(task) {
		if r.ID == substepID {
			runnable = true
			break
		}
	}
	if !runnable {
		return nil, fmt.Errorf("execute_substep: substep %s has unmet dependencies", substepID)
	}

	res, err := s.exec.Execute(ctx, substep.ActionType, substep.ActionParams)
	if err != nil {
		return nil, err
	}
	if res.Status != "completed" {
		return nil, fmt.Errorf("action %s reported %s: %s", substep.ActionType, res.Status, res.Error)
	}
	if _, err := s.orch.CompleteSubstep(taskID, substepID, res.Result); err != nil {
		return nil, err
	}
	return res.Result, nil
}

// sendReminderJob delivers a reminder to each participant, or to the single
// to_email for standalone reminders.
func (s *Scheduler) sendReminderJob(ctx context.Context, job model.ScheduledJob) (map[string]interface{}, error) {
	params := job.JobParams

	if to := paramString(params, "to_email"); to != "" {
		subject := paramString(params, "subject")
		if subject == "" {
			subject = "Reminder"
		}
		body := paramString(params, "body")
		if body == "" {
			body = "This is your reminder."
		}
		res, err := s.exec.Execute(ctx, "send_email", map[string]interface{}{
			"to": to, "subject": subject, "body": body,
		})
		if err != nil {
			return nil, err
		}
		return res.Result, nil
	}

	title := paramString(params, "title")
	if title == "" {
		title = "Meeting"
	}
	link := paramString(params, "meeting_link")
	when := paramString(params, "start_time")

	participants, _ := params["participants"].([]interface{})
	sent := 0
	for _, p := range participants {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		email := paramString(pm, "email")
		if email == "" {
			continue
		}
		name := paramString(pm, "name")
		if name == "" {
			name = "there"
		}
		body := fmt.Sprintf("Hi %s,\n\nThis is a reminder that your meeting %q is starting soon.\n\nMeeting Link: %s\nTime: %s\n\nClick the link above to join.", name, title, link, when)
		if _, err := s.exec.Execute(ctx, "send_email", map[string]interface{}{
			"to":      email,
			"subject": fmt.Sprintf("Reminder: %s starting soon", title),
			"body":    body,
		}); err != nil {
			return nil, err
		}
		sent++
	}
	return map[string]interface{}{"reminders_sent": sent}, nil
}

// checkParticipantJob would ask the meeting provider who has joined; the
// integration lives outside the core, so it only acknowledges the check.
func (s *Scheduler) checkParticipantJob(_ context.Context, job model.ScheduledJob) (map[string]interface{}, error) {
	return map[string]interface{}{
		"checked":    true,
		"meeting_id": paramString(job.JobParams, "meeting_id"),
	}, nil
}

func paramString(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
