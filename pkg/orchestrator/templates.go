package orchestrator

import (
	"fmt"
	"time"

	"stepflow/pkg/model"
)

// templateStep is one pre-defined substep in a task template.
type templateStep struct {
	Title         string
	Weight        int
	Action        string
	Detection     model.DetectionType
	OffsetMinutes int // relative to the meeting start, for scheduled steps
}

type taskTemplate struct {
	TitleFormat string // applied to params["title"] / params["subject"] / params["topic"]
	TitleKey    string
	Steps       []templateStep
}

// Pre-defined task structures. The planning layer that picks a template is
// out of scope; the catalog itself ships with the orchestrator so callers
// can create well-formed multi-step tasks without hand-building specs.
var taskTemplates = map[string]taskTemplate{
	"schedule_meeting": {
		TitleFormat: "Meeting: %s", TitleKey: "title",
		Steps: []templateStep{
			{Title: "Parse meeting request", Weight: 5, Action: "compose_email", Detection: model.DetectImmediate},
			{Title: "Create meeting link", Weight: 10, Action: "create_meeting_link", Detection: model.DetectImmediate},
			{Title: "Save to database", Weight: 5, Action: "save_meeting", Detection: model.DetectImmediate},
			{Title: "Send invite email", Weight: 20, Action: "send_email", Detection: model.DetectImmediate},
			{Title: "Create calendar event", Weight: 10, Action: "save_meeting", Detection: model.DetectImmediate},
			{Title: "Send 1hr reminder", Weight: 10, Action: "send_reminder", Detection: model.DetectScheduled, OffsetMinutes: -60},
			{Title: "Send 10min reminder", Weight: 10, Action: "send_reminder", Detection: model.DetectScheduled, OffsetMinutes: -10},
			{Title: "Participant joins", Weight: 15, Action: "detect_join", Detection: model.DetectWebhook},
			{Title: "Meeting completes", Weight: 15, Action: "detect_completion", Detection: model.DetectWebhook},
		},
	},
	"send_email": {
		TitleFormat: "Email: %s", TitleKey: "subject",
		Steps: []templateStep{
			{Title: "Compose email", Weight: 20, Action: "compose_email", Detection: model.DetectImmediate},
			{Title: "Send email", Weight: 60, Action: "send_email", Detection: model.DetectImmediate},
			{Title: "Confirm delivery", Weight: 20, Action: "compose_email", Detection: model.DetectImmediate},
		},
	},
	"set_reminder": {
		TitleFormat: "Reminder: %s", TitleKey: "title",
		Steps: []templateStep{
			{Title: "Schedule reminder", Weight: 30, Action: "save_meeting", Detection: model.DetectImmediate},
			{Title: "Send reminder", Weight: 70, Action: "send_reminder", Detection: model.DetectScheduled},
		},
	},
	"research": {
		TitleFormat: "Research: %s", TitleKey: "topic",
		Steps: []templateStep{
			{Title: "Search web", Weight: 40, Action: "web_search", Detection: model.DetectImmediate},
			{Title: "Analyze results", Weight: 40, Action: "web_search", Detection: model.DetectImmediate},
			{Title: "Compile report", Weight: 20, Action: "compose_email", Detection: model.DetectImmediate},
		},
	},
}

// TemplateNames lists the available template keys.
func TemplateNames() []string {
	out := make([]string, 0, len(taskTemplates))
	for k := range taskTemplates {
		out = append(out, k)
	}
	return out
}

// CreateFromTemplate instantiates a task from the named template. Scheduled
// steps get their scheduled_at from meetingStart plus the step offset; an
// unknown task type falls back to send_email, matching the catalog's role as
// a convenience rather than a gate.
func (o *Orchestrator) CreateFromTemplate(userID, taskType string, params map[string]interface{}, meetingStart *time.Time) (model.Task, error) {
	tpl, ok := taskTemplates[taskType]
	if !ok {
		tpl = taskTemplates["send_email"]
		taskType = "send_email"
	}

	titleParam, _ := params[tpl.TitleKey].(string)
	title := fmt.Sprintf(tpl.TitleFormat, titleParam)

	substeps := make([]SubstepSpec, 0, len(tpl.Steps))
	for _, step := range tpl.Steps {
		var scheduledAt *time.Time
		if step.Detection == model.DetectScheduled && meetingStart != nil {
			at := meetingStart.Add(time.Duration(step.OffsetMinutes) * time.Minute)
			scheduledAt = &at
		}
		substeps = append(substeps, SubstepSpec{
			Title:         step.Title,
			Weight:        step.Weight,
			ActionType:    step.Action,
			ActionParams:  params,
			DetectionType: step.Detection,
			ScheduledAt:   scheduledAt,
		})
	}

	var estimated *time.Time
	if meetingStart != nil {
		duration := 30
		if d, ok := params["duration_minutes"].(float64); ok && d > 0 {
			duration = int(d)
		}
		end := meetingStart.Add(time.Duration(duration) * time.Minute)
		estimated = &end
	}

	description, _ := params["description"].(string)
	meetingID, _ := params["meeting_id"].(string)

	return o.CreateTask(TaskSpec{
		UserID:              userID,
		Title:               title,
		Description:         description,
		TaskType:            taskType,
		Substeps:            substeps,
		EstimatedCompletion: estimated,
		MeetingID:           meetingID,
		Metadata:            params,
	})
}
