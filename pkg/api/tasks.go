package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"stepflow/pkg/model"
	"stepflow/pkg/orchestrator"
	"stepflow/pkg/scheduler"
)

// TaskHandler exposes the task orchestration API.
type TaskHandler struct {
	Orch  *orchestrator.Orchestrator
	Sched *scheduler.Scheduler
}

type createTaskRequest struct {
	TaskType         string                 `json:"task_type"`
	Params           map[string]interface{} `json:"params"`
	MeetingStartTime string                 `json:"meeting_start_time,omitempty"` // RFC3339
	Spec             *orchestrator.TaskSpec `json:"spec,omitempty"`               // explicit spec instead of a template
}

type updateSubstepRequest struct {
	Status string                 `json:"status"` // completed, failed, skipped
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

type userInputRequest struct {
	InputValue interface{} `json:"input_value"`
}

// RegisterTaskRoutes wires the task endpoints on the provided mux.
func RegisterTaskRoutes(mux *http.ServeMux, h *TaskHandler, auth func(r *http.Request) bool) {
	mux.HandleFunc("/api/v2/tasks", func(w http.ResponseWriter, r *http.Request) {
		if !auth(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v2/tasks/", func(w http.ResponseWriter, r *http.Request) {
		if !auth(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.handleTaskSubroutes(w, r)
	})
}

func (h *TaskHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = "default@user.com"
	}

	var (
		task model.Task
		err  error
	)
	if req.Spec != nil {
		spec := *req.Spec
		if spec.UserID == "" {
			spec.UserID = userID
		}
		task, err = h.Orch.CreateTask(spec)
	} else {
		if req.TaskType == "" {
			http.Error(w, "task_type required", http.StatusBadRequest)
			return
		}
		var meetingStart *time.Time
		if req.MeetingStartTime != "" {
			t, perr := time.Parse(time.RFC3339, req.MeetingStartTime)
			if perr != nil {
				http.Error(w, "invalid meeting_start_time", http.StatusBadRequest)
				return
			}
			meetingStart = &t
		}
		task, err = h.Orch.CreateFromTemplate(userID, req.TaskType, req.Params, meetingStart)
	}
	if err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to create task", http.StatusInternalServerError)
		return
	}

	// Run the immediately-runnable substeps before responding, matching the
	// create-then-execute flow callers expect.
	task, err = h.Orch.ExecuteTask(r.Context(), task.ID)
	if err != nil {
		http.Error(w, "failed to execute task", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	status := r.URL.Query().Get("status")
	tasks, err := h.Orch.ListTasks(userID, status, 50)
	if err != nil {
		http.Error(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": tasks})
}

// handleTaskSubroutes dispatches /api/v2/tasks/{id}[/...] paths.
func (h *TaskHandler) handleTaskSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v2/tasks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}
	taskID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		task, err := h.Orch.GetTask(taskID)
		if err != nil {
			httpTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		task, err := h.Orch.CancelTask(taskID)
		if err != nil {
			httpTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case len(parts) == 2 && parts[1] == "input" && r.Method == http.MethodPost:
		var req userInputRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		task, err := h.Orch.ProvideInput(taskID, req.InputValue)
		if err != nil {
			httpTaskError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	case len(parts) == 3 && parts[1] == "substeps" && r.Method == http.MethodPut:
		h.handleSubstepUpdate(w, r, taskID, parts[2])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleSubstepUpdate is the webhook/manual completion path: external
// callers report a substep outcome without going through the executor.
func (h *TaskHandler) handleSubstepUpdate(w http.ResponseWriter, r *http.Request, taskID, substepID string) {
	var req updateSubstepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var (
		task model.Task
		err  error
	)
	switch req.Status {
	case "completed":
		task, err = h.Orch.CompleteSubstep(taskID, substepID, req.Result)
	case "failed":
		task, err = h.Orch.FailSubstep(taskID, substepID, req.Error)
	case "skipped":
		task, err = h.Orch.SkipSubstep(taskID, substepID)
	default:
		http.Error(w, "status must be completed, failed or skipped", http.StatusBadRequest)
		return
	}
	if err != nil {
		httpTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func httpTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrTaskNotFound), errors.Is(err, orchestrator.ErrSubstepNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
