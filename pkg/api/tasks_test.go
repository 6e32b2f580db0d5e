package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stepflow/pkg/executor"
	"stepflow/pkg/model"
	"stepflow/pkg/orchestrator"
	"stepflow/pkg/scheduler"
	"stepflow/pkg/store"
)

func newTestServer(t *testing.T, token string) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	st := store.NewMemoryStore()
	exec := executor.NewDefault(executor.SMTPConfig{}, time.Second)
	orch := orchestrator.New(st, exec)
	sched := scheduler.New(st, orch, exec, scheduler.Config{})

	mux := http.NewServeMux()
	RegisterRoutes(mux, st)
	RegisterTaskRoutes(mux, &TaskHandler{Orch: orch, Sched: sched}, AuthFuncToken(token))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, orch
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeTask(t *testing.T, resp *http.Response) model.Task {
	t.Helper()
	defer resp.Body.Close()
	var task model.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestCreateTaskFromSpecAndGet(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/v2/tasks?user=ana@example.com", map[string]interface{}{
		"spec": orchestrator.TaskSpec{
			Title: "write summary",
			Substeps: []orchestrator.SubstepSpec{
				{ID: "draft", Title: "draft", ActionType: "compose_email", ActionParams: map[string]interface{}{"subject": "notes"}},
			},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	task := decodeTask(t, resp)
	if task.UserID != "ana@example.com" {
		t.Fatalf("user = %q", task.UserID)
	}
	if task.Status != model.TaskCompleted || task.ProgressPercent != 100 {
		t.Fatalf("immediate substeps should run at create: %s %d%%", task.Status, task.ProgressPercent)
	}

	getResp, err := http.Get(srv.URL + "/api/v2/tasks/" + task.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeTask(t, getResp)
	if got.ID != task.ID {
		t.Fatalf("get returned %q", got.ID)
	}
}

func TestCreateTaskFromTemplate(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := postJSON(t, srv.URL+"/api/v2/tasks", map[string]interface{}{
		"task_type": "research",
		"params":    map[string]interface{}{"topic": "quic"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	task := decodeTask(t, resp)
	if task.Title != "Research: quic" {
		t.Fatalf("title = %q", task.Title)
	}
	if len(task.Substeps) != 3 {
		t.Fatalf("substeps = %d", len(task.Substeps))
	}
	if task.Status != model.TaskCompleted {
		t.Fatalf("status = %s", task.Status)
	}
}

func TestCreateTaskRejectsBadSpec(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := postJSON(t, srv.URL+"/api/v2/tasks", map[string]interface{}{
		"spec": orchestrator.TaskSpec{
			Title: "dup",
			Substeps: []orchestrator.SubstepSpec{
				{ID: "x", Title: "one"},
				{ID: "x", Title: "two"},
			},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateTaskRequiresType(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := postJSON(t, srv.URL+"/api/v2/tasks", map[string]interface{}{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubstepWebhookUpdate(t *testing.T) {
	srv, orch := newTestServer(t, "")
	task, err := orch.CreateTask(orchestrator.TaskSpec{
		UserID: "u",
		Substeps: []orchestrator.SubstepSpec{
			{ID: "hook", Title: "hook", DetectionType: model.DetectWebhook},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status": "completed",
		"result": map[string]interface{}{"via": "callback"},
	})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v2/tasks/"+task.ID+"/substeps/hook", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decodeTask(t, resp)
	if got.Status != model.TaskCompleted {
		t.Fatalf("task status = %s, want completed", got.Status)
	}

	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/v2/tasks/"+task.ID+"/substeps/missing", bytes.NewReader(body))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown substep status = %d, want 404", resp.StatusCode)
	}

	bad, _ := json.Marshal(map[string]interface{}{"status": "paused"})
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/v2/tasks/"+task.ID+"/substeps/hook", bytes.NewReader(bad))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status code = %d, want 400", resp.StatusCode)
	}
}

func TestCancelAndInputEndpoints(t *testing.T) {
	srv, orch := newTestServer(t, "")
	task, err := orch.CreateTask(orchestrator.TaskSpec{
		UserID: "u",
		Substeps: []orchestrator.SubstepSpec{
			{ID: "hook", Title: "hook", DetectionType: model.DetectWebhook},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := orch.RequestInput(task.ID, "which day?", nil); err != nil {
		t.Fatal(err)
	}
	resp := postJSON(t, srv.URL+"/api/v2/tasks/"+task.ID+"/input", map[string]interface{}{"input_value": "friday"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("input status = %d", resp.StatusCode)
	}
	got := decodeTask(t, resp)
	if got.UserInputReceived != "friday" {
		t.Fatalf("input = %v", got.UserInputReceived)
	}

	resp = postJSON(t, srv.URL+"/api/v2/tasks/"+task.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	got = decodeTask(t, resp)
	if got.Status != model.TaskCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	resp = postJSON(t, srv.URL+"/api/v2/tasks/does-not-exist/cancel", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task cancel = %d, want 404", resp.StatusCode)
	}
}

func TestListTasksFilter(t *testing.T) {
	srv, orch := newTestServer(t, "")
	for _, user := range []string{"a@x", "a@x", "b@x"} {
		if _, err := orch.CreateTask(orchestrator.TaskSpec{
			UserID:   user,
			Substeps: []orchestrator.SubstepSpec{{Title: "hook", DetectionType: model.DetectWebhook}},
		}); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(srv.URL + "/api/v2/tasks?user=a@x")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Items []model.Task `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(out.Items))
	}
}

func TestTokenAuth(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")

	resp, err := http.Get(srv.URL + "/api/v2/tasks")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v2/tasks", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}
