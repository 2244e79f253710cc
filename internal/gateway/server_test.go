package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/davrin/sprintd/internal/backlog"
	"github.com/davrin/sprintd/internal/events"
	"github.com/davrin/sprintd/internal/learning"
	"github.com/davrin/sprintd/internal/memory"
	"github.com/davrin/sprintd/internal/planner"
	"github.com/davrin/sprintd/internal/queue"
	"github.com/davrin/sprintd/internal/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "sprintd.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus(128)
	t.Cleanup(bus.Close)

	bl := backlog.NewSQLStore(db)
	engine := learning.NewEngine(learning.NewSQLStore(db), bus, learning.Config{})
	q := queue.New(queue.NewSQLStore(db), bus, engine, engine)
	pl := planner.New(planner.NewSQLStore(db), bl, bus, q, nil)
	mem := memory.NewStore(db, bus, 0)

	srv := NewServer(Deps{
		Bus:      bus,
		Backlog:  bl,
		Queue:    q,
		Planner:  pl,
		Learning: engine,
		Memory:   mem,
	}, "127.0.0.1", 0)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("health: %v", body)
	}
}

func TestEnqueueAndListTasks(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/tasks", queue.Spec{
		ProjectID: "proj-a",
		Title:     "add login page",
		Autonomy:  queue.AutonomyAuto,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue status: %d", resp.StatusCode)
	}
	var created queue.Task
	decode(t, resp, &created)
	if created.ID == "" || created.Status != queue.StatusQueued {
		t.Errorf("created: %+v", created)
	}

	listResp, err := http.Get(ts.URL + "/api/tasks?project_id=proj-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list []queue.Task
	decode(t, listResp, &list)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("list: %+v", list)
	}
}

func TestEnqueueValidationMapsTo400(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/tasks", queue.Spec{Title: "no project"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: %d", resp.StatusCode)
	}
}

func TestApproveRejectCancelLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/tasks", queue.Spec{
		ProjectID:     "proj-a",
		Title:         "migrate database",
		Autonomy:      queue.AutonomySupervised,
		ReviewUpfront: true,
	})
	var gated queue.Task
	decode(t, resp, &gated)
	if gated.Status != queue.StatusAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", gated.Status)
	}

	ok := postJSON(t, ts.URL+"/api/tasks/"+gated.ID+"/approve", nil)
	ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("approve status: %d", ok.StatusCode)
	}

	// A second approve is an invalid transition.
	dup := postJSON(t, ts.URL+"/api/tasks/"+gated.ID+"/approve", nil)
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("double approve status: %d", dup.StatusCode)
	}

	cancel := postJSON(t, ts.URL+"/api/tasks/"+gated.ID+"/cancel", map[string]string{"reason": "scope cut"})
	cancel.Body.Close()
	if cancel.StatusCode != http.StatusOK {
		t.Errorf("cancel status: %d", cancel.StatusCode)
	}

	missing := postJSON(t, ts.URL+"/api/tasks/task_ffffffff/reject", map[string]string{"reason": "x"})
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("reject unknown status: %d", missing.StatusCode)
	}
}

func TestPlanSprintEndpoint(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp := postJSON(t, ts.URL+"/api/backlog/items", map[string]any{
			"project_id":   "proj-a",
			"title":        fmt.Sprintf("story %d", i),
			"priority":     "high",
			"story_points": 3,
			"lane":         "now",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create item status: %d", resp.StatusCode)
		}
	}

	resp := postJSON(t, ts.URL+"/api/sprints/plan", planner.Request{
		ProjectID: "proj-a",
		Capacity:  10,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("plan status: %d", resp.StatusCode)
	}
	var plan planner.Plan
	decode(t, resp, &plan)
	if plan.Sprint == nil || plan.TotalPoints != 6 {
		t.Errorf("plan: %+v", plan)
	}

	// Draining the backlog means the next run has no candidates.
	empty := postJSON(t, ts.URL+"/api/sprints/plan", planner.Request{
		ProjectID: "proj-a",
		Capacity:  10,
	})
	empty.Body.Close()
	if empty.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("no candidates status: %d", empty.StatusCode)
	}

	prog, err := http.Get(ts.URL + "/api/sprints/" + plan.Sprint.ID + "/progress")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	var p planner.Progress
	decode(t, prog, &p)
	if p.TotalStories != 2 || p.TotalPoints != 6 {
		t.Errorf("progress: %+v", p)
	}

	unknown, err := http.Get(ts.URL + "/api/sprints/spr_ffffffff/progress")
	if err != nil {
		t.Fatalf("progress unknown: %v", err)
	}
	unknown.Body.Close()
	if unknown.StatusCode != http.StatusNotFound {
		t.Errorf("unknown sprint status: %d", unknown.StatusCode)
	}
}

func TestPlanValidationMapsTo400(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sprints/plan", planner.Request{Capacity: 10})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing project status: %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/sprints/plan", planner.Request{ProjectID: "proj-a"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero capacity status: %d", resp.StatusCode)
	}
}

func TestPatternsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/patterns?project_id=proj-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var list []learning.Pattern
	decode(t, resp, &list)
	if len(list) != 0 {
		t.Errorf("expected empty pattern list, got %d", len(list))
	}

	noProj, err := http.Get(ts.URL + "/api/patterns")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	noProj.Body.Close()
	if noProj.StatusCode != http.StatusBadRequest {
		t.Errorf("missing project_id status: %d", noProj.StatusCode)
	}

	cleanup := postJSON(t, ts.URL+"/api/patterns/cleanup", map[string]any{
		"project_id": "proj-a",
		"threshold":  0.3,
	})
	if cleanup.StatusCode != http.StatusOK {
		t.Fatalf("cleanup status: %d", cleanup.StatusCode)
	}
	var removed map[string]int
	decode(t, cleanup, &removed)
	if removed["removed"] != 0 {
		t.Errorf("removed: %v", removed)
	}
}

func TestSessionRecordingFlow(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"project_id": "proj-a",
		"agent_type": "planner",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session status: %d", resp.StatusCode)
	}
	var sess memory.Session
	decode(t, resp, &sess)
	if sess.ID == "" || sess.ProjectID != "proj-a" {
		t.Fatalf("session: %+v", sess)
	}

	base := ts.URL + "/api/sessions/" + sess.ID
	for _, path := range []string{"/decisions", "/items", "/rejections", "/stories"} {
		rec := postJSON(t, base+path, map[string]string{"value": "use postgres"})
		rec.Body.Close()
		if rec.StatusCode != http.StatusCreated {
			t.Errorf("record %s status: %d", path, rec.StatusCode)
		}
	}

	got, err := http.Get(base)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	var loaded memory.Session
	decode(t, got, &loaded)
	if len(loaded.RecentDecisions) != 1 || loaded.RecentDecisions[0] != "use postgres" {
		t.Errorf("decisions: %v", loaded.RecentDecisions)
	}
	if len(loaded.CreatedItems) != 1 {
		t.Errorf("created items: %v", loaded.CreatedItems)
	}
	if !loaded.RejectedSuggestions["use postgres"] {
		t.Errorf("rejections: %v", loaded.RejectedSuggestions)
	}

	// Records against an unknown session are refused, not silently dropped.
	missing := postJSON(t, ts.URL+"/api/sessions/sess_missing/decisions", map[string]string{"value": "x"})
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session record status: %d", missing.StatusCode)
	}

	end := postJSON(t, base+"/end", nil)
	end.Body.Close()
	if end.StatusCode != http.StatusOK {
		t.Errorf("end session status: %d", end.StatusCode)
	}
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions/sess_missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/memory?project_id=proj-a", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Errorf("clear project memory status: %d", del.StatusCode)
	}
}
