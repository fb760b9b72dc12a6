package webapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"runbot/internal/model"
	"runbot/internal/orchestrator"
	"runbot/internal/policy"
	"runbot/internal/queue"
	"runbot/internal/store"
)

func testMux(t *testing.T, withQueue bool) (*http.ServeMux, *queue.Service) {
	t.Helper()
	cfg := policy.Default()
	cfg.Sandbox.Root = filepath.Join(t.TempDir(), "sandboxes")
	orch := orchestrator.NewService(cfg, store.NewMemoryStore(), nil)

	var q *queue.Service
	if withQueue {
		q = queue.NewService(queue.NewChannelTransport(nil), orch, true, nil)
		if err := q.Start(t.Context()); err != nil {
			t.Fatalf("start queue: %v", err)
		}
		t.Cleanup(q.Stop)
	}

	mux := http.NewServeMux()
	New(orch, q).Register(mux)
	return mux, q
}

func seedRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("# demo\n"), 0o644); err != nil {
		t.Fatalf("seed repo: %v", err)
	}
	return repo
}

func doJSON(t *testing.T, mux *http.ServeMux, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func createRunViaAPI(t *testing.T, mux *http.ServeMux, repo string) model.RunSession {
	t.Helper()
	body := `{"goal":"fix tests","repo_path":` + jsonString(repo) + `,"requested_by":"web","recipe_actions":[{"action_type":"edit","description":"patch","file_path":"note.md","patch":"FULL_FILE_CONTENT:\nhello"}]}`
	rr := doJSON(t, mux, http.MethodPost, "/api/v1/runs", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var run model.RunSession
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	return run
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := testMux(t, false)
	rr := doJSON(t, mux, http.MethodGet, "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRunEndpoints(t *testing.T) {
	mux, _ := testMux(t, false)
	repo := seedRepo(t)

	run := createRunViaAPI(t, mux, repo)
	if run.Status != model.RunStatusAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", run.Status)
	}
	if len(run.PendingActions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(run.PendingActions))
	}

	t.Run("list runs", func(t *testing.T) {
		rr := doJSON(t, mux, http.MethodGet, "/api/v1/runs", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var payload struct {
			Runs []model.RunSession `json:"runs"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(payload.Runs) != 1 || payload.Runs[0].ID != run.ID {
			t.Fatalf("unexpected run list: %+v", payload.Runs)
		}
	})

	t.Run("get run", func(t *testing.T) {
		rr := doJSON(t, mux, http.MethodGet, "/api/v1/runs/"+run.ID, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("get missing run", func(t *testing.T) {
		rr := doJSON(t, mux, http.MethodGet, "/api/v1/runs/run_missing", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("reject action", func(t *testing.T) {
		body := `{"action_id":"` + run.PendingActions[0].ID + `","approve":false,"actor":"alice","actor_role":"approver","comment":"not yet"}`
		rr := doJSON(t, mux, http.MethodPost, "/api/v1/runs/"+run.ID+"/actions/decide", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var updated model.RunSession
		if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if updated.PendingActions[0].Status != model.ActionStatusRejected {
			t.Fatalf("expected rejected action, got %s", updated.PendingActions[0].Status)
		}
		if updated.Status != model.RunStatusComplete {
			t.Fatalf("expected completed run, got %s", updated.Status)
		}
	})

	t.Run("re-deciding a decided action conflicts", func(t *testing.T) {
		body := `{"action_id":"` + run.PendingActions[0].ID + `","approve":false,"actor":"alice","actor_role":"approver"}`
		rr := doJSON(t, mux, http.MethodPost, "/api/v1/runs/"+run.ID+"/actions/decide", body)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
		}
		var payload struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.Error.Code != "invalid_transition" {
			t.Fatalf("expected invalid_transition error code, got %q", payload.Error.Code)
		}
	})

	t.Run("rerun rejected action", func(t *testing.T) {
		body := `{"actor":"alice","actor_role":"approver","comment":"retry"}`
		rr := doJSON(t, mux, http.MethodPost, "/api/v1/runs/"+run.ID+"/actions/rerun", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var updated model.RunSession
		if err := json.Unmarshal(rr.Body.Bytes(), &updated); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(updated.PendingActions) != 2 {
			t.Fatalf("expected cloned retry action, got %d", len(updated.PendingActions))
		}
		if updated.Status != model.RunStatusAwaitingApproval {
			t.Fatalf("expected awaiting_approval, got %s", updated.Status)
		}
	})

	t.Run("audit log", func(t *testing.T) {
		rr := doJSON(t, mux, http.MethodGet, "/api/v1/runs/"+run.ID+"/audit", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var payload struct {
			RunID    string             `json:"run_id"`
			AuditLog []model.AuditEntry `json:"audit_log"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(payload.AuditLog) == 0 {
			t.Fatalf("expected audit entries")
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rr := doJSON(t, mux, http.MethodGet, "/api/v1/metrics", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var payload struct {
			TotalRuns int `json:"total_runs"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if payload.TotalRuns != 1 {
			t.Fatalf("expected 1 run in metrics, got %d", payload.TotalRuns)
		}
	})
}

func TestCreateRunValidation(t *testing.T) {
	mux, _ := testMux(t, false)
	rr := doJSON(t, mux, http.MethodPost, "/api/v1/runs", `{"repo_path":"/tmp"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing goal, got %d", rr.Code)
	}
	rr = doJSON(t, mux, http.MethodPost, "/api/v1/runs", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestQueueEndpoints(t *testing.T) {
	mux, q := testMux(t, true)
	repo := seedRepo(t)

	body := `{"goal":"queued run","repo_path":` + jsonString(repo) + `}`
	rr := doJSON(t, mux, http.MethodPost, "/api/v1/queue/runs", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var job model.QueueJob
	if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.Status != model.JobStatusQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, ok := q.GetJob(job.JobID)
		if ok && got.Status == model.JobStatusComplete {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	rr = doJSON(t, mux, http.MethodGet, "/api/v1/queue/jobs/"+job.JobID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var polled model.QueueJob
	if err := json.Unmarshal(rr.Body.Bytes(), &polled); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if polled.Status != model.JobStatusComplete || polled.Run == nil {
		t.Fatalf("expected completed job with run, got %+v", polled)
	}

	rr = doJSON(t, mux, http.MethodGet, "/api/v1/queue/jobs/job_missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rr.Code)
	}

	rr = doJSON(t, mux, http.MethodGet, "/api/v1/queue/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health struct {
		Enabled     bool `json:"enabled"`
		WorkerAlive bool `json:"worker_alive"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if !health.Enabled || !health.WorkerAlive {
		t.Fatalf("expected live queue health, got %+v", health)
	}
}

func TestQueueEndpointsWithoutQueue(t *testing.T) {
	mux, _ := testMux(t, false)

	rr := doJSON(t, mux, http.MethodPost, "/api/v1/queue/runs", `{"goal":"x"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	rr = doJSON(t, mux, http.MethodGet, "/api/v1/queue/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if health.Enabled {
		t.Fatalf("queue should report disabled")
	}
}
