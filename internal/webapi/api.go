package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"runbot/internal/model"
	"runbot/internal/orchestrator"
	"runbot/internal/queue"
)

type API struct {
	orchestrator *orchestrator.Service
	queue        *queue.Service
}

// New wires the HTTP surface over the orchestrator. The queue service is
// optional; without it the queue endpoints answer 503.
func New(orch *orchestrator.Service, q *queue.Service) *API {
	return &API{orchestrator: orch, queue: q}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/health", a.handleHealth)
	mux.HandleFunc("/api/v1/metrics", a.handleMetrics)
	mux.HandleFunc("/api/v1/runs", a.handleRuns)
	mux.HandleFunc("/api/v1/runs/", a.handleRunByID)
	mux.HandleFunc("/api/v1/queue/runs", a.handleQueueRuns)
	mux.HandleFunc("/api/v1/queue/jobs/", a.handleQueueJobByID)
	mux.HandleFunc("/api/v1/queue/health", a.handleQueueHealth)
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

type createRunRequest struct {
	Goal          string                 `json:"goal"`
	RepoPath      string                 `json:"repo_path"`
	Context       string                 `json:"context,omitempty"`
	RequestedBy   string                 `json:"requested_by,omitempty"`
	RecipeActions []model.ActionTemplate `json:"recipe_actions,omitempty"`
}

type decideActionRequest struct {
	ActionID  string `json:"action_id"`
	Approve   bool   `json:"approve"`
	Actor     string `json:"actor"`
	ActorRole string `json:"actor_role"`
	Comment   string `json:"comment,omitempty"`
}

type rerunRequest struct {
	ActionID  string `json:"action_id,omitempty"`
	StepID    string `json:"step_id,omitempty"`
	Actor     string `json:"actor"`
	ActorRole string `json:"actor_role"`
	Comment   string `json:"comment,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	metrics, err := a.orchestrator.GetEvaluationMetrics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (a *API) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		runs, err := a.orchestrator.ListRuns()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	case http.MethodPost:
		var request createRunRequest
		if err := decodeBody(r, &request); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
		if strings.TrimSpace(request.Goal) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "goal is required")
			return
		}
		run, err := a.orchestrator.CreateRun(r.Context(), orchestrator.CreateRunOptions{
			Goal:        request.Goal,
			RepoPath:    request.RepoPath,
			Context:     request.Context,
			RequestedBy: request.RequestedBy,
			Templates:   request.RecipeActions,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "run_create_error", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, run)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET and POST are supported")
	}
}

func (a *API) handleRunByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.SplitN(rest, "/", 2)
	runID := strings.TrimSpace(parts[0])
	if runID == "" {
		writeError(w, http.StatusBadRequest, "invalid_run_id", "run id is required")
		return
	}
	suffix := ""
	if len(parts) == 2 {
		suffix = strings.Trim(parts[1], "/")
	}

	switch suffix {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
			return
		}
		run, err := a.orchestrator.GetRun(runID)
		if err != nil {
			a.writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case "audit":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
			return
		}
		entries, err := a.orchestrator.GetRunAuditLog(runID)
		if err != nil {
			a.writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "audit_log": entries})
	case "actions/decide":
		a.handleDecide(w, r, runID)
	case "actions/rerun":
		a.handleRerun(w, r, runID)
	default:
		writeError(w, http.StatusNotFound, "unknown_route", "unsupported run subresource: "+suffix)
	}
}

func (a *API) handleDecide(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	var request decideActionRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if strings.TrimSpace(request.ActionID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "action_id is required")
		return
	}
	run, err := a.orchestrator.DecideAction(r.Context(), runID, orchestrator.DecisionOptions{
		ActionID:  request.ActionID,
		Approve:   request.Approve,
		Actor:     request.Actor,
		ActorRole: model.ActorRole(request.ActorRole),
		Comment:   request.Comment,
	})
	if err != nil {
		a.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleRerun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	var request rerunRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	run, err := a.orchestrator.RerunFailedStep(r.Context(), runID, orchestrator.RerunOptions{
		ActionID:  request.ActionID,
		StepID:    request.StepID,
		Actor:     request.Actor,
		ActorRole: model.ActorRole(request.ActorRole),
		Comment:   request.Comment,
	})
	if err != nil {
		a.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleQueueRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
		return
	}
	if a.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_disabled", "queue service is not configured")
		return
	}
	var request createRunRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if strings.TrimSpace(request.Goal) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "goal is required")
		return
	}
	job, err := a.queue.Enqueue(r.Context(), orchestrator.CreateRunOptions{
		Goal:        request.Goal,
		RepoPath:    request.RepoPath,
		Context:     request.Context,
		RequestedBy: request.RequestedBy,
		Templates:   request.RecipeActions,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *API) handleQueueJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	if a.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue_disabled", "queue service is not configured")
		return
	}
	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/v1/queue/jobs/"))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "invalid_job_id", "job id is required")
		return
	}
	job, ok := a.queue.GetJob(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job_not_found", "queue job "+jobID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported")
		return
	}
	if a.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":      true,
		"worker_alive": a.queue.IsWorkerAlive(),
		"pending":      a.queue.PendingCount(),
	})
}

func (a *API) writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run_not_found", err.Error())
		return
	}
	if errors.Is(err, orchestrator.ErrInvalidTransition) {
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "orchestrator_error", err.Error())
}

func decodeBody(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]apiError{
		"error": {
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
