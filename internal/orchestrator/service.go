package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"runbot/internal/evaluation"
	"runbot/internal/executor"
	"runbot/internal/hsm"
	"runbot/internal/model"
	"runbot/internal/planner"
	"runbot/internal/policy"
	"runbot/internal/sandbox"
	"runbot/internal/store"
)

// Service orchestrates planning, approval gating, and execution for runs.
// All mutations of a run go through its per-run lock so concurrent decisions
// on the same run serialize into read-mutate-persist cycles.
type Service struct {
	store    store.Store
	cfg      policy.Config
	safety   *policy.SafetyPolicy
	sandbox  *sandbox.Manager
	executor *executor.ActionExecutor
	planner  planner.Planner

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex
}

func NewService(cfg policy.Config, st store.Store, pl planner.Planner) *Service {
	safety := policy.NewSafetyPolicy(cfg)
	return &Service{
		store:    st,
		cfg:      cfg,
		safety:   safety,
		sandbox:  sandbox.NewManager(cfg.Sandbox.Enabled, cfg.Sandbox.Root, cfg.Sandbox.ExcludeDirs),
		executor: executor.NewActionExecutor(safety, cfg),
		planner:  pl,
		runLocks: map[string]*sync.Mutex{},
	}
}

type CreateRunOptions struct {
	Goal        string
	RepoPath    string
	Context     string
	RequestedBy string
	Templates   []model.ActionTemplate
}

type DecisionOptions struct {
	ActionID  string
	Approve   bool
	Actor     string
	ActorRole model.ActorRole
	Comment   string
}

type RerunOptions struct {
	ActionID  string
	StepID    string
	Actor     string
	ActorRole model.ActorRole
	Comment   string
}

var (
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidTransition marks a decision against an action or run that
	// already left the required state, such as re-deciding a decided action.
	ErrInvalidTransition = errors.New("invalid transition")
)

func (s *Service) runLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.runLocks[runID]
	if !ok {
		lock = &sync.Mutex{}
		s.runLocks[runID] = lock
	}
	return lock
}

func (s *Service) transitionRun(run *model.RunSession, to model.RunStatus) error {
	if !hsm.CanTransitionRun(run.Status, to) {
		return fmt.Errorf("run %s cannot transition from %s to %s: %w", run.ID, run.Status, to, ErrInvalidTransition)
	}
	run.Status = to
	return nil
}

func (s *Service) CreateRun(ctx context.Context, options CreateRunOptions) (model.RunSession, error) {
	goal := strings.TrimSpace(options.Goal)
	if goal == "" {
		return model.RunSession{}, fmt.Errorf("goal is required")
	}
	repoPath := strings.TrimSpace(options.RepoPath)
	if repoPath == "" {
		repoPath = "."
	}
	requestedBy := strings.TrimSpace(options.RequestedBy)
	if requestedBy == "" {
		requestedBy = "api"
	}

	runID := model.NewRunID()
	workspacePath, err := s.sandbox.PrepareWorkspace(runID, repoPath)
	if err != nil {
		return model.RunSession{}, fmt.Errorf("prepare workspace for run %s: %w", runID, err)
	}

	now := model.NowISO()
	run := model.RunSession{
		ID:          runID,
		Goal:        goal,
		RepoPath:    repoPath,
		SandboxPath: workspacePath,
		Status:      model.RunStatusCreated,
		PlanSteps:   planner.PlanSteps(),
		Timeline: []model.TimelineEvent{
			model.NewTimelineEvent("system", "run_bootstrap", "Initializing workspace, plan, and proposed actions."),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	actions := s.proposeActions(ctx, &run, options)
	for i := range actions {
		actions[i].Safe = actions[i].ActionType == model.ActionTypeCommand &&
			strings.TrimSpace(actions[i].Command) != "" &&
			s.safety.IsSafeCommand(actions[i].Command)
	}

	hasGate := false
	for _, action := range actions {
		if s.safety.RequiresApproval(action) {
			hasGate = true
			break
		}
	}
	next := model.RunStatusRunning
	if hasGate {
		next = model.RunStatusAwaitingApproval
	}
	if err := s.transitionRun(&run, next); err != nil {
		return model.RunSession{}, err
	}

	run.PendingActions = actions
	run.Timeline = append(run.Timeline,
		model.NewTimelineEvent("planner", "plan_created", fmt.Sprintf("Generated %d-step execution plan.", len(run.PlanSteps))),
		model.NewTimelineEvent("executor", "actions_proposed", fmt.Sprintf("Proposed %d actions; awaiting approval.", len(actions))),
	)
	run.AuditLog = append(run.AuditLog, model.NewAuditEntry(requestedBy, model.RoleExecutor, "run_created", "Run created for goal: "+goal))
	run.Artifacts = append(run.Artifacts, model.NewArtifact(model.ArtifactKindPlan, "Initial execution plan", planner.RenderPlanArtifact(run.PlanSteps)))
	run.UpdatedAt = model.NowISO()

	created, err := s.store.Create(run)
	if err != nil {
		return model.RunSession{}, fmt.Errorf("persist run %s: %w", runID, err)
	}
	return created, nil
}

// proposeActions resolves the run's action list: recipe templates win, then
// the planner, then the deterministic fallback. Planner failure degrades the
// run rather than failing it.
func (s *Service) proposeActions(ctx context.Context, run *model.RunSession, options CreateRunOptions) []model.ProposedAction {
	if len(options.Templates) > 0 {
		actions := planner.ResolveTemplates(options.Templates, run.SandboxPath)
		run.Timeline = append(run.Timeline, model.NewTimelineEvent(
			"recipe", "recipe_actions_loaded",
			fmt.Sprintf("Loaded %d executable actions from recipe definition.", len(actions)),
		))
		return actions
	}

	if s.planner != nil {
		actions, err := s.planner.Plan(ctx, run.Goal, run.SandboxPath, options.Context)
		if err == nil && len(actions) > 0 {
			run.Timeline = append(run.Timeline, model.NewTimelineEvent(
				"planner", "pipeline_executed", "Planner pipeline produced proposed actions.",
			))
			return actions
		}
		detail := "Planner returned no actions; using deterministic fallback."
		if err != nil {
			detail = fmt.Sprintf("Planner failed, fallback activated: %v", err)
		}
		run.Timeline = append(run.Timeline, model.NewTimelineEvent("planner", "pipeline_fallback", detail))
	} else {
		run.Timeline = append(run.Timeline, model.NewTimelineEvent(
			"planner", "pipeline_fallback", "No planner configured; using deterministic fallback actions.",
		))
	}
	return planner.FallbackActions(run.SandboxPath)
}

func (s *Service) GetRun(runID string) (model.RunSession, error) {
	run, ok, err := s.store.Get(runID)
	if err != nil {
		return model.RunSession{}, err
	}
	if !ok {
		return model.RunSession{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return run, nil
}

func (s *Service) ListRuns() ([]model.RunSession, error) {
	return s.store.List()
}

func (s *Service) GetRunAuditLog(runID string) ([]model.AuditEntry, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	return run.AuditLog, nil
}

func (s *Service) GetEvaluationMetrics() (evaluation.Metrics, error) {
	runs, err := s.store.List()
	if err != nil {
		return evaluation.Metrics{}, err
	}
	return evaluation.ComputeMetrics(runs), nil
}

// DecideAction records an approve/reject decision and, on approval, executes
// the action. A blocked or failed execution returns the action to rejected;
// insufficient role is recorded on the timeline and audit log, not an error.
func (s *Service) DecideAction(ctx context.Context, runID string, decision DecisionOptions) (model.RunSession, error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := s.GetRun(runID)
	if err != nil {
		return model.RunSession{}, err
	}

	if !s.safety.CanApprove(decision.ActorRole) {
		run.Timeline = append(run.Timeline, model.NewTimelineEvent(
			"system", "approval_denied",
			fmt.Sprintf("Actor role %s is not permitted to approve actions.", decision.ActorRole),
		))
		run.AuditLog = append(run.AuditLog, model.NewAuditEntry(
			decision.Actor, decision.ActorRole, "approval_denied",
			fmt.Sprintf("Denied approval attempt for action %s.", decision.ActionID),
		))
		run.UpdatedAt = model.NowISO()
		return s.store.Update(run)
	}

	chosen := run.FindAction(decision.ActionID)
	if chosen == nil {
		return run, nil
	}

	verdict := model.ActionStatusRejected
	if decision.Approve {
		verdict = model.ActionStatusApproved
	}
	if !hsm.CanTransitionAction(chosen.Status, verdict) {
		return model.RunSession{}, fmt.Errorf("action %s cannot transition from %s to %s: %w", chosen.ID, chosen.Status, verdict, ErrInvalidTransition)
	}
	chosen.Status = verdict

	comment := strings.TrimSpace(decision.Comment)
	if comment == "" {
		comment = "n/a"
	}
	run.Timeline = append(run.Timeline, model.NewTimelineEvent(
		"user", "approval_decision",
		fmt.Sprintf("Action %s %s. Comment: %s", chosen.ID, chosen.Status, comment),
	))
	run.AuditLog = append(run.AuditLog, model.NewAuditEntry(
		decision.Actor, decision.ActorRole, "approval_decision",
		fmt.Sprintf("Action %s marked %s.", chosen.ID, chosen.Status),
	))

	if decision.Approve {
		s.executeApproved(ctx, &run, chosen)
	}

	if run.ActionsTerminal() {
		if err := s.transitionRun(&run, model.RunStatusComplete); err != nil {
			return model.RunSession{}, err
		}
		run.Timeline = append(run.Timeline, model.NewTimelineEvent(
			"reviewer", "run_completed", "Run completed with all actions resolved.",
		))
		run.Artifacts = append(run.Artifacts, model.NewArtifact(
			model.ArtifactKindSummary, "Run summary", "All proposed actions resolved as executed or rejected.",
		))
	} else {
		if err := s.transitionRun(&run, model.RunStatusAwaitingApproval); err != nil {
			return model.RunSession{}, err
		}
	}

	run.UpdatedAt = model.NowISO()
	return s.store.Update(run)
}

func (s *Service) executeApproved(ctx context.Context, run *model.RunSession, action *model.ProposedAction) {
	workspaceRoot := run.SandboxPath
	if strings.TrimSpace(workspaceRoot) == "" {
		workspaceRoot = run.RepoPath
	}

	kind, content, err := s.executor.Execute(ctx, *action, workspaceRoot)
	if err != nil {
		action.Status = model.ActionStatusRejected
		run.Timeline = append(run.Timeline, model.NewTimelineEvent(
			"executor", "action_blocked",
			fmt.Sprintf("Blocked execution for %s: %v", action.ID, err),
		))
		run.Artifacts = append(run.Artifacts, model.NewArtifact(
			model.ArtifactKindSummary, "Blocked action "+action.ID, err.Error(),
		))
		return
	}

	action.Status = model.ActionStatusExecuted
	run.Timeline = append(run.Timeline, model.NewTimelineEvent(
		"executor", "action_executed",
		fmt.Sprintf("Executed %s: %s", action.ActionType, action.Description),
	))
	run.Artifacts = append(run.Artifacts, model.NewArtifact(kind, "Result for "+action.ID, content))
}

// RerunFailedStep clones a rejected action into a fresh pending action and
// reopens the approval gate. Without an explicit action id the most recently
// rejected action is chosen.
func (s *Service) RerunFailedStep(ctx context.Context, runID string, options RerunOptions) (model.RunSession, error) {
	lock := s.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := s.GetRun(runID)
	if err != nil {
		return model.RunSession{}, err
	}

	if !s.safety.CanApprove(options.ActorRole) {
		run.Timeline = append(run.Timeline, model.NewTimelineEvent(
			"system", "rerun_denied",
			fmt.Sprintf("Actor role %s is not permitted to request reruns.", options.ActorRole),
		))
		run.AuditLog = append(run.AuditLog, model.NewAuditEntry(
			options.Actor, options.ActorRole, "rerun_denied", "Insufficient role for rerun request.",
		))
		run.UpdatedAt = model.NowISO()
		return s.store.Update(run)
	}

	var target *model.ProposedAction
	if actionID := strings.TrimSpace(options.ActionID); actionID != "" {
		for i := range run.PendingActions {
			action := &run.PendingActions[i]
			if action.ID == actionID && action.Status == model.ActionStatusRejected {
				target = action
				break
			}
		}
	} else {
		for i := len(run.PendingActions) - 1; i >= 0; i-- {
			if run.PendingActions[i].Status == model.ActionStatusRejected {
				target = &run.PendingActions[i]
				break
			}
		}
	}

	if target == nil {
		run.Timeline = append(run.Timeline, model.NewTimelineEvent(
			"system", "rerun_skipped", "No rejected action available for re-run.",
		))
		run.AuditLog = append(run.AuditLog, model.NewAuditEntry(
			options.Actor, options.ActorRole, "rerun_skipped", "No rejected action available for re-run.",
		))
		run.UpdatedAt = model.NowISO()
		return s.store.Update(run)
	}

	replay := *target
	replay.ID = model.NewActionID()
	replay.Status = model.ActionStatusPending
	run.PendingActions = append(run.PendingActions, replay)

	if err := s.transitionRun(&run, model.RunStatusAwaitingApproval); err != nil {
		return model.RunSession{}, err
	}

	if stepID := strings.TrimSpace(options.StepID); stepID != "" {
		for i := range run.PlanSteps {
			if run.PlanSteps[i].ID == stepID {
				run.PlanSteps[i].Status = model.StepStatusPending
				break
			}
		}
	}

	comment := strings.TrimSpace(options.Comment)
	if comment == "" {
		comment = "n/a"
	}
	run.Timeline = append(run.Timeline, model.NewTimelineEvent(
		"user", "rerun_requested",
		fmt.Sprintf("Requested re-run for action %s; created retry action %s. Comment: %s", target.ID, replay.ID, comment),
	))
	run.AuditLog = append(run.AuditLog, model.NewAuditEntry(
		options.Actor, options.ActorRole, "rerun_requested",
		fmt.Sprintf("Retry action %s created from %s.", replay.ID, target.ID),
	))
	run.Artifacts = append(run.Artifacts, model.NewArtifact(
		model.ArtifactKindSummary, "Re-run requested for "+target.ID,
		"A new pending action was created from the rejected action for retry.",
	))

	run.UpdatedAt = model.NowISO()
	return s.store.Update(run)
}
