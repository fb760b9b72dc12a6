package model

type RunStatus string

const (
	RunStatusCreated          RunStatus = "created"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusRunning          RunStatus = "running"
	RunStatusComplete         RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
)

type ActionStatus string

const (
	ActionStatusPending  ActionStatus = "pending"
	ActionStatusApproved ActionStatus = "approved"
	ActionStatusRejected ActionStatus = "rejected"
	ActionStatusExecuted ActionStatus = "executed"
)

type ActionType string

const (
	ActionTypeCommand ActionType = "command"
	ActionTypeEdit    ActionType = "edit"
)

type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusRunning  StepStatus = "running"
	StepStatusComplete StepStatus = "completed"
	StepStatusFailed   StepStatus = "failed"
)

type ArtifactKind string

const (
	ArtifactKindPlan          ArtifactKind = "plan"
	ArtifactKindDiff          ArtifactKind = "diff"
	ArtifactKindCommandOutput ArtifactKind = "command_output"
	ArtifactKindSummary       ArtifactKind = "summary"
)

type ActorRole string

const (
	RoleViewer   ActorRole = "viewer"
	RoleExecutor ActorRole = "executor"
	RoleApprover ActorRole = "approver"
	RoleAdmin    ActorRole = "admin"
)

type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "completed"
	JobStatusFailed   JobStatus = "failed"
)

type PlanStep struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Status           StepStatus `json:"status"`
	RequiresApproval bool       `json:"requires_approval"`
}

type TimelineEvent struct {
	Timestamp string `json:"timestamp"`
	Agent     string `json:"agent"`
	Event     string `json:"event"`
	Content   string `json:"content"`
}

type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Actor     string    `json:"actor"`
	ActorRole ActorRole `json:"actor_role"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
}

type Artifact struct {
	ID      string       `json:"id"`
	Kind    ArtifactKind `json:"kind"`
	Title   string       `json:"title"`
	Content string       `json:"content"`
}

// ProposedAction is a single command or file edit awaiting approval and
// execution. Safe is computed once at proposal time and never recomputed.
type ProposedAction struct {
	ID          string       `json:"id"`
	ActionType  ActionType   `json:"action_type"`
	Description string       `json:"description"`
	Safe        bool         `json:"safe"`
	Status      ActionStatus `json:"status"`
	Command     string       `json:"command,omitempty"`
	FilePath    string       `json:"file_path,omitempty"`
	Patch       string       `json:"patch,omitempty"`
}

// ActionTemplate is a caller-supplied action blueprint resolved into a
// ProposedAction at run creation. Relative edit paths are rewritten into the
// run workspace before classification.
type ActionTemplate struct {
	ActionType  ActionType `json:"action_type"`
	Description string     `json:"description"`
	Command     string     `json:"command,omitempty"`
	FilePath    string     `json:"file_path,omitempty"`
	Patch       string     `json:"patch,omitempty"`
}

// RunSession is the unit of work: one end-to-end automation request with its
// own sandbox, plan, action list, and append-only timeline/audit traces.
// Timeline is the system-centric trace; AuditLog is the actor-centric
// compliance trace.
type RunSession struct {
	ID             string           `json:"id"`
	Goal           string           `json:"goal"`
	RepoPath       string           `json:"repo_path"`
	SandboxPath    string           `json:"sandbox_path,omitempty"`
	Status         RunStatus        `json:"status"`
	PlanSteps      []PlanStep       `json:"plan_steps"`
	Timeline       []TimelineEvent  `json:"timeline"`
	AuditLog       []AuditEntry     `json:"audit_log"`
	Artifacts      []Artifact       `json:"artifacts"`
	PendingActions []ProposedAction `json:"pending_actions"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
}

type QueueJob struct {
	JobID     string      `json:"job_id"`
	Status    JobStatus   `json:"status"`
	Run       *RunSession `json:"run,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at"`
}

// FindAction returns a pointer into PendingActions for the given id, or nil
// when the id is unknown.
func (r *RunSession) FindAction(actionID string) *ProposedAction {
	for i := range r.PendingActions {
		if r.PendingActions[i].ID == actionID {
			return &r.PendingActions[i]
		}
	}
	return nil
}

// ActionsTerminal reports whether every pending action reached a terminal
// per-action state (executed or rejected). A run completes iff this holds.
func (r *RunSession) ActionsTerminal() bool {
	for _, action := range r.PendingActions {
		if action.Status != ActionStatusExecuted && action.Status != ActionStatusRejected {
			return false
		}
	}
	return true
}
