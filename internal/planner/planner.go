package planner

import (
	"context"
	"fmt"
	"path/filepath"

	"runbot/internal/model"
)

// Planner converts a goal into an ordered list of proposed actions. The
// production implementation sits behind this interface (an LLM-backed agent
// stack); the core never inspects planner internals and must tolerate the
// planner being unavailable.
type Planner interface {
	Plan(ctx context.Context, goal string, workspacePath string, context string) ([]model.ProposedAction, error)
}

// FallbackActions is the deterministic baseline used when no planner is
// configured or the planner fails: a test command plus a placeholder edit.
func FallbackActions(workspacePath string) []model.ProposedAction {
	return []model.ProposedAction{
		{
			ID:          model.NewActionID(),
			ActionType:  model.ActionTypeCommand,
			Description: "Run unit tests to establish baseline",
			Status:      model.ActionStatusPending,
			Command:     "pytest -q",
		},
		{
			ID:          model.NewActionID(),
			ActionType:  model.ActionTypeEdit,
			Description: "Apply patch for requested feature implementation",
			Status:      model.ActionStatusPending,
			FilePath:    filepath.Join(workspacePath, "TARGET_FILE.py"),
			Patch: "FULL_FILE_CONTENT:\n" +
				"# generated by runbot\n" +
				"def generated_feature():\n" +
				"    return 'replace with real implementation'\n",
		},
	}
}

// ResolveTemplates turns caller-supplied action templates into proposed
// actions, rewriting relative edit paths (or missing ones) under the run
// workspace.
func ResolveTemplates(templates []model.ActionTemplate, workspacePath string) []model.ProposedAction {
	actions := make([]model.ProposedAction, 0, len(templates))
	for _, template := range templates {
		filePath := template.FilePath
		if template.ActionType == model.ActionTypeEdit {
			switch {
			case filePath == "":
				filePath = filepath.Join(workspacePath, "TARGET_FILE.py")
			case !filepath.IsAbs(filePath):
				filePath = filepath.Join(workspacePath, filePath)
			}
		}
		actions = append(actions, model.ProposedAction{
			ID:          model.NewActionID(),
			ActionType:  template.ActionType,
			Description: template.Description,
			Status:      model.ActionStatusPending,
			Command:     template.Command,
			FilePath:    filePath,
			Patch:       template.Patch,
		})
	}
	return actions
}

// PlanSteps is the fixed four-step outline attached to every new run.
func PlanSteps() []model.PlanStep {
	return []model.PlanStep{
		model.NewPlanStep("Ingest repository and identify project context"),
		model.NewPlanStep("Generate implementation plan from goal"),
		model.NewPlanStep("Propose safe code edits"),
		model.NewPlanStep("Run lint/tests and summarize result"),
	}
}

// RenderPlanArtifact renders the plan artifact body from the step outline.
func RenderPlanArtifact(steps []model.PlanStep) string {
	body := ""
	for _, step := range steps {
		body += fmt.Sprintf("- %s\n", step.Title)
	}
	return body
}
