package hsm

import "runbot/internal/model"

var runTransitions = map[model.RunStatus]map[model.RunStatus]bool{
	model.RunStatusCreated: {
		model.RunStatusAwaitingApproval: true,
		model.RunStatusRunning:          true,
		model.RunStatusFailed:           true,
	},
	model.RunStatusAwaitingApproval: {
		model.RunStatusRunning:  true,
		model.RunStatusComplete: true,
		model.RunStatusFailed:   true,
	},
	model.RunStatusRunning: {
		model.RunStatusAwaitingApproval: true,
		model.RunStatusComplete:         true,
		model.RunStatusFailed:           true,
	},
	// a rerun reopens a completed run for a fresh approval round
	model.RunStatusComplete: {
		model.RunStatusAwaitingApproval: true,
	},
}

var actionTransitions = map[model.ActionStatus]map[model.ActionStatus]bool{
	model.ActionStatusPending: {
		model.ActionStatusApproved: true,
		model.ActionStatusRejected: true,
	},
	// approved -> rejected covers execution blocked by policy or failure
	model.ActionStatusApproved: {
		model.ActionStatusExecuted: true,
		model.ActionStatusRejected: true,
	},
}

var stepTransitions = map[model.StepStatus]map[model.StepStatus]bool{
	model.StepStatusPending: {
		model.StepStatusRunning: true,
	},
	model.StepStatusRunning: {
		model.StepStatusComplete: true,
		model.StepStatusFailed:   true,
	},
	model.StepStatusFailed: {
		model.StepStatusPending: true,
		model.StepStatusRunning: true,
	},
}

func CanTransitionRun(from model.RunStatus, to model.RunStatus) bool {
	if from == to {
		return true
	}
	return runTransitions[from][to]
}

func CanTransitionAction(from model.ActionStatus, to model.ActionStatus) bool {
	if from == to {
		return true
	}
	return actionTransitions[from][to]
}

func CanTransitionStep(from model.StepStatus, to model.StepStatus) bool {
	if from == to {
		return true
	}
	return stepTransitions[from][to]
}
