package evaluation

import (
	"math"
	"sort"
	"time"

	"runbot/internal/model"
)

type LatencyMetrics struct {
	Samples        int     `json:"samples"`
	AverageSeconds float64 `json:"average_seconds"`
	P50Seconds     float64 `json:"p50_seconds"`
	P95Seconds     float64 `json:"p95_seconds"`
	MaxSeconds     float64 `json:"max_seconds"`
}

type SafetyMetrics struct {
	TotalActions            int     `json:"total_actions"`
	ApprovedActions         int     `json:"approved_actions"`
	RejectedActions         int     `json:"rejected_actions"`
	ExecutedActions         int     `json:"executed_actions"`
	BlockedActions          int     `json:"blocked_actions"`
	CommandActions          int     `json:"command_actions"`
	SafeCommandActions      int     `json:"safe_command_actions"`
	ApprovalRate            float64 `json:"approval_rate"`
	RejectionRate           float64 `json:"rejection_rate"`
	ExecutionRateOfApproved float64 `json:"execution_rate_of_approved"`
	SafeCommandRatio        float64 `json:"safe_command_ratio"`
}

type Metrics struct {
	TotalRuns         int            `json:"total_runs"`
	CompletedRuns     int            `json:"completed_runs"`
	FailedRuns        int            `json:"failed_runs"`
	ActiveRuns        int            `json:"active_runs"`
	TerminalRuns      int            `json:"terminal_runs"`
	RunSuccessRate    float64        `json:"run_success_rate"`
	RunCompletionRate float64        `json:"run_completion_rate"`
	Latency           LatencyMetrics `json:"latency"`
	Safety            SafetyMetrics  `json:"safety"`
}

func parseISO(ts string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// percentile picks by nearest-rank over the sorted sample, so p50 of two
// values is one of them, not their midpoint.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) == 1 {
		return values[0]
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(float64(len(sorted)-1) * q))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ComputeMetrics aggregates success, latency, and safety metrics across runs.
func ComputeMetrics(runs []model.RunSession) Metrics {
	totalRuns := len(runs)

	completedRuns := 0
	failedRuns := 0
	activeRuns := 0

	durations := []float64{}
	totalActions := 0
	approvedActions := 0
	rejectedActions := 0
	executedActions := 0
	commandActions := 0
	safeCommandActions := 0
	blockedActions := 0

	for _, run := range runs {
		switch run.Status {
		case model.RunStatusComplete:
			completedRuns++
		case model.RunStatusFailed:
			failedRuns++
		case model.RunStatusCreated, model.RunStatusAwaitingApproval, model.RunStatusRunning:
			activeRuns++
		}

		created, okCreated := parseISO(run.CreatedAt)
		updated, okUpdated := parseISO(run.UpdatedAt)
		if okCreated && okUpdated {
			delta := updated.Sub(created).Seconds()
			if delta >= 0 {
				durations = append(durations, delta)
			}
		}

		for _, event := range run.Timeline {
			if event.Event == "action_blocked" {
				blockedActions++
			}
		}

		for _, action := range run.PendingActions {
			totalActions++
			if action.Status == model.ActionStatusApproved || action.Status == model.ActionStatusExecuted {
				approvedActions++
			}
			if action.Status == model.ActionStatusRejected {
				rejectedActions++
			}
			if action.Status == model.ActionStatusExecuted {
				executedActions++
			}
			if action.ActionType == model.ActionTypeCommand {
				commandActions++
				if action.Safe {
					safeCommandActions++
				}
			}
		}
	}

	terminalRuns := completedRuns + failedRuns

	latency := LatencyMetrics{
		Samples:    len(durations),
		P50Seconds: percentile(durations, 0.50),
		P95Seconds: percentile(durations, 0.95),
	}
	if len(durations) > 0 {
		sum := 0.0
		maxSeconds := durations[0]
		for _, d := range durations {
			sum += d
			if d > maxSeconds {
				maxSeconds = d
			}
		}
		latency.AverageSeconds = sum / float64(len(durations))
		latency.MaxSeconds = maxSeconds
	}

	safety := SafetyMetrics{
		TotalActions:       totalActions,
		ApprovedActions:    approvedActions,
		RejectedActions:    rejectedActions,
		ExecutedActions:    executedActions,
		BlockedActions:     blockedActions,
		CommandActions:     commandActions,
		SafeCommandActions: safeCommandActions,
	}
	if totalActions > 0 {
		safety.ApprovalRate = float64(approvedActions) / float64(totalActions)
		safety.RejectionRate = float64(rejectedActions) / float64(totalActions)
	}
	if approvedActions > 0 {
		safety.ExecutionRateOfApproved = float64(executedActions) / float64(approvedActions)
	}
	if commandActions > 0 {
		safety.SafeCommandRatio = float64(safeCommandActions) / float64(commandActions)
	}

	metrics := Metrics{
		TotalRuns:     totalRuns,
		CompletedRuns: completedRuns,
		FailedRuns:    failedRuns,
		ActiveRuns:    activeRuns,
		TerminalRuns:  terminalRuns,
		Latency:       latency,
		Safety:        safety,
	}
	if terminalRuns > 0 {
		metrics.RunSuccessRate = float64(completedRuns) / float64(terminalRuns)
	}
	if totalRuns > 0 {
		metrics.RunCompletionRate = float64(completedRuns) / float64(totalRuns)
	}
	return metrics
}
