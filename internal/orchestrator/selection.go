package orchestrator

import (
	"sort"

	"github.com/kandev/agentcore/internal/rl"
)

// selectAgentLocked picks the best eligible agent for role, consulting the
// RL engine first (if enabled) and falling back to the heuristic ranking.
// Callers must hold o.mu for reading.
func (o *Orchestrator) selectAgentLocked(role string, complexity float64, successHistory []float64) *AgentRecord {
	candidates := o.eligibleAgentsLocked(role)
	if len(candidates) == 0 {
		return nil
	}

	// APS workers take precedence over PTY agents of the same role.
	var apsWorkers []*AgentRecord
	for _, rec := range candidates {
		if rec.Source == SourceAPS {
			apsWorkers = append(apsWorkers, rec)
		}
	}
	if len(apsWorkers) > 0 {
		candidates = apsWorkers
	}

	if o.rlEnabled && o.engine != nil {
		if picked := o.predictAgentLocked(role, complexity, successHistory, candidates); picked != nil {
			return picked
		}
	}

	return heuristicRank(candidates)
}

// eligibleAgentsLocked returns agents of the given role with spare capacity.
func (o *Orchestrator) eligibleAgentsLocked(role string) []*AgentRecord {
	var out []*AgentRecord
	for _, rec := range o.agents {
		if rec.Role == role && rec.HasCapacity() {
			out = append(out, rec)
		}
	}
	return out
}

// predictAgentLocked builds a State from the candidate set, queries the RL
// engine, and returns the least-loaded agent matching the predicted role —
// nil if the engine's Action doesn't name an eligible RouteToAgent target.
func (o *Orchestrator) predictAgentLocked(role string, complexity float64, successHistory []float64, candidates []*AgentRecord) *AgentRecord {
	snapshots := make([]rl.AgentSnapshot, 0, len(o.agents))
	for _, rec := range o.agents {
		snapshots = append(snapshots, rl.AgentSnapshot{
			Role:                rec.Role,
			IsBusy:              !rec.HasCapacity(),
			SuccessRate:         rec.SuccessRate(),
			AvgCompletionTimeMs: rec.AvgCompletionTimeMs,
		})
	}

	state := rl.State{
		TaskType:        role,
		AvailableAgents: snapshots,
		Complexity:      complexity,
		SuccessHistory:  successHistory,
	}

	action := o.engine.Predict(state)
	if action.Kind != rl.ActionRouteToAgent || action.Role != role {
		return nil
	}

	var eligible []*AgentRecord
	for _, rec := range candidates {
		if rec.Role == action.Role {
			eligible = append(eligible, rec)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	return leastLoaded(eligible)
}

// leastLoaded returns the candidate with the fewest CurrentTasks, ties
// broken by AgentId for determinism.
func leastLoaded(candidates []*AgentRecord) *AgentRecord {
	best := candidates[0]
	for _, rec := range candidates[1:] {
		if rec.CurrentTasks < best.CurrentTasks ||
			(rec.CurrentTasks == best.CurrentTasks && rec.ID < best.ID) {
			best = rec
		}
	}
	return best
}

// heuristicRank ranks by (current_tasks asc, success_rate desc,
// avg_completion_time_ms asc), ties broken by AgentId.
func heuristicRank(candidates []*AgentRecord) *AgentRecord {
	ranked := append([]*AgentRecord(nil), candidates...)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CurrentTasks != b.CurrentTasks {
			return a.CurrentTasks < b.CurrentTasks
		}
		if a.SuccessRate() != b.SuccessRate() {
			return a.SuccessRate() > b.SuccessRate()
		}
		if a.AvgCompletionTimeMs != b.AvgCompletionTimeMs {
			return a.AvgCompletionTimeMs < b.AvgCompletionTimeMs
		}
		return a.ID < b.ID
	})
	return ranked[0]
}
