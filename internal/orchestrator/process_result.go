package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/rl"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/task"
)

// ProcessResult updates workload EMAs, emits an RL experience, persists it
// (if a store is configured), resolves any pending aggregation the result's
// task belongs to, and returns the parent's aggregated result once the last
// child of a delegation reports. Idempotent: a TaskResult applied to a task
// that is already terminal is a no-op (second call observes terminal status
// and returns early, per SPEC_FULL.md §8 property).
func (o *Orchestrator) ProcessResult(ctx context.Context, result task.Result) (*task.Result, error) {
	t, err := o.tasks.Get(result.TaskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, nil
	}

	now := time.Now().UTC()
	newStatus := task.StatusCompleted
	if !result.Success {
		newStatus = task.StatusFailed
	}

	if err := o.tasks.Mutate(result.TaskID, func(stored *task.Task) {
		stored.Status = newStatus
		stored.FailedReason = result.Reason
		stored.Output = result.Output
		stored.CompletedAt = &now
	}); err != nil {
		return nil, err
	}

	if t.AssignedTo != nil {
		o.updateWorkload(*t.AssignedTo, result)
	}

	o.recordExperience(ctx, t, result)

	var parentResult *task.Result
	if t.ParentTask != nil {
		parentResult = o.resolveAggregation(ctx, *t.ParentTask, result)
	}

	return parentResult, nil
}

// updateWorkload applies the EMA update (alpha 0.2) described in §4.4.
func (o *Orchestrator) updateWorkload(agentID string, result task.Result) {
	const alpha = 0.2

	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.agents[agentID]
	if !ok {
		return
	}

	if rec.CurrentTasks > 0 {
		rec.CurrentTasks--
	}
	if result.Success {
		rec.Completed++
	} else {
		rec.Failed++
	}

	successValue := 0.0
	if result.Success {
		successValue = 1.0
	}
	rec.SuccessRateEMA = alpha*successValue + (1-alpha)*rec.SuccessRateEMA
	rec.AvgCompletionTimeMs = alpha*float64(result.DurationMs) + (1-alpha)*rec.AvgCompletionTimeMs
	rec.LastResultAt = time.Now().UTC()
}

// recordExperience computes the reward per §4.1, records it to the RL
// engine (both the replay buffer and an online Update), and persists it via
// the ExperienceStore if one is configured. A DependencyUnavailable-style
// store failure is logged and swallowed: persistence is best-effort.
func (o *Orchestrator) recordExperience(ctx context.Context, t *task.Task, result task.Result) {
	maxTokens := o.cfg.MaxTokensDefault
	if t.TokenBudget != nil {
		maxTokens = *t.TokenBudget
	}

	reward := rl.ComputeReward(rl.RewardParams{
		Success:       result.Success,
		TokensUsed:    result.TokensUsed,
		MaxTokens:     maxTokens,
		DurationMs:    result.DurationMs,
		MaxDurationMs: o.cfg.MaxDurationMsDefault,
	})

	complexity, history := o.inferTaskFeatures(t)
	state := rl.State{TaskType: t.Role, Complexity: complexity, SuccessHistory: history}
	exp := rl.Experience{
		State:  state,
		Action: rl.RouteToAgent(t.Role),
		Reward: reward,
		Done:   true,
	}

	if o.engine != nil {
		o.engine.Record(exp)
		o.engine.Update(exp)
	}

	if o.experienceStore != nil {
		err := o.experienceStore.AppendExperience(ctx, store.ExperienceRecord{
			StateKey:  state.Key(),
			Action:    exp.Action,
			Reward:    reward,
			Done:      true,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			o.log.Warn("experience store append failed, continuing in degraded mode", zap.Error(err))
		}
	}
}

// resolveAggregation records the child's result against its parent's
// PendingAggregation and, once every child has reported, applies the
// aggregated result to the parent task and returns it.
func (o *Orchestrator) resolveAggregation(ctx context.Context, parent task.ID, childResult task.Result) *task.Result {
	o.aggMu.Lock()
	agg, ok := o.aggregations[parent]
	if !ok {
		o.aggMu.Unlock()
		return nil
	}
	complete := agg.addResult(childResult)
	if !complete {
		o.aggMu.Unlock()
		return nil
	}
	delete(o.aggregations, parent)
	aggregated := agg.aggregate()
	o.aggMu.Unlock()

	parentResult, err := o.ProcessResult(ctx, aggregated)
	if err != nil {
		o.log.Error("failed to apply aggregated result to parent task", zap.String("parent_task_id", parent.String()), zap.Error(err))
		return nil
	}
	if parentResult != nil {
		return parentResult
	}
	return &aggregated
}
