// Package orchestrator implements the central dispatch component (C5): it
// decides which concrete agent runs each task, tracks per-agent workload,
// computes RL rewards, and resolves multi-agent delegation trees.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/kandev/agentcore/internal/common/errors"
	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/rl"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/task"

	"github.com/kandev/agentcore/internal/aps"
)

// Config controls the Orchestrator's defaults.
type Config struct {
	RLEnabled            bool
	DefaultMaxTasks       int
	MaxTokensDefault      uint64
	MaxDurationMsDefault  int64
	DispatchTimeout       time.Duration
}

// Orchestrator is the Orchestrator's concrete implementation (C5, §4.4).
type Orchestrator struct {
	cfg Config
	log *logger.Logger

	mu     sync.RWMutex
	agents map[string]*AgentRecord

	aggMu        sync.Mutex
	aggregations map[task.ID]*PendingAggregation

	tasks  *task.Table
	engine *rl.Engine

	rlEnabled bool

	am  AgentDispatcher
	aps WorkerDispatcher

	patternStore    store.PatternStore
	experienceStore store.ExperienceStore
	pubsub          store.PubSub

	healthCheckCount uint64
}

// New builds an Orchestrator. am/aps may be nil if that delivery route is
// not wired up in this deployment; patternStore/experienceStore/pubsub may
// be nil (callers should pass the in-memory degraded-mode defaults from
// internal/store rather than nil, but nil is tolerated defensively).
func New(cfg Config, tasks *task.Table, engine *rl.Engine, am AgentDispatcher, apsDispatcher WorkerDispatcher,
	patternStore store.PatternStore, experienceStore store.ExperienceStore, pubsub store.PubSub, log *logger.Logger) *Orchestrator {
	if cfg.DefaultMaxTasks <= 0 {
		cfg.DefaultMaxTasks = 5
	}
	if cfg.MaxTokensDefault == 0 {
		cfg.MaxTokensDefault = 50_000
	}
	if cfg.MaxDurationMsDefault == 0 {
		cfg.MaxDurationMsDefault = 300_000
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}

	return &Orchestrator{
		cfg:             cfg,
		log:             log.WithFields(zap.String("component", "orchestrator")),
		agents:          make(map[string]*AgentRecord),
		aggregations:    make(map[task.ID]*PendingAggregation),
		tasks:           tasks,
		engine:          engine,
		rlEnabled:       cfg.RLEnabled,
		am:              am,
		aps:             apsDispatcher,
		patternStore:    patternStore,
		experienceStore: experienceStore,
		pubsub:          pubsub,
	}
}

// RegisterAgent adds or refreshes an agent's routing record. Idempotent:
// calling twice with the same arguments leaves the workload snapshot
// unchanged (it does not reset CurrentTasks/Completed/Failed on a
// re-register of an already-known agent).
func (o *Orchestrator) RegisterAgent(id, role string, source AgentSource, capabilities []string, maxTasks int) {
	if maxTasks <= 0 {
		maxTasks = o.cfg.DefaultMaxTasks
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.agents[id]; ok {
		existing.Role = role
		existing.Source = source
		existing.Capabilities = capabilities
		existing.MaxTasks = maxTasks
		return
	}

	o.agents[id] = &AgentRecord{
		ID:             id,
		Role:           role,
		Source:         source,
		Capabilities:   capabilities,
		MaxTasks:       maxTasks,
		SuccessRateEMA: 1.0,
		RegisteredAt:   time.Now().UTC(),
	}
}

// UnregisterAgent removes an agent's routing record. Idempotent: removing
// an unknown id is a no-op.
func (o *Orchestrator) UnregisterAgent(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.agents, id)
}

// ListAgents returns a snapshot of every known agent's routing record.
func (o *Orchestrator) ListAgents() []AgentRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]AgentRecord, 0, len(o.agents))
	for _, rec := range o.agents {
		out = append(out, *rec)
	}
	return out
}

// RouteTaskAuto selects the best agent of t.Role and dispatches t to it,
// returning NoAgentAvailable if no eligible agent exists.
func (o *Orchestrator) RouteTaskAuto(ctx context.Context, t *task.Task) error {
	complexity, history := o.inferTaskFeatures(t)

	o.mu.Lock()
	picked := o.selectAgentLocked(t.Role, complexity, history)
	if picked == nil {
		o.mu.Unlock()
		return apperrors.NoAgentAvailable(t.Role)
	}
	picked.CurrentTasks++
	picked.LastAssignedAt = time.Now().UTC()
	agentID := picked.ID
	o.mu.Unlock()

	return o.dispatch(ctx, t, agentID)
}

// RouteTask dispatches t to a specific, already-registered agent.
func (o *Orchestrator) RouteTask(ctx context.Context, t *task.Task, agentID string) error {
	o.mu.Lock()
	rec, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return apperrors.NotFound("agent", agentID)
	}
	if !rec.HasCapacity() {
		o.mu.Unlock()
		return apperrors.AgentUnavailable(agentID, "at_capacity")
	}
	rec.CurrentTasks++
	rec.LastAssignedAt = time.Now().UTC()
	o.mu.Unlock()

	return o.dispatch(ctx, t, agentID)
}

// dispatch marks t InProgress/assigned, then runs the (blocking) delivery in
// a background goroutine so RouteTask/RouteTaskAuto return immediately; the
// result flows back through ProcessResult once the agent replies.
func (o *Orchestrator) dispatch(ctx context.Context, t *task.Task, agentID string) error {
	now := time.Now().UTC()
	err := o.tasks.Mutate(t.ID, func(stored *task.Task) {
		stored.Status = task.StatusInProgress
		stored.StartedAt = &now
		assigned := agentID
		stored.AssignedTo = &assigned
	})
	if err != nil {
		return err
	}

	go o.deliverAndComplete(ctx, t.ID, agentID, t.Description, t.Role)
	return nil
}

// deliverAndComplete performs the actual (blocking) delivery to whichever
// route the agent is reachable through (selection already picks an APS
// worker over a PTY agent for the same role, §4.4 delivery preference) and
// feeds the outcome back through ProcessResult.
func (o *Orchestrator) deliverAndComplete(ctx context.Context, taskID task.ID, agentID, description, role string) {
	started := time.Now()

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()

	output, err := o.deliverWithRetry(dctx, agentID, taskID.String(), description, role)
	duration := time.Since(started).Milliseconds()

	result := task.Result{
		TaskID:     taskID,
		Success:    err == nil,
		Output:     output,
		DurationMs: duration,
	}
	if err != nil {
		result.Reason = err.Error()
	}

	if _, perr := o.ProcessResult(ctx, result); perr != nil {
		o.log.WithTaskID(taskID).Error("failed to process task result", zap.Error(perr))
	}
}

// deliverWithRetry sends to agentID; on Backpressure/Timeout from either
// route (APS or PTY) it retries once against an alternate agent of the same
// role.
func (o *Orchestrator) deliverWithRetry(ctx context.Context, agentID, taskID, description, role string) (string, error) {
	output, err := o.deliverOnce(ctx, agentID, taskID, description, role)
	if err == nil {
		return output, nil
	}
	if !apperrors.IsBackpressure(err) && !apperrors.IsTimeout(err) {
		return "", err
	}

	o.mu.RLock()
	var alt *AgentRecord
	for _, rec := range o.agents {
		if rec.Role == role && rec.ID != agentID && rec.HasCapacity() {
			alt = rec
			break
		}
	}
	o.mu.RUnlock()
	if alt == nil {
		return "", err
	}
	return o.deliverOnce(ctx, alt.ID, taskID, description, role)
}

func (o *Orchestrator) deliverOnce(ctx context.Context, agentID, taskID, description, role string) (string, error) {
	o.mu.RLock()
	rec, ok := o.agents[agentID]
	o.mu.RUnlock()
	if !ok {
		return "", apperrors.NotFound("agent", agentID)
	}

	if rec.Source == SourceAPS && o.aps != nil {
		res, err := o.aps.SendTask(ctx, agentID, aps.TaskAssignParams{
			TaskID: taskID, Description: description, Role: role,
		}, o.cfg.DispatchTimeout)
		if err != nil {
			return "", err
		}
		if !res.Success {
			return "", apperrors.InternalError(res.Reason, nil)
		}
		return res.Output, nil
	}

	if o.am != nil {
		return o.am.Send(ctx, agentID, description)
	}

	return "", apperrors.AgentUnavailable(agentID, "unreachable")
}

// inferTaskFeatures derives a rough complexity signal and recent-success
// history for the RL state; in the absence of richer signals this uses
// description length as a cheap complexity proxy, bucketed into [0,1].
func (o *Orchestrator) inferTaskFeatures(t *task.Task) (complexity float64, successHistory []float64) {
	const lengthCeiling = 2000.0
	complexity = float64(len(t.Description)) / lengthCeiling
	if complexity > 1 {
		complexity = 1
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, rec := range o.agents {
		if rec.Role == t.Role {
			successHistory = append(successHistory, rec.SuccessRate())
		}
	}
	return complexity, successHistory
}

