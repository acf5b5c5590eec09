package rl

import (
	"errors"
	"math/rand"
	"sync"
)

// ErrInsufficientData is returned by Train when the replay buffer holds
// fewer experiences than the requested batch size.
var ErrInsufficientData = errors.New("rl: insufficient data for training batch")

// ErrEmptyBatch is returned by an algorithm's Train if it is ever invoked
// with a zero-length batch; the size guard in Engine.Train should make this
// unreachable, but it is checked explicitly per §4.1.
var ErrEmptyBatch = errors.New("rl: empty training batch")

// Stats is the snapshot returned by Engine.Stats.
type Stats struct {
	TotalSteps       uint64
	TotalRewards     float64
	MeanReward       float64
	BufferSize       int
	ActiveAlgorithm  string
	FallbackMismatch uint64
}

// Engine is the RL Engine's public contract (C1, §4.1): predict/record/
// train/set_algorithm/stats, backed by a bounded replay buffer and a
// pluggable Algorithm. All state is guarded by a single mutex; callers are
// expected to call through a suspension point (this is cheap enough not to
// need per-field locks).
type Engine struct {
	mu sync.Mutex

	algorithms map[string]Algorithm
	active     string

	buffer *replayBuffer
	space  *ActionSpace
	rng    *rand.Rand

	totalSteps       uint64
	totalRewards     float64
	fallbackMismatch uint64
}

// NewEngine builds an Engine over the given action space (typically one
// RouteToAgent action per known role plus any non-routing actions the
// Orchestrator registers) with a replay buffer of the given capacity and a
// deterministic RNG seed.
func NewEngine(space *ActionSpace, replayCap int, qTableCap int, seed int64) *Engine {
	e := &Engine{
		algorithms: make(map[string]Algorithm),
		buffer:     newReplayBuffer(replayCap),
		space:      space,
		rng:        rand.New(rand.NewSource(seed)),
	}
	q := NewQLearning(qTableCap)
	e.algorithms[q.Name()] = q
	e.active = q.Name()
	return e
}

// RegisterAlgorithm adds a named algorithm to the engine's registry without
// activating it. Use SetAlgorithm to switch.
func (e *Engine) RegisterAlgorithm(a Algorithm) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.algorithms[a.Name()] = a
}

// SetAlgorithm hot-swaps the active policy by name; the replay buffer is
// preserved across the swap. Returns false if name is unregistered.
func (e *Engine) SetAlgorithm(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.algorithms[name]; !ok {
		return false
	}
	e.active = name
	return true
}

// ActiveAlgorithm returns the name of the currently active policy.
func (e *Engine) ActiveAlgorithm() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Predict returns an Action for the given state, never failing. If the
// algorithm returns a RouteToAgent action whose role is not present among
// the state's available agents, Predict substitutes a fallback action
// (RouteToAgent to the first available role, or a no-op Composite if none
// exist) and increments the rl_fallback_mismatch counter (§8 property 7,
// scenario S6).
func (e *Engine) Predict(s State) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	alg := e.algorithms[e.active]
	action, _ := alg.Predict(s, e.space, e.rng)

	if action.Kind == ActionRouteToAgent && !s.HasRole(action.Role) {
		e.fallbackMismatch++
		if len(s.AvailableAgents) > 0 {
			return RouteToAgent(s.AvailableAgents[0].Role)
		}
		return Action{Kind: ActionComposite}
	}
	return action
}

// Record appends an experience to the bounded FIFO replay buffer.
func (e *Engine) Record(exp Experience) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer.add(exp)
	e.totalSteps++
	e.totalRewards += exp.Reward
}

// Train samples a minibatch of the given size uniformly at random without
// replacement and applies the active algorithm's update rule.
func (e *Engine) Train(batchSize int) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.buffer.size() < batchSize {
		return 0, ErrInsufficientData
	}

	batch := e.sampleLocked(batchSize)
	if len(batch) == 0 {
		return 0, ErrEmptyBatch
	}

	alg := e.algorithms[e.active]
	return alg.Train(batch, e.space)
}

// sampleLocked draws batchSize distinct indices from the replay buffer
// without replacement (a full Fisher-Yates shuffle of an index list, O(n)
// per call, after which the first batchSize indices are taken).
func (e *Engine) sampleLocked(batchSize int) []Experience {
	n := e.buffer.size()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	e.rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	out := make([]Experience, 0, batchSize)
	for i := 0; i < batchSize && i < n; i++ {
		out = append(out, e.buffer.items[idx[i]])
	}
	return out
}

// Update folds a single experience into the active algorithm outside of a
// formal Train() minibatch call (used by the Orchestrator for online,
// per-task updates in addition to periodic batch training).
func (e *Engine) Update(exp Experience) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.algorithms[e.active].Update(exp, e.space)
}

// Stats returns the engine's cumulative counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	meanReward := 0.0
	if e.totalSteps > 0 {
		meanReward = e.totalRewards / float64(e.totalSteps)
	}
	return Stats{
		TotalSteps:       e.totalSteps,
		TotalRewards:      e.totalRewards,
		MeanReward:        meanReward,
		BufferSize:        e.buffer.size(),
		ActiveAlgorithm:   e.active,
		FallbackMismatch:  e.fallbackMismatch,
	}
}

// ActionSpace exposes the engine's action space for callers (e.g. tests)
// that need to construct matching experiences.
func (e *Engine) ActionSpace() *ActionSpace {
	return e.space
}
