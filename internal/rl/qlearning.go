package rl

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// qLearningAlgorithm is the minimum-required tabular Q-learning policy
// (§4.1): epsilon-greedy selection over a bounded, LRU-evicting Q-table,
// with the standard Bellman update rule.
type qLearningAlgorithm struct {
	qtable *lru.Cache[string, []float64]

	alpha   float64
	gamma   float64
	epsilon float64
	epsMin  float64
	epsDecay float64
}

// QTableCapDefault matches §4.1's default Q-table key capacity.
const QTableCapDefault = 100_000

// NewQLearning builds a tabular Q-learning algorithm with an LRU-capped
// Q-table of the given key capacity.
func NewQLearning(qTableCap int) *qLearningAlgorithm {
	if qTableCap <= 0 {
		qTableCap = QTableCapDefault
	}
	cache, err := lru.New[string, []float64](qTableCap)
	if err != nil {
		// lru.New only errors on size <= 0, already guarded above.
		cache, _ = lru.New[string, []float64](QTableCapDefault)
	}
	return &qLearningAlgorithm{
		qtable:   cache,
		alpha:    0.1,
		gamma:    0.99,
		epsilon:  1.0,
		epsMin:   0.01,
		epsDecay: 0.999,
	}
}

func (q *qLearningAlgorithm) Name() string { return "q_learning" }

func (q *qLearningAlgorithm) row(key string, size int) []float64 {
	if v, ok := q.qtable.Get(key); ok {
		if len(v) == size {
			return v
		}
		// Action space grew since this row was written; pad with zeros.
		grown := make([]float64, size)
		copy(grown, v)
		q.qtable.Add(key, grown)
		return grown
	}
	row := make([]float64, size)
	q.qtable.Add(key, row)
	return row
}

// Predict returns an epsilon-greedy action. It decays epsilon by epsDecay
// each call, floored at epsMin.
func (q *qLearningAlgorithm) Predict(s State, space *ActionSpace, rng randSource) (Action, int) {
	size := space.Size()
	if size == 0 {
		return Action{Kind: ActionComposite}, -1
	}

	defer q.decayEpsilon()

	if rng.Float64() < q.epsilon {
		idx := rng.Intn(size)
		return space.At(idx), idx
	}

	row := q.row(s.Key(), size)
	best := 0
	for i := 1; i < size; i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return space.At(best), best
}

func (q *qLearningAlgorithm) decayEpsilon() {
	q.epsilon *= q.epsDecay
	if q.epsilon < q.epsMin {
		q.epsilon = q.epsMin
	}
}

// Update applies the Bellman update for a single experience.
func (q *qLearningAlgorithm) Update(e Experience, space *ActionSpace) {
	size := space.Size()
	if size == 0 {
		return
	}
	actionIdx := indexOf(space, e.Action)
	if actionIdx < 0 {
		return
	}

	row := q.row(e.State.Key(), size)

	maxNext := 0.0
	if e.NextState != nil && !e.Done {
		nextRow := q.row(e.NextState.Key(), size)
		maxNext = nextRow[0]
		for _, v := range nextRow[1:] {
			if v > maxNext {
				maxNext = v
			}
		}
	}

	td := e.Reward + q.gamma*maxNext - row[actionIdx]
	row[actionIdx] += q.alpha * td
	q.qtable.Add(e.State.Key(), row)
}

func indexOf(space *ActionSpace, a Action) int {
	for i := 0; i < space.Size(); i++ {
		if actionsEqual(space.At(i), a) {
			return i
		}
	}
	return -1
}

func actionsEqual(a, b Action) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ActionRouteToAgent:
		return a.Role == b.Role
	case ActionAllocateTokens:
		return a.TokenBucket == b.TokenBucket
	case ActionUsePattern:
		return a.PatternID == b.PatternID
	case ActionCompressContext:
		return a.CompressionName == b.CompressionName
	default:
		return true
	}
}

// Train applies the Bellman update over a minibatch and returns the mean
// squared TD-error as a loss proxy.
func (q *qLearningAlgorithm) Train(batch []Experience, space *ActionSpace) (float64, error) {
	if len(batch) == 0 {
		return 0, ErrEmptyBatch
	}

	var sumSq float64
	for _, e := range batch {
		idx := indexOf(space, e.Action)
		if idx < 0 {
			continue
		}
		row := q.row(e.State.Key(), space.Size())
		maxNext := 0.0
		if e.NextState != nil && !e.Done {
			nextRow := q.row(e.NextState.Key(), space.Size())
			maxNext = nextRow[0]
			for _, v := range nextRow[1:] {
				if v > maxNext {
					maxNext = v
				}
			}
		}
		td := e.Reward + q.gamma*maxNext - row[idx]
		sumSq += td * td
		row[idx] += q.alpha * td
		q.qtable.Add(e.State.Key(), row)
	}
	return sumSq / float64(len(batch)), nil
}

func (q *qLearningAlgorithm) GetParams() map[string]float64 {
	return map[string]float64{
		"alpha":     q.alpha,
		"gamma":     q.gamma,
		"epsilon":   q.epsilon,
		"eps_min":   q.epsMin,
		"eps_decay": q.epsDecay,
	}
}

func (q *qLearningAlgorithm) SetParams(params map[string]float64) {
	if v, ok := params["alpha"]; ok {
		q.alpha = v
	}
	if v, ok := params["gamma"]; ok {
		q.gamma = v
	}
	if v, ok := params["epsilon"]; ok {
		q.epsilon = v
	}
	if v, ok := params["eps_min"]; ok {
		q.epsMin = v
	}
	if v, ok := params["eps_decay"]; ok {
		q.epsDecay = v
	}
}
