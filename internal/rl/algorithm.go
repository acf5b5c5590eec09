package rl

// Algorithm is the capability set a pluggable RL policy must implement
// (§9 "dynamic dispatch"): predict an action, learn from a minibatch, fold
// in a single reward, and expose/restore its internal parameters so
// set_algorithm can hot-swap policies while the engine preserves the replay
// buffer across the swap.
type Algorithm interface {
	Name() string
	Predict(s State, space *ActionSpace, rng randSource) (Action, int)
	Train(batch []Experience, space *ActionSpace) (meanLoss float64, err error)
	Update(e Experience, space *ActionSpace)
	GetParams() map[string]float64
	SetParams(map[string]float64)
}

// randSource is the minimal interface the algorithms need from a PRNG,
// letting the engine inject a deterministic source for reproducible tests.
type randSource interface {
	Float64() float64
	Intn(n int) int
}
