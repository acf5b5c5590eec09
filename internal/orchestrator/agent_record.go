package orchestrator

import "time"

// AgentSource identifies whether an agent is a local PTY subprocess or an
// externally-run worker connected over the agent protocol server.
type AgentSource string

const (
	SourcePTY AgentSource = "pty"
	SourceAPS AgentSource = "aps"
)

// AgentRecord tracks one known agent's routing-relevant state: identity,
// role, delivery source, and the rolling workload/performance statistics the
// heuristic selector and RL state features are built from.
type AgentRecord struct {
	ID     string
	Role   string
	Source AgentSource

	Capabilities []string
	MaxTasks     int

	CurrentTasks int
	Completed    uint64
	Failed       uint64

	// SuccessRate is an exponential moving average (alpha 0.2), seeded at
	// 1.0 so a brand-new agent is eagerly picked until its first real
	// outcome corrects the bias (SPEC_FULL.md §4.4).
	SuccessRateEMA float64

	AvgCompletionTimeMs float64

	RegisteredAt   time.Time
	LastAssignedAt time.Time
	LastResultAt   time.Time
}

// SuccessRate returns the EMA success rate used for heuristic ranking.
func (a *AgentRecord) SuccessRate() float64 {
	return a.SuccessRateEMA
}

// HasCapacity reports whether the agent can accept another task.
func (a *AgentRecord) HasCapacity() bool {
	return a.CurrentTasks < a.MaxTasks
}
