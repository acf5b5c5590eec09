package rl

// Experience is an immutable training datum produced by a task outcome.
type Experience struct {
	State     State
	Action    Action
	Reward    float64 // in [-0.5, 1.3] given the defaults in §4.1
	NextState *State
	Done      bool
}

// RewardParams carries the inputs the Orchestrator supplies to ComputeReward.
type RewardParams struct {
	Success       bool
	TokensUsed    uint64
	MaxTokens     uint64
	DurationMs    int64
	MaxDurationMs int64
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ComputeReward implements the reward function in §4.1:
//
//	reward = base + token_bonus + speed_bonus
//	  base         = +1.0 if success else -0.5
//	  token_bonus  = 0.2 * clamp(1 - tokens_used/max_tokens, 0, 1)
//	  speed_bonus  = 0.1 * clamp(1 - duration_ms/max_duration_ms, 0, 1)
func ComputeReward(p RewardParams) float64 {
	base := -0.5
	if p.Success {
		base = 1.0
	}

	var tokenBonus float64
	if p.MaxTokens > 0 {
		tokenBonus = 0.2 * clamp01(1-float64(p.TokensUsed)/float64(p.MaxTokens))
	}

	var speedBonus float64
	if p.MaxDurationMs > 0 {
		speedBonus = 0.1 * clamp01(1-float64(p.DurationMs)/float64(p.MaxDurationMs))
	}

	return base + tokenBonus + speedBonus
}

// replayBuffer is a bounded FIFO of Experiences sampled for training.
type replayBuffer struct {
	items []Experience
	cap   int
	next  int // write cursor once full
	full  bool
}

func newReplayBuffer(cap int) *replayBuffer {
	if cap <= 0 {
		cap = 1
	}
	return &replayBuffer{items: make([]Experience, 0, cap), cap: cap}
}

func (b *replayBuffer) add(e Experience) {
	if len(b.items) < b.cap {
		b.items = append(b.items, e)
		return
	}
	b.full = true
	b.items[b.next] = e
	b.next = (b.next + 1) % b.cap
}

func (b *replayBuffer) size() int { return len(b.items) }
