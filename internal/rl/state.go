// Package rl implements the pluggable reinforcement-learning engine (C1):
// state/action encoding, an experience replay buffer, and the tabular
// Q-learning algorithm with an LRU-capped Q-table.
package rl

import (
	"fmt"
	"math"
	"strings"
)

// AgentSnapshot is the routing-relevant view of one candidate agent that
// feeds into a State.
type AgentSnapshot struct {
	Role                string
	IsBusy              bool
	SuccessRate         float64
	AvgCompletionTimeMs float64
}

// State is the RL engine's input: a description of the routing decision
// currently facing the Orchestrator.
type State struct {
	TaskType        string
	AvailableAgents []AgentSnapshot
	TokenUsage      float64 // in [0,1]
	SuccessHistory  []float64 // most recent first, capped by caller
	Complexity      float64 // in [0,1]
	Features        []float64
}

// BucketWidth is the quantisation granularity used when deriving a state
// key. Exposed as a package variable so tests can exercise finer/coarser
// collision behaviour (SPEC_FULL.md §9 open question).
var BucketWidth = 0.1

func bucket(v float64) int {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return int(math.Round(v/BucketWidth))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Key derives the canonical, quantised string key used to index the Q-table.
// Two States collide into the same key iff task_type matches and all three
// quantised buckets (complexity, token_usage, mean(success_history)) match;
// this is deliberately lossy (§4.1) but never collapses two different
// task_types into one bucket.
func (s State) Key() string {
	return fmt.Sprintf("%s|c%d|t%d|s%d",
		strings.ToLower(s.TaskType),
		bucket(s.Complexity),
		bucket(s.TokenUsage),
		bucket(mean(s.SuccessHistory)),
	)
}

// HasRole reports whether any available agent in the state has the given role.
func (s State) HasRole(role string) bool {
	role = strings.ToLower(role)
	for _, a := range s.AvailableAgents {
		if strings.ToLower(a.Role) == role {
			return true
		}
	}
	return false
}
