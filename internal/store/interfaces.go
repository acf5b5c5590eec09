// Package store provides narrow persistence interfaces for routing
// patterns, training experience, session metadata, and cross-replica
// broadcast. PatternStore, ExperienceStore and PubSub each have an in-memory
// default and an opt-in durable/transport backed implementation selected by
// configuration; SessionStore has only the in-memory implementation.
package store

import (
	"context"
	"time"

	"github.com/kandev/agentcore/internal/rl"
)

// Pattern is a learned routing shortcut: a precomputed mapping from a
// recurring task shape to an action, discovered by the RL engine and worth
// persisting across restarts.
type Pattern struct {
	ID        string
	TaskType  string
	Action    rl.Action
	Score     float64
	UpdatedAt time.Time
}

// PatternStore persists learned routing patterns.
type PatternStore interface {
	SavePattern(ctx context.Context, p Pattern) error
	GetPattern(ctx context.Context, taskType string) (Pattern, bool, error)
	ListPatterns(ctx context.Context) ([]Pattern, error)
	Close()
}

// ExperienceRecord is a persisted (state key, action, reward, done) record,
// the durable counterpart to rl.Experience; no next state is stored.
type ExperienceRecord struct {
	ID        int64
	StateKey  string
	Action    rl.Action
	Reward    float64
	Done      bool
	CreatedAt time.Time
}

// ExperienceStore persists RL experience for offline analysis/replay beyond
// the engine's in-memory FIFO buffer.
type ExperienceStore interface {
	AppendExperience(ctx context.Context, rec ExperienceRecord) error
	ListExperience(ctx context.Context, limit int) ([]ExperienceRecord, error)
	Close() error
}

// Session is lightweight metadata about an agent connection lifetime, kept
// for diagnostics and reconnection bookkeeping.
type Session struct {
	AgentID    string
	Role       string
	Source     string
	StartedAt  time.Time
	EndedAt    *time.Time
}

// SessionStore persists agent session metadata.
type SessionStore interface {
	StartSession(ctx context.Context, s Session) error
	EndSession(ctx context.Context, agentID string, endedAt time.Time) error
	ListActiveSessions(ctx context.Context) ([]Session, error)
}

// PubSub is the broadcast/pub-sub transport abstraction used when a
// deployment needs cross-replica broadcast instead of the single-process
// in-memory default.
type PubSub interface {
	Publish(ctx context.Context, subject string, payload map[string]any) error
	Subscribe(subject string, handler func(payload map[string]any)) (Subscription, error)
	Close()
}

// Subscription is an active PubSub subscription.
type Subscription interface {
	Unsubscribe() error
}
