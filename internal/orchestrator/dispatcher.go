package orchestrator

import (
	"context"
	"time"

	"github.com/kandev/agentcore/internal/aps"
)

// AgentDispatcher is the small interface the Orchestrator consumes from the
// PTY-backed Agent Manager, kept narrow so the Orchestrator never holds a
// strong reference back to the concrete Manager type (avoids an import
// cycle and matches the spec's CoreContext shared-interface design).
type AgentDispatcher interface {
	Send(ctx context.Context, id string, input string) (string, error)
}

// WorkerDispatcher is the small interface the Orchestrator consumes from the
// Agent Protocol Server.
type WorkerDispatcher interface {
	FindAgentByRole(role string) (string, bool)
	SendTask(ctx context.Context, agentID string, params aps.TaskAssignParams, timeout time.Duration) (*aps.TaskResult, error)
	Broadcast(kind aps.BroadcastKind, content map[string]any) int
}
