package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kandev/agentcore/internal/agent/manager"
)

// ManagerDispatcher adapts *manager.Manager (agent.ID-keyed) to the
// orchestrator's AgentDispatcher, which addresses agents by string id so the
// same dispatch path works uniformly for PTY and APS agents.
type ManagerDispatcher struct {
	AM *manager.Manager
}

func (d ManagerDispatcher) Send(ctx context.Context, id string, input string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid PTY agent id %q: %w", id, err)
	}
	return d.AM.Send(ctx, parsed, input)
}
