package manager

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/agentcore/internal/agent"
	"github.com/kandev/agentcore/internal/agent/registry"
	apperrors "github.com/kandev/agentcore/internal/common/errors"
	"github.com/kandev/agentcore/internal/common/logger"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry(t.TempDir(), logger.Default())
	if err := reg.Register(&registry.AgentTypeConfig{
		Role:    "backend",
		Command: []string{"/bin/cat"},
		Enabled: true,
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return reg
}

func TestSpawnRejectsUnknownRole(t *testing.T) {
	reg := registry.NewRegistry(t.TempDir(), logger.Default())
	m := New(Config{MaxAgents: 2}, reg, nil, logger.Default())

	_, err := m.Spawn(context.Background(), agent.RoleFrontend)
	if err == nil {
		t.Fatal("expected error for unregistered role")
	}
}

func TestSpawnEnforcesCapacity(t *testing.T) {
	reg := testRegistry(t)
	m := New(Config{MaxAgents: 1, StopGrace: 200 * time.Millisecond}, reg, nil, logger.Default())
	defer m.StopAll()

	id1, err := m.Spawn(context.Background(), agent.RoleBackend)
	if err != nil {
		t.Fatalf("first spawn failed: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 managed agent, got %d", m.Len())
	}

	_, err = m.Spawn(context.Background(), agent.RoleBackend)
	if err == nil {
		t.Fatal("expected capacity error on second spawn")
	}

	if err := m.Stop(id1); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected 0 managed agents after stop, got %d", m.Len())
	}
}

func TestStopUnknownAgent(t *testing.T) {
	reg := testRegistry(t)
	m := New(Config{MaxAgents: 2}, reg, nil, logger.Default())

	err := m.Stop(agent.NewID())
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSendRejectsConcurrentCalls(t *testing.T) {
	reg := testRegistry(t)
	m := New(Config{MaxAgents: 1, SendTimeout: 150 * time.Millisecond, StopGrace: 200 * time.Millisecond}, reg, nil, logger.Default())
	defer m.StopAll()

	id, err := m.Spawn(context.Background(), agent.RoleBackend)
	if err != nil {
		t.Fatalf("spawn failed: %v", err)
	}

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, sendErr := m.Send(context.Background(), id, "hello")
		done <- sendErr
	}()

	<-started
	time.Sleep(20 * time.Millisecond)

	_, err = m.Send(context.Background(), id, "world")
	if err == nil {
		t.Fatal("expected an error for concurrent send against the same agent")
	}

	<-done
}
