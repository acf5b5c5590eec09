package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kandev/agentcore/internal/aps"
	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/rl"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/task"
)

type fakePubSub struct {
	mu        sync.Mutex
	published int
}

func newFakePubSub() *fakePubSub { return &fakePubSub{} }

func (f *fakePubSub) Publish(ctx context.Context, subject string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	return nil
}

func (f *fakePubSub) Subscribe(subject string, handler func(payload map[string]any)) (store.Subscription, error) {
	return nil, errFakeSend
}

func (f *fakePubSub) Close() {}

type fakeAgentDispatcher struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	output  string
}

func (f *fakeAgentDispatcher) Send(ctx context.Context, id string, input string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return "", errFakeSend
	}
	if f.output != "" {
		return f.output, nil
	}
	return "done: " + input, nil
}

var errFakeSend = &fakeErr{"fake send failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func newTestOrchestrator(t *testing.T, am AgentDispatcher) (*Orchestrator, *task.Table) {
	t.Helper()
	log := logger.Default()
	tasks := task.NewTable(1000, time.Hour, log)
	space := rl.NewActionSpace([]string{"backend", "frontend"})
	engine := rl.NewEngine(space, 1000, 1000, 1)

	o := New(Config{RLEnabled: false, DispatchTimeout: time.Second}, tasks, engine, am, nil, nil, nil, nil, log)
	return o, tasks
}

func waitForTerminal(t *testing.T, tasks *task.Table, id task.ID) *task.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tk, err := tasks.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if tk.Status.Terminal() {
			return tk
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for task to reach a terminal status")
	return nil
}

func TestRegisterAgentIdempotent(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeAgentDispatcher{})
	o.RegisterAgent("a1", "backend", SourcePTY, nil, 3)
	o.RegisterAgent("a1", "backend", SourcePTY, nil, 3)

	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.agents) != 1 {
		t.Fatalf("expected 1 agent after duplicate register, got %d", len(o.agents))
	}
}

func TestUnregisterUnknownAgentIsNoop(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeAgentDispatcher{})
	o.UnregisterAgent("ghost")
}

func TestRouteTaskAutoNoAgentAvailable(t *testing.T) {
	o, tasks := newTestOrchestrator(t, &fakeAgentDispatcher{})
	tk, err := task.New("do the thing", "backend", task.PriorityNormal)
	if err != nil {
		t.Fatalf("task.New failed: %v", err)
	}
	if err := tasks.Insert(tk); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := o.RouteTaskAuto(context.Background(), tk); err == nil {
		t.Fatal("expected NoAgentAvailable error")
	}
}

func TestRouteTaskAutoDispatchesAndCompletes(t *testing.T) {
	am := &fakeAgentDispatcher{output: "finished"}
	o, tasks := newTestOrchestrator(t, am)
	o.RegisterAgent("a1", "backend", SourcePTY, nil, 3)

	tk, _ := task.New("fix the bug", "backend", task.PriorityNormal)
	_ = tasks.Insert(tk)

	if err := o.RouteTaskAuto(context.Background(), tk); err != nil {
		t.Fatalf("RouteTaskAuto failed: %v", err)
	}

	final := waitForTerminal(t, tasks, tk.ID)
	if final.Status != task.StatusCompleted {
		t.Fatalf("expected Completed, got %s", final.Status)
	}
	if final.Output != "finished" {
		t.Errorf("expected output 'finished', got %q", final.Output)
	}

	o.mu.RLock()
	rec := o.agents["a1"]
	o.mu.RUnlock()
	if rec.CurrentTasks != 0 {
		t.Errorf("expected CurrentTasks to return to 0, got %d", rec.CurrentTasks)
	}
	if rec.Completed != 1 {
		t.Errorf("expected 1 completed task, got %d", rec.Completed)
	}
}

func TestRouteTaskAutoDispatchFailureMarksFailed(t *testing.T) {
	am := &fakeAgentDispatcher{fail: true}
	o, tasks := newTestOrchestrator(t, am)
	o.RegisterAgent("a1", "backend", SourcePTY, nil, 3)

	tk, _ := task.New("will fail", "backend", task.PriorityNormal)
	_ = tasks.Insert(tk)

	if err := o.RouteTaskAuto(context.Background(), tk); err != nil {
		t.Fatalf("RouteTaskAuto failed: %v", err)
	}

	final := waitForTerminal(t, tasks, tk.ID)
	if final.Status != task.StatusFailed {
		t.Fatalf("expected Failed, got %s", final.Status)
	}

	o.mu.RLock()
	rec := o.agents["a1"]
	o.mu.RUnlock()
	if rec.Failed != 1 {
		t.Errorf("expected 1 failed task, got %d", rec.Failed)
	}
}

func TestProcessResultIdempotent(t *testing.T) {
	o, tasks := newTestOrchestrator(t, &fakeAgentDispatcher{})
	o.RegisterAgent("a1", "backend", SourcePTY, nil, 3)

	tk, _ := task.New("idempotence check", "backend", task.PriorityNormal)
	_ = tasks.Insert(tk)
	assigned := "a1"
	_ = tasks.Mutate(tk.ID, func(stored *task.Task) {
		stored.Status = task.StatusInProgress
		stored.AssignedTo = &assigned
	})

	res := task.Result{TaskID: tk.ID, Success: true, Output: "ok"}
	if _, err := o.ProcessResult(context.Background(), res); err != nil {
		t.Fatalf("first ProcessResult failed: %v", err)
	}
	if _, err := o.ProcessResult(context.Background(), res); err != nil {
		t.Fatalf("second ProcessResult failed: %v", err)
	}

	o.mu.RLock()
	rec := o.agents["a1"]
	o.mu.RUnlock()
	if rec.Completed != 1 {
		t.Errorf("expected exactly 1 completed count after duplicate ProcessResult, got %d", rec.Completed)
	}
}

func TestDelegateToSpecialistsCompletesParentOnAllSuccess(t *testing.T) {
	am := &fakeAgentDispatcher{output: "child done"}
	o, tasks := newTestOrchestrator(t, am)
	o.RegisterAgent("a1", "backend", SourcePTY, nil, 3)
	o.RegisterAgent("a2", "frontend", SourcePTY, nil, 3)

	parent, _ := task.New("build the feature", "coordinator", task.PriorityNormal)
	_ = tasks.Insert(parent)

	_, err := o.DelegateToSpecialists(context.Background(), parent, []Subtask{
		{Role: "backend", Description: "build api"},
		{Role: "frontend", Description: "build ui"},
	})
	if err != nil {
		t.Fatalf("DelegateToSpecialists failed: %v", err)
	}

	final := waitForTerminal(t, tasks, parent.ID)
	if final.Status != task.StatusCompleted {
		t.Fatalf("expected parent Completed, got %s", final.Status)
	}
}

func TestDelegateToSpecialistsFailsParentOnAnyChildFailure(t *testing.T) {
	am := &fakeAgentDispatcher{fail: true}
	o, tasks := newTestOrchestrator(t, am)
	o.RegisterAgent("a1", "backend", SourcePTY, nil, 3)

	parent, _ := task.New("build the feature", "coordinator", task.PriorityNormal)
	_ = tasks.Insert(parent)

	_, err := o.DelegateToSpecialists(context.Background(), parent, []Subtask{
		{Role: "backend", Description: "build api"},
	})
	if err != nil {
		t.Fatalf("DelegateToSpecialists failed: %v", err)
	}

	final := waitForTerminal(t, tasks, parent.ID)
	if final.Status != task.StatusFailed {
		t.Fatalf("expected parent Failed, got %s", final.Status)
	}
}

func TestHealthCheckReturnsAgentCount(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeAgentDispatcher{})
	o.RegisterAgent("a1", "backend", SourcePTY, nil, 3)
	o.RegisterAgent("a2", "frontend", SourcePTY, nil, 3)

	if n := o.HealthCheck(context.Background()); n != 2 {
		t.Errorf("expected health check to report 2 agents, got %d", n)
	}
}

func TestBroadcastFallsBackToPubSub(t *testing.T) {
	log := logger.Default()
	tasks := task.NewTable(100, time.Hour, log)
	space := rl.NewActionSpace([]string{"backend"})
	engine := rl.NewEngine(space, 100, 100, 1)

	pubsub := newFakePubSub()
	o := New(Config{}, tasks, engine, &fakeAgentDispatcher{}, nil, nil, nil, pubsub, log)

	n := o.Broadcast(context.Background(), aps.BroadcastAnnouncement, map[string]any{"msg": "hi"})
	if n != 1 {
		t.Errorf("expected fallback broadcast to report 1 recipient, got %d", n)
	}
}
