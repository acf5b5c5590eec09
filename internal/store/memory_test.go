package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kandev/agentcore/internal/rl"
)

func TestMemoryPatternStoreSaveAndGet(t *testing.T) {
	s := NewMemoryPatternStore()
	ctx := context.Background()

	p := Pattern{ID: "p1", TaskType: "bugfix", Action: rl.RouteToAgent("backend"), Score: 0.9, UpdatedAt: time.Now()}
	if err := s.SavePattern(ctx, p); err != nil {
		t.Fatalf("SavePattern failed: %v", err)
	}

	got, ok, err := s.GetPattern(ctx, "bugfix")
	if err != nil {
		t.Fatalf("GetPattern failed: %v", err)
	}
	if !ok {
		t.Fatal("expected pattern to be found")
	}
	if got.ID != "p1" || got.Score != 0.9 {
		t.Errorf("unexpected pattern returned: %+v", got)
	}
}

func TestMemoryPatternStoreGetMissing(t *testing.T) {
	s := NewMemoryPatternStore()
	_, ok, err := s.GetPattern(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("GetPattern failed: %v", err)
	}
	if ok {
		t.Error("expected not found for unknown task type")
	}
}

func TestMemoryPatternStoreOverwrite(t *testing.T) {
	s := NewMemoryPatternStore()
	ctx := context.Background()

	_ = s.SavePattern(ctx, Pattern{ID: "p1", TaskType: "bugfix", Score: 0.5})
	_ = s.SavePattern(ctx, Pattern{ID: "p2", TaskType: "bugfix", Score: 0.8})

	got, _, _ := s.GetPattern(ctx, "bugfix")
	if got.ID != "p2" || got.Score != 0.8 {
		t.Errorf("expected overwritten pattern, got %+v", got)
	}

	all, _ := s.ListPatterns(ctx)
	if len(all) != 1 {
		t.Errorf("expected 1 pattern after overwrite, got %d", len(all))
	}
}

func TestMemoryExperienceStoreAppendAndList(t *testing.T) {
	s := NewMemoryExperienceStore(0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.AppendExperience(ctx, ExperienceRecord{
			StateKey: "s1",
			Action:   rl.RouteToAgent("backend"),
			Reward:   float64(i),
		})
		if err != nil {
			t.Fatalf("AppendExperience failed: %v", err)
		}
	}

	records, err := s.ListExperience(ctx, 0)
	if err != nil {
		t.Fatalf("ListExperience failed: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	if records[0].ID == 0 {
		t.Error("expected assigned IDs starting above zero")
	}
	if records[len(records)-1].Reward != 4 {
		t.Errorf("expected oldest-first ordering, got last reward %v", records[len(records)-1].Reward)
	}
}

func TestMemoryExperienceStoreTrims(t *testing.T) {
	s := NewMemoryExperienceStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = s.AppendExperience(ctx, ExperienceRecord{StateKey: "s1", Reward: float64(i)})
	}

	records, _ := s.ListExperience(ctx, 0)
	if len(records) != 3 {
		t.Fatalf("expected trimmed to 3 records, got %d", len(records))
	}
	if records[0].Reward != 2 {
		t.Errorf("expected oldest kept record to have reward 2, got %v", records[0].Reward)
	}
}

func TestMemoryExperienceStoreListWithLimit(t *testing.T) {
	s := NewMemoryExperienceStore(0)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = s.AppendExperience(ctx, ExperienceRecord{StateKey: "s1", Reward: float64(i)})
	}
	records, _ := s.ListExperience(ctx, 3)
	if len(records) != 3 {
		t.Fatalf("expected 3 records with limit, got %d", len(records))
	}
	if records[len(records)-1].Reward != 9 {
		t.Errorf("expected limit to keep the most recent records, got last reward %v", records[len(records)-1].Reward)
	}
}

func TestMemorySessionStoreLifecycle(t *testing.T) {
	s := NewMemorySessionStore()
	ctx := context.Background()

	err := s.StartSession(ctx, Session{AgentID: "a1", Role: "backend", Source: "pty", StartedAt: time.Now()})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	active, err := s.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(active))
	}

	if err := s.EndSession(ctx, "a1", time.Now()); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	active, _ = s.ListActiveSessions(ctx)
	if len(active) != 0 {
		t.Errorf("expected 0 active sessions after end, got %d", len(active))
	}
}

func TestMemorySessionStoreEndUnknownIsNoop(t *testing.T) {
	s := NewMemorySessionStore()
	if err := s.EndSession(context.Background(), "ghost", time.Now()); err != nil {
		t.Errorf("expected no error ending an unknown session, got %v", err)
	}
}

func TestMemoryPubSubDeliversToSubscriber(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	var mu sync.Mutex
	var got map[string]any
	done := make(chan struct{})

	sub, err := ps.Subscribe("task.events", func(payload map[string]any) {
		mu.Lock()
		got = payload
		mu.Unlock()
		close(done)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := ps.Publish(context.Background(), "task.events", map[string]any{"type": "health_check"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if got["type"] != "health_check" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestMemoryPubSubUnsubscribeStopsDelivery(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	delivered := make(chan struct{}, 1)
	sub, _ := ps.Subscribe("subj", func(payload map[string]any) { delivered <- struct{}{} })
	_ = sub.Unsubscribe()

	_ = ps.Publish(context.Background(), "subj", map[string]any{"x": 1})

	select {
	case <-delivered:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPubSubNoSubscribersIsNoop(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()
	if err := ps.Publish(context.Background(), "nobody-listening", map[string]any{}); err != nil {
		t.Errorf("expected no error publishing with no subscribers, got %v", err)
	}
}
