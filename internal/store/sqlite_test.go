package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kandev/agentcore/internal/rl"
)

func createTestSQLiteStore(t *testing.T) (*SQLiteExperienceStore, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "experience.db")

	s, err := NewSQLiteExperienceStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create SQLite experience store: %v", err)
	}

	cleanup := func() {
		s.Close()
		os.Remove(dbPath)
	}
	return s, cleanup
}

func TestNewSQLiteExperienceStore(t *testing.T) {
	s, cleanup := createTestSQLiteStore(t)
	defer cleanup()

	if s.db == nil {
		t.Fatal("expected db to be initialized")
	}
}

func TestSQLiteExperienceStoreAppendAndList(t *testing.T) {
	s, cleanup := createTestSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	rec := ExperienceRecord{
		StateKey: "backend|0.50",
		Action:   rl.RouteToAgent("backend"),
		Reward:   0.75,
		Done:     true,
	}
	if err := s.AppendExperience(ctx, rec); err != nil {
		t.Fatalf("AppendExperience failed: %v", err)
	}

	out, err := s.ListExperience(ctx, 0)
	if err != nil {
		t.Fatalf("ListExperience failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if out[0].StateKey != rec.StateKey {
		t.Errorf("expected state key %q, got %q", rec.StateKey, out[0].StateKey)
	}
	if out[0].Action.Kind != rl.ActionRouteToAgent || out[0].Action.Role != "backend" {
		t.Errorf("expected decoded action to round-trip, got %+v", out[0].Action)
	}
	if out[0].Reward != rec.Reward {
		t.Errorf("expected reward %v, got %v", rec.Reward, out[0].Reward)
	}
	if !out[0].Done {
		t.Error("expected Done to be true")
	}
}

func TestSQLiteExperienceStoreOrdersOldestFirst(t *testing.T) {
	s, cleanup := createTestSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := ExperienceRecord{
			StateKey:  "frontend|0.10",
			Action:    rl.RouteToAgent("frontend"),
			Reward:    float64(i),
			Done:      true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendExperience(ctx, rec); err != nil {
			t.Fatalf("AppendExperience failed: %v", err)
		}
	}

	out, err := s.ListExperience(ctx, 0)
	if err != nil {
		t.Fatalf("ListExperience failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	for i, rec := range out {
		if rec.Reward != float64(i) {
			t.Errorf("expected oldest-first ordering, record %d had reward %v", i, rec.Reward)
		}
	}
}

func TestSQLiteExperienceStoreListRespectsLimit(t *testing.T) {
	s, cleanup := createTestSQLiteStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := ExperienceRecord{
			StateKey: "backend|0.20",
			Action:   rl.RouteToAgent("backend"),
			Reward:   float64(i),
			Done:     true,
		}
		if err := s.AppendExperience(ctx, rec); err != nil {
			t.Fatalf("AppendExperience failed: %v", err)
		}
	}

	out, err := s.ListExperience(ctx, 2)
	if err != nil {
		t.Fatalf("ListExperience failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records with limit, got %d", len(out))
	}
	// The limited query takes the most recent rows then reverses them, so
	// the last two appended (rewards 3 and 4) should come back oldest-first.
	if out[0].Reward != 3 || out[1].Reward != 4 {
		t.Errorf("expected rewards [3 4], got [%v %v]", out[0].Reward, out[1].Reward)
	}
}

func TestSQLiteExperienceStoreClose(t *testing.T) {
	s, _ := createTestSQLiteStore(t)
	if err := s.Close(); err != nil {
		t.Errorf("expected no error on close, got %v", err)
	}
}
