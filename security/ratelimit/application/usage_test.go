package application

import (
	"context"
	"testing"
	"time"

	"identity-guard/security/ratelimit/domain"
	"identity-guard/security/ratelimit/infra"
)

func TestTracker_IncrementCountsWithinWindow(t *testing.T) {
	tr := Tracker{Store: infra.NewMemoryStore()}
	key := domain.NewKey("u1", domain.ActionLogin)
	cfg := domain.Config{MaxRequests: 5, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		count, _, err := tr.Increment(context.Background(), key, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != int64(i) {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}
}

func TestTracker_WindowRollsAfterExpiry(t *testing.T) {
	tr := Tracker{Store: infra.NewMemoryStore()}
	key := domain.NewKey("u1", domain.ActionLogin)
	cfg := domain.Config{MaxRequests: 5, Window: 20 * time.Millisecond}

	for i := 0; i < 3; i++ {
		if _, _, err := tr.Increment(context.Background(), key, cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	time.Sleep(30 * time.Millisecond)

	count, resetAt, err := tr.Increment(context.Background(), key, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh window count=1, got %d", count)
	}
	if !resetAt.After(time.Now()) {
		t.Fatalf("expected resetAt in the future, got %s", resetAt)
	}
}

func TestTracker_CurrentNeverPersists(t *testing.T) {
	store := infra.NewMemoryStore()
	tr := Tracker{Store: store}
	key := domain.NewKey("u1", domain.ActionLogin)
	cfg := domain.Config{MaxRequests: 5, Window: time.Minute}

	for i := 0; i < 3; i++ {
		w, err := tr.Current(context.Background(), key, cfg.Window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if w.Count != 0 {
			t.Fatalf("expected read-only zero window, got count=%d", w.Count)
		}
	}

	count, _, err := tr.Increment(context.Background(), key, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected first increment to be 1, got %d", count)
	}
}

func TestTracker_NoteFeedsRecentLog(t *testing.T) {
	tr := Tracker{Store: infra.NewMemoryStore()}
	key := domain.NewKey("u1", domain.ActionLogin)
	now := time.Now()

	if err := tr.Note(context.Background(), key, now, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Note(context.Background(), key, now, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recent, err := tr.RecentSince(context.Background(), key, now.Add(-time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent attempts, got %d", len(recent))
	}
	if recent[0].Blocked || !recent[1].Blocked {
		t.Fatalf("expected blocked flags [false true], got %+v", recent)
	}
}

func TestTracker_NotePrunesBeyondHorizon(t *testing.T) {
	tr := Tracker{Store: infra.NewMemoryStore(), Horizon: 10 * time.Millisecond}
	key := domain.NewKey("u1", domain.ActionLogin)

	old := time.Now().Add(-time.Second)
	if err := tr.Note(context.Background(), key, old, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Note(context.Background(), key, time.Now(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recent, err := tr.RecentSince(context.Background(), key, old.Add(-time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected pruned log with 1 attempt, got %d", len(recent))
	}
}
