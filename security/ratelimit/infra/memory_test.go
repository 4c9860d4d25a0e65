package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"identity-guard/security/ratelimit/domain"
)

func TestMemoryStore_IncrementWindowIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("u1", domain.ActionAPIRequest)

	const concurrency = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, _, err := store.IncrementWindow(context.Background(), key, time.Minute)
			if err != nil {
				t.Errorf("increment failed: %v", err)
				return
			}
			mu.Lock()
			if seen[count] {
				t.Errorf("duplicate count %d observed", count)
			}
			seen[count] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	count, _, err := store.IncrementWindow(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if count != concurrency+1 {
		t.Fatalf("expected final count %d, got %d", concurrency+1, count)
	}
}

func TestMemoryStore_WindowRollsOverAfterExpiry(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("u1", domain.ActionLogin)

	for i := 0; i < 3; i++ {
		if _, _, err := store.IncrementWindow(context.Background(), key, 20*time.Millisecond); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	time.Sleep(30 * time.Millisecond)

	count, _, err := store.IncrementWindow(context.Background(), key, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh window count 1, got %d", count)
	}
}

func TestMemoryStore_WindowIsPureRead(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("ghost", domain.ActionLogin)

	w, err := store.Window(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("window read failed: %v", err)
	}
	if w.Count != 0 {
		t.Fatalf("expected empty window, got count %d", w.Count)
	}

	store.mu.Lock()
	_, created := store.usage[key.String()]
	store.mu.Unlock()
	if created {
		t.Fatalf("pure read must not create an entry")
	}
}

func TestMemoryStore_RecentAttemptsRespectSince(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("u1", domain.ActionLogin)
	now := time.Now()

	for _, at := range []time.Time{now.Add(-10 * time.Minute), now.Add(-30 * time.Second), now} {
		if err := store.AppendAttempt(context.Background(), key, domain.Attempt{At: at}, time.Hour); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	recent, err := store.RecentAttempts(context.Background(), key, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 attempts within horizon, got %d", len(recent))
	}
}

func TestMemoryStore_AppendAttemptPrunesBeyondHorizon(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("u1", domain.ActionLogin)
	now := time.Now()

	old := domain.Attempt{At: now.Add(-time.Hour)}
	if err := store.AppendAttempt(context.Background(), key, old, 5*time.Minute); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.AppendAttempt(context.Background(), key, domain.Attempt{At: now}, 5*time.Minute); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	recent, err := store.RecentAttempts(context.Background(), key, time.Time{})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected pruning to keep 1 attempt, got %d", len(recent))
	}
}

func TestMemoryStore_PenaltyExpiresByTTL(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("victim", domain.ActionLogin)
	rec := domain.PenaltyRecord{ID: "p1", Active: true, Type: domain.PenaltySuspension}

	if _, err := store.ApplyPenalty(context.Background(), key, rec, 20*time.Millisecond, 10); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	got, err := store.GetPenalty(context.Background(), key)
	if err != nil || got == nil {
		t.Fatalf("expected live penalty, got %v / %v", got, err)
	}

	time.Sleep(30 * time.Millisecond)

	got, err = store.GetPenalty(context.Background(), key)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected penalty to expire, got %+v", got)
	}
}

func TestMemoryStore_PermanentPenaltyNeverExpires(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("banned", domain.ActionLogin)
	rec := domain.PenaltyRecord{ID: "p1", Active: true, Type: domain.PenaltyPermanentBan}

	if _, err := store.ApplyPenalty(context.Background(), key, rec, 0, 10); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	got, err := store.GetPenalty(context.Background(), key)
	if err != nil || got == nil {
		t.Fatalf("expected permanent penalty to survive, got %v / %v", got, err)
	}
	if got.Type != domain.PenaltyPermanentBan {
		t.Fatalf("expected permanent_ban, got %q", got.Type)
	}
}

func TestMemoryStore_PenaltyHistoryNewestFirstAndCapped(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("repeat", domain.ActionLogin)

	for _, id := range []string{"p1", "p2", "p3"} {
		rec := domain.PenaltyRecord{ID: id, Type: domain.PenaltySuspension}
		if _, err := store.ApplyPenalty(context.Background(), key, rec, time.Hour, 2); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}

	hist, err := store.PenaltyHistory(context.Background(), key)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(hist))
	}
	if hist[0].ID != "p3" || hist[1].ID != "p2" {
		t.Fatalf("expected newest first (p3, p2), got (%s, %s)", hist[0].ID, hist[1].ID)
	}
}

func TestMemoryStore_ConcurrentAppliesSerializeEscalation(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("repeat", domain.ActionLogin)

	const concurrency = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		levels = make(map[int]bool)
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := domain.PenaltyRecord{ID: "p", Type: domain.PenaltySuspension}
			stored, err := store.ApplyPenalty(context.Background(), key, rec, time.Hour, concurrency*2)
			if err != nil {
				t.Errorf("apply failed: %v", err)
				return
			}
			mu.Lock()
			if levels[stored.EscalationLevel] {
				t.Errorf("duplicate escalation level %d", stored.EscalationLevel)
			}
			levels[stored.EscalationLevel] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for want := 0; want < concurrency; want++ {
		if !levels[want] {
			t.Fatalf("missing escalation level %d in %v", want, levels)
		}
	}
}

func TestMemoryStore_TakePenaltyReturnsToOneCallerOnly(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("victim", domain.ActionLogin)
	rec := domain.PenaltyRecord{ID: "p1", Active: true, Type: domain.PenaltySuspension}

	if _, err := store.ApplyPenalty(context.Background(), key, rec, time.Hour, 10); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	const concurrency = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.TakePenalty(context.Background(), key)
			if err != nil {
				t.Errorf("take failed: %v", err)
				return
			}
			if got != nil {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if taken != 1 {
		t.Fatalf("expected exactly one caller to take the penalty, got %d", taken)
	}
}

func TestMemoryStore_OverrideExpiresByRetention(t *testing.T) {
	store := NewMemoryStore()
	cfg := domain.Config{MaxRequests: 7, Window: time.Minute}

	if err := store.PutOverride(context.Background(), domain.ActionLogin, cfg, 20*time.Millisecond); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := store.GetOverride(context.Background(), domain.ActionLogin)
	if err != nil || got == nil {
		t.Fatalf("expected live override, got %v / %v", got, err)
	}
	if got.MaxRequests != 7 {
		t.Fatalf("expected max 7, got %d", got.MaxRequests)
	}

	time.Sleep(30 * time.Millisecond)

	got, err = store.GetOverride(context.Background(), domain.ActionLogin)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected override to expire, got %+v", got)
	}
}

func TestMemoryStore_UpdateRuleRequiresExistingRule(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("u1", domain.ActionAPIRequest)

	err := store.UpdateRule(context.Background(), key, func(*domain.AdaptiveRule) {})
	if !errors.Is(err, domain.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}

	if err := store.PutRule(context.Background(), key, domain.AdaptiveRule{CurrentLimit: 10}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	err = store.UpdateRule(context.Background(), key, func(r *domain.AdaptiveRule) {
		r.CurrentLimit = 20
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	rule, err := store.GetRule(context.Background(), key)
	if err != nil || rule == nil {
		t.Fatalf("expected rule, got %v / %v", rule, err)
	}
	if rule.CurrentLimit != 20 {
		t.Fatalf("expected updated limit 20, got %d", rule.CurrentLimit)
	}
}

func TestMemoryStore_GetRuleReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	key := domain.NewKey("u1", domain.ActionAPIRequest)

	if err := store.PutRule(context.Background(), key, domain.AdaptiveRule{CurrentLimit: 10}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	rule, _ := store.GetRule(context.Background(), key)
	rule.CurrentLimit = 999

	again, _ := store.GetRule(context.Background(), key)
	if again.CurrentLimit != 10 {
		t.Fatalf("mutating a returned rule leaked into the store: %d", again.CurrentLimit)
	}
}

func TestMemoryStore_CleanupRemovesIdleState(t *testing.T) {
	store := NewMemoryStore(WithMemoryIdleTTL(10 * time.Millisecond))
	key := domain.NewKey("idle", domain.ActionLogin)

	if _, _, err := store.IncrementWindow(context.Background(), key, time.Minute); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	store.Cleanup()

	store.mu.Lock()
	_, ok := store.usage[key.String()]
	store.mu.Unlock()
	if ok {
		t.Fatalf("expected idle usage entry to be cleaned up")
	}
}
