package infra

import (
	"context"
	"testing"

	"identity-guard/security/ratelimit/domain"
)

func record(t *testing.T, s *MemoryStatsStore, key domain.Key, allowed bool, cause domain.Cause) {
	t.Helper()
	ev := domain.StatsEvent{Key: key, Allowed: allowed, Cause: cause}
	if err := s.Record(context.Background(), ev); err != nil {
		t.Fatalf("record failed: %v", err)
	}
}

func TestMemoryStatsStore_AggregatesTotalsAndCauses(t *testing.T) {
	s := NewMemoryStatsStore()
	login := domain.NewKey("u1", domain.ActionLogin)
	api := domain.NewKey("u1", domain.ActionAPIRequest)

	record(t, s, login, true, "")
	record(t, s, login, true, "")
	record(t, s, login, false, domain.CauseLimit)
	record(t, s, api, false, domain.CauseBurst)

	total := s.Total()
	if total.Allowed != 2 || total.Denied != 2 {
		t.Fatalf("expected 2/2, got %+v", total)
	}

	byAction := s.ByAction()
	if got := byAction[domain.ActionLogin]; got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("unexpected login counters: %+v", got)
	}
	if got := byAction[domain.ActionAPIRequest]; got.Allowed != 0 || got.Denied != 1 {
		t.Fatalf("unexpected api_request counters: %+v", got)
	}

	byCause := s.ByCause()
	if byCause[domain.CauseLimit] != 1 || byCause[domain.CauseBurst] != 1 {
		t.Fatalf("unexpected cause counters: %+v", byCause)
	}
}

func TestMemoryStatsStore_PerKeyCountersAreOptIn(t *testing.T) {
	s := NewMemoryStatsStore()
	key := domain.NewKey("u1", domain.ActionLogin)
	record(t, s, key, true, "")
	if len(s.ByKey()) != 0 {
		t.Fatalf("expected per-key counters disabled by default")
	}

	s = NewMemoryStatsStore(WithTrackKeys(true))
	record(t, s, key, true, "")
	record(t, s, key, false, domain.CauseLimit)

	byKey := s.ByKey()
	got, ok := byKey[key.String()]
	if !ok {
		t.Fatalf("expected counters for %q", key.String())
	}
	if got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected key counters: %+v", got)
	}
}
