package infra

import (
	"context"
	"sync"

	"identity-guard/security/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

// MemoryStatsStore é o modelo de leitura de analytics em memória.
// Útil para testes e desenvolvimento; não expira e não serve para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byAction map[domain.Action]Counters
	byCause  map[domain.Cause]int64
	byKey    map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackKeys habilita contadores por chave. Atenção com cardinalidade.
func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byAction: make(map[domain.Action]Counters),
		byCause:  make(map[domain.Cause]int64),
		byKey:    make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implementa domain.StatsStore.
func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bump := func(c Counters) Counters {
		if ev.Allowed {
			c.Allowed++
		} else {
			c.Denied++
		}
		return c
	}

	s.total = bump(s.total)
	s.byAction[ev.Key.Action] = bump(s.byAction[ev.Key.Action])
	if !ev.Allowed {
		s.byCause[ev.Cause]++
	}
	if s.trackKeys {
		s.byKey[ev.Key.String()] = bump(s.byKey[ev.Key.String()])
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByAction() map[domain.Action]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Action]Counters, len(s.byAction))
	for k, v := range s.byAction {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByCause() map[domain.Cause]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Cause]int64, len(s.byCause))
	for k, v := range s.byCause {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}

var _ domain.StatsStore = (*MemoryStatsStore)(nil)
