package infra

import (
	"context"
	"sync"
	"time"

	"identity-guard/security/ratelimit/domain"
)

// MemoryStore implementa todos os contratos de persistência do motor em
// memória de processo. Indicada para instância única e testes; com
// múltiplas réplicas o limite deixa de ser global (use o RedisStore).
//
// Concorrência: o mutex externo só protege os mapas; cada chave tem o seu
// próprio lock, então o read-modify-write de "incrementa e compara" é
// atômico por chave sem serializar chaves não relacionadas.
type MemoryStore struct {
	mu        sync.Mutex
	usage     map[string]*usageEntry
	penalties map[string]*penaltyEntry
	rules     map[string]*ruleEntry
	overrides map[domain.Action]overrideEntry

	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type usageEntry struct {
	mu          sync.Mutex
	count       int64
	windowStart time.Time
	window      time.Duration
	recent      []domain.Attempt
	lastSeen    time.Time
}

// registro ativo e histórico moram na mesma entrada: apply e take são
// linearizáveis por chave sob o mesmo lock
type penaltyEntry struct {
	mu      sync.Mutex
	rec     *domain.PenaltyRecord
	expires time.Time // zero = permanente
	history []domain.PenaltyRecord
}

type ruleEntry struct {
	mu   sync.Mutex
	rule domain.AdaptiveRule
}

type overrideEntry struct {
	cfg     domain.Config
	expires time.Time
}

type MemoryOption func(*MemoryStore)

func WithMemoryIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

func WithMemoryCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		usage:        make(map[string]*usageEntry),
		penalties:    make(map[string]*penaltyEntry),
		rules:        make(map[string]*ruleEntry),
		overrides:    make(map[domain.Action]overrideEntry),
		idleTTL:      30 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// entradas são criadas sob o mutex dos mapas; a mutação fica no lock da chave
func (s *MemoryStore) usageEntryFor(key domain.Key) *usageEntry {
	k := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.usage[k]
	if !ok {
		ent = &usageEntry{}
		s.usage[k] = ent
	}
	return ent
}

// IncrementWindow implementa domain.UsageStore.
func (s *MemoryStore) IncrementWindow(_ context.Context, key domain.Key, window time.Duration) (int64, time.Time, error) {
	ent := s.usageEntryFor(key)

	ent.mu.Lock()
	defer ent.mu.Unlock()

	now := time.Now()
	if ent.windowStart.IsZero() || !now.Before(ent.windowStart.Add(ent.window)) || ent.window != window {
		ent.count = 0
		ent.windowStart = now
		ent.window = window
	}
	ent.count++
	ent.lastSeen = now
	return ent.count, ent.windowStart, nil
}

// Window é leitura pura: não cria entrada nem reanima janela vencida.
func (s *MemoryStore) Window(_ context.Context, key domain.Key, window time.Duration) (domain.UsageWindow, error) {
	s.mu.Lock()
	ent, ok := s.usage[key.String()]
	s.mu.Unlock()

	now := time.Now()
	if !ok {
		return domain.UsageWindow{WindowStart: now}, nil
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.windowStart.IsZero() || !now.Before(ent.windowStart.Add(window)) {
		return domain.UsageWindow{WindowStart: now}, nil
	}
	return domain.UsageWindow{Count: ent.count, WindowStart: ent.windowStart}, nil
}

// AppendAttempt implementa domain.UsageStore.
func (s *MemoryStore) AppendAttempt(_ context.Context, key domain.Key, att domain.Attempt, horizon time.Duration) error {
	ent := s.usageEntryFor(key)

	ent.mu.Lock()
	defer ent.mu.Unlock()

	ent.recent = append(ent.recent, att)
	ent.lastSeen = att.At

	cutoff := att.At.Add(-horizon)
	keep := ent.recent[:0]
	for _, a := range ent.recent {
		if !a.At.Before(cutoff) {
			keep = append(keep, a)
		}
	}
	ent.recent = keep
	return nil
}

// RecentAttempts implementa domain.UsageStore.
func (s *MemoryStore) RecentAttempts(_ context.Context, key domain.Key, since time.Time) ([]domain.Attempt, error) {
	s.mu.Lock()
	ent, ok := s.usage[key.String()]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	out := make([]domain.Attempt, 0, len(ent.recent))
	for _, a := range ent.recent {
		if !a.At.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) penaltyEntryFor(key domain.Key) *penaltyEntry {
	k := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.penalties[k]
	if !ok {
		ent = &penaltyEntry{}
		s.penalties[k] = ent
	}
	return ent
}

// GetPenalty implementa domain.PenaltyStore. Registros vencidos são
// varridos preguiçosamente na leitura.
func (s *MemoryStore) GetPenalty(_ context.Context, key domain.Key) (*domain.PenaltyRecord, error) {
	s.mu.Lock()
	ent, ok := s.penalties[key.String()]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.rec == nil {
		return nil, nil
	}
	if !ent.expires.IsZero() && !time.Now().Before(ent.expires) {
		ent.rec = nil
		return nil, nil
	}
	rec := *ent.rec
	return &rec, nil
}

// ApplyPenalty implementa domain.PenaltyStore: escalação, registro ativo e
// histórico mudam sob o mesmo lock da chave — applies concorrentes
// serializam e cada um vê o histórico deixado pelo anterior.
func (s *MemoryStore) ApplyPenalty(_ context.Context, key domain.Key, rec domain.PenaltyRecord, ttl time.Duration, cap int) (domain.PenaltyRecord, error) {
	ent := s.penaltyEntryFor(key)

	ent.mu.Lock()
	defer ent.mu.Unlock()

	rec.EscalationLevel = len(ent.history)
	ent.rec = &rec
	ent.expires = time.Time{}
	if ttl > 0 {
		ent.expires = time.Now().Add(ttl)
	}

	hist := append([]domain.PenaltyRecord{rec}, ent.history...)
	if cap > 0 && len(hist) > cap {
		hist = hist[:cap]
	}
	ent.history = hist
	return rec, nil
}

// TakePenalty implementa domain.PenaltyStore: ler e remover é uma única
// operação sob o lock da chave, então só um remover concorrente leva o
// registro.
func (s *MemoryStore) TakePenalty(_ context.Context, key domain.Key) (*domain.PenaltyRecord, error) {
	s.mu.Lock()
	ent, ok := s.penalties[key.String()]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.rec == nil {
		return nil, nil
	}
	rec := *ent.rec
	ent.rec = nil
	if !ent.expires.IsZero() && !time.Now().Before(ent.expires) {
		return nil, nil
	}
	return &rec, nil
}

// PenaltyHistory implementa domain.PenaltyStore.
func (s *MemoryStore) PenaltyHistory(_ context.Context, key domain.Key) ([]domain.PenaltyRecord, error) {
	s.mu.Lock()
	ent, ok := s.penalties[key.String()]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	out := make([]domain.PenaltyRecord, len(ent.history))
	copy(out, ent.history)
	return out, nil
}

// GetRule implementa domain.RuleStore. Sempre retorna cópia — referência
// mutável compartilhada nunca sai do store.
func (s *MemoryStore) GetRule(_ context.Context, key domain.Key) (*domain.AdaptiveRule, error) {
	s.mu.Lock()
	ent, ok := s.rules[key.String()]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	rule := ent.rule
	return &rule, nil
}

// PutRule implementa domain.RuleStore.
func (s *MemoryStore) PutRule(_ context.Context, key domain.Key, rule domain.AdaptiveRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[key.String()] = &ruleEntry{rule: rule}
	return nil
}

// UpdateRule implementa domain.RuleStore: fn roda sob o lock da chave.
func (s *MemoryStore) UpdateRule(_ context.Context, key domain.Key, fn func(*domain.AdaptiveRule)) error {
	s.mu.Lock()
	ent, ok := s.rules[key.String()]
	s.mu.Unlock()
	if !ok {
		return domain.ErrRuleNotFound
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	fn(&ent.rule)
	return nil
}

// GetOverride implementa domain.OverrideStore.
func (s *MemoryStore) GetOverride(_ context.Context, action domain.Action) (*domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.overrides[action]
	if !ok {
		return nil, nil
	}
	if !time.Now().Before(ent.expires) {
		delete(s.overrides, action)
		return nil, nil
	}
	cfg := ent.cfg
	return &cfg, nil
}

// PutOverride implementa domain.OverrideStore.
func (s *MemoryStore) PutOverride(_ context.Context, action domain.Action, cfg domain.Config, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[action] = overrideEntry{cfg: cfg, expires: time.Now().Add(retention)}
	return nil
}

// Cleanup remove janelas ociosas, sanções vencidas e overrides vencidos.
func (s *MemoryStore) Cleanup() {
	now := time.Now()
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.usage {
		ent.mu.Lock()
		idle := ent.lastSeen.Before(cutoff)
		ent.mu.Unlock()
		if idle {
			delete(s.usage, k)
		}
	}
	for k, ent := range s.penalties {
		ent.mu.Lock()
		if ent.rec != nil && !ent.expires.IsZero() && !now.Before(ent.expires) {
			ent.rec = nil
		}
		empty := ent.rec == nil && len(ent.history) == 0
		ent.mu.Unlock()
		if empty {
			delete(s.penalties, k)
		}
	}
	for a, ent := range s.overrides {
		if !now.Before(ent.expires) {
			delete(s.overrides, a)
		}
	}
}

// DoneContext é o mínimo necessário para aceitar context.Context sem
// acoplar em context aqui.
type DoneContext interface {
	Done() <-chan struct{}
}

// StartJanitor inicia uma goroutine que limpa estado ocioso periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

var (
	_ domain.UsageStore    = (*MemoryStore)(nil)
	_ domain.PenaltyStore  = (*MemoryStore)(nil)
	_ domain.RuleStore     = (*MemoryStore)(nil)
	_ domain.OverrideStore = (*MemoryStore)(nil)
)
