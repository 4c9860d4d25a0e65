package infra

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"identity-guard/security/ratelimit/domain"
)

// Throttle é o ritmo reduzido aplicado a chaves sob sanção de slowdown:
// um token-bucket (x/time/rate) por chave, com cache e limpeza periódica.
// Chaves fora de slowdown nunca passam por aqui.
type Throttle struct {
	mu           sync.Mutex
	entries      map[string]*throttleEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type ThrottleOption func(*Throttle)

func WithThrottleIdleTTL(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.idleTTL = d }
}

func WithThrottleCleanupEvery(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.cleanupEvery = d }
}

// NewThrottle cria o throttle com `rps` requisições por segundo e rajada
// inicial `burst` por chave sancionada.
func NewThrottle(rps float64, burst int, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		entries:      make(map[string]*throttleEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allow implementa domain.Throttle.
func (t *Throttle) Allow(key domain.Key) bool {
	now := time.Now()
	k := key.String()

	t.mu.Lock()
	ent, ok := t.entries[k]
	if !ok {
		ent = &throttleEntry{lim: rate.NewLimiter(t.rps, t.burst)}
		t.entries[k] = ent
	}
	ent.lastSeen = now
	lim := ent.lim
	t.mu.Unlock()

	return lim.Allow()
}

// Cleanup remove chaves ociosas do cache.
func (t *Throttle) Cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// StartJanitor inicia a limpeza periódica. Pare cancelando o contexto.
func (t *Throttle) StartJanitor(ctx DoneContext) {
	if t.cleanupEvery <= 0 {
		return
	}

	tick := time.NewTicker(t.cleanupEvery)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				t.Cleanup()
			}
		}
	}()
}

var _ domain.Throttle = (*Throttle)(nil)
