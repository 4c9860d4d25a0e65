package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"identity-guard/security/ratelimit/domain"
)

// RedisStore implementa os contratos de persistência sobre Redis, para o
// motor rodando atrás de múltiplas réplicas: o contador usa INCR com TTL
// (atômico no servidor), então o limite configurado vale globalmente.
//
//   - contador de janela: INCR + EXPIRE NX (o TTL ancora a janela)
//   - log recente: sorted set com score = timestamp, podado por faixa
//   - sanção: valor JSON com TTL = duração (expiração natural, sem
//     polling); aplicação via transação otimista (WATCH) e remoção via
//     GETDEL, linearizáveis por chave
//   - histórico: LPUSH + LTRIM
//   - regra adaptativa / override: valores JSON
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "abuseguard"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(kind string, key domain.Key) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, key.String())
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// IncrementWindow implementa domain.UsageStore. O EXPIRE NX só pega na
// primeira requisição da janela, então o TTL restante define o início.
func (s *RedisStore) IncrementWindow(ctx context.Context, key domain.Key, window time.Duration) (int64, time.Time, error) {
	k := s.key("usage", key)
	now := time.Now()

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, storeErr("incr usage", err)
	}

	windowStart := now.Add(pttl.Val()).Add(-window)
	return incr.Val(), windowStart, nil
}

// Window implementa domain.UsageStore (leitura pura).
func (s *RedisStore) Window(ctx context.Context, key domain.Key, window time.Duration) (domain.UsageWindow, error) {
	k := s.key("usage", key)
	now := time.Now()

	pipe := s.rdb.Pipeline()
	get := pipe.Get(ctx, k)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.UsageWindow{}, storeErr("read usage", err)
	}

	count, err := get.Int64()
	if err != nil {
		// chave ausente: janela zerada ancorada em now
		return domain.UsageWindow{WindowStart: now}, nil
	}
	return domain.UsageWindow{
		Count:       count,
		WindowStart: now.Add(pttl.Val()).Add(-window),
	}, nil
}

// AppendAttempt implementa domain.UsageStore.
func (s *RedisStore) AppendAttempt(ctx context.Context, key domain.Key, att domain.Attempt, horizon time.Duration) error {
	k := s.key("recent", key)

	flag := "a"
	if att.Blocked {
		flag = "b"
	}
	member := uuid.NewString() + ":" + flag

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(att.At.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(att.At.Add(-horizon).UnixNano(), 10))
	pipe.Expire(ctx, k, horizon)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("append attempt", err)
	}
	return nil
}

// RecentAttempts implementa domain.UsageStore.
func (s *RedisStore) RecentAttempts(ctx context.Context, key domain.Key, since time.Time) ([]domain.Attempt, error) {
	k := s.key("recent", key)

	zs, err := s.rdb.ZRangeByScoreWithScores(ctx, k, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("read recent attempts", err)
	}

	out := make([]domain.Attempt, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, domain.Attempt{
			At:      time.Unix(0, int64(z.Score)),
			Blocked: strings.HasSuffix(member, ":b"),
		})
	}
	return out, nil
}

// GetPenalty implementa domain.PenaltyStore.
func (s *RedisStore) GetPenalty(ctx context.Context, key domain.Key) (*domain.PenaltyRecord, error) {
	raw, err := s.rdb.Get(ctx, s.key("penalty", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("read penalty", err)
	}

	var rec domain.PenaltyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, storeErr("decode penalty", err)
	}
	return &rec, nil
}

// tentativas da transação otimista de sanção antes de desistir
const penaltyTxRetries = 5

// ApplyPenalty implementa domain.PenaltyStore como escrita condicional:
// WATCH no histórico garante que o tamanho lido para a escalação ainda vale
// quando registro e histórico são gravados; corrida com outro apply
// invalida a transação e ela reexecuta do zero.
func (s *RedisStore) ApplyPenalty(ctx context.Context, key domain.Key, rec domain.PenaltyRecord, ttl time.Duration, cap int) (domain.PenaltyRecord, error) {
	pk := s.key("penalty", key)
	hk := s.key("penalty-history", key)
	if ttl < 0 {
		ttl = 0
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, hk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		rec.EscalationLevel = int(n)

		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, pk, raw, ttl)
			pipe.LPush(ctx, hk, raw)
			if cap > 0 {
				pipe.LTrim(ctx, hk, 0, int64(cap)-1)
			}
			return nil
		})
		return err
	}

	for i := 0; i < penaltyTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, hk)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.PenaltyRecord{}, storeErr("apply penalty", err)
	}
	return domain.PenaltyRecord{}, storeErr("apply penalty", redis.TxFailedErr)
}

// TakePenalty implementa domain.PenaltyStore. GETDEL lê e remove na mesma
// operação do servidor, então só um remover concorrente leva o registro.
func (s *RedisStore) TakePenalty(ctx context.Context, key domain.Key) (*domain.PenaltyRecord, error) {
	raw, err := s.rdb.GetDel(ctx, s.key("penalty", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("take penalty", err)
	}

	var rec domain.PenaltyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, storeErr("decode penalty", err)
	}
	return &rec, nil
}

// PenaltyHistory implementa domain.PenaltyStore.
func (s *RedisStore) PenaltyHistory(ctx context.Context, key domain.Key) ([]domain.PenaltyRecord, error) {
	raws, err := s.rdb.LRange(ctx, s.key("penalty-history", key), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("read penalty history", err)
	}

	out := make([]domain.PenaltyRecord, 0, len(raws))
	for _, raw := range raws {
		var rec domain.PenaltyRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, storeErr("decode penalty history", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetRule implementa domain.RuleStore.
func (s *RedisStore) GetRule(ctx context.Context, key domain.Key) (*domain.AdaptiveRule, error) {
	raw, err := s.rdb.Get(ctx, s.key("rule", key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("read rule", err)
	}

	var rule domain.AdaptiveRule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return nil, storeErr("decode rule", err)
	}
	return &rule, nil
}

// PutRule implementa domain.RuleStore.
func (s *RedisStore) PutRule(ctx context.Context, key domain.Key, rule domain.AdaptiveRule) error {
	raw, err := json.Marshal(rule)
	if err != nil {
		return storeErr("encode rule", err)
	}
	if err := s.rdb.Set(ctx, s.key("rule", key), raw, 0).Err(); err != nil {
		return storeErr("store rule", err)
	}
	return nil
}

// UpdateRule implementa domain.RuleStore como read-modify-write simples.
// Aprendizado tolera consistência eventual entre réplicas; uma atualização
// perdida enviesa levemente a confiança e nada mais.
func (s *RedisStore) UpdateRule(ctx context.Context, key domain.Key, fn func(*domain.AdaptiveRule)) error {
	rule, err := s.GetRule(ctx, key)
	if err != nil {
		return err
	}
	if rule == nil {
		return domain.ErrRuleNotFound
	}
	fn(rule)
	return s.PutRule(ctx, key, *rule)
}

// GetOverride implementa domain.OverrideStore.
func (s *RedisStore) GetOverride(ctx context.Context, action domain.Action) (*domain.Config, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+":override:"+string(action)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("read override", err)
	}

	var cfg struct {
		MaxRequests int   `json:"max_requests"`
		WindowMs    int64 `json:"window_ms"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, storeErr("decode override", err)
	}
	return &domain.Config{
		MaxRequests: cfg.MaxRequests,
		Window:      time.Duration(cfg.WindowMs) * time.Millisecond,
	}, nil
}

// PutOverride implementa domain.OverrideStore. O TTL é a retenção.
func (s *RedisStore) PutOverride(ctx context.Context, action domain.Action, cfg domain.Config, retention time.Duration) error {
	raw, err := json.Marshal(struct {
		MaxRequests int   `json:"max_requests"`
		WindowMs    int64 `json:"window_ms"`
	}{cfg.MaxRequests, cfg.Window.Milliseconds()})
	if err != nil {
		return storeErr("encode override", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+":override:"+string(action), raw, retention).Err(); err != nil {
		return storeErr("store override", err)
	}
	return nil
}

var (
	_ domain.UsageStore    = (*RedisStore)(nil)
	_ domain.PenaltyStore  = (*RedisStore)(nil)
	_ domain.RuleStore     = (*RedisStore)(nil)
	_ domain.OverrideStore = (*RedisStore)(nil)
)
