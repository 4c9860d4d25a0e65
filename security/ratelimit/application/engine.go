package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"identity-guard/security/ratelimit/domain"
)

// FailurePolicy decide o que fazer quando o backing store falha no meio de
// um check: negar (seguro) ou admitir (disponível). O serviço original
// derrubava o check inteiro; aqui a escolha é explícita e configurável.
type FailurePolicy int

const (
	FailClosed FailurePolicy = iota
	FailOpen
)

// Engine é a fachada de decisão: compõe registry, tracker, detector,
// controlador adaptativo e manager de sanções num único veredito
// admitir/negar, e registra o desfecho.
//
// O motor é um ponto de decisão puro: nenhum retry interno, nenhuma ação
// compensatória. Um check abandonado por timeout do chamador deixa o
// incremento valer — de propósito, para não abrir janela sem contagem.
type Engine struct {
	Registry  Registry
	Tracker   Tracker
	Detector  Detector
	Adaptive  Controller
	Penalties Manager

	// Stats recebe cada decisão, best-effort (erro não derruba o check).
	Stats domain.StatsStore
	// Throttle, quando presente, deixa sanções de slowdown admitirem num
	// ritmo reduzido em vez de negar tudo.
	Throttle domain.Throttle

	Policy FailurePolicy
	Logger *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// fail aplica a FailurePolicy a um erro de infraestrutura.
func (e *Engine) fail(op string, key domain.Key, err error) (domain.Verdict, error) {
	if e.Policy == FailOpen {
		e.logger().Warn("rate limit store failure, failing open",
			"op", op, "key", key.String(), "error", err)
		// veredito sintético sem janela conhecida: ResetAt zero sinaliza
		// aos adapters que não há números de janela para expor
		return domain.Verdict{Allowed: true}, nil
	}
	return domain.Verdict{}, fmt.Errorf("%s: %w", op, err)
}

func validateInput(identifier string, action domain.Action) (domain.Key, error) {
	if strings.TrimSpace(identifier) == "" {
		return domain.Key{}, domain.ErrEmptyIdentifier
	}
	if !action.Valid() {
		return domain.Key{}, fmt.Errorf("%w: %q", domain.ErrUnknownAction, string(action))
	}
	return domain.NewKey(identifier, action), nil
}

// Check decide se a requisição passa. Passos em ordem estrita: resolve a
// config, aplica o limite adaptativo, incrementa a janela atomicamente e
// compara, consulta burst e sanção, fecha o veredito, registra o desfecho
// e alimenta o aprendizado.
func (e *Engine) Check(ctx context.Context, identifier string, action domain.Action, client *domain.ClientInfo) (domain.Verdict, error) {
	key, err := validateInput(identifier, action)
	if err != nil {
		return domain.Verdict{}, err
	}
	now := time.Now()

	static, err := e.Registry.Resolve(ctx, action)
	if err != nil {
		if domain.IsStoreError(err) {
			return e.fail("resolve config", key, err)
		}
		return domain.Verdict{}, err
	}
	cfg := e.Adaptive.Effective(ctx, key, static)

	// incrementa primeiro, compara depois: sob concorrência ninguém além
	// do limite observa "ainda cabe"
	count, resetAt, err := e.Tracker.Increment(ctx, key, cfg)
	if err != nil {
		return e.fail("increment usage", key, err)
	}
	allowed := count <= int64(cfg.MaxRequests)
	remaining := int64(cfg.MaxRequests) - count
	if remaining < 0 {
		remaining = 0
	}

	recent, err := e.Tracker.RecentSince(ctx, key, now.Add(-e.Detector.recovery()))
	if err != nil {
		e.logger().Warn("recent attempts read failed, skipping burst check",
			"key", key.String(), "error", err)
		recent = nil
	}
	burst := e.Detector.Detect(cfg, recent, now)

	penalty, err := e.Penalties.Active(ctx, key)
	if err != nil {
		return e.fail("read penalty", key, err)
	}
	penaltyDenies := penalty != nil
	if penaltyDenies && penalty.Type == domain.PenaltySlowdown && e.Throttle != nil {
		// slowdown não corta: deixa pingar no ritmo do throttle
		penaltyDenies = !e.Throttle.Allow(key)
	}

	verdict := domain.Verdict{
		Allowed:       allowed && !burst.Active && !penaltyDenies,
		Remaining:     remaining,
		ResetAt:       resetAt,
		BurstActive:   burst.Active,
		PenaltyActive: penalty != nil,
	}
	if !verdict.Allowed {
		verdict.Cause, verdict.RetryAfter = denialDetail(now, resetAt, burst, penalty, penaltyDenies)
	}

	if err := e.Tracker.Note(ctx, key, now, !verdict.Allowed); err != nil {
		e.logger().Warn("attempt log write failed", "key", key.String(), "error", err)
	}
	e.recordStats(ctx, key, verdict, client, now)
	e.Adaptive.Learn(ctx, key, verdict.Allowed)

	return verdict, nil
}

// denialDetail escolhe a causa estruturada e o retry-after de uma negação.
// Sanção domina burst, que domina estouro de janela.
func denialDetail(now, resetAt time.Time, burst domain.BurstStatus, penalty *domain.PenaltyRecord, penaltyDenies bool) (domain.Cause, time.Duration) {
	switch {
	case penaltyDenies:
		if penalty.Permanent() {
			return domain.CausePenalty, 0
		}
		return domain.CausePenalty, penalty.EndTime.Sub(now)
	case burst.Active:
		return domain.CauseBurst, burst.RecoverAt.Sub(now)
	default:
		return domain.CauseLimit, resetAt.Sub(now)
	}
}

// RecordSuccess registra uma tentativa bem-sucedida avaliada fora de banda:
// conta na janela, entra no log recente como admitida e alimenta o
// aprendizado como amostra permitida.
func (e *Engine) RecordSuccess(ctx context.Context, identifier string, action domain.Action, client *domain.ClientInfo) error {
	key, err := validateInput(identifier, action)
	if err != nil {
		return err
	}
	now := time.Now()

	static, err := e.Registry.Resolve(ctx, action)
	if err != nil {
		return err
	}
	cfg := e.Adaptive.Effective(ctx, key, static)

	if _, _, err := e.Tracker.Increment(ctx, key, cfg); err != nil {
		return err
	}
	if err := e.Tracker.Note(ctx, key, now, false); err != nil {
		e.logger().Warn("attempt log write failed", "key", key.String(), "error", err)
	}
	e.recordStats(ctx, key, domain.Verdict{Allowed: true}, client, now)
	e.Adaptive.Learn(ctx, key, true)
	return nil
}

// Status é a variante somente-leitura do check, para páginas de status.
// Não incrementa contadores, não alimenta aprendizado, não grava nada.
func (e *Engine) Status(ctx context.Context, identifier string, action domain.Action) (domain.Status, error) {
	key, err := validateInput(identifier, action)
	if err != nil {
		return domain.Status{}, err
	}
	now := time.Now()

	static, err := e.Registry.Resolve(ctx, action)
	if err != nil {
		return domain.Status{}, err
	}
	cfg := e.Adaptive.Effective(ctx, key, static)

	usage, err := e.Tracker.Current(ctx, key, cfg.Window)
	if err != nil {
		return domain.Status{}, err
	}

	burst := e.Detector.Detect(cfg, usage.Recent, now)
	penalty, err := e.Penalties.Active(ctx, key)
	if err != nil {
		return domain.Status{}, err
	}

	remaining := int64(cfg.MaxRequests) - usage.Count
	if remaining < 0 {
		remaining = 0
	}

	st := domain.Status{
		Identifier: identifier,
		Action:     action,
		Limit:      cfg.MaxRequests,
		Count:      usage.Count,
		Remaining:  remaining,
		ResetAt:    usage.ResetAt(cfg.Window),
		Burst:      burst,
		Penalty:    penalty,
	}
	if rule, err := e.Adaptive.Rule(ctx, key); err == nil && rule != nil {
		st.AdaptiveLimit = rule.CurrentLimit
	}
	return st, nil
}

// ApplyPenalty aplica uma sanção à chave. Superfície administrativa.
func (e *Engine) ApplyPenalty(ctx context.Context, identifier string, action domain.Action, typ domain.PenaltyType, duration time.Duration, reason string) (domain.PenaltyRecord, error) {
	key, err := validateInput(identifier, action)
	if err != nil {
		return domain.PenaltyRecord{}, err
	}
	return e.Penalties.Apply(ctx, key, typ, duration, reason)
}

// RemovePenalty limpa a sanção ativa da chave (appeal/ação administrativa).
func (e *Engine) RemovePenalty(ctx context.Context, identifier string, action domain.Action, reason, actorID string) error {
	key, err := validateInput(identifier, action)
	if err != nil {
		return err
	}
	return e.Penalties.Remove(ctx, key, reason, actorID)
}

// Configure grava um override de operador para a action.
func (e *Engine) Configure(ctx context.Context, action domain.Action, cfg domain.Config) error {
	return e.Registry.Configure(ctx, action, cfg)
}

// EnableAdaptive liga o modo adaptativo para a chave, com o baseline dado.
func (e *Engine) EnableAdaptive(ctx context.Context, identifier string, action domain.Action, baseline int, params domain.AdaptiveParams) error {
	key, err := validateInput(identifier, action)
	if err != nil {
		return err
	}
	return e.Adaptive.Enable(ctx, key, baseline, params)
}

func (e *Engine) recordStats(ctx context.Context, key domain.Key, v domain.Verdict, client *domain.ClientInfo, at time.Time) {
	if e.Stats == nil {
		return
	}
	ev := domain.StatsEvent{
		Key:     key,
		Allowed: v.Allowed,
		Cause:   v.Cause,
		Client:  client,
		At:      at,
	}
	if err := e.Stats.Record(ctx, ev); err != nil {
		e.logger().Warn("stats record failed", "key", key.String(), "error", err)
	}
}
