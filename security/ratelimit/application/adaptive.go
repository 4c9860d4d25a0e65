package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"identity-guard/security/ratelimit/domain"
)

// Fatores de ajuste do laço de realimentação.
const (
	adaptiveIncreaseFactor = 1.5
	adaptiveDecreaseFactor = 0.8
)

// Controller é o laço de realimentação por chave: observa a razão de
// bloqueio e move o limite efetivo para cima ou para baixo, sempre dentro
// de [domain.AdaptiveMin, domain.AdaptiveMax].
//
// Regra ausente = modo adaptativo desligado para a chave; vale a config
// estática. Regras são criadas explicitamente via Enable e nunca removidas
// automaticamente.
type Controller struct {
	Rules  domain.RuleStore
	Logger *slog.Logger
}

func (c Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Enable cria (ou recria) a regra adaptativa da chave com o baseline dado.
func (c Controller) Enable(ctx context.Context, key domain.Key, baseline int, params domain.AdaptiveParams) error {
	if baseline <= 0 {
		return fmt.Errorf("%w: baseline must be > 0", domain.ErrInvalidConfig)
	}
	if params.IncreaseThreshold <= 0 && params.DecreaseThreshold <= 0 {
		params = domain.DefaultAdaptiveParams()
	}
	if params.IncreaseThreshold < 0 || params.IncreaseThreshold > 1 ||
		params.DecreaseThreshold < 0 || params.DecreaseThreshold > 1 {
		return fmt.Errorf("%w: thresholds must be in [0,1]", domain.ErrInvalidConfig)
	}

	rule := domain.AdaptiveRule{
		Baseline:        baseline,
		CurrentLimit:    domain.ClampLimit(baseline),
		Params:          params,
		ConfidenceScore: domain.Confidence(0),
	}
	if err := c.Rules.PutRule(ctx, key, rule); err != nil {
		return fmt.Errorf("store adaptive rule: %w", err)
	}
	return nil
}

// Effective substitui MaxRequests pelo CurrentLimit da regra, quando há
// regra. Sem regra (ou com o store indisponível) vale a config estática —
// aprendizado tolera inconsistência, admissão não pode parar por causa dele.
func (c Controller) Effective(ctx context.Context, key domain.Key, static domain.Config) domain.Config {
	if c.Rules == nil {
		return static
	}
	rule, err := c.Rules.GetRule(ctx, key)
	if err != nil {
		c.logger().Warn("adaptive rule read failed, using static config",
			"key", key.String(), "error", err)
		return static
	}
	if rule == nil {
		return static
	}
	return domain.Config{MaxRequests: rule.CurrentLimit, Window: static.Window}
}

// Rule retorna a regra corrente da chave, ou nil.
func (c Controller) Rule(ctx context.Context, key domain.Key) (*domain.AdaptiveRule, error) {
	if c.Rules == nil {
		return nil, nil
	}
	return c.Rules.GetRule(ctx, key)
}

// Learn registra o desfecho de uma requisição avaliada e ajusta o limite:
// block rate acima do threshold de subida multiplica o limite por 1.5;
// abaixo do threshold de descida multiplica por 0.8; no meio, fica.
//
// Best-effort de propósito: corridas entre réplicas enviesam levemente a
// confiança, não violam segurança (o clamp continua valendo).
func (c Controller) Learn(ctx context.Context, key domain.Key, allowed bool) {
	if c.Rules == nil {
		return
	}

	err := c.Rules.UpdateRule(ctx, key, func(rule *domain.AdaptiveRule) {
		rule.TotalRequests++
		if !allowed {
			rule.BlockedRequests++
		}
		rule.ConfidenceScore = domain.Confidence(rule.TotalRequests)

		rate := rule.BlockRate()
		switch {
		case rate > rule.Params.IncreaseThreshold:
			next := domain.ClampLimit(int(float64(rule.CurrentLimit) * adaptiveIncreaseFactor))
			if next != rule.CurrentLimit {
				rule.CurrentLimit = next
				rule.LastAdjustment = time.Now()
			}
		case rate < rule.Params.DecreaseThreshold:
			next := domain.ClampLimit(int(float64(rule.CurrentLimit) * adaptiveDecreaseFactor))
			if next != rule.CurrentLimit {
				rule.CurrentLimit = next
				rule.LastAdjustment = time.Now()
			}
		}
	})
	if err != nil && !errors.Is(err, domain.ErrRuleNotFound) {
		c.logger().Warn("adaptive learn failed", "key", key.String(), "error", err)
	}
}
