package application

import (
	"context"
	"fmt"
	"time"

	"identity-guard/security/ratelimit/domain"
)

// DefaultOverrideRetention é por quanto tempo um override de operador vale
// antes de cair de volta no default da action.
const DefaultOverrideRetention = 7 * 24 * time.Hour

// defaultConfigs é a tabela estática de política por action.
// Tabela, não switch: adicionar uma action nova não toca fluxo de controle.
var defaultConfigs = map[domain.Action]domain.Config{
	domain.ActionLogin:             {MaxRequests: 5, Window: 15 * time.Minute},
	domain.ActionAPIRequest:        {MaxRequests: 100, Window: time.Minute},
	domain.ActionPasswordReset:     {MaxRequests: 3, Window: time.Hour},
	domain.ActionRegistration:      {MaxRequests: 3, Window: 24 * time.Hour},
	domain.ActionEmailVerification: {MaxRequests: 5, Window: time.Hour},
	domain.ActionMFAAttempt:        {MaxRequests: 5, Window: 15 * time.Minute},
	domain.ActionBiometricAuth:     {MaxRequests: 10, Window: 15 * time.Minute},
	domain.ActionHandleSearch:      {MaxRequests: 30, Window: time.Minute},
}

// DefaultConfig retorna o default estático de uma action.
func DefaultConfig(action domain.Action) (domain.Config, bool) {
	cfg, ok := defaultConfigs[action]
	return cfg, ok
}

// Registry resolve a política efetiva de uma action: override do operador
// quando presente e vigente, senão o default estático.
type Registry struct {
	Overrides domain.OverrideStore
	// Retention limita a vida de um override. Se 0, DefaultOverrideRetention.
	Retention time.Duration
}

func (r Registry) Resolve(ctx context.Context, action domain.Action) (domain.Config, error) {
	cfg, ok := defaultConfigs[action]
	if !ok {
		return domain.Config{}, fmt.Errorf("%w: %q", domain.ErrUnknownAction, string(action))
	}

	if r.Overrides == nil {
		return cfg, nil
	}

	ov, err := r.Overrides.GetOverride(ctx, action)
	if err != nil {
		return domain.Config{}, fmt.Errorf("resolve override for %s: %w", action, err)
	}
	if ov != nil {
		return *ov, nil
	}
	return cfg, nil
}

// Configure grava um override de operador para a action, com a retenção
// configurada no registry.
func (r Registry) Configure(ctx context.Context, action domain.Action, cfg domain.Config) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownAction, string(action))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if r.Overrides == nil {
		return fmt.Errorf("configure %s: no override store", action)
	}

	retention := r.Retention
	if retention <= 0 {
		retention = DefaultOverrideRetention
	}
	if err := r.Overrides.PutOverride(ctx, action, cfg, retention); err != nil {
		return fmt.Errorf("store override for %s: %w", action, err)
	}
	return nil
}
