package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"identity-guard/security/ratelimit/domain"
)

// DefaultPenaltyHistoryCap limita o histórico de sanções guardado por chave
// (só as N mais novas contam para escalação).
const DefaultPenaltyHistoryCap = 10

// Manager é dono da máquina de estados de sanção por chave:
//
//	NONE → ACTIVE(tipo) → {expirada por TTL | removida | em appeal}
//
// No máximo um registro vivo por chave. A expiração natural fica por conta
// do TTL do store (sem polling); a escalação vem do tamanho do histórico no
// momento da aplicação. Aplicar e remover são linearizáveis por chave: o
// store resolve escalação, registro e histórico numa única operação
// (ApplyPenalty) e remove-e-retorna na outra (TakePenalty), então applies
// ou removes concorrentes nunca intercalam. O mapeamento nível →
// tipo/duração é política do chamador (tooling administrativo), não deste
// componente.
type Manager struct {
	Store  domain.PenaltyStore
	Alerts domain.AlertSink
	Audit  domain.AuditSink
	// HistoryCap limita o histórico por chave. Se 0, DefaultPenaltyHistoryCap.
	HistoryCap int
	Logger     *slog.Logger
}

func (m Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m Manager) historyCap() int {
	if m.HistoryCap > 0 {
		return m.HistoryCap
	}
	return DefaultPenaltyHistoryCap
}

// Apply cria o registro ativo da chave. duration <= 0 junto com
// PenaltyPermanentBan significa sem expiração. Sanções severas
// (extended_suspension, permanent_ban) disparam alerta de segurança.
func (m Manager) Apply(ctx context.Context, key domain.Key, typ domain.PenaltyType, duration time.Duration, reason string) (domain.PenaltyRecord, error) {
	if !typ.Valid() {
		return domain.PenaltyRecord{}, fmt.Errorf("%w: invalid penalty type %q", domain.ErrInvalidConfig, string(typ))
	}
	if typ != domain.PenaltyPermanentBan && duration <= 0 {
		return domain.PenaltyRecord{}, fmt.Errorf("%w: penalty duration must be > 0", domain.ErrInvalidConfig)
	}

	now := time.Now()
	rec := domain.PenaltyRecord{
		ID:         uuid.NewString(),
		Active:     true,
		Type:       typ,
		StartTime:  now,
		Reason:     reason,
		Appealable: typ != domain.PenaltyPermanentBan,
	}

	ttl := time.Duration(0)
	if typ != domain.PenaltyPermanentBan {
		rec.EndTime = now.Add(duration)
		ttl = duration
	}

	// o store preenche EscalationLevel sob a mesma operação que grava
	// registro e histórico
	stored, err := m.Store.ApplyPenalty(ctx, key, rec, ttl, m.historyCap())
	if err != nil {
		return domain.PenaltyRecord{}, fmt.Errorf("store penalty: %w", err)
	}

	if typ.Severe() && m.Alerts != nil {
		if err := m.Alerts.SecurityAlert(ctx, key, stored); err != nil {
			// alerta é colaborador externo best-effort; a sanção já valeu
			m.logger().Warn("security alert delivery failed",
				"key", key.String(), "penalty", string(typ), "error", err)
		}
	}
	return stored, nil
}

// Remove limpa o registro ativo da chave. Sem registro ativo é no-op com
// warning, não erro. A remoção gera entrada de auditoria.
func (m Manager) Remove(ctx context.Context, key domain.Key, reason, actorID string) error {
	rec, err := m.Store.TakePenalty(ctx, key)
	if err != nil {
		return fmt.Errorf("remove penalty: %w", err)
	}
	if rec == nil {
		m.logger().Warn("penalty removal requested but none active",
			"key", key.String(), "actor", actorID)
		return nil
	}

	if m.Audit != nil {
		entry := domain.AuditEntry{
			ID:      uuid.NewString(),
			Key:     key,
			Action:  "penalty_removed",
			Reason:  reason,
			ActorID: actorID,
			At:      time.Now(),
		}
		if err := m.Audit.Append(ctx, entry); err != nil {
			m.logger().Warn("penalty removal audit failed",
				"key", key.String(), "actor", actorID, "error", err)
		}
	}
	return nil
}

// Active retorna o registro vivo da chave, ou nil. Registros vencidos que o
// store ainda não varreu contam como inexistentes.
func (m Manager) Active(ctx context.Context, key domain.Key) (*domain.PenaltyRecord, error) {
	rec, err := m.Store.GetPenalty(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read penalty: %w", err)
	}
	if rec == nil || rec.Expired(time.Now()) {
		return nil, nil
	}
	return rec, nil
}

// History lista o histórico limitado da chave, mais novo primeiro.
func (m Manager) History(ctx context.Context, key domain.Key) ([]domain.PenaltyRecord, error) {
	history, err := m.Store.PenaltyHistory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read penalty history: %w", err)
	}
	return history, nil
}
