package infra

import (
	"context"
	"log/slog"
	"sync"

	"identity-guard/security/ratelimit/domain"
)

// LogAlertSink entrega alertas de segurança no log estruturado. Em produção
// normalmente é trocado por um cliente de notificação; o contrato é o mesmo.
type LogAlertSink struct {
	Logger *slog.Logger
}

func (s LogAlertSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// SecurityAlert implementa domain.AlertSink.
func (s LogAlertSink) SecurityAlert(_ context.Context, key domain.Key, rec domain.PenaltyRecord) error {
	s.logger().Warn("severe penalty applied",
		"key", key.String(),
		"penalty", string(rec.Type),
		"escalation_level", rec.EscalationLevel,
		"reason", rec.Reason,
		"penalty_id", rec.ID,
	)
	return nil
}

// LogAuditSink entrega entradas de auditoria no log estruturado.
type LogAuditSink struct {
	Logger *slog.Logger
}

func (s LogAuditSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Append implementa domain.AuditSink.
func (s LogAuditSink) Append(_ context.Context, entry domain.AuditEntry) error {
	s.logger().Info("penalty audit entry",
		"entry_id", entry.ID,
		"key", entry.Key.String(),
		"action", entry.Action,
		"reason", entry.Reason,
		"actor", entry.ActorID,
	)
	return nil
}

// MemoryAuditSink acumula entradas em memória. Só para testes.
type MemoryAuditSink struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *MemoryAuditSink) Append(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditSink) Entries() []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

var (
	_ domain.AlertSink = LogAlertSink{}
	_ domain.AuditSink = LogAuditSink{}
	_ domain.AuditSink = (*MemoryAuditSink)(nil)
)
