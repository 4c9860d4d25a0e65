package domain

import "time"

// PenaltyType é o tipo de sanção aplicada a uma chave.
type PenaltyType string

const (
	PenaltyNone               PenaltyType = "none"
	PenaltySlowdown           PenaltyType = "slowdown"
	PenaltySuspension         PenaltyType = "suspension"
	PenaltyExtendedSuspension PenaltyType = "extended_suspension"
	PenaltyPermanentBan       PenaltyType = "permanent_ban"
)

// Valid informa se o tipo é aplicável (none não é um tipo aplicável).
func (t PenaltyType) Valid() bool {
	switch t {
	case PenaltySlowdown, PenaltySuspension, PenaltyExtendedSuspension, PenaltyPermanentBan:
		return true
	}
	return false
}

// Severe informa se o tipo dispara alerta de segurança ao ser aplicado.
func (t PenaltyType) Severe() bool {
	return t == PenaltyExtendedSuspension || t == PenaltyPermanentBan
}

// PenaltyRecord é o registro vivo (no máximo um por chave) de uma sanção.
//
// EndTime zero significa permanente. EscalationLevel é o tamanho do
// histórico da chave no momento da aplicação: reincidência escala.
type PenaltyRecord struct {
	ID              string      `json:"id"`
	Active          bool        `json:"active"`
	Type            PenaltyType `json:"type"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time,omitzero"`
	Reason          string      `json:"reason"`
	EscalationLevel int         `json:"escalation_level"`
	Appealable      bool        `json:"appealable"`
}

// Permanent informa se o registro não expira naturalmente.
func (p PenaltyRecord) Permanent() bool { return p.EndTime.IsZero() }

// Expired informa se o registro já passou do fim em relação a now.
func (p PenaltyRecord) Expired(now time.Time) bool {
	return !p.Permanent() && !now.Before(p.EndTime)
}

// AuditEntry registra uma ação administrativa sobre penalidades
// (remoção/appeal), encaminhada ao sink de auditoria.
type AuditEntry struct {
	ID      string
	Key     Key
	Action  string
	Reason  string
	ActorID string
	At      time.Time
}
