package domain

// Contratos de persistência. Implementações em memória (instância única,
// testes) e Redis (múltiplas réplicas) vivem na camada infra; o algoritmo
// não muda entre elas.

import (
	"context"
	"time"
)

// UsageStore guarda a janela de contagem e o log recente por chave.
//
// IncrementWindow é O primitivo de correção do motor: incrementa e retorna
// a nova contagem numa única operação atômica (com TTL = janela), de forma
// que "incrementa primeiro, compara depois" nunca admita além do limite
// sob concorrência. Implementações devem garantir atomicidade por chave.
type UsageStore interface {
	// IncrementWindow incrementa o contador da chave, abrindo uma janela
	// nova ancorada em now quando não há janela ou a anterior expirou.
	// Retorna a contagem já incrementada e o início da janela corrente.
	IncrementWindow(ctx context.Context, key Key, window time.Duration) (count int64, windowStart time.Time, err error)

	// Window é leitura pura: janela zerada ancorada em now quando ausente
	// ou expirada. Nunca persiste nada.
	Window(ctx context.Context, key Key, window time.Duration) (UsageWindow, error)

	// AppendAttempt registra uma tentativa no log recente, podando o que
	// ficou além do horizonte.
	AppendAttempt(ctx context.Context, key Key, att Attempt, horizon time.Duration) error

	// RecentAttempts lista as tentativas com At >= since, em ordem.
	RecentAttempts(ctx context.Context, key Key, since time.Time) ([]Attempt, error)
}

// PenaltyStore guarda o registro ativo (TTL = duração) e o histórico
// limitado por chave.
//
// Aplicação e remoção são linearizáveis por chave: ApplyPenalty e
// TakePenalty são operações únicas (lock por chave ou escrita condicional
// no servidor), nunca composições leia-depois-grave que dois chamadores
// concorrentes possam intercalar.
type PenaltyStore interface {
	// GetPenalty retorna nil quando não há registro ativo (ou já expirou).
	GetPenalty(ctx context.Context, key Key) (*PenaltyRecord, error)

	// ApplyPenalty grava rec como o registro ativo e o anexa ao histórico
	// (só as `cap` entradas mais novas ficam) numa única operação por
	// chave. EscalationLevel é preenchido com o tamanho do histórico
	// observado por essa mesma operação. ttl <= 0 grava sem expiração
	// (ban permanente). Retorna o registro como gravado.
	ApplyPenalty(ctx context.Context, key Key, rec PenaltyRecord, ttl time.Duration, cap int) (PenaltyRecord, error)

	// TakePenalty remove e retorna o registro ativo na mesma operação;
	// nil quando não há registro (ou já expirou).
	TakePenalty(ctx context.Context, key Key) (*PenaltyRecord, error)

	// PenaltyHistory lista o histórico, mais novo primeiro.
	PenaltyHistory(ctx context.Context, key Key) ([]PenaltyRecord, error)
}

// RuleStore guarda as regras adaptativas.
//
// UpdateRule é read-modify-write de dono único: a implementação segura o
// lock da chave (ou equivalente) e aplica fn; chamadores nunca recebem uma
// referência mutável compartilhada.
type RuleStore interface {
	// GetRule retorna uma cópia da regra, ou nil quando não existe.
	GetRule(ctx context.Context, key Key) (*AdaptiveRule, error)

	// PutRule cria/substitui a regra da chave.
	PutRule(ctx context.Context, key Key, rule AdaptiveRule) error

	// UpdateRule aplica fn sobre a regra existente. Retorna ErrRuleNotFound
	// quando a chave não tem regra.
	UpdateRule(ctx context.Context, key Key, fn func(*AdaptiveRule)) error
}

// OverrideStore guarda overrides de configuração por action, com retenção.
type OverrideStore interface {
	// GetOverride retorna nil quando não há override vigente.
	GetOverride(ctx context.Context, action Action) (*Config, error)

	// PutOverride grava o override com a retenção dada.
	PutOverride(ctx context.Context, action Action, cfg Config, retention time.Duration) error
}

// StatsEvent é um evento de decisão, encaminhado best-effort para o modelo
// de leitura de analytics. Erro de Record nunca derruba a decisão.
type StatsEvent struct {
	Key     Key
	Allowed bool
	Cause   Cause
	Client  *ClientInfo
	At      time.Time
}

// StatsStore é a estratégia de agregação de decisões (Redis, memória,
// Prometheus, ...). Cuidado com cardinalidade ao rastrear por chave.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// AlertSink recebe alertas de segurança (sanções severas). Colaborador
// externo: notificação, observabilidade, etc.
type AlertSink interface {
	SecurityAlert(ctx context.Context, key Key, rec PenaltyRecord) error
}

// AuditSink recebe entradas de auditoria administrativa (remoções/appeals).
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// Throttle modula a admissão enquanto uma sanção de slowdown está ativa:
// em vez de negar tudo, a chave passa num ritmo reduzido.
type Throttle interface {
	Allow(key Key) bool
}
