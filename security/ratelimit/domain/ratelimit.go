package domain

// Tipos centrais do rate limit: chave, configuração, janela de uso e veredito.

import (
	"fmt"
	"time"
)

// Key identifica todo estado por (identificador, action).
//
// O identificador é opaco para o motor (user id, IP, device id, ...);
// a mesma identidade nunca compartilha estado entre actions diferentes.
type Key struct {
	Identifier string
	Action     Action
}

func NewKey(identifier string, action Action) Key {
	return Key{Identifier: identifier, Action: action}
}

// String produz a forma canônica usada como chave de storage.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Action, k.Identifier)
}

// Config é a política efetiva de limite: N requisições por janela.
// Valor imutável; um default por action, com override opcional do operador.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be > 0", ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Attempt é uma requisição recente registrada no log de curto prazo
// (horizonte limitado), usado pelo detector de burst.
type Attempt struct {
	At      time.Time
	Blocked bool
}

// UsageWindow é a janela de contagem corrente de uma chave.
//
// A semântica é de balde fixo: a janela inteira reinicia quando
// now >= WindowStart + duração. Não é um sliding log verdadeiro — bursts
// que cruzam a fronteira da janela são cobertos pelo detector de burst,
// não pela contagem.
type UsageWindow struct {
	Count       int64
	WindowStart time.Time
	Recent      []Attempt
}

// ResetAt informa quando a janela corrente expira.
func (w UsageWindow) ResetAt(window time.Duration) time.Time {
	return w.WindowStart.Add(window)
}

// Cause indica qual sinal causou uma negação, para que o chamador consiga
// produzir uma mensagem explicável ao usuário.
type Cause string

const (
	CauseNone    Cause = ""
	CauseLimit   Cause = "limit"
	CauseBurst   Cause = "burst"
	CausePenalty Cause = "penalty"
)

// BurstStatus é o resultado da detecção de burst, independente da janela.
type BurstStatus struct {
	Active      bool
	Threshold   int
	CurrentRate int
	RecoverAt   time.Time
}

// Verdict é a decisão final de admissão. Transiente, nunca persistido.
type Verdict struct {
	Allowed       bool
	Remaining     int64
	ResetAt       time.Time
	RetryAfter    time.Duration
	BurstActive   bool
	PenaltyActive bool
	Cause         Cause
}

// Status é a visão somente-leitura para páginas de status.
// Obtê-lo nunca muda contadores nem estado de aprendizado.
type Status struct {
	Identifier    string
	Action        Action
	Limit         int
	Count         int64
	Remaining     int64
	ResetAt       time.Time
	Burst         BurstStatus
	Penalty       *PenaltyRecord
	AdaptiveLimit int // 0 quando não há regra adaptativa
}

// ClientInfo é metadado opcional do chamador, repassado para estatísticas
// e alertas. O motor não o usa para decidir.
type ClientInfo struct {
	IP        string
	UserAgent string
	SessionID string
	DeviceID  string
}
