package application

import (
	"time"

	"identity-guard/security/ratelimit/domain"
)

const (
	// DefaultBurstMultiplier: o teto de burst é o limite da janela vezes isso.
	DefaultBurstMultiplier = 2.0
	// DefaultBurstRecovery é a janela fina olhada para trás (e o tempo de
	// recuperação anunciado quando o burst dispara).
	DefaultBurstRecovery = 5 * time.Minute
)

// Detector inspeciona o log recente em busca de rajadas curtas,
// independente da contagem da janela principal. Burst ativo e estouro de
// janela são sinais separados; qualquer um nega a requisição.
type Detector struct {
	// Multiplier sobre cfg.MaxRequests. Se 0, DefaultBurstMultiplier.
	Multiplier float64
	// Recovery da detecção. Se 0, DefaultBurstRecovery.
	Recovery time.Duration
}

func (d Detector) multiplier() float64 {
	if d.Multiplier > 0 {
		return d.Multiplier
	}
	return DefaultBurstMultiplier
}

func (d Detector) recovery() time.Duration {
	if d.Recovery > 0 {
		return d.Recovery
	}
	return DefaultBurstRecovery
}

// Detect é computação pura sobre o log recente: conta tentativas dentro da
// janela de recuperação terminando em now e compara com o teto.
func (d Detector) Detect(cfg domain.Config, recent []domain.Attempt, now time.Time) domain.BurstStatus {
	threshold := int(float64(cfg.MaxRequests) * d.multiplier())
	since := now.Add(-d.recovery())

	rate := 0
	for _, att := range recent {
		if !att.At.Before(since) && !att.At.After(now) {
			rate++
		}
	}

	st := domain.BurstStatus{Threshold: threshold, CurrentRate: rate}
	if rate > threshold {
		st.Active = true
		st.RecoverAt = now.Add(d.recovery())
	}
	return st
}
