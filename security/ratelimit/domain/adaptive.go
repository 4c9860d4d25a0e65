package domain

import "time"

// Limites de clamp do limite adaptativo. CurrentLimit nunca sai dessa faixa.
const (
	AdaptiveMin = 1
	AdaptiveMax = 10000
)

// AdaptiveParams parametriza o laço de realimentação de uma regra.
type AdaptiveParams struct {
	// IncreaseThreshold: block rate acima disso sobe o limite (default 0.8).
	IncreaseThreshold float64
	// DecreaseThreshold: block rate abaixo disso desce o limite (default 0.2).
	DecreaseThreshold float64
}

func DefaultAdaptiveParams() AdaptiveParams {
	return AdaptiveParams{IncreaseThreshold: 0.8, DecreaseThreshold: 0.2}
}

// AdaptiveRule é o estado de aprendizado de uma chave específica.
//
// Criada explicitamente via enable; ausente = config estática vale.
// Atualizações são best-effort: corridas pequenas em TotalRequests /
// BlockedRequests enviesam a confiança, não a segurança.
type AdaptiveRule struct {
	Baseline        int
	CurrentLimit    int
	Params          AdaptiveParams
	TotalRequests   int64
	BlockedRequests int64
	ConfidenceScore float64
	LastAdjustment  time.Time
}

// BlockRate retorna a fração de requisições negadas observadas.
func (r AdaptiveRule) BlockRate() float64 {
	if r.TotalRequests == 0 {
		return 0
	}
	return float64(r.BlockedRequests) / float64(r.TotalRequests)
}

// Confidence é uma função degrau do número de amostras.
//
// É um proxy simples de confiança estatística, não uma estimativa de
// variância. Quem precisar de algo melhor deve trocar por Wilson score
// ou um estimador bayesiano.
func Confidence(samples int64) float64 {
	switch {
	case samples < 100:
		return 0.3
	case samples < 1000:
		return 0.6
	case samples < 10000:
		return 0.8
	default:
		return 0.95
	}
}

// ClampLimit força um limite para dentro de [AdaptiveMin, AdaptiveMax].
func ClampLimit(limit int) int {
	if limit < AdaptiveMin {
		return AdaptiveMin
	}
	if limit > AdaptiveMax {
		return AdaptiveMax
	}
	return limit
}
