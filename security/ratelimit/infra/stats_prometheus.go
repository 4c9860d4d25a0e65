package infra

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"identity-guard/security/ratelimit/domain"
)

// PrometheusStatsStore exporta as decisões como contadores Prometheus,
// rotulados por action e desfecho. Não rastreia por chave: identificador
// em label explode a cardinalidade das séries.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
	denials   *prometheus.CounterVec
}

// NewPrometheusStatsStore registra os contadores em reg (use
// prometheus.DefaultRegisterer fora de testes).
func NewPrometheusStatsStore(reg prometheus.Registerer) *PrometheusStatsStore {
	s := &PrometheusStatsStore{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abuseguard_decisions_total",
				Help: "Rate limit decisions by action and outcome.",
			},
			[]string{"action", "outcome"},
		),
		denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abuseguard_denials_total",
				Help: "Denied requests by action and cause.",
			},
			[]string{"action", "cause"},
		),
	}
	reg.MustRegister(s.decisions, s.denials)
	return s
}

// Record implementa domain.StatsStore.
func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}
	s.decisions.WithLabelValues(string(ev.Key.Action), outcome).Inc()
	if !ev.Allowed {
		s.denials.WithLabelValues(string(ev.Key.Action), string(ev.Cause)).Inc()
	}
	return nil
}

var _ domain.StatsStore = (*PrometheusStatsStore)(nil)
