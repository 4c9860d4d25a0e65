package application

import (
	"context"
	"fmt"
	"time"

	"identity-guard/security/ratelimit/domain"
)

// DefaultRecentHorizon limita o log de tentativas recentes por chave.
// Precisa cobrir a janela de recuperação do detector de burst.
const DefaultRecentHorizon = 5 * time.Minute

// Tracker mantém a janela deslizante de contagem por (identificador, action).
//
// O modelo é de balde fixo: a janela reinicia inteira ao expirar, em vez de
// um sliding log verdadeiro. É uma aproximação aceita — bursts que cruzam a
// fronteira da janela ficam a cargo do detector de burst, que lê o log
// recente em granularidade fina.
//
// A leitura (Current) nunca persiste nada; só Increment muda estado, e muda
// de forma atômica. A separação leitura/commit do serviço original admitia
// até (concorrência − 1) requisições além do teto; aqui o incremento vem
// primeiro e a comparação usa a contagem retornada.
type Tracker struct {
	Store domain.UsageStore
	// Horizon do log recente. Se 0, DefaultRecentHorizon.
	Horizon time.Duration
}

func (t Tracker) horizon() time.Duration {
	if t.Horizon > 0 {
		return t.Horizon
	}
	return DefaultRecentHorizon
}

// Current é a visão somente-leitura da janela corrente, com o log recente
// preenchido. Janela ausente/expirada vira uma janela zerada ancorada em
// now — sem gravar nada.
func (t Tracker) Current(ctx context.Context, key domain.Key, window time.Duration) (domain.UsageWindow, error) {
	w, err := t.Store.Window(ctx, key, window)
	if err != nil {
		return domain.UsageWindow{}, fmt.Errorf("read usage window: %w", err)
	}

	recent, err := t.Store.RecentAttempts(ctx, key, time.Now().Add(-t.horizon()))
	if err != nil {
		return domain.UsageWindow{}, fmt.Errorf("read recent attempts: %w", err)
	}
	w.Recent = recent
	return w, nil
}

// Increment incrementa a contagem da chave atomicamente e retorna a nova
// contagem e quando a janela corrente reseta. A decisão de admissão compara
// a contagem retornada com o limite — nunca o contrário.
func (t Tracker) Increment(ctx context.Context, key domain.Key, cfg domain.Config) (count int64, resetAt time.Time, err error) {
	count, start, err := t.Store.IncrementWindow(ctx, key, cfg.Window)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("increment usage: %w", err)
	}
	return count, start.Add(cfg.Window), nil
}

// Note registra o desfecho final (admitida/bloqueada) no log recente.
// Alimenta o detector de burst e nada mais.
func (t Tracker) Note(ctx context.Context, key domain.Key, at time.Time, blocked bool) error {
	err := t.Store.AppendAttempt(ctx, key, domain.Attempt{At: at, Blocked: blocked}, t.horizon())
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// RecentSince lista as tentativas recentes a partir de since.
func (t Tracker) RecentSince(ctx context.Context, key domain.Key, since time.Time) ([]domain.Attempt, error) {
	recent, err := t.Store.RecentAttempts(ctx, key, since)
	if err != nil {
		return nil, fmt.Errorf("read recent attempts: %w", err)
	}
	return recent, nil
}
