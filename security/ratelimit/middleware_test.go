package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"identity-guard/security/ratelimit/application"
	"identity-guard/security/ratelimit/domain"
	"identity-guard/security/ratelimit/infra"
)

func newTestEngine(t *testing.T) *application.Engine {
	t.Helper()
	store := infra.NewMemoryStore()
	return &application.Engine{
		Registry:  application.Registry{Overrides: store},
		Tracker:   application.Tracker{Store: store},
		Adaptive:  application.Controller{Rules: store},
		Penalties: application.Manager{Store: store},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, h http.Handler, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.1:4567"
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_RejectsAfterLimit(t *testing.T) {
	engine := newTestEngine(t)
	h := Middleware(Options{
		Engine:           engine,
		Action:           domain.ActionLogin,
		IdentifierHeader: "X-User-ID",
	})(okHandler())

	// login default: 5 por janela
	for i := 1; i <= 5; i++ {
		if rec := doRequest(t, h, "u1"); rec.Code != http.StatusOK {
			t.Fatalf("expected request %d to pass, got %d", i, rec.Code)
		}
	}

	rec := doRequest(t, h, "u1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on 6th request, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on rejection")
	}
	if got := rec.Header().Get("X-RateLimit-Cause"); got != string(domain.CauseLimit) {
		t.Fatalf("expected cause %q, got %q", domain.CauseLimit, got)
	}
}

func TestMiddleware_IdentifiersAreIsolated(t *testing.T) {
	engine := newTestEngine(t)
	h := Middleware(Options{
		Engine:           engine,
		Action:           domain.ActionLogin,
		IdentifierHeader: "X-User-ID",
	})(okHandler())

	for i := 0; i < 6; i++ {
		doRequest(t, h, "exhausted")
	}
	if rec := doRequest(t, h, "exhausted"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected exhausted user to be rejected, got %d", rec.Code)
	}

	if rec := doRequest(t, h, "fresh"); rec.Code != http.StatusOK {
		t.Fatalf("one user's limit must not affect another, got %d", rec.Code)
	}
}

func TestMiddleware_RateLimitHeaders(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.Configure(context.Background(), domain.ActionLogin, domain.Config{MaxRequests: 3, Window: time.Minute}); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	h := Middleware(Options{
		Engine:              engine,
		Action:              domain.ActionLogin,
		IdentifierHeader:    "X-User-ID",
		AddRateLimitHeaders: true,
	})(okHandler())

	rec := doRequest(t, h, "u1")
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining 2, got %q", got)
	}
	rec = doRequest(t, h, "u1")
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("expected remaining 1, got %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatalf("expected X-RateLimit-Reset header")
	}
}

func TestMiddleware_CustomRejectStatus(t *testing.T) {
	engine := newTestEngine(t)
	if err := engine.Configure(context.Background(), domain.ActionLogin, domain.Config{MaxRequests: 1, Window: time.Minute}); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	h := Middleware(Options{
		Engine:           engine,
		Action:           domain.ActionLogin,
		IdentifierHeader: "X-User-ID",
		RejectStatus:     http.StatusForbidden,
	})(okHandler())

	doRequest(t, h, "u1")
	if rec := doRequest(t, h, "u1"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

// brokenUsageStore simula o backing store fora do ar.
type brokenUsageStore struct{}

func (brokenUsageStore) IncrementWindow(context.Context, domain.Key, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, domain.ErrStoreUnavailable
}

func (brokenUsageStore) Window(context.Context, domain.Key, time.Duration) (domain.UsageWindow, error) {
	return domain.UsageWindow{}, domain.ErrStoreUnavailable
}

func (brokenUsageStore) AppendAttempt(context.Context, domain.Key, domain.Attempt, time.Duration) error {
	return domain.ErrStoreUnavailable
}

func (brokenUsageStore) RecentAttempts(context.Context, domain.Key, time.Time) ([]domain.Attempt, error) {
	return nil, domain.ErrStoreUnavailable
}

func TestMiddleware_FailOpenOmitsRateLimitHeaders(t *testing.T) {
	engine := newTestEngine(t)
	engine.Tracker = application.Tracker{Store: brokenUsageStore{}}
	engine.Policy = application.FailOpen

	h := Middleware(Options{
		Engine:              engine,
		Action:              domain.ActionLogin,
		IdentifierHeader:    "X-User-ID",
		AddRateLimitHeaders: true,
	})(okHandler())

	rec := doRequest(t, h, "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected fail-open to admit, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "" {
		t.Fatalf("fail-open response must not claim remaining %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Reset"); got != "" {
		t.Fatalf("fail-open response must not claim a reset time %q", got)
	}
}

func TestMiddleware_UnknownActionIsBadRequest(t *testing.T) {
	engine := newTestEngine(t)
	h := Middleware(Options{
		Engine:           engine,
		Action:           domain.Action("nope"),
		IdentifierHeader: "X-User-ID",
	})(okHandler())

	if rec := doRequest(t, h, "u1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
}
