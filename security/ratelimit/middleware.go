package ratelimit

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"identity-guard/security/ratelimit/application"
	"identity-guard/security/ratelimit/domain"
)

type IdentifierFunc func(r *http.Request) string

type Options struct {
	Engine *application.Engine
	// Action protegida por este middleware (um middleware por rota/categoria).
	Action domain.Action

	IdentifierFn       IdentifierFunc
	IdentifierHeader   string
	TrustXForwardedFor bool

	RejectStatus        int
	AddRateLimitHeaders bool
}

// DefaultIdentifierFunc extrai o identificador do chamador: header
// explícito (ex: X-User-ID vindo do middleware de auth), senão o primeiro
// IP do X-Forwarded-For quando confiável, senão RemoteAddr.
func DefaultIdentifierFunc(header string, trustXFF bool) IdentifierFunc {
	return func(r *http.Request) string {
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// ClientInfoFromRequest coleta metadados do chamador para estatísticas.
func ClientInfoFromRequest(r *http.Request) *domain.ClientInfo {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = r.RemoteAddr
	}
	return &domain.ClientInfo{
		IP:        host,
		UserAgent: r.UserAgent(),
		SessionID: r.Header.Get("X-Session-ID"),
		DeviceID:  r.Header.Get("X-Device-ID"),
	}
}

// Middleware protege a rota com a action configurada. Entrada inválida vira
// 400; store indisponível com política fail-closed vira 503; negação de
// política vira RejectStatus (429 por padrão) com Retry-After e a causa.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.IdentifierFn == nil {
		opts.IdentifierFn = DefaultIdentifierFunc(opts.IdentifierHeader, opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := opts.IdentifierFn(r)

			verdict, err := opts.Engine.Check(r.Context(), identifier, opts.Action, ClientInfoFromRequest(r))
			if err != nil {
				if errors.Is(err, domain.ErrUnknownAction) || errors.Is(err, domain.ErrEmptyIdentifier) {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			// veredito fail-open não carrega janela (ResetAt zero);
			// sem números reais, nenhum header
			if opts.AddRateLimitHeaders && !verdict.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Remaining", formatInt64(verdict.Remaining))
				w.Header().Set("X-RateLimit-Reset", formatInt64(verdict.ResetAt.Unix()))
			}

			if !verdict.Allowed {
				w.Header().Set("Retry-After", formatRetryAfter(verdict.RetryAfter))
				w.Header().Set("X-RateLimit-Cause", string(verdict.Cause))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
