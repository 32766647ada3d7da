package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/debug"
	"github.com/rhuss/omnigate/pkg/observability"
	"github.com/rhuss/omnigate/pkg/storage"
	"github.com/rhuss/omnigate/pkg/transport"
)

// DefaultBypass lists the paths that skip authentication.
var DefaultBypass = []string{"/healthz", "/readyz", "/metrics"}

// Middleware admits requests through chain and limiter. A nil limiter
// disables rate limiting. Paths in bypass, and paths below a bypass entry
// ending in "/", are served without authentication.
//
// Rejections are written before the request reaches the dispatcher, so a
// refused WebSocket or SSE handshake never creates a session.
func Middleware(chain *Chain, limiter Limiter, bypass []string) func(http.Handler) http.Handler {
	exact := make(map[string]bool, len(bypass))
	var prefixes []string
	for _, p := range bypass {
		if strings.HasSuffix(p, "/") {
			prefixes = append(prefixes, p)
			continue
		}
		exact[p] = true
	}
	skip := func(path string) bool {
		if exact[path] {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			out := chain.Authenticate(r.Context(), r)
			if out.Verdict != Accept || out.Identity == nil {
				slog.Warn("authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Any("error", out.Err),
				)
				transport.WriteAPIError(w, &api.Error{Kind: api.KindUnauthenticated, Message: ErrUnauthenticated.Error()})
				return
			}
			id := out.Identity
			if id.Subject == "" {
				slog.Error("authenticator accepted an identity without subject", slog.String("path", r.URL.Path))
				transport.WriteAPIError(w, api.NewInternalError("internal authentication error"))
				return
			}
			debug.Log(debug.Auth, "authenticated", "subject", id.Subject, "tier", id.Tier, "path", r.URL.Path)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					debug.Log(debug.Auth, "rate limited", "subject", id.Subject, "tier", id.Tier)
					observability.RateLimitRejectedTotal.WithLabelValues(tierOf(id)).Inc()
					transport.WriteAPIError(w, &api.Error{Kind: api.KindRateLimited, Message: err.Error()})
					return
				}
			}

			ctx := ContextWithIdentity(r.Context(), id)
			if tenant := id.TenantID(); tenant != "" {
				ctx = storage.SetTenant(ctx, tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope refuses requests whose identity lacks scope with 403. It
// runs behind Middleware, which stores the identity.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if !id.HasScope(scope) {
				subject := ""
				if id != nil {
					subject = id.Subject
				}
				slog.Warn("missing scope",
					slog.String("path", r.URL.Path),
					slog.String("subject", subject),
					slog.String("scope", scope),
				)
				transport.WriteAPIError(w, &api.Error{Kind: api.KindForbidden, Message: ErrForbidden.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
