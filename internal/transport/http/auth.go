package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"chatroom/internal/domain"
	"chatroom/internal/httpx"
	"chatroom/internal/observability/metrics"
	"chatroom/internal/observability/middleware"
	"chatroom/internal/service"
)

type ctxKey int

const (
	ctxKeyPrincipal ctxKey = iota
	ctxKeyRawToken
)

// requireCredential admits the bearer token through the revocation gate.
// Requests without a live credential get 401 and never reach the handler.
func requireCredential(tokens service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := httpx.BearerToken(r)
			if !ok {
				metrics.CredentialAdmissionsTotal.WithLabelValues("http", "rejected").Inc()
				httpx.WriteError(w, domain.ErrMalformedCredential)
				return
			}
			p, err := tokens.Admit(r.Context(), raw)
			if err != nil {
				result := "rejected"
				if errors.Is(err, domain.ErrStoreUnavailable) {
					result = "unavailable"
				}
				metrics.CredentialAdmissionsTotal.WithLabelValues("http", result).Inc()
				slog.Info("credential refused",
					"error", err,
					"path", r.URL.Path,
					"request_id", middleware.RequestIDFromContext(r.Context()),
					"trace_id", middleware.TraceIDFromContext(r.Context()),
				)
				httpx.WriteError(w, err)
				return
			}
			metrics.CredentialAdmissionsTotal.WithLabelValues("http", "admitted").Inc()

			ctx := context.WithValue(r.Context(), ctxKeyPrincipal, p)
			ctx = context.WithValue(ctx, ctxKeyRawToken, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principalFrom(ctx context.Context) (*domain.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(*domain.Principal)
	return p, ok && p != nil
}

func rawTokenFrom(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeyRawToken).(string)
	return s
}
