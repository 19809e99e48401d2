package http

import (
	"context"
	"net/http"
	"time"

	"chatroom/internal/domain"
	"chatroom/internal/observability/middleware"
	"chatroom/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chat is the read side of the chat room exposed over plain HTTP.
type Chat interface {
	Roster(ctx context.Context) ([]domain.Presence, error)
	History(ctx context.Context, limit int) ([]domain.Message, error)
}

type Deps struct {
	Auth   service.AuthService
	Tokens service.TokenService
	Chat   Chat
	// WS serves GET /ws. Optional.
	WS http.Handler
	// Ping backs /healthz. Optional.
	Ping func(ctx context.Context) error

	CORSOrigins       []string
	AuthRatePerMinute int
	TrustProxy        bool
}

func NewRouter(d Deps) http.Handler {
	h := &handler{deps: d}

	r := chi.NewRouter()
	if d.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithRequestAndTrace)
	r.Use(middleware.WithMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrAny(d.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Trace-ID"},
		AllowCredentials: len(d.CORSOrigins) > 0,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/oauth/jwks", h.jwks)
	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			rate := d.AuthRatePerMinute
			if rate <= 0 {
				rate = 30
			}
			r.Use(httprate.LimitByIP(rate, time.Minute))
			r.Post("/register", h.register)
			r.Post("/login", h.login)
		})

		r.Get("/messages", h.messages)
		r.Get("/users", h.users)

		r.Group(func(r chi.Router) {
			r.Use(requireCredential(d.Tokens))
			r.Post("/logout", h.logout)
			r.Post("/logout-all", h.logoutAll)
			r.Get("/me", h.me)
			r.Get("/sessions", h.sessions)
		})
	})

	return r
}

func originsOrAny(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}
