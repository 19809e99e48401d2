package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"chatroom/internal/domain"
	"chatroom/internal/events"
	"chatroom/internal/httpx"
	"chatroom/internal/netutil"
	"chatroom/internal/observability/metrics"
	"chatroom/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Gate admits bearer tokens.
type Gate interface {
	Admit(ctx context.Context, raw string) (*domain.Principal, error)
}

// Sessions is the reconciler surface the socket drives.
type Sessions interface {
	Connect(ctx context.Context, req session.JoinRequest) (session.Outcome, error)
	Disconnect(ctx context.Context, connID domain.ConnID) (session.Outcome, error)
	Send(ctx context.Context, connID domain.ConnID, text string) (*domain.Message, error)
	Roster(ctx context.Context) ([]domain.Presence, error)
	History(ctx context.Context, limit int) ([]domain.Message, error)
}

type Config struct {
	MaxFrameBytes  int64
	SendBuffer     int
	RateBurst      int
	RatePerSecond  float64
	HistoryLimit   int
	AllowedOrigins []string
	TrustProxy     bool
}

type Handler struct {
	hub      *Hub
	gate     Gate
	sessions Sessions
	cfg      Config
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, gate Gate, sessions Sessions, cfg Config) *Handler {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 8192
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	h := &Handler{hub: hub, gate: gate, sessions: sessions, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP upgrades the request. A missing or rejected credential still gets
// a socket, as an anonymous reader; only a store outage refuses the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		raw, _ = httpx.BearerToken(r)
	}

	var principal *domain.Principal
	if raw != "" {
		p, err := h.gate.Admit(r.Context(), raw)
		switch {
		case err == nil:
			principal = p
			metrics.CredentialAdmissionsTotal.WithLabelValues("ws", "admitted").Inc()
		case errors.Is(err, domain.ErrStoreUnavailable):
			metrics.CredentialAdmissionsTotal.WithLabelValues("ws", "unavailable").Inc()
			httpx.WriteError(w, err)
			return
		default:
			metrics.CredentialAdmissionsTotal.WithLabelValues("ws", "rejected").Inc()
			slog.Info("websocket credential rejected, continuing anonymously", "error", err)
			raw = ""
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		conn:      conn,
		send:      make(chan []byte, h.cfg.SendBuffer),
		hub:       h.hub,
		handler:   h,
		connID:    uuid.NewString(),
		addr:      netutil.ClientIP(r, h.cfg.TrustProxy),
		principal: principal,
		rawToken:  raw,
		ctx:       backgroundWithIDs(r.Context()),
		auth:      "anonymous",
	}
	if h.cfg.RatePerSecond > 0 && h.cfg.RateBurst > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.cfg.RatePerSecond), h.cfg.RateBurst)
	}

	welcome := events.Welcome{ConnID: c.connID}
	if principal != nil {
		c.auth = "authenticated"
		welcome.Authenticated = true
		welcome.UserID = principal.UserID.String()
		welcome.Username = principal.Username
	}

	// Queued before the pumps start so it is always the first frame.
	c.send <- encode(events.Envelope{Type: events.TypeWelcome, Data: welcome})

	if !h.hub.Register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// checkOrigin allows requests without an Origin header (non-browser clients)
// and browser requests from a configured origin. An empty list or "*" allows
// every origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
