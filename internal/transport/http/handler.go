package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"chatroom/internal/domain"
	"chatroom/internal/dto"
	"chatroom/internal/httpx"
	"chatroom/internal/netutil"
	"chatroom/internal/observability/middleware"
)

type handler struct {
	deps Deps
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ping != nil {
		if err := h.deps.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) jwks(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"keys": []any{h.deps.Tokens.PublicJWK()}})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.deps.Auth.Register(r.Context(), req, h.clientIP(r), r.UserAgent())
	if err != nil {
		h.fail(r, "register failed", err)
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	res, err := h.deps.Auth.Login(r.Context(), req, h.clientIP(r), r.UserAgent())
	if err != nil {
		h.fail(r, "login failed", err)
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Auth.Logout(r.Context(), rawTokenFrom(r.Context())); err != nil {
		h.fail(r, "logout failed", err)
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	n, err := h.deps.Auth.LogoutAll(r.Context(), p.UserID)
	if err != nil {
		h.fail(r, "logout-all failed", err)
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dto.LogoutAllResponse{Revoked: n})
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, dto.MeResponse{
		UserID:    p.UserID.String(),
		Username:  p.Username,
		ExpiresAt: p.ExpiresAt,
	})
}

func (h *handler) sessions(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	out, err := h.deps.Tokens.ActiveCredentials(r.Context(), p)
	if err != nil {
		h.fail(r, "list sessions failed", err)
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) messages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			httpx.WriteError(w, httpx.BadRequest("limit must be an integer"))
			return
		}
		limit = n
	}
	msgs, err := h.deps.Chat.History(r.Context(), limit)
	if err != nil {
		h.fail(r, "history failed", err)
		httpx.WriteError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	httpx.WriteJSON(w, http.StatusOK, msgs)
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	roster, err := h.deps.Chat.Roster(r.Context())
	if err != nil {
		h.fail(r, "roster failed", err)
		httpx.WriteError(w, err)
		return
	}
	if roster == nil {
		roster = []domain.Presence{}
	}
	httpx.WriteJSON(w, http.StatusOK, roster)
}

func (h *handler) clientIP(r *http.Request) string {
	return netutil.ClientIP(r, h.deps.TrustProxy)
}

func (h *handler) fail(r *http.Request, msg string, err error) {
	status, _ := httpx.Classify(err)
	log := slog.Warn
	if status >= http.StatusInternalServerError {
		log = slog.Error
	}
	log(msg,
		"error", err,
		"status", status,
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"trace_id", middleware.TraceIDFromContext(r.Context()),
	)
}
