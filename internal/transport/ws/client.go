package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"chatroom/internal/domain"
	"chatroom/internal/dto"
	"chatroom/internal/events"
	"chatroom/internal/observability/metrics"
	"chatroom/internal/observability/middleware"
	"chatroom/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one open socket. principal is nil for anonymous connections,
// which may read the room but never join or send.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	handler   *Handler
	connID    domain.ConnID
	addr      string
	principal *domain.Principal
	rawToken  string
	limiter   *rate.Limiter
	ctx       context.Context
	auth      string // metrics label, fixed at upgrade

	joined bool

	// guarded by hub.mutex
	closed      bool
	closeCode   int
	closeReason string
}

func (c *Client) authLabel() string { return c.auth }

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		if c.joined {
			if _, err := c.handler.sessions.Disconnect(c.ctx, c.connID); err != nil {
				slog.Error("disconnect failed", "conn_id", c.connID, "error", err)
			}
		}
	}()

	c.conn.SetReadLimit(c.handler.cfg.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.reply(events.Err("rate_limited", "slow down"))
			continue
		}
		c.handleFrame(raw)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("frame exceeded size limit", "conn_id", c.connID, "limit", c.handler.cfg.MaxFrameBytes)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
		errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		slog.Debug("client disconnected", "conn_id", c.connID, "error", err)
	default:
		slog.Info("websocket read error", "conn_id", c.connID, "error", err)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var in events.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.reply(events.Err("bad_request", "frame is not a JSON envelope"))
		return
	}

	switch in.Type {
	case events.TypeJoin:
		var req dto.JoinRequest
		if len(in.Data) > 0 {
			if err := json.Unmarshal(in.Data, &req); err != nil {
				c.reply(events.Err("bad_request", "invalid join payload"))
				return
			}
		}
		c.join(req)

	case events.TypeSend:
		var req dto.SendRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.reply(events.Err("bad_request", "invalid send payload"))
			return
		}
		if !c.joined {
			c.replyErr(domain.ErrNotJoined)
			return
		}
		if _, ok := c.reauthorize(); !ok {
			return
		}
		if _, err := c.handler.sessions.Send(c.ctx, c.connID, req.Content); err != nil {
			c.replyErr(err)
		}

	case events.TypeGetUsers:
		roster, err := c.handler.sessions.Roster(c.ctx)
		if err != nil {
			c.replyErr(err)
			return
		}
		c.reply(events.UsersList(roster))

	default:
		c.reply(events.Err("bad_request", "unknown frame type "+in.Type))
	}
}

func (c *Client) join(req dto.JoinRequest) {
	if c.principal == nil {
		c.replyErr(domain.ErrAnonymousJoin)
		return
	}
	if id := strings.TrimSpace(req.UserID); id != "" {
		if parsed, err := uuid.Parse(id); err != nil || parsed != c.principal.UserID {
			c.replyErr(domain.ErrIdentityMismatch)
			return
		}
	}

	p, ok := c.reauthorize()
	if !ok {
		return
	}

	outcome, err := c.handler.sessions.Connect(c.ctx, session.JoinRequest{
		UserID:      p.UserID,
		ConnID:      c.connID,
		DisplayName: p.Username,
	})
	if err != nil {
		c.replyErr(err)
		return
	}
	c.joined = true

	history, err := c.handler.sessions.History(c.ctx, c.handler.cfg.HistoryLimit)
	if err != nil {
		slog.Warn("history unavailable", "conn_id", c.connID, "error", err)
		return
	}
	c.reply(events.History(history))
	slog.Debug("join handled", "conn_id", c.connID, "outcome", outcome.String())
}

// reauthorize passes the socket's credential through the gate again; it may
// have been revoked since the upgrade. A dead credential demotes the socket to
// an anonymous reader and retires its presence. Failures are replied to the
// client.
func (c *Client) reauthorize() (*domain.Principal, bool) {
	p, err := c.handler.gate.Admit(c.ctx, c.rawToken)
	switch {
	case err == nil:
		return p, true
	case errors.Is(err, domain.ErrStoreUnavailable):
		metrics.CredentialAdmissionsTotal.WithLabelValues("ws", "unavailable").Inc()
		c.replyErr(err)
		return nil, false
	}

	metrics.CredentialAdmissionsTotal.WithLabelValues("ws", "rejected").Inc()
	slog.Info("socket credential no longer live", "conn_id", c.connID, "error", err)
	c.principal = nil
	c.rawToken = ""
	if c.joined {
		c.joined = false
		if _, err := c.handler.sessions.Disconnect(c.ctx, c.connID); err != nil {
			slog.Error("disconnect after revocation failed", "conn_id", c.connID, "error", err)
		}
	}
	c.replyErr(domain.ErrRevokedCredential)
	return nil, false
}

func (c *Client) reply(evts ...events.Envelope) { c.hub.SendTo(c, evts...) }

func (c *Client) replyErr(err error) {
	code := errorCode(err)
	msg := err.Error()
	if code == "store_unavailable" {
		msg = "service temporarily unavailable"
	}
	c.reply(events.Err(code, msg))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAnonymousJoin):
		return "anonymous_join"
	case errors.Is(err, domain.ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, domain.ErrNotJoined):
		return "not_joined"
	case errors.Is(err, domain.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, domain.ErrMessageTooLong):
		return "message_too_long"
	case errors.Is(err, domain.ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, domain.ErrRevokedCredential):
		return "revoked_credential"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrInvalidInput):
		return "bad_request"
	default:
		return "internal"
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.writeClose()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("write failed", "conn_id", c.connID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeClose runs after the hub closed c.send, so the close fields are set.
func (c *Client) writeClose() {
	code := c.closeCode
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	msg := websocket.FormatCloseMessage(code, c.closeReason)
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		slog.Debug("close frame not delivered", "conn_id", c.connID, "error", err)
	}
}

func backgroundWithIDs(parent context.Context) context.Context {
	return middleware.WithIDs(context.Background(),
		middleware.RequestIDFromContext(parent),
		middleware.TraceIDFromContext(parent))
}
