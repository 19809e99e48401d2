// Package ws serves the real-time chat channel over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chatroom/internal/domain"
	"chatroom/internal/events"
	"chatroom/internal/observability/metrics"

	"github.com/gorilla/websocket"
)

// delivery is a batch of frames for one client, or for everyone when target
// is nil. The hub handles deliveries one at a time, so every client sees
// batches in the order they were handed over.
type delivery struct {
	target   *Client
	payloads [][]byte
}

type evictRequest struct {
	connID  domain.ConnID
	payload []byte
	reply   chan bool
}

// Hub owns the set of open connections. A single goroutine (Run) registers,
// unregisters, evicts and fans out frames.
type Hub struct {
	clients    map[domain.ConnID]*Client
	register   chan *Client
	unregister chan *Client
	deliveries chan delivery
	evictions  chan evictRequest
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[domain.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan delivery),
		evictions:  make(chan evictRequest),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop; call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.connID] = client
			count := len(h.clients)
			h.mutex.Unlock()
			metrics.WSConnectionsActive.WithLabelValues(client.authLabel()).Inc()
			slog.Debug("client registered", "conn_id", client.connID, "addr", client.addr, "clients", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			if h.drop(client, websocket.CloseNormalClosure, "") {
				slog.Debug("client unregistered", "conn_id", client.connID, "addr", client.addr)
			}

		case d := <-h.deliveries:
			h.deliver(d)

		case req := <-h.evictions:
			req.reply <- h.evictLocal(req.connID, req.payload)
		}
	}
}

// Register hands a freshly upgraded client to the hub. It returns false once
// the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Broadcast sends evts, in order, to every open connection.
func (h *Hub) Broadcast(evts ...events.Envelope) {
	h.enqueue(delivery{payloads: encodeAll(evts)})
}

// SendTo queues evts for a single connection behind any earlier broadcast.
func (h *Hub) SendTo(c *Client, evts ...events.Envelope) {
	h.enqueue(delivery{target: c, payloads: encodeAll(evts)})
}

func (h *Hub) enqueue(d delivery) {
	if len(d.payloads) == 0 {
		return
	}
	select {
	case h.deliveries <- d:
	case <-h.ctx.Done():
	}
}

// Evict queues a forced_logout for connID and then closes it. It reports
// false when connID is not open on this hub.
func (h *Hub) Evict(connID domain.ConnID, reason string) bool {
	req := evictRequest{connID: connID, payload: encode(events.Forced(reason)), reply: make(chan bool, 1)}
	select {
	case h.evictions <- req:
	case <-h.ctx.Done():
		return false
	}
	return <-req.reply
}

func (h *Hub) evictLocal(connID domain.ConnID, payload []byte) bool {
	h.mutex.RLock()
	client, ok := h.clients[connID]
	h.mutex.RUnlock()
	if !ok {
		return false
	}
	h.safeSend(client, payload)
	h.drop(client, websocket.ClosePolicyViolation, "signed in elsewhere")
	slog.Info("connection evicted", "conn_id", connID)
	return true
}

// ClientCount reports the number of open connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(d delivery) {
	var targets []*Client
	if d.target != nil {
		targets = []*Client{d.target}
	} else {
		h.mutex.RLock()
		targets = make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
		h.mutex.RUnlock()
	}

	for _, c := range targets {
		for _, p := range d.payloads {
			if !h.safeSend(c, p) {
				if h.drop(c, websocket.CloseTryAgainLater, "send buffer full") {
					slog.Warn("client removed due to full send buffer", "conn_id", c.connID, "addr", c.addr)
				}
				break
			}
		}
	}
}

// safeSend queues p without blocking. It fails when the client is gone or its
// buffer is full.
func (h *Hub) safeSend(c *Client, p []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- p:
		return true
	default:
		return false
	}
}

// drop removes c and closes its send channel; the write pump then flushes
// what is queued, sends a close frame with code and exits.
func (h *Hub) drop(c *Client, code int, reason string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if c.closed {
		return false
	}
	if cur, ok := h.clients[c.connID]; ok && cur == c {
		delete(h.clients, c.connID)
	}
	c.closed = true
	c.closeCode, c.closeReason = code, reason
	close(c.send)
	metrics.WSConnectionsActive.WithLabelValues(c.authLabel()).Dec()
	return true
}

func (h *Hub) shutdownClients() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mutex.RUnlock()

	for _, c := range clients {
		h.drop(c, websocket.CloseGoingAway, "server shutting down")
	}
	slog.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for every client goroutine, including the
// disconnect step each one runs on exit.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func encode(e events.Envelope) []byte {
	b, err := json.Marshal(e)
	if err != nil {
		slog.Error("encode frame", "type", e.Type, "error", err)
		return nil
	}
	return b
}

func encodeAll(evts []events.Envelope) [][]byte {
	out := make([][]byte, 0, len(evts))
	for _, e := range evts {
		if b := encode(e); b != nil {
			out = append(out, b)
		}
	}
	return out
}
