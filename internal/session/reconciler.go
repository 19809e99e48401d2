package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chatroom/internal/domain"
	"chatroom/internal/events"
	"chatroom/internal/observability/metrics"
	"chatroom/internal/store"

	"github.com/google/uuid"
)

// Notifier delivers the side effects of a committed step. Broadcast must keep
// the order of evts for every recipient; Evict sends a forced_logout to connID
// and then closes it, and reports false when connID is not open here.
type Notifier interface {
	Broadcast(evts ...events.Envelope)
	Evict(connID domain.ConnID, reason string) bool
}

type Config struct {
	StoreTimeout     time.Duration
	HistoryLimit     int
	HistoryMax       int
	MaxMessageLength int
}

// JoinRequest is a join attempt by an admitted connection.
type JoinRequest struct {
	UserID      domain.UserID
	ConnID      domain.ConnID
	DisplayName string
	Anonymous   bool
}

// Reconciler keeps the presence table, the registry and the live sockets in
// agreement. Every connect and disconnect of one identity runs under that
// identity's lock; side effects are emitted after commit while the lock is
// still held.
type Reconciler struct {
	store    *store.Store
	registry *Registry
	notifier Notifier
	locks    *keyedMutex
	cfg      Config
	now      func() time.Time

	// publishMu orders roster broadcasts across identities: each one reads
	// the table after the previous one was handed to the notifier.
	publishMu sync.Mutex
}

func NewReconciler(st *store.Store, registry *Registry, notifier Notifier, cfg Config) *Reconciler {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = 100
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > cfg.HistoryMax {
		cfg.HistoryLimit = min(5, cfg.HistoryMax)
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}
	return &Reconciler{
		store:    st,
		registry: registry,
		notifier: notifier,
		locks:    newKeyedMutex(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) Connect(ctx context.Context, req JoinRequest) (outcome Outcome, err error) {
	if req.Anonymous || req.UserID == uuid.Nil {
		return OutcomeUnchanged, domain.ErrAnonymousJoin
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return OutcomeUnchanged, domain.ErrInvalidInput
	}
	defer func() { r.observe("connect", outcome, err) }()

	unlock := r.locks.Lock(req.UserID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	now := r.now()
	bound, isBound := r.registry.Lookup(req.UserID)

	var joinMsg *domain.Message
	err = r.store.WithTx(ctx, func(tx *store.Store) error {
		rec, err := tx.Presence().FindByIdentity(ctx, req.UserID)
		if err != nil {
			return err
		}
		switch {
		case rec != nil && rec.ConnID == req.ConnID:
			outcome = OutcomeUnchanged
			return nil
		case isBound && bound != req.ConnID:
			outcome = OutcomeReplaced
		case rec == nil:
			outcome = OutcomeJoined
		default:
			outcome = OutcomeReconnected
		}

		p := &domain.Presence{UserID: req.UserID, ConnID: req.ConnID, Username: name, JoinedAt: now}
		if err := tx.Presence().UpsertByIdentity(ctx, p); err != nil {
			return err
		}
		if outcome == OutcomeJoined {
			joinMsg = domain.JoinNotice(name, now)
			if err := tx.Messages().Append(ctx, joinMsg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("connect failed", "user_id", req.UserID, "conn_id", req.ConnID, "error", err)
		return OutcomeUnchanged, err
	}

	switch outcome {
	case OutcomeUnchanged:
		if !isBound {
			r.registry.Bind(req.UserID, req.ConnID)
		}
		return outcome, nil
	case OutcomeReplaced:
		if !r.notifier.Evict(bound, events.ReasonNewDevice) {
			slog.Debug("evicted connection already gone", "user_id", req.UserID, "conn_id", bound)
		}
	case OutcomeJoined:
		metrics.ChatMessagesTotal.WithLabelValues(string(domain.MessageKindSystem)).Inc()
	}
	r.registry.Bind(req.UserID, req.ConnID)

	if joinMsg != nil {
		r.publish(ctx, events.Message(*joinMsg))
	} else {
		r.publish(ctx)
	}

	slog.Info("session connected", "user_id", req.UserID, "conn_id", req.ConnID, "outcome", outcome.String(), "previous_conn_id", bound)
	return outcome, nil
}

// Disconnect retires connID. When a newer connection already owns the
// identity the call is a no-op reported as OutcomeSuperseded.
func (r *Reconciler) Disconnect(ctx context.Context, connID domain.ConnID) (outcome Outcome, err error) {
	defer func() { r.observe("disconnect", outcome, err) }()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	rec, err := r.store.Presence().FindByConnID(ctx, connID)
	if err != nil {
		return OutcomeSuperseded, err
	}
	if rec == nil {
		return OutcomeSuperseded, nil
	}

	unlock := r.locks.Lock(rec.UserID)
	defer unlock()

	var leaveMsg *domain.Message
	outcome = OutcomeLeft
	err = r.store.WithTx(ctx, func(tx *store.Store) error {
		deleted, err := tx.Presence().DeleteIfConnIDMatches(ctx, rec.UserID, connID)
		if err != nil {
			return err
		}
		if !deleted {
			outcome = OutcomeSuperseded
			return nil
		}
		leaveMsg = domain.LeaveNotice(rec.Username, r.now())
		return tx.Messages().Append(ctx, leaveMsg)
	})
	if err != nil {
		slog.Error("disconnect failed", "user_id", rec.UserID, "conn_id", connID, "error", err)
		return OutcomeSuperseded, err
	}
	if outcome == OutcomeSuperseded {
		slog.Debug("stale disconnect ignored", "user_id", rec.UserID, "conn_id", connID)
		return outcome, nil
	}

	r.registry.UnbindIfCurrent(rec.UserID, connID)
	metrics.ChatMessagesTotal.WithLabelValues(string(domain.MessageKindSystem)).Inc()
	r.publish(ctx, events.Message(*leaveMsg))

	slog.Info("session disconnected", "user_id", rec.UserID, "conn_id", connID)
	return outcome, nil
}

// publish broadcasts lead followed by a fresh roster. Rosters go out in the
// order they were read, so the last users_list a client sees is never older
// than an earlier one. A failed roster read still delivers lead.
func (r *Reconciler) publish(ctx context.Context, lead ...events.Envelope) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	roster, err := r.store.Presence().ListAll(ctx)
	if err != nil {
		slog.Warn("roster unavailable after commit", "error", err)
		if len(lead) > 0 {
			r.notifier.Broadcast(lead...)
		}
		return
	}
	r.notifier.Broadcast(append(lead, events.UsersList(roster))...)
}

// Send persists a chat message from a joined connection and broadcasts it.
func (r *Reconciler) Send(ctx context.Context, connID domain.ConnID, text string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > r.cfg.MaxMessageLength {
		return nil, domain.ErrMessageTooLong
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	var msg *domain.Message
	err := r.store.WithTx(ctx, func(tx *store.Store) error {
		rec, err := tx.Presence().FindByConnID(ctx, connID)
		if err != nil {
			return err
		}
		if rec == nil {
			return domain.ErrNotJoined
		}
		now := r.now()
		uid := rec.UserID
		msg = &domain.Message{UserID: &uid, Username: rec.Username, Content: text, Kind: domain.MessageKindUser, CreatedAt: now}
		if err := tx.Messages().Append(ctx, msg); err != nil {
			return err
		}
		return tx.Presence().Touch(ctx, connID, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.ChatMessagesTotal.WithLabelValues(string(domain.MessageKindUser)).Inc()
	r.notifier.Broadcast(events.Message(*msg))
	return msg, nil
}

// Roster lists online identities by join time.
func (r *Reconciler) Roster(ctx context.Context) ([]domain.Presence, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.Presence().ListAll(ctx)
}

// History returns the newest user messages in ascending order. limit is
// clamped to [1, HistoryMax]; zero or less selects the default.
func (r *Reconciler) History(ctx context.Context, limit int) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.Messages().Recent(ctx, r.ClampHistory(limit))
}

func (r *Reconciler) ClampHistory(limit int) int {
	switch {
	case limit <= 0:
		return r.cfg.HistoryLimit
	case limit > r.cfg.HistoryMax:
		return r.cfg.HistoryMax
	default:
		return limit
	}
}

func (r *Reconciler) observe(event string, outcome Outcome, err error) {
	label := outcome.String()
	if err != nil {
		label = "error"
	}
	metrics.SessionTransitionsTotal.WithLabelValues(event, label).Inc()
}
