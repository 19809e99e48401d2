package store

import (
	"context"
	"time"

	"chatroom/internal/domain"

	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{s.DB} }

func (ms *MessageStore) Append(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Kind == "" {
		m.Kind = domain.MessageKindUser
	}
	return wrap("append message", ms.db.WithContext(ctx).Create(m).Error)
}

// Recent returns the newest limit user messages in ascending order.
func (ms *MessageStore) Recent(ctx context.Context, limit int) ([]domain.Message, error) {
	return ms.latest(ctx, limit, domain.MessageKindUser)
}

// Tail returns the newest n messages of any kind in ascending order.
func (ms *MessageStore) Tail(ctx context.Context, n int) ([]domain.Message, error) {
	return ms.latest(ctx, n, "")
}

func (ms *MessageStore) latest(ctx context.Context, limit int, kind domain.MessageKind) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	q := ms.db.WithContext(ctx)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var out []domain.Message
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, wrap("recent messages", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
