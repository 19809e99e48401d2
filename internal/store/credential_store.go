package store

import (
	"context"
	"time"

	"chatroom/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CredentialStore struct{ db *gorm.DB }

func (s *Store) Credentials() *CredentialStore { return &CredentialStore{s.DB} }

func (cs *CredentialStore) Create(ctx context.Context, c *domain.Credential) error {
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.IsActive = true
	return wrap("create credential", cs.db.WithContext(ctx).Omit("Account").Create(c).Error)
}

// FindLiveByHash returns the credential with the given token hash if it is
// active, unexpired at now and still tied to an existing account. Anything
// else yields (nil, nil).
func (cs *CredentialStore) FindLiveByHash(ctx context.Context, hash string, now time.Time) (*domain.Credential, error) {
	var out domain.Credential
	err := cs.db.WithContext(ctx).
		InnerJoins("Account").
		Where("user_tokens.token_hash = ? AND user_tokens.is_active = ? AND user_tokens.expires_at > ?", hash, true, now).
		First(&out).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find credential by hash", err)
	}
	return &out, nil
}

// FindByHash returns the credential regardless of liveness, or (nil, nil).
func (cs *CredentialStore) FindByHash(ctx context.Context, hash string) (*domain.Credential, error) {
	var out domain.Credential
	err := cs.db.WithContext(ctx).Where("token_hash = ?", hash).First(&out).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find credential", err)
	}
	return &out, nil
}

// RevokeByHash marks one credential dead. Returns the rows flipped (0 when it
// was already dead).
func (cs *CredentialStore) RevokeByHash(ctx context.Context, hash string, now time.Time) (int64, error) {
	res := cs.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("token_hash = ? AND is_active = ?", hash, true).
		Updates(map[string]any{"is_active": false, "updated_at": now})
	return res.RowsAffected, wrap("revoke credential", res.Error)
}

// RevokeAllForUser marks every active credential of the user dead.
func (cs *CredentialStore) RevokeAllForUser(ctx context.Context, userID domain.UserID, now time.Time) (int64, error) {
	res := cs.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]any{"is_active": false, "updated_at": now})
	return res.RowsAffected, wrap("revoke user credentials", res.Error)
}

// ExpireStale marks active credentials past their expiry dead.
func (cs *CredentialStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res := cs.db.WithContext(ctx).Model(&domain.Credential{}).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Updates(map[string]any{"is_active": false, "updated_at": now})
	return res.RowsAffected, wrap("expire credentials", res.Error)
}

// PurgeDead deletes rows that are both expired and dead. Live rows are never
// touched.
func (cs *CredentialStore) PurgeDead(ctx context.Context, now time.Time) (int64, error) {
	res := cs.db.WithContext(ctx).
		Where("is_active = ? AND expires_at <= ?", false, now).
		Delete(&domain.Credential{})
	return res.RowsAffected, wrap("purge credentials", res.Error)
}

// ListForUser returns the user's credentials, newest first. With liveOnly set
// only credentials live at now are returned.
func (cs *CredentialStore) ListForUser(ctx context.Context, userID domain.UserID, liveOnly bool, now time.Time) ([]domain.Credential, error) {
	q := cs.db.WithContext(ctx).Where("user_id = ?", userID)
	if liveOnly {
		q = q.Where("is_active = ? AND expires_at > ?", true, now)
	}
	var out []domain.Credential
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, wrap("list credentials", err)
	}
	return out, nil
}
