package store

import (
	"context"
	"time"

	"chatroom/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PresenceStore struct{ db *gorm.DB }

func (s *Store) Presence() *PresenceStore { return &PresenceStore{s.DB} }

// UpsertByIdentity inserts the record or rewrites conn id, username and
// activity time in place. JoinedAt is kept from the first insert.
func (ps *PresenceStore) UpsertByIdentity(ctx context.Context, p *domain.Presence) error {
	now := time.Now().UTC()
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	p.UpdatedAt = now
	err := ps.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"conn_id", "username", "updated_at"}),
	}).Create(p).Error
	return wrap("upsert presence", err)
}

func (ps *PresenceStore) FindByIdentity(ctx context.Context, userID domain.UserID) (*domain.Presence, error) {
	var out domain.Presence
	err := ps.db.WithContext(ctx).First(&out, "user_id = ?", userID).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find presence by identity", err)
	}
	return &out, nil
}

func (ps *PresenceStore) FindByConnID(ctx context.Context, connID domain.ConnID) (*domain.Presence, error) {
	var out domain.Presence
	err := ps.db.WithContext(ctx).First(&out, "conn_id = ?", connID).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find presence by conn", err)
	}
	return &out, nil
}

// DeleteIfConnIDMatches removes the user's record only while it still carries
// connID. false means a newer connection owns the record.
func (ps *PresenceStore) DeleteIfConnIDMatches(ctx context.Context, userID domain.UserID, connID domain.ConnID) (bool, error) {
	res := ps.db.WithContext(ctx).
		Where("user_id = ? AND conn_id = ?", userID, connID).
		Delete(&domain.Presence{})
	if res.Error != nil {
		return false, wrap("delete presence", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Touch bumps the last-activity time of the record owned by connID.
func (ps *PresenceStore) Touch(ctx context.Context, connID domain.ConnID, at time.Time) error {
	err := ps.db.WithContext(ctx).Model(&domain.Presence{}).
		Where("conn_id = ?", connID).
		Update("updated_at", at).Error
	return wrap("touch presence", err)
}

// ListAll returns the roster ordered by join time.
func (ps *PresenceStore) ListAll(ctx context.Context) ([]domain.Presence, error) {
	var out []domain.Presence
	if err := ps.db.WithContext(ctx).Order("joined_at ASC").Find(&out).Error; err != nil {
		return nil, wrap("list presence", err)
	}
	return out, nil
}

// DeleteStale removes records with no activity since before.
func (ps *PresenceStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	res := ps.db.WithContext(ctx).Where("updated_at < ?", before).Delete(&domain.Presence{})
	return res.RowsAffected, wrap("delete stale presence", res.Error)
}

// DeleteAll clears the table, used at startup of a single-node deployment and
// by the maintenance CLI.
func (ps *PresenceStore) DeleteAll(ctx context.Context) (int64, error) {
	res := ps.db.WithContext(ctx).Where("1 = 1").Delete(&domain.Presence{})
	return res.RowsAffected, wrap("clear presence", res.Error)
}
