package store

import (
	"context"
	"strings"
	"time"

	"chatroom/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountStore struct{ db *gorm.DB }

func (s *Store) Accounts() *AccountStore { return &AccountStore{s.DB} }

// Create inserts a new account. A clash on the username index is reported as
// domain.ErrUsernameTaken.
func (as *AccountStore) Create(ctx context.Context, a *domain.Account) error {
	now := time.Now().UTC()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Username = strings.TrimSpace(a.Username)

	err := as.db.WithContext(ctx).Create(a).Error
	if err != nil && isUniqueViolation(err) {
		return domain.ErrUsernameTaken
	}
	return wrap("create account", err)
}

// GetByUsername returns (nil, nil) when no such account exists.
func (as *AccountStore) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	var out domain.Account
	err := as.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&out).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get account by username", err)
	}
	return &out, nil
}

// GetByID returns (nil, nil) when no such account exists.
func (as *AccountStore) GetByID(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	var out domain.Account
	err := as.db.WithContext(ctx).First(&out, "id = ?", id).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get account by id", err)
	}
	return &out, nil
}

// LockForUpdate row-locks the account until the surrounding transaction ends,
// serialising credential issuance per user. It reports false when the account
// does not exist. SQLite drops the clause; its single writer already
// serialises.
func (as *AccountStore) LockForUpdate(ctx context.Context, id domain.UserID) (bool, error) {
	var out domain.Account
	err := as.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Select("id").
		First(&out, "id = ?", id).Error
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, wrap("lock account", err)
	}
	return true, nil
}

// UpdatePassword persists a rehashed password.
func (as *AccountStore) UpdatePassword(ctx context.Context, a *domain.Account) error {
	a.UpdatedAt = time.Now().UTC()
	err := as.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", a.ID).Updates(map[string]any{
		"password_algo":   a.PasswordAlgo,
		"password_hash":   a.PasswordHash,
		"password_salt":   a.PasswordSalt,
		"password_params": a.PasswordParams,
		"password_ver":    a.PasswordVer,
		"updated_at":      a.UpdatedAt,
	}).Error
	return wrap("update password", err)
}
