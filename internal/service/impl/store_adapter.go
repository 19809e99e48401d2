package impl

import (
	"context"
	"errors"
	"time"

	"chatroom/internal/domain"
	"chatroom/internal/store"
)

type dataStore interface {
	WithTx(ctx context.Context, fn func(tx storeTx) error) error
	storeTx
}

type storeTx interface {
	Accounts() accountStore
	Credentials() credentialStore
}

type accountStore interface {
	Create(ctx context.Context, a *domain.Account) error
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetByID(ctx context.Context, id domain.UserID) (*domain.Account, error)
	LockForUpdate(ctx context.Context, id domain.UserID) (bool, error)
	UpdatePassword(ctx context.Context, a *domain.Account) error
}

type credentialStore interface {
	Create(ctx context.Context, c *domain.Credential) error
	FindLiveByHash(ctx context.Context, hash string, now time.Time) (*domain.Credential, error)
	FindByHash(ctx context.Context, hash string) (*domain.Credential, error)
	RevokeByHash(ctx context.Context, hash string, now time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID domain.UserID, now time.Time) (int64, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	PurgeDead(ctx context.Context, now time.Time) (int64, error)
	ListForUser(ctx context.Context, userID domain.UserID, liveOnly bool, now time.Time) ([]domain.Credential, error)
}

type gormStoreAdapter struct {
	store *store.Store
}

func newGormStoreAdapter(st *store.Store) gormStoreAdapter { return gormStoreAdapter{store: st} }

func (g gormStoreAdapter) WithTx(ctx context.Context, fn func(tx storeTx) error) error {
	if g.store == nil {
		return errors.New("nil store")
	}
	return g.store.WithTx(ctx, func(tx *store.Store) error {
		return fn(gormStoreAdapter{store: tx})
	})
}

func (g gormStoreAdapter) Accounts() accountStore { return g.store.Accounts() }

func (g gormStoreAdapter) Credentials() credentialStore { return g.store.Credentials() }
