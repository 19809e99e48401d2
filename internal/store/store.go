package store

import (
	"context"

	"chatroom/internal/domain"

	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{DB: db} }

// WithTx runs fn inside one transaction. Any error from fn rolls it back;
// begin/commit failures surface as domain.ErrStoreUnavailable.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	var fnErr error
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Store{DB: tx})
		return fnErr
	})
	if err == nil || (fnErr != nil && err == fnErr) {
		return err
	}
	return wrap("transaction", err)
}

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&domain.Account{},
		&domain.Credential{},
		&domain.Presence{},
		&domain.Message{},
	}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return wrap("automigrate", s.DB.WithContext(ctx).AutoMigrate(Models()...))
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return wrap("ping", err)
	}
	return wrap("ping", sqlDB.PingContext(ctx))
}
