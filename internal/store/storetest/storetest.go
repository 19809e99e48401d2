// Package storetest opens throwaway sqlite databases for tests.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"chatroom/internal/store"
	"chatroom/pkg/db"

	"github.com/google/uuid"
)

// Open returns a migrated store backed by a private in-memory sqlite database.
func Open(t testing.TB) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:chat_%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.OpenGorm(db.Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(gdb)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return st
}
