// Package storetest opens throw-away databases for package tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"uniattend/internal/store"
)

// New opens a migrated SQLite database under t.TempDir and closes it when the
// test ends.
func New(t testing.TB) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "uniattend.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
