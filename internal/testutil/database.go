package testutil

import (
	"path/filepath"
	"testing"

	"bt/internal/bt"
	"bt/internal/database"
)

// NewTestDatabase opens a migrated throwaway database in the test's temp
// directory, closed automatically when the test completes. clock and idgen
// may be nil for the real implementations.
func NewTestDatabase(t *testing.T, clock bt.Clock, idgen bt.IDGenerator) *database.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "metadata.db"), clock, idgen)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
