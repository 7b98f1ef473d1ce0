package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"crepo/internal/cr"
	"crepo/internal/database"
)

// NewTestStore returns an initialized store on a SQLite file in t.TempDir().
// Timestamps come from FixedClock and UUIDs from a StubIDGenerator. The store is
// closed when the test completes.
func NewTestStore(t *testing.T) *database.Store {
	t.Helper()
	return NewTestStoreAt(t, filepath.Join(t.TempDir(), "central_repository.db"))
}

// NewTestStoreAt is NewTestStore on a caller-chosen path.
func NewTestStoreAt(t *testing.T, path string) *database.Store {
	t.Helper()

	s := database.NewStore(database.NewSQLiteProvider(path), database.Options{
		Logger:   cr.NewNopLogger(),
		Clock:    FixedClock(),
		IDs:      NewStubIDGenerator(),
		Examiner: "tester",
	})
	if err := s.Initialize(context.Background()); err != nil {
		s.Close()
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
