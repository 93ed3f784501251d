package testsupport

import (
	"context"
	"testing"

	"creel/internal/config"
	"creel/internal/recording"
	"creel/internal/tasks"
)

// MustOpenStore opens a recording.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *recording.Store {
	t.Helper()

	store, err := recording.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("recording.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenTaskStore opens a tasks.Store for tests and registers cleanup.
func MustOpenTaskStore(t testing.TB, cfg *config.Config, opts ...tasks.StoreOption) *tasks.Store {
	t.Helper()

	store, err := tasks.Open(cfg.DatabasePath(), opts...)
	if err != nil {
		t.Fatalf("tasks.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a job for tests using the provided store.
func NewJob(t testing.TB, store *recording.Store, targetID string) *recording.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), targetID)
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
