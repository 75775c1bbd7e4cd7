package storage

import (
	"context"
	"time"
)

// NoopStateStore is a state store that does nothing.
// Used for dry-run mode where we don't persist state.
type NoopStateStore struct {
	since time.Time
}

// NewNoopStateStore creates a new NoopStateStore that reports since as every creator's last sync.
// A zero since makes every run an initial sync.
func NewNoopStateStore(since time.Time) *NoopStateStore {
	return &NoopStateStore{since: since}
}

// LastSyncTime returns the configured time.
func (s *NoopStateStore) LastSyncTime(_ context.Context, _ string) (time.Time, error) {
	return s.since, nil
}

// SetLastSyncTime does nothing.
func (s *NoopStateStore) SetLastSyncTime(_ context.Context, _ string, _ time.Time) error {
	return nil
}
