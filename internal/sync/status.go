package sync

import (
	"context"
	gosync "sync"
	"time"
)

// DefaultStaleAfter is how long an in-flight record may go without a write before it is abandoned.
const DefaultStaleAfter = 30 * time.Minute

// MemoryStatusStore keeps the latest progress per creator in process memory.
// Each creator has its own lock, so runs for different creators never contend.
type MemoryStatusStore struct {
	entries    gosync.Map
	now        func() time.Time
	staleAfter time.Duration
}

// statusEntry is the progress record of one creator.
type statusEntry struct {
	mu       gosync.Mutex
	progress *Progress
}

// NewMemoryStatusStore creates an in-memory status store.
// In-flight records untouched for staleAfter are taken over by the next TryBegin; zero disables this.
func NewMemoryStatusStore(staleAfter time.Duration) *MemoryStatusStore {
	return &MemoryStatusStore{
		now:        time.Now,
		staleAfter: staleAfter,
	}
}

// RecordProgress implements StatusStore.
func (m *MemoryStatusStore) RecordProgress(_ context.Context, creatorID string, p Progress) error {
	entry := m.entry(creatorID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	current := entry.progress
	if current == nil || current.RunID != p.RunID {
		return ErrRunSuperseded
	}
	if p.Seq <= current.Seq {
		return nil
	}

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.now()
	}
	entry.progress = &p
	return nil
}

// Status implements StatusStore.
func (m *MemoryStatusStore) Status(_ context.Context, creatorID string) (*Progress, error) {
	v, ok := m.entries.Load(creatorID)
	if !ok {
		return nil, nil
	}
	entry := v.(*statusEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.progress == nil {
		return nil, nil
	}
	p := *entry.progress
	return &p, nil
}

// TryBegin implements StatusStore.
func (m *MemoryStatusStore) TryBegin(_ context.Context, creatorID string, p Progress) (bool, error) {
	entry := m.entry(creatorID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := m.now()
	current := entry.progress
	if current.InFlight() && !current.Abandoned(now, m.staleAfter) {
		return false, nil
	}

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	entry.progress = &p
	return true, nil
}

// entry returns the creator's record, creating an empty one on first use.
func (m *MemoryStatusStore) entry(creatorID string) *statusEntry {
	if v, ok := m.entries.Load(creatorID); ok {
		return v.(*statusEntry)
	}
	v, _ := m.entries.LoadOrStore(creatorID, &statusEntry{})
	return v.(*statusEntry)
}
