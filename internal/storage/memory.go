package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/peteski22/creatorsync/internal/creator"
)

// MemoryStore keeps creators, fans and transactions in process memory.
// It applies the same uniqueness keys as the SQL schema.
type MemoryStore struct {
	creators     map[string]creator.Creator
	fans         map[string]creator.Fan
	mu           sync.RWMutex
	now          func() time.Time
	transactions map[string]creator.Transaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creators:     make(map[string]creator.Creator),
		fans:         make(map[string]creator.Fan),
		now:          time.Now,
		transactions: make(map[string]creator.Transaction),
	}
}

// UpsertFans stores fans, refreshing known ones while keeping their internal ID.
func (m *MemoryStore) UpsertFans(_ context.Context, fans []creator.Fan) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, f := range fans {
		key := fanKey(f.CreatorID, f.ExternalID)
		if existing, ok := m.fans[key]; ok {
			f.ID = existing.ID
		} else {
			inserted++
		}
		m.fans[key] = f
	}

	return inserted, nil
}

// AppendTransactions stores transactions not already known.
func (m *MemoryStore) AppendTransactions(_ context.Context, transactions []creator.Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, t := range transactions {
		if _, ok := m.transactions[t.ExternalID]; ok {
			continue
		}
		m.transactions[t.ExternalID] = t
		inserted++
	}

	return inserted, nil
}

// Creator returns the creator with the given ID, or creator.ErrNotFound.
func (m *MemoryStore) Creator(_ context.Context, id string) (*creator.Creator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.creators[id]
	if !ok {
		return nil, creator.ErrNotFound
	}

	return &c, nil
}

// Creators returns every stored creator ordered by ID.
func (m *MemoryStore) Creators(_ context.Context) ([]creator.Creator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	creators := make([]creator.Creator, 0, len(m.creators))
	for _, c := range m.creators {
		creators = append(creators, c)
	}
	slices.SortFunc(creators, func(a, b creator.Creator) int {
		return strings.Compare(a.ID, b.ID)
	})

	return creators, nil
}

// Fans returns a creator's stored fans ordered by external ID.
func (m *MemoryStore) Fans(_ context.Context, creatorID string) ([]creator.Fan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fans []creator.Fan
	for _, f := range m.fans {
		if f.CreatorID == creatorID {
			fans = append(fans, f)
		}
	}
	slices.SortFunc(fans, func(a, b creator.Fan) int {
		return strings.Compare(a.ExternalID, b.ExternalID)
	})

	return fans, nil
}

// LastSyncTime returns when the creator's last successful sync started, zero if never.
func (m *MemoryStore) LastSyncTime(_ context.Context, creatorID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.creators[creatorID].LastSyncedAt, nil
}

// SaveCreator inserts a creator or updates its name and handle. Metrics and sync state are kept.
func (m *MemoryStore) SaveCreator(_ context.Context, c creator.Creator) error {
	if c.ID == "" {
		return errors.New("creator ID is required")
	}
	if c.ExternalHandle == "" {
		return errors.New("external handle is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	existing, ok := m.creators[c.ID]
	if !ok {
		existing = creator.Creator{ID: c.ID, CreatedAt: now}
	}
	existing.ExternalHandle = c.ExternalHandle
	existing.Name = c.Name
	existing.UpdatedAt = now
	m.creators[c.ID] = existing

	return nil
}

// SetLastSyncTime records the start of the creator's last successful sync.
func (m *MemoryStore) SetLastSyncTime(_ context.Context, creatorID string, t time.Time) error {
	return m.updateCreator(creatorID, func(c *creator.Creator) {
		c.LastSyncedAt = t
	})
}

// Transactions returns a creator's stored transactions ordered by creation time.
func (m *MemoryStore) Transactions(_ context.Context, creatorID string) ([]creator.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var transactions []creator.Transaction
	for _, t := range m.transactions {
		if t.CreatorID == creatorID {
			transactions = append(transactions, t)
		}
	}
	slices.SortFunc(transactions, func(a, b creator.Transaction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ExternalID, b.ExternalID)
	})

	return transactions, nil
}

// UpdateCreatorMetrics replaces the creator's derived metrics.
func (m *MemoryStore) UpdateCreatorMetrics(_ context.Context, creatorID string, metrics creator.Metrics) error {
	return m.updateCreator(creatorID, func(c *creator.Creator) {
		c.Metrics = metrics
		c.UpdatedAt = m.now().UTC()
	})
}

func (m *MemoryStore) updateCreator(creatorID string, update func(c *creator.Creator)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.creators[creatorID]
	if !ok {
		return fmt.Errorf("updating creator %s: %w", creatorID, creator.ErrNotFound)
	}
	update(&c)
	m.creators[creatorID] = c

	return nil
}

func fanKey(creatorID string, externalID string) string {
	return creatorID + "\x00" + externalID
}
