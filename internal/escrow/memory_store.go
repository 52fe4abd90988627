package escrow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/accordproto/accord/internal/pagination"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[string]*Escrow // escrow_id -> escrow
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escrows: make(map[string]*Escrow)}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// clone deep-copies an escrow. Milestones get a fresh backing array so
// callers can mutate their copy without racing the store.
func (e *Escrow) clone() *Escrow {
	c := *e
	c.Milestones = append([]Milestone(nil), e.Milestones...)
	return &c
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrows[e.ID] = e.clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return e.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[e.ID]; !ok {
		return ErrEscrowNotFound
	}
	m.escrows[e.ID] = e.clone()
	return nil
}

func (m *MemoryStore) ListByAgent(ctx context.Context, agentID string, cursor *pagination.Cursor, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Escrow, 0)
	for _, e := range m.escrows {
		if e.AgentID != agentID {
			continue
		}
		if cursor != nil && !afterCursor(e, cursor) {
			continue
		}
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// afterCursor reports whether e sorts strictly after the cursor in
// (created_at DESC, id ASC) order.
func afterCursor(e *Escrow, c *pagination.Cursor) bool {
	if e.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return e.CreatedAt.Equal(c.CreatedAt) && e.ID > c.ID
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Escrow, 0)
	for _, e := range m.escrows {
		if e.Frozen || e.IsTerminal() || !e.Deadline.Before(before) {
			continue
		}
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Deadline.Before(out[j].Deadline)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
