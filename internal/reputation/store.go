package reputation

import (
	"context"
	"sort"
	"sync"
)

// EventStore persists reputation events. Append assigns the sequence ID
// and must never mutate or drop an existing event.
type EventStore interface {
	Append(ctx context.Context, event *Event) error

	// ListByAgent returns all events for an agent in fold order
	// (CreatedAt ascending, ID ascending).
	ListByAgent(ctx context.Context, agentID string) ([]*Event, error)

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, agentID string, limit int) ([]*Event, error)
}

// NetworkScoreStore persists per-network score visibility rows.
type NetworkScoreStore interface {
	Upsert(ctx context.Context, score *NetworkScore) error
	ListByAgent(ctx context.Context, agentID string) ([]*NetworkScore, error)

	// Agents returns every agent id with at least one synced network.
	Agents(ctx context.Context) ([]string, error)
}

// MemoryEventStore implements EventStore in memory.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]*Event
	nextID int64
}

var _ EventStore = (*MemoryEventStore)(nil)

// NewMemoryEventStore creates an in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: make(map[string][]*Event),
		nextID: 1,
	}
}

func (m *MemoryEventStore) Append(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event.ID = m.nextID
	m.nextID++

	m.events[event.AgentID] = append(m.events[event.AgentID], cloneEvent(event))
	return nil
}

func (m *MemoryEventStore) ListByAgent(_ context.Context, agentID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.events[agentID]
	out := make([]*Event, 0, len(stored))
	for _, ev := range stored {
		out = append(out, cloneEvent(ev))
	}
	// Stored in append order; IDs are a global sequence, so this only
	// reorders if clocks ran backwards between appends.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryEventStore) Recent(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	all, err := m.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]*Event, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func cloneEvent(ev *Event) *Event {
	c := *ev
	if ev.Networks != nil {
		c.Networks = append([]string(nil), ev.Networks...)
	}
	return &c
}

// MemoryNetworkScoreStore implements NetworkScoreStore in memory.
type MemoryNetworkScoreStore struct {
	mu     sync.RWMutex
	scores map[string]map[string]*NetworkScore
}

var _ NetworkScoreStore = (*MemoryNetworkScoreStore)(nil)

// NewMemoryNetworkScoreStore creates an in-memory network score store.
func NewMemoryNetworkScoreStore() *MemoryNetworkScoreStore {
	return &MemoryNetworkScoreStore{
		scores: make(map[string]map[string]*NetworkScore),
	}
}

func (m *MemoryNetworkScoreStore) Upsert(_ context.Context, score *NetworkScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.scores[score.AgentID]
	if rows == nil {
		rows = make(map[string]*NetworkScore)
		m.scores[score.AgentID] = rows
	}
	c := *score
	rows[score.Network] = &c
	return nil
}

func (m *MemoryNetworkScoreStore) ListByAgent(_ context.Context, agentID string) ([]*NetworkScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.scores[agentID]
	out := make([]*NetworkScore, 0, len(rows))
	for _, row := range rows {
		c := *row
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Network < out[j].Network })
	return out, nil
}

func (m *MemoryNetworkScoreStore) Agents(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.scores))
	for agentID, rows := range m.scores {
		if len(rows) > 0 {
			out = append(out, agentID)
		}
	}
	sort.Strings(out)
	return out, nil
}
