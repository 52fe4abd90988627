package crosschain

import (
	"context"
	"sort"
	"sync"
)

// RegistrationStore persists per-agent network registrations.
type RegistrationStore interface {
	// Put stores or replaces an agent's registration.
	Put(ctx context.Context, reg *Registration) error

	// Get returns an agent's registration, or (nil, nil) when the agent
	// has never registered networks.
	Get(ctx context.Context, agentID string) (*Registration, error)
}

// MemoryRegistrationStore is an in-memory RegistrationStore for tests
// and single-node deployments.
type MemoryRegistrationStore struct {
	mu   sync.RWMutex
	regs map[string]*Registration
}

// NewMemoryRegistrationStore creates an empty in-memory store.
func NewMemoryRegistrationStore() *MemoryRegistrationStore {
	return &MemoryRegistrationStore{regs: make(map[string]*Registration)}
}

func (s *MemoryRegistrationStore) Put(_ context.Context, reg *Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg.AgentID] = cloneRegistration(reg)
	return nil
}

func (s *MemoryRegistrationStore) Get(_ context.Context, agentID string) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.regs[agentID]
	if !ok {
		return nil, nil
	}
	return cloneRegistration(reg), nil
}

func cloneRegistration(reg *Registration) *Registration {
	c := &Registration{AgentID: reg.AgentID, UpdatedAt: reg.UpdatedAt}
	if reg.Networks != nil {
		c.Networks = make([]string, len(reg.Networks))
		copy(c.Networks, reg.Networks)
		sort.Strings(c.Networks)
	}
	return c
}

var _ RegistrationStore = (*MemoryRegistrationStore)(nil)
