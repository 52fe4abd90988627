package registry

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/accordproto/accord/internal/amount"
)

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// Store defines the persistence interface for agent profiles.
//
// Find's ordering is part of the contract: reputation descending, then
// staked amount descending, then agent id ascending. Every
// implementation must produce the same order for the same data so
// pagination is reproducible across backends.
type Store interface {
	Create(ctx context.Context, profile *Profile) error
	Get(ctx context.Context, agentID string) (*Profile, error)
	Update(ctx context.Context, profile *Profile) error
	Find(ctx context.Context, query Query) ([]*Profile, error)
	Count(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// In-Memory Store
// -----------------------------------------------------------------------------

// MemoryStore is a thread-safe in-memory implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile // agent_id -> profile
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*Profile),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, profile *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.profiles[profile.AgentID]; exists {
		return ErrDuplicateAgent
	}

	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	m.profiles[profile.AgentID] = profile.clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, agentID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, exists := m.profiles[agentID]
	if !exists {
		return nil, ErrAgentNotFound
	}
	return profile.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, profile *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.profiles[profile.AgentID]; !exists {
		return ErrAgentNotFound
	}

	profile.UpdatedAt = time.Now()
	m.profiles[profile.AgentID] = profile.clone()
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, query Query) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if query.Limit <= 0 {
		query.Limit = 50
	}

	var maxRate *big.Int
	if query.MaxPaymentRate != "" {
		if v, ok := amount.Parse(query.MaxPaymentRate); ok {
			maxRate = v
		}
	}

	type candidate struct {
		profile *Profile
		staked  *big.Int
	}
	var candidates []candidate

	for _, profile := range m.profiles {
		if profile.Deactivated {
			continue
		}
		if !hasAllCapabilities(profile.Capabilities, query.Capabilities) {
			continue
		}
		if profile.ReputationScore < query.MinReputation {
			continue
		}
		if maxRate != nil && profile.PaymentRate != "" {
			if rate, ok := amount.Parse(profile.PaymentRate); ok && rate.Cmp(maxRate) > 0 {
				continue
			}
		}
		if query.Network != "" && !containsString(profile.SupportedNetworks, query.Network) {
			continue
		}

		staked, ok := amount.Parse(profile.StakedAmount)
		if !ok {
			staked = big.NewInt(0)
		}
		candidates = append(candidates, candidate{profile: profile.clone(), staked: staked})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.profile.ReputationScore != b.profile.ReputationScore {
			return a.profile.ReputationScore > b.profile.ReputationScore
		}
		if c := a.staked.Cmp(b.staked); c != 0 {
			return c > 0
		}
		return a.profile.AgentID < b.profile.AgentID
	})

	if query.Offset >= len(candidates) {
		return []*Profile{}, nil
	}
	end := query.Offset + query.Limit
	if end > len(candidates) {
		end = len(candidates)
	}

	results := make([]*Profile, 0, end-query.Offset)
	for _, c := range candidates[query.Offset:end] {
		results = append(results, c.profile)
	}
	return results, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.profiles)), nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
