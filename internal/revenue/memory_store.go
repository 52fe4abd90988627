package revenue

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/accordproto/accord/internal/amount"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	shares        map[string]*Share // recipient -> share
	distributions map[uint64]*Distribution
	claims        []*Claim
	nextClaimID   int64
	pool          *big.Int
	treasury      *big.Int
	accruedAt     time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shares:        make(map[string]*Share),
		distributions: make(map[uint64]*Distribution),
		pool:          big.NewInt(0),
		treasury:      big.NewInt(0),
	}
}

func (s *Share) clone() *Share {
	c := *s
	return &c
}

// UpsertShare inserts or replaces a holder's share.
func (m *MemoryStore) UpsertShare(ctx context.Context, share *Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[share.RecipientAddress] = share.clone()
	return nil
}

// GetShare returns a holder's share.
func (m *MemoryStore) GetShare(ctx context.Context, recipient string) (*Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	share, ok := m.shares[recipient]
	if !ok {
		return nil, ErrShareNotFound
	}
	return share.clone(), nil
}

// ListShares returns every holder ordered by recipient address.
func (m *MemoryStore) ListShares(ctx context.Context) ([]*Share, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Share, 0, len(m.shares))
	for _, share := range m.shares {
		out = append(out, share.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecipientAddress < out[j].RecipientAddress
	})
	return out, nil
}

// AddAccrual adds deltas to the pool and treasury balances.
func (m *MemoryStore) AddAccrual(ctx context.Context, poolDelta, treasuryDelta string) error {
	p, ok := amount.Parse(poolDelta)
	if !ok || p.Sign() < 0 {
		return ErrInvalidAmount
	}
	t, ok := amount.Parse(treasuryDelta)
	if !ok || t.Sign() < 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool.Add(m.pool, p)
	m.treasury.Add(m.treasury, t)
	m.accruedAt = time.Now().UTC()
	return nil
}

// PoolStatus reports the current pool and treasury balances.
func (m *MemoryStore) PoolStatus(ctx context.Context) (*PoolStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &PoolStatus{
		PoolBalance:     amount.Format(m.pool),
		TreasuryBalance: amount.Format(m.treasury),
		UpdatedAt:       m.accruedAt,
	}, nil
}

// DrainPool zeroes the pool balance and returns the drained amount.
func (m *MemoryStore) DrainPool(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := amount.Format(m.pool)
	m.pool = big.NewInt(0)
	m.accruedAt = time.Now().UTC()
	return drained, nil
}

// CreateDistribution records a completed round.
func (m *MemoryStore) CreateDistribution(ctx context.Context, d *Distribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.distributions[d.PeriodID]; exists {
		return ErrAlreadyDistributed
	}
	c := *d
	m.distributions[d.PeriodID] = &c
	return nil
}

// LatestDistribution returns the most recent round, or nil when none.
func (m *MemoryStore) LatestDistribution(ctx context.Context) (*Distribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Distribution
	for _, d := range m.distributions {
		if latest == nil || d.PeriodID > latest.PeriodID {
			latest = d
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

// ListDistributions returns recent rounds, newest first.
func (m *MemoryStore) ListDistributions(ctx context.Context, limit int) ([]*Distribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Distribution, 0, len(m.distributions))
	for _, d := range m.distributions {
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodID > out[j].PeriodID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateClaim appends a claim record and assigns its ID.
func (m *MemoryStore) CreateClaim(ctx context.Context, claim *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextClaimID++
	claim.ID = m.nextClaimID
	c := *claim
	m.claims = append(m.claims, &c)
	return nil
}

// ListClaims returns a recipient's claims, newest first.
func (m *MemoryStore) ListClaims(ctx context.Context, recipient string, limit int) ([]*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Claim
	for i := len(m.claims) - 1; i >= 0 && len(out) < limit; i-- {
		if m.claims[i].RecipientAddress == recipient {
			c := *m.claims[i]
			out = append(out, &c)
		}
	}
	return out, nil
}
