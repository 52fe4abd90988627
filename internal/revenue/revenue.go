// Package revenue pools protocol fees and pays them out to participation
// token holders.
//
// Flow:
//  1. An escrow settlement reports gross revenue → Accumulate carves out
//     the pool and treasury cuts per the fee split policy
//  2. The pool grows until the distributor fires (or an operator runs a
//     manual round)
//  3. Distribute divides the round total across holders weighted by
//     participation tokens × contribution score, in exact integer math;
//     rounding dust goes to the largest share so nothing leaks
//  4. Holders claim their accumulated rewards whenever they like; the
//     claim zeroes the balance atomically and pays through the gateway
//
// Distribution periods are ordered. A replayed period returns
// ErrAlreadyDistributed and credits nothing.
package revenue

import (
	"context"
	"errors"
	"math"
	"math/big"
	"time"
)

// Errors
var (
	ErrShareNotFound      = errors.New("revenue: share not found")
	ErrInvalidRecipient   = errors.New("revenue: invalid recipient address")
	ErrInvalidScore       = errors.New("revenue: contribution score must be within [0, 1]")
	ErrInvalidAmount      = errors.New("revenue: invalid amount")
	ErrNoHolders          = errors.New("revenue: no eligible holders")
	ErrAlreadyDistributed = errors.New("revenue: period already distributed")
	ErrPeriodOutOfOrder   = errors.New("revenue: period out of order")
	ErrNothingToClaim     = errors.New("revenue: nothing to claim")
	ErrInvalidFeeSplit    = errors.New("revenue: fee split must sum to 10000 basis points")
)

// Share is one holder's position in the revenue pool. AccumulatedRewards
// only grows through distribution rounds and only shrinks to zero through
// a claim.
type Share struct {
	RecipientAddress    string    `json:"recipientAddress"`
	ParticipationTokens uint64    `json:"participationTokens"`
	ContributionScore   float64   `json:"contributionScore"`
	AccumulatedRewards  string    `json:"accumulatedRewards"`
	LastClaimPeriod     uint64    `json:"lastClaimPeriod"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Distribution records one completed payout round. Remainder is the
// rounding dust that was folded into the largest share.
type Distribution struct {
	PeriodID     uint64    `json:"periodId"`
	TotalRevenue string    `json:"totalRevenue"`
	HolderCount  int       `json:"holderCount"`
	Remainder    string    `json:"remainder"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Claim is one paid-out reward claim. The ID is assigned by the store.
type Claim struct {
	ID               int64     `json:"id"`
	RecipientAddress string    `json:"recipientAddress"`
	Amount           string    `json:"amount"`
	PeriodID         uint64    `json:"periodId"`
	TxRef            string    `json:"txRef"`
	CreatedAt        time.Time `json:"createdAt"`
}

// PoolStatus reports the undistributed pool and the accrued treasury cut.
type PoolStatus struct {
	PoolBalance     string    `json:"poolBalance"`
	TreasuryBalance string    `json:"treasuryBalance"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// FeeSplit carves gross settlement revenue into the agent, pool and
// treasury cuts, in basis points summing to 10000.
type FeeSplit struct {
	AgentBPS    int
	PoolBPS     int
	TreasuryBPS int
}

// NewFeeSplit validates a fee split policy.
func NewFeeSplit(agentBPS, poolBPS, treasuryBPS int) (FeeSplit, error) {
	if agentBPS < 0 || poolBPS < 0 || treasuryBPS < 0 ||
		agentBPS+poolBPS+treasuryBPS != 10000 {
		return FeeSplit{}, ErrInvalidFeeSplit
	}
	return FeeSplit{AgentBPS: agentBPS, PoolBPS: poolBPS, TreasuryBPS: treasuryBPS}, nil
}

// Cut splits gross into agent, pool and treasury portions. The pool and
// treasury cuts floor; the agent keeps the rest, so the three parts
// always sum to gross exactly.
func (f FeeSplit) Cut(gross *big.Int) (agent, pool, treasury *big.Int) {
	pool = new(big.Int).Mul(gross, big.NewInt(int64(f.PoolBPS)))
	pool.Div(pool, big.NewInt(10000))
	treasury = new(big.Int).Mul(gross, big.NewInt(int64(f.TreasuryBPS)))
	treasury.Div(treasury, big.NewInt(10000))
	agent = new(big.Int).Sub(gross, pool)
	agent.Sub(agent, treasury)
	return agent, pool, treasury
}

// Store persists revenue shares, pool accrual, distributions and claims.
type Store interface {
	// UpsertShare inserts or replaces a holder's share, keyed by
	// recipient address.
	UpsertShare(ctx context.Context, share *Share) error
	// GetShare returns a holder's share or ErrShareNotFound.
	GetShare(ctx context.Context, recipient string) (*Share, error)
	// ListShares returns every holder ordered by recipient address.
	ListShares(ctx context.Context) ([]*Share, error)

	// AddAccrual adds deltas to the pool and treasury balances.
	AddAccrual(ctx context.Context, poolDelta, treasuryDelta string) error
	// PoolStatus reports the current pool and treasury balances.
	PoolStatus(ctx context.Context) (*PoolStatus, error)
	// DrainPool atomically zeroes the pool balance and returns the
	// drained amount.
	DrainPool(ctx context.Context) (string, error)

	// CreateDistribution records a completed round. A duplicate period
	// returns ErrAlreadyDistributed.
	CreateDistribution(ctx context.Context, d *Distribution) error
	// LatestDistribution returns the most recent round, or nil when no
	// round has run yet.
	LatestDistribution(ctx context.Context) (*Distribution, error)
	// ListDistributions returns recent rounds, newest first.
	ListDistributions(ctx context.Context, limit int) ([]*Distribution, error)

	// CreateClaim appends a claim record and assigns its ID.
	CreateClaim(ctx context.Context, claim *Claim) error
	// ListClaims returns a recipient's claims, newest first.
	ListClaims(ctx context.Context, recipient string, limit int) ([]*Claim, error)
}

// weight is the holder's integer distribution weight. Contribution
// scores are scaled to basis points so the weighting stays in exact
// integer arithmetic.
func weight(s *Share) *big.Int {
	bps := int64(math.Round(s.ContributionScore * 10000))
	if bps <= 0 || s.ParticipationTokens == 0 {
		return big.NewInt(0)
	}
	w := new(big.Int).SetUint64(s.ParticipationTokens)
	return w.Mul(w, big.NewInt(bps))
}

// splitByWeight divides total across the holders in proportion to their
// weights. Every part is the floor of its exact share; the remainder is
// folded into the largest part (ties broken by the lexicographically
// smallest address) so the parts always sum to total.
func splitByWeight(total *big.Int, holders []*Share) (parts []*big.Int, remainder *big.Int) {
	sum := big.NewInt(0)
	weights := make([]*big.Int, len(holders))
	for i, h := range holders {
		weights[i] = weight(h)
		sum.Add(sum, weights[i])
	}

	parts = make([]*big.Int, len(holders))
	paid := big.NewInt(0)
	for i, w := range weights {
		p := new(big.Int).Mul(total, w)
		p.Div(p, sum)
		parts[i] = p
		paid.Add(paid, p)
	}

	largest := 0
	for i := 1; i < len(parts); i++ {
		switch parts[i].Cmp(parts[largest]) {
		case 1:
			largest = i
		case 0:
			if holders[i].RecipientAddress < holders[largest].RecipientAddress {
				largest = i
			}
		}
	}

	remainder = new(big.Int).Sub(total, paid)
	if remainder.Sign() > 0 {
		parts[largest] = new(big.Int).Add(parts[largest], remainder)
	}
	return parts, remainder
}

// UpsertHolderRequest is the request body for POST /v1/admin/revenue/holders.
type UpsertHolderRequest struct {
	RecipientAddress    string  `json:"recipientAddress" binding:"required"`
	ParticipationTokens uint64  `json:"participationTokens"`
	ContributionScore   float64 `json:"contributionScore"`
}

// DistributeRequest is the request body for POST /v1/admin/revenue/distribute.
type DistributeRequest struct {
	TotalRevenue string `json:"totalRevenue" binding:"required"`
	PeriodID     uint64 `json:"periodId" binding:"required"`
}
