package revenue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/accordproto/accord/internal/amount"
	"github.com/accordproto/accord/internal/logging"
	"github.com/accordproto/accord/internal/metrics"
	"github.com/accordproto/accord/internal/syncutil"
	"github.com/accordproto/accord/internal/traces"
	"github.com/accordproto/accord/internal/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Payer settles reward payouts. The server backs it with the settlement
// gateway; implementations must be idempotent per ref.
type Payer interface {
	Pay(ctx context.Context, recipient, amount, ref string) (string, error)
}

// Service owns the holder table, the fee pool and the payout rounds.
type Service struct {
	store  Store
	payer  Payer
	split  FeeSplit
	strict bool

	locks *syncutil.KeyedMutex // per-recipient share mutations

	mu       sync.Mutex // serializes distribution rounds
	seenRefs sync.Map   // settlement ref -> struct{} for Accumulate idempotency
}

// NewService creates the revenue service. When strict is set, a manual
// round must name exactly the next period; otherwise any period beyond
// the latest is accepted.
func NewService(store Store, payer Payer, split FeeSplit, strict bool) *Service {
	return &Service{
		store:  store,
		payer:  payer,
		split:  split,
		strict: strict,
		locks:  syncutil.NewKeyedMutex(),
	}
}

// Accumulate records the pool and treasury cuts of a gross settlement
// amount. The ref is an idempotency key; a ref seen before accrues
// nothing. Called by escrow settlement after each milestone release.
func (s *Service) Accumulate(ctx context.Context, agentID, grossAmount, ref string) error {
	ctx, span := traces.StartSpan(ctx, "revenue.Accumulate",
		traces.AgentID(agentID), traces.Amount(grossAmount))
	defer span.End()

	if ref != "" {
		if _, loaded := s.seenRefs.LoadOrStore(ref, struct{}{}); loaded {
			return nil // already processed
		}
	}

	gross, ok := amount.Parse(grossAmount)
	if !ok || gross.Sign() <= 0 {
		return nil // nothing to accrue
	}

	_, pool, treasury := s.split.Cut(gross)
	if pool.Sign() <= 0 && treasury.Sign() <= 0 {
		return nil
	}

	if err := s.store.AddAccrual(ctx, amount.Format(pool), amount.Format(treasury)); err != nil {
		// Forget the ref so a retry can accrue.
		if ref != "" {
			s.seenRefs.Delete(ref)
		}
		return fmt.Errorf("record accrual: %w", err)
	}

	metrics.RevenueAccrualsTotal.Inc()
	logging.L(ctx).Debug("revenue accrued",
		"agentId", agentID,
		"pool", amount.Format(pool),
		"treasury", amount.Format(treasury),
		"ref", ref,
	)
	return nil
}

// UpsertHolder creates or updates a holder's participation tokens and
// contribution score. Accumulated rewards survive the update.
func (s *Service) UpsertHolder(ctx context.Context, recipient string, tokens uint64, score float64) (*Share, error) {
	if !validation.IsValidAddress(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}
	recipient = strings.ToLower(recipient)

	unlock := s.locks.Lock(recipient)
	defer unlock()

	share, err := s.store.GetShare(ctx, recipient)
	switch {
	case errors.Is(err, ErrShareNotFound):
		share = &Share{
			RecipientAddress:   recipient,
			AccumulatedRewards: "0.000000",
		}
	case err != nil:
		return nil, fmt.Errorf("load share: %w", err)
	}

	share.ParticipationTokens = tokens
	share.ContributionScore = score
	share.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertShare(ctx, share); err != nil {
		return nil, fmt.Errorf("store share: %w", err)
	}

	logging.L(ctx).Info("revenue holder upserted",
		"recipient", recipient, "tokens", tokens, "score", score)
	return share, nil
}

// Distribute runs a manual payout round of totalRevenue at the given
// period.
func (s *Service) Distribute(ctx context.Context, totalRevenue string, periodID uint64) (*Distribution, error) {
	ctx, span := traces.StartSpan(ctx, "revenue.Distribute",
		traces.PeriodID(periodID), traces.Amount(totalRevenue))
	defer span.End()

	total, ok := amount.Parse(totalRevenue)
	if !ok || total.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, totalRevenue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distributeLocked(ctx, total, periodID)
}

// DistributePool drains the accrued fee pool and distributes it as the
// next period. Returns (nil, nil) when the pool is empty.
func (s *Service) DistributePool(ctx context.Context) (*Distribution, error) {
	ctx, span := traces.StartSpan(ctx, "revenue.DistributePool")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.store.LatestDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest distribution: %w", err)
	}
	var last uint64
	if latest != nil {
		last = latest.PeriodID
	}

	drained, err := s.store.DrainPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain pool: %w", err)
	}
	total, ok := amount.Parse(drained)
	if !ok || total.Sign() <= 0 {
		return nil, nil
	}

	dist, err := s.distributeLocked(ctx, total, last+1)
	if err != nil {
		// Return the drained funds so the next round retries them.
		if addErr := s.store.AddAccrual(ctx, drained, "0"); addErr != nil {
			log.Printf("CRITICAL: pool distribution failed and re-accrual of %s failed: %v", drained, addErr)
		}
		return nil, err
	}
	return dist, nil
}

// distributeLocked runs one round. Caller holds s.mu.
func (s *Service) distributeLocked(ctx context.Context, total *big.Int, periodID uint64) (*Distribution, error) {
	latest, err := s.store.LatestDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest distribution: %w", err)
	}
	var last uint64
	if latest != nil {
		last = latest.PeriodID
	}
	if periodID <= last {
		return nil, fmt.Errorf("%w: period %d", ErrAlreadyDistributed, periodID)
	}
	if s.strict && periodID != last+1 {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrPeriodOutOfOrder, periodID, last+1)
	}

	all, err := s.store.ListShares(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	holders := make([]*Share, 0, len(all))
	for _, h := range all {
		if weight(h).Sign() > 0 {
			holders = append(holders, h)
		}
	}
	if len(holders) == 0 {
		return nil, ErrNoHolders
	}

	parts, remainder := splitByWeight(total, holders)

	// Record the round before crediting. A crash mid-credit shows up as
	// a recorded period with CRITICAL gaps, not as a double credit on
	// retry.
	dist := &Distribution{
		PeriodID:     periodID,
		TotalRevenue: amount.Format(total),
		HolderCount:  len(holders),
		Remainder:    amount.Format(remainder),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateDistribution(ctx, dist); err != nil {
		return nil, fmt.Errorf("record distribution: %w", err)
	}

	for i, h := range holders {
		if parts[i].Sign() == 0 {
			continue
		}
		if err := s.credit(ctx, h.RecipientAddress, parts[i]); err != nil {
			log.Printf("CRITICAL: revenue period %d credit of %s to %s failed: %v",
				periodID, amount.Format(parts[i]), h.RecipientAddress, err)
		}
	}

	metrics.RevenueDistributionsTotal.Inc()
	logging.L(ctx).Info("revenue distributed",
		"period", periodID,
		"total", dist.TotalRevenue,
		"holders", dist.HolderCount,
		"remainder", dist.Remainder,
	)
	return dist, nil
}

// credit adds delta to a holder's accumulated rewards. The per-recipient
// lock and re-read keep it from racing a concurrent claim.
func (s *Service) credit(ctx context.Context, recipient string, delta *big.Int) error {
	unlock := s.locks.Lock(recipient)
	defer unlock()

	share, err := s.store.GetShare(ctx, recipient)
	if err != nil {
		return err
	}
	cur, ok := amount.Parse(share.AccumulatedRewards)
	if !ok {
		cur = big.NewInt(0)
	}
	share.AccumulatedRewards = amount.Format(new(big.Int).Add(cur, delta))
	share.UpdatedAt = time.Now().UTC()
	return s.store.UpsertShare(ctx, share)
}

// Claim pays out and zeroes a holder's accumulated rewards. The claim
// reference is derived from the recipient and the latest period, so a
// crash between payout and the share update replays at the gateway
// instead of paying twice.
func (s *Service) Claim(ctx context.Context, recipient string) (*Claim, error) {
	if !validation.IsValidAddress(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	recipient = strings.ToLower(recipient)

	ctx, span := traces.StartSpan(ctx, "revenue.Claim", traces.Recipient(recipient))
	defer span.End()

	unlock := s.locks.Lock(recipient)
	defer unlock()

	share, err := s.store.GetShare(ctx, recipient)
	if err != nil {
		return nil, err
	}
	rewards, ok := amount.Parse(share.AccumulatedRewards)
	if !ok || rewards.Sign() <= 0 {
		metrics.RevenueClaimsTotal.WithLabelValues("empty").Inc()
		return nil, ErrNothingToClaim
	}

	latest, err := s.store.LatestDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest distribution: %w", err)
	}
	var period uint64
	if latest != nil {
		period = latest.PeriodID
	}

	claimed := amount.Format(rewards)
	ref := fmt.Sprintf("clm:%s:%d", recipient, period)
	txRef, err := s.payer.Pay(ctx, recipient, claimed, ref)
	if err != nil {
		metrics.RevenueClaimsTotal.WithLabelValues("pay_failed").Inc()
		return nil, fmt.Errorf("pay rewards: %w", err)
	}

	share.AccumulatedRewards = "0.000000"
	share.LastClaimPeriod = period
	share.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertShare(ctx, share); err != nil {
		// Rewards already paid. Retry once before giving up.
		if err2 := s.store.UpsertShare(ctx, share); err2 != nil {
			log.Printf("CRITICAL: claim for %s paid %s but share update failed: %v", recipient, claimed, err2)
			return nil, fmt.Errorf("rewards paid but share update failed: %w", err2)
		}
	}

	claim := &Claim{
		RecipientAddress: recipient,
		Amount:           claimed,
		PeriodID:         period,
		TxRef:            txRef,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateClaim(ctx, claim); err != nil {
		log.Printf("CRITICAL: claim history for %s period %d lost: %v", recipient, period, err)
	}

	metrics.RevenueClaimsTotal.WithLabelValues("ok").Inc()
	logging.L(ctx).Info("rewards claimed",
		"recipient", recipient, "amount", claimed, "period", period, "txRef", txRef)
	return claim, nil
}

// GetShare returns a holder's share.
func (s *Service) GetShare(ctx context.Context, recipient string) (*Share, error) {
	if !validation.IsValidAddress(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return s.store.GetShare(ctx, strings.ToLower(recipient))
}

// PoolStatus reports the undistributed pool and treasury balances.
func (s *Service) PoolStatus(ctx context.Context) (*PoolStatus, error) {
	return s.store.PoolStatus(ctx)
}

// ListDistributions returns recent rounds, newest first.
func (s *Service) ListDistributions(ctx context.Context, limit int) ([]*Distribution, error) {
	return s.store.ListDistributions(ctx, clampLimit(limit))
}

// ListClaims returns a recipient's claim history, newest first.
func (s *Service) ListClaims(ctx context.Context, recipient string, limit int) ([]*Claim, error) {
	if !validation.IsValidAddress(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return s.store.ListClaims(ctx, strings.ToLower(recipient), clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
