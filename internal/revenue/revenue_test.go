package revenue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/accordproto/accord/internal/amount"
)

const (
	holderOne   = "0x1111111111111111111111111111111111111111"
	holderTwo   = "0x2222222222222222222222222222222222222222"
	holderThree = "0x3333333333333333333333333333333333333333"
	holderFour  = "0x4444444444444444444444444444444444444444"
	holderFive  = "0x5555555555555555555555555555555555555555"
)

// ============================================================================
// Test doubles
// ============================================================================

type fakePayer struct {
	mu   sync.Mutex
	err  error
	paid map[string]string // ref -> amount
}

func (p *fakePayer) Pay(ctx context.Context, recipient, amt, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.paid == nil {
		p.paid = make(map[string]string)
	}
	if prev, ok := p.paid[ref]; ok && prev != amt {
		return "", fmt.Errorf("ref %s replayed with %s, first saw %s", ref, amt, prev)
	}
	p.paid[ref] = amt
	return "tx_" + ref, nil
}

func (p *fakePayer) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePayer) amountFor(ref string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paid[ref]
}

func (p *fakePayer) totalPaid() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum := big.NewInt(0)
	for _, a := range p.paid {
		v, ok := amount.Parse(a)
		if !ok {
			continue
		}
		sum.Add(sum, v)
	}
	return amount.Format(sum)
}

// hookedStore wraps the memory store with injectable failures.
type hookedStore struct {
	Store
	mu         sync.Mutex
	accrualErr error
	upsertHook func(*Share) error
}

func (h *hookedStore) setAccrualErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accrualErr = err
}

func (h *hookedStore) setUpsertHook(hook func(*Share) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.upsertHook = hook
}

func (h *hookedStore) AddAccrual(ctx context.Context, poolDelta, treasuryDelta string) error {
	h.mu.Lock()
	err := h.accrualErr
	h.mu.Unlock()
	if err != nil {
		return err
	}
	return h.Store.AddAccrual(ctx, poolDelta, treasuryDelta)
}

func (h *hookedStore) UpsertShare(ctx context.Context, share *Share) error {
	h.mu.Lock()
	hook := h.upsertHook
	h.mu.Unlock()
	if hook != nil {
		if err := hook(share); err != nil {
			return err
		}
	}
	return h.Store.UpsertShare(ctx, share)
}

// ============================================================================
// Helpers
// ============================================================================

func newTestService(t *testing.T) (*Service, *fakePayer) {
	t.Helper()
	payer := &fakePayer{}
	split, err := NewFeeSplit(7000, 2000, 1000)
	if err != nil {
		t.Fatalf("NewFeeSplit: %v", err)
	}
	return NewService(NewMemoryStore(), payer, split, true), payer
}

func upsert(t *testing.T, svc *Service, addr string, tokens uint64, score float64) {
	t.Helper()
	if _, err := svc.UpsertHolder(context.Background(), addr, tokens, score); err != nil {
		t.Fatalf("UpsertHolder(%s): %v", addr, err)
	}
}

func rewardsOf(t *testing.T, svc *Service, addr string) string {
	t.Helper()
	share, err := svc.GetShare(context.Background(), addr)
	if err != nil {
		t.Fatalf("GetShare(%s): %v", addr, err)
	}
	return share.AccumulatedRewards
}

// ============================================================================
// Fee split
// ============================================================================

func TestFeeSplitCut(t *testing.T) {
	split, err := NewFeeSplit(7000, 2000, 1000)
	if err != nil {
		t.Fatalf("NewFeeSplit: %v", err)
	}

	gross := amount.MustParse("100.000000")
	agent, pool, treasury := split.Cut(gross)
	if got := amount.Format(agent); got != "70.000000" {
		t.Errorf("agent cut = %s, want 70.000000", got)
	}
	if got := amount.Format(pool); got != "20.000000" {
		t.Errorf("pool cut = %s, want 20.000000", got)
	}
	if got := amount.Format(treasury); got != "10.000000" {
		t.Errorf("treasury cut = %s, want 10.000000", got)
	}

	// One micro-unit: pool and treasury floor to zero, agent keeps it all.
	agent, pool, treasury = split.Cut(amount.MustParse("0.000001"))
	if agent.Int64() != 1 || pool.Int64() != 0 || treasury.Int64() != 0 {
		t.Errorf("micro cut = %d/%d/%d, want 1/0/0",
			agent.Int64(), pool.Int64(), treasury.Int64())
	}

	// Odd gross: the parts still sum to gross exactly.
	gross = amount.MustParse("0.000007")
	agent, pool, treasury = split.Cut(gross)
	sum := new(big.Int).Add(agent, pool)
	sum.Add(sum, treasury)
	if sum.Cmp(gross) != 0 {
		t.Errorf("parts sum to %s, want %s", sum, gross)
	}

	if _, err := NewFeeSplit(7000, 2000, 2000); !errors.Is(err, ErrInvalidFeeSplit) {
		t.Errorf("oversubscribed split: got %v, want ErrInvalidFeeSplit", err)
	}
	if _, err := NewFeeSplit(-1, 9001, 1000); !errors.Is(err, ErrInvalidFeeSplit) {
		t.Errorf("negative split: got %v, want ErrInvalidFeeSplit", err)
	}
}

// ============================================================================
// Distribution
// ============================================================================

func TestDistributeProportionalShares(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	upsert(t, svc, holderOne, 2000, 0.85)
	upsert(t, svc, holderTwo, 5000, 0.90)
	upsert(t, svc, holderThree, 1500, 0.95)
	upsert(t, svc, holderFour, 3000, 0.80)
	upsert(t, svc, holderFive, 2500, 0.88)

	dist, err := svc.Distribute(ctx, "10000.000000", 1)
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if dist.PeriodID != 1 {
		t.Errorf("PeriodID = %d, want 1", dist.PeriodID)
	}
	if dist.TotalRevenue != "10000.000000" {
		t.Errorf("TotalRevenue = %s, want 10000.000000", dist.TotalRevenue)
	}
	if dist.HolderCount != 5 {
		t.Errorf("HolderCount = %d, want 5", dist.HolderCount)
	}
	if dist.Remainder != "0.000001" {
		t.Errorf("Remainder = %s, want 0.000001", dist.Remainder)
	}

	// Weights are tokens x score. The single micro-unit of rounding dust
	// lands on the largest share (holder two).
	want := map[string]string{
		holderOne:   "1390.593047",
		holderTwo:   "3680.981596",
		holderThree: "1165.644171",
		holderFour:  "1963.190184",
		holderFive:  "1799.591002",
	}
	sum := big.NewInt(0)
	for addr, expected := range want {
		got := rewardsOf(t, svc, addr)
		if got != expected {
			t.Errorf("rewards(%s) = %s, want %s", addr, got, expected)
		}
		v, ok := amount.Parse(got)
		if !ok {
			t.Fatalf("rewards(%s) = %q does not parse", addr, got)
		}
		sum.Add(sum, v)
	}
	if got := amount.Format(sum); got != "10000.000000" {
		t.Errorf("credited total = %s, want 10000.000000", got)
	}
}

func TestDistributeRejectsReplayedPeriod(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	upsert(t, svc, holderOne, 1000, 1.0)

	if _, err := svc.Distribute(ctx, "50.000000", 1); err != nil {
		t.Fatalf("first round: %v", err)
	}

	_, err := svc.Distribute(ctx, "50.000000", 1)
	if !errors.Is(err, ErrAlreadyDistributed) {
		t.Fatalf("replayed period: got %v, want ErrAlreadyDistributed", err)
	}
	if got := rewardsOf(t, svc, holderOne); got != "50.000000" {
		t.Errorf("rewards after replay = %s, want 50.000000", got)
	}

	// Periods start at one.
	if _, err := svc.Distribute(ctx, "50.000000", 0); !errors.Is(err, ErrAlreadyDistributed) {
		t.Errorf("period zero: got %v, want ErrAlreadyDistributed", err)
	}
}

func TestDistributeStrictOrdering(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	upsert(t, svc, holderOne, 1000, 1.0)

	_, err := svc.Distribute(ctx, "10.000000", 2)
	if !errors.Is(err, ErrPeriodOutOfOrder) {
		t.Fatalf("skipped first period: got %v, want ErrPeriodOutOfOrder", err)
	}
	if _, err := svc.Distribute(ctx, "10.000000", 1); err != nil {
		t.Fatalf("period 1: %v", err)
	}
	if _, err := svc.Distribute(ctx, "10.000000", 3); !errors.Is(err, ErrPeriodOutOfOrder) {
		t.Fatalf("gap after period 1: got %v, want ErrPeriodOutOfOrder", err)
	}
	if _, err := svc.Distribute(ctx, "10.000000", 2); err != nil {
		t.Fatalf("period 2: %v", err)
	}
}

func TestDistributeLooseOrderingAllowsGaps(t *testing.T) {
	ctx := context.Background()
	payer := &fakePayer{}
	split, err := NewFeeSplit(7000, 2000, 1000)
	if err != nil {
		t.Fatalf("NewFeeSplit: %v", err)
	}
	svc := NewService(NewMemoryStore(), payer, split, false)
	upsert(t, svc, holderOne, 1000, 1.0)

	if _, err := svc.Distribute(ctx, "10.000000", 5); err != nil {
		t.Fatalf("period 5: %v", err)
	}
	if _, err := svc.Distribute(ctx, "10.000000", 9); err != nil {
		t.Fatalf("period 9: %v", err)
	}
	if _, err := svc.Distribute(ctx, "10.000000", 7); !errors.Is(err, ErrAlreadyDistributed) {
		t.Fatalf("period behind latest: got %v, want ErrAlreadyDistributed", err)
	}
	if got := rewardsOf(t, svc, holderOne); got != "20.000000" {
		t.Errorf("rewards = %s, want 20.000000", got)
	}
}

func TestDistributeNoEligibleHolders(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Distribute(ctx, "10.000000", 1)
	if !errors.Is(err, ErrNoHolders) {
		t.Fatalf("empty table: got %v, want ErrNoHolders", err)
	}

	// Zero tokens and zero score both weigh nothing.
	upsert(t, svc, holderOne, 0, 0.9)
	upsert(t, svc, holderTwo, 1000, 0)
	if _, err := svc.Distribute(ctx, "10.000000", 1); !errors.Is(err, ErrNoHolders) {
		t.Fatalf("weightless holders: got %v, want ErrNoHolders", err)
	}
}

func TestDistributeInvalidAmount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	upsert(t, svc, holderOne, 1000, 1.0)

	for _, raw := range []string{"", "nope", "-5.000000", "0.000000"} {
		if _, err := svc.Distribute(ctx, raw, 1); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Distribute(%q): got %v, want ErrInvalidAmount", raw, err)
		}
	}
}

func TestDistributeRemainderTieBreaksByAddress(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	addrA := "0x" + strings.Repeat("a", 40)
	addrB := "0x" + strings.Repeat("b", 40)
	upsert(t, svc, addrB, 1000, 0.5)
	upsert(t, svc, addrA, 1000, 0.5)

	// Three micro-units across two equal weights: one each, and the odd
	// one lands on the lexicographically smaller address.
	dist, err := svc.Distribute(ctx, "0.000003", 1)
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if dist.Remainder != "0.000001" {
		t.Errorf("Remainder = %s, want 0.000001", dist.Remainder)
	}
	if got := rewardsOf(t, svc, addrA); got != "0.000002" {
		t.Errorf("rewards(%s) = %s, want 0.000002", addrA, got)
	}
	if got := rewardsOf(t, svc, addrB); got != "0.000001" {
		t.Errorf("rewards(%s) = %s, want 0.000001", addrB, got)
	}
}

// ============================================================================
// Accrual and pool distribution
// ============================================================================

func TestAccumulateSplitsFees(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if err := svc.Accumulate(ctx, "agt_x", "100.000000", "settle-1"); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	status, err := svc.PoolStatus(ctx)
	if err != nil {
		t.Fatalf("PoolStatus: %v", err)
	}
	if status.PoolBalance != "20.000000" {
		t.Errorf("pool = %s, want 20.000000", status.PoolBalance)
	}
	if status.TreasuryBalance != "10.000000" {
		t.Errorf("treasury = %s, want 10.000000", status.TreasuryBalance)
	}

	// Same ref accrues nothing.
	if err := svc.Accumulate(ctx, "agt_x", "100.000000", "settle-1"); err != nil {
		t.Fatalf("replayed Accumulate: %v", err)
	}
	status, _ = svc.PoolStatus(ctx)
	if status.PoolBalance != "20.000000" {
		t.Errorf("pool after replay = %s, want 20.000000", status.PoolBalance)
	}

	// A new ref accrues on top.
	if err := svc.Accumulate(ctx, "agt_x", "50.000000", "settle-2"); err != nil {
		t.Fatalf("second Accumulate: %v", err)
	}
	status, _ = svc.PoolStatus(ctx)
	if status.PoolBalance != "30.000000" {
		t.Errorf("pool after second accrual = %s, want 30.000000", status.PoolBalance)
	}

	// Garbage and non-positive amounts are ignored, not errors.
	if err := svc.Accumulate(ctx, "agt_x", "garbage", "settle-3"); err != nil {
		t.Fatalf("garbage amount: %v", err)
	}
	if err := svc.Accumulate(ctx, "agt_x", "-1.000000", "settle-4"); err != nil {
		t.Fatalf("negative amount: %v", err)
	}
	status, _ = svc.PoolStatus(ctx)
	if status.PoolBalance != "30.000000" {
		t.Errorf("pool after junk accruals = %s, want 30.000000", status.PoolBalance)
	}
}

func TestAccumulateRetriesAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	payer := &fakePayer{}
	store := &hookedStore{Store: NewMemoryStore()}
	split, err := NewFeeSplit(7000, 2000, 1000)
	if err != nil {
		t.Fatalf("NewFeeSplit: %v", err)
	}
	svc := NewService(store, payer, split, true)

	store.setAccrualErr(errors.New("db down"))
	if err := svc.Accumulate(ctx, "agt_x", "100.000000", "settle-1"); err == nil {
		t.Fatal("expected accrual failure")
	}

	// The failed ref was forgotten, so a retry lands.
	store.setAccrualErr(nil)
	if err := svc.Accumulate(ctx, "agt_x", "100.000000", "settle-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	status, err := svc.PoolStatus(ctx)
	if err != nil {
		t.Fatalf("PoolStatus: %v", err)
	}
	if status.PoolBalance != "20.000000" {
		t.Errorf("pool = %s, want 20.000000", status.PoolBalance)
	}
}

func TestDistributePool(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	upsert(t, svc, holderOne, 1000, 1.0)

	// Empty pool distributes nothing.
	dist, err := svc.DistributePool(ctx)
	if err != nil {
		t.Fatalf("empty DistributePool: %v", err)
	}
	if dist != nil {
		t.Fatalf("empty pool produced distribution %+v", dist)
	}

	if err := svc.Accumulate(ctx, "agt_x", "100.000000", "settle-1"); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	dist, err = svc.DistributePool(ctx)
	if err != nil {
		t.Fatalf("DistributePool: %v", err)
	}
	if dist == nil {
		t.Fatal("expected a distribution")
	}
	if dist.PeriodID != 1 {
		t.Errorf("PeriodID = %d, want 1", dist.PeriodID)
	}
	if dist.TotalRevenue != "20.000000" {
		t.Errorf("TotalRevenue = %s, want 20.000000", dist.TotalRevenue)
	}
	if got := rewardsOf(t, svc, holderOne); got != "20.000000" {
		t.Errorf("rewards = %s, want 20.000000", got)
	}

	status, _ := svc.PoolStatus(ctx)
	if status.PoolBalance != "0.000000" {
		t.Errorf("pool after drain = %s, want 0.000000", status.PoolBalance)
	}
	if status.TreasuryBalance != "10.000000" {
		t.Errorf("treasury after drain = %s, want 10.000000", status.TreasuryBalance)
	}

	// The next accrual lands in the next period.
	if err := svc.Accumulate(ctx, "agt_x", "50.000000", "settle-2"); err != nil {
		t.Fatalf("second Accumulate: %v", err)
	}
	dist, err = svc.DistributePool(ctx)
	if err != nil {
		t.Fatalf("second DistributePool: %v", err)
	}
	if dist.PeriodID != 2 {
		t.Errorf("second PeriodID = %d, want 2", dist.PeriodID)
	}
}

func TestDistributePoolRestoresFundsOnFailure(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	// Funds but no eligible holders.
	if err := svc.Accumulate(ctx, "agt_x", "100.000000", "settle-1"); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	_, err := svc.DistributePool(ctx)
	if !errors.Is(err, ErrNoHolders) {
		t.Fatalf("DistributePool: got %v, want ErrNoHolders", err)
	}

	// The drained pool went back, ready for the next attempt.
	status, err := svc.PoolStatus(ctx)
	if err != nil {
		t.Fatalf("PoolStatus: %v", err)
	}
	if status.PoolBalance != "20.000000" {
		t.Errorf("pool after failed round = %s, want 20.000000", status.PoolBalance)
	}

	upsert(t, svc, holderOne, 1000, 1.0)
	dist, err := svc.DistributePool(ctx)
	if err != nil {
		t.Fatalf("retry DistributePool: %v", err)
	}
	if dist.TotalRevenue != "20.000000" {
		t.Errorf("retry TotalRevenue = %s, want 20.000000", dist.TotalRevenue)
	}
}

// ============================================================================
// Claims
// ============================================================================

func TestClaimPaysAndZeroes(t *testing.T) {
	ctx := context.Background()
	svc, payer := newTestService(t)
	upsert(t, svc, holderOne, 1000, 1.0)

	if _, err := svc.Distribute(ctx, "100.000000", 1); err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	claim, err := svc.Claim(ctx, holderOne)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.Amount != "100.000000" {
		t.Errorf("claim amount = %s, want 100.000000", claim.Amount)
	}
	if claim.PeriodID != 1 {
		t.Errorf("claim period = %d, want 1", claim.PeriodID)
	}
	wantRef := fmt.Sprintf("clm:%s:%d", holderOne, 1)
	if claim.TxRef != "tx_"+wantRef {
		t.Errorf("claim txRef = %s, want tx_%s", claim.TxRef, wantRef)
	}
	if got := payer.amountFor(wantRef); got != "100.000000" {
		t.Errorf("paid via %s = %s, want 100.000000", wantRef, got)
	}

	share, err := svc.GetShare(ctx, holderOne)
	if err != nil {
		t.Fatalf("GetShare: %v", err)
	}
	if share.AccumulatedRewards != "0.000000" {
		t.Errorf("rewards after claim = %s, want 0.000000", share.AccumulatedRewards)
	}
	if share.LastClaimPeriod != 1 {
		t.Errorf("LastClaimPeriod = %d, want 1", share.LastClaimPeriod)
	}

	claims, err := svc.ListClaims(ctx, holderOne, 10)
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("claim history length = %d, want 1", len(claims))
	}
	if claims[0].ID == 0 {
		t.Error("claim record has no ID")
	}

	// Nothing left.
	if _, err := svc.Claim(ctx, holderOne); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("second claim: got %v, want ErrNothingToClaim", err)
	}
}

func TestClaimUnknownHolder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.Claim(ctx, holderOne); !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("unknown holder: got %v, want ErrShareNotFound", err)
	}
	if _, err := svc.Claim(ctx, "x"); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("bad address: got %v, want ErrInvalidRecipient", err)
	}
}

func TestClaimPayFailureKeepsRewards(t *testing.T) {
	ctx := context.Background()
	svc, payer := newTestService(t)
	upsert(t, svc, holderOne, 1000, 1.0)
	if _, err := svc.Distribute(ctx, "100.000000", 1); err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	payer.setErr(errors.New("gateway down"))
	if _, err := svc.Claim(ctx, holderOne); err == nil {
		t.Fatal("expected claim failure")
	}
	if got := rewardsOf(t, svc, holderOne); got != "100.000000" {
		t.Errorf("rewards after failed claim = %s, want 100.000000", got)
	}

	payer.setErr(nil)
	claim, err := svc.Claim(ctx, holderOne)
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if claim.Amount != "100.000000" {
		t.Errorf("retry claim amount = %s, want 100.000000", claim.Amount)
	}
}

func TestClaimRetriesShareUpdate(t *testing.T) {
	ctx := context.Background()
	payer := &fakePayer{}
	store := &hookedStore{Store: NewMemoryStore()}
	split, err := NewFeeSplit(7000, 2000, 1000)
	if err != nil {
		t.Fatalf("NewFeeSplit: %v", err)
	}
	svc := NewService(store, payer, split, true)
	upsert(t, svc, holderOne, 1000, 1.0)
	if _, err := svc.Distribute(ctx, "100.000000", 1); err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	// First zeroing write fails, the in-claim retry lands.
	failures := 0
	store.setUpsertHook(func(*Share) error {
		if failures == 0 {
			failures++
			return errors.New("write lost")
		}
		return nil
	})
	claim, err := svc.Claim(ctx, holderOne)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.Amount != "100.000000" {
		t.Errorf("claim amount = %s, want 100.000000", claim.Amount)
	}
	if got := rewardsOf(t, svc, holderOne); got != "0.000000" {
		t.Errorf("rewards after claim = %s, want 0.000000", got)
	}

	// Both writes failing surfaces the error. The payout already
	// happened, so the claim does not pretend to have failed cleanly.
	if _, err := svc.Distribute(ctx, "50.000000", 2); err != nil {
		t.Fatalf("second Distribute: %v", err)
	}
	store.setUpsertHook(func(*Share) error { return errors.New("write lost") })
	if _, err := svc.Claim(ctx, holderOne); err == nil {
		t.Fatal("expected claim failure when share update cannot land")
	}
}

// ============================================================================
// Holders
// ============================================================================

func TestUpsertHolderPreservesRewards(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	upsert(t, svc, holderOne, 1000, 1.0)
	if _, err := svc.Distribute(ctx, "100.000000", 1); err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	share, err := svc.UpsertHolder(ctx, holderOne, 4000, 0.75)
	if err != nil {
		t.Fatalf("UpsertHolder: %v", err)
	}
	if share.ParticipationTokens != 4000 {
		t.Errorf("tokens = %d, want 4000", share.ParticipationTokens)
	}
	if share.ContributionScore != 0.75 {
		t.Errorf("score = %v, want 0.75", share.ContributionScore)
	}
	if share.AccumulatedRewards != "100.000000" {
		t.Errorf("rewards = %s, want 100.000000", share.AccumulatedRewards)
	}
}

func TestUpsertHolderValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.UpsertHolder(ctx, "x", 1000, 0.5); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("short address: got %v, want ErrInvalidRecipient", err)
	}
	if _, err := svc.UpsertHolder(ctx, holderOne, 1000, 1.5); !errors.Is(err, ErrInvalidScore) {
		t.Errorf("score above one: got %v, want ErrInvalidScore", err)
	}
	if _, err := svc.UpsertHolder(ctx, holderOne, 1000, -0.1); !errors.Is(err, ErrInvalidScore) {
		t.Errorf("negative score: got %v, want ErrInvalidScore", err)
	}

	// Addresses are canonicalized to lowercase.
	mixed := "0xAbCd111111111111111111111111111111111111"
	share, err := svc.UpsertHolder(ctx, mixed, 10, 0.5)
	if err != nil {
		t.Fatalf("UpsertHolder: %v", err)
	}
	if share.RecipientAddress != strings.ToLower(mixed) {
		t.Errorf("recipient = %s, want %s", share.RecipientAddress, strings.ToLower(mixed))
	}
	if _, err := svc.GetShare(ctx, mixed); err != nil {
		t.Errorf("GetShare with mixed case: %v", err)
	}
}

// ============================================================================
// Concurrency
// ============================================================================

func TestConcurrentDistributeAndClaim(t *testing.T) {
	ctx := context.Background()
	svc, payer := newTestService(t)
	upsert(t, svc, holderOne, 1000, 1.0)

	const rounds = 20

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < rounds*3; i++ {
			_, err := svc.Claim(ctx, holderOne)
			if err != nil && !errors.Is(err, ErrNothingToClaim) {
				t.Errorf("concurrent claim: %v", err)
				return
			}
		}
	}()

	for p := uint64(1); p <= rounds; p++ {
		if _, err := svc.Distribute(ctx, "1.000000", p); err != nil {
			t.Fatalf("Distribute period %d: %v", p, err)
		}
	}
	<-done

	// Sweep whatever the claimer missed.
	if _, err := svc.Claim(ctx, holderOne); err != nil && !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("final claim: %v", err)
	}

	// Every credited unit was paid out exactly once.
	if got := payer.totalPaid(); got != "20.000000" {
		t.Errorf("total paid = %s, want 20.000000", got)
	}
	if got := rewardsOf(t, svc, holderOne); got != "0.000000" {
		t.Errorf("leftover rewards = %s, want 0.000000", got)
	}
}
