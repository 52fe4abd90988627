package escrow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/accordproto/accord/internal/amount"
	"github.com/accordproto/accord/internal/crosschain"
	"github.com/accordproto/accord/internal/idgen"
	"github.com/accordproto/accord/internal/logging"
	"github.com/accordproto/accord/internal/metrics"
	"github.com/accordproto/accord/internal/pagination"
	"github.com/accordproto/accord/internal/registry"
	"github.com/accordproto/accord/internal/reputation"
	"github.com/accordproto/accord/internal/syncutil"
	"github.com/accordproto/accord/internal/traces"
	"github.com/accordproto/accord/internal/validation"
)

const (
	expireBatchSize  = 100
	defaultListLimit = 50
	maxListLimit     = 200
)

// Gateway moves funds. Lock reserves the full payment, Release pays a
// milestone share, Refund returns the unreleased remainder. Release
// and Refund deduplicate on their key.
type Gateway interface {
	LockFunds(ctx context.Context, from, amount, currency string) (string, error)
	ReleaseFunds(ctx context.Context, intentID, to, amount, key string) (string, error)
	RefundFunds(ctx context.Context, intentID, key string) (string, error)
}

// AgentDirectory resolves agent profiles and records finished work.
type AgentDirectory interface {
	Get(ctx context.Context, agentID string) (*registry.Profile, error)
	RecordExecution(ctx context.Context, agentID string, success bool) error
}

// OutcomeRecorder feeds escrow outcomes into the reputation ledger.
type OutcomeRecorder interface {
	Record(ctx context.Context, agentID, eventType string, quality float64, evidenceHash string, networks []string) (*reputation.Event, error)
}

// RevenueAccumulator books protocol fees off released payments. The
// ref deduplicates bookings across retries.
type RevenueAccumulator interface {
	Accumulate(ctx context.Context, agentID, grossAmount, ref string) error
}

// RouteChecker resolves the bridge protocol for cross-network work.
type RouteChecker interface {
	CheckRoute(ctx context.Context, agentID, from, to string) (crosschain.Protocol, error)
}

// Service coordinates escrow lifecycle against the funds gateway.
type Service struct {
	store     Store
	gateway   Gateway
	directory AgentDirectory
	caps      *TierCaps
	verifiers *VerifierRegistry
	locks     *syncutil.KeyedMutex

	defaultCurrency string

	recorder OutcomeRecorder
	revenue  RevenueAccumulator
	routes   RouteChecker
}

// NewService creates an escrow service.
func NewService(store Store, gateway Gateway, directory AgentDirectory, caps *TierCaps, verifiers *VerifierRegistry, defaultCurrency string) *Service {
	return &Service{
		store:           store,
		gateway:         gateway,
		directory:       directory,
		caps:            caps,
		verifiers:       verifiers,
		locks:           syncutil.NewKeyedMutex(),
		defaultCurrency: strings.ToUpper(defaultCurrency),
	}
}

// WithOutcomeRecorder wires reputation event recording.
func (s *Service) WithOutcomeRecorder(r OutcomeRecorder) *Service {
	s.recorder = r
	return s
}

// WithRevenueAccumulator wires protocol fee booking.
func (s *Service) WithRevenueAccumulator(r RevenueAccumulator) *Service {
	s.revenue = r
	return s
}

// WithRouteChecker wires cross-network route resolution.
func (s *Service) WithRouteChecker(r RouteChecker) *Service {
	s.routes = r
	return s
}

// Create validates the request, locks the full payment at the gateway,
// and stores the escrow. If the store write fails after funds were
// locked, the lock is refunded.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create",
		traces.AgentID(req.AgentID), traces.Amount(req.PaymentAmount))
	defer span.End()

	if !validation.IsValidAddress(req.RequesterAddress) {
		return nil, ErrInvalidAddress
	}
	if !validation.IsValidAgentRef(req.AgentID) {
		return nil, ErrInvalidAgentID
	}
	payment, ok := amount.Parse(req.PaymentAmount)
	if !ok || payment.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if !validCurrency(currency) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	milestones, err := s.buildMilestones(req.Milestones)
	if err != nil {
		return nil, err
	}
	if !req.Deadline.After(time.Now()) {
		return nil, ErrInvalidDeadline
	}

	from := strings.ToLower(strings.TrimSpace(req.FromNetwork))
	to := strings.ToLower(strings.TrimSpace(req.ToNetwork))
	if (from == "") != (to == "") {
		return nil, ErrInvalidNetworkPair
	}

	profile, err := s.directory.Get(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if profile.Deactivated {
		return nil, fmt.Errorf("%w: %s", ErrAgentInactive, req.AgentID)
	}
	if cap := s.caps.MaxPayment(profile.StakeTier); payment.Cmp(cap) > 0 {
		return nil, fmt.Errorf("%w: tier %s allows at most %s",
			ErrPaymentCapExceeded, profile.StakeTier, amount.Format(cap))
	}

	var protocol string
	if from != "" {
		if s.routes == nil {
			return nil, fmt.Errorf("escrow: cross-network routing not configured")
		}
		p, err := s.routes.CheckRoute(ctx, req.AgentID, from, to)
		if err != nil {
			return nil, err
		}
		protocol = string(p)
	}

	id := idgen.WithPrefix("esc_")
	intentID, err := s.gateway.LockFunds(ctx, req.RequesterAddress, amount.Format(payment), currency)
	if err != nil {
		return nil, fmt.Errorf("lock funds: %w", err)
	}

	now := time.Now().UTC()
	e := &Escrow{
		ID:               id,
		RequesterAddress: req.RequesterAddress,
		AgentID:          req.AgentID,
		PaymentAmount:    amount.Format(payment),
		Currency:         currency,
		Milestones:       milestones,
		Deadline:         req.Deadline.UTC(),
		State:            StateOpen,
		IntentID:         intentID,
		FromNetwork:      from,
		ToNetwork:        to,
		BridgeProtocol:   protocol,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, e); err != nil {
		if _, rerr := s.gateway.RefundFunds(ctx, intentID, "esc:"+id+":abort"); rerr != nil {
			log.Printf("CRITICAL: funds locked under intent %s for escrow %s but store failed and refund failed: %v",
				intentID, id, rerr)
		}
		return nil, fmt.Errorf("store escrow: %w", err)
	}

	metrics.EscrowsCreatedTotal.Inc()
	metrics.OpenEscrows.Inc()
	logging.L(ctx).Info("escrow created",
		"escrow_id", e.ID,
		"agent_id", e.AgentID,
		"amount", e.PaymentAmount,
		"currency", e.Currency,
		"milestones", len(e.Milestones))
	return e, nil
}

func (s *Service) buildMilestones(specs []MilestoneSpec) ([]Milestone, error) {
	if len(specs) == 0 || len(specs) > MaxMilestones {
		return nil, fmt.Errorf("%w: need 1 to %d milestones", ErrInvalidMilestones, MaxMilestones)
	}
	total := 0
	out := make([]Milestone, len(specs))
	for i, spec := range specs {
		if spec.Percentage < 1 {
			return nil, fmt.Errorf("%w: milestone %d", ErrInvalidMilestones, i)
		}
		v, err := s.verifiers.Lookup(spec.ConditionID)
		if err != nil {
			return nil, err
		}
		if err := v.ValidateCondition(spec.ConditionID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
		}
		total += spec.Percentage
		out[i] = Milestone{Percentage: spec.Percentage, ConditionID: spec.ConditionID}
	}
	if total != 100 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMilestones, total)
	}
	return out, nil
}

// SubmitProof verifies a milestone condition and releases that
// milestone's share to the agent's owner. The payment key is stored
// before the gateway call, so a crash between the two leaves a
// retryable escrow, never a double payment.
func (s *Service) SubmitProof(ctx context.Context, escrowID string, index int, proof string) (*ReleaseOutcome, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.SubmitProof",
		traces.EscrowID(escrowID), traces.MilestoneIndex(index))
	defer span.End()

	unlock := s.locks.Lock(escrowID)
	defer unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Frozen {
		return nil, ErrEscrowFrozen
	}
	if index < 0 || index >= len(e.Milestones) {
		return nil, fmt.Errorf("%w: %d", ErrMilestoneOutOfRange, index)
	}
	// A paid milestone answers AlreadyReleased even after the escrow
	// settles; terminal-state errors cover milestones that never paid.
	m := &e.Milestones[index]
	if m.Released {
		return nil, fmt.Errorf("%w: milestone %d", ErrAlreadyReleased, index)
	}
	if e.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, e.State)
	}
	if time.Now().After(e.Deadline) {
		return nil, ErrDeadlinePassed
	}

	verifier, err := s.verifiers.Lookup(m.ConditionID)
	if err != nil {
		return nil, err
	}
	ok, err := safeVerify(ctx, verifier, m.ConditionID, proof)
	if err != nil {
		return nil, fmt.Errorf("verify condition: %w", err)
	}
	if !ok {
		metrics.MilestoneReleasesTotal.WithLabelValues("condition_failed").Inc()
		return nil, ErrConditionFailed
	}

	if e.releasedPercent()+m.Percentage > 100 {
		e.Frozen = true
		e.UpdatedAt = time.Now().UTC()
		if uerr := s.store.Update(ctx, e); uerr != nil {
			log.Printf("CRITICAL: escrow %s released percentage would exceed 100 and freeze could not be stored: %v", e.ID, uerr)
		} else {
			log.Printf("CRITICAL: escrow %s frozen: released percentage would exceed 100", e.ID)
		}
		return nil, ErrEscrowFrozen
	}

	payment, _ := amount.Parse(e.PaymentAmount)
	share := milestoneAmounts(payment, e.Milestones)[index]
	released := amount.Format(share)

	// Record the payment key before calling the gateway. If the
	// process dies after the release lands, a retry reuses the same
	// key and the gateway deduplicates.
	if m.PaymentKey == "" {
		m.PaymentKey = paymentKey(e.ID, index)
		e.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(ctx, e); err != nil {
			m.PaymentKey = ""
			return nil, fmt.Errorf("record payment intent: %w", err)
		}
	}

	profile, err := s.directory.Get(ctx, e.AgentID)
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}

	txRef, err := s.gateway.ReleaseFunds(ctx, e.IntentID, profile.OwnerAddress, released, m.PaymentKey)
	if err != nil {
		metrics.MilestoneReleasesTotal.WithLabelValues("release_failed").Inc()
		return nil, fmt.Errorf("release funds: %w", err)
	}

	now := time.Now().UTC()
	m.Released = true
	m.TxRef = txRef
	releasedAt := now
	m.ReleasedAt = &releasedAt
	final := e.allReleased()
	if final {
		e.State = StateReleased
		resolved := now
		e.ResolvedAt = &resolved
	} else {
		e.State = StatePartiallyReleased
	}
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		// Funds already moved. Retry once before giving up.
		if err = s.store.Update(ctx, e); err != nil {
			log.Printf("CRITICAL: milestone %d of escrow %s paid (tx %s) but state update failed: %v",
				index, e.ID, txRef, err)
			return nil, fmt.Errorf("funds released but escrow update failed: %w", err)
		}
	}

	metrics.MilestoneReleasesTotal.WithLabelValues("ok").Inc()
	if final {
		metrics.EscrowsResolvedTotal.WithLabelValues(string(StateReleased)).Inc()
		metrics.EscrowDuration.Observe(now.Sub(e.CreatedAt).Seconds())
		metrics.OpenEscrows.Dec()
	}

	s.recordRelease(ctx, e, index, released, proof, final)

	logging.L(ctx).Info("milestone released",
		"escrow_id", e.ID,
		"milestone", index,
		"amount", released,
		"tx_ref", txRef,
		"final", final)
	return &ReleaseOutcome{
		Escrow:         e,
		MilestoneIndex: index,
		AmountReleased: released,
		TxRef:          txRef,
		FinalRelease:   final,
	}, nil
}

// recordRelease fans a successful release out to the side ledgers.
// All best-effort; the payment itself already happened.
func (s *Service) recordRelease(ctx context.Context, e *Escrow, index int, released, proof string, final bool) {
	if final {
		_ = s.directory.RecordExecution(ctx, e.AgentID, true)
	}
	if s.recorder != nil {
		sum := sha256.Sum256([]byte(proof))
		_, _ = s.recorder.Record(ctx, e.AgentID, reputation.EventMilestoneCompleted,
			1.0, hex.EncodeToString(sum[:]), e.eventNetworks())
	}
	if s.revenue != nil {
		if err := s.revenue.Accumulate(ctx, e.AgentID, released, e.Milestones[index].PaymentKey); err != nil {
			logging.L(ctx).Warn("revenue accumulation failed",
				"escrow_id", e.ID, "milestone", index, "error", err)
		}
	}
}

// Cancel refunds an untouched escrow at the requester's ask. Once any
// milestone has released, the deadline sweep is the only path back.
func (s *Service) Cancel(ctx context.Context, escrowID, callerAddress string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Cancel", traces.EscrowID(escrowID))
	defer span.End()

	unlock := s.locks.Lock(escrowID)
	defer unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Frozen {
		return nil, ErrEscrowFrozen
	}
	if e.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalState, e.State)
	}
	if !strings.EqualFold(e.RequesterAddress, callerAddress) {
		return nil, ErrNotRequester
	}
	if e.State != StateOpen {
		return nil, ErrNotCancellable
	}

	if _, err := s.gateway.RefundFunds(ctx, e.IntentID, refundKey(e.ID)); err != nil {
		return nil, fmt.Errorf("refund funds: %w", err)
	}

	now := time.Now().UTC()
	e.State = StateRefunded
	e.UpdatedAt = now
	resolved := now
	e.ResolvedAt = &resolved
	if err := s.store.Update(ctx, e); err != nil {
		if err = s.store.Update(ctx, e); err != nil {
			log.Printf("CRITICAL: escrow %s refunded at gateway but state update failed: %v", e.ID, err)
			return nil, fmt.Errorf("funds refunded but escrow update failed: %w", err)
		}
	}

	metrics.EscrowsResolvedTotal.WithLabelValues(string(StateRefunded)).Inc()
	metrics.EscrowDuration.Observe(now.Sub(e.CreatedAt).Seconds())
	metrics.OpenEscrows.Dec()
	logging.L(ctx).Info("escrow cancelled", "escrow_id", e.ID, "requester", e.RequesterAddress)
	return e, nil
}

// ExpireOverdue refunds and closes escrows whose deadline passed.
// Returns how many were expired. One failing escrow does not stop the
// sweep.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ExpireOverdue")
	defer span.End()

	candidates, err := s.store.ListExpired(ctx, now, expireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	expired := 0
	for _, stale := range candidates {
		done, err := s.expireOne(ctx, stale.ID, now)
		if err != nil {
			logging.L(ctx).Warn("escrow expiry failed", "escrow_id", stale.ID, "error", err)
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, escrowID string, now time.Time) (bool, error) {
	unlock := s.locks.Lock(escrowID)
	defer unlock()

	// Re-read under the lock; a release or cancel may have landed
	// since the candidate list was taken.
	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return false, err
	}
	if e.Frozen || e.IsTerminal() || e.Deadline.After(now) {
		return false, nil
	}

	// Refund whatever the milestones did not release. The shared key
	// makes a repeated sweep a no-op at the gateway.
	if _, err := s.gateway.RefundFunds(ctx, e.IntentID, refundKey(e.ID)); err != nil {
		return false, fmt.Errorf("refund funds: %w", err)
	}

	stamp := time.Now().UTC()
	e.State = StateExpired
	e.UpdatedAt = stamp
	resolved := stamp
	e.ResolvedAt = &resolved
	if err := s.store.Update(ctx, e); err != nil {
		if err = s.store.Update(ctx, e); err != nil {
			log.Printf("CRITICAL: escrow %s refunded at gateway but expiry update failed: %v", e.ID, err)
			return false, fmt.Errorf("funds refunded but escrow update failed: %w", err)
		}
	}

	metrics.EscrowsResolvedTotal.WithLabelValues(string(StateExpired)).Inc()
	metrics.EscrowDuration.Observe(stamp.Sub(e.CreatedAt).Seconds())
	metrics.OpenEscrows.Dec()

	_ = s.directory.RecordExecution(ctx, e.AgentID, false)
	if s.recorder != nil {
		_, _ = s.recorder.Record(ctx, e.AgentID, reputation.EventDeadlineMissed, 0.0, "", e.eventNetworks())
	}
	logging.L(ctx).Info("escrow expired",
		"escrow_id", e.ID,
		"agent_id", e.AgentID,
		"released", amount.Format(e.releasedTotal()))
	return true, nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, escrowID string) (*Escrow, error) {
	return s.store.Get(ctx, escrowID)
}

// ListByAgent returns one page of an agent's escrows, newest first,
// with an opaque cursor for the next page.
func (s *Service) ListByAgent(ctx context.Context, agentID, cursor string, limit int) ([]*Escrow, string, bool, error) {
	if !validation.IsValidAgentRef(agentID) {
		return nil, "", false, ErrInvalidAgentID
	}
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	items, err := s.store.ListByAgent(ctx, agentID, cur, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(items, limit, func(e *Escrow) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return page, next, more, nil
}

// safeVerify guards the release path against panicking verifiers.
func safeVerify(ctx context.Context, v Verifier, conditionID, proof string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("verifier panicked: %v", r)
		}
	}()
	return v.Verify(ctx, conditionID, proof)
}

func validCurrency(c string) bool {
	if len(c) < 2 || len(c) > 12 {
		return false
	}
	for _, r := range c {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
