package registry

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/accordproto/accord/internal/amount"
	"github.com/accordproto/accord/internal/idgen"
	"github.com/accordproto/accord/internal/metrics"
	"github.com/accordproto/accord/internal/syncutil"
	"github.com/accordproto/accord/internal/traces"
	"github.com/accordproto/accord/internal/validation"
)

// Service implements the registry business logic. All mutations on a
// single agent are serialized through per-agent locks so stake
// read-modify-write sequences stay atomic.
type Service struct {
	store Store
	tiers *TierPolicy
	caps  *CapabilityPolicy
	locks *syncutil.KeyedMutex
	prior float64 // starting reputation for agents with no events
}

// NewService creates a registry service.
func NewService(store Store, tiers *TierPolicy, caps *CapabilityPolicy) *Service {
	return &Service{
		store: store,
		tiers: tiers,
		caps:  caps,
		locks: syncutil.NewKeyedMutex(),
		prior: 0.5,
	}
}

// WithReputationPrior sets the score new agents start with. The same
// value must be configured on the reputation ledger so a replayed fold
// and a fresh profile agree.
func (s *Service) WithReputationPrior(prior float64) *Service {
	s.prior = prior
	return s
}

// Register creates an agent profile. The stake must clear the
// capability policy's minimum; the tier is derived, never supplied.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	ctx, span := traces.StartSpan(ctx, "registry.Register",
		attribute.String("owner.address", req.OwnerAddress))
	defer span.End()

	owner := strings.TrimSpace(req.OwnerAddress)
	if !validation.IsValidAddress(owner) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, req.OwnerAddress)
	}

	capabilities, err := normalizeCapabilities(req.Capabilities)
	if err != nil {
		return nil, err
	}

	staked, ok := amount.Parse(req.StakeAmount)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStake, req.StakeAmount)
	}

	if req.PaymentRate != "" {
		if _, ok := amount.Parse(req.PaymentRate); !ok {
			return nil, fmt.Errorf("%w: invalid payment rate %q", ErrInvalidStake, req.PaymentRate)
		}
	}

	min := s.caps.MinimumStake(capabilities)
	if staked.Cmp(min) < 0 {
		return nil, fmt.Errorf("%w: capability set requires at least %s, got %s",
			ErrInsufficientStake, amount.Format(min), amount.Format(staked))
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = idgen.WithPrefix("agt_")
	} else if !validation.IsValidAgentRef(agentID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgentID, req.AgentID)
	}

	profile := &Profile{
		AgentID:         agentID,
		OwnerAddress:    owner,
		Capabilities:    capabilities,
		StakedAmount:    amount.Format(staked),
		StakeTier:       s.tiers.TierFor(staked),
		PaymentRate:     req.PaymentRate,
		ReputationScore: s.prior,
	}

	if err := s.store.Create(ctx, profile); err != nil {
		return nil, err
	}

	metrics.AgentsRegisteredTotal.Inc()
	span.SetAttributes(traces.AgentID(profile.AgentID))
	return profile, nil
}

// Get returns an agent profile.
func (s *Service) Get(ctx context.Context, agentID string) (*Profile, error) {
	return s.store.Get(ctx, agentID)
}

// Find returns agents matching the query in the store's deterministic
// order: reputation desc, stake desc, agent id asc.
func (s *Service) Find(ctx context.Context, query Query) ([]*Profile, error) {
	if len(query.Capabilities) > 0 {
		normalized, err := normalizeCapabilities(query.Capabilities)
		if err != nil {
			return nil, err
		}
		query.Capabilities = normalized
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	return s.store.Find(ctx, query)
}

// Restake adjusts an agent's stake by a signed delta and recomputes
// the tier. The resulting stake must stay at or above the capability
// minimum and can never go negative.
func (s *Service) Restake(ctx context.Context, agentID, delta string) (StakeTier, error) {
	ctx, span := traces.StartSpan(ctx, "registry.Restake",
		traces.AgentID(agentID), attribute.String("stake.delta", delta))
	defer span.End()

	d, ok := parseSignedAmount(delta)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStake, delta)
	}
	if d.Sign() == 0 {
		return "", fmt.Errorf("%w: delta must be non-zero", ErrInvalidStake)
	}

	unlock := s.locks.Lock(agentID)
	defer unlock()

	profile, err := s.store.Get(ctx, agentID)
	if err != nil {
		return "", err
	}
	if profile.Deactivated {
		return "", ErrAgentDeactivated
	}

	staked := amount.MustParse(profile.StakedAmount)
	staked.Add(staked, d)

	if staked.Sign() < 0 {
		return "", fmt.Errorf("%w: stake cannot go negative", ErrInvalidStake)
	}
	if min := s.caps.MinimumStake(profile.Capabilities); staked.Cmp(min) < 0 {
		return "", fmt.Errorf("%w: capability set requires at least %s, would have %s",
			ErrInsufficientStake, amount.Format(min), amount.Format(staked))
	}

	profile.StakedAmount = amount.Format(staked)
	profile.StakeTier = s.tiers.TierFor(staked)

	if err := s.store.Update(ctx, profile); err != nil {
		return "", err
	}

	direction := "increase"
	if d.Sign() < 0 {
		direction = "decrease"
	}
	metrics.StakeChangesTotal.WithLabelValues(direction).Inc()
	return profile.StakeTier, nil
}

// Deactivate soft-removes an agent. The profile is preserved for audit
// and excluded from Find. Already-deactivated agents are a no-op.
func (s *Service) Deactivate(ctx context.Context, agentID string) error {
	unlock := s.locks.Lock(agentID)
	defer unlock()

	profile, err := s.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if profile.Deactivated {
		return nil
	}

	profile.Deactivated = true
	return s.store.Update(ctx, profile)
}

// -----------------------------------------------------------------------------
// Narrow writers
//
// Each profile field has exactly one owning component; these methods
// are that component's only write path into the profile.
// -----------------------------------------------------------------------------

// SetReputation updates the profile's reputation score. Called only by
// the reputation ledger, which owns score derivation.
func (s *Service) SetReputation(ctx context.Context, agentID string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("registry: reputation score %v out of range [0,1]", score)
	}

	unlock := s.locks.Lock(agentID)
	defer unlock()

	profile, err := s.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	profile.ReputationScore = score
	return s.store.Update(ctx, profile)
}

// RecordExecution bumps the execution counters. Called only by the
// escrow service on settlement.
func (s *Service) RecordExecution(ctx context.Context, agentID string, success bool) error {
	unlock := s.locks.Lock(agentID)
	defer unlock()

	profile, err := s.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	profile.TotalExecutions++
	if success {
		profile.SuccessfulExecutions++
	}
	return s.store.Update(ctx, profile)
}

// SetSupportedNetworks replaces the profile's supported-network set.
// Called only by the cross-chain coordinator.
func (s *Service) SetSupportedNetworks(ctx context.Context, agentID string, networks []string) error {
	unlock := s.locks.Lock(agentID)
	defer unlock()

	profile, err := s.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	profile.SupportedNetworks = append([]string(nil), networks...)
	return s.store.Update(ctx, profile)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// parseSignedAmount parses a delta like "50" or "-12.5" into signed
// smallest units.
func parseSignedAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if s == "" {
		return nil, false
	}
	v, ok := amount.Parse(s)
	if !ok {
		return nil, false
	}
	if neg {
		v.Neg(v)
	}
	return v, true
}

