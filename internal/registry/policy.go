package registry

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/accordproto/accord/internal/amount"
)

// TierPolicy maps staked amounts to tiers through a monotonic step
// function. Thresholds are configuration, one per tier in ascending
// order; the first must cover zero so every stake lands in a tier.
type TierPolicy struct {
	thresholds [len(tierLadder)]*big.Int
}

// NewTierPolicy parses and validates tier thresholds.
func NewTierPolicy(thresholds []string) (*TierPolicy, error) {
	if len(thresholds) != len(tierLadder) {
		return nil, fmt.Errorf("%w: need %d tier thresholds, got %d",
			ErrInvalidPolicy, len(tierLadder), len(thresholds))
	}

	p := &TierPolicy{}
	for i, raw := range thresholds {
		v, ok := amount.Parse(raw)
		if !ok {
			return nil, fmt.Errorf("%w: tier threshold %q is not a valid amount", ErrInvalidPolicy, raw)
		}
		if i > 0 && v.Cmp(p.thresholds[i-1]) <= 0 {
			return nil, fmt.Errorf("%w: tier thresholds must be strictly ascending", ErrInvalidPolicy)
		}
		p.thresholds[i] = v
	}
	if p.thresholds[0].Sign() != 0 {
		return nil, fmt.Errorf("%w: first tier threshold must be 0", ErrInvalidPolicy)
	}
	return p, nil
}

// TierFor returns the tier whose threshold range contains staked.
// Pure function; callers recompute on every stake mutation so the
// stored tier can never drift from the stored amount.
func (p *TierPolicy) TierFor(staked *big.Int) StakeTier {
	for i := len(p.thresholds) - 1; i >= 0; i-- {
		if staked.Cmp(p.thresholds[i]) >= 0 {
			return tierLadder[i]
		}
	}
	return tierLadder[0]
}

// CapabilityPolicy holds per-capability minimum stakes. The minimum
// for a capability set is the maximum over its members, not the sum,
// so adding low-risk capabilities never inflates the requirement.
// Capabilities without a configured minimum use the default floor.
type CapabilityPolicy struct {
	minimums map[string]*big.Int
	floor    *big.Int
}

// NewCapabilityPolicy parses and validates capability minimums.
func NewCapabilityPolicy(minimums map[string]string, defaultMinimum string) (*CapabilityPolicy, error) {
	floor, ok := amount.Parse(defaultMinimum)
	if !ok {
		return nil, fmt.Errorf("%w: default minimum stake %q is not a valid amount",
			ErrInvalidPolicy, defaultMinimum)
	}

	p := &CapabilityPolicy{
		minimums: make(map[string]*big.Int, len(minimums)),
		floor:    floor,
	}
	for capability, raw := range minimums {
		v, ok := amount.Parse(raw)
		if !ok {
			return nil, fmt.Errorf("%w: minimum stake %q for capability %q is not a valid amount",
				ErrInvalidPolicy, raw, capability)
		}
		p.minimums[strings.ToLower(capability)] = v
	}
	return p, nil
}

// MinimumStake returns the stake required for a capability set.
func (p *CapabilityPolicy) MinimumStake(capabilities []string) *big.Int {
	min := new(big.Int).Set(p.floor)
	for _, capability := range capabilities {
		if v, ok := p.minimums[strings.ToLower(capability)]; ok && v.Cmp(min) > 0 {
			min.Set(v)
		}
	}
	return min
}

// normalizeCapabilities lowercases, trims, dedupes, and sorts a
// capability set. Sorted storage keeps Find comparisons and JSON
// output deterministic.
func normalizeCapabilities(capabilities []string) ([]string, error) {
	seen := make(map[string]struct{}, len(capabilities))
	out := make([]string, 0, len(capabilities))
	for _, raw := range capabilities {
		c := strings.ToLower(strings.TrimSpace(raw))
		if c == "" {
			return nil, fmt.Errorf("%w: empty capability", ErrInvalidCapability)
		}
		if len(c) > 64 {
			return nil, fmt.Errorf("%w: capability %q too long", ErrInvalidCapability, c)
		}
		for _, r := range c {
			if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
				return nil, fmt.Errorf("%w: capability %q has invalid characters", ErrInvalidCapability, c)
			}
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one capability required", ErrInvalidCapability)
	}
	sort.Strings(out)
	return out, nil
}

// hasAllCapabilities reports whether want ⊆ have. Both slices are
// normalized lowercase.
func hasAllCapabilities(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	for _, c := range want {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}
