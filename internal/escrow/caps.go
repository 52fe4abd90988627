package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/accordproto/accord/internal/amount"
	"github.com/accordproto/accord/internal/registry"
)

// ErrInvalidCaps reports a malformed tier cap configuration.
var ErrInvalidCaps = errors.New("escrow: invalid tier payment caps")

// cappedTiers is the set of tiers a cap must be configured for.
var cappedTiers = [4]registry.StakeTier{
	registry.TierBasic,
	registry.TierStandard,
	registry.TierProfessional,
	registry.TierEnterprise,
}

// TierCaps bounds the escrow payment an agent may accept by its stake
// tier. Caps are configuration; every tier must have one.
type TierCaps struct {
	caps map[registry.StakeTier]*big.Int
}

// NewTierCaps parses and validates per-tier payment caps.
func NewTierCaps(caps map[string]string) (*TierCaps, error) {
	t := &TierCaps{caps: make(map[registry.StakeTier]*big.Int, len(cappedTiers))}
	for _, tier := range cappedTiers {
		raw, ok := caps[string(tier)]
		if !ok {
			return nil, fmt.Errorf("%w: missing cap for tier %q", ErrInvalidCaps, tier)
		}
		v, ok := amount.Parse(raw)
		if !ok || v.Sign() <= 0 {
			return nil, fmt.Errorf("%w: cap %q for tier %q is not a positive amount", ErrInvalidCaps, raw, tier)
		}
		t.caps[tier] = v
	}
	for key := range caps {
		if _, ok := t.caps[registry.StakeTier(strings.ToLower(key))]; !ok {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidCaps, key)
		}
	}
	return t, nil
}

// MaxPayment returns the payment cap for a tier.
func (t *TierCaps) MaxPayment(tier registry.StakeTier) *big.Int {
	if v, ok := t.caps[tier]; ok {
		return v
	}
	// Unknown tiers fall back to the most restrictive cap.
	return t.caps[registry.TierBasic]
}
