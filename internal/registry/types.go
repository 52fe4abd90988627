// Package registry owns agent identity, capability advertisement, and
// staking tiers.
//
// Flow:
//  1. An agent registers with an owner address, a capability set, and
//     staked collateral; the stake must clear the capability policy's
//     minimum and the tier is derived from the tier policy.
//  2. Requesters discover agents through Find, which returns a
//     deterministic ordering (reputation desc, stake desc, agent id asc).
//  3. Stake mutations go through Restake, which recomputes the tier on
//     every change; tier is never written directly.
//
// Reputation scores, execution counters, and supported-network sets are
// owned by other components and flow in through the narrow writer
// methods on Service.
package registry

import (
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrAgentNotFound     = errors.New("registry: agent not found")
	ErrDuplicateAgent    = errors.New("registry: agent already registered")
	ErrInsufficientStake = errors.New("registry: stake below capability minimum")
	ErrAgentDeactivated  = errors.New("registry: agent deactivated")
	ErrInvalidStake      = errors.New("registry: invalid stake amount")
	ErrInvalidCapability = errors.New("registry: invalid capability")
	ErrInvalidAddress    = errors.New("registry: invalid owner address")
	ErrInvalidAgentID    = errors.New("registry: invalid agent id")
	ErrInvalidPolicy     = errors.New("registry: invalid policy configuration")
)

// -----------------------------------------------------------------------------
// Core Types
// -----------------------------------------------------------------------------

// StakeTier gates the value of work an agent may accept. Derived from
// staked amount via TierPolicy, never set directly.
type StakeTier string

const (
	TierBasic        StakeTier = "basic"
	TierStandard     StakeTier = "standard"
	TierProfessional StakeTier = "professional"
	TierEnterprise   StakeTier = "enterprise"
)

// tierLadder is the fixed tier order; thresholds come from configuration.
var tierLadder = [4]StakeTier{TierBasic, TierStandard, TierProfessional, TierEnterprise}

// Profile is a registered agent.
type Profile struct {
	AgentID      string   `json:"agentId"`
	OwnerAddress string   `json:"ownerAddress"`
	Capabilities []string `json:"capabilities"`

	// Stake and derived tier
	StakedAmount string    `json:"stakedAmount"`
	StakeTier    StakeTier `json:"stakeTier"`

	// Advertised price per execution; empty means unpriced
	PaymentRate string `json:"paymentRate,omitempty"`

	// Owned by ReputationLedger
	ReputationScore float64 `json:"reputationScore"`

	// Owned by EscrowService
	TotalExecutions      int64 `json:"totalExecutions"`
	SuccessfulExecutions int64 `json:"successfulExecutions"`

	// Owned by CrossChainCoordinator
	SupportedNetworks []string `json:"supportedNetworks,omitempty"`

	// Soft removal; deactivated agents are kept for audit
	Deactivated bool `json:"deactivated"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// clone returns a deep copy so store callers cannot mutate shared state.
func (p *Profile) clone() *Profile {
	cp := *p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	cp.SupportedNetworks = append([]string(nil), p.SupportedNetworks...)
	return &cp
}

// -----------------------------------------------------------------------------
// Request / Query Types
// -----------------------------------------------------------------------------

// RegisterRequest is the payload for agent registration. AgentID is
// optional; one is minted when empty.
type RegisterRequest struct {
	AgentID      string   `json:"agentId,omitempty"`
	OwnerAddress string   `json:"ownerAddress" binding:"required"`
	Capabilities []string `json:"capabilities" binding:"required"`
	StakeAmount  string   `json:"stakeAmount" binding:"required"`
	PaymentRate  string   `json:"paymentRate,omitempty"`
}

// Query filters for agent discovery.
type Query struct {
	Capabilities   []string // all must be present on the agent
	MinReputation  float64
	MaxPaymentRate string // skip agents advertising above this rate
	Network        string // must be in the agent's supported networks
	Limit          int
	Offset         int
}
