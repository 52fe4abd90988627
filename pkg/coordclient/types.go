// Package coordclient implements a typed client for the Accord
// coordination engine API
// This is the foundation for the Accord SDK
package coordclient

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Stake tiers assigned by the engine based on staked amount.
const (
	TierBasic        = "basic"
	TierStandard     = "standard"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

// Escrow states.
const (
	EscrowOpen              = "open"
	EscrowPartiallyReleased = "partially_released"
	EscrowReleased          = "released"
	EscrowRefunded          = "refunded"
	EscrowExpired           = "expired"
	EscrowCancelled         = "cancelled"
)

// Agent is a registered agent profile.
type Agent struct {
	AgentID              string    `json:"agentId"`
	OwnerAddress         string    `json:"ownerAddress"`
	Capabilities         []string  `json:"capabilities"`
	StakedAmount         string    `json:"stakedAmount"`
	StakeTier            string    `json:"stakeTier"`
	PaymentRate          string    `json:"paymentRate,omitempty"`
	ReputationScore      float64   `json:"reputationScore"`
	TotalExecutions      int64     `json:"totalExecutions"`
	SuccessfulExecutions int64     `json:"successfulExecutions"`
	SupportedNetworks    []string  `json:"supportedNetworks,omitempty"`
	Deactivated          bool      `json:"deactivated"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// RegisterAgentRequest is the payload for registering an agent.
type RegisterAgentRequest struct {
	AgentID      string   `json:"agentId,omitempty"`
	OwnerAddress string   `json:"ownerAddress"`
	Capabilities []string `json:"capabilities"`
	StakeAmount  string   `json:"stakeAmount"`
	PaymentRate  string   `json:"paymentRate,omitempty"`
}

// RegisteredAgent is the registration result: the new profile plus a
// freshly issued API key when the engine mints keys. The key is shown
// exactly once, so store it before discarding this value.
type RegisteredAgent struct {
	Agent
	APIKey  string `json:"apiKey,omitempty"`
	KeyID   string `json:"keyId,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// FindAgentsQuery filters the agent directory. Zero values mean the
// filter is not applied.
type FindAgentsQuery struct {
	Capabilities   []string
	MaxPaymentRate string
	MinReputation  float64
	Network        string
	Limit          int
	Offset         int
}

func (q FindAgentsQuery) values() url.Values {
	v := url.Values{}
	if len(q.Capabilities) > 0 {
		v.Set("capabilities", strings.Join(q.Capabilities, ","))
	}
	if q.MaxPaymentRate != "" {
		v.Set("maxPaymentRate", q.MaxPaymentRate)
	}
	if q.MinReputation > 0 {
		v.Set("minReputation", strconv.FormatFloat(q.MinReputation, 'f', -1, 64))
	}
	if q.Network != "" {
		v.Set("network", q.Network)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// StakeUpdate is the result of a stake adjustment.
type StakeUpdate struct {
	AgentID      string `json:"agentId"`
	StakedAmount string `json:"stakedAmount"`
	StakeTier    string `json:"stakeTier"`
}

// Milestone is one payment stage of an escrow.
type Milestone struct {
	Percentage  int        `json:"percentage"`
	ConditionID string     `json:"conditionId"`
	Released    bool       `json:"released"`
	TxRef       string     `json:"txRef,omitempty"`
	ReleasedAt  *time.Time `json:"releasedAt,omitempty"`
}

// MilestoneSpec describes a milestone when creating an escrow.
type MilestoneSpec struct {
	Percentage  int    `json:"percentage"`
	ConditionID string `json:"conditionId"`
}

// Escrow is a milestone-based payment lock.
type Escrow struct {
	ID               string      `json:"id"`
	RequesterAddress string      `json:"requesterAddress"`
	AgentID          string      `json:"agentId"`
	PaymentAmount    string      `json:"paymentAmount"`
	Currency         string      `json:"currency"`
	Milestones       []Milestone `json:"milestones"`
	Deadline         time.Time   `json:"deadline"`
	State            string      `json:"state"`
	FromNetwork      string      `json:"fromNetwork,omitempty"`
	ToNetwork        string      `json:"toNetwork,omitempty"`
	BridgeProtocol   string      `json:"bridgeProtocol,omitempty"`
	Frozen           bool        `json:"frozen,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	ResolvedAt       *time.Time  `json:"resolvedAt,omitempty"`
}

// CreateEscrowRequest is the payload for opening an escrow.
type CreateEscrowRequest struct {
	RequesterAddress string          `json:"requesterAddress"`
	AgentID          string          `json:"agentId"`
	PaymentAmount    string          `json:"paymentAmount"`
	Currency         string          `json:"currency,omitempty"`
	Milestones       []MilestoneSpec `json:"milestones"`
	Deadline         time.Time       `json:"deadline"`
	FromNetwork      string          `json:"fromNetwork,omitempty"`
	ToNetwork        string          `json:"toNetwork,omitempty"`
}

// ReleaseOutcome reports what a successful proof submission released.
type ReleaseOutcome struct {
	Escrow         *Escrow `json:"escrow"`
	MilestoneIndex int     `json:"milestoneIndex"`
	AmountReleased string  `json:"amountReleased"`
	TxRef          string  `json:"txRef"`
	FinalRelease   bool    `json:"finalRelease"`
}

// EscrowPage is one page of an agent's escrow listing.
type EscrowPage struct {
	Escrows    []Escrow `json:"escrows"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// ReputationScore is an agent's aggregate reputation.
type ReputationScore struct {
	AgentID string  `json:"agentId"`
	Score   float64 `json:"score"`
}

// ReputationEvent is one recorded execution outcome.
type ReputationEvent struct {
	ID           int64     `json:"id"`
	AgentID      string    `json:"agentId"`
	EventType    string    `json:"eventType"`
	QualityScore float64   `json:"qualityScore"`
	EvidenceHash string    `json:"evidenceHash,omitempty"`
	Networks     []string  `json:"networks,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RecordEventRequest is the payload for recording an outcome.
type RecordEventRequest struct {
	EventType    string   `json:"eventType"`
	QualityScore *float64 `json:"qualityScore"`
	EvidenceHash string   `json:"evidenceHash,omitempty"`
	Networks     []string `json:"networks,omitempty"`
}

// NetworkScore is an agent's reputation as seen on one network.
type NetworkScore struct {
	AgentID  string    `json:"agentId"`
	Network  string    `json:"network"`
	Score    float64   `json:"score"`
	SyncedAt time.Time `json:"syncedAt"`
}

// Network is one network in the engine's settlement table.
type Network struct {
	ID              string   `json:"id"`
	NativeCurrency  string   `json:"nativeCurrency"`
	BridgeProtocols []string `json:"bridgeProtocols"`
}

// Registration is an agent's declared network set.
type Registration struct {
	AgentID   string    `json:"agentId"`
	Networks  []string  `json:"networks"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RoutePair is one cell of an agent's settlement compatibility matrix.
type RoutePair struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Protocol string `json:"protocol,omitempty"`
}

// AgentNetworks bundles an agent's networks with its route matrix.
type AgentNetworks struct {
	AgentID  string      `json:"agentId"`
	Networks []string    `json:"networks"`
	Matrix   []RoutePair `json:"matrix"`
}

// Route is a settlement route check result. Protocol is "native" when
// both networks are the same, otherwise the shared bridge protocol.
type Route struct {
	AgentID  string `json:"agentId"`
	From     string `json:"from"`
	To       string `json:"to"`
	Protocol string `json:"protocol"`
}

// RevenueShare is a holder's participation in revenue distribution.
type RevenueShare struct {
	RecipientAddress    string    `json:"recipientAddress"`
	ParticipationTokens uint64    `json:"participationTokens"`
	ContributionScore   float64   `json:"contributionScore"`
	AccumulatedRewards  string    `json:"accumulatedRewards"`
	LastClaimPeriod     uint64    `json:"lastClaimPeriod"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Distribution is one completed revenue distribution period.
type Distribution struct {
	PeriodID     uint64    `json:"periodId"`
	TotalRevenue string    `json:"totalRevenue"`
	HolderCount  int       `json:"holderCount"`
	Remainder    string    `json:"remainder"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Claim is one paid-out rewards claim.
type Claim struct {
	ID               int64     `json:"id"`
	RecipientAddress string    `json:"recipientAddress"`
	Amount           string    `json:"amount"`
	PeriodID         uint64    `json:"periodId"`
	TxRef            string    `json:"txRef"`
	CreatedAt        time.Time `json:"createdAt"`
}

// PoolStatus is the undistributed revenue pool.
type PoolStatus struct {
	PoolBalance     string    `json:"poolBalance"`
	TreasuryBalance string    `json:"treasuryBalance"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// APIError is an error response from the engine.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HashCondition turns a plain proof value into the hash:<sha256 hex>
// condition ID the engine's built-in verifier checks proofs against.
func HashCondition(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "hash:" + hex.EncodeToString(sum[:])
}

// EvenSplit builds n milestone specs with the given condition IDs and
// percentages summing to 100, leading milestones taking the remainder.
func EvenSplit(conditionIDs []string) []MilestoneSpec {
	n := len(conditionIDs)
	if n == 0 {
		return nil
	}
	base := 100 / n
	rem := 100 % n
	specs := make([]MilestoneSpec, n)
	for i, id := range conditionIDs {
		specs[i] = MilestoneSpec{Percentage: base, ConditionID: id}
		if i < rem {
			specs[i].Percentage++
		}
	}
	return specs
}
