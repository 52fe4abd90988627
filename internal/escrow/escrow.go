// Package escrow implements milestone-based payment protection for
// agent work.
//
// Flow:
//  1. Requester creates an escrow → full payment locked at the gateway
//  2. Agent completes a milestone → proof verified → share released
//  3. All milestones released → escrow closes as released
//  4. Deadline passes first → sweep refunds the unreleased remainder
//  5. Requester cancels an untouched escrow → full refund
//
// Each milestone releases exactly once. The payment key for a
// milestone is recorded durably before the gateway call, and the
// gateway deduplicates on that key, so a timed-out release can be
// retried without paying twice.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/accordproto/accord/internal/amount"
	"github.com/accordproto/accord/internal/pagination"
)

// Errors
var (
	ErrEscrowNotFound      = errors.New("escrow: not found")
	ErrInvalidAddress      = errors.New("escrow: invalid requester address")
	ErrInvalidAgentID      = errors.New("escrow: invalid agent id")
	ErrInvalidAmount       = errors.New("escrow: invalid payment amount")
	ErrInvalidCurrency     = errors.New("escrow: invalid currency")
	ErrInvalidMilestones   = errors.New("escrow: milestone percentages must each be at least 1 and sum to 100")
	ErrInvalidDeadline     = errors.New("escrow: deadline must be in the future")
	ErrInvalidNetworkPair  = errors.New("escrow: fromNetwork and toNetwork must be set together")
	ErrAgentInactive       = errors.New("escrow: agent is deactivated")
	ErrPaymentCapExceeded  = errors.New("escrow: payment exceeds stake tier cap")
	ErrMilestoneOutOfRange = errors.New("escrow: milestone index out of range")
	ErrAlreadyReleased     = errors.New("escrow: milestone already released")
	ErrUnknownCondition    = errors.New("escrow: no verifier registered for condition type")
	ErrInvalidCondition    = errors.New("escrow: malformed condition identifier")
	ErrConditionFailed     = errors.New("escrow: proof does not satisfy milestone condition")
	ErrDeadlinePassed      = errors.New("escrow: deadline has passed")
	ErrTerminalState       = errors.New("escrow: escrow is in a terminal state")
	ErrEscrowFrozen        = errors.New("escrow: escrow is frozen pending manual review")
	ErrNotRequester        = errors.New("escrow: caller is not the requester")
	ErrNotCancellable      = errors.New("escrow: only open escrows with no released milestones can be cancelled")
	ErrInvalidCursor       = errors.New("escrow: invalid pagination cursor")
)

// State represents the lifecycle state of an escrow.
type State string

const (
	StateOpen              State = "open"
	StatePartiallyReleased State = "partially_released"
	StateReleased          State = "released"
	StateRefunded          State = "refunded"
	StateExpired           State = "expired"
)

// MaxMilestones bounds the milestone count of a single escrow.
const MaxMilestones = 20

// Milestone is one releasable share of an escrow's payment.
type Milestone struct {
	Percentage  int    `json:"percentage"`
	ConditionID string `json:"conditionId"`
	Released    bool   `json:"released"`

	// PaymentKey is the idempotency key recorded before the gateway
	// release call. Empty until a release has been attempted.
	PaymentKey string     `json:"paymentKey,omitempty"`
	TxRef      string     `json:"txRef,omitempty"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
}

// Escrow is a milestone-based payment reservation for agent work.
type Escrow struct {
	ID               string      `json:"id"`
	RequesterAddress string      `json:"requesterAddress"`
	AgentID          string      `json:"agentId"`
	PaymentAmount    string      `json:"paymentAmount"`
	Currency         string      `json:"currency"`
	Milestones       []Milestone `json:"milestones"`
	Deadline         time.Time   `json:"deadline"`
	State            State       `json:"state"`

	// IntentID identifies the gateway reservation holding the funds.
	IntentID string `json:"intentId,omitempty"`

	// Cross-network work, resolved at creation time.
	FromNetwork    string `json:"fromNetwork,omitempty"`
	ToNetwork      string `json:"toNetwork,omitempty"`
	BridgeProtocol string `json:"bridgeProtocol,omitempty"`

	// Frozen marks an escrow whose invariants were found violated at
	// runtime. Frozen escrows reject every mutation until reviewed.
	Frozen bool `json:"frozen,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true if the escrow is in a final state.
func (e *Escrow) IsTerminal() bool {
	switch e.State {
	case StateReleased, StateRefunded, StateExpired:
		return true
	}
	return false
}

// releasedPercent sums the percentages of already-released milestones.
func (e *Escrow) releasedPercent() int {
	total := 0
	for _, m := range e.Milestones {
		if m.Released {
			total += m.Percentage
		}
	}
	return total
}

// eventNetworks lists the networks an outcome event should be
// attributed to. Empty for same-network escrows with no route.
func (e *Escrow) eventNetworks() []string {
	if e.FromNetwork == "" {
		return nil
	}
	if e.FromNetwork == e.ToNetwork {
		return []string{e.FromNetwork}
	}
	return []string{e.FromNetwork, e.ToNetwork}
}

// allReleased reports whether every milestone has been released.
func (e *Escrow) allReleased() bool {
	for _, m := range e.Milestones {
		if !m.Released {
			return false
		}
	}
	return true
}

// milestoneAmounts splits the payment across milestones in smallest
// units. Each milestone gets floor(payment*pct/100); the last one
// absorbs the division dust so the parts always sum to the payment
// exactly.
func milestoneAmounts(payment *big.Int, milestones []Milestone) []*big.Int {
	amounts := make([]*big.Int, len(milestones))
	assigned := new(big.Int)
	for i, m := range milestones {
		if i == len(milestones)-1 {
			amounts[i] = new(big.Int).Sub(payment, assigned)
			break
		}
		share := new(big.Int).Mul(payment, big.NewInt(int64(m.Percentage)))
		share.Div(share, big.NewInt(100))
		amounts[i] = share
		assigned.Add(assigned, share)
	}
	return amounts
}

// releasedTotal sums the released milestone amounts in smallest units.
func (e *Escrow) releasedTotal() *big.Int {
	payment, _ := amount.Parse(e.PaymentAmount)
	if payment == nil {
		return new(big.Int)
	}
	amounts := milestoneAmounts(payment, e.Milestones)
	total := new(big.Int)
	for i, m := range e.Milestones {
		if m.Released {
			total.Add(total, amounts[i])
		}
	}
	return total
}

// MilestoneSpec describes one milestone in a create request.
type MilestoneSpec struct {
	Percentage  int    `json:"percentage"`
	ConditionID string `json:"conditionId" binding:"required"`
}

// CreateRequest contains the parameters for creating an escrow.
type CreateRequest struct {
	RequesterAddress string          `json:"requesterAddress" binding:"required"`
	AgentID          string          `json:"agentId" binding:"required"`
	PaymentAmount    string          `json:"paymentAmount" binding:"required"`
	Currency         string          `json:"currency"`
	Milestones       []MilestoneSpec `json:"milestones" binding:"required"`
	Deadline         time.Time       `json:"deadline" binding:"required"`
	FromNetwork      string          `json:"fromNetwork"`
	ToNetwork        string          `json:"toNetwork"`
}

// ReleaseOutcome reports the result of a successful milestone release.
type ReleaseOutcome struct {
	Escrow         *Escrow `json:"escrow"`
	MilestoneIndex int     `json:"milestoneIndex"`
	AmountReleased string  `json:"amountReleased"`
	TxRef          string  `json:"txRef"`
	FinalRelease   bool    `json:"finalRelease"`
}

// Store persists escrow data.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error

	// ListByAgent returns an agent's escrows ordered by created_at
	// descending then id ascending, starting after the cursor when
	// one is given.
	ListByAgent(ctx context.Context, agentID string, cursor *pagination.Cursor, limit int) ([]*Escrow, error)

	// ListExpired returns non-terminal, non-frozen escrows whose
	// deadline is before the given time.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
}

func paymentKey(escrowID string, index int) string {
	return fmt.Sprintf("esc:%s:m:%d", escrowID, index)
}

func refundKey(escrowID string) string {
	return "esc:" + escrowID + ":refund"
}
