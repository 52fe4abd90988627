package chainled

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/accordproto/accord/internal/amount"
	"github.com/accordproto/accord/internal/idgen"
	"github.com/accordproto/accord/internal/metrics"
)

// memIntent is the mutable ledger-side view of an Intent.
type memIntent struct {
	id        string
	from      string
	currency  string
	locked    *big.Int
	released  *big.Int
	refunded  *big.Int
	createdAt time.Time
}

// MemoryGateway is an in-process Gateway used in development and tests.
// Construct one per engine instance and inject it; it is never a
// package-level singleton. Balances are per (address, currency).
type MemoryGateway struct {
	mu        sync.Mutex
	available map[string]*big.Int // addr|currency -> spendable
	escrowed  map[string]*big.Int // addr|currency -> locked in intents
	intents   map[string]*memIntent
	processed map[string]string // idempotency key -> tx reference
}

var _ Gateway = (*MemoryGateway)(nil)

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		available: make(map[string]*big.Int),
		escrowed:  make(map[string]*big.Int),
		intents:   make(map[string]*memIntent),
		processed: make(map[string]string),
	}
}

func balKey(addr, currency string) string {
	return strings.ToLower(addr) + "|" + strings.ToUpper(currency)
}

// Seed credits an address with spendable funds. Dev and test helper.
func (g *MemoryGateway) Seed(address, amt, currency string) error {
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return ErrInvalidAmount
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.add(g.available, balKey(address, currency), v)
	return nil
}

// LockFunds reserves funds from the payer and mints an intent.
func (g *MemoryGateway) LockFunds(ctx context.Context, from, amt, currency string) (string, error) {
	if from == "" {
		return "", ErrInvalidAddress
	}
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return "", ErrInvalidAmount
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := balKey(from, currency)
	if g.get(g.available, key).Cmp(v) < 0 {
		metrics.GatewayCallsTotal.WithLabelValues("lock", "insufficient").Inc()
		return "", fmt.Errorf("%w: %s needs %s %s", ErrInsufficientFunds, from, amt, currency)
	}

	g.sub(g.available, key, v)
	g.add(g.escrowed, key, v)

	in := &memIntent{
		id:        idgen.WithPrefix("int_"),
		from:      strings.ToLower(from),
		currency:  strings.ToUpper(currency),
		locked:    new(big.Int).Set(v),
		released:  big.NewInt(0),
		refunded:  big.NewInt(0),
		createdAt: time.Now(),
	}
	g.intents[in.id] = in

	metrics.GatewayCallsTotal.WithLabelValues("lock", "ok").Inc()
	return in.id, nil
}

// ReleaseFunds pays part of an intent's reserve to a recipient.
// Replaying an idempotency key returns the recorded tx reference.
func (g *MemoryGateway) ReleaseFunds(ctx context.Context, intentID, to, amt, key string) (string, error) {
	if to == "" {
		return "", ErrInvalidAddress
	}
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return "", ErrInvalidAmount
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, done := g.processed[key]; done {
		metrics.GatewayCallsTotal.WithLabelValues("release", "replay").Inc()
		return ref, nil
	}

	in, ok := g.intents[intentID]
	if !ok {
		return "", ErrIntentNotFound
	}

	remaining := new(big.Int).Sub(in.locked, in.released)
	remaining.Sub(remaining, in.refunded)
	if remaining.Cmp(v) < 0 {
		metrics.GatewayCallsTotal.WithLabelValues("release", "exhausted").Inc()
		return "", fmt.Errorf("%w: intent %s has %s remaining, wanted %s",
			ErrIntentExhausted, intentID, amount.Format(remaining), amt)
	}

	g.sub(g.escrowed, balKey(in.from, in.currency), v)
	g.add(g.available, balKey(to, in.currency), v)
	in.released.Add(in.released, v)

	ref := "mtx_" + idgen.Hex(16)
	g.processed[key] = ref
	metrics.GatewayCallsTotal.WithLabelValues("release", "ok").Inc()
	return ref, nil
}

// RefundFunds returns the intent's unreleased remainder to the payer.
func (g *MemoryGateway) RefundFunds(ctx context.Context, intentID, key string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, done := g.processed[key]; done {
		metrics.GatewayCallsTotal.WithLabelValues("refund", "replay").Inc()
		return ref, nil
	}

	in, ok := g.intents[intentID]
	if !ok {
		return "", ErrIntentNotFound
	}

	remaining := new(big.Int).Sub(in.locked, in.released)
	remaining.Sub(remaining, in.refunded)
	if remaining.Sign() <= 0 {
		metrics.GatewayCallsTotal.WithLabelValues("refund", "exhausted").Inc()
		return "", fmt.Errorf("%w: intent %s", ErrIntentExhausted, intentID)
	}

	k := balKey(in.from, in.currency)
	g.sub(g.escrowed, k, remaining)
	g.add(g.available, k, remaining)
	in.refunded.Add(in.refunded, remaining)

	ref := "mtx_" + idgen.Hex(16)
	g.processed[key] = ref
	metrics.GatewayCallsTotal.WithLabelValues("refund", "ok").Inc()
	return ref, nil
}

// Transfer moves spendable funds directly between addresses.
func (g *MemoryGateway) Transfer(ctx context.Context, from, to, amt, currency, key string) (string, error) {
	if from == "" || to == "" {
		return "", ErrInvalidAddress
	}
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return "", ErrInvalidAmount
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, done := g.processed[key]; done {
		metrics.GatewayCallsTotal.WithLabelValues("transfer", "replay").Inc()
		return ref, nil
	}

	srcKey := balKey(from, currency)
	if g.get(g.available, srcKey).Cmp(v) < 0 {
		metrics.GatewayCallsTotal.WithLabelValues("transfer", "insufficient").Inc()
		return "", fmt.Errorf("%w: %s needs %s %s", ErrInsufficientFunds, from, amt, currency)
	}

	g.sub(g.available, srcKey, v)
	g.add(g.available, balKey(to, currency), v)

	ref := "mtx_" + idgen.Hex(16)
	g.processed[key] = ref
	metrics.GatewayCallsTotal.WithLabelValues("transfer", "ok").Inc()
	return ref, nil
}

// GetBalance reports an address's spendable balance.
func (g *MemoryGateway) GetBalance(ctx context.Context, address, currency string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return amount.Format(g.get(g.available, balKey(address, currency))), nil
}

// EscrowedBalance reports the funds an address has locked in intents.
// Not part of the Gateway interface; used by tests and the dev API.
func (g *MemoryGateway) EscrowedBalance(address, currency string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return amount.Format(g.get(g.escrowed, balKey(address, currency)))
}

// GetIntent returns a snapshot of a payment intent.
func (g *MemoryGateway) GetIntent(intentID string) (*Intent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return nil, false
	}
	return &Intent{
		ID:        in.id,
		From:      in.from,
		Currency:  in.currency,
		Locked:    amount.Format(in.locked),
		Released:  amount.Format(in.released),
		Refunded:  amount.Format(in.refunded),
		CreatedAt: in.createdAt,
	}, true
}

// Internal hooks for the EVM gateway, which uses the memory book for
// intent accounting and overlays on-chain settlement.

// claimRelease reserves the idempotency key and moves book funds. When
// the key was already settled it returns (settledRef, true, nil) and
// moves nothing.
func (g *MemoryGateway) claimRelease(intentID, to, amt, key string) (string, bool, error) {
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return "", false, ErrInvalidAmount
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, done := g.processed[key]; done {
		return ref, true, nil
	}

	in, exists := g.intents[intentID]
	if !exists {
		return "", false, ErrIntentNotFound
	}

	remaining := new(big.Int).Sub(in.locked, in.released)
	remaining.Sub(remaining, in.refunded)
	if remaining.Cmp(v) < 0 {
		return "", false, fmt.Errorf("%w: intent %s", ErrIntentExhausted, intentID)
	}

	g.sub(g.escrowed, balKey(in.from, in.currency), v)
	g.add(g.available, balKey(to, in.currency), v)
	in.released.Add(in.released, v)
	g.processed[key] = "pending:" + key
	return "", false, nil
}

// claimRefund reserves the key and moves the unreleased remainder back
// to the payer, returning the refunded amount.
func (g *MemoryGateway) claimRefund(intentID, key string) (string, string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, done := g.processed[key]; done {
		return "", ref, true, nil
	}

	in, exists := g.intents[intentID]
	if !exists {
		return "", "", false, ErrIntentNotFound
	}

	remaining := new(big.Int).Sub(in.locked, in.released)
	remaining.Sub(remaining, in.refunded)
	if remaining.Sign() <= 0 {
		return "", "", false, fmt.Errorf("%w: intent %s", ErrIntentExhausted, intentID)
	}

	k := balKey(in.from, in.currency)
	g.sub(g.escrowed, k, remaining)
	g.add(g.available, k, remaining)
	in.refunded.Add(in.refunded, remaining)
	g.processed[key] = "pending:" + key
	return amount.Format(remaining), "", false, nil
}

// claimTransfer reserves the key and moves spendable book funds.
func (g *MemoryGateway) claimTransfer(from, to, amt, currency, key string) (string, bool, error) {
	v, ok := amount.Parse(amt)
	if !ok || v.Sign() <= 0 {
		return "", false, ErrInvalidAmount
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if ref, done := g.processed[key]; done {
		return ref, true, nil
	}

	srcKey := balKey(from, currency)
	if g.get(g.available, srcKey).Cmp(v) < 0 {
		return "", false, fmt.Errorf("%w: %s", ErrInsufficientFunds, from)
	}

	g.sub(g.available, srcKey, v)
	g.add(g.available, balKey(to, currency), v)
	g.processed[key] = "pending:" + key
	return "", false, nil
}

// revertTransfer undoes claimTransfer after a failed settlement.
func (g *MemoryGateway) revertTransfer(from, to, amt, currency, key string) {
	v, ok := amount.Parse(amt)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.add(g.available, balKey(from, currency), v)
	g.sub(g.available, balKey(to, currency), v)
	delete(g.processed, key)
}

// settle records the final transaction reference for a claimed key.
func (g *MemoryGateway) settle(key, txRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processed[key] = txRef
}

// revertRelease undoes claimRelease after a failed settlement so the
// caller can retry with the same key.
func (g *MemoryGateway) revertRelease(intentID, to, amt, key string) {
	v, ok := amount.Parse(amt)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	in, exists := g.intents[intentID]
	if !exists {
		return
	}
	g.add(g.escrowed, balKey(in.from, in.currency), v)
	g.sub(g.available, balKey(to, in.currency), v)
	in.released.Sub(in.released, v)
	delete(g.processed, key)
}

// revertRefund undoes claimRefund after a failed settlement.
func (g *MemoryGateway) revertRefund(intentID, amt, key string) {
	v, ok := amount.Parse(amt)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	in, exists := g.intents[intentID]
	if !exists {
		return
	}
	k := balKey(in.from, in.currency)
	g.add(g.escrowed, k, v)
	g.sub(g.available, k, v)
	in.refunded.Sub(in.refunded, v)
	delete(g.processed, key)
}

// map helpers, caller holds g.mu

func (g *MemoryGateway) get(m map[string]*big.Int, key string) *big.Int {
	if v, ok := m[key]; ok {
		return v
	}
	return big.NewInt(0)
}

func (g *MemoryGateway) add(m map[string]*big.Int, key string, v *big.Int) {
	cur, ok := m[key]
	if !ok {
		cur = big.NewInt(0)
		m[key] = cur
	}
	cur.Add(cur, v)
}

func (g *MemoryGateway) sub(m map[string]*big.Int, key string, v *big.Int) {
	cur, ok := m[key]
	if !ok {
		cur = big.NewInt(0)
		m[key] = cur
	}
	cur.Sub(cur, v)
}
