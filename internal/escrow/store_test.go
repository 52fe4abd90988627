package escrow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordproto/accord/internal/pagination"
)

func storeEscrow(id string, created, deadline time.Time, state State) *Escrow {
	return &Escrow{
		ID:               id,
		RequesterAddress: testRequester,
		AgentID:          testAgent,
		PaymentAmount:    "10.000000",
		Currency:         "USDC",
		Milestones:       []Milestone{{Percentage: 100, ConditionID: "hash:" + strings.Repeat("ab", 32)}},
		Deadline:         deadline,
		State:            state,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	e := storeEscrow("esc_000000000000000000000001", now, now.Add(time.Hour), StateOpen)
	require.NoError(t, store.Create(ctx, e))

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, StateOpen, got.State)
	assert.Len(t, got.Milestones, 1)

	got.State = StatePartiallyReleased
	got.Milestones[0].Released = true
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyReleased, updated.State)
	assert.True(t, updated.Milestones[0].Released)

	_, err = store.Get(ctx, "esc_ffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrEscrowNotFound)

	missing := storeEscrow("esc_ffffffffffffffffffffffff", now, now.Add(time.Hour), StateOpen)
	assert.ErrorIs(t, store.Update(ctx, missing), ErrEscrowNotFound)
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	e := storeEscrow("esc_000000000000000000000001", now, now.Add(time.Hour), StateOpen)
	require.NoError(t, store.Create(ctx, e))

	// Mutating the original after Create must not leak into the store.
	e.Milestones[0].Released = true
	e.State = StateReleased

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, got.Milestones[0].Released)
	assert.Equal(t, StateOpen, got.State)

	// Mutating a read copy must not leak either.
	got.Milestones[0].Released = true
	fresh, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, fresh.Milestones[0].Released)
}

func TestMemoryStoreListByAgent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{
		"esc_000000000000000000000001",
		"esc_000000000000000000000002",
		"esc_000000000000000000000003",
	} {
		e := storeEscrow(id, base.Add(time.Duration(i)*time.Minute), base.Add(24*time.Hour), StateOpen)
		require.NoError(t, store.Create(ctx, e))
	}
	other := storeEscrow("esc_00000000000000000000000f", base, base.Add(24*time.Hour), StateOpen)
	other.AgentID = "agt_bbbbbbbbbbbbbbbbbbbbbbbb"
	require.NoError(t, store.Create(ctx, other))

	// Newest first, scoped to the agent.
	all, err := store.ListByAgent(ctx, testAgent, nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "esc_000000000000000000000003", all[0].ID)
	assert.Equal(t, "esc_000000000000000000000001", all[2].ID)

	// Cursor resumes strictly after the given position.
	cur := &pagination.Cursor{CreatedAt: all[0].CreatedAt, ID: all[0].ID}
	rest, err := store.ListByAgent(ctx, testAgent, cur, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "esc_000000000000000000000002", rest[0].ID)

	// Limit trims from the front of the ordering.
	capped, err := store.ListByAgent(ctx, testAgent, nil, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, "esc_000000000000000000000003", capped[0].ID)
}

func TestMemoryStoreListByAgentCursorTie(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	stamp := time.Now().UTC()

	a := storeEscrow("esc_00000000000000000000000a", stamp, stamp.Add(time.Hour), StateOpen)
	b := storeEscrow("esc_00000000000000000000000b", stamp, stamp.Add(time.Hour), StateOpen)
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	// Equal timestamps break ties by id ascending, so the cursor at
	// the first id yields the second.
	cur := &pagination.Cursor{CreatedAt: stamp, ID: a.ID}
	rest, err := store.ListByAgent(ctx, testAgent, cur, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, b.ID, rest[0].ID)
}

func TestMemoryStoreListExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	overdueLate := storeEscrow("esc_000000000000000000000001", now.Add(-2*time.Hour), now.Add(-time.Minute), StateOpen)
	overdueEarly := storeEscrow("esc_000000000000000000000002", now.Add(-3*time.Hour), now.Add(-time.Hour), StatePartiallyReleased)
	released := storeEscrow("esc_000000000000000000000003", now.Add(-2*time.Hour), now.Add(-time.Hour), StateReleased)
	frozen := storeEscrow("esc_000000000000000000000004", now.Add(-2*time.Hour), now.Add(-time.Hour), StateOpen)
	frozen.Frozen = true
	future := storeEscrow("esc_000000000000000000000005", now, now.Add(time.Hour), StateOpen)

	for _, e := range []*Escrow{overdueLate, overdueEarly, released, frozen, future} {
		require.NoError(t, store.Create(ctx, e))
	}

	expired, err := store.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	// Earliest deadline first.
	assert.Equal(t, overdueEarly.ID, expired[0].ID)
	assert.Equal(t, overdueLate.ID, expired[1].ID)

	capped, err := store.ListExpired(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, overdueEarly.ID, capped[0].ID)
}
