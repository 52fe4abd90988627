//go:build integration

package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordproto/accord/internal/pagination"
	"github.com/accordproto/accord/internal/testutil"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	e := &Escrow{
		ID:               "esc_0000000000000000000000a1",
		RequesterAddress: testRequester,
		AgentID:          testAgent,
		PaymentAmount:    "250.500000",
		Currency:         "USDC",
		Milestones: []Milestone{
			{Percentage: 40, ConditionID: hashCondition("a")},
			{Percentage: 60, ConditionID: hashCondition("b")},
		},
		Deadline:       now.Add(48 * time.Hour),
		State:          StateOpen,
		IntentID:       "int_000000000000000000000001",
		FromNetwork:    "ethereum",
		ToNetwork:      "solana",
		BridgeProtocol: "layerzero",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.Create(ctx, e))

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.RequesterAddress, got.RequesterAddress)
	assert.Equal(t, "250.500000", got.PaymentAmount)
	assert.Equal(t, "layerzero", got.BridgeProtocol)
	assert.Equal(t, "ethereum", got.FromNetwork)
	require.Len(t, got.Milestones, 2)
	assert.Equal(t, 40, got.Milestones[0].Percentage)
	assert.False(t, got.Milestones[0].Released)
	assert.WithinDuration(t, e.Deadline, got.Deadline, time.Millisecond)
	assert.Nil(t, got.ResolvedAt)

	released := now.Add(time.Minute)
	got.Milestones[0].Released = true
	got.Milestones[0].PaymentKey = "esc:" + e.ID + ":m:0"
	got.Milestones[0].TxRef = "tx_abc"
	got.Milestones[0].ReleasedAt = &released
	got.State = StatePartiallyReleased
	got.UpdatedAt = released
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyReleased, updated.State)
	assert.True(t, updated.Milestones[0].Released)
	assert.Equal(t, "tx_abc", updated.Milestones[0].TxRef)
	require.NotNil(t, updated.Milestones[0].ReleasedAt)
	assert.Equal(t, "esc:"+e.ID+":m:0", updated.Milestones[0].PaymentKey)

	_, err = store.Get(ctx, "esc_00000000000000000000dead")
	assert.ErrorIs(t, err, ErrEscrowNotFound)

	stale := storeEscrow("esc_00000000000000000000dead", now, now.Add(time.Hour), StateOpen)
	assert.ErrorIs(t, store.Update(ctx, stale), ErrEscrowNotFound)
}

func TestPostgresStoreListByAgent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)

	ids := []string{
		"esc_000000000000000000000001",
		"esc_000000000000000000000002",
		"esc_000000000000000000000003",
	}
	for i, id := range ids {
		e := storeEscrow(id, base.Add(time.Duration(i)*time.Minute), base.Add(24*time.Hour), StateOpen)
		require.NoError(t, store.Create(ctx, e))
	}
	other := storeEscrow("esc_00000000000000000000000f", base, base.Add(24*time.Hour), StateOpen)
	other.AgentID = "agt_bbbbbbbbbbbbbbbbbbbbbbbb"
	require.NoError(t, store.Create(ctx, other))

	page, err := store.ListByAgent(ctx, testAgent, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	cur := &pagination.Cursor{CreatedAt: page[1].CreatedAt, ID: page[1].ID}
	rest, err := store.ListByAgent(ctx, testAgent, cur, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)
}

func TestPostgresStoreListExpired(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	overdue := storeEscrow("esc_000000000000000000000001", now.Add(-2*time.Hour), now.Add(-time.Hour), StateOpen)
	partial := storeEscrow("esc_000000000000000000000002", now.Add(-3*time.Hour), now.Add(-30*time.Minute), StatePartiallyReleased)
	terminal := storeEscrow("esc_000000000000000000000003", now.Add(-2*time.Hour), now.Add(-time.Hour), StateExpired)
	frozen := storeEscrow("esc_000000000000000000000004", now.Add(-2*time.Hour), now.Add(-time.Hour), StateOpen)
	frozen.Frozen = true
	fresh := storeEscrow("esc_000000000000000000000005", now, now.Add(time.Hour), StateOpen)

	for _, e := range []*Escrow{overdue, partial, terminal, frozen, fresh} {
		require.NoError(t, store.Create(ctx, e))
	}

	expired, err := store.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, overdue.ID, expired[0].ID)
	assert.Equal(t, partial.ID, expired[1].ID)
}
