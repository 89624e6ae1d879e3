package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ReserveAndRelease(t *testing.T) {
	ledger := &Ledger{TotalBlocks: 5, UsedBlocks: 1}

	require.NoError(t, ledger.Reserve(3))
	assert.Equal(t, int64(3), ledger.ReservedBlocks)
	assert.Equal(t, int64(1), ledger.AvailableBlocks())

	ledger.Release(3)
	assert.Equal(t, int64(0), ledger.ReservedBlocks)
	assert.Equal(t, int64(4), ledger.AvailableBlocks())
}

func TestLedger_ReserveInsufficient(t *testing.T) {
	ledger := &Ledger{TotalBlocks: 2, ReservedBlocks: 1}

	err := ledger.Reserve(2)
	assert.ErrorIs(t, err, ErrInsufficientBlocks)
	assert.Equal(t, int64(1), ledger.ReservedBlocks, "failed reserve must not mutate")
}

func TestLedger_ReserveInvalidCount(t *testing.T) {
	ledger := &Ledger{TotalBlocks: 5}

	assert.ErrorIs(t, ledger.Reserve(0), ErrInvalidBlockCount)
	assert.ErrorIs(t, ledger.Reserve(-2), ErrInvalidBlockCount)
}

func TestLedger_ReleaseFloorsAtZero(t *testing.T) {
	ledger := &Ledger{TotalBlocks: 5, ReservedBlocks: 1}

	ledger.Release(3)
	assert.Equal(t, int64(0), ledger.ReservedBlocks)
	assert.Equal(t, int64(5), ledger.AvailableBlocks())
}

func TestLedger_CommitUsage(t *testing.T) {
	ledger := &Ledger{TotalBlocks: 10}
	require.NoError(t, ledger.Reserve(4))

	// Actual came in under the reservation, surplus returns to available.
	require.NoError(t, ledger.CommitUsage(4, 3))
	assert.Equal(t, int64(0), ledger.ReservedBlocks)
	assert.Equal(t, int64(3), ledger.UsedBlocks)
	assert.Equal(t, int64(7), ledger.AvailableBlocks())
}

func TestLedger_CommitUsageShortfallLeavesStateUnchanged(t *testing.T) {
	ledger := &Ledger{TotalBlocks: 10, ReservedBlocks: 2, UsedBlocks: 1}
	before := *ledger

	err := ledger.CommitUsage(2, 5)
	assert.ErrorIs(t, err, ErrShortfallOnFinalize)
	assert.Equal(t, before.ReservedBlocks, ledger.ReservedBlocks)
	assert.Equal(t, before.UsedBlocks, ledger.UsedBlocks)
	assert.Equal(t, before.TotalBlocks, ledger.TotalBlocks)
}

func TestLedger_InvariantHoldsAcrossLifecycle(t *testing.T) {
	ledger := &Ledger{TotalBlocks: 3}

	require.NoError(t, ledger.Reserve(3))
	assert.GreaterOrEqual(t, ledger.AvailableBlocks(), int64(0))

	require.NoError(t, ledger.CommitUsage(3, 2))
	assert.GreaterOrEqual(t, ledger.AvailableBlocks(), int64(0))

	ledger.Credit(5)
	require.NoError(t, ledger.Reserve(6))
	assert.GreaterOrEqual(t, ledger.AvailableBlocks(), int64(0))
}

func TestLedger_Credits(t *testing.T) {
	now := time.Now().UTC()
	live := PromotionalCredit{ID: uuid.New(), Blocks: 1, GrantedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	dead := PromotionalCredit{ID: uuid.New(), Blocks: 1, GrantedAt: now.AddDate(0, -2, 0), ExpiresAt: now.Add(-time.Hour)}
	ledger := &Ledger{Credits: []PromotionalCredit{live, dead}}

	active := ledger.ActiveCredits(now)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	assert.Equal(t, 1, ledger.ExpireCredits(now))
	require.Len(t, ledger.Credits, 1)

	assert.True(t, ledger.ConsumeCredit(live.ID))
	assert.False(t, ledger.ConsumeCredit(live.ID), "consuming twice must fail")
	assert.Empty(t, ledger.Credits)
}

func TestLedger_Clone(t *testing.T) {
	now := time.Now().UTC()
	ledger := &Ledger{
		TotalBlocks: 4,
		Credits: []PromotionalCredit{
			{ID: uuid.New(), Blocks: 1, GrantedAt: now, ExpiresAt: now.Add(time.Hour)},
		},
	}

	cp := ledger.Clone()
	cp.TotalBlocks = 99
	cp.Credits[0].Blocks = 99

	assert.Equal(t, int64(4), ledger.TotalBlocks)
	assert.Equal(t, int64(1), ledger.Credits[0].Blocks)
}

func TestLedger_InGrace(t *testing.T) {
	now := time.Now().UTC()
	ledger := &Ledger{GraceEnd: now.Add(time.Minute)}

	assert.True(t, ledger.InGrace(now))
	assert.False(t, ledger.InGrace(now.Add(2*time.Minute)))
	assert.False(t, ledger.InGrace(ledger.GraceEnd), "grace ends exactly at the boundary")
}

func TestLedger_ConsumeActiveCredit(t *testing.T) {
	now := time.Now().UTC()
	live := PromotionalCredit{ID: uuid.New(), Blocks: 1, GrantedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	dead := PromotionalCredit{ID: uuid.New(), Blocks: 1, GrantedAt: now.AddDate(0, -2, 0), ExpiresAt: now.Add(-time.Hour)}
	ledger := &Ledger{Credits: []PromotionalCredit{live, dead}}

	assert.False(t, ledger.ConsumeActiveCredit(dead.ID, now), "expired credit is never consumed")
	require.Len(t, ledger.Credits, 2, "the expired credit stays for the sweep")

	assert.False(t, ledger.ConsumeActiveCredit(uuid.New(), now))

	assert.True(t, ledger.ConsumeActiveCredit(live.ID, now))
	assert.False(t, ledger.ConsumeActiveCredit(live.ID, now), "consuming twice must fail")
	require.Len(t, ledger.Credits, 1)
	assert.Equal(t, dead.ID, ledger.Credits[0].ID)
}
