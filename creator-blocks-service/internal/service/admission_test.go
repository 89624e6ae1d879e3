package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/pricing"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/store"
)

func testCalc() *pricing.Calculator {
	return pricing.NewCalculator(&pricing.Config{
		BlockSizeGB:      7.3,
		PricePerBlock:    9.90,
		GraceMonths:      3,
		PromoExpiryDays:  30,
		GraceGrantBlocks: 2,
		PromoGrantBlocks: 1,
	}, zap.NewNop())
}

func seedLedger(t *testing.T, st *store.MemoryStore, creatorID string, total, used, reserved int64) {
	t.Helper()
	now := time.Now().UTC()
	err := st.CreateLedger(context.Background(), &models.Ledger{
		ID:             uuid.New(),
		CreatorID:      creatorID,
		TotalBlocks:    total,
		UsedBlocks:     used,
		ReservedBlocks: reserved,
		JoinedAt:       now.AddDate(-1, 0, 0),
		GraceEnd:       now.AddDate(0, -9, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
}

func seedIntent(t *testing.T, st *store.MemoryStore, creatorID string, blocks int64, state models.IntentState) *models.UploadIntent {
	t.Helper()
	now := time.Now().UTC()
	intent := &models.UploadIntent{
		ID:           uuid.New(),
		CreatorID:    creatorID,
		VideoID:      "vid-" + uuid.NewString()[:8],
		Title:        "test video",
		BlocksNeeded: blocks,
		State:        state,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if state == models.IntentStateReserved || state == models.IntentStateUploading {
		intent.ReservedBlocks = blocks
	}
	require.NoError(t, st.CreateIntent(context.Background(), intent))
	return intent
}

func TestCheckUpload_SufficientBlocks(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 5, 0, 0)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	check, err := admission.CheckUpload(context.Background(), "creator-1", 14.6)
	require.NoError(t, err)
	assert.True(t, check.CanUpload)
	assert.Equal(t, int64(2), check.BlocksNeeded)
	assert.Equal(t, int64(0), check.MissingBlocks)
}

func TestCheckUpload_InsufficientBlocks(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 0, 0, 0)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	check, err := admission.CheckUpload(context.Background(), "creator-1", 21.0)
	require.NoError(t, err)
	assert.False(t, check.CanUpload)
	assert.Equal(t, int64(3), check.BlocksNeeded)
	assert.Equal(t, int64(3), check.MissingBlocks)
	require.NotNil(t, check.Cost)
	assert.True(t, check.Cost.TotalPrice.Equal(decimal.NewFromFloat(9.90).Mul(decimal.NewFromInt(3))),
		"got %s", check.Cost.TotalPrice)
}

func TestCheckUpload_UnknownCreator(t *testing.T) {
	st := store.NewMemoryStore()
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	_, err := admission.CheckUpload(context.Background(), "nobody", 1.0)
	assert.ErrorIs(t, err, models.ErrLedgerNotFound)
}

func TestReserveForIntent(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 5, 0, 0)
	intent := seedIntent(t, st, "creator-1", 2, models.IntentStateEstimated)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	require.NoError(t, admission.ReserveForIntent(context.Background(), "creator-1", intent.ID))

	got, err := st.GetIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateReserved, got.State)
	assert.Equal(t, int64(2), got.ReservedBlocks)

	ledger, err := st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ledger.ReservedBlocks)
	assert.Equal(t, int64(3), ledger.AvailableBlocks())

	// Re-reserving is a no-op, the hold is not doubled.
	require.NoError(t, admission.ReserveForIntent(context.Background(), "creator-1", intent.ID))
	ledger, err = st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ledger.ReservedBlocks)
}

func TestReserveForIntent_InsufficientLeavesNoPartialState(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 1, 0, 0)
	intent := seedIntent(t, st, "creator-1", 3, models.IntentStateEstimated)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	err := admission.ReserveForIntent(context.Background(), "creator-1", intent.ID)
	require.Error(t, err)
	var blockErr *models.BlockError
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, models.ErrCodeInsufficientBlocks, blockErr.Code)

	got, err := st.GetIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateEstimated, got.State)
	assert.Equal(t, int64(0), got.ReservedBlocks)

	ledger, err := st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.ReservedBlocks)
}

func TestReserveForIntent_ConcurrentReservesNeverOversubscribe(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 2, 0, 0)
	first := seedIntent(t, st, "creator-1", 2, models.IntentStateEstimated)
	second := seedIntent(t, st, "creator-1", 2, models.IntentStateEstimated)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, intentID := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			errs[i] = admission.ReserveForIntent(context.Background(), "creator-1", id)
		}(i, intentID)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			var blockErr *models.BlockError
			require.ErrorAs(t, err, &blockErr)
			assert.Equal(t, models.ErrCodeInsufficientBlocks, blockErr.Code)
		}
	}
	assert.Equal(t, 1, failures, "exactly one of two competing reserves must fail")

	ledger, err := st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ledger.ReservedBlocks)
	assert.Equal(t, int64(0), ledger.AvailableBlocks())
}

func TestReleaseForIntent(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 5, 0, 2)
	intent := seedIntent(t, st, "creator-1", 2, models.IntentStateReserved)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	err := admission.ReleaseForIntent(context.Background(), "creator-1", intent.ID,
		models.IntentStateCancelled, "user aborted")
	require.NoError(t, err)

	got, err := st.GetIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateCancelled, got.State)
	assert.Equal(t, int64(0), got.ReservedBlocks)
	assert.Equal(t, "user aborted", got.FailureReason)

	ledger, err := st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.ReservedBlocks)
	assert.Equal(t, int64(5), ledger.AvailableBlocks())

	// Releasing a terminal intent is a no-op.
	err = admission.ReleaseForIntent(context.Background(), "creator-1", intent.ID,
		models.IntentStateFailed, "again")
	require.NoError(t, err)
	ledger, err = st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), ledger.AvailableBlocks())
}

func TestReleaseForIntent_RejectsNonTerminalTarget(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 5, 0, 0)
	intent := seedIntent(t, st, "creator-1", 1, models.IntentStateReserved)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	err := admission.ReleaseForIntent(context.Background(), "creator-1", intent.ID,
		models.IntentStateCompleted, "")
	require.Error(t, err)
	var blockErr *models.BlockError
	require.ErrorAs(t, err, &blockErr)
	assert.Equal(t, models.ErrCodeValidationFailed, blockErr.Code)
}

func TestFinalizeForIntent_SurplusReturnsToAvailable(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 5, 0, 3)
	intent := seedIntent(t, st, "creator-1", 3, models.IntentStateUploading)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	// Estimated 3 blocks, the host measured only one block's worth.
	finalized, err := admission.FinalizeForIntent(context.Background(), "creator-1", intent.ID, 7.0)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateCompleted, finalized.State)
	require.NotNil(t, finalized.ActualBlocks)
	assert.Equal(t, int64(1), *finalized.ActualBlocks)

	ledger, err := st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ledger.UsedBlocks)
	assert.Equal(t, int64(0), ledger.ReservedBlocks)
	assert.Equal(t, int64(4), ledger.AvailableBlocks())
}

func TestFinalizeForIntent_OverageWithCapacity(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 5, 0, 2)
	intent := seedIntent(t, st, "creator-1", 2, models.IntentStateUploading)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	// Actual size needs 4 blocks; the extra 2 fit in remaining capacity.
	finalized, err := admission.FinalizeForIntent(context.Background(), "creator-1", intent.ID, 28.0)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateCompleted, finalized.State)

	ledger, err := st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), ledger.UsedBlocks)
	assert.Equal(t, int64(0), ledger.ReservedBlocks)
	assert.Equal(t, int64(1), ledger.AvailableBlocks())
}

func TestFinalizeForIntent_ShortfallParksIntent(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 2, 0, 2)
	intent := seedIntent(t, st, "creator-1", 2, models.IntentStateUploading)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	// Actual size needs 4 blocks but nothing is left to reserve.
	finalized, err := admission.FinalizeForIntent(context.Background(), "creator-1", intent.ID, 28.0)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatePendingBlockShortfall, finalized.State)
	assert.Equal(t, int64(2), finalized.ReservedBlocks, "reservation held while parked")

	ledger, err := st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger.UsedBlocks)
	assert.Equal(t, int64(2), ledger.ReservedBlocks)

	// After purchasing capacity the retry completes.
	err = st.WithLedger(context.Background(), "creator-1", func(ctx context.Context, tx store.LedgerTx) error {
		tx.Ledger().Credit(2)
		return nil
	})
	require.NoError(t, err)

	finalized, err = admission.FinalizeForIntent(context.Background(), "creator-1", intent.ID, 28.0)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateCompleted, finalized.State)

	ledger, err = st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), ledger.UsedBlocks)
	assert.Equal(t, int64(0), ledger.ReservedBlocks)
	assert.Equal(t, int64(0), ledger.AvailableBlocks())
}

func TestFinalizeForIntent_CompletedIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-1", 5, 0, 1)
	intent := seedIntent(t, st, "creator-1", 1, models.IntentStateUploading)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	_, err := admission.FinalizeForIntent(context.Background(), "creator-1", intent.ID, 5.0)
	require.NoError(t, err)

	finalized, err := admission.FinalizeForIntent(context.Background(), "creator-1", intent.ID, 5.0)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateCompleted, finalized.State)

	ledger, err := st.GetLedger(context.Background(), "creator-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ledger.UsedBlocks, "usage committed exactly once")
}

func TestIntentOperations_RejectForeignIntent(t *testing.T) {
	st := store.NewMemoryStore()
	seedLedger(t, st, "creator-a", 5, 0, 0)
	seedLedger(t, st, "creator-b", 5, 0, 0)
	intent := seedIntent(t, st, "creator-b", 2, models.IntentStateEstimated)
	admission := NewAdmissionController(st, testCalc(), zap.NewNop())

	requireIntentNotFound := func(t *testing.T, err error) {
		t.Helper()
		require.Error(t, err)
		var blockErr *models.BlockError
		require.ErrorAs(t, err, &blockErr)
		assert.Equal(t, models.ErrCodeIntentNotFound, blockErr.Code)
	}

	// Reserving creator-b's intent through creator-a must not touch
	// either ledger.
	requireIntentNotFound(t, admission.ReserveForIntent(context.Background(), "creator-a", intent.ID))

	got, err := st.GetIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateEstimated, got.State)

	for _, creatorID := range []string{"creator-a", "creator-b"} {
		ledger, err := st.GetLedger(context.Background(), creatorID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), ledger.ReservedBlocks, creatorID)
		assert.Equal(t, int64(5), ledger.AvailableBlocks(), creatorID)
	}

	// The owner reserves, then a foreign release or finalize is rejected
	// and the hold stays with the owner.
	require.NoError(t, admission.ReserveForIntent(context.Background(), "creator-b", intent.ID))

	requireIntentNotFound(t, admission.MarkUploading(context.Background(), "creator-a", intent.ID))
	requireIntentNotFound(t, admission.ReleaseForIntent(context.Background(), "creator-a", intent.ID,
		models.IntentStateCancelled, "not yours"))
	_, err = admission.FinalizeForIntent(context.Background(), "creator-a", intent.ID, 14.0)
	requireIntentNotFound(t, err)

	got, err = st.GetIntent(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStateReserved, got.State)
	assert.Equal(t, int64(2), got.ReservedBlocks)

	ledgerB, err := st.GetLedger(context.Background(), "creator-b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ledgerB.ReservedBlocks)
	assert.Equal(t, int64(0), ledgerB.UsedBlocks)
	assert.Equal(t, int64(3), ledgerB.AvailableBlocks())

	ledgerA, err := st.GetLedger(context.Background(), "creator-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledgerA.ReservedBlocks)
	assert.Equal(t, int64(0), ledgerA.UsedBlocks)

	// The owner can still release; the reservation is not leaked.
	require.NoError(t, admission.ReleaseForIntent(context.Background(), "creator-b", intent.ID,
		models.IntentStateCancelled, "owner aborts"))
	ledgerB, err = st.GetLedger(context.Background(), "creator-b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledgerB.ReservedBlocks)
	assert.Equal(t, int64(5), ledgerB.AvailableBlocks())
}
