package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/pricing"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/store"
)

// AdmissionController gates uploads against the creator's block ledger
// and converts upload intents between lifecycle states. Reservation,
// release and finalize all run under the per-creator ledger transaction.
type AdmissionController struct {
	store  store.Store
	calc   *pricing.Calculator
	logger *zap.Logger
	now    func() time.Time
}

// NewAdmissionController creates a new admission controller
func NewAdmissionController(st store.Store, calc *pricing.Calculator, logger *zap.Logger) *AdmissionController {
	return &AdmissionController{
		store:  st,
		calc:   calc,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ownedIntent loads an intent inside a ledger transaction and verifies it
// belongs to the creator whose ledger is locked. A foreign intent is
// reported as not found so its existence is never leaked.
func (a *AdmissionController) ownedIntent(ctx context.Context, tx store.LedgerTx, creatorID string, intentID uuid.UUID) (*models.UploadIntent, error) {
	intent, err := tx.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.CreatorID != creatorID {
		return nil, models.NewIntentNotFoundError(intentID.String())
	}
	return intent, nil
}

// CheckUpload decides whether an upload of the given size may proceed.
// Read-only against a ledger snapshot; safe to call repeatedly while the
// user adjusts file selection. The snapshot is re-validated at reserve
// time.
func (a *AdmissionController) CheckUpload(ctx context.Context, creatorID string, sizeGB float64) (*models.UploadCheck, error) {
	blocksNeeded, err := a.calc.BlocksNeeded(sizeGB)
	if err != nil {
		return nil, err
	}

	ledger, err := a.store.GetLedger(ctx, creatorID)
	if err != nil {
		if errors.Is(err, models.ErrLedgerNotFound) {
			return nil, models.NewLedgerNotFoundError(creatorID)
		}
		return nil, err
	}

	quote := a.calc.Cost(blocksNeeded, ledger, a.now())

	missing := blocksNeeded - ledger.AvailableBlocks()
	if missing < 0 {
		missing = 0
	}

	check := &models.UploadCheck{
		CanUpload:     missing == 0,
		BlocksNeeded:  blocksNeeded,
		MissingBlocks: missing,
		Cost:          quote,
	}
	if !check.CanUpload {
		check.Reason = "insufficient blocks available"
	}
	return check, nil
}

// ReserveForIntent places a hold on the intent's blocks. Atomic per
// creator; on InsufficientBlocks no partial mutation is left behind.
// Calling it again for an already-reserved intent is a no-op.
func (a *AdmissionController) ReserveForIntent(ctx context.Context, creatorID string, intentID uuid.UUID) error {
	err := withLedgerRetry(ctx, a.store, creatorID, func(ctx context.Context, tx store.LedgerTx) error {
		intent, err := a.ownedIntent(ctx, tx, creatorID, intentID)
		if err != nil {
			return err
		}

		switch intent.State {
		case models.IntentStateReserved:
			return nil
		case models.IntentStateEstimated:
		default:
			return models.NewInvalidIntentStateError(intent.ID.String(), intent.State)
		}

		ledger := tx.Ledger()
		if err := ledger.Reserve(intent.BlocksNeeded); err != nil {
			if errors.Is(err, models.ErrInsufficientBlocks) {
				return models.NewInsufficientBlocksError(intent.BlocksNeeded, ledger.AvailableBlocks())
			}
			return err
		}

		intent.ReservedBlocks = intent.BlocksNeeded
		intent.State = models.IntentStateReserved
		return tx.PutIntent(ctx, intent)
	})
	if err != nil {
		return err
	}

	a.logger.Info("Blocks reserved for intent",
		zap.String("creator_id", creatorID),
		zap.String("intent_id", intentID.String()),
	)
	return nil
}

// MarkUploading moves a reserved intent to Uploading once bytes start
// transferring to the video host.
func (a *AdmissionController) MarkUploading(ctx context.Context, creatorID string, intentID uuid.UUID) error {
	return withLedgerRetry(ctx, a.store, creatorID, func(ctx context.Context, tx store.LedgerTx) error {
		intent, err := a.ownedIntent(ctx, tx, creatorID, intentID)
		if err != nil {
			return err
		}
		switch intent.State {
		case models.IntentStateUploading:
			return nil
		case models.IntentStateReserved:
		default:
			return models.NewInvalidIntentStateError(intent.ID.String(), intent.State)
		}
		intent.State = models.IntentStateUploading
		return tx.PutIntent(ctx, intent)
	})
}

// ReleaseForIntent releases the intent's reservation and moves it to the
// given terminal state (Cancelled or Failed). A no-op, not an error, when
// the intent is already terminal, so callers may invoke it defensively on
// any failure path.
func (a *AdmissionController) ReleaseForIntent(ctx context.Context, creatorID string, intentID uuid.UUID, toState models.IntentState, reason string) error {
	if toState != models.IntentStateCancelled && toState != models.IntentStateFailed {
		return models.NewValidationError("state", "release target must be cancelled or failed")
	}

	return withLedgerRetry(ctx, a.store, creatorID, func(ctx context.Context, tx store.LedgerTx) error {
		intent, err := a.ownedIntent(ctx, tx, creatorID, intentID)
		if err != nil {
			return err
		}
		if intent.Terminal() {
			return nil
		}

		if intent.HoldsReservation() {
			tx.Ledger().Release(intent.ReservedBlocks)
			intent.ReservedBlocks = 0
		}
		intent.State = toState
		intent.FailureReason = reason
		return tx.PutIntent(ctx, intent)
	})
}

// FinalizeForIntent commits the intent's reservation using the
// authoritative size the video host reported. If the actual size exceeds
// the reservation it attempts one additional reserve; when that fails the
// intent parks in PendingBlockShortfall with its reservation intact and
// the ledger uncommitted, until the creator purchases the shortfall and
// finalize is retried.
func (a *AdmissionController) FinalizeForIntent(ctx context.Context, creatorID string, intentID uuid.UUID, actualSizeGB float64) (*models.UploadIntent, error) {
	actualBlocks, err := a.calc.BlocksNeeded(actualSizeGB)
	if err != nil {
		return nil, err
	}

	var finalized *models.UploadIntent
	err = withLedgerRetry(ctx, a.store, creatorID, func(ctx context.Context, tx store.LedgerTx) error {
		intent, err := a.ownedIntent(ctx, tx, creatorID, intentID)
		if err != nil {
			return err
		}

		switch intent.State {
		case models.IntentStateCompleted:
			finalized = intent
			return nil
		case models.IntentStateReserved, models.IntentStateUploading, models.IntentStatePendingBlockShortfall:
		default:
			return models.NewInvalidIntentStateError(intent.ID.String(), intent.State)
		}

		ledger := tx.Ledger()
		intent.ActualSizeGB = &actualSizeGB
		intent.ActualBlocks = &actualBlocks

		if actualBlocks > intent.ReservedBlocks {
			extra := actualBlocks - intent.ReservedBlocks
			if reserveErr := ledger.Reserve(extra); reserveErr != nil {
				// Bytes already transferred; hold the reservation and
				// block completion until the shortfall is purchased.
				intent.State = models.IntentStatePendingBlockShortfall
				finalized = intent
				return tx.PutIntent(ctx, intent)
			}
			intent.ReservedBlocks += extra
		}

		if err := ledger.CommitUsage(intent.ReservedBlocks, actualBlocks); err != nil {
			if errors.Is(err, models.ErrShortfallOnFinalize) {
				return models.NewShortfallError(intent.ReservedBlocks, actualBlocks)
			}
			return err
		}
		intent.ReservedBlocks = 0
		intent.State = models.IntentStateCompleted
		finalized = intent
		return tx.PutIntent(ctx, intent)
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("Upload intent finalized",
		zap.String("creator_id", creatorID),
		zap.String("intent_id", intentID.String()),
		zap.String("state", string(finalized.State)),
		zap.Int64("actual_blocks", actualBlocks),
	)
	return finalized, nil
}
