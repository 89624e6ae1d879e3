package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/events"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/pricing"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/store"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/vidhost"
)

// UploadFlow ties a content-upload lifecycle to ledger reservations. Byte
// transfer to the video host is long-running I/O and happens outside the
// ledger lock, after a successful reserve.
type UploadFlow struct {
	store     store.Store
	calc      *pricing.Calculator
	admission *AdmissionController
	host      vidhost.Client
	events    *events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewUploadFlow creates a new upload flow
func NewUploadFlow(
	st store.Store,
	calc *pricing.Calculator,
	admission *AdmissionController,
	host vidhost.Client,
	publisher *events.Publisher,
	logger *zap.Logger,
) *UploadFlow {
	return &UploadFlow{
		store:     st,
		calc:      calc,
		admission: admission,
		host:      host,
		events:    publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddVideoResult is the outcome of an add-video request.
type AddVideoResult struct {
	Intent        *models.UploadIntent `json:"intent"`
	CanUpload     bool                 `json:"can_upload"`
	MissingBlocks int64                `json:"missing_blocks"`
	UploadURL     string               `json:"upload_url,omitempty"`
}

// AddVideo creates an upload intent and reserves blocks for it. When the
// ledger lacks capacity the intent stays in Estimated and the shortfall
// is reported so the client can start a purchase and retry.
func (f *UploadFlow) AddVideo(ctx context.Context, creatorID, videoID, title string, sizeGB float64) (*AddVideoResult, error) {
	blocksNeeded, err := f.calc.BlocksNeeded(sizeGB)
	if err != nil {
		return nil, err
	}
	if _, err := f.store.GetLedger(ctx, creatorID); err != nil {
		if errors.Is(err, models.ErrLedgerNotFound) {
			return nil, models.NewLedgerNotFoundError(creatorID)
		}
		return nil, err
	}

	now := f.now()
	intent := &models.UploadIntent{
		ID:              uuid.New(),
		CreatorID:       creatorID,
		VideoID:         videoID,
		Title:           title,
		EstimatedSizeGB: sizeGB,
		BlocksNeeded:    blocksNeeded,
		State:           models.IntentStateEstimated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := f.store.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}

	if err := f.admission.ReserveForIntent(ctx, creatorID, intent.ID); err != nil {
		var blockErr *models.BlockError
		if errors.As(err, &blockErr) && blockErr.Code == models.ErrCodeInsufficientBlocks {
			ledger, lerr := f.store.GetLedger(ctx, creatorID)
			if lerr != nil {
				return nil, lerr
			}
			missing := blocksNeeded - ledger.AvailableBlocks()
			if missing < 0 {
				missing = 0
			}
			return &AddVideoResult{Intent: intent, CanUpload: false, MissingBlocks: missing}, nil
		}
		return nil, err
	}

	session, err := f.host.RegisterUpload(ctx, videoID, title)
	if err != nil {
		f.logger.Error("Video host registration failed, releasing reservation",
			zap.String("intent_id", intent.ID.String()),
			zap.Error(err),
		)
		if relErr := f.admission.ReleaseForIntent(ctx, creatorID, intent.ID, models.IntentStateFailed, "video host registration failed"); relErr != nil {
			f.logger.Error("Failed to release reservation", zap.Error(relErr))
		}
		return nil, err
	}

	if err := f.admission.MarkUploading(ctx, creatorID, intent.ID); err != nil {
		return nil, err
	}

	reserved, err := f.store.GetIntent(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	return &AddVideoResult{
		Intent:    reserved,
		CanUpload: true,
		UploadURL: session.UploadURL,
	}, nil
}

// CompleteUpload finalizes an intent using the authoritative size the
// video host reports for the transferred content.
func (f *UploadFlow) CompleteUpload(ctx context.Context, creatorID string, intentID uuid.UUID) (*models.UploadIntent, error) {
	intent, err := f.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	info, err := f.host.GetContentInfo(ctx, intent.VideoID)
	if err != nil {
		return nil, err
	}

	finalized, err := f.admission.FinalizeForIntent(ctx, creatorID, intentID, info.SizeGB)
	if err != nil {
		return nil, err
	}

	if finalized.State == models.IntentStateCompleted {
		f.events.UploadCompleted(&events.UploadEvent{
			IntentID:   finalized.ID.String(),
			CreatorID:  creatorID,
			VideoID:    finalized.VideoID,
			State:      string(finalized.State),
			Blocks:     *finalized.ActualBlocks,
			OccurredAt: f.now(),
		})
	}
	return finalized, nil
}

// RetryFinalize re-runs finalize for an intent parked in
// PendingBlockShortfall after the creator has purchased the missing
// blocks.
func (f *UploadFlow) RetryFinalize(ctx context.Context, creatorID string, intentID uuid.UUID) (*models.UploadIntent, error) {
	intent, err := f.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.State != models.IntentStatePendingBlockShortfall {
		return nil, models.NewInvalidIntentStateError(intentID.String(), intent.State)
	}
	if intent.ActualSizeGB == nil {
		return nil, models.NewInvalidIntentStateError(intentID.String(), intent.State)
	}
	return f.admission.FinalizeForIntent(ctx, creatorID, intentID, *intent.ActualSizeGB)
}

// AbortUpload cancels an in-flight upload and releases its reservation.
// Safe to call on any failure path; already-terminal intents are left
// alone.
func (f *UploadFlow) AbortUpload(ctx context.Context, creatorID string, intentID uuid.UUID, reason string) error {
	if err := f.admission.ReleaseForIntent(ctx, creatorID, intentID, models.IntentStateCancelled, reason); err != nil {
		return err
	}

	intent, err := f.store.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.State == models.IntentStateCancelled {
		f.events.UploadFailed(&events.UploadEvent{
			IntentID:   intent.ID.String(),
			CreatorID:  creatorID,
			VideoID:    intent.VideoID,
			State:      string(intent.State),
			Reason:     reason,
			OccurredAt: f.now(),
		})
	}
	return nil
}
