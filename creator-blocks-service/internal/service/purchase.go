package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/events"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/gateway"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/pricing"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/store"
)

// Config represents purchase and sweep configuration
type Config struct {
	Currency           string        `yaml:"currency"`
	PurchaseTTL        time.Duration `yaml:"purchase_ttl"`
	ReservationTimeout time.Duration `yaml:"reservation_timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// PurchaseOrchestrator drives the asynchronous purchase-and-reconciliation
// flow: checkout sessions out, webhook confirmations in, ledger credits
// applied exactly once.
type PurchaseOrchestrator struct {
	store   store.Store
	gateway gateway.Client
	calc    *pricing.Calculator
	events  *events.Publisher
	config  *Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewPurchaseOrchestrator creates a new purchase orchestrator
func NewPurchaseOrchestrator(
	st store.Store,
	gw gateway.Client,
	calc *pricing.Calculator,
	publisher *events.Publisher,
	config *Config,
	logger *zap.Logger,
) *PurchaseOrchestrator {
	return &PurchaseOrchestrator{
		store:   st,
		gateway: gw,
		calc:    calc,
		events:  publisher,
		config:  config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreatePurchase creates a Pending block purchase and requests a checkout
// session from the payment gateway. A gateway error marks the purchase
// Failed and surfaces to the caller as retryable.
func (o *PurchaseOrchestrator) CreatePurchase(ctx context.Context, creatorID string, blocksRequested int64) (*models.BlockPurchase, error) {
	if blocksRequested < 1 {
		return nil, models.NewValidationError("blocks", "at least one block must be requested")
	}

	ledger, err := o.store.GetLedger(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	quote := o.calc.PurchaseCost(blocksRequested, ledger, now)

	purchase := &models.BlockPurchase{
		ID:                uuid.New(),
		CreatorID:         creatorID,
		BlocksRequested:   blocksRequested,
		UnitPrice:         o.calc.PricePerBlock(),
		TotalPrice:        quote.TotalPrice,
		FreeBlocksApplied: quote.FreeBlocksApplied,
		AppliedCreditIDs:  quote.AppliedCreditIDs,
		Status:            models.PurchaseStatusPending,
		IdempotencyKey:    uuid.NewString(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := o.store.PutPurchase(ctx, purchase); err != nil {
		return nil, err
	}

	session, err := o.gateway.CreateCheckoutSession(ctx, &gateway.CheckoutRequest{
		PurchaseID:     purchase.ID.String(),
		CreatorID:      creatorID,
		Description:    fmt.Sprintf("%d storage block(s)", blocksRequested),
		Amount:         purchase.TotalPrice,
		Currency:       o.config.Currency,
		IdempotencyKey: purchase.IdempotencyKey,
	})
	if err != nil {
		o.logger.Error("Checkout session creation failed",
			zap.String("purchase_id", purchase.ID.String()),
			zap.Error(err),
		)
		purchase.Status = models.PurchaseStatusFailed
		if saveErr := o.store.PutPurchase(ctx, purchase); saveErr != nil {
			o.logger.Error("Failed to mark purchase failed", zap.Error(saveErr))
		}
		return nil, models.NewPurchaseGatewayError(err)
	}

	purchase.CheckoutURL = session.CheckoutURL
	purchase.ExternalReference = session.ExternalReference
	if err := o.store.PutPurchase(ctx, purchase); err != nil {
		return nil, err
	}

	o.logger.Info("Block purchase created",
		zap.String("purchase_id", purchase.ID.String()),
		zap.String("creator_id", creatorID),
		zap.Int64("blocks", blocksRequested),
		zap.String("total_price", purchase.TotalPrice.String()),
	)
	return purchase, nil
}

// GetPurchase returns a purchase for client polling.
func (o *PurchaseOrchestrator) GetPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.BlockPurchase, error) {
	purchase, err := o.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, models.ErrPurchaseNotFound) {
			return nil, models.NewPurchaseNotFoundError(purchaseID.String())
		}
		return nil, err
	}
	return purchase, nil
}

// ResolveWebhook maps a webhook payload to a purchase ID, accepting
// either the purchase ID itself or the gateway's external reference.
func (o *PurchaseOrchestrator) ResolveWebhook(ctx context.Context, event *models.WebhookEvent) (uuid.UUID, error) {
	if event.PurchaseID != "" {
		id, err := uuid.Parse(event.PurchaseID)
		if err != nil {
			return uuid.Nil, models.NewValidationError("purchase_id", "not a valid UUID")
		}
		return id, nil
	}
	if event.ExternalReference != "" {
		purchase, err := o.store.GetPurchaseByReference(ctx, event.ExternalReference)
		if err != nil {
			return uuid.Nil, err
		}
		return purchase.ID, nil
	}
	return uuid.Nil, models.NewValidationError("external_reference", "purchase_id or external_reference is required")
}

// ConfirmPurchase applies a gateway status delivery. Idempotent: once the
// purchase is terminal every replay is a no-op regardless of the incoming
// status, so the ledger is credited exactly once. The status transition
// and the ledger credit commit in the same transaction.
func (o *PurchaseOrchestrator) ConfirmPurchase(ctx context.Context, purchaseID uuid.UUID, gatewayStatus string) error {
	purchase, err := o.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}

	var confirmed *models.BlockPurchase
	var credited int64
	err = withLedgerRetry(ctx, o.store, purchase.CreatorID, func(ctx context.Context, tx store.LedgerTx) error {
		p, err := tx.GetPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			return nil
		}

		switch gatewayStatus {
		case "approved":
			now := o.now()
			ledger := tx.Ledger()
			ledger.Credit(p.BlocksRequested)
			// The discount was priced at creation; a credit consumed or
			// expired since then is flagged rather than silently honored
			// twice.
			for _, creditID := range p.AppliedCreditIDs {
				if !ledger.ConsumeActiveCredit(creditID, now) {
					o.logger.Warn("Applied credit no longer active at confirmation",
						zap.String("purchase_id", p.ID.String()),
						zap.String("creator_id", p.CreatorID),
						zap.String("credit_id", creditID.String()),
					)
				}
			}
			p.Status = models.PurchaseStatusPaid
			p.PaidAt = &now
			credited = p.BlocksRequested
			confirmed = p
			return tx.PutPurchase(ctx, p)
		case "rejected", "failed":
			p.Status = models.PurchaseStatusFailed
			confirmed = p
			return tx.PutPurchase(ctx, p)
		default:
			// In-flight gateway statuses carry no transition.
			return nil
		}
	})
	if err != nil {
		return err
	}

	if confirmed != nil && confirmed.Status == models.PurchaseStatusPaid {
		o.logger.Info("Purchase confirmed, ledger credited",
			zap.String("purchase_id", purchaseID.String()),
			zap.String("creator_id", purchase.CreatorID),
			zap.Int64("blocks", credited),
		)
		o.events.PurchaseConfirmed(&events.PurchaseConfirmedEvent{
			PurchaseID: confirmed.ID.String(),
			CreatorID:  confirmed.CreatorID,
			Blocks:     confirmed.BlocksRequested,
			TotalPrice: confirmed.TotalPrice.String(),
			OccurredAt: o.now(),
		})
		o.events.LedgerCredited(&events.LedgerCreditedEvent{
			CreatorID:  confirmed.CreatorID,
			Blocks:     confirmed.BlocksRequested,
			Source:     "purchase",
			OccurredAt: o.now(),
		})
	}
	return nil
}

// ExpirePurchases marks Pending purchases older than the TTL as Expired.
// The ledger is untouched. Runs from the reconciliation sweep.
func (o *PurchaseOrchestrator) ExpirePurchases(ctx context.Context) (int, error) {
	cutoff := o.now().Add(-o.config.PurchaseTTL)
	pending, err := o.store.ListExpiredPendingPurchases(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, purchase := range pending {
		purchaseID := purchase.ID
		// Counted outside the closure: a retried transaction must not
		// count the same purchase twice.
		expiredHere := false
		err := withLedgerRetry(ctx, o.store, purchase.CreatorID, func(ctx context.Context, tx store.LedgerTx) error {
			expiredHere = false
			p, err := tx.GetPurchase(ctx, purchaseID)
			if err != nil {
				return err
			}
			// A webhook may have landed between the list and the lock.
			if p.Status != models.PurchaseStatusPending {
				return nil
			}
			p.Status = models.PurchaseStatusExpired
			expiredHere = true
			return tx.PutPurchase(ctx, p)
		})
		if err != nil {
			o.logger.Warn("Failed to expire purchase",
				zap.String("purchase_id", purchaseID.String()),
				zap.Error(err),
			)
			continue
		}
		if expiredHere {
			expired++
		}
	}

	if expired > 0 {
		o.logger.Info("Expired stale purchases", zap.Int("count", expired))
	}
	return expired, nil
}
