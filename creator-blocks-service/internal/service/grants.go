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
)

// promoMonths are the calendar months on which scheduled promotional
// credits are granted.
var promoMonths = map[time.Month]bool{
	time.January: true,
	time.May:     true,
}

// GrantService applies the grace-period allowance at creator registration
// and the scheduled promotional credits.
type GrantService struct {
	store  store.Store
	calc   *pricing.Calculator
	events *events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewGrantService creates a new grant service
func NewGrantService(st store.Store, calc *pricing.Calculator, publisher *events.Publisher, logger *zap.Logger) *GrantService {
	return &GrantService{
		store:  st,
		calc:   calc,
		events: publisher,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterCreator creates the ledger for a newly approved creator and
// applies the one-time grace allowance as permanent capacity. Idempotent:
// an existing ledger is returned unchanged.
func (g *GrantService) RegisterCreator(ctx context.Context, creatorID string, joinedAt time.Time) (*models.Ledger, error) {
	existing, err := g.store.GetLedger(ctx, creatorID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrLedgerNotFound) {
		return nil, err
	}

	now := g.now()
	graceBlocks := g.calc.GraceGrantBlocks()
	ledger := &models.Ledger{
		ID:          uuid.New(),
		CreatorID:   creatorID,
		TotalBlocks: graceBlocks,
		JoinedAt:    joinedAt,
		GraceEnd:    g.calc.GraceEnd(joinedAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := g.store.CreateLedger(ctx, ledger); err != nil {
		if errors.Is(err, models.ErrLedgerAlreadyExists) {
			return g.store.GetLedger(ctx, creatorID)
		}
		return nil, err
	}

	g.logger.Info("Creator registered with grace allowance",
		zap.String("creator_id", creatorID),
		zap.Int64("grace_blocks", graceBlocks),
		zap.Time("grace_end", ledger.GraceEnd),
	)
	g.events.LedgerCredited(&events.LedgerCreditedEvent{
		CreatorID:   creatorID,
		Blocks:      graceBlocks,
		Source:      "grace_grant",
		TotalBlocks: ledger.TotalBlocks,
		OccurredAt:  now,
	})
	return ledger, nil
}

// GrantPromotions issues the scheduled promotional credit to every
// creator when called inside a promo month. Non-cumulative: an existing
// unexpired credit is replaced, never stacked, and a creator receives at
// most one grant per promo month.
func (g *GrantService) GrantPromotions(ctx context.Context) (int, error) {
	now := g.now()
	if !promoMonths[now.Month()] {
		return 0, nil
	}

	creatorIDs, err := g.store.ListCreatorIDs(ctx)
	if err != nil {
		return 0, err
	}

	granted := 0
	for _, creatorID := range creatorIDs {
		// Counted outside the closure: a retried transaction must not
		// count the same creator twice.
		grantedHere := false
		err := withLedgerRetry(ctx, g.store, creatorID, func(ctx context.Context, tx store.LedgerTx) error {
			grantedHere = false
			ledger := tx.Ledger()
			ledger.ExpireCredits(now)

			for _, c := range ledger.Credits {
				if c.GrantedAt.Year() == now.Year() && c.GrantedAt.Month() == now.Month() {
					return nil
				}
			}

			// Replace any leftover credit from a previous cycle.
			ledger.Credits = ledger.Credits[:0]
			ledger.Credits = append(ledger.Credits, models.PromotionalCredit{
				ID:        uuid.New(),
				Blocks:    g.calc.PromoGrantBlocks(),
				GrantedAt: now,
				ExpiresAt: g.calc.PromoExpiry(now),
			})
			grantedHere = true
			return nil
		})
		if err != nil {
			g.logger.Warn("Failed to grant promotional credit",
				zap.String("creator_id", creatorID),
				zap.Error(err),
			)
			continue
		}
		if grantedHere {
			granted++
		}
	}

	if granted > 0 {
		g.logger.Info("Promotional credits granted",
			zap.Int("count", granted),
			zap.String("month", now.Month().String()),
		)
	}
	return granted, nil
}

// ExpireCredits drops expired promotional credits for every creator.
// Maintenance only; expired credits are already inert for billing.
func (g *GrantService) ExpireCredits(ctx context.Context) (int, error) {
	now := g.now()
	creatorIDs, err := g.store.ListCreatorIDs(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, creatorID := range creatorIDs {
		removedHere := 0
		err := withLedgerRetry(ctx, g.store, creatorID, func(ctx context.Context, tx store.LedgerTx) error {
			removedHere = tx.Ledger().ExpireCredits(now)
			return nil
		})
		if err != nil {
			g.logger.Warn("Failed to expire credits",
				zap.String("creator_id", creatorID),
				zap.Error(err),
			)
			continue
		}
		removed += removedHere
	}
	return removed, nil
}
