package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/store"
)

// Sweeper is the reconciliation loop. It releases reservations whose
// uploads never finished, expires stale purchases, drops expired
// promotional credits and applies scheduled promotional grants. Stale
// reservations have no other recovery path.
type Sweeper struct {
	store     store.Store
	admission *AdmissionController
	purchases *PurchaseOrchestrator
	grants    *GrantService
	config    *Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper creates a new reconciliation sweeper
func NewSweeper(
	st store.Store,
	admission *AdmissionController,
	purchases *PurchaseOrchestrator,
	grants *GrantService,
	config *Config,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		store:     st,
		admission: admission,
		purchases: purchases,
		grants:    grants,
		config:    config,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the sweep on the configured interval until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.config.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Reconciliation sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconciliation sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	if released, err := s.ReleaseStaleReservations(ctx); err != nil {
		// Operational condition: unreleased reservations need admin
		// attention if this keeps failing.
		s.logger.Error("Stale reservation release failed", zap.Error(err))
	} else if released > 0 {
		s.logger.Info("Released stale reservations", zap.Int("count", released))
	}

	if _, err := s.purchases.ExpirePurchases(ctx); err != nil {
		s.logger.Error("Purchase expiry failed", zap.Error(err))
	}

	if _, err := s.grants.ExpireCredits(ctx); err != nil {
		s.logger.Error("Credit expiry failed", zap.Error(err))
	}

	if _, err := s.grants.GrantPromotions(ctx); err != nil {
		s.logger.Error("Promotional grants failed", zap.Error(err))
	}
}

// ReleaseStaleReservations fails Reserved/Uploading intents older than
// the reservation timeout and returns their blocks to available.
func (s *Sweeper) ReleaseStaleReservations(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.ReservationTimeout)
	stale, err := s.store.ListStaleIntents(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, intent := range stale {
		err := s.admission.ReleaseForIntent(ctx, intent.CreatorID, intent.ID,
			models.IntentStateFailed, "reservation timed out")
		if err != nil {
			s.logger.Warn("Failed to release stale intent",
				zap.String("intent_id", intent.ID.String()),
				zap.Error(err),
			)
			continue
		}
		released++
	}
	return released, nil
}
