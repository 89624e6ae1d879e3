package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
)

// LedgerTx is the view handed to WithLedger callbacks. The creator's
// ledger is loaded under the per-creator write lock; intents and
// purchases read through it are locked in the same transaction. All
// mutations persist atomically when the callback returns nil and are
// discarded otherwise.
type LedgerTx interface {
	// Ledger returns the locked ledger. Mutations made through its
	// methods are persisted on commit.
	Ledger() *models.Ledger

	GetIntent(ctx context.Context, intentID uuid.UUID) (*models.UploadIntent, error)
	PutIntent(ctx context.Context, intent *models.UploadIntent) error

	GetPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.BlockPurchase, error)
	PutPurchase(ctx context.Context, purchase *models.BlockPurchase) error
}

// Store is the persistence boundary for ledgers, upload intents and block
// purchases. reserve/release/commit/credit funnel through WithLedger so
// each creator's ledger has single-writer semantics.
type Store interface {
	CreateLedger(ctx context.Context, ledger *models.Ledger) error
	GetLedger(ctx context.Context, creatorID string) (*models.Ledger, error)
	ListCreatorIDs(ctx context.Context) ([]string, error)

	// WithLedger runs fn with the creator's ledger held under a
	// single-writer transaction. No network I/O belongs inside fn.
	WithLedger(ctx context.Context, creatorID string, fn func(ctx context.Context, tx LedgerTx) error) error

	CreateIntent(ctx context.Context, intent *models.UploadIntent) error
	GetIntent(ctx context.Context, intentID uuid.UUID) (*models.UploadIntent, error)
	// ListStaleIntents returns Reserved/Uploading intents not updated
	// since the given time, for the reconciliation sweep.
	ListStaleIntents(ctx context.Context, olderThan time.Time) ([]*models.UploadIntent, error)

	GetPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.BlockPurchase, error)
	GetPurchaseByReference(ctx context.Context, externalReference string) (*models.BlockPurchase, error)
	// PutPurchase persists a purchase outside a ledger transaction, for
	// status updates that never touch the ledger.
	PutPurchase(ctx context.Context, purchase *models.BlockPurchase) error
	// ListExpiredPendingPurchases returns Pending purchases created
	// before the given time, for the TTL expiry sweep.
	ListExpiredPendingPurchases(ctx context.Context, before time.Time) ([]*models.BlockPurchase, error)
}
