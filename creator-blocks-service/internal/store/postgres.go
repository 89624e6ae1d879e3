package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
)

// PostgresStore implements Store using PostgreSQL. Per-creator
// single-writer semantics come from SELECT ... FOR UPDATE on the ledger
// row inside WithLedger.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Initialize creates the necessary database tables
func (s *PostgresStore) Initialize(ctx context.Context) error {
	queries := []string{
		createLedgersTable,
		createCreditsTable,
		createIntentsTable,
		createPurchasesTable,
		createIndexes,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	s.logger.Info("Database tables initialized successfully")
	return nil
}

// Ledger operations

// CreateLedger inserts a new creator ledger with its credits.
func (s *PostgresStore) CreateLedger(ctx context.Context, ledger *models.Ledger) error {
	query := `
		INSERT INTO block_ledgers (id, creator_id, total_blocks, used_blocks, reserved_blocks, joined_at, grace_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		ledger.ID, ledger.CreatorID, ledger.TotalBlocks, ledger.UsedBlocks, ledger.ReservedBlocks,
		ledger.JoinedAt, ledger.GraceEnd, ledger.CreatedAt, ledger.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrLedgerAlreadyExists
		}
		return fmt.Errorf("failed to create ledger: %w", err)
	}

	if err := s.replaceCredits(ctx, s.db, ledger.CreatorID, ledger.Credits); err != nil {
		return err
	}

	s.logger.Info("Ledger created",
		zap.String("ledger_id", ledger.ID.String()),
		zap.String("creator_id", ledger.CreatorID),
	)
	return nil
}

// GetLedger retrieves a creator's ledger without locking it. The snapshot
// may go stale; mutating paths re-validate under WithLedger.
func (s *PostgresStore) GetLedger(ctx context.Context, creatorID string) (*models.Ledger, error) {
	return s.getLedger(ctx, s.db, creatorID, false)
}

// ListCreatorIDs returns every creator with a ledger.
func (s *PostgresStore) ListCreatorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT creator_id FROM block_ledgers ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan creator id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WithLedger runs fn with the creator's ledger row locked. All mutations
// made through the LedgerTx commit atomically.
func (s *PostgresStore) WithLedger(ctx context.Context, creatorID string, fn func(ctx context.Context, tx LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ledger, err := s.getLedger(ctx, tx, creatorID, true)
	if err != nil {
		return err
	}

	ltx := &pgLedgerTx{store: s, tx: tx, ledger: ledger}
	if err := fn(ctx, ltx); err != nil {
		return err
	}

	if err := s.saveLedger(ctx, tx, ledger); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			return models.ErrConcurrentModification
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) getLedger(ctx context.Context, q querier, creatorID string, forUpdate bool) (*models.Ledger, error) {
	query := `
		SELECT id, creator_id, total_blocks, used_blocks, reserved_blocks, joined_at, grace_end, created_at, updated_at
		FROM block_ledgers WHERE creator_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	ledger := &models.Ledger{}
	err := q.QueryRow(ctx, query, creatorID).Scan(
		&ledger.ID, &ledger.CreatorID, &ledger.TotalBlocks, &ledger.UsedBlocks, &ledger.ReservedBlocks,
		&ledger.JoinedAt, &ledger.GraceEnd, &ledger.CreatedAt, &ledger.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, blocks, granted_at, expires_at
		FROM promotional_credits WHERE creator_id = $1 ORDER BY expires_at
	`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.PromotionalCredit
		if err := rows.Scan(&c.ID, &c.Blocks, &c.GrantedAt, &c.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		ledger.Credits = append(ledger.Credits, c)
	}
	return ledger, rows.Err()
}

func (s *PostgresStore) saveLedger(ctx context.Context, q querier, ledger *models.Ledger) error {
	query := `
		UPDATE block_ledgers
		SET total_blocks = $2, used_blocks = $3, reserved_blocks = $4, grace_end = $5, updated_at = $6
		WHERE creator_id = $1
	`

	result, err := q.Exec(ctx, query,
		ledger.CreatorID, ledger.TotalBlocks, ledger.UsedBlocks, ledger.ReservedBlocks,
		ledger.GraceEnd, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrLedgerNotFound
	}

	return s.replaceCredits(ctx, q, ledger.CreatorID, ledger.Credits)
}

// replaceCredits rewrites the creator's credit rows. Always called under
// the ledger row lock, so the delete+insert pair is race-free.
func (s *PostgresStore) replaceCredits(ctx context.Context, q querier, creatorID string, credits []models.PromotionalCredit) error {
	if _, err := q.Exec(ctx, `DELETE FROM promotional_credits WHERE creator_id = $1`, creatorID); err != nil {
		return fmt.Errorf("failed to clear credits: %w", err)
	}
	for _, c := range credits {
		_, err := q.Exec(ctx, `
			INSERT INTO promotional_credits (id, creator_id, blocks, granted_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
		`, c.ID, creatorID, c.Blocks, c.GrantedAt, c.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert credit: %w", err)
		}
	}
	return nil
}

// Intent operations

// CreateIntent inserts a new upload intent.
func (s *PostgresStore) CreateIntent(ctx context.Context, intent *models.UploadIntent) error {
	return s.putIntent(ctx, s.db, intent)
}

// GetIntent retrieves an upload intent by ID
func (s *PostgresStore) GetIntent(ctx context.Context, intentID uuid.UUID) (*models.UploadIntent, error) {
	return s.scanIntent(s.db.QueryRow(ctx, selectIntentQuery+` WHERE id = $1`, intentID))
}

// ListStaleIntents returns reserved/uploading intents not updated since
// the given time.
func (s *PostgresStore) ListStaleIntents(ctx context.Context, olderThan time.Time) ([]*models.UploadIntent, error) {
	rows, err := s.db.Query(ctx,
		selectIntentQuery+` WHERE state IN ('reserved', 'uploading') AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale intents: %w", err)
	}
	defer rows.Close()

	var intents []*models.UploadIntent
	for rows.Next() {
		intent, err := s.scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

const selectIntentQuery = `
	SELECT id, creator_id, video_id, title, estimated_size_gb, blocks_needed, reserved_blocks,
	       actual_size_gb, actual_blocks, state, failure_reason, created_at, updated_at
	FROM upload_intents
`

func (s *PostgresStore) scanIntent(row pgx.Row) (*models.UploadIntent, error) {
	intent := &models.UploadIntent{}
	var actualSize sql.NullFloat64
	var actualBlocks sql.NullInt64
	err := row.Scan(
		&intent.ID, &intent.CreatorID, &intent.VideoID, &intent.Title,
		&intent.EstimatedSizeGB, &intent.BlocksNeeded, &intent.ReservedBlocks,
		&actualSize, &actualBlocks, &intent.State, &intent.FailureReason,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrIntentNotFound
		}
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	if actualSize.Valid {
		intent.ActualSizeGB = &actualSize.Float64
	}
	if actualBlocks.Valid {
		intent.ActualBlocks = &actualBlocks.Int64
	}
	return intent, nil
}

func (s *PostgresStore) putIntent(ctx context.Context, q querier, intent *models.UploadIntent) error {
	query := `
		INSERT INTO upload_intents (id, creator_id, video_id, title, estimated_size_gb, blocks_needed,
		                            reserved_blocks, actual_size_gb, actual_blocks, state, failure_reason,
		                            created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			reserved_blocks = EXCLUDED.reserved_blocks,
			actual_size_gb = EXCLUDED.actual_size_gb,
			actual_blocks = EXCLUDED.actual_blocks,
			state = EXCLUDED.state,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at
	`

	_, err := q.Exec(ctx, query,
		intent.ID, intent.CreatorID, intent.VideoID, intent.Title,
		intent.EstimatedSizeGB, intent.BlocksNeeded, intent.ReservedBlocks,
		intent.ActualSizeGB, intent.ActualBlocks, intent.State, intent.FailureReason,
		intent.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save intent: %w", err)
	}
	return nil
}

// Purchase operations

// GetPurchase retrieves a purchase by ID
func (s *PostgresStore) GetPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.BlockPurchase, error) {
	return s.scanPurchase(s.db.QueryRow(ctx, selectPurchaseQuery+` WHERE id = $1`, purchaseID))
}

// GetPurchaseByReference retrieves a purchase by the gateway's external
// reference.
func (s *PostgresStore) GetPurchaseByReference(ctx context.Context, externalReference string) (*models.BlockPurchase, error) {
	return s.scanPurchase(s.db.QueryRow(ctx, selectPurchaseQuery+` WHERE external_reference = $1`, externalReference))
}

// ListExpiredPendingPurchases returns pending purchases created before
// the given time.
func (s *PostgresStore) ListExpiredPendingPurchases(ctx context.Context, before time.Time) ([]*models.BlockPurchase, error) {
	rows, err := s.db.Query(ctx,
		selectPurchaseQuery+` WHERE status = 'pending' AND created_at < $1`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*models.BlockPurchase
	for rows.Next() {
		p, err := s.scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

const selectPurchaseQuery = `
	SELECT id, creator_id, blocks_requested, unit_price, total_price, free_blocks_applied,
	       applied_credit_ids, status, checkout_url, idempotency_key, external_reference,
	       created_at, updated_at, paid_at
	FROM block_purchases
`

func (s *PostgresStore) scanPurchase(row pgx.Row) (*models.BlockPurchase, error) {
	p := &models.BlockPurchase{}
	var creditIDs []byte
	var externalRef sql.NullString
	var paidAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.CreatorID, &p.BlocksRequested, &p.UnitPrice, &p.TotalPrice, &p.FreeBlocksApplied,
		&creditIDs, &p.Status, &p.CheckoutURL, &p.IdempotencyKey, &externalRef,
		&p.CreatedAt, &p.UpdatedAt, &paidAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	if externalRef.Valid {
		p.ExternalReference = externalRef.String
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	if len(creditIDs) > 0 {
		if err := json.Unmarshal(creditIDs, &p.AppliedCreditIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credit ids: %w", err)
		}
	}
	return p, nil
}

func (s *PostgresStore) putPurchase(ctx context.Context, q querier, p *models.BlockPurchase) error {
	creditIDs, err := json.Marshal(p.AppliedCreditIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal credit ids: %w", err)
	}

	var externalRef *string
	if p.ExternalReference != "" {
		externalRef = &p.ExternalReference
	}

	query := `
		INSERT INTO block_purchases (id, creator_id, blocks_requested, unit_price, total_price,
		                             free_blocks_applied, applied_credit_ids, status, checkout_url,
		                             idempotency_key, external_reference, created_at, updated_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			checkout_url = EXCLUDED.checkout_url,
			external_reference = EXCLUDED.external_reference,
			updated_at = EXCLUDED.updated_at,
			paid_at = EXCLUDED.paid_at
	`

	_, err = q.Exec(ctx, query,
		p.ID, p.CreatorID, p.BlocksRequested, p.UnitPrice, p.TotalPrice,
		p.FreeBlocksApplied, creditIDs, p.Status, p.CheckoutURL,
		p.IdempotencyKey, externalRef, p.CreatedAt, time.Now().UTC(), p.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save purchase: %w", err)
	}
	return nil
}

// pgLedgerTx is the LedgerTx implementation backed by a pgx transaction.
type pgLedgerTx struct {
	store  *PostgresStore
	tx     pgx.Tx
	ledger *models.Ledger
}

func (t *pgLedgerTx) Ledger() *models.Ledger {
	return t.ledger
}

func (t *pgLedgerTx) GetIntent(ctx context.Context, intentID uuid.UUID) (*models.UploadIntent, error) {
	return t.store.scanIntent(t.tx.QueryRow(ctx, selectIntentQuery+` WHERE id = $1 FOR UPDATE`, intentID))
}

func (t *pgLedgerTx) PutIntent(ctx context.Context, intent *models.UploadIntent) error {
	return t.store.putIntent(ctx, t.tx, intent)
}

func (t *pgLedgerTx) GetPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.BlockPurchase, error) {
	return t.store.scanPurchase(t.tx.QueryRow(ctx, selectPurchaseQuery+` WHERE id = $1 FOR UPDATE`, purchaseID))
}

func (t *pgLedgerTx) PutPurchase(ctx context.Context, purchase *models.BlockPurchase) error {
	return t.store.putPurchase(ctx, t.tx, purchase)
}

// PutPurchase persists a purchase outside a ledger transaction, for
// status updates that do not touch the ledger (gateway failure, expiry).
func (s *PostgresStore) PutPurchase(ctx context.Context, purchase *models.BlockPurchase) error {
	return s.putPurchase(ctx, s.db, purchase)
}
