package service

import (
	"context"
	"errors"
	"time"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/store"
)

const (
	ledgerRetryAttempts = 3
	ledgerRetryBackoff  = 50 * time.Millisecond
)

// withLedgerRetry runs a ledger transaction, retrying a bounded number of
// times with backoff when the store reports lock contention. Anything
// left after the retries surfaces as a transient error to the caller.
func withLedgerRetry(ctx context.Context, st store.Store, creatorID string, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	var err error
	for attempt := 1; attempt <= ledgerRetryAttempts; attempt++ {
		err = st.WithLedger(ctx, creatorID, fn)
		if err == nil || !errors.Is(err, models.ErrConcurrentModification) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * ledgerRetryBackoff):
		}
	}
	return err
}
