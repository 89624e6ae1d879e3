package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// A per-creator mutex gives the same single-writer semantics the
// Postgres row lock provides; WithLedger callbacks operate on clones so
// a failed callback leaves no partial state behind.
type MemoryStore struct {
	mu        sync.Mutex
	ledgers   map[string]*models.Ledger
	intents   map[uuid.UUID]*models.UploadIntent
	purchases map[uuid.UUID]*models.BlockPurchase
	locks     map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers:   make(map[string]*models.Ledger),
		intents:   make(map[uuid.UUID]*models.UploadIntent),
		purchases: make(map[uuid.UUID]*models.BlockPurchase),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) creatorLock(creatorID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[creatorID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[creatorID] = lock
	}
	return lock
}

func (s *MemoryStore) CreateLedger(ctx context.Context, ledger *models.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ledgers[ledger.CreatorID]; exists {
		return models.ErrLedgerAlreadyExists
	}
	s.ledgers[ledger.CreatorID] = ledger.Clone()
	return nil
}

func (s *MemoryStore) GetLedger(ctx context.Context, creatorID string) (*models.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger, ok := s.ledgers[creatorID]
	if !ok {
		return nil, models.ErrLedgerNotFound
	}
	return ledger.Clone(), nil
}

func (s *MemoryStore) ListCreatorIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.ledgers))
	for id := range s.ledgers {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) WithLedger(ctx context.Context, creatorID string, fn func(ctx context.Context, tx LedgerTx) error) error {
	lock := s.creatorLock(creatorID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	stored, ok := s.ledgers[creatorID]
	s.mu.Unlock()
	if !ok {
		return models.ErrLedgerNotFound
	}

	tx := &memLedgerTx{
		store:     s,
		ledger:    stored.Clone(),
		intents:   make(map[uuid.UUID]*models.UploadIntent),
		purchases: make(map[uuid.UUID]*models.BlockPurchase),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[creatorID] = tx.ledger
	for id, intent := range tx.intents {
		s.intents[id] = intent
	}
	for id, purchase := range tx.purchases {
		s.purchases[id] = purchase
	}
	return nil
}

func (s *MemoryStore) CreateIntent(ctx context.Context, intent *models.UploadIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *intent
	s.intents[intent.ID] = &cp
	return nil
}

func (s *MemoryStore) GetIntent(ctx context.Context, intentID uuid.UUID) (*models.UploadIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, models.ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (s *MemoryStore) ListStaleIntents(ctx context.Context, olderThan time.Time) ([]*models.UploadIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*models.UploadIntent
	for _, intent := range s.intents {
		if (intent.State == models.IntentStateReserved || intent.State == models.IntentStateUploading) &&
			intent.UpdatedAt.Before(olderThan) {
			cp := *intent
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

func (s *MemoryStore) GetPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.BlockPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purchase, ok := s.purchases[purchaseID]
	if !ok {
		return nil, models.ErrPurchaseNotFound
	}
	cp := *purchase
	return &cp, nil
}

func (s *MemoryStore) GetPurchaseByReference(ctx context.Context, externalReference string) (*models.BlockPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, purchase := range s.purchases {
		if purchase.ExternalReference == externalReference {
			cp := *purchase
			return &cp, nil
		}
	}
	return nil, models.ErrPurchaseNotFound
}

func (s *MemoryStore) PutPurchase(ctx context.Context, purchase *models.BlockPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *purchase
	s.purchases[purchase.ID] = &cp
	return nil
}

func (s *MemoryStore) ListExpiredPendingPurchases(ctx context.Context, before time.Time) ([]*models.BlockPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*models.BlockPurchase
	for _, purchase := range s.purchases {
		if purchase.Status == models.PurchaseStatusPending && purchase.CreatedAt.Before(before) {
			cp := *purchase
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

// memLedgerTx buffers mutations until the callback succeeds.
type memLedgerTx struct {
	store     *MemoryStore
	ledger    *models.Ledger
	intents   map[uuid.UUID]*models.UploadIntent
	purchases map[uuid.UUID]*models.BlockPurchase
}

func (t *memLedgerTx) Ledger() *models.Ledger {
	return t.ledger
}

func (t *memLedgerTx) GetIntent(ctx context.Context, intentID uuid.UUID) (*models.UploadIntent, error) {
	if intent, ok := t.intents[intentID]; ok {
		cp := *intent
		return &cp, nil
	}
	return t.store.GetIntent(ctx, intentID)
}

func (t *memLedgerTx) PutIntent(ctx context.Context, intent *models.UploadIntent) error {
	cp := *intent
	cp.UpdatedAt = time.Now().UTC()
	t.intents[intent.ID] = &cp
	return nil
}

func (t *memLedgerTx) GetPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.BlockPurchase, error) {
	if purchase, ok := t.purchases[purchaseID]; ok {
		cp := *purchase
		return &cp, nil
	}
	return t.store.GetPurchase(ctx, purchaseID)
}

func (t *memLedgerTx) PutPurchase(ctx context.Context, purchase *models.BlockPurchase) error {
	cp := *purchase
	cp.UpdatedAt = time.Now().UTC()
	t.purchases[purchase.ID] = &cp
	return nil
}
