package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseStatus represents the status of a block purchase
type PurchaseStatus string

const (
	PurchaseStatusPending PurchaseStatus = "pending"
	PurchaseStatusPaid    PurchaseStatus = "paid"
	PurchaseStatusFailed  PurchaseStatus = "failed"
	PurchaseStatusExpired PurchaseStatus = "expired"
)

// Terminal reports whether the status accepts no further transitions.
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseStatusPaid || s == PurchaseStatusFailed || s == PurchaseStatusExpired
}

// BlockPurchase is an asynchronous block-capacity purchase. It moves to
// Paid only via an idempotent webhook confirmation, which credits the
// ledger with BlocksRequested in the same transaction.
type BlockPurchase struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	CreatorID         string          `json:"creator_id" db:"creator_id"`
	BlocksRequested   int64           `json:"blocks_requested" db:"blocks_requested"`
	UnitPrice         decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalPrice        decimal.Decimal `json:"total_price" db:"total_price"`
	FreeBlocksApplied int64           `json:"free_blocks_applied" db:"free_blocks_applied"`
	AppliedCreditIDs  []uuid.UUID     `json:"applied_credit_ids,omitempty"`
	Status            PurchaseStatus  `json:"status" db:"status"`
	CheckoutURL       string          `json:"checkout_url,omitempty" db:"checkout_url"`
	IdempotencyKey    string          `json:"idempotency_key" db:"idempotency_key"`
	ExternalReference string          `json:"external_reference,omitempty" db:"external_reference"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	PaidAt            *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// PurchaseRequest is the inbound request to buy blocks.
type PurchaseRequest struct {
	Blocks int64 `json:"blocks"`
}

// PurchaseResponse wraps the purchase for API consumers.
type PurchaseResponse struct {
	Purchase *BlockPurchase `json:"purchase"`
}

// WebhookEvent is the payment gateway's asynchronous confirmation payload.
// Deliveries may be duplicated or arrive out of order.
type WebhookEvent struct {
	PurchaseID        string `json:"purchase_id,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	Status            string `json:"status"`
}
