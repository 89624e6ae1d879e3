package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentState represents the lifecycle state of a content upload intent
type IntentState string

const (
	IntentStateEstimated             IntentState = "estimated"
	IntentStateReserved              IntentState = "reserved"
	IntentStateUploading             IntentState = "uploading"
	IntentStateCompleted             IntentState = "completed"
	IntentStateFailed                IntentState = "failed"
	IntentStateCancelled             IntentState = "cancelled"
	IntentStatePendingBlockShortfall IntentState = "pending_block_shortfall"
)

// UploadIntent ties a content upload lifecycle to a ledger reservation.
// Every intent in Reserved/Uploading/PendingBlockShortfall has a matching
// ReservedBlocks contribution in the creator's ledger; releasing or
// finalizing the intent is the only way that contribution is removed.
type UploadIntent struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	CreatorID       string      `json:"creator_id" db:"creator_id"`
	VideoID         string      `json:"video_id" db:"video_id"`
	Title           string      `json:"title" db:"title"`
	EstimatedSizeGB float64     `json:"estimated_size_gb" db:"estimated_size_gb"`
	BlocksNeeded    int64       `json:"blocks_needed" db:"blocks_needed"`
	ReservedBlocks  int64       `json:"reserved_blocks" db:"reserved_blocks"`
	ActualSizeGB    *float64    `json:"actual_size_gb,omitempty" db:"actual_size_gb"`
	ActualBlocks    *int64      `json:"actual_blocks,omitempty" db:"actual_blocks"`
	State           IntentState `json:"state" db:"state"`
	FailureReason   string      `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// HoldsReservation reports whether the intent currently contributes to
// the ledger's reserved blocks.
func (i *UploadIntent) HoldsReservation() bool {
	switch i.State {
	case IntentStateReserved, IntentStateUploading, IntentStatePendingBlockShortfall:
		return i.ReservedBlocks > 0
	}
	return false
}

// Terminal reports whether the intent reached a final state.
func (i *UploadIntent) Terminal() bool {
	switch i.State {
	case IntentStateCompleted, IntentStateFailed, IntentStateCancelled:
		return true
	}
	return false
}

// UploadCheck is the admission decision for a prospective upload.
type UploadCheck struct {
	CanUpload     bool   `json:"can_upload"`
	BlocksNeeded  int64  `json:"blocks_needed"`
	MissingBlocks int64  `json:"missing_blocks"`
	Reason        string `json:"reason,omitempty"`
	Cost          *Quote `json:"cost,omitempty"`
}

// Quote is the non-mutating price calculation for a block count against a
// ledger snapshot. Callers apply the credit consumption separately when an
// operation actually commits.
type Quote struct {
	BlocksNeeded      int64           `json:"blocks_needed"`
	FreeBlocksApplied int64           `json:"free_blocks_applied"`
	ChargeableBlocks  int64           `json:"chargeable_blocks"`
	PricePerBlock     decimal.Decimal `json:"price_per_block"`
	TotalPrice        decimal.Decimal `json:"total_price"`
	GraceApplied      bool            `json:"grace_applied"`
	AppliedCreditIDs  []uuid.UUID     `json:"applied_credit_ids,omitempty"`
	CalculatedAt      time.Time       `json:"calculated_at"`
}
