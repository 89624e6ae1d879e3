package models

import (
	"errors"
	"fmt"
)

// Common quota and purchase errors
var (
	// Ledger errors
	ErrLedgerNotFound         = errors.New("ledger not found")
	ErrLedgerAlreadyExists    = errors.New("ledger already exists")
	ErrInsufficientBlocks     = errors.New("insufficient blocks available")
	ErrShortfallOnFinalize    = errors.New("actual usage exceeds reservation")
	ErrConcurrentModification = errors.New("concurrent ledger modification")

	// Calculator errors
	ErrInvalidSize = errors.New("invalid content size")

	// Intent errors
	ErrIntentNotFound     = errors.New("upload intent not found")
	ErrInvalidIntentState = errors.New("invalid upload intent state")

	// Purchase errors
	ErrPurchaseNotFound  = errors.New("purchase not found")
	ErrPurchaseGateway   = errors.New("payment gateway error")
	ErrInvalidBlockCount = errors.New("invalid block count")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
)

// BlockError represents a structured error with additional context
type BlockError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *BlockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *BlockError) Unwrap() error {
	return e.Cause
}

// NewBlockError creates a new BlockError
func NewBlockError(code, message string, cause error) *BlockError {
	return &BlockError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a detail to the error
func (e *BlockError) WithDetail(key string, value interface{}) *BlockError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes for structured error handling
const (
	ErrCodeLedgerNotFound         = "LEDGER_NOT_FOUND"
	ErrCodeLedgerExists           = "LEDGER_ALREADY_EXISTS"
	ErrCodeInsufficientBlocks     = "INSUFFICIENT_BLOCKS"
	ErrCodeShortfallOnFinalize    = "SHORTFALL_ON_FINALIZE"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"

	ErrCodeInvalidSize = "INVALID_SIZE"

	ErrCodeIntentNotFound     = "INTENT_NOT_FOUND"
	ErrCodeInvalidIntentState = "INVALID_INTENT_STATE"

	ErrCodePurchaseNotFound  = "PURCHASE_NOT_FOUND"
	ErrCodePurchaseGateway   = "PURCHASE_GATEWAY_ERROR"
	ErrCodeInvalidBlockCount = "INVALID_BLOCK_COUNT"

	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// Common error constructors

func NewLedgerNotFoundError(creatorID string) *BlockError {
	return NewBlockError(ErrCodeLedgerNotFound, "Creator ledger not found", ErrLedgerNotFound).
		WithDetail("creator_id", creatorID)
}

func NewInsufficientBlocksError(requested, available int64) *BlockError {
	return NewBlockError(ErrCodeInsufficientBlocks, "Insufficient blocks", ErrInsufficientBlocks).
		WithDetail("requested", requested).
		WithDetail("available", available)
}

func NewInvalidSizeError(sizeGB float64) *BlockError {
	return NewBlockError(ErrCodeInvalidSize, "Invalid content size", ErrInvalidSize).
		WithDetail("size_gb", sizeGB)
}

func NewIntentNotFoundError(intentID string) *BlockError {
	return NewBlockError(ErrCodeIntentNotFound, "Upload intent not found", ErrIntentNotFound).
		WithDetail("intent_id", intentID)
}

func NewInvalidIntentStateError(intentID string, state IntentState) *BlockError {
	return NewBlockError(ErrCodeInvalidIntentState, "Upload intent is in the wrong state", ErrInvalidIntentState).
		WithDetail("intent_id", intentID).
		WithDetail("state", string(state))
}

func NewPurchaseNotFoundError(purchaseID string) *BlockError {
	return NewBlockError(ErrCodePurchaseNotFound, "Purchase not found", ErrPurchaseNotFound).
		WithDetail("purchase_id", purchaseID)
}

func NewPurchaseGatewayError(cause error) *BlockError {
	return NewBlockError(ErrCodePurchaseGateway, "Payment gateway request failed", cause)
}

func NewShortfallError(reserved, actual int64) *BlockError {
	return NewBlockError(ErrCodeShortfallOnFinalize, "Upload exceeds reserved blocks", ErrShortfallOnFinalize).
		WithDetail("reserved", reserved).
		WithDetail("actual", actual)
}

func NewValidationError(field, message string) *BlockError {
	return NewBlockError(ErrCodeValidationFailed, "Validation failed", ErrValidationFailed).
		WithDetail("field", field).
		WithDetail("message", message)
}
