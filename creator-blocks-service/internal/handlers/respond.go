package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
)

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing to do but log.
		zap.L().Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	if err != nil {
		errorResponse["details"] = err.Error()
	}

	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		zap.L().Error("Failed to encode error response", zap.Error(encodeErr))
	}
}

// getHTTPStatusFromBlockError maps block errors to HTTP status codes
func getHTTPStatusFromBlockError(err *models.BlockError) int {
	switch err.Code {
	case models.ErrCodeLedgerNotFound, models.ErrCodeIntentNotFound, models.ErrCodePurchaseNotFound:
		return http.StatusNotFound
	case models.ErrCodeLedgerExists:
		return http.StatusConflict
	case models.ErrCodeInsufficientBlocks:
		return http.StatusPaymentRequired
	case models.ErrCodeInvalidSize, models.ErrCodeInvalidBlockCount, models.ErrCodeValidationFailed:
		return http.StatusBadRequest
	case models.ErrCodeInvalidIntentState, models.ErrCodeShortfallOnFinalize:
		return http.StatusConflict
	case models.ErrCodeConcurrentModification:
		return http.StatusServiceUnavailable
	case models.ErrCodePurchaseGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError writes the right status for a service-layer error.
func handleServiceError(w http.ResponseWriter, err error, fallback string) {
	if blockErr, ok := err.(*models.BlockError); ok {
		writeErrorResponse(w, getHTTPStatusFromBlockError(blockErr), blockErr.Message, err)
		return
	}
	switch err {
	case models.ErrLedgerNotFound:
		writeErrorResponse(w, http.StatusNotFound, "Creator ledger not found", err)
	case models.ErrIntentNotFound:
		writeErrorResponse(w, http.StatusNotFound, "Upload intent not found", err)
	case models.ErrPurchaseNotFound:
		writeErrorResponse(w, http.StatusNotFound, "Purchase not found", err)
	case models.ErrLedgerAlreadyExists:
		writeErrorResponse(w, http.StatusConflict, "Creator ledger already exists", err)
	default:
		writeErrorResponse(w, http.StatusInternalServerError, fallback, err)
	}
}
