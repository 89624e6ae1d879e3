package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/pricing"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/service"
	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/store"
)

// RegisterCreator handles creator ledger registration requests
func RegisterCreator(grants *service.GrantService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := chi.URLParam(r, "creatorID")

		var req struct {
			JoinedAt *time.Time `json:"joined_at,omitempty"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
				return
			}
		}
		joinedAt := time.Now().UTC()
		if req.JoinedAt != nil {
			joinedAt = req.JoinedAt.UTC()
		}

		ledger, err := grants.RegisterCreator(r.Context(), creatorID, joinedAt)
		if err != nil {
			logger.Error("Failed to register creator", zap.String("creator_id", creatorID), zap.Error(err))
			handleServiceError(w, err, "Failed to register creator")
			return
		}

		writeJSONResponse(w, http.StatusCreated, ledger)
	}
}

// GetCreatorBlocks handles ledger summary requests
func GetCreatorBlocks(st store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := chi.URLParam(r, "creatorID")

		ledger, err := st.GetLedger(r.Context(), creatorID)
		if err != nil {
			logger.Error("Failed to get ledger", zap.String("creator_id", creatorID), zap.Error(err))
			handleServiceError(w, err, "Failed to get creator blocks")
			return
		}

		now := time.Now().UTC()
		summary := &models.LedgerSummary{
			CreatorID:       ledger.CreatorID,
			TotalBlocks:     ledger.TotalBlocks,
			UsedBlocks:      ledger.UsedBlocks,
			ReservedBlocks:  ledger.ReservedBlocks,
			AvailableBlocks: ledger.AvailableBlocks(),
			InGrace:         ledger.InGrace(now),
			ActiveCredits:   len(ledger.ActiveCredits(now)),
			CanUpload:       ledger.AvailableBlocks() > 0,
		}
		writeJSONResponse(w, http.StatusOK, summary)
	}
}

// CalculateBlocks handles pure block/price calculation requests. No
// ledger is consulted and nothing mutates.
func CalculateBlocks(calc *pricing.Calculator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SizeGB          float64 `json:"size_gb"`
			DurationMinutes float64 `json:"duration_minutes,omitempty"`
			Resolution      string  `json:"resolution,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}

		sizeGB := req.SizeGB
		estimated := false
		if sizeGB == 0 && req.DurationMinutes > 0 {
			sizeGB = calc.EstimateSizeGB(req.DurationMinutes, req.Resolution)
			estimated = true
		}

		blocksNeeded, err := calc.BlocksNeeded(sizeGB)
		if err != nil {
			handleServiceError(w, err, "Failed to calculate blocks")
			return
		}

		response := map[string]interface{}{
			"size_gb":         sizeGB,
			"size_estimated":  estimated,
			"blocks_needed":   blocksNeeded,
			"price_per_block": calc.PricePerBlock(),
			"total_price":     calc.PricePerBlock().Mul(decimal.NewFromInt(blocksNeeded)),
		}
		writeJSONResponse(w, http.StatusOK, response)
	}
}

// CheckUpload handles upload admission checks
func CheckUpload(admission *service.AdmissionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := chi.URLParam(r, "creatorID")

		var req struct {
			SizeGB float64 `json:"size_gb"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}

		check, err := admission.CheckUpload(r.Context(), creatorID, req.SizeGB)
		if err != nil {
			logger.Error("Upload check failed", zap.String("creator_id", creatorID), zap.Error(err))
			handleServiceError(w, err, "Failed to check upload")
			return
		}

		writeJSONResponse(w, http.StatusOK, check)
	}
}

// AddVideo handles add-video requests: creates an intent and reserves
// blocks for the upload.
func AddVideo(flow *service.UploadFlow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := chi.URLParam(r, "creatorID")

		var req struct {
			VideoID string  `json:"video_id"`
			Title   string  `json:"title"`
			SizeGB  float64 `json:"size_gb"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		if req.VideoID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "video_id is required", nil)
			return
		}

		result, err := flow.AddVideo(r.Context(), creatorID, req.VideoID, req.Title, req.SizeGB)
		if err != nil {
			logger.Error("Add video failed",
				zap.String("creator_id", creatorID),
				zap.String("video_id", req.VideoID),
				zap.Error(err),
			)
			handleServiceError(w, err, "Failed to add video")
			return
		}

		status := http.StatusCreated
		if !result.CanUpload {
			// Shortfall: the client is directed to the purchase flow.
			status = http.StatusPaymentRequired
		}
		writeJSONResponse(w, status, result)
	}
}

// CompleteUpload handles upload completion callbacks
func CompleteUpload(flow *service.UploadFlow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := chi.URLParam(r, "creatorID")
		intentID, err := uuid.Parse(chi.URLParam(r, "intentID"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid intent ID", err)
			return
		}

		intent, err := flow.CompleteUpload(r.Context(), creatorID, intentID)
		if err != nil {
			logger.Error("Upload completion failed",
				zap.String("intent_id", intentID.String()),
				zap.Error(err),
			)
			handleServiceError(w, err, "Failed to complete upload")
			return
		}

		writeJSONResponse(w, http.StatusOK, intent)
	}
}

// AbortUpload handles upload abort callbacks
func AbortUpload(flow *service.UploadFlow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := chi.URLParam(r, "creatorID")
		intentID, err := uuid.Parse(chi.URLParam(r, "intentID"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid intent ID", err)
			return
		}

		var req struct {
			Reason string `json:"reason,omitempty"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "aborted by client"
		}

		if err := flow.AbortUpload(r.Context(), creatorID, intentID, req.Reason); err != nil {
			logger.Error("Upload abort failed", zap.String("intent_id", intentID.String()), zap.Error(err))
			handleServiceError(w, err, "Failed to abort upload")
			return
		}

		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"intent_id": intentID,
			"status":    "released",
		})
	}
}

// RetryFinalize handles finalize retries for shortfall intents
func RetryFinalize(flow *service.UploadFlow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := chi.URLParam(r, "creatorID")

		var req struct {
			IntentID string `json:"intent_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		intentID, err := uuid.Parse(req.IntentID)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid intent ID", err)
			return
		}

		intent, err := flow.RetryFinalize(r.Context(), creatorID, intentID)
		if err != nil {
			logger.Error("Finalize retry failed", zap.String("intent_id", intentID.String()), zap.Error(err))
			handleServiceError(w, err, "Failed to retry finalize")
			return
		}

		writeJSONResponse(w, http.StatusOK, intent)
	}
}

// CreatePurchase handles block purchase requests
func CreatePurchase(purchases *service.PurchaseOrchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creatorID := chi.URLParam(r, "creatorID")

		var req models.PurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}

		purchase, err := purchases.CreatePurchase(r.Context(), creatorID, req.Blocks)
		if err != nil {
			logger.Error("Purchase creation failed",
				zap.String("creator_id", creatorID),
				zap.Int64("blocks", req.Blocks),
				zap.Error(err),
			)
			handleServiceError(w, err, "Failed to create purchase")
			return
		}

		writeJSONResponse(w, http.StatusCreated, &models.PurchaseResponse{Purchase: purchase})
	}
}

// GetPurchase handles purchase status polling
func GetPurchase(purchases *service.PurchaseOrchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		purchaseID, err := uuid.Parse(chi.URLParam(r, "purchaseID"))
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid purchase ID", err)
			return
		}

		purchase, err := purchases.GetPurchase(r.Context(), purchaseID)
		if err != nil {
			handleServiceError(w, err, "Failed to get purchase")
			return
		}

		writeJSONResponse(w, http.StatusOK, &models.PurchaseResponse{Purchase: purchase})
	}
}

// PaymentWebhook handles asynchronous gateway confirmations. Replays are
// acknowledged with 200 so the gateway stops retrying.
func PaymentWebhook(purchases *service.PurchaseOrchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event models.WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid webhook payload", err)
			return
		}

		purchaseID, err := purchases.ResolveWebhook(r.Context(), &event)
		if err != nil {
			logger.Warn("Webhook resolution failed",
				zap.String("purchase_id", event.PurchaseID),
				zap.String("external_reference", event.ExternalReference),
				zap.Error(err),
			)
			handleServiceError(w, err, "Failed to resolve webhook")
			return
		}

		if err := purchases.ConfirmPurchase(r.Context(), purchaseID, event.Status); err != nil {
			logger.Error("Purchase confirmation failed",
				zap.String("purchase_id", purchaseID.String()),
				zap.Error(err),
			)
			handleServiceError(w, err, "Failed to confirm purchase")
			return
		}

		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"purchase_id": purchaseID,
			"status":      "processed",
		})
	}
}
