/**
 * @description
 * This file contains the HTTP handlers for the payout-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the
 * orchestration logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/crescendo/payout-service/internal/app"
	"github.com/crescendo/payout-service/internal/domain"
	"github.com/crescendo/payout-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PayoutHandlers holds the application service and optional rate limiter
// that handlers will use.
type PayoutHandlers struct {
	service        *app.Service
	rateLimiter    *app.RedisSubmissionRateLimiter
	rateLimitPerMi int
}

// NewPayoutHandlers creates a new instance of PayoutHandlers. rateLimiter may
// be nil; rateLimitPerMinute <= 0 disables the submission rate limit.
func NewPayoutHandlers(service *app.Service, rateLimiter *app.RedisSubmissionRateLimiter, rateLimitPerMinute int) *PayoutHandlers {
	return &PayoutHandlers{
		service:        service,
		rateLimiter:    rateLimiter,
		rateLimitPerMi: rateLimitPerMinute,
	}
}

type payoutResponse struct {
	PayoutID       string  `json:"payout_id"`
	Reference      string  `json:"reference"`
	Status         string  `json:"status"`
	Message        string  `json:"message,omitempty"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	WiseTransferID *string `json:"wise_transfer_id,omitempty"`
	ErrorCode      *string `json:"error_code,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
}

type batchPayoutRequest struct {
	Items   []domain.PayoutRequest    `json:"items"`
	Options domain.BatchPayoutOptions `json:"options"`
}

type retryPayoutRequest struct {
	Failed  []domain.BatchPayoutFailure `json:"failed"`
	Options domain.BatchPayoutOptions   `json:"options"`
}

func buildPayoutResponse(p *domain.PayoutRecord, message string) payoutResponse {
	return payoutResponse{
		PayoutID:       p.ID.String(),
		Reference:      p.Reference,
		Status:         p.Status,
		Message:        message,
		Amount:         p.Amount,
		Currency:       p.Currency,
		WiseTransferID: p.WiseTransferID,
		ErrorCode:      p.ErrorCode,
		ErrorMessage:   p.ErrorMessage,
	}
}

// CreatePayoutHandler handles requests to initiate a single payout.
func (h *PayoutHandlers) CreatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_payout outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if !h.allowSubmission(w, r, req.CreatorID) {
		return
	}

	log.Printf("level=info component=api endpoint=create_payout outcome=received creator_id=%s amount=%d currency=%s", req.CreatorID, req.Amount, req.Currency)

	result := h.service.PayoutToCreator(r.Context(), req)
	if !result.Success {
		log.Printf("level=warn component=api endpoint=create_payout outcome=reject creator_id=%s code=%s", req.CreatorID, result.Code)
		h.writePayoutFailure(w, result)
		return
	}

	log.Printf("level=info component=api endpoint=create_payout outcome=accepted payout_id=%s reference=%s", result.Payout.ID, result.Payout.Reference)

	h.writeJSON(w, http.StatusCreated, buildPayoutResponse(result.Payout, "Payout initiated"))
}

// BatchPayoutHandler handles requests to process a batch of payouts.
func (h *PayoutHandlers) BatchPayoutHandler(w http.ResponseWriter, r *http.Request) {
	var req batchPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=batch_payout outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if len(req.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "Batch must contain at least one item")
		return
	}

	log.Printf("level=info component=api endpoint=batch_payout outcome=accepted items=%d sequential=%t", len(req.Items), req.Options.Sequential)

	result := h.service.BatchPayout(r.Context(), req.Items, req.Options)

	status := http.StatusOK
	if result.Summary.Succeeded == 0 && result.Summary.Failed > 0 {
		status = http.StatusUnprocessableEntity
	} else if result.Summary.Failed > 0 {
		status = http.StatusMultiStatus
	}
	h.writeJSON(w, status, result)
}

// RetryFailedPayoutsHandler resubmits the retryable failures of a previous
// batch run.
func (h *PayoutHandlers) RetryFailedPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	var req retryPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=retry_payouts outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if len(req.Failed) == 0 {
		h.writeError(w, http.StatusBadRequest, "Nothing to retry")
		return
	}

	result := h.service.RetryFailedPayouts(r.Context(), req.Failed, req.Options)
	h.writeJSON(w, http.StatusOK, result)
}

// GetPayoutHandler returns a single payout by id, including its status history.
func (h *PayoutHandlers) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID, ok := h.parsePayoutID(w, r)
	if !ok {
		return
	}

	payout, err := h.service.GetPayout(r.Context(), payoutID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			h.writeError(w, http.StatusNotFound, "Payout not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_payout msg=\"lookup failed\" payout_id=%s err=%v", payoutID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	history, err := h.service.GetStatusHistory(r.Context(), payoutID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=get_payout msg=\"history lookup failed\" payout_id=%s err=%v", payoutID, err)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payout":  payout,
		"history": history,
	})
}

// ListPayoutsHandler returns a creator's payouts with optional filters.
// creator_id is required; status, currency, from, to, limit, offset are
// optional query parameters.
func (h *PayoutHandlers) ListPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	creatorIDStr := r.URL.Query().Get("creator_id")
	creatorID, err := uuid.Parse(creatorIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "A valid creator_id query parameter is required")
		return
	}

	opts := domain.PayoutListOptions{
		Status:   r.URL.Query().Get("status"),
		Currency: r.URL.Query().Get("currency"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			opts.Offset = n
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, parseErr := time.Parse(time.RFC3339, v); parseErr == nil {
			opts.From = &t
		} else {
			h.writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, parseErr := time.Parse(time.RFC3339, v); parseErr == nil {
			opts.To = &t
		} else {
			h.writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
	}

	payouts, err := h.service.ListPayouts(r.Context(), creatorID, opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_payouts msg=\"list failed\" creator_id=%s err=%v", creatorID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payouts": payouts,
		"count":   len(payouts),
	})
}

// PendingSummaryHandler returns the per-currency rollup of pending payouts,
// used by operators to size platform balance funding.
func (h *PayoutHandlers) PendingSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.PendingSummary(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=pending_summary msg=\"summary failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"pending": summary})
}

// CancelPayoutHandler cancels an in-flight payout.
func (h *PayoutHandlers) CancelPayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID, ok := h.parsePayoutID(w, r)
	if !ok {
		return
	}

	payout, err := h.service.CancelPayout(r.Context(), payoutID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			h.writeError(w, http.StatusNotFound, "Payout not found")
			return
		}
		log.Printf("level=warn component=api endpoint=cancel_payout outcome=failed payout_id=%s err=%v", payoutID, err)
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, buildPayoutResponse(payout, "Payout cancelled"))
}

// DeletePayoutHandler soft-deletes a payout record.
func (h *PayoutHandlers) DeletePayoutHandler(w http.ResponseWriter, r *http.Request) {
	payoutID, ok := h.parsePayoutID(w, r)
	if !ok {
		return
	}

	deleted, err := h.service.DeletePayout(r.Context(), payoutID)
	if err != nil {
		log.Printf("level=error component=api endpoint=delete_payout msg=\"delete failed\" payout_id=%s err=%v", payoutID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "Payout not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PayoutHandlers) parsePayoutID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "payoutID")
	payoutID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payout id")
		return uuid.Nil, false
	}
	return payoutID, true
}

// allowSubmission enforces the per-creator submission rate limit when a
// limiter is configured. Redis outages fail open: a burst of payouts is less
// damaging than a total payout outage.
func (h *PayoutHandlers) allowSubmission(w http.ResponseWriter, r *http.Request, creatorID uuid.UUID) bool {
	if h.rateLimiter == nil || h.rateLimitPerMi <= 0 || creatorID == uuid.Nil {
		return true
	}

	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), "payout_create", creatorID.String(), h.rateLimitPerMi, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		return true
	}
	if count > h.rateLimitPerMi {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many payout submissions. Please slow down.")
		return false
	}
	return true
}

// writePayoutFailure maps a failed payout result onto an HTTP status using
// the error taxonomy.
func (h *PayoutHandlers) writePayoutFailure(w http.ResponseWriter, result domain.PayoutResult) {
	status := http.StatusInternalServerError
	switch result.Code {
	case app.CodeValidation, app.CodeAccountVerification, app.CodeInvalidAccount:
		status = http.StatusBadRequest
	case app.CodeCreatorNotFound:
		status = http.StatusNotFound
	case app.CodeDuplicateReference:
		status = http.StatusConflict
	case app.CodeInsufficientBalance:
		status = http.StatusPaymentRequired
	case app.CodeRateLimited:
		status = http.StatusTooManyRequests
	case app.CodeTimeout, app.CodeNetworkError, app.CodeServerError:
		status = http.StatusBadGateway
	}

	h.writeJSON(w, status, map[string]interface{}{
		"error":     result.Error,
		"code":      result.Code,
		"retryable": result.Retryable,
	})
}

// writeJSON is a helper for writing JSON responses.
func (h *PayoutHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PayoutHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
