/**
 * @description
 * This file sets up the HTTP router for the payout-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * the necessary middleware. The webhook endpoint sits outside the operator
 * auth group because the provider authenticates with an HMAC signature, not a
 * bearer token.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PayoutRoutes creates and returns a new router for the payout service.
func PayoutRoutes(h *PayoutHandlers, webhook *TransferWebhookHandler, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider webhooks authenticate via HMAC signature.
	r.Post("/webhooks/transfer-status", webhook.ServeHTTP)

	// Group routes that require operator authentication.
	r.Group(func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(jwksURL, internalAPIKey))

		r.Post("/", h.CreatePayoutHandler)
		r.Post("/batch", h.BatchPayoutHandler)
		r.Post("/retry", h.RetryFailedPayoutsHandler)
		r.Get("/", h.ListPayoutsHandler)
		r.Get("/pending/summary", h.PendingSummaryHandler)
		r.Get("/{payoutID}", h.GetPayoutHandler)
		r.Post("/{payoutID}/cancel", h.CancelPayoutHandler)
		r.Delete("/{payoutID}", h.DeletePayoutHandler)
	})

	return r
}
