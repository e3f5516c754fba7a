package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/costume-exchange/internal/payment"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

const maxWebhookBodySize = 64 << 10

type ConnectService interface {
	StartOnboarding(ctx context.Context, userID uuid.UUID) (string, error)
	RefreshStatus(ctx context.Context, userID uuid.UUID) (user.StripeAccountStatus, error)
	Balance(ctx context.Context, userID uuid.UUID) (*payment.Balance, error)
}

type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

type OnboardingResponse struct {
	URL string `json:"url"`
}

type AccountStatusResponse struct {
	Status user.StripeAccountStatus `json:"status"`
}

type StripeHandler struct {
	connect  ConnectService
	webhooks WebhookHandler
}

func NewStripeHandler(connect ConnectService, webhooks WebhookHandler) *StripeHandler {
	return &StripeHandler{connect: connect, webhooks: webhooks}
}

func (h *StripeHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Post("/stripe/webhook", h.handleWebhook)

	router.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/stripe/connect", h.handleConnect)
		r.Get("/stripe/connect/status", h.handleStatus)
		r.Get("/stripe/balance", h.handleBalance)
	})
}

func (h *StripeHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	link, err := h.connect.StartOnboarding(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to start payout onboarding")
		return
	}

	respondWithJSON(w, http.StatusOK, OnboardingResponse{URL: link})
}

func (h *StripeHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	status, err := h.connect.RefreshStatus(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get payout account status")
		return
	}

	respondWithJSON(w, http.StatusOK, AccountStatusResponse{Status: status})
}

func (h *StripeHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	balance, err := h.connect.Balance(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get balance")
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}

// handleWebhook отвечает 5xx на внутренние ошибки, чтобы Stripe повторил доставку.
func (h *StripeHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	if err := h.webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			log.Warn().Err(err).Msg("Rejected webhook with invalid signature")
			respondWithError(w, http.StatusBadRequest, "Invalid webhook signature")
			return
		}
		log.Error().Err(err).Msg("Failed to process webhook")
		respondWithError(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}
