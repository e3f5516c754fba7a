package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/costume-exchange/internal/order"
)

const maxIdempotencyKeyLength = 255

type CheckoutItemRequest struct {
	CostumeID uuid.UUID       `json:"costume_id" validate:"required"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity" validate:"omitempty,min=1"`
}

type ShippingAddressRequest struct {
	Name       string `json:"name" validate:"max=100"`
	Line1      string `json:"line1" validate:"max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"omitempty,len=2"`
}

type CheckoutRequest struct {
	Items           []CheckoutItemRequest   `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress *ShippingAddressRequest `json:"shipping_address"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=shipped delivered cancelled"`
}

// CartClearer очищает сохранённую корзину после успешного оформления.
type CartClearer interface {
	Clear(ctx context.Context, userID uuid.UUID) error
}

type OrderHandler struct {
	orders   order.Service
	carts    CartClearer
	validate *validator.Validate
}

func NewOrderHandler(orders order.Service, carts CartClearer) *OrderHandler {
	return &OrderHandler{orders: orders, carts: carts, validate: newValidator()}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/checkout", h.handleCheckout)
		r.Get("/orders/{id}", h.handleGetOrder)
		r.Patch("/orders/{id}/status", h.handleUpdateStatus)
	})
}

func (h *OrderHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := currentUser(w, r)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > maxIdempotencyKeyLength {
		respondWithError(w, http.StatusBadRequest, "Idempotency-Key is too long")
		return
	}

	var req CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	lines := make([]order.CheckoutLine, 0, len(req.Items))
	for _, item := range req.Items {
		qty := item.Quantity
		if qty == 0 {
			qty = 1
		}
		lines = append(lines, order.CheckoutLine{CostumeID: item.CostumeID, Price: item.Price, Quantity: qty})
	}

	var shipping order.ShippingAddress
	if a := req.ShippingAddress; a != nil {
		shipping = order.ShippingAddress{
			Name:       a.Name,
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
	}

	result, err := h.orders.Checkout(r.Context(), order.CheckoutRequest{
		BuyerID:        buyerID,
		Items:          lines,
		Shipping:       shipping,
		IdempotencyKey: key,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to place order")
		return
	}

	if h.carts != nil {
		if err := h.carts.Clear(r.Context(), buyerID); err != nil {
			log.Warn().Err(err).Stringer("buyer_id", buyerID).Msg("Failed to clear cart after checkout")
		}
	}

	respondWithJSON(w, http.StatusCreated, result)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.orders.GetOrderForUser(r.Context(), userID, orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	orderID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req UpdateOrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.orders.UpdateOrderStatus(r.Context(), userID, orderID, order.OrderStatus(req.Status))
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}
