package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/costume-exchange/internal/cart"
)

type CartService interface {
	Get(ctx context.Context, userID uuid.UUID) (cart.View, error)
	AddItem(ctx context.Context, userID, costumeID uuid.UUID) (cart.Cart, error)
	RemoveItem(ctx context.Context, userID, costumeID uuid.UUID) (cart.Cart, error)
	Replace(ctx context.Context, userID uuid.UUID, costumeIDs []uuid.UUID) (cart.Cart, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type AddCartItemRequest struct {
	CostumeID uuid.UUID `json:"costume_id" validate:"required"`
}

type ReplaceCartRequest struct {
	CostumeIDs []uuid.UUID `json:"costume_ids" validate:"max=50"`
}

type CartResponse struct {
	Items       []cart.Item `json:"items"`
	Total       string      `json:"total"`
	Unavailable []uuid.UUID `json:"unavailable"`
}

func cartResponse(c cart.Cart, unavailable []uuid.UUID) CartResponse {
	items := c.Items
	if items == nil {
		items = []cart.Item{}
	}
	if unavailable == nil {
		unavailable = []uuid.UUID{}
	}
	return CartResponse{Items: items, Total: c.Total().StringFixed(2), Unavailable: unavailable}
}

type CartHandler struct {
	carts    CartService
	validate *validator.Validate
}

func NewCartHandler(carts CartService) *CartHandler {
	return &CartHandler{carts: carts, validate: newValidator()}
}

func (h *CartHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/cart", h.handleGet)
		r.Put("/cart", h.handleReplace)
		r.Delete("/cart", h.handleClear)
		r.Post("/cart/items", h.handleAddItem)
		r.Delete("/cart/items/{costumeId}", h.handleRemoveItem)
	})
}

func (h *CartHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	view, err := h.carts.Get(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get cart")
		return
	}

	respondWithJSON(w, http.StatusOK, cartResponse(view.Cart, view.Unavailable))
}

func (h *CartHandler) handleReplace(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req ReplaceCartRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	c, err := h.carts.Replace(r.Context(), userID, req.CostumeIDs)
	if err != nil {
		respondWithServiceError(w, err, "Failed to save cart")
		return
	}

	respondWithJSON(w, http.StatusOK, cartResponse(c, nil))
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req AddCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	c, err := h.carts.AddItem(r.Context(), userID, req.CostumeID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to add item to cart")
		return
	}

	respondWithJSON(w, http.StatusOK, cartResponse(c, nil))
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	costumeID, ok := uuidParam(w, r, "costumeId")
	if !ok {
		return
	}

	c, err := h.carts.RemoveItem(r.Context(), userID, costumeID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to remove item from cart")
		return
	}

	respondWithJSON(w, http.StatusOK, cartResponse(c, nil))
}

func (h *CartHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(r.Context(), userID); err != nil {
		respondWithServiceError(w, err, "Failed to clear cart")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
