package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/costume-exchange/internal/order"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

type AddressRequest struct {
	Line1      string `json:"line1" validate:"max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"omitempty,len=2"`
}

type UpdateProfileRequest struct {
	FirstName string         `json:"first_name" validate:"max=50"`
	LastName  string         `json:"last_name" validate:"max=50"`
	Address   AddressRequest `json:"address"`
}

type UserResponse struct {
	ID                  uuid.UUID                `json:"id"`
	Username            string                   `json:"username"`
	Email               string                   `json:"email"`
	FirstName           string                   `json:"first_name"`
	LastName            string                   `json:"last_name"`
	Address             user.Address             `json:"address"`
	StripeAccountStatus user.StripeAccountStatus `json:"stripe_account_status"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// PublicUserResponse - профиль продавца, видимый всем. Без email и адреса.
type PublicUserResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	CanSell   bool      `json:"can_sell"`
	CreatedAt time.Time `json:"created_at"`
}

func userResponse(u *user.User) UserResponse {
	return UserResponse{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               u.Email,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		Address:             u.Address,
		StripeAccountStatus: u.StripeAccountStatus,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

type UserHandler struct {
	users    user.Service
	orders   order.Service
	validate *validator.Validate
}

func NewUserHandler(users user.Service, orders order.Service) *UserHandler {
	return &UserHandler{users: users, orders: orders, validate: newValidator()}
}

func (h *UserHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Get("/users/{id}", h.handleGetPublicProfile)

	router.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/users/me", h.handleGetMe)
		r.Put("/users/me", h.handleUpdateMe)
		r.Get("/users/me/orders", h.handleGetMyOrders)
		r.Get("/users/me/sales", h.handleGetMySales)
	})
}

func (h *UserHandler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	found, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get user")
		return
	}

	respondWithJSON(w, http.StatusOK, userResponse(found))
}

func (h *UserHandler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), &user.User{
		ID:        userID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Address: user.Address{
			Line1:      req.Address.Line1,
			Line2:      req.Address.Line2,
			City:       req.Address.City,
			State:      req.Address.State,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
		},
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to update profile")
		return
	}

	respondWithJSON(w, http.StatusOK, userResponse(updated))
}

func (h *UserHandler) handleGetMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.GetOrdersByBuyerID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get orders")
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *UserHandler) handleGetMySales(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	sales, err := h.orders.GetSalesBySellerID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get sales")
		return
	}
	if sales == nil {
		sales = []order.Sale{}
	}

	respondWithJSON(w, http.StatusOK, sales)
}

func (h *UserHandler) handleGetPublicProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	found, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get user")
		return
	}

	respondWithJSON(w, http.StatusOK, PublicUserResponse{
		ID:        found.ID,
		Username:  found.Username,
		FirstName: found.FirstName,
		CanSell:   found.StripeAccountStatus == user.StripeAccountActive,
		CreatedAt: found.CreatedAt,
	})
}
