package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent"

type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,password_bytes"`
	FirstName string `json:"first_name" validate:"max=50"`
	LastName  string `json:"last_name" validate:"max=50"`
}

type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,password_bytes"`
}

type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

type AuthHandler struct {
	users    user.Service
	tokens   TokenIssuer
	validate *validator.Validate
}

func NewAuthHandler(users user.Service, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, validate: newValidator()}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/auth/register", h.handleRegister)
	router.Post("/auth/login", h.handleLogin)
	router.Post("/auth/forgot-password", h.handleForgotPassword)
	router.Post("/auth/reset-password", h.handleResetPassword)
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.users.Register(r.Context(), &user.User{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, req.Password)
	if err != nil {
		respondWithServiceError(w, err, "Failed to register user")
		return
	}

	h.respondWithToken(w, http.StatusCreated, created)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	found, err := h.users.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		respondWithServiceError(w, err, "Failed to log in")
		return
	}

	h.respondWithToken(w, http.StatusOK, found)
}

// handleForgotPassword отвечает одинаково вне зависимости от того, найден ли email.
func (h *AuthHandler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	if err := h.users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		log.Error().Err(err).Msg("Failed to process password reset request")
	}

	respondWithJSON(w, http.StatusOK, MessageResponse{Message: forgotPasswordMessage})
}

func (h *AuthHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	if err := h.users.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		respondWithServiceError(w, err, "Failed to reset password")
		return
	}

	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset"})
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, code int, u *user.User) {
	token, expiresAt, err := h.tokens.Issue(u.ID, u.Username)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", u.ID).Msg("Failed to issue access token")
		respondWithError(w, http.StatusInternalServerError, "Failed to issue access token")
		return
	}
	respondWithJSON(w, code, AuthResponse{Token: token, ExpiresAt: expiresAt, User: userResponse(u)})
}
