package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/costume-exchange/internal/auth"
	"github.com/vasiliy-maslov/costume-exchange/internal/cart"
	"github.com/vasiliy-maslov/costume-exchange/internal/listing"
	"github.com/vasiliy-maslov/costume-exchange/internal/order"
	"github.com/vasiliy-maslov/costume-exchange/internal/payment"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

const maxJSONBodySize = 1 << 20

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

type errorMapping struct {
	err     error
	status  int
	message string
}

// knownErrors - доменные ошибки, которые можно показать клиенту. Всё остальное превращается в 500.
var knownErrors = []errorMapping{
	{user.ErrNotFound, http.StatusNotFound, "User not found"},
	{user.ErrEmailExists, http.StatusConflict, "Email already exists"},
	{user.ErrUsernameExists, http.StatusConflict, "Username already exists"},
	{user.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
	{user.ErrInvalidResetToken, http.StatusBadRequest, "Password reset token is invalid or has expired"},
	{user.ErrPasswordTooLong, http.StatusBadRequest, fmt.Sprintf("Password must be at most %d bytes", user.MaxPasswordBytes)},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "Invalid or expired token"},

	{listing.ErrNotFound, http.StatusNotFound, "Costume not found"},
	{listing.ErrForbidden, http.StatusForbidden, "You can only manage your own costumes"},
	{listing.ErrAlreadySold, http.StatusConflict, "Costume is already sold"},
	{listing.ErrHasOrderHistory, http.StatusConflict, "Costume has order history and cannot be deleted"},
	{listing.ErrTooManyImages, http.StatusBadRequest, fmt.Sprintf("A costume can have at most %d images", listing.MaxImages)},
	{listing.ErrUnsupportedImage, http.StatusBadRequest, "Only JPEG, PNG and WebP images up to 5 MB are allowed"},

	{order.ErrOrderNotFound, http.StatusNotFound, "Order not found"},
	{order.ErrForbidden, http.StatusForbidden, "You do not have access to this order"},
	{order.ErrItemsUnavailable, http.StatusBadRequest, "Some costumes are no longer available"},
	{order.ErrOwnListing, http.StatusBadRequest, "You cannot buy your own costume"},
	{order.ErrEmptyOrder, http.StatusBadRequest, "Order must contain at least one item"},
	{order.ErrDuplicateItem, http.StatusBadRequest, "Each costume can appear only once"},
	{order.ErrInvalidQuantity, http.StatusBadRequest, "Each costume can only be bought once"},
	{order.ErrShippingRequired, http.StatusBadRequest, "Shipping address is required"},
	{order.ErrInvalidStatusTransition, http.StatusConflict, "Order status cannot be changed this way"},
	{order.ErrCheckoutInProgress, http.StatusConflict, "Checkout is already in progress"},
	{order.ErrIdempotencyKeyReused, http.StatusUnprocessableEntity, "Idempotency key was already used for a different order"},
	{order.ErrOrderPaid, http.StatusConflict, "Paid orders cannot be cancelled"},
	{order.ErrPaymentFailed, http.StatusInternalServerError, "Payment could not be started, please try again"},

	{cart.ErrOwnCostume, http.StatusBadRequest, "You cannot add your own costume to the cart"},
	{cart.ErrNotAvailable, http.StatusBadRequest, "Costume is no longer available"},
	{cart.ErrCartFull, http.StatusBadRequest, fmt.Sprintf("Cart cannot hold more than %d items", cart.MaxItems)},

	{payment.ErrAlreadyOnboarded, http.StatusConflict, "Payout account is already active"},
	{payment.ErrNoConnectedAccount, http.StatusNotFound, "No payout account connected"},
	{payment.ErrInvalidSignature, http.StatusBadRequest, "Invalid webhook signature"},
}

func mapErrorToStatusCode(err error) int {
	for _, m := range knownErrors {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

func clientMessage(err error, fallback string) string {
	for _, m := range knownErrors {
		if errors.Is(err, m.err) {
			return m.message
		}
	}
	return fallback
}

// respondWithServiceError логирует ошибку и отвечает кодом из knownErrors.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	code := mapErrorToStatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(fallback)
	} else {
		log.Warn().Err(err).Msg(fallback)
	}
	respondWithError(w, code, clientMessage(err, fallback))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("costume_category", func(fl validator.FieldLevel) bool {
		return listing.Category(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("costume_condition", func(fl validator.FieldLevel) bool {
		return listing.Condition(fl.Field().String()).Valid()
	})
	// bcrypt ограничивает пароль байтами, а max у validator считает руны.
	_ = v.RegisterValidation("password_bytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= user.MaxPasswordBytes
	})
	return v
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "email":
			details[field] = "must be a valid email address"
		case "min":
			details[field] = fmt.Sprintf("must be at least %s characters", fe.Param())
		case "max":
			details[field] = fmt.Sprintf("must be at most %s characters", fe.Param())
		case "gt":
			details[field] = fmt.Sprintf("must be greater than %s", fe.Param())
		case "oneof":
			details[field] = "must be one of: " + fe.Param()
		case "costume_category":
			details[field] = "must be a known category"
		case "costume_condition":
			details[field] = "must be one of: new, like-new, good, fair"
		case "password_bytes":
			details[field] = fmt.Sprintf("must be at most %d bytes", user.MaxPasswordBytes)
		case "alphanum":
			details[field] = "must contain only letters and digits"
		default:
			details[field] = fmt.Sprintf("failed on '%s' validation", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate разбирает тело запроса в dst и проверяет его. При ошибке ответ уже отправлен.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	if err := v.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(name, raw).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

// currentUser достаёт id пользователя, положенный RequireAuth.
func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return uuid.Nil, false
	}
	return id, true
}
