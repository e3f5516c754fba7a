package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/costume-exchange/internal/auth"
)

type TokenParser interface {
	Parse(tokenString string) (uuid.UUID, *auth.Claims, error)
}

type TokenIssuer interface {
	Issue(userID uuid.UUID, username string) (string, time.Time, error)
}

// RequireAuth пропускает запрос только с валидным Bearer-токеном.
func RequireAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
				respondWithError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			userID, _, err := tokens.Parse(strings.TrimSpace(token))
			if err != nil {
				log.Debug().Err(err).Msg("Rejected access token")
				respondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}

var (
	_ TokenIssuer = (*auth.TokenManager)(nil)
	_ TokenParser = (*auth.TokenManager)(nil)
)
