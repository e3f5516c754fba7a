package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Costumes *CostumeHandler
	Orders   *OrderHandler
	Cart     *CartHandler
	Stripe   *StripeHandler
}

// NewRouter собирает маршруты API. uploadsDir пустой, если изображения хранятся в S3.
func NewRouter(h Handlers, tokens TokenParser, uploadsDir string) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})

	if uploadsDir != "" {
		fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadsDir)))
		router.Handle("/uploads/*", fs)
	}

	requireAuth := RequireAuth(tokens)
	router.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(30 * time.Second))

		h.Auth.RegisterRoutes(api)
		h.Users.RegisterRoutes(api, requireAuth)
		h.Costumes.RegisterRoutes(api, requireAuth)
		h.Orders.RegisterRoutes(api, requireAuth)
		h.Cart.RegisterRoutes(api, requireAuth)
		h.Stripe.RegisterRoutes(api, requireAuth)
	})

	return router
}
