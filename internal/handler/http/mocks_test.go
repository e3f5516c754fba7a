package http_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/costume-exchange/internal/auth"
	"github.com/vasiliy-maslov/costume-exchange/internal/cart"
	handler "github.com/vasiliy-maslov/costume-exchange/internal/handler/http"
	"github.com/vasiliy-maslov/costume-exchange/internal/listing"
	"github.com/vasiliy-maslov/costume-exchange/internal/order"
	"github.com/vasiliy-maslov/costume-exchange/internal/payment"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, u *user.User, password string) (*user.User, error) {
	args := m.Called(ctx, u, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, login, password string) (*user.User, error) {
	args := m.Called(ctx, login, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) GetUserByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, u *user.User) (*user.User, error) {
	args := m.Called(ctx, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.User), args.Error(1)
}

func (m *MockUserService) RequestPasswordReset(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *MockUserService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	return m.Called(ctx, rawToken, newPassword).Error(0)
}

type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) Create(ctx context.Context, c *listing.Costume) (*listing.Costume, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*listing.Costume), args.Error(1)
}

func (m *MockListingService) Get(ctx context.Context, id uuid.UUID) (*listing.Costume, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*listing.Costume), args.Error(1)
}

func (m *MockListingService) Update(ctx context.Context, sellerID uuid.UUID, c *listing.Costume) (*listing.Costume, error) {
	args := m.Called(ctx, sellerID, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*listing.Costume), args.Error(1)
}

func (m *MockListingService) Delete(ctx context.Context, sellerID, id uuid.UUID) error {
	return m.Called(ctx, sellerID, id).Error(0)
}

func (m *MockListingService) AttachImage(ctx context.Context, sellerID, id uuid.UUID, data []byte) (*listing.Costume, error) {
	args := m.Called(ctx, sellerID, id, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*listing.Costume), args.Error(1)
}

func (m *MockListingService) Search(ctx context.Context, f listing.Filter) (listing.Page, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(listing.Page), args.Error(1)
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Checkout(ctx context.Context, req order.CheckoutRequest) (*order.CheckoutResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.CheckoutResult), args.Error(1)
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderForUser(ctx context.Context, userID, orderID uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, userID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, buyerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) GetSalesBySellerID(ctx context.Context, sellerID uuid.UUID) ([]order.Sale, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Sale), args.Error(1)
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, actorID, orderID uuid.UUID, status order.OrderStatus) (*order.Order, error) {
	args := m.Called(ctx, actorID, orderID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) HandlePaymentSucceeded(ctx context.Context, orderID uuid.UUID) error {
	return m.Called(ctx, orderID).Error(0)
}

func (m *MockOrderService) HandlePaymentCanceled(ctx context.Context, orderID uuid.UUID) error {
	return m.Called(ctx, orderID).Error(0)
}

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) Get(ctx context.Context, userID uuid.UUID) (cart.View, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(cart.View), args.Error(1)
}

func (m *MockCartService) AddItem(ctx context.Context, userID, costumeID uuid.UUID) (cart.Cart, error) {
	args := m.Called(ctx, userID, costumeID)
	return args.Get(0).(cart.Cart), args.Error(1)
}

func (m *MockCartService) RemoveItem(ctx context.Context, userID, costumeID uuid.UUID) (cart.Cart, error) {
	args := m.Called(ctx, userID, costumeID)
	return args.Get(0).(cart.Cart), args.Error(1)
}

func (m *MockCartService) Replace(ctx context.Context, userID uuid.UUID, costumeIDs []uuid.UUID) (cart.Cart, error) {
	args := m.Called(ctx, userID, costumeIDs)
	return args.Get(0).(cart.Cart), args.Error(1)
}

func (m *MockCartService) Clear(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

type MockConnectService struct {
	mock.Mock
}

func (m *MockConnectService) StartOnboarding(ctx context.Context, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockConnectService) RefreshStatus(ctx context.Context, userID uuid.UUID) (user.StripeAccountStatus, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(user.StripeAccountStatus), args.Error(1)
}

func (m *MockConnectService) Balance(ctx context.Context, userID uuid.UUID) (*payment.Balance, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Balance), args.Error(1)
}

type MockWebhookHandler struct {
	mock.Mock
}

func (m *MockWebhookHandler) Handle(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

type testServer struct {
	router   *chi.Mux
	tokens   *auth.TokenManager
	users    *MockUserService
	costumes *MockListingService
	orders   *MockOrderService
	carts    *MockCartService
	connect  *MockConnectService
	webhooks *MockWebhookHandler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		tokens:   auth.NewTokenManager("test-secret", time.Hour, "costume-exchange"),
		users:    new(MockUserService),
		costumes: new(MockListingService),
		orders:   new(MockOrderService),
		carts:    new(MockCartService),
		connect:  new(MockConnectService),
		webhooks: new(MockWebhookHandler),
	}
	s.router = handler.NewRouter(handler.Handlers{
		Auth:     handler.NewAuthHandler(s.users, s.tokens),
		Users:    handler.NewUserHandler(s.users, s.orders),
		Costumes: handler.NewCostumeHandler(s.costumes),
		Orders:   handler.NewOrderHandler(s.orders, s.carts),
		Cart:     handler.NewCartHandler(s.carts),
		Stripe:   handler.NewStripeHandler(s.connect, s.webhooks),
	}, s.tokens, "")

	t.Cleanup(func() {
		s.users.AssertExpectations(t)
		s.costumes.AssertExpectations(t)
		s.orders.AssertExpectations(t)
		s.carts.AssertExpectations(t)
		s.connect.AssertExpectations(t)
		s.webhooks.AssertExpectations(t)
	})
	return s
}

// authorize подписывает запрос токеном пользователя id.
func (s *testServer) authorize(t *testing.T, req *http.Request, id uuid.UUID) {
	t.Helper()
	token, _, err := s.tokens.Issue(id, "tester")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
}
