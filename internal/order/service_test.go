package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/costume-exchange/internal/order"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

type mockOrderRepository struct {
	placeFunc            func(ctx context.Context, buyerID uuid.UUID, ids []uuid.UUID, shipping order.ShippingAddress) (*order.Order, error)
	cancelFunc           func(ctx context.Context, orderID uuid.UUID) error
	getByIDFunc          func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	updateStatusFunc     func(ctx context.Context, orderID uuid.UUID, from, to order.OrderStatus) error
	setPaymentIntentFunc func(ctx context.Context, orderID uuid.UUID, intentID string) error
	markPaidFunc         func(ctx context.Context, orderID uuid.UUID) error

	cancelled []uuid.UUID
}

func (m *mockOrderRepository) PlaceOrder(ctx context.Context, buyerID uuid.UUID, ids []uuid.UUID, shipping order.ShippingAddress) (*order.Order, error) {
	return m.placeFunc(ctx, buyerID, ids, shipping)
}

func (m *mockOrderRepository) CancelAndRelease(ctx context.Context, orderID uuid.UUID) error {
	m.cancelled = append(m.cancelled, orderID)
	if m.cancelFunc == nil {
		return nil
	}
	return m.cancelFunc(ctx, orderID)
}

func (m *mockOrderRepository) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	return m.markPaidFunc(ctx, orderID)
}

func (m *mockOrderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockOrderRepository) GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderRepository) GetSalesBySellerID(ctx context.Context, sellerID uuid.UUID) ([]order.Sale, error) {
	return nil, nil
}

func (m *mockOrderRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to order.OrderStatus) error {
	return m.updateStatusFunc(ctx, orderID, from, to)
}

func (m *mockOrderRepository) SetPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID string) error {
	if m.setPaymentIntentFunc == nil {
		return nil
	}
	return m.setPaymentIntentFunc(ctx, orderID, intentID)
}

type stubBuyers struct {
	users map[uuid.UUID]*user.User
}

func (s stubBuyers) GetUserByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

type stubPayments struct {
	ref   order.PaymentRef
	err   error
	calls int
}

func (s *stubPayments) CreatePayment(ctx context.Context, o *order.Order) (order.PaymentRef, error) {
	s.calls++
	return s.ref, s.err
}

type recordedEvent struct {
	key       string
	eventType string
	payload   any
}

type recordingPublisher struct {
	events []recordedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, key, eventType string, payload any) error {
	p.events = append(p.events, recordedEvent{key: key, eventType: eventType, payload: payload})
	return nil
}

type memoryIdempotency struct {
	values map[string][]byte
}

func (m *memoryIdempotency) Reserve(ctx context.Context, key string) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = nil
	return true, nil
}

func (m *memoryIdempotency) Load(ctx context.Context, key string) ([]byte, bool, error) {
	v := m.values[key]
	return v, v != nil, nil
}

func (m *memoryIdempotency) Complete(ctx context.Context, key string, value []byte) error {
	m.values[key] = value
	return nil
}

func (m *memoryIdempotency) Release(ctx context.Context, key string) error {
	delete(m.values, key)
	return nil
}

var (
	buyerID  = uuid.Must(uuid.FromString("11111111-1111-1111-1111-111111111111"))
	sellerID = uuid.Must(uuid.FromString("22222222-2222-2222-2222-222222222222"))
	c1       = uuid.Must(uuid.FromString("aaaaaaaa-0000-0000-0000-000000000001"))
	c2       = uuid.Must(uuid.FromString("aaaaaaaa-0000-0000-0000-000000000002"))
)

func testBuyer() *user.User {
	return &user.User{
		ID:        buyerID,
		Username:  "buyer",
		FirstName: "Mia",
		LastName:  "Lane",
		Address:   user.Address{Line1: "1 Stage Rd", City: "Austin", PostalCode: "73301", Country: "US"},
	}
}

func placedOrder(ids []uuid.UUID, prices ...string) *order.Order {
	o := &order.Order{ID: uuid.Must(uuid.NewV4()), BuyerID: buyerID, Status: order.StatusProcessing}
	for i, id := range ids {
		o.Items = append(o.Items, order.OrderItem{
			CostumeID:       id,
			SellerID:        sellerID,
			PriceAtPurchase: decimal.RequireFromString(prices[i]),
			Quantity:        1,
		})
	}
	o.TotalPrice = order.TotalOf(o.Items)
	return o
}

func lines(ids ...uuid.UUID) []order.CheckoutLine {
	out := make([]order.CheckoutLine, 0, len(ids))
	for _, id := range ids {
		out = append(out, order.CheckoutLine{CostumeID: id, Price: decimal.NewFromInt(1), Quantity: 1})
	}
	return out
}

func TestOrderService_Checkout(t *testing.T) {
	buyers := stubBuyers{users: map[uuid.UUID]*user.User{buyerID: testBuyer()}}

	tests := []struct {
		name          string
		req           order.CheckoutRequest
		placeFunc     func(ctx context.Context, buyerID uuid.UUID, ids []uuid.UUID, shipping order.ShippingAddress) (*order.Order, error)
		paymentErr    error
		wantErrIs     error
		wantTotal     string
		wantCancelled bool
		wantPayments  int
	}{
		{
			name: "success_total_from_db_prices",
			req:  order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1, c2)},
			placeFunc: func(ctx context.Context, _ uuid.UUID, ids []uuid.UUID, shipping order.ShippingAddress) (*order.Order, error) {
				if shipping.Name != "Mia Lane" || shipping.City != "Austin" {
					return nil, errors.New("profile address was not used")
				}
				return placedOrder(ids, "150.00", "75.00"), nil
			},
			wantTotal:    "225.00",
			wantPayments: 1,
		},
		{
			name:      "empty_order",
			req:       order.CheckoutRequest{BuyerID: buyerID},
			wantErrIs: order.ErrEmptyOrder,
		},
		{
			name:      "duplicate_costume",
			req:       order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1, c1)},
			wantErrIs: order.ErrDuplicateItem,
		},
		{
			name: "quantity_above_one",
			req: order.CheckoutRequest{BuyerID: buyerID, Items: []order.CheckoutLine{
				{CostumeID: c1, Quantity: 2},
			}},
			wantErrIs: order.ErrInvalidQuantity,
		},
		{
			name:      "unknown_buyer",
			req:       order.CheckoutRequest{BuyerID: uuid.Must(uuid.NewV4()), Items: lines(c1)},
			wantErrIs: user.ErrNotFound,
		},
		{
			name: "items_unavailable",
			req:  order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1, c2)},
			placeFunc: func(ctx context.Context, _ uuid.UUID, _ []uuid.UUID, _ order.ShippingAddress) (*order.Order, error) {
				return nil, order.ErrItemsUnavailable
			},
			wantErrIs: order.ErrItemsUnavailable,
		},
		{
			name: "own_listing",
			req:  order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1)},
			placeFunc: func(ctx context.Context, _ uuid.UUID, _ []uuid.UUID, _ order.ShippingAddress) (*order.Order, error) {
				return nil, order.ErrOwnListing
			},
			wantErrIs: order.ErrOwnListing,
		},
		{
			name: "payment_failure_releases_costumes",
			req:  order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1)},
			placeFunc: func(ctx context.Context, _ uuid.UUID, ids []uuid.UUID, _ order.ShippingAddress) (*order.Order, error) {
				return placedOrder(ids, "150.00"), nil
			},
			paymentErr:    errors.New("stripe down"),
			wantErrIs:     order.ErrPaymentFailed,
			wantCancelled: true,
			wantPayments:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockOrderRepository{placeFunc: tt.placeFunc}
			payments := &stubPayments{ref: order.PaymentRef{IntentID: "pi_1", ClientSecret: "pi_1_secret"}, err: tt.paymentErr}
			events := &recordingPublisher{}
			svc := order.NewService(repo, buyers, payments, events, nil)

			result, err := svc.Checkout(context.Background(), tt.req)

			assert.Equal(t, tt.wantPayments, payments.calls)
			assert.Equal(t, tt.wantCancelled, len(repo.cancelled) == 1)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
				assert.Nil(t, result)
				assert.Empty(t, events.events)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, result.TotalPrice.StringFixed(2))
			assert.Equal(t, "pi_1", result.PaymentIntentID)
			assert.Equal(t, "pi_1_secret", result.ClientSecret)
			require.Len(t, events.events, 1)
			assert.Equal(t, order.EventOrderPlaced, events.events[0].eventType)
			assert.Equal(t, result.OrderID.String(), events.events[0].key)
		})
	}
}

func TestOrderService_Checkout_RequiresShippingAddress(t *testing.T) {
	buyer := testBuyer()
	buyer.Address = user.Address{}
	svc := order.NewService(&mockOrderRepository{}, stubBuyers{users: map[uuid.UUID]*user.User{buyerID: buyer}}, &stubPayments{}, nil, nil)

	_, err := svc.Checkout(context.Background(), order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1)})
	assert.ErrorIs(t, err, order.ErrShippingRequired)
}

func TestOrderService_Checkout_Idempotent(t *testing.T) {
	placed := 0
	repo := &mockOrderRepository{
		placeFunc: func(ctx context.Context, _ uuid.UUID, ids []uuid.UUID, _ order.ShippingAddress) (*order.Order, error) {
			placed++
			return placedOrder(ids, "150.00"), nil
		},
	}
	idem := &memoryIdempotency{values: map[string][]byte{}}
	payments := &stubPayments{ref: order.PaymentRef{IntentID: "pi_1", ClientSecret: "secret"}}
	svc := order.NewService(repo, stubBuyers{users: map[uuid.UUID]*user.User{buyerID: testBuyer()}}, payments, nil, idem)

	req := order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1), IdempotencyKey: "key-1"}
	first, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	second, err := svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, placed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, first.TotalPrice.Equal(second.TotalPrice))

	t.Run("in progress key is rejected", func(t *testing.T) {
		idem.values[buyerID.String()+":key-2"] = nil
		_, err := svc.Checkout(context.Background(), order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1), IdempotencyKey: "key-2"})
		assert.ErrorIs(t, err, order.ErrCheckoutInProgress)
	})

	t.Run("failed checkout releases key", func(t *testing.T) {
		repo.placeFunc = func(ctx context.Context, _ uuid.UUID, _ []uuid.UUID, _ order.ShippingAddress) (*order.Order, error) {
			return nil, order.ErrItemsUnavailable
		}
		_, err := svc.Checkout(context.Background(), order.CheckoutRequest{BuyerID: buyerID, Items: lines(c2), IdempotencyKey: "key-3"})
		require.ErrorIs(t, err, order.ErrItemsUnavailable)
		_, stored := idem.values[buyerID.String()+":key-3"]
		assert.False(t, stored)
	})

	t.Run("stored value decodes", func(t *testing.T) {
		var stored struct {
			RequestDigest string               `json:"request_digest"`
			Result        order.CheckoutResult `json:"result"`
		}
		require.NoError(t, json.Unmarshal(idem.values[buyerID.String()+":key-1"], &stored))
		assert.Equal(t, first.OrderID, stored.Result.OrderID)
		assert.Len(t, stored.RequestDigest, 64)
	})

	t.Run("same key with different items is rejected", func(t *testing.T) {
		placedBefore := placed
		_, err := svc.Checkout(context.Background(), order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1, c2), IdempotencyKey: "key-1"})
		require.ErrorIs(t, err, order.ErrIdempotencyKeyReused)
		assert.Equal(t, placedBefore, placed)
	})
}

func TestOrderService_Checkout_IdempotencyIgnoresItemOrder(t *testing.T) {
	placed := 0
	repo := &mockOrderRepository{
		placeFunc: func(ctx context.Context, _ uuid.UUID, ids []uuid.UUID, _ order.ShippingAddress) (*order.Order, error) {
			placed++
			return placedOrder(ids, "40.00", "40.00"), nil
		},
	}
	idem := &memoryIdempotency{values: map[string][]byte{}}
	svc := order.NewService(repo, stubBuyers{users: map[uuid.UUID]*user.User{buyerID: testBuyer()}}, &stubPayments{ref: order.PaymentRef{IntentID: "pi_1"}}, nil, idem)

	first, err := svc.Checkout(context.Background(), order.CheckoutRequest{BuyerID: buyerID, Items: lines(c1, c2), IdempotencyKey: "k"})
	require.NoError(t, err)
	second, err := svc.Checkout(context.Background(), order.CheckoutRequest{BuyerID: buyerID, Items: lines(c2, c1), IdempotencyKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, placed)
}

func TestOrderService_UpdateOrderStatus(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	stranger := uuid.Must(uuid.NewV4())

	tests := []struct {
		name       string
		current    order.OrderStatus
		actor      uuid.UUID
		newStatus  order.OrderStatus
		paid       bool
		wantErrIs  error
		wantUpdate bool
		wantCancel bool
	}{
		{name: "seller_ships", current: order.StatusProcessing, actor: sellerID, newStatus: order.StatusShipped, wantUpdate: true},
		{name: "seller_delivers", current: order.StatusShipped, actor: sellerID, newStatus: order.StatusDelivered, wantUpdate: true},
		{name: "buyer_cancels", current: order.StatusProcessing, actor: buyerID, newStatus: order.StatusCancelled, wantCancel: true},
		{name: "buyer_cannot_ship", current: order.StatusProcessing, actor: buyerID, newStatus: order.StatusShipped, wantErrIs: order.ErrForbidden},
		{name: "stranger_forbidden", current: order.StatusProcessing, actor: stranger, newStatus: order.StatusCancelled, wantErrIs: order.ErrForbidden},
		{name: "shipped_cannot_cancel", current: order.StatusShipped, actor: sellerID, newStatus: order.StatusCancelled, wantErrIs: order.ErrInvalidStatusTransition},
		{name: "delivered_is_final", current: order.StatusDelivered, actor: sellerID, newStatus: order.StatusShipped, wantErrIs: order.ErrInvalidStatusTransition},
		{name: "same_status_noop", current: order.StatusShipped, actor: sellerID, newStatus: order.StatusShipped},
		{name: "buyer_cannot_cancel_paid", current: order.StatusProcessing, paid: true, actor: buyerID, newStatus: order.StatusCancelled, wantErrIs: order.ErrOrderPaid},
		{name: "seller_cannot_cancel_paid", current: order.StatusProcessing, paid: true, actor: sellerID, newStatus: order.StatusCancelled, wantErrIs: order.ErrOrderPaid},
		{name: "seller_ships_paid", current: order.StatusProcessing, paid: true, actor: sellerID, newStatus: order.StatusShipped, wantUpdate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := placedOrder([]uuid.UUID{c1}, "150.00")
			current.ID = orderID
			current.Status = tt.current
			if tt.paid {
				paidAt := time.Now().UTC()
				current.PaidAt = &paidAt
			}

			updated := false
			repo := &mockOrderRepository{
				getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
					return current, nil
				},
				updateStatusFunc: func(ctx context.Context, id uuid.UUID, from, to order.OrderStatus) error {
					updated = true
					assert.Equal(t, tt.current, from)
					assert.Equal(t, tt.newStatus, to)
					return nil
				},
			}
			events := &recordingPublisher{}
			svc := order.NewService(repo, stubBuyers{}, &stubPayments{}, events, nil)

			_, err := svc.UpdateOrderStatus(context.Background(), tt.actor, orderID, tt.newStatus)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantUpdate, updated)
			assert.Equal(t, tt.wantCancel, len(repo.cancelled) == 1)
			assert.Equal(t, tt.wantUpdate || tt.wantCancel, len(events.events) == 1)
		})
	}
}

func TestOrderService_GetOrderForUser(t *testing.T) {
	current := placedOrder([]uuid.UUID{c1}, "10.00")
	repo := &mockOrderRepository{
		getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			if id != current.ID {
				return nil, order.ErrOrderNotFound
			}
			return current, nil
		},
	}
	svc := order.NewService(repo, stubBuyers{}, &stubPayments{}, nil, nil)
	ctx := context.Background()

	_, err := svc.GetOrderForUser(ctx, buyerID, current.ID)
	assert.NoError(t, err)
	_, err = svc.GetOrderForUser(ctx, sellerID, current.ID)
	assert.NoError(t, err)
	_, err = svc.GetOrderForUser(ctx, uuid.Must(uuid.NewV4()), current.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = svc.GetOrderForUser(ctx, buyerID, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestOrderService_HandlePaymentCanceled(t *testing.T) {
	current := placedOrder([]uuid.UUID{c1}, "10.00")
	repo := &mockOrderRepository{
		getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			return current, nil
		},
	}
	svc := order.NewService(repo, stubBuyers{}, &stubPayments{}, nil, nil)

	require.NoError(t, svc.HandlePaymentCanceled(context.Background(), current.ID))
	assert.Equal(t, []uuid.UUID{current.ID}, repo.cancelled)

	current.Status = order.StatusShipped
	require.NoError(t, svc.HandlePaymentCanceled(context.Background(), current.ID))
	assert.Len(t, repo.cancelled, 1)

	current.Status = order.StatusProcessing
	paidAt := time.Now().UTC()
	current.PaidAt = &paidAt
	require.NoError(t, svc.HandlePaymentCanceled(context.Background(), current.ID))
	assert.Len(t, repo.cancelled, 1, "paid order must keep its costumes")
}

func TestOrderService_HandlePaymentSucceeded(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name      string
		repoErr   error
		wantErrIs error
	}{
		{name: "marks paid", repoErr: nil},
		{name: "cancelled order", repoErr: order.ErrOrderCancelled, wantErrIs: order.ErrOrderCancelled},
		{name: "unknown order", repoErr: order.ErrOrderNotFound, wantErrIs: order.ErrOrderNotFound},
		{name: "db failure", repoErr: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var marked []uuid.UUID
			repo := &mockOrderRepository{
				markPaidFunc: func(ctx context.Context, id uuid.UUID) error {
					marked = append(marked, id)
					return tt.repoErr
				},
			}
			svc := order.NewService(repo, stubBuyers{}, &stubPayments{}, nil, nil)

			err := svc.HandlePaymentSucceeded(context.Background(), orderID)
			switch {
			case tt.wantErrIs != nil:
				require.ErrorIs(t, err, tt.wantErrIs)
			case tt.repoErr != nil:
				require.ErrorIs(t, err, tt.repoErr)
			default:
				require.NoError(t, err)
			}
			assert.Equal(t, []uuid.UUID{orderID}, marked)
			assert.Empty(t, repo.cancelled)
		})
	}
}
