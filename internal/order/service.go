package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

type OrderPlacedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	BuyerID    uuid.UUID       `json:"buyer_id"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CostumeIDs []uuid.UUID     `json:"costume_ids"`
}

type StatusChangedEvent struct {
	OrderID uuid.UUID   `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

type BuyerLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Payments создаёт платёж для уже сохранённого заказа.
type Payments interface {
	CreatePayment(ctx context.Context, order *Order) (PaymentRef, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
}

// IdempotencyStore хранит результат оформления по ключу клиента.
// Load возвращает done=false, пока первый запрос с этим ключом не завершился.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Load(ctx context.Context, key string) (value []byte, done bool, err error)
	Complete(ctx context.Context, key string, value []byte) error
	Release(ctx context.Context, key string) error
}

type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderForUser(ctx context.Context, userID, orderID uuid.UUID) (*Order, error)
	GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID) ([]Order, error)
	GetSalesBySellerID(ctx context.Context, sellerID uuid.UUID) ([]Sale, error)
	UpdateOrderStatus(ctx context.Context, actorID, orderID uuid.UUID, newStatus OrderStatus) (*Order, error)
	HandlePaymentSucceeded(ctx context.Context, orderID uuid.UUID) error
	HandlePaymentCanceled(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	orderRepo Repository
	buyers    BuyerLookup
	payments  Payments
	events    EventPublisher
	idem      IdempotencyStore
}

// NewService собирает сервис заказов. events и idem могут быть nil.
func NewService(orderRepo Repository, buyers BuyerLookup, payments Payments, events EventPublisher, idem IdempotencyStore) Service {
	return &service{
		orderRepo: orderRepo,
		buyers:    buyers,
		payments:  payments,
		events:    events,
		idem:      idem,
	}
}

func validateLines(lines []CheckoutLine) ([]uuid.UUID, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}

	ids := make([]uuid.UUID, 0, len(lines))
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for _, line := range lines {
		if line.CostumeID == uuid.Nil {
			return nil, fmt.Errorf("%w: costume id cannot be empty", ErrEmptyOrder)
		}
		if line.Quantity != 1 {
			return nil, ErrInvalidQuantity
		}
		if _, ok := seen[line.CostumeID]; ok {
			return nil, ErrDuplicateItem
		}
		seen[line.CostumeID] = struct{}{}
		ids = append(ids, line.CostumeID)
	}
	return ids, nil
}

func shippingFor(buyer *user.User, requested ShippingAddress) (ShippingAddress, error) {
	addr := requested
	if addr.IsZero() {
		addr = ShippingAddress{
			Line1:      buyer.Address.Line1,
			Line2:      buyer.Address.Line2,
			City:       buyer.Address.City,
			State:      buyer.Address.State,
			PostalCode: buyer.Address.PostalCode,
			Country:    buyer.Address.Country,
		}
	}
	if addr.Name == "" {
		addr.Name = buyer.FullName()
		if addr.Name == "" {
			addr.Name = buyer.Username
		}
	}
	if addr.Line1 == "" || addr.City == "" || addr.PostalCode == "" || addr.Country == "" {
		return ShippingAddress{}, ErrShippingRequired
	}
	return addr, nil
}

func (s *service) Checkout(ctx context.Context, req CheckoutRequest) (result *CheckoutResult, err error) {
	ids, err := validateLines(req.Items)
	if err != nil {
		return nil, err
	}

	buyer, err := s.buyers.GetUserByID(ctx, req.BuyerID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			log.Warn().Stringer("buyer_id", req.BuyerID).Msg("service: checkout for unknown buyer")
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("service: failed to load buyer: %w", err)
	}

	shipping, err := shippingFor(buyer, req.Shipping)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		key := req.BuyerID.String() + ":" + req.IdempotencyKey
		digest := requestDigest(ids)
		cached, reserved, idemErr := s.reserveCheckout(ctx, key, digest)
		switch {
		case idemErr != nil:
			return nil, idemErr
		case cached != nil:
			return cached, nil
		case reserved:
			defer func() {
				s.finishCheckout(ctx, key, digest, result, err)
			}()
		}
	}

	order, err := s.orderRepo.PlaceOrder(ctx, req.BuyerID, ids, shipping)
	if err != nil {
		if errors.Is(err, ErrItemsUnavailable) || errors.Is(err, ErrOwnListing) {
			log.Info().Err(err).Stringer("buyer_id", req.BuyerID).Msg("service: checkout rejected")
			return nil, err
		}
		log.Error().Err(err).Stringer("buyer_id", req.BuyerID).Msg("service: failed to place order in repository")
		return nil, fmt.Errorf("service: failed to place order: %w", err)
	}
	logPriceMismatch(order, req.Items)

	ref, err := s.payments.CreatePayment(ctx, order)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", order.ID).Msg("service: failed to create payment, cancelling order")
		if relErr := s.orderRepo.CancelAndRelease(ctx, order.ID); relErr != nil {
			log.Error().Err(relErr).Stringer("order_id", order.ID).Msg("service: failed to release costumes after payment failure")
		}
		return nil, fmt.Errorf("service: %w: %w", ErrPaymentFailed, err)
	}

	if err := s.orderRepo.SetPaymentIntent(ctx, order.ID, ref.IntentID); err != nil {
		// Вебхук находит заказ по metadata.order_id, поэтому оформление не прерываем.
		log.Error().Err(err).Stringer("order_id", order.ID).Str("payment_intent_id", ref.IntentID).Msg("service: failed to store payment intent id")
	}

	s.publish(ctx, order.ID, EventOrderPlaced, OrderPlacedEvent{
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		TotalPrice: order.TotalPrice,
		CostumeIDs: ids,
	})

	log.Info().Stringer("order_id", order.ID).Stringer("buyer_id", order.BuyerID).Str("total", order.TotalPrice.StringFixed(2)).Msg("service: order placed")

	return &CheckoutResult{
		OrderID:         order.ID,
		TotalPrice:      order.TotalPrice,
		PaymentIntentID: ref.IntentID,
		ClientSecret:    ref.ClientSecret,
	}, nil
}

// storedCheckout - запись под ключом идемпотентности.
type storedCheckout struct {
	RequestDigest string         `json:"request_digest"`
	Result        CheckoutResult `json:"result"`
}

// requestDigest не зависит от порядка позиций в запросе.
func requestDigest(ids []uuid.UUID) string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// reserveCheckout возвращает сохранённый результат повторного запроса либо резервирует ключ.
// Недоступность хранилища ключей не блокирует оформление.
func (s *service) reserveCheckout(ctx context.Context, key, digest string) (*CheckoutResult, bool, error) {
	reserved, err := s.idem.Reserve(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("service: idempotency store unavailable, continuing without it")
		return nil, false, nil
	}
	if reserved {
		return nil, true, nil
	}

	raw, done, err := s.idem.Load(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("service: failed to load idempotent checkout result")
		return nil, false, ErrCheckoutInProgress
	}
	if !done {
		return nil, false, ErrCheckoutInProgress
	}

	var stored storedCheckout
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("service: failed to decode stored checkout result: %w", err)
	}
	if stored.RequestDigest != digest {
		log.Warn().Stringer("order_id", stored.Result.OrderID).Msg("service: idempotency key reused with different items")
		return nil, false, ErrIdempotencyKeyReused
	}
	log.Info().Stringer("order_id", stored.Result.OrderID).Msg("service: returning stored checkout result")
	return &stored.Result, false, nil
}

func (s *service) finishCheckout(ctx context.Context, key, digest string, result *CheckoutResult, checkoutErr error) {
	if checkoutErr != nil || result == nil {
		if err := s.idem.Release(ctx, key); err != nil {
			log.Warn().Err(err).Msg("service: failed to release idempotency key")
		}
		return
	}
	raw, err := json.Marshal(storedCheckout{RequestDigest: digest, Result: *result})
	if err != nil {
		log.Warn().Err(err).Msg("service: failed to encode checkout result")
		return
	}
	if err := s.idem.Complete(ctx, key, raw); err != nil {
		log.Warn().Err(err).Msg("service: failed to store checkout result")
	}
}

func logPriceMismatch(order *Order, lines []CheckoutLine) {
	requested := make(map[uuid.UUID]decimal.Decimal, len(lines))
	for _, line := range lines {
		requested[line.CostumeID] = line.Price
	}
	for _, item := range order.Items {
		if p, ok := requested[item.CostumeID]; ok && !p.IsZero() && !p.Equal(item.PriceAtPurchase) {
			log.Warn().
				Stringer("order_id", order.ID).
				Stringer("costume_id", item.CostumeID).
				Str("client_price", p.StringFixed(2)).
				Str("db_price", item.PriceAtPurchase.StringFixed(2)).
				Msg("service: client price differs from stored price")
		}
	}
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}

		log.Error().Err(err).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	return order, nil
}

func (s *service) GetOrderForUser(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	order, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != userID && !order.HasSeller(userID) {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *service) GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID) ([]Order, error) {
	orders, err := s.orderRepo.GetOrdersByBuyerID(ctx, buyerID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", buyerID).Msg("service: failed to fetch user orders in repository")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}

	return orders, nil
}

func (s *service) GetSalesBySellerID(ctx context.Context, sellerID uuid.UUID) ([]Sale, error) {
	sales, err := s.orderRepo.GetSalesBySellerID(ctx, sellerID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", sellerID).Msg("service: failed to fetch seller sales in repository")
		return nil, fmt.Errorf("service: failed to fetch seller sales: %w", err)
	}

	return sales, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, actorID, orderID uuid.UUID, newStatus OrderStatus) (*Order, error) {
	currentOrder, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	isBuyer := currentOrder.BuyerID == actorID
	isSeller := currentOrder.HasSeller(actorID)
	if !isBuyer && !isSeller {
		return nil, ErrForbidden
	}

	if currentOrder.Status == newStatus {
		log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return currentOrder, nil
	}

	if !allowedTransitions[currentOrder.Status][newStatus] {
		log.Warn().
			Stringer("order_id", currentOrder.ID).
			Stringer("current_status", currentOrder.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, currentOrder.Status, newStatus)
	}

	// Покупатель может только отменить заказ; отгрузкой управляют продавцы.
	if !isSeller && newStatus != StatusCancelled {
		return nil, ErrForbidden
	}

	if newStatus == StatusCancelled && currentOrder.IsPaid() {
		log.Warn().Stringer("order_id", orderID).Stringer("actor_id", actorID).Msg("service: attempt to cancel paid order")
		return nil, ErrOrderPaid
	}

	if newStatus == StatusCancelled {
		err = s.orderRepo.CancelAndRelease(ctx, orderID)
	} else {
		err = s.orderRepo.UpdateOrderStatus(ctx, orderID, currentOrder.Status, newStatus)
	}
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrOrderPaid) {
			log.Warn().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("service: order changed concurrently, status not updated")
			return nil, err
		}
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("service: failed to update order status in repository")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	s.publish(ctx, orderID, EventOrderStatusChanged, StatusChangedEvent{OrderID: orderID, From: currentOrder.Status, To: newStatus})
	log.Info().Stringer("order_id", orderID).Stringer("old_status", currentOrder.Status).Stringer("new_status", newStatus).Msg("service: order status updated successfully")

	return s.GetOrderByID(ctx, orderID)
}

// HandlePaymentSucceeded отмечает заказ оплаченным. Для отменённого заказа возвращает ErrOrderCancelled:
// объявления уже могли уйти другому покупателю, и платёж нужно вернуть.
func (s *service) HandlePaymentSucceeded(ctx context.Context, orderID uuid.UUID) error {
	if err := s.orderRepo.MarkPaid(ctx, orderID); err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderCancelled) {
			return err
		}
		return fmt.Errorf("service: failed to mark order paid: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Msg("service: order paid")
	return nil
}

// HandlePaymentCanceled отменяет заказ, платёж по которому больше не может пройти.
func (s *service) HandlePaymentCanceled(ctx context.Context, orderID uuid.UUID) error {
	currentOrder, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if currentOrder.Status != StatusProcessing || currentOrder.IsPaid() {
		log.Info().Stringer("order_id", orderID).Stringer("status", currentOrder.Status).Msg("service: payment cancellation for settled order ignored")
		return nil
	}

	if err := s.orderRepo.CancelAndRelease(ctx, orderID); err != nil {
		if errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrOrderPaid) {
			return nil
		}
		return fmt.Errorf("service: failed to cancel unpaid order: %w", err)
	}

	s.publish(ctx, orderID, EventOrderStatusChanged, StatusChangedEvent{OrderID: orderID, From: StatusProcessing, To: StatusCancelled})
	log.Info().Stringer("order_id", orderID).Msg("service: unpaid order cancelled, costumes released")
	return nil
}

func (s *service) publish(ctx context.Context, orderID uuid.UUID, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, orderID.String(), eventType, payload); err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Str("event_type", eventType).Msg("service: failed to publish event")
	}
}
