package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/costume-exchange/internal/order"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

// AccountStore - часть репозитория пользователей, нужная для Connect.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByStripeAccountID(ctx context.Context, accountID string) (*user.User, error)
	SetStripeAccount(ctx context.Context, id uuid.UUID, accountID string, status user.StripeAccountStatus) error
}

type OrderReader interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

// Service создаёт платежи за заказы и распределяет деньги продавцам.
type Service struct {
	gw       Gateway
	accounts AccountStore
	orders   OrderReader
	rate     decimal.Decimal
	currency string
}

func NewService(gw Gateway, accounts AccountStore, rate decimal.Decimal, currency string) *Service {
	return &Service{
		gw:       gw,
		accounts: accounts,
		rate:     rate,
		currency: strings.ToLower(currency),
	}
}

// SetOrderReader разрывает циклическую зависимость при сборке: сервис заказов сам зависит от платежей.
func (s *Service) SetOrderReader(orders OrderReader) {
	s.orders = orders
}

func transferGroup(orderID uuid.UUID) string {
	return "order_" + orderID.String()
}

// CreatePayment выбирает схему: destination charge с комиссией, если продавец один и подключён,
// иначе полный платёж на платформу с transfer_group и последующими переводами.
func (s *Service) CreatePayment(ctx context.Context, o *order.Order) (order.PaymentRef, error) {
	amount := ToCents(o.TotalPrice)
	params := PaymentIntentParams{
		OrderID:     o.ID.String(),
		BuyerID:     o.BuyerID.String(),
		AmountCents: amount,
		Currency:    s.currency,
		Split:       SplitTransferGroup,
	}

	sellers := o.SellerIDs()
	if len(sellers) == 1 {
		seller, err := s.accounts.GetByID(ctx, sellers[0])
		if err != nil {
			return order.PaymentRef{}, fmt.Errorf("payment: failed to load seller %s: %w", sellers[0], err)
		}
		if seller.StripeAccountStatus == user.StripeAccountActive && seller.StripeAccountID != "" {
			params.Split = SplitDestination
			params.DestinationAccount = seller.StripeAccountID
			params.ApplicationFeeCents = PlatformFee(amount, s.rate)
		}
	}
	if params.Split == SplitTransferGroup {
		params.TransferGroup = transferGroup(o.ID)
	}

	pi, err := s.gw.CreatePaymentIntent(ctx, params)
	if err != nil {
		return order.PaymentRef{}, err
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("payment_intent_id", pi.ID).
		Str("split", params.Split).
		Int64("amount", amount).
		Int64("application_fee", params.ApplicationFeeCents).
		Msg("payment: payment intent created")

	return order.PaymentRef{IntentID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// SettleTransfers переводит продавцам их долю после успешной оплаты заказа с transfer_group.
// Продавцы без активного аккаунта пропускаются: их доля остаётся на балансе платформы.
func (s *Service) SettleTransfers(ctx context.Context, orderID uuid.UUID, chargeID string) error {
	if s.orders == nil {
		return errors.New("payment: order reader is not configured")
	}
	o, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("payment: failed to load order for settlement: %w", err)
	}
	if o.Status == order.StatusCancelled || !o.IsPaid() {
		log.Warn().Stringer("order_id", orderID).Stringer("status", o.Status).Bool("paid", o.IsPaid()).Msg("payment: order is not settleable, transfers skipped")
		return nil
	}

	var errs []error
	for _, sellerID := range o.SellerIDs() {
		seller, err := s.accounts.GetByID(ctx, sellerID)
		if err != nil {
			errs = append(errs, fmt.Errorf("payment: failed to load seller %s: %w", sellerID, err))
			continue
		}
		if seller.StripeAccountStatus != user.StripeAccountActive || seller.StripeAccountID == "" {
			log.Warn().Stringer("order_id", orderID).Stringer("seller_id", sellerID).Msg("payment: seller not onboarded, funds held on platform")
			continue
		}

		amount := SellerAmount(ToCents(o.SellerSubtotal(sellerID)), s.rate)
		if amount <= 0 {
			continue
		}
		transferID, err := s.gw.CreateTransfer(ctx, TransferParams{
			AmountCents:       amount,
			Currency:          s.currency,
			Destination:       seller.StripeAccountID,
			TransferGroup:     transferGroup(orderID),
			SourceTransaction: chargeID,
			IdempotencyKey:    "transfer-" + orderID.String() + "-" + sellerID.String(),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info().Stringer("order_id", orderID).Stringer("seller_id", sellerID).Str("transfer_id", transferID).Int64("amount", amount).Msg("payment: seller transfer created")
	}
	return errors.Join(errs...)
}

// Refund возвращает покупателю платёж, пришедший за уже отменённый заказ.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID, pi PaymentIntentEvent) error {
	refundID, err := s.gw.CreateRefund(ctx, RefundParams{
		PaymentIntentID: pi.ID,
		OrderID:         orderID.String(),
		ReverseTransfer: pi.Split == SplitDestination,
		IdempotencyKey:  "refund-" + pi.ID,
	})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Str("payment_intent_id", pi.ID).Msg("payment: failed to refund payment")
		return err
	}
	log.Info().Stringer("order_id", orderID).Str("payment_intent_id", pi.ID).Str("refund_id", refundID).Msg("payment: payment refunded")
	return nil
}
