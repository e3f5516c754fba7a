package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/costume-exchange/internal/order"
)

// OrderPayments - реакция заказов на итог платежа.
type OrderPayments interface {
	HandlePaymentSucceeded(ctx context.Context, orderID uuid.UUID) error
	HandlePaymentCanceled(ctx context.Context, orderID uuid.UUID) error
}

// WebhookProcessor проверяет подпись события и направляет его нужному сервису.
type WebhookProcessor struct {
	gw       Gateway
	connect  *ConnectService
	payments *Service
	orders   OrderPayments
}

func NewWebhookProcessor(gw Gateway, connect *ConnectService, payments *Service, orders OrderPayments) *WebhookProcessor {
	return &WebhookProcessor{gw: gw, connect: connect, payments: payments, orders: orders}
}

func (p *WebhookProcessor) Handle(ctx context.Context, payload []byte, signature string) error {
	ev, err := p.gw.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	logger := log.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	switch ev.Type {
	case "account.updated":
		if ev.Account == nil {
			return nil
		}
		return p.connect.HandleAccountUpdated(ctx, *ev.Account)

	case "payment_intent.succeeded":
		pi := ev.PaymentIntent
		if pi == nil {
			return nil
		}
		orderID, err := uuid.FromString(pi.OrderID)
		if err != nil {
			logger.Warn().Str("order_id", pi.OrderID).Msg("payment: payment intent without valid order id")
			return nil
		}

		err = p.orders.HandlePaymentSucceeded(ctx, orderID)
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			logger.Warn().Stringer("order_id", orderID).Msg("payment: payment succeeded for unknown order")
			return nil
		case errors.Is(err, order.ErrOrderCancelled):
			logger.Warn().Stringer("order_id", orderID).Msg("payment: payment succeeded for cancelled order, refunding")
			return p.payments.Refund(ctx, orderID, *pi)
		case err != nil:
			return fmt.Errorf("payment: failed to mark order %s paid: %w", orderID, err)
		}

		if pi.Split != SplitTransferGroup {
			logger.Info().Stringer("order_id", orderID).Msg("payment: payment succeeded, nothing to settle")
			return nil
		}
		return p.payments.SettleTransfers(ctx, orderID, pi.LatestChargeID)

	case "payment_intent.payment_failed":
		// Попытка не окончательная: покупатель может повторить оплату тем же client secret.
		if pi := ev.PaymentIntent; pi != nil {
			logger.Info().Str("order_id", pi.OrderID).Str("payment_intent_id", pi.ID).Msg("payment: payment attempt failed, order kept for retry")
		}
		return nil

	case "payment_intent.canceled":
		pi := ev.PaymentIntent
		if pi == nil {
			return nil
		}
		orderID, err := uuid.FromString(pi.OrderID)
		if err != nil {
			logger.Warn().Str("order_id", pi.OrderID).Msg("payment: payment intent without valid order id")
			return nil
		}
		if err := p.orders.HandlePaymentCanceled(ctx, orderID); err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				logger.Warn().Stringer("order_id", orderID).Msg("payment: payment cancellation for unknown order")
				return nil
			}
			return fmt.Errorf("payment: failed to cancel order %s: %w", orderID, err)
		}
		return nil

	default:
		logger.Debug().Msg("payment: webhook event ignored")
		return nil
	}
}
