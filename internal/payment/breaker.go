package payment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{Name: "stripe", FailureThreshold: 5, OpenTimeout: 30 * time.Second}
}

type breakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[any]
}

// WithCircuitBreaker размыкает цепь после серии сбоев провайдера.
// Отказы 4xx (ErrRejected) сбоем не считаются.
func WithCircuitBreaker(next Gateway, s BreakerSettings) Gateway {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("payment: circuit breaker state changed")
		},
	})
	return &breakerGateway{next: next, cb: cb}
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (b *breakerGateway) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	return execute(b.cb, func() (*PaymentIntent, error) { return b.next.CreatePaymentIntent(ctx, p) })
}

func (b *breakerGateway) CreateTransfer(ctx context.Context, p TransferParams) (string, error) {
	return execute(b.cb, func() (string, error) { return b.next.CreateTransfer(ctx, p) })
}

func (b *breakerGateway) CreateRefund(ctx context.Context, p RefundParams) (string, error) {
	return execute(b.cb, func() (string, error) { return b.next.CreateRefund(ctx, p) })
}

func (b *breakerGateway) CreateExpressAccount(ctx context.Context, email, userID string) (string, error) {
	return execute(b.cb, func() (string, error) { return b.next.CreateExpressAccount(ctx, email, userID) })
}

func (b *breakerGateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	return execute(b.cb, func() (string, error) {
		return b.next.CreateOnboardingLink(ctx, accountID, refreshURL, returnURL)
	})
}

func (b *breakerGateway) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	return execute(b.cb, func() (*Account, error) { return b.next.GetAccount(ctx, accountID) })
}

func (b *breakerGateway) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	return execute(b.cb, func() (*Balance, error) { return b.next.GetBalance(ctx, accountID) })
}

// ParseWebhook не ходит в сеть, поэтому идёт мимо breaker.
func (b *breakerGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	return b.next.ParseWebhook(payload, signature)
}
