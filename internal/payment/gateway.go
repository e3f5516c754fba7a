package payment

import (
	"context"
	"errors"

	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

var (
	// ErrRejected - провайдер ответил 4xx: запрос некорректен или карта отклонена.
	ErrRejected         = errors.New("payment provider rejected the request")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

const (
	SplitDestination   = "destination"
	SplitTransferGroup = "transfer_group"
)

type PaymentIntentParams struct {
	OrderID             string
	BuyerID             string
	AmountCents         int64
	Currency            string
	DestinationAccount  string
	ApplicationFeeCents int64
	TransferGroup       string
	Split               string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

type TransferParams struct {
	AmountCents       int64
	Currency          string
	Destination       string
	TransferGroup     string
	SourceTransaction string
	IdempotencyKey    string
}

// RefundParams - полный возврат платежа. ReverseTransfer забирает долю продавца
// и комиссию платформы у destination charge.
type RefundParams struct {
	PaymentIntentID string
	OrderID         string
	ReverseTransfer bool
	IdempotencyKey  string
}

type Account struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Status сворачивает флаги Stripe в статус, который хранится у пользователя.
func (a Account) Status() user.StripeAccountStatus {
	if a.ChargesEnabled && a.PayoutsEnabled {
		return user.StripeAccountActive
	}
	return user.StripeAccountPending
}

type Money struct {
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
}

type Balance struct {
	Available []Money `json:"available"`
	Pending   []Money `json:"pending"`
}

type PaymentIntentEvent struct {
	ID             string
	OrderID        string
	Split          string
	LatestChargeID string
}

// Event - проверенное событие вебхука с уже разобранным объектом.
type Event struct {
	ID            string
	Type          string
	Account       *Account
	PaymentIntent *PaymentIntentEvent
}

// Gateway - всё, что сервис использует у платёжного провайдера.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error)
	CreateTransfer(ctx context.Context, p TransferParams) (string, error)
	CreateRefund(ctx context.Context, p RefundParams) (string, error)
	CreateExpressAccount(ctx context.Context, email, userID string) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	GetBalance(ctx context.Context, accountID string) (*Balance, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
