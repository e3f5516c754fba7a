package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type stripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway работает через переданный клиент; backends == nil означает боевой API.
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends) Gateway {
	return &stripeGateway{
		api:           client.New(secretKey, backends),
		webhookSecret: webhookSecret,
	}
}

func (g *stripeGateway) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.AmountCents),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String("order-" + p.OrderID)
	params.AddMetadata("order_id", p.OrderID)
	params.AddMetadata("buyer_id", p.BuyerID)
	params.AddMetadata("split", p.Split)

	switch p.Split {
	case SplitDestination:
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(p.DestinationAccount),
		}
		params.ApplicationFeeAmount = stripe.Int64(p.ApplicationFeeCents)
	case SplitTransferGroup:
		params.TransferGroup = stripe.String(p.TransferGroup)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapStripeError("create payment intent", err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *stripeGateway) CreateTransfer(ctx context.Context, p TransferParams) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(p.AmountCents),
		Currency:    stripe.String(p.Currency),
		Destination: stripe.String(p.Destination),
	}
	if p.TransferGroup != "" {
		params.TransferGroup = stripe.String(p.TransferGroup)
	}
	if p.SourceTransaction != "" {
		params.SourceTransaction = stripe.String(p.SourceTransaction)
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return "", wrapStripeError("create transfer", err)
	}
	return tr.ID, nil
}

func (g *stripeGateway) CreateRefund(ctx context.Context, p RefundParams) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(p.PaymentIntentID),
	}
	if p.ReverseTransfer {
		params.ReverseTransfer = stripe.Bool(true)
		params.RefundApplicationFee = stripe.Bool(true)
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	if p.OrderID != "" {
		params.AddMetadata("order_id", p.OrderID)
	}

	ref, err := g.api.Refunds.New(params)
	if err != nil {
		return "", wrapStripeError("create refund", err)
	}
	return ref.ID, nil
}

func (g *stripeGateway) CreateExpressAccount(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)

	acct, err := g.api.Accounts.New(params)
	if err != nil {
		return "", wrapStripeError("create account", err)
	}
	return acct.ID, nil
}

func (g *stripeGateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", wrapStripeError("create account link", err)
	}
	return link.URL, nil
}

func (g *stripeGateway) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, wrapStripeError("get account", err)
	}
	return toAccount(acct), nil
}

func (g *stripeGateway) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	bal, err := g.api.Balance.Get(params)
	if err != nil {
		return nil, wrapStripeError("get balance", err)
	}
	return &Balance{Available: toMoney(bal.Available), Pending: toMoney(bal.Pending)}, nil
}

func (g *stripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Type {
	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(ev.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("failed to decode account from event %s: %w", ev.ID, err)
		}
		out.Account = toAccount(&acct)
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent from event %s: %w", ev.ID, err)
		}
		out.PaymentIntent = &PaymentIntentEvent{
			ID:      pi.ID,
			OrderID: pi.Metadata["order_id"],
			Split:   pi.Metadata["split"],
		}
		if pi.LatestCharge != nil {
			out.PaymentIntent.LatestChargeID = pi.LatestCharge.ID
		}
	}
	return out, nil
}

func toAccount(acct *stripe.Account) *Account {
	return &Account{
		ID:               acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
}

func toMoney(amounts []*stripe.Amount) []Money {
	out := make([]Money, 0, len(amounts))
	for _, a := range amounts {
		out = append(out, Money{AmountCents: a.Amount, Currency: string(a.Currency)})
	}
	return out
}

// wrapStripeError помечает отказы 4xx как ErrRejected; остальное считается сбоем провайдера.
func wrapStripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("stripe: %s: %w: %s", op, ErrRejected, se.Msg)
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}
