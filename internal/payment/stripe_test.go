package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/vasiliy-maslov/costume-exchange/internal/payment"
)

const testWebhookSecret = "whsec_test"

func newTestStripeGateway(t *testing.T, handler http.HandlerFunc) payment.Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return payment.NewStripeGateway("sk_test_123", testWebhookSecret, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
}

func TestStripeGateway_CreatePaymentIntent(t *testing.T) {
	var form url.Values
	var idempotencyKey string
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		idempotencyKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","client_secret":"pi_123_secret_abc"}`))
	})

	pi, err := gw.CreatePaymentIntent(context.Background(), payment.PaymentIntentParams{
		OrderID:             "ord-1",
		BuyerID:             "buyer-1",
		AmountCents:         22500,
		Currency:            "usd",
		Split:               payment.SplitDestination,
		DestinationAccount:  "acct_seller",
		ApplicationFeeCents: 2700,
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", pi.ID)
	assert.Equal(t, "pi_123_secret_abc", pi.ClientSecret)

	assert.Equal(t, "22500", form.Get("amount"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "2700", form.Get("application_fee_amount"))
	assert.Equal(t, "acct_seller", form.Get("transfer_data[destination]"))
	assert.Equal(t, "ord-1", form.Get("metadata[order_id]"))
	assert.Equal(t, "destination", form.Get("metadata[split]"))
	assert.Empty(t, form.Get("transfer_group"))
	assert.Equal(t, "order-ord-1", idempotencyKey)
}

func TestStripeGateway_TransferGroupIntent(t *testing.T) {
	var form url.Values
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		_, _ = w.Write([]byte(`{"id":"pi_456","object":"payment_intent","client_secret":"s"}`))
	})

	_, err := gw.CreatePaymentIntent(context.Background(), payment.PaymentIntentParams{
		OrderID:       "ord-2",
		AmountCents:   100,
		Currency:      "usd",
		Split:         payment.SplitTransferGroup,
		TransferGroup: "order_ord-2",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_ord-2", form.Get("transfer_group"))
	assert.Empty(t, form.Get("application_fee_amount"))
	assert.Empty(t, form.Get("transfer_data[destination]"))
}

func TestStripeGateway_CreateRefund(t *testing.T) {
	var form url.Values
	var idempotencyKey string
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		idempotencyKey = r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{"id":"re_1","object":"refund","status":"succeeded"}`))
	})

	id, err := gw.CreateRefund(context.Background(), payment.RefundParams{
		PaymentIntentID: "pi_1",
		OrderID:         "ord-1",
		ReverseTransfer: true,
		IdempotencyKey:  "refund-pi_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", id)
	assert.Equal(t, "pi_1", form.Get("payment_intent"))
	assert.Equal(t, "true", form.Get("reverse_transfer"))
	assert.Equal(t, "true", form.Get("refund_application_fee"))
	assert.Equal(t, "ord-1", form.Get("metadata[order_id]"))
	assert.Equal(t, "refund-pi_1", idempotencyKey)
}

func TestStripeGateway_RejectionIsMarked(t *testing.T) {
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	})

	_, err := gw.CreatePaymentIntent(context.Background(), payment.PaymentIntentParams{OrderID: "o", AmountCents: 100, Currency: "usd"})
	require.ErrorIs(t, err, payment.ErrRejected)
	assert.Contains(t, err.Error(), "Your card was declined.")
}

func TestStripeGateway_ServerErrorIsNotRejection(t *testing.T) {
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	})

	_, err := gw.GetAccount(context.Background(), "acct_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, payment.ErrRejected)
}

func TestStripeGateway_GetAccountAndBalance(t *testing.T) {
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts/acct_1":
			_, _ = w.Write([]byte(`{"id":"acct_1","object":"account","charges_enabled":true,"payouts_enabled":true,"details_submitted":true}`))
		case "/v1/balance":
			assert.Equal(t, "acct_1", r.Header.Get("Stripe-Account"))
			_, _ = w.Write([]byte(`{"object":"balance","available":[{"amount":8800,"currency":"usd"}],"pending":[{"amount":1200,"currency":"usd"}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	acct, err := gw.GetAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.True(t, acct.ChargesEnabled)
	assert.Equal(t, "active", acct.Status().String())

	bal, err := gw.GetBalance(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, []payment.Money{{AmountCents: 8800, Currency: "usd"}}, bal.Available)
	assert.Equal(t, []payment.Money{{AmountCents: 1200, Currency: "usd"}}, bal.Pending)
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	gw := payment.NewStripeGateway("sk_test_123", testWebhookSecret, nil)

	body, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "payment_intent.succeeded",
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":            "pi_1",
				"object":        "payment_intent",
				"metadata":      map[string]string{"order_id": "ord-1", "split": "transfer_group"},
				"latest_charge": "ch_1",
			},
		},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	ev, err := gw.ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "payment_intent.succeeded", ev.Type)
	require.NotNil(t, ev.PaymentIntent)
	assert.Equal(t, "ord-1", ev.PaymentIntent.OrderID)
	assert.Equal(t, payment.SplitTransferGroup, ev.PaymentIntent.Split)
	assert.Equal(t, "ch_1", ev.PaymentIntent.LatestChargeID)

	_, err = gw.ParseWebhook(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
}
