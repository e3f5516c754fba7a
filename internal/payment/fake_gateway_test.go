package payment_test

import (
	"context"
	"sync"

	"github.com/vasiliy-maslov/costume-exchange/internal/payment"
)

type fakeGateway struct {
	mu sync.Mutex

	intents   []payment.PaymentIntentParams
	transfers []payment.TransferParams
	refunds   []payment.RefundParams
	accounts  map[string]*payment.Account
	balances  map[string]*payment.Balance
	event     *payment.Event

	intentErr     error
	accountErr    error
	getAccountHit int
	gate          chan struct{}
	entered       chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accounts: map[string]*payment.Account{},
		balances: map[string]*payment.Balance{},
	}
}

func (f *fakeGateway) CreatePaymentIntent(ctx context.Context, p payment.PaymentIntentParams) (*payment.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	f.intents = append(f.intents, p)
	return &payment.PaymentIntent{ID: "pi_" + p.OrderID, ClientSecret: "secret_" + p.OrderID}, nil
}

func (f *fakeGateway) CreateTransfer(ctx context.Context, p payment.TransferParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, p)
	return "tr_" + p.Destination, nil
}

func (f *fakeGateway) CreateRefund(ctx context.Context, p payment.RefundParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, p)
	return "re_" + p.PaymentIntentID, nil
}

func (f *fakeGateway) CreateExpressAccount(ctx context.Context, email, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "acct_" + userID[:8]
	f.accounts[id] = &payment.Account{ID: id}
	return id, nil
}

func (f *fakeGateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	return "https://connect.stripe.test/setup/" + accountID, nil
}

func (f *fakeGateway) GetAccount(ctx context.Context, accountID string) (*payment.Account, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getAccountHit++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	acct, ok := f.accounts[accountID]
	if !ok {
		return nil, payment.ErrRejected
	}
	copied := *acct
	return &copied, nil
}

func (f *fakeGateway) GetBalance(ctx context.Context, accountID string) (*payment.Balance, error) {
	return f.balances[accountID], nil
}

func (f *fakeGateway) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	if signature != "valid" {
		return nil, payment.ErrInvalidSignature
	}
	return f.event, nil
}
