package payment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/costume-exchange/internal/payment"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
)

func TestConnectService_StartOnboarding(t *testing.T) {
	ctx := context.Background()

	t.Run("creates account once and returns link", func(t *testing.T) {
		u := seller(user.StripeAccountNone, "")
		accounts := newMemoryAccounts(u)
		gw := newFakeGateway()
		svc := payment.NewConnectService(gw, accounts, "https://app/refresh", "https://app/return")

		link, err := svc.StartOnboarding(ctx, u.ID)
		require.NoError(t, err)
		stored := accounts.users[u.ID]
		assert.Equal(t, user.StripeAccountPending, stored.StripeAccountStatus)
		assert.NotEmpty(t, stored.StripeAccountID)
		assert.Equal(t, "https://connect.stripe.test/setup/"+stored.StripeAccountID, link)

		_, err = svc.StartOnboarding(ctx, u.ID)
		require.NoError(t, err)
		assert.Len(t, gw.accounts, 1)
	})

	t.Run("active account is rejected", func(t *testing.T) {
		u := seller(user.StripeAccountActive, "acct_done")
		svc := payment.NewConnectService(newFakeGateway(), newMemoryAccounts(u), "", "")

		_, err := svc.StartOnboarding(ctx, u.ID)
		assert.ErrorIs(t, err, payment.ErrAlreadyOnboarded)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc := payment.NewConnectService(newFakeGateway(), newMemoryAccounts(), "", "")

		_, err := svc.StartOnboarding(ctx, uuid.Must(uuid.NewV4()))
		assert.ErrorIs(t, err, user.ErrNotFound)
	})
}

func TestConnectService_RefreshStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("no account means none", func(t *testing.T) {
		u := seller(user.StripeAccountNone, "")
		svc := payment.NewConnectService(newFakeGateway(), newMemoryAccounts(u), "", "")

		status, err := svc.RefreshStatus(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, user.StripeAccountNone, status)
	})

	t.Run("becomes active when charges and payouts enabled", func(t *testing.T) {
		u := seller(user.StripeAccountPending, "acct_1")
		accounts := newMemoryAccounts(u)
		gw := newFakeGateway()
		gw.accounts["acct_1"] = &payment.Account{ID: "acct_1", ChargesEnabled: true, PayoutsEnabled: true}
		svc := payment.NewConnectService(gw, accounts, "", "")

		status, err := svc.RefreshStatus(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, user.StripeAccountActive, status)
		assert.Equal(t, user.StripeAccountActive, accounts.users[u.ID].StripeAccountStatus)
	})

	t.Run("charges without payouts stays pending", func(t *testing.T) {
		u := seller(user.StripeAccountPending, "acct_2")
		accounts := newMemoryAccounts(u)
		gw := newFakeGateway()
		gw.accounts["acct_2"] = &payment.Account{ID: "acct_2", ChargesEnabled: true}
		svc := payment.NewConnectService(gw, accounts, "", "")

		status, err := svc.RefreshStatus(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, user.StripeAccountPending, status)
		assert.Zero(t, accounts.sets)
	})

	t.Run("provider outage returns cached status", func(t *testing.T) {
		u := seller(user.StripeAccountPending, "acct_3")
		gw := newFakeGateway()
		gw.accountErr = assert.AnError
		svc := payment.NewConnectService(gw, newMemoryAccounts(u), "", "")

		status, err := svc.RefreshStatus(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, user.StripeAccountPending, status)
	})

	t.Run("concurrent refreshes share one call", func(t *testing.T) {
		u := seller(user.StripeAccountPending, "acct_4")
		gw := newFakeGateway()
		gw.accounts["acct_4"] = &payment.Account{ID: "acct_4", ChargesEnabled: true, PayoutsEnabled: true}
		gw.gate = make(chan struct{})
		svc := payment.NewConnectService(gw, newMemoryAccounts(u), "", "")

		const callers = 5
		var started, done sync.WaitGroup
		started.Add(callers)
		done.Add(callers)
		for i := 0; i < callers; i++ {
			go func() {
				defer done.Done()
				started.Done()
				status, err := svc.RefreshStatus(ctx, u.ID)
				assert.NoError(t, err)
				assert.Equal(t, user.StripeAccountActive, status)
			}()
		}
		started.Wait()
		close(gw.gate)
		done.Wait()

		assert.LessOrEqual(t, gw.getAccountHit, callers)
		assert.GreaterOrEqual(t, gw.getAccountHit, 1)
	})

	t.Run("cancelled first caller does not fail the others", func(t *testing.T) {
		u := seller(user.StripeAccountPending, "acct_5")
		gw := newFakeGateway()
		gw.accounts["acct_5"] = &payment.Account{ID: "acct_5", ChargesEnabled: true, PayoutsEnabled: true}
		gw.gate = make(chan struct{})
		gw.entered = make(chan struct{}, 1)
		svc := payment.NewConnectService(gw, newMemoryAccounts(u), "", "")

		firstCtx, cancelFirst := context.WithCancel(ctx)
		firstDone := make(chan struct{})
		go func() {
			defer close(firstDone)
			_, _ = svc.RefreshStatus(firstCtx, u.ID)
		}()
		<-gw.entered

		secondStatus := make(chan user.StripeAccountStatus, 1)
		go func() {
			status, err := svc.RefreshStatus(ctx, u.ID)
			assert.NoError(t, err)
			secondStatus <- status
		}()

		cancelFirst()
		close(gw.gate)
		<-firstDone

		assert.Equal(t, user.StripeAccountActive, <-secondStatus)
	})
}

func TestConnectService_HandleAccountUpdated(t *testing.T) {
	ctx := context.Background()
	u := seller(user.StripeAccountPending, "acct_hook")
	accounts := newMemoryAccounts(u)
	svc := payment.NewConnectService(newFakeGateway(), accounts, "", "")

	require.NoError(t, svc.HandleAccountUpdated(ctx, payment.Account{ID: "acct_hook", ChargesEnabled: true, PayoutsEnabled: true}))
	assert.Equal(t, user.StripeAccountActive, accounts.users[u.ID].StripeAccountStatus)

	require.NoError(t, svc.HandleAccountUpdated(ctx, payment.Account{ID: "acct_unknown"}))
}

func TestConnectService_Balance(t *testing.T) {
	ctx := context.Background()
	u := seller(user.StripeAccountActive, "acct_bal")
	gw := newFakeGateway()
	gw.balances["acct_bal"] = &payment.Balance{Available: []payment.Money{{AmountCents: 8800, Currency: "usd"}}}
	svc := payment.NewConnectService(gw, newMemoryAccounts(u, seller(user.StripeAccountNone, "")), "", "")

	bal, err := svc.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8800), bal.Available[0].AmountCents)

	none := seller(user.StripeAccountNone, "")
	svc = payment.NewConnectService(gw, newMemoryAccounts(none), "", "")
	_, err = svc.Balance(ctx, none.ID)
	assert.ErrorIs(t, err, payment.ErrNoConnectedAccount)
}
