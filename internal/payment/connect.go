package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/costume-exchange/internal/user"
	"golang.org/x/sync/singleflight"
)

const refreshTimeout = 15 * time.Second

var (
	ErrAlreadyOnboarded   = errors.New("stripe account is already active")
	ErrNoConnectedAccount = errors.New("user has no connected stripe account")
)

// ConnectService ведёт онбординг продавцов в Stripe Connect.
type ConnectService struct {
	gw         Gateway
	accounts   AccountStore
	refreshURL string
	returnURL  string
	sfg        singleflight.Group
}

func NewConnectService(gw Gateway, accounts AccountStore, refreshURL, returnURL string) *ConnectService {
	return &ConnectService{
		gw:         gw,
		accounts:   accounts,
		refreshURL: refreshURL,
		returnURL:  returnURL,
	}
}

// StartOnboarding создаёт Express-аккаунт при первом вызове и возвращает ссылку на анкету Stripe.
func (s *ConnectService) StartOnboarding(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.StripeAccountStatus == user.StripeAccountActive {
		return "", ErrAlreadyOnboarded
	}

	accountID := u.StripeAccountID
	if accountID == "" {
		accountID, err = s.gw.CreateExpressAccount(ctx, u.Email, u.ID.String())
		if err != nil {
			log.Error().Err(err).Stringer("user_id", userID).Msg("payment: failed to create connected account")
			return "", err
		}
		if err := s.accounts.SetStripeAccount(ctx, userID, accountID, user.StripeAccountPending); err != nil {
			return "", fmt.Errorf("payment: failed to store connected account: %w", err)
		}
		log.Info().Stringer("user_id", userID).Str("account_id", accountID).Msg("payment: connected account created")
	}

	link, err := s.gw.CreateOnboardingLink(ctx, accountID, s.refreshURL, s.returnURL)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("payment: failed to create onboarding link")
		return "", err
	}
	return link, nil
}

// RefreshStatus сверяет статус с провайдером; параллельные запросы одного пользователя схлопываются.
func (s *ConnectService) RefreshStatus(ctx context.Context, userID uuid.UUID) (user.StripeAccountStatus, error) {
	v, err, _ := s.sfg.Do(userID.String(), func() (any, error) {
		// Результат общий для всех ожидающих, поэтому отмена первого запроса не должна его прерывать.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		u, err := s.accounts.GetByID(ctx, userID)
		if err != nil {
			return user.StripeAccountNone, err
		}
		if u.StripeAccountID == "" {
			return user.StripeAccountNone, nil
		}

		acct, err := s.gw.GetAccount(ctx, u.StripeAccountID)
		if err != nil {
			log.Warn().Err(err).Stringer("user_id", userID).Msg("payment: failed to refresh account, returning cached status")
			return u.StripeAccountStatus, nil
		}

		status := acct.Status()
		if status != u.StripeAccountStatus {
			if err := s.accounts.SetStripeAccount(ctx, userID, u.StripeAccountID, status); err != nil {
				return u.StripeAccountStatus, fmt.Errorf("payment: failed to store account status: %w", err)
			}
			log.Info().Stringer("user_id", userID).Stringer("status", status).Msg("payment: account status changed")
		}
		return status, nil
	})
	if err != nil {
		return user.StripeAccountNone, err
	}
	return v.(user.StripeAccountStatus), nil
}

func (s *ConnectService) Balance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	u, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.StripeAccountID == "" {
		return nil, ErrNoConnectedAccount
	}
	return s.gw.GetBalance(ctx, u.StripeAccountID)
}

// HandleAccountUpdated применяет событие account.updated к пользователю-владельцу аккаунта.
func (s *ConnectService) HandleAccountUpdated(ctx context.Context, acct Account) error {
	u, err := s.accounts.GetByStripeAccountID(ctx, acct.ID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			log.Warn().Str("account_id", acct.ID).Msg("payment: account.updated for unknown account")
			return nil
		}
		return err
	}

	status := acct.Status()
	if status == u.StripeAccountStatus {
		return nil
	}
	if err := s.accounts.SetStripeAccount(ctx, u.ID, acct.ID, status); err != nil {
		return fmt.Errorf("payment: failed to store account status: %w", err)
	}
	log.Info().Stringer("user_id", u.ID).Stringer("status", status).Msg("payment: account status updated from webhook")
	return nil
}
