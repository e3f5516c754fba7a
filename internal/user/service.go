package user

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const notifyTimeout = 10 * time.Second

// MaxPasswordBytes - предел bcrypt. Считаются байты, а не символы.
const MaxPasswordBytes = 72

// Notifier отправляет транзакционные письма. Ошибки только логируются.
type Notifier interface {
	SendWelcome(ctx context.Context, to, username string) error
	SendPasswordReset(ctx context.Context, to, username, resetURL string) error
}

type Service interface {
	Register(ctx context.Context, user *User, password string) (*User, error)
	Authenticate(ctx context.Context, login, password string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	UpdateProfile(ctx context.Context, user *User) (*User, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
}

type service struct {
	repo         Repository
	notifier     Notifier
	resetURLBase string
	// dummyHash сравнивается при неизвестном логине, чтобы время ответа не выдавало существование аккаунта.
	dummyHash []byte
}

func NewService(repo Repository, notifier Notifier, appBaseURL string) Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	return &service{
		repo:         repo,
		notifier:     notifier,
		resetURLBase: strings.TrimRight(appBaseURL, "/") + "/reset-password",
		dummyHash:    dummy,
	}
}

func (s *service) Register(ctx context.Context, user *User, password string) (*User, error) {
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = string(hash)
	user.Email = strings.TrimSpace(user.Email)
	user.Username = strings.TrimSpace(user.Username)
	user.StripeAccountStatus = StripeAccountNone

	createdID, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, ErrEmailExists) || errors.Is(err, ErrUsernameExists) {
			return nil, err
		}
		log.Error().Err(err).Msg("service: failed to create user in repository")
		return nil, fmt.Errorf("failed to save user: %w", err)
	}
	user.ID = createdID

	email, username := user.Email, user.Username
	s.notify("welcome", func(ctx context.Context) error {
		return s.notifier.SendWelcome(ctx, email, username)
	})

	log.Info().Stringer("user_id", user.ID).Msg("service: user registered")
	return user, nil
}

func (s *service) Authenticate(ctx context.Context, login, password string) (*User, error) {
	found, err := s.repo.GetByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		log.Error().Err(err).Msg("service: failed to load user for login")
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return found, nil
}

func (s *service) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	found, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Stringer("user_id", id).Msg("service: failed to get user by id")
		return nil, fmt.Errorf("failed to get user by id '%s': %w", id, err)
	}
	return found, nil
}

func (s *service) UpdateProfile(ctx context.Context, user *User) (*User, error) {
	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Stringer("user_id", user.ID).Msg("service: failed to update profile")
		return nil, fmt.Errorf("failed to update user '%s': %w", user.ID, err)
	}

	return s.GetUserByID(ctx, user.ID)
}

// RequestPasswordReset ничего не сообщает о том, существует ли аккаунт:
// для неизвестного email возвращается nil, как и для известного.
func (s *service) RequestPasswordReset(ctx context.Context, email string) error {
	found, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info().Msg("service: password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("failed to look up user for password reset: %w", err)
	}

	raw, hash, err := NewResetToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	if err := s.repo.SetResetToken(ctx, found.ID, hash, time.Now().UTC().Add(ResetTokenTTL)); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	resetURL := s.resetURLBase + "?token=" + url.QueryEscape(raw)
	to, username := found.Email, found.Username
	s.notify("password_reset", func(ctx context.Context) error {
		return s.notifier.SendPasswordReset(ctx, to, username, resetURL)
	})

	log.Info().Stringer("user_id", found.ID).Msg("service: password reset token issued")
	return nil
}

func (s *service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if rawToken == "" {
		return ErrInvalidResetToken
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	id, err := s.repo.ConsumeResetToken(ctx, HashResetToken(rawToken), string(hash), time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			return ErrInvalidResetToken
		}
		log.Error().Err(err).Msg("service: failed to consume reset token")
		return fmt.Errorf("failed to reset password: %w", err)
	}

	log.Info().Stringer("user_id", id).Msg("service: password reset completed")
	return nil
}

func hashPassword(password string) ([]byte, error) {
	if len(password) > MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to generate password hash")
		return nil, fmt.Errorf("internal error hashing password: %w", err)
	}
	return hash, nil
}

func (s *service) notify(kind string, send func(ctx context.Context) error) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			log.Warn().Err(err).Str("email_kind", kind).Msg("service: failed to send email")
		}
	}()
}
