package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository - хранилище пользователей.
type Repository interface {
	Create(ctx context.Context, user *User) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByLogin(ctx context.Context, login string) (*User, error)
	GetByStripeAccountID(ctx context.Context, accountID string) (*User, error)
	UpdateProfile(ctx context.Context, user *User) error
	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (uuid.UUID, error)
	SetStripeAccount(ctx context.Context, id uuid.UUID, accountID string, status StripeAccountStatus) error
}

type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db DB
}

func NewRepository(db DB) Repository {
	return &repository{db: db}
}

const selectUserColumns = `
	SELECT id, username, email, password_hash, first_name, last_name,
	       address_line1, address_line2, address_city, address_state, address_postal_code, address_country,
	       stripe_account_id, stripe_account_status, created_at, updated_at
	FROM users
`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.Address.Line1,
		&u.Address.Line2,
		&u.Address.City,
		&u.Address.State,
		&u.Address.PostalCode,
		&u.Address.Country,
		&u.StripeAccountID,
		&u.StripeAccountStatus,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *repository) Create(ctx context.Context, user *User) (uuid.UUID, error) {
	if user.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return uuid.Nil, fmt.Errorf("repository: failed to generate user id: %w", err)
		}
		user.ID = id
	}
	if user.StripeAccountStatus == "" {
		user.StripeAccountStatus = StripeAccountNone
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO users (id, username, email, password_hash, first_name, last_name, stripe_account_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		string(user.StripeAccountStatus),
		now,
	)
	if err != nil {
		if dupErr := uniqueViolation(err); dupErr != nil {
			return uuid.Nil, dupErr
		}
		return uuid.Nil, fmt.Errorf("repository: failed to insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return user.ID, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, selectUserColumns+` WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("repository: failed to select user by id %s: %w", id, err)
	}
	return u, err
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, selectUserColumns+` WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("repository: failed to select user by email: %w", err)
	}
	return u, err
}

func (r *repository) GetByLogin(ctx context.Context, login string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		selectUserColumns+` WHERE LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($1) LIMIT 1`, login))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("repository: failed to select user by login: %w", err)
	}
	return u, err
}

func (r *repository) GetByStripeAccountID(ctx context.Context, accountID string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, selectUserColumns+` WHERE stripe_account_id = $1`, accountID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("repository: failed to select user by stripe account: %w", err)
	}
	return u, err
}

func (r *repository) UpdateProfile(ctx context.Context, user *User) error {
	query := `
		UPDATE users
		SET first_name = $2, last_name = $3,
		    address_line1 = $4, address_line2 = $5, address_city = $6,
		    address_state = $7, address_postal_code = $8, address_country = $9,
		    updated_at = $10
		WHERE id = $1
	`
	now := time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx, query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Address.Line1,
		user.Address.Line2,
		user.Address.City,
		user.Address.State,
		user.Address.PostalCode,
		user.Address.Country,
		now,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update user %s: %w", user.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}

	user.UpdatedAt = now
	return nil
}

func (r *repository) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE users SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("repository: failed to store reset token for user %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeResetToken меняет пароль и стирает токен одним UPDATE, поэтому токен нельзя использовать дважды.
func (r *repository) ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET password_hash = $2, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = $3
		WHERE reset_token_hash = $1 AND reset_token_expires_at > $3
		RETURNING id
	`, tokenHash, newPasswordHash, now).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrInvalidResetToken
		}
		return uuid.Nil, fmt.Errorf("repository: failed to consume reset token: %w", err)
	}
	return id, nil
}

func (r *repository) SetStripeAccount(ctx context.Context, id uuid.UUID, accountID string, status StripeAccountStatus) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE users SET stripe_account_id = $2, stripe_account_status = $3, updated_at = NOW()
		WHERE id = $1
	`, id, accountID, string(status))
	if err != nil {
		return fmt.Errorf("repository: failed to update stripe account for user %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "username") {
		return ErrUsernameExists
	}
	return ErrEmailExists
}
