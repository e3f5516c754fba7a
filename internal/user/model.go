package user

import (
	"time"

	"github.com/gofrs/uuid"
)

type StripeAccountStatus string

const (
	StripeAccountNone    StripeAccountStatus = "none"
	StripeAccountPending StripeAccountStatus = "pending"
	StripeAccountActive  StripeAccountStatus = "active"
)

func (s StripeAccountStatus) String() string {
	return string(s)
}

// Address используется и как адрес профиля, и как снимок адреса доставки в заказе.
type Address struct {
	Line1      string `json:"line1" db:"address_line1"`
	Line2      string `json:"line2" db:"address_line2"`
	City       string `json:"city" db:"address_city"`
	State      string `json:"state" db:"address_state"`
	PostalCode string `json:"postal_code" db:"address_postal_code"`
	Country    string `json:"country" db:"address_country"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

type User struct {
	ID                  uuid.UUID           `json:"id" db:"id"`
	Username            string              `json:"username" db:"username"`
	Email               string              `json:"email" db:"email"`
	PasswordHash        string              `json:"-" db:"password_hash"`
	FirstName           string              `json:"first_name" db:"first_name"`
	LastName            string              `json:"last_name" db:"last_name"`
	Address             Address             `json:"address"`
	StripeAccountID     string              `json:"-" db:"stripe_account_id"`
	StripeAccountStatus StripeAccountStatus `json:"stripe_account_status" db:"stripe_account_status"`
	CreatedAt           time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at" db:"updated_at"`
}

func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}
