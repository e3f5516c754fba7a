package user

import "errors"

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("password reset token is invalid or has expired")
	ErrPasswordTooLong    = errors.New("password exceeds 72 bytes")
)
