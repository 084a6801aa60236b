package auth

import (
	"errors"
	"time"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrDuplicateEmail        = errors.New("user already exists with this email")
	ErrDuplicatePhone        = errors.New("phone number already in use")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountLocked         = errors.New("account is temporarily locked")
	ErrAccountDeactivated    = errors.New("account is deactivated")
	ErrUnauthorized          = errors.New("access token required")
	ErrInvalidToken          = errors.New("invalid token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrAlreadyVerified       = errors.New("email already verified")
	ErrNotFound              = errors.New("not found")
)

// ValidationError carries a message that is safe to show the client.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) Unwrap() error {
	return ErrValidation
}

type AccountLockedError struct {
	Until time.Time
}

func (e AccountLockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}

func invalid(message string) error {
	return ValidationError{Message: message}
}
