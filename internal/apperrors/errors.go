package apperrors

import (
	"errors"
)

// Kind is the closed set of failure classes the service exposes to callers.
// Every error returned from the service layer maps to exactly one kind.
type Kind int

const (
	KindServer Kind = iota
	KindInvalidInput
	KindDuplicateAccount
	KindInvalidCredentials
	KindInvalidToken
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindDuplicateAccount:
		return "duplicate_account"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindInvalidToken:
		return "invalid_token"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "server_error"
	}
}

// Error is a kinded sentinel error
// Compare with errors.Is against the package level values, never by message
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrInvalidInput = newError(KindInvalidInput, "invalid input")

	ErrDuplicateEmail    = newError(KindDuplicateAccount, "email is already registered")
	ErrDuplicateUsername = newError(KindDuplicateAccount, "username is already taken")

	ErrAccountNotFound    = newError(KindInvalidCredentials, "account not found")
	ErrInvalidCredentials = newError(KindInvalidCredentials, "invalid credentials")

	ErrInvalidToken      = newError(KindInvalidToken, "invalid token")
	ErrTokenMalformed    = newError(KindInvalidToken, "token is malformed")
	ErrTokenExpired      = newError(KindInvalidToken, "token is expired")
	ErrTokenBadSignature = newError(KindInvalidToken, "token signature is invalid")

	ErrUnauthorized = newError(KindUnauthorized, "unauthorized")

	ErrExternalIdentity = newError(KindInvalidToken, "external identity is not verified")
)

// KindOf returns the kind of the first *Error found in err's chain
// Errors not produced by this package (db, crypto, io) are server errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}
