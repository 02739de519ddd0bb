package security

import "errors"

// Input validation errors; safe to report to the caller.
var (
	ErrWeakInput  = errors.New("password does not meet policy")
	ErrInvalidTTL = errors.New("invalid token ttl")
)

// Token rejection kinds. All of them mean "unauthenticated"; the kind is for
// diagnostics only and must not be echoed to an external caller.
var (
	ErrBadSignature   = errors.New("token signature mismatch")
	ErrExpiredToken   = errors.New("token expired")
	ErrMalformedToken = errors.New("malformed token")
)

var ErrCorruptSecret = errors.New("stored secret is not in a recognised encoding")

// Configuration errors are fatal at startup.
var (
	ErrSigningSecretMissing  = errors.New("signing secret is required")
	ErrSigningSecretTooShort = errors.New("signing secret too short")
	ErrInvalidPolicy         = errors.New("invalid password hashing policy")
)

// IsTokenRejection reports whether err is one of the token rejection kinds.
func IsTokenRejection(err error) bool {
	return errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrMalformedToken)
}
