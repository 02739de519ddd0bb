package service

import "errors"

var (
	// ErrAuthenticationFailed is the only failure a login caller sees; it does
	// not say whether the email or the password was wrong.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrDuplicateAccount     = errors.New("account already exists")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrInvalidRole          = errors.New("invalid role")
	ErrNameRequired         = errors.New("name required")
	ErrInvalidPicture       = errors.New("invalid picture")
)
