package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
)

var ErrUnknownRole = errors.New("unknown role")

// ParseRole accepts only the closed set of portal roles.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RolePatient:
		return RolePatient, nil
	case RoleDoctor:
		return RoleDoctor, nil
	case RoleStaff:
		return RoleStaff, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleStaff:
		return true
	}
	return false
}

// Account is a person who can authenticate. Secret holds the encoded
// password hash and must never leave the service layer.
type Account struct {
	ID         string
	Email      string
	Secret     []byte
	Role       Role
	Name       string
	Phone      *string
	PictureURL *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
