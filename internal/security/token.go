package security

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"medportal/internal/models"
)

// Identity is what a valid session token asserts.
type Identity struct {
	Subject string
	Role    models.Role
}

type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type IssuedToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenConfig struct {
	Issuer     string
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

var signingMethod = jwt.SigningMethodHS512

// TokenManager mints and checks signed, expiring session tokens. Validation
// needs only the keyring and the clock.
type TokenManager struct {
	keys *Keyring
	cfg  TokenConfig
	now  func() time.Time
}

type TokenOption func(*TokenManager)

func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

func NewTokenManager(keys *Keyring, cfg TokenConfig, opts ...TokenOption) (*TokenManager, error) {
	if keys == nil {
		return nil, ErrSigningSecretMissing
	}
	if cfg.MaxTTL < time.Second {
		return nil, fmt.Errorf("%w: max ttl must be at least 1s", ErrInvalidTTL)
	}
	if cfg.DefaultTTL < time.Second || cfg.DefaultTTL > cfg.MaxTTL {
		return nil, fmt.Errorf("%w: default ttl must be within [1s, %s]", ErrInvalidTTL, cfg.MaxTTL)
	}

	m := &TokenManager{keys: keys, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *TokenManager) DefaultTTL() time.Duration {
	return m.cfg.DefaultTTL
}

// Issue signs {subject, role, iat, exp} with the active key. ttl must lie in
// [1s, MaxTTL]; token timestamps have one-second resolution.
func (m *TokenManager) Issue(subject string, role models.Role, ttl time.Duration) (IssuedToken, error) {
	if ttl < time.Second || ttl > m.cfg.MaxTTL {
		return IssuedToken{}, fmt.Errorf("%w: %s not within [1s, %s]", ErrInvalidTTL, ttl, m.cfg.MaxTTL)
	}
	if subject == "" {
		return IssuedToken{}, errors.New("issue token: empty subject")
	}
	if !role.Valid() {
		return IssuedToken{}, fmt.Errorf("issue token: %w: %q", models.ErrUnknownRole, role)
	}

	now := m.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(ttl))

	claims := SessionClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	}

	key := m.keys.Active()
	token := jwt.NewWithClaims(signingMethod, claims)
	token.Header["kid"] = key.ID

	signed, err := token.SignedString(key.Secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign jwt: %w", err)
	}

	return IssuedToken{
		Token:     signed,
		IssuedAt:  issuedAt.Time,
		ExpiresAt: expiresAt.Time,
	}, nil
}

// Validate recovers the identity asserted by token. Failures are one of
// ErrMalformedToken, ErrBadSignature or ErrExpiredToken; a token is never
// partially trusted.
func (m *TokenManager) Validate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("%w: expected 3 segments", ErrMalformedToken)
	}

	// The signature covers the raw segments, so any altered byte fails here
	// before anything is decoded.
	key, ok := m.matchSignature(parts[0]+"."+parts[1], parts[2])
	if !ok {
		return Identity{}, ErrBadSignature
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithTimeFunc(m.now),
	)

	var claims SessionClaims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return key.Secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Identity{}, ErrBadSignature
	default:
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	role := models.Role(claims.Role)
	if !role.Valid() {
		return Identity{}, fmt.Errorf("%w: unknown role", ErrMalformedToken)
	}

	return Identity{Subject: claims.Subject, Role: role}, nil
}

func (m *TokenManager) matchSignature(signingString, signature string) (SigningKey, bool) {
	for _, key := range m.keys.Accepted() {
		sig, err := signingMethod.Sign(signingString, key.Secret)
		if err != nil {
			continue
		}
		expected := base64.RawURLEncoding.EncodeToString(sig)
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return key, true
		}
	}
	return SigningKey{}, false
}
