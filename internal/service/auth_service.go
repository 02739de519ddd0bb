package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medportal/internal/events"
	"medportal/internal/ids"
	"medportal/internal/models"
	"medportal/internal/repository"
	"medportal/internal/security"
)

// AccountStore is satisfied by *repository.AccountRepository and
// *repository.MemoryAccountRepository.
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByEmail(ctx context.Context, email string) (models.Account, error)
	GetByID(ctx context.Context, id string) (models.Account, error)
	UpdateSecret(ctx context.Context, id string, secret []byte) error
	UpdatePicture(ctx context.Context, id string, url string) error
}

type AuthService struct {
	accounts AccountStore
	hasher   *security.PasswordHasher
	tokens   *security.TokenManager
	events   events.Publisher
	log      zerolog.Logger
	now      func() time.Time

	// dummySecret is verified against when the email is unknown so both
	// failure paths cost one hash computation.
	dummySecret []byte
}

func NewAuthService(
	accounts AccountStore,
	hasher *security.PasswordHasher,
	tokens *security.TokenManager,
	publisher events.Publisher,
	log zerolog.Logger,
) (*AuthService, error) {
	if publisher == nil {
		publisher = events.Discard
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("dummy secret seed: %w", err)
	}
	dummy, err := hasher.Enroll(hex.EncodeToString(seed))
	if err != nil {
		return nil, fmt.Errorf("dummy secret: %w", err)
	}

	return &AuthService{
		accounts:    accounts,
		hasher:      hasher,
		tokens:      tokens,
		events:      publisher,
		log:         log,
		now:         time.Now,
		dummySecret: dummy,
	}, nil
}

type RegisterInput struct {
	Email    string
	Password string
	Role     string
	Name     string
	Phone    string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (models.Account, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return models.Account{}, err
	}

	role := models.RolePatient
	if strings.TrimSpace(input.Role) != "" {
		role, err = models.ParseRole(input.Role)
		if err != nil {
			return models.Account{}, fmt.Errorf("%w: %q", ErrInvalidRole, input.Role)
		}
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return models.Account{}, ErrNameRequired
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return models.Account{}, ErrDuplicateAccount
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return models.Account{}, err
	}

	secret, err := s.hasher.Enroll(input.Password)
	if err != nil {
		return models.Account{}, err
	}

	account := models.Account{
		ID:     ids.New(),
		Email:  email,
		Secret: secret,
		Role:   role,
		Name:   name,
	}
	if phone := strings.TrimSpace(input.Phone); phone != "" {
		account.Phone = &phone
	}

	if err := s.accounts.Create(ctx, &account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return models.Account{}, ErrDuplicateAccount
		}
		return models.Account{}, err
	}

	s.publish(ctx, events.AccountRegistered, account.ID, account.Role)
	return account, nil
}

type LoginInput struct {
	Email    string
	Password string
}

type LoginResult struct {
	Token   security.IssuedToken
	Account models.Account
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return LoginResult{}, err
		}
		_, _ = s.hasher.Verify(input.Password, s.dummySecret)
		s.publish(ctx, events.LoginFailed, "", "")
		return LoginResult{}, ErrAuthenticationFailed
	}

	ok, err := s.hasher.Verify(input.Password, account.Secret)
	if err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("stored secret unreadable")
	}
	if !ok {
		s.publish(ctx, events.LoginFailed, account.ID, account.Role)
		return LoginResult{}, ErrAuthenticationFailed
	}

	if s.hasher.NeedsRehash(account.Secret) {
		s.upgradeSecret(ctx, account, input.Password)
	}

	issued, err := s.tokens.Issue(account.ID, account.Role, s.tokens.DefaultTTL())
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.publish(ctx, events.LoginSucceeded, account.ID, account.Role)
	return LoginResult{Token: issued, Account: account}, nil
}

func (s *AuthService) upgradeSecret(ctx context.Context, account models.Account, password string) {
	secret, err := s.hasher.Enroll(password)
	if err != nil {
		s.log.Warn().Err(err).Str("account_id", account.ID).Msg("rehash skipped")
		return
	}
	if err := s.accounts.UpdateSecret(ctx, account.ID, secret); err != nil {
		s.log.Warn().Err(err).Str("account_id", account.ID).Msg("rehash store failed")
		return
	}
	s.log.Info().Str("account_id", account.ID).Msg("password secret upgraded")
}

// ChangePassword replaces the secret after re-checking the current
// password. Tokens issued before the change stay valid until they expire.
func (s *AuthService) ChangePassword(ctx context.Context, subject, current, next string) error {
	account, err := s.accounts.GetByID(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return ErrAuthenticationFailed
		}
		return err
	}

	ok, err := s.hasher.Verify(current, account.Secret)
	if err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("stored secret unreadable")
	}
	if !ok {
		return ErrAuthenticationFailed
	}

	secret, err := s.hasher.Enroll(next)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdateSecret(ctx, account.ID, secret); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}

	s.publish(ctx, events.PasswordChanged, account.ID, account.Role)
	return nil
}

func (s *AuthService) Profile(ctx context.Context, subject string) (models.Account, error) {
	return s.accounts.GetByID(ctx, subject)
}

func (s *AuthService) publish(ctx context.Context, kind events.Kind, subject string, role models.Role) {
	ev := events.Event{Kind: kind, Subject: subject, Role: string(role), At: s.now()}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Msg("publish auth event failed")
	}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return email, nil
}
