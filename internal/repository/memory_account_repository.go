package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"medportal/internal/models"
)

// MemoryAccountRepository keeps accounts in process memory. It backs local
// development when no Postgres DSN is configured, and tests.
type MemoryAccountRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.Account
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    make(map[string]models.Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (r *MemoryAccountRepository) Create(_ context.Context, account *models.Account) error {
	key := strings.ToLower(account.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[key]; exists {
		return ErrEmailTaken
	}
	now := r.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	stored := *account
	stored.Secret = append([]byte(nil), account.Secret...)
	r.byID[stored.ID] = stored
	r.byEmail[key] = stored.ID
	return nil
}

func (r *MemoryAccountRepository) FindByEmail(_ context.Context, email string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (r *MemoryAccountRepository) UpdateSecret(_ context.Context, id string, secret []byte) error {
	return r.update(id, func(a *models.Account) {
		a.Secret = append([]byte(nil), secret...)
	})
}

func (r *MemoryAccountRepository) UpdatePicture(_ context.Context, id string, url string) error {
	return r.update(id, func(a *models.Account) {
		a.PictureURL = &url
	})
}

func (r *MemoryAccountRepository) update(id string, fn func(*models.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	fn(&account)
	account.UpdatedAt = r.now().UTC()
	r.byID[id] = account
	return nil
}
