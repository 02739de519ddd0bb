package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medportal/internal/models"
)

func TestMemoryAccountRepository_CreateAndFind(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	account := models.Account{ID: "a1", Email: "a@x.com", Secret: []byte("s"), Role: models.RolePatient, Name: "A"}
	require.NoError(t, repo.Create(ctx, &account))
	assert.False(t, account.CreatedAt.IsZero())
	assert.Equal(t, account.CreatedAt, account.UpdatedAt)

	got, err := repo.FindByEmail(ctx, "A@X.COM")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.False(t, got.CreatedAt.IsZero())

	got, err = repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, got.Role)

	_, err = repo.FindByEmail(ctx, "b@x.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = repo.GetByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMemoryAccountRepository_EmailUniqueCaseInsensitive(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Account{ID: "a1", Email: "a@x.com"}))
	assert.ErrorIs(t, repo.Create(ctx, &models.Account{ID: "a2", Email: "A@x.com"}), ErrEmailTaken)
}

func TestMemoryAccountRepository_ConcurrentCreateSameEmail(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.Create(ctx, &models.Account{ID: string(rune('a' + i)), Email: "same@x.com"})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemoryAccountRepository_Updates(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.Account{ID: "a1", Email: "a@x.com", Secret: []byte("old")}))

	require.NoError(t, repo.UpdateSecret(ctx, "a1", []byte("new")))
	require.NoError(t, repo.UpdatePicture(ctx, "a1", "https://cdn/a1.png"))

	got, err := repo.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got.Secret)
	require.NotNil(t, got.PictureURL)
	assert.Equal(t, "https://cdn/a1.png", *got.PictureURL)

	assert.ErrorIs(t, repo.UpdateSecret(ctx, "missing", []byte("x")), ErrAccountNotFound)
	assert.ErrorIs(t, repo.UpdatePicture(ctx, "missing", "x"), ErrAccountNotFound)
}
