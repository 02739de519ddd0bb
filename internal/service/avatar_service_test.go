package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medportal/internal/models"
	"medportal/internal/repository"
)

type memoryAvatarStore struct {
	objects map[string][]byte
	types   map[string]string
}

func (s *memoryAvatarStore) PutAvatar(_ context.Context, key string, r io.Reader, _ int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.objects[key] = data
	s.types[key] = contentType
	return "https://cdn.test/" + key, nil
}

var pngHead = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13}

func newAvatarFixture(t *testing.T) (*AvatarService, *repository.MemoryAccountRepository, *memoryAvatarStore) {
	t.Helper()
	accounts := repository.NewMemoryAccountRepository()
	require.NoError(t, accounts.Create(context.Background(), &models.Account{ID: "acct1", Email: "a@x.com", Role: models.RolePatient, Name: "A"}))
	store := &memoryAvatarStore{objects: map[string][]byte{}, types: map[string]string{}}
	return NewAvatarService(accounts, store, 64, zerolog.Nop()), accounts, store
}

func TestSetPicture(t *testing.T) {
	svc, accounts, store := newAvatarFixture(t)
	ctx := context.Background()

	url, err := svc.SetPicture(ctx, PictureInput{Subject: "acct1", File: bytes.NewReader(pngHead), Declared: "image/png"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.test/avatars/acct1/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	require.Len(t, store.objects, 1)
	for key, ct := range store.types {
		assert.Equal(t, "image/png", ct)
		assert.Equal(t, pngHead, store.objects[key])
	}

	account, err := accounts.GetByID(ctx, "acct1")
	require.NoError(t, err)
	require.NotNil(t, account.PictureURL)
	assert.Equal(t, url, *account.PictureURL)
}

func TestSetPicture_Rejects(t *testing.T) {
	svc, _, store := newAvatarFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input PictureInput
	}{
		{"no file", PictureInput{Subject: "acct1"}},
		{"empty", PictureInput{Subject: "acct1", File: bytes.NewReader(nil)}},
		{"svg", PictureInput{Subject: "acct1", File: strings.NewReader(`<svg onload="alert(1)"/>`)}},
		{"too large", PictureInput{Subject: "acct1", File: bytes.NewReader(append(pngHead, make([]byte, 100)...))}},
		{"declared mismatch", PictureInput{Subject: "acct1", File: bytes.NewReader(pngHead), Declared: "image/jpeg"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SetPicture(ctx, tc.input)
			assert.ErrorIs(t, err, ErrInvalidPicture)
		})
	}
	assert.Empty(t, store.objects)

	_, err := svc.SetPicture(ctx, PictureInput{Subject: "ghost", File: bytes.NewReader(pngHead)})
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}
