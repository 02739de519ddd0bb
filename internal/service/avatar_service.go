package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/rs/zerolog"

	"medportal/internal/ids"
	"medportal/internal/media/sniffer"
)

// AvatarStore is satisfied by *storage.ObjectStore.
type AvatarStore interface {
	PutAvatar(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

type AvatarService struct {
	accounts AccountStore
	store    AvatarStore
	maxBytes int64
	log      zerolog.Logger
}

func NewAvatarService(accounts AccountStore, store AvatarStore, maxBytes int64, log zerolog.Logger) *AvatarService {
	return &AvatarService{
		accounts: accounts,
		store:    store,
		maxBytes: maxBytes,
		log:      log,
	}
}

type PictureInput struct {
	Subject string
	File    io.Reader
	// Declared is the client-supplied media type; empty skips the check.
	Declared string
}

// SetPicture stores a raster image as the account's profile picture and
// returns its URL.
func (s *AvatarService) SetPicture(ctx context.Context, input PictureInput) (string, error) {
	if input.File == nil {
		return "", fmt.Errorf("%w: no file", ErrInvalidPicture)
	}

	data, err := io.ReadAll(io.LimitReader(input.File, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read picture: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidPicture)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: larger than %d bytes", ErrInvalidPicture, s.maxBytes)
	}

	result, err := sniffer.DetectHead(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPicture, err)
	}
	if input.Declared != "" && input.Declared != result.MIME {
		return "", fmt.Errorf("%w: declared %s, actual %s", ErrInvalidPicture, input.Declared, result.MIME)
	}

	account, err := s.accounts.GetByID(ctx, input.Subject)
	if err != nil {
		return "", err
	}

	key := path.Join("avatars", account.ID, ids.New()+"."+result.Ext())
	url, err := s.store.PutAvatar(ctx, key, bytes.NewReader(data), int64(len(data)), result.MIME)
	if err != nil {
		return "", err
	}

	if err := s.accounts.UpdatePicture(ctx, account.ID, url); err != nil {
		return "", fmt.Errorf("save picture url: %w", err)
	}

	s.log.Info().Str("account_id", account.ID).Str("key", key).Msg("profile picture stored")
	return url, nil
}
