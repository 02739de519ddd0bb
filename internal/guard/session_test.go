package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medportal/internal/models"
	"medportal/internal/security"
)

func TestSession_StartsLoading(t *testing.T) {
	s := NewSession(nil)
	assert.Equal(t, Loading, s.State().Status)
}

func TestSession_LoadValidToken(t *testing.T) {
	_, tokens := newTestGuard(t)
	s := NewSession(Local(tokens))
	token := issue(t, tokens, models.RoleDoctor)

	st, err := s.Load(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, st.Status)
	assert.Equal(t, models.RoleDoctor, st.Identity.Role)
	assert.Equal(t, st, s.State())
}

func TestSession_LoadEmptyToken(t *testing.T) {
	s := NewSession(func(context.Context, string) (security.Identity, error) {
		t.Fatal("validator must not be called without a token")
		return security.Identity{}, nil
	})

	st, err := s.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, st.Status)
}

func TestSession_LoadInvalidToken(t *testing.T) {
	_, tokens := newTestGuard(t)
	s := NewSession(Local(tokens))

	st, err := s.Load(context.Background(), "not-a-token")
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, st.Status)
	assert.ErrorIs(t, st.Reason, security.ErrMalformedToken)
}

func TestSession_ValidatesOncePerToken(t *testing.T) {
	var calls atomic.Int32
	s := NewSession(func(_ context.Context, token string) (security.Identity, error) {
		calls.Add(1)
		return security.Identity{Subject: token, Role: models.RolePatient}, nil
	})
	ctx := context.Background()

	_, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	_, err = s.Load(ctx, "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = s.Load(ctx, "t2")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	_, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSession_RefreshNoticesExpiry(t *testing.T) {
	expired := false
	s := NewSession(func(context.Context, string) (security.Identity, error) {
		if expired {
			return security.Identity{}, security.ErrExpiredToken
		}
		return security.Identity{Subject: "a", Role: models.RolePatient}, nil
	})
	ctx := context.Background()

	st, err := s.Load(ctx, "tok")
	require.NoError(t, err)
	require.Equal(t, Authenticated, st.Status)

	expired = true
	st, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, st.Status)
	assert.ErrorIs(t, st.Reason, security.ErrExpiredToken)
}

func TestSession_SupersededResultIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	s := NewSession(func(_ context.Context, token string) (security.Identity, error) {
		if token == "slow" {
			started <- struct{}{}
			<-release
			return security.Identity{Subject: "slow", Role: models.RoleDoctor}, nil
		}
		return security.Identity{Subject: token, Role: models.RolePatient}, nil
	})
	ctx := context.Background()

	result := make(chan State, 1)
	go func() {
		st, _ := s.Load(ctx, "slow")
		result <- st
	}()

	<-started
	assert.Equal(t, Loading, s.State().Status)

	st, err := s.Load(ctx, "fast")
	require.NoError(t, err)
	require.Equal(t, "fast", st.Identity.Subject)

	close(release)
	late := <-result
	assert.Equal(t, "fast", late.Identity.Subject, "late result must not replace the newer token's state")
	assert.Equal(t, "fast", s.State().Identity.Subject)
}

func TestSession_CancelledLoadGivesNoDecision(t *testing.T) {
	release := make(chan struct{})
	s := NewSession(func(ctx context.Context, token string) (security.Identity, error) {
		<-release
		return security.Identity{Subject: token, Role: models.RolePatient}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	st, err := s.Load(ctx, "tok")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Loading, st.Status)

	close(release)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Loading, s.State().Status, "abandoned validation is not applied")

	st, err = s.Load(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, Authenticated, st.Status)
	assert.Equal(t, "tok", st.Identity.Subject)
}

func TestSession_EstablishAndForget(t *testing.T) {
	s := NewSession(nil)
	id := security.Identity{Subject: "acct-1", Role: models.RolePatient}

	s.Establish("tok", id)
	assert.Equal(t, State{Status: Authenticated, Identity: id}, s.State())
	assert.Equal(t, "tok", s.Token())

	st, err := s.Load(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, Authenticated, st.Status, "established token is not re-validated")

	s.Forget()
	assert.Equal(t, Unauthenticated, s.State().Status)
	assert.Empty(t, s.Token())
}
