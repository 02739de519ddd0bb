package security

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	secretA = []byte(strings.Repeat("a", 32))
	secretB = []byte(strings.Repeat("b", 32))
	secretC = []byte(strings.Repeat("c", 40))
)

func TestNewKeyring_RejectsBadSecret(t *testing.T) {
	_, err := NewKeyring(nil, time.Minute)
	assert.ErrorIs(t, err, ErrSigningSecretMissing)

	_, err = NewKeyring([]byte("short"), time.Minute)
	assert.ErrorIs(t, err, ErrSigningSecretTooShort)
}

func TestKeyring_RotateKeepsPreviousDuringGrace(t *testing.T) {
	clock := newFakeClock()
	k, err := NewKeyring(secretA, 10*time.Minute, WithKeyringClock(clock.Now))
	require.NoError(t, err)
	oldID := k.Active().ID

	require.NoError(t, k.Rotate(secretB))
	assert.NotEqual(t, oldID, k.Active().ID)

	accepted := k.Accepted()
	require.Len(t, accepted, 2)
	assert.Equal(t, k.Active().ID, accepted[0].ID)
	assert.Equal(t, oldID, accepted[1].ID)

	clock.Advance(10 * time.Minute)
	assert.Len(t, k.Accepted(), 1)
	assert.True(t, k.Prune())
	assert.False(t, k.Prune())
}

func TestKeyring_RotateSameSecretIsNoop(t *testing.T) {
	k, err := NewKeyring(secretA, time.Minute)
	require.NoError(t, err)

	require.NoError(t, k.Rotate(secretA))
	assert.Len(t, k.Accepted(), 1)
}

func TestKeyring_RotateRejectsShortSecret(t *testing.T) {
	k, err := NewKeyring(secretA, time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, k.Rotate([]byte("tiny")), ErrSigningSecretTooShort)
	assert.Equal(t, secretA, k.Active().Secret)
}

func TestKeyring_RetainSeedsGraceWindow(t *testing.T) {
	clock := newFakeClock()
	k, err := NewKeyring(secretB, time.Minute, WithKeyringClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, k.Retain(secretA))
	assert.Len(t, k.Accepted(), 2)

	clock.Advance(time.Minute)
	assert.Len(t, k.Accepted(), 1)
}

func TestKeyring_ConcurrentRotateAndRead(t *testing.T) {
	k, err := NewKeyring(secretA, time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			secrets := [][]byte{secretA, secretB, secretC}
			assert.NoError(t, k.Rotate(secrets[i%3]))
		}(i)
		go func() {
			defer wg.Done()
			for _, key := range k.Accepted() {
				assert.GreaterOrEqual(t, len(key.Secret), MinSigningSecretLen)
				assert.NotEmpty(t, key.ID)
			}
		}()
	}
	wg.Wait()
}
