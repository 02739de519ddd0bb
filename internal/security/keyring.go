package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

const MinSigningSecretLen = 32

type SigningKey struct {
	ID     string
	Secret []byte
}

func newSigningKey(secret []byte) (SigningKey, error) {
	if len(secret) == 0 {
		return SigningKey{}, ErrSigningSecretMissing
	}
	if len(secret) < MinSigningSecretLen {
		return SigningKey{}, fmt.Errorf("%w: need at least %d bytes", ErrSigningSecretTooShort, MinSigningSecretLen)
	}
	sum := sha256.Sum256(secret)
	buf := make([]byte, len(secret))
	copy(buf, secret)
	return SigningKey{ID: hex.EncodeToString(sum[:8]), Secret: buf}, nil
}

type keySet struct {
	active        SigningKey
	previous      *SigningKey
	previousUntil time.Time
}

// Keyring holds the process-wide signing secret. Readers load an immutable
// snapshot; Rotate swaps in a new snapshot atomically, so a validation never
// observes a half-updated key set. The replaced secret stays acceptable for
// the configured grace period.
type Keyring struct {
	set   atomic.Pointer[keySet]
	grace time.Duration
	now   func() time.Time
}

type KeyringOption func(*Keyring)

func WithKeyringClock(now func() time.Time) KeyringOption {
	return func(k *Keyring) { k.now = now }
}

func NewKeyring(secret []byte, grace time.Duration, opts ...KeyringOption) (*Keyring, error) {
	active, err := newSigningKey(secret)
	if err != nil {
		return nil, err
	}
	if grace < 0 {
		grace = 0
	}

	k := &Keyring{grace: grace, now: time.Now}
	for _, opt := range opts {
		opt(k)
	}
	k.set.Store(&keySet{active: active})
	return k, nil
}

func (k *Keyring) Active() SigningKey {
	return k.set.Load().active
}

// Accepted returns the keys a token may be signed with right now, active
// key first.
func (k *Keyring) Accepted() []SigningKey {
	set := k.set.Load()
	keys := []SigningKey{set.active}
	if set.previous != nil && k.now().Before(set.previousUntil) {
		keys = append(keys, *set.previous)
	}
	return keys
}

// Rotate makes secret the active key. Tokens signed with the old key keep
// validating until the grace period ends. Rotating to the active secret is
// a no-op.
func (k *Keyring) Rotate(secret []byte) error {
	next, err := newSigningKey(secret)
	if err != nil {
		return err
	}

	for {
		cur := k.set.Load()
		if cur.active.ID == next.ID {
			return nil
		}
		prev := cur.active
		updated := &keySet{
			active:        next,
			previous:      &prev,
			previousUntil: k.now().Add(k.grace),
		}
		if k.set.CompareAndSwap(cur, updated) {
			return nil
		}
	}
}

// Retain seeds the grace window with a secret that was active before this
// process started, so a restart during rotation does not drop live tokens.
func (k *Keyring) Retain(secret []byte) error {
	prev, err := newSigningKey(secret)
	if err != nil {
		return err
	}
	for {
		cur := k.set.Load()
		if cur.active.ID == prev.ID {
			return nil
		}
		updated := &keySet{
			active:        cur.active,
			previous:      &prev,
			previousUntil: k.now().Add(k.grace),
		}
		if k.set.CompareAndSwap(cur, updated) {
			return nil
		}
	}
}

// Prune forgets the previous key once its grace period is over. It reports
// whether a key was dropped.
func (k *Keyring) Prune() bool {
	for {
		cur := k.set.Load()
		if cur.previous == nil || k.now().Before(cur.previousUntil) {
			return false
		}
		if k.set.CompareAndSwap(cur, &keySet{active: cur.active}) {
			return true
		}
	}
}
