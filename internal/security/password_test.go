package security

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength: 8,
		Time:      1,
		Memory:    8 * 1024,
		Threads:   1,
		KeyLen:    32,
		SaltLen:   16,
	}
}

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(testPolicy())
	require.NoError(t, err)
	return h
}

func TestEnroll_SaltedAndVerifiable(t *testing.T) {
	h := newTestHasher(t)

	first, err := h.Enroll("correcthorsebatterystaple")
	require.NoError(t, err)
	second, err := h.Enroll("correcthorsebatterystaple")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "same plaintext must produce different secrets")
	assert.True(t, strings.HasPrefix(string(first), "$argon2id$v=19$m=8192,t=1,p=1$"))
	assert.NotContains(t, string(first), "correcthorsebatterystaple")

	for _, secret := range [][]byte{first, second} {
		ok, err := h.Verify("correcthorsebatterystaple", secret)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestEnroll_RejectsWeakInput(t *testing.T) {
	h := newTestHasher(t)

	for _, plaintext := range []string{"", "ab", "1234567"} {
		_, err := h.Enroll(plaintext)
		assert.ErrorIs(t, err, ErrWeakInput, "plaintext %q", plaintext)
	}

	_, err := h.Enroll("12345678")
	assert.NoError(t, err)
}

func TestEnroll_CountsCharactersNotBytes(t *testing.T) {
	h := newTestHasher(t)

	// 4 characters, 12 bytes.
	_, err := h.Enroll("パスワー")
	assert.ErrorIs(t, err, ErrWeakInput)
}

func TestVerify_Mismatch(t *testing.T) {
	h := newTestHasher(t)
	secret, err := h.Enroll("Secr3t!Pass")
	require.NoError(t, err)

	for _, attempt := range []string{"", "Secr3t!Pas", "Secr3t!Pass ", "secr3t!pass", "wrong"} {
		ok, err := h.Verify(attempt, secret)
		require.NoError(t, err, "mismatch must not be an error")
		assert.False(t, ok, "attempt %q", attempt)
	}
}

func TestVerify_CorruptSecret(t *testing.T) {
	h := newTestHasher(t)
	good, err := h.Enroll("Secr3t!Pass")
	require.NoError(t, err)
	parts := strings.Split(string(good), "$")

	cases := map[string]string{
		"empty":           "",
		"plaintext":       "Secr3t!Pass",
		"unknown algo":    "$scrypt$v=19$m=8192,t=1,p=1$" + parts[4] + "$" + parts[5],
		"wrong version":   "$argon2id$v=16$m=8192,t=1,p=1$" + parts[4] + "$" + parts[5],
		"missing section": "$argon2id$v=19$m=8192,t=1,p=1$" + parts[4],
		"bad params":      "$argon2id$v=19$m=x,t=1,p=1$" + parts[4] + "$" + parts[5],
		"missing param":   "$argon2id$v=19$m=8192,t=1$" + parts[4] + "$" + parts[5],
		"huge memory":     "$argon2id$v=19$m=999999999,t=1,p=1$" + parts[4] + "$" + parts[5],
		"bad salt":        "$argon2id$v=19$m=8192,t=1,p=1$!!!$" + parts[5],
		"bad hash":        "$argon2id$v=19$m=8192,t=1,p=1$" + parts[4] + "$!!!",
		"bcrypt garbage":  "$2a$10$short",
	}

	for name, secret := range cases {
		t.Run(name, func(t *testing.T) {
			ok, err := h.Verify("Secr3t!Pass", []byte(secret))
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrCorruptSecret)
		})
	}
}

func TestVerify_SecretFromOlderPolicy(t *testing.T) {
	old := newTestHasher(t)
	secret, err := old.Enroll("Secr3t!Pass")
	require.NoError(t, err)

	stronger := testPolicy()
	stronger.Time = 2
	stronger.Memory = 16 * 1024
	current, err := NewPasswordHasher(stronger)
	require.NoError(t, err)

	ok, err := current.Verify("Secr3t!Pass", secret)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, current.NeedsRehash(secret))
	assert.False(t, old.NeedsRehash(secret))
}

func TestVerify_LegacyBcrypt(t *testing.T) {
	h := newTestHasher(t)
	secret, err := bcrypt.GenerateFromPassword([]byte("Secr3t!Pass"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := h.Verify("Secr3t!Pass", secret)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", secret)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, h.NeedsRehash(secret))
}

func TestEnroll_Concurrent(t *testing.T) {
	h := newTestHasher(t)

	var wg sync.WaitGroup
	secrets := make([][]byte, 8)
	for i := range secrets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.Enroll("correcthorsebatterystaple")
			assert.NoError(t, err)
			secrets[i] = s
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, len(secrets))
	for _, s := range secrets {
		_, dup := seen[string(s)]
		assert.False(t, dup)
		seen[string(s)] = struct{}{}
	}
}

func TestPasswordPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPasswordPolicy().Validate())

	mutate := []func(*PasswordPolicy){
		func(p *PasswordPolicy) { p.MinLength = 0 },
		func(p *PasswordPolicy) { p.Time = 0 },
		func(p *PasswordPolicy) { p.Memory = 1024 },
		func(p *PasswordPolicy) { p.Threads = 0 },
		func(p *PasswordPolicy) { p.KeyLen = 8 },
		func(p *PasswordPolicy) { p.SaltLen = 4 },
	}
	for i, m := range mutate {
		p := DefaultPasswordPolicy()
		m(&p)
		_, err := NewPasswordHasher(p)
		assert.ErrorIs(t, err, ErrInvalidPolicy, "case %d", i)
	}
}
