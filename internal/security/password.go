package security

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2Prefix = "$argon2id$"

	minMemoryKiB  uint32 = 8 * 1024
	maxMemoryKiB  uint32 = 1024 * 1024
	maxTimeCost   uint32 = 64
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
)

// PasswordPolicy is the tunable part of password storage. The cost fields
// are written into every secret, so secrets enrolled under an older policy
// stay verifiable after the policy changes.
type PasswordPolicy struct {
	MinLength int
	Time      uint32
	Memory    uint32
	Threads   uint8
	KeyLen    uint32
	SaltLen   uint32
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength: 8,
		Time:      3,
		Memory:    64 * 1024,
		Threads:   2,
		KeyLen:    32,
		SaltLen:   16,
	}
}

func (p PasswordPolicy) Validate() error {
	switch {
	case p.MinLength < 1:
		return fmt.Errorf("%w: min length must be >= 1", ErrInvalidPolicy)
	case p.Time < 1 || p.Time > maxTimeCost:
		return fmt.Errorf("%w: time must be in [1, %d]", ErrInvalidPolicy, maxTimeCost)
	case p.Memory < minMemoryKiB || p.Memory > maxMemoryKiB:
		return fmt.Errorf("%w: memory must be in [%d, %d] KiB", ErrInvalidPolicy, minMemoryKiB, maxMemoryKiB)
	case p.Threads < 1:
		return fmt.Errorf("%w: threads must be >= 1", ErrInvalidPolicy)
	case p.KeyLen < minKeyLength:
		return fmt.Errorf("%w: key length must be >= %d", ErrInvalidPolicy, minKeyLength)
	case p.SaltLen < minSaltLength:
		return fmt.Errorf("%w: salt length must be >= %d", ErrInvalidPolicy, minSaltLength)
	}
	return nil
}

// PasswordHasher turns plaintext passwords into storable secrets and checks
// login attempts against them. It holds no mutable state and is safe for
// concurrent use.
type PasswordHasher struct {
	policy PasswordPolicy
}

func NewPasswordHasher(policy PasswordPolicy) (*PasswordHasher, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &PasswordHasher{policy: policy}, nil
}

func (h *PasswordHasher) Policy() PasswordPolicy {
	return h.policy
}

// Enroll hashes plaintext with argon2id under a fresh random salt.
func (h *PasswordHasher) Enroll(plaintext string) ([]byte, error) {
	if n := utf8.RuneCountInString(plaintext); n < h.policy.MinLength {
		return nil, fmt.Errorf("%w: must be at least %d characters", ErrWeakInput, h.policy.MinLength)
	}

	salt := make([]byte, h.policy.SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(plaintext), salt, h.policy.Time, h.policy.Memory, h.policy.Threads, h.policy.KeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.policy.Memory,
		h.policy.Time,
		h.policy.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return []byte(encoded), nil
}

// Verify reports whether plaintext matches secret. A mismatch is a false
// result, not an error; ErrCorruptSecret is returned only when secret cannot
// be decoded. Legacy bcrypt secrets are accepted.
func (h *PasswordHasher) Verify(plaintext string, secret []byte) (bool, error) {
	if isBcrypt(secret) {
		err := bcrypt.CompareHashAndPassword(secret, []byte(plaintext))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrCorruptSecret, err)
		}
	}

	parsed, err := decodeArgon2(secret)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), parsed.salt, parsed.time, parsed.memory, parsed.threads, uint32(len(parsed.hash)))
	return subtle.ConstantTimeCompare(parsed.hash, computed) == 1, nil
}

// NeedsRehash reports whether secret was produced by a weaker or different
// scheme than the current policy and should be re-enrolled after a
// successful login.
func (h *PasswordHasher) NeedsRehash(secret []byte) bool {
	if isBcrypt(secret) {
		return true
	}
	parsed, err := decodeArgon2(secret)
	if err != nil {
		return true
	}
	return parsed.memory < h.policy.Memory ||
		parsed.time < h.policy.Time ||
		parsed.threads < h.policy.Threads ||
		uint32(len(parsed.hash)) != h.policy.KeyLen
}

func isBcrypt(secret []byte) bool {
	return bytes.HasPrefix(secret, []byte("$2a$")) ||
		bytes.HasPrefix(secret, []byte("$2b$")) ||
		bytes.HasPrefix(secret, []byte("$2y$"))
}

type argon2Secret struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

func decodeArgon2(secret []byte) (argon2Secret, error) {
	encoded := string(secret)
	if !strings.HasPrefix(encoded, argon2Prefix) {
		return argon2Secret{}, fmt.Errorf("%w: unsupported algorithm", ErrCorruptSecret)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return argon2Secret{}, fmt.Errorf("%w: expected 6 sections, got %d", ErrCorruptSecret, len(parts))
	}

	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return argon2Secret{}, fmt.Errorf("%w: unsupported version %q", ErrCorruptSecret, parts[2])
	}

	var out argon2Secret
	var memSet, timeSet, threadsSet bool
	for _, pair := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return argon2Secret{}, fmt.Errorf("%w: bad parameter %q", ErrCorruptSecret, pair)
		}
		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minMemoryKiB || uint32(v) > maxMemoryKiB {
				return argon2Secret{}, fmt.Errorf("%w: bad memory parameter", ErrCorruptSecret)
			}
			out.memory, memSet = uint32(v), true
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < 1 || uint32(v) > maxTimeCost {
				return argon2Secret{}, fmt.Errorf("%w: bad time parameter", ErrCorruptSecret)
			}
			out.time, timeSet = uint32(v), true
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < 1 {
				return argon2Secret{}, fmt.Errorf("%w: bad parallelism parameter", ErrCorruptSecret)
			}
			out.threads, threadsSet = uint8(v), true
		default:
			return argon2Secret{}, fmt.Errorf("%w: unknown parameter %q", ErrCorruptSecret, key)
		}
	}
	if !memSet || !timeSet || !threadsSet {
		return argon2Secret{}, fmt.Errorf("%w: missing parameters", ErrCorruptSecret)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return argon2Secret{}, fmt.Errorf("%w: bad salt encoding", ErrCorruptSecret)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return argon2Secret{}, fmt.Errorf("%w: bad hash encoding", ErrCorruptSecret)
	}

	out.salt = salt
	out.hash = hash
	return out, nil
}
