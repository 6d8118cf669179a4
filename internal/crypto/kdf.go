package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length of every symmetric key in the hierarchy (256 bits).
	KeySize = 32
	// SaltSize is the length of master and secondary salts.
	SaltSize = 16

	// MinMasterIterations is the lowest PBKDF2 iteration count accepted for the master key path.
	MinMasterIterations = 200000
	// DefaultMasterIterations is the iteration count used for master keys.
	DefaultMasterIterations = MinMasterIterations
	// DefaultSecondaryIterations is the iteration count used for secondary-password keys.
	DefaultSecondaryIterations = 100000
	// MinSecondaryIterations is the lowest iteration count accepted for secondary-password keys.
	MinSecondaryIterations = 10000
)

// Key is a symmetric key. It is only ever held in memory.
type Key []byte

// Salt is a non-secret random value bound to a derived key.
type Salt []byte

// Equal reports whether both keys hold the same bytes, in constant time.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	return subtle.ConstantTimeCompare(k, other) == 1
}

// Clone returns an independent copy of the key.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	c := make(Key, len(k))
	copy(c, k)
	return c
}

// Zero overwrites the key in place.
func (k Key) Zero() {
	zeroBytes(k)
}

// String never prints key material.
func (k Key) String() string {
	return "[REDACTED]"
}

// GoString never prints key material.
func (k Key) GoString() string {
	return "crypto.Key{[REDACTED]}"
}

// NewSalt returns SaltSize bytes from the system CSPRNG.
func NewSalt() (Salt, error) {
	salt := make(Salt, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateDataKey returns a uniformly random key, independent of every other key.
func GenerateDataKey() (Key, error) {
	key := make(Key, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return key, nil
}

// KDF derives symmetric keys from human passwords with PBKDF2-HMAC-SHA256.
type KDF struct {
	iterations int
}

// NewKDF creates a KDF with the given iteration count.
func NewKDF(iterations int) (*KDF, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("kdf iterations must be positive, got %d", iterations)
	}
	return &KDF{iterations: iterations}, nil
}

// NewMasterKDF creates a KDF for the master key path, enforcing MinMasterIterations.
func NewMasterKDF(iterations int) (*KDF, error) {
	if iterations == 0 {
		iterations = DefaultMasterIterations
	}
	if iterations < MinMasterIterations {
		return nil, fmt.Errorf("master kdf iterations must be at least %d, got %d", MinMasterIterations, iterations)
	}
	return &KDF{iterations: iterations}, nil
}

// NewSecondaryKDF creates a KDF for secondary passwords, enforcing MinSecondaryIterations.
func NewSecondaryKDF(iterations int) (*KDF, error) {
	if iterations == 0 {
		iterations = DefaultSecondaryIterations
	}
	if iterations < MinSecondaryIterations {
		return nil, fmt.Errorf("secondary kdf iterations must be at least %d, got %d", MinSecondaryIterations, iterations)
	}
	return &KDF{iterations: iterations}, nil
}

// Iterations returns the configured iteration count.
func (d *KDF) Iterations() int {
	return d.iterations
}

// Derive turns password and salt into a KeySize key. The same inputs always yield the
// same key. The salt is returned unchanged so callers can persist what was used.
func (d *KDF) Derive(password []byte, salt Salt) (Key, Salt, error) {
	if len(salt) == 0 {
		return nil, nil, ErrMissingSalt
	}
	if len(salt) != SaltSize {
		return nil, nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSalt, SaltSize, len(salt))
	}
	if len(password) == 0 {
		return nil, nil, ErrEmptyPassword
	}

	key := pbkdf2.Key(password, salt, d.iterations, KeySize, sha256.New)
	return Key(key), salt, nil
}
