package crypto

import (
	"errors"
	"fmt"
)

// WrappedKey captures the information required to unwrap a data key.
//
// For a single wrap, Ciphertext is the data key sealed under the wrapping key and
// Nonce is the wrap nonce. For a double wrap, Ciphertext is that inner wrapped form
// sealed again under a key derived from the secondary password; Nonce still refers
// to the inner layer while SecondarySalt and SecondaryNonce describe the outer one.
type WrappedKey struct {
	Ciphertext     []byte
	Nonce          []byte
	SecondarySalt  Salt
	SecondaryNonce []byte
}

// IsDoubleWrapped reports whether the key is gated by a secondary password.
func (w *WrappedKey) IsDoubleWrapped() bool {
	return len(w.SecondarySalt) > 0 || len(w.SecondaryNonce) > 0
}

// KeyWrapper wraps and unwraps data keys, optionally behind a secondary password.
type KeyWrapper struct {
	cipher       *Cipher
	secondaryKDF *KDF
}

// NewKeyWrapper creates a KeyWrapper using c for both layers and secondaryKDF for the outer layer.
func NewKeyWrapper(c *Cipher, secondaryKDF *KDF) *KeyWrapper {
	return &KeyWrapper{cipher: c, secondaryKDF: secondaryKDF}
}

// Wrap seals dataKey under wrappingKey.
func (w *KeyWrapper) Wrap(dataKey, wrappingKey Key) (*WrappedKey, error) {
	if len(dataKey) != KeySize {
		return nil, fmt.Errorf("invalid data key size: expected %d bytes, got %d", KeySize, len(dataKey))
	}
	ciphertext, nonce, err := w.cipher.Encrypt(dataKey, wrappingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key: %w", err)
	}
	return &WrappedKey{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// Unwrap recovers the data key sealed by Wrap. Any failure is reported as ErrUnwrap.
func (w *KeyWrapper) Unwrap(wrapped *WrappedKey, wrappingKey Key) (Key, error) {
	if wrapped == nil {
		return nil, ErrUnwrap
	}
	if wrapped.IsDoubleWrapped() {
		return nil, fmt.Errorf("%w: %w", ErrUnwrap, ErrDoubleWrapped)
	}
	return w.unwrapInner(wrapped.Ciphertext, wrapped.Nonce, wrappingKey)
}

// DoubleWrap wraps dataKey under masterKey and then seals the result under a key
// derived from secondaryPassword and a fresh salt. Recovering the data key requires both secrets.
func (w *KeyWrapper) DoubleWrap(dataKey, masterKey Key, secondaryPassword []byte) (*WrappedKey, error) {
	if len(secondaryPassword) == 0 {
		return nil, ErrInvalidSecondaryPassword
	}

	inner, err := w.Wrap(dataKey, masterKey)
	if err != nil {
		return nil, err
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	secondaryKey, _, err := w.secondaryKDF.Derive(secondaryPassword, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive secondary key: %w", err)
	}
	defer secondaryKey.Zero()

	outer, outerNonce, err := w.cipher.Encrypt(inner.Ciphertext, secondaryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal outer key layer: %w", err)
	}

	return &WrappedKey{
		Ciphertext:     outer,
		Nonce:          inner.Nonce,
		SecondarySalt:  salt,
		SecondaryNonce: outerNonce,
	}, nil
}

// DoubleUnwrap reverses DoubleWrap. An outer layer that fails to authenticate yields
// ErrIncorrectSecondaryPassword; an inner layer failure yields ErrUnwrap.
func (w *KeyWrapper) DoubleUnwrap(wrapped *WrappedKey, masterKey Key, secondaryPassword []byte) (Key, error) {
	if len(secondaryPassword) == 0 {
		return nil, ErrSecondaryPasswordRequired
	}
	if wrapped == nil || !wrapped.IsDoubleWrapped() {
		return nil, ErrUnwrap
	}

	secondaryKey, _, err := w.secondaryKDF.Derive(secondaryPassword, wrapped.SecondarySalt)
	if err != nil {
		if errors.Is(err, ErrMissingSalt) || errors.Is(err, ErrInvalidSalt) {
			return nil, fmt.Errorf("%w: %w", ErrUnwrap, err)
		}
		return nil, err
	}
	defer secondaryKey.Zero()

	inner, err := w.cipher.Decrypt(wrapped.Ciphertext, wrapped.SecondaryNonce, secondaryKey)
	if err != nil {
		return nil, ErrIncorrectSecondaryPassword
	}
	defer zeroBytes(inner)

	return w.unwrapInner(inner, wrapped.Nonce, masterKey)
}

func (w *KeyWrapper) unwrapInner(ciphertext, nonce []byte, wrappingKey Key) (Key, error) {
	dataKey, err := w.cipher.Decrypt(ciphertext, nonce, wrappingKey)
	if err != nil {
		return nil, ErrUnwrap
	}
	if len(dataKey) != KeySize {
		zeroBytes(dataKey)
		return nil, ErrUnwrap
	}
	return Key(dataKey), nil
}
