package crypto

import "errors"

// Errors returned by the key hierarchy. Callers match them with errors.Is.
// None of them carry key material or plaintext in their message.
var (
	// ErrMissingSalt is returned when a key derivation is requested without a salt.
	ErrMissingSalt = errors.New("crypto: missing salt, refusing to derive an unreproducible key")

	// ErrInvalidSalt is returned when a salt has the wrong length.
	ErrInvalidSalt = errors.New("crypto: invalid salt")

	// ErrEmptyPassword is returned when a key derivation is requested for an empty password.
	ErrEmptyPassword = errors.New("crypto: password cannot be empty")

	// ErrAuthentication is returned when the AEAD integrity check fails. It does not
	// distinguish a wrong key from a tampered ciphertext or nonce.
	ErrAuthentication = errors.New("crypto: message authentication failed")

	// ErrUnwrap is returned when a wrapped key cannot be recovered with the given wrapping key.
	ErrUnwrap = errors.New("crypto: unable to unwrap key")

	// ErrIncorrectSecondaryPassword is returned when the outer layer of a double-wrapped key
	// fails to authenticate under the key derived from the secondary password.
	ErrIncorrectSecondaryPassword = errors.New("crypto: incorrect secondary password")

	// ErrInvalidSecondaryPassword is returned when a double wrap is requested with an empty secondary password.
	ErrInvalidSecondaryPassword = errors.New("crypto: secondary password cannot be empty")

	// ErrSecondaryPasswordRequired is returned when an envelope needs a secondary password and none was given.
	ErrSecondaryPasswordRequired = errors.New("crypto: secondary password required")

	// ErrDecryption is the generic content decryption failure. It covers a wrong master key,
	// a corrupted wrapped key and a corrupted ciphertext alike.
	ErrDecryption = errors.New("crypto: unable to decrypt file")

	// ErrDoubleWrapped is returned when an operation that only handles master-wrapped keys
	// is given an envelope protected by a secondary password.
	ErrDoubleWrapped = errors.New("crypto: envelope is protected by a secondary password")

	// ErrUnsupportedAlgorithm is returned for algorithms outside the configured set.
	ErrUnsupportedAlgorithm = errors.New("crypto: unsupported algorithm")

	// ErrInvalidEnvelope is returned when an envelope is missing required fields.
	ErrInvalidEnvelope = errors.New("crypto: invalid envelope")
)
