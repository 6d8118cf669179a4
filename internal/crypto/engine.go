package crypto

import (
	"errors"
	"fmt"
)

// EncryptedFileDisplayName is shown in place of a filename that cannot be decrypted.
const EncryptedFileDisplayName = "Encrypted File"

// Envelope is the persisted bundle describing one encrypted file. It carries every
// nonce and salt needed to attempt decryption, and nothing that narrows the secret search space.
type Envelope struct {
	Algorithm                 string
	Ciphertext                []byte
	ContentNonce              []byte
	WrappedKey                []byte
	WrapNonce                 []byte
	EncryptedFilename         []byte
	FilenameNonce             []byte
	RequiresSecondaryPassword bool
	SecondarySalt             []byte
	SecondaryNonce            []byte
}

func (env *Envelope) wrappedKey() *WrappedKey {
	wk := &WrappedKey{
		Ciphertext: env.WrappedKey,
		Nonce:      env.WrapNonce,
	}
	if env.RequiresSecondaryPassword {
		wk.SecondarySalt = env.SecondarySalt
		wk.SecondaryNonce = env.SecondaryNonce
	}
	return wk
}

// Engine orchestrates key derivation, the cipher and key wrapping to seal and open
// whole files. New envelopes use the preferred algorithm; any supported algorithm can be opened.
type Engine struct {
	preferred *Cipher
	ciphers   map[string]*Cipher
	wrappers  map[string]*KeyWrapper
}

// NewEngine creates an envelope engine. An empty algorithm selects AES-256-GCM and a
// nil secondaryKDF selects DefaultSecondaryIterations.
func NewEngine(algorithm string, secondaryKDF *KDF) (*Engine, error) {
	preferred, err := NewCipher(algorithm)
	if err != nil {
		return nil, err
	}
	if secondaryKDF == nil {
		secondaryKDF, err = NewSecondaryKDF(0)
		if err != nil {
			return nil, err
		}
	}

	e := &Engine{
		preferred: preferred,
		ciphers:   make(map[string]*Cipher),
		wrappers:  make(map[string]*KeyWrapper),
	}
	for _, alg := range SupportedAlgorithms() {
		c, err := NewCipher(alg)
		if err != nil {
			return nil, err
		}
		e.ciphers[alg] = c
		e.wrappers[alg] = NewKeyWrapper(c, secondaryKDF)
	}
	return e, nil
}

// Algorithm returns the algorithm used for new envelopes.
func (e *Engine) Algorithm() string {
	return e.preferred.Algorithm()
}

func (e *Engine) cipherFor(algorithm string) (*Cipher, *KeyWrapper, error) {
	if algorithm == "" {
		algorithm = AlgorithmAES256GCM
	}
	c, ok := e.ciphers[algorithm]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return c, e.wrappers[algorithm], nil
}

// Seal encrypts fileBytes under a fresh data key, encrypts filename under masterKey
// and wraps the data key. A nil secondaryPassword selects a single wrap; a non-nil one
// selects a double wrap and must not be empty.
func (e *Engine) Seal(fileBytes []byte, filename string, masterKey Key, secondaryPassword []byte) (*Envelope, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("invalid master key size: expected %d bytes, got %d", KeySize, len(masterKey))
	}
	if secondaryPassword != nil && len(secondaryPassword) == 0 {
		return nil, ErrInvalidSecondaryPassword
	}

	c := e.preferred
	wrapper := e.wrappers[c.Algorithm()]

	dataKey, err := GenerateDataKey()
	if err != nil {
		return nil, err
	}
	defer dataKey.Zero()

	ciphertext, contentNonce, err := c.Encrypt(fileBytes, dataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt file content: %w", err)
	}

	encryptedName, nameNonce, err := c.EncryptString(filename, masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt filename: %w", err)
	}

	var wrapped *WrappedKey
	if secondaryPassword != nil {
		wrapped, err = wrapper.DoubleWrap(dataKey, masterKey, secondaryPassword)
	} else {
		wrapped, err = wrapper.Wrap(dataKey, masterKey)
	}
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Algorithm:                 c.Algorithm(),
		Ciphertext:                ciphertext,
		ContentNonce:              contentNonce,
		WrappedKey:                wrapped.Ciphertext,
		WrapNonce:                 wrapped.Nonce,
		EncryptedFilename:         encryptedName,
		FilenameNonce:             nameNonce,
		RequiresSecondaryPassword: wrapped.IsDoubleWrapped(),
		SecondarySalt:             wrapped.SecondarySalt,
		SecondaryNonce:            wrapped.SecondaryNonce,
	}, nil
}

// Open recovers the file bytes of env.
//
// A missing secondary password is rejected before any key derivation. A wrong
// secondary password yields ErrIncorrectSecondaryPassword. Every other failure,
// whether a wrong master key or corrupted data, yields ErrDecryption.
func (e *Engine) Open(env *Envelope, masterKey Key, secondaryPassword []byte) ([]byte, error) {
	if env == nil {
		return nil, ErrInvalidEnvelope
	}
	if env.RequiresSecondaryPassword && len(secondaryPassword) == 0 {
		return nil, ErrSecondaryPasswordRequired
	}

	c, wrapper, err := e.cipherFor(env.Algorithm)
	if err != nil {
		return nil, err
	}

	var dataKey Key
	if env.RequiresSecondaryPassword {
		dataKey, err = wrapper.DoubleUnwrap(env.wrappedKey(), masterKey, secondaryPassword)
	} else {
		dataKey, err = wrapper.Unwrap(env.wrappedKey(), masterKey)
	}
	if err != nil {
		if errors.Is(err, ErrIncorrectSecondaryPassword) {
			return nil, err
		}
		return nil, ErrDecryption
	}
	defer dataKey.Zero()

	plaintext, err := c.Decrypt(env.Ciphertext, env.ContentNonce, dataKey)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// OpenFilename decrypts the filename of env. It depends on masterKey only and is
// independent of content decryption.
func (e *Engine) OpenFilename(env *Envelope, masterKey Key) (string, error) {
	if env == nil {
		return "", ErrInvalidEnvelope
	}
	c, _, err := e.cipherFor(env.Algorithm)
	if err != nil {
		return "", err
	}
	return c.DecryptString(env.EncryptedFilename, env.FilenameNonce, masterKey)
}

// DisplayName returns the decrypted filename, or EncryptedFileDisplayName if it cannot be recovered.
func (e *Engine) DisplayName(env *Envelope, masterKey Key) string {
	name, err := e.OpenFilename(env, masterKey)
	if err != nil {
		return EncryptedFileDisplayName
	}
	return name
}

// Rekey returns a copy of env whose data key and filename are sealed under newKey
// instead of oldKey, each with a fresh nonce. Content ciphertext is shared, not
// re-encrypted. Envelopes behind a secondary password are refused with ErrDoubleWrapped.
func (e *Engine) Rekey(env *Envelope, oldKey, newKey Key) (*Envelope, error) {
	if env == nil {
		return nil, ErrInvalidEnvelope
	}
	if env.RequiresSecondaryPassword {
		return nil, ErrDoubleWrapped
	}
	c, wrapper, err := e.cipherFor(env.Algorithm)
	if err != nil {
		return nil, err
	}

	name, err := c.DecryptString(env.EncryptedFilename, env.FilenameNonce, oldKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt filename: %w", err)
	}
	dataKey, err := wrapper.Unwrap(env.wrappedKey(), oldKey)
	if err != nil {
		return nil, err
	}
	defer dataKey.Zero()

	wrapped, err := wrapper.Wrap(dataKey, newKey)
	if err != nil {
		return nil, err
	}
	encryptedName, nameNonce, err := c.EncryptString(name, newKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt filename: %w", err)
	}

	out := *env
	out.WrappedKey = wrapped.Ciphertext
	out.WrapNonce = wrapped.Nonce
	out.EncryptedFilename = encryptedName
	out.FilenameNonce = nameNonce
	return &out, nil
}
