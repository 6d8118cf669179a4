package crypto

import (
	"crypto/rand"
	"fmt"
	"unicode/utf8"
)

// Cipher performs authenticated encryption of byte buffers and short strings
// under a symmetric key, with a fresh random nonce per call.
type Cipher struct {
	algorithm string
}

// NewCipher creates a Cipher for the given algorithm. An empty algorithm selects AES-256-GCM.
func NewCipher(algorithm string) (*Cipher, error) {
	if algorithm == "" {
		algorithm = AlgorithmAES256GCM
	}
	if !isAlgorithmSupported(algorithm) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return &Cipher{algorithm: algorithm}, nil
}

// Algorithm returns the AEAD name recorded alongside ciphertexts.
func (c *Cipher) Algorithm() string {
	return c.algorithm
}

// Encrypt seals plaintext under key. The returned nonce is not secret and must be
// stored with the ciphertext.
func (c *Cipher) Encrypt(plaintext []byte, key Key) (ciphertext, nonce []byte, err error) {
	aead, err := createAEADCipher(c.algorithm, key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens ciphertext under key. Any tampering, a wrong key or a malformed
// nonce yields ErrAuthentication and no plaintext.
func (c *Cipher) Decrypt(ciphertext, nonce []byte, key Key) ([]byte, error) {
	aead, err := createAEADCipher(c.algorithm, key)
	if err != nil {
		return nil, err
	}

	// cipher.AEAD panics on a nonce of the wrong size
	if len(nonce) != aead.NonceSize() || len(ciphertext) < tagSize {
		return nil, ErrAuthentication
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// EncryptString seals a UTF-8 string such as a filename.
func (c *Cipher) EncryptString(s string, key Key) (ciphertext, nonce []byte, err error) {
	return c.Encrypt([]byte(s), key)
}

// DecryptString opens a string sealed with EncryptString.
func (c *Cipher) DecryptString(ciphertext, nonce []byte, key Key) (string, error) {
	plaintext, err := c.Decrypt(ciphertext, nonce, key)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", fmt.Errorf("%w: decrypted string is not valid UTF-8", ErrAuthentication)
	}
	return string(plaintext), nil
}
