package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// AlgorithmAES256GCM is the default AES-256-GCM algorithm.
	AlgorithmAES256GCM = "AES256-GCM"
	// AlgorithmChaCha20Poly1305 is the ChaCha20-Poly1305 algorithm.
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"

	// NonceSize is the nonce length of both supported AEADs (96 bits).
	NonceSize = 12
	tagSize   = 16
)

// SupportedAlgorithms lists every AEAD the engine can open.
func SupportedAlgorithms() []string {
	return []string{AlgorithmAES256GCM, AlgorithmChaCha20Poly1305}
}

// createAEADCipher creates an AEAD cipher for the given algorithm and key.
func createAEADCipher(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size for %s: expected %d bytes, got %d", algorithm, KeySize, len(key))
	}

	switch algorithm {
	case AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return gcm, nil
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// isAlgorithmSupported checks if an algorithm is known.
func isAlgorithmSupported(algorithm string) bool {
	for _, alg := range SupportedAlgorithms() {
		if alg == algorithm {
			return true
		}
	}
	return false
}
