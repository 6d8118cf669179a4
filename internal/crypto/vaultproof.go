package crypto

import "fmt"

// VaultProofMarker is the known plaintext sealed under every master key. It is not secret.
const VaultProofMarker = "SECURE_VAULT"

// VaultProof is VaultProofMarker encrypted under a master key. Decrypting it is the
// only check that a candidate master key is correct.
type VaultProof struct {
	Algorithm  string
	Ciphertext []byte
	Nonce      []byte
}

// NewVaultProof seals VaultProofMarker under masterKey.
func (e *Engine) NewVaultProof(masterKey Key) (*VaultProof, error) {
	ciphertext, nonce, err := e.preferred.EncryptString(VaultProofMarker, masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault proof: %w", err)
	}
	return &VaultProof{
		Algorithm:  e.preferred.Algorithm(),
		Ciphertext: ciphertext,
		Nonce:      nonce,
	}, nil
}

// VerifyVaultProof returns nil if candidate opens proof to VaultProofMarker, and ErrAuthentication otherwise.
func (e *Engine) VerifyVaultProof(proof *VaultProof, candidate Key) error {
	if proof == nil {
		return ErrAuthentication
	}
	c, _, err := e.cipherFor(proof.Algorithm)
	if err != nil {
		return err
	}
	marker, err := c.DecryptString(proof.Ciphertext, proof.Nonce, candidate)
	if err != nil {
		return ErrAuthentication
	}
	if marker != VaultProofMarker {
		return ErrAuthentication
	}
	return nil
}
