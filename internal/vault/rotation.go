package vault

import (
	"fmt"

	"github.com/kenneth/zk-vault/internal/crypto"
	"github.com/kenneth/zk-vault/internal/store"
)

// RotationState is the terminal state of a master password rotation.
type RotationState string

const (
	// RotationCommitted means the new key is active and the session must re-authenticate.
	RotationCommitted RotationState = "committed"
	// RotationAborted means nothing was modified and the old key remains active.
	RotationAborted RotationState = "aborted"
)

// RotationRequest is everything a rotation plan is computed from.
type RotationRequest struct {
	OldPassword []byte
	NewPassword []byte
	CurrentKey  crypto.Key
	CurrentSalt crypto.Salt
	// CurrentKDF reproduces CurrentKey from OldPassword; NewKDF derives the replacement.
	CurrentKDF *crypto.KDF
	NewKDF     *crypto.KDF
	Files      []*store.FileRecord
}

// RotationPlan holds the new key material and one update per file. It exists only
// between planning and commit; Discard zeroes the new key.
type RotationPlan struct {
	NewKey   crypto.Key
	NewSalt  crypto.Salt
	NewProof *crypto.VaultProof
	Updates  []store.FileKeyUpdate
}

// Discard zeroes the plan's key material.
func (p *RotationPlan) Discard() {
	if p == nil {
		return
	}
	p.NewKey.Zero()
	p.NewKey = nil
}

// PlanRotation verifies the old password, refuses secondary-protected files, derives a
// new master key under a fresh salt and re-wraps every file key and filename under it.
// Any failure returns no plan. PlanRotation reads but never modifies req.Files.
func PlanRotation(engine *crypto.Engine, req RotationRequest) (*RotationPlan, error) {
	candidate, _, err := req.CurrentKDF.Derive(req.OldPassword, req.CurrentSalt)
	if err != nil {
		return nil, ErrIncorrectCurrentPassword
	}
	match := candidate.Equal(req.CurrentKey)
	candidate.Zero()
	if !match {
		return nil, ErrIncorrectCurrentPassword
	}

	protected := 0
	for _, f := range req.Files {
		if f.RequiresSecondaryPassword {
			protected++
		}
	}
	if protected > 0 {
		return nil, fmt.Errorf("%w: %d of %d files", ErrIncompatibleSecondaryProtectedFiles, protected, len(req.Files))
	}

	newSalt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	newKey, _, err := req.NewKDF.Derive(req.NewPassword, newSalt)
	if err != nil {
		return nil, err
	}
	plan := &RotationPlan{NewKey: newKey, NewSalt: newSalt}

	plan.NewProof, err = engine.NewVaultProof(newKey)
	if err != nil {
		plan.Discard()
		return nil, err
	}

	plan.Updates = make([]store.FileKeyUpdate, 0, len(req.Files))
	for _, f := range req.Files {
		rekeyed, err := engine.Rekey(envelopeFromRecord(f, nil), req.CurrentKey, newKey)
		if err != nil {
			plan.Discard()
			return nil, fmt.Errorf("rotation aborted at file %s: %w", f.ID, err)
		}
		plan.Updates = append(plan.Updates, store.FileKeyUpdate{
			FileID:            f.ID,
			WrappedKey:        rekeyed.WrappedKey,
			WrapNonce:         rekeyed.WrapNonce,
			EncryptedFilename: rekeyed.EncryptedFilename,
			FilenameNonce:     rekeyed.FilenameNonce,
		})
	}

	return plan, nil
}
