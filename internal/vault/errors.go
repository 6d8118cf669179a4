package vault

import (
	"errors"

	"github.com/kenneth/zk-vault/internal/crypto"
	"github.com/kenneth/zk-vault/internal/session"
	"github.com/kenneth/zk-vault/internal/store"
)

var (
	// ErrIncorrectCurrentPassword is returned when a rotation's old password does not
	// reproduce the unlocked master key. Nothing is modified.
	ErrIncorrectCurrentPassword = errors.New("vault: incorrect current password")

	// ErrIncompatibleSecondaryProtectedFiles is returned when a rotation finds files behind
	// a secondary password. Rotation cannot re-derive secrets it was never given, so nothing is modified.
	ErrIncompatibleSecondaryProtectedFiles = errors.New("vault: rotation is not supported while secondary-password-protected files exist")

	// ErrIncorrectMasterPassword is returned when unlocking with a password that does not open the vault proof.
	ErrIncorrectMasterPassword = errors.New("vault: incorrect master password")

	// ErrNotRegistered is returned when the account has no key material yet.
	ErrNotRegistered = errors.New("vault: account is not registered")

	// ErrAlreadyRegistered is returned when registering an account twice.
	ErrAlreadyRegistered = errors.New("vault: account is already registered")

	// ErrFileTooLarge is returned for uploads above the configured size limit.
	ErrFileTooLarge = errors.New("vault: file exceeds maximum size")

	// ErrFileNotFound is returned when a file id does not exist in the account.
	ErrFileNotFound = errors.New("vault: file not found")
)

// errorType maps an error to a low-cardinality metrics label.
func errorType(err error) string {
	switch {
	case errors.Is(err, session.ErrVaultLocked):
		return "vault_locked"
	case errors.Is(err, ErrIncorrectCurrentPassword), errors.Is(err, ErrIncorrectMasterPassword):
		return "incorrect_password"
	case errors.Is(err, ErrIncompatibleSecondaryProtectedFiles):
		return "secondary_protected_files"
	case errors.Is(err, ErrNotRegistered), errors.Is(err, ErrAlreadyRegistered):
		return "registration"
	case errors.Is(err, ErrFileTooLarge):
		return "file_too_large"
	case errors.Is(err, ErrFileNotFound), errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, crypto.ErrSecondaryPasswordRequired):
		return "secondary_password_required"
	case errors.Is(err, crypto.ErrIncorrectSecondaryPassword), errors.Is(err, crypto.ErrInvalidSecondaryPassword):
		return "secondary_password"
	case errors.Is(err, crypto.ErrDecryption), errors.Is(err, crypto.ErrAuthentication), errors.Is(err, crypto.ErrUnwrap):
		return "decryption"
	case errors.Is(err, crypto.ErrEmptyPassword):
		return "empty_password"
	default:
		return "internal"
	}
}
