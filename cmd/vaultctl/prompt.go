package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/kenneth/zk-vault/internal/crypto"
)

const (
	envMasterPassword    = "VAULTCTL_MASTER_PASSWORD"
	envNewMasterPassword = "VAULTCTL_NEW_MASTER_PASSWORD"
	envSecondaryPassword = "VAULTCTL_SECONDARY_PASSWORD"
)

var errPasswordMismatch = errors.New("passwords do not match")

// readPassphrase prompts for a passphrase without echoing input.
// Returns an error if stdin is not a terminal.
func readPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("cannot read passphrase: stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// readSecret returns the value of envName if set, otherwise prompts.
func readSecret(envName, prompt string) ([]byte, error) {
	if v := os.Getenv(envName); v != "" {
		return []byte(v), nil
	}
	return readPassphrase(prompt)
}

// readNewSecret is readSecret with a confirmation prompt.
func readNewSecret(envName, prompt string) ([]byte, error) {
	if v := os.Getenv(envName); v != "" {
		return []byte(v), nil
	}
	first, err := readPassphrase(prompt)
	if err != nil {
		return nil, err
	}
	second, err := readPassphrase("Confirm " + prompt)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) {
		return nil, errPasswordMismatch
	}
	return first, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func isSecondaryRequired(err error) bool {
	return errors.Is(err, crypto.ErrSecondaryPasswordRequired)
}
