package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestKDF_Derive(t *testing.T) {
	kdf, err := NewKDF(1000)
	if err != nil {
		t.Fatalf("NewKDF() error: %v", err)
	}
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error: %v", err)
	}

	tests := []struct {
		name     string
		password []byte
		salt     Salt
		wantErr  error
	}{
		{
			name:     "valid input",
			password: []byte("correct-horse"),
			salt:     salt,
		},
		{
			name:     "missing salt",
			password: []byte("correct-horse"),
			salt:     nil,
			wantErr:  ErrMissingSalt,
		},
		{
			name:     "short salt",
			password: []byte("correct-horse"),
			salt:     salt[:8],
			wantErr:  ErrInvalidSalt,
		},
		{
			name:     "empty password",
			password: []byte{},
			salt:     salt,
			wantErr:  ErrEmptyPassword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, usedSalt, err := kdf.Derive(tt.password, tt.salt)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Derive() error = %v, want %v", err, tt.wantErr)
				}
				if key != nil {
					t.Errorf("Derive() returned a key on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Derive() unexpected error: %v", err)
			}
			if len(key) != KeySize {
				t.Errorf("Derive() key length = %d, want %d", len(key), KeySize)
			}
			if !bytes.Equal(usedSalt, tt.salt) {
				t.Errorf("Derive() did not return the salt it used")
			}
		})
	}
}

func TestKDF_Deterministic(t *testing.T) {
	kdf, _ := NewKDF(1000)
	salt, _ := NewSalt()

	k1, _, err := kdf.Derive([]byte("correct-horse"), salt)
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	k2, _, err := kdf.Derive([]byte("correct-horse"), salt)
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	if !k1.Equal(k2) {
		t.Fatal("same password and salt produced different keys")
	}

	other, _, _ := kdf.Derive([]byte("battery-staple"), salt)
	if k1.Equal(other) {
		t.Error("different passwords produced the same key")
	}

	salt2, _ := NewSalt()
	k3, _, _ := kdf.Derive([]byte("correct-horse"), salt2)
	if k1.Equal(k3) {
		t.Error("different salts produced the same key")
	}
}

func TestNewMasterKDF(t *testing.T) {
	kdf, err := NewMasterKDF(0)
	if err != nil {
		t.Fatalf("NewMasterKDF(0) error: %v", err)
	}
	if kdf.Iterations() != DefaultMasterIterations {
		t.Errorf("Iterations() = %d, want %d", kdf.Iterations(), DefaultMasterIterations)
	}

	if _, err := NewMasterKDF(MinMasterIterations - 1); err == nil {
		t.Error("expected error below the master iteration floor")
	}
	if _, err := NewMasterKDF(MinMasterIterations * 2); err != nil {
		t.Errorf("unexpected error above the floor: %v", err)
	}
}

func TestNewSecondaryKDF(t *testing.T) {
	kdf, err := NewSecondaryKDF(0)
	if err != nil {
		t.Fatalf("NewSecondaryKDF(0) error: %v", err)
	}
	if kdf.Iterations() != DefaultSecondaryIterations {
		t.Errorf("Iterations() = %d, want %d", kdf.Iterations(), DefaultSecondaryIterations)
	}
	if _, err := NewSecondaryKDF(MinSecondaryIterations - 1); err == nil {
		t.Error("expected error below the secondary iteration floor")
	}
	if _, err := NewKDF(0); err == nil {
		t.Error("expected error for zero iterations")
	}
}

func TestNewSalt_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		salt, err := NewSalt()
		if err != nil {
			t.Fatalf("NewSalt() error: %v", err)
		}
		if len(salt) != SaltSize {
			t.Fatalf("salt length = %d, want %d", len(salt), SaltSize)
		}
		if seen[string(salt)] {
			t.Fatal("NewSalt() repeated a value")
		}
		seen[string(salt)] = true
	}
}

func TestKey_ZeroAndRedaction(t *testing.T) {
	key, err := GenerateDataKey()
	if err != nil {
		t.Fatalf("GenerateDataKey() error: %v", err)
	}
	clone := key.Clone()
	if !clone.Equal(key) {
		t.Fatal("Clone() differs from original")
	}

	key.Zero()
	if !bytes.Equal(key, make([]byte, KeySize)) {
		t.Error("Zero() left key material behind")
	}
	if bytes.Equal(clone, make([]byte, KeySize)) {
		t.Error("Zero() affected an independent clone")
	}

	if s := clone.String(); s != "[REDACTED]" {
		t.Errorf("String() = %q, want redacted", s)
	}
}
