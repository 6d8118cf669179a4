// Package store persists what the vault server is allowed to see: ciphertext blobs
// and the non-secret metadata needed to attempt their decryption.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a blob, file or account does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned when creating a record that is already present.
	ErrAlreadyExists = errors.New("store: already exists")
)

// BlobStore holds opaque ciphertext blobs. The store assigns ids.
type BlobStore interface {
	// Put stores data under a new id and returns it.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id string) error
}

// AccountRecord is the per-account key material the server keeps. None of it is secret.
type AccountRecord struct {
	ID                   string    `json:"id"`
	Salt                 []byte    `json:"salt"`
	KDFIterations        int       `json:"kdf_iterations"`
	VaultProofCiphertext []byte    `json:"vault_proof_ciphertext"`
	VaultProofNonce      []byte    `json:"vault_proof_nonce"`
	Algorithm            string    `json:"algorithm"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// FileRecord is the metadata row for one sealed file. The ciphertext itself lives in a BlobStore.
type FileRecord struct {
	ID                        string    `json:"id"`
	AccountID                 string    `json:"account_id"`
	FolderRef                 string    `json:"folder_ref,omitempty"`
	ContentBlobRef            string    `json:"content_blob_ref"`
	ContentNonce              []byte    `json:"content_nonce"`
	WrappedKey                []byte    `json:"wrapped_key"`
	WrapNonce                 []byte    `json:"wrap_nonce"`
	EncryptedFilename         []byte    `json:"encrypted_filename"`
	FilenameNonce             []byte    `json:"filename_nonce"`
	RequiresSecondaryPassword bool      `json:"requires_secondary_password"`
	SecondarySalt             []byte    `json:"secondary_salt,omitempty"`
	SecondaryNonce            []byte    `json:"secondary_nonce,omitempty"`
	Algorithm                 string    `json:"algorithm"`
	SizeBytes                 int64     `json:"size_bytes"`
	CreatedAt                 time.Time `json:"created_at"`
}

// FileKeyUpdate replaces the master-key-dependent fields of one file during rotation.
type FileKeyUpdate struct {
	FileID            string `json:"file_id"`
	WrappedKey        []byte `json:"wrapped_key"`
	WrapNonce         []byte `json:"wrap_nonce"`
	EncryptedFilename []byte `json:"encrypted_filename"`
	FilenameNonce     []byte `json:"filename_nonce"`
}

// MetadataStore persists account and file records.
type MetadataStore interface {
	CreateAccount(ctx context.Context, account *AccountRecord) error
	GetAccount(ctx context.Context, accountID string) (*AccountRecord, error)

	PutFile(ctx context.Context, file *FileRecord) error
	GetFile(ctx context.Context, accountID, fileID string) (*FileRecord, error)
	// ListFiles returns the account's files ordered by creation time.
	ListFiles(ctx context.Context, accountID string) ([]*FileRecord, error)
	DeleteFile(ctx context.Context, accountID, fileID string) error

	// CommitRotation replaces the account record and applies every update in one
	// transaction. If any referenced file is missing nothing is written.
	CommitRotation(ctx context.Context, account *AccountRecord, updates []FileKeyUpdate) error

	Close() error
}

// Clone returns a deep copy of the record.
func (a *AccountRecord) Clone() *AccountRecord {
	if a == nil {
		return nil
	}
	c := *a
	c.Salt = cloneBytes(a.Salt)
	c.VaultProofCiphertext = cloneBytes(a.VaultProofCiphertext)
	c.VaultProofNonce = cloneBytes(a.VaultProofNonce)
	return &c
}

// Clone returns a deep copy of the record.
func (f *FileRecord) Clone() *FileRecord {
	if f == nil {
		return nil
	}
	c := *f
	c.ContentNonce = cloneBytes(f.ContentNonce)
	c.WrappedKey = cloneBytes(f.WrappedKey)
	c.WrapNonce = cloneBytes(f.WrapNonce)
	c.EncryptedFilename = cloneBytes(f.EncryptedFilename)
	c.FilenameNonce = cloneBytes(f.FilenameNonce)
	c.SecondarySalt = cloneBytes(f.SecondarySalt)
	c.SecondaryNonce = cloneBytes(f.SecondaryNonce)
	return &c
}

// Apply writes the update's fields onto f.
func (u FileKeyUpdate) Apply(f *FileRecord) {
	f.WrappedKey = cloneBytes(u.WrappedKey)
	f.WrapNonce = cloneBytes(u.WrapNonce)
	f.EncryptedFilename = cloneBytes(u.EncryptedFilename)
	f.FilenameNonce = cloneBytes(u.FilenameNonce)
}

// NewBlobID returns a fresh random blob id.
func NewBlobID() string {
	return uuid.NewString()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
