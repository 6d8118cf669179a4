package vault

import (
	"time"

	"github.com/kenneth/zk-vault/internal/crypto"
	"github.com/kenneth/zk-vault/internal/store"
)

// FileInfo describes a stored file as the unlocked user sees it.
type FileInfo struct {
	ID                        string
	Name                      string
	FolderRef                 string
	SizeBytes                 int64
	CreatedAt                 time.Time
	RequiresSecondaryPassword bool
	Algorithm                 string
}

func envelopeFromRecord(rec *store.FileRecord, ciphertext []byte) *crypto.Envelope {
	return &crypto.Envelope{
		Algorithm:                 rec.Algorithm,
		Ciphertext:                ciphertext,
		ContentNonce:              rec.ContentNonce,
		WrappedKey:                rec.WrappedKey,
		WrapNonce:                 rec.WrapNonce,
		EncryptedFilename:         rec.EncryptedFilename,
		FilenameNonce:             rec.FilenameNonce,
		RequiresSecondaryPassword: rec.RequiresSecondaryPassword,
		SecondarySalt:             rec.SecondarySalt,
		SecondaryNonce:            rec.SecondaryNonce,
	}
}

// recordFromEnvelope builds the metadata row for env. The ciphertext itself is referenced by blobRef.
func recordFromEnvelope(env *crypto.Envelope, id, accountID, blobRef, folderRef string, size int64, createdAt time.Time) *store.FileRecord {
	return &store.FileRecord{
		ID:                        id,
		AccountID:                 accountID,
		FolderRef:                 folderRef,
		ContentBlobRef:            blobRef,
		ContentNonce:              env.ContentNonce,
		WrappedKey:                env.WrappedKey,
		WrapNonce:                 env.WrapNonce,
		EncryptedFilename:         env.EncryptedFilename,
		FilenameNonce:             env.FilenameNonce,
		RequiresSecondaryPassword: env.RequiresSecondaryPassword,
		SecondarySalt:             env.SecondarySalt,
		SecondaryNonce:            env.SecondaryNonce,
		Algorithm:                 env.Algorithm,
		SizeBytes:                 size,
		CreatedAt:                 createdAt,
	}
}

func (v *Vault) fileInfo(rec *store.FileRecord, masterKey crypto.Key) FileInfo {
	return FileInfo{
		ID:                        rec.ID,
		Name:                      v.engine.DisplayName(envelopeFromRecord(rec, nil), masterKey),
		FolderRef:                 rec.FolderRef,
		SizeBytes:                 rec.SizeBytes,
		CreatedAt:                 rec.CreatedAt,
		RequiresSecondaryPassword: rec.RequiresSecondaryPassword,
		Algorithm:                 rec.Algorithm,
	}
}
