// Package vault is the zero-knowledge file vault: it seals files on the way into
// storage and opens them on the way out, so that the stores only ever see ciphertext.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/zk-vault/internal/audit"
	"github.com/kenneth/zk-vault/internal/crypto"
	"github.com/kenneth/zk-vault/internal/metrics"
	"github.com/kenneth/zk-vault/internal/session"
	"github.com/kenneth/zk-vault/internal/store"
	"github.com/kenneth/zk-vault/internal/tracing"
)

// DefaultMaxFileSize bounds a single upload when Options.MaxFileSize is zero.
const DefaultMaxFileSize int64 = 100 << 20

// Options configures a Vault.
type Options struct {
	AccountID string
	// Algorithm selects the AEAD for new envelopes. Empty means AES-256-GCM.
	Algorithm string
	// MasterKDF derives master keys for registration and rotation. Nil means NewMasterKDF(0).
	MasterKDF *crypto.KDF
	// SecondaryKDF derives secondary-password keys. Nil means NewSecondaryKDF(0).
	SecondaryKDF *crypto.KDF
	MaxFileSize  int64

	Blobs    store.BlobStore
	Metadata store.MetadataStore
	Session  *session.Session

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Audit   audit.Logger
}

// Vault serves one account. It is safe for concurrent use.
type Vault struct {
	accountID   string
	engine      *crypto.Engine
	masterKDF   *crypto.KDF
	maxFileSize int64

	blobs    store.BlobStore
	metadata store.MetadataStore
	session  *session.Session

	logger  *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Logger

	// rotation is held exclusively while the master key is rotated. File operations
	// hold it shared so none of them straddles a key change.
	rotation sync.RWMutex
}

// UploadRequest is a file to seal. A nil SecondaryPassword selects a single wrap.
type UploadRequest struct {
	Name              string
	Data              []byte
	FolderRef         string
	SecondaryPassword []byte
}

// File is a decrypted file.
type File struct {
	Info FileInfo
	Data []byte
}

// RotationResult reports the outcome of ChangeMasterPassword.
type RotationResult struct {
	State          RotationState
	FilesRewrapped int
}

// Status summarises the account and session.
type Status struct {
	AccountID  string
	Registered bool
	Unlocked   bool
	Algorithm  string
}

// New creates a Vault from opts.
func New(opts Options) (*Vault, error) {
	if opts.AccountID == "" {
		return nil, errors.New("vault: account id is required")
	}
	if opts.Blobs == nil || opts.Metadata == nil {
		return nil, errors.New("vault: blob and metadata stores are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}
	if opts.Session == nil {
		opts.Session = session.New(session.DefaultIdleTimeout, opts.Logger)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	var err error
	if opts.MasterKDF == nil {
		if opts.MasterKDF, err = crypto.NewMasterKDF(0); err != nil {
			return nil, err
		}
	}
	engine, err := crypto.NewEngine(opts.Algorithm, opts.SecondaryKDF)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		accountID:   opts.AccountID,
		engine:      engine,
		masterKDF:   opts.MasterKDF,
		maxFileSize: opts.MaxFileSize,
		blobs:       opts.Blobs,
		metadata:    opts.Metadata,
		session:     opts.Session,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
	}
	v.session.OnLock(v.onLock)
	return v, nil
}

func (v *Vault) onLock(reason session.LockReason) {
	if v.metrics != nil {
		v.metrics.RecordLock(string(reason))
	}
	if v.audit != nil {
		v.audit.LogSession(audit.EventTypeLock, v.accountID, string(reason), nil)
	}
}

func (v *Vault) log() *logrus.Entry {
	return v.logger.WithField("account_id", v.accountID)
}

// observe records metrics for a finished operation.
func (v *Vault) observe(operation string, start time.Time, bytes int64, err error) {
	if v.metrics == nil {
		return
	}
	if err != nil {
		v.metrics.RecordError(operation, errorType(err))
		return
	}
	v.metrics.RecordOperation(operation, time.Since(start), bytes)
}

func (v *Vault) recordKDF(purpose string) {
	if v.metrics != nil {
		v.metrics.RecordKDF(purpose)
	}
}

func (v *Vault) auditFile(eventType audit.EventType, fileID, algorithm string, secondary bool, err error, start time.Time) {
	if v.audit != nil {
		v.audit.LogFile(eventType, v.accountID, fileID, algorithm, secondary, err, time.Since(start))
	}
}

func (v *Vault) auditSession(eventType audit.EventType, err error) {
	if v.audit != nil {
		v.audit.LogSession(eventType, v.accountID, "", err)
	}
}

// Session returns the session holding this vault's master key.
func (v *Vault) Session() *session.Session {
	return v.session
}

// Status reports whether the account is registered and the session unlocked.
func (v *Vault) Status(ctx context.Context) (*Status, error) {
	st := &Status{AccountID: v.accountID, Unlocked: v.session.IsUnlocked()}
	account, err := v.metadata.GetAccount(ctx, v.accountID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return st, nil
	case err != nil:
		return nil, err
	}
	st.Registered = true
	st.Algorithm = account.Algorithm
	return st, nil
}

// Register creates the account's key material from password and leaves the session unlocked.
func (v *Vault) Register(ctx context.Context, password []byte) (err error) {
	ctx, span := tracing.Start(ctx, "register", tracing.AccountID(v.accountID))
	start := time.Now()
	defer func() {
		tracing.End(span, err)
		v.observe("register", start, 0, err)
		v.auditSession(audit.EventTypeRegister, err)
	}()

	if _, err := v.metadata.GetAccount(ctx, v.accountID); err == nil {
		return ErrAlreadyRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	key, _, err := v.masterKDF.Derive(password, salt)
	if err != nil {
		return err
	}
	v.recordKDF("master")

	proof, err := v.engine.NewVaultProof(key)
	if err != nil {
		key.Zero()
		return err
	}

	now := time.Now().UTC()
	account := &store.AccountRecord{
		ID:                   v.accountID,
		Salt:                 salt,
		KDFIterations:        v.masterKDF.Iterations(),
		VaultProofCiphertext: proof.Ciphertext,
		VaultProofNonce:      proof.Nonce,
		Algorithm:            proof.Algorithm,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := v.metadata.CreateAccount(ctx, account); err != nil {
		key.Zero()
		if errors.Is(err, store.ErrAlreadyExists) {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("failed to store account: %w", err)
	}

	v.session.Unlock(key, salt)
	if v.metrics != nil {
		v.metrics.RecordUnlock()
	}
	v.log().Info("Account registered")
	return nil
}

// accountKDF reproduces the KDF the account's current key was derived with.
func (v *Vault) accountKDF(account *store.AccountRecord) (*crypto.KDF, error) {
	if account.KDFIterations <= 0 {
		return v.masterKDF, nil
	}
	return crypto.NewKDF(account.KDFIterations)
}

func accountProof(account *store.AccountRecord) *crypto.VaultProof {
	return &crypto.VaultProof{
		Algorithm:  account.Algorithm,
		Ciphertext: account.VaultProofCiphertext,
		Nonce:      account.VaultProofNonce,
	}
}

// Unlock derives the master key from password, checks it against the vault proof and
// places it in the session.
func (v *Vault) Unlock(ctx context.Context, password []byte) (err error) {
	ctx, span := tracing.Start(ctx, "unlock", tracing.AccountID(v.accountID))
	start := time.Now()
	defer func() {
		tracing.End(span, err)
		v.observe("unlock", start, 0, err)
		v.auditSession(audit.EventTypeUnlock, err)
	}()

	account, err := v.metadata.GetAccount(ctx, v.accountID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotRegistered
	} else if err != nil {
		return err
	}

	kdf, err := v.accountKDF(account)
	if err != nil {
		return err
	}
	key, salt, err := kdf.Derive(password, account.Salt)
	if err != nil {
		if errors.Is(err, crypto.ErrEmptyPassword) {
			return ErrIncorrectMasterPassword
		}
		return err
	}
	v.recordKDF("master")

	if err := v.engine.VerifyVaultProof(accountProof(account), key); err != nil {
		key.Zero()
		v.log().Warn("Unlock rejected")
		return ErrIncorrectMasterPassword
	}

	v.session.Unlock(key, salt)
	if v.metrics != nil {
		v.metrics.RecordUnlock()
	}
	v.log().Info("Vault unlocked")
	return nil
}

// Lock clears the master key from the session.
func (v *Vault) Lock() {
	v.session.Lock(session.LockReasonManual)
}

// Upload seals req and stores it, returning the new file's description.
func (v *Vault) Upload(ctx context.Context, req UploadRequest) (info *FileInfo, err error) {
	ctx, span := tracing.Start(ctx, "upload", tracing.AccountID(v.accountID))
	start := time.Now()
	var fileID string
	defer func() {
		tracing.End(span, err)
		v.observe("upload", start, int64(len(req.Data)), err)
		v.auditFile(audit.EventTypeSeal, fileID, v.engine.Algorithm(), req.SecondaryPassword != nil, err, start)
	}()

	if int64(len(req.Data)) > v.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(req.Data), v.maxFileSize)
	}

	v.rotation.RLock()
	defer v.rotation.RUnlock()

	masterKey, err := v.session.MasterKey()
	if err != nil {
		return nil, err
	}
	defer masterKey.Zero()

	env, err := v.engine.Seal(req.Data, req.Name, masterKey, req.SecondaryPassword)
	if err != nil {
		return nil, err
	}
	if req.SecondaryPassword != nil {
		v.recordKDF("secondary")
	}

	blobRef, err := v.blobs.Put(ctx, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to store ciphertext: %w", err)
	}

	fileID = uuid.NewString()
	span.SetAttributes(tracing.FileID(fileID))
	rec := recordFromEnvelope(env, fileID, v.accountID, blobRef, req.FolderRef, int64(len(req.Data)), time.Now().UTC())
	if err := v.metadata.PutFile(ctx, rec); err != nil {
		if derr := v.blobs.Delete(ctx, blobRef); derr != nil {
			v.log().WithError(derr).WithField("blob_ref", blobRef).Warn("Failed to remove orphaned blob")
		}
		return nil, fmt.Errorf("failed to store file metadata: %w", err)
	}

	v.session.Touch()
	v.log().WithFields(logrus.Fields{
		"file_id":   fileID,
		"algorithm": env.Algorithm,
		"secondary": env.RequiresSecondaryPassword,
	}).Info("File sealed")

	fi := FileInfo{
		ID:                        fileID,
		Name:                      req.Name,
		FolderRef:                 req.FolderRef,
		SizeBytes:                 rec.SizeBytes,
		CreatedAt:                 rec.CreatedAt,
		RequiresSecondaryPassword: rec.RequiresSecondaryPassword,
		Algorithm:                 rec.Algorithm,
	}
	return &fi, nil
}

func (v *Vault) getFile(ctx context.Context, fileID string) (*store.FileRecord, error) {
	rec, err := v.metadata.GetFile(ctx, v.accountID, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	return rec, err
}

// Download fetches and opens a file. Files behind a secondary password need it here.
func (v *Vault) Download(ctx context.Context, fileID string, secondaryPassword []byte) (file *File, err error) {
	ctx, span := tracing.Start(ctx, "download", tracing.AccountID(v.accountID), tracing.FileID(fileID))
	start := time.Now()
	var (
		algorithm string
		secondary bool
		size      int64
	)
	defer func() {
		tracing.End(span, err)
		v.observe("download", start, size, err)
		v.auditFile(audit.EventTypeOpen, fileID, algorithm, secondary, err, start)
	}()

	v.rotation.RLock()
	defer v.rotation.RUnlock()

	masterKey, err := v.session.MasterKey()
	if err != nil {
		return nil, err
	}
	defer masterKey.Zero()

	rec, err := v.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	algorithm, secondary = rec.Algorithm, rec.RequiresSecondaryPassword
	if rec.RequiresSecondaryPassword && len(secondaryPassword) == 0 {
		return nil, crypto.ErrSecondaryPasswordRequired
	}

	ciphertext, err := v.blobs.Get(ctx, rec.ContentBlobRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ciphertext: %w", err)
	}

	env := envelopeFromRecord(rec, ciphertext)
	data, err := v.engine.Open(env, masterKey, secondaryPassword)
	if secondary {
		v.recordKDF("secondary")
	}
	if err != nil {
		v.log().WithField("file_id", fileID).WithError(err).Warn("File could not be opened")
		return nil, err
	}
	size = int64(len(data))

	v.session.Touch()
	v.log().WithField("file_id", fileID).Debug("File opened")
	return &File{Info: v.fileInfo(rec, masterKey), Data: data}, nil
}

// List returns the account's files with decrypted names. An empty folderRef lists
// every file. Names that cannot be decrypted are shown as crypto.EncryptedFileDisplayName.
func (v *Vault) List(ctx context.Context, folderRef string) (files []FileInfo, err error) {
	ctx, span := tracing.Start(ctx, "list", tracing.AccountID(v.accountID))
	start := time.Now()
	defer func() {
		tracing.End(span, err)
		v.observe("list", start, 0, err)
	}()

	v.rotation.RLock()
	defer v.rotation.RUnlock()

	masterKey, err := v.session.MasterKey()
	if err != nil {
		return nil, err
	}
	defer masterKey.Zero()

	records, err := v.metadata.ListFiles(ctx, v.accountID)
	if err != nil {
		return nil, err
	}

	files = make([]FileInfo, 0, len(records))
	for _, rec := range records {
		if folderRef != "" && rec.FolderRef != folderRef {
			continue
		}
		files = append(files, v.fileInfo(rec, masterKey))
	}
	v.session.Touch()
	return files, nil
}

// Delete removes a file's metadata and then its ciphertext. A blob that is already
// gone is not an error.
func (v *Vault) Delete(ctx context.Context, fileID string) (err error) {
	ctx, span := tracing.Start(ctx, "delete", tracing.AccountID(v.accountID), tracing.FileID(fileID))
	start := time.Now()
	var algorithm string
	var secondary bool
	defer func() {
		tracing.End(span, err)
		v.observe("delete", start, 0, err)
		v.auditFile(audit.EventTypeDelete, fileID, algorithm, secondary, err, start)
	}()

	v.rotation.RLock()
	defer v.rotation.RUnlock()

	if !v.session.IsUnlocked() {
		return session.ErrVaultLocked
	}

	rec, err := v.getFile(ctx, fileID)
	if err != nil {
		return err
	}
	algorithm, secondary = rec.Algorithm, rec.RequiresSecondaryPassword

	if err := v.metadata.DeleteFile(ctx, v.accountID, fileID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFileNotFound
		}
		return err
	}
	if err := v.blobs.Delete(ctx, rec.ContentBlobRef); err != nil && !errors.Is(err, store.ErrNotFound) {
		v.log().WithError(err).WithFields(logrus.Fields{
			"file_id":  fileID,
			"blob_ref": rec.ContentBlobRef,
		}).Warn("Failed to remove ciphertext of deleted file")
	}

	v.session.Touch()
	v.log().WithField("file_id", fileID).Info("File deleted")
	return nil
}

// ChangeMasterPassword rotates the master key from oldPassword to newPassword.
//
// Rotation is all-or-nothing: the plan is built entirely in memory and the account
// and every file are updated in one metadata commit. Files behind a secondary password
// abort the rotation with ErrIncompatibleSecondaryProtectedFiles. File operations wait
// while a rotation runs. After a commit the session is locked and must be unlocked
// with newPassword.
func (v *Vault) ChangeMasterPassword(ctx context.Context, oldPassword, newPassword []byte) (result *RotationResult, err error) {
	ctx, span := tracing.Start(ctx, "rotate", tracing.AccountID(v.accountID))
	start := time.Now()
	result = &RotationResult{State: RotationAborted}
	defer func() {
		tracing.End(span, err)
		v.observe("rotate", start, 0, err)
		if v.metrics != nil {
			v.metrics.RecordRotation(string(result.State), result.FilesRewrapped)
		}
		if v.audit != nil {
			v.audit.LogKeyRotation(v.accountID, result.FilesRewrapped, err, time.Since(start))
		}
	}()

	v.rotation.Lock()
	defer v.rotation.Unlock()

	currentKey, err := v.session.MasterKey()
	if err != nil {
		return result, err
	}
	defer currentKey.Zero()
	currentSalt, err := v.session.Salt()
	if err != nil {
		return result, err
	}

	account, err := v.metadata.GetAccount(ctx, v.accountID)
	if err != nil {
		return result, err
	}
	currentKDF, err := v.accountKDF(account)
	if err != nil {
		return result, err
	}
	files, err := v.metadata.ListFiles(ctx, v.accountID)
	if err != nil {
		return result, err
	}

	plan, err := PlanRotation(v.engine, RotationRequest{
		OldPassword: oldPassword,
		NewPassword: newPassword,
		CurrentKey:  currentKey,
		CurrentSalt: currentSalt,
		CurrentKDF:  currentKDF,
		NewKDF:      v.masterKDF,
		Files:       files,
	})
	if err != nil {
		v.log().WithError(err).Warn("Master password rotation aborted")
		return result, err
	}
	defer plan.Discard()
	v.recordKDF("master")

	updated := account.Clone()
	updated.Salt = plan.NewSalt
	updated.KDFIterations = v.masterKDF.Iterations()
	updated.VaultProofCiphertext = plan.NewProof.Ciphertext
	updated.VaultProofNonce = plan.NewProof.Nonce
	updated.Algorithm = plan.NewProof.Algorithm
	updated.UpdatedAt = time.Now().UTC()

	if err := v.metadata.CommitRotation(ctx, updated, plan.Updates); err != nil {
		v.log().WithError(err).Error("Master password rotation failed to commit")
		return result, fmt.Errorf("failed to commit rotation: %w", err)
	}

	result.State = RotationCommitted
	result.FilesRewrapped = len(plan.Updates)
	v.session.Lock(session.LockReasonRotation)
	v.log().WithField("files_rewrapped", result.FilesRewrapped).Info("Master password rotated")
	return result, nil
}
