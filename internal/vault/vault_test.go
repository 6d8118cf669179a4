package vault

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/zk-vault/internal/audit"
	"github.com/kenneth/zk-vault/internal/crypto"
	"github.com/kenneth/zk-vault/internal/metrics"
	"github.com/kenneth/zk-vault/internal/session"
	"github.com/kenneth/zk-vault/internal/store"
)

const testIterations = 1000

var (
	testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	masterPassword    = []byte("correct horse battery staple")
	newMasterPassword = []byte("another horse, another battery")
)

type testVault struct {
	*Vault
	metadata *store.MemoryMetadataStore
	blobs    *store.MemoryBlobStore
	audit    audit.Logger
	registry *prometheus.Registry
}

func newTestVault(t *testing.T, mutate ...func(*Options)) *testVault {
	t.Helper()
	kdf, err := crypto.NewKDF(testIterations)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	tv := &testVault{
		metadata: store.NewMemoryMetadataStore(),
		blobs:    store.NewMemoryBlobStore(),
		audit:    audit.NewLogger(100, nil),
		registry: prometheus.NewRegistry(),
	}
	opts := Options{
		AccountID:    "acct-1",
		MasterKDF:    kdf,
		SecondaryKDF: kdf,
		Blobs:        tv.blobs,
		Metadata:     tv.metadata,
		Session:      session.New(0, logger),
		Logger:       logger,
		Metrics:      metrics.NewMetricsWithRegistry(tv.registry),
		Audit:        tv.audit,
	}
	for _, m := range mutate {
		m(&opts)
	}
	tv.Vault, err = New(opts)
	require.NoError(t, err)
	return tv
}

func newRegisteredVault(t *testing.T, mutate ...func(*Options)) *testVault {
	t.Helper()
	tv := newTestVault(t, mutate...)
	require.NoError(t, tv.Register(context.Background(), masterPassword))
	return tv
}

func TestRegisterAndUnlock(t *testing.T) {
	ctx := context.Background()
	tv := newTestVault(t)

	assert.ErrorIs(t, tv.Unlock(ctx, masterPassword), ErrNotRegistered)

	st, err := tv.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Registered)

	require.NoError(t, tv.Register(ctx, masterPassword))
	assert.True(t, tv.Session().IsUnlocked())
	assert.ErrorIs(t, tv.Register(ctx, masterPassword), ErrAlreadyRegistered)

	account, err := tv.metadata.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, account.Salt, crypto.SaltSize)
	assert.Equal(t, testIterations, account.KDFIterations)
	assert.NotContains(t, string(account.VaultProofCiphertext), crypto.VaultProofMarker)

	tv.Lock()
	assert.False(t, tv.Session().IsUnlocked())

	assert.ErrorIs(t, tv.Unlock(ctx, []byte("wrong")), ErrIncorrectMasterPassword)
	assert.ErrorIs(t, tv.Unlock(ctx, nil), ErrIncorrectMasterPassword)
	assert.False(t, tv.Session().IsUnlocked())

	require.NoError(t, tv.Unlock(ctx, masterPassword))
	st, err = tv.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Registered)
	assert.True(t, st.Unlocked)
	assert.Equal(t, crypto.AlgorithmAES256GCM, st.Algorithm)
}

func TestRegister_EmptyPassword(t *testing.T) {
	tv := newTestVault(t)
	assert.ErrorIs(t, tv.Register(context.Background(), nil), crypto.ErrEmptyPassword)

	_, err := tv.metadata.GetAccount(context.Background(), "acct-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	info, err := tv.Upload(ctx, UploadRequest{Name: "hello.txt", Data: []byte{0x68, 0x69}})
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "hello.txt", info.Name)
	assert.Equal(t, int64(2), info.SizeBytes)
	assert.False(t, info.RequiresSecondaryPassword)

	rec, err := tv.metadata.GetFile(ctx, "acct-1", info.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(rec.EncryptedFilename), "hello")
	ciphertext, err := tv.blobs.Get(ctx, rec.ContentBlobRef)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ciphertext, []byte{0x68, 0x69}))

	file, err := tv.Download(ctx, info.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x68, 0x69}, file.Data)
	assert.Equal(t, "hello.txt", file.Info.Name)

	files, err := tv.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "hello.txt", files[0].Name)
}

func TestUploadDownload_EmptyFile(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	info, err := tv.Upload(ctx, UploadRequest{Name: "empty", Data: []byte{}})
	require.NoError(t, err)

	file, err := tv.Download(ctx, info.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, file.Data)
}

func TestSecondaryPassword(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	info, err := tv.Upload(ctx, UploadRequest{
		Name:              "secret.pdf",
		Data:              []byte("top secret"),
		SecondaryPassword: []byte("xyz123"),
	})
	require.NoError(t, err)
	assert.True(t, info.RequiresSecondaryPassword)

	_, err = tv.Download(ctx, info.ID, nil)
	assert.ErrorIs(t, err, crypto.ErrSecondaryPasswordRequired)

	_, err = tv.Download(ctx, info.ID, []byte("xyz124"))
	assert.ErrorIs(t, err, crypto.ErrIncorrectSecondaryPassword)

	file, err := tv.Download(ctx, info.ID, []byte("xyz123"))
	require.NoError(t, err)
	assert.Equal(t, []byte("top secret"), file.Data)

	// the filename only needs the master key
	files, err := tv.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "secret.pdf", files[0].Name)

	_, err = tv.Upload(ctx, UploadRequest{Name: "x", Data: []byte("x"), SecondaryPassword: []byte{}})
	assert.ErrorIs(t, err, crypto.ErrInvalidSecondaryPassword)
}

func TestLockedVaultRefusesFileOperations(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	info, err := tv.Upload(ctx, UploadRequest{Name: "a", Data: []byte("a")})
	require.NoError(t, err)
	tv.Lock()

	_, err = tv.Upload(ctx, UploadRequest{Name: "b", Data: []byte("b")})
	assert.ErrorIs(t, err, session.ErrVaultLocked)
	_, err = tv.Download(ctx, info.ID, nil)
	assert.ErrorIs(t, err, session.ErrVaultLocked)
	_, err = tv.List(ctx, "")
	assert.ErrorIs(t, err, session.ErrVaultLocked)
	assert.ErrorIs(t, tv.Delete(ctx, info.ID), session.ErrVaultLocked)
	_, err = tv.ChangeMasterPassword(ctx, masterPassword, newMasterPassword)
	assert.ErrorIs(t, err, session.ErrVaultLocked)
}

func TestUpload_TooLarge(t *testing.T) {
	tv := newRegisteredVault(t, func(o *Options) { o.MaxFileSize = 4 })

	_, err := tv.Upload(context.Background(), UploadRequest{Name: "big", Data: []byte("12345")})
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Equal(t, 0, tv.blobs.Len())
}

type failingMetadata struct {
	store.MetadataStore
	putErr    error
	commitErr error
}

func (f *failingMetadata) PutFile(ctx context.Context, file *store.FileRecord) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.MetadataStore.PutFile(ctx, file)
}

func (f *failingMetadata) CommitRotation(ctx context.Context, account *store.AccountRecord, updates []store.FileKeyUpdate) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	return f.MetadataStore.CommitRotation(ctx, account, updates)
}

func TestUpload_MetadataFailureRemovesBlob(t *testing.T) {
	failing := &failingMetadata{}
	tv := newRegisteredVault(t, func(o *Options) {
		failing.MetadataStore = o.Metadata
		o.Metadata = failing
	})
	failing.putErr = errors.New("disk full")

	_, err := tv.Upload(context.Background(), UploadRequest{Name: "a", Data: []byte("a")})
	require.Error(t, err)
	assert.Equal(t, 0, tv.blobs.Len())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	info, err := tv.Upload(ctx, UploadRequest{Name: "a", Data: []byte("a")})
	require.NoError(t, err)
	require.Equal(t, 1, tv.blobs.Len())

	require.NoError(t, tv.Delete(ctx, info.ID))
	assert.Equal(t, 0, tv.blobs.Len())

	_, err = tv.Download(ctx, info.ID, nil)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.ErrorIs(t, tv.Delete(ctx, info.ID), ErrFileNotFound)
}

func TestDelete_MissingBlob(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	info, err := tv.Upload(ctx, UploadRequest{Name: "a", Data: []byte("a")})
	require.NoError(t, err)
	rec, err := tv.metadata.GetFile(ctx, "acct-1", info.ID)
	require.NoError(t, err)
	require.NoError(t, tv.blobs.Delete(ctx, rec.ContentBlobRef))

	require.NoError(t, tv.Delete(ctx, info.ID))
	_, err = tv.metadata.GetFile(ctx, "acct-1", info.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestList_FoldersAndUndecryptableNames(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	a, err := tv.Upload(ctx, UploadRequest{Name: "a.txt", Data: []byte("a"), FolderRef: "docs"})
	require.NoError(t, err)
	_, err = tv.Upload(ctx, UploadRequest{Name: "b.txt", Data: []byte("b"), FolderRef: "photos"})
	require.NoError(t, err)

	docs, err := tv.List(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.txt", docs[0].Name)

	rec, err := tv.metadata.GetFile(ctx, "acct-1", a.ID)
	require.NoError(t, err)
	rec.EncryptedFilename[0] ^= 0xff
	require.NoError(t, tv.metadata.PutFile(ctx, rec))

	all, err := tv.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	names := []string{all[0].Name, all[1].Name}
	assert.ElementsMatch(t, []string{crypto.EncryptedFileDisplayName, "b.txt"}, names)

	// content is independent of the filename
	file, err := tv.Download(ctx, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), file.Data)
	assert.Equal(t, crypto.EncryptedFileDisplayName, file.Info.Name)
}

func TestDownload_CorruptedCiphertext(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	info, err := tv.Upload(ctx, UploadRequest{Name: "a", Data: []byte("payload")})
	require.NoError(t, err)
	rec, err := tv.metadata.GetFile(ctx, "acct-1", info.ID)
	require.NoError(t, err)
	rec.ContentNonce[0] ^= 0x01
	require.NoError(t, tv.metadata.PutFile(ctx, rec))

	_, err = tv.Download(ctx, info.ID, nil)
	assert.ErrorIs(t, err, crypto.ErrDecryption)
}

func TestAuditAndMetrics(t *testing.T) {
	ctx := context.Background()
	tv := newRegisteredVault(t)

	info, err := tv.Upload(ctx, UploadRequest{Name: "a", Data: []byte("abc")})
	require.NoError(t, err)
	_, err = tv.Download(ctx, info.ID, nil)
	require.NoError(t, err)
	tv.Lock()
	assert.ErrorIs(t, tv.Unlock(ctx, []byte("nope")), ErrIncorrectMasterPassword)

	var types []audit.EventType
	for _, e := range tv.audit.Events() {
		types = append(types, e.EventType)
		assert.Equal(t, "acct-1", e.AccountID)
	}
	assert.Equal(t, []audit.EventType{
		audit.EventTypeRegister,
		audit.EventTypeSeal,
		audit.EventTypeOpen,
		audit.EventTypeLock,
		audit.EventTypeUnlock,
	}, types)

	events := tv.audit.Events()
	assert.Equal(t, info.ID, events[1].FileID)
	assert.Equal(t, "manual", events[3].Reason)
	assert.False(t, events[4].Success)

	expected := `
# HELP vault_operation_errors_total Total number of vault operation errors
# TYPE vault_operation_errors_total counter
vault_operation_errors_total{error_type="incorrect_password",operation="unlock"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(tv.registry, strings.NewReader(expected), "vault_operation_errors_total"))
}
