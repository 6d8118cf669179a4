package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(_ context.Context, data []byte) (string, error) {
	id := NewBlobID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = cloneBytes(data)
	return id, nil
}

func (m *MemoryBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(b), nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// MemoryMetadataStore keeps account and file records in process memory.
// Records are copied on the way in and out.
type MemoryMetadataStore struct {
	mu       sync.RWMutex
	accounts map[string]*AccountRecord
	files    map[string]map[string]*FileRecord
}

// NewMemoryMetadataStore creates an empty in-memory metadata store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		accounts: make(map[string]*AccountRecord),
		files:    make(map[string]map[string]*FileRecord),
	}
}

func (m *MemoryMetadataStore) CreateAccount(_ context.Context, account *AccountRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return fmt.Errorf("account %s: %w", account.ID, ErrAlreadyExists)
	}
	m.accounts[account.ID] = account.Clone()
	return nil
}

func (m *MemoryMetadataStore) GetAccount(_ context.Context, accountID string) (*AccountRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return a.Clone(), nil
}

func (m *MemoryMetadataStore) PutFile(_ context.Context, file *FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.files[file.AccountID]
	if !ok {
		files = make(map[string]*FileRecord)
		m.files[file.AccountID] = files
	}
	files[file.ID] = file.Clone()
	return nil
}

func (m *MemoryMetadataStore) GetFile(_ context.Context, accountID, fileID string) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[accountID][fileID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	return f.Clone(), nil
}

func (m *MemoryMetadataStore) ListFiles(_ context.Context, accountID string) ([]*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*FileRecord, 0, len(m.files[accountID]))
	for _, f := range m.files[accountID] {
		out = append(out, f.Clone())
	}
	sortFiles(out)
	return out, nil
}

func (m *MemoryMetadataStore) DeleteFile(_ context.Context, accountID, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[accountID][fileID]; !ok {
		return fmt.Errorf("file %s: %w", fileID, ErrNotFound)
	}
	delete(m.files[accountID], fileID)
	return nil
}

func (m *MemoryMetadataStore) CommitRotation(_ context.Context, account *AccountRecord, updates []FileKeyUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.ID]; !ok {
		return fmt.Errorf("account %s: %w", account.ID, ErrNotFound)
	}
	files := m.files[account.ID]
	for _, u := range updates {
		if _, ok := files[u.FileID]; !ok {
			return fmt.Errorf("file %s: %w", u.FileID, ErrNotFound)
		}
	}

	for _, u := range updates {
		u.Apply(files[u.FileID])
	}
	m.accounts[account.ID] = account.Clone()
	return nil
}

func (m *MemoryMetadataStore) Close() error {
	return nil
}

func sortFiles(files []*FileRecord) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
}
