package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const (
	accountPrefix = "account/"
	filePrefix    = "file/"
)

// BadgerConfig configures a BadgerMetadataStore. An empty Path opens an in-memory database.
type BadgerConfig struct {
	Path   string
	Logger *logrus.Logger
}

// BadgerMetadataStore persists records as JSON values in a Badger database.
// Rotation commits run inside a single read-write transaction.
type BadgerMetadataStore struct {
	db     *badger.DB
	logger *logrus.Logger
}

// NewBadgerMetadataStore opens the database described by cfg.
func NewBadgerMetadataStore(cfg BadgerConfig) (*BadgerMetadataStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	cfg.Logger.WithFields(logrus.Fields{
		"path":      cfg.Path,
		"in_memory": cfg.Path == "",
	}).Debug("Opened metadata database")

	return &BadgerMetadataStore{db: db, logger: cfg.Logger}, nil
}

func accountKey(accountID string) []byte {
	return []byte(accountPrefix + accountID)
}

func fileKey(accountID, fileID string) []byte {
	return []byte(filePrefix + accountID + "/" + fileID)
}

func filesPrefix(accountID string) []byte {
	return []byte(filePrefix + accountID + "/")
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

func (s *BadgerMetadataStore) CreateAccount(_ context.Context, account *AccountRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(accountKey(account.ID))
		if err == nil {
			return fmt.Errorf("account %s: %w", account.ID, ErrAlreadyExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, accountKey(account.ID), account)
	})
}

func (s *BadgerMetadataStore) GetAccount(_ context.Context, accountID string) (*AccountRecord, error) {
	var a AccountRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, accountKey(accountID), &a)
	})
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", accountID, err)
	}
	return &a, nil
}

func (s *BadgerMetadataStore) PutFile(_ context.Context, file *FileRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, fileKey(file.AccountID, file.ID), file)
	})
}

func (s *BadgerMetadataStore) GetFile(_ context.Context, accountID, fileID string) (*FileRecord, error) {
	var f FileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, fileKey(accountID, fileID), &f)
	})
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", fileID, err)
	}
	return &f, nil
}

func (s *BadgerMetadataStore) ListFiles(_ context.Context, accountID string) ([]*FileRecord, error) {
	var out []*FileRecord
	prefix := filesPrefix(accountID)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f FileRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortFiles(out)
	return out, nil
}

func (s *BadgerMetadataStore) DeleteFile(_ context.Context, accountID, fileID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := fileKey(accountID, fileID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("file %s: %w", fileID, ErrNotFound)
			}
			return err
		}
		return txn.Delete(key)
	})
}

func (s *BadgerMetadataStore) CommitRotation(_ context.Context, account *AccountRecord, updates []FileKeyUpdate) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var existing AccountRecord
		if err := getJSON(txn, accountKey(account.ID), &existing); err != nil {
			return fmt.Errorf("account %s: %w", account.ID, err)
		}

		for _, u := range updates {
			var f FileRecord
			key := fileKey(account.ID, u.FileID)
			if err := getJSON(txn, key, &f); err != nil {
				return fmt.Errorf("file %s: %w", u.FileID, err)
			}
			u.Apply(&f)
			if err := setJSON(txn, key, &f); err != nil {
				return err
			}
		}
		return setJSON(txn, accountKey(account.ID), account)
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("rotation of %d files does not fit in one transaction: %w", len(updates), err)
	}
	return err
}

func (s *BadgerMetadataStore) Close() error {
	return s.db.Close()
}
