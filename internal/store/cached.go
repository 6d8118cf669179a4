package store

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/zk-vault/internal/cache"
)

const blobNamespace = "blob"

// CachedBlobStore serves repeated reads from an in-memory cache in front of another BlobStore.
type CachedBlobStore struct {
	next   BlobStore
	cache  cache.Cache
	logger *logrus.Logger
}

// NewCachedBlobStore wraps next with c.
func NewCachedBlobStore(next BlobStore, c cache.Cache, logger *logrus.Logger) *CachedBlobStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &CachedBlobStore{next: next, cache: c, logger: logger}
}

func (s *CachedBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	id, err := s.next.Put(ctx, data)
	if err != nil {
		return "", err
	}
	s.remember(ctx, id, data)
	return id, nil
}

func (s *CachedBlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	if data, ok := s.cache.Get(ctx, blobNamespace, id); ok {
		return data, nil
	}
	data, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, id, data)
	return data, nil
}

func (s *CachedBlobStore) Delete(ctx context.Context, id string) error {
	_ = s.cache.Delete(ctx, blobNamespace, id)
	return s.next.Delete(ctx, id)
}

// Stats exposes the underlying cache statistics.
func (s *CachedBlobStore) Stats() cache.Stats {
	return s.cache.Stats()
}

func (s *CachedBlobStore) remember(ctx context.Context, id string, data []byte) {
	if err := s.cache.Set(ctx, blobNamespace, id, data, 0); err != nil {
		s.logger.WithError(err).WithField("blob_id", id).Debug("Blob not cached")
	}
}
