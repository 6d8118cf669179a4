package store

import (
	"context"
	"time"

	"github.com/kenneth/zk-vault/internal/metrics"
)

// InstrumentedBlobStore records timing for every call to the wrapped store.
type InstrumentedBlobStore struct {
	next    BlobStore
	backend string
	metrics *metrics.Metrics
}

// NewInstrumentedBlobStore wraps next, labelling its metrics with backend.
func NewInstrumentedBlobStore(next BlobStore, backend string, m *metrics.Metrics) *InstrumentedBlobStore {
	return &InstrumentedBlobStore{next: next, backend: backend, metrics: m}
}

func (s *InstrumentedBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	start := time.Now()
	id, err := s.next.Put(ctx, data)
	s.metrics.RecordBlobOperation("put", s.backend, time.Since(start))
	return id, err
}

func (s *InstrumentedBlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	data, err := s.next.Get(ctx, id)
	s.metrics.RecordBlobOperation("get", s.backend, time.Since(start))
	return data, err
}

func (s *InstrumentedBlobStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.next.Delete(ctx, id)
	s.metrics.RecordBlobOperation("delete", s.backend, time.Since(start))
	return err
}
