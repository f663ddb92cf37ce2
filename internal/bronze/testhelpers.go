package bronze

import (
	"context"
	"fmt"
	"sync"

	"github.com/brgmlab/hydropipe/internal/faults"
)

// MemStore is an in-memory ObjectStore for tests and local dry runs.
type MemStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	types   map[string]string

	// FailPuts makes the next n Put calls fail, for retry tests.
	FailPuts int
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		buckets: make(map[string]map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemStore) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

func (m *MemStore) Put(_ context.Context, bucket, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts > 0 {
		m.FailPuts--
		return faults.StoreWrite(nil, "injected store failure")
	}
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string][]byte)
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	m.buckets[bucket][key] = cp
	m.types[bucket+"/"+key] = contentType
	return nil
}

func (m *MemStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, faults.StoreWrite(nil, "no such bucket %s", bucket)
	}
	body, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	return cp, nil
}

// ContentType reports the content type recorded for an object.
func (m *MemStore) ContentType(bucket, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[bucket+"/"+key]
}

// Keys lists the object keys in a bucket.
func (m *MemStore) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	return keys
}
