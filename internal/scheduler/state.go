package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brgmlab/hydropipe/internal/faults"
)

// Run statuses.
const (
	StatusStarted   = "started"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// RunRecord is the persisted state of one (asset, partition) run.
type RunRecord struct {
	RunID      string                 `json:"run_id"`
	Asset      string                 `json:"asset"`
	Partition  string                 `json:"partition"`
	Status     string                 `json:"status"`
	Degraded   bool                   `json:"degraded,omitempty"`
	ErrorClass string                 `json:"error_class,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Records    int                    `json:"records"`
	Metrics    map[string]interface{} `json:"metrics,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	EndedAt    time.Time              `json:"ended_at,omitempty"`
}

// StateStore persists run records, run locks, and sensor cursors.
type StateStore interface {
	SaveRun(ctx context.Context, record RunRecord) error
	GetRun(ctx context.Context, asset, partition string) (*RunRecord, error)
	LastRun(ctx context.Context, asset string) (*RunRecord, error)
	LastSuccess(ctx context.Context, asset string) (time.Time, error)

	// AcquireLock takes the (asset, partition) run lock; false means another
	// run holds it.
	AcquireLock(ctx context.Context, asset, partition string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, asset, partition string) error

	GetCursor(ctx context.Context, name string) (string, error)
	SetCursor(ctx context.Context, name, value string) error
}

func runKey(asset, partition string) string  { return fmt.Sprintf("run:%s:%s", asset, partition) }
func lastRunKey(asset string) string         { return "last_run:" + asset }
func lastSuccessKey(asset string) string     { return "last_success:" + asset }
func lockKey(asset, partition string) string { return fmt.Sprintf("lock:%s:%s", asset, partition) }
func cursorKey(name string) string           { return "cursor:" + name }

// redisStore keeps state in redis. Records are JSON blobs; locks are
// SETNX keys with a TTL so a crashed run cannot block forever.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore builds a StateStore on an open redis client.
func NewRedisStore(client *redis.Client) StateStore {
	return &redisStore{client: client}
}

func (s *redisStore) SaveRun(ctx context.Context, record RunRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return faults.Permanent(err, "encode run record")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(record.Asset, record.Partition), body, 0)
	pipe.Set(ctx, lastRunKey(record.Asset), body, 0)
	if record.Status == StatusSuccess {
		pipe.Set(ctx, lastSuccessKey(record.Asset), record.EndedAt.UTC().Format(time.RFC3339), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return faults.StoreWrite(err, "persist run record %s/%s", record.Asset, record.Partition)
	}
	return nil
}

func (s *redisStore) GetRun(ctx context.Context, asset, partition string) (*RunRecord, error) {
	return s.getRecord(ctx, runKey(asset, partition))
}

func (s *redisStore) LastRun(ctx context.Context, asset string) (*RunRecord, error) {
	return s.getRecord(ctx, lastRunKey(asset))
}

func (s *redisStore) getRecord(ctx context.Context, key string) (*RunRecord, error) {
	body, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.StoreWrite(err, "read run record %s", key)
	}
	var record RunRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, faults.Permanent(err, "decode run record %s", key)
	}
	return &record, nil
}

func (s *redisStore) LastSuccess(ctx context.Context, asset string) (time.Time, error) {
	raw, err := s.client.Get(ctx, lastSuccessKey(asset)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, faults.StoreWrite(err, "read last success for %s", asset)
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, faults.Permanent(err, "decode last success for %s", asset)
	}
	return ts, nil
}

func (s *redisStore) AcquireLock(ctx context.Context, asset, partition string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey(asset, partition), "1", ttl).Result()
	if err != nil {
		return false, faults.StoreWrite(err, "acquire run lock %s/%s", asset, partition)
	}
	return ok, nil
}

func (s *redisStore) ReleaseLock(ctx context.Context, asset, partition string) error {
	if err := s.client.Del(ctx, lockKey(asset, partition)).Err(); err != nil {
		return faults.StoreWrite(err, "release run lock %s/%s", asset, partition)
	}
	return nil
}

func (s *redisStore) GetCursor(ctx context.Context, name string) (string, error) {
	raw, err := s.client.Get(ctx, cursorKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", faults.StoreWrite(err, "read cursor %s", name)
	}
	return raw, nil
}

func (s *redisStore) SetCursor(ctx context.Context, name, value string) error {
	if err := s.client.Set(ctx, cursorKey(name), value, 0).Err(); err != nil {
		return faults.StoreWrite(err, "write cursor %s", name)
	}
	return nil
}

// MemoryStore is an in-memory StateStore for tests and dry runs.
type MemoryStore struct {
	mu          sync.Mutex
	runs        map[string]RunRecord
	lastRuns    map[string]RunRecord
	lastSuccess map[string]time.Time
	locks       map[string]time.Time
	cursors     map[string]string
	now         func() time.Time
}

// NewMemoryStore builds an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]RunRecord),
		lastRuns:    make(map[string]RunRecord),
		lastSuccess: make(map[string]time.Time),
		locks:       make(map[string]time.Time),
		cursors:     make(map[string]string),
		now:         time.Now,
	}
}

func (s *MemoryStore) SaveRun(_ context.Context, record RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runKey(record.Asset, record.Partition)] = record
	s.lastRuns[record.Asset] = record
	if record.Status == StatusSuccess {
		s.lastSuccess[record.Asset] = record.EndedAt
	}
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, asset, partition string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.runs[runKey(asset, partition)]; ok {
		cp := record
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) LastRun(_ context.Context, asset string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.lastRuns[asset]; ok {
		cp := record
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) LastSuccess(_ context.Context, asset string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess[asset], nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, asset, partition string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lockKey(asset, partition)
	if expiry, ok := s.locks[key]; ok && s.now().Before(expiry) {
		return false, nil
	}
	s.locks[key] = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, asset, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockKey(asset, partition))
	return nil
}

func (s *MemoryStore) GetCursor(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[name], nil
}

func (s *MemoryStore) SetCursor(_ context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = value
	return nil
}
