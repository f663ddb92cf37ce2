package scheduler

import (
	"context"
	"fmt"
	"time"
)

// RunRequest asks the scheduler to materialize assets for a partition.
type RunRequest struct {
	Assets    []string
	Partition string
	Reason    string
}

// Sensor is a cadence-evaluated trigger. Evaluate returns a run request,
// or nil with a human-readable skip reason.
type Sensor interface {
	Name() string
	Evaluate(ctx context.Context) (*RunRequest, string, error)
}

// FreshnessSensor requests a run when a monitored asset's last success is
// older than its freshness policy allows.
type FreshnessSensor struct {
	registry *Registry
	state    StateStore
	assets   []string
	now      func() time.Time
}

// NewFreshnessSensor monitors the named assets. Assets without a freshness
// policy are ignored.
func NewFreshnessSensor(registry *Registry, state StateStore, assets []string) *FreshnessSensor {
	return &FreshnessSensor{
		registry: registry,
		state:    state,
		assets:   assets,
		now:      time.Now,
	}
}

func (s *FreshnessSensor) Name() string { return "freshness" }

func (s *FreshnessSensor) Evaluate(ctx context.Context) (*RunRequest, string, error) {
	now := s.now()

	for _, name := range s.assets {
		asset, ok := s.registry.Get(name)
		if !ok || asset.Freshness == nil {
			continue
		}

		lastSuccess, err := s.state.LastSuccess(ctx, name)
		if err != nil {
			return nil, "", err
		}
		lag := now.Sub(lastSuccess)
		if lastSuccess.IsZero() {
			lag = asset.Freshness.MaximumLag + time.Second
		}
		if lag <= asset.Freshness.MaximumLag {
			continue
		}

		return &RunRequest{
			Assets:    []string{name},
			Partition: YesterdayKey(now),
			Reason:    fmt.Sprintf("asset %s stale by %s (max lag %s)", name, lag.Round(time.Second), asset.Freshness.MaximumLag),
		}, "", nil
	}
	return nil, "all monitored assets fresh", nil
}

// FailureSensor requests one re-run after a failed partition. The cursor
// records the last handled failure so each failure triggers exactly once.
type FailureSensor struct {
	state  StateStore
	assets []string
}

// NewFailureSensor monitors the named assets for failed runs.
func NewFailureSensor(state StateStore, assets []string) *FailureSensor {
	return &FailureSensor{state: state, assets: assets}
}

func (s *FailureSensor) Name() string { return "failure_detection" }

func (s *FailureSensor) cursorName(asset string) string {
	return "failure_detection:" + asset
}

func (s *FailureSensor) Evaluate(ctx context.Context) (*RunRequest, string, error) {
	for _, name := range s.assets {
		record, err := s.state.LastRun(ctx, name)
		if err != nil {
			return nil, "", err
		}
		if record == nil || record.Status != StatusFailed {
			continue
		}

		marker := fmt.Sprintf("%s/%s/%s", record.Asset, record.Partition, record.EndedAt.UTC().Format(time.RFC3339))
		cursor, err := s.state.GetCursor(ctx, s.cursorName(name))
		if err != nil {
			return nil, "", err
		}
		if cursor == marker {
			continue
		}
		if err := s.state.SetCursor(ctx, s.cursorName(name), marker); err != nil {
			return nil, "", err
		}

		return &RunRequest{
			Assets:    []string{name},
			Partition: record.Partition,
			Reason:    fmt.Sprintf("retrying failed run of %s for %s (class %s)", name, record.Partition, record.ErrorClass),
		}, "", nil
	}
	return nil, "no unhandled failures", nil
}
