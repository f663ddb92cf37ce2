package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brgmlab/hydropipe/internal/faults"
)

type staticResources map[string]interface{}

func (s staticResources) Resource(name string) (interface{}, bool) {
	h, ok := s[name]
	return h, ok
}

func newTestRunner(t *testing.T, registry *Registry, state StateStore, res ResourceProvider) *Runner {
	t.Helper()
	return NewRunner(registry, state, res, RunnerConfig{})
}

func TestMaterializeSingleAssetSuccess(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	var produced atomic.Int32
	require.NoError(t, registry.Register(&Asset{
		Name: "piezo_bronze",
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			produced.Add(1)
			assert.Equal(t, "2024-10-02", run.Partition)
			assert.NotEmpty(t, run.RunID)
			return Result{Records: 42}, nil
		},
	}))

	runner := newTestRunner(t, registry, state, nil)
	report, err := runner.Materialize(context.Background(), []string{"piezo_bronze"}, "2024-10-02")
	require.NoError(t, err)

	assert.Equal(t, int32(1), produced.Load())
	assert.Equal(t, "success", report.Outcome())

	record, err := state.GetRun(context.Background(), "piezo_bronze", "2024-10-02")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusSuccess, record.Status)
	assert.Equal(t, 42, record.Records)
	assert.False(t, record.Degraded)

	lastSuccess, err := state.LastSuccess(context.Background(), "piezo_bronze")
	require.NoError(t, err)
	assert.False(t, lastSuccess.IsZero())
}

func TestMaterializeSkipsDependentOfFailedAsset(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	var silverRan atomic.Bool
	require.NoError(t, registry.Register(&Asset{
		Name: "bronze",
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			return Result{}, faults.Permanent(nil, "endpoint gone")
		},
	}))
	require.NoError(t, registry.Register(&Asset{
		Name: "silver",
		Deps: []string{"bronze"},
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			silverRan.Store(true)
			return Result{}, nil
		},
	}))

	runner := newTestRunner(t, registry, state, nil)
	report, err := runner.Materialize(context.Background(), []string{"silver"}, "2024-10-02")
	require.NoError(t, err)

	assert.False(t, silverRan.Load())
	assert.Equal(t, "failed", report.Outcome())
	assert.Equal(t, StatusFailed, report.Runs["bronze"].Status)
	assert.Equal(t, faults.ClassNonRetriable, report.Runs["bronze"].ErrorClass)
	assert.Equal(t, StatusSkipped, report.Runs["silver"].Status)
}

func TestMaterializeSiblingSurvivesFailure(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	require.NoError(t, registry.Register(&Asset{
		Name: "piezo",
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			return Result{}, errors.New("boom")
		},
	}))
	require.NoError(t, registry.Register(&Asset{
		Name: "hydro",
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			return Result{Records: 7}, nil
		},
	}))

	runner := newTestRunner(t, registry, state, nil)
	report, err := runner.Materialize(context.Background(), []string{"piezo", "hydro"}, "2024-10-02")
	require.NoError(t, err)

	assert.Equal(t, "partial_success", report.Outcome())
	assert.Equal(t, StatusFailed, report.Runs["piezo"].Status)
	assert.Equal(t, StatusSuccess, report.Runs["hydro"].Status)
}

func TestMaterializeFailingCheckDegradesRun(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	require.NoError(t, registry.Register(&Asset{
		Name:   "bronze",
		Checks: []Check{MinRecords(100)},
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			return Result{Records: 3}, nil
		},
	}))

	runner := newTestRunner(t, registry, state, nil)
	report, err := runner.Materialize(context.Background(), []string{"bronze"}, "2024-10-02")
	require.NoError(t, err)

	record := report.Runs["bronze"]
	assert.Equal(t, StatusSuccess, record.Status)
	assert.True(t, record.Degraded)
	assert.Equal(t, "success", report.Outcome())
}

func TestMaterializeHeldLockSkipsRun(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	var produced atomic.Int32
	require.NoError(t, registry.Register(&Asset{
		Name: "bronze",
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			produced.Add(1)
			return Result{}, nil
		},
	}))

	acquired, err := state.AcquireLock(context.Background(), "bronze", "2024-10-02", time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	runner := newTestRunner(t, registry, state, nil)
	report, err := runner.Materialize(context.Background(), []string{"bronze"}, "2024-10-02")
	require.NoError(t, err)

	assert.Equal(t, int32(0), produced.Load())
	assert.Equal(t, StatusSkipped, report.Runs["bronze"].Status)
}

func TestMaterializeReleasesLock(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	require.NoError(t, registry.Register(testAsset("bronze")))

	runner := newTestRunner(t, registry, state, nil)
	_, err := runner.Materialize(context.Background(), []string{"bronze"}, "2024-10-02")
	require.NoError(t, err)

	acquired, err := state.AcquireLock(context.Background(), "bronze", "2024-10-02", time.Hour)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMaterializeTimeoutCancelsProducer(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	require.NoError(t, registry.Register(&Asset{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			<-ctx.Done()
			return Result{}, faults.Cancelled(ctx.Err())
		},
	}))

	runner := newTestRunner(t, registry, state, nil)
	report, err := runner.Materialize(context.Background(), []string{"slow"}, "2024-10-02")
	require.NoError(t, err)

	record := report.Runs["slow"]
	assert.Equal(t, StatusCancelled, record.Status)
	assert.Equal(t, faults.ClassCancelled, record.ErrorClass)
}

func TestMaterializeWeeklyAssetBucketsDailyKey(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	var seenPartition string
	require.NoError(t, registry.Register(&Asset{
		Name:       "sandre_params",
		Partitions: &PartitionSpec{Cadence: CadenceWeekly},
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			seenPartition = run.Partition
			return Result{}, nil
		},
	}))

	runner := newTestRunner(t, registry, state, nil)
	_, err := runner.Materialize(context.Background(), []string{"sandre_params"}, "2024-10-02")
	require.NoError(t, err)

	assert.Equal(t, "2024-W40", seenPartition)

	record, err := state.GetRun(context.Background(), "sandre_params", "2024-W40")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, StatusSuccess, record.Status)
}

func TestMaterializeRejectsIncompletePartition(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	var produced atomic.Int32
	require.NoError(t, registry.Register(&Asset{
		Name: "bronze",
		Partitions: &PartitionSpec{
			Start:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			Cadence: CadenceDaily,
		},
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			produced.Add(1)
			return Result{}, nil
		},
	}))

	runner := newTestRunner(t, registry, state, nil)

	for _, key := range []string{"2999-01-01", "2019-12-31"} {
		report, err := runner.Materialize(context.Background(), []string{"bronze"}, key)
		require.NoError(t, err)

		record := report.Runs["bronze"]
		require.NotNil(t, record)
		assert.Equal(t, StatusFailed, record.Status, "key %s", key)
		assert.Equal(t, faults.ClassConfig, record.ErrorClass, "key %s", key)
	}
	assert.Equal(t, int32(0), produced.Load())
}

type recordingObserver struct {
	runs     []string
	failures []string
}

func (o *recordingObserver) ObserveRun(asset, status string, _ time.Duration) {
	o.runs = append(o.runs, asset+":"+status)
}

func (o *recordingObserver) ObserveFailure(class string) {
	o.failures = append(o.failures, class)
}

func TestMaterializeReportsFailureClassToObserver(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	require.NoError(t, registry.Register(&Asset{
		Name: "bronze",
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			return Result{}, faults.Permanent(nil, "endpoint gone")
		},
	}))
	require.NoError(t, registry.Register(&Asset{
		Name: "hydro",
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			return Result{Records: 1}, nil
		},
	}))

	observer := &recordingObserver{}
	runner := NewRunner(registry, state, nil, RunnerConfig{MaxConcurrent: 1, Observer: observer})
	_, err := runner.Materialize(context.Background(), []string{"bronze", "hydro"}, "2024-10-02")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"bronze:failed", "hydro:success"}, observer.runs)
	// Only the failed run carries a fault class.
	assert.Equal(t, []string{faults.ClassNonRetriable}, observer.failures)
}

func TestMaterializeOpenWeekBucketStillRuns(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()

	var produced atomic.Int32
	require.NoError(t, registry.Register(&Asset{
		Name: "sandre_params",
		Partitions: &PartitionSpec{
			Start:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			Cadence: CadenceWeekly,
		},
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			produced.Add(1)
			return Result{}, nil
		},
	}))

	// Yesterday may fall inside the current, still-open ISO week. The weekly
	// bucket of a complete day must materialize regardless.
	runner := newTestRunner(t, registry, state, nil)
	report, err := runner.Materialize(context.Background(), []string{"sandre_params"}, YesterdayKey(time.Now().UTC()))
	require.NoError(t, err)

	assert.Equal(t, int32(1), produced.Load())
	assert.Equal(t, "success", report.Outcome())
}

func TestMaterializeInvalidPartitionKey(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testAsset("bronze")))

	runner := newTestRunner(t, registry, NewMemoryStore(), nil)
	_, err := runner.Materialize(context.Background(), []string{"bronze"}, "02/10/2024")
	require.Error(t, err)
	assert.Equal(t, faults.ClassConfig, faults.Classify(err))
}

func TestRunContextResourceAccess(t *testing.T) {
	registry := NewRegistry()
	state := NewMemoryStore()
	res := staticResources{"warehouse": "pool-handle"}

	var handle interface{}
	var undeclaredErr, missingErr error
	require.NoError(t, registry.Register(&Asset{
		Name:      "silver",
		Resources: []string{"warehouse", "graph"},
		Producer: func(ctx context.Context, run *RunContext) (Result, error) {
			handle, _ = run.Resource("warehouse")
			_, undeclaredErr = run.Resource("cache")
			_, missingErr = run.Resource("graph")
			return Result{}, nil
		},
	}))

	runner := newTestRunner(t, registry, state, res)
	_, err := runner.Materialize(context.Background(), []string{"silver"}, "2024-10-02")
	require.NoError(t, err)

	assert.Equal(t, "pool-handle", handle)
	// Undeclared resource names fail fast.
	assert.Equal(t, faults.ClassConfig, faults.Classify(undeclaredErr))
	// Declared but unconfigured resources fail fast too.
	assert.Equal(t, faults.ClassConfig, faults.Classify(missingErr))
}
