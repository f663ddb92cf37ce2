package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
)

const (
	defaultMaxConcurrent = 3
	defaultAssetTimeout  = 30 * time.Minute
)

// RunObserver receives run outcomes, typically for metrics.
type RunObserver interface {
	ObserveRun(asset, status string, duration time.Duration)
}

// FailureObserver additionally receives the fault class of unsuccessful
// runs. Observers implement it when they track failures by class.
type FailureObserver interface {
	ObserveFailure(class string)
}

// JobReport collects the per-asset outcomes of one materialization.
type JobReport struct {
	Partition string

	mu   sync.Mutex
	Runs map[string]*RunRecord
}

func (r *JobReport) record(record *RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Runs[record.Asset] = record
}

func (r *JobReport) get(asset string) *RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Runs[asset]
}

// Outcome summarizes the job: success when every asset succeeded,
// failed when none did, partial_success otherwise.
func (r *JobReport) Outcome() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	succeeded, total := 0, len(r.Runs)
	for _, record := range r.Runs {
		if record.Status == StatusSuccess {
			succeeded++
		}
	}
	switch {
	case total == 0 || succeeded == total:
		return "success"
	case succeeded == 0:
		return "failed"
	default:
		return "partial_success"
	}
}

// Runner materializes asset subsets for a partition.
type Runner struct {
	registry      *Registry
	state         StateStore
	resources     ResourceProvider
	observer      RunObserver
	maxConcurrent int
	logger        *logging.Logger
	now           func() time.Time
}

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	MaxConcurrent int
	Observer      RunObserver
}

// NewRunner wires a runner onto the registry, state store and resources.
func NewRunner(registry *Registry, state StateStore, resources ResourceProvider, cfg RunnerConfig) *Runner {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Runner{
		registry:      registry,
		state:         state,
		resources:     resources,
		observer:      cfg.Observer,
		maxConcurrent: maxConcurrent,
		logger:        logging.GetLogger("scheduler.runner"),
		now:           time.Now,
	}
}

// Materialize runs the dependency closure of names for one partition.
// Assets execute in topological waves; independent assets in a wave run in
// parallel up to the concurrency cap. A failed asset skips its dependents
// but never aborts siblings.
func (r *Runner) Materialize(ctx context.Context, names []string, partition string) (*JobReport, error) {
	if err := ValidatePartitionKey(partition); err != nil {
		return nil, faults.Config("materialize: %v", err)
	}

	waves, err := r.registry.Waves(names)
	if err != nil {
		return nil, faults.Config("materialize: %v", err)
	}

	report := &JobReport{
		Partition: partition,
		Runs:      make(map[string]*RunRecord),
	}

	total := 0
	for _, wave := range waves {
		total += len(wave)
	}
	r.logger.InfoWithFields("materializing",
		logging.Field("partition", partition),
		logging.Field("assets", total),
		logging.Field("waves", len(waves)),
	)

	for _, wave := range waves {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(r.maxConcurrent)
		for _, name := range wave {
			name := name
			group.Go(func() error {
				r.runAsset(groupCtx, name, partition, report)
				return nil
			})
		}
		_ = group.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	r.logger.InfoWithFields("materialization done",
		logging.Field("partition", partition),
		logging.Field("outcome", report.Outcome()),
	)
	return report, nil
}

func (r *Runner) runAsset(ctx context.Context, name, partition string, report *JobReport) {
	asset, _ := r.registry.Get(name)
	logger := r.logger.WithField("asset", name)

	key, err := asset.PartitionKey(partition)
	if err != nil {
		report.record(r.finishRun(ctx, &RunRecord{
			Asset:     name,
			Partition: partition,
			StartedAt: r.now(),
		}, 0, faults.Config("%v", err)))
		return
	}

	// Only complete periods inside the declared range materialize. A daily
	// job key bucketed into a coarser cadence is bounded by its own day, so
	// the open week or month containing yesterday still refreshes.
	if asset.Partitions != nil {
		spec := *asset.Partitions
		if key != partition {
			spec.Cadence = CadenceDaily
		}
		if err := spec.Contains(partition, r.now()); err != nil {
			report.record(r.finishRun(ctx, &RunRecord{
				Asset:     name,
				Partition: key,
				StartedAt: r.now(),
			}, 0, faults.Config("%v", err)))
			return
		}
	}

	// Dependents run only on upstream success for this job.
	for _, dep := range asset.Deps {
		upstream := report.get(dep)
		if upstream != nil && upstream.Status != StatusSuccess {
			logger.WarnWithFields("skipping asset, upstream did not succeed",
				logging.Field("upstream", dep),
				logging.Field("upstream_status", upstream.Status),
			)
			report.record(&RunRecord{
				Asset:     name,
				Partition: key,
				Status:    StatusSkipped,
				Error:     "upstream " + dep + " " + upstream.Status,
				StartedAt: r.now(),
				EndedAt:   r.now(),
			})
			return
		}
	}

	timeout := asset.Timeout
	if timeout <= 0 {
		timeout = defaultAssetTimeout
	}

	acquired, err := r.state.AcquireLock(ctx, name, key, 2*timeout)
	if err != nil {
		report.record(r.finishRun(ctx, &RunRecord{Asset: name, Partition: key, StartedAt: r.now()}, 0, err))
		return
	}
	if !acquired {
		logger.WarnWithFields("run lock held, skipping duplicate attempt",
			logging.Field("partition", key),
		)
		report.record(&RunRecord{
			Asset:     name,
			Partition: key,
			Status:    StatusSkipped,
			Error:     "run lock held",
			StartedAt: r.now(),
			EndedAt:   r.now(),
		})
		return
	}
	defer func() {
		if err := r.state.ReleaseLock(context.WithoutCancel(ctx), name, key); err != nil {
			logger.ErrorWithErr("failed to release run lock", err)
		}
	}()

	record := &RunRecord{
		RunID:     uuid.NewString(),
		Asset:     name,
		Partition: key,
		Status:    StatusStarted,
		StartedAt: r.now(),
	}
	if err := r.state.SaveRun(ctx, *record); err != nil {
		logger.ErrorWithErr("failed to persist run start", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runCtx, span := otel.Tracer("scheduler").Start(runCtx, "materialize "+name)
	span.SetAttributes(
		attribute.String("asset", name),
		attribute.String("partition", key),
		attribute.String("run_id", record.RunID),
	)

	result, runErr := asset.Producer(runCtx, &RunContext{
		Asset:     name,
		Partition: key,
		RunID:     record.RunID,
		Logger:    logger.WithField("run_id", record.RunID),
		declared:  asset.Resources,
		resources: r.resources,
	})

	if runErr != nil {
		span.SetStatus(codes.Error, faults.Classify(runErr))
	}
	span.SetAttributes(attribute.Int("records", result.Records))
	span.End()

	record = r.finishRun(ctx, record, result.Records, runErr)
	record.Metrics = result.Details

	if record.Status == StatusSuccess {
		for _, check := range asset.Checks {
			if err := check.Eval(result); err != nil {
				record.Degraded = true
				logger.WarnWithFields("check failed, run degraded",
					logging.Field("check", check.Name),
					logging.Field("reason", err.Error()),
				)
			}
		}
	}

	if err := r.state.SaveRun(context.WithoutCancel(ctx), *record); err != nil {
		logger.ErrorWithErr("failed to persist run record", err)
	}
	report.record(record)
}

// finishRun closes out a record from a producer outcome.
func (r *Runner) finishRun(ctx context.Context, record *RunRecord, records int, runErr error) *RunRecord {
	record.EndedAt = r.now()
	record.Records = records

	switch {
	case runErr == nil:
		record.Status = StatusSuccess
	case faults.Classify(runErr) == faults.ClassCancelled:
		record.Status = StatusCancelled
		record.ErrorClass = faults.ClassCancelled
		record.Error = runErr.Error()
	default:
		record.Status = StatusFailed
		record.ErrorClass = faults.Classify(runErr)
		record.Error = runErr.Error()
	}

	if r.observer != nil {
		r.observer.ObserveRun(record.Asset, record.Status, record.EndedAt.Sub(record.StartedAt))
		if fo, ok := r.observer.(FailureObserver); ok && record.ErrorClass != "" {
			fo.ObserveFailure(record.ErrorClass)
		}
	}
	return record
}
