package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
)

// Schedule triggers a named asset subset on a cron expression. Partition
// derives the partition key from the trigger time; when nil the schedule
// materializes yesterday's daily key.
type Schedule struct {
	Name      string
	Cron      string
	Assets    []string
	Partition func(now time.Time) string
}

// YesterdayKey returns the daily partition key for the day before now.
// Daily schedules run in the morning for the previous, complete day.
func YesterdayKey(now time.Time) string {
	return CadenceDaily.Key(now.AddDate(0, 0, -1))
}

// Scheduler drives cron schedules and sensor loops against a Runner.
type Scheduler struct {
	runner   *Runner
	cron     *cron.Cron
	location *time.Location
	logger   *logging.Logger

	sensors        []Sensor
	sensorInterval time.Duration
	sensorStop     chan struct{}
	sensorDone     chan struct{}
}

// NewScheduler builds a scheduler evaluating cron expressions in loc.
func NewScheduler(runner *Runner, loc *time.Location) *Scheduler {
	return &Scheduler{
		runner:         runner,
		cron:           cron.New(cron.WithLocation(loc)),
		location:       loc,
		logger:         logging.GetLogger("scheduler.cron"),
		sensorInterval: time.Minute,
	}
}

// Add registers a schedule.
func (s *Scheduler) Add(schedule Schedule) error {
	partition := schedule.Partition
	if partition == nil {
		partition = YesterdayKey
	}

	_, err := s.cron.AddFunc(schedule.Cron, func() {
		now := time.Now().In(s.location)
		key := partition(now)
		s.logger.InfoWithFields("schedule fired",
			logging.Field("schedule", schedule.Name),
			logging.Field("partition", key),
		)
		if _, err := s.runner.Materialize(context.Background(), schedule.Assets, key); err != nil {
			s.logger.ErrorWithErr("scheduled materialization failed", err)
		}
	})
	if err != nil {
		return faults.Config("schedule %s: invalid cron %q: %v", schedule.Name, schedule.Cron, err)
	}

	s.logger.Info("Registered schedule %s (%s) over %d assets", schedule.Name, schedule.Cron, len(schedule.Assets))
	return nil
}

// AddSensor registers a sensor evaluated on the sensor cadence.
func (s *Scheduler) AddSensor(sensor Sensor) {
	s.sensors = append(s.sensors, sensor)
}

// Name implements lifecycle.Component.
func (s *Scheduler) Name() string { return "scheduler" }

// Start begins cron dispatch and the sensor loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()

	s.sensorStop = make(chan struct{})
	s.sensorDone = make(chan struct{})
	go s.sensorLoop()

	s.logger.Info("Scheduler started with %d schedules and %d sensors", len(s.cron.Entries()), len(s.sensors))
	return nil
}

// Stop halts cron dispatch and waits for running jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.sensorStop)
	<-s.sensorDone

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) sensorLoop() {
	defer close(s.sensorDone)

	ticker := time.NewTicker(s.sensorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.sensorStop:
			return
		case <-ticker.C:
			s.evaluateSensors(context.Background())
		}
	}
}

func (s *Scheduler) evaluateSensors(ctx context.Context) {
	for _, sensor := range s.sensors {
		request, skip, err := sensor.Evaluate(ctx)
		if err != nil {
			s.logger.ErrorWithErr("sensor evaluation failed", err)
			continue
		}
		if request == nil {
			if skip != "" {
				s.logger.Debug("sensor %s skipped: %s", sensor.Name(), skip)
			}
			continue
		}

		s.logger.InfoWithFields("sensor requested run",
			logging.Field("sensor", sensor.Name()),
			logging.Field("partition", request.Partition),
			logging.Field("reason", request.Reason),
		)
		if _, err := s.runner.Materialize(ctx, request.Assets, request.Partition); err != nil {
			s.logger.ErrorWithErr("sensor-triggered materialization failed", err)
		}
	}
}
