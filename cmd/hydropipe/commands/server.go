package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brgmlab/hydropipe/internal/assets"
	"github.com/brgmlab/hydropipe/internal/lifecycle"
	"github.com/brgmlab/hydropipe/internal/logging"
	"github.com/brgmlab/hydropipe/internal/metrics"
	"github.com/brgmlab/hydropipe/internal/registry"
	"github.com/brgmlab/hydropipe/internal/resources"
	"github.com/brgmlab/hydropipe/internal/scheduler"
	"github.com/brgmlab/hydropipe/internal/tracing"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the pipeline scheduler daemon",
	Long: `Start the scheduler daemon: cron schedules and sensors materialize
asset partitions, and the admin port serves metrics and health.`,
	Run: runServer,
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	HandleError(err, "Configuration error")

	logger := logging.GetLogger("main")
	logger.Info("Starting hydropipe v%s", Version)

	location, err := cfg.Location()
	HandleError(err, "Configuration error")

	res, err := resources.New(cfg)
	HandleError(err, "Resource setup error")

	pipelineMetrics := metrics.New()
	admin := metrics.NewAdminServer(cfg.AdminPort, pipelineMetrics, nil)

	tracingProvider, err := tracing.NewTracingProvider(tracing.Config{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
	})
	HandleError(err, "Tracing setup error")

	builder, err := assets.NewBuilder(registry.Default(), cfg, pipelineMetrics)
	HandleError(err, "Asset setup error")

	assetRegistry := scheduler.NewRegistry()
	HandleError(builder.Register(assetRegistry), "Asset registration error")

	state := scheduler.NewRedisStore(res.Cache())
	runner := scheduler.NewRunner(assetRegistry, state, res, scheduler.RunnerConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		Observer:      pipelineMetrics,
	})

	sched := scheduler.NewScheduler(runner, location)
	for _, s := range assets.Schedules() {
		HandleError(sched.Add(s), "Schedule registration error")
	}
	for _, sensor := range assets.Sensors(assetRegistry, state) {
		sched.AddSensor(sensor)
	}

	manager := lifecycle.NewManager()
	HandleError(manager.Register(tracingProvider), "Component registration error")
	HandleError(manager.Register(res), "Component registration error")
	HandleError(manager.Register(admin), "Component registration error")
	HandleError(manager.Register(sched, res), "Component registration error")

	ctx, cancel := context.WithCancel(context.Background())
	if err := manager.Start(ctx); err != nil {
		logger.Error("Failed to start components: %v", err)
		HandleError(err, "Startup error")
	}

	logger.Info("Scheduler daemon started, admin port %d", cfg.AdminPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received, gracefully shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}
	logger.Info("Shutdown complete")
}
