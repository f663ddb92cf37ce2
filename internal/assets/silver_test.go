package assets

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brgmlab/hydropipe/internal/bronze"
	"github.com/brgmlab/hydropipe/internal/registry"
	"github.com/brgmlab/hydropipe/internal/resources"
	"github.com/brgmlab/hydropipe/internal/scheduler"
	"github.com/brgmlab/hydropipe/internal/silver"
)

// An upstream endpoint that returned no data lands no bronze object. The
// silver load for that partition must still succeed with zero rows, only
// marked degraded by the min-records check.
func TestSilverAssetMissingBronzeObjectDegrades(t *testing.T) {
	builder := newTestBuilder(t, registry.Default())

	reg := scheduler.NewRegistry()
	require.NoError(t, reg.Register(&scheduler.Asset{
		Name: BronzePiezo,
		Producer: func(ctx context.Context, run *scheduler.RunContext) (scheduler.Result, error) {
			return scheduler.Result{Records: 1}, nil
		},
	}))
	require.NoError(t, reg.Register(builder.silverAsset(SilverPiezo, BronzePiezo, "piezo", scheduler.CadenceDaily,
		stationLoad("stations", silver.PiezoStations),
		measureLoad("chroniques_tr", silver.PiezoChronicles),
	)))

	store := bronze.NewMemStore()
	require.NoError(t, store.EnsureBucket(context.Background(), builder.bucket))

	provider := staticResources{
		resources.NameObjectStore: store,
		resources.NameWarehouse:   (*pgxpool.Pool)(nil),
	}
	runner := scheduler.NewRunner(reg, scheduler.NewMemoryStore(), provider, scheduler.RunnerConfig{})

	report, err := runner.Materialize(context.Background(), []string{SilverPiezo}, "2024-10-05")
	require.NoError(t, err)

	record := report.Runs[SilverPiezo]
	require.NotNil(t, record)
	assert.Equal(t, scheduler.StatusSuccess, record.Status)
	assert.Equal(t, 0, record.Records)
	assert.True(t, record.Degraded, "empty partition should degrade, not fail")
	assert.Empty(t, record.Error)
}
