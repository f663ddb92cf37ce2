package assets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brgmlab/hydropipe/internal/bronze"
	"github.com/brgmlab/hydropipe/internal/config"
	"github.com/brgmlab/hydropipe/internal/registry"
	"github.com/brgmlab/hydropipe/internal/resources"
	"github.com/brgmlab/hydropipe/internal/scheduler"
)

func newTestBuilder(t *testing.T, sources *registry.Registry) *Builder {
	t.Helper()
	builder, err := NewBuilder(sources, config.Default(), nil)
	require.NoError(t, err)
	return builder
}

func TestRegisterBuildsFullDAG(t *testing.T) {
	builder := newTestBuilder(t, registry.Default())

	reg := scheduler.NewRegistry()
	require.NoError(t, builder.Register(reg))

	closure, err := reg.Expand(DailyAssets())
	require.NoError(t, err)

	expected := []string{
		BronzePiezo, BronzeHydro, BronzeTemperature,
		BronzeQualitySurface, BronzeQualityGroundwater,
		BronzePrelevements, BronzeOnde, BronzeMeteo, BronzeSandre,
		SilverPiezo, SilverHydro, SilverTemperature,
		SilverQualitySurface, SilverQualityGroundwater,
		SilverPrelevements, SilverOnde, SilverMeteo, SilverSandre,
		GoldSync, GoldReconcile,
	}
	assert.ElementsMatch(t, expected, closure)

	// BDLisa has no downstream asset yet, so the daily closure excludes it.
	assert.NotContains(t, closure, BronzeBDLisa)
}

func TestWavesOrderLayers(t *testing.T) {
	builder := newTestBuilder(t, registry.Default())
	reg := scheduler.NewRegistry()
	require.NoError(t, builder.Register(reg))

	waves, err := reg.Waves(DailyAssets())
	require.NoError(t, err)
	require.Len(t, waves, 4)

	assert.Contains(t, waves[0], BronzePiezo)
	assert.Contains(t, waves[1], SilverPiezo)
	assert.Equal(t, []string{GoldSync}, waves[2])
	assert.Equal(t, []string{GoldReconcile}, waves[3])
}

func TestSchedulesAreValidCron(t *testing.T) {
	builder := newTestBuilder(t, registry.Default())
	reg := scheduler.NewRegistry()
	require.NoError(t, builder.Register(reg))

	runner := scheduler.NewRunner(reg, scheduler.NewMemoryStore(), nil, scheduler.RunnerConfig{})
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	sched := scheduler.NewScheduler(runner, loc)
	for _, s := range Schedules() {
		assert.NoError(t, sched.Add(s), "schedule %s", s.Name)
	}
}

func TestPartitionTime(t *testing.T) {
	tests := []struct {
		key     string
		want    time.Time
		wantErr bool
	}{
		{key: "2024-10-05", want: time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC)},
		{key: "2024-W40", want: time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)},
		{key: "2021-W01", want: time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)},
		{key: "2024-10", want: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)},
		{key: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := PartitionTime(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type staticResources map[string]interface{}

func (s staticResources) Resource(name string) (interface{}, bool) {
	h, ok := s[name]
	return h, ok
}

// testSources returns a registry with a single API pointed at the test
// server, shaped like a hubeau stations endpoint.
func testSources(baseURL string) *registry.Registry {
	return &registry.Registry{
		APIs: map[string]registry.API{
			"testapi": {
				Name:        "testapi",
				BaseURL:     baseURL,
				Timeout:     5 * time.Second,
				RetryBudget: 1,
				Endpoints: map[string]registry.Endpoint{
					"stations": {Path: "stations", PageSize: 100},
				},
			},
		},
		WFS: map[string]registry.WFSSource{},
	}
}

func TestBronzeAssetLandsObjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count": 2,
			"data": []map[string]interface{}{
				{"code_bss": "BSS000AAAA"},
				{"code_bss": "BSS000BBBB"},
			},
		})
	}))
	defer server.Close()

	builder := newTestBuilder(t, testSources(server.URL))
	asset := builder.bronzeAsset("bronze_testapi", "testapi", scheduler.CadenceDaily, 26*time.Hour)

	reg := scheduler.NewRegistry()
	require.NoError(t, reg.Register(asset))

	store := bronze.NewMemStore()
	provider := staticResources{
		resources.NameHTTP:        server.Client(),
		resources.NameObjectStore: store,
	}
	runner := scheduler.NewRunner(reg, scheduler.NewMemoryStore(), provider, scheduler.RunnerConfig{})

	report, err := runner.Materialize(context.Background(), []string{"bronze_testapi"}, "2024-10-05")
	require.NoError(t, err)

	record := report.Runs["bronze_testapi"]
	require.NotNil(t, record)
	assert.Equal(t, scheduler.StatusSuccess, record.Status)
	assert.False(t, record.Degraded)
	assert.Equal(t, 2, record.Records)

	body, err := store.Get(context.Background(), config.Default().Object.Bucket(), "testapi/2024-10-05/stations.json")
	require.NoError(t, err)
	var landed []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &landed))
	assert.Len(t, landed, 2)
}

func TestBronzeAssetEmptyPartitionDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"count": 0, "data": []map[string]interface{}{}})
	}))
	defer server.Close()

	builder := newTestBuilder(t, testSources(server.URL))
	asset := builder.bronzeAsset("bronze_testapi", "testapi", scheduler.CadenceDaily, 26*time.Hour)

	reg := scheduler.NewRegistry()
	require.NoError(t, reg.Register(asset))

	provider := staticResources{
		resources.NameHTTP:        server.Client(),
		resources.NameObjectStore: bronze.NewMemStore(),
	}
	runner := scheduler.NewRunner(reg, scheduler.NewMemoryStore(), provider, scheduler.RunnerConfig{})

	report, err := runner.Materialize(context.Background(), []string{"bronze_testapi"}, "2024-10-05")
	require.NoError(t, err)

	record := report.Runs["bronze_testapi"]
	require.NotNil(t, record)
	assert.Equal(t, scheduler.StatusSuccess, record.Status)
	assert.True(t, record.Degraded, "min_records check should degrade an empty partition")
}

func TestBronzeAssetUpstreamFailureFailsRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	builder := newTestBuilder(t, testSources(server.URL))
	asset := builder.bronzeAsset("bronze_testapi", "testapi", scheduler.CadenceDaily, 26*time.Hour)

	reg := scheduler.NewRegistry()
	require.NoError(t, reg.Register(asset))

	provider := staticResources{
		resources.NameHTTP:        server.Client(),
		resources.NameObjectStore: bronze.NewMemStore(),
	}
	runner := scheduler.NewRunner(reg, scheduler.NewMemoryStore(), provider, scheduler.RunnerConfig{})

	report, err := runner.Materialize(context.Background(), []string{"bronze_testapi"}, "2024-10-05")
	require.NoError(t, err)

	record := report.Runs["bronze_testapi"]
	require.NotNil(t, record)
	assert.Equal(t, scheduler.StatusFailed, record.Status)
	assert.Equal(t, "non_retriable_source", record.ErrorClass)
}
