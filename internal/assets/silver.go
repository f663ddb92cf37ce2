package assets

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brgmlab/hydropipe/internal/bronze"
	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/resources"
	"github.com/brgmlab/hydropipe/internal/scheduler"
	"github.com/brgmlab/hydropipe/internal/silver"
)

// silverLoad is one bronze object projected into one silver table.
type silverLoad struct {
	endpointPath string
	load         func(ctx context.Context, l *silver.Loader, api, partition, path string) (int, error)
}

func stationLoad(path string, m silver.StationMapping) silverLoad {
	return silverLoad{endpointPath: path, load: func(ctx context.Context, l *silver.Loader, api, partition, p string) (int, error) {
		return l.LoadStations(ctx, api, partition, p, m)
	}}
}

func measureLoad(path string, m silver.MeasureMapping) silverLoad {
	return silverLoad{endpointPath: path, load: func(ctx context.Context, l *silver.Loader, api, partition, p string) (int, error) {
		return l.LoadMeasurements(ctx, api, partition, p, m)
	}}
}

func qualityLoad(path string, m silver.QualityMapping) silverLoad {
	return silverLoad{endpointPath: path, load: func(ctx context.Context, l *silver.Loader, api, partition, p string) (int, error) {
		return l.LoadQuality(ctx, api, partition, p, m)
	}}
}

func parameterLoad(path string, m silver.ParameterMapping) silverLoad {
	return silverLoad{endpointPath: path, load: func(ctx context.Context, l *silver.Loader, api, partition, p string) (int, error) {
		return l.LoadParameters(ctx, api, partition, p, m)
	}}
}

func meteoLoad(path string) silverLoad {
	return silverLoad{endpointPath: path, load: func(ctx context.Context, l *silver.Loader, api, partition, p string) (int, error) {
		return l.LoadMeteo(ctx, api, partition, p)
	}}
}

// silverAssets declares one load asset per API family, each depending on
// the bronze asset that landed its objects.
func (b *Builder) silverAssets() []*scheduler.Asset {
	return []*scheduler.Asset{
		b.silverAsset(SilverPiezo, BronzePiezo, "piezo", scheduler.CadenceDaily,
			stationLoad("stations", silver.PiezoStations),
			measureLoad("chroniques_tr", silver.PiezoChronicles),
		),
		b.silverAsset(SilverHydro, BronzeHydro, "hydro", scheduler.CadenceDaily,
			stationLoad("referentiel/stations", silver.HydroStations),
			measureLoad("observations_tr", silver.HydroObservations),
		),
		b.silverAsset(SilverTemperature, BronzeTemperature, "temperature", scheduler.CadenceDaily,
			stationLoad("station", silver.TemperatureStations),
			measureLoad("chronique", silver.TemperatureChronicles),
		),
		b.silverAsset(SilverQualitySurface, BronzeQualitySurface, "quality_surface", scheduler.CadenceDaily,
			stationLoad("station_pc", silver.QualitySurfaceStations),
			qualityLoad("analyse_pc", silver.SurfaceAnalyses),
		),
		b.silverAsset(SilverQualityGroundwater, BronzeQualityGroundwater, "quality_groundwater", scheduler.CadenceDaily,
			stationLoad("stations", silver.QualityGroundwaterStations),
			qualityLoad("analyses", silver.GroundwaterAnalyses),
		),
		b.silverAsset(SilverPrelevements, BronzePrelevements, "prelevements", scheduler.CadenceDaily,
			stationLoad("referentiel/points_prelevement", silver.PrelevementPoints),
			measureLoad("chroniques", silver.PrelevementChronicles),
		),
		b.silverAsset(SilverOnde, BronzeOnde, "onde", scheduler.CadenceDaily,
			stationLoad("stations", silver.OndeStations),
			measureLoad("observations", silver.OndeObservations),
		),
		b.silverMeteoAsset(),
		b.silverAsset(SilverSandre, BronzeSandre, "sandre", scheduler.CadenceWeekly,
			parameterLoad("parametres/v1/parametres", silver.SandreParameters),
			parameterLoad("referentiels/v1/unites", silver.SandreUnits),
		),
	}
}

// silverAsset runs a sequence of loads against the warehouse. A partition
// whose upstream endpoint landed no bronze object loads zero rows and the
// run still succeeds; the min-records check marks it degraded.
func (b *Builder) silverAsset(name, dep, apiName string, cadence scheduler.Cadence, loads ...silverLoad) *scheduler.Asset {
	return &scheduler.Asset{
		Name:       name,
		Deps:       []string{dep},
		Partitions: b.spec(cadence),
		Resources:  []string{resources.NameObjectStore, resources.NameWarehouse},
		Checks:     []scheduler.Check{scheduler.MinRecords(1)},
		Producer: func(ctx context.Context, run *scheduler.RunContext) (scheduler.Result, error) {
			loader, err := b.loader(run)
			if err != nil {
				return scheduler.Result{}, err
			}

			total := 0
			details := make(map[string]interface{}, len(loads))
			for _, l := range loads {
				n, err := l.load(ctx, loader, apiName, run.Partition, l.endpointPath)
				if err != nil {
					return scheduler.Result{Records: total, Details: details}, err
				}
				total += n
				details[l.endpointPath] = n
			}
			return scheduler.Result{Records: total, Details: details}, nil
		},
	}
}

// silverMeteoAsset loads the gridded series and refreshes the
// station-to-grid nearest mapping afterwards.
func (b *Builder) silverMeteoAsset() *scheduler.Asset {
	return &scheduler.Asset{
		Name:       SilverMeteo,
		Deps:       []string{BronzeMeteo},
		Partitions: b.spec(scheduler.CadenceDaily),
		Resources:  []string{resources.NameObjectStore, resources.NameWarehouse},
		Checks:     []scheduler.Check{scheduler.MinRecords(1)},
		Producer: func(ctx context.Context, run *scheduler.RunContext) (scheduler.Result, error) {
			loader, err := b.loader(run)
			if err != nil {
				return scheduler.Result{}, err
			}
			warehouse, err := b.warehouse(run)
			if err != nil {
				return scheduler.Result{}, err
			}

			n, err := loader.LoadMeteo(ctx, "meteo", run.Partition, "grid_daily")
			if err != nil {
				return scheduler.Result{}, err
			}
			mapped, err := warehouse.RecomputeNearestGrid(ctx)
			if err != nil {
				return scheduler.Result{Records: n}, err
			}
			return scheduler.Result{
				Records: n,
				Details: map[string]interface{}{"stations_mapped": mapped},
			}, nil
		},
	}
}

// loader builds the per-run silver loader from shared resources.
func (b *Builder) loader(run *scheduler.RunContext) (*silver.Loader, error) {
	storeHandle, err := run.Resource(resources.NameObjectStore)
	if err != nil {
		return nil, err
	}
	store, ok := storeHandle.(bronze.ObjectStore)
	if !ok {
		return nil, faults.Config("resource %q is not an object store", resources.NameObjectStore)
	}
	warehouse, err := b.warehouse(run)
	if err != nil {
		return nil, err
	}
	return silver.NewLoader(store, b.bucket, b.projector, warehouse), nil
}

// warehouse resolves the shared pool into a silver warehouse.
func (b *Builder) warehouse(run *scheduler.RunContext) (*silver.Warehouse, error) {
	poolHandle, err := run.Resource(resources.NameWarehouse)
	if err != nil {
		return nil, err
	}
	pool, ok := poolHandle.(*pgxpool.Pool)
	if !ok {
		return nil, faults.Config("resource %q is not a warehouse pool", resources.NameWarehouse)
	}
	return silver.NewWarehouse(pool), nil
}
