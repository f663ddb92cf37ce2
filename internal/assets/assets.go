// Package assets declares the concrete materialization DAG: one bronze
// asset per harvested source, silver loads per API family, and the gold
// graph sync on top. The builder wires producers onto shared resources by
// name; nothing here opens a connection itself.
package assets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/brgmlab/hydropipe/internal/bronze"
	"github.com/brgmlab/hydropipe/internal/config"
	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/harvest"
	"github.com/brgmlab/hydropipe/internal/registry"
	"github.com/brgmlab/hydropipe/internal/resources"
	"github.com/brgmlab/hydropipe/internal/scheduler"
	"github.com/brgmlab/hydropipe/internal/silver"
)

// Asset names, referenced by schedules, sensors and tests.
const (
	BronzePiezo              = "bronze_piezo"
	BronzeHydro              = "bronze_hydro"
	BronzeTemperature        = "bronze_temperature"
	BronzeQualitySurface     = "bronze_quality_surface"
	BronzeQualityGroundwater = "bronze_quality_groundwater"
	BronzePrelevements       = "bronze_prelevements"
	BronzeOnde               = "bronze_onde"
	BronzeMeteo              = "bronze_meteo"
	BronzeSandre             = "bronze_sandre"
	BronzeBDLisa             = "bronze_bdlisa"

	SilverPiezo              = "silver_piezo"
	SilverHydro              = "silver_hydro"
	SilverTemperature        = "silver_temperature"
	SilverQualitySurface     = "silver_quality_surface"
	SilverQualityGroundwater = "silver_quality_groundwater"
	SilverPrelevements       = "silver_prelevements"
	SilverOnde               = "silver_onde"
	SilverMeteo              = "silver_meteo"
	SilverSandre             = "silver_sandre"

	GoldSync      = "gold_sync"
	GoldReconcile = "gold_reconcile"
)

// HarvestObserver receives bronze landing counts, typically metrics.
type HarvestObserver interface {
	ObserveHarvest(api, endpoint string, records, bytes int)
}

// Builder assembles the asset DAG from the source registry and config.
type Builder struct {
	sources    *registry.Registry
	bucket     string
	harvestCfg harvest.Config
	projector  *silver.Projector
	observer   HarvestObserver
	start      time.Time
}

// NewBuilder prepares a builder. The observer may be nil.
func NewBuilder(sources *registry.Registry, cfg *config.Config, observer HarvestObserver) (*Builder, error) {
	if err := sources.Validate(); err != nil {
		return nil, err
	}
	projector, err := silver.NewProjector(cfg.Harvest.CoordCacheSize)
	if err != nil {
		return nil, err
	}
	return &Builder{
		sources: sources,
		bucket:  cfg.Object.Bucket(),
		harvestCfg: harvest.Config{
			BackoffFactor:       cfg.Harvest.BackoffFactor,
			EndpointConcurrency: cfg.Harvest.EndpointConcurrency,
		},
		projector: projector,
		observer:  observer,
		start:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

// Register declares every asset on the scheduler registry, dependencies
// before dependents.
func (b *Builder) Register(reg *scheduler.Registry) error {
	dailyBronze := []struct {
		name string
		api  string
	}{
		{BronzePiezo, "piezo"},
		{BronzeHydro, "hydro"},
		{BronzeTemperature, "temperature"},
		{BronzeQualitySurface, "quality_surface"},
		{BronzeQualityGroundwater, "quality_groundwater"},
		{BronzePrelevements, "prelevements"},
		{BronzeOnde, "onde"},
		{BronzeMeteo, "meteo"},
	}
	for _, a := range dailyBronze {
		if err := reg.Register(b.bronzeAsset(a.name, a.api, scheduler.CadenceDaily, 26*time.Hour)); err != nil {
			return err
		}
	}
	if err := reg.Register(b.bronzeAsset(BronzeSandre, "sandre", scheduler.CadenceWeekly, 8*24*time.Hour)); err != nil {
		return err
	}
	if err := reg.Register(b.bdlisaAsset()); err != nil {
		return err
	}

	for _, a := range b.silverAssets() {
		if err := reg.Register(a); err != nil {
			return err
		}
	}

	if err := reg.Register(b.goldSyncAsset()); err != nil {
		return err
	}
	return reg.Register(b.goldReconcileAsset())
}

// spec returns the partition spec for a cadence, anchored at the shared
// backfill start.
func (b *Builder) spec(cadence scheduler.Cadence) *scheduler.PartitionSpec {
	return &scheduler.PartitionSpec{Start: b.start, Cadence: cadence}
}

// bronzeAsset harvests every endpoint of one JSON API and lands the record
// sets in the bronze bucket.
func (b *Builder) bronzeAsset(name, apiName string, cadence scheduler.Cadence, maxLag time.Duration) *scheduler.Asset {
	return &scheduler.Asset{
		Name:       name,
		Partitions: b.spec(cadence),
		Resources:  []string{resources.NameHTTP, resources.NameObjectStore},
		Freshness:  &scheduler.FreshnessPolicy{MaximumLag: maxLag},
		Checks:     []scheduler.Check{scheduler.MinRecords(1)},
		Producer: func(ctx context.Context, run *scheduler.RunContext) (scheduler.Result, error) {
			api, err := b.sources.API(apiName)
			if err != nil {
				return scheduler.Result{}, err
			}
			harvester, writer, err := b.harvestPair(run)
			if err != nil {
				return scheduler.Result{}, err
			}
			day, err := PartitionTime(run.Partition)
			if err != nil {
				return scheduler.Result{}, err
			}

			records, report := harvester.FetchAPI(ctx, api, day)

			totalBytes := 0
			details := make(map[string]interface{}, len(report.Endpoints))
			for _, er := range report.Endpoints {
				details[er.Endpoint] = map[string]interface{}{
					"status":  string(er.Status),
					"records": er.Records,
					"pages":   er.Pages,
					"dropped": er.Dropped,
				}
				if er.Status != harvest.StatusSuccess {
					continue
				}
				ep, err := api.Endpoint(er.Endpoint)
				if err != nil {
					return scheduler.Result{}, err
				}
				key := bronze.JSONKey(api.Name, run.Partition, ep.Path)
				n, err := writer.PutJSON(ctx, key, records[er.Endpoint])
				if err != nil {
					return scheduler.Result{}, err
				}
				totalBytes += n
				if b.observer != nil {
					b.observer.ObserveHarvest(api.Name, er.Endpoint, er.Records, n)
				}
			}

			if report.Outcome() == "failed" {
				return scheduler.Result{}, firstEndpointError(report)
			}
			return scheduler.Result{
				Records: report.TotalRecords(),
				Bytes:   totalBytes,
				Details: details,
			}, nil
		},
	}
}

// bdlisaAsset lands each WFS dataset as raw GML. Monthly cadence; the
// reference layers change rarely.
func (b *Builder) bdlisaAsset() *scheduler.Asset {
	return &scheduler.Asset{
		Name:       BronzeBDLisa,
		Partitions: b.spec(scheduler.CadenceMonthly),
		Resources:  []string{resources.NameHTTP, resources.NameObjectStore},
		Freshness:  &scheduler.FreshnessPolicy{MaximumLag: 32 * 24 * time.Hour},
		Producer: func(ctx context.Context, run *scheduler.RunContext) (scheduler.Result, error) {
			src, ok := b.sources.WFS["bdlisa"]
			if !ok {
				return scheduler.Result{}, faults.Config("wfs source bdlisa is not registered")
			}
			harvester, writer, err := b.harvestPair(run)
			if err != nil {
				return scheduler.Result{}, err
			}

			totalBytes := 0
			details := make(map[string]interface{}, len(src.Datasets))
			for _, ds := range src.Datasets {
				body, err := harvester.FetchWFS(ctx, src, ds.Name)
				if err != nil {
					return scheduler.Result{}, err
				}
				n, err := writer.PutGML(ctx, ds.Name, body)
				if err != nil {
					return scheduler.Result{}, err
				}
				totalBytes += n
				details[ds.Name] = n
				if b.observer != nil {
					b.observer.ObserveHarvest(src.Name, ds.Name, 1, n)
				}
			}
			return scheduler.Result{
				Records: len(src.Datasets),
				Bytes:   totalBytes,
				Details: details,
			}, nil
		},
	}
}

// harvestPair builds the per-run harvester and bronze writer from the
// shared HTTP client and object store.
func (b *Builder) harvestPair(run *scheduler.RunContext) (*harvest.Harvester, *bronze.Writer, error) {
	clientHandle, err := run.Resource(resources.NameHTTP)
	if err != nil {
		return nil, nil, err
	}
	storeHandle, err := run.Resource(resources.NameObjectStore)
	if err != nil {
		return nil, nil, err
	}
	client, ok := clientHandle.(*http.Client)
	if !ok {
		return nil, nil, faults.Config("resource %q is not an HTTP client", resources.NameHTTP)
	}
	store, ok := storeHandle.(bronze.ObjectStore)
	if !ok {
		return nil, nil, faults.Config("resource %q is not an object store", resources.NameObjectStore)
	}
	return harvest.New(client, b.harvestCfg), bronze.NewWriter(store, b.bucket), nil
}

// firstEndpointError surfaces the first failed endpoint's typed error so
// the run record carries its class.
func firstEndpointError(report *harvest.Report) error {
	for _, er := range report.Endpoints {
		if er.Status == harvest.StatusFailed && er.Err != nil {
			return er.Err
		}
	}
	return fmt.Errorf("harvest of %s failed", report.API)
}

// PartitionTime resolves a partition key of any cadence to its reference
// instant: the day itself, the ISO week's Monday, or the first of the
// month, all UTC.
func PartitionTime(key string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", key, time.UTC); err == nil {
		return t, nil
	}
	var year, week int
	if n, err := fmt.Sscanf(key, "%4d-W%2d", &year, &week); err == nil && n == 2 {
		// January 4th is always in ISO week 1.
		jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
		monday := jan4.AddDate(0, 0, -(int(jan4.Weekday())+6)%7)
		return monday.AddDate(0, 0, (week-1)*7), nil
	}
	if t, err := time.ParseInLocation("2006-01", key, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, faults.Config("unrecognized partition key %q", key)
}
