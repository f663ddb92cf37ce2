package silver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/brgmlab/hydropipe/internal/bronze"
	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/harvest"
	"github.com/brgmlab/hydropipe/internal/logging"
)

// Loader reads raw bronze objects, projects them, and writes silver rows.
type Loader struct {
	store     bronze.ObjectStore
	bucket    string
	projector *Projector
	warehouse *Warehouse
	logger    *logging.Logger
}

// NewLoader wires a loader onto the bronze bucket and the warehouse.
func NewLoader(store bronze.ObjectStore, bucket string, projector *Projector, warehouse *Warehouse) *Loader {
	return &Loader{
		store:     store,
		bucket:    bucket,
		projector: projector,
		warehouse: warehouse,
		logger:    logging.GetLogger("silver.loader"),
	}
}

// readRecords fetches and decodes one bronze JSON object. A missing object
// means the endpoint returned no data for the partition, so the load carries
// on with zero records instead of failing.
func (l *Loader) readRecords(ctx context.Context, key string) ([]harvest.Record, bool, error) {
	body, err := l.store.Get(ctx, l.bucket, key)
	if errors.Is(err, bronze.ErrObjectNotFound) {
		l.logger.InfoWithFields("bronze object absent, loading zero rows",
			logging.Field("key", key),
		)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var records []harvest.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, false, faults.Permanent(err, "decode bronze object %s", key)
	}
	return records, true, nil
}

// LoadStations loads a station referential partition into the station table.
func (l *Loader) LoadStations(ctx context.Context, api, partition, endpointPath string, mapping StationMapping) (int, error) {
	records, found, err := l.readRecords(ctx, bronze.JSONKey(api, partition, endpointPath))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	rows := l.projector.Stations(records, mapping)
	n, err := l.warehouse.UpsertStations(ctx, rows)
	if err != nil {
		return 0, err
	}
	l.logger.InfoWithFields("loaded stations",
		logging.Field("api", api),
		logging.Field("partition", partition),
		logging.Field("rows", n),
	)
	return n, nil
}

// LoadMeasurements reloads one observation partition into measurement.
func (l *Loader) LoadMeasurements(ctx context.Context, api, partition, endpointPath string, mapping MeasureMapping) (int, error) {
	day, err := parsePartition(partition)
	if err != nil {
		return 0, err
	}
	records, found, err := l.readRecords(ctx, bronze.JSONKey(api, partition, endpointPath))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	rows := l.projector.Measurements(records, mapping, api)
	n, err := l.warehouse.ReplaceMeasurements(ctx, api, day, rows)
	if err != nil {
		return 0, err
	}
	l.logger.InfoWithFields("loaded measurements",
		logging.Field("api", api),
		logging.Field("theme", mapping.Theme),
		logging.Field("partition", partition),
		logging.Field("rows", n),
	)
	return n, nil
}

// LoadQuality reloads one analysis partition into measure_quality.
func (l *Loader) LoadQuality(ctx context.Context, api, partition, endpointPath string, mapping QualityMapping) (int, error) {
	day, err := parsePartition(partition)
	if err != nil {
		return 0, err
	}
	records, found, err := l.readRecords(ctx, bronze.JSONKey(api, partition, endpointPath))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	rows := l.projector.Quality(records, mapping, api)
	n, err := l.warehouse.ReplaceQuality(ctx, api, day, rows)
	if err != nil {
		return 0, err
	}
	l.logger.InfoWithFields("loaded analyses",
		logging.Field("api", api),
		logging.Field("partition", partition),
		logging.Field("rows", n),
	)
	return n, nil
}

// LoadParameters loads a nomenclature partition into parameter.
func (l *Loader) LoadParameters(ctx context.Context, api, partition, endpointPath string, mapping ParameterMapping) (int, error) {
	records, found, err := l.readRecords(ctx, bronze.JSONKey(api, partition, endpointPath))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	rows := l.projector.Parameters(records, mapping)
	n, err := l.warehouse.UpsertParameters(ctx, rows)
	if err != nil {
		return 0, err
	}
	l.logger.InfoWithFields("loaded parameters",
		logging.Field("api", api),
		logging.Field("partition", partition),
		logging.Field("rows", n),
	)
	return n, nil
}

// LoadMeteo reloads one gridded partition into meteo_grid and meteo_series.
func (l *Loader) LoadMeteo(ctx context.Context, api, partition, endpointPath string) (int, error) {
	day, err := parsePartition(partition)
	if err != nil {
		return 0, err
	}
	records, found, err := l.readRecords(ctx, bronze.JSONKey(api, partition, endpointPath))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	rows := l.projector.Meteo(records, api)
	n, err := l.warehouse.ReplaceMeteo(ctx, api, day, rows)
	if err != nil {
		return 0, err
	}
	l.logger.InfoWithFields("loaded meteo grid",
		logging.Field("api", api),
		logging.Field("partition", partition),
		logging.Field("rows", n),
	)
	return n, nil
}

func parsePartition(partition string) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", partition, time.UTC)
	if err != nil {
		return time.Time{}, faults.Config("invalid partition key %q", partition)
	}
	return day, nil
}
