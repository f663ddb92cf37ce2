package silver

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
)

// upsertBatchSize bounds how many rows go into one pgx batch round trip.
const upsertBatchSize = 1000

// Warehouse wraps the silver database with idempotent load operations.
type Warehouse struct {
	db     Querier
	logger *logging.Logger
}

// NewWarehouse builds a Warehouse on an open pool.
func NewWarehouse(db Querier) *Warehouse {
	return &Warehouse{
		db:     db,
		logger: logging.GetLogger("silver.warehouse"),
	}
}

const upsertStationSQL = `
	INSERT INTO station (station_code, label, type, insee, masse_eau_code, reseau_code, geom)
	VALUES ($1, $2, $3, $4, $5, $6,
		CASE WHEN $7::float8 IS NULL THEN NULL
		     ELSE ST_SetSRID(ST_MakePoint($7::float8, $8::float8), 4326)::geography END)
	ON CONFLICT (station_code) DO UPDATE SET
		label          = EXCLUDED.label,
		type           = EXCLUDED.type,
		insee          = EXCLUDED.insee,
		masse_eau_code = EXCLUDED.masse_eau_code,
		reseau_code    = EXCLUDED.reseau_code,
		geom           = EXCLUDED.geom`

// UpsertStations writes station referential rows, last write wins per code.
func (w *Warehouse) UpsertStations(ctx context.Context, rows []StationRow) (int, error) {
	err := w.inBatches(ctx, len(rows), func(batch *pgx.Batch, i int) {
		r := rows[i]
		batch.Queue(upsertStationSQL, r.Code, r.Label, r.Type, r.Insee, r.MasseEau, r.Reseau, r.Lon, r.Lat)
	})
	if err != nil {
		return 0, faults.WarehouseWrite(err, "upsert stations")
	}
	return len(rows), nil
}

const upsertParameterSQL = `
	INSERT INTO parameter (code_param, label, unit, family)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (code_param) DO UPDATE SET
		label  = EXCLUDED.label,
		unit   = COALESCE(NULLIF(EXCLUDED.unit, ''), parameter.unit),
		family = COALESCE(NULLIF(EXCLUDED.family, ''), parameter.family)`

// UpsertParameters writes nomenclature rows. Empty unit or family never
// overwrites a previously known value, so the parametres and unites dumps
// can be loaded in either order.
func (w *Warehouse) UpsertParameters(ctx context.Context, rows []ParameterRow) (int, error) {
	err := w.inBatches(ctx, len(rows), func(batch *pgx.Batch, i int) {
		r := rows[i]
		batch.Queue(upsertParameterSQL, r.Code, r.Label, r.Unit, r.Family)
	})
	if err != nil {
		return 0, faults.WarehouseWrite(err, "upsert parameters")
	}
	return len(rows), nil
}

const insertMeasurementSQL = `
	INSERT INTO measurement (station_code, theme, ts, value, quality, source)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (station_code, theme, ts) DO UPDATE SET
		value   = EXCLUDED.value,
		quality = EXCLUDED.quality,
		source  = EXCLUDED.source`

// ReplaceMeasurements reloads one (source, day) slice of the measurement
// hypertable: delete the window, insert the rows, one transaction.
func (w *Warehouse) ReplaceMeasurements(ctx context.Context, source string, day time.Time, rows []MeasurementRow) (int, error) {
	return w.replaceWindow(ctx, source, day, len(rows),
		`DELETE FROM measurement WHERE source = $1 AND ts >= $2 AND ts < $3`,
		func(batch *pgx.Batch, i int) {
			r := rows[i]
			batch.Queue(insertMeasurementSQL, r.StationCode, r.Theme, r.TS, r.Value, r.Quality, r.Source)
		})
}

const insertQualitySQL = `
	INSERT INTO measure_quality (station_code, param_code, ts, value, unit, quality, source)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (station_code, param_code, ts) DO UPDATE SET
		value   = EXCLUDED.value,
		unit    = EXCLUDED.unit,
		quality = EXCLUDED.quality,
		source  = EXCLUDED.source`

// ReplaceQuality reloads one (source, day) slice of measure_quality.
func (w *Warehouse) ReplaceQuality(ctx context.Context, source string, day time.Time, rows []QualityRow) (int, error) {
	return w.replaceWindow(ctx, source, day, len(rows),
		`DELETE FROM measure_quality WHERE source = $1 AND ts >= $2 AND ts < $3`,
		func(batch *pgx.Batch, i int) {
			r := rows[i]
			batch.Queue(insertQualitySQL, r.StationCode, r.ParamCode, r.TS, r.Value, r.Unit, r.Quality, r.Source)
		})
}

// replaceWindow runs delete-then-insert for a daily partition window inside
// one transaction. WindowBounds defines the [start, end) interval.
func (w *Warehouse) replaceWindow(ctx context.Context, source string, day time.Time, n int, deleteSQL string, queue func(*pgx.Batch, int)) (int, error) {
	start, end := WindowBounds(day)

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return 0, faults.WarehouseWrite(err, "begin partition load")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, deleteSQL, source, start, end)
	if err != nil {
		return 0, faults.WarehouseWrite(err, "clear partition window %s/%s", source, day.Format("2006-01-02"))
	}
	w.logger.DebugWithFields("cleared partition window",
		logging.Field("source", source),
		logging.Field("day", day.Format("2006-01-02")),
		logging.Field("deleted", tag.RowsAffected()),
	)

	for lo := 0; lo < n; lo += upsertBatchSize {
		hi := lo + upsertBatchSize
		if hi > n {
			hi = n
		}
		batch := &pgx.Batch{}
		for i := lo; i < hi; i++ {
			queue(batch, i)
		}
		if err := flushBatch(ctx, tx, batch); err != nil {
			return 0, faults.WarehouseWrite(err, "insert partition window %s/%s", source, day.Format("2006-01-02"))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, faults.WarehouseWrite(err, "commit partition load %s/%s", source, day.Format("2006-01-02"))
	}
	return n, nil
}

// inBatches sends n queued statements in bounded batches outside of any
// enclosing transaction.
func (w *Warehouse) inBatches(ctx context.Context, n int, queue func(*pgx.Batch, int)) error {
	for lo := 0; lo < n; lo += upsertBatchSize {
		hi := lo + upsertBatchSize
		if hi > n {
			hi = n
		}
		batch := &pgx.Batch{}
		for i := lo; i < hi; i++ {
			queue(batch, i)
		}
		tx, err := w.db.Begin(ctx)
		if err != nil {
			return err
		}
		if err := flushBatch(ctx, tx, batch); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func flushBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

// WindowBounds returns the [start, end) interval of a daily partition in UTC.
func WindowBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
