package silver

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
)

// gridCell identifies one meteo grid point by its raw coordinates.
type gridCell struct{ lon, lat float64 }

const upsertGridCellSQL = `
	INSERT INTO meteo_grid (lon, lat, geom)
	VALUES ($1, $2, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
	ON CONFLICT (lon, lat) DO UPDATE SET geom = EXCLUDED.geom
	RETURNING grid_id`

const insertMeteoSeriesSQL = `
	INSERT INTO meteo_series (grid_id, ts, precipitation, temperature, source)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (grid_id, ts) DO UPDATE SET
		precipitation = EXCLUDED.precipitation,
		temperature   = EXCLUDED.temperature,
		source        = EXCLUDED.source`

// ReplaceMeteo reloads one (source, day) slice of the gridded series. Grid
// cells are upserted first so series rows can reference their grid_id, then
// the daily window is replaced like the other observation tables.
func (w *Warehouse) ReplaceMeteo(ctx context.Context, source string, day time.Time, rows []MeteoRow) (int, error) {
	ids, err := w.resolveGridIDs(ctx, rows)
	if err != nil {
		return 0, err
	}

	return w.replaceWindow(ctx, source, day, len(rows),
		`DELETE FROM meteo_series WHERE source = $1 AND ts >= $2 AND ts < $3`,
		func(batch *pgx.Batch, i int) {
			r := rows[i]
			batch.Queue(insertMeteoSeriesSQL, ids[gridCell{r.Lon, r.Lat}], r.TS, r.Precipitation, r.Temperature, r.Source)
		})
}

// resolveGridIDs upserts the distinct cells referenced by rows and returns
// their grid_ids.
func (w *Warehouse) resolveGridIDs(ctx context.Context, rows []MeteoRow) (map[gridCell]int64, error) {
	ids := make(map[gridCell]int64)
	for _, r := range rows {
		cell := gridCell{r.Lon, r.Lat}
		if _, ok := ids[cell]; ok {
			continue
		}
		var id int64
		if err := w.db.QueryRow(ctx, upsertGridCellSQL, cell.lon, cell.lat).Scan(&id); err != nil {
			return nil, faults.WarehouseWrite(err, "upsert grid cell (%g, %g)", cell.lon, cell.lat)
		}
		ids[cell] = id
	}
	return ids, nil
}

const recomputeNearestGridSQL = `
	INSERT INTO station_nearest_grid (station_code, grid_id, distance_km)
	SELECT s.station_code, g.grid_id, ST_Distance(s.geom, g.geom) / 1000.0
	FROM station s
	CROSS JOIN LATERAL (
		SELECT grid_id, geom FROM meteo_grid
		ORDER BY meteo_grid.geom <-> s.geom
		LIMIT 1
	) g
	WHERE s.geom IS NOT NULL`

// RecomputeNearestGrid rebuilds the station to nearest meteo cell mapping
// from scratch. Cheap enough to run after every grid or referential load.
func (w *Warehouse) RecomputeNearestGrid(ctx context.Context) (int, error) {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return 0, faults.WarehouseWrite(err, "begin nearest-grid rebuild")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM station_nearest_grid`); err != nil {
		return 0, faults.WarehouseWrite(err, "clear nearest-grid mapping")
	}
	tag, err := tx.Exec(ctx, recomputeNearestGridSQL)
	if err != nil {
		return 0, faults.WarehouseWrite(err, "rebuild nearest-grid mapping")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, faults.WarehouseWrite(err, "commit nearest-grid rebuild")
	}

	w.logger.InfoWithFields("rebuilt nearest-grid mapping",
		logging.Field("stations", tag.RowsAffected()),
	)
	return int(tag.RowsAffected()), nil
}
