// Package silver loads bronze objects into the time-series warehouse.
// Tables are bootstrapped idempotently, observation tables are hypertables
// chunked by day, and every partition load is a delete-then-insert inside
// one transaction so re-runs converge to the same state.
package silver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
)

// Querier is the subset of pgxpool.Pool the loader uses.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ddl holds the idempotent table definitions, applied in order.
var ddl = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE EXTENSION IF NOT EXISTS timescaledb`,

	`CREATE TABLE IF NOT EXISTS station (
		station_code   TEXT PRIMARY KEY,
		label          TEXT,
		type           TEXT,
		insee          TEXT,
		masse_eau_code TEXT,
		reseau_code    TEXT,
		geom           geography(Point, 4326)
	)`,
	`CREATE INDEX IF NOT EXISTS station_geom_idx ON station USING GIST (geom)`,

	`CREATE TABLE IF NOT EXISTS parameter (
		code_param TEXT PRIMARY KEY,
		label      TEXT,
		unit       TEXT,
		family     TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS measurement (
		station_code TEXT             NOT NULL,
		theme        TEXT             NOT NULL,
		ts           TIMESTAMPTZ      NOT NULL,
		value        DOUBLE PRECISION,
		quality      TEXT,
		source       TEXT             NOT NULL,
		PRIMARY KEY (station_code, theme, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS measurement_theme_ts_idx ON measurement (theme, ts)`,
	`CREATE INDEX IF NOT EXISTS measurement_source_ts_idx ON measurement (source, ts)`,

	`CREATE TABLE IF NOT EXISTS measure_quality (
		station_code TEXT             NOT NULL,
		param_code   TEXT             NOT NULL,
		ts           TIMESTAMPTZ      NOT NULL,
		value        DOUBLE PRECISION,
		unit         TEXT,
		quality      TEXT,
		source       TEXT             NOT NULL,
		PRIMARY KEY (station_code, param_code, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS measure_quality_param_idx ON measure_quality (param_code)`,
	`CREATE INDEX IF NOT EXISTS measure_quality_source_ts_idx ON measure_quality (source, ts)`,

	`CREATE TABLE IF NOT EXISTS meteo_grid (
		grid_id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		lon     DOUBLE PRECISION NOT NULL,
		lat     DOUBLE PRECISION NOT NULL,
		geom    geography(Point, 4326),
		UNIQUE (lon, lat)
	)`,

	`CREATE TABLE IF NOT EXISTS meteo_series (
		grid_id       BIGINT           NOT NULL,
		ts            TIMESTAMPTZ      NOT NULL,
		precipitation DOUBLE PRECISION,
		temperature   DOUBLE PRECISION,
		source        TEXT             NOT NULL,
		PRIMARY KEY (grid_id, ts)
	)`,

	`CREATE TABLE IF NOT EXISTS station_nearest_grid (
		station_code TEXT PRIMARY KEY,
		grid_id      BIGINT           NOT NULL,
		distance_km  DOUBLE PRECISION NOT NULL
	)`,
}

// hypertables maps observation tables to their time column.
var hypertables = []struct {
	table      string
	timeColumn string
}{
	{"measurement", "ts"},
	{"measure_quality", "ts"},
	{"meteo_series", "ts"},
}

// Bootstrap applies the schema and registers the hypertables. Safe to run
// on every process start.
func Bootstrap(ctx context.Context, db Querier) error {
	logger := logging.GetLogger("silver")

	for _, stmt := range ddl {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return faults.WarehouseWrite(err, "apply schema")
		}
	}

	for _, ht := range hypertables {
		exists, err := hypertableExists(ctx, db, ht.table)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf(
			`SELECT create_hypertable('%s', '%s', chunk_time_interval => INTERVAL '1 day', if_not_exists => TRUE)`,
			ht.table, ht.timeColumn,
		)
		if _, err := db.Exec(ctx, stmt); err != nil {
			return faults.WarehouseWrite(err, "create hypertable %s", ht.table)
		}
		logger.Info("registered hypertable %s", ht.table)
	}

	return nil
}

func hypertableExists(ctx context.Context, db Querier, table string) (bool, error) {
	var count int
	err := db.QueryRow(ctx,
		`SELECT count(*) FROM timescaledb_information.hypertables WHERE hypertable_name = $1`,
		table,
	).Scan(&count)
	if err != nil {
		return false, faults.WarehouseWrite(err, "check hypertable %s", table)
	}
	return count > 0, nil
}
