package gold

import (
	"context"
	"time"

	"github.com/brgmlab/hydropipe/internal/faults"
	"github.com/brgmlab/hydropipe/internal/logging"
	"github.com/brgmlab/hydropipe/internal/silver"
)

// SyncReport summarizes one synchronization pass.
type SyncReport struct {
	Nodes  int
	Edges  int
	Errors int
}

// Synchronizer runs full passes from the silver warehouse into the graph.
type Synchronizer struct {
	db       silver.Querier
	client   Client
	logger   *logging.Logger
	radiusKm float64
	now      func() time.Time
}

// NewSynchronizer wires a synchronizer onto the warehouse and graph client.
func NewSynchronizer(db silver.Querier, client Client) *Synchronizer {
	return &Synchronizer{
		db:       db,
		client:   client,
		logger:   logging.GetLogger("gold.sync"),
		radiusKm: DefaultNearRadiusKm,
		now:      time.Now,
	}
}

// stationEntity is one silver station row as the graph sees it.
type stationEntity struct {
	Code     string
	Label    string
	Type     string
	Insee    string
	MasseEau string
	Reseau   string
	Lon      *float64
	Lat      *float64
}

// Sync runs one full pass: node merges first, then relations. Individual
// merge failures are logged and counted; the pass continues because every
// merge is idempotent and the next pass will retry.
func (s *Synchronizer) Sync(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{}

	stations, err := s.readStations(ctx)
	if err != nil {
		return report, err
	}

	s.mergeStationNodes(ctx, stations, report)

	if err := s.mergeParameterNodes(ctx, report); err != nil {
		return report, err
	}
	if err := s.mergeGridNodes(ctx, report); err != nil {
		return report, err
	}

	s.mergeStationEdges(ctx, stations, report)

	if err := s.mergeHasParam(ctx, report); err != nil {
		return report, err
	}

	s.mergeNear(ctx, stations, report)

	if err := s.mergeCorrelated(ctx, report); err != nil {
		return report, err
	}
	if err := s.mergeParamPairs(ctx, report); err != nil {
		return report, err
	}
	if err := s.mergeNearestGrid(ctx, report); err != nil {
		return report, err
	}

	s.logger.InfoWithFields("graph sync pass complete",
		logging.Field("nodes", report.Nodes),
		logging.Field("edges", report.Edges),
		logging.Field("errors", report.Errors),
	)
	return report, nil
}

func (s *Synchronizer) readStations(ctx context.Context) ([]stationEntity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT station_code, COALESCE(label, ''), COALESCE(type, ''),
		       COALESCE(insee, ''), COALESCE(masse_eau_code, ''), COALESCE(reseau_code, ''),
		       ST_X(geom::geometry), ST_Y(geom::geometry)
		FROM station`)
	if err != nil {
		return nil, faults.WarehouseWrite(err, "read stations for graph sync")
	}
	defer rows.Close()

	var stations []stationEntity
	for rows.Next() {
		var st stationEntity
		if err := rows.Scan(&st.Code, &st.Label, &st.Type, &st.Insee, &st.MasseEau, &st.Reseau, &st.Lon, &st.Lat); err != nil {
			return nil, faults.WarehouseWrite(err, "scan station row")
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *Synchronizer) execMerge(ctx context.Context, q GraphQuery, report *SyncReport, isEdge bool) {
	if _, err := s.client.ExecuteQuery(ctx, q); err != nil {
		report.Errors++
		s.logger.ErrorWithErr("graph merge failed", err)
		return
	}
	if isEdge {
		report.Edges++
	} else {
		report.Nodes++
	}
}

func (s *Synchronizer) mergeStationNodes(ctx context.Context, stations []stationEntity, report *SyncReport) {
	communes := make(map[string]struct{})
	masses := make(map[string]struct{})
	reseaux := make(map[string]struct{})

	for _, st := range stations {
		s.execMerge(ctx, MergeStation(st.Code, st.Label, st.Type), report, false)
		if st.Insee != "" {
			communes[st.Insee] = struct{}{}
		}
		if st.MasseEau != "" {
			masses[st.MasseEau] = struct{}{}
		}
		if st.Reseau != "" {
			reseaux[st.Reseau] = struct{}{}
		}
	}
	for insee := range communes {
		s.execMerge(ctx, MergeCommune(insee), report, false)
	}
	for code := range masses {
		s.execMerge(ctx, MergeMasseEau(code), report, false)
	}
	for code := range reseaux {
		s.execMerge(ctx, MergeReseau(code), report, false)
	}
}

func (s *Synchronizer) mergeParameterNodes(ctx context.Context, report *SyncReport) error {
	rows, err := s.db.Query(ctx, `SELECT code_param, COALESCE(label, ''), COALESCE(unit, '') FROM parameter`)
	if err != nil {
		return faults.WarehouseWrite(err, "read parameters for graph sync")
	}
	defer rows.Close()

	for rows.Next() {
		var code, label, unit string
		if err := rows.Scan(&code, &label, &unit); err != nil {
			return faults.WarehouseWrite(err, "scan parameter row")
		}
		s.execMerge(ctx, MergeParametre(code, label, unit), report, false)
	}
	return rows.Err()
}

func (s *Synchronizer) mergeGridNodes(ctx context.Context, report *SyncReport) error {
	rows, err := s.db.Query(ctx, `SELECT grid_id, lon, lat FROM meteo_grid`)
	if err != nil {
		return faults.WarehouseWrite(err, "read meteo grid for graph sync")
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var lon, lat float64
		if err := rows.Scan(&id, &lon, &lat); err != nil {
			return faults.WarehouseWrite(err, "scan grid row")
		}
		s.execMerge(ctx, MergeMeteoGrid(id, lon, lat), report, false)
	}
	return rows.Err()
}

func (s *Synchronizer) mergeStationEdges(ctx context.Context, stations []stationEntity, report *SyncReport) {
	for _, st := range stations {
		if st.Insee != "" {
			s.execMerge(ctx, MergeLocatedIn(st.Code, st.Insee), report, true)
		}
		if st.MasseEau != "" {
			s.execMerge(ctx, MergeInMasse(st.Code, st.MasseEau), report, true)
		}
		if st.Reseau != "" {
			s.execMerge(ctx, MergeBelongsTo(st.Code, st.Reseau), report, true)
		}
	}
}

func (s *Synchronizer) mergeHasParam(ctx context.Context, report *SyncReport) error {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT station_code, param_code FROM measure_quality`)
	if err != nil {
		return faults.WarehouseWrite(err, "read station parameter pairs")
	}
	defer rows.Close()

	for rows.Next() {
		var station, param string
		if err := rows.Scan(&station, &param); err != nil {
			return faults.WarehouseWrite(err, "scan station parameter pair")
		}
		s.execMerge(ctx, MergeHasParam(station, param), report, true)
	}
	return rows.Err()
}

func (s *Synchronizer) mergeNear(ctx context.Context, stations []stationEntity, report *SyncReport) {
	var points []StationPoint
	for _, st := range stations {
		if st.Lon == nil || st.Lat == nil {
			continue
		}
		points = append(points, StationPoint{Code: st.Code, Lon: *st.Lon, Lat: *st.Lat})
	}

	for _, pair := range NearPairs(points, s.radiusKm) {
		s.execMerge(ctx, MergeNear(pair.Code1, pair.Code2, pair.DistanceKm), report, true)
	}
}

func (s *Synchronizer) mergeCorrelated(ctx context.Context, report *SyncReport) error {
	windowEnd := s.now()
	windowStart := windowEnd.AddDate(0, 0, -CorrelationWindowDays)

	rows, err := s.db.Query(ctx, `
		SELECT station_code, theme, date_trunc('day', ts), avg(value)
		FROM measurement
		WHERE value IS NOT NULL AND ts >= $1 AND ts <= $2
		GROUP BY station_code, theme, date_trunc('day', ts)`,
		windowStart, windowEnd)
	if err != nil {
		return faults.WarehouseWrite(err, "read observation window")
	}
	defer rows.Close()

	var observations []Observation
	for rows.Next() {
		var obs Observation
		if err := rows.Scan(&obs.StationCode, &obs.Theme, &obs.Day, &obs.Value); err != nil {
			return faults.WarehouseWrite(err, "scan observation row")
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return faults.WarehouseWrite(err, "iterate observation window")
	}

	for _, pair := range CorrelatedPairs(observations, windowEnd) {
		s.execMerge(ctx, MergeCorrelated(pair.Code1, pair.Code2, pair.Rho, pair.WindowDays), report, true)
	}
	return nil
}

func (s *Synchronizer) mergeParamPairs(ctx context.Context, report *SyncReport) error {
	rows, err := s.db.Query(ctx, `
		SELECT station_code, param_code, avg(value)
		FROM measure_quality
		WHERE value IS NOT NULL
		GROUP BY station_code, param_code`)
	if err != nil {
		return faults.WarehouseWrite(err, "read parameter means")
	}
	defer rows.Close()

	var measurements []ParamMeasurement
	for rows.Next() {
		var m ParamMeasurement
		if err := rows.Scan(&m.StationCode, &m.ParamCode, &m.MeanValue); err != nil {
			return faults.WarehouseWrite(err, "scan parameter mean")
		}
		measurements = append(measurements, m)
	}
	if err := rows.Err(); err != nil {
		return faults.WarehouseWrite(err, "iterate parameter means")
	}

	for _, pair := range ParamPairs(measurements) {
		s.execMerge(ctx, MergeCorrelatedWith(pair.Code1, pair.Code2, pair.Support, pair.CoValue), report, true)
	}
	return nil
}

func (s *Synchronizer) mergeNearestGrid(ctx context.Context, report *SyncReport) error {
	rows, err := s.db.Query(ctx, `SELECT station_code, grid_id, distance_km FROM station_nearest_grid`)
	if err != nil {
		return faults.WarehouseWrite(err, "read nearest-grid mapping")
	}
	defer rows.Close()

	for rows.Next() {
		var station string
		var gridID int64
		var distance float64
		if err := rows.Scan(&station, &gridID, &distance); err != nil {
			return faults.WarehouseWrite(err, "scan nearest-grid row")
		}
		s.execMerge(ctx, MergeNearestGrid(station, gridID, distance), report, true)
	}
	return rows.Err()
}

// Reconcile deletes Station nodes that no longer exist in silver. It is an
// explicit operation; the regular sync pass never deletes.
func (s *Synchronizer) Reconcile(ctx context.Context) (int, error) {
	rows, err := s.db.Query(ctx, `SELECT station_code FROM station`)
	if err != nil {
		return 0, faults.WarehouseWrite(err, "read station codes for reconcile")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return 0, faults.WarehouseWrite(err, "scan station code")
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return 0, faults.WarehouseWrite(err, "iterate station codes")
	}

	result, err := s.client.ExecuteQuery(ctx, DeleteStationsNotIn(codes))
	if err != nil {
		return 0, err
	}

	deleted := result.Stats.NodesDeleted
	if deleted > 0 {
		s.logger.InfoWithFields("reconciled stale stations",
			logging.Field("deleted", deleted),
		)
	}
	return deleted, nil
}
