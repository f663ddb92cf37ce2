package silver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brgmlab/hydropipe/internal/harvest"
	"github.com/brgmlab/hydropipe/internal/logging"
)

// Row types of the silver tables.

// StationRow is one row of the station table. Lon/Lat are resolved WGS84
// coordinates; nil means no plausible geometry could be derived.
type StationRow struct {
	Code     string
	Label    string
	Type     string
	Insee    string
	MasseEau string
	Reseau   string
	Lon      *float64
	Lat      *float64
}

// MeasurementRow is one observation keyed (station_code, theme, ts).
type MeasurementRow struct {
	StationCode string
	Theme       string
	TS          time.Time
	Value       *float64
	Quality     string
	Source      string
}

// QualityRow is one physico-chemical analysis keyed
// (station_code, param_code, ts).
type QualityRow struct {
	StationCode string
	ParamCode   string
	TS          time.Time
	Value       *float64
	Unit        string
	Quality     string
	Source      string
}

// ParameterRow is one reference parameter.
type ParameterRow struct {
	Code   string
	Label  string
	Unit   string
	Family string
}

// MeteoRow is one gridded daily observation; the cell is identified by its
// raw lon/lat and resolved to grid_id at load time.
type MeteoRow struct {
	Lon           float64
	Lat           float64
	TS            time.Time
	Precipitation *float64
	Temperature   *float64
	Source        string
}

// StationMapping statically declares how a station referential maps onto
// StationRow. One source field per target, no fallback chains.
type StationMapping struct {
	Type           string
	CodeField      string
	LabelField     string
	InseeField     string
	MasseEauField  string
	MasseEauIsList bool
	ReseauField    string
	LonField       string
	LatField       string
	XField         string
	YField         string
}

// MeasureMapping statically declares how an observation endpoint maps onto
// MeasurementRow.
type MeasureMapping struct {
	Theme        string
	StationField string
	DateField    string
	ValueField   string
	QualityField string
	// YearDate interprets DateField as a bare year (annual series).
	YearDate bool
}

// QualityMapping statically declares how an analysis endpoint maps onto
// QualityRow.
type QualityMapping struct {
	StationField string
	ParamField   string
	DateField    string
	ValueField   string
	UnitField    string
	QualityField string
}

// ParameterMapping statically declares a nomenclature projection.
type ParameterMapping struct {
	CodeField   string
	LabelField  string
	UnitField   string
	FamilyField string
}

// Station mappings per referential source.
var (
	PiezoStations = StationMapping{
		Type:           "piezo",
		CodeField:      "code_bss",
		LabelField:     "libelle_pe",
		InseeField:     "code_commune_insee",
		MasseEauField:  "codes_bdlisa",
		MasseEauIsList: true,
		XField:         "x",
		YField:         "y",
	}
	HydroStations = StationMapping{
		Type:          "hydro",
		CodeField:     "code_station",
		LabelField:    "libelle_station",
		InseeField:    "code_commune_station",
		MasseEauField: "code_masse_eau",
		LonField:      "longitude_station",
		LatField:      "latitude_station",
		XField:        "coordonnee_x_station",
		YField:        "coordonnee_y_station",
	}
	TemperatureStations = StationMapping{
		Type:          "temperature",
		CodeField:     "code_station",
		LabelField:    "libelle_station",
		InseeField:    "code_commune",
		MasseEauField: "code_masse_eau",
		LonField:      "longitude",
		LatField:      "latitude",
		XField:        "coordonnee_x",
		YField:        "coordonnee_y",
	}
	QualitySurfaceStations = StationMapping{
		Type:          "quality",
		CodeField:     "code_station",
		LabelField:    "libelle_station",
		InseeField:    "code_commune",
		MasseEauField: "code_masse_eau",
		LonField:      "longitude",
		LatField:      "latitude",
		XField:        "coordonnee_x",
		YField:        "coordonnee_y",
	}
	QualityGroundwaterStations = StationMapping{
		Type:          "quality_gw",
		CodeField:     "code_bss",
		LabelField:    "nom_commune",
		InseeField:    "code_insee",
		MasseEauField: "code_masse_eau_edl",
		LonField:      "longitude",
		LatField:      "latitude",
		XField:        "x",
		YField:        "y",
	}
	OndeStations = StationMapping{
		Type:          "onde",
		CodeField:     "code_station",
		LabelField:    "libelle_station",
		InseeField:    "code_commune",
		ReseauField:   "code_reseau",
		LonField:      "longitude",
		LatField:      "latitude",
		XField:        "coordonnee_x",
		YField:        "coordonnee_y",
	}
	PrelevementPoints = StationMapping{
		Type:       "prelevement",
		CodeField:  "code_point_prelevement",
		LabelField: "nom_point_prelevement",
		InseeField: "code_commune_insee",
		LonField:   "longitude",
		LatField:   "latitude",
	}
)

// Observation mappings per endpoint.
var (
	PiezoChronicles = MeasureMapping{
		Theme:        "piezo",
		StationField: "code_bss",
		DateField:    "date_mesure",
		ValueField:   "niveau_nappe_eau",
		QualityField: "qualification",
	}
	HydroObservations = MeasureMapping{
		Theme:        "hydro",
		StationField: "code_station",
		DateField:    "date_obs",
		ValueField:   "resultat_obs",
	}
	TemperatureChronicles = MeasureMapping{
		Theme:        "temperature",
		StationField: "code_station",
		DateField:    "date_mesure_temp",
		ValueField:   "resultat",
		QualityField: "qualification",
	}
	OndeObservations = MeasureMapping{
		Theme:        "onde",
		StationField: "code_station",
		DateField:    "date_observation",
		QualityField: "libelle_ecoulement",
	}
	PrelevementChronicles = MeasureMapping{
		Theme:        "prelevement",
		StationField: "code_point_prelevement",
		DateField:    "annee",
		ValueField:   "volume",
		YearDate:     true,
	}
)

// Analysis mappings.
var (
	SurfaceAnalyses = QualityMapping{
		StationField: "code_station",
		ParamField:   "code_parametre",
		DateField:    "date_prelevement",
		ValueField:   "resultat",
		UnitField:    "symbole_unite",
		QualityField: "code_remarque",
	}
	GroundwaterAnalyses = QualityMapping{
		StationField: "code_bss",
		ParamField:   "code_parametre",
		DateField:    "date_debut_prelevement",
		ValueField:   "resultat",
		UnitField:    "nom_unite",
		QualityField: "qualification",
	}
)

// Nomenclature mappings.
var (
	SandreParameters = ParameterMapping{
		CodeField:   "CdParametre",
		LabelField:  "NomParametre",
		FamilyField: "TypeParametre",
	}
	SandreUnits = ParameterMapping{
		CodeField:  "CdUniteMesure",
		LabelField: "NomUniteMesure",
		UnitField:  "SymUniteMesure",
	}
)

// Projector turns raw bronze records into silver rows. Coordinate
// transforms go through the lru-backed cache.
type Projector struct {
	coords *CoordCache
	logger *logging.Logger
}

// NewProjector builds a Projector with the given transform cache size.
func NewProjector(cacheSize int) (*Projector, error) {
	coords, err := NewCoordCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Projector{
		coords: coords,
		logger: logging.GetLogger("silver.project"),
	}, nil
}

// Stations projects a station referential. Records without a code are
// dropped; implausible coordinates leave the geometry nil.
func (p *Projector) Stations(records []harvest.Record, m StationMapping) []StationRow {
	rows := make([]StationRow, 0, len(records))
	for _, rec := range records {
		code := str(rec, m.CodeField)
		if code == "" {
			continue
		}
		row := StationRow{
			Code:   code,
			Label:  str(rec, m.LabelField),
			Type:   m.Type,
			Insee:  str(rec, m.InseeField),
			Reseau: str(rec, m.ReseauField),
		}
		row.MasseEau = str(rec, m.MasseEauField)
		if m.MasseEauIsList && row.MasseEau != "" {
			row.MasseEau = strings.TrimSpace(strings.SplitN(row.MasseEau, ",", 2)[0])
		}
		row.Lon, row.Lat = p.resolveGeom(rec, m)
		rows = append(rows, row)
	}
	return rows
}

// resolveGeom derives the WGS84 point: lon/lat wins over projected x/y;
// out-of-envelope points are rejected with a warning.
func (p *Projector) resolveGeom(rec harvest.Record, m StationMapping) (*float64, *float64) {
	if lon, okLon := num(rec, m.LonField); okLon {
		if lat, okLat := num(rec, m.LatField); okLat {
			return p.checkEnvelope(rec, m, lon, lat)
		}
	}
	if x, okX := num(rec, m.XField); okX {
		if y, okY := num(rec, m.YField); okY {
			lon, lat := p.coords.Transform(x, y)
			return p.checkEnvelope(rec, m, lon, lat)
		}
	}
	return nil, nil
}

func (p *Projector) checkEnvelope(rec harvest.Record, m StationMapping, lon, lat float64) (*float64, *float64) {
	if !InEnvelope(lon, lat) {
		p.logger.WarnWithFields("coordinates outside plausibility envelope",
			logging.Field("station", str(rec, m.CodeField)),
			logging.Field("lon", lon),
			logging.Field("lat", lat),
		)
		return nil, nil
	}
	return &lon, &lat
}

// Measurements projects an observation endpoint. Records missing the
// station code or an unparseable date are dropped and counted.
func (p *Projector) Measurements(records []harvest.Record, m MeasureMapping, source string) []MeasurementRow {
	rows := make([]MeasurementRow, 0, len(records))
	dropped := 0
	for _, rec := range records {
		code := str(rec, m.StationField)
		if code == "" {
			dropped++
			continue
		}
		ts, ok := parseDate(rec[m.DateField], m.YearDate)
		if !ok {
			dropped++
			continue
		}
		row := MeasurementRow{
			StationCode: code,
			Theme:       m.Theme,
			TS:          ts,
			Quality:     str(rec, m.QualityField),
			Source:      source,
		}
		if v, ok := num(rec, m.ValueField); ok {
			row.Value = &v
		}
		rows = append(rows, row)
	}
	if dropped > 0 {
		p.logger.WarnWithFields("dropped unprojectable records",
			logging.Field("theme", m.Theme),
			logging.Field("dropped", dropped),
		)
	}
	return rows
}

// Quality projects an analysis endpoint into measure_quality rows.
func (p *Projector) Quality(records []harvest.Record, m QualityMapping, source string) []QualityRow {
	rows := make([]QualityRow, 0, len(records))
	dropped := 0
	for _, rec := range records {
		code := str(rec, m.StationField)
		param := str(rec, m.ParamField)
		if code == "" || param == "" {
			dropped++
			continue
		}
		ts, ok := parseDate(rec[m.DateField], false)
		if !ok {
			dropped++
			continue
		}
		row := QualityRow{
			StationCode: code,
			ParamCode:   param,
			TS:          ts,
			Unit:        str(rec, m.UnitField),
			Quality:     str(rec, m.QualityField),
			Source:      source,
		}
		if v, ok := num(rec, m.ValueField); ok {
			row.Value = &v
		}
		rows = append(rows, row)
	}
	if dropped > 0 {
		p.logger.WarnWithFields("dropped unprojectable analyses",
			logging.Field("source", source),
			logging.Field("dropped", dropped),
		)
	}
	return rows
}

// Parameters projects a nomenclature dump into parameter rows.
func (p *Projector) Parameters(records []harvest.Record, m ParameterMapping) []ParameterRow {
	rows := make([]ParameterRow, 0, len(records))
	for _, rec := range records {
		code := str(rec, m.CodeField)
		if code == "" {
			continue
		}
		rows = append(rows, ParameterRow{
			Code:   code,
			Label:  str(rec, m.LabelField),
			Unit:   str(rec, m.UnitField),
			Family: str(rec, m.FamilyField),
		})
	}
	return rows
}

// Meteo projects gridded daily records.
func (p *Projector) Meteo(records []harvest.Record, source string) []MeteoRow {
	rows := make([]MeteoRow, 0, len(records))
	dropped := 0
	for _, rec := range records {
		lon, okLon := num(rec, "lon")
		lat, okLat := num(rec, "lat")
		ts, okTS := parseDate(rec["date"], false)
		if !okLon || !okLat || !okTS {
			dropped++
			continue
		}
		row := MeteoRow{Lon: lon, Lat: lat, TS: ts, Source: source}
		if v, ok := num(rec, "precipitation"); ok {
			row.Precipitation = &v
		}
		if v, ok := num(rec, "temperature"); ok {
			row.Temperature = &v
		}
		rows = append(rows, row)
	}
	if dropped > 0 {
		p.logger.WarnWithFields("dropped unprojectable meteo records",
			logging.Field("dropped", dropped),
		)
	}
	return rows
}

// dateLayouts are tried in order when parsing observation timestamps.
// Naive timestamps are interpreted as UTC.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(raw interface{}, yearOnly bool) (time.Time, bool) {
	switch v := raw.(type) {
	case string:
		if yearOnly {
			year, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return time.Time{}, false
			}
			return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC), true
		}
		for _, layout := range dateLayouts {
			if ts, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		if yearOnly {
			return time.Date(int(v), 1, 1, 0, 0, 0, 0, time.UTC), true
		}
		return time.Time{}, false
	case int:
		if yearOnly {
			return time.Date(v, 1, 1, 0, 0, 0, 0, time.UTC), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// str reads a field as a string. JSON numbers format without exponent so
// numeric codes stay stable.
func str(rec harvest.Record, field string) string {
	if field == "" {
		return ""
	}
	raw, ok := rec[field]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// num reads a field as a float, accepting JSON numbers and numeric strings.
func num(rec harvest.Record, field string) (float64, bool) {
	if field == "" {
		return 0, false
	}
	raw, ok := rec[field]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
