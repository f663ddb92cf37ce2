package silver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brgmlab/hydropipe/internal/harvest"
)

func newTestProjector(t *testing.T) *Projector {
	t.Helper()
	p, err := NewProjector(128)
	require.NoError(t, err)
	return p
}

func TestStationsPiezoProjection(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{
		{
			"code_bss":           "BSS000AAAA",
			"libelle_pe":         "Forage des Lilas",
			"code_commune_insee": "60176",
			"codes_bdlisa":       "121AA01, 121AB02",
			"x":                  652000.0,
			"y":                  6862000.0,
		},
		// No code, dropped.
		{"libelle_pe": "orphan"},
	}

	rows := p.Stations(records, PiezoStations)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "BSS000AAAA", row.Code)
	assert.Equal(t, "Forage des Lilas", row.Label)
	assert.Equal(t, "piezo", row.Type)
	assert.Equal(t, "60176", row.Insee)
	// First code of the comma-separated list.
	assert.Equal(t, "121AA01", row.MasseEau)

	require.NotNil(t, row.Lon)
	require.NotNil(t, row.Lat)
	assert.InDelta(t, 2.355, *row.Lon, 0.015)
	assert.InDelta(t, 48.855, *row.Lat, 0.015)
}

func TestStationsLonLatWinsOverProjected(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{{
		"code_station":         "H123456",
		"libelle_station":      "La Seine à Paris",
		"longitude_station":    2.36,
		"latitude_station":     48.85,
		"coordonnee_x_station": 0.0,
		"coordonnee_y_station": 0.0,
	}}

	rows := p.Stations(records, HydroStations)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Lon)
	assert.Equal(t, 2.36, *rows[0].Lon)
	assert.Equal(t, 48.85, *rows[0].Lat)
}

func TestStationsImplausibleCoordinatesDropGeometry(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{{
		"code_station":    "H999999",
		"libelle_station": "Station fantôme",
		// Off the envelope entirely.
		"longitude_station": 45.0,
		"latitude_station":  10.0,
	}}

	rows := p.Stations(records, HydroStations)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Lon)
	assert.Nil(t, rows[0].Lat)
	assert.Equal(t, "H999999", rows[0].Code)
}

func TestStationsMissingCoordinatesLeaveNilGeometry(t *testing.T) {
	p := newTestProjector(t)

	rows := p.Stations([]harvest.Record{{"code_station": "T0001", "libelle_station": "x"}}, TemperatureStations)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Lon)
	assert.Nil(t, rows[0].Lat)
}

func TestMeasurementsProjection(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{
		{
			"code_bss":         "BSS000AAAA",
			"date_mesure":      "2024-10-02T04:00:00",
			"niveau_nappe_eau": 12.5,
			"qualification":    "Correcte",
		},
		{
			"code_bss":    "BSS000BBBB",
			"date_mesure": "2024-10-02",
			// Value as string still parses.
			"niveau_nappe_eau": "7.25",
		},
		// Unparseable date, dropped.
		{"code_bss": "BSS000CCCC", "date_mesure": "soon"},
		// Missing station, dropped.
		{"date_mesure": "2024-10-02T04:00:00", "niveau_nappe_eau": 1.0},
	}

	rows := p.Measurements(records, PiezoChronicles, "piezo")
	require.Len(t, rows, 2)

	assert.Equal(t, "BSS000AAAA", rows[0].StationCode)
	assert.Equal(t, "piezo", rows[0].Theme)
	assert.Equal(t, time.Date(2024, 10, 2, 4, 0, 0, 0, time.UTC), rows[0].TS)
	require.NotNil(t, rows[0].Value)
	assert.Equal(t, 12.5, *rows[0].Value)
	assert.Equal(t, "Correcte", rows[0].Quality)
	assert.Equal(t, "piezo", rows[0].Source)

	require.NotNil(t, rows[1].Value)
	assert.Equal(t, 7.25, *rows[1].Value)
	assert.Equal(t, time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC), rows[1].TS)
}

func TestMeasurementsAnnualSeries(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{
		{"code_point_prelevement": "PT001", "annee": float64(2022), "volume": 15000.0},
		{"code_point_prelevement": "PT001", "annee": "2023", "volume": 14250.5},
	}

	rows := p.Measurements(records, PrelevementChronicles, "prelevements")
	require.Len(t, rows, 2)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), rows[0].TS)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), rows[1].TS)
	assert.Equal(t, "prelevement", rows[0].Theme)
}

func TestMeasurementsOndeHasNoValue(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{{
		"code_station":       "O123",
		"date_observation":   "2024-10-02",
		"libelle_ecoulement": "Ecoulement visible",
	}}

	rows := p.Measurements(records, OndeObservations, "onde")
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Value)
	assert.Equal(t, "Ecoulement visible", rows[0].Quality)
}

func TestQualityProjection(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{
		{
			"code_station":     "Q001",
			"code_parametre":   "1340",
			"date_prelevement": "2024-10-02T09:30:00",
			"resultat":         42.1,
			"symbole_unite":    "mg/L",
			"code_remarque":    "1",
		},
		// Missing parameter, dropped.
		{"code_station": "Q001", "date_prelevement": "2024-10-02"},
	}

	rows := p.Quality(records, SurfaceAnalyses, "quality_surface")
	require.Len(t, rows, 1)
	assert.Equal(t, "Q001", rows[0].StationCode)
	assert.Equal(t, "1340", rows[0].ParamCode)
	assert.Equal(t, "mg/L", rows[0].Unit)
	assert.Equal(t, "quality_surface", rows[0].Source)
	require.NotNil(t, rows[0].Value)
	assert.Equal(t, 42.1, *rows[0].Value)
}

func TestParametersProjection(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{
		// Sandre nomenclatures use numeric codes.
		{"CdParametre": float64(1340), "NomParametre": "Nitrates", "TypeParametre": "chimique"},
		{"NomParametre": "orphan"},
	}

	rows := p.Parameters(records, SandreParameters)
	require.Len(t, rows, 1)
	assert.Equal(t, "1340", rows[0].Code)
	assert.Equal(t, "Nitrates", rows[0].Label)
	assert.Equal(t, "chimique", rows[0].Family)
}

func TestMeteoProjection(t *testing.T) {
	p := newTestProjector(t)

	records := []harvest.Record{
		{"lon": 2.5, "lat": 48.5, "date": "2024-10-02", "precipitation": 4.2, "temperature": 15.1},
		// Missing coordinates, dropped.
		{"date": "2024-10-02", "precipitation": 1.0},
	}

	rows := p.Meteo(records, "meteo")
	require.Len(t, rows, 1)
	assert.Equal(t, 2.5, rows[0].Lon)
	assert.Equal(t, 48.5, rows[0].Lat)
	require.NotNil(t, rows[0].Precipitation)
	assert.Equal(t, 4.2, *rows[0].Precipitation)
	require.NotNil(t, rows[0].Temperature)
	assert.Equal(t, 15.1, *rows[0].Temperature)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		raw      interface{}
		yearOnly bool
		want     time.Time
		ok       bool
	}{
		{"rfc3339", "2024-10-02T04:00:00Z", false, time.Date(2024, 10, 2, 4, 0, 0, 0, time.UTC), true},
		{"naive datetime", "2024-10-02T04:00:00", false, time.Date(2024, 10, 2, 4, 0, 0, 0, time.UTC), true},
		{"date only", "2024-10-02", false, time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC), true},
		{"year string", "2023", true, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"year number", float64(2023), true, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"garbage", "soon", false, time.Time{}, false},
		{"nil", nil, false, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDate(tt.raw, tt.yearOnly)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			}
		})
	}
}

func TestWindowBounds(t *testing.T) {
	start, end := WindowBounds(time.Date(2024, 10, 2, 13, 45, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 10, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 10, 3, 0, 0, 0, 0, time.UTC), end)
}
