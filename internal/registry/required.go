package registry

// requiredFields lists the fields asserted on the first sampled record of a
// page, keyed "api/endpoint". Endpoints without an entry only get the
// structural data-array check. A missing field is a validation failure, not
// a transient one.
var requiredFields = map[string][]string{
	"piezo/stations":      {"code_bss"},
	"piezo/chroniques_tr": {"code_bss", "date_mesure"},
	"piezo/chroniques":    {"code_bss", "date_mesure"},

	"hydro/referentiel/stations": {"code_station"},
	"hydro/observations_tr":      {"code_station", "date_obs"},
	"hydro/observations":         {"code_station", "date_obs"},

	"quality_surface/station_pc": {"code_station"},
	"quality_surface/analyse_pc": {"code_station", "date_prelevement"},

	"quality_groundwater/stations": {"code_bss"},
	"quality_groundwater/analyses": {"code_bss", "date_debut_prelevement"},

	"temperature/station":   {"code_station"},
	"temperature/chronique": {"code_station", "date_mesure_temp"},

	"prelevements/referentiel/points_prelevement": {"code_point_prelevement"},
	"prelevements/chroniques":                     {"code_point_prelevement", "annee"},

	"onde/stations":     {"code_station"},
	"onde/observations": {"code_station", "date_observation"},

	"meteo/grid_daily": {"lat", "lon", "date"},
}

// RequiredFields returns the fields a sampled record must carry for the
// given api and endpoint name. Nil means no sample check.
func RequiredFields(api, endpoint string) []string {
	return requiredFields[api+"/"+endpoint]
}
