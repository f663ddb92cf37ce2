package registry

import "time"

// Hub'Eau API descriptors. Endpoint paths, page sizes, lookbacks, and dedup
// rules follow the published API behavior; where the upstream documentation
// and observed payloads diverged the chosen values are pinned in
// registry_test.go.

// Piezo describes the groundwater-level API (niveaux nappes).
func Piezo() API {
	return API{
		Name:                "piezo",
		BaseURL:             "https://hubeau.eaufrance.fr/api/v1/niveaux_nappes",
		DefaultLookbackDays: 30,
		Timeout:             60 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      500 * time.Millisecond,
		Endpoints: map[string]Endpoint{
			"stations": {
				Path:     "stations",
				PageSize: 5000,
			},
			"chroniques_tr": {
				Path:                "chroniques_tr",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_debut_mesure", "date_fin_mesure"},
				LookbackDays:        30,
				PageSize:            5000,
				Dedup: &DedupRule{
					DateField:     "date_mesure",
					GroupKeys:     []string{"code_bss"},
					TruncateToDay: true,
				},
			},
			"chroniques": {
				Path:                "chroniques",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_debut_mesure", "date_fin_mesure"},
				LookbackDays:        365,
				PageSize:            5000,
				Dedup: &DedupRule{
					DateField:     "date_mesure",
					GroupKeys:     []string{"code_bss"},
					TruncateToDay: true,
				},
			},
		},
	}
}

// Hydro describes the river flow/level API (hydrometrie).
func Hydro() API {
	return API{
		Name:                "hydro",
		BaseURL:             "https://hubeau.eaufrance.fr/api/v2/hydrometrie",
		DefaultLookbackDays: 7,
		Timeout:             60 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      500 * time.Millisecond,
		Endpoints: map[string]Endpoint{
			"referentiel/stations": {
				Path:     "referentiel/stations",
				PageSize: 5000,
			},
			"observations_tr": {
				Path:                "observations_tr",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_debut_obs", "date_fin_obs"},
				LookbackDays:        7,
				PageSize:            5000,
				Dedup: &DedupRule{
					DateField:     "date_obs",
					GroupKeys:     []string{"code_station"},
					TruncateToDay: true,
				},
			},
			"observations": {
				Path:                "observations",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_debut_obs", "date_fin_obs"},
				LookbackDays:        365,
				PageSize:            5000,
				Dedup: &DedupRule{
					DateField:     "date_obs",
					GroupKeys:     []string{"code_station"},
					TruncateToDay: true,
				},
			},
		},
	}
}

// QualitySurface describes the river water-quality API (qualite rivieres).
func QualitySurface() API {
	return API{
		Name:                "quality_surface",
		BaseURL:             "https://hubeau.eaufrance.fr/api/v2/qualite_rivieres",
		DefaultLookbackDays: 180,
		Timeout:             90 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      time.Second,
		Endpoints: map[string]Endpoint{
			"station_pc": {
				Path:     "station_pc",
				PageSize: 500,
			},
			"analyse_pc": {
				Path:                "analyse_pc",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_debut_prelevement", "date_fin_prelevement"},
				LookbackDays:        180,
				PageSize:            500,
				Dedup: &DedupRule{
					DateField:     "date_prelevement",
					GroupKeys:     []string{"code_station", "code_parametre"},
					TruncateToDay: true,
				},
			},
		},
	}
}

// QualityGroundwater describes the groundwater quality API (qualite nappes).
func QualityGroundwater() API {
	return API{
		Name:                "quality_groundwater",
		BaseURL:             "https://hubeau.eaufrance.fr/api/v1/qualite_nappes",
		DefaultLookbackDays: 365,
		Timeout:             90 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      time.Second,
		Endpoints: map[string]Endpoint{
			"stations": {
				Path:     "stations",
				PageSize: 2000,
			},
			"analyses": {
				Path:                "analyses",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_debut_prelevement", "date_fin_prelevement"},
				LookbackDays:        365,
				PageSize:            2000,
				Dedup: &DedupRule{
					DateField:     "date_debut_prelevement",
					GroupKeys:     []string{"code_bss", "code_parametre"},
					TruncateToDay: true,
				},
			},
		},
	}
}

// Temperature describes the river temperature API.
func Temperature() API {
	return API{
		Name:                "temperature",
		BaseURL:             "https://hubeau.eaufrance.fr/api/v1/temperature",
		DefaultLookbackDays: 365,
		Timeout:             60 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      500 * time.Millisecond,
		Endpoints: map[string]Endpoint{
			// Singular path per the upstream documentation.
			"station": {
				Path:     "station",
				PageSize: 2000,
			},
			"chronique": {
				Path:                "chronique",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_debut_mesure_temp", "date_fin_mesure_temp"},
				LookbackDays:        365,
				PageSize:            2000,
				Dedup: &DedupRule{
					DateField:     "date_mesure_temp",
					GroupKeys:     []string{"code_station"},
					TruncateToDay: true,
				},
			},
		},
	}
}

// Prelevements describes the water-abstraction API. Its series are annual,
// so temporal parameters carry bare years and dedup keeps sub-day precision
// irrelevant (TruncateToDay false).
func Prelevements() API {
	return API{
		Name:                "prelevements",
		BaseURL:             "https://hubeau.eaufrance.fr/api/v1/prelevements",
		DefaultLookbackDays: 365,
		Timeout:             60 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      500 * time.Millisecond,
		Endpoints: map[string]Endpoint{
			"referentiel/points_prelevement": {
				Path:     "referentiel/points_prelevement",
				PageSize: 1000,
			},
			"chroniques": {
				Path:                "chroniques",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"annee_debut", "annee_fin"},
				LookbackDays:        365,
				DateFormat:          "2006",
				PageSize:            1000,
				Dedup: &DedupRule{
					DateField:     "annee",
					GroupKeys:     []string{"code_point_prelevement"},
					TruncateToDay: false,
				},
			},
		},
	}
}

// Onde describes the low-water observation API (ecoulement).
func Onde() API {
	return API{
		Name:                "onde",
		BaseURL:             "https://hubeau.eaufrance.fr/api/v1/ecoulement",
		DefaultLookbackDays: 30,
		Timeout:             60 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      500 * time.Millisecond,
		Endpoints: map[string]Endpoint{
			"stations": {
				Path:     "stations",
				PageSize: 1000,
			},
			"observations": {
				Path:                "observations",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"date_observation_min", "date_observation_max"},
				LookbackDays:        30,
				PageSize:            1000,
				Dedup: &DedupRule{
					DateField:     "date_observation",
					GroupKeys:     []string{"code_station"},
					TruncateToDay: true,
				},
			},
		},
	}
}
