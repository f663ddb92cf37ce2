package registry

import "time"

// Sandre describes the reference-nomenclature API. Its endpoints are full
// JSON dumps (no temporal filter); they feed the parameter table and the
// Parametre nodes.
func Sandre() API {
	return API{
		Name:                "sandre",
		BaseURL:             "https://api.sandre.eaufrance.fr",
		DefaultLookbackDays: 0,
		Timeout:             60 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      time.Second,
		Endpoints: map[string]Endpoint{
			"parametres": {
				Path:     "parametres/v1/parametres",
				PageSize: 1000,
			},
			"unites": {
				Path:     "referentiels/v1/unites",
				PageSize: 1000,
			},
		},
	}
}
