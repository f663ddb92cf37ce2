package registry

import "time"

// Meteo describes the gridded precipitation/temperature service. The grid is
// daily, so the lookback is a single day and dedup keys on the cell plus the
// observation date.
func Meteo() API {
	return API{
		Name:                "meteo",
		BaseURL:             "https://meteo.data.eaufrance.fr/api/v1",
		DefaultLookbackDays: 1,
		Timeout:             120 * time.Second,
		RetryBudget:         3,
		RateLimitDelay:      time.Second,
		Endpoints: map[string]Endpoint{
			"grid_daily": {
				Path:                "grid_daily",
				ApplyTemporalFilter: true,
				TemporalKeys:        [2]string{"start", "end"},
				LookbackDays:        1,
				PageSize:            5000,
				Dedup: &DedupRule{
					DateField:     "date",
					GroupKeys:     []string{"lat", "lon"},
					TruncateToDay: true,
				},
			},
		},
	}
}
