package gold

import (
	"math"
	"sort"
	"time"
)

// Correlation thresholds. Observations are aligned on daily buckets over a
// 90-day window; a pair is emitted only when the absolute Pearson
// coefficient clears the threshold with enough overlapping days.
const (
	CorrelationWindowDays = 90
	CorrelationThreshold  = 0.7
	CorrelationMinOverlap = 10
)

// MinParamSupport is the minimum number of shared stations before two
// parameters get a CORRELATED_WITH edge.
const MinParamSupport = 3

// Observation is one (station, day, value) sample read from silver.
type Observation struct {
	StationCode string
	Theme       string
	Day         time.Time
	Value       float64
}

// CorrelatedPair is one canonical station pair above the threshold.
type CorrelatedPair struct {
	Code1      string
	Code2      string
	Rho        float64
	WindowDays int
}

// dayKey buckets a timestamp to its UTC day.
func dayKey(ts time.Time) time.Time {
	t := ts.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Pearson computes the correlation coefficient of two aligned samples.
// Returns 0 when either side has no variance.
func Pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n == 0 || len(xs) != len(ys) {
		return 0
	}

	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// CorrelatedPairs computes station correlations per theme. Observations are
// averaged per day, aligned by overlapping days inside the window ending at
// windowEnd, and emitted when |rho| clears the threshold.
func CorrelatedPairs(observations []Observation, windowEnd time.Time) []CorrelatedPair {
	windowStart := dayKey(windowEnd).AddDate(0, 0, -CorrelationWindowDays)

	// station -> day -> mean value, grouped by theme
	type series = map[time.Time]float64
	byTheme := make(map[string]map[string]series)
	counts := make(map[string]map[string]map[time.Time]int)

	for _, obs := range observations {
		day := dayKey(obs.Day)
		if day.Before(windowStart) || day.After(dayKey(windowEnd)) {
			continue
		}
		if byTheme[obs.Theme] == nil {
			byTheme[obs.Theme] = make(map[string]series)
			counts[obs.Theme] = make(map[string]map[time.Time]int)
		}
		if byTheme[obs.Theme][obs.StationCode] == nil {
			byTheme[obs.Theme][obs.StationCode] = make(series)
			counts[obs.Theme][obs.StationCode] = make(map[time.Time]int)
		}
		s := byTheme[obs.Theme][obs.StationCode]
		c := counts[obs.Theme][obs.StationCode]
		// Running mean per day.
		c[day]++
		s[day] += (obs.Value - s[day]) / float64(c[day])
	}

	var pairs []CorrelatedPair
	for _, stations := range byTheme {
		codes := make([]string, 0, len(stations))
		for code := range stations {
			codes = append(codes, code)
		}
		sort.Strings(codes)

		for i := 0; i < len(codes); i++ {
			for j := i + 1; j < len(codes); j++ {
				a, b := stations[codes[i]], stations[codes[j]]

				var xs, ys []float64
				for day, x := range a {
					if y, ok := b[day]; ok {
						xs = append(xs, x)
						ys = append(ys, y)
					}
				}
				if len(xs) < CorrelationMinOverlap {
					continue
				}
				rho := Pearson(xs, ys)
				if math.Abs(rho) <= CorrelationThreshold {
					continue
				}
				pairs = append(pairs, CorrelatedPair{
					Code1:      codes[i],
					Code2:      codes[j],
					Rho:        rho,
					WindowDays: CorrelationWindowDays,
				})
			}
		}
	}
	return pairs
}

// ParamMeasurement is one (station, parameter) mean value from silver.
type ParamMeasurement struct {
	StationCode string
	ParamCode   string
	MeanValue   float64
}

// ParamPair is one canonical parameter pair co-measured on enough stations.
// CoValue is the mean product of per-station mean values over the shared
// stations.
type ParamPair struct {
	Code1   string
	Code2   string
	Support int
	CoValue float64
}

// ParamPairs derives parameter co-measurement relations from per-station
// parameter means.
func ParamPairs(measurements []ParamMeasurement) []ParamPair {
	// param -> station -> mean value
	byParam := make(map[string]map[string]float64)
	for _, m := range measurements {
		if byParam[m.ParamCode] == nil {
			byParam[m.ParamCode] = make(map[string]float64)
		}
		byParam[m.ParamCode][m.StationCode] = m.MeanValue
	}

	codes := make([]string, 0, len(byParam))
	for code := range byParam {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var pairs []ParamPair
	for i := 0; i < len(codes); i++ {
		for j := i + 1; j < len(codes); j++ {
			a, b := byParam[codes[i]], byParam[codes[j]]

			support := 0
			var productSum float64
			for station, va := range a {
				if vb, ok := b[station]; ok {
					support++
					productSum += va * vb
				}
			}
			if support < MinParamSupport {
				continue
			}
			pairs = append(pairs, ParamPair{
				Code1:   codes[i],
				Code2:   codes[j],
				Support: support,
				CoValue: productSum / float64(support),
			})
		}
	}
	return pairs
}
