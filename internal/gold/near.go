package gold

import "math"

// earthRadiusKm is the sphere radius used for all great-circle distances.
const earthRadiusKm = 6371.0

// DefaultNearRadiusKm is the radius within which stations get a NEAR edge.
const DefaultNearRadiusKm = 50.0

// StationPoint is a geolocated station as read from silver.
type StationPoint struct {
	Code string
	Lon  float64
	Lat  float64
}

// NearPair is one canonical station pair within the radius.
type NearPair struct {
	Code1      string
	Code2      string
	DistanceKm float64
}

// Haversine returns the great-circle distance in km between two WGS84
// points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

type gridKey struct{ lonCell, latCell int }

// NearPairs finds all station pairs within radiusKm. Stations are bucketed
// into 1-degree cells and only neighboring cells are compared, which keeps
// the pass near-linear for realistic station densities. One degree of
// latitude is about 111 km, so the 3x3 neighborhood covers any radius up
// to that; larger radii widen the ring accordingly.
func NearPairs(stations []StationPoint, radiusKm float64) []NearPair {
	cells := make(map[gridKey][]int)
	for i, s := range stations {
		key := gridKey{int(math.Floor(s.Lon)), int(math.Floor(s.Lat))}
		cells[key] = append(cells[key], i)
	}

	ring := int(math.Ceil(radiusKm/111.0)) + 1

	var pairs []NearPair
	for i, s := range stations {
		baseLon := int(math.Floor(s.Lon))
		baseLat := int(math.Floor(s.Lat))
		for dLon := -ring; dLon <= ring; dLon++ {
			for dLat := -ring; dLat <= ring; dLat++ {
				for _, j := range cells[gridKey{baseLon + dLon, baseLat + dLat}] {
					if j <= i {
						continue
					}
					o := stations[j]
					d := Haversine(s.Lat, s.Lon, o.Lat, o.Lon)
					if d > radiusKm {
						continue
					}
					c1, c2 := CanonicalPair(s.Code, o.Code)
					pairs = append(pairs, NearPair{Code1: c1, Code2: c2, DistanceKm: d})
				}
			}
		}
	}
	return pairs
}
