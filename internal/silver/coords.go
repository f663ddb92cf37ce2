package silver

import (
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Lambert-93 (RGF93 / EPSG:2154) projection constants on the GRS80
// ellipsoid: secant Lambert Conformal Conic with standard parallels 44° and
// 49°, origin 46.5°N 3°E, false easting 700000 and false northing 6600000.
const (
	grs80A = 6378137.0
	grs80F = 1.0 / 298.257222101

	l93Phi0    = 46.5 * math.Pi / 180
	l93Phi1    = 44.0 * math.Pi / 180
	l93Phi2    = 49.0 * math.Pi / 180
	l93Lambda0 = 3.0 * math.Pi / 180
	l93X0      = 700000.0
	l93Y0      = 6600000.0
)

// Metropolitan France plausibility envelope. Transformed points outside it
// are treated as bad source coordinates and the row gets a NULL geometry.
const (
	envelopeLonMin = -5.5
	envelopeLonMax = 9.9
	envelopeLatMin = 41.0
	envelopeLatMax = 51.5
)

type lccParams struct {
	e    float64
	n    float64
	aF   float64
	rho0 float64
}

var l93 = newLambert93()

func newLambert93() lccParams {
	e2 := 2*grs80F - grs80F*grs80F
	e := math.Sqrt(e2)

	m := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Cos(phi) / math.Sqrt(1-e2*s*s)
	}
	t := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Tan(math.Pi/4-phi/2) / math.Pow((1-e*s)/(1+e*s), e/2)
	}

	m1, m2 := m(l93Phi1), m(l93Phi2)
	t0, t1, t2 := t(l93Phi0), t(l93Phi1), t(l93Phi2)

	n := (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	f := m1 / (n * math.Pow(t1, n))
	aF := grs80A * f

	return lccParams{
		e:    e,
		n:    n,
		aF:   aF,
		rho0: aF * math.Pow(t0, n),
	}
}

// Lambert93ToWGS84 converts projected Lambert-93 easting/northing to WGS84
// longitude/latitude via the inverse conformal conic, iterating the
// latitude series to convergence.
func Lambert93ToWGS84(x, y float64) (lon, lat float64) {
	dx := x - l93X0
	dy := l93.rho0 - (y - l93Y0)

	rho := math.Sqrt(dx*dx + dy*dy)
	if l93.n < 0 {
		rho = -rho
	}
	t := math.Pow(rho/l93.aF, 1/l93.n)
	theta := math.Atan2(dx, dy)

	lonRad := theta/l93.n + l93Lambda0

	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 10; i++ {
		s := math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-l93.e*s)/(1+l93.e*s), l93.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}

	return lonRad * 180 / math.Pi, phi * 180 / math.Pi
}

// InEnvelope reports whether a WGS84 point is geographically plausible for
// this pipeline's stations.
func InEnvelope(lon, lat float64) bool {
	return lon >= envelopeLonMin && lon <= envelopeLonMax &&
		lat >= envelopeLatMin && lat <= envelopeLatMax
}

type coordKey struct{ x, y float64 }

type coordPair struct{ lon, lat float64 }

// CoordCache memoizes Lambert-93 transforms. Station referentials repeat the
// same projected pairs across partitions, so the hit rate is high.
type CoordCache struct {
	cache *lru.Cache[coordKey, coordPair]
}

// NewCoordCache builds a cache holding up to size transforms.
func NewCoordCache(size int) (*CoordCache, error) {
	cache, err := lru.New[coordKey, coordPair](size)
	if err != nil {
		return nil, err
	}
	return &CoordCache{cache: cache}, nil
}

// Transform converts x/y through the cache.
func (c *CoordCache) Transform(x, y float64) (lon, lat float64) {
	key := coordKey{x, y}
	if p, ok := c.cache.Get(key); ok {
		return p.lon, p.lat
	}
	lon, lat = Lambert93ToWGS84(x, y)
	c.cache.Add(key, coordPair{lon, lat})
	return lon, lat
}
