package geo

import "math"

const (
	// CellsPerDegree quantizes coordinates to a grid of roughly 111 m of
	// latitude per cell. The longitude step narrows towards the poles; the
	// query-time window absorbs that.
	CellsPerDegree = 1000

	// CellWindow widens query-time candidate lookups by this many cells on
	// each axis to tolerate quantization error and sensor imprecision.
	CellWindow = 3

	earthRadiusKM = 6371.0
)

// Cell is a discretized grid square used as a spatial index key.
type Cell struct {
	LatIdx int
	LonIdx int
}

// Quantize maps a coordinate to its grid cell.
func Quantize(lat, lon float64) Cell {
	return Cell{
		LatIdx: int(math.Round(lat * CellsPerDegree)),
		LonIdx: int(math.Round(lon * CellsPerDegree)),
	}
}

// HaversineKM returns the great-circle distance between two points in km.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

// Interpolate returns the linear blend between two coordinates at ratio,
// degenerating exactly to an endpoint at ratio 0 or 1. Not geodesic-correct,
// which is acceptable at the segment lengths this service works with.
func Interpolate(lat1, lon1, lat2, lon2, ratio float64) (lat, lon float64) {
	lat = lat1 + (lat2-lat1)*ratio
	lon = lon1 + (lon2-lon1)*ratio
	return lat, lon
}

// SegmentDistanceKM returns the distance in km from point p to the segment
// a-b, with the projection clamped to the segment's endpoints. Computed in a
// local equirectangular frame centered on p.
func SegmentDistanceKM(pLat, pLon, aLat, aLon, bLat, bLon float64) float64 {
	cosLat := math.Cos(pLat * math.Pi / 180)

	ax := (aLon - pLon) * cosLat
	ay := aLat - pLat
	bx := (bLon - pLon) * cosLat
	by := bLat - pLat

	dx := bx - ax
	dy := by - ay

	t := 0.0
	if segLenSq := dx*dx + dy*dy; segLenSq > 0 {
		// p is the frame origin, so the projection parameter is -a·d/|d|².
		t = Clamp(-(ax*dx+ay*dy)/segLenSq, 0, 1)
	}

	cx := ax + t*dx
	cy := ay + t*dy

	const kmPerDegree = math.Pi / 180 * earthRadiusKM
	return math.Hypot(cx, cy) * kmPerDegree
}

// Clamp limits v to the range [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
