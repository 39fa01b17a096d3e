package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantize(t *testing.T) {
	tests := []struct {
		name     string
		lat      float64
		lon      float64
		expected Cell
	}{
		{
			name:     "Berlin Hbf",
			lat:      52.5251,
			lon:      13.3694,
			expected: Cell{LatIdx: 52525, LonIdx: 13369},
		},
		{
			name:     "Rounds half up",
			lat:      52.5255,
			lon:      13.3695,
			expected: Cell{LatIdx: 52526, LonIdx: 13370},
		},
		{
			name:     "Negative coordinates",
			lat:      -33.8688,
			lon:      -151.2093,
			expected: Cell{LatIdx: -33869, LonIdx: -151209},
		},
		{
			name:     "Origin",
			lat:      0,
			lon:      0,
			expected: Cell{LatIdx: 0, LonIdx: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Quantize(tt.lat, tt.lon))
			// Deterministic across calls
			assert.Equal(t, Quantize(tt.lat, tt.lon), Quantize(tt.lat, tt.lon))
		})
	}
}

// The ±3 cell lookup window must cover enough physical ground for query
// jitter across the latitudes the service operates in.
func TestCellWindowCoverage(t *testing.T) {
	const minRadiusKM = 0.15

	for _, lat := range []float64{-60, -45, 0, 45, 60} {
		cellDeg := 1.0 / CellsPerDegree

		// Latitude extent of the window, one direction
		latReach := HaversineKM(lat, 10, lat+float64(CellWindow)*cellDeg, 10)
		assert.GreaterOrEqual(t, latReach, minRadiusKM, "lat reach at %v", lat)

		// Longitude extent narrows with latitude but must still cover the radius
		lonReach := HaversineKM(lat, 10, lat, 10+float64(CellWindow)*cellDeg)
		assert.GreaterOrEqual(t, lonReach, minRadiusKM, "lon reach at %v", lat)
	}
}

func TestHaversineKM(t *testing.T) {
	t.Run("Zero distance", func(t *testing.T) {
		assert.InDelta(t, 0, HaversineKM(52.52, 13.37, 52.52, 13.37), 0.001)
	})

	t.Run("One degree of latitude", func(t *testing.T) {
		// ~111 km regardless of longitude
		assert.InDelta(t, 111.2, HaversineKM(50, 8, 51, 8), 1)
	})

	t.Run("Berlin to Hamburg", func(t *testing.T) {
		assert.InDelta(t, 255, HaversineKM(52.5251, 13.3694, 53.5530, 10.0069), 10)
	})
}

func TestInterpolate(t *testing.T) {
	t.Run("Endpoints", func(t *testing.T) {
		lat, lon := Interpolate(50, 8, 51, 9, 0)
		assert.Equal(t, 50.0, lat)
		assert.Equal(t, 8.0, lon)

		lat, lon = Interpolate(50, 8, 51, 9, 1)
		assert.Equal(t, 51.0, lat)
		assert.Equal(t, 9.0, lon)
	})

	t.Run("Midpoint", func(t *testing.T) {
		lat, lon := Interpolate(50, 8, 51, 9, 0.5)
		assert.InDelta(t, 50.5, lat, 1e-9)
		assert.InDelta(t, 8.5, lon, 1e-9)
	})
}

func TestSegmentDistanceKM(t *testing.T) {
	// North-south segment on the 8°E meridian between 50°N and 51°N.
	aLat, aLon := 50.0, 8.0
	bLat, bLon := 51.0, 8.0

	t.Run("Point on segment", func(t *testing.T) {
		d := SegmentDistanceKM(50.5, 8.0, aLat, aLon, bLat, bLon)
		assert.InDelta(t, 0, d, 0.01)
	})

	t.Run("Perpendicular offset", func(t *testing.T) {
		// ~0.01° of longitude at 50.5°N is about 0.71 km
		d := SegmentDistanceKM(50.5, 8.01, aLat, aLon, bLat, bLon)
		assert.InDelta(t, 0.71, d, 0.05)
	})

	t.Run("Beyond endpoint clamps", func(t *testing.T) {
		// A point well past b must measure to b, not to the infinite line.
		d := SegmentDistanceKM(52.0, 8.0, aLat, aLon, bLat, bLon)
		want := HaversineKM(52.0, 8.0, bLat, bLon)
		assert.InDelta(t, want, d, 0.5)
	})

	t.Run("Degenerate segment", func(t *testing.T) {
		d := SegmentDistanceKM(50.5, 8.0, aLat, aLon, aLat, aLon)
		want := HaversineKM(50.5, 8.0, aLat, aLon)
		assert.InDelta(t, want, d, 0.2)
	})
}
