package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trainspot/trainspot_core/internal/geo"
	"github.com/trainspot/trainspot_core/internal/models"
)

var testStations = []models.Station{
	{EVA: 8011160, Name: "Berlin Hbf", Lat: 52.5251, Lon: 13.3694},
	{EVA: 8010404, Name: "Berlin-Spandau", Lat: 52.5344, Lon: 13.1967},
	{EVA: 8000105, Name: "Frankfurt(Main)Hbf", Lat: 50.1070, Lon: 8.6630},
}

func TestDensify(t *testing.T) {
	t.Run("Gaps capped at spacing", func(t *testing.T) {
		points := []models.ShapePoint{
			{Lat: 52.5000, Lon: 13.3000, Dist: 100},
			{Lat: 52.5010, Lon: 13.3010, Dist: 250},
			{Lat: 52.5020, Lon: 13.3020, Dist: 400},
		}

		out := Densify(points, 100)
		require.Greater(t, len(out), len(points))

		for i := 1; i < len(out); i++ {
			gap := out[i].Dist - out[i-1].Dist
			assert.Greater(t, gap, 0.0)
			assert.LessOrEqual(t, gap, 100.0)
		}
	})

	t.Run("Distances stay monotonic and endpoints survive", func(t *testing.T) {
		points := []models.ShapePoint{
			{Lat: 52.5, Lon: 13.3, Dist: 0},
			{Lat: 52.6, Lon: 13.4, Dist: 1234},
		}

		out := Densify(points, 100)
		assert.Equal(t, points[0], out[0])
		assert.Equal(t, points[1], out[len(out)-1])
		for i := 1; i < len(out); i++ {
			assert.Greater(t, out[i].Dist, out[i-1].Dist)
		}
	})

	t.Run("Already dense shape unchanged", func(t *testing.T) {
		points := []models.ShapePoint{
			{Lat: 52.5, Lon: 13.3, Dist: 0},
			{Lat: 52.5005, Lon: 13.3, Dist: 60},
		}
		assert.Equal(t, points, Densify(points, 100))
	})
}

func TestAddShapeRegistersBracketPair(t *testing.T) {
	b := NewBuilder(nil, testStations)

	shape := models.Shape{
		ID: "s1",
		Points: []models.ShapePoint{
			{Lat: 52.5251, Lon: 13.3694, Dist: 100},
			{Lat: 52.5300, Lon: 13.2800, Dist: 250},
			{Lat: 52.5344, Lon: 13.1967, Dist: 400},
		},
	}
	trip := models.Trip{
		ID:      "t1",
		ShapeID: "s1",
		Stops: []models.TripStop{
			{StationName: "Berlin Hbf", Dist: 100},
			{StationName: "Berlin-Spandau", Dist: 400},
		},
	}

	require.NoError(t, b.AddShape(shape, []models.Trip{trip}))

	// Every densified sample must land in a cell carrying both bracket
	// stations.
	for _, p := range Densify(shape.Points, SampleSpacingM) {
		cell := geo.Quantize(p.Lat, p.Lon)
		set, ok := b.cells[cell]
		require.True(t, ok, "no cell registered at sample %+v", p)
		assert.Contains(t, set, int64(8011160))
		assert.Contains(t, set, int64(8010404))
	}
}

func TestAddShapeBracketViolationAborts(t *testing.T) {
	b := NewBuilder(nil, testStations)

	shape := models.Shape{
		ID: "s1",
		Points: []models.ShapePoint{
			{Lat: 52.5251, Lon: 13.3694, Dist: 0}, // before the first stop
			{Lat: 52.5344, Lon: 13.1967, Dist: 400},
		},
	}
	trip := models.Trip{
		ID:      "t1",
		ShapeID: "s1",
		Stops: []models.TripStop{
			{StationName: "Berlin Hbf", Dist: 100},
			{StationName: "Berlin-Spandau", Dist: 400},
		},
	}

	err := b.AddShape(shape, []models.Trip{trip})
	require.Error(t, err)

	var integrityErr *DataIntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, "t1", integrityErr.TripID)
}

func TestResolveStation(t *testing.T) {
	b := NewBuilder(nil, testStations)

	t.Run("Exact name", func(t *testing.T) {
		eva, ok := b.resolveStation("Berlin Hbf")
		assert.True(t, ok)
		assert.Equal(t, int64(8011160), eva)
	})

	t.Run("Space before parenthesis variant", func(t *testing.T) {
		eva, ok := b.resolveStation("Frankfurt (Main)Hbf")
		assert.True(t, ok)
		assert.Equal(t, int64(8000105), eva)
	})

	t.Run("Unknown name dropped", func(t *testing.T) {
		_, ok := b.resolveStation("Atlantis Hbf")
		assert.False(t, ok)
	})
}

func TestAddPolyline(t *testing.T) {
	b := NewBuilder(nil, testStations)

	pl := models.Polyline{
		TripID: "t9",
		Points: []models.PolylinePoint{
			{Lat: 52.5251, Lon: 13.3694, EVA: 8011160},
			{Lat: 52.5290, Lon: 13.3000},
			{Lat: 52.5344, Lon: 13.1967, EVA: 8010404},
		},
	}

	b.AddPolyline(pl)
	require.NotEmpty(t, b.cells)

	// The leg spans several km, so resampling must fill intermediate cells
	// well beyond the three raw vertices.
	assert.Greater(t, len(b.cells), 10)

	for _, set := range b.cells {
		assert.Contains(t, set, int64(8011160))
		assert.Contains(t, set, int64(8010404))
	}
}

func TestAddPolylineWithoutAnnotationsIsNoop(t *testing.T) {
	b := NewBuilder(nil, testStations)

	b.AddPolyline(models.Polyline{Points: []models.PolylinePoint{
		{Lat: 52.5, Lon: 13.3},
		{Lat: 52.6, Lon: 13.4},
	}})

	assert.Empty(t, b.cells)
}
