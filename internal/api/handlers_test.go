package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trainspot/trainspot_core/internal/estimator"
	"github.com/trainspot/trainspot_core/internal/index"
	"github.com/trainspot/trainspot_core/internal/metrics"
	"github.com/trainspot/trainspot_core/internal/models"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

const (
	evaA int64 = 8000001
	evaB int64 = 8000002
	evaC int64 = 8000003
)

type fakeSource struct {
	evas []int64
	err  error
}

func (f *fakeSource) Candidates(ctx context.Context, lat, lon float64) ([]int64, error) {
	return f.evas, f.err
}

type fakeFetcher struct {
	arrivals map[int64][]models.Arrival
	errs     map[int64]error
	calls    []int64
}

func (f *fakeFetcher) Arrivals(ctx context.Context, eva int64) ([]models.Arrival, error) {
	f.calls = append(f.calls, eva)
	if err := f.errs[eva]; err != nil {
		return nil, err
	}
	return f.arrivals[eva], nil
}

func (f *fakeFetcher) TripPolyline(ctx context.Context, tripID string) ([]models.PolylinePoint, error) {
	return nil, errors.New("not implemented")
}

func stopover(eva int64, name string, lat, lon float64, arr, dep time.Time) models.Stopover {
	return models.Stopover{
		EVA: eva, Name: name, Lat: lat, Lon: lon,
		PlannedArrival: arr, Arrival: arr,
		PlannedDeparture: dep, Departure: dep,
	}
}

// A train that left A(50,8) ten minutes ago and is due at B(51,8) in ten.
func midJourneyArrival() models.Arrival {
	return models.Arrival{
		TripID:      "trip-1",
		Line:        "ICE 10",
		TrainNumber: "10",
		StationEVA:  evaB,
		PreviousStopovers: []models.Stopover{
			stopover(evaA, "Aburg", 50, 8, time.Time{}, testNow.Add(-10*time.Minute)),
			stopover(evaB, "Bstadt", 51, 8, testNow.Add(10*time.Minute), time.Time{}),
		},
	}
}

func newTestState(source CandidateSource, fetcher Fetcher) *State {
	est := estimator.New(50)
	est.Now = func() time.Time { return testNow }

	return &State{
		Source:           source,
		Fetcher:          fetcher,
		Estimator:        est,
		Metrics:          metrics.NewCollector(),
		FetchConcurrency: 1,
	}
}

func newTestApp(s *State) *fiber.App {
	app := fiber.New()
	app.Get("/search", s.Search)
	app.Get("/stats", s.Stats)
	return app
}

func TestSearchBadParameters(t *testing.T) {
	app := newTestApp(newTestState(&fakeSource{}, &fakeFetcher{}))

	tests := []struct {
		name string
		url  string
	}{
		{"Missing both", "/search"},
		{"Missing lon", "/search?lat=50.5"},
		{"Non-numeric lat", "/search?lat=here&lon=8"},
		{"Non-numeric lon", "/search?lat=50.5&lon=there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.url, nil))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSearchReturnsRankedTrains(t *testing.T) {
	fetcher := &fakeFetcher{
		arrivals: map[int64][]models.Arrival{evaB: {midJourneyArrival()}},
	}
	state := newTestState(&fakeSource{evas: []int64{evaA, evaB}}, fetcher)
	app := newTestApp(state)

	resp, err := app.Test(httptest.NewRequest("GET", "/search?lat=50.5&lon=8", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	assert.Equal(t, []int64{evaA, evaB}, payload.EVAs)
	require.Len(t, payload.Trains, 1)

	train := payload.Trains[0]
	assert.Equal(t, "ICE 10", train.Line)
	assert.Equal(t, "trip-1", train.TripID)
	assert.InDelta(t, 50.5, train.Location[0], 0.01)
	assert.GreaterOrEqual(t, train.Likelihood, 98)
}

func TestSearchStopTriplesOnTheWire(t *testing.T) {
	fetcher := &fakeFetcher{
		arrivals: map[int64][]models.Arrival{evaB: {midJourneyArrival()}},
	}
	app := newTestApp(newTestState(&fakeSource{evas: []int64{evaA, evaB}}, fetcher))

	resp, err := app.Test(httptest.NewRequest("GET", "/search?lat=50.5&lon=8", nil), -1)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Anchor stops serialize as [eva, name, "HH:MM"] triples.
	assert.Contains(t, string(body), `[8000001,"Aburg","11:50"]`)
	assert.Contains(t, string(body), `[8000002,"Bstadt","12:10"]`)
}

func TestSearchIsolatesFailedStationFetch(t *testing.T) {
	fetcher := &fakeFetcher{
		arrivals: map[int64][]models.Arrival{evaB: {midJourneyArrival()}},
		errs:     map[int64]error{evaA: errors.New("upstream timeout")},
	}
	state := newTestState(&fakeSource{evas: []int64{evaA, evaB}}, fetcher)
	app := newTestApp(state)

	resp, err := app.Test(httptest.NewRequest("GET", "/search?lat=50.5&lon=8", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	// Station A failed but station B's data still produced a result.
	assert.Empty(t, payload.Error)
	assert.Len(t, payload.Trains, 1)
	assert.ElementsMatch(t, []int64{evaA, evaB}, fetcher.calls)
}

func TestSearchDegradedWhenStoreUnavailable(t *testing.T) {
	state := newTestState(&fakeSource{err: index.ErrUnavailable}, &fakeFetcher{})
	app := newTestApp(state)

	resp, err := app.Test(httptest.NewRequest("GET", "/search?lat=50.5&lon=8", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	assert.Equal(t, "spatial index unavailable", payload.Error)
	assert.Empty(t, payload.EVAs)
	assert.Empty(t, payload.Trains)
}

func TestStatsCountsUpstreamRequests(t *testing.T) {
	fetcher := &fakeFetcher{
		arrivals: map[int64][]models.Arrival{evaB: {midJourneyArrival()}},
		errs:     map[int64]error{evaA: errors.New("boom")},
	}
	state := newTestState(&fakeSource{evas: []int64{evaA, evaB}}, fetcher)
	app := newTestApp(state)

	_, err := app.Test(httptest.NewRequest("GET", "/search?lat=50.5&lon=8", nil), -1)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("GET", "/stats", nil))
	require.NoError(t, err)

	var stats map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))

	// Failed fetches count too: they hit upstream.
	assert.Equal(t, int64(2), stats["arrivals_request_count"])
	assert.Equal(t, int64(0), stats["polyline_request_count"])
}
