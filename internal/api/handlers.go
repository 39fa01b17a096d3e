package api

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/trainspot/trainspot_core/internal/cache"
	"github.com/trainspot/trainspot_core/internal/db"
	"github.com/trainspot/trainspot_core/internal/geo"
	"github.com/trainspot/trainspot_core/internal/index"
	"github.com/trainspot/trainspot_core/internal/models"
)

// legs shorter than this stay straight-line interpolations; longer ones
// get their route polyline collected for future index builds.
const collectThresholdKM = 20.0

// SearchResponse is the /search payload.
type SearchResponse struct {
	EVAs   []int64     `json:"evas"`
	Trains []TrainJSON `json:"trains"`
	Error  string      `json:"error,omitempty"`
}

// TrainJSON is one ranked position estimate.
type TrainJSON struct {
	Line       string      `json:"line"`
	Train      string      `json:"train"`
	TripID     string      `json:"tripId"`
	Location   [2]float64  `json:"location"`
	Distance   float64     `json:"distance"`
	Likelihood int         `json:"likelihood"`
	Stops      [2]StopJSON `json:"stops"`
}

// StopJSON renders an anchor stop as the [eva, name, "HH:MM"] triple the
// frontend expects.
type StopJSON struct {
	EVA  int64
	Name string
	Time string
}

func (s StopJSON) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.EVA, s.Name, s.Time})
}

func (s *StopJSON) UnmarshalJSON(data []byte) error {
	tuple := []any{&s.EVA, &s.Name, &s.Time}
	return json.Unmarshal(data, &tuple)
}

// Search handles GET /search?lat=<float>&lon=<float>.
func (s *State) Search(c *fiber.Ctx) error {
	start := time.Now()
	s.Metrics.Searches.Inc()
	defer func() {
		s.Metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	if latStr == "" || lonStr == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing required parameters: lat and lon")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid latitude")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid longitude")
	}

	ctx := c.Context()

	evas, err := s.Source.Candidates(ctx, lat, lon)
	if err != nil {
		if errors.Is(err, index.ErrUnavailable) {
			// Degraded but explicit: empty lists plus an error marker.
			return c.JSON(SearchResponse{
				EVAs:   []int64{},
				Trains: []TrainJSON{},
				Error:  "spatial index unavailable",
			})
		}
		return err
	}
	s.Metrics.CandidateStations.Observe(float64(len(evas)))

	arrivals := s.fetchArrivals(ctx, evas)
	cands := s.Estimator.Estimate(lat, lon, evas, arrivals)

	s.collectPolylines(cands, func(c models.TrainCandidate) float64 {
		return geo.HaversineKM(c.PrevStop.Lat, c.PrevStop.Lon, c.NextStop.Lat, c.NextStop.Lon)
	}, collectThresholdKM)

	resp := SearchResponse{
		EVAs:   evas,
		Trains: make([]TrainJSON, 0, len(cands)),
	}
	if resp.EVAs == nil {
		resp.EVAs = []int64{}
	}

	for _, cand := range cands {
		resp.Trains = append(resp.Trains, TrainJSON{
			Line:       cand.Line,
			Train:      cand.TrainNumber,
			TripID:     cand.TripID,
			Location:   [2]float64{cand.Lat, cand.Lon},
			Distance:   math.Round(cand.DistanceKM*10) / 10,
			Likelihood: cand.Likelihood,
			Stops: [2]StopJSON{
				{EVA: cand.PrevStop.EVA, Name: cand.PrevStop.Name, Time: cand.PrevStop.Departure.Format("15:04")},
				{EVA: cand.NextStop.EVA, Name: cand.NextStop.Name, Time: cand.NextStop.Arrival.Format("15:04")},
			},
		})
	}

	return c.JSON(resp)
}

// Stats handles GET /stats: process-lifetime upstream request counters,
// reset on restart.
func (s *State) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"arrivals_request_count": s.arrivalsRequests.Load(),
		"polyline_request_count": s.polylineRequests.Load(),
	})
}

// Health handles GET /health.
func (s *State) Health(c *fiber.Ctx) error {
	ctx := c.Context()

	dbErr := db.HealthCheck(ctx)
	dbStatus := "ok"
	if dbErr != nil {
		dbStatus = dbErr.Error()
	}

	redisErr := cache.HealthCheck(ctx)
	redisStatus := "ok"
	if redisErr != nil {
		redisStatus = redisErr.Error()
	}

	status := "healthy"
	httpStatus := fiber.StatusOK
	if dbErr != nil || redisErr != nil {
		status = "unhealthy"
		httpStatus = fiber.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
	})
}
