package api

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trainspot/trainspot_core/internal/cache"
	"github.com/trainspot/trainspot_core/internal/estimator"
	"github.com/trainspot/trainspot_core/internal/metrics"
	"github.com/trainspot/trainspot_core/internal/models"
)

// CandidateSource is the read side of the spatial index.
type CandidateSource interface {
	Candidates(ctx context.Context, lat, lon float64) ([]int64, error)
}

// Fetcher is the upstream realtime source.
type Fetcher interface {
	Arrivals(ctx context.Context, eva int64) ([]models.Arrival, error)
	TripPolyline(ctx context.Context, tripID string) ([]models.PolylinePoint, error)
}

// PolylineSink receives live-observed polylines for future index builds.
type PolylineSink interface {
	Save(ctx context.Context, tripID string, points []models.PolylinePoint) error
}

// State owns everything a request handler needs: the index store, the
// upstream client, the estimator, and the process-lifetime counters served
// by /stats. Created once at startup, torn down at shutdown.
type State struct {
	Source    CandidateSource
	Fetcher   Fetcher
	Estimator *estimator.Estimator
	Metrics   *metrics.Collector
	Polylines PolylineSink // nil disables collection

	// One upstream fetch at a time by default; deliberately a politeness
	// cap towards the realtime source.
	FetchConcurrency int

	// Zero disables the Redis arrivals cache.
	ArrivalsCacheTTL time.Duration

	arrivalsRequests atomic.Int64
	polylineRequests atomic.Int64

	collectedMu sync.Mutex
	collected   map[string]time.Time
}

// fetchArrivals retrieves arrival boards for the candidate stations,
// bounded by FetchConcurrency (default: strictly sequential). A failed
// station is logged and skipped; the query proceeds on the rest.
func (s *State) fetchArrivals(ctx context.Context, evas []int64) map[int64][]models.Arrival {
	concurrency := s.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	out := make(map[int64][]models.Arrival, len(evas))
	sem := make(chan struct{}, concurrency)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, eva := range evas {
		sem <- struct{}{}
		wg.Add(1)

		go func(eva int64) {
			defer func() {
				<-sem
				wg.Done()
			}()

			arrivals, err := s.stationArrivals(ctx, eva)
			if err != nil {
				log.Printf("arrivals fetch failed for station %d: %v", eva, err)
				return
			}

			mu.Lock()
			out[eva] = arrivals
			mu.Unlock()
		}(eva)
	}

	wg.Wait()
	return out
}

// stationArrivals serves one station's board from the Redis cache when it
// can, hitting upstream otherwise.
func (s *State) stationArrivals(ctx context.Context, eva int64) ([]models.Arrival, error) {
	if s.ArrivalsCacheTTL > 0 {
		cached, err := cache.GetArrivals(ctx, eva)
		if err == nil && cached != nil {
			s.Metrics.ArrivalsCacheHits.Inc()
			return cached, nil
		}
		if err != nil {
			log.Printf("arrivals cache read failed for station %d: %v", eva, err)
		}
	}

	s.arrivalsRequests.Add(1)
	arrivals, err := s.Fetcher.Arrivals(ctx, eva)
	if err != nil {
		return nil, err
	}

	if s.ArrivalsCacheTTL > 0 {
		if err := cache.SetArrivals(ctx, eva, arrivals, s.ArrivalsCacheTTL); err != nil {
			log.Printf("arrivals cache write failed for station %d: %v", eva, err)
		}
	}

	return arrivals, nil
}

// collectPolylines grabs route geometry for candidates on long legs, where
// straight-line interpolation is at its coarsest, and logs it for the next
// index build. Runs in the background so queries are never delayed.
func (s *State) collectPolylines(cands []models.TrainCandidate, legLengthKM func(models.TrainCandidate) float64, thresholdKM float64) {
	if s.Polylines == nil {
		return
	}

	for _, c := range cands {
		if legLengthKM(c) < thresholdKM || !s.markCollected(c.TripID) {
			continue
		}

		go func(tripID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			s.polylineRequests.Add(1)
			points, err := s.Fetcher.TripPolyline(ctx, tripID)
			if err != nil {
				log.Printf("polyline collection failed for trip %s: %v", tripID, err)
				return
			}

			if err := s.Polylines.Save(ctx, tripID, points); err != nil {
				log.Printf("polyline save failed for trip %s: %v", tripID, err)
			}
		}(c.TripID)
	}
}

// markCollected rate-limits polyline collection to once per trip per hour.
func (s *State) markCollected(tripID string) bool {
	s.collectedMu.Lock()
	defer s.collectedMu.Unlock()

	if s.collected == nil {
		s.collected = make(map[string]time.Time)
	}
	if last, ok := s.collected[tripID]; ok && time.Since(last) < time.Hour {
		return false
	}
	s.collected[tripID] = time.Now()
	return true
}
