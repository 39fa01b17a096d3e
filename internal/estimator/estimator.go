package estimator

import (
	"math"
	"sort"
	"time"

	"github.com/trainspot/trainspot_core/internal/geo"
	"github.com/trainspot/trainspot_core/internal/models"
)

const (
	// A train whose first stopover departs within this window still counts
	// as under way.
	departureGrace = 5 * time.Minute

	// Legs shorter than this are final as straight-line interpolations.
	// Longer legs are where route-polyline refinement would kick in.
	refineThresholdKM = 20.0

	maxResults = 10
)

// Estimator reconstructs a train's current location from live stopover
// timestamps. Instances are cheap and safe for concurrent use.
type Estimator struct {
	MaxDistanceKM float64

	// Now is replaceable for tests.
	Now func() time.Time
}

func New(maxDistanceKM float64) *Estimator {
	return &Estimator{
		MaxDistanceKM: maxDistanceKM,
		Now:           time.Now,
	}
}

// Estimate computes, ranks and deduplicates position candidates for one
// query. candidates is the station id set the spatial index returned;
// arrivalsByStation holds the live arrival boards fetched for them.
func (e *Estimator) Estimate(queryLat, queryLon float64, candidates []int64, arrivalsByStation map[int64][]models.Arrival) []models.TrainCandidate {
	now := e.Now()

	candSet := make(map[int64]struct{}, len(candidates))
	for _, eva := range candidates {
		candSet[eva] = struct{}{}
	}

	var found []models.TrainCandidate
	for eva, arrivals := range arrivalsByStation {
		for _, arr := range arrivals {
			if c, ok := e.locate(queryLat, queryLon, eva, arr, candSet, now); ok {
				found = append(found, c)
			}
		}
	}

	return e.rank(found)
}

// locate turns one arrival record into a position candidate, or rejects it.
func (e *Estimator) locate(queryLat, queryLon float64, stationEVA int64, arr models.Arrival, candSet map[int64]struct{}, now time.Time) (models.TrainCandidate, bool) {
	stops := normalizeStopovers(arr)
	if len(stops) < 2 {
		return models.TrainCandidate{}, false
	}

	// Only trains passing through the queried neighborhood are of interest.
	nearby := 0
	for _, s := range stops {
		if _, ok := candSet[s.EVA]; ok {
			nearby++
		}
	}
	if nearby < 2 {
		return models.TrainCandidate{}, false
	}

	// Not under way yet: the journey's first departure is still more than
	// the grace window out.
	if !stops[0].Departure.IsZero() && stops[0].Departure.After(now.Add(departureGrace)) {
		return models.TrainCandidate{}, false
	}

	closest := -1
	closestDist := 0.0
	traversal := -1

	for i := 0; i < len(stops)-1; i++ {
		d := geo.SegmentDistanceKM(queryLat, queryLon,
			stops[i].Lat, stops[i].Lon,
			stops[i+1].Lat, stops[i+1].Lon)
		if closest < 0 || d < closestDist {
			closest = i
			closestDist = d
		}
		if traversal < 0 && stops[i+1].Arrival.After(now) {
			traversal = i
		}
	}

	// The leg the train is on right now must also be the leg nearest the
	// query point, else the record has no valid location for this query.
	if traversal < 0 || traversal != closest {
		return models.TrainCandidate{}, false
	}

	from := stops[traversal]
	to := stops[traversal+1]

	progress := progressRatio(from.Departure, to.Arrival, now)
	lat, lon := geo.Interpolate(from.Lat, from.Lon, to.Lat, to.Lon, progress)

	// Legs under refineThresholdKM are final as-is. Longer ones would be
	// snapped onto the trip's route polyline here; the facade collects
	// those polylines for future builds instead.
	dist := geo.HaversineKM(lat, lon, queryLat, queryLon)

	return models.TrainCandidate{
		TripID:      arr.TripID,
		Line:        arr.Line,
		TrainNumber: arr.TrainNumber,
		PrevStop:    from,
		NextStop:    to,
		Progress:    progress,
		Lat:         lat,
		Lon:         lon,
		DistanceKM:  dist,
		Likelihood:  e.likelihood(dist),
		Preferred:   to.EVA == stationEVA,
	}, true
}

// rank sorts candidates by distance, keeps one per train number (the
// preferred detection wins over any closer unpreferred one), drops anything
// at or beyond the distance cap and returns the top entries.
func (e *Estimator) rank(cands []models.TrainCandidate) []models.TrainCandidate {
	sort.Slice(cands, func(i, j int) bool {
		return cands[i].DistanceKM < cands[j].DistanceKM
	})

	best := make(map[string]models.TrainCandidate)
	var order []string
	for _, c := range cands {
		prev, seen := best[c.TrainNumber]
		if !seen {
			best[c.TrainNumber] = c
			order = append(order, c.TrainNumber)
			continue
		}
		best[c.TrainNumber] = merge(prev, c)
	}

	out := make([]models.TrainCandidate, 0, len(order))
	for _, trainNumber := range order {
		c := best[trainNumber]
		if c.DistanceKM >= e.MaxDistanceKM {
			continue
		}
		out = append(out, c)
	}

	// merge can promote a farther preferred detection, so sort again.
	sort.Slice(out, func(i, j int) bool {
		return out[i].DistanceKM < out[j].DistanceKM
	})

	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// merge combines two detections of the same train. For now it keeps the
// better one: the preferred anchor wins, otherwise the earlier (closer)
// detection stays. Combining several detections into one refined estimate
// can slot in here later.
func merge(kept, next models.TrainCandidate) models.TrainCandidate {
	if next.Preferred && !kept.Preferred {
		return next
	}
	return kept
}

// likelihood maps a distance to a percentage: 100 at the query point, 0 at
// MaxDistanceKM. Not clamped below zero.
func (e *Estimator) likelihood(distanceKM float64) int {
	return int(math.Round(100 - 100*distanceKM/e.MaxDistanceKM))
}

// progressRatio is the elapsed fraction of the leg's duration, clamped to
// [0,1]: 0 before departure, 1 past arrival.
func progressRatio(departure, arrival time.Time, now time.Time) float64 {
	total := arrival.Sub(departure)
	if total <= 0 {
		return 1
	}
	return geo.Clamp(1-float64(arrival.Sub(now))/float64(total), 0, 1)
}

// normalizeStopovers resolves each stopover to realtime timestamps: the
// reported realtime value when it differs from the plan, otherwise the plan
// shifted by the record's overall delay.
func normalizeStopovers(arr models.Arrival) []models.Stopover {
	delay := time.Duration(arr.DelaySeconds) * time.Second

	stops := make([]models.Stopover, len(arr.PreviousStopovers))
	for i, s := range arr.PreviousStopovers {
		s.Arrival = normalizeTime(s.Arrival, s.PlannedArrival, delay)
		s.Departure = normalizeTime(s.Departure, s.PlannedDeparture, delay)
		stops[i] = s
	}
	return stops
}

func normalizeTime(realtime, planned time.Time, delay time.Duration) time.Time {
	if !realtime.IsZero() && !realtime.Equal(planned) {
		return realtime
	}
	if planned.IsZero() {
		return time.Time{}
	}
	return planned.Add(delay)
}
