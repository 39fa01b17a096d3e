package realtime

import (
	"strconv"
	"time"

	"github.com/trainspot/trainspot_core/internal/models"
)

// Wire types for the upstream realtime source. Absent realtime values come
// through as null pointers and map to zero times.

type arrivalsResponse struct {
	Arrivals []arrivalJSON `json:"arrivals"`
}

type arrivalJSON struct {
	TripID            string         `json:"tripId"`
	Stop              stopJSON       `json:"stop"`
	When              *time.Time     `json:"when"`
	PlannedWhen       *time.Time     `json:"plannedWhen"`
	Delay             *int           `json:"delay"`
	Line              lineJSON       `json:"line"`
	PreviousStopovers []stopoverJSON `json:"previousStopovers"`
}

type lineJSON struct {
	Name    string `json:"name"`
	FahrtNr string `json:"fahrtNr"`
}

type stopJSON struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Location locationJSON `json:"location"`
}

type locationJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type stopoverJSON struct {
	Stop             stopJSON   `json:"stop"`
	Arrival          *time.Time `json:"arrival"`
	PlannedArrival   *time.Time `json:"plannedArrival"`
	Departure        *time.Time `json:"departure"`
	PlannedDeparture *time.Time `json:"plannedDeparture"`
}

type tripResponse struct {
	Trip tripJSON `json:"trip"`
}

type tripJSON struct {
	Polyline featureCollectionJSON `json:"polyline"`
}

type featureCollectionJSON struct {
	Features []featureJSON `json:"features"`
}

type featureJSON struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		ID string `json:"id"`
	} `json:"properties"`
}

func (a arrivalJSON) toModel(eva int64) models.Arrival {
	arr := models.Arrival{
		TripID:      a.TripID,
		Line:        a.Line.Name,
		TrainNumber: a.Line.FahrtNr,
		StationEVA:  eva,
		Planned:     deref(a.PlannedWhen),
		When:        deref(a.When),
	}
	if a.Delay != nil {
		arr.DelaySeconds = *a.Delay
	}

	for _, s := range a.PreviousStopovers {
		stopEVA, _ := strconv.ParseInt(s.Stop.ID, 10, 64)
		arr.PreviousStopovers = append(arr.PreviousStopovers, models.Stopover{
			EVA:              stopEVA,
			Name:             s.Stop.Name,
			Lat:              s.Stop.Location.Latitude,
			Lon:              s.Stop.Location.Longitude,
			PlannedArrival:   deref(s.PlannedArrival),
			Arrival:          deref(s.Arrival),
			PlannedDeparture: deref(s.PlannedDeparture),
			Departure:        deref(s.Departure),
		})
	}

	return arr
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
