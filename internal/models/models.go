package models

import "time"

// Station is one row of the eva↔name table the index builder resolves
// stop names against.
type Station struct {
	EVA  int64
	Name string
	Lat  float64
	Lon  float64
}

// ShapePoint is one sample of a route geometry. Dist is the cumulative
// distance from the start of the shape in meters.
type ShapePoint struct {
	Lat  float64
	Lon  float64
	Dist float64
}

// Shape is an ordered route geometry. Dist must be non-decreasing.
type Shape struct {
	ID     string
	Points []ShapePoint
}

// TripStop pairs a stop's display name with its cumulative distance along
// the trip's shape, in meters.
type TripStop struct {
	StationName string
	Dist        float64
}

// Trip associates an ordered, distance-sorted stop sequence with a shape.
type Trip struct {
	ID      string
	ShapeID string
	Stops   []TripStop
}

// PolylinePoint is one live-observed coordinate. EVA is set on points
// recorded at a station and zero everywhere else.
type PolylinePoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	EVA int64   `json:"eva,omitempty"`
}

// Polyline is a raw coordinate trace of one observed journey.
type Polyline struct {
	TripID string          `json:"tripId,omitempty"`
	Points []PolylinePoint `json:"points"`
}

// Stopover is one previous stop of a live arrival record.
// Arrival/Departure carry the realtime values when the source reported
// them and are zero otherwise.
type Stopover struct {
	EVA              int64
	Name             string
	Lat              float64
	Lon              float64
	PlannedArrival   time.Time
	Arrival          time.Time
	PlannedDeparture time.Time
	Departure        time.Time
}

// Arrival is one train's arrival record at the station it was requested for.
type Arrival struct {
	TripID            string
	Line              string
	TrainNumber       string
	StationEVA        int64
	Planned           time.Time
	When              time.Time
	DelaySeconds      int
	PreviousStopovers []Stopover
}

// TrainCandidate is a per-query position estimate for one train. PrevStop
// and NextStop are the anchor pair the location was interpolated between.
type TrainCandidate struct {
	TripID      string
	Line        string
	TrainNumber string
	PrevStop    Stopover
	NextStop    Stopover
	Progress    float64
	Lat         float64
	Lon         float64
	DistanceKM  float64
	Likelihood  int
	Preferred   bool
}
