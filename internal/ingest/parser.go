package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/trainspot/trainspot_core/internal/models"
)

// ParseShapes parses a route geometry CSV with columns
// shape_id,lat,lon,dist_m. Rows must be grouped by shape and ordered by
// distance within a shape.
func ParseShapes(path string) ([]models.Shape, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseShapesFromReader(file)
}

func parseShapesFromReader(reader io.Reader) ([]models.Shape, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colMap := makeColumnMap(header)

	var shapes []models.Shape
	byID := make(map[string]int)

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Warning: skipping malformed shape row: %v", err)
			continue
		}

		id := getColumn(record, colMap, "shape_id")
		lat, err1 := strconv.ParseFloat(getColumn(record, colMap, "lat"), 64)
		lon, err2 := strconv.ParseFloat(getColumn(record, colMap, "lon"), 64)
		dist, err3 := strconv.ParseFloat(getColumn(record, colMap, "dist_m"), 64)
		if id == "" || err1 != nil || err2 != nil || err3 != nil {
			log.Printf("Warning: skipping shape row with bad values: %v", record)
			continue
		}

		idx, ok := byID[id]
		if !ok {
			idx = len(shapes)
			byID[id] = idx
			shapes = append(shapes, models.Shape{ID: id})
		}
		shapes[idx].Points = append(shapes[idx].Points, models.ShapePoint{
			Lat: lat, Lon: lon, Dist: dist,
		})
	}

	return shapes, nil
}

// ParseTripStops parses the trip/stop association CSV with columns
// trip_id,shape_id,station_name,dist_m. Stops are sorted by distance per
// trip regardless of file order.
func ParseTripStops(path string) ([]models.Trip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseTripStopsFromReader(file)
}

func parseTripStopsFromReader(reader io.Reader) ([]models.Trip, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colMap := makeColumnMap(header)

	var trips []models.Trip
	byID := make(map[string]int)

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Warning: skipping malformed trip stop row: %v", err)
			continue
		}

		tripID := getColumn(record, colMap, "trip_id")
		shapeID := getColumn(record, colMap, "shape_id")
		name := getColumn(record, colMap, "station_name")
		dist, distErr := strconv.ParseFloat(getColumn(record, colMap, "dist_m"), 64)
		if tripID == "" || shapeID == "" || name == "" || distErr != nil {
			log.Printf("Warning: skipping trip stop row with bad values: %v", record)
			continue
		}

		idx, ok := byID[tripID]
		if !ok {
			idx = len(trips)
			byID[tripID] = idx
			trips = append(trips, models.Trip{ID: tripID, ShapeID: shapeID})
		}
		trips[idx].Stops = append(trips[idx].Stops, models.TripStop{
			StationName: name, Dist: dist,
		})
	}

	for i := range trips {
		stops := trips[i].Stops
		sort.Slice(stops, func(a, b int) bool { return stops[a].Dist < stops[b].Dist })
	}

	return trips, nil
}

// ParseStations parses the station table CSV with columns eva,name,lat,lon.
func ParseStations(path string) ([]models.Station, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseStationsFromReader(file)
}

func parseStationsFromReader(reader io.Reader) ([]models.Station, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colMap := makeColumnMap(header)

	var stations []models.Station

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Warning: skipping malformed station row: %v", err)
			continue
		}

		eva, evaErr := strconv.ParseInt(getColumn(record, colMap, "eva"), 10, 64)
		name := getColumn(record, colMap, "name")
		lat, _ := strconv.ParseFloat(getColumn(record, colMap, "lat"), 64)
		lon, _ := strconv.ParseFloat(getColumn(record, colMap, "lon"), 64)
		if evaErr != nil || name == "" {
			log.Printf("Warning: skipping station row with bad values: %v", record)
			continue
		}

		stations = append(stations, models.Station{EVA: eva, Name: name, Lat: lat, Lon: lon})
	}

	return stations, nil
}

// ParsePolylines parses a live-observed polyline dump: a JSON array of
// polylines whose points carry an eva annotation at station boundaries.
func ParsePolylines(path string) ([]models.Polyline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var polylines []models.Polyline
	if err := json.Unmarshal(data, &polylines); err != nil {
		return nil, fmt.Errorf("failed to parse polyline dump: %w", err)
	}

	return polylines, nil
}

// makeColumnMap maps header column names to indices
func makeColumnMap(header []string) map[string]int {
	colMap := make(map[string]int, len(header))
	for i, col := range header {
		colMap[strings.TrimSpace(strings.ToLower(col))] = i
	}
	return colMap
}

// getColumn safely retrieves a column value from a record
func getColumn(record []string, colMap map[string]int, name string) string {
	idx, ok := colMap[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
