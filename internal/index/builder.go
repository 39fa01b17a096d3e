package index

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trainspot/trainspot_core/internal/geo"
	"github.com/trainspot/trainspot_core/internal/models"
)

const (
	// SampleSpacingM is the maximum gap between adjacent index samples.
	// Shapes and polyline legs are densified to this spacing before their
	// samples are registered.
	SampleSpacingM = 100.0

	batchSize = 1000

	tableName   = "station_cells"
	stagingName = "station_cells_new"
	retiredName = "station_cells_old"
)

// DataIntegrityError reports a shape sample whose cumulative distance falls
// outside its trip's stop bracket. The source dataset is assumed internally
// consistent, so this aborts the build.
type DataIntegrityError struct {
	TripID string
	Dist   float64
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("trip %s: sample at %.0fm falls outside the trip's stop distance range", e.TripID, e.Dist)
}

// Builder accumulates the cell→station mapping in memory and persists it in
// one shot. One offline run per rebuild; never run two builds concurrently.
type Builder struct {
	db       *pgxpool.Pool
	stations map[string]int64
	cells    map[geo.Cell]map[int64]struct{}

	dropped int
}

// NewBuilder creates a builder resolving stop names against the given
// station table.
func NewBuilder(db *pgxpool.Pool, stations []models.Station) *Builder {
	byName := make(map[string]int64, len(stations))
	for _, s := range stations {
		byName[s.Name] = s.EVA
	}
	return &Builder{
		db:       db,
		stations: byName,
		cells:    make(map[geo.Cell]map[int64]struct{}),
	}
}

// AddShape registers every densified sample of the shape under the station
// pair bracketing it in each trip's stop sequence.
func (b *Builder) AddShape(shape models.Shape, trips []models.Trip) error {
	points := Densify(shape.Points, SampleSpacingM)

	for _, trip := range trips {
		if trip.ShapeID != shape.ID || len(trip.Stops) < 2 {
			continue
		}

		// Samples and stops are both distance-ordered, so the bracket
		// only ever moves forward.
		seg := 0
		for _, p := range points {
			if p.Dist < trip.Stops[0].Dist || p.Dist > trip.Stops[len(trip.Stops)-1].Dist {
				return &DataIntegrityError{TripID: trip.ID, Dist: p.Dist}
			}

			for seg < len(trip.Stops)-2 && p.Dist > trip.Stops[seg+1].Dist {
				seg++
			}

			prevEVA, okPrev := b.resolveStation(trip.Stops[seg].StationName)
			nextEVA, okNext := b.resolveStation(trip.Stops[seg+1].StationName)

			cell := geo.Quantize(p.Lat, p.Lon)
			if okPrev {
				b.register(cell, prevEVA)
			}
			if okNext {
				b.register(cell, nextEVA)
			}
		}
	}

	return nil
}

// AddPolyline registers a live-observed coordinate trace. The trace is split
// into legs wherever the annotated station changes; each leg is resampled to
// the shape spacing and both boundary stations are registered at every
// vertex.
func (b *Builder) AddPolyline(pl models.Polyline) {
	var stationIdx []int
	for i, p := range pl.Points {
		if p.EVA != 0 {
			stationIdx = append(stationIdx, i)
		}
	}

	for s := 0; s < len(stationIdx)-1; s++ {
		from := stationIdx[s]
		to := stationIdx[s+1]
		fromEVA := pl.Points[from].EVA
		toEVA := pl.Points[to].EVA

		for _, v := range resampleLeg(pl.Points[from:to+1], SampleSpacingM) {
			cell := geo.Quantize(v.Lat, v.Lon)
			b.register(cell, fromEVA)
			b.register(cell, toEVA)
		}
	}
}

// Persist writes the accumulated mapping into a staging table and swaps it
// into place atomically, so readers never observe a partially built index.
func (b *Builder) Persist(ctx context.Context) error {
	log.Printf("Persisting %d index cells...", len(b.cells))
	if b.dropped > 0 {
		log.Printf("Dropped %d samples with unresolvable station names", b.dropped)
	}

	if _, err := b.db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", stagingName)); err != nil {
		return fmt.Errorf("failed to drop stale staging table: %w", err)
	}

	create := fmt.Sprintf(`
		CREATE TABLE %s (
			lat_idx INT NOT NULL,
			lon_idx INT NOT NULL,
			evas BIGINT[] NOT NULL,
			PRIMARY KEY (lat_idx, lon_idx)
		)
	`, stagingName)
	if _, err := b.db.Exec(ctx, create); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (lat_idx, lon_idx, evas)
		VALUES ($1, $2, $3)
		ON CONFLICT (lat_idx, lon_idx) DO UPDATE
		SET evas = EXCLUDED.evas
	`, stagingName)

	batch := &pgx.Batch{}
	count := 0

	for cell, evas := range b.cells {
		ids := make([]int64, 0, len(evas))
		for eva := range evas {
			ids = append(ids, eva)
		}

		batch.Queue(upsert, cell.LatIdx, cell.LonIdx, ids)
		count++

		if batch.Len() >= batchSize {
			if err := b.executeBatch(ctx, batch); err != nil {
				return err
			}
			batch = &pgx.Batch{}
		}
	}

	if batch.Len() > 0 {
		if err := b.executeBatch(ctx, batch); err != nil {
			return err
		}
	}

	if err := b.swap(ctx); err != nil {
		return err
	}

	if _, err := b.db.Exec(ctx, fmt.Sprintf("ANALYZE %s", tableName)); err != nil {
		log.Printf("Warning: failed to analyze %s: %v", tableName, err)
	}

	log.Printf("Persisted %d cells", count)
	return nil
}

// swap promotes the staging table to the live name in one transaction.
func (b *Builder) swap(ctx context.Context) error {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin swap transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", retiredName),
		fmt.Sprintf("ALTER TABLE IF EXISTS %s RENAME TO %s", tableName, retiredName),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", stagingName, tableName),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", retiredName),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("swap failed at %q: %w", stmt, err)
		}
	}

	return tx.Commit(ctx)
}

// executeBatch executes a batch of queries
func (b *Builder) executeBatch(ctx context.Context, batch *pgx.Batch) error {
	results := b.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch execution failed at query %d: %w", i, err)
		}
	}

	return nil
}

func (b *Builder) register(cell geo.Cell, eva int64) {
	set, ok := b.cells[cell]
	if !ok {
		set = make(map[int64]struct{})
		b.cells[cell] = set
	}
	set[eva] = struct{}{}
}

// resolveStation maps a stop's display name to its eva. One formatting
// variant is tolerated: a parenthesis preceded by a space, as in
// "Frankfurt (Main) Hbf" vs "Frankfurt(Main)Hbf".
func (b *Builder) resolveStation(name string) (int64, bool) {
	if eva, ok := b.stations[name]; ok {
		return eva, true
	}
	if strings.Contains(name, " (") {
		if eva, ok := b.stations[strings.Replace(name, " (", "(", 1)]; ok {
			return eva, true
		}
	}
	b.dropped++
	return 0, false
}

// Densify inserts linearly interpolated synthetic points so no two adjacent
// samples are farther apart than spacing meters. The blend is linear in
// coordinates, not geodesic-correct, which is fine at this resolution.
func Densify(points []models.ShapePoint, spacing float64) []models.ShapePoint {
	if len(points) < 2 {
		return points
	}

	out := make([]models.ShapePoint, 0, len(points))
	out = append(out, points[0])

	for i := 1; i < len(points); i++ {
		prev := points[i-1]
		cur := points[i]

		if gap := cur.Dist - prev.Dist; gap > spacing {
			steps := int(gap / spacing)
			if float64(steps)*spacing == gap {
				steps--
			}
			for s := 1; s <= steps; s++ {
				ratio := float64(s) * spacing / gap
				lat, lon := geo.Interpolate(prev.Lat, prev.Lon, cur.Lat, cur.Lon, ratio)
				out = append(out, models.ShapePoint{
					Lat:  lat,
					Lon:  lon,
					Dist: prev.Dist + float64(s)*spacing,
				})
			}
		}

		out = append(out, cur)
	}

	return out
}

// resampleLeg densifies a raw polyline leg to the given spacing, measuring
// gaps with the haversine distance since raw points carry no distances.
func resampleLeg(points []models.PolylinePoint, spacing float64) []models.PolylinePoint {
	if len(points) < 2 {
		return points
	}

	out := make([]models.PolylinePoint, 0, len(points))
	out = append(out, points[0])

	for i := 1; i < len(points); i++ {
		prev := points[i-1]
		cur := points[i]

		gap := geo.HaversineKM(prev.Lat, prev.Lon, cur.Lat, cur.Lon) * 1000
		if gap > spacing {
			steps := int(gap / spacing)
			for s := 1; s <= steps; s++ {
				ratio := float64(s) * spacing / gap
				if ratio >= 1 {
					break
				}
				lat, lon := geo.Interpolate(prev.Lat, prev.Lon, cur.Lat, cur.Lon, ratio)
				out = append(out, models.PolylinePoint{Lat: lat, Lon: lon})
			}
		}

		out = append(out, cur)
	}

	return out
}
