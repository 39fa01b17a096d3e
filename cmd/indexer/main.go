package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trainspot/trainspot_core/internal/db"
	"github.com/trainspot/trainspot_core/internal/index"
	"github.com/trainspot/trainspot_core/internal/ingest"
	"github.com/trainspot/trainspot_core/internal/models"
)

// Single advisory lock key for index builds. A second builder started while
// one is running refuses to proceed instead of racing the table swap.
const buildLockKey = 7243810045

func main() {
	// Command-line flags
	shapesPath := flag.String("shapes", "", "Path to shapes CSV (required)")
	tripStopsPath := flag.String("trip-stops", "", "Path to trip stops CSV (required)")
	stationsPath := flag.String("stations", "", "Path to stations CSV (required)")
	polylinesPath := flag.String("polylines", "", "Path to polyline JSON dump (optional)")
	logDays := flag.Int("polyline-log-days", 0, "Also include live-collected polylines from the last N days")

	flag.Parse()

	if *shapesPath == "" || *tripStopsPath == "" || *stationsPath == "" {
		fmt.Println("Usage: trainspot-indexer --shapes=<path.csv> --trip-stops=<path.csv> --stations=<path.csv> [--polylines=<path.json>] [--polyline-log-days=N]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	for _, p := range []string{*shapesPath, *tripStopsPath, *stationsPath} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			log.Fatalf("Input file not found: %s", p)
		}
	}

	log.Println("Starting spatial index build...")

	// Initialize database connection
	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	lockConn, locked, err := tryBuildLock(ctx, pool)
	if err != nil {
		log.Fatalf("Failed to acquire build lock: %v", err)
	}
	if !locked {
		log.Fatal("Another index build is already running, refusing to start")
	}
	defer lockConn.Release()

	if err := runBuild(ctx, pool, *shapesPath, *tripStopsPath, *stationsPath, *polylinesPath, *logDays); err != nil {
		var integrity *index.DataIntegrityError
		if errors.As(err, &integrity) {
			log.Fatalf("Build aborted, input data is inconsistent: %v", integrity)
		}
		log.Fatalf("Build failed: %v", err)
	}

	log.Println("Index build completed successfully!")
}

func runBuild(ctx context.Context, pool *pgxpool.Pool, shapesPath, tripStopsPath, stationsPath, polylinesPath string, logDays int) error {
	startTime := time.Now()

	log.Println("Step 1/4: Parsing input files...")
	stations, err := ingest.ParseStations(stationsPath)
	if err != nil {
		return fmt.Errorf("failed to parse stations: %w", err)
	}
	shapes, err := ingest.ParseShapes(shapesPath)
	if err != nil {
		return fmt.Errorf("failed to parse shapes: %w", err)
	}
	trips, err := ingest.ParseTripStops(tripStopsPath)
	if err != nil {
		return fmt.Errorf("failed to parse trip stops: %w", err)
	}
	log.Printf("Parsed %d stations, %d shapes, %d trips", len(stations), len(shapes), len(trips))

	builder := index.NewBuilder(pool, stations)

	log.Println("Step 2/4: Sampling route shapes...")
	for _, shape := range shapes {
		if err := builder.AddShape(shape, trips); err != nil {
			return err
		}
	}

	log.Println("Step 3/4: Adding observed polylines...")
	var polylines []models.Polyline
	if polylinesPath != "" {
		fromFile, err := ingest.ParsePolylines(polylinesPath)
		if err != nil {
			return fmt.Errorf("failed to parse polylines: %w", err)
		}
		polylines = append(polylines, fromFile...)
	}
	if logDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -logDays)
		fromLog, err := index.NewPolylineLog(pool).LoadSince(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to load collected polylines: %w", err)
		}
		log.Printf("Loaded %d live-collected polylines since %s", len(fromLog), cutoff.Format("2006-01-02"))
		polylines = append(polylines, fromLog...)
	}
	for _, pl := range polylines {
		builder.AddPolyline(pl)
	}

	log.Println("Step 4/4: Persisting and swapping index...")
	if err := builder.Persist(ctx); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}

	log.Printf("Build finished in %s", time.Since(startTime).Round(time.Second))
	return nil
}

// tryBuildLock takes a session-scoped advisory lock on a pinned connection.
// The connection must stay held for the whole build; the lock is released
// when it closes at process exit.
func tryBuildLock(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, bool, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", buildLockKey).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("advisory lock query failed: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	return conn, true, nil
}
