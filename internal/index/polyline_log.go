package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trainspot/trainspot_core/internal/models"
)

// PolylineLog stores live-observed journey polylines collected at query
// time, so the next index build can fold them in.
type PolylineLog struct {
	db *pgxpool.Pool
}

func NewPolylineLog(db *pgxpool.Pool) *PolylineLog {
	return &PolylineLog{db: db}
}

// EnsureSchema creates the log table when it does not exist yet.
func (l *PolylineLog) EnsureSchema(ctx context.Context) error {
	_, err := l.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS polyline_log (
			id BIGSERIAL PRIMARY KEY,
			trip_id TEXT NOT NULL,
			collected_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			points JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure polyline_log schema: %w", err)
	}
	return nil
}

// Save appends one observed polyline.
func (l *PolylineLog) Save(ctx context.Context, tripID string, points []models.PolylinePoint) error {
	data, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("failed to marshal polyline points: %w", err)
	}

	_, err = l.db.Exec(ctx,
		`INSERT INTO polyline_log (trip_id, points) VALUES ($1, $2)`,
		tripID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save polyline for trip %s: %w", tripID, err)
	}
	return nil
}

// LoadSince returns all polylines collected after the cutoff, newest last.
func (l *PolylineLog) LoadSince(ctx context.Context, cutoff time.Time) ([]models.Polyline, error) {
	rows, err := l.db.Query(ctx, `
		SELECT trip_id, points FROM polyline_log
		WHERE collected_at >= $1
		ORDER BY collected_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to load polyline log: %w", err)
	}
	defer rows.Close()

	var polylines []models.Polyline
	for rows.Next() {
		var tripID string
		var data []byte
		if err := rows.Scan(&tripID, &data); err != nil {
			log.Printf("Warning: failed to scan polyline row: %v", err)
			continue
		}

		var points []models.PolylinePoint
		if err := json.Unmarshal(data, &points); err != nil {
			log.Printf("Warning: skipping undecodable polyline for trip %s: %v", tripID, err)
			continue
		}

		polylines = append(polylines, models.Polyline{TripID: tripID, Points: points})
	}

	return polylines, rows.Err()
}
