package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trainspot/trainspot_core/internal/db"
	"github.com/trainspot/trainspot_core/internal/geo"
)

// ErrUnavailable is returned for the query that detected a lost index-store
// connection. The next query triggers a reconnect.
var ErrUnavailable = errors.New("spatial index store unavailable")

// Store is the read-only query side of the spatial index. Concurrent
// readers are safe; the builder only ever touches the staging table until
// its atomic swap.
type Store struct {
	mu     sync.Mutex
	pool   *pgxpool.Pool
	broken bool
}

// NewStore wraps an established connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Candidates returns the union of all indexed station ids whose cell lies
// within ±CellWindow cells of the quantized query point. An empty slice
// means nothing is indexed nearby.
func (s *Store) Candidates(ctx context.Context, lat, lon float64) ([]int64, error) {
	pool, err := s.acquire()
	if err != nil {
		return nil, err
	}

	cell := geo.Quantize(lat, lon)

	query := fmt.Sprintf(`
		SELECT evas FROM %s
		WHERE lat_idx BETWEEN $1 AND $2
		  AND lon_idx BETWEEN $3 AND $4
	`, tableName)

	rows, err := pool.Query(ctx, query,
		cell.LatIdx-geo.CellWindow, cell.LatIdx+geo.CellWindow,
		cell.LonIdx-geo.CellWindow, cell.LonIdx+geo.CellWindow,
	)
	if err != nil {
		s.markBroken(err)
		return nil, ErrUnavailable
	}
	defer rows.Close()

	seen := make(map[int64]struct{})
	var evas []int64

	for rows.Next() {
		var cellEVAs []int64
		if err := rows.Scan(&cellEVAs); err != nil {
			log.Printf("Warning: failed to scan index cell: %v", err)
			continue
		}
		for _, eva := range cellEVAs {
			if _, ok := seen[eva]; ok {
				continue
			}
			seen[eva] = struct{}{}
			evas = append(evas, eva)
		}
	}
	if err := rows.Err(); err != nil {
		s.markBroken(err)
		return nil, ErrUnavailable
	}

	return evas, nil
}

// acquire hands out the current pool, reconnecting first when a previous
// query broke the connection. A reconnect that fails again terminates the
// process: serving without an index would be silently wrong, and the
// supervisor restart is the intended recovery path.
func (s *Store) acquire() (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken {
		pool, err := db.NewPool(db.LoadConfigFromEnv())
		if err != nil {
			log.Fatalf("spatial index store unreachable after reconnect: %v", err)
		}
		if s.pool != nil {
			s.pool.Close()
		}
		s.pool = pool
		s.broken = false
		log.Println("spatial index store connection re-established")
	}

	return s.pool, nil
}

func (s *Store) markBroken(err error) {
	log.Printf("spatial index store query failed: %v", err)
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}
