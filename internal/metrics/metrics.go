package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the service's operational metrics on its own registry.
type Collector struct {
	reg *prometheus.Registry

	Searches          prometheus.Counter
	SearchDuration    prometheus.Histogram
	ArrivalsFetches   prometheus.Counter
	ArrivalsErrors    prometheus.Counter
	ArrivalsCacheHits prometheus.Counter
	PolylineFetches   prometheus.Counter
	PolylineErrors    prometheus.Counter
	CandidateStations prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Searches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainspot_searches_total",
			Help: "Total position search requests handled.",
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainspot_search_duration_seconds",
			Help:    "Duration of a full search, upstream fetches included.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ArrivalsFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainspot_arrivals_fetches_total",
			Help: "Total arrival board fetches against the upstream source.",
		}),
		ArrivalsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainspot_arrivals_errors_total",
			Help: "Total failed arrival board fetches.",
		}),
		ArrivalsCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainspot_arrivals_cache_hits_total",
			Help: "Total arrival boards served from the Redis cache.",
		}),
		PolylineFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainspot_polyline_fetches_total",
			Help: "Total journey polyline fetches against the upstream source.",
		}),
		PolylineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainspot_polyline_errors_total",
			Help: "Total failed journey polyline fetches.",
		}),
		CandidateStations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainspot_candidate_stations",
			Help:    "Indexed stations found near a query point.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		}),
	}

	reg.MustRegister(
		c.Searches, c.SearchDuration,
		c.ArrivalsFetches, c.ArrivalsErrors, c.ArrivalsCacheHits,
		c.PolylineFetches, c.PolylineErrors,
		c.CandidateStations,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
