package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the API server's settings. Database and Redis settings are
// read by their own packages.
type Config struct {
	Port             string
	UpstreamBaseURL  string
	MaxDistanceKM    float64
	FetchConcurrency int
	FetchTimeout     time.Duration
	ArrivalsLookback time.Duration
	ArrivalsCacheTTL time.Duration
	MetricsAddr      string
}

// Load reads configuration from the environment, with .env support.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getenvDefault("API_PORT", "8080"),
		UpstreamBaseURL: getenvDefault("UPSTREAM_URL", "https://v6.db.transport.rest"),
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
	}

	if v := getenvDefault("MAX_DISTANCE_KM", "50"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid MAX_DISTANCE_KM: %q", v)
		}
		cfg.MaxDistanceKM = f
	}

	// One upstream fetch at a time unless explicitly raised. The cap is a
	// politeness policy towards the realtime source, not a throughput knob.
	if v := getenvDefault("FETCH_CONCURRENCY", "1"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid FETCH_CONCURRENCY: %q", v)
		}
		cfg.FetchConcurrency = n
	}

	if v := getenvDefault("FETCH_TIMEOUT_MS", "10000"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid FETCH_TIMEOUT_MS: %q", v)
		}
		cfg.FetchTimeout = time.Duration(ms) * time.Millisecond
	}

	if v := getenvDefault("ARRIVALS_LOOKBACK_MIN", "120"); v != "" {
		min, err := strconv.Atoi(v)
		if err != nil || min <= 0 {
			return nil, fmt.Errorf("invalid ARRIVALS_LOOKBACK_MIN: %q", v)
		}
		cfg.ArrivalsLookback = time.Duration(min) * time.Minute
	}

	// Zero disables the Redis arrivals cache.
	if v := getenvDefault("ARRIVALS_CACHE_TTL_SEC", "30"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid ARRIVALS_CACHE_TTL_SEC: %q", v)
		}
		cfg.ArrivalsCacheTTL = time.Duration(sec) * time.Second
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
