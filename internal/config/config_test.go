package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 50.0, cfg.MaxDistanceKM)
	assert.Equal(t, 1, cfg.FetchConcurrency)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 30*time.Second, cfg.ArrivalsCacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("MAX_DISTANCE_KM", "25")
	t.Setenv("FETCH_CONCURRENCY", "4")
	t.Setenv("ARRIVALS_CACHE_TTL_SEC", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 25.0, cfg.MaxDistanceKM)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Equal(t, time.Duration(0), cfg.ArrivalsCacheTTL)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Negative max distance", "MAX_DISTANCE_KM", "-1"},
		{"Non-numeric max distance", "MAX_DISTANCE_KM", "far"},
		{"Zero fetch concurrency", "FETCH_CONCURRENCY", "0"},
		{"Bad timeout", "FETCH_TIMEOUT_MS", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
