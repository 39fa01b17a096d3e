package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"time"

	"github.com/trainspot/trainspot_core/internal/metrics"
	"github.com/trainspot/trainspot_core/internal/models"
)

// Client queries the upstream transit-realtime source. All calls are
// time-bounded by the underlying http.Client timeout.
type Client struct {
	baseURL  string
	httpc    *http.Client
	lookback time.Duration
	metrics  *metrics.Collector
}

func NewClient(baseURL string, timeout, lookback time.Duration, collector *metrics.Collector) *Client {
	return &Client{
		baseURL:  baseURL,
		httpc:    &http.Client{Timeout: timeout},
		lookback: lookback,
		metrics:  collector,
	}
}

// Arrivals fetches the arrival board for one station, previous stopovers
// included.
func (c *Client) Arrivals(ctx context.Context, eva int64) ([]models.Arrival, error) {
	c.metrics.ArrivalsFetches.Inc()

	url := fmt.Sprintf("%s/stops/%d/arrivals?duration=%d&stopovers=true",
		c.baseURL, eva, int(c.lookback.Minutes()))

	var payload arrivalsResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		c.metrics.ArrivalsErrors.Inc()
		return nil, fmt.Errorf("arrivals fetch for station %d: %w", eva, err)
	}

	arrivals := make([]models.Arrival, 0, len(payload.Arrivals))
	for _, a := range payload.Arrivals {
		arrivals = append(arrivals, a.toModel(eva))
	}
	return arrivals, nil
}

// TripPolyline fetches the route geometry of one trip. Stop-level features
// carry the station id, which is exactly the leg-boundary annotation the
// index builder wants.
func (c *Client) TripPolyline(ctx context.Context, tripID string) ([]models.PolylinePoint, error) {
	c.metrics.PolylineFetches.Inc()

	url := fmt.Sprintf("%s/trips/%s?polyline=true", c.baseURL, neturl.PathEscape(tripID))

	var payload tripResponse
	if err := c.getJSON(ctx, url, &payload); err != nil {
		c.metrics.PolylineErrors.Inc()
		return nil, fmt.Errorf("polyline fetch for trip %s: %w", tripID, err)
	}

	var points []models.PolylinePoint
	for _, f := range payload.Trip.Polyline.Features {
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		p := models.PolylinePoint{
			// GeoJSON order: lon first
			Lon: f.Geometry.Coordinates[0],
			Lat: f.Geometry.Coordinates[1],
		}
		if f.Properties.ID != "" {
			p.EVA, _ = strconv.ParseInt(f.Properties.ID, 10, 64)
		}
		points = append(points, p)
	}
	return points, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
