// Package geo resolves device coordinates to a district name through a
// Nominatim-compatible reverse-geocoding service.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/wellness-sync/internal/sysutil"
)

// ErrNoDistrict is returned when the service answers but no address field
// names a district.
var ErrNoDistrict = errors.New("could not determine district")

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinates are within range.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Resolver maps coordinates to a raw district name.
type Resolver interface {
	District(ctx context.Context, at Coordinates) (string, error)
}

// Nominatim queries GET {BaseURL}/reverse?format=jsonv2&lat=..&lon=..
type Nominatim struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

// NewNominatim returns a resolver for baseURL bounded by timeout.
func NewNominatim(baseURL string, timeout time.Duration) *Nominatim {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Nominatim{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: "wellness-sync",
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type reverseResponse struct {
	Address struct {
		StateDistrict string `json:"state_district"`
		County        string `json:"county"`
		State         string `json:"state"`
		City          string `json:"city"`
	} `json:"address"`
	Error string `json:"error"`
}

// District returns the most specific of state_district, county, state and
// city, in that order.
func (n *Nominatim) District(ctx context.Context, at Coordinates) (string, error) {
	if !at.Valid() {
		return "", fmt.Errorf("coordinates out of range: %v,%v", at.Latitude, at.Longitude)
	}
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	q.Set("zoom", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if n.UserAgent != "" {
		req.Header.Set("User-Agent", n.UserAgent)
	}

	res, err := n.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("reverse geocoding returned status %d", res.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode reverse geocoding response: %w", err)
	}
	if body.Error != "" {
		return "", fmt.Errorf("reverse geocoding: %s", body.Error)
	}
	a := body.Address
	d := strings.TrimSpace(sysutil.FirstNonEmpty(a.StateDistrict, a.County, a.State, a.City))
	if d == "" {
		return "", ErrNoDistrict
	}
	return d, nil
}
