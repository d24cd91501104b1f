// Package geocode resolves coordinates to place names through the
// Nominatim reverse geocoding API.
package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agriagent/agriagent/internal/httpkit"
)

// DefaultBaseURL is the public OpenStreetMap Nominatim endpoint.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Unknown is returned when no place name can be resolved.
const Unknown = "Unknown"

// Address holds the address components Nominatim reports.
type Address struct {
	Village string `json:"village,omitempty"`
	Town    string `json:"town,omitempty"`
	City    string `json:"city,omitempty"`
	County  string `json:"county,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// Locality returns the most specific populated place component.
func (a Address) Locality() string {
	for _, s := range []string{a.City, a.Town, a.Village, a.County, a.State} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Client is a Nominatim reverse geocoding client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a reverse geocoder. timeout bounds each lookup.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger.With("component", "geocode"),
	}
}

type reverseResponse struct {
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error,omitempty"`
}

// Reverse returns "<locality>, <country>" for the coordinates, the full
// display name when no locality is known, or [Unknown] on any failure.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) string {
	addr, display, err := c.lookup(ctx, lat, lon)
	if err != nil {
		c.logger.Warn("reverse geocoding failed", "lat", lat, "lon", lon, "error", err)
		return Unknown
	}

	switch loc := addr.Locality(); {
	case loc != "" && addr.Country != "":
		return loc + ", " + addr.Country
	case loc != "":
		return loc
	case display != "":
		return display
	case addr.Country != "":
		return addr.Country
	}
	return Unknown
}

func (c *Client) lookup(ctx context.Context, lat, lon float64) (Address, string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("zoom", "10")

	var rr reverseResponse
	header := http.Header{"Accept-Language": {"en"}}
	if err := httpkit.GetJSON(ctx, c.httpClient, c.baseURL+"/reverse?"+q.Encode(), header, &rr); err != nil {
		return Address{}, "", err
	}
	if rr.Error != "" {
		return Address{}, "", fmt.Errorf("nominatim: %s", rr.Error)
	}
	return rr.Address, rr.DisplayName, nil
}
