// Package weather fetches current conditions and the short-range
// precipitation forecast from Open-Meteo.
package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agriagent/agriagent/internal/httpkit"
)

// DefaultBaseURL is the public Open-Meteo endpoint.
const DefaultBaseURL = "https://api.open-meteo.com"

// Forecast is the normalized Open-Meteo payload.
type Forecast struct {
	Temperature float64
	WeatherCode int
	// PrecipitationSum holds daily totals in mm, index 0 being today.
	PrecipitationSum []float64
}

// AdapterError reports a failed or unusable Open-Meteo response.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("weather %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Client is an Open-Meteo forecast client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a forecast client. timeout bounds each request.
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
		logger:     logger.With("component", "weather"),
	}
}

type forecastResponse struct {
	Current *struct {
		Temperature *float64 `json:"temperature_2m"`
		WeatherCode *int     `json:"weather_code"`
	} `json:"current"`
	Daily *struct {
		PrecipitationSum []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// Fetch returns current conditions and daily precipitation for the
// given coordinates. Every failure is an *AdapterError.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (*Forecast, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current", "temperature_2m,weather_code")
	q.Set("daily", "precipitation_sum")
	q.Set("timezone", "auto")

	start := time.Now()
	var fr forecastResponse
	if err := httpkit.GetJSON(ctx, c.httpClient, c.baseURL+"/v1/forecast?"+q.Encode(), nil, &fr); err != nil {
		op := "request"
		if errors.Is(err, httpkit.ErrDecode) {
			op = "decode"
		}
		return nil, &AdapterError{Op: op, Err: err}
	}
	if fr.Current == nil || fr.Current.Temperature == nil || fr.Current.WeatherCode == nil {
		return nil, &AdapterError{Op: "decode", Err: errors.New("payload missing current conditions")}
	}

	f := &Forecast{
		Temperature: *fr.Current.Temperature,
		WeatherCode: *fr.Current.WeatherCode,
	}
	if fr.Daily != nil {
		for _, p := range fr.Daily.PrecipitationSum {
			// Open-Meteo reports null for days it cannot model.
			if p == nil {
				f.PrecipitationSum = append(f.PrecipitationSum, 0)
				continue
			}
			f.PrecipitationSum = append(f.PrecipitationSum, *p)
		}
	}

	c.logger.Debug("forecast fetched",
		"lat", lat,
		"lon", lon,
		"code", f.WeatherCode,
		"elapsed", time.Since(start),
	)
	return f, nil
}

// codeRanges maps WMO weather interpretation codes to conditions.
// Ranges are inclusive.
var codeRanges = []struct {
	lo, hi    int
	condition string
}{
	{0, 0, "Clear"},
	{1, 3, "Partly Cloudy"},
	{45, 48, "Foggy"},
	{51, 57, "Drizzle"},
	{61, 67, "Rainy"},
	{71, 77, "Snowy"},
	{80, 82, "Showers"},
	{95, 99, "Thunderstorm"},
}

// Condition maps a WMO weather code to a condition name, or "Unknown".
func Condition(code int) string {
	for _, r := range codeRanges {
		if code >= r.lo && code <= r.hi {
			return r.condition
		}
	}
	return "Unknown"
}

// RainChance converts the next three days of precipitation into a
// percentage: ten points per mm, capped at 100.
func RainChance(precipitation []float64) int {
	var sum float64
	for i, p := range precipitation {
		if i == 3 {
			break
		}
		sum += p
	}
	chance := int(10 * sum)
	if chance > 100 {
		return 100
	}
	if chance < 0 {
		return 0
	}
	return chance
}
