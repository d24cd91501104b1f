package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "Clear"},
		{1, "Partly Cloudy"},
		{3, "Partly Cloudy"},
		{4, "Unknown"},
		{45, "Foggy"},
		{48, "Foggy"},
		{51, "Drizzle"},
		{57, "Drizzle"},
		{61, "Rainy"},
		{67, "Rainy"},
		{71, "Snowy"},
		{80, "Showers"},
		{82, "Showers"},
		{95, "Thunderstorm"},
		{99, "Thunderstorm"},
		{100, "Unknown"},
		{-1, "Unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Condition(tt.code), "code %d", tt.code)
	}
}

func TestRainChance(t *testing.T) {
	assert.Equal(t, 0, RainChance(nil))
	assert.Equal(t, 35, RainChance([]float64{1.5, 2.0, 0}))
	assert.Equal(t, 30, RainChance([]float64{1, 1, 1, 40}), "only the first three days count")
	assert.Equal(t, 100, RainChance([]float64{12.4, 3}))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "-1.286", q.Get("latitude"))
		assert.Equal(t, "36.817", q.Get("longitude"))
		assert.Equal(t, "temperature_2m,weather_code", q.Get("current"))
		assert.Equal(t, "precipitation_sum", q.Get("daily"))
		_, _ = w.Write([]byte(`{
			"current": {"temperature_2m": 23.4, "weather_code": 63},
			"daily": {"precipitation_sum": [4.2, null, 1.1, 0.0]}
		}`))
	}))
	defer srv.Close()

	f, err := NewClient(srv.URL, 10*time.Second, nil).Fetch(context.Background(), -1.286, 36.817)
	require.NoError(t, err)
	assert.Equal(t, 23.4, f.Temperature)
	assert.Equal(t, 63, f.WeatherCode)
	assert.Equal(t, []float64{4.2, 0, 1.1, 0}, f.PrecipitationSum)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		op     string
	}{
		{"server error", http.StatusBadGateway, "upstream down", "request"},
		{"bad json", http.StatusOK, "{not json", "decode"},
		{"missing current", http.StatusOK, `{"daily": {"precipitation_sum": [1]}}`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).Fetch(context.Background(), 0, 0)
			var ae *AdapterError
			require.True(t, errors.As(err, &ae), "want *AdapterError, got %v", err)
			assert.Equal(t, tt.op, ae.Op)
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 50*time.Millisecond, nil).Fetch(context.Background(), 0, 0)
	var ae *AdapterError
	require.True(t, errors.As(err, &ae))
}
