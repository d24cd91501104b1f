package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agriagent/agriagent/internal/market"
	"github.com/agriagent/agriagent/internal/metrics"
	"github.com/agriagent/agriagent/internal/randsrc"
	"github.com/agriagent/agriagent/internal/weather"
)

type fakeWeather struct {
	forecast *weather.Forecast
	err      error
	calls    int
}

func (f *fakeWeather) Fetch(_ context.Context, _, _ float64) (*weather.Forecast, error) {
	f.calls++
	return f.forecast, f.err
}

type failingPrices struct{}

func (failingPrices) GetPrice(context.Context, string, string, *market.Coordinates) (market.Quote, error) {
	return market.Quote{}, errors.New("feed down")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestList_DeclaresBuiltinsInOrder(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, nil, randsrc.New(1))

	decls := r.List()
	require.Len(t, decls, 3)

	var names []string
	for _, d := range decls {
		assert.Equal(t, "function", d["type"])
		fn := d["function"].(map[string]any)
		names = append(names, fn["name"].(string))
		assert.NotEmpty(t, fn["description"])
		assert.NotNil(t, fn["parameters"])
	}
	assert.Equal(t, []string{"get_weather", "get_market_price", "get_knowledge"}, names)
}

func TestExecute_UnknownTool(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, nil, randsrc.New(1))

	_, err := r.Execute(t.Context(), "irrigate_now", `{}`)
	var unavailable *ErrToolUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "irrigate_now", unavailable.ToolName)
}

func TestExecute_MalformedArguments(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, nil, randsrc.New(1))

	_, err := r.Execute(t.Context(), "get_weather", `{"location":`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments for get_weather")
}

func TestExecute_MissingRequiredArgument(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, nil, randsrc.New(1))

	_, err := r.Execute(t.Context(), "get_market_price", `{"region":"Kenya"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crop is required")
}

func TestWeather_FallbackWithoutCoordinates(t *testing.T) {
	wx := &fakeWeather{}
	r := NewRegistry(discardLogger(), wx, nil, randsrc.New(42))

	for range 50 {
		report := r.Weather(t.Context(), "Nairobi", nil)
		assert.Equal(t, "Nairobi", report.Location)
		assert.GreaterOrEqual(t, report.Temperature, 20.0)
		assert.LessOrEqual(t, report.Temperature, 35.0)
		assert.GreaterOrEqual(t, report.RainChance, 0)
		assert.LessOrEqual(t, report.RainChance, 100)
		assert.Contains(t, fallbackConditions, report.Condition)
		assert.Equal(t, market.SourceFallback, report.Source)
		if report.RainChance < 50 {
			assert.Equal(t, "Rain expected in 2 days", report.Forecast)
		} else {
			assert.Equal(t, "Rain continues", report.Forecast)
		}
	}
	assert.Zero(t, wx.calls, "no coordinates means no adapter call")
}

func TestWeather_FallbackPinned(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, nil, randsrc.Fixed{Int: 3})

	report := r.Weather(t.Context(), "Arusha", nil)
	assert.Equal(t, "Stormy", report.Condition)
	assert.Equal(t, 23.0, report.Temperature)
	assert.Equal(t, 3, report.RainChance)
	assert.Equal(t, "Rain expected in 2 days", report.Forecast)
}

func TestWeather_LiveWithCoordinates(t *testing.T) {
	wx := &fakeWeather{forecast: &weather.Forecast{
		Temperature:      24.5,
		WeatherCode:      63,
		PrecipitationSum: []float64{2.5, 3, 1, 10},
	}}
	r := NewRegistry(discardLogger(), wx, nil, randsrc.New(1))

	report := r.Weather(t.Context(), "Kisumu", &market.Coordinates{Lat: -0.1, Lon: 34.8})
	assert.Equal(t, 1, wx.calls)
	assert.Equal(t, "Rainy", report.Condition)
	assert.Equal(t, 24.5, report.Temperature)
	assert.Equal(t, 65, report.RainChance)
	assert.Equal(t, "Rain likely over the next 3 days", report.Forecast)
	assert.Equal(t, market.SourceLive, report.Source)
}

func TestWeather_LiveDryForecast(t *testing.T) {
	wx := &fakeWeather{forecast: &weather.Forecast{
		Temperature:      31,
		WeatherCode:      0,
		PrecipitationSum: []float64{0, 1.5, 2, 40},
	}}
	r := NewRegistry(discardLogger(), wx, nil, randsrc.New(1))

	report := r.Weather(t.Context(), "Garissa", &market.Coordinates{Lat: -0.45, Lon: 39.65})
	assert.Equal(t, "Clear", report.Condition)
	assert.Equal(t, 35, report.RainChance, "only the next 3 days count")
	assert.Equal(t, "Mostly dry over the next 3 days", report.Forecast)
	assert.Equal(t, market.SourceLive, report.Source)
}

func TestWeather_AdapterErrorFallsBack(t *testing.T) {
	wx := &fakeWeather{err: &weather.AdapterError{Op: "fetch", Err: errors.New("timeout")}}
	r := NewRegistry(discardLogger(), wx, nil, randsrc.New(7))

	report := r.Weather(t.Context(), "Gulu", &market.Coordinates{Lat: 2.8, Lon: 32.3})
	assert.Equal(t, 1, wx.calls)
	assert.Equal(t, market.SourceFallback, report.Source)
	assert.GreaterOrEqual(t, report.Temperature, 20.0)
	assert.LessOrEqual(t, report.Temperature, 35.0)
}

func TestExecute_GetWeatherJSON(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, nil, randsrc.Fixed{Int: 0})

	out, err := r.Execute(t.Context(), "get_weather", `{"location":"Nakuru"}`)
	require.NoError(t, err)

	var report WeatherReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "Nakuru", report.Location)
	assert.Equal(t, "Sunny", report.Condition)
	assert.Equal(t, market.SourceFallback, report.Source)
}

func TestMarketPrice_DelegatesToService(t *testing.T) {
	svc := market.NewService(nil, randsrc.Fixed{Float: 0.5}, discardLogger())
	r := NewRegistry(discardLogger(), nil, svc, randsrc.New(1))

	q := r.MarketPrice(t.Context(), "maize", "Kenya", nil)
	assert.Equal(t, "Maize", q.Crop)
	assert.Equal(t, "Kenya", q.Region)
	assert.Equal(t, "KES", q.Currency)
	assert.Equal(t, 45.0, q.Price)
	assert.Equal(t, market.TrendStable, q.Trend)
	assert.Equal(t, market.SourceLocal, q.Source)
}

func TestMarketPrice_DefaultRegionIsKenya(t *testing.T) {
	svc := market.NewService(nil, randsrc.Fixed{Float: 0.5}, discardLogger())
	r := NewRegistry(discardLogger(), nil, svc, randsrc.New(1))

	out, err := r.Execute(t.Context(), "get_market_price", `{"crop":"wheat"}`)
	require.NoError(t, err)

	var q market.Quote
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	assert.Equal(t, "Kenya", q.Region)
	assert.Equal(t, "KES", q.Currency)
}

func TestMarketPrice_CoordinatesPickRegion(t *testing.T) {
	svc := market.NewService(nil, randsrc.Fixed{Float: 0.5}, discardLogger())
	r := NewRegistry(discardLogger(), nil, svc, randsrc.New(1))

	out, err := r.Execute(t.Context(), "get_market_price", `{"crop":"teff","lat":9.0,"lon":38.7}`)
	require.NoError(t, err)

	var q market.Quote
	require.NoError(t, json.Unmarshal([]byte(out), &q))
	assert.Equal(t, "Ethiopia", q.Region)
	assert.Equal(t, "ETB", q.Currency)
	assert.Equal(t, 80.0, q.Price)
}

func TestMarketPrice_FallbackJitter(t *testing.T) {
	tests := []struct {
		name  string
		src   randsrc.Fixed
		price float64
		trend string
	}{
		{name: "down", src: randsrc.Fixed{Int: 0}, price: 35, trend: market.TrendDown},
		{name: "stable", src: randsrc.Fixed{Int: 10}, price: 45, trend: market.TrendStable},
		{name: "up", src: randsrc.Fixed{Int: 20}, price: 55, trend: market.TrendUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(discardLogger(), nil, failingPrices{}, tt.src)

			q := r.MarketPrice(t.Context(), "Maize", "Kenya", nil)
			assert.Equal(t, tt.price, q.Price)
			assert.Equal(t, tt.trend, q.Trend)
			assert.Equal(t, "KES", q.Currency)
			assert.Equal(t, market.SourceFallback, q.Source)
			assert.True(t, strings.HasSuffix(q.Timestamp, "Z"))
		})
	}
}

func TestMarketPrice_FallbackUnknownCrop(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, failingPrices{}, randsrc.Fixed{Int: 10})

	q := r.MarketPrice(t.Context(), "cassava", "Uganda", nil)
	assert.Equal(t, "Cassava", q.Crop)
	assert.Equal(t, 100.0, q.Price)
	assert.Equal(t, "UGX", q.Currency)
}

func TestKnowledge(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, nil, randsrc.New(1))

	tests := []struct {
		query string
		want  string
	}{
		{query: "pest control methods", want: "Pest control"},
		{query: "PEST outbreak", want: "Pest control"},
		{query: "leaf disease on maize", want: "Disease management"},
		{query: "drip irrigation", want: "Irrigation"},
		{query: "which fertilizer", want: "Fertilizer"},
		{query: "when to harvest", want: "Harvest"},
		{query: "soil acidity", want: "Soil health"},
		// pest precedes soil in the table.
		{query: "soil pests", want: "Pest control"},
		// disease precedes fertilizer.
		{query: "fertilizer for disease recovery", want: "Disease management"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(r.Knowledge(tt.query), tt.want), r.Knowledge(tt.query))
		})
	}
}

func TestKnowledge_NoMatch(t *testing.T) {
	r := NewRegistry(discardLogger(), nil, nil, randsrc.New(1))

	got := r.Knowledge("crop rotation")
	assert.Equal(t, "General agronomy advice on crop rotation: Rotate crops every season to maintain soil health.", got)
}

func TestExecute_CountsToolCalls(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(discardLogger(), nil, failingPrices{}, randsrc.New(3))
	r.SetMetrics(m)

	ctx := t.Context()
	for i := range 2 {
		_, err := r.Execute(ctx, "get_knowledge", fmt.Sprintf(`{"query":"soil %d"}`, i))
		require.NoError(t, err)
	}
	_, err := r.Execute(ctx, "get_weather", `{"location":"Moshi"}`)
	require.NoError(t, err)
	_, err = r.Execute(ctx, "get_market_price", `{"crop":"coffee"}`)
	require.NoError(t, err)

	expected := `
# HELP agriagent_tool_calls_total Tool invocations by tool name and data source (live, local, fallback).
# TYPE agriagent_tool_calls_total counter
agriagent_tool_calls_total{source="fallback",tool="get_market_price"} 1
agriagent_tool_calls_total{source="fallback",tool="get_weather"} 1
agriagent_tool_calls_total{source="local",tool="get_knowledge"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "agriagent_tool_calls_total"))
}
