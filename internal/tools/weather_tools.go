package tools

import (
	"context"
	"fmt"

	"github.com/agriagent/agriagent/internal/market"
	"github.com/agriagent/agriagent/internal/randsrc"
	"github.com/agriagent/agriagent/internal/weather"
)

// WeatherReport is the get_weather result.
type WeatherReport struct {
	Location    string  `json:"location"`
	Condition   string  `json:"condition"`
	Temperature float64 `json:"temperature"`
	RainChance  int     `json:"rain_chance"`
	Forecast    string  `json:"forecast"`
	Source      string  `json:"source"`
}

// Live forecast sentences, chosen by the 3-day rain chance.
const (
	forecastLiveDry = "Mostly dry over the next 3 days"
	forecastLiveWet = "Rain likely over the next 3 days"
)

var fallbackConditions = []string{"Sunny", "Cloudy", "Rainy", "Stormy", "Drought"}

// Weather reports conditions for location. With coordinates it asks the
// forecast service; without them, or when the service fails, it
// synthesizes plausible values tagged as fallback.
func (r *Registry) Weather(ctx context.Context, location string, coords *market.Coordinates) WeatherReport {
	report := r.weatherReport(ctx, location, coords)
	r.metrics.ToolCall("get_weather", report.Source)
	return report
}

func (r *Registry) weatherReport(ctx context.Context, location string, coords *market.Coordinates) WeatherReport {
	if coords != nil && r.weather != nil {
		f, err := r.weather.Fetch(ctx, coords.Lat, coords.Lon)
		if err == nil {
			chance := weather.RainChance(f.PrecipitationSum)
			forecast := forecastLiveDry
			if chance >= 50 {
				forecast = forecastLiveWet
			}
			return WeatherReport{
				Location:    location,
				Condition:   weather.Condition(f.WeatherCode),
				Temperature: f.Temperature,
				RainChance:  chance,
				Forecast:    forecast,
				Source:      market.SourceLive,
			}
		}
		r.logger.Warn("weather lookup failed, using fallback",
			"location", location,
			"error", err,
			"request_id", RequestIDFromContext(ctx),
		)
	}

	chance := randsrc.Between(r.rand, 0, 100)
	forecast := "Rain continues"
	if chance < 50 {
		forecast = "Rain expected in 2 days"
	}
	return WeatherReport{
		Location:    location,
		Condition:   randsrc.Choice(r.rand, fallbackConditions),
		Temperature: float64(randsrc.Between(r.rand, 20, 35)),
		RainChance:  chance,
		Forecast:    forecast,
		Source:      market.SourceFallback,
	}
}

func (r *Registry) handleGetWeather(ctx context.Context, args map[string]any) (string, error) {
	location, _ := args["location"].(string)
	if location == "" {
		return "", fmt.Errorf("location is required")
	}
	return toJSON(r.Weather(ctx, location, coordsFromArgs(args)))
}
