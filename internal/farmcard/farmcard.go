// Package farmcard builds the daily Farm Card: a one-glance summary of
// weather, market, and the single most useful action for today.
package farmcard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/agriagent/agriagent/internal/geocode"
	"github.com/agriagent/agriagent/internal/market"
	"github.com/agriagent/agriagent/internal/metrics"
	"github.com/agriagent/agriagent/internal/randsrc"
	"github.com/agriagent/agriagent/internal/tools"
)

// Top actions, in priority order.
const (
	ActionDelaySpraying = "Delay spraying pesticides due to rain."
	ActionHoldSales     = "Hold sales; prices dropping."
	ActionInspect       = "Inspect crops for pests."
)

// Crop health score bounds.
const (
	MinHealthScore = 70
	MaxHealthScore = 95
)

// GeocodeTimeout bounds the reverse lookup for the display name.
const GeocodeTimeout = 5 * time.Second

// Card is the daily farm summary.
type Card struct {
	Date            string `json:"date"`
	Location        string `json:"location"`
	WeatherSummary  string `json:"weather_summary"`
	WeatherIcon     string `json:"weather_icon"`
	MarketTrend     string `json:"market_trend"`
	TopAction       string `json:"top_action"`
	CropHealthScore int    `json:"crop_health_score"`
}

// Lookups are the tool calls a card needs.
type Lookups interface {
	Weather(ctx context.Context, location string, coords *market.Coordinates) tools.WeatherReport
	MarketPrice(ctx context.Context, crop, region string, coords *market.Coordinates) market.Quote
}

// Geocoder resolves coordinates to a place name, returning
// geocode.Unknown when it cannot.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) string
}

// Sink receives every generated card.
type Sink interface {
	PublishCard(ctx context.Context, card Card) error
}

// rainyConditions delay spraying.
var rainyConditions = map[string]bool{
	"Rainy":        true,
	"Stormy":       true,
	"Showers":      true,
	"Thunderstorm": true,
	"Drizzle":      true,
}

// Synthesizer generates farm cards.
type Synthesizer struct {
	lookups  Lookups
	geocoder Geocoder
	rand     randsrc.Source
	now      func() time.Time
	logger   *slog.Logger
	sink     Sink
	metrics  *metrics.Metrics
}

// New creates a Synthesizer. geocoder may be nil, in which case
// coordinates are shown as numbers.
func New(lookups Lookups, geocoder Geocoder, src randsrc.Source, logger *slog.Logger) *Synthesizer {
	if src == nil {
		src = randsrc.Runtime()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		lookups:  lookups,
		geocoder: geocoder,
		rand:     src,
		now:      time.Now,
		logger:   logger.With("component", "farmcard"),
	}
}

// SetSink attaches a destination that receives each card.
func (s *Synthesizer) SetSink(sink Sink) { s.sink = sink }

// SetMetrics attaches a metrics sink.
func (s *Synthesizer) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetClock replaces the clock used for the card date.
func (s *Synthesizer) SetClock(now func() time.Time) { s.now = now }

// Generate builds the card for location and crop. coords, when set,
// resolve the display name first; weather and market are then looked
// up for that display name, never for the raw coordinates.
func (s *Synthesizer) Generate(ctx context.Context, location, crop string, coords *market.Coordinates) Card {
	display := location
	if coords != nil {
		display = s.displayName(ctx, location, *coords)
	}

	var (
		wg     conc.WaitGroup
		report tools.WeatherReport
		quote  market.Quote
	)
	wg.Go(func() { report = s.lookups.Weather(ctx, display, nil) })
	wg.Go(func() { quote = s.lookups.MarketPrice(ctx, crop, display, nil) })
	wg.Wait()

	card := Card{
		Date:            s.now().Format(time.DateOnly),
		Location:        display,
		WeatherSummary:  fmt.Sprintf("%s°C, %s. %s.", formatNumber(report.Temperature), report.Condition, report.Forecast),
		WeatherIcon:     Icon(report.Condition),
		MarketTrend:     fmt.Sprintf("%s is %s at %s %s.", crop, quote.Trend, formatNumber(quote.Price), quote.Currency),
		TopAction:       TopAction(report.Condition, quote.Trend),
		CropHealthScore: randsrc.Between(s.rand, MinHealthScore, MaxHealthScore),
	}

	s.metrics.FarmCard()
	s.logger.Info("farm card generated",
		"location", card.Location,
		"crop", crop,
		"weather_source", report.Source,
		"market_source", quote.Source,
		"request_id", tools.RequestIDFromContext(ctx),
	)

	if s.sink != nil {
		if err := s.sink.PublishCard(ctx, card); err != nil {
			s.logger.Warn("farm card publish failed", "error", err)
		}
	}
	return card
}

func (s *Synthesizer) displayName(ctx context.Context, location string, c market.Coordinates) string {
	if s.geocoder != nil {
		gctx, cancel := context.WithTimeout(ctx, GeocodeTimeout)
		defer cancel()
		if name := s.geocoder.Reverse(gctx, c.Lat, c.Lon); name != "" && name != geocode.Unknown {
			return name
		}
	}
	return fmt.Sprintf("%s (%.2f, %.2f)", location, c.Lat, c.Lon)
}

// TopAction picks the card's recommended action: rain first, then a
// falling market, otherwise a routine inspection.
func TopAction(condition, trend string) string {
	switch {
	case rainyConditions[condition]:
		return ActionDelaySpraying
	case trend == market.TrendDown:
		return ActionHoldSales
	default:
		return ActionInspect
	}
}

// Icon derives the weather icon name from a condition.
func Icon(condition string) string {
	return strings.ReplaceAll(strings.ToLower(condition), " ", "-")
}

// formatNumber drops a trailing ".0" so whole values read as integers.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
