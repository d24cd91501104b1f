// Package market quotes crop prices per kg. It prefers a live
// commodities feed when one is configured and otherwise prices from
// regional tables with a small daily variance.
package market

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agriagent/agriagent/internal/randsrc"
)

// Quote sources.
const (
	SourceLive     = "live"
	SourceLocal    = "local"
	SourceFallback = "fallback"
)

// Trends.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// DefaultRegion is used for coordinates outside every known box and for
// regions without their own price table.
const DefaultRegion = "default"

// ErrInvalidCrop is returned when no crop name is given.
var ErrInvalidCrop = errors.New("crop name is required")

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Quote is a normalized price record.
type Quote struct {
	Crop      string  `json:"crop"`
	Region    string  `json:"region"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Unit      string  `json:"unit"`
	Trend     string  `json:"trend"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
}

// Feed is a live commodity rate source. Fetch reports false when no
// rate is available; it never fails loudly.
type Feed interface {
	Fetch(ctx context.Context, code string) (float64, bool)
}

// Service produces quotes.
type Service struct {
	feed   Feed
	rand   randsrc.Source
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a quote service. feed may be nil when no live
// commodities feed is configured.
func NewService(feed Feed, src randsrc.Source, logger *slog.Logger) *Service {
	if src == nil {
		src = randsrc.Runtime()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		feed:   feed,
		rand:   src,
		now:    time.Now,
		logger: logger.With("component", "market"),
	}
}

// SetClock replaces the clock used for quote timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetPrice quotes crop in region. When coords is non-nil the region is
// derived from the coordinates instead. It fails only for an empty crop
// or a cancelled context.
func (s *Service) GetPrice(ctx context.Context, crop, region string, coords *Coordinates) (Quote, error) {
	crop = strings.TrimSpace(crop)
	if crop == "" {
		return Quote{}, ErrInvalidCrop
	}
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	if coords != nil {
		region = RegionFor(coords.Lat, coords.Lon)
	}
	if region == "" {
		region = DefaultRegion
	}
	key := strings.ToLower(crop)

	if s.feed != nil {
		if rate, ok := s.feed.Fetch(ctx, CommodityCode(key)); ok {
			return s.quote(crop, region, rate, "USD", TrendStable, SourceLive), nil
		}
		if err := ctx.Err(); err != nil {
			return Quote{}, err
		}
		s.logger.Debug("live feed unavailable, using local prices", "crop", key, "region", region)
	}

	price, trend := LocalPrice(s.rand, key, region)
	return s.quote(crop, region, price, CurrencyFor(region), trend, SourceLocal), nil
}

// Quote builds a quote stamped with the service clock. It is used by
// callers that price from their own fallback data.
func (s *Service) Quote(crop, region string, price float64, currency, trend, source string) Quote {
	return s.quote(crop, region, price, currency, trend, source)
}

func (s *Service) quote(crop, region string, price float64, currency, trend, source string) Quote {
	return Quote{
		Crop:      Capitalize(crop),
		Region:    region,
		Price:     price,
		Currency:  currency,
		Unit:      "per kg",
		Trend:     trend,
		Source:    source,
		Timestamp: FormatTimestamp(s.now()),
	}
}

// LocalPrice prices crop (lowercase) in region from the static tables
// with a uniform daily variance in [-5%, +5%]. The trend follows the
// variance: above +2% is up, below -2% is down.
func LocalPrice(src randsrc.Source, crop, region string) (float64, string) {
	base := basePrice(crop, region)
	variance := randsrc.Uniform(src, -0.05, 0.05)
	price := math.Round(base*(1+variance)*100) / 100
	return price, trendFor(variance)
}

func trendFor(variance float64) string {
	switch {
	case variance > 0.02:
		return TrendUp
	case variance < -0.02:
		return TrendDown
	default:
		return TrendStable
	}
}

func basePrice(crop, region string) float64 {
	if table, ok := localPrices[region]; ok {
		if p, ok := table[crop]; ok {
			return p
		}
		return genericBasePrice
	}
	p, ok := localPrices[DefaultRegion][crop]
	if !ok {
		// The generic price is a flat figure in whatever currency the
		// region quotes; it is not converted.
		return genericBasePrice
	}
	// Regions without their own table convert the USD table.
	if adj, ok := regionAdjustments[region]; ok {
		return p * adj.multiplier
	}
	return p
}

// CurrencyFor returns the regional currency code, USD when unknown.
func CurrencyFor(region string) string {
	if adj, ok := regionAdjustments[region]; ok {
		return adj.currency
	}
	return regionAdjustments[DefaultRegion].currency
}

// CommodityCode maps a lowercase crop name to its commodities-feed
// symbol. Unmapped crops use CORN.
func CommodityCode(crop string) string {
	if code, ok := cropCodes[strings.ToLower(crop)]; ok {
		return code
	}
	return "CORN"
}

// RegionFor classifies coordinates into a market region. Boxes are
// checked in order and the first match wins; the Kenya, Ethiopia, and
// Uganda boxes overlap at their edges.
func RegionFor(lat, lon float64) string {
	for _, b := range regionBoxes {
		if lat >= b.minLat && lat <= b.maxLat && lon >= b.minLon && lon <= b.maxLon {
			return b.region
		}
	}
	return DefaultRegion
}

// FormatTimestamp renders t as UTC ISO-8601 with a trailing Z.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
