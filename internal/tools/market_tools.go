package tools

import (
	"context"
	"fmt"

	"github.com/agriagent/agriagent/internal/market"
	"github.com/agriagent/agriagent/internal/randsrc"
)

// fallbackBasePrices price crops when the market service itself fails.
var fallbackBasePrices = map[string]int{
	"maize":  45,
	"wheat":  55,
	"coffee": 350,
	"teff":   120,
}

const fallbackGenericPrice = 100

// MarketPrice quotes crop in region. Service failures degrade to a
// static price with up to ten units of jitter, tagged as fallback.
func (r *Registry) MarketPrice(ctx context.Context, crop, region string, coords *market.Coordinates) market.Quote {
	q := r.marketQuote(ctx, crop, region, coords)
	r.metrics.ToolCall("get_market_price", q.Source)
	return q
}

func (r *Registry) marketQuote(ctx context.Context, crop, region string, coords *market.Coordinates) market.Quote {
	if region == "" {
		region = "Kenya"
	}
	if r.prices != nil {
		q, err := r.prices.GetPrice(ctx, crop, region, coords)
		if err == nil {
			return q
		}
		r.logger.Warn("market lookup failed, using fallback",
			"crop", crop,
			"region", region,
			"error", err,
			"request_id", RequestIDFromContext(ctx),
		)
	}
	if coords != nil {
		region = market.RegionFor(coords.Lat, coords.Lon)
	}

	base, ok := fallbackBasePrices[normalizeCrop(crop)]
	if !ok {
		base = fallbackGenericPrice
	}
	jitter := randsrc.Between(r.rand, -10, 10)
	trend := market.TrendStable
	switch {
	case jitter > 0:
		trend = market.TrendUp
	case jitter < 0:
		trend = market.TrendDown
	}

	return market.Quote{
		Crop:      market.Capitalize(crop),
		Region:    region,
		Price:     float64(base + jitter),
		Currency:  market.CurrencyFor(region),
		Unit:      "per kg",
		Trend:     trend,
		Source:    market.SourceFallback,
		Timestamp: market.FormatTimestamp(r.now()),
	}
}

func (r *Registry) handleGetMarketPrice(ctx context.Context, args map[string]any) (string, error) {
	crop, _ := args["crop"].(string)
	if crop == "" {
		return "", fmt.Errorf("crop is required")
	}
	region, _ := args["region"].(string)
	return toJSON(r.MarketPrice(ctx, crop, region, coordsFromArgs(args)))
}
