package market

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agriagent/agriagent/internal/httpkit"
)

// DefaultCommoditiesURL is the commodities-api.com base URL.
const DefaultCommoditiesURL = "https://commodities-api.com/api"

// CommoditiesClient reads USD rates from commodities-api.com.
type CommoditiesClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCommoditiesClient creates a feed client.
func NewCommoditiesClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *CommoditiesClient {
	if baseURL == "" {
		baseURL = DefaultCommoditiesURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommoditiesClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger.With("component", "commodities"),
	}
}

type latestResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Rates map[string]float64 `json:"rates"`
	} `json:"data"`
	Error *struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error,omitempty"`
}

// Fetch returns the USD rate for code. Any failure is logged and
// reported as absent.
func (c *CommoditiesClient) Fetch(ctx context.Context, code string) (float64, bool) {
	q := url.Values{}
	q.Set("access_key", c.apiKey)
	q.Set("symbols", code)

	var lr latestResponse
	if err := httpkit.GetJSON(ctx, c.httpClient, c.baseURL+"/latest?"+q.Encode(), nil, &lr); err != nil {
		c.logger.Warn("commodities request failed", "code", code, "error", err)
		return 0, false
	}
	if !lr.Success {
		attrs := []any{"code", code}
		if lr.Error != nil {
			attrs = append(attrs, "api_code", lr.Error.Code, "info", lr.Error.Info)
		}
		c.logger.Warn("commodities request unsuccessful", attrs...)
		return 0, false
	}

	rate, ok := lr.Data.Rates[code]
	if !ok || rate <= 0 {
		c.logger.Warn("commodities rate missing", "code", code)
		return 0, false
	}
	return rate, true
}
