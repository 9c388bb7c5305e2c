package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Macroscope/models"

	httpclient "github.com/Alias1177/Macroscope/internal/platform/http"
)

// Client is the TwelveData API client. It implements
// models.MarketDataSource over the daily time_series endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.Client
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new TwelveData client
type ClientOptions struct {
	APIKey          string
	BaseURL         string
	RequestTimeout  time.Duration
	RequestsPerSec  int
	MaxRetryTimeout time.Duration
}

// timeSeriesResponse is the wire shape of a time_series reply. Numeric
// fields arrive as strings.
type timeSeriesResponse struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
	} `json:"meta"`
	Values []struct {
		Datetime string  `json:"datetime"`
		Close    float64 `json:"close,string"`
	} `json:"values"`
	Status string `json:"status"`
}

// NewClient creates a new TwelveData API client
func NewClient(options ClientOptions) *Client {
	httpOpts := httpclient.ClientOptions{
		Timeout:         options.RequestTimeout,
		RequestsPerSec:  options.RequestsPerSec,
		MaxRetryTimeout: options.MaxRetryTimeout,
	}

	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twelvedata.com"
	}

	return &Client{
		apiKey:     options.APIKey,
		baseURL:    baseURL,
		httpClient: httpclient.NewClient(httpOpts),
		logger:     log.With().Str("component", "twelvedata_client").Logger(),
	}
}

// FetchHistory fetches the daily close series for a symbol covering the
// requested lookback. Dates are normalized to timezone-naive calendar
// days; non-positive closes are dropped.
func (c *Client) FetchHistory(ctx context.Context, symbol string, lookbackDays int) (models.Series, error) {
	// outputsize counts bars, not calendar days; over-request slightly
	// so weekends and holidays do not shorten the history.
	outputSize := int(float64(lookbackDays) * 1.1)
	if outputSize < 1 {
		outputSize = 1
	}

	url := fmt.Sprintf(
		"%s/time_series?symbol=%s&interval=1day&outputsize=%d&apikey=%s",
		c.baseURL,
		symbol,
		outputSize,
		c.apiKey,
	)

	c.logger.Debug().Str("symbol", symbol).Int("outputSize", outputSize).Msg("Fetching daily series")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Series{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.DoRequest(ctx, req)
	if err != nil {
		return models.Series{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Series{}, fmt.Errorf("reading response body: %w", err)
	}

	if strings.Contains(string(body), `"status":"error"`) {
		c.logger.Error().Str("symbol", symbol).Str("response", string(body)).Msg("Twelve Data API error")
		return models.Series{}, fmt.Errorf("Twelve Data API error for %s", symbol)
	}

	var data timeSeriesResponse
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Error().Err(err).Str("symbol", symbol).Msg("Error parsing JSON")
		return models.Series{}, fmt.Errorf("parsing JSON: %w", err)
	}

	if len(data.Values) == 0 {
		c.logger.Warn().Str("symbol", symbol).Msg("No data in response")
		return models.Series{}, fmt.Errorf("empty data returned for %s", symbol)
	}

	points := make([]models.PricePoint, 0, len(data.Values))
	for _, v := range data.Values {
		date, err := parseDatetime(v.Datetime)
		if err != nil {
			c.logger.Warn().Str("symbol", symbol).Str("datetime", v.Datetime).Msg("Skipping unparseable datetime")
			continue
		}
		points = append(points, models.PricePoint{Date: date, Value: v.Close})
	}

	series := models.NewSeries(symbol, points).DropNonPositive()
	if series.Empty() {
		return models.Series{}, fmt.Errorf("no valid points for %s", symbol)
	}

	c.logger.Debug().Str("symbol", symbol).Int("count", series.Len()).Msg("Fetched daily series")
	return series, nil
}

// parseDatetime accepts both date-only and datetime stamps from the API.
func parseDatetime(s string) (time.Time, error) {
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t, nil
		}
	}
	return time.Parse(time.RFC3339, s)
}
