package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dnldd/fxsignal/shared"
	"github.com/tidwall/gjson"
)

const (
	// defaultBaseURL is the default broker api base url.
	defaultBaseURL = "https://api-fxpractice.oanda.com"
	// defaultRequestTimeout is the per-request timeout for broker calls.
	defaultRequestTimeout = time.Second * 10
	// maxCandlesPerRequest is the largest candle count the broker serves per request.
	maxCandlesPerRequest = 5000
)

var (
	// ErrAuth indicates the broker rejected the configured credentials.
	ErrAuth = errors.New("broker authentication failed")
	// ErrDataUnavailable indicates the broker cannot serve the requested range.
	ErrDataUnavailable = errors.New("broker data unavailable")
)

// BrokerConfig represents the configuration for the broker client.
type BrokerConfig struct {
	// APIKey is the broker bearer token.
	APIKey string
	// AccountID is the broker account id.
	AccountID string
	// BaseURL is the broker api base url.
	BaseURL string
}

// BrokerClient represents the broker candle api client.
type BrokerClient struct {
	cfg   *BrokerConfig
	httpc http.Client
}

// Ensure the broker client implements the CandleSource interface.
var _ CandleSource = (*BrokerClient)(nil)

// NewBrokerClient instantiates a new broker client.
func NewBrokerClient(cfg *BrokerConfig) (*BrokerClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("broker api key cannot be an empty string")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	return &BrokerClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

// parseCandlesticks parses candlesticks from the provided json data.
func parseCandlesticks(data []gjson.Result, instrument string, timeframe shared.Timeframe) ([]shared.Candlestick, error) {
	candles := make([]shared.Candlestick, 0, len(data))

	for idx := range data {
		var candle shared.Candlestick

		candle.Open = data[idx].Get("mid.o").Float()
		candle.High = data[idx].Get("mid.h").Float()
		candle.Low = data[idx].Get("mid.l").Float()
		candle.Close = data[idx].Get("mid.c").Float()
		candle.Volume = data[idx].Get("volume").Float()
		candle.Complete = data[idx].Get("complete").Bool()

		candle.Instrument = instrument
		candle.Timeframe = timeframe

		openTime, err := time.Parse(time.RFC3339, data[idx].Get("time").String())
		if err != nil {
			return nil, fmt.Errorf("parsing candlestick time: %w", err)
		}

		candle.OpenTime = openTime.UTC()
		candles = append(candles, candle)
	}

	return candles, nil
}

// FetchCandles fetches candles for the provided instrument and timeframe
// starting from the provided time. A zero to time requests up to the newest
// available candle.
func (c *BrokerClient) FetchCandles(ctx context.Context, instrument string, timeframe shared.Timeframe,
	from time.Time, to time.Time) ([]shared.Candlestick, error) {
	params := url.Values{}
	params.Add("granularity", timeframe.String())
	params.Add("price", "M")
	if !from.IsZero() {
		params.Add("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		params.Add("to", to.UTC().Format(time.RFC3339))
	} else {
		params.Add("count", fmt.Sprintf("%d", maxCandlesPerRequest))
	}

	formedURL := fmt.Sprintf("%s/v3/instruments/%s/candles?%s", c.cfg.BaseURL, instrument, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, formedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating candle request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.AccountID != "" {
		req.Header.Set("Account-ID", c.cfg.AccountID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching candles (%s) for %s: %w", timeframe.String(), instrument, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("fetching candles for %s: %w", instrument, ErrAuth)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("fetching candles for %s: %w", instrument, ErrDataUnavailable)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetching candles for %s: unexpected status %d: %s",
			instrument, resp.StatusCode, string(body))
	}

	data := gjson.GetBytes(body, "candles").Array()

	return parseCandlesticks(data, instrument, timeframe)
}
