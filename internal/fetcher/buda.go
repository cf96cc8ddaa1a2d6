package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// BudaOptions parameterise the Buda REST client.
type BudaOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Buda polls the public Buda exchange API.
type Buda struct {
	opts    BudaOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBuda constructs a Buda market data provider.
func NewBuda(opts BudaOptions, logger zerolog.Logger) *Buda {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.buda.com/api/v2"
	}

	return &Buda{
		opts:    opts,
		logger:  logger.With().Str("component", "buda_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// GetMarkets lists every market known to the exchange.
func (b *Buda) GetMarkets(ctx context.Context) ([]Market, error) {
	var res struct {
		Markets []Market `json:"markets"`
	}
	if err := b.get(ctx, "/markets.json", &res); err != nil {
		return nil, err
	}
	return res.Markets, nil
}

// GetMarket fetches a single market, failing with ErrMarketNotFound when unknown.
func (b *Buda) GetMarket(ctx context.Context, market string) (Market, error) {
	var res struct {
		Market Market `json:"market"`
	}
	if err := b.get(ctx, fmt.Sprintf("/markets/%s.json", market), &res); err != nil {
		return Market{}, err
	}
	return res.Market, nil
}

// GetTicker fetches summary statistics for one market.
func (b *Buda) GetTicker(ctx context.Context, market string) (Ticker, error) {
	var res struct {
		Ticker Ticker `json:"ticker"`
	}
	if err := b.get(ctx, fmt.Sprintf("/markets/%s/ticker.json", market), &res); err != nil {
		return Ticker{}, err
	}
	return res.Ticker, nil
}

// GetOrderBook fetches the current order book snapshot for one market.
func (b *Buda) GetOrderBook(ctx context.Context, market string) (OrderBook, error) {
	var res struct {
		OrderBook OrderBook `json:"order_book"`
	}
	if err := b.get(ctx, fmt.Sprintf("/markets/%s/order_book.json", market), &res); err != nil {
		return OrderBook{}, err
	}
	return res.OrderBook, nil
}

func (b *Buda) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "spreadwatch/1.0")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrMarketNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type apiErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func parseAPIError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("buda api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("buda api error (%d): %s", status, apiErr.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("buda api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("buda api error (%d)", status)
}

var _ MarketDataProvider = (*Buda)(nil)
