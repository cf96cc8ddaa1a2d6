package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMarketNotFound indicates the exchange does not know the requested market.
var ErrMarketNotFound = errors.New("market not found")

// MarketDataProvider retrieves ticker, market, and order book data from the exchange.
type MarketDataProvider interface {
	GetTicker(ctx context.Context, market string) (Ticker, error)
	GetMarkets(ctx context.Context) ([]Market, error)
	GetMarket(ctx context.Context, market string) (Market, error)
	GetOrderBook(ctx context.Context, market string) (OrderBook, error)
}

// Market describes a tradeable pair as listed by the exchange.
type Market struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	BaseCurrency  string  `json:"base_currency"`
	QuoteCurrency string  `json:"quote_currency"`
	TakerFee      float64 `json:"taker_fee"`
	MakerFee      float64 `json:"maker_fee"`
}

// Amount is the exchange's [value, currency] pair. The value arrives either
// as a JSON string or a bare number depending on the endpoint.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

// UnmarshalJSON decodes a two-element [value, currency] array.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("amount: expected [value, currency], got %d elements", len(parts))
	}

	var raw string
	if err := json.Unmarshal(parts[0], &raw); err != nil {
		var num json.Number
		if err := json.Unmarshal(parts[0], &num); err != nil {
			return fmt.Errorf("amount: value is neither string nor number: %s", parts[0])
		}
		raw = num.String()
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("amount: parse value: %w", err)
	}

	a.Value = value
	return json.Unmarshal(parts[1], &a.Currency)
}

// MarshalJSON re-encodes the pair in the exchange's wire shape.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{a.Value.String(), a.Currency})
}

// Ticker holds summary statistics for one market.
type Ticker struct {
	MarketID          string      `json:"market_id"`
	LastPrice         Amount      `json:"last_price"`
	MaxBid            Amount      `json:"max_bid"`
	MinAsk            Amount      `json:"min_ask"`
	PriceVariation24H json.Number `json:"price_variation_24h"`
	PriceVariation7D  json.Number `json:"price_variation_7d"`
	Volume            Amount      `json:"volume"`
}

// BookEntry is one (price, volume) level of the order book. The exchange
// sends levels as ["price", "amount"] string pairs; prices stay decimal
// end to end.
type BookEntry struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// UnmarshalJSON decodes a ["price", "amount"] pair.
func (e *BookEntry) UnmarshalJSON(data []byte) error {
	var parts [2]string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}

	price, err := decimal.NewFromString(parts[0])
	if err != nil {
		return fmt.Errorf("book entry: parse price: %w", err)
	}
	amount, err := decimal.NewFromString(parts[1])
	if err != nil {
		return fmt.Errorf("book entry: parse amount: %w", err)
	}

	e.Price = price
	e.Amount = amount
	return nil
}

// MarshalJSON re-encodes the level in the exchange's wire shape.
func (e BookEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Price.String(), e.Amount.String()})
}

// OrderBook is a point-in-time snapshot. Asks are ordered ascending and bids
// descending by price per the exchange contract; the snapshot is not
// re-sorted here.
type OrderBook struct {
	Asks []BookEntry `json:"asks"`
	Bids []BookEntry `json:"bids"`
}
