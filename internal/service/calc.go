package service

import (
	"github.com/shopspring/decimal"

	"spread-alerts/internal/fetcher"
)

// ComputeSpread derives the bid-ask spread from an order book snapshot:
// lowest ask price minus highest bid price. Asks arrive ascending and bids
// descending per the exchange contract, so element 0 of each side is the
// best price. Fails with ErrEmptyOrderBook when either side is empty.
func ComputeSpread(book fetcher.OrderBook) (decimal.Decimal, error) {
	if len(book.Asks) == 0 || len(book.Bids) == 0 {
		return decimal.Decimal{}, ErrEmptyOrderBook
	}
	return book.Asks[0].Price.Sub(book.Bids[0].Price), nil
}
