package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// SpreadRecord is one persisted spread observation for a market.
// Value may be negative (crossed book) or zero. RecordedAt is immutable;
// only Active ever changes after creation.
type SpreadRecord struct {
	ID         int64           `json:"id,omitempty"`
	Market     string          `json:"market"`
	Value      decimal.Decimal `json:"value"`
	RecordedAt time.Time       `json:"recordedAt"`
	Active     bool            `json:"active"`
}
