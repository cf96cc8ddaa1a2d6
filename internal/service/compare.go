package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"spread-alerts/internal/storage"
)

// Alert is the directional classification of a spread comparison.
type Alert string

const (
	AlertSame           Alert = "same"
	AlertHigher         Alert = "higher"
	AlertLower          Alert = "lower"
	AlertNoPreviousData Alert = "no-previous-data"
)

// Comparison is the result of comparing the current spread against one
// reference record. Diff and Percentage are absent when there is no
// reference; Percentage is also absent when the reference value is zero.
type Comparison struct {
	Current     storage.SpreadRecord  `json:"current"`
	Last        *storage.SpreadRecord `json:"last,omitempty"`
	SavedSpread *storage.SpreadRecord `json:"savedSpread,omitempty"`
	Diff        *decimal.Decimal      `json:"diff,omitempty"`
	Percentage  *decimal.Decimal      `json:"percentage,omitempty"`
	Alert       Alert                 `json:"alert"`
}

// HistoryComparison compares the current spread against every saved record,
// with diffs, percentages, and alerts aligned by index to SavedSpreads.
type HistoryComparison struct {
	Current      storage.SpreadRecord   `json:"current"`
	SavedSpreads []storage.SpreadRecord `json:"savedSpreads,omitempty"`
	Diffs        []decimal.Decimal      `json:"diffs,omitempty"`
	Percentages  []*decimal.Decimal     `json:"percentages,omitempty"`
	Alerts       []Alert                `json:"alerts,omitempty"`
	Alert        Alert                  `json:"alert,omitempty"`
}

// CompareWithLast compares the current (unpersisted) spread against the most
// recently recorded one for the market.
func (s *Service) CompareWithLast(ctx context.Context, market string) (Comparison, error) {
	current, err := s.GetSpreadForMarket(ctx, market, false)
	if err != nil {
		return Comparison{}, err
	}

	last, err := s.store.GetLast(ctx, current.Market)
	if err != nil {
		return Comparison{}, err
	}
	if last == nil {
		return Comparison{Current: current, Alert: AlertNoPreviousData}, nil
	}

	diff := current.Value.Sub(last.Value)
	return Comparison{
		Current:    current,
		Last:       last,
		Diff:       &diff,
		Percentage: percentageOf(diff, last.Value),
		Alert:      classify(diff),
	}, nil
}

// CompareWithSavedSpreads compares the current spread independently against
// every recorded spread for the market, most recent first.
func (s *Service) CompareWithSavedSpreads(ctx context.Context, market string) (HistoryComparison, error) {
	current, err := s.GetSpreadForMarket(ctx, market, false)
	if err != nil {
		return HistoryComparison{}, err
	}

	saved, err := s.store.GetAll(ctx, current.Market)
	if err != nil {
		return HistoryComparison{}, err
	}
	if len(saved) == 0 {
		return HistoryComparison{Current: current, Alert: AlertNoPreviousData}, nil
	}

	diffs := make([]decimal.Decimal, len(saved))
	percentages := make([]*decimal.Decimal, len(saved))
	alerts := make([]Alert, len(saved))
	for i, record := range saved {
		diff := current.Value.Sub(record.Value)
		diffs[i] = diff
		percentages[i] = percentageOf(diff, record.Value)
		alerts[i] = classify(diff)
	}

	return HistoryComparison{
		Current:      current,
		SavedSpreads: saved,
		Diffs:        diffs,
		Percentages:  percentages,
		Alerts:       alerts,
	}, nil
}

// CompareWithID compares the current spread against one stored record by id.
func (s *Service) CompareWithID(ctx context.Context, market string, id int64) (Comparison, error) {
	if id < 0 {
		return Comparison{}, badRequest("id must be a non-negative integer")
	}
	if strings.TrimSpace(market) == "" {
		return Comparison{}, badRequest("market is required")
	}

	current, err := s.GetSpreadForMarket(ctx, market, false)
	if err != nil {
		return Comparison{}, err
	}

	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return Comparison{}, err
	}
	if record == nil {
		return Comparison{Current: current, Alert: AlertNoPreviousData}, nil
	}

	diff := current.Value.Sub(record.Value)
	return Comparison{
		Current:     current,
		SavedSpread: record,
		Diff:        &diff,
		Percentage:  percentageOf(diff, record.Value),
		Alert:       classify(diff),
	}, nil
}

func classify(diff decimal.Decimal) Alert {
	switch diff.Sign() {
	case 1:
		return AlertHigher
	case -1:
		return AlertLower
	default:
		return AlertSame
	}
}

var hundred = decimal.NewFromInt(100)

// percentageOf returns diff/reference*100, or nil when the reference value
// is zero and the ratio is undefined.
func percentageOf(diff, reference decimal.Decimal) *decimal.Decimal {
	if reference.IsZero() {
		return nil
	}
	p := diff.Div(reference).Mul(hundred)
	return &p
}
