package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-alerts/internal/config"
	"spread-alerts/internal/fetcher"
	"spread-alerts/internal/storage"
)

type fakeProvider struct {
	markets  []fetcher.Market
	books    map[string]fetcher.OrderBook
	bookErrs map[string]error
}

func (p *fakeProvider) GetTicker(ctx context.Context, market string) (fetcher.Ticker, error) {
	return fetcher.Ticker{MarketID: market}, nil
}

func (p *fakeProvider) GetMarkets(ctx context.Context) ([]fetcher.Market, error) {
	return p.markets, nil
}

func (p *fakeProvider) GetMarket(ctx context.Context, market string) (fetcher.Market, error) {
	for _, m := range p.markets {
		if m.ID == market {
			return m, nil
		}
	}
	return fetcher.Market{}, fmt.Errorf("%s: %w", market, fetcher.ErrMarketNotFound)
}

func (p *fakeProvider) GetOrderBook(ctx context.Context, market string) (fetcher.OrderBook, error) {
	if err, ok := p.bookErrs[market]; ok {
		return fetcher.OrderBook{}, err
	}
	book, ok := p.books[market]
	if !ok {
		return fetcher.OrderBook{}, fmt.Errorf("%s: %w", market, fetcher.ErrMarketNotFound)
	}
	return book, nil
}

type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	records []storage.SpreadRecord
	saveErr error
}

func (s *fakeStore) Save(ctx context.Context, record storage.SpreadRecord) (storage.SpreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return storage.SpreadRecord{}, s.saveErr
	}
	s.nextID++
	record.ID = s.nextID
	s.records = append(s.records, record)
	return record, nil
}

func (s *fakeStore) GetLast(ctx context.Context, market string) (*storage.SpreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Market == market {
			record := s.records[i]
			return &record, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetAll(ctx context.Context, market string) ([]storage.SpreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.SpreadRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Market == market {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id int64) (*storage.SpreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.ID == id {
			record := record
			return &record, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetActiveForMarket(ctx context.Context, market string) ([]storage.SpreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.SpreadRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Market == market && s.records[i].Active {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id int64, active bool) (storage.SpreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Active = active
			return s.records[i], nil
		}
	}
	return storage.SpreadRecord{}, storage.ErrRecordNotFound
}

var _ storage.SpreadRecordStore = (*fakeStore)(nil)

func level(price string) fetcher.BookEntry {
	return fetcher.BookEntry{Price: decimal.RequireFromString(price), Amount: decimal.NewFromInt(1)}
}

func testBook(ask, bid string) fetcher.OrderBook {
	return fetcher.OrderBook{
		Asks: []fetcher.BookEntry{level(ask)},
		Bids: []fetcher.BookEntry{level(bid)},
	}
}

func newTestService(provider *fakeProvider, store *fakeStore) *Service {
	return New(&config.Config{}, nil, provider, store, nil, zerolog.Nop())
}

func seed(t *testing.T, store *fakeStore, market, value string) storage.SpreadRecord {
	t.Helper()
	record, err := store.Save(context.Background(), storage.SpreadRecord{
		Market:     market,
		Value:      decimal.RequireFromString(value),
		RecordedAt: time.Now().UTC(),
		Active:     true,
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return record
}

func TestComputeSpread(t *testing.T) {
	book := fetcher.OrderBook{
		Asks: []fetcher.BookEntry{level("1000"), level("1100")},
		Bids: []fetcher.BookEntry{level("900"), level("800")},
	}

	value, err := ComputeSpread(book)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if value.String() != "100" {
		t.Fatalf("expected spread 100, got %s", value)
	}

	again, err := ComputeSpread(book)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !again.Equal(value) {
		t.Fatalf("compute is not deterministic: %s vs %s", again, value)
	}
}

func TestComputeSpreadCrossedBook(t *testing.T) {
	value, err := ComputeSpread(testBook("900", "1000"))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if value.String() != "-100" {
		t.Fatalf("crossed book should yield a negative spread, got %s", value)
	}
}

func TestComputeSpreadEmptySides(t *testing.T) {
	if _, err := ComputeSpread(fetcher.OrderBook{Bids: []fetcher.BookEntry{level("900")}}); !errors.Is(err, ErrEmptyOrderBook) {
		t.Fatalf("empty asks should fail with ErrEmptyOrderBook, got %v", err)
	}
	if _, err := ComputeSpread(fetcher.OrderBook{Asks: []fetcher.BookEntry{level("1000")}}); !errors.Is(err, ErrEmptyOrderBook) {
		t.Fatalf("empty bids should fail with ErrEmptyOrderBook, got %v", err)
	}
}

func TestGetSpreadForMarketLowercasesAndPersists(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	record, err := svc.GetSpreadForMarket(context.Background(), "BTC-CLP", true)
	if err != nil {
		t.Fatalf("GetSpreadForMarket: %v", err)
	}
	if record.Market != "btc-clp" {
		t.Fatalf("market should be lower-cased, got %s", record.Market)
	}
	if record.ID == 0 {
		t.Fatal("persisted record should carry a store-assigned id")
	}
	if !record.Active {
		t.Fatal("new records default to active")
	}
	if record.RecordedAt.IsZero() {
		t.Fatal("recordedAt should be set")
	}
}

func TestGetSpreadForMarketWithoutPersist(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	record, err := svc.GetSpreadForMarket(context.Background(), "btc-clp", false)
	if err != nil {
		t.Fatalf("GetSpreadForMarket: %v", err)
	}
	if record.ID != 0 {
		t.Fatal("unpersisted record should not carry an id")
	}
	if len(store.records) != 0 {
		t.Fatal("store should not have been written")
	}
}

func TestGetSpreadForMarketPersistFailureSurfaced(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	store := &fakeStore{saveErr: errors.New("connection reset")}
	svc := newTestService(provider, store)

	if _, err := svc.GetSpreadForMarket(context.Background(), "btc-clp", true); err == nil {
		t.Fatal("store failure should surface")
	}
}

func TestGetSpreadForAllMarketsOrderAndCase(t *testing.T) {
	provider := &fakeProvider{
		markets: []fetcher.Market{{ID: "BTC-CLP"}, {ID: "ETH-CLP"}, {ID: "LTC-CLP"}},
		books: map[string]fetcher.OrderBook{
			"btc-clp": testBook("1000", "900"),
			"eth-clp": testBook("500", "450"),
			"ltc-clp": testBook("90", "80"),
		},
	}
	svc := newTestService(provider, &fakeStore{})

	records, err := svc.GetSpreadForAllMarkets(context.Background(), false)
	if err != nil {
		t.Fatalf("GetSpreadForAllMarkets: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected one record per market, got %d", len(records))
	}
	want := []string{"btc-clp", "eth-clp", "ltc-clp"}
	for i, record := range records {
		if record.Market != want[i] {
			t.Fatalf("result order should follow provider listing: got %s at %d", record.Market, i)
		}
	}
	if records[0].Value.String() != "100" {
		t.Fatalf("unexpected btc-clp spread: %s", records[0].Value)
	}
}

func TestGetSpreadForAllMarketsAllOrNothing(t *testing.T) {
	provider := &fakeProvider{
		markets: []fetcher.Market{{ID: "btc-clp"}, {ID: "eth-clp"}},
		books:   map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")},
		bookErrs: map[string]error{
			"eth-clp": errors.New("upstream timeout"),
		},
	}
	svc := newTestService(provider, &fakeStore{})

	records, err := svc.GetSpreadForAllMarkets(context.Background(), false)
	if err == nil {
		t.Fatal("one failed market should fail the whole batch")
	}
	if records != nil {
		t.Fatal("no partial results on batch failure")
	}
}

func TestCompareWithLastNoPreviousData(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	svc := newTestService(provider, &fakeStore{})

	comparison, err := svc.CompareWithLast(context.Background(), "btc-clp")
	if err != nil {
		t.Fatalf("CompareWithLast: %v", err)
	}
	if comparison.Alert != AlertNoPreviousData {
		t.Fatalf("expected no-previous-data, got %s", comparison.Alert)
	}
	if comparison.Last != nil || comparison.Diff != nil {
		t.Fatal("no reference fields expected without history")
	}
}

func TestCompareWithLastVerdicts(t *testing.T) {
	cases := []struct {
		name           string
		reference      string
		wantDiff       string
		wantPercentage string
		wantAlert      Alert
	}{
		{"higher", "50", "50", "100.00", AlertHigher},
		{"lower", "150", "-50", "-33.33", AlertLower},
		{"same", "100", "0", "0.00", AlertSame},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
			store := &fakeStore{}
			seed(t, store, "btc-clp", tc.reference)
			svc := newTestService(provider, store)

			comparison, err := svc.CompareWithLast(context.Background(), "btc-clp")
			if err != nil {
				t.Fatalf("CompareWithLast: %v", err)
			}
			if comparison.Alert != tc.wantAlert {
				t.Fatalf("expected alert %s, got %s", tc.wantAlert, comparison.Alert)
			}
			if comparison.Diff.String() != tc.wantDiff {
				t.Fatalf("expected diff %s, got %s", tc.wantDiff, comparison.Diff)
			}
			if comparison.Percentage.StringFixed(2) != tc.wantPercentage {
				t.Fatalf("expected percentage %s, got %s", tc.wantPercentage, comparison.Percentage.StringFixed(2))
			}
		})
	}
}

func TestCompareWithLastZeroReference(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "1000")}}
	store := &fakeStore{}
	store.records = append(store.records, storage.SpreadRecord{ID: 1, Market: "btc-clp", Value: decimal.Zero, RecordedAt: time.Now(), Active: true})
	store.nextID = 1
	svc := newTestService(provider, store)

	comparison, err := svc.CompareWithLast(context.Background(), "btc-clp")
	if err != nil {
		t.Fatalf("CompareWithLast: %v", err)
	}
	if comparison.Percentage != nil {
		t.Fatalf("percentage is undefined against a zero reference, got %s", comparison.Percentage)
	}
	if comparison.Alert != AlertSame {
		t.Fatalf("diff of zero should classify as same, got %s", comparison.Alert)
	}
}

func TestCompareWithSavedSpreads(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	store := &fakeStore{}
	seed(t, store, "btc-clp", "50")  // older
	seed(t, store, "btc-clp", "100") // most recent
	svc := newTestService(provider, store)

	result, err := svc.CompareWithSavedSpreads(context.Background(), "btc-clp")
	if err != nil {
		t.Fatalf("CompareWithSavedSpreads: %v", err)
	}
	if len(result.SavedSpreads) != 2 {
		t.Fatalf("expected 2 saved spreads, got %d", len(result.SavedSpreads))
	}
	if result.SavedSpreads[0].Value.String() != "100" {
		t.Fatal("saved spreads should be most-recent first")
	}
	if len(result.Diffs) != 2 || len(result.Percentages) != 2 || len(result.Alerts) != 2 {
		t.Fatal("parallel sequences must align with saved spreads")
	}
	if result.Diffs[0].String() != "0" || result.Alerts[0] != AlertSame {
		t.Fatalf("comparison against 100 incorrect: diff=%s alert=%s", result.Diffs[0], result.Alerts[0])
	}
	if result.Diffs[1].String() != "50" || result.Alerts[1] != AlertHigher {
		t.Fatalf("comparison against 50 incorrect: diff=%s alert=%s", result.Diffs[1], result.Alerts[1])
	}
	if result.Percentages[1].StringFixed(2) != "100.00" {
		t.Fatalf("percentage against 50 should be 100, got %s", result.Percentages[1])
	}
}

func TestCompareWithSavedSpreadsEmptyHistory(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	svc := newTestService(provider, &fakeStore{})

	result, err := svc.CompareWithSavedSpreads(context.Background(), "btc-clp")
	if err != nil {
		t.Fatalf("CompareWithSavedSpreads: %v", err)
	}
	if result.Alert != AlertNoPreviousData {
		t.Fatalf("expected no-previous-data, got %s", result.Alert)
	}
}

func TestCompareWithID(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	store := &fakeStore{}
	saved := seed(t, store, "btc-clp", "150")
	svc := newTestService(provider, store)

	comparison, err := svc.CompareWithID(context.Background(), "btc-clp", saved.ID)
	if err != nil {
		t.Fatalf("CompareWithID: %v", err)
	}
	if comparison.SavedSpread == nil || comparison.SavedSpread.ID != saved.ID {
		t.Fatalf("expected saved spread %d in result", saved.ID)
	}
	if comparison.Alert != AlertLower {
		t.Fatalf("100 vs 150 should be lower, got %s", comparison.Alert)
	}
	if comparison.Percentage.StringFixed(2) != "-33.33" {
		t.Fatalf("expected -33.33, got %s", comparison.Percentage.StringFixed(2))
	}
}

func TestCompareWithIDValidation(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	svc := newTestService(provider, &fakeStore{})

	var badReq *BadRequestError
	if _, err := svc.CompareWithID(context.Background(), "btc-clp", -1); !errors.As(err, &badReq) {
		t.Fatalf("negative id should be a bad request, got %v", err)
	}
	if _, err := svc.CompareWithID(context.Background(), " ", 1); !errors.As(err, &badReq) {
		t.Fatalf("missing market should be a bad request, got %v", err)
	}
}

func TestCompareWithIDUnknownRecord(t *testing.T) {
	provider := &fakeProvider{books: map[string]fetcher.OrderBook{"btc-clp": testBook("1000", "900")}}
	svc := newTestService(provider, &fakeStore{})

	comparison, err := svc.CompareWithID(context.Background(), "btc-clp", 42)
	if err != nil {
		t.Fatalf("CompareWithID: %v", err)
	}
	if comparison.Alert != AlertNoPreviousData {
		t.Fatalf("unknown id should yield no-previous-data, got %s", comparison.Alert)
	}
}

func TestSetSpreadValueZeroRejected(t *testing.T) {
	provider := &fakeProvider{markets: []fetcher.Market{{ID: "btc-clp"}}}
	svc := newTestService(provider, &fakeStore{})

	var badReq *BadRequestError
	if _, err := svc.SetSpreadValue(context.Background(), "btc-clp", decimal.Zero); !errors.As(err, &badReq) {
		t.Fatalf("zero value should be a bad request, got %v", err)
	}
}

func TestSetSpreadValueUnknownMarket(t *testing.T) {
	provider := &fakeProvider{markets: []fetcher.Market{{ID: "btc-clp"}}}
	svc := newTestService(provider, &fakeStore{})

	if _, err := svc.SetSpreadValue(context.Background(), "nope-clp", decimal.NewFromInt(100)); !errors.Is(err, fetcher.ErrMarketNotFound) {
		t.Fatalf("unknown market should propagate not-found, got %v", err)
	}
}

func TestSetSpreadValuePersists(t *testing.T) {
	provider := &fakeProvider{markets: []fetcher.Market{{ID: "btc-clp"}}}
	store := &fakeStore{}
	svc := newTestService(provider, store)

	record, err := svc.SetSpreadValue(context.Background(), "BTC-CLP", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("SetSpreadValue: %v", err)
	}
	if record.ID == 0 || record.Market != "btc-clp" || !record.Active {
		t.Fatalf("unexpected record: %#v", record)
	}
	if record.Value.String() != "100" {
		t.Fatalf("value should be caller-supplied, got %s", record.Value)
	}
}

func TestSetSpreadStatus(t *testing.T) {
	store := &fakeStore{}
	saved := seed(t, store, "btc-clp", "100")
	svc := newTestService(&fakeProvider{}, store)

	if _, err := svc.SetSpreadStatus(context.Background(), 999, true); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Fatalf("unknown id should be not found, got %v", err)
	}

	updated, err := svc.SetSpreadStatus(context.Background(), saved.ID, false)
	if err != nil {
		t.Fatalf("SetSpreadStatus: %v", err)
	}
	if updated.Active {
		t.Fatal("record should be inactive")
	}

	// idempotent
	again, err := svc.SetSpreadStatus(context.Background(), saved.ID, false)
	if err != nil {
		t.Fatalf("SetSpreadStatus repeat: %v", err)
	}
	if again.Active {
		t.Fatal("repeated call should leave the same stored state")
	}
}

func TestGetActiveSpreadsForMarket(t *testing.T) {
	store := &fakeStore{}
	first := seed(t, store, "btc-clp", "100")
	seed(t, store, "btc-clp", "200")
	seed(t, store, "eth-clp", "10")
	svc := newTestService(&fakeProvider{}, store)

	if _, err := svc.SetSpreadStatus(context.Background(), first.ID, false); err != nil {
		t.Fatalf("SetSpreadStatus: %v", err)
	}

	active, err := svc.GetActiveSpreadsForMarket(context.Background(), "BTC-CLP")
	if err != nil {
		t.Fatalf("GetActiveSpreadsForMarket: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active record, got %d", len(active))
	}
	if active[0].Value.String() != "200" {
		t.Fatalf("unexpected active record: %#v", active[0])
	}
}
