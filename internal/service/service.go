package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spread-alerts/internal/alerting"
	"spread-alerts/internal/config"
	"spread-alerts/internal/fetcher"
	"spread-alerts/internal/scheduler"
	"spread-alerts/internal/storage"
)

// Service orchestrates spread derivation, persistence, comparison, and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	provider  fetcher.MarketDataProvider
	store     storage.SpreadRecordStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
	markets   []string
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the spread service.
func New(cfg *config.Config, sched *scheduler.Scheduler, provider fetcher.MarketDataProvider, store storage.SpreadRecordStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler: sched,
		provider:  provider,
		store:     store,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		threshold: threshold,
		channels:  cfg.Alerting.Channels,
		alertsOn:  cfg.Alerting.Enabled,
		markets:   cfg.Scheduler.Markets,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
	}
}

// GetSpreadForMarket derives the current spread for one market. When persist
// is set the record is written through the store and returned with its
// assigned id; a store failure is surfaced, not swallowed.
func (s *Service) GetSpreadForMarket(ctx context.Context, market string, persist bool) (storage.SpreadRecord, error) {
	market = strings.ToLower(market)

	book, err := s.provider.GetOrderBook(ctx, market)
	if err != nil {
		return storage.SpreadRecord{}, err
	}

	value, err := ComputeSpread(book)
	if err != nil {
		return storage.SpreadRecord{}, err
	}

	record := storage.SpreadRecord{
		Market:     market,
		Value:      value,
		RecordedAt: time.Now().UTC(),
		Active:     true,
	}

	if persist {
		saved, err := s.store.Save(ctx, record)
		if err != nil {
			return storage.SpreadRecord{}, fmt.Errorf("persist spread: %w", err)
		}
		return saved, nil
	}

	return record, nil
}

// GetSpreadForAllMarkets derives the spread for every listed market
// concurrently. The batch is all-or-nothing: the first failing market fails
// the whole operation and no partial results are returned. Result order
// follows the provider's market listing.
func (s *Service) GetSpreadForAllMarkets(ctx context.Context, persist bool) ([]storage.SpreadRecord, error) {
	markets, err := s.provider.GetMarkets(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]storage.SpreadRecord, len(markets))
	g, gctx := errgroup.WithContext(ctx)

	for i, market := range markets {
		id := strings.ToLower(market.ID)
		g.Go(func() error {
			record, err := s.GetSpreadForMarket(gctx, id, persist)
			if err != nil {
				return fmt.Errorf("market %s: %w", id, err)
			}
			results[i] = record
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SetSpreadValue persists a caller-supplied spread value for a market,
// bypassing the calculator. A zero value is rejected as missing; the market
// must exist on the exchange.
func (s *Service) SetSpreadValue(ctx context.Context, market string, value decimal.Decimal) (storage.SpreadRecord, error) {
	if value.IsZero() {
		return storage.SpreadRecord{}, badRequest("invalid spread value")
	}

	market = strings.ToLower(market)
	if _, err := s.provider.GetMarket(ctx, market); err != nil {
		return storage.SpreadRecord{}, err
	}

	record := storage.SpreadRecord{
		Market:     market,
		Value:      value,
		RecordedAt: time.Now().UTC(),
		Active:     true,
	}

	saved, err := s.store.Save(ctx, record)
	if err != nil {
		return storage.SpreadRecord{}, fmt.Errorf("persist spread: %w", err)
	}
	return saved, nil
}

// SetSpreadStatus flips the active flag on a stored record. Idempotent:
// repeating the call with the same flag leaves the stored state unchanged.
func (s *Service) SetSpreadStatus(ctx context.Context, id int64, active bool) (storage.SpreadRecord, error) {
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return storage.SpreadRecord{}, err
	}
	if existing == nil {
		return storage.SpreadRecord{}, storage.ErrRecordNotFound
	}
	return s.store.UpdateStatus(ctx, id, active)
}

// GetActiveSpreadsForMarket lists active records for a market, most recent first.
func (s *Service) GetActiveSpreadsForMarket(ctx context.Context, market string) ([]storage.SpreadRecord, error) {
	return s.store.GetActiveForMarket(ctx, strings.ToLower(market))
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单个轮询周期：逐市场采样并按需告警。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	markets := s.markets
	if len(markets) == 0 {
		listed, err := s.provider.GetMarkets(ctx)
		if err != nil {
			return fmt.Errorf("list markets: %w", err)
		}
		markets = make([]string, len(listed))
		for i, m := range listed {
			markets[i] = strings.ToLower(m.ID)
		}
	}

	var firstErr error
	for _, market := range markets {
		if err := s.sampleMarket(ctx, tick, market); err != nil {
			s.logger.Error().Err(err).Str("market", market).Time("tick", tick).Msg("sampling failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) sampleMarket(ctx context.Context, tick time.Time, market string) error {
	comparison, err := s.CompareWithLast(ctx, market)
	if err != nil {
		return err
	}

	saved, err := s.store.Save(ctx, comparison.Current)
	if err != nil {
		return fmt.Errorf("persist spread: %w", err)
	}

	event := s.logger.Info().Str("market", market).
		Str("value", saved.Value.String()).
		Str("alert", string(comparison.Alert))
	if comparison.Percentage != nil {
		event = event.Str("percentage", comparison.Percentage.String())
	}
	event.Msg("spread recorded")

	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() {
		return nil
	}
	if comparison.Last == nil || comparison.Percentage == nil {
		return nil
	}
	if !comparison.Percentage.Abs().GreaterThan(s.threshold) {
		return nil
	}

	note := alerting.Notification{
		Market:       market,
		Tick:         tick,
		Current:      saved.Value,
		Previous:     comparison.Last.Value,
		Diff:         *comparison.Diff,
		Percentage:   *comparison.Percentage,
		ThresholdPct: s.threshold,
		Direction:    string(comparison.Alert),
		Channels:     s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("market", market).Msg("failed to dispatch alert")
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
