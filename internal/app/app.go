package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"spread-alerts/internal/alerting"
	"spread-alerts/internal/config"
	"spread-alerts/internal/fetcher"
	"spread-alerts/internal/scheduler"
	"spread-alerts/internal/server"
	"spread-alerts/internal/service"
	"spread-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newProvider() fetcher.MarketDataProvider {
	return fetcher.NewBuda(fetcher.BudaOptions{
		BaseURL:   a.Config.Buda.BaseURL,
		Timeout:   a.Config.Buda.RequestTimeout,
		UserAgent: a.Config.Buda.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running polling service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the poller requires persistence")
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, a.newProvider(), store, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting polling service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("polling service terminated with error")
		return err
	}

	a.Logger.Info().Msg("polling service stopped")
	return nil
}

// Serve runs the HTTP API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the API requires persistence")
	}
	defer closeStore()

	provider := a.newProvider()
	svc := service.New(a.Config, nil, provider, store, nil, a.Logger)
	handler := server.NewHandler(svc, provider, a.Logger)
	srv := server.New(a.Config.Server, handler, a.Logger)

	return srv.Run(ctx)
}

// ExportOptions hold parameters for exporting spread history.
type ExportOptions struct {
	Market    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Market string
	Limit  int
}
