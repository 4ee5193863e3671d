// Package app aggregates configuration and shared dependencies for the
// CLI commands and wires the sync pipeline together.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fiksisync/internal/config"
	"fiksisync/internal/fixing"
	"fiksisync/internal/httpapi"
	"fiksisync/internal/ledger"
	"fiksisync/internal/scheduler"
	"fiksisync/internal/storage"
	"fiksisync/internal/syncer"
	"fiksisync/internal/token"
	"fiksisync/internal/vault"
)

// App is the application handle shared by CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newFetcher() *fixing.Fetcher {
	return fixing.NewFetcher(fixing.FetcherOptions{
		BaseURL:      a.Config.Source.BaseURL,
		PagePath:     a.Config.Source.PagePath,
		Timeout:      a.Config.Source.RequestTimeout,
		MaxRetries:   a.Config.Source.MaxRetries,
		RetryBackoff: a.Config.Source.RetryBackoff,
		UserAgent:    a.Config.Source.UserAgent,
	}, a.Logger)
}

func (a *App) newOrchestrator(store *storage.Store) (*syncer.Orchestrator, error) {
	credVault, err := vault.New(a.Config.Vault.Secret)
	if err != nil {
		return nil, err
	}

	tokens := token.NewManager(token.Options{
		TokenURL:        a.Config.OAuth.TokenURL,
		SandboxTokenURL: a.Config.OAuth.SandboxTokenURL,
		RefreshWindow:   a.Config.OAuth.RefreshWindow,
		Timeout:         a.Config.OAuth.RequestTimeout,
	}, credVault, store, a.Logger)

	deliverer := ledger.NewClient(ledger.Options{
		BaseURL:        a.Config.Ledger.BaseURL,
		SandboxBaseURL: a.Config.Ledger.SandboxBaseURL,
		Timeout:        a.Config.Ledger.RequestTimeout,
	}, a.Logger)

	return syncer.New(syncer.Options{
		TenantWorkers:   a.Config.Sync.TenantWorkers,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, a.newFetcher(), store, store, store, tokens, deliverer, store, a.Logger), nil
}

// Run starts the long-running service: the daily scheduler and, when
// enabled, the admin HTTP listener. It blocks until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orchestrator, err := a.newOrchestrator(store)
	if err != nil {
		return err
	}

	dailyAt, err := config.ParseDailyAt(a.Config.Scheduler.DailyAt)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if a.Config.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Options{
			DailyAt:  dailyAt,
			Location: a.Config.Location(),
		}, scheduler.JobFunc(func(jobCtx context.Context) error {
			_, runErr := orchestrator.RunNow(jobCtx)
			return runErr
		}), a.Logger)

		group.Go(func() error {
			return sched.Run(groupCtx)
		})
	}

	if a.Config.HTTP.Enabled {
		server := httpapi.NewServer(httpapi.Options{Addr: a.Config.HTTP.Addr}, orchestrator, store, a.Logger)
		group.Go(func() error {
			return server.Run(groupCtx)
		})
	}

	if !a.Config.Scheduler.Enabled && !a.Config.HTTP.Enabled {
		return errors.New("nothing to run: scheduler and http are both disabled")
	}

	a.Logger.Info().Msg("starting sync service")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("sync service stopped")
	return nil
}

// SyncOptions configure a one-shot sync run.
type SyncOptions struct {
	// Timeout bounds the whole run; zero means no bound beyond signals.
	Timeout time.Duration
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Date  string
	Limit int
}

// ExportOptions hold parameters for exporting rate history.
type ExportOptions struct {
	CurrencyCode string
	From         *time.Time
	To           *time.Time
	CSVPath      string
	PNGPath      string
	MaxPoints    int
}
