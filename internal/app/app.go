package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"NewsCurator/internal/config"
	infrascrape "NewsCurator/internal/infrastructure/scrape"
	"NewsCurator/internal/infrastructure/scheduler"
	"NewsCurator/internal/infrastructure/storage"
	"NewsCurator/internal/infrastructure/telegram"
	"NewsCurator/internal/logging"
	"NewsCurator/internal/ports"
	"NewsCurator/internal/scrape"
	"NewsCurator/internal/server"
	"NewsCurator/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Application wires configuration to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db        *sqlx.DB
	discovery *usecase.Discovery
	processor *usecase.Processor
	driver    ports.Scheduler
	httpSrv   *http.Server
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	queue := storage.NewQueueRepository(db)
	articles := storage.NewArticleRepository(db)
	sources := storage.NewSourceRepository(db)
	categories := storage.NewCategoryRepository(db)
	history := storage.NewHistoryRepository(db)

	registry := scrape.NewRegistry()
	registry.Register(infrascrape.NewHTMLStrategy(nil))

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	discovery := usecase.NewDiscovery(usecase.DiscoveryDeps{
		Registry:      registry,
		Categories:    categories,
		Queue:         queue,
		History:       history,
		Notifier:      notifier,
		Logger:        baseLogger.With("component", "discovery"),
		Order:         cfg.Scheduler.Order,
		LastRunPolicy: cfg.Scheduler.LastRunPolicy,
		Budget:        cfg.Scheduler.Budget,
	})

	processor := usecase.NewProcessor(usecase.ProcessorDeps{
		Queue:        queue,
		Articles:     articles,
		Sources:      sources,
		Registry:     registry,
		History:      history,
		Notifier:     notifier,
		Logger:       baseLogger.With("component", "processor"),
		MaxAttempts:  cfg.Worker.MaxAttempts,
		Concurrency:  cfg.Worker.Concurrency,
		ItemTimeout:  cfg.Worker.ItemTimeout.Duration,
		LeaseTimeout: cfg.Worker.LeaseTimeout.Duration,
		HardCap:      cfg.Worker.HardCap,
	})

	srv := server.New(server.Deps{
		Processor:  processor,
		Discovery:  discovery,
		Queue:      queue,
		Sources:    sources,
		History:    history,
		Logger:     baseLogger.With("component", "server"),
		BatchLimit: cfg.Worker.BatchLimit,
	})

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		db:        db,
		discovery: discovery,
		processor: processor,
		driver:    scheduler.NewIntervalScheduler(cfg.Scheduler.Interval.Duration),
		httpSrv: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run starts the recurring pipeline and the administrative HTTP surface,
// blocking until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	job := func(trigger time.Time) {
		if _, err := a.discovery.RunPass(ctx, trigger); err != nil {
			a.logger.Error("discovery pass failed", "error", err)
		}
		if _, err := a.processor.ProcessAllPending(ctx, a.cfg.Worker.BatchLimit, ""); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("processing pass failed", "error", err)
		}
	}

	if err := a.driver.Start(ctx, job); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("admin server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("admin server: %w", err)
	}

	return a.shutdown()
}

func (a *Application) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.driver.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop failed", "error", err)
	}

	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", "error", err)
	}

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}

	return nil
}
