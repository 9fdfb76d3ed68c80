// Package app wires the store, calculators, workflow service and outer
// surfaces into one running process.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/api"
	"github.com/vitanips/vitanips-core/internal/config"
	"github.com/vitanips/vitanips-core/internal/cron"
	"github.com/vitanips/vitanips-core/internal/metrics"
	"github.com/vitanips/vitanips-core/internal/notify"
	"github.com/vitanips/vitanips-core/internal/payments"
	"github.com/vitanips/vitanips-core/internal/rates"
	"github.com/vitanips/vitanips-core/internal/store"
	"github.com/vitanips/vitanips-core/internal/workflow"
)

type App struct {
	Config     *config.Config
	Store      *store.Store
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Rates      *rates.Holder
	Service    *workflow.Service
	Hub        *notify.Hub
	Dispatcher *notify.Dispatcher
	CronRunner *cron.Runner
	Server     *api.Server
	Version    string

	watcher *rates.Watcher
	cancel  context.CancelFunc
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) (*App, error) {
	app := &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Metrics: metrics.Default(),
		Rates:   rates.NewHolder(rates.Default()),
		Version: version,
	}

	if path := cfg.Billing.RatesFile; path != "" {
		if cfg.Billing.WatchRates {
			w, err := rates.NewWatcher(path, app.Rates, logger)
			if err != nil {
				return nil, err
			}
			app.watcher = w
		} else {
			book, err := rates.LoadFile(path)
			if err != nil {
				return nil, err
			}
			app.Rates.Swap(book)
		}
		logger.Info("Rate tables loaded", zap.String("path", path))
	}

	gateway := payments.NewHTTPGateway(payments.GatewayConfig{
		BaseURL:         cfg.Gateway.BaseURL,
		SecretKey:       cfg.Gateway.SecretKey,
		Timeout:         time.Duration(cfg.Gateway.Timeout) * time.Second,
		RequestsPerSec:  cfg.Gateway.RequestsPerSec,
		Burst:           cfg.Gateway.Burst,
		BreakerFailures: cfg.Gateway.BreakerFailures,
		BreakerOpen:     time.Duration(cfg.Gateway.BreakerOpenSecs) * time.Second,
	}, logger)

	app.Service = workflow.New(st, app.Rates, gateway, workflow.Options{
		Currency:               cfg.Billing.Currency,
		PrescriptionValidDays:  cfg.Billing.PrescriptionValidDays,
		FreeFollowUpDays:       cfg.Billing.FreeFollowUpDays,
		DefaultAppointmentMins: cfg.Billing.DefaultAppointmentMins,
		NoShowGrace:            time.Duration(cfg.Cron.NoShowGraceMinutes) * time.Minute,
	}, logger)
	app.Service.SetRecorder(app.Metrics)

	app.Hub = notify.NewHub(logger)
	app.Hub.OnConnection(app.Metrics.SocketOpened, app.Metrics.SocketClosed)

	if cfg.Notify.Enabled {
		app.Service.SetNotifier(notify.NewPublisher(st))
		app.Dispatcher = notify.NewDispatcher(st, notify.DispatcherConfig{
			RatePerSecond: cfg.Notify.RatePerSecond,
			Burst:         cfg.Notify.Burst,
			PollInterval:  time.Duration(cfg.Notify.PollIntervalMs) * time.Millisecond,
			IsEmpty:       func(err error) bool { return errors.Is(err, store.ErrQueueEmpty) },
		}, logger, app.Hub, notify.NewLogSender(logger))
		app.Dispatcher.SetRecorder(app.Metrics)
	}

	if cfg.Cron.Enabled {
		app.CronRunner = cron.NewRunner(logger)
		app.CronRunner.SetRecorder(app.Metrics)
		if err := app.CronRunner.AddSweeps(app.Service, cfg.Cron); err != nil {
			return nil, err
		}
	}

	app.Server = api.New(cfg, st, app.Service, app.Hub, app.Metrics, logger, version)
	return app, nil
}

// Start launches the background workers: rate watcher, notification
// dispatcher and cron sweeps
func (app *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	if app.watcher != nil {
		go app.watcher.Run(ctx)
	}
	if app.Dispatcher != nil {
		go app.Dispatcher.Run(ctx)
	}
	if app.CronRunner != nil {
		if err := app.CronRunner.Start(); err != nil {
			cancel()
			return err
		}
	}
	return nil
}

// Stop halts the background workers
func (app *App) Stop() {
	if app.CronRunner != nil {
		app.CronRunner.Stop()
	}
	if app.cancel != nil {
		app.cancel()
	}
}

// RunServer serves HTTP until SIGINT or SIGTERM
func (app *App) RunServer() {
	if err := app.Start(); err != nil {
		app.Logger.Fatal("Failed to start workers", zap.Error(err))
	}

	go func() {
		if err := app.Server.Start(); err != nil {
			app.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("version", app.Version),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info("Shutting down...")

	if err := app.Server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}
	app.Stop()
}
