package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rxtech-lab/argo-live/internal/broker/alpaca"
	"github.com/rxtech-lab/argo-live/internal/config"
	"github.com/rxtech-lab/argo-live/internal/control"
	"github.com/rxtech-lab/argo-live/internal/dashboard"
	"github.com/rxtech-lab/argo-live/internal/logger"
	"github.com/rxtech-lab/argo-live/internal/marketstream"
	"github.com/rxtech-lab/argo-live/internal/storage"
	"github.com/rxtech-lab/argo-live/internal/trading/engine"
	enginev1 "github.com/rxtech-lab/argo-live/internal/trading/engine/engine_v1"
	"github.com/rxtech-lab/argo-live/internal/types"
	"github.com/rxtech-lab/argo-live/internal/version"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// runAction wires the live core from the configuration file and runs it
// until a signal, a control stop or a fatal error.
func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	if err := cfg.CheckVersion(version.GetVersion()); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	lock, err := control.Acquire(cfg.LockPath(), cfg.SocketPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	baseURL, streamURL := cfg.BrokerURLs()
	client := alpaca.New(log, alpaca.Config{
		BaseURL:     baseURL,
		StreamURL:   streamURL,
		KeyID:       cfg.Broker.KeyID,
		SecretKey:   cfg.Broker.SecretKey,
		Timeout:     cfg.HTTPTimeout,
		ReadRetries: cfg.Broker.ReadRetries,
		Location:    cfg.Location(),
	})

	account, err := client.Account(ctx)
	if err != nil {
		return fmt.Errorf("failed to read the broker account: %w", err)
	}

	store, err := storage.Open(log, storage.Options{
		Path:          cfg.DBPath(),
		User:          cfg.User,
		Account:       account.ID,
		RetryAttempts: cfg.DBRetryAttempts,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	core, err := enginev1.NewLiveCoreV1(cfg, enginev1.Dependencies{
		Broker: client,
		Store:  store,
		Dialer: marketstream.NewPolygonDialer(cfg.MarketData.APIKey, cfg.Feed()),
		Logger: log,
	})
	if err != nil {
		return err
	}

	server := control.NewServer(log, core, cfg.SocketPath(), lock.Info().Token, cfg.GracefulStopBudget+10*time.Second)
	if err := server.Start(); err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("control server shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	callbacks := newCallbacks(log)

	if cfg.Dashboard {
		dashCtx, cancelDash := context.WithCancel(ctx)
		dash := dashboard.New(dashCtx, core.Bus(), cfg.Symbols)
		attachDashboard(&callbacks, dash)

		dashDone := make(chan struct{})
		go func() {
			defer close(dashDone)

			if err := dash.Run(); err != nil && dashCtx.Err() == nil {
				log.Warn("dashboard stopped", zap.Error(err))
			}

			// quitting the dashboard stops the live core
			if dashCtx.Err() == nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulStopBudget+10*time.Second)
				defer cancel()

				_ = core.Stop(stopCtx)
			}
		}()

		defer func() {
			cancelDash()
			<-dashDone
		}()
	}

	log.Info("starting live core",
		zap.String("version", version.GetVersion()),
		zap.String("environment", string(cfg.Environment)),
		zap.String("account", account.ID),
		zap.Strings("symbols", cfg.Symbols),
		zap.Int("pid", lock.Info().PID),
	)

	if err := core.Run(ctx, callbacks); err != nil {
		log.Error("live core stopped with error", zap.Error(err))

		return err
	}

	log.Info("live core stopped")

	return nil
}

func newLogger(cfg config.Config) (*logger.Logger, error) {
	if cfg.Dashboard {
		// the dashboard owns the terminal
		return logger.NewLoggerWithOutput(cfg.LogLevel, filepath.Join(cfg.DataDir, "live.log"))
	}

	return logger.NewLoggerWithLevel(cfg.LogLevel)
}

func newCallbacks(log *logger.Logger) engine.Callbacks {
	onStart := engine.OnSessionStartCallback(func(sessionDate string, symbols []string, runPath string) error {
		log.Info("session started",
			zap.String("session_date", sessionDate),
			zap.Strings("symbols", symbols),
			zap.String("run_path", runPath),
		)

		return nil
	})
	onEnd := engine.OnSessionEndCallback(func(stats types.SessionStats) {
		log.Info("session ended",
			zap.String("session_date", stats.Date),
			zap.Int("orders_submitted", stats.Orders.Submitted),
			zap.Int("fills", stats.Fills),
			zap.Float64("traded_notional", stats.TradedNotional),
		)
	})

	return engine.Callbacks{
		OnSessionStart: &onStart,
		OnSessionEnd:   &onEnd,
	}
}

func attachDashboard(callbacks *engine.Callbacks, dash *dashboard.Dashboard) {
	onStatus := engine.OnStatusUpdateCallback(func(state engine.State) {
		dash.Send(dashboard.StateMsg{State: state})
	})
	onError := engine.OnErrorCallback(func(err error) {
		dash.Send(dashboard.ErrorMsg{Err: err})
	})

	callbacks.OnStatusUpdate = &onStatus
	callbacks.OnError = &onError
}
