package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinAlloc/internal/domain/repository"
	"FinAlloc/internal/usecase"
	"FinAlloc/pkg/cache"
	pkgch "FinAlloc/pkg/clickhouse"
	"FinAlloc/pkg/config"
	xhttp "FinAlloc/pkg/http"
	pkgkafka "FinAlloc/pkg/kafka"
	applogger "FinAlloc/pkg/logger"
	"FinAlloc/pkg/queue"
	"FinAlloc/pkg/util"
)

// App encapsulates the application lifecycle for every run mode.
type App struct {
	Cfg       *config.Config
	Log       *applogger.Logger
	Runner    *usecase.BacktestRunner
	Trader    *usecase.LiveTrader
	Collector *usecase.QuoteCollector
	Queue     queue.Queue
	Consumer  *pkgkafka.Consumer
	Handlers  []pkgkafka.MessageHandler
	HTTP      xhttp.Handler
	Publisher repository.EventPublisher
	CH        *pkgch.Client
	Cache     cache.Service

	server   *xhttp.Server
	consumed bool
	out      io.Writer
}

// Run executes mode until it finishes or the process receives SIGINT/SIGTERM.
func (a *App) Run(mode string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.Log == nil {
		a.Log = applogger.Nop()
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if d := a.Cfg.Logger.Digest; d.Enabled && a.Publisher != nil {
		a.Log.AttachDigest(&applogger.DigestConfig{
			Interval:       d.Interval,
			CountThreshold: d.CountThreshold,
			Topic:          d.Topic,
			Publisher:      a.Publisher,
		})
	}

	var err error
	switch mode {
	case "backtest":
		err = a.runBacktest(ctx)
	case "live":
		err = a.runLive(ctx)
	case "serve":
		err = a.runServe(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if serr := a.shutdown(); serr != nil && err == nil {
		err = serr
	}
	return err
}

func (a *App) runBacktest(ctx context.Context) error {
	to := util.ParseTimeDefault(a.Cfg.Backtest.End, time.Now().UTC())
	from := util.ParseTimeDefault(a.Cfg.Backtest.Start, to.AddDate(-3, 0, 0))

	report, err := a.Runner.Run(ctx, from, to, a.Cfg.Backtest.InitialEquity)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report.Summary.Finite())
}

func (a *App) runLive(ctx context.Context) error {
	if err := a.startConsumer(ctx); err != nil {
		return err
	}
	if a.Collector != nil {
		if err := a.Collector.Start(ctx); err != nil {
			a.Log.Warn("quote collector unavailable, using daily closes", applogger.Error(err))
		} else {
			a.Log.Info("quote collector started", applogger.Strings("symbols", a.Cfg.Data.Symbols))
		}
	}
	return a.Trader.Run(ctx)
}

func (a *App) runServe(ctx context.Context) error {
	if err := a.Queue.Start(); err != nil {
		return fmt.Errorf("queue start: %w", err)
	}
	if err := a.startConsumer(ctx); err != nil {
		return err
	}

	opts := []xhttp.ServerOption{
		xhttp.WithHost(a.Cfg.Server.Host),
		xhttp.WithPort(a.Cfg.Server.Port),
		xhttp.WithTimeouts(a.Cfg.Server.ReadTimeout, a.Cfg.Server.WriteTimeout, a.Cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true),
	}
	if a.Cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(a.Cfg.Metrics.Path))
	}
	a.server = xhttp.NewServer(a.HTTP, a.Log, opts...)

	select {
	case err := <-a.server.Start():
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		a.Log.Info("shutdown signal received")
	}
	return nil
}

func (a *App) startConsumer(ctx context.Context) error {
	if a.Consumer == nil || len(a.Handlers) == 0 {
		return nil
	}
	for _, h := range a.Handlers {
		a.Consumer.RegisterHandler(h)
	}
	if err := a.Consumer.Start(ctx); err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	a.consumed = true
	return nil
}

// shutdown stops services in reverse start order and closes the clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Collector != nil {
		if err := a.Collector.Shutdown(); err != nil {
			a.Log.Warn("quote collector stop error", applogger.Error(err))
		}
	}
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue stop: %w", err))
		}
	}
	if a.consumed {
		if err := a.Consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer stop: %w", err))
		}
	}

	// digest flushes through the publisher, so detach before the producer closes
	a.Log.DetachDigest()
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.CH != nil {
		if err := a.CH.Close(); err != nil {
			a.Log.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.Log.Info("shutdown complete")
	return errors.Join(errs...)
}
