package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/velmie/analytics"
	"github.com/velmie/analytics/analyticsfx"
	"github.com/velmie/analytics/internal/config"
	"github.com/velmie/analytics/internal/spool"
	"github.com/velmie/analytics/mysql"
	"github.com/velmie/analytics/prommetrics"
)

const (
	stopGrace         = 5 * time.Second
	defaultStopBudget = 30 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// newApp assembles the relay. The client stops after the tailer so every
// line read from the spool is flushed or archived.
func newApp(cfg *config.Config, writeKey string, logger *zap.Logger, replay int) fx.Option {
	stopBudget := cfg.Client.ShutdownTimeout
	if stopBudget <= 0 {
		stopBudget = defaultStopBudget
	}

	opts := []fx.Option{
		fx.StopTimeout(stopBudget + stopGrace),
		fx.Supply(cfg, logger),
		fx.Provide(newRegistry, newMetrics),
		analyticsfx.Module(writeKey, cfg.Client.ClientOptions()...),
	}
	if cfg.Archive.Enabled() {
		opts = append(opts,
			fx.Provide(openDB, newArchive, asDeadLetterSink),
			fx.Invoke(registerReplay(replay)),
			fx.Invoke(registerCleanup),
		)
	} else if replay > 0 {
		logger.Warn("replay requested but the archive is disabled", zap.Int("replay", replay))
	}
	if cfg.Metrics.Addr != "" {
		opts = append(opts, fx.Invoke(registerMetricsServer))
	}
	opts = append(opts, fx.Invoke(registerTailer))

	return fx.Options(opts...)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

func newMetrics(reg *prometheus.Registry, cfg *config.Config) (analytics.Metrics, error) {
	var opts []prommetrics.Option
	if cfg.Metrics.Namespace != "" {
		opts = append(opts, prommetrics.WithNamespace(cfg.Metrics.Namespace))
	}
	metrics, err := prommetrics.New(reg, opts...)
	if err != nil {
		return nil, err
	}

	return metrics, nil
}

func openDB(lc fx.Lifecycle, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.Archive.DSN())
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})

	return db, nil
}

func newArchive(db *sql.DB, cfg *config.Config, logger *zap.Logger) (*mysql.Archive, error) {
	return mysql.NewArchive(db,
		mysql.WithTable(cfg.Archive.Table),
		mysql.WithMaxReplays(cfg.Archive.MaxReplays),
		mysql.WithLogger(analytics.NewZapLogger(logger.Named("archive").Sugar())),
	)
}

func asDeadLetterSink(archive *mysql.Archive) analytics.DeadLetterSink {
	return archive
}

func registerReplay(limit int) func(fx.Lifecycle, *mysql.Archive, *analytics.Client, *zap.Logger) {
	return func(lc fx.Lifecycle, archive *mysql.Archive, client *analytics.Client, logger *zap.Logger) {
		if limit <= 0 {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				result, err := archive.Replay(ctx, client, limit)
				if err != nil {
					return fmt.Errorf("replay archive: %w", err)
				}
				logger.Info("archive replayed",
					zap.Int("replayed", result.Replayed),
					zap.Int("discarded", result.Discarded),
					zap.Int("remaining", result.Remaining))

				return nil
			},
		})
	}
}

func registerCleanup(lc fx.Lifecycle, db *sql.DB, cfg *config.Config, logger *zap.Logger) error {
	maintainer, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
		Table:            cfg.Archive.Table,
		Retention:        cfg.Archive.Retention,
		CheckEvery:       cfg.Archive.CleanupInterval,
		Limit:            cfg.Archive.CleanupLimit,
		IncludeDiscarded: true,
		Logger:           analytics.NewZapLogger(logger.Named("archive").Sugar()),
	})
	if err != nil {
		return err
	}
	runInBackground(lc, "archive cleanup", logger, maintainer.Run, nil)

	return nil
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen metrics: %w", err)
			}
			logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func registerTailer(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	client *analytics.Client,
	logger *zap.Logger,
) error {
	tailer, err := spool.NewTailer(cfg.Spool.Path, client.EnqueueContext,
		spool.WithFromStart(cfg.Spool.FromStart),
		spool.WithLogger(analytics.NewZapLogger(logger.Named("spool").Sugar())),
	)
	if err != nil {
		return err
	}

	runInBackground(lc, "spool tailer", logger, tailer.Run, func(err error) {
		stats := tailer.Stats()
		logger.Info("spool tailer stopped",
			zap.Int("accepted", stats.Accepted),
			zap.Int("invalid", stats.Invalid),
			zap.Int("rejected", stats.Rejected),
			zap.Error(err))
		if err != nil {
			_ = shutdowner.Shutdown(fx.ExitCode(1))
		}
	})

	return nil
}

// runInBackground starts fn on application start and cancels it on stop.
// done, when set, receives fn's result.
func runInBackground(
	lc fx.Lifecycle,
	name string,
	logger *zap.Logger,
	fn func(context.Context) error,
	done func(error),
) {
	var (
		cancel   context.CancelFunc
		finished chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			finished = make(chan struct{})
			go func() {
				defer close(finished)
				err := fn(ctx)
				if errors.Is(err, context.Canceled) {
					err = nil
				}
				if err != nil {
					logger.Error(name+" failed", zap.Error(err))
				}
				if done != nil {
					done(err)
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-finished:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", name, ctx.Err())
			}
		},
	})
}
