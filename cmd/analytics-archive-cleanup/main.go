// Command analytics-archive-cleanup removes old rows from the MySQL dead-letter archive.
//
// It wraps mysql.CleanupMaintainer for cron jobs when the relay itself
// should not run DELETE statements.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/velmie/analytics"
	"github.com/velmie/analytics/mysql"
)

const exitUsage = 2

type options struct {
	dsn              string
	table            string
	retention        time.Duration
	checkEvery       time.Duration
	limit            int
	lockName         string
	includeDiscarded bool
	once             bool
	verbose          bool
}

func main() {
	var opts options

	flag.StringVar(&opts.dsn, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flag.StringVar(&opts.table, "table", "analytics_dead_letters", "Archive table name")
	flag.DurationVar(&opts.retention, "retention", 0, "Delete rows older than this duration")
	flag.DurationVar(&opts.checkEvery, "check-every", time.Hour, "How often to run cleanup")
	flag.IntVar(&opts.limit, "limit", 0, "Max rows deleted per run (0 uses default)")
	flag.StringVar(&opts.lockName, "lock-name", "", "Advisory lock name (optional)")
	flag.BoolVar(&opts.includeDiscarded, "include-discarded", false, "Delete discarded rows as well")
	flag.BoolVar(&opts.once, "once", false, "Run once and exit")
	flag.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if opts.dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, analytics.NewZapLogger(logger.Sugar())); err != nil {
		logger.Error("archive cleanup failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	return cfg.Build()
}

func run(ctx context.Context, opts options, logger analytics.Logger) error {
	db, err := sql.Open("mysql", opts.dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	maintainer, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
		Table:            opts.table,
		Retention:        opts.retention,
		CheckEvery:       opts.checkEvery,
		Limit:            opts.limit,
		IncludeDiscarded: opts.includeDiscarded,
		LockName:         opts.lockName,
		Clock:            analytics.SystemClock{},
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	if opts.once {
		result, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("cleanup done", "replayed", result.Replayed, "discarded", result.Discarded)

		return nil
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}
