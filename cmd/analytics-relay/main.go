// Command analytics-relay tails an NDJSON spool of analytics actions and
// delivers them in batches to the ingestion endpoint.
//
// Failed actions are archived in MySQL when archive.dsn_env resolves to a
// DSN, and -replay re-enqueues archived failures on startup.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/velmie/analytics/internal/config"
)

const exitUsage = 2

var errWriteKeyMissing = errors.New("analytics-relay: write key is not set")

func main() {
	var (
		configPath string
		replay     int
		verbose    bool
	)

	flag.StringVar(&configPath, "config", "analytics-relay.yaml", "Path to the YAML config file")
	flag.IntVar(&replay, "replay", 0, "Replay up to N archived failures before tailing")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if replay < 0 {
		fmt.Fprintln(os.Stderr, "replay must not be negative")
		flag.Usage()
		os.Exit(exitUsage)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	writeKey := cfg.Client.WriteKey()
	if writeKey == "" {
		fmt.Fprintf(os.Stderr, "%v: export %s\n", errWriteKeyMissing, cfg.Client.WriteKeyEnv)
		os.Exit(exitUsage)
	}

	logger, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))}
		}),
		newApp(cfg, writeKey, logger, replay),
	)
	app.Run()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	return cfg.Build()
}
