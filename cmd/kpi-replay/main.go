package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/dialogkpi/internal/adapters/transport"
	"github.com/okian/dialogkpi/internal/config"
	"github.com/okian/dialogkpi/internal/replay"
	"github.com/okian/dialogkpi/pkg/logger"
	"github.com/spf13/pflag"
)

const (
	defaultDecisionTimeout = 10 * time.Second
	defaultRunTimeout      = 10 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	// Flags default to the koanf-loaded config so DIALOGKPI_* and the config
	// file still apply; explicit flags win.
	cfg, err := config.Load(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}

	fs := pflag.NewFlagSet("kpi-replay", pflag.ContinueOnError)
	var (
		baseURL     = fs.String("url", cfg.CollectorURL, "Base URL of the collector")
		storeKind   = fs.String("store", cfg.StoreKind, "Durable slot kind: memory, file or sqlite")
		storePath   = fs.String("store-path", cfg.StorePath, "File backing the durable slot")
		workers     = fs.Int("workers", cfg.WorkerCount, "Number of upload workers")
		queueSize   = fs.Int("queue-size", cfg.QueueSize, "Upload queue capacity")
		timeout     = fs.Duration("timeout", cfg.UploadTimeout(), "Per request timeout")
		decision    = fs.Duration("decision-timeout", defaultDecisionTimeout, "How long a page waits for its sampling outcome")
		compression = fs.String("compression", cfg.UploadCompression, "Upload compression: none or zstd")
		seed        = fs.Int64("seed", 0, "Sampling seed; 0 seeds from the clock")
		logFile     = fs.String("log", "", "Also write logs to this file")
		verbose     = fs.BoolP("verbose", "v", false, "Enable debug logging")
		help        = fs.BoolP("help", "h", false, "Show help")
	)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, replay.Usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if *help {
		fs.Usage()
		return 0
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	comp, err := transport.ParseCompression(*compression)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	closer, err := replay.SetupLogging(*logFile, cfg.LogFormat, *verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to setup logging:", err)
		return 1
	}
	defer func() { _ = closer.Close() }()
	if !*verbose {
		_ = logger.SetLevelString(cfg.LogLevel)
	}
	log := logger.Named("replay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	script, err := replay.LoadScript(fs.Arg(0))
	if err != nil {
		log.Error(ctx, "cannot load script", logger.String("path", fs.Arg(0)), logger.Error(err))
		return 1
	}

	runner := replay.NewRunner(&replay.Config{
		CollectorURL:    *baseURL,
		StoreKind:       *storeKind,
		StorePath:       *storePath,
		Workers:         *workers,
		QueueSize:       *queueSize,
		Timeout:         *timeout,
		DecisionTimeout: *decision,
		Compression:     comp,
		Seed:            *seed,
		LogFile:         *logFile,
		Verbose:         *verbose,
	}, log)

	stats, err := runner.Run(ctx, script)
	if stats != nil {
		replay.Summary(os.Stdout, stats)
	}
	if err != nil {
		log.Error(ctx, "replay failed", logger.Error(err))
		return 1
	}
	return 0
}
