package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/dialogkpi/internal/adapters/http/api"
	"github.com/okian/dialogkpi/internal/adapters/http/swagger"
	"github.com/okian/dialogkpi/internal/adapters/repository"
	service "github.com/okian/dialogkpi/internal/app"
	"github.com/okian/dialogkpi/internal/config"
	"github.com/okian/dialogkpi/pkg/logger"
	"github.com/okian/dialogkpi/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	intakeMetricsInterval = 5 * time.Second
)

func main() {
	// The custom registry carries our own system gauges instead.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger is not available yet.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("collector")

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	intake, err := buildIntake(ctx, cfg, log)
	if err != nil {
		log.Fatal(ctx, "failed to open record sink", logger.Error(err))
	}
	defer func() {
		if err := intake.Close(); err != nil {
			log.Error(ctx, "failed to close record sink", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)
	go startIntakeMetricsUpdater(ctx, intake)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, intake),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.Float64("data_sample_rate", cfg.DataSampleRate),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// buildIntake opens the configured record sink and wraps it in an Intake.
func buildIntake(ctx context.Context, cfg *config.Config, log logger.Logger) (*service.Intake, error) {
	var sink repository.Sink
	if cfg.SinkPath != "" {
		s, err := repository.NewSQLiteSink(ctx, cfg.SinkPath)
		if err != nil {
			return nil, err
		}
		sink = s
	}
	return service.NewIntake(sink,
		service.WithSampleRate(cfg.DataSampleRate),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithIntakeLogger(log.Named("intake")),
	), nil
}

// newMux registers the API docs and the collector routes.
func newMux(ctx context.Context, intake *service.Intake) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(intake).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater periodically refreshes the system gauges.
func startSystemMetricsUpdater(ctx context.Context) {
	if !metrics.Enabled() {
		return
	}
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startIntakeMetricsUpdater periodically refreshes the stored-records gauge.
func startIntakeMetricsUpdater(ctx context.Context, intake *service.Intake) {
	ticker := time.NewTicker(intakeMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats refreshes the gauge as a side effect.
			_ = intake.GetStats()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
