// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and the environment over the defaults.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"runtime"
	"time"
)

// Store kinds accepted by StoreKind.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config contains process configuration for both the collector and the replay tool.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the collector HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory upload queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of upload workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the collector's seen record-ID cache.
	DedupeSize int `koanf:"dedupe_size"`

	// DataSampleRate is the probability served to dialogs by GET /session.
	DataSampleRate float64 `koanf:"data_sample_rate"`

	// SinkPath is the SQLite file the collector archives received records to.
	// Empty keeps received records in memory.
	SinkPath string `koanf:"sink_path"`

	// StoreKind selects the dialog-side durable slot: memory, file or sqlite.
	StoreKind string `koanf:"store_kind"`

	// StorePath is the file backing the durable slot for file and sqlite kinds.
	StorePath string `koanf:"store_path"`

	// CollectorURL is the base URL dialogs fetch session context from and upload to.
	CollectorURL string `koanf:"collector_url"`

	// UploadTimeoutMS bounds a single upload or session-context request.
	UploadTimeoutMS int `koanf:"upload_timeout_ms"`

	// UploadCompression is "none" or "zstd".
	UploadCompression string `koanf:"upload_compression"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		QueueSize:         1_024,
		WorkerCount:       runtime.NumCPU(),
		DedupeSize:        500_000,
		DataSampleRate:    0.1,
		SinkPath:          "",
		StoreKind:         StoreFile,
		StorePath:         "dialogkpi-slot.cbor",
		CollectorURL:      "http://localhost:9080",
		UploadTimeoutMS:   5_000,
		UploadCompression: "none",
	}
}

// UploadTimeout returns UploadTimeoutMS as a duration.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutMS) * time.Millisecond
}
