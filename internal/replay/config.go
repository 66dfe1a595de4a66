package replay

import (
	"time"

	"github.com/okian/dialogkpi/internal/adapters/transport"
)

// Config holds configuration for a replay run.
type Config struct {
	CollectorURL    string                // Base URL of the collector
	StoreKind       string                // Durable slot kind: memory, file or sqlite
	StorePath       string                // File backing the slot for file and sqlite
	Workers         int                   // Upload workers
	QueueSize       int                   // Upload queue capacity
	Timeout         time.Duration         // Per request timeout for fetch and upload
	DecisionTimeout time.Duration         // How long a page waits for its sampling outcome
	Compression     transport.Compression // Upload body compression
	Seed            int64                 // Sampling coin seed; zero seeds from the clock
	LogFile         string                // Optional log file in addition to stdout
	Verbose         bool                  // Debug logging
}

// Stats holds replay statistics.
type Stats struct {
	Pages        int
	Sampled      int
	Disabled     int
	Undecided    int
	Resumed      int
	Events       int
	Tuples       int
	Uploaded     int
	UploadFailed int
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
}
