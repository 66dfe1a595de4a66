package replay

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/dialogkpi/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging initializes the global logger on stdout, teeing into logFile
// when one is given. The returned closer releases the file.
func SetupLogging(logFile, format string, verbose bool) (io.Closer, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	if err := logger.InitWithOptions(logger.Options{Format: format, Output: out}); err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return closer, nil
}

// Usage is printed by kpi-replay -help above the flag list.
const Usage = `Dialog KPI Replay
=================

Replays scripted login dialog page loads through the recorder and uploads
the resulting KPI records to a collector.

Usage:
  kpi-replay [options] <script.yaml>

Examples:
  # Replay against a local collector with a file backed slot
  kpi-replay -url http://localhost:9080 -store file -store-path /tmp/slot.cbor session.yaml

  # Deterministic sampling and compressed uploads
  kpi-replay -seed 7 -compression zstd session.yaml

Options:
`
