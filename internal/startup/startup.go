// Package startup prepares the working environment before the engine
// accepts work.
package startup

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mediaforge/mediaforge/internal/config"
)

// Prepare creates the working directories. Called once at boot, before
// restore and before the HTTP server starts.
func Prepare(storage config.StorageConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, dir := range []string{storage.PendingDir, storage.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating working directory %s: %w", dir, err)
		}
	}

	logger.Info("working directories ready",
		slog.String("pending", storage.PendingDir),
		slog.String("output", storage.OutputDir),
	)
	return nil
}
