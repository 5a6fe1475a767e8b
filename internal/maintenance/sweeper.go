// Package maintenance removes working files orphaned by crashes: stale
// pending uploads no job will ever consume and output directories whose
// records are gone from the store.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mediaforge/mediaforge/internal/config"
	"github.com/mediaforge/mediaforge/internal/repository"
	"github.com/robfig/cron/v3"
)

// Sweeper runs the orphan sweep, either once or on a cron schedule.
type Sweeper struct {
	cfg     config.MaintenanceConfig
	storage config.StorageConfig
	records repository.RecordRepository
	logger  *slog.Logger

	cron *cron.Cron
	now  func() time.Time
}

// New creates a sweeper.
func New(cfg config.MaintenanceConfig, storage config.StorageConfig, records repository.RecordRepository, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:     cfg,
		storage: storage,
		records: records,
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules the sweep with the configured cron expression. The
// expression carries a seconds field.
func (s *Sweeper) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("maintenance sweep disabled")
		return nil
	}

	s.cron = cron.New(cron.WithSeconds())
	_, err := s.cron.AddFunc(s.cfg.Cron, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("scheduled sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep %q: %w", s.cfg.Cron, err)
	}

	s.cron.Start()
	s.logger.Info("maintenance sweep scheduled", slog.String("cron", s.cfg.Cron))
	return nil
}

// Stop halts the cron schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep removes stale pending uploads and orphaned output directories.
func (s *Sweeper) Sweep(ctx context.Context) error {
	inFlight, err := s.records.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("listing in-flight records: %w", err)
	}
	completed, err := s.records.ListCompleted(ctx)
	if err != nil {
		return fmt.Errorf("listing completed records: %w", err)
	}

	liveSources := make(map[string]bool, len(inFlight))
	liveIDs := make(map[string]bool, len(inFlight)+len(completed))
	for _, r := range inFlight {
		liveSources[r.SourcePath] = true
		liveIDs[r.ID] = true
	}
	for _, r := range completed {
		liveIDs[r.ID] = true
	}

	s.sweepPending(liveSources)
	s.sweepOutputs(liveIDs)
	return nil
}

// sweepPending deletes unreferenced pending uploads older than the
// configured maximum age. Uploads still named by an in-flight record are
// left alone regardless of age.
func (s *Sweeper) sweepPending(liveSources map[string]bool) {
	entries, err := os.ReadDir(s.storage.PendingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading pending directory failed", slog.String("error", err.Error()))
		}
		return
	}

	cutoff := s.now().Add(-s.cfg.PendingMaxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.storage.PendingDir, entry.Name())
		if liveSources[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("removing stale upload failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("removed stale upload",
			slog.String("path", path),
			slog.Time("modified", info.ModTime()),
		)
	}
}

// sweepOutputs deletes output directories that no stored record references.
// Directory names are job fingerprints; anything else in the output root is
// foreign and also removed.
func (s *Sweeper) sweepOutputs(liveIDs map[string]bool) {
	entries, err := os.ReadDir(s.storage.OutputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading output directory failed", slog.String("error", err.Error()))
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if liveIDs[entry.Name()] {
			continue
		}
		path := filepath.Join(s.storage.OutputDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("removing orphaned output directory failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("removed orphaned output directory", slog.String("path", path))
	}
}
