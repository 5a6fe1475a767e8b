package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mediaforge/mediaforge/internal/config"
	"github.com/mediaforge/mediaforge/internal/database"
	"github.com/mediaforge/mediaforge/internal/ffmpeg"
	internalhttp "github.com/mediaforge/mediaforge/internal/http"
	"github.com/mediaforge/mediaforge/internal/http/handlers"
	"github.com/mediaforge/mediaforge/internal/maintenance"
	"github.com/mediaforge/mediaforge/internal/observability"
	"github.com/mediaforge/mediaforge/internal/pipeline"
	"github.com/mediaforge/mediaforge/internal/profiles"
	"github.com/mediaforge/mediaforge/internal/repository"
	"github.com/mediaforge/mediaforge/internal/scheduler"
	"github.com/mediaforge/mediaforge/internal/startup"
	"github.com/mediaforge/mediaforge/internal/streamfilter"
	"github.com/mediaforge/mediaforge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mediaforge processing engine",
	Long: `Start the mediaforge HTTP server and job queue.

The server provides:
- Customer registration and media submission endpoints
- Progress and completed-file pull endpoints
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	applyLoggingFlags(cfg)
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	logger := observability.NewLogger(cfg.Logging)
	logger = observability.WithApp(logger, version.ApplicationName)
	observability.SetDefault(logger)

	if err := startup.Prepare(cfg.Storage, logger); err != nil {
		return err
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	records := repository.NewRecordRepository(db.DB)
	customers := repository.NewCustomerRepository(db.DB)

	catalog, err := profiles.LoadCatalog(cfg.Processing.CatalogPath)
	if err != nil {
		return fmt.Errorf("loading profile catalog: %w", err)
	}
	logger.Info("profile catalog loaded",
		slog.String("path", cfg.Processing.CatalogPath),
		slog.Int("profiles", catalog.Len()),
	)

	// Resolve both binaries now so a missing install fails the boot, not
	// the first job.
	if cfg.Processing.FFmpegPath, err = ffmpeg.FindBinary(cfg.Processing.FFmpegPath, "ffmpeg"); err != nil {
		return fmt.Errorf("locating ffmpeg: %w", err)
	}
	if cfg.Processing.FFprobePath, err = ffmpeg.FindBinary(cfg.Processing.FFprobePath, "ffprobe"); err != nil {
		return fmt.Errorf("locating ffprobe: %w", err)
	}
	logger.Info("transcode binaries located",
		slog.String("ffmpeg", cfg.Processing.FFmpegPath),
		slog.String("ffprobe", cfg.Processing.FFprobePath),
	)

	resolver := profiles.NewResolver(catalog, logger)
	filter := streamfilter.New(cfg.Processing.ExcludeFilter, logger)
	processor := pipeline.New(cfg.Processing, cfg.Storage, cfg.Category, resolver, filter, logger)

	board := scheduler.NewInfoBoard()
	sched := scheduler.New(records, processor, board, cfg.Processing.MaxConcurrentJobs, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.RestoreOnStartup(ctx); err != nil {
		return fmt.Errorf("restoring job queue: %w", err)
	}

	sweeper := maintenance.New(cfg.Maintenance, cfg.Storage, records, logger)
	if err := sweeper.Sweep(ctx); err != nil {
		logger.Warn("boot sweep failed", slog.String("error", err.Error()))
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("starting maintenance: %w", err)
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	handlers.NewHealthHandler(version.Version).WithDB(db).Register(server.API())
	handlers.NewRegisterHandler(customers, logger).Register(server.API())
	handlers.NewMediaHandler(sched, customers, cfg.Storage.PendingDir, cfg.Server.MaxUploadBytes, logger).Register(server.Router())
	handlers.NewPullHandler(records, board, logger).Register(server.Router())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("mediaforge started",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	// Stop taking requests first, then kill the encode subprocesses.
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	sched.Stop()
	sweeper.Stop()

	logger.Info("mediaforge stopped")
	return nil
}
