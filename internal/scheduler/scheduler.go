// Package scheduler admits transcode orders into the persistent queue and
// drains it under a bounded concurrency ceiling. The persisted record set
// is the source of truth; restarts resume unfinished jobs from scratch.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/pipeline"
	"github.com/mediaforge/mediaforge/internal/repository"
)

// SubmitResult classifies the outcome of an admission attempt.
type SubmitResult string

const (
	// SubmitAccepted means the order was persisted and will be processed.
	SubmitAccepted SubmitResult = "success"
	// SubmitAlreadyProcessing means the same fingerprint is already queued.
	SubmitAlreadyProcessing SubmitResult = "already_processing"
	// SubmitBadMediaType means no processing rule exists for the category.
	SubmitBadMediaType SubmitResult = "bad_mediatype"
)

// Runner is the job execution dependency, satisfied by
// pipeline.Processor.
type Runner interface {
	CanProcess(category string) bool
	Run(ctx context.Context, id string, order models.Order, onProgress pipeline.ProgressFunc) (*pipeline.Result, error)
	KillAll()
}

// Scheduler owns the job queue.
type Scheduler struct {
	records   repository.RecordRepository
	processor Runner
	board     *InfoBoard
	logger    *slog.Logger

	maxConcurrent int

	mu      sync.Mutex
	running map[string]bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(records repository.RecordRepository, processor Runner, board *InfoBoard, maxConcurrent int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		records:       records,
		processor:     processor,
		board:         board,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		running:       make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit admits one order. The record is persisted before this returns
// SubmitAccepted, so a crash immediately afterwards still recovers the job.
func (s *Scheduler) Submit(ctx context.Context, order models.Order) (SubmitResult, string, error) {
	if !s.processor.CanProcess(order.Category) {
		return SubmitBadMediaType, "", nil
	}

	id := models.Fingerprint(order.SourcePath)
	record := &models.Record{
		ID:          id,
		CustomerID:  order.CustomerID,
		Category:    order.Category,
		SourcePath:  order.SourcePath,
		DisplayName: order.DisplayName,
		Config:      order.Config,
		State:       models.StateProcessing,
	}

	inserted, err := s.records.CreateIfAbsent(ctx, record)
	if err != nil {
		return "", "", err
	}
	if !inserted {
		return SubmitAlreadyProcessing, id, nil
	}

	s.logger.Info("order admitted",
		slog.String("id", id),
		slog.String("customer", order.CustomerID),
		slog.String("category", order.Category),
	)
	s.drain()
	return SubmitAccepted, id, nil
}

// RestoreOnStartup reconciles the board and queue with the store: completed
// records become pullable again and unfinished records re-enter the drain
// loop from scratch.
func (s *Scheduler) RestoreOnStartup(ctx context.Context) error {
	completed, err := s.records.ListCompleted(ctx)
	if err != nil {
		return err
	}
	for _, record := range completed {
		s.board.SetCompleted(record.CustomerID, record.ID)
	}

	inFlight, err := s.records.ListInFlight(ctx)
	if err != nil {
		return err
	}
	if len(inFlight) > 0 || len(completed) > 0 {
		s.logger.Info("restored persisted state",
			slog.Int("unfinished", len(inFlight)),
			slog.Int("completed", len(completed)),
		)
	}
	s.drain()
	return nil
}

// drain launches unclaimed persisted jobs until the concurrency ceiling is
// reached. Each finished job re-enters drain, so the loop keeps making
// progress without a polling thread.
func (s *Scheduler) drain() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	capacity := s.maxConcurrent - len(s.running)
	s.mu.Unlock()
	if capacity <= 0 {
		return
	}

	inFlight, err := s.records.ListInFlight(s.ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("scanning in-flight set", slog.String("error", err.Error()))
		}
		return
	}

	for _, record := range inFlight {
		s.mu.Lock()
		if s.closed || len(s.running) >= s.maxConcurrent {
			s.mu.Unlock()
			return
		}
		if s.running[record.ID] {
			s.mu.Unlock()
			continue
		}
		s.running[record.ID] = true
		s.wg.Add(1)
		s.mu.Unlock()

		go s.runJob(record)
	}
}

// runJob executes one job and settles its record.
func (s *Scheduler) runJob(record *models.Record) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, record.ID)
		s.mu.Unlock()
		s.drain()
	}()

	order := record.Order()
	speed := newSpeedIndicator()
	onProgress := func(percent float64, frame int64) {
		s.board.SetProcessing(order.CustomerID, record.ID, percent, speed.observe(percent))
	}

	result, err := s.processor.Run(s.ctx, record.ID, order, onProgress)
	if err != nil {
		s.settleFailure(record, err)
		return
	}
	s.settleSuccess(record, result)
}

func (s *Scheduler) settleSuccess(record *models.Record, result *pipeline.Result) {
	if err := s.records.MarkCompleted(s.ctx, record.ID, result.OutputDirectory, result.Files); err != nil {
		s.logger.Error("persisting completion",
			slog.String("id", record.ID),
			slog.String("error", err.Error()),
		)
		s.board.SetError(record.CustomerID, record.ID, "failed to persist completion")
		return
	}

	s.board.SetCompleted(record.CustomerID, record.ID)
	s.removeSource(record)
	s.logger.Info("job completed",
		slog.String("id", record.ID),
		slog.Int("files", len(result.Files)),
	)
}

func (s *Scheduler) settleFailure(record *models.Record, runErr error) {
	if errors.Is(runErr, context.Canceled) {
		// Shutdown, not failure. The record stays in-flight and is
		// restarted from scratch on the next boot.
		return
	}

	s.logger.Error("job failed",
		slog.String("id", record.ID),
		slog.String("error", runErr.Error()),
	)
	s.board.SetError(record.CustomerID, record.ID, runErr.Error())

	// A failed job never retries: drop it from the queue and discard the
	// source, mirroring the success path's cleanup.
	if err := s.records.Delete(s.ctx, record.ID); err != nil {
		s.logger.Error("removing failed record", slog.String("id", record.ID), slog.String("error", err.Error()))
	}
	s.removeSource(record)
}

// removeSource deletes the consumed upload from the pending directory.
func (s *Scheduler) removeSource(record *models.Record) {
	if err := os.Remove(record.SourcePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing source file",
			slog.String("path", record.SourcePath),
			slog.String("error", err.Error()),
		)
	}
}

// Board returns the status surface the delivery endpoints read.
func (s *Scheduler) Board() *InfoBoard {
	return s.board
}

// Stop shuts the queue down: no new launches, every in-flight subprocess
// killed, all job goroutines joined.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.processor.KillAll()
	s.wg.Wait()
}
