package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/pipeline"
	"github.com/mediaforge/mediaforge/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubRunner is a controllable pipeline stand-in.
type stubRunner struct {
	mu       sync.Mutex
	started  []string
	release  chan struct{} // jobs block here until closed (nil = instant)
	failWith error
}

func (r *stubRunner) CanProcess(category string) bool {
	return category == "series" || category == "movies"
}

func (r *stubRunner) Run(ctx context.Context, id string, order models.Order, onProgress pipeline.ProgressFunc) (*pipeline.Result, error) {
	r.mu.Lock()
	r.started = append(r.started, id)
	release := r.release
	r.mu.Unlock()

	if onProgress != nil {
		onProgress(50, 1500)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.failWith != nil {
		return nil, r.failWith
	}
	return &pipeline.Result{
		OutputDirectory: filepath.Join("/out", id),
		Files:           []string{filepath.Join("/out", id, "a.mkv")},
	}, nil
}

func (r *stubRunner) KillAll() {}

func (r *stubRunner) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func newTestRecords(t *testing.T) repository.RecordRepository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Record{}))
	return repository.NewRecordRepository(db)
}

func tempSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.mkv")
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	return path
}

func testOrder(sourcePath string) models.Order {
	return models.Order{
		Category:    "series",
		CustomerID:  "node-a",
		SourcePath:  sourcePath,
		DisplayName: "Episode",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduler_SubmitBadMediaType(t *testing.T) {
	s := New(newTestRecords(t), &stubRunner{}, NewInfoBoard(), 2, nil)
	defer s.Stop()

	result, _, err := s.Submit(context.Background(), models.Order{Category: "podcast", SourcePath: "/x"})
	require.NoError(t, err)
	assert.Equal(t, SubmitBadMediaType, result)
}

func TestScheduler_SubmitAndComplete(t *testing.T) {
	records := newTestRecords(t)
	runner := &stubRunner{}
	board := NewInfoBoard()
	s := New(records, runner, board, 2, nil)
	defer s.Stop()

	source := tempSource(t)
	ctx := context.Background()

	result, id, err := s.Submit(ctx, testOrder(source))
	require.NoError(t, err)
	assert.Equal(t, SubmitAccepted, result)
	assert.Equal(t, models.Fingerprint(source), id)

	// The record is persisted before Submit returns.
	rec, err := records.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)

	waitFor(t, func() bool {
		rec, err := records.GetByID(ctx, id)
		return err == nil && rec != nil && rec.State == models.StateCompleted
	})

	info := board.Snapshot("node-a")[id]
	assert.Equal(t, models.StatusCompleted, info.Status)
	assert.Equal(t, float64(100), info.Progress)

	// Consumed source is deleted.
	waitFor(t, func() bool {
		_, err := os.Stat(source)
		return os.IsNotExist(err)
	})
}

func TestScheduler_SubmitDuplicate(t *testing.T) {
	runner := &stubRunner{release: make(chan struct{})}
	s := New(newTestRecords(t), runner, NewInfoBoard(), 2, nil)

	source := tempSource(t)
	ctx := context.Background()

	result, id1, err := s.Submit(ctx, testOrder(source))
	require.NoError(t, err)
	require.Equal(t, SubmitAccepted, result)

	result, id2, err := s.Submit(ctx, testOrder(source))
	require.NoError(t, err)
	assert.Equal(t, SubmitAlreadyProcessing, result)
	assert.Equal(t, id1, id2)

	close(runner.release)
	s.Stop()
}

func TestScheduler_ResubmitAfterCompletion(t *testing.T) {
	records := newTestRecords(t)
	runner := &stubRunner{}
	s := New(records, runner, NewInfoBoard(), 2, nil)
	defer s.Stop()

	source := tempSource(t)
	ctx := context.Background()

	result, id, err := s.Submit(ctx, testOrder(source))
	require.NoError(t, err)
	require.Equal(t, SubmitAccepted, result)

	waitFor(t, func() bool {
		rec, err := records.GetByID(ctx, id)
		return err == nil && rec != nil && rec.State == models.StateCompleted
	})

	// Once the job has left the in-flight set, the same media may be
	// submitted again and is accepted, not reported as a duplicate.
	require.NoError(t, os.WriteFile(source, []byte("media"), 0o644))
	result, id2, err := s.Submit(ctx, testOrder(source))
	require.NoError(t, err)
	assert.Equal(t, SubmitAccepted, result)
	assert.Equal(t, id, id2)

	waitFor(t, func() bool { return runner.startedCount() == 2 })
}

func TestScheduler_FailureRemovesRecord(t *testing.T) {
	records := newTestRecords(t)
	runner := &stubRunner{failWith: errors.New("encoder exploded")}
	board := NewInfoBoard()
	s := New(records, runner, board, 2, nil)
	defer s.Stop()

	source := tempSource(t)
	ctx := context.Background()

	_, id, err := s.Submit(ctx, testOrder(source))
	require.NoError(t, err)

	waitFor(t, func() bool {
		rec, err := records.GetByID(ctx, id)
		return err == nil && rec == nil
	})

	info := board.Snapshot("node-a")[id]
	assert.Equal(t, models.StatusError, info.Status)
	assert.Contains(t, info.Reason, "encoder exploded")

	// Failed jobs discard their source too.
	waitFor(t, func() bool {
		_, err := os.Stat(source)
		return os.IsNotExist(err)
	})
}

func TestScheduler_ConcurrencyCeiling(t *testing.T) {
	records := newTestRecords(t)
	runner := &stubRunner{release: make(chan struct{})}
	s := New(records, runner, NewInfoBoard(), 2, nil)

	ctx := context.Background()
	for range 3 {
		result, _, err := s.Submit(ctx, testOrder(tempSource(t)))
		require.NoError(t, err)
		require.Equal(t, SubmitAccepted, result)
	}

	// Only the ceiling's worth of jobs start while they block.
	waitFor(t, func() bool { return runner.startedCount() == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, runner.startedCount())

	// Releasing the batch lets the third job through.
	close(runner.release)
	runner.mu.Lock()
	runner.release = nil
	runner.mu.Unlock()

	waitFor(t, func() bool { return runner.startedCount() == 3 })
	s.Stop()
}

func TestScheduler_RestoreOnStartup(t *testing.T) {
	records := newTestRecords(t)
	ctx := context.Background()

	source := tempSource(t)
	unfinished := &models.Record{
		ID:         models.Fingerprint(source),
		CustomerID: "node-a",
		Category:   "series",
		SourcePath: source,
		State:      models.StateProcessing,
	}
	_, err := records.CreateIfAbsent(ctx, unfinished)
	require.NoError(t, err)

	done := &models.Record{
		ID:         models.Fingerprint("/done.mkv"),
		CustomerID: "node-a",
		Category:   "series",
		SourcePath: "/done.mkv",
		State:      models.StateProcessing,
	}
	_, err = records.CreateIfAbsent(ctx, done)
	require.NoError(t, err)
	require.NoError(t, records.MarkCompleted(ctx, done.ID, "/out/done", []string{"/out/done/a.mkv"}))

	runner := &stubRunner{}
	board := NewInfoBoard()
	s := New(records, runner, board, 2, nil)
	defer s.Stop()

	require.NoError(t, s.RestoreOnStartup(ctx))

	// The completed record is visible on the board again at 100%.
	info := board.Snapshot("node-a")[done.ID]
	assert.Equal(t, models.StatusCompleted, info.Status)
	assert.Equal(t, float64(100), info.Progress)

	// The unfinished record is rerun from scratch.
	waitFor(t, func() bool {
		rec, err := records.GetByID(ctx, unfinished.ID)
		return err == nil && rec != nil && rec.State == models.StateCompleted
	})
}

func TestSpeedIndicator(t *testing.T) {
	current := time.Unix(1000, 0)
	s := newSpeedIndicator()
	s.now = func() time.Time { return current }

	assert.Zero(t, s.observe(10))

	current = current.Add(2 * time.Second)
	assert.InDelta(t, 5.0, s.observe(20), 0.001)

	current = current.Add(5 * time.Second)
	assert.InDelta(t, 2.0, s.observe(30), 0.001)

	// Progress never goes backwards in the report.
	current = current.Add(time.Second)
	assert.Zero(t, s.observe(25))
}
