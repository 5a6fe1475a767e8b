package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mediaforge/mediaforge/internal/http/handlers"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/repository"
	"github.com/mediaforge/mediaforge/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Customer{}, &models.Record{}))
	return db
}

// stubSubmitter records submitted orders without running anything.
type stubSubmitter struct {
	mu     sync.Mutex
	orders []models.Order
	result scheduler.SubmitResult
}

func (s *stubSubmitter) Submit(ctx context.Context, order models.Order) (scheduler.SubmitResult, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	return s.result, models.Fingerprint(order.SourcePath), nil
}

func (s *stubSubmitter) submitted() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Order(nil), s.orders...)
}

func registerCustomer(t *testing.T, customers repository.CustomerRepository, id string, categories ...string) {
	t.Helper()
	cfg := models.CategoryConfigMap{}
	for _, cat := range categories {
		cfg[cat] = models.CustomerConfig{
			Outputs: models.OutputSelection{Mode: models.SelectionAlways, Names: []string{"1080p"}},
		}
	}
	require.NoError(t, customers.Upsert(context.Background(), &models.Customer{ID: id, Config: cfg}))
}

func TestRegisterHandler(t *testing.T) {
	db := setupDB(t)
	customers := repository.NewCustomerRepository(db)

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handlers.NewRegisterHandler(customers, testLogger()).Register(api)

	body := `{"series": {"outputs": {"mode": "first", "names": ["1080p", "720p"]}, "filters": {}}}`
	req := httptest.NewRequest("POST", "/register/node-a", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	found, err := customers.GetByID(context.Background(), "node-a")
	require.NoError(t, err)
	require.NotNil(t, found)
	cfg, ok := found.ConfigFor("series")
	require.True(t, ok)
	assert.Equal(t, models.SelectionFirst, cfg.Outputs.Mode)
	assert.Equal(t, []string{"1080p", "720p"}, cfg.Outputs.Names)

	// Re-registration replaces the config.
	body = `{"movies": {"outputs": {"mode": "always", "names": ["720p"]}, "filters": {}}}`
	req = httptest.NewRequest("POST", "/register/node-a", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	found, err = customers.GetByID(context.Background(), "node-a")
	require.NoError(t, err)
	_, ok = found.ConfigFor("series")
	assert.False(t, ok)
	_, ok = found.ConfigFor("movies")
	assert.True(t, ok)
}

func multipartUpload(t *testing.T, fieldFile, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile(fieldFile, filename)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file here"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestMediaHandler_AddMedia(t *testing.T) {
	db := setupDB(t)
	customers := repository.NewCustomerRepository(db)
	registerCustomer(t, customers, "node-a", "series")

	pendingDir := t.TempDir()
	submitter := &stubSubmitter{result: scheduler.SubmitAccepted}

	router := chi.NewRouter()
	handlers.NewMediaHandler(submitter, customers, pendingDir, 0, testLogger()).Register(router)

	t.Run("accepts upload and submits order", func(t *testing.T) {
		body, contentType := multipartUpload(t, "file", "Episode 01.mkv", "fake mkv bytes")
		req := httptest.NewRequest("POST", "/add-media/node-a/series", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp handlers.SubmitResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, scheduler.SubmitAccepted, resp.Result.Result)
		assert.NotEmpty(t, resp.Result.ID)

		orders := submitter.submitted()
		require.Len(t, orders, 1)
		assert.Equal(t, "series", orders[0].Category)
		assert.Equal(t, "node-a", orders[0].CustomerID)
		assert.Equal(t, "Episode 01", orders[0].DisplayName)
		assert.Equal(t, ".mkv", filepath.Ext(orders[0].SourcePath))

		// The upload was spooled under a fresh name, not the original one.
		assert.NotContains(t, orders[0].SourcePath, "Episode 01")
		data, err := os.ReadFile(orders[0].SourcePath)
		require.NoError(t, err)
		assert.Equal(t, "fake mkv bytes", string(data))
	})

	t.Run("rejects missing file part", func(t *testing.T) {
		body, contentType := multipartUpload(t, "file", "", "")
		req := httptest.NewRequest("POST", "/add-media/node-a/series", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp handlers.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "err", resp.Status)
		assert.Equal(t, "no file attached", resp.Reason)
	})

	t.Run("rejects unregistered customer", func(t *testing.T) {
		body, contentType := multipartUpload(t, "file", "movie.mkv", "x")
		req := httptest.NewRequest("POST", "/add-media/ghost/series", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unconfigured category", func(t *testing.T) {
		body, contentType := multipartUpload(t, "file", "movie.mkv", "x")
		req := httptest.NewRequest("POST", "/add-media/node-a/movies", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("removes spooled file when not accepted", func(t *testing.T) {
		rejecting := &stubSubmitter{result: scheduler.SubmitBadMediaType}
		r := chi.NewRouter()
		dir := t.TempDir()
		handlers.NewMediaHandler(rejecting, customers, dir, 0, testLogger()).Register(r)

		body, contentType := multipartUpload(t, "file", "movie.mkv", "x")
		req := httptest.NewRequest("POST", "/add-media/node-a/series", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func completedRecord(t *testing.T, records repository.RecordRepository, customerID, sourcePath string, files []string, outputDir string) *models.Record {
	t.Helper()
	record := &models.Record{
		ID:         models.Fingerprint(sourcePath),
		CustomerID: customerID,
		Category:   "series",
		SourcePath: sourcePath,
		State:      models.StateProcessing,
	}
	inserted, err := records.CreateIfAbsent(context.Background(), record)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, records.MarkCompleted(context.Background(), record.ID, outputDir, files))
	return record
}

func TestPullHandler_PullInfo(t *testing.T) {
	db := setupDB(t)
	records := repository.NewRecordRepository(db)
	board := scheduler.NewInfoBoard()

	router := chi.NewRouter()
	handlers.NewPullHandler(records, board, testLogger()).Register(router)

	t.Run("empty board yields 204", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/pull/info/node-a", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("serves the map and purges delivered errors", func(t *testing.T) {
		board.SetProcessing("node-a", "job-1", 42.5, 1.5)
		board.SetError("node-a", "job-2", "encoder exploded")

		req := httptest.NewRequest("GET", "/pull/info/node-a", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var infos models.InfoMap
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&infos))
		require.Len(t, infos, 2)
		assert.Equal(t, models.StatusProcessing, infos["job-1"].Status)
		assert.InDelta(t, 42.5, infos["job-1"].Progress, 0.001)
		assert.Equal(t, models.StatusError, infos["job-2"].Status)
		assert.Equal(t, "encoder exploded", infos["job-2"].Reason)

		// Error entries were consumed by the successful pull.
		after := board.Snapshot("node-a")
		require.Len(t, after, 1)
		_, ok := after["job-1"]
		assert.True(t, ok)
	})

	t.Run("failed delivery keeps error entries", func(t *testing.T) {
		board.SetError("node-b", "job-3", "encoder exploded")

		req := httptest.NewRequest("GET", "/pull/info/node-b", nil)
		router.ServeHTTP(&brokenWriter{}, req)

		// The client never saw the response, so the error stays pullable.
		after := board.Snapshot("node-b")
		require.Len(t, after, 1)
		assert.Equal(t, models.StatusError, after["job-3"].Status)
	})
}

// brokenWriter fails every body write, standing in for a client that went
// away mid-response.
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *brokenWriter) WriteHeader(int) {}

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestPullHandler_PullFiles(t *testing.T) {
	db := setupDB(t)
	records := repository.NewRecordRepository(db)
	board := scheduler.NewInfoBoard()

	router := chi.NewRouter()
	handlers.NewPullHandler(records, board, testLogger()).Register(router)

	t.Run("no completed record yields 204", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/pull/files/node-a", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("delivers files then consumes the record", func(t *testing.T) {
		outputDir := filepath.Join(t.TempDir(), "job")
		require.NoError(t, os.MkdirAll(outputDir, 0o755))
		fileA := filepath.Join(outputDir, "Épisode-1080p.mp4")
		fileB := filepath.Join(outputDir, "Épisode-720p.mp4")
		require.NoError(t, os.WriteFile(fileA, []byte("variant a"), 0o644))
		require.NoError(t, os.WriteFile(fileB, []byte("variant b"), 0o644))

		record := completedRecord(t, records, "node-a", "/pending/ep1.mkv", []string{fileA, fileB}, outputDir)
		board.SetCompleted("node-a", record.ID)

		req := httptest.NewRequest("GET", "/pull/files/node-a", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		mediaType, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/form-data", mediaType)

		reader := multipart.NewReader(rec.Body, params["boundary"])

		idPart, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, handlers.FieldJobID, idPart.FormName())
		idBytes, err := io.ReadAll(idPart)
		require.NoError(t, err)
		assert.Equal(t, record.ID, string(idBytes))

		var names []string
		var contents []string
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			assert.Equal(t, handlers.FieldFiles, part.FormName())
			decoded, err := url.PathUnescape(part.FileName())
			require.NoError(t, err)
			names = append(names, decoded)
			data, err := io.ReadAll(part)
			require.NoError(t, err)
			contents = append(contents, string(data))
		}
		assert.Equal(t, []string{"Épisode-1080p.mp4", "Épisode-720p.mp4"}, names)
		assert.Equal(t, []string{"variant a", "variant b"}, contents)

		// Consumed: record gone, directory gone, board entry gone.
		found, err := records.GetByID(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Nil(t, found)
		_, statErr := os.Stat(outputDir)
		assert.True(t, os.IsNotExist(statErr))
		assert.Empty(t, board.Snapshot("node-a"))
	})

	t.Run("missing output file keeps the record pullable", func(t *testing.T) {
		record := completedRecord(t, records, "node-b", "/pending/ep2.mkv",
			[]string{"/nonexistent/gone.mp4"}, "")

		req := httptest.NewRequest("GET", "/pull/files/node-b", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		// The multipart body started, so the status is already 200, but the
		// record survives for a retry.
		found, err := records.GetByID(context.Background(), record.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, models.StateCompleted, found.State)
	})
}

// blockingRecords delegates to a real repository but parks
// FirstCompletedForCustomer until released, so a second request can be
// issued while the first holds the single-flight slot.
type blockingRecords struct {
	repository.RecordRepository
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRecords) FirstCompletedForCustomer(ctx context.Context, customerID string) (*models.Record, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.RecordRepository.FirstCompletedForCustomer(ctx, customerID)
}

func TestPullHandler_SingleFlight(t *testing.T) {
	db := setupDB(t)
	records := &blockingRecords{
		RecordRepository: repository.NewRecordRepository(db),
		entered:          make(chan struct{}, 1),
		release:          make(chan struct{}),
	}
	board := scheduler.NewInfoBoard()

	router := chi.NewRouter()
	handlers.NewPullHandler(records, board, testLogger()).Register(router)

	firstDone := make(chan int)
	go func() {
		req := httptest.NewRequest("GET", "/pull/files/node-a", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		firstDone <- rec.Code
	}()

	// Wait until the first request holds the slot.
	select {
	case <-records.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first pull never reached the store")
	}

	// A concurrent pull for the same customer is refused outright.
	req := httptest.NewRequest("GET", "/pull/files/node-a", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	close(records.release)
	assert.Equal(t, http.StatusNoContent, <-firstDone)

	// The slot is free again afterwards.
	req = httptest.NewRequest("GET", "/pull/files/node-a", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
