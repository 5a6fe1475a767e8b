package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/mediaforge/mediaforge/internal/repository"
	"github.com/mediaforge/mediaforge/internal/scheduler"
)

// FieldJobID is the multipart form field carrying the job id in a
// pull-files response.
const FieldJobID = "_id"

// FieldFiles is the multipart form field name of each file part.
const FieldFiles = "files"

// PullHandler serves the progress and completed-file pulls. It is a raw chi
// handler because pull-files streams a multipart body.
type PullHandler struct {
	records repository.RecordRepository
	board   *scheduler.InfoBoard
	logger  *slog.Logger

	// active serializes pull-files per customer. A concurrent second pull
	// observes "no data" instead of racing the first over the same record.
	mu     sync.Mutex
	active map[string]bool
}

// NewPullHandler creates a new pull handler.
func NewPullHandler(records repository.RecordRepository, board *scheduler.InfoBoard, logger *slog.Logger) *PullHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PullHandler{
		records: records,
		board:   board,
		logger:  logger,
		active:  make(map[string]bool),
	}
}

// Register mounts the routes on the router.
func (h *PullHandler) Register(r chi.Router) {
	r.Get("/pull/info/{customerId}", h.PullInfo)
	r.Get("/pull/files/{customerId}", h.PullFiles)
}

// PullInfo returns the customer's progress map and clears error entries
// once they have been delivered. Completed entries stay until the files
// are pulled.
func (h *PullHandler) PullInfo(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")

	snapshot := h.board.Snapshot(customerID)
	if len(snapshot) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Error entries are gone-once-seen; keep them when the response never
	// reached the client.
	if err := writeJSON(w, http.StatusOK, snapshot); err != nil {
		h.logger.Warn("info delivery failed",
			slog.String("customer", customerID),
			slog.String("error", err.Error()),
		)
		return
	}
	h.board.PurgeErrors(customerID)
}

// PullFiles streams the oldest completed job of the customer as a multipart
// body. The record and its output directory are removed only after the full
// body was transmitted; a transmission error keeps everything in place for
// the next pull.
func (h *PullHandler) PullFiles(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")

	if !h.acquire(customerID) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	defer h.release(customerID)

	record, err := h.records.FirstCompletedForCustomer(r.Context(), customerID)
	if err != nil {
		h.logger.Error("completed record lookup failed",
			slog.String("customer", customerID),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if record == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", mw.FormDataContentType())
	w.WriteHeader(http.StatusOK)

	if err := h.writeBody(mw, record.ID, record.ResultFiles); err != nil {
		// Mid-transmission failure: the record stays pullable.
		h.logger.Warn("pull transmission aborted",
			slog.String("customer", customerID),
			slog.String("id", record.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.consume(customerID, record.ID, record.OutputDirectory)
}

// writeBody writes the job id field and one part per output file.
func (h *PullHandler) writeBody(mw *multipart.Writer, jobID string, files []string) error {
	if err := mw.WriteField(FieldJobID, jobID); err != nil {
		return fmt.Errorf("writing id field: %w", err)
	}

	for _, path := range files {
		if err := h.writeFilePart(mw, path); err != nil {
			return fmt.Errorf("writing part for %s: %w", filepath.Base(path), err)
		}
	}

	return mw.Close()
}

func (h *PullHandler) writeFilePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Filenames are URL-encoded so non-ASCII names survive the header.
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
		FieldFiles, url.PathEscape(filepath.Base(path))))
	header.Set("Content-Type", "application/octet-stream")

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// consume removes the delivered record, its output directory and its board
// entry. Runs only after the full body reached the client, detached from the
// request context so a late client disconnect cannot interrupt the removal.
func (h *PullHandler) consume(customerID, id, outputDir string) {
	if err := h.records.Delete(context.Background(), id); err != nil {
		h.logger.Error("deleting delivered record failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	if outputDir != "" {
		if err := os.RemoveAll(outputDir); err != nil {
			h.logger.Warn("removing delivered output directory failed",
				slog.String("dir", outputDir),
				slog.String("error", err.Error()),
			)
		}
	}
	h.board.Remove(customerID, id)

	h.logger.Info("job delivered",
		slog.String("customer", customerID),
		slog.String("id", id),
	)
}

func (h *PullHandler) acquire(customerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active[customerID] {
		return false
	}
	h.active[customerID] = true
	return true
}

func (h *PullHandler) release(customerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.active, customerID)
}
