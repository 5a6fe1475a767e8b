package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/repository"
	"github.com/mediaforge/mediaforge/internal/scheduler"
	"github.com/oklog/ulid/v2"
)

// Submitter admits orders into the job queue, satisfied by
// scheduler.Scheduler.
type Submitter interface {
	Submit(ctx context.Context, order models.Order) (scheduler.SubmitResult, string, error)
}

// MediaHandler handles media file submission. It is a raw chi handler
// because the body is a streamed multipart upload.
type MediaHandler struct {
	submitter  Submitter
	customers  repository.CustomerRepository
	pendingDir string
	maxBytes   int64
	logger     *slog.Logger
}

// NewMediaHandler creates a new media submission handler.
func NewMediaHandler(submitter Submitter, customers repository.CustomerRepository, pendingDir string, maxBytes int64, logger *slog.Logger) *MediaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaHandler{
		submitter:  submitter,
		customers:  customers,
		pendingDir: pendingDir,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Register mounts the route on the router.
func (h *MediaHandler) Register(r chi.Router) {
	r.Post("/add-media/{customerId}/{category}", h.AddMedia)
}

// AddMedia accepts one uploaded file and submits it for processing. The
// upload is spooled into the pending directory under a fresh ULID name so
// two uploads of the same file never collide.
func (h *MediaHandler) AddMedia(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	category := chi.URLParam(r, "category")

	customer, err := h.customers.GetByID(r.Context(), customerID)
	if err != nil {
		h.logger.Error("customer lookup failed",
			slog.String("customer", customerID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "customer lookup failed")
		return
	}
	if customer == nil {
		writeError(w, http.StatusBadRequest, "customer not registered")
		return
	}
	custCfg, ok := customer.ConfigFor(category)
	if !ok {
		writeError(w, http.StatusBadRequest, "no configuration for category "+category)
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	part, err := firstFilePart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file attached")
		return
	}
	defer part.Close()

	originalName := filepath.Base(part.FileName())
	sourcePath, err := h.spool(part, originalName)
	if err != nil {
		h.logger.Error("spooling upload failed",
			slog.String("customer", customerID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "storing upload failed")
		return
	}

	order := models.Order{
		Category:    category,
		CustomerID:  customerID,
		SourcePath:  sourcePath,
		DisplayName: strings.TrimSuffix(originalName, filepath.Ext(originalName)),
		Config:      custCfg,
	}

	result, id, err := h.submitter.Submit(r.Context(), order)
	if err != nil {
		os.Remove(sourcePath)
		h.logger.Error("submit failed",
			slog.String("customer", customerID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "submitting order failed")
		return
	}
	if result != scheduler.SubmitAccepted {
		// The spooled file will never be consumed by a job.
		os.Remove(sourcePath)
	}

	_ = writeJSON(w, http.StatusOK, SubmitResponse{
		Status: "ok",
		Result: SubmitOutcome{Result: result, ID: id},
	})
}

// firstFilePart returns the first file-bearing part of the multipart body.
func firstFilePart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// spool streams the upload into the pending directory. The stored name is a
// ULID plus the original extension; the original base name only survives as
// the order's display name.
func (h *MediaHandler) spool(src io.Reader, originalName string) (string, error) {
	if err := os.MkdirAll(h.pendingDir, 0o755); err != nil {
		return "", err
	}

	name := ulid.Make().String() + filepath.Ext(originalName)
	path := filepath.Join(h.pendingDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	_ = writeJSON(w, status, ErrorResponse{Status: "err", Reason: reason})
}
