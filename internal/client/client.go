// Package client implements the gateway-side consumer of the pull delivery
// protocol: registration, media submission with failover, and the adaptive
// poll loop that downloads completed results.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/pkg/httpclient"
	"github.com/oklog/ulid/v2"
)

// DefaultPollInterval is the idle delay between pull rounds. A round that
// produced data is followed immediately by another one.
const DefaultPollInterval = 15 * time.Second

// Delivery is one downloaded completed job.
type Delivery struct {
	// ID is the job fingerprint sent in the _id field.
	ID string
	// Files are the downloaded output paths inside Dir.
	Files []string
	// Dir is the temporary directory holding the files. It is removed
	// after the DoneFunc returns.
	Dir string
}

// DoneFunc consumes one delivery. The delivery directory is removed after
// the call returns, so implementations must move or copy the files out.
type DoneFunc func(ctx context.Context, d Delivery) error

// Config holds the gateway client configuration.
type Config struct {
	// Gateways are the processing engine base URLs to register with.
	Gateways []string
	// NodeID identifies this client to the gateways.
	NodeID string
	// Categories is the per-category policy sent at registration.
	Categories models.CategoryConfigMap
	// PollInterval overrides the idle poll delay.
	PollInterval time.Duration
	// TempDir receives per-delivery download directories. Empty uses the
	// system temp dir.
	TempDir string
}

// Client talks the pull delivery protocol against one or more gateways.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	logger *slog.Logger

	mu     sync.Mutex
	active []string
}

// New creates a gateway client. A nil httpc gets a client with no overall
// timeout, since pulls download whole media files.
func New(cfg Config, httpc *httpclient.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if httpc == nil {
		hcfg := httpclient.DefaultConfig()
		hcfg.Timeout = 0
		hcfg.Logger = logger
		httpc = httpclient.New(hcfg)
	}
	return &Client{cfg: cfg, http: httpc, logger: logger}
}

// Register registers the node with every configured gateway. Gateways that
// acknowledge become the active set used by Submit and the pull loop.
// Unreachable gateways are skipped, not fatal.
func (c *Client) Register(ctx context.Context) error {
	body, err := json.Marshal(c.cfg.Categories)
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}

	var active []string
	for _, gateway := range c.cfg.Gateways {
		u := fmt.Sprintf("%s/register/%s", strings.TrimRight(gateway, "/"), url.PathEscape(c.cfg.NodeID))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(body)))
		if err != nil {
			return fmt.Errorf("creating registration request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Error("gateway registration failed",
				slog.String("gateway", gateway),
				slog.String("error", err.Error()),
			)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			active = append(active, strings.TrimRight(gateway, "/"))
			c.logger.Info("registered with gateway", slog.String("gateway", gateway))
		} else {
			c.logger.Warn("gateway refused registration",
				slog.String("gateway", gateway),
				slog.Int("status", resp.StatusCode),
			)
		}
	}

	c.mu.Lock()
	c.active = active
	c.mu.Unlock()

	if len(active) == 0 {
		return fmt.Errorf("no gateway accepted registration")
	}
	return nil
}

// Gateways returns the active gateway set.
func (c *Client) Gateways() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.active...)
}

// Submit uploads one file for processing, trying active gateways in order
// until one admits the order. Connection errors fail over to the next
// gateway; a reachable gateway answering with an unexpected status aborts.
func (c *Client) Submit(ctx context.Context, category, path string) (string, error) {
	for _, gateway := range c.Gateways() {
		id, err := c.submitTo(ctx, gateway, category, path)
		if err != nil {
			var se *submitError
			if errors.As(err, &se) {
				return "", err
			}
			c.logger.Warn("gateway unreachable, trying next",
				slog.String("gateway", gateway),
				slog.String("error", err.Error()),
			)
			continue
		}
		return id, nil
	}
	return "", fmt.Errorf("no gateway accepted %s", filepath.Base(path))
}

// submitError marks a protocol-level refusal that must not fail over.
type submitError struct{ msg string }

func (e *submitError) Error() string { return e.msg }

func (c *Client) submitTo(ctx context.Context, gateway, category, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &submitError{msg: fmt.Sprintf("opening %s: %v", path, err)}
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	u := fmt.Sprintf("%s/add-media/%s/%s", gateway,
		url.PathEscape(c.cfg.NodeID), url.PathEscape(category))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &submitError{msg: fmt.Sprintf("gateway %s answered %d", gateway, resp.StatusCode)}
	}

	var submitResp struct {
		Status string `json:"status"`
		Result struct {
			Result string `json:"result"`
			ID     string `json:"id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return "", &submitError{msg: fmt.Sprintf("decoding submit response: %v", err)}
	}
	if submitResp.Result.Result != "success" {
		return "", &submitError{msg: fmt.Sprintf("gateway %s refused order: %s", gateway, submitResp.Result.Result)}
	}
	return submitResp.Result.ID, nil
}

// PullInfo fetches the progress map from every active gateway, merged by
// job id.
func (c *Client) PullInfo(ctx context.Context) (models.InfoMap, error) {
	merged := models.InfoMap{}
	for _, gateway := range c.Gateways() {
		u := fmt.Sprintf("%s/pull/info/%s", gateway, url.PathEscape(c.cfg.NodeID))
		resp, err := c.http.Get(ctx, u)
		if err != nil {
			c.logger.Warn("progress pull failed",
				slog.String("gateway", gateway),
				slog.String("error", err.Error()),
			)
			continue
		}
		if resp.StatusCode == http.StatusNoContent {
			resp.Body.Close()
			continue
		}
		var infos models.InfoMap
		err = json.NewDecoder(resp.Body).Decode(&infos)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding progress from %s: %w", gateway, err)
		}
		for id, info := range infos {
			merged[id] = info
		}
	}
	return merged, nil
}

// Run executes the adaptive pull loop until the context is cancelled: a
// round that downloaded something is followed immediately, an idle round
// waits out the poll interval.
func (c *Client) Run(ctx context.Context, onDone DoneFunc) {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		got := c.pullRound(ctx, onDone)

		if got {
			timer.Reset(0)
		} else {
			timer.Reset(c.cfg.PollInterval)
		}
	}
}

// pullRound polls every active gateway once. Returns true when at least one
// gateway delivered a completed job.
func (c *Client) pullRound(ctx context.Context, onDone DoneFunc) bool {
	got := false
	for _, gateway := range c.Gateways() {
		delivered, err := c.pullFrom(ctx, gateway, onDone)
		if err != nil {
			c.logger.Error("pull failed",
				slog.String("gateway", gateway),
				slog.String("error", err.Error()),
			)
			continue
		}
		if delivered {
			got = true
		}
	}
	return got
}

// pullFrom downloads at most one completed job from the gateway.
func (c *Client) pullFrom(ctx context.Context, gateway string, onDone DoneFunc) (bool, error) {
	u := fmt.Sprintf("%s/pull/files/%s", gateway, url.PathEscape(c.cfg.NodeID))
	resp, err := c.http.Get(ctx, u)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("gateway answered %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return false, fmt.Errorf("unexpected pull content type %q", resp.Header.Get("Content-Type"))
	}

	delivery, err := c.download(multipart.NewReader(resp.Body, params["boundary"]))
	if err != nil {
		if delivery.Dir != "" {
			os.RemoveAll(delivery.Dir)
		}
		return false, err
	}

	c.logger.Info("received completed job",
		slog.String("gateway", gateway),
		slog.String("id", delivery.ID),
		slog.Int("files", len(delivery.Files)),
	)

	if err := onDone(ctx, delivery); err != nil {
		c.logger.Error("delivery handler failed",
			slog.String("id", delivery.ID),
			slog.String("error", err.Error()),
		)
	}
	os.RemoveAll(delivery.Dir)
	return true, nil
}

// download spools the multipart body into a fresh ULID-named directory.
func (c *Client) download(reader *multipart.Reader) (Delivery, error) {
	tempRoot := c.cfg.TempDir
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	dir := filepath.Join(tempRoot, ulid.Make().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Delivery{}, fmt.Errorf("creating download directory: %w", err)
	}

	d := Delivery{Dir: dir}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return d, fmt.Errorf("reading part: %w", err)
		}

		if part.FileName() == "" {
			if part.FormName() == "_id" {
				idBytes, err := io.ReadAll(part)
				if err != nil {
					return d, fmt.Errorf("reading id field: %w", err)
				}
				d.ID = string(idBytes)
			}
			continue
		}

		name, err := url.PathUnescape(part.FileName())
		if err != nil {
			name = part.FileName()
		}
		path := filepath.Join(dir, filepath.Base(name))
		if err := saveFile(path, part); err != nil {
			return d, fmt.Errorf("saving %s: %w", name, err)
		}
		d.Files = append(d.Files, path)
	}

	if d.ID == "" {
		return d, fmt.Errorf("pull body carried no job id")
	}
	return d, nil
}

func saveFile(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
