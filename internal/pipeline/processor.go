// Package pipeline turns one admitted order into a supervised ffmpeg run:
// probe, profile resolution, stream exclusion, multi-output command
// construction and progress reporting.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mediaforge/mediaforge/internal/config"
	"github.com/mediaforge/mediaforge/internal/ffmpeg"
	"github.com/mediaforge/mediaforge/internal/models"
	"github.com/mediaforge/mediaforge/internal/profiles"
	"github.com/mediaforge/mediaforge/internal/streamfilter"
)

// ProgressFunc receives throttled progress updates for a running job.
type ProgressFunc func(percent float64, frame int64)

// Result is the outcome of a successful pipeline run.
type Result struct {
	OutputDirectory string
	Files           []string
}

// Processor runs transcode jobs. Safe for concurrent use; the scheduler
// bounds how many Run calls are in flight.
type Processor struct {
	cfg      config.ProcessingConfig
	storage  config.StorageConfig
	category func(string) (config.CategoryConfig, bool)

	prober   *ffmpeg.Prober
	detector *ffmpeg.EncoderDetector
	resolver *profiles.Resolver
	filter   *streamfilter.Filter
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*ffmpeg.Command
}

// New creates a processor.
func New(cfg config.ProcessingConfig, storage config.StorageConfig, category func(string) (config.CategoryConfig, bool), resolver *profiles.Resolver, filter *streamfilter.Filter, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:      cfg,
		storage:  storage,
		category: category,
		prober:   ffmpeg.NewProber(cfg.FFprobePath).WithTimeout(cfg.ProbeTimeout),
		detector: ffmpeg.NewEncoderDetector(cfg.FFmpegPath),
		resolver: resolver,
		filter:   filter,
		logger:   logger,
	}
}

// CanProcess reports whether a category has a processing rule configured.
func (p *Processor) CanProcess(category string) bool {
	_, ok := p.category(category)
	return ok
}

// Run executes the full pipeline for one order. The id is the order's
// fingerprint and names the output directory. onProgress may be nil.
func (p *Processor) Run(ctx context.Context, id string, order models.Order, onProgress ProgressFunc) (*Result, error) {
	catCfg, ok := p.category(order.Category)
	if !ok {
		return nil, newError(StageResolve, nil, fmt.Errorf("no processing rule for category %q", order.Category))
	}

	probe, err := p.prober.Probe(ctx, order.SourcePath)
	if err != nil {
		return nil, newError(StageProbe, nil, err)
	}
	video := probe.GetVideoStream()
	if video == nil {
		return nil, newError(StageProbe, probe, fmt.Errorf("source has no video stream"))
	}

	resolved, err := p.resolver.Resolve(order.Config.Outputs, video.Width, video.Height)
	if err != nil {
		return nil, newError(StageResolve, probe, err)
	}
	if len(resolved) == 0 {
		return nil, newError(StageResolve, probe, fmt.Errorf("no output profile applies to %dx%d source", video.Width, video.Height))
	}

	caps, err := p.detector.Detect(ctx)
	if err != nil {
		p.logger.Warn("encoder capability detection failed", slog.String("error", err.Error()))
		caps = nil
	}

	excluded := p.filter.Excluded(probe.Streams, order.Config.Filters, effectiveVideoCodec(catCfg, resolved), caps)

	outputDir := filepath.Join(p.storage.OutputDir, id)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, newError(StageBuild, probe, fmt.Errorf("creating output directory: %w", err))
	}

	cmd, files := p.buildCommand(order, catCfg, probe, resolved, excluded, outputDir)
	p.logger.Info("starting transcode",
		slog.String("id", id),
		slog.Int("outputs", len(files)),
		slog.String("command", cmd.String()),
	)

	p.track(id, cmd)
	defer p.untrack(id)

	if err := p.supervise(ctx, cmd, probe, onProgress); err != nil {
		return nil, newError(StageEncode, probe, err)
	}
	p.logger.Info("transcode finished",
		slog.String("id", id),
		slog.Duration("took", cmd.Duration()),
	)

	return &Result{OutputDirectory: outputDir, Files: files}, nil
}

// buildCommand assembles the single multi-output ffmpeg invocation.
func (p *Processor) buildCommand(order models.Order, catCfg config.CategoryConfig, probe *ffmpeg.ProbeResult, resolved []*profiles.ResolvedProfile, excluded []ffmpeg.ProbeStream, outputDir string) (*ffmpeg.Command, []string) {
	video := probe.GetVideoStream()
	base := strings.TrimSuffix(filepath.Base(order.SourcePath), filepath.Ext(order.SourcePath))
	if order.DisplayName != "" {
		base = order.DisplayName
	}

	builder := ffmpeg.NewCommandBuilder(p.cfg.FFmpegPath).
		HideBanner().
		LogLevel("warning").
		Stats().
		Overwrite().
		Niceness(p.cfg.Priority).
		GlobalArgs(catCfg.ExtraParams.Common...).
		ProbeSize("10M").
		InputArgs(catCfg.ExtraParams.Input...)

	if wantsVAAPI(catCfg, resolved) {
		builder.
			HWAccel("vaapi").
			HWAccelOutputFormat("vaapi").
			VAAPIDevice(p.cfg.HWDevice)
	}

	builder.Input(order.SourcePath)

	files := make([]string, 0, len(resolved))
	for _, rp := range resolved {
		name := ExpandName(catCfg.NameTemplate, base, rp.Name, catCfg.Extension)
		path := filepath.Join(outputDir, name)
		files = append(files, path)

		args := outputArgs(catCfg, rp, video, excluded)
		builder.AddOutput(path, args...)
	}

	return builder.Build(), files
}

// outputArgs builds the per-output argument list: stream maps minus the
// exclusion set, codec selection with exact-geometry passthrough, then the
// profile's extra parameters.
func outputArgs(catCfg config.CategoryConfig, rp *profiles.ResolvedProfile, video *ffmpeg.ProbeStream, excluded []ffmpeg.ProbeStream) []string {
	args := []string{"-map", "0"}
	for _, s := range excluded {
		args = append(args, "-map", fmt.Sprintf("-0:%d", s.Index))
	}

	videoCodec := catCfg.VideoCodec
	if rp.VideoCodec != "" {
		videoCodec = rp.VideoCodec
	}
	// Passthrough only on a bit-exact geometry match.
	if w, h, ok := targetGeometry(rp); ok && w == video.Width && h == video.Height {
		videoCodec = "copy"
	}

	args = append(args, "-c:v", videoCodec)
	audioCodec := catCfg.AudioCodec
	if audioCodec == "" {
		audioCodec = "copy"
	}
	args = append(args, "-c:a", audioCodec, "-c:s", "copy")

	args = append(args, catCfg.ExtraParams.Output...)
	// Scale filters and encoder tuning live in the profile params, where
	// the placeholders have already been substituted.
	if videoCodec == "copy" {
		args = append(args, withoutVideoFilters(rp.Params)...)
	} else {
		args = append(args, rp.Params...)
	}
	return args
}

// withoutVideoFilters strips -vf/-filter:v pairs, which cannot apply to a
// copied video stream.
func withoutVideoFilters(params []string) []string {
	out := make([]string, 0, len(params))
	for i := 0; i < len(params); i++ {
		if params[i] == "-vf" || params[i] == "-filter:v" {
			i++
			continue
		}
		out = append(out, params[i])
	}
	return out
}

// targetGeometry extracts the profile's output geometry from its data
// fields, when present.
func targetGeometry(rp *profiles.ResolvedProfile) (int, int, bool) {
	w, okW := rp.Data["scaled_width"]
	h, okH := rp.Data["scaled_height"]
	if !okW || !okH {
		return 0, 0, false
	}
	return int(w), int(h), true
}

// effectiveVideoCodec is the encoder the capability check runs against:
// the first hardware override among the resolved profiles, otherwise the
// category encoder.
func effectiveVideoCodec(catCfg config.CategoryConfig, resolved []*profiles.ResolvedProfile) string {
	for _, rp := range resolved {
		if ffmpeg.IsHardwareEncoder(rp.VideoCodec) {
			return rp.VideoCodec
		}
	}
	return catCfg.VideoCodec
}

// wantsVAAPI reports whether any output of this run encodes through vaapi.
func wantsVAAPI(catCfg config.CategoryConfig, resolved []*profiles.ResolvedProfile) bool {
	if strings.HasSuffix(catCfg.VideoCodec, "_vaapi") {
		return true
	}
	for _, rp := range resolved {
		if strings.HasSuffix(rp.VideoCodec, "_vaapi") {
			return true
		}
	}
	return false
}

// supervise runs the command and forwards throttled progress updates.
func (p *Processor) supervise(ctx context.Context, cmd *ffmpeg.Command, probe *ffmpeg.ProbeResult, onProgress ProgressFunc) error {
	progressCh := make(chan ffmpeg.Progress, 16)
	done := make(chan struct{})

	totalFrames := probe.TotalFrames()
	go func() {
		defer close(done)
		throttle := newThrottle(p.cfg.ProgressInterval)
		for prog := range progressCh {
			if onProgress == nil || !throttle.allow() {
				continue
			}
			percent := 0.0
			if totalFrames > 0 {
				percent = float64(prog.Frame) / float64(totalFrames) * 100
				if percent > 100 {
					percent = 100
				}
			}
			onProgress(percent, prog.Frame)
		}
	}()

	err := cmd.RunWithProgress(ctx, progressCh)
	close(progressCh)
	<-done
	return err
}

func (p *Processor) track(id string, cmd *ffmpeg.Command) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running == nil {
		p.running = make(map[string]*ffmpeg.Command)
	}
	p.running[id] = cmd
}

func (p *Processor) untrack(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

// KillAll forcibly terminates every in-flight subprocess. Called on
// shutdown so no encoder outlives the service.
func (p *Processor) KillAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cmd := range p.running {
		if !cmd.IsRunning() {
			continue
		}
		p.logger.Warn("killing in-flight transcode", slog.String("id", id))
		_ = cmd.Kill()
	}
}
