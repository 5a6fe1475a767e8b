package ffmpeg

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

// Capabilities is the parsed encoder report of an ffmpeg binary.
type Capabilities struct {
	encoders map[string]bool
}

// HasEncoder reports whether the binary offers the named encoder.
func (c *Capabilities) HasEncoder(name string) bool {
	return c.encoders[name]
}

// SupportsCodecFamily reports whether any encoder handles the given codec
// family (e.g. "mjpeg", "h264"). Used to decide whether secondary video
// streams such as embedded thumbnails can survive a hardware transcode.
func (c *Capabilities) SupportsCodecFamily(family string) bool {
	if family == "" {
		return false
	}
	if c.encoders[family] {
		return true
	}
	for name := range c.encoders {
		if strings.HasPrefix(name, family+"_") || strings.HasPrefix(name, "lib"+family) {
			return true
		}
	}
	return false
}

// IsHardwareEncoder reports whether an encoder name targets a hardware
// acceleration backend.
func IsHardwareEncoder(name string) bool {
	for _, suffix := range []string{"_vaapi", "_nvenc", "_qsv", "_amf", "_videotoolbox"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// EncoderDetector detects the encoders an ffmpeg binary offers. The report
// is cached after the first successful detection.
type EncoderDetector struct {
	ffmpegPath string

	mu     sync.Mutex
	cached *Capabilities
}

// NewEncoderDetector creates a detector for the given ffmpeg binary.
func NewEncoderDetector(ffmpegPath string) *EncoderDetector {
	return &EncoderDetector{ffmpegPath: ffmpegPath}
}

// Detect returns the binary's encoder capabilities.
func (d *EncoderDetector) Detect(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil {
		return d.cached, nil
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-encoders", "-hide_banner")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	d.cached = ParseEncoders(string(output))
	return d.cached, nil
}

// ParseEncoders parses the output of ffmpeg -encoders.
func ParseEncoders(output string) *Capabilities {
	caps := &Capabilities{encoders: make(map[string]bool)}
	inList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}

		// Format: V....D encoder_name description
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}

		rest := strings.TrimSpace(line[6:])
		parts := strings.Fields(rest)
		if len(parts) >= 1 && parts[0] != "" {
			caps.encoders[parts[0]] = true
		}
	}

	return caps
}

// FindBinary locates a binary by explicit config path first, then PATH.
func FindBinary(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return exec.LookPath(name)
}
