// Package ffmpeg wraps the ffmpeg and ffprobe binaries: probing, command
// construction, process supervision and encoder capability detection.
package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Output is one destination of a multi-output invocation: its per-output
// arguments (codecs, maps, extra params) followed by the destination path.
type Output struct {
	Path string
	Args []string
}

// Command represents an ffmpeg command to execute.
type Command struct {
	Binary  string
	Args    []string
	Input   string
	Outputs []string

	niceness int

	cmd     *exec.Cmd
	stderr  io.ReadCloser
	started time.Time
	mu      sync.RWMutex
}

// Progress represents ffmpeg progress information parsed from stderr.
type Progress struct {
	Frame   int64         `json:"frame"`
	FPS     float64       `json:"fps"`
	Bitrate string        `json:"bitrate"`
	Time    time.Duration `json:"time"`
	Speed   float64       `json:"speed"`
}

// CommandBuilder builds ffmpeg commands with a fluent API. A single input
// fans out to any number of outputs, each with its own argument list.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	outputs    []Output
	logLevel   string
	overwrite  bool
	niceness   int
}

// NewCommandBuilder creates a new ffmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "warning",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Stats enables progress stats output.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// GlobalArgs appends raw global arguments.
func (b *CommandBuilder) GlobalArgs(args ...string) *CommandBuilder {
	b.globalArgs = append(b.globalArgs, args...)
	return b
}

// HWAccel sets the hardware acceleration method on the input.
func (b *CommandBuilder) HWAccel(accel string) *CommandBuilder {
	if accel != "" && accel != "none" {
		b.inputArgs = append(b.inputArgs, "-hwaccel", accel)
	}
	return b
}

// HWAccelOutputFormat keeps decoded frames in the accelerator's surface
// format.
func (b *CommandBuilder) HWAccelOutputFormat(format string) *CommandBuilder {
	if format != "" {
		b.inputArgs = append(b.inputArgs, "-hwaccel_output_format", format)
	}
	return b
}

// VAAPIDevice sets the VA-API render device.
func (b *CommandBuilder) VAAPIDevice(device string) *CommandBuilder {
	if device != "" {
		b.inputArgs = append(b.inputArgs, "-vaapi_device", device)
	}
	return b
}

// ProbeSize sets the input probe buffer size.
func (b *CommandBuilder) ProbeSize(size string) *CommandBuilder {
	if size != "" {
		b.inputArgs = append(b.inputArgs, "-probesize", size)
	}
	return b
}

// InputArgs appends raw input-side arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input sets the input path.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// AddOutput appends one output destination with its per-output arguments.
func (b *CommandBuilder) AddOutput(path string, args ...string) *CommandBuilder {
	b.outputs = append(b.outputs, Output{Path: path, Args: args})
	return b
}

// Niceness lowers the subprocess scheduling priority (0 leaves it alone).
func (b *CommandBuilder) Niceness(n int) *CommandBuilder {
	b.niceness = n
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-v", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	paths := make([]string, 0, len(b.outputs))
	for _, out := range b.outputs {
		args = append(args, out.Args...)
		args = append(args, out.Path)
		paths = append(paths, out.Path)
	}

	return &Command{
		Binary:   b.binary,
		Args:     args,
		Input:    b.input,
		Outputs:  paths,
		niceness: b.niceness,
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start starts the command without waiting, keeping a stderr pipe for
// progress parsing. The niceness, if configured, is applied to the child
// process right after launch.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("getting stderr pipe: %w", err)
	}
	c.cmd = cmd
	c.stderr = stderr
	c.started = time.Now()
	c.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting command: %w", err)
	}
	if c.niceness != 0 && cmd.Process != nil {
		// Renice failures are non-fatal; the transcode still runs.
		_ = syscall.Setpriority(syscall.PRIO_PROCESS, cmd.Process.Pid, c.niceness)
	}
	return nil
}

// Wait waits for the command to complete.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil {
		return fmt.Errorf("command not started")
	}
	return cmd.Wait()
}

// Kill terminates the ffmpeg process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// IsRunning returns true if the command is running.
func (c *Command) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return false
	}
	return c.cmd.ProcessState == nil
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// RunWithProgress runs the command to completion, sending progress parsed
// from stderr to progressCh. The channel is not closed; sends never block.
func (c *Command) RunWithProgress(ctx context.Context, progressCh chan<- Progress) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	stderr := c.stderr
	c.mu.RUnlock()

	done := make(chan struct{})
	var tail []string
	go func() {
		tail = c.parseProgress(stderr, progressCh)
		close(done)
	}()

	err := c.Wait()
	<-done
	if err != nil && len(tail) > 0 {
		return fmt.Errorf("%w: %s", err, strings.Join(tail, " | "))
	}
	return err
}

var (
	frameRe   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	bitrateRe = regexp.MustCompile(`bitrate=\s*([\d.]+\s*\w+/s)`)
	timeRe    = regexp.MustCompile(`time=(\d+):(\d+):(\d+).(\d+)`)
	speedRe   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// parseProgress parses ffmpeg stats output from stderr. Returns the last
// few non-stats lines for error diagnostics.
func (c *Command) parseProgress(r io.Reader, progressCh chan<- Progress) []string {
	scanner := bufio.NewScanner(r)
	progress := Progress{}
	var tail []string

	for scanner.Scan() {
		line := scanner.Text()

		matched := false
		if matches := frameRe.FindStringSubmatch(line); len(matches) > 1 {
			progress.Frame, _ = strconv.ParseInt(matches[1], 10, 64)
			matched = true
		}
		if matches := fpsRe.FindStringSubmatch(line); len(matches) > 1 {
			progress.FPS, _ = strconv.ParseFloat(matches[1], 64)
		}
		if matches := bitrateRe.FindStringSubmatch(line); len(matches) > 1 {
			progress.Bitrate = matches[1]
		}
		if matches := timeRe.FindStringSubmatch(line); len(matches) > 4 {
			hours, _ := strconv.Atoi(matches[1])
			mins, _ := strconv.Atoi(matches[2])
			secs, _ := strconv.Atoi(matches[3])
			ms, _ := strconv.Atoi(matches[4])
			progress.Time = time.Duration(hours)*time.Hour +
				time.Duration(mins)*time.Minute +
				time.Duration(secs)*time.Second +
				time.Duration(ms)*time.Millisecond*10
		}
		if matches := speedRe.FindStringSubmatch(line); len(matches) > 1 {
			progress.Speed, _ = strconv.ParseFloat(matches[1], 64)
		}

		if matched && progressCh != nil {
			select {
			case progressCh <- progress:
			default:
			}
			continue
		}

		if line = strings.TrimSpace(line); line != "" {
			tail = append(tail, line)
			if len(tail) > 10 {
				tail = tail[1:]
			}
		}
	}

	return tail
}
