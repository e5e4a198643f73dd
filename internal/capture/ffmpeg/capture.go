package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"EnigmaNetz/Enigma-Go-DVR/internal/capture/common"
	"EnigmaNetz/Enigma-Go-DVR/internal/logger"
)

// DefaultBinary is looked up on PATH when no binary is configured.
const DefaultBinary = "ffmpeg"

// DefaultStopTimeout is how long ffmpeg gets to finalize the open segment
// after being asked to quit.
const DefaultStopTimeout = 15 * time.Second

// tailLines is how many stderr lines are kept for error messages.
const tailLines = 5

// maxLineBytes bounds one stderr token; longer lines are split into chunks
// so the scanner never stops reading the pipe.
const maxLineBytes = 16 * 1024

// execCommand is replaced in tests.
var execCommand = exec.Command

// Capturer runs ffmpeg's segment muxer against an RTSP stream.
type Capturer struct {
	bin string
	log *logger.Logger
}

// NewCapturer returns a capturer for the given ffmpeg binary. An empty bin
// resolves to DefaultBinary on PATH.
func NewCapturer(bin string) *Capturer {
	if bin == "" {
		bin = DefaultBinary
	}
	return &Capturer{
		bin: bin,
		log: logger.GetLogger(),
	}
}

// Capture starts ffmpeg and blocks until it exits or ctx is cancelled. On
// cancellation ffmpeg is sent "q" on stdin so the open segment is finalized,
// and killed if it has not exited within the stop timeout.
func (c *Capturer) Capture(ctx context.Context, config common.CaptureConfig) error {
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := BuildArgs(config)
	redacted := RedactURL(config.StreamURL)
	c.log.Info("Starting ffmpeg: %s -> %s (first segment #%d)", redacted, config.OutputDir, config.StartNumber)
	c.log.Debug("Running %s with args: %v", c.bin, redactArgs(args, config.StreamURL))

	cmd := execCommand(c.bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	out := &outputTail{max: tailLines}
	waitCh := make(chan error, 1)
	go func() {
		// Wait must not be called before stderr has been drained.
		c.scanOutput(stderr, config.StreamURL, redacted, out)
		waitCh <- cmd.Wait()
	}()

	select {
	case err := <-waitCh:
		return exitError(err, out)
	case <-ctx.Done():
		timeout := config.StopTimeout
		if timeout <= 0 {
			timeout = DefaultStopTimeout
		}
		c.stop(cmd, stdin, waitCh, timeout)
		return ctx.Err()
	}
}

// stop asks ffmpeg to quit and kills it if it does not.
func (c *Capturer) stop(cmd *exec.Cmd, stdin io.WriteCloser, waitCh <-chan error, timeout time.Duration) {
	c.log.Info("Sending quit to ffmpeg so the current segment is finalized")
	_, werr := stdin.Write([]byte("q"))
	_ = stdin.Close()
	if werr != nil {
		c.log.Warn("Could not signal ffmpeg (%v), killing it; the last segment may be truncated", werr)
		_ = cmd.Process.Kill()
		<-waitCh
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitCh:
		c.log.Info("ffmpeg stopped cleanly")
	case <-timer.C:
		c.log.Warn("ffmpeg did not stop within %s, killing it; the last segment may be truncated", timeout)
		if err := cmd.Process.Kill(); err != nil {
			c.log.Error("Failed to kill ffmpeg: %v", err)
		}
		<-waitCh
	}
}

// scanOutput logs ffmpeg's stderr. Progress lines are dropped and segment
// openings are promoted to info.
func (c *Capturer) scanOutput(r io.Reader, rawURL, redacted string, tail *outputTail) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rawURL != "" {
			line = strings.ReplaceAll(line, rawURL, redacted)
		}
		switch {
		case strings.Contains(line, "frame=") && strings.Contains(line, "fps="):
			continue
		case strings.Contains(line, "Opening '") && strings.Contains(line, "for writing"):
			c.log.Info("[ffmpeg] %s", line)
		default:
			c.log.Debug("[ffmpeg] %s", line)
		}
		tail.add(line)
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn("Stopped reading ffmpeg output: %v", err)
	}
	// ffmpeg blocks on a full stderr pipe, so keep it drained until exit.
	_, _ = io.Copy(io.Discard, r)
}

// BuildArgs returns the ffmpeg arguments for config.
func BuildArgs(config common.CaptureConfig) []string {
	var args []string
	args = append(args, "-hide_banner", "-nostats")
	if isRTSP(config.StreamURL) && config.Transport != "" {
		args = append(args, "-rtsp_transport", config.Transport)
	}
	args = append(args,
		"-use_wallclock_as_timestamps", "1",
		"-i", config.StreamURL,
	)
	if config.DropAudio {
		args = append(args, "-c:v", "copy", "-an")
	} else {
		args = append(args, "-c", "copy")
	}

	format := config.Format
	if format == "" {
		format = common.FormatMPEGTS
	}
	seconds := int(config.SegmentDuration.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	args = append(args,
		"-f", "segment",
		"-segment_time", strconv.Itoa(seconds),
		"-segment_format", format,
		"-segment_start_number", strconv.FormatUint(config.StartNumber, 10),
	)
	if format == common.FormatMP4 {
		args = append(args, "-segment_format_options", "movflags=+faststart")
	}
	args = append(args,
		"-reset_timestamps", "1",
		"-avoid_negative_ts", "make_zero",
		filepath.Join(config.OutputDir, config.Naming.Pattern()),
	)
	return args
}

// Check verifies that bin runs and returns the first line of its version
// banner.
func Check(bin string) (string, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	out, err := execCommand(bin, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg not usable at %q: %w", bin, err)
	}
	first, _, _ := strings.Cut(string(bytes.TrimSpace(out)), "\n")
	return strings.TrimSpace(first), nil
}

// RedactURL masks the password in a stream URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

func redactArgs(args []string, rawURL string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == rawURL {
			a = RedactURL(rawURL)
		}
		out[i] = a
	}
	return out
}

func isRTSP(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "rtsps://")
}

func exitError(err error, tail *outputTail) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if last := tail.last(); last != "" {
			return fmt.Errorf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), last)
		}
		return fmt.Errorf("ffmpeg exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("ffmpeg failed: %w", err)
}

// scanLines splits on \n or \r, since ffmpeg rewrites status lines with \r.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	if len(data) >= maxLineBytes {
		return maxLineBytes, data[:maxLineBytes], nil
	}
	return 0, nil, nil
}

// outputTail keeps the last few stderr lines.
type outputTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func (t *outputTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *outputTail) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}
