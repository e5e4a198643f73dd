package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"EnigmaNetz/Enigma-Go-DVR/internal/capture/common"
	"EnigmaNetz/Enigma-Go-DVR/internal/logger"
	"EnigmaNetz/Enigma-Go-DVR/internal/segment"
)

// ErrStalled is recorded when the capture process was restarted because no
// new segment appeared within the stall timeout.
var ErrStalled = errors.New("capture stalled: no new segment")

const (
	// DefaultRetryDelay is the delay before the first restart.
	DefaultRetryDelay = 10 * time.Second
	// DefaultMaxRetryDelay caps the linear backoff.
	DefaultMaxRetryDelay = 60 * time.Second
)

// RunnerConfig holds the supervisor settings.
type RunnerConfig struct {
	Capture common.CaptureConfig
	// RetryDelay grows linearly with each consecutive failure.
	RetryDelay time.Duration
	// MaxRetryDelay caps the delay between restarts.
	MaxRetryDelay time.Duration
	// StableAfter is how long a run must last for the backoff to reset.
	// Defaults to one segment duration.
	StableAfter time.Duration
	// StallTimeout restarts the capture when no segment has been created for
	// this long. 0 disables the watchdog.
	StallTimeout time.Duration
}

// Runner keeps the capture process alive, restarting it with backoff
// whenever it exits.
type Runner struct {
	capturer common.Capturer
	config   RunnerConfig
	segments <-chan segment.Event

	mu     sync.Mutex
	status common.CaptureStatus

	after func(time.Duration) <-chan time.Time
	log   *logger.Logger
}

// NewRunner creates a Runner and fills in defaults.
func NewRunner(cfg RunnerConfig, capturer common.Capturer) *Runner {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = cfg.Capture.SegmentDuration
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = time.Minute
	}
	return &Runner{
		capturer: capturer,
		config:   cfg,
		status: common.CaptureStatus{
			OutputDir:       cfg.Capture.OutputDir,
			SegmentDuration: cfg.Capture.SegmentDuration,
		},
		after: time.After,
		log:   logger.GetLogger(),
	}
}

// WatchSegments feeds new-segment events to the runner. They drive the
// stall watchdog and the status counters.
func (r *Runner) WatchSegments(events <-chan segment.Event) {
	r.segments = events
}

// Status returns a snapshot of the supervisor state.
func (r *Runner) Status() common.CaptureStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Run supervises the capture until ctx is cancelled. Retries are unbounded.
func (r *Runner) Run(ctx context.Context) error {
	cc := r.config.Capture
	r.log.Info("Capture runner started: %s segments into %s", cc.SegmentDuration, cc.OutputDir)

	attempt := 0
	for {
		if ctx.Err() != nil {
			break
		}

		started := time.Now()
		err := r.attempt(ctx)
		elapsed := time.Since(started)
		if ctx.Err() != nil {
			r.markExited(nil, 0)
			break
		}

		if elapsed >= r.config.StableAfter {
			attempt = 0
		}
		attempt++
		delay := r.backoff(attempt)
		r.markExited(err, delay)

		if err != nil {
			r.log.Warn("Capture exited after %s: %v; restarting in %s", elapsed.Round(time.Second), err, delay)
		} else {
			r.log.Warn("Stream ended after %s; restarting in %s", elapsed.Round(time.Second), delay)
		}

		select {
		case <-ctx.Done():
		case <-r.after(delay):
		}
	}
	r.log.Info("Capture runner stopped")
	return nil
}

// attempt runs the capturer once, starting after the highest segment already
// on disk so that a restart never overwrites earlier footage.
func (r *Runner) attempt(ctx context.Context) error {
	cfg := r.config.Capture
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	next, err := segment.NextSequence(cfg.OutputDir, cfg.Naming)
	if err != nil {
		return err
	}
	cfg.StartNumber = next

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.discardStaleEvents()
	r.markStarted()
	done := make(chan error, 1)
	go func() { done <- r.capturer.Capture(runCtx, cfg) }()

	var stall *time.Timer
	var stallC <-chan time.Time
	if r.config.StallTimeout > 0 {
		stall = time.NewTimer(r.config.StallTimeout)
		defer stall.Stop()
		stallC = stall.C
	}

	events := r.segments
	stalled := false
	for {
		select {
		case err := <-done:
			if stalled {
				return fmt.Errorf("%w for %s", ErrStalled, r.config.StallTimeout)
			}
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case ev, ok := <-events:
			if !ok {
				// Without a segment source the watchdog would fire forever.
				events = nil
				if stallC != nil {
					r.log.Warn("Segment events stopped, stall watchdog disabled")
					stallC = nil
				}
				continue
			}
			r.markSegment(ev)
			if stall != nil && !stalled {
				if !stall.Stop() {
					select {
					case <-stall.C:
					default:
					}
				}
				stall.Reset(r.config.StallTimeout)
			}
		case <-stallC:
			r.log.Warn("No new segment for %s, restarting capture", r.config.StallTimeout)
			stalled = true
			stallC = nil
			cancel()
		}
	}
}

// discardStaleEvents drops segment events queued while no capture was
// running, so they cannot count towards the next run.
func (r *Runner) discardStaleEvents() {
	if r.segments == nil {
		return
	}
	for {
		select {
		case _, ok := <-r.segments:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// backoff returns RetryDelay*attempt capped at MaxRetryDelay.
func (r *Runner) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.config.RetryDelay * time.Duration(attempt)
	if delay > r.config.MaxRetryDelay || delay <= 0 {
		delay = r.config.MaxRetryDelay
	}
	return delay
}

func (r *Runner) markStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.LastStart.IsZero() {
		r.status.Restarts++
	}
	r.status.IsRunning = true
	r.status.LastStart = time.Now()
}

func (r *Runner) markExited(err error, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.IsRunning = false
	r.status.LastExit = time.Now()
	r.status.RetryDelay = delay
	if err != nil {
		r.status.LastError = err.Error()
	}
}

func (r *Runner) markSegment(ev segment.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.LastSegment = ev.Name
	r.status.SegmentsSeen++
}
