package retention

import (
	"context"
	"fmt"
	"os"
	"time"

	"EnigmaNetz/Enigma-Go-DVR/internal/logger"
	"EnigmaNetz/Enigma-Go-DVR/internal/segment"
)

// removeFile is swapped out in tests to simulate permission errors.
var removeFile = os.Remove

// Config holds the sweeper settings.
type Config struct {
	Dir      string
	Naming   segment.Naming
	Policy   Policy
	Interval time.Duration
	// DryRun logs the selection without deleting anything.
	DryRun bool
}

// Result summarizes one sweep.
type Result struct {
	Scanned    int
	Removed    []string
	Failed     []string
	FreedBytes int64
}

// Sweeper periodically trims the segment directory according to a Policy.
type Sweeper struct {
	cfg Config
	now func() time.Time
	log *logger.Logger
}

// NewSweeper creates a sweeper for cfg.
func NewSweeper(cfg Config) *Sweeper {
	return &Sweeper{
		cfg: cfg,
		now: time.Now,
		log: logger.GetLogger(),
	}
}

// Sweep lists the directory once and deletes the segments selected by the
// policy. A file that cannot be deleted is logged and skipped; only a failure
// to list the directory is returned as an error.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	segments, err := segment.List(s.cfg.Dir, s.cfg.Naming)
	if err != nil {
		return Result{}, err
	}

	res := Result{Scanned: len(segments)}
	for _, seg := range s.cfg.Policy.Select(segments, s.now()) {
		if ctx.Err() != nil {
			break
		}
		if s.cfg.DryRun {
			s.log.Info("[sweeper] Would delete %s (age %s)", seg.Name, seg.Age(s.now()).Round(time.Second))
			res.Removed = append(res.Removed, seg.Name)
			res.FreedBytes += seg.Size
			continue
		}
		if err := removeFile(seg.Path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			s.log.Error("[sweeper] Failed to delete %s: %v", seg.Path, err)
			res.Failed = append(res.Failed, seg.Name)
			continue
		}
		s.log.Debug("[sweeper] Deleted %s", seg.Name)
		res.Removed = append(res.Removed, seg.Name)
		res.FreedBytes += seg.Size
	}

	if len(res.Removed) > 0 || len(res.Failed) > 0 {
		s.log.Info("[sweeper] Sweep done: scanned=%d removed=%d failed=%d freed=%s",
			res.Scanned, len(res.Removed), len(res.Failed), FormatBytes(res.FreedBytes))
	}
	return res, nil
}

// Run sweeps immediately and then on every interval tick until ctx is
// cancelled. Sweep errors are logged and never stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	s.log.Info("[sweeper] Retention sweeper started for %s (%s, every %s)", s.cfg.Dir, s.cfg.Policy, interval)

	s.sweepAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("[sweeper] Retention sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error("[sweeper] Sweep failed: %v", err)
	}
}

// FormatBytes renders a byte count with binary units, e.g. 1.5MiB.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
