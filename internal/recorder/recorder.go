package recorder

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os/signal"
	"sync"
	"syscall"

	"EnigmaNetz/Enigma-Go-DVR/config"
	"EnigmaNetz/Enigma-Go-DVR/internal/capture"
	"EnigmaNetz/Enigma-Go-DVR/internal/capture/common"
	"EnigmaNetz/Enigma-Go-DVR/internal/metadata"
	"EnigmaNetz/Enigma-Go-DVR/internal/retention"
	"EnigmaNetz/Enigma-Go-DVR/internal/segment"
)

// RunRecorder records the camera into cfg.Capture.OutputDir until ctx is
// cancelled or SIGINT/SIGTERM is received. The capture runner, the segment
// watcher and the retention sweeper run side by side; none of them stops the
// others on error. cfg must already be validated.
//
// Pass disableSignals=true in tests to leave signal handling to the caller.
func RunRecorder(ctx context.Context, cfg *config.Config, capturer common.Capturer, disableSignals ...bool) error {
	if len(disableSignals) == 0 || !disableSignals[0] {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	if err := cfg.PrepareOutputDir(); err != nil {
		return err
	}
	runnerCfg, err := cfg.RunnerConfig()
	if err != nil {
		return fmt.Errorf("invalid capture settings: %w", err)
	}
	log.Printf("[recorder] Starting: %s", cfg.Summary())

	var cameraHost string
	if u, err := url.Parse(runnerCfg.Capture.StreamURL); err == nil {
		cameraHost = u.Hostname()
	}
	meta := metadata.GenerateMetadata(cameraHost)
	log.Printf("[recorder] Session %s on %s %s (host_ips=%s)",
		meta["session_id"], meta["os_version"], meta["architecture"], meta["host_ips"])

	watcher := segment.NewWatcher(cfg.Capture.OutputDir, cfg.Naming())
	runner := capture.NewRunner(runnerCfg, capturer)
	runner.WatchSegments(watcher.Events())
	sweeper := retention.NewSweeper(cfg.SweeperConfig())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := watcher.Run(ctx); err != nil {
			log.Printf("[recorder] Segment watcher failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			log.Printf("[recorder] Capture runner failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil {
			log.Printf("[recorder] Retention sweeper failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[recorder] Shutting down, waiting for capture to finalize...")
	wg.Wait()

	st := runner.Status()
	log.Printf("[recorder] Stopped. restarts=%d segments_seen=%d last_segment=%q last_error=%q",
		st.Restarts, st.SegmentsSeen, st.LastSegment, st.LastError)
	return nil
}
