package common

import (
	"context"
	"time"

	"EnigmaNetz/Enigma-Go-DVR/internal/segment"
)

// Supported segment container formats.
const (
	FormatMPEGTS = "mpegts"
	FormatMP4    = "mp4"
)

// CaptureConfig holds configuration for one run of the capture process
type CaptureConfig struct {
	StreamURL       string         // Camera stream URL, credentials included
	OutputDir       string         // Directory segment files are written to
	SegmentDuration time.Duration  // Length of each segment file
	Naming          segment.Naming // Segment file naming
	Format          string         // Segment container, "mpegts" or "mp4"
	Transport       string         // RTSP lower transport: "tcp", "udp" or "http"
	StartNumber     uint64         // Sequence number of the first segment written
	DropAudio       bool           // Record video only
	StopTimeout     time.Duration  // Grace period for a clean shutdown before killing
}

// CaptureStatus is a point-in-time view of the capture supervisor
type CaptureStatus struct {
	IsRunning       bool
	OutputDir       string
	SegmentDuration time.Duration
	Restarts        int
	LastStart       time.Time
	LastExit        time.Time
	LastError       string
	RetryDelay      time.Duration
	LastSegment     string
	SegmentsSeen    int
}

// Capturer runs the external capture process once. Capture blocks until the
// process exits or ctx is cancelled; a nil error means the stream ended
// cleanly.
type Capturer interface {
	Capture(ctx context.Context, config CaptureConfig) error
}
