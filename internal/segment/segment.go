package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNotSegment is returned by Parse for names that do not follow the
// <prefix>_<sequence>.<ext> convention.
var ErrNotSegment = errors.New("not a segment file")

const (
	// DefaultPrefix is used when no prefix is configured.
	DefaultPrefix = "seg"
	// DefaultExtension matches the MPEG-TS segment format.
	DefaultExtension = "ts"
	// SequenceWidth is the zero padding applied to new segment names.
	SequenceWidth = 6
)

// Naming describes how segment files are named inside the output directory.
type Naming struct {
	Prefix    string
	Extension string // without the leading dot
}

// DefaultNaming returns seg_NNNNNN.ts naming.
func DefaultNaming() Naming {
	return Naming{Prefix: DefaultPrefix, Extension: DefaultExtension}
}

// Name returns the file name for the given sequence number.
func (n Naming) Name(seq uint64) string {
	return fmt.Sprintf("%s_%0*d.%s", n.Prefix, SequenceWidth, seq, n.Extension)
}

// Pattern returns the printf-style output pattern handed to ffmpeg's
// segment muxer.
func (n Naming) Pattern() string {
	return fmt.Sprintf("%s_%%0%dd.%s", n.Prefix, SequenceWidth, n.Extension)
}

// Parse extracts the sequence number from a segment file name. Any number of
// digits is accepted so that seg_9.ts and seg_0000010.ts both parse.
func (n Naming) Parse(name string) (uint64, error) {
	head := n.Prefix + "_"
	tail := "." + n.Extension
	if !strings.HasPrefix(name, head) || !strings.HasSuffix(name, tail) || len(name) <= len(head)+len(tail) {
		return 0, ErrNotSegment
	}
	digits := name[len(head) : len(name)-len(tail)]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, ErrNotSegment
		}
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNotSegment, name)
	}
	return seq, nil
}

// Info describes a segment file found on disk.
type Info struct {
	Name     string
	Path     string
	Sequence uint64
	Size     int64
	ModTime  time.Time
}

// Age returns how long ago the segment was last modified.
func (i Info) Age(now time.Time) time.Duration {
	return now.Sub(i.ModTime)
}

// List returns the segment files in dir ordered oldest first. Files that do
// not match the naming convention and subdirectories are ignored.
func List(dir string, n Naming) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment directory %s: %w", dir, err)
	}

	segments := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, err := n.Parse(entry.Name())
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		segments = append(segments, Info{
			Name:     entry.Name(),
			Path:     filepath.Join(dir, entry.Name()),
			Sequence: seq,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	Sort(segments)
	return segments, nil
}

// Sort orders segments by sequence number, breaking ties on the file name.
func Sort(segments []Info) {
	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].Sequence != segments[j].Sequence {
			return segments[i].Sequence < segments[j].Sequence
		}
		return segments[i].Name < segments[j].Name
	})
}

// NextSequence returns the number the next capture should start at: one past
// the highest sequence on disk, or 1 for an empty directory.
func NextSequence(dir string, n Naming) (uint64, error) {
	segments, err := List(dir, n)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 1, nil
	}
	return segments[len(segments)-1].Sequence + 1, nil
}
