package retention

import (
	"errors"
	"fmt"
	"time"

	"EnigmaNetz/Enigma-Go-DVR/internal/segment"
)

// ErrNoRule is returned by Validate when neither the count nor the age rule
// is enabled, which would let the output directory grow without bound.
var ErrNoRule = errors.New("retention policy must set max_count or max_age")

// Policy decides which segments are deleted.
type Policy struct {
	// MaxCount keeps at most this many segments. 0 disables the count rule.
	MaxCount int
	// MaxAge deletes segments last modified longer ago than this. 0 disables the age rule.
	MaxAge time.Duration
	// MinAge protects segments modified more recently than this from either rule.
	MinAge time.Duration
}

// Validate checks the policy for values that cannot be applied.
func (p Policy) Validate() error {
	if p.MaxCount < 0 {
		return fmt.Errorf("max_count must not be negative, got %d", p.MaxCount)
	}
	if p.MaxAge < 0 {
		return fmt.Errorf("max_age must not be negative, got %s", p.MaxAge)
	}
	if p.MinAge < 0 {
		return fmt.Errorf("min_age must not be negative, got %s", p.MinAge)
	}
	if p.MaxCount == 0 && p.MaxAge == 0 {
		return ErrNoRule
	}
	return nil
}

// String renders the policy for log lines.
func (p Policy) String() string {
	return fmt.Sprintf("max_count=%d max_age=%s min_age=%s", p.MaxCount, p.MaxAge, p.MinAge)
}

// Select returns the segments that should be deleted, oldest first.
//
// The newest segment is never selected since it may still be open for
// writing, and nothing modified within MinAge is selected.
func (p Policy) Select(segments []segment.Info, now time.Time) []segment.Info {
	if len(segments) < 2 {
		return nil
	}
	ordered := make([]segment.Info, len(segments))
	copy(ordered, segments)
	segment.Sort(ordered)

	closed := ordered[:len(ordered)-1]

	excess := 0
	if p.MaxCount > 0 && len(ordered) > p.MaxCount {
		excess = len(ordered) - p.MaxCount
	}

	var selected []segment.Info
	for i, s := range closed {
		age := s.Age(now)
		if p.MinAge > 0 && age < p.MinAge {
			continue
		}
		overCount := i < excess
		overAge := p.MaxAge > 0 && age > p.MaxAge
		if overCount || overAge {
			selected = append(selected, s)
		}
	}
	return selected
}
