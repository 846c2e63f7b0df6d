package interval

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidSpan indicates a span outside [0, duration) or with end <= start.
var ErrInvalidSpan = errors.New("invalid span")

// Span is a half-open [Start, End) range over a video timeline, in seconds.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns the span length in seconds.
func (s Span) Length() float64 {
	return s.End - s.Start
}

// Set is a sorted list of disjoint, non-touching spans.
// The zero value is an empty set ready for use.
type Set struct {
	Spans []Span `json:"spans"`
}

// Validate checks a reported span against the video duration.
func Validate(s Span, duration float64) error {
	if duration <= 0 {
		return fmt.Errorf("%w: duration %.2f must be positive", ErrInvalidSpan, duration)
	}
	if s.Start < 0 || s.End > duration || s.Start >= s.End {
		return fmt.Errorf("%w: [%.2f, %.2f) outside [0, %.2f)", ErrInvalidSpan, s.Start, s.End, duration)
	}
	return nil
}

// Clamp trims a span to [0, duration]. The result may be empty.
func Clamp(s Span, duration float64) Span {
	if s.Start < 0 {
		s.Start = 0
	}
	if s.End > duration {
		s.End = duration
	}
	return s
}

// Add merges a span into the set, coalescing any spans it overlaps or
// touches. Re-adding an already-covered range is a no-op. Returns true when
// the set changed.
func (set *Set) Add(s Span) bool {
	if s.End <= s.Start {
		return false
	}
	spans := set.Spans

	// First span whose end reaches the new start; everything before it is
	// strictly left of s and untouched.
	lo := sort.Search(len(spans), func(i int) bool { return spans[i].End >= s.Start })
	// First span starting past the new end; [lo, hi) is the merge window.
	hi := sort.Search(len(spans), func(i int) bool { return spans[i].Start > s.End })

	if lo == hi {
		// No overlap or touch, plain insert.
		set.Spans = append(spans, Span{})
		copy(set.Spans[lo+1:], set.Spans[lo:])
		set.Spans[lo] = s
		return true
	}

	merged := Span{Start: s.Start, End: s.End}
	if spans[lo].Start < merged.Start {
		merged.Start = spans[lo].Start
	}
	if spans[hi-1].End > merged.End {
		merged.End = spans[hi-1].End
	}
	if hi-lo == 1 && spans[lo] == merged {
		// Subset of an existing span.
		return false
	}
	spans[lo] = merged
	set.Spans = append(spans[:lo+1], spans[hi:]...)
	return true
}

// Total returns the summed length of all spans, i.e. the union length of
// everything ever added.
func (set *Set) Total() float64 {
	var total float64
	for _, s := range set.Spans {
		total += s.Length()
	}
	return total
}

// Ratio returns watched fraction in [0, 1], capped at 1 so clamped or
// rounded input can never report over-coverage.
func Ratio(covered, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	r := covered / duration
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

// CrossedThreshold reports the one-shot transition where coverage first
// reaches the threshold: true only when prev < threshold <= next.
func CrossedThreshold(prev, next, threshold float64) bool {
	return prev < threshold && next >= threshold
}
