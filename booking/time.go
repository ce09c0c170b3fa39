/*
time.go - Half-open windows and Monday-aligned week bucketing

PURPOSE:
  The two time primitives everything else is built on:
  - Window: a half-open [Start, End) interval with the single overlap
    predicate used by both the grid and the point-in-time admission check.
  - WeekBucket: a fixed 7-day Monday-aligned slice used as a grid column.

OVERLAP SEMANTICS:
  Two half-open intervals overlap iff a.Start < b.End AND a.End > b.Start.
  Touching-but-not-crossing intervals (a.End == b.Start) do NOT overlap:
  a rental returned Monday 00:00 does not collide with one starting
  Monday 00:00.

WEEK BUCKETS:
  Buckets align to the Monday of the week containing the reference instant
  (weekday index where Monday = 0) and run [start, start+7d). The bucket
  count is clamped to [1, 20]; non-positive input falls back to 12.

COLUMN KEYS:
  Buckets are identified by their ISO week: "2025-W03". The short display
  label is "V.3". Keys are deterministic so two grid builds over the same
  window produce identical columns.

SEE ALSO:
  - aggregate.go: Sums committed quantities per bucket
  - grid.go: Uses buckets as grid columns
*/
package booking

import (
	"fmt"
	"time"
)

// =============================================================================
// WINDOW - Half-open time interval
// =============================================================================

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window from two instants.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

// Overlaps reports whether two half-open intervals share at least one
// instant. This is the single overlap predicate for the whole engine.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && w.End.After(other.Start)
}

// Contains reports whether the instant falls inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsValid reports whether the window is well-formed (Start strictly before
// End). Enforced at commitment time, not at draft creation.
func (w Window) IsValid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && w.Start.Before(w.End)
}

// IsZero reports whether either bound is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() || w.End.IsZero()
}

func (w Window) String() string {
	return "[" + w.Start.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + ")"
}

// =============================================================================
// WEEK BUCKETS - Monday-aligned grid columns
// =============================================================================

const (
	// DefaultWeekCount is used when the caller passes no (or a non-positive)
	// week count.
	DefaultWeekCount = 12

	// MaxWeekCount bounds the grid width; requests beyond it are clamped.
	MaxWeekCount = 20
)

// WeekBucket is one 7-day, Monday-aligned grid column.
type WeekBucket struct {
	Key    string // "2025-W03" - deterministic column identity
	Label  string // "V.3" - short display label
	Window Window // [Monday 00:00, next Monday 00:00)
}

// ClampWeekCount normalizes a requested week count to [1, MaxWeekCount],
// defaulting to DefaultWeekCount for non-positive input.
func ClampWeekCount(weekCount int) int {
	if weekCount <= 0 {
		return DefaultWeekCount
	}
	if weekCount > MaxWeekCount {
		return MaxWeekCount
	}
	return weekCount
}

// WeekBuckets produces weekCount consecutive 7-day buckets starting at the
// Monday of the week containing reference. The reference's time-of-day is
// discarded; buckets start at midnight UTC of their Monday.
func WeekBuckets(reference time.Time, weekCount int) []WeekBucket {
	weekCount = ClampWeekCount(weekCount)

	monday := MondayOf(reference)
	buckets := make([]WeekBucket, 0, weekCount)
	for i := 0; i < weekCount; i++ {
		start := monday.AddDate(0, 0, 7*i)
		end := start.AddDate(0, 0, 7)
		buckets = append(buckets, WeekBucket{
			Key:    WeekKey(start),
			Label:  WeekLabel(start),
			Window: Window{Start: start, End: end},
		})
	}
	return buckets
}

// MondayOf returns midnight UTC of the Monday of the week containing t.
func MondayOf(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	// time.Weekday has Sunday = 0; shift so Monday = 0.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// WeekKey returns the deterministic column key "{isoYear}-W{isoWeek:02d}".
func WeekKey(bucketStart time.Time) string {
	year, week := bucketStart.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// WeekLabel returns the short display label "V.{isoWeek}".
func WeekLabel(bucketStart time.Time) string {
	_, week := bucketStart.ISOWeek()
	return fmt.Sprintf("V.%d", week)
}

// SpanOf returns the overall window covered by a bucket list.
func SpanOf(buckets []WeekBucket) Window {
	if len(buckets) == 0 {
		return Window{}
	}
	return Window{Start: buckets[0].Window.Start, End: buckets[len(buckets)-1].Window.End}
}
