package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/booking"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func window(start, end time.Time) booking.Window {
	return booking.Window{Start: start, End: end}
}

// =============================================================================
// WINDOW OVERLAP TESTS
// =============================================================================

func TestWindow_Overlaps_SharedInstant(t *testing.T) {
	// GIVEN: Two windows sharing several days
	// WHEN: Testing overlap in both directions
	// THEN: Both directions report true (the predicate is symmetric)

	a := window(date(2025, time.March, 3), date(2025, time.March, 10))
	b := window(date(2025, time.March, 7), date(2025, time.March, 14))

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a), "overlap must be symmetric")
}

func TestWindow_Overlaps_TouchingDoesNotCollide(t *testing.T) {
	// GIVEN: A rental returned Monday 00:00 and one starting Monday 00:00
	// WHEN: Testing overlap
	// THEN: Half-open semantics say they do NOT overlap

	handover := date(2025, time.March, 10)
	first := window(date(2025, time.March, 3), handover)
	second := window(handover, date(2025, time.March, 17))

	assert.False(t, first.Overlaps(second))
	assert.False(t, second.Overlaps(first))
}

func TestWindow_Overlaps_Containment(t *testing.T) {
	// GIVEN: A window fully inside another
	// WHEN: Testing overlap
	// THEN: Containment counts as overlap

	outer := window(date(2025, time.March, 1), date(2025, time.March, 31))
	inner := window(date(2025, time.March, 10), date(2025, time.March, 12))

	assert.True(t, outer.Overlaps(inner))
	assert.True(t, inner.Overlaps(outer))
}

func TestWindow_Contains_HalfOpen(t *testing.T) {
	w := window(date(2025, time.March, 3), date(2025, time.March, 10))

	assert.True(t, w.Contains(date(2025, time.March, 3)), "start is inside")
	assert.True(t, w.Contains(date(2025, time.March, 9)))
	assert.False(t, w.Contains(date(2025, time.March, 10)), "end is outside")
}

func TestWindow_IsValid(t *testing.T) {
	assert.True(t, window(date(2025, 3, 3), date(2025, 3, 10)).IsValid())
	assert.False(t, window(date(2025, 3, 10), date(2025, 3, 3)).IsValid(), "inverted")
	assert.False(t, window(date(2025, 3, 3), date(2025, 3, 3)).IsValid(), "empty")
	assert.False(t, booking.Window{Start: date(2025, 3, 3)}.IsValid(), "missing end")
}

// =============================================================================
// WEEK BUCKET TESTS
// =============================================================================

func TestWeekBuckets_MondayAlignment(t *testing.T) {
	// GIVEN: A reference on a Thursday afternoon
	// WHEN: Building buckets
	// THEN: The first bucket starts on the Monday of that week at midnight UTC

	thursday := time.Date(2025, time.January, 16, 15, 42, 0, 0, time.UTC)
	buckets := booking.WeekBuckets(thursday, 4)

	require.Len(t, buckets, 4)
	first := buckets[0].Window.Start
	assert.Equal(t, time.Monday, first.Weekday())
	assert.Equal(t, date(2025, time.January, 13), first)
}

func TestWeekBuckets_ConsecutiveAndSevenDays(t *testing.T) {
	buckets := booking.WeekBuckets(date(2025, time.June, 4), 6)

	require.Len(t, buckets, 6)
	for i, b := range buckets {
		assert.Equal(t, b.Window.Start.AddDate(0, 0, 7), b.Window.End, "bucket %d spans 7 days", i)
		if i > 0 {
			assert.Equal(t, buckets[i-1].Window.End, b.Window.Start, "bucket %d is contiguous", i)
		}
	}
}

func TestWeekBuckets_DeterministicKeys(t *testing.T) {
	// GIVEN: Two references inside the same week, different time-of-day
	// WHEN: Building buckets from each
	// THEN: Column keys are identical

	a := booking.WeekBuckets(time.Date(2025, time.January, 14, 9, 0, 0, 0, time.UTC), 3)
	b := booking.WeekBuckets(time.Date(2025, time.January, 17, 23, 0, 0, 0, time.UTC), 3)

	for i := range a {
		assert.Equal(t, a[i].Key, b[i].Key)
	}
}

func TestWeekBuckets_ISOKeyAndLabel(t *testing.T) {
	// Jan 13 2025 is the Monday of ISO week 3.
	buckets := booking.WeekBuckets(date(2025, time.January, 13), 1)

	require.Len(t, buckets, 1)
	assert.Equal(t, "2025-W03", buckets[0].Key)
	assert.Equal(t, "V.3", buckets[0].Label)
}

func TestWeekBuckets_YearBoundary(t *testing.T) {
	// GIVEN: A reference in the last ISO week of 2025
	// WHEN: Building buckets across the year boundary
	// THEN: Keys carry the ISO year, so ordering stays unambiguous

	buckets := booking.WeekBuckets(date(2025, time.December, 29), 3)

	require.Len(t, buckets, 3)
	assert.Equal(t, "2026-W01", buckets[0].Key)
	assert.Equal(t, "2026-W02", buckets[1].Key)
}

func TestClampWeekCount(t *testing.T) {
	assert.Equal(t, booking.DefaultWeekCount, booking.ClampWeekCount(0))
	assert.Equal(t, booking.DefaultWeekCount, booking.ClampWeekCount(-5))
	assert.Equal(t, 1, booking.ClampWeekCount(1))
	assert.Equal(t, booking.MaxWeekCount, booking.ClampWeekCount(booking.MaxWeekCount+30))
}

func TestSpanOf(t *testing.T) {
	buckets := booking.WeekBuckets(date(2025, time.June, 2), 4)
	span := booking.SpanOf(buckets)

	assert.Equal(t, buckets[0].Window.Start, span.Start)
	assert.Equal(t, buckets[3].Window.End, span.End)
	assert.True(t, booking.SpanOf(nil).IsZero())
}

// =============================================================================
// STATE MACHINE TESTS
// =============================================================================

func TestCanTransition_ForwardOnly(t *testing.T) {
	assert.True(t, booking.CanTransition(booking.StateDraft, booking.StateReserved))
	assert.True(t, booking.CanTransition(booking.StateReserved, booking.StateBooked))
	assert.True(t, booking.CanTransition(booking.StateBooked, booking.StateOngoing))
	assert.True(t, booking.CanTransition(booking.StateOngoing, booking.StateFinished))
	assert.True(t, booking.CanTransition(booking.StateFinished, booking.StateReturned))

	assert.False(t, booking.CanTransition(booking.StateDraft, booking.StateBooked), "no skipping")
	assert.False(t, booking.CanTransition(booking.StateBooked, booking.StateReserved), "no going back")
	assert.False(t, booking.CanTransition(booking.StateReturned, booking.StateReturned))
}

func TestCanTransition_CancelFromAnyNonTerminal(t *testing.T) {
	for _, from := range []booking.LineState{
		booking.StateDraft, booking.StateReserved, booking.StateBooked,
		booking.StateOngoing, booking.StateFinished,
	} {
		assert.True(t, booking.CanTransition(from, booking.StateCancelled), "cancel from %s", from)
	}
	assert.False(t, booking.CanTransition(booking.StateReturned, booking.StateCancelled))
	assert.False(t, booking.CanTransition(booking.StateCancelled, booking.StateCancelled))
}

func TestLineState_CommitmentTiers(t *testing.T) {
	assert.False(t, booking.StateReserved.IsHardCommitment(), "reserved is a soft hold")
	assert.True(t, booking.StateBooked.IsHardCommitment())
	assert.True(t, booking.StateOngoing.IsHardCommitment())
	assert.True(t, booking.StateFinished.IsHardCommitment())

	assert.False(t, booking.StateBooked.IsInFlight(), "booked units are still in the warehouse")
	assert.True(t, booking.StateOngoing.IsInFlight())
	assert.True(t, booking.StateFinished.IsInFlight())
}

// =============================================================================
// LINE DEFAULTS
// =============================================================================

func TestBookingLine_Defaults(t *testing.T) {
	line := booking.BookingLine{
		SourceWarehouseID: "wh-main",
		Window:            window(date(2025, 3, 3), date(2025, 3, 10)),
	}

	assert.Equal(t, booking.WarehouseID("wh-main"), line.ReturnWarehouse(),
		"return warehouse defaults to source")
	assert.Equal(t, line.Window.End, line.ExpectedReturnAt(),
		"expected return defaults to window end")

	other := date(2025, 3, 8)
	line.ReturnWarehouseID = "wh-north"
	line.ExpectedReturn = &other
	assert.Equal(t, booking.WarehouseID("wh-north"), line.ReturnWarehouse())
	assert.Equal(t, other, line.ExpectedReturnAt())
}

func TestBookingLine_Countable(t *testing.T) {
	w := window(date(2025, 3, 3), date(2025, 3, 10))

	assert.True(t, booking.BookingLine{ProductID: "p", Quantity: booking.Qty(1), Window: w}.Countable())
	assert.False(t, booking.BookingLine{Quantity: booking.Qty(1), Window: w}.Countable(), "no product")
	assert.False(t, booking.BookingLine{ProductID: "p", Window: w}.Countable(), "zero quantity")
	assert.False(t, booking.BookingLine{ProductID: "p", Quantity: booking.Qty(-2), Window: w}.Countable(), "negative quantity")
	assert.False(t, booking.BookingLine{ProductID: "p", Quantity: booking.Qty(1)}.Countable(), "no window")
}
