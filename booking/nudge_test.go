package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/booking"
)

// =============================================================================
// PREDICATE TESTS
// =============================================================================

func nudgeBooking(state booking.LineState, start, end time.Time) booking.Booking {
	return booking.Booking{
		ID: "b-1", Reference: "RB-1", CompanyID: testCompany,
		State:  state,
		Window: window(start, end),
	}
}

func TestShouldStart(t *testing.T) {
	now := date(2025, 3, 5)

	assert.True(t, booking.ShouldStart(
		nudgeBooking(booking.StateBooked, date(2025, 3, 3), date(2025, 3, 10)), now),
		"booked and inside the window")
	assert.True(t, booking.ShouldStart(
		nudgeBooking(booking.StateReserved, date(2025, 3, 5), date(2025, 3, 10)), now),
		"start boundary is inclusive")

	assert.False(t, booking.ShouldStart(
		nudgeBooking(booking.StateBooked, date(2025, 3, 6), date(2025, 3, 10)), now),
		"not started yet")
	assert.False(t, booking.ShouldStart(
		nudgeBooking(booking.StateOngoing, date(2025, 3, 3), date(2025, 3, 10)), now),
		"already out")
	assert.False(t, booking.ShouldStart(
		nudgeBooking(booking.StateBooked, time.Time{}, time.Time{}), now),
		"no dates, nothing to say")
}

func TestShouldFinish(t *testing.T) {
	now := date(2025, 3, 12)

	assert.True(t, booking.ShouldFinish(
		nudgeBooking(booking.StateOngoing, date(2025, 3, 3), date(2025, 3, 10)), now))
	assert.True(t, booking.ShouldFinish(
		nudgeBooking(booking.StateBooked, date(2025, 3, 3), date(2025, 3, 12)), now),
		"end boundary is inclusive")

	assert.False(t, booking.ShouldFinish(
		nudgeBooking(booking.StateOngoing, date(2025, 3, 3), date(2025, 3, 13)), now),
		"still running")
	assert.False(t, booking.ShouldFinish(
		nudgeBooking(booking.StateReturned, date(2025, 3, 3), date(2025, 3, 10)), now),
		"already back")
}

// =============================================================================
// SCAN TESTS
// =============================================================================

func TestNudgeScan_FinishWinsOverStart(t *testing.T) {
	// GIVEN: A booked booking whose whole window is in the past
	// WHEN: Scanning
	// THEN: One nudge only - should_finish, not both

	m := newEngine(t)
	ctx := context.Background()
	require.NoError(t, m.SaveBooking(ctx,
		nudgeBooking(booking.StateBooked, date(2025, 3, 3), date(2025, 3, 10))))

	nudger := &booking.StateNudger{Store: m, CompanyID: testCompany}
	nudges, err := nudger.Scan(ctx, date(2025, 3, 20))

	require.NoError(t, err)
	require.Len(t, nudges, 1)
	assert.Equal(t, booking.NudgeShouldFinish, nudges[0].Kind)
	assert.Equal(t, "RB-1", nudges[0].Reference)
}

func TestNudgeScan_IgnoresDraftsAndTerminal(t *testing.T) {
	m := newEngine(t)
	ctx := context.Background()

	past := window(date(2025, 3, 3), date(2025, 3, 10))
	for i, state := range []booking.LineState{
		booking.StateDraft, booking.StateReturned, booking.StateCancelled,
	} {
		b := nudgeBooking(state, past.Start, past.End)
		b.ID = booking.BookingID(string(rune('a' + i)))
		require.NoError(t, m.SaveBooking(ctx, b))
	}

	nudger := &booking.StateNudger{Store: m, CompanyID: testCompany}
	nudges, err := nudger.Scan(ctx, date(2025, 3, 20))

	require.NoError(t, err)
	assert.Empty(t, nudges)
}

func TestNudgeScan_QuietWhenOnSchedule(t *testing.T) {
	m := newEngine(t)
	ctx := context.Background()
	require.NoError(t, m.SaveBooking(ctx,
		nudgeBooking(booking.StateOngoing, date(2025, 3, 3), date(2025, 3, 10))))

	nudger := &booking.StateNudger{Store: m, CompanyID: testCompany}
	nudges, err := nudger.Scan(ctx, date(2025, 3, 7))

	require.NoError(t, err)
	assert.Empty(t, nudges, "an ongoing booking inside its window needs no nudge")
}
