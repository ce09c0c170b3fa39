/*
nudge.go - Periodic status-nudge predicates

PURPOSE:
  Bookings drift: a reserved booking whose start date has passed should
  have gone out, an ongoing one past its end date should have come back.
  The engine exposes only the predicates and a scan over the ledger; an
  external scheduler decides cadence and what to do with the result.

ADVISORY ONLY:
  The scan never transitions state. Passing an expected return date is a
  message to an operator, not an automatic finished → returned step.

SEE ALSO:
  - api/scheduler.go: The cron job that runs the scan and logs
  - lifecycle.go: The transitions an operator would then trigger
*/
package booking

import (
	"context"
	"time"
)

// =============================================================================
// NUDGES
// =============================================================================

// NudgeKind says what a booking's dates imply about its state.
type NudgeKind string

const (
	// NudgeShouldStart: planned start has passed but units are not out.
	NudgeShouldStart NudgeKind = "should_start"

	// NudgeShouldFinish: planned end has passed but the booking isn't
	// finished/returned.
	NudgeShouldFinish NudgeKind = "should_finish"
)

// Nudge is one advisory finding from a scan.
type Nudge struct {
	BookingID BookingID
	Reference string
	State     LineState
	Window    Window
	Kind      NudgeKind
}

// ShouldStart reports whether the booking's planned dates say it should be
// out now: date_start <= now < date_end while still reserved/booked.
func ShouldStart(b Booking, now time.Time) bool {
	if b.State != StateReserved && b.State != StateBooked {
		return false
	}
	if b.Window.IsZero() {
		return false
	}
	return !now.Before(b.Window.Start) && now.Before(b.Window.End)
}

// ShouldFinish reports whether the booking has passed its end date without
// being finished or returned: date_end <= now.
func ShouldFinish(b Booking, now time.Time) bool {
	switch b.State {
	case StateReserved, StateBooked, StateOngoing:
	default:
		return false
	}
	if b.Window.End.IsZero() {
		return false
	}
	return !now.Before(b.Window.End)
}

// =============================================================================
// SCANNER
// =============================================================================

// StateNudger scans the ledger for bookings whose dates and state disagree.
type StateNudger struct {
	Store     BookingStore
	CompanyID CompanyID // empty = all companies
}

// Scan returns due nudges at the given instant. A booking past its end
// date yields only the should-finish nudge, not both.
func (n *StateNudger) Scan(ctx context.Context, now time.Time) ([]Nudge, error) {
	bookings, err := n.Store.ListBookings(ctx, n.CompanyID,
		[]LineState{StateReserved, StateBooked, StateOngoing})
	if err != nil {
		return nil, err
	}

	var nudges []Nudge
	for _, b := range bookings {
		switch {
		case ShouldFinish(b, now):
			nudges = append(nudges, Nudge{
				BookingID: b.ID, Reference: b.Reference, State: b.State,
				Window: b.Window, Kind: NudgeShouldFinish,
			})
		case ShouldStart(b, now):
			nudges = append(nudges, Nudge{
				BookingID: b.ID, Reference: b.Reference, State: b.State,
				Window: b.Window, Kind: NudgeShouldStart,
			})
		}
	}
	return nudges, nil
}
