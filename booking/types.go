/*
Package booking provides the core rental availability engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking
  rentable fleet units against time-bounded bookings. The central question
  it answers: for any product and time window, how much capacity remains,
  considering overlapping commitments, warehouse scoping, and scheduled
  returns that replenish capacity before a new booking starts.

KEY CONCEPTS IN THIS FILE (types.go):
  - BookingLine: The atomic commitment unit (product, quantity, window, state)
  - Booking: Header grouping lines, with its own coarser lifecycle state
  - LineState: The 6-state lifecycle (reserved = soft hold, booked = hard)
  - Scope: Explicit company/warehouse scoping passed to every query
  - Quantity: decimal.Decimal to avoid floating-point drift in sums

DESIGN PRINCIPLES:
  1. Explicit scoping: No ambient "current company" context. Every
     aggregation call takes a Scope.
  2. Precision: Uses decimal.Decimal for quantities and capacities.
  3. Type Safety: Strong typing for IDs prevents mixing product/warehouse IDs.
  4. Ownership: Lines belong exclusively to their booking (cascade delete).

SEE ALSO:
  - time.go: Window overlap predicate and week bucketing
  - admission.go: The commitment-time capacity check
  - grid.go: The multi-week availability grid
*/
package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type LineID string
type ProductID string
type WarehouseID string
type CompanyID string

// Scope identifies whose capacity is being queried. CompanyID is always
// required; WarehouseID narrows to a single source warehouse when set.
type Scope struct {
	CompanyID   CompanyID
	WarehouseID WarehouseID // empty = all warehouses
}

// Scoped reports whether the scope narrows to a single warehouse.
func (s Scope) Scoped() bool { return s.WarehouseID != "" }

// =============================================================================
// QUANTITY HELPERS
// =============================================================================

// Qty builds a decimal quantity from a float. Test and wiring convenience;
// aggregation itself never round-trips through float64.
func Qty(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// =============================================================================
// LINE STATE - The commitment lifecycle
// =============================================================================

// LineState is the lifecycle state of a booking line.
//
// The machine is monotonic forward, except cancel which is reachable from
// any non-terminal state:
//
//	draft → reserved → booked → ongoing → finished → returned
//	                └──────────── cancelled ────────────┘
//
// Commitment tiers:
//   - reserved is a SOFT HOLD: it does not count against capacity.
//   - booked/ongoing/finished are HARD COMMITMENTS: they block capacity.
//   - ongoing/finished are additionally IN FLIGHT: units are physically out
//     and scheduled to return on ExpectedReturn.
type LineState string

const (
	StateDraft     LineState = "draft"
	StateReserved  LineState = "reserved"
	StateBooked    LineState = "booked"
	StateOngoing   LineState = "ongoing"
	StateFinished  LineState = "finished"
	StateReturned  LineState = "returned"
	StateCancelled LineState = "cancelled"
)

// stateOrder gives the forward progression rank. Cancelled is outside the
// progression and handled separately.
var stateOrder = map[LineState]int{
	StateDraft:    0,
	StateReserved: 1,
	StateBooked:   2,
	StateOngoing:  3,
	StateFinished: 4,
	StateReturned: 5,
}

// Valid reports whether s is one of the known states.
func (s LineState) Valid() bool {
	_, ok := stateOrder[s]
	return ok || s == StateCancelled
}

// Terminal reports whether the state admits no further transitions.
func (s LineState) Terminal() bool {
	return s == StateReturned || s == StateCancelled
}

// IsHardCommitment reports whether the state counts against fleet capacity.
func (s LineState) IsHardCommitment() bool {
	return s == StateBooked || s == StateOngoing || s == StateFinished
}

// IsInFlight reports whether units are physically out with a scheduled return.
func (s LineState) IsInFlight() bool {
	return s == StateOngoing || s == StateFinished
}

// HardCommitmentStates are the states summed by the overlap aggregator.
func HardCommitmentStates() []LineState {
	return []LineState{StateBooked, StateOngoing, StateFinished}
}

// InFlightStates are the states considered by the incoming-returns projector.
func InFlightStates() []LineState {
	return []LineState{StateOngoing, StateFinished}
}

// CanTransition reports whether from → to is a legal single step.
// Cancel is legal from any non-terminal state. Everything else must move
// exactly one rank forward.
func CanTransition(from, to LineState) bool {
	if to == StateCancelled {
		return !from.Terminal()
	}
	fromRank, okFrom := stateOrder[from]
	toRank, okTo := stateOrder[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank == fromRank+1
}

// =============================================================================
// BOOKING LINE - The atomic commitment unit
// =============================================================================

// BookingLine commits a quantity of one product for a time window.
//
// OWNERSHIP: A line belongs exclusively to its parent booking and is
// destroyed with it. Lines are never shared between bookings.
//
// AGGREGATION RULES:
//   - Zero or negative quantity lines are ignored by every aggregation.
//   - Cancelled lines are excluded from every state filter.
//   - The window is half-open [Start, End); Start < End is enforced at
//     commitment time, not creation time (drafts may be incomplete).
type BookingLine struct {
	ID        LineID
	BookingID BookingID
	CompanyID CompanyID

	ProductID ProductID
	Quantity  decimal.Decimal
	Window    Window
	State     LineState

	SourceWarehouseID WarehouseID
	ReturnWarehouseID WarehouseID // empty = same as source

	// ExpectedReturn is when the units are scheduled to land back at the
	// return warehouse. Only the incoming-returns projector reads it.
	// nil = the window end.
	ExpectedReturn *time.Time
}

// ReturnWarehouse resolves the effective return warehouse (defaults to source).
func (l BookingLine) ReturnWarehouse() WarehouseID {
	if l.ReturnWarehouseID != "" {
		return l.ReturnWarehouseID
	}
	return l.SourceWarehouseID
}

// ExpectedReturnAt resolves the effective expected return date (defaults to
// the window end).
func (l BookingLine) ExpectedReturnAt() time.Time {
	if l.ExpectedReturn != nil {
		return *l.ExpectedReturn
	}
	return l.Window.End
}

// Countable reports whether aggregation should consider this line at all.
func (l BookingLine) Countable() bool {
	return l.ProductID != "" && l.Quantity.IsPositive() && !l.Window.IsZero()
}

// =============================================================================
// BOOKING - Header grouping lines
// =============================================================================

// Booking groups lines under one customer/project engagement. Its state is
// a coarser lifecycle gate: a header transition is a precondition for, but
// never a substitute for, the per-line admission check.
type Booking struct {
	ID        BookingID
	Reference string
	CompanyID CompanyID

	CustomerID string
	ProjectID  string

	SourceWarehouseID WarehouseID
	ReturnWarehouseID WarehouseID

	Window Window
	State  LineState
	Notes  string

	Lines []BookingLine
}

// NeededByProduct sums line quantities per product. Used by the
// booking-scoped grid mode to derive the "needed" column.
func (b Booking) NeededByProduct() map[ProductID]decimal.Decimal {
	needed := make(map[ProductID]decimal.Decimal)
	for _, line := range b.Lines {
		if !line.Countable() {
			continue
		}
		needed[line.ProductID] = needed[line.ProductID].Add(line.Quantity)
	}
	return needed
}

// ProductIDs returns the distinct products across countable lines, in first
// appearance order.
func (b Booking) ProductIDs() []ProductID {
	seen := make(map[ProductID]bool)
	var ids []ProductID
	for _, line := range b.Lines {
		if !line.Countable() || seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		ids = append(ids, line.ProductID)
	}
	return ids
}

// =============================================================================
// PRODUCT AND WAREHOUSE RECORDS
// =============================================================================

// Product carries the configured fleet capacity: the ceiling on total
// rentable units regardless of where they physically sit.
type Product struct {
	ID            ProductID
	Name          string
	CompanyID     CompanyID
	FleetCapacity decimal.Decimal
}

// Warehouse is a scoping key only. Topology and locations are out of scope.
type Warehouse struct {
	ID        WarehouseID
	Name      string
	CompanyID CompanyID
}
