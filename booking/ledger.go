/*
ledger.go - Collaborator interfaces between the engine and persistence

PURPOSE:
  Defines what the availability engine needs from the outside world:
  - CapacitySource: the configured fleet ceiling per product
  - CommitmentLedger: querying booking lines (the shared mutable resource)
  - BookingStore: header/line persistence for the lifecycle controller
  - TxRunner: the serializable boundary spanning check-and-commit

GROUPED SUMS:
  SumQuantityByProduct is a performance contract, not a behavioral one:
  stores answer point checks with one grouped query (GROUP BY product)
  instead of row-by-row iteration. FindLines remains for the bucketed grid
  path, which needs each line's window to spread it across buckets.

CONCURRENCY CONTRACT:
  The admission check's read-then-decide-then-write sequence for a given
  product/warehouse must be serializable against any other admission check
  or mutation touching overlapping lines. Otherwise two concurrent commits
  can both pass the check and jointly overcommit. TxRunner.WithTx is that
  boundary: SQLite serializes through its single writer, PostgreSQL through
  a serializable transaction with row locks on the products involved.

IMPLEMENTATIONS:
  - store/sqlite:        production SQLite store
  - store/postgres:      production PostgreSQL store
  - booking/store:       in-memory store for tests and dev

SEE ALSO:
  - aggregate.go: Consumes FindLines / SumQuantityByProduct
  - lifecycle.go: Consumes BookingStore + TxRunner
*/
package booking

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CAPACITY SOURCE
// =============================================================================

// CapacitySource yields, per product, the total fleet capacity: a
// configured ceiling independent of physical location.
type CapacitySource interface {
	// FleetCapacity returns the configured ceiling for one product.
	// A missing product yields zero, not an error; admission treats zero
	// as a configuration problem.
	FleetCapacity(ctx context.Context, companyID CompanyID, productID ProductID) (decimal.Decimal, error)

	// FleetCapacities is the batch form used by the grid builder.
	FleetCapacities(ctx context.Context, companyID CompanyID, productIDs []ProductID) (map[ProductID]decimal.Decimal, error)
}

// =============================================================================
// COMMITMENT LEDGER - Query side
// =============================================================================

// LineFilter selects booking lines. Zero-valued fields are ignored.
type LineFilter struct {
	ProductIDs []ProductID
	CompanyID  CompanyID
	States     []LineState

	// SourceWarehouseID scopes to lines drawing from one warehouse.
	SourceWarehouseID WarehouseID

	// ReturnWarehouseID scopes to lines scheduled to land at one warehouse
	// (matching the line's effective return warehouse).
	ReturnWarehouseID WarehouseID

	// Overlapping keeps only lines whose window overlaps this one.
	Overlapping *Window

	// ReturnedBy keeps only lines with ExpectedReturnAt() <= this instant.
	ReturnedBy *time.Time

	// ExcludeLineID drops one line, so a line being re-checked after
	// mutation does not count against itself.
	ExcludeLineID LineID
}

// CommitmentLedger is the read side of the shared booking-line set.
// Implementations must exclude non-countable lines (zero/negative quantity,
// missing product) from both operations.
type CommitmentLedger interface {
	// FindLines returns all lines matching the filter.
	FindLines(ctx context.Context, filter LineFilter) ([]BookingLine, error)

	// SumQuantityByProduct returns the summed quantity per product for
	// lines matching the filter. Products with no matching lines are
	// absent from the map.
	SumQuantityByProduct(ctx context.Context, filter LineFilter) (map[ProductID]decimal.Decimal, error)
}

// =============================================================================
// BOOKING STORE - Mutation side
// =============================================================================

// BookingStore persists bookings and their lines. Lines are owned by their
// booking: deleting a booking cascades to its lines.
type BookingStore interface {
	SaveBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)
	ListBookings(ctx context.Context, companyID CompanyID, states []LineState) ([]Booking, error)
	DeleteBooking(ctx context.Context, id BookingID) error

	// SetState updates the booking header state and mirrors it onto all of
	// the booking's lines. Callers run the transition guards first.
	SetState(ctx context.Context, id BookingID, state LineState) error

	// SaveLine inserts or updates a single line.
	SaveLine(ctx context.Context, line BookingLine) error
}

// =============================================================================
// TRANSACTIONAL BOUNDARY
// =============================================================================

// LedgerView is what an admission check sees inside a transaction: the
// capacity and ledger reads and the state writes that must be serializable
// together. Capacity is part of the view so the check never re-enters the
// store's own locking from inside the unit.
type LedgerView interface {
	CapacitySource
	CommitmentLedger
	BookingStore
}

// TxRunner executes fn within the store's serializable unit. If fn returns
// an error the transaction rolls back; the rejected commit leaves no
// partial effects.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(view LedgerView) error) error
}

// =============================================================================
// MOVEMENT COLLABORATOR
// =============================================================================

// MovementExecutor is invoked on the physical-movement transitions:
// booked → ongoing (outbound transfer) and finished → returned (inbound
// transfer). Execution mechanics are out of scope; failures are reported
// but never roll back the already-committed state transition.
type MovementExecutor interface {
	// CreateOutbound moves the booking's lines source → rental location.
	CreateOutbound(ctx context.Context, b Booking) error

	// CreateInbound moves the booking's lines rental → source location.
	CreateInbound(ctx context.Context, b Booking) error
}

// NopMovement is a MovementExecutor that does nothing. Useful when physical
// execution is handled entirely outside the engine.
type NopMovement struct{}

func (NopMovement) CreateOutbound(context.Context, Booking) error { return nil }
func (NopMovement) CreateInbound(context.Context, Booking) error  { return nil }
