/*
admission.go - The commitment-time capacity check

PURPOSE:
  The point-in-time guard executed at the hard-commitment boundary
  (reserved → booked) and re-run whenever a hard-committed line is
  mutated. For each line:

    available = fleet_capacity(product)
              - committed_overlap(product, window, {booked,ongoing,finished},
                                  scope = source warehouse)
              + incoming(product, source warehouse,
                         expected_return <= window.start, {ongoing,finished})

    admit iff requested <= available

  Equality passes: a request for exactly the remaining units is admitted.

SEPARATE ACCOUNTING CHANNELS:
  An in-flight line counts in committed_overlap AND, once its return date
  precedes the new window, adds back through incoming. The two channels are
  netted here, never merged upstream.

DIAGNOSTICS:
  Both outcomes carry the full numeric breakdown (capacity, committed,
  incoming, available, requested) so an operator can decide whether to
  adjust quantity, dates, or warehouse.

CONCURRENCY:
  Check must run inside the ledger's serializable unit together with the
  state write. A second concurrent commit attempt re-reads the ledger and
  sees the first's committed quantity; first admitted wins.

SEE ALSO:
  - lifecycle.go: Runs CheckAll inside TxRunner.WithTx at Book time
  - aggregate.go / incoming.go: The two sides of the formula
*/
package booking

import (
	"context"
	"errors"
)

// =============================================================================
// ADMISSION CHECKER
// =============================================================================

// AdmissionChecker verifies that a hard commitment does not exceed fleet
// capacity. It is pure computation over the ledger; callers own the
// transactional boundary.
type AdmissionChecker struct {
	Capacity CapacitySource
	Ledger   CommitmentLedger
}

// NewAdmissionChecker wires a checker over a ledger view.
func NewAdmissionChecker(capacity CapacitySource, ledger CommitmentLedger) *AdmissionChecker {
	return &AdmissionChecker{Capacity: capacity, Ledger: ledger}
}

// CheckLine runs the admission formula for one line. On admission the
// breakdown is returned for diagnostics; on rejection the error is an
// *AvailabilityError carrying the same breakdown. A *ConfigurationError is
// returned when the product has no fleet capacity configured.
func (ac *AdmissionChecker) CheckLine(ctx context.Context, line BookingLine) (*AvailabilityBreakdown, error) {
	if !line.Window.IsValid() {
		return nil, &ValidationError{
			BookingID: line.BookingID,
			LineID:    line.ID,
			Field:     "window",
			Message:   "booking window must have start before end",
		}
	}
	if line.ProductID == "" {
		return nil, &ValidationError{
			BookingID: line.BookingID,
			LineID:    line.ID,
			Field:     "product_id",
			Message:   "line has no product",
		}
	}

	capacity, err := ac.Capacity.FleetCapacity(ctx, line.CompanyID, line.ProductID)
	if err != nil {
		return nil, err
	}
	if !capacity.IsPositive() {
		return nil, &ConfigurationError{ProductID: line.ProductID}
	}

	scope := Scope{CompanyID: line.CompanyID, WarehouseID: line.SourceWarehouseID}

	aggregator := &OverlapAggregator{Ledger: ac.Ledger}
	committed, err := aggregator.CommittedOverlap(
		ctx, scope, line.ProductID, line.Window, HardCommitmentStates(), line.ID)
	if err != nil {
		return nil, err
	}

	projector := &IncomingProjector{Ledger: ac.Ledger}
	incoming, err := projector.IncomingBefore(ctx, scope, line.ProductID, line.Window.Start)
	if err != nil {
		return nil, err
	}

	available := capacity.Sub(committed).Add(incoming)
	breakdown := &AvailabilityBreakdown{
		ProductID:   line.ProductID,
		WarehouseID: line.SourceWarehouseID,
		Window:      line.Window,
		Capacity:    capacity,
		Committed:   committed,
		Incoming:    incoming,
		Available:   available,
		Requested:   line.Quantity,
	}

	if line.Quantity.GreaterThan(available) {
		return nil, &AvailabilityError{LineID: line.ID, Breakdown: *breakdown}
	}
	return breakdown, nil
}

// CheckAll runs CheckLine over every countable line, stopping at the first
// failure. Either all lines pass or the commit pass aborts with no state
// change: the caller must not apply partial results.
//
// NOTE: lines of the same booking are checked against the ledger as it
// stands, which excludes the booking's own lines when they are still in a
// soft state. Earlier batch lines of the same product and warehouse are
// therefore folded into the check - but only where their windows overlap
// the line under check: two lines compete for the same units only while
// both hold them.
func (ac *AdmissionChecker) CheckAll(ctx context.Context, lines []BookingLine) ([]AvailabilityBreakdown, error) {
	breakdowns := make([]AvailabilityBreakdown, 0, len(lines))

	var prior []BookingLine
	for _, line := range lines {
		if !line.Countable() {
			continue
		}

		joint := line.Quantity
		for _, p := range prior {
			if p.ProductID == line.ProductID &&
				p.SourceWarehouseID == line.SourceWarehouseID &&
				p.Window.Overlaps(line.Window) {
				joint = joint.Add(p.Quantity)
			}
		}
		prior = append(prior, line)

		check := line
		check.Quantity = joint
		b, err := ac.CheckLine(ctx, check)
		if err != nil {
			// The diagnostic reports the line's own demand, not the
			// folded batch total.
			var availErr *AvailabilityError
			if errors.As(err, &availErr) {
				availErr.Breakdown.Requested = line.Quantity
			}
			return nil, err
		}
		b.Requested = line.Quantity
		breakdowns = append(breakdowns, *b)
	}
	return breakdowns, nil
}
