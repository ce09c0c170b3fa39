/*
incoming.go - Incoming-returns projection

PURPOSE:
  Units out on rental come back. A line in an in-flight state (ongoing /
  finished) with an expected return date will replenish capacity at its
  return warehouse on that date - before the physical inbound transfer is
  executed. The projector turns those scheduled returns into extra
  availability.

ONE-WAY UNLOCK:
  Once units are back, capacity stays freed for every later bucket in the
  query window. Bucketed projection therefore accumulates forward: each
  bucket's new arrivals are added to a running total before that bucket's
  available capacity is computed.

POINT FORM:
  Admission checks are not bucketed. The equivalent point query sums all
  in-flight lines with ExpectedReturnAt() <= window.Start - items that will
  have returned before the new booking needs them - regardless of bucket
  alignment.

ACCOUNTING CHANNELS:
  Committed overlap and incoming returns are separate channels on purpose.
  An in-flight line both counts against capacity (it is a hard commitment)
  and, once its return date passes the query point, adds back through this
  projector. Admission nets the two.

SEE ALSO:
  - aggregate.go: The commitment-side counterpart
  - admission.go / grid.go: The two consumers
*/
package booking

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INCOMING-RETURNS PROJECTOR
// =============================================================================

// IncomingProjector sums quantities scheduled to land back at a warehouse.
type IncomingProjector struct {
	Ledger CommitmentLedger
}

// IncomingBefore is the point form: total in-flight quantity expected back
// at the scope's warehouse no later than the given instant.
func (ip *IncomingProjector) IncomingBefore(
	ctx context.Context,
	scope Scope,
	productID ProductID,
	by time.Time,
) (decimal.Decimal, error) {

	sums, err := ip.Ledger.SumQuantityByProduct(ctx, LineFilter{
		ProductIDs:        []ProductID{productID},
		CompanyID:         scope.CompanyID,
		ReturnWarehouseID: scope.WarehouseID,
		States:            InFlightStates(),
		ReturnedBy:        &by,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return sums[productID], nil
}

// IncomingByBucket is the grid form. Per product it returns two mappings:
//   - arrivals: quantity whose expected return date falls inside each bucket
//   - cumulative: arrivals accumulated forward in chronological bucket
//     order (the one-way unlock the grid adds to available capacity)
func (ip *IncomingProjector) IncomingByBucket(
	ctx context.Context,
	scope Scope,
	productIDs []ProductID,
	buckets []WeekBucket,
) (arrivals, cumulative map[ProductID]map[string]decimal.Decimal, err error) {

	arrivals = make(map[ProductID]map[string]decimal.Decimal, len(productIDs))
	cumulative = make(map[ProductID]map[string]decimal.Decimal, len(productIDs))
	for _, pid := range productIDs {
		arrivals[pid] = make(map[string]decimal.Decimal, len(buckets))
		cumulative[pid] = make(map[string]decimal.Decimal, len(buckets))
	}
	if len(productIDs) == 0 || len(buckets) == 0 {
		return arrivals, cumulative, nil
	}

	span := SpanOf(buckets)
	lines, err := ip.Ledger.FindLines(ctx, LineFilter{
		ProductIDs:        productIDs,
		CompanyID:         scope.CompanyID,
		ReturnWarehouseID: scope.WarehouseID,
		States:            InFlightStates(),
		ReturnedBy:        &span.End,
	})
	if err != nil {
		return nil, nil, err
	}

	for _, line := range lines {
		if !line.Countable() {
			continue
		}
		byBucket, ok := arrivals[line.ProductID]
		if !ok {
			continue
		}
		// Returns scheduled before the grid starts are already-unlocked
		// capacity: credit them to the first bucket so the accumulation
		// carries them through the whole window.
		at := line.ExpectedReturnAt()
		if at.Before(span.Start) {
			first := buckets[0].Key
			byBucket[first] = byBucket[first].Add(line.Quantity)
			continue
		}
		for _, bucket := range buckets {
			if bucket.Window.Contains(at) {
				byBucket[bucket.Key] = byBucket[bucket.Key].Add(line.Quantity)
				break
			}
		}
	}

	// Forward accumulation: buckets are already in chronological order.
	for _, pid := range productIDs {
		running := decimal.Zero
		for _, bucket := range buckets {
			running = running.Add(arrivals[pid][bucket.Key])
			cumulative[pid][bucket.Key] = running
		}
	}
	return arrivals, cumulative, nil
}
