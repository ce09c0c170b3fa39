/*
aggregate.go - Overlap-based commitment aggregation

PURPOSE:
  Sums committed quantities against a time window. This is the single piece
  of overlap math in the engine, used in two modes:

  POINT MODE (admission checks):
    "How much of product P is committed against this window?" One scalar
    per product, answered by the store's grouped-sum query.

  GRID MODE (availability grid):
    "How much of product P is committed in each week bucket?" A
    product → bucket-key → scalar mapping, computed by fetching the
    overlapping lines once and spreading each across the buckets its
    window touches.

  Factoring both call sites through this one aggregator is deliberate: the
  grid is the bulk read-path generalization of the same overlap predicate
  the admission check uses, and keeping them together prevents logic drift.

NO PRORATION:
  A line spanning several buckets contributes its FULL quantity to every
  bucket it overlaps. The model is "reserved for the whole period", not a
  daily rate.

SEE ALSO:
  - time.go: The overlap predicate
  - incoming.go: The replenishment-side counterpart
  - admission.go / grid.go: The two consumers
*/
package booking

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OVERLAP AGGREGATOR
// =============================================================================

// OverlapAggregator sums committed quantity per product against a window or
// a bucket list.
type OverlapAggregator struct {
	Ledger CommitmentLedger
}

// CommittedOverlap is the point check: summed quantity of lines in the
// given states whose window overlaps the query window, scoped by company
// and (optionally) source warehouse. excludeLine drops the line being
// re-checked so it does not count against itself.
func (oa *OverlapAggregator) CommittedOverlap(
	ctx context.Context,
	scope Scope,
	productID ProductID,
	window Window,
	states []LineState,
	excludeLine LineID,
) (decimal.Decimal, error) {

	sums, err := oa.Ledger.SumQuantityByProduct(ctx, LineFilter{
		ProductIDs:        []ProductID{productID},
		CompanyID:         scope.CompanyID,
		SourceWarehouseID: scope.WarehouseID,
		States:            states,
		Overlapping:       &window,
		ExcludeLineID:     excludeLine,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return sums[productID], nil
}

// CommittedByBucket is the grid mode: per product, per bucket key, the
// summed quantity of lines in the given states overlapping that bucket.
// Lines are fetched once against the overall span, then spread across
// buckets in memory.
func (oa *OverlapAggregator) CommittedByBucket(
	ctx context.Context,
	scope Scope,
	productIDs []ProductID,
	buckets []WeekBucket,
	states []LineState,
) (map[ProductID]map[string]decimal.Decimal, error) {

	committed := make(map[ProductID]map[string]decimal.Decimal, len(productIDs))
	for _, pid := range productIDs {
		committed[pid] = make(map[string]decimal.Decimal, len(buckets))
	}
	if len(productIDs) == 0 || len(buckets) == 0 {
		return committed, nil
	}

	span := SpanOf(buckets)
	lines, err := oa.Ledger.FindLines(ctx, LineFilter{
		ProductIDs:        productIDs,
		CompanyID:         scope.CompanyID,
		SourceWarehouseID: scope.WarehouseID,
		States:            states,
		Overlapping:       &span,
	})
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if !line.Countable() {
			continue
		}
		byBucket, ok := committed[line.ProductID]
		if !ok {
			// Store returned a product we didn't ask for; skip rather
			// than invent a row.
			continue
		}
		for _, bucket := range buckets {
			if line.Window.Overlaps(bucket.Window) {
				byBucket[bucket.Key] = byBucket[bucket.Key].Add(line.Quantity)
			}
		}
	}
	return committed, nil
}
