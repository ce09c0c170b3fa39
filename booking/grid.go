/*
grid.go - The multi-week availability grid

PURPOSE:
  Builds the per-product, per-week availability matrix consumed by the
  planning views. The grid is the bulk read-path generalization of the
  admission check: same overlap predicate, same capacity/committed/incoming
  arithmetic, spread across week-bucket columns.

  Per cell:
    available = max(capacity - committed[bucket] + cumulativeIncoming[bucket], 0)

CALL MODES:
  Global view:   no needed quantities, anchored on "today".
  Booking view:  needed derived by summing the booking's line quantities per
                 product, anchored on the booking's own start date,
                 warehouse defaulting to the booking's source warehouse.

STATUS CLASSIFICATION (per cell, against optional needed):
  needed absent or <= 0:  full when available <= 0, otherwise free;
                          booking_ok not evaluated (null).
  needed > 0:             available >= needed        → free,    ok
                          0 < available < needed     → partial, not ok
                          available <= 0             → full,    not ok

PURITY:
  The grid is a derived, non-persisted view recomputed on every request. It
  owns no state across calls: two consecutive builds over identical inputs
  and an unchanged ledger produce identical output.

OUTPUT CONTRACT:
  The emitted {meta, columns, rows} shape is the de facto contract with
  presentation layers and is preserved field-for-field by the API DTOs.

SEE ALSO:
  - aggregate.go / incoming.go: Steps 4-5 of the build
  - api/handlers.go: The two HTTP entry points
*/
package booking

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// GRID TYPES
// =============================================================================

// CellStatus classifies one grid cell.
type CellStatus string

const (
	StatusFree    CellStatus = "free"
	StatusPartial CellStatus = "partial"
	StatusFull    CellStatus = "full"
)

// GridMode tags which entry point produced the grid.
type GridMode string

const (
	ModeGlobal  GridMode = "global"
	ModeBooking GridMode = "booking"
)

// GridMeta describes the overall query the grid answered.
type GridMeta struct {
	Mode        GridMode
	BookingID   BookingID // set in booking mode only
	CompanyID   CompanyID
	WarehouseID WarehouseID
	DateStart   time.Time
	DateEnd     time.Time
	WeekCount   int
}

// GridColumn is one week-bucket descriptor.
type GridColumn struct {
	Key   string
	Label string
	Start time.Time
	End   time.Time
}

// GridCell is one product × week intersection.
type GridCell struct {
	ColumnKey string
	Committed decimal.Decimal
	Incoming  decimal.Decimal // cumulative returns unlocked by this bucket
	Available decimal.Decimal
	Needed    *decimal.Decimal // nil when not evaluated
	Status    CellStatus
	BookingOK *bool // nil when no needed quantity was supplied
}

// GridRow is one product's cells plus its capacity context.
type GridRow struct {
	ProductID ProductID
	Name      string
	Capacity  decimal.Decimal
	Needed    *decimal.Decimal
	Cells     []GridCell
}

// Grid is the full derived view.
type Grid struct {
	Meta    GridMeta
	Columns []GridColumn
	Rows    []GridRow
}

// =============================================================================
// GRID BUILDER
// =============================================================================

// ProductNamer resolves display names for grid rows. Stores implement it;
// a nil namer leaves names empty.
type ProductNamer interface {
	ProductNames(ctx context.Context, companyID CompanyID, ids []ProductID) (map[ProductID]string, error)
}

// GridInput carries all parameters of one build. Empty ProductIDs yields an
// empty grid (no rows), not an error.
type GridInput struct {
	Mode      GridMode
	BookingID BookingID

	Scope      Scope
	ProductIDs []ProductID

	// Anchor is the reference instant; the grid aligns to the Monday of
	// the week containing it. Zero means "now".
	Anchor time.Time

	WeekCount int

	// NeededByProduct drives the per-cell status classification. Nil or
	// missing products mean "not evaluated" for those rows.
	NeededByProduct map[ProductID]decimal.Decimal
}

// GridBuilder orchestrates capacity, overlap aggregation, and incoming
// projection into the grid. Pure function of its inputs.
type GridBuilder struct {
	Capacity CapacitySource
	Ledger   CommitmentLedger
	Namer    ProductNamer // optional

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Build computes the grid.
func (gb *GridBuilder) Build(ctx context.Context, input GridInput) (*Grid, error) {
	now := time.Now
	if gb.Now != nil {
		now = gb.Now
	}

	// 1. Normalize inputs.
	anchor := input.Anchor
	if anchor.IsZero() {
		anchor = now()
	}
	weekCount := ClampWeekCount(input.WeekCount)
	mode := input.Mode
	if mode == "" {
		mode = ModeGlobal
	}

	// 2. Bucket list.
	buckets := WeekBuckets(anchor, weekCount)
	span := SpanOf(buckets)

	grid := &Grid{
		Meta: GridMeta{
			Mode:        mode,
			BookingID:   input.BookingID,
			CompanyID:   input.Scope.CompanyID,
			WarehouseID: input.Scope.WarehouseID,
			DateStart:   span.Start,
			DateEnd:     span.End,
			WeekCount:   weekCount,
		},
		Columns: make([]GridColumn, 0, len(buckets)),
		Rows:    []GridRow{},
	}
	for _, b := range buckets {
		grid.Columns = append(grid.Columns, GridColumn{
			Key:   b.Key,
			Label: b.Label,
			Start: b.Window.Start,
			End:   b.Window.End,
		})
	}
	if len(input.ProductIDs) == 0 {
		return grid, nil
	}

	// 3. Fleet capacities (direct lookup, not aggregation).
	capacities, err := gb.Capacity.FleetCapacities(ctx, input.Scope.CompanyID, input.ProductIDs)
	if err != nil {
		return nil, err
	}

	// 4. Hard commitments per bucket.
	aggregator := &OverlapAggregator{Ledger: gb.Ledger}
	committed, err := aggregator.CommittedByBucket(
		ctx, input.Scope, input.ProductIDs, buckets, HardCommitmentStates())
	if err != nil {
		return nil, err
	}

	// 5. Incoming returns, accumulated forward.
	// The grid exposes the cumulative channel only.
	projector := &IncomingProjector{Ledger: gb.Ledger}
	_, cumulative, err := projector.IncomingByBucket(
		ctx, input.Scope, input.ProductIDs, buckets)
	if err != nil {
		return nil, err
	}

	names := map[ProductID]string{}
	if gb.Namer != nil {
		names, err = gb.Namer.ProductNames(ctx, input.Scope.CompanyID, input.ProductIDs)
		if err != nil {
			return nil, err
		}
	}

	// 6-7. Cells with availability and status classification.
	for _, pid := range input.ProductIDs {
		capacity := capacities[pid]

		var needed *decimal.Decimal
		if n, ok := input.NeededByProduct[pid]; ok && n.IsPositive() {
			needed = &n
		}

		row := GridRow{
			ProductID: pid,
			Name:      names[pid],
			Capacity:  capacity,
			Needed:    needed,
			Cells:     make([]GridCell, 0, len(buckets)),
		}

		for _, bucket := range buckets {
			c := committed[pid][bucket.Key]
			inc := cumulative[pid][bucket.Key]

			available := capacity.Sub(c).Add(inc)
			if available.IsNegative() {
				available = decimal.Zero
			}

			cell := GridCell{
				ColumnKey: bucket.Key,
				Committed: c,
				Incoming:  inc,
				Available: available,
				Needed:    needed,
			}
			cell.Status, cell.BookingOK = classify(available, needed)
			row.Cells = append(row.Cells, cell)
		}
		grid.Rows = append(grid.Rows, row)
	}

	// 8. {meta, columns, rows} assembled above.
	return grid, nil
}

// classify applies the status rules for one cell.
func classify(available decimal.Decimal, needed *decimal.Decimal) (CellStatus, *bool) {
	if needed == nil {
		if !available.IsPositive() {
			return StatusFull, nil
		}
		return StatusFree, nil
	}

	ok := new(bool)
	switch {
	case available.GreaterThanOrEqual(*needed):
		*ok = true
		return StatusFree, ok
	case available.IsPositive():
		return StatusPartial, ok
	default:
		return StatusFull, ok
	}
}
