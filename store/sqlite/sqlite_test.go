package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const company = booking.CompanyID("acme")

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func testLine(id string, state booking.LineState, qty float64, start, end int) booking.BookingLine {
	return booking.BookingLine{
		ID: booking.LineID(id), BookingID: booking.BookingID("b-" + id),
		CompanyID: company, ProductID: "crane", Quantity: booking.Qty(qty),
		State: state, SourceWarehouseID: "wh-main",
		Window: booking.Window{Start: day(start), End: day(end)},
	}
}

func saveWithLine(t *testing.T, s *sqlite.Store, l booking.BookingLine) {
	t.Helper()
	require.NoError(t, s.SaveBooking(context.Background(), booking.Booking{
		ID: l.BookingID, Reference: "RB-" + string(l.ID), CompanyID: l.CompanyID,
		State: l.State, Window: l.Window, SourceWarehouseID: l.SourceWarehouseID,
		Lines: []booking.BookingLine{l},
	}))
}

// =============================================================================
// PRODUCT / WAREHOUSE ROUND TRIPS
// =============================================================================

func TestProduct_RoundTripAndUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := booking.Product{ID: "crane", Name: "Mobile crane", CompanyID: company,
		FleetCapacity: booking.Qty(7)}
	require.NoError(t, s.SaveProduct(ctx, p))

	got, err := s.GetProduct(ctx, company, "crane")
	require.NoError(t, err)
	assert.Equal(t, "Mobile crane", got.Name)
	assert.True(t, got.FleetCapacity.Equal(booking.Qty(7)))

	// Upsert updates capacity in place
	p.FleetCapacity = booking.Qty(9)
	require.NoError(t, s.SaveProduct(ctx, p))
	cap2, err := s.FleetCapacity(ctx, company, "crane")
	require.NoError(t, err)
	assert.True(t, cap2.Equal(booking.Qty(9)))

	// Missing product yields zero, not an error
	capMissing, err := s.FleetCapacity(ctx, company, "ghost")
	require.NoError(t, err)
	assert.True(t, capMissing.IsZero())

	_, err = s.GetProduct(ctx, company, "ghost")
	assert.True(t, errors.Is(err, booking.ErrProductNotFound))
}

func TestProduct_ScopedByCompany(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProduct(ctx, booking.Product{
		ID: "crane", Name: "Theirs", CompanyID: "other", FleetCapacity: booking.Qty(1)}))

	_, err := s.GetProduct(ctx, company, "crane")
	assert.True(t, errors.Is(err, booking.ErrProductNotFound))
}

func TestWarehouse_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWarehouse(ctx, booking.Warehouse{
		ID: "wh-main", Name: "Main depot", CompanyID: company}))
	require.NoError(t, s.SaveWarehouse(ctx, booking.Warehouse{
		ID: "wh-north", Name: "North depot", CompanyID: company}))

	list, err := s.ListWarehouses(ctx, company)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Main depot", list[0].Name)

	_, err = s.GetWarehouse(ctx, company, "wh-ghost")
	assert.True(t, errors.Is(err, booking.ErrWarehouseNotFound))
}

// =============================================================================
// BOOKING ROUND TRIPS
// =============================================================================

func TestBooking_RoundTripWithLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ret := day(8)
	b := booking.Booking{
		ID: "b-1", Reference: "RB-001", CompanyID: company,
		CustomerID: "cust-9", ProjectID: "proj-3",
		SourceWarehouseID: "wh-main", ReturnWarehouseID: "wh-north",
		Window: booking.Window{Start: day(3), End: day(10)},
		State:  booking.StateReserved, Notes: "crane job",
		Lines: []booking.BookingLine{
			{ID: "l-1", BookingID: "b-1", CompanyID: company, ProductID: "crane",
				Quantity: booking.Qty(2), State: booking.StateReserved,
				SourceWarehouseID: "wh-main", ReturnWarehouseID: "wh-north",
				Window:         booking.Window{Start: day(3), End: day(10)},
				ExpectedReturn: &ret},
		},
	}
	require.NoError(t, s.SaveBooking(ctx, b))

	got, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "RB-001", got.Reference)
	assert.Equal(t, "cust-9", got.CustomerID)
	assert.Equal(t, day(3), got.Window.Start)
	require.Len(t, got.Lines, 1)
	line := got.Lines[0]
	assert.True(t, line.Quantity.Equal(booking.Qty(2)))
	require.NotNil(t, line.ExpectedReturn)
	assert.Equal(t, ret, *line.ExpectedReturn)
}

func TestBooking_IncompleteDraftRoundTrips(t *testing.T) {
	// GIVEN: A draft with no dates and a line with no product
	// WHEN: Saving and loading
	// THEN: Everything round-trips; the ledger still excludes the line

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBooking(ctx, booking.Booking{
		ID: "b-draft", Reference: "RB-D", CompanyID: company, State: booking.StateDraft,
		Lines: []booking.BookingLine{
			{ID: "l-d", BookingID: "b-draft", CompanyID: company,
				Quantity: booking.Qty(3), State: booking.StateDraft},
		},
	}))

	got, err := s.GetBooking(ctx, "b-draft")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.True(t, got.Window.IsZero())
	assert.True(t, got.Lines[0].Window.IsZero())

	lines, err := s.FindLines(ctx, booking.LineFilter{CompanyID: company})
	require.NoError(t, err)
	assert.Empty(t, lines, "incomplete lines never reach aggregation")
}

func TestBooking_SubSecondPrecisionTruncated(t *testing.T) {
	// GIVEN: A booking whose times carry sub-second precision
	// WHEN: Saving and loading
	// THEN: Times round-trip at second granularity (the storage contract)

	s := newTestStore(t)
	ctx := context.Background()

	start := day(3).Add(250 * time.Millisecond)
	end := day(10).Add(999 * time.Millisecond)
	ret := day(8).Add(500 * time.Millisecond)
	require.NoError(t, s.SaveBooking(ctx, booking.Booking{
		ID: "b-1", Reference: "RB-1", CompanyID: company, State: booking.StateBooked,
		Window: booking.Window{Start: start, End: end},
		Lines: []booking.BookingLine{
			{ID: "l-1", BookingID: "b-1", CompanyID: company, ProductID: "crane",
				Quantity: booking.Qty(1), State: booking.StateBooked,
				SourceWarehouseID: "wh-main",
				Window:            booking.Window{Start: start, End: end},
				ExpectedReturn:    &ret},
		},
	}))

	got, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, day(3), got.Window.Start)
	assert.Equal(t, day(10), got.Window.End)
	require.Len(t, got.Lines, 1)
	require.NotNil(t, got.Lines[0].ExpectedReturn)
	assert.Equal(t, day(8), *got.Lines[0].ExpectedReturn)
}

func TestBooking_SaveReplacesLineSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := booking.Booking{
		ID: "b-1", Reference: "RB-1", CompanyID: company, State: booking.StateDraft,
		Lines: []booking.BookingLine{
			testLine("l-1", booking.StateDraft, 1, 3, 10),
			testLine("l-2", booking.StateDraft, 2, 3, 10),
		},
	}
	b.Lines[0].BookingID = "b-1"
	b.Lines[1].BookingID = "b-1"
	require.NoError(t, s.SaveBooking(ctx, b))

	b.Lines = b.Lines[:1]
	require.NoError(t, s.SaveBooking(ctx, b))

	got, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Len(t, got.Lines, 1, "lines are owned by the header: save replaces the set")
}

func TestDeleteBooking_CascadesToLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveWithLine(t, s, testLine("l-1", booking.StateBooked, 2, 3, 10))

	require.NoError(t, s.DeleteBooking(ctx, "b-l-1"))

	lines, err := s.FindLines(ctx, booking.LineFilter{CompanyID: company})
	require.NoError(t, err)
	assert.Empty(t, lines, "ON DELETE CASCADE removes the lines")

	assert.True(t, errors.Is(s.DeleteBooking(ctx, "b-l-1"), booking.ErrBookingNotFound))
}

func TestListBookings_StateFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveWithLine(t, s, testLine("l-1", booking.StateReserved, 2, 3, 10))
	saveWithLine(t, s, testLine("l-2", booking.StateBooked, 2, 3, 10))
	saveWithLine(t, s, testLine("l-3", booking.StateCancelled, 2, 3, 10))

	list, err := s.ListBookings(ctx, company,
		[]booking.LineState{booking.StateReserved, booking.StateBooked})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSetState_MirrorsOntoNonTerminalLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cancelled := testLine("l-2", booking.StateCancelled, 1, 3, 10)
	cancelled.BookingID = "b-1"
	active := testLine("l-1", booking.StateBooked, 2, 3, 10)
	active.BookingID = "b-1"
	require.NoError(t, s.SaveBooking(ctx, booking.Booking{
		ID: "b-1", Reference: "RB-1", CompanyID: company, State: booking.StateBooked,
		Lines: []booking.BookingLine{active, cancelled},
	}))

	require.NoError(t, s.SetState(ctx, "b-1", booking.StateOngoing))

	got, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StateOngoing, got.State)

	states := map[booking.LineID]booking.LineState{}
	for _, l := range got.Lines {
		states[l.ID] = l.State
	}
	assert.Equal(t, booking.StateOngoing, states["l-1"])
	assert.Equal(t, booking.StateCancelled, states["l-2"], "terminal lines stay put")
}

// =============================================================================
// LEDGER FILTER TESTS
// =============================================================================

func TestFindLines_HalfOpenOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveWithLine(t, s, testLine("l-1", booking.StateBooked, 2, 3, 10))
	saveWithLine(t, s, testLine("l-2", booking.StateBooked, 2, 10, 17))

	w := booking.Window{Start: day(1), End: day(10)}
	lines, err := s.FindLines(ctx, booking.LineFilter{CompanyID: company, Overlapping: &w})

	require.NoError(t, err)
	require.Len(t, lines, 1, "RFC3339 text comparison preserves half-open semantics")
	assert.Equal(t, booking.LineID("l-1"), lines[0].ID)
}

func TestFindLines_ReturnWarehouseCoalesce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	explicit := testLine("l-1", booking.StateOngoing, 2, 3, 10)
	explicit.ReturnWarehouseID = "wh-north"
	saveWithLine(t, s, explicit)
	saveWithLine(t, s, testLine("l-2", booking.StateOngoing, 2, 3, 10))

	lines, err := s.FindLines(ctx, booking.LineFilter{
		CompanyID: company, ReturnWarehouseID: "wh-main"})

	require.NoError(t, err)
	require.Len(t, lines, 1, "empty return warehouse falls back to source in SQL")
	assert.Equal(t, booking.LineID("l-2"), lines[0].ID)
}

func TestFindLines_ReturnedByFallsBackToWindowEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	early := day(5)
	withDate := testLine("l-1", booking.StateOngoing, 2, 3, 20)
	withDate.ExpectedReturn = &early
	saveWithLine(t, s, withDate)
	saveWithLine(t, s, testLine("l-2", booking.StateOngoing, 2, 3, 20))

	by := day(10)
	lines, err := s.FindLines(ctx, booking.LineFilter{CompanyID: company, ReturnedBy: &by})

	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, booking.LineID("l-1"), lines[0].ID)
}

func TestSumQuantityByProduct_GroupedQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveWithLine(t, s, testLine("l-1", booking.StateBooked, 2, 3, 10))
	saveWithLine(t, s, testLine("l-2", booking.StateBooked, 3.5, 3, 10))
	other := testLine("l-3", booking.StateBooked, 4, 3, 10)
	other.ProductID = "lift"
	saveWithLine(t, s, other)

	sums, err := s.SumQuantityByProduct(ctx, booking.LineFilter{
		CompanyID: company, States: booking.HardCommitmentStates()})

	require.NoError(t, err)
	assert.True(t, sums["crane"].Equal(booking.Qty(5.5)))
	assert.True(t, sums["lift"].Equal(booking.Qty(4)))
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveWithLine(t, s, testLine("l-1", booking.StateBooked, 2, 3, 10))

	boom := errors.New("guard failed")
	err := s.WithTx(ctx, func(view booking.LedgerView) error {
		if err := view.SetState(ctx, "b-l-1", booking.StateOngoing); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	got, err := s.GetBooking(ctx, "b-l-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StateBooked, got.State)
}

func TestWithTx_ViewCoversCapacityAndLedger(t *testing.T) {
	// GIVEN: A product and a committed line
	// WHEN: A transactional unit reads capacity and the ledger
	// THEN: Both reads work inside the unit (no separate connection needed)

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProduct(ctx, booking.Product{
		ID: "crane", Name: "Crane", CompanyID: company, FleetCapacity: booking.Qty(5)}))
	saveWithLine(t, s, testLine("l-1", booking.StateBooked, 2, 3, 10))

	err := s.WithTx(ctx, func(view booking.LedgerView) error {
		capacity, err := view.FleetCapacity(ctx, company, "crane")
		if err != nil {
			return err
		}
		if !capacity.Equal(booking.Qty(5)) {
			return errors.New("wrong capacity inside tx")
		}
		sums, err := view.SumQuantityByProduct(ctx, booking.LineFilter{CompanyID: company})
		if err != nil {
			return err
		}
		if !sums["crane"].Equal(booking.Qty(2)) {
			return errors.New("wrong sum inside tx")
		}
		return nil
	})

	assert.NoError(t, err)
}

// =============================================================================
// END-TO-END: LIFECYCLE OVER SQLITE
// =============================================================================

func TestLifecycle_BookOverSQLite(t *testing.T) {
	// GIVEN: Capacity 5 and a reserved booking of 5 over the SQLite store
	// WHEN: Booking it, then trying a second overlapping booking of 1
	// THEN: First commits; second is rejected by the same check-and-commit path

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProduct(ctx, booking.Product{
		ID: "crane", Name: "Crane", CompanyID: company, FleetCapacity: booking.Qty(5)}))

	svc := booking.NewService(s)
	mk := func(qty float64) booking.BookingID {
		created, err := svc.Create(ctx, booking.Booking{
			CompanyID: company, ProjectID: "proj-1",
			SourceWarehouseID: "wh-main",
			Window:            booking.Window{Start: day(3), End: day(10)},
			Lines: []booking.BookingLine{
				{ProductID: "crane", Quantity: booking.Qty(qty)},
			},
		})
		require.NoError(t, err)
		_, err = svc.Confirm(ctx, created.ID)
		require.NoError(t, err)
		return created.ID
	}

	first, second := mk(5), mk(1)

	_, breakdowns, err := svc.Book(ctx, first)
	require.NoError(t, err)
	require.Len(t, breakdowns, 1)
	assert.True(t, breakdowns[0].Available.Equal(booking.Qty(5)))

	_, _, err = svc.Book(ctx, second)
	assert.True(t, errors.Is(err, booking.ErrInsufficientAvailability))
}

// =============================================================================
// TRANSFER LOG TESTS
// =============================================================================

func TestTransferLog_OutboundAndInbound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	line := testLine("l-1", booking.StateOngoing, 2, 3, 10)
	line.ReturnWarehouseID = "wh-north"
	b := booking.Booking{
		ID: "b-1", Reference: "RB-001", CompanyID: company,
		State: booking.StateOngoing,
		Lines: []booking.BookingLine{line},
	}

	require.NoError(t, s.CreateOutbound(ctx, b))
	require.NoError(t, s.CreateInbound(ctx, b))

	records, err := s.ListTransfers(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	byDirection := map[string]sqlite.TransferRecord{}
	for _, r := range records {
		byDirection[r.Direction] = r
	}
	out := byDirection[sqlite.DirectionOutbound]
	assert.Equal(t, booking.WarehouseID("wh-main"), out.FromWarehouseID)
	assert.Empty(t, out.ToWarehouseID)

	in := byDirection[sqlite.DirectionInbound]
	assert.Empty(t, in.FromWarehouseID)
	assert.Equal(t, booking.WarehouseID("wh-north"), in.ToWarehouseID,
		"inbound lands at the effective return warehouse")
}

func TestTransferLog_SkipsNonCountableLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty := testLine("l-1", booking.StateOngoing, 0, 3, 10)
	b := booking.Booking{ID: "b-1", Reference: "RB-001", CompanyID: company,
		State: booking.StateOngoing, Lines: []booking.BookingLine{empty}}

	require.NoError(t, s.CreateOutbound(ctx, b))

	records, err := s.ListTransfers(ctx, "b-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}
