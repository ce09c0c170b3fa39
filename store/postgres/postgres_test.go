package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/booking"
	"github.com/warp/rental-engine/store/postgres"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const company = booking.CompanyID("acme")

// newMockStore wires the store over a sqlmock connection. The default
// matcher treats expectations as regexps, so tests match on the query
// fragments that carry the semantics (FOR UPDATE, COALESCE, placeholders).
func newMockStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewWithDB(db), mock
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// PRODUCT STORE TESTS
// =============================================================================

func TestGetProduct_ScansNumericCapacity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, company_id, name, fleet_capacity FROM products WHERE company_id = \$1 AND id = \$2`).
		WithArgs(company, booking.ProductID("crane")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "name", "fleet_capacity"}).
			AddRow("crane", "acme", "Mobile crane", "7.5"))

	p, err := s.GetProduct(context.Background(), company, "crane")

	require.NoError(t, err)
	assert.True(t, p.FleetCapacity.Equal(booking.Qty(7.5)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct_MapsNoRowsToNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, company_id, name, fleet_capacity FROM products`).
		WithArgs(company, booking.ProductID("ghost")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "name", "fleet_capacity"}))

	_, err := s.GetProduct(context.Background(), company, "ghost")

	assert.True(t, errors.Is(err, booking.ErrProductNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFleetCapacity_MissingProductIsZero(t *testing.T) {
	// GIVEN: No product row
	// WHEN: Reading the fleet capacity
	// THEN: Zero capacity, no error (misconfiguration surfaces at admission)

	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT fleet_capacity FROM products WHERE company_id = \$1 AND id = \$2`).
		WithArgs(company, booking.ProductID("ghost")).
		WillReturnRows(sqlmock.NewRows([]string{"fleet_capacity"}))

	capacity, err := s.FleetCapacity(context.Background(), company, "ghost")

	require.NoError(t, err)
	assert.True(t, capacity.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveProduct_UpsertsWithStringQuantity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO products .*ON CONFLICT \(company_id, id\) DO UPDATE`).
		WithArgs(booking.ProductID("crane"), company, "Mobile crane", "7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveProduct(context.Background(), booking.Product{
		ID: "crane", CompanyID: company, Name: "Mobile crane",
		FleetCapacity: booking.Qty(7)})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// LEDGER FILTER SQL TESTS
// =============================================================================

func TestFindLines_FilterCompilesToSQL(t *testing.T) {
	// GIVEN: A full admission-style filter
	// WHEN: Querying lines
	// THEN: The WHERE clause carries the half-open overlap, the COALESCE
	//       return-warehouse fallback, and the countable guards

	s, mock := newMockStore(t)
	w := booking.Window{Start: day(3), End: day(10)}

	mock.ExpectQuery(`FROM booking_lines\s+WHERE quantity > 0 AND product_id != '' ` +
		`AND window_start IS NOT NULL AND window_end IS NOT NULL ` +
		`AND company_id = \$1 AND product_id IN \(\$2\) AND state IN \(\$3,\$4,\$5\) ` +
		`AND COALESCE\(NULLIF\(return_warehouse_id, ''\), source_warehouse_id\) = \$6 ` +
		`AND window_start < \$7 AND window_end > \$8 ` +
		`AND COALESCE\(expected_return, window_end\) <= \$9`).
		WithArgs(company, booking.ProductID("crane"),
			booking.StateBooked, booking.StateOngoing, booking.StateFinished,
			booking.WarehouseID("wh-main"), w.End, w.Start, w.Start).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "booking_id", "company_id", "product_id", "quantity",
			"window_start", "window_end", "state",
			"source_warehouse_id", "return_warehouse_id", "expected_return"}).
			AddRow("l-1", "b-1", "acme", "crane", "2.5",
				day(1), day(5), "ongoing", "wh-north", "wh-main", day(2)))

	start := w.Start
	lines, err := s.FindLines(context.Background(), booking.LineFilter{
		CompanyID:         company,
		ProductIDs:        []booking.ProductID{"crane"},
		States:            booking.HardCommitmentStates(),
		ReturnWarehouseID: "wh-main",
		Overlapping:       &w,
		ReturnedBy:        &start,
	})

	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.True(t, lines[0].Quantity.Equal(booking.Qty(2.5)))
	require.NotNil(t, lines[0].ExpectedReturn)
	assert.Equal(t, day(2), lines[0].ExpectedReturn.UTC())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumQuantityByProduct_GroupsAndScansNumeric(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT product_id, SUM\(quantity\)\s+FROM booking_lines\s+WHERE .*\s+GROUP BY product_id`).
		WithArgs(company).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "sum"}).
			AddRow("crane", "5.5").
			AddRow("lift", "4"))

	sums, err := s.SumQuantityByProduct(context.Background(),
		booking.LineFilter{CompanyID: company})

	require.NoError(t, err)
	assert.True(t, sums["crane"].Equal(booking.Qty(5.5)))
	assert.True(t, sums["lift"].Equal(booking.Qty(4)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// TRANSACTIONAL BOUNDARY TESTS
// =============================================================================

func TestWithTx_LocksProductRowsBeforeLedgerRead(t *testing.T) {
	// GIVEN: A transactional unit aggregating the ledger for one product
	// WHEN: It runs
	// THEN: The product rows are locked FOR UPDATE before the sum, so a
	//       concurrent commit for the same product queues behind this one

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM products WHERE company_id = \$1 AND id IN \(\$2\) FOR UPDATE`).
		WithArgs(company, booking.ProductID("crane")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("crane"))
	mock.ExpectQuery(`SELECT product_id, SUM\(quantity\)`).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "sum"}).AddRow("crane", "3"))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(view booking.LedgerView) error {
		sums, err := view.SumQuantityByProduct(context.Background(), booking.LineFilter{
			CompanyID:  company,
			ProductIDs: []booking.ProductID{"crane"},
		})
		if err != nil {
			return err
		}
		if !sums["crane"].Equal(booking.Qty(3)) {
			return errors.New("wrong sum")
		}
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackWhenUnitFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("admission rejected")
	err := s.WithTx(context.Background(), func(view booking.LedgerView) error {
		return boom
	})

	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CapacityReadUsesTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT fleet_capacity FROM products`).
		WithArgs(company, booking.ProductID("crane")).
		WillReturnRows(sqlmock.NewRows([]string{"fleet_capacity"}).AddRow("5"))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(view booking.LedgerView) error {
		capacity, err := view.FleetCapacity(context.Background(), company, "crane")
		if err != nil {
			return err
		}
		if !capacity.Equal(booking.Qty(5)) {
			return errors.New("wrong capacity")
		}
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// BOOKING STORE TESTS
// =============================================================================

func TestSaveBooking_ReplacesLineSet(t *testing.T) {
	// GIVEN: A booking with one line
	// WHEN: Saving
	// THEN: Header upsert, then DELETE of the old line set, then one insert

	s, mock := newMockStore(t)
	ret := day(8)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).
		WithArgs(booking.BookingID("b-1"), "RB-001", company, "cust-9", "proj-3",
			booking.WarehouseID("wh-main"), booking.WarehouseID(""),
			day(3), day(10), booking.StateReserved, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM booking_lines WHERE booking_id = \$1`).
		WithArgs(booking.BookingID("b-1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO booking_lines`).
		WithArgs(booking.LineID("l-1"), booking.BookingID("b-1"), company,
			booking.ProductID("crane"), "2",
			day(3), day(10), booking.StateReserved,
			booking.WarehouseID("wh-main"), booking.WarehouseID(""), ret).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.SaveBooking(context.Background(), booking.Booking{
		ID: "b-1", Reference: "RB-001", CompanyID: company,
		CustomerID: "cust-9", ProjectID: "proj-3",
		SourceWarehouseID: "wh-main",
		Window:            booking.Window{Start: day(3), End: day(10)},
		State:             booking.StateReserved,
		Lines: []booking.BookingLine{
			{ID: "l-1", BookingID: "b-1", CompanyID: company, ProductID: "crane",
				Quantity: booking.Qty(2), State: booking.StateReserved,
				SourceWarehouseID: "wh-main",
				Window:            booking.Window{Start: day(3), End: day(10)},
				ExpectedReturn:    &ret},
		},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBooking_ZeroTimesStoredAsNull(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).
		WithArgs(booking.BookingID("b-1"), "RB-001", company, "", "",
			booking.WarehouseID(""), booking.WarehouseID(""),
			nil, nil, booking.StateDraft, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM booking_lines`).
		WithArgs(booking.BookingID("b-1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.SaveBooking(context.Background(), booking.Booking{
		ID: "b-1", Reference: "RB-001", CompanyID: company, State: booking.StateDraft})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBooking_TruncatesSubSecondPrecision(t *testing.T) {
	// GIVEN: A booking whose window carries sub-second precision
	// WHEN: Saving
	// THEN: The bound parameters are truncated to whole seconds, keeping
	//       both SQL backends on the same storage contract

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bookings`).
		WithArgs(booking.BookingID("b-1"), "RB-001", company, "", "",
			booking.WarehouseID(""), booking.WarehouseID(""),
			day(3), day(10), booking.StateReserved, "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM booking_lines`).
		WithArgs(booking.BookingID("b-1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.SaveBooking(context.Background(), booking.Booking{
		ID: "b-1", Reference: "RB-001", CompanyID: company, State: booking.StateReserved,
		Window: booking.Window{
			Start: day(3).Add(250 * time.Millisecond),
			End:   day(10).Add(999 * time.Millisecond),
		},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetState_MirrorsOntoNonTerminalLines(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bookings SET state = \$1, updated_at = NOW\(\) WHERE id = \$2`).
		WithArgs(booking.StateOngoing, booking.BookingID("b-1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE booking_lines SET state = \$1, updated_at = NOW\(\)\s+WHERE booking_id = \$2 AND state NOT IN \(\$3, \$4\)`).
		WithArgs(booking.StateOngoing, booking.BookingID("b-1"),
			booking.StateReturned, booking.StateCancelled).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := s.SetState(context.Background(), "b-1", booking.StateOngoing)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetState_UnknownBookingRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bookings SET state`).
		WithArgs(booking.StateOngoing, booking.BookingID("b-ghost")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.SetState(context.Background(), "b-ghost", booking.StateOngoing)

	assert.True(t, errors.Is(err, booking.ErrBookingNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBooking_UnknownIDIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM bookings WHERE id = \$1`).
		WithArgs(booking.BookingID("b-ghost")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteBooking(context.Background(), "b-ghost")

	assert.True(t, errors.Is(err, booking.ErrBookingNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
