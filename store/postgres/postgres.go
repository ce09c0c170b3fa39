/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces.

PURPOSE:
  The production variant of store/sqlite. Same interfaces, same tables;
  the differences are the dialect ($n placeholders, NUMERIC and
  TIMESTAMPTZ columns) and the concurrency mechanism.

CONCURRENCY:
  Where the SQLite store serializes through a process-wide mutex and the
  single writer, this store uses database-level control:
  - WithTx opens a SERIALIZABLE transaction.
  - Inside the transaction, ledger queries first lock the product rows
    they aggregate over (SELECT ... FOR UPDATE), so two concurrent commit
    attempts for the same product queue instead of both reading the
    pre-commit ledger.

ENCODING:
  Quantities are NUMERIC and scanned as strings into decimal.Decimal.
  Times are TIMESTAMPTZ; zero times are stored as NULL so the ledger can
  exclude incomplete draft lines in SQL.

SEE ALSO:
  - booking/ledger.go: Interface definitions and the concurrency contract
  - store/sqlite: The embedded/dev variant
*/
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/booking"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New connects with the given DSN and migrates the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an existing connection without migrating. Used by tests
// that drive the store against a mock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		fleet_capacity NUMERIC NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (company_id, id)
	);

	CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (company_id, id)
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		company_id TEXT NOT NULL,
		customer_id TEXT,
		project_id TEXT,
		source_warehouse_id TEXT,
		return_warehouse_id TEXT,
		window_start TIMESTAMPTZ,
		window_end TIMESTAMPTZ,
		state TEXT NOT NULL,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_company_state
		ON bookings(company_id, state);

	CREATE TABLE IF NOT EXISTS booking_lines (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		company_id TEXT NOT NULL,
		product_id TEXT NOT NULL DEFAULT '',
		quantity NUMERIC NOT NULL DEFAULT 0,
		window_start TIMESTAMPTZ,
		window_end TIMESTAMPTZ,
		state TEXT NOT NULL,
		source_warehouse_id TEXT NOT NULL DEFAULT '',
		return_warehouse_id TEXT NOT NULL DEFAULT '',
		expected_return TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_lines_product_state
		ON booking_lines(product_id, state);
	CREATE INDEX IF NOT EXISTS idx_lines_booking
		ON booking_lines(booking_id);
	CREATE INDEX IF NOT EXISTS idx_lines_window
		ON booking_lines(window_start, window_end);

	CREATE TABLE IF NOT EXISTS transfer_log (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		reference TEXT NOT NULL,
		direction TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity NUMERIC NOT NULL,
		from_warehouse_id TEXT NOT NULL DEFAULT '',
		to_warehouse_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_transfer_log_booking
		ON transfer_log(booking_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// qb accumulates positional arguments for $n placeholders.
type qb struct {
	args []any
}

func (b *qb) add(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *qb) addAll(vs ...any) string {
	marks := make([]string, 0, len(vs))
	for _, v := range vs {
		marks = append(marks, b.add(v))
	}
	return strings.Join(marks, ",")
}

// =============================================================================
// PRODUCT STORE
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p booking.Product) error {
	query := `
		INSERT INTO products (id, company_id, name, fleet_capacity, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (company_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			fleet_capacity = EXCLUDED.fleet_capacity,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.CompanyID, p.Name, p.FleetCapacity.String())
	return err
}

func (s *Store) GetProduct(ctx context.Context, companyID booking.CompanyID, id booking.ProductID) (*booking.Product, error) {
	var p booking.Product
	var capacity string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, company_id, name, fleet_capacity FROM products WHERE company_id = $1 AND id = $2",
		companyID, id,
	).Scan(&p.ID, &p.CompanyID, &p.Name, &capacity)

	if err == sql.ErrNoRows {
		return nil, booking.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	p.FleetCapacity, _ = decimal.NewFromString(capacity)
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, companyID booking.CompanyID) ([]booking.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, company_id, name, fleet_capacity FROM products WHERE company_id = $1 ORDER BY name",
		companyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []booking.Product
	for rows.Next() {
		var p booking.Product
		var capacity string
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &capacity); err != nil {
			return nil, err
		}
		p.FleetCapacity, _ = decimal.NewFromString(capacity)
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) FleetCapacity(ctx context.Context, companyID booking.CompanyID, productID booking.ProductID) (decimal.Decimal, error) {
	return fleetCapacity(ctx, s.db, companyID, productID)
}

func fleetCapacity(ctx context.Context, db dbtx, companyID booking.CompanyID, productID booking.ProductID) (decimal.Decimal, error) {
	var capacity string
	err := db.QueryRowContext(ctx,
		"SELECT fleet_capacity FROM products WHERE company_id = $1 AND id = $2",
		companyID, productID,
	).Scan(&capacity)

	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, _ := decimal.NewFromString(capacity)
	return d, nil
}

func (s *Store) FleetCapacities(ctx context.Context, companyID booking.CompanyID, productIDs []booking.ProductID) (map[booking.ProductID]decimal.Decimal, error) {
	result := make(map[booking.ProductID]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	b := &qb{}
	query := "SELECT id, fleet_capacity FROM products WHERE company_id = " + b.add(companyID) +
		" AND id IN (" + addProductIDs(b, productIDs) + ")"

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id booking.ProductID
		var capacity string
		if err := rows.Scan(&id, &capacity); err != nil {
			return nil, err
		}
		result[id], _ = decimal.NewFromString(capacity)
	}
	return result, rows.Err()
}

func (s *Store) ProductNames(ctx context.Context, companyID booking.CompanyID, ids []booking.ProductID) (map[booking.ProductID]string, error) {
	names := make(map[booking.ProductID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	b := &qb{}
	query := "SELECT id, name FROM products WHERE company_id = " + b.add(companyID) +
		" AND id IN (" + addProductIDs(b, ids) + ")"

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id booking.ProductID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func addProductIDs(b *qb, ids []booking.ProductID) string {
	vs := make([]any, 0, len(ids))
	for _, id := range ids {
		vs = append(vs, id)
	}
	return b.addAll(vs...)
}

// =============================================================================
// WAREHOUSE STORE
// =============================================================================

func (s *Store) SaveWarehouse(ctx context.Context, w booking.Warehouse) error {
	query := `
		INSERT INTO warehouses (id, company_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, id) DO UPDATE SET name = EXCLUDED.name
	`
	_, err := s.db.ExecContext(ctx, query, w.ID, w.CompanyID, w.Name)
	return err
}

func (s *Store) GetWarehouse(ctx context.Context, companyID booking.CompanyID, id booking.WarehouseID) (*booking.Warehouse, error) {
	var w booking.Warehouse
	err := s.db.QueryRowContext(ctx,
		"SELECT id, company_id, name FROM warehouses WHERE company_id = $1 AND id = $2",
		companyID, id,
	).Scan(&w.ID, &w.CompanyID, &w.Name)

	if err == sql.ErrNoRows {
		return nil, booking.ErrWarehouseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) ListWarehouses(ctx context.Context, companyID booking.CompanyID) ([]booking.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, company_id, name FROM warehouses WHERE company_id = $1 ORDER BY name",
		companyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warehouses []booking.Warehouse
	for rows.Next() {
		var w booking.Warehouse
		if err := rows.Scan(&w.ID, &w.CompanyID, &w.Name); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

// =============================================================================
// COMMITMENT LEDGER
// =============================================================================

func (s *Store) FindLines(ctx context.Context, filter booking.LineFilter) ([]booking.BookingLine, error) {
	return findLines(ctx, s.db, filter)
}

func (s *Store) SumQuantityByProduct(ctx context.Context, filter booking.LineFilter) (map[booking.ProductID]decimal.Decimal, error) {
	return sumQuantityByProduct(ctx, s.db, filter)
}

func lineFilterWhere(b *qb, filter booking.LineFilter) string {
	where := []string{
		"quantity > 0",
		"product_id != ''",
		"window_start IS NOT NULL",
		"window_end IS NOT NULL",
	}

	if filter.CompanyID != "" {
		where = append(where, "company_id = "+b.add(filter.CompanyID))
	}
	if len(filter.ProductIDs) > 0 {
		where = append(where, "product_id IN ("+addProductIDs(b, filter.ProductIDs)+")")
	}
	if len(filter.States) > 0 {
		vs := make([]any, 0, len(filter.States))
		for _, st := range filter.States {
			vs = append(vs, st)
		}
		where = append(where, "state IN ("+b.addAll(vs...)+")")
	}
	if filter.SourceWarehouseID != "" {
		where = append(where, "source_warehouse_id = "+b.add(filter.SourceWarehouseID))
	}
	if filter.ReturnWarehouseID != "" {
		where = append(where, "COALESCE(NULLIF(return_warehouse_id, ''), source_warehouse_id) = "+b.add(filter.ReturnWarehouseID))
	}
	if filter.Overlapping != nil {
		where = append(where, "window_start < "+b.add(filter.Overlapping.End))
		where = append(where, "window_end > "+b.add(filter.Overlapping.Start))
	}
	if filter.ReturnedBy != nil {
		where = append(where, "COALESCE(expected_return, window_end) <= "+b.add(*filter.ReturnedBy))
	}
	if filter.ExcludeLineID != "" {
		where = append(where, "id != "+b.add(filter.ExcludeLineID))
	}

	return strings.Join(where, " AND ")
}

func findLines(ctx context.Context, db dbtx, filter booking.LineFilter) ([]booking.BookingLine, error) {
	b := &qb{}
	where := lineFilterWhere(b, filter)
	query := `
		SELECT id, booking_id, company_id, product_id, quantity,
		       window_start, window_end, state,
		       source_warehouse_id, return_warehouse_id, expected_return
		FROM booking_lines
		WHERE ` + where + `
		ORDER BY id ASC
	`

	rows, err := db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking lines: %w", err)
	}
	defer rows.Close()

	var lines []booking.BookingLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func sumQuantityByProduct(ctx context.Context, db dbtx, filter booking.LineFilter) (map[booking.ProductID]decimal.Decimal, error) {
	b := &qb{}
	where := lineFilterWhere(b, filter)
	query := `
		SELECT product_id, SUM(quantity)
		FROM booking_lines
		WHERE ` + where + `
		GROUP BY product_id
	`

	rows, err := db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum booking lines: %w", err)
	}
	defer rows.Close()

	sums := make(map[booking.ProductID]decimal.Decimal)
	for rows.Next() {
		var pid booking.ProductID
		var total string
		if err := rows.Scan(&pid, &total); err != nil {
			return nil, err
		}
		sums[pid], _ = decimal.NewFromString(total)
	}
	return sums, rows.Err()
}

func scanLine(rows *sql.Rows) (booking.BookingLine, error) {
	var (
		line           booking.BookingLine
		quantity       string
		windowStart    sql.NullTime
		windowEnd      sql.NullTime
		expectedReturn sql.NullTime
	)

	err := rows.Scan(
		&line.ID, &line.BookingID, &line.CompanyID, &line.ProductID, &quantity,
		&windowStart, &windowEnd, &line.State,
		&line.SourceWarehouseID, &line.ReturnWarehouseID, &expectedReturn,
	)
	if err != nil {
		return line, fmt.Errorf("failed to scan booking line: %w", err)
	}

	line.Quantity, _ = decimal.NewFromString(quantity)
	line.Window = booking.Window{Start: windowStart.Time, End: windowEnd.Time}
	if expectedReturn.Valid {
		t := expectedReturn.Time
		line.ExpectedReturn = &t
	}
	return line, nil
}

// =============================================================================
// BOOKING STORE
// =============================================================================

func (s *Store) SaveBooking(ctx context.Context, b booking.Booking) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveBooking(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

func saveBooking(ctx context.Context, db dbtx, b booking.Booking) error {
	query := `
		INSERT INTO bookings
		(id, reference, company_id, customer_id, project_id,
		 source_warehouse_id, return_warehouse_id, window_start, window_end,
		 state, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			reference = EXCLUDED.reference,
			customer_id = EXCLUDED.customer_id,
			project_id = EXCLUDED.project_id,
			source_warehouse_id = EXCLUDED.source_warehouse_id,
			return_warehouse_id = EXCLUDED.return_warehouse_id,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			state = EXCLUDED.state,
			notes = EXCLUDED.notes,
			updated_at = NOW()
	`

	_, err := db.ExecContext(ctx, query,
		b.ID, b.Reference, b.CompanyID, b.CustomerID, b.ProjectID,
		b.SourceWarehouseID, b.ReturnWarehouseID,
		nullTime(b.Window.Start), nullTime(b.Window.End),
		b.State, b.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}

	// Lines are owned by the header: replace the whole set.
	if _, err := db.ExecContext(ctx, "DELETE FROM booking_lines WHERE booking_id = $1", b.ID); err != nil {
		return fmt.Errorf("failed to clear booking lines: %w", err)
	}
	for _, line := range b.Lines {
		if err := insertLine(ctx, db, line); err != nil {
			return err
		}
	}
	return nil
}

func insertLine(ctx context.Context, db dbtx, line booking.BookingLine) error {
	var expectedReturn any
	if line.ExpectedReturn != nil {
		expectedReturn = line.ExpectedReturn.UTC().Truncate(time.Second)
	}

	query := `
		INSERT INTO booking_lines
		(id, booking_id, company_id, product_id, quantity,
		 window_start, window_end, state,
		 source_warehouse_id, return_warehouse_id, expected_return, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			quantity = EXCLUDED.quantity,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			state = EXCLUDED.state,
			source_warehouse_id = EXCLUDED.source_warehouse_id,
			return_warehouse_id = EXCLUDED.return_warehouse_id,
			expected_return = EXCLUDED.expected_return,
			updated_at = NOW()
	`

	_, err := db.ExecContext(ctx, query,
		line.ID, line.BookingID, line.CompanyID, line.ProductID, line.Quantity.String(),
		nullTime(line.Window.Start), nullTime(line.Window.End), line.State,
		line.SourceWarehouseID, line.ReturnWarehouseID, expectedReturn,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking line: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	return getBooking(ctx, s.db, id)
}

func getBooking(ctx context.Context, db dbtx, id booking.BookingID) (*booking.Booking, error) {
	var b booking.Booking
	var customerID, projectID, notes sql.NullString
	var windowStart, windowEnd sql.NullTime

	err := db.QueryRowContext(ctx, `
		SELECT id, reference, company_id, customer_id, project_id,
		       source_warehouse_id, return_warehouse_id, window_start, window_end,
		       state, notes
		FROM bookings WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.Reference, &b.CompanyID, &customerID, &projectID,
		&b.SourceWarehouseID, &b.ReturnWarehouseID, &windowStart, &windowEnd,
		&b.State, &notes)

	if err == sql.ErrNoRows {
		return nil, booking.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}

	b.CustomerID = customerID.String
	b.ProjectID = projectID.String
	b.Notes = notes.String
	b.Window = booking.Window{Start: windowStart.Time, End: windowEnd.Time}

	lines, err := loadLines(ctx, db, b.ID)
	if err != nil {
		return nil, err
	}
	b.Lines = lines
	return &b, nil
}

func loadLines(ctx context.Context, db dbtx, id booking.BookingID) ([]booking.BookingLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, booking_id, company_id, product_id, quantity,
		       window_start, window_end, state,
		       source_warehouse_id, return_warehouse_id, expected_return
		FROM booking_lines
		WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []booking.BookingLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) ListBookings(ctx context.Context, companyID booking.CompanyID, states []booking.LineState) ([]booking.Booking, error) {
	return listBookings(ctx, s.db, companyID, states)
}

func listBookings(ctx context.Context, db dbtx, companyID booking.CompanyID, states []booking.LineState) ([]booking.Booking, error) {
	b := &qb{}
	where := []string{"TRUE"}
	if companyID != "" {
		where = append(where, "company_id = "+b.add(companyID))
	}
	if len(states) > 0 {
		vs := make([]any, 0, len(states))
		for _, st := range states {
			vs = append(vs, st)
		}
		where = append(where, "state IN ("+b.addAll(vs...)+")")
	}

	query := `
		SELECT id, reference, company_id, customer_id, project_id,
		       source_warehouse_id, return_warehouse_id, window_start, window_end,
		       state, notes
		FROM bookings
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, id ASC
	`

	rows, err := db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []booking.Booking
	for rows.Next() {
		var bk booking.Booking
		var customerID, projectID, notes sql.NullString
		var windowStart, windowEnd sql.NullTime
		if err := rows.Scan(&bk.ID, &bk.Reference, &bk.CompanyID, &customerID, &projectID,
			&bk.SourceWarehouseID, &bk.ReturnWarehouseID, &windowStart, &windowEnd,
			&bk.State, &notes); err != nil {
			return nil, err
		}
		bk.CustomerID = customerID.String
		bk.ProjectID = projectID.String
		bk.Notes = notes.String
		bk.Window = booking.Window{Start: windowStart.Time, End: windowEnd.Time}
		bookings = append(bookings, bk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bookings {
		lines, err := loadLines(ctx, db, bookings[i].ID)
		if err != nil {
			return nil, err
		}
		bookings[i].Lines = lines
	}
	return bookings, nil
}

func (s *Store) DeleteBooking(ctx context.Context, id booking.BookingID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM bookings WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (s *Store) SetState(ctx context.Context, id booking.BookingID, state booking.LineState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := setState(ctx, tx, id, state); err != nil {
		return err
	}
	return tx.Commit()
}

func setState(ctx context.Context, db dbtx, id booking.BookingID, state booking.LineState) error {
	res, err := db.ExecContext(ctx,
		"UPDATE bookings SET state = $1, updated_at = NOW() WHERE id = $2",
		state, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrBookingNotFound
	}

	_, err = db.ExecContext(ctx, `
		UPDATE booking_lines SET state = $1, updated_at = NOW()
		WHERE booking_id = $2 AND state NOT IN ($3, $4)`,
		state, id, booking.StateReturned, booking.StateCancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to mirror state onto lines: %w", err)
	}
	return nil
}

func (s *Store) SaveLine(ctx context.Context, line booking.BookingLine) error {
	return insertLine(ctx, s.db, line)
}

// =============================================================================
// TRANSACTIONAL BOUNDARY
// =============================================================================

// WithTx runs fn inside a SERIALIZABLE transaction. Ledger queries inside
// the transaction lock the product rows they aggregate over first, so two
// concurrent commit attempts for the same product queue on the row lock
// and the second re-reads the first's committed quantity.
func (s *Store) WithTx(ctx context.Context, fn func(view booking.LedgerView) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txView{tx: sqlTx}
	if err := fn(view); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txView struct {
	tx *sql.Tx
}

func (tv *txView) FleetCapacity(ctx context.Context, companyID booking.CompanyID, productID booking.ProductID) (decimal.Decimal, error) {
	return fleetCapacity(ctx, tv.tx, companyID, productID)
}

func (tv *txView) FleetCapacities(ctx context.Context, companyID booking.CompanyID, productIDs []booking.ProductID) (map[booking.ProductID]decimal.Decimal, error) {
	result := make(map[booking.ProductID]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	b := &qb{}
	query := "SELECT id, fleet_capacity FROM products WHERE company_id = " + b.add(companyID) +
		" AND id IN (" + addProductIDs(b, productIDs) + ")"

	rows, err := tv.tx.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id booking.ProductID
		var capacity string
		if err := rows.Scan(&id, &capacity); err != nil {
			return nil, err
		}
		result[id], _ = decimal.NewFromString(capacity)
	}
	return result, rows.Err()
}

// lockProducts serializes per-product commit attempts with row locks.
func (tv *txView) lockProducts(ctx context.Context, companyID booking.CompanyID, ids []booking.ProductID) error {
	if len(ids) == 0 {
		return nil
	}
	b := &qb{}
	query := "SELECT id FROM products WHERE company_id = " + b.add(companyID) +
		" AND id IN (" + addProductIDs(b, ids) + ") FOR UPDATE"

	rows, err := tv.tx.QueryContext(ctx, query, b.args...)
	if err != nil {
		return fmt.Errorf("failed to lock product rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (tv *txView) FindLines(ctx context.Context, filter booking.LineFilter) ([]booking.BookingLine, error) {
	if err := tv.lockProducts(ctx, filter.CompanyID, filter.ProductIDs); err != nil {
		return nil, err
	}
	return findLines(ctx, tv.tx, filter)
}

func (tv *txView) SumQuantityByProduct(ctx context.Context, filter booking.LineFilter) (map[booking.ProductID]decimal.Decimal, error) {
	if err := tv.lockProducts(ctx, filter.CompanyID, filter.ProductIDs); err != nil {
		return nil, err
	}
	return sumQuantityByProduct(ctx, tv.tx, filter)
}

func (tv *txView) SaveBooking(ctx context.Context, b booking.Booking) error {
	return saveBooking(ctx, tv.tx, b)
}

func (tv *txView) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	return getBooking(ctx, tv.tx, id)
}

func (tv *txView) ListBookings(ctx context.Context, companyID booking.CompanyID, states []booking.LineState) ([]booking.Booking, error) {
	return listBookings(ctx, tv.tx, companyID, states)
}

func (tv *txView) DeleteBooking(ctx context.Context, id booking.BookingID) error {
	res, err := tv.tx.ExecContext(ctx, "DELETE FROM bookings WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (tv *txView) SetState(ctx context.Context, id booking.BookingID, state booking.LineState) error {
	return setState(ctx, tv.tx, id, state)
}

func (tv *txView) SaveLine(ctx context.Context, line booking.BookingLine) error {
	return insertLine(ctx, tv.tx, line)
}

// =============================================================================
// UTILITIES
// =============================================================================

// nullTime stores zero times as NULL so the ledger can exclude incomplete
// drafts in SQL. Second granularity is the storage contract: sub-second
// precision is truncated on the way in, the same as the sqlite store.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Truncate(time.Second)
}
