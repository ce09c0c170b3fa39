/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces of the availability engine
  (ProductStore, WarehouseStore, CapacitySource, CommitmentLedger,
  BookingStore, TxRunner) using SQLite. In production, the same patterns
  apply to PostgreSQL - see store/postgres.

KEY TABLES:
  products:      Product records with the configured fleet capacity
  warehouses:    Warehouse records (scoping keys)
  bookings:      Booking headers with lifecycle state
  booking_lines: The commitment ledger rows; owned by their booking
                 (ON DELETE CASCADE)
  transfer_log:  Recorded outbound/inbound movements (see movement.go)

INDEXES:
  - idx_lines_product_state: Admission-check overlap scans (hot path)
  - idx_lines_booking:       Header → lines loads
  - idx_lines_window:        Window range pruning for grid spans
  - idx_bookings_company_state: Nudge scans and listings

CONCURRENCY:
  Uses sync.RWMutex plus SQLite's single-writer WAL mode. WithTx holds the
  write lock for the whole check-and-commit unit, so an admission check
  never interleaves with another commit attempt.

TIME AND QUANTITY ENCODING:
  Times are stored as RFC3339 UTC text, which makes lexical comparison in
  SQL agree with chronological comparison. Zero times are stored as empty
  strings so the ledger can exclude incomplete draft lines in SQL.
  Quantities are stored as decimal text; grouped sums CAST to REAL, which
  is exact for the unit counts this engine deals in.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - booking/ledger.go: Interface definitions and the concurrency contract
  - booking/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/booking"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Products (capacity configuration lives here)
	CREATE TABLE IF NOT EXISTS products (
		id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		fleet_capacity TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (company_id, id)
	);

	-- Warehouses (scoping keys only)
	CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT NOT NULL,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (company_id, id)
	);

	-- Booking headers
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		company_id TEXT NOT NULL,
		customer_id TEXT,
		project_id TEXT,
		source_warehouse_id TEXT,
		return_warehouse_id TEXT,
		window_start TEXT NOT NULL DEFAULT '',
		window_end TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_company_state
		ON bookings(company_id, state);

	-- Booking lines: the commitment ledger. Owned by their booking.
	CREATE TABLE IF NOT EXISTS booking_lines (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		company_id TEXT NOT NULL,
		product_id TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL DEFAULT '0',
		window_start TEXT NOT NULL DEFAULT '',
		window_end TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		source_warehouse_id TEXT NOT NULL DEFAULT '',
		return_warehouse_id TEXT NOT NULL DEFAULT '',
		expected_return TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: admission-check overlap scans filter by product and state
	CREATE INDEX IF NOT EXISTS idx_lines_product_state
		ON booking_lines(product_id, state);
	CREATE INDEX IF NOT EXISTS idx_lines_booking
		ON booking_lines(booking_id);
	CREATE INDEX IF NOT EXISTS idx_lines_window
		ON booking_lines(window_start, window_end);

	-- Transfer log: recorded physical movements (outbound/inbound)
	CREATE TABLE IF NOT EXISTS transfer_log (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		reference TEXT NOT NULL,
		direction TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		from_warehouse_id TEXT NOT NULL DEFAULT '',
		to_warehouse_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfer_log_booking
		ON transfer_log(booking_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the query helpers can
// run inside or outside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PRODUCT STORE (booking.ProductStore + booking.CapacitySource)
// =============================================================================

// SaveProduct inserts or updates a product record.
func (s *Store) SaveProduct(ctx context.Context, p booking.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (id, company_id, name, fleet_capacity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, id) DO UPDATE SET
			name = excluded.name,
			fleet_capacity = excluded.fleet_capacity,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.CompanyID, p.Name, p.FleetCapacity.String(), now, now,
	)
	return err
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, companyID booking.CompanyID, id booking.ProductID) (*booking.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p booking.Product
	var capacity string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, company_id, name, fleet_capacity FROM products WHERE company_id = ? AND id = ?",
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

// ListProducts returns all products for a company.
func (s *Store) ListProducts(ctx context.Context, companyID booking.CompanyID) ([]booking.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, company_id, name, fleet_capacity FROM products WHERE company_id = ? ORDER BY name",
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

// FleetCapacity returns the configured ceiling for one product.
// A missing product yields zero; admission treats zero as unconfigured.
func (s *Store) FleetCapacity(ctx context.Context, companyID booking.CompanyID, productID booking.ProductID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fleetCapacity(ctx, s.db, companyID, productID)
}

func fleetCapacity(ctx context.Context, db dbtx, companyID booking.CompanyID, productID booking.ProductID) (decimal.Decimal, error) {
	var capacity string
	err := db.QueryRowContext(ctx,
		"SELECT fleet_capacity FROM products WHERE company_id = ? AND id = ?",
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

// FleetCapacities is the batch form used by the grid builder.
func (s *Store) FleetCapacities(ctx context.Context, companyID booking.CompanyID, productIDs []booking.ProductID) (map[booking.ProductID]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fleetCapacities(ctx, s.db, companyID, productIDs)
}

func fleetCapacities(ctx context.Context, db dbtx, companyID booking.CompanyID, productIDs []booking.ProductID) (map[booking.ProductID]decimal.Decimal, error) {
	result := make(map[booking.ProductID]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	query := "SELECT id, fleet_capacity FROM products WHERE company_id = ? AND id IN (" +
		placeholders(len(productIDs)) + ")"
	args := []any{companyID}
	for _, pid := range productIDs {
		args = append(args, pid)
	}

	rows, err := db.QueryContext(ctx, query, args...)
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

// ProductNames resolves display names for grid rows.
func (s *Store) ProductNames(ctx context.Context, companyID booking.CompanyID, ids []booking.ProductID) (map[booking.ProductID]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[booking.ProductID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	query := "SELECT id, name FROM products WHERE company_id = ? AND id IN (" +
		placeholders(len(ids)) + ")"
	args := []any{companyID}
	for _, pid := range ids {
		args = append(args, pid)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// =============================================================================
// WAREHOUSE STORE
// =============================================================================

// SaveWarehouse inserts or updates a warehouse record.
func (s *Store) SaveWarehouse(ctx context.Context, w booking.Warehouse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO warehouses (id, company_id, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(company_id, id) DO UPDATE SET
			name = excluded.name
	`

	_, err := s.db.ExecContext(ctx, query,
		w.ID, w.CompanyID, w.Name, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetWarehouse retrieves a warehouse by ID.
func (s *Store) GetWarehouse(ctx context.Context, companyID booking.CompanyID, id booking.WarehouseID) (*booking.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w booking.Warehouse
	err := s.db.QueryRowContext(ctx,
		"SELECT id, company_id, name FROM warehouses WHERE company_id = ? AND id = ?",
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

// ListWarehouses returns all warehouses for a company.
func (s *Store) ListWarehouses(ctx context.Context, companyID booking.CompanyID) ([]booking.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, company_id, name FROM warehouses WHERE company_id = ? ORDER BY name",
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
// COMMITMENT LEDGER (booking.CommitmentLedger interface)
// =============================================================================

// FindLines returns all lines matching the filter.
func (s *Store) FindLines(ctx context.Context, filter booking.LineFilter) ([]booking.BookingLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findLines(ctx, s.db, filter)
}

// SumQuantityByProduct answers point checks with one grouped query.
func (s *Store) SumQuantityByProduct(ctx context.Context, filter booking.LineFilter) (map[booking.ProductID]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumQuantityByProduct(ctx, s.db, filter)
}

// lineFilterWhere renders a LineFilter as a WHERE clause. The countable
// conditions (positive quantity, product and window present) are always
// applied, matching the ledger contract.
func lineFilterWhere(filter booking.LineFilter) (string, []any) {
	where := []string{
		"CAST(quantity AS REAL) > 0",
		"product_id != ''",
		"window_start != ''",
		"window_end != ''",
	}
	var args []any

	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if len(filter.ProductIDs) > 0 {
		where = append(where, "product_id IN ("+placeholders(len(filter.ProductIDs))+")")
		for _, pid := range filter.ProductIDs {
			args = append(args, pid)
		}
	}
	if len(filter.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(filter.States))+")")
		for _, st := range filter.States {
			args = append(args, st)
		}
	}
	if filter.SourceWarehouseID != "" {
		where = append(where, "source_warehouse_id = ?")
		args = append(args, filter.SourceWarehouseID)
	}
	if filter.ReturnWarehouseID != "" {
		// Effective return warehouse defaults to the source warehouse.
		where = append(where, "COALESCE(NULLIF(return_warehouse_id, ''), source_warehouse_id) = ?")
		args = append(args, filter.ReturnWarehouseID)
	}
	if filter.Overlapping != nil {
		// Half-open overlap: start < other.end AND end > other.start.
		where = append(where, "window_start < ? AND window_end > ?")
		args = append(args, fmtTime(filter.Overlapping.End), fmtTime(filter.Overlapping.Start))
	}
	if filter.ReturnedBy != nil {
		// Effective expected return defaults to the window end.
		where = append(where, "COALESCE(expected_return, window_end) <= ?")
		args = append(args, fmtTime(*filter.ReturnedBy))
	}
	if filter.ExcludeLineID != "" {
		where = append(where, "id != ?")
		args = append(args, filter.ExcludeLineID)
	}

	return strings.Join(where, " AND "), args
}

func findLines(ctx context.Context, db dbtx, filter booking.LineFilter) ([]booking.BookingLine, error) {
	where, args := lineFilterWhere(filter)
	query := `
		SELECT id, booking_id, company_id, product_id, quantity,
		       window_start, window_end, state,
		       source_warehouse_id, return_warehouse_id, expected_return
		FROM booking_lines
		WHERE ` + where + `
		ORDER BY id ASC
	`

	rows, err := db.QueryContext(ctx, query, args...)
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
	where, args := lineFilterWhere(filter)
	query := `
		SELECT product_id, SUM(CAST(quantity AS REAL))
		FROM booking_lines
		WHERE ` + where + `
		GROUP BY product_id
	`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum booking lines: %w", err)
	}
	defer rows.Close()

	sums := make(map[booking.ProductID]decimal.Decimal)
	for rows.Next() {
		var pid booking.ProductID
		var total float64
		if err := rows.Scan(&pid, &total); err != nil {
			return nil, err
		}
		sums[pid] = decimal.NewFromFloat(total)
	}
	return sums, rows.Err()
}

func scanLine(rows *sql.Rows) (booking.BookingLine, error) {
	var (
		line           booking.BookingLine
		quantity       string
		windowStart    string
		windowEnd      string
		expectedReturn sql.NullString
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
	line.Window = booking.Window{Start: parseTime(windowStart), End: parseTime(windowEnd)}
	if expectedReturn.Valid && expectedReturn.String != "" {
		t := parseTime(expectedReturn.String)
		line.ExpectedReturn = &t
	}
	return line, nil
}

// =============================================================================
// BOOKING STORE (booking.BookingStore interface)
// =============================================================================

// SaveBooking inserts or updates a booking header and replaces its lines.
func (s *Store) SaveBooking(ctx context.Context, b booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO bookings
		(id, reference, company_id, customer_id, project_id,
		 source_warehouse_id, return_warehouse_id, window_start, window_end,
		 state, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference = excluded.reference,
			customer_id = excluded.customer_id,
			project_id = excluded.project_id,
			source_warehouse_id = excluded.source_warehouse_id,
			return_warehouse_id = excluded.return_warehouse_id,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			state = excluded.state,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		b.ID, b.Reference, b.CompanyID, b.CustomerID, b.ProjectID,
		b.SourceWarehouseID, b.ReturnWarehouseID,
		fmtTime(b.Window.Start), fmtTime(b.Window.End),
		b.State, b.Notes, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}

	// Lines are owned by the header: replace the whole set.
	if _, err := db.ExecContext(ctx, "DELETE FROM booking_lines WHERE booking_id = ?", b.ID); err != nil {
		return fmt.Errorf("failed to clear booking lines: %w", err)
	}
	for _, line := range b.Lines {
		if err := insertLine(ctx, db, line, now); err != nil {
			return err
		}
	}
	return nil
}

func insertLine(ctx context.Context, db dbtx, line booking.BookingLine, now string) error {
	var expectedReturn *string
	if line.ExpectedReturn != nil {
		t := fmtTime(*line.ExpectedReturn)
		expectedReturn = &t
	}

	query := `
		INSERT INTO booking_lines
		(id, booking_id, company_id, product_id, quantity,
		 window_start, window_end, state,
		 source_warehouse_id, return_warehouse_id, expected_return,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			quantity = excluded.quantity,
			window_start = excluded.window_start,
			window_end = excluded.window_end,
			state = excluded.state,
			source_warehouse_id = excluded.source_warehouse_id,
			return_warehouse_id = excluded.return_warehouse_id,
			expected_return = excluded.expected_return,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		line.ID, line.BookingID, line.CompanyID, line.ProductID, line.Quantity.String(),
		fmtTime(line.Window.Start), fmtTime(line.Window.End), line.State,
		line.SourceWarehouseID, line.ReturnWarehouseID, expectedReturn,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save booking line: %w", err)
	}
	return nil
}

// GetBooking retrieves a booking with its lines.
func (s *Store) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBooking(ctx, s.db, id)
}

func getBooking(ctx context.Context, db dbtx, id booking.BookingID) (*booking.Booking, error) {
	var b booking.Booking
	var customerID, projectID, notes sql.NullString
	var windowStart, windowEnd string

	err := db.QueryRowContext(ctx, `
		SELECT id, reference, company_id, customer_id, project_id,
		       source_warehouse_id, return_warehouse_id, window_start, window_end,
		       state, notes
		FROM bookings WHERE id = ?`,
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
	b.Window = booking.Window{Start: parseTime(windowStart), End: parseTime(windowEnd)}

	lines, err := loadLines(ctx, db, b.ID)
	if err != nil {
		return nil, err
	}
	b.Lines = lines
	return &b, nil
}

// loadLines loads a booking's lines without filtering: drafts with
// incomplete lines must round-trip intact.
func loadLines(ctx context.Context, db dbtx, id booking.BookingID) ([]booking.BookingLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, booking_id, company_id, product_id, quantity,
		       window_start, window_end, state,
		       source_warehouse_id, return_warehouse_id, expected_return
		FROM booking_lines
		WHERE booking_id = ?
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

// ListBookings returns bookings filtered by company and states.
func (s *Store) ListBookings(ctx context.Context, companyID booking.CompanyID, states []booking.LineState) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBookings(ctx, s.db, companyID, states)
}

func listBookings(ctx context.Context, db dbtx, companyID booking.CompanyID, states []booking.LineState) ([]booking.Booking, error) {
	where := []string{"1=1"}
	var args []any
	if companyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, companyID)
	}
	if len(states) > 0 {
		where = append(where, "state IN ("+placeholders(len(states))+")")
		for _, st := range states {
			args = append(args, st)
		}
	}

	query := `
		SELECT id, reference, company_id, customer_id, project_id,
		       source_warehouse_id, return_warehouse_id, window_start, window_end,
		       state, notes
		FROM bookings
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, id ASC
	`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []booking.Booking
	for rows.Next() {
		var b booking.Booking
		var customerID, projectID, notes sql.NullString
		var windowStart, windowEnd string
		if err := rows.Scan(&b.ID, &b.Reference, &b.CompanyID, &customerID, &projectID,
			&b.SourceWarehouseID, &b.ReturnWarehouseID, &windowStart, &windowEnd,
			&b.State, &notes); err != nil {
			return nil, err
		}
		b.CustomerID = customerID.String
		b.ProjectID = projectID.String
		b.Notes = notes.String
		b.Window = booking.Window{Start: parseTime(windowStart), End: parseTime(windowEnd)}
		bookings = append(bookings, b)
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

// DeleteBooking removes a booking; its lines cascade.
func (s *Store) DeleteBooking(ctx context.Context, id booking.BookingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

// SetState updates the header state and mirrors it onto non-terminal lines.
func (s *Store) SetState(ctx context.Context, id booking.BookingID, state booking.LineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := db.ExecContext(ctx,
		"UPDATE bookings SET state = ?, updated_at = ? WHERE id = ?",
		state, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrBookingNotFound
	}

	_, err = db.ExecContext(ctx, `
		UPDATE booking_lines SET state = ?, updated_at = ?
		WHERE booking_id = ? AND state NOT IN (?, ?)`,
		state, now, id, booking.StateReturned, booking.StateCancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to mirror state onto lines: %w", err)
	}
	return nil
}

// SaveLine inserts or updates a single line.
func (s *Store) SaveLine(ctx context.Context, line booking.BookingLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertLine(ctx, s.db, line, time.Now().UTC().Format(time.RFC3339))
}

// =============================================================================
// TRANSACTIONAL BOUNDARY (booking.TxRunner interface)
// =============================================================================

// WithTx executes a function within a database transaction. The write lock
// is held for the whole unit: admission reads and the state write cannot
// interleave with another commit attempt.
func (s *Store) WithTx(ctx context.Context, fn func(view booking.LedgerView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txView{tx: sqlTx}
	if err := fn(view); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txView struct {
	tx *sql.Tx
}

func (tv *txView) FleetCapacity(ctx context.Context, companyID booking.CompanyID, productID booking.ProductID) (decimal.Decimal, error) {
	return fleetCapacity(ctx, tv.tx, companyID, productID)
}

func (tv *txView) FleetCapacities(ctx context.Context, companyID booking.CompanyID, productIDs []booking.ProductID) (map[booking.ProductID]decimal.Decimal, error) {
	return fleetCapacities(ctx, tv.tx, companyID, productIDs)
}

func (tv *txView) FindLines(ctx context.Context, filter booking.LineFilter) ([]booking.BookingLine, error) {
	return findLines(ctx, tv.tx, filter)
}

func (tv *txView) SumQuantityByProduct(ctx context.Context, filter booking.LineFilter) (map[booking.ProductID]decimal.Decimal, error) {
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
	res, err := tv.tx.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id)
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
	return insertLine(ctx, tv.tx, line, time.Now().UTC().Format(time.RFC3339))
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"booking_lines", "bookings", "transfer_log", "products", "warehouses"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// fmtTime renders RFC3339 UTC; zero times become empty strings so SQL
// filters can exclude incomplete drafts. Second granularity is the storage
// contract: sub-second precision is truncated on the way in, the same as
// the postgres store.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
