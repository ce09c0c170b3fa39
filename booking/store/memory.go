// Package store provides the in-memory engine store (for testing/dev).
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds everything behind one mutex. Transactions are simulated
// with snapshot + rollback, which gives the same serializable behavior the
// admission check needs: one commit attempt at a time.
type Memory struct {
	mu         sync.RWMutex
	products   map[recordKey]booking.Product
	warehouses map[recordKey]booking.Warehouse
	bookings   map[booking.BookingID]booking.Booking
}

type recordKey struct {
	Company booking.CompanyID
	ID      string
}

func NewMemory() *Memory {
	return &Memory{
		products:   make(map[recordKey]booking.Product),
		warehouses: make(map[recordKey]booking.Warehouse),
		bookings:   make(map[booking.BookingID]booking.Booking),
	}
}

// =============================================================================
// PRODUCTS AND WAREHOUSES
// =============================================================================

func (m *Memory) SaveProduct(_ context.Context, p booking.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[recordKey{Company: p.CompanyID, ID: string(p.ID)}] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, companyID booking.CompanyID, id booking.ProductID) (*booking.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[recordKey{Company: companyID, ID: string(id)}]
	if !ok {
		return nil, booking.ErrProductNotFound
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context, companyID booking.CompanyID) ([]booking.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []booking.Product
	for k, p := range m.products {
		if k.Company == companyID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveWarehouse(_ context.Context, w booking.Warehouse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warehouses[recordKey{Company: w.CompanyID, ID: string(w.ID)}] = w
	return nil
}

func (m *Memory) GetWarehouse(_ context.Context, companyID booking.CompanyID, id booking.WarehouseID) (*booking.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.warehouses[recordKey{Company: companyID, ID: string(id)}]
	if !ok {
		return nil, booking.ErrWarehouseNotFound
	}
	return &w, nil
}

func (m *Memory) ListWarehouses(_ context.Context, companyID booking.CompanyID) ([]booking.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []booking.Warehouse
	for k, w := range m.warehouses {
		if k.Company == companyID {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// CAPACITY SOURCE AND PRODUCT NAMER
// =============================================================================

func (m *Memory) FleetCapacity(_ context.Context, companyID booking.CompanyID, productID booking.ProductID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fleetCapacityLocked(companyID, productID), nil
}

func (m *Memory) fleetCapacityLocked(companyID booking.CompanyID, productID booking.ProductID) decimal.Decimal {
	p, ok := m.products[recordKey{Company: companyID, ID: string(productID)}]
	if !ok {
		return decimal.Zero
	}
	return p.FleetCapacity
}

func (m *Memory) FleetCapacities(_ context.Context, companyID booking.CompanyID, productIDs []booking.ProductID) (map[booking.ProductID]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fleetCapacitiesLocked(companyID, productIDs), nil
}

func (m *Memory) fleetCapacitiesLocked(companyID booking.CompanyID, productIDs []booking.ProductID) map[booking.ProductID]decimal.Decimal {
	result := make(map[booking.ProductID]decimal.Decimal, len(productIDs))
	for _, pid := range productIDs {
		if p, ok := m.products[recordKey{Company: companyID, ID: string(pid)}]; ok {
			result[pid] = p.FleetCapacity
		}
	}
	return result
}

func (m *Memory) ProductNames(_ context.Context, companyID booking.CompanyID, ids []booking.ProductID) (map[booking.ProductID]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make(map[booking.ProductID]string, len(ids))
	for _, pid := range ids {
		if p, ok := m.products[recordKey{Company: companyID, ID: string(pid)}]; ok {
			names[pid] = p.Name
		}
	}
	return names, nil
}

// =============================================================================
// COMMITMENT LEDGER
// =============================================================================

func (m *Memory) FindLines(_ context.Context, filter booking.LineFilter) ([]booking.BookingLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLinesLocked(filter), nil
}

func (m *Memory) SumQuantityByProduct(_ context.Context, filter booking.LineFilter) (map[booking.ProductID]decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sumByProduct(m.findLinesLocked(filter)), nil
}

func (m *Memory) findLinesLocked(filter booking.LineFilter) []booking.BookingLine {
	var result []booking.BookingLine
	for _, b := range m.bookings {
		for _, line := range b.Lines {
			if matchLine(filter, line) {
				result = append(result, line)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.Compare(string(result[i].ID), string(result[j].ID)) < 0
	})
	return result
}

// matchLine implements LineFilter semantics. Non-countable lines never match.
func matchLine(filter booking.LineFilter, line booking.BookingLine) bool {
	if !line.Countable() {
		return false
	}
	if filter.ExcludeLineID != "" && line.ID == filter.ExcludeLineID {
		return false
	}
	if filter.CompanyID != "" && line.CompanyID != filter.CompanyID {
		return false
	}
	if len(filter.ProductIDs) > 0 {
		found := false
		for _, pid := range filter.ProductIDs {
			if line.ProductID == pid {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.States) > 0 {
		found := false
		for _, s := range filter.States {
			if line.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.SourceWarehouseID != "" && line.SourceWarehouseID != filter.SourceWarehouseID {
		return false
	}
	if filter.ReturnWarehouseID != "" && line.ReturnWarehouse() != filter.ReturnWarehouseID {
		return false
	}
	if filter.Overlapping != nil && !line.Window.Overlaps(*filter.Overlapping) {
		return false
	}
	if filter.ReturnedBy != nil && line.ExpectedReturnAt().After(*filter.ReturnedBy) {
		return false
	}
	return true
}

func sumByProduct(lines []booking.BookingLine) map[booking.ProductID]decimal.Decimal {
	sums := make(map[booking.ProductID]decimal.Decimal)
	for _, line := range lines {
		sums[line.ProductID] = sums[line.ProductID].Add(line.Quantity)
	}
	return sums
}

// =============================================================================
// BOOKING STORE
// =============================================================================

func (m *Memory) SaveBooking(_ context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveBookingLocked(b)
	return nil
}

func (m *Memory) saveBookingLocked(b booking.Booking) {
	b.Lines = append([]booking.BookingLine{}, b.Lines...)
	m.bookings[b.ID] = b
}

func (m *Memory) GetBooking(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBookingLocked(id)
}

func (m *Memory) getBookingLocked(id booking.BookingID) (*booking.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	b.Lines = append([]booking.BookingLine{}, b.Lines...)
	return &b, nil
}

func (m *Memory) ListBookings(_ context.Context, companyID booking.CompanyID, states []booking.LineState) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []booking.Booking
	for _, b := range m.bookings {
		if companyID != "" && b.CompanyID != companyID {
			continue
		}
		if len(states) > 0 {
			found := false
			for _, s := range states {
				if b.State == s {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		b.Lines = append([]booking.BookingLine{}, b.Lines...)
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeleteBooking(_ context.Context, id booking.BookingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[id]; !ok {
		return booking.ErrBookingNotFound
	}
	delete(m.bookings, id) // lines are owned, so they go with the header
	return nil
}

func (m *Memory) SetState(_ context.Context, id booking.BookingID, state booking.LineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setStateLocked(id, state)
}

func (m *Memory) setStateLocked(id booking.BookingID, state booking.LineState) error {
	b, ok := m.bookings[id]
	if !ok {
		return booking.ErrBookingNotFound
	}
	b.State = state
	lines := append([]booking.BookingLine{}, b.Lines...)
	for i := range lines {
		if !lines[i].State.Terminal() {
			lines[i].State = state
		}
	}
	b.Lines = lines
	m.bookings[id] = b
	return nil
}

func (m *Memory) SaveLine(_ context.Context, line booking.BookingLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLineLocked(line)
}

func (m *Memory) saveLineLocked(line booking.BookingLine) error {
	b, ok := m.bookings[line.BookingID]
	if !ok {
		return booking.ErrBookingNotFound
	}
	lines := append([]booking.BookingLine{}, b.Lines...)
	replaced := false
	for i := range lines {
		if lines[i].ID == line.ID {
			lines[i] = line
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, line)
	}
	b.Lines = lines
	m.bookings[line.BookingID] = b
	return nil
}

// =============================================================================
// TRANSACTIONAL BOUNDARY
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store this is simulated with the write lock held for the
// whole unit plus a snapshot + rollback on error. Holding the lock across
// the read-check-write sequence is exactly the serializability the
// admission check requires.
func (m *Memory) WithTx(_ context.Context, fn func(view booking.LedgerView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	view := &txMemoryView{parent: m}

	if err := fn(view); err != nil {
		m.bookings = snapshot
		return err
	}
	return nil
}

func (m *Memory) snapshotLocked() map[booking.BookingID]booking.Booking {
	snap := make(map[booking.BookingID]booking.Booking, len(m.bookings))
	for id, b := range m.bookings {
		b.Lines = append([]booking.BookingLine{}, b.Lines...)
		snap[id] = b
	}
	return snap
}

// txMemoryView serves ledger reads and writes while the parent's write lock
// is held by WithTx. It must never take the lock itself.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) FleetCapacity(_ context.Context, companyID booking.CompanyID, productID booking.ProductID) (decimal.Decimal, error) {
	return tv.parent.fleetCapacityLocked(companyID, productID), nil
}

func (tv *txMemoryView) FleetCapacities(_ context.Context, companyID booking.CompanyID, productIDs []booking.ProductID) (map[booking.ProductID]decimal.Decimal, error) {
	return tv.parent.fleetCapacitiesLocked(companyID, productIDs), nil
}

func (tv *txMemoryView) FindLines(_ context.Context, filter booking.LineFilter) ([]booking.BookingLine, error) {
	return tv.parent.findLinesLocked(filter), nil
}

func (tv *txMemoryView) SumQuantityByProduct(_ context.Context, filter booking.LineFilter) (map[booking.ProductID]decimal.Decimal, error) {
	return sumByProduct(tv.parent.findLinesLocked(filter)), nil
}

func (tv *txMemoryView) SaveBooking(_ context.Context, b booking.Booking) error {
	tv.parent.saveBookingLocked(b)
	return nil
}

func (tv *txMemoryView) GetBooking(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	return tv.parent.getBookingLocked(id)
}

func (tv *txMemoryView) ListBookings(_ context.Context, companyID booking.CompanyID, states []booking.LineState) ([]booking.Booking, error) {
	var result []booking.Booking
	for _, b := range tv.parent.bookings {
		if companyID != "" && b.CompanyID != companyID {
			continue
		}
		keep := len(states) == 0
		for _, s := range states {
			if b.State == s {
				keep = true
				break
			}
		}
		if keep {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (tv *txMemoryView) DeleteBooking(_ context.Context, id booking.BookingID) error {
	if _, ok := tv.parent.bookings[id]; !ok {
		return booking.ErrBookingNotFound
	}
	delete(tv.parent.bookings, id)
	return nil
}

func (tv *txMemoryView) SetState(_ context.Context, id booking.BookingID, state booking.LineState) error {
	return tv.parent.setStateLocked(id, state)
}

func (tv *txMemoryView) SaveLine(_ context.Context, line booking.BookingLine) error {
	return tv.parent.saveLineLocked(line)
}
