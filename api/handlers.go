/*
handlers.go - HTTP API handlers for the rental availability engine

PURPOSE:
  Exposes the availability engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Products:
    GET    /api/products                 List products (?company=)
    POST   /api/products                 Create/update product
    GET    /api/products/{id}            Get product
    GET    /api/products/{id}/counts     Per-state line counts and quantities

  Warehouses:
    GET    /api/warehouses               List warehouses (?company=)
    POST   /api/warehouses               Create/update warehouse

  Bookings:
    GET    /api/bookings                 List bookings (?company=&state=)
    POST   /api/bookings                 Create draft booking
    GET    /api/bookings/{id}            Get booking with lines
    DELETE /api/bookings/{id}            Delete booking (cascades lines)
    POST   /api/bookings/{id}/lines      Add line
    PUT    /api/bookings/{id}/lines/{lineID}  Update line (re-checks if hard)
    POST   /api/bookings/{id}/confirm    draft → reserved
    POST   /api/bookings/{id}/book       reserved → booked (admission check)
    POST   /api/bookings/{id}/start      booked → ongoing
    POST   /api/bookings/{id}/finish     ongoing → finished
    POST   /api/bookings/{id}/return     finished → returned
    POST   /api/bookings/{id}/cancel     any non-terminal → cancelled
    GET    /api/bookings/{id}/availability   Booking-scoped grid

  Availability:
    GET    /api/availability             Global grid (?company=&warehouse=
                                         &products=&weeks=&anchor=)

  Nudges:
    GET    /api/nudges                   Run the status scan now (?company=)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Insufficient availability, illegal transition
  - 422: Product has no fleet capacity configured
  - 500: Internal errors
  Availability rejections carry the full numeric breakdown.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/booking"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// EngineStore is everything the API needs from a backend. The SQLite,
// PostgreSQL, and in-memory stores all satisfy it.
type EngineStore interface {
	booking.Store
	booking.ProductStore
	booking.WarehouseStore
	booking.ProductNamer
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   EngineStore
	Service *booking.Service
	Grid    *booking.GridBuilder

	// DefaultWeeks is the grid bucket count when a request omits weeks.
	DefaultWeeks int
}

// NewHandler creates a new handler over the given store. If the store also
// records movements (the SQL stores do), the lifecycle uses it.
func NewHandler(store EngineStore) *Handler {
	svc := booking.NewService(store)
	if mv, ok := any(store).(booking.MovementExecutor); ok {
		svc.Movement = mv
	}
	return &Handler{
		Store:        store,
		Service:      svc,
		Grid:         &booking.GridBuilder{Capacity: store, Ledger: store, Namer: store},
		DefaultWeeks: booking.DefaultWeekCount,
	}
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// ListProducts returns all products for a company.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}

	products, err := h.Store.ListProducts(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveProduct creates or updates a product record.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req SaveProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "id and company_id are required", nil)
		return
	}
	if req.FleetCapacity < 0 {
		writeError(w, http.StatusBadRequest, "fleet_capacity must not be negative", nil)
		return
	}

	p := booking.Product{
		ID:            booking.ProductID(req.ID),
		Name:          req.Name,
		CompanyID:     booking.CompanyID(req.CompanyID),
		FleetCapacity: decimal.NewFromFloat(req.FleetCapacity),
	}
	if err := h.Store.SaveProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// GetProduct returns one product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}

	p, err := h.Store.GetProduct(r.Context(), companyID, booking.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// GetProductCounts summarizes a product's booking lines per state: how
// many lines and how many units sit in each lifecycle state.
func (h *Handler) GetProductCounts(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	productID := booking.ProductID(chi.URLParam(r, "id"))

	lines, err := h.Store.FindLines(r.Context(), booking.LineFilter{
		ProductIDs: []booking.ProductID{productID},
		CompanyID:  companyID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query lines", err)
		return
	}

	counts := make(map[string]int)
	quantity := make(map[string]float64)
	for _, line := range lines {
		state := string(line.State)
		counts[state]++
		quantity[state] += line.Quantity.InexactFloat64()
	}
	writeJSON(w, http.StatusOK, ProductCountsDTO{
		ProductID: string(productID),
		Counts:    counts,
		Quantity:  quantity,
	})
}

// =============================================================================
// WAREHOUSE HANDLERS
// =============================================================================

// ListWarehouses returns all warehouses for a company.
func (h *Handler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}

	warehouses, err := h.Store.ListWarehouses(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list warehouses", err)
		return
	}

	dtos := make([]WarehouseDTO, 0, len(warehouses))
	for _, wh := range warehouses {
		dtos = append(dtos, toWarehouseDTO(wh))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveWarehouse creates or updates a warehouse record.
func (h *Handler) SaveWarehouse(w http.ResponseWriter, r *http.Request) {
	var req SaveWarehouseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "id and company_id are required", nil)
		return
	}

	wh := booking.Warehouse{
		ID:        booking.WarehouseID(req.ID),
		Name:      req.Name,
		CompanyID: booking.CompanyID(req.CompanyID),
	}
	if err := h.Store.SaveWarehouse(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save warehouse", err)
		return
	}
	writeJSON(w, http.StatusOK, toWarehouseDTO(wh))
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// ListBookings returns bookings for a company, optionally state-filtered.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}

	var states []booking.LineState
	if raw := r.URL.Query().Get("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			state := booking.LineState(strings.TrimSpace(s))
			if !state.Valid() {
				writeError(w, http.StatusBadRequest, "Unknown state: "+s, nil)
				return
			}
			states = append(states, state)
		}
	}

	bookings, err := h.Store.ListBookings(r.Context(), companyID, states)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bookings", err)
		return
	}

	dtos := make([]BookingDTO, 0, len(bookings))
	for _, b := range bookings {
		dtos = append(dtos, toBookingDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBooking creates a draft booking.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}

	b := booking.Booking{
		Reference:         req.Reference,
		CompanyID:         booking.CompanyID(req.CompanyID),
		CustomerID:        req.CustomerID,
		ProjectID:         req.ProjectID,
		SourceWarehouseID: booking.WarehouseID(req.SourceWarehouseID),
		ReturnWarehouseID: booking.WarehouseID(req.ReturnWarehouseID),
		Notes:             req.Notes,
	}
	if req.DateStart != nil {
		b.Window.Start = *req.DateStart
	}
	if req.DateEnd != nil {
		b.Window.End = *req.DateEnd
	}
	for _, lr := range req.Lines {
		b.Lines = append(b.Lines, fromLineRequest(lr))
	}

	created, err := h.Service.Create(r.Context(), b)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*created))
}

// GetBooking returns one booking with its lines.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.Get(r.Context(), booking.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// DeleteBooking removes a booking and its lines.
func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteBooking(r.Context(), booking.BookingID(chi.URLParam(r, "id"))); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AddLine appends a line to a booking.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req LineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line, err := h.Service.AddLine(r.Context(),
		booking.BookingID(chi.URLParam(r, "id")), fromLineRequest(req))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineDTO(*line))
}

// UpdateLine edits a line; a hard-committed line re-runs the admission
// check before the write lands.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req LineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line := fromLineRequest(req)
	line.ID = booking.LineID(chi.URLParam(r, "lineID"))
	line.BookingID = booking.BookingID(chi.URLParam(r, "id"))

	if err := h.Service.UpdateLine(r.Context(), line); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(line))
}

// =============================================================================
// LIFECYCLE HANDLERS
// =============================================================================

// Confirm moves draft → reserved.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Confirm)
}

// Book moves reserved → booked, running the admission check.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	b, breakdowns, err := h.Service.Book(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}

	resp := BookResponse{Booking: toBookingDTO(*b)}
	for _, bd := range breakdowns {
		resp.Breakdowns = append(resp.Breakdowns, toBreakdownDTO(bd))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Start moves booked → ongoing.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Start)
}

// Finish moves ongoing → finished.
func (h *Handler) Finish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Finish)
}

// Return moves finished → returned.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Return)
}

// Cancel moves any non-terminal booking to cancelled.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Cancel)
}

func (h *Handler) transition(
	w http.ResponseWriter,
	r *http.Request,
	step func(ctx context.Context, id booking.BookingID) (*booking.Booking, error),
) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	b, err := step(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// =============================================================================
// AVAILABILITY HANDLERS
// =============================================================================

// GlobalGrid serves the company-wide availability grid.
func (h *Handler) GlobalGrid(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	input := booking.GridInput{
		Mode: booking.ModeGlobal,
		Scope: booking.Scope{
			CompanyID:   companyID,
			WarehouseID: booking.WarehouseID(q.Get("warehouse")),
		},
		WeekCount: h.parseWeeks(q.Get("weeks")),
	}

	if raw := q.Get("anchor"); raw != "" {
		anchor, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "anchor must be RFC3339", err)
			return
		}
		input.Anchor = anchor
	}

	if raw := q.Get("products"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				input.ProductIDs = append(input.ProductIDs, booking.ProductID(p))
			}
		}
	} else {
		// Default to every product the company has configured.
		products, err := h.Store.ListProducts(r.Context(), companyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list products", err)
			return
		}
		for _, p := range products {
			input.ProductIDs = append(input.ProductIDs, p.ID)
		}
	}

	grid, err := h.Grid.Build(r.Context(), input)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGridDTO(grid))
}

// BookingGrid serves the booking-scoped grid: products and needed
// quantities come from the booking's lines, the anchor from its start
// date, and the warehouse defaults to its source warehouse.
func (h *Handler) BookingGrid(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.Get(r.Context(), booking.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		h.handleError(w, err)
		return
	}
	q := r.URL.Query()

	warehouse := b.SourceWarehouseID
	if wh := q.Get("warehouse"); wh != "" {
		warehouse = booking.WarehouseID(wh)
	}

	input := booking.GridInput{
		Mode:            booking.ModeBooking,
		BookingID:       b.ID,
		Scope:           booking.Scope{CompanyID: b.CompanyID, WarehouseID: warehouse},
		ProductIDs:      b.ProductIDs(),
		Anchor:          b.Window.Start,
		WeekCount:       h.parseWeeks(q.Get("weeks")),
		NeededByProduct: b.NeededByProduct(),
	}

	grid, err := h.Grid.Build(r.Context(), input)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGridDTO(grid))
}

// =============================================================================
// NUDGE HANDLER
// =============================================================================

// ListNudges runs the status scan now and returns the findings. Advisory
// only; no state is changed.
func (h *Handler) ListNudges(w http.ResponseWriter, r *http.Request) {
	companyID := booking.CompanyID(r.URL.Query().Get("company"))

	nudger := &booking.StateNudger{Store: h.Store, CompanyID: companyID}
	nudges, err := nudger.Scan(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to scan bookings", err)
		return
	}

	dtos := make([]NudgeDTO, 0, len(nudges))
	for _, n := range nudges {
		dtos = append(dtos, toNudgeDTO(n))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) parseWeeks(raw string) int {
	if raw == "" {
		return h.DefaultWeeks
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return h.DefaultWeeks
	}
	return n // clamped by the grid builder
}

func requireCompany(w http.ResponseWriter, r *http.Request) (booking.CompanyID, bool) {
	companyID := r.URL.Query().Get("company")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company query parameter is required", nil)
		return "", false
	}
	return booking.CompanyID(companyID), true
}

// handleError maps engine errors onto HTTP statuses. Availability
// rejections carry the numeric breakdown so the client can show what to
// adjust.
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var availErr *booking.AvailabilityError
	if errors.As(err, &availErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     availErr.Error(),
			"line_id":   string(availErr.LineID),
			"breakdown": toBreakdownDTO(availErr.Breakdown),
		})
		return
	}

	var confErr *booking.ConfigurationError
	if errors.As(err, &confErr) {
		writeError(w, http.StatusUnprocessableEntity, confErr.Error(), nil)
		return
	}

	var transErr *booking.TransitionError
	if errors.As(err, &transErr) {
		writeError(w, http.StatusConflict, transErr.Error(), nil)
		return
	}

	var valErr *booking.ValidationError
	if errors.As(err, &valErr) {
		writeError(w, http.StatusBadRequest, valErr.Error(), nil)
		return
	}

	if booking.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}

	log.Printf("[API] internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "Internal error", err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := map[string]string{"error": message}
	if err != nil {
		resp["detail"] = err.Error()
	}
	writeJSON(w, status, resp)
}
