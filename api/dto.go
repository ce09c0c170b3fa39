/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

GRID CONTRACT:
  The {meta, columns, rows} shape emitted by the availability endpoints is
  the contract with planning frontends and maps the engine's grid
  field-for-field. Quantities are JSON numbers.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - booking/grid.go: The grid the availability DTOs mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/booking"
)

// =============================================================================
// PRODUCTS AND WAREHOUSES
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CompanyID     string  `json:"company_id"`
	FleetCapacity float64 `json:"fleet_capacity"`
}

// SaveProductRequest creates or updates a product.
type SaveProductRequest struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	CompanyID     string  `json:"company_id"`
	FleetCapacity float64 `json:"fleet_capacity"`
}

// ProductCountsDTO summarizes a product's booking activity per state.
type ProductCountsDTO struct {
	ProductID string             `json:"product_id"`
	Counts    map[string]int     `json:"counts"`
	Quantity  map[string]float64 `json:"quantity"`
}

// WarehouseDTO represents a warehouse in API responses.
type WarehouseDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"company_id"`
}

// SaveWarehouseRequest creates or updates a warehouse.
type SaveWarehouseRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"company_id"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

// LineDTO represents a booking line in API responses.
type LineDTO struct {
	ID                string     `json:"id"`
	ProductID         string     `json:"product_id"`
	Quantity          float64    `json:"quantity"`
	DateStart         *time.Time `json:"date_start,omitempty"`
	DateEnd           *time.Time `json:"date_end,omitempty"`
	State             string     `json:"state"`
	SourceWarehouseID string     `json:"source_warehouse_id"`
	ReturnWarehouseID string     `json:"return_warehouse_id"`
	ExpectedReturn    *time.Time `json:"expected_return,omitempty"`
}

// BookingDTO represents a booking with its lines.
type BookingDTO struct {
	ID                string     `json:"id"`
	Reference         string     `json:"reference"`
	CompanyID         string     `json:"company_id"`
	CustomerID        string     `json:"customer_id,omitempty"`
	ProjectID         string     `json:"project_id,omitempty"`
	SourceWarehouseID string     `json:"source_warehouse_id"`
	ReturnWarehouseID string     `json:"return_warehouse_id"`
	DateStart         *time.Time `json:"date_start,omitempty"`
	DateEnd           *time.Time `json:"date_end,omitempty"`
	State             string     `json:"state"`
	Notes             string     `json:"notes,omitempty"`
	Lines             []LineDTO  `json:"lines"`
}

// LineRequest carries line fields on create/update.
type LineRequest struct {
	ProductID         string     `json:"product_id"`
	Quantity          float64    `json:"quantity"`
	DateStart         *time.Time `json:"date_start,omitempty"`
	DateEnd           *time.Time `json:"date_end,omitempty"`
	SourceWarehouseID string     `json:"source_warehouse_id,omitempty"`
	ReturnWarehouseID string     `json:"return_warehouse_id,omitempty"`
	ExpectedReturn    *time.Time `json:"expected_return,omitempty"`
}

// CreateBookingRequest creates a draft booking.
type CreateBookingRequest struct {
	Reference         string        `json:"reference,omitempty"`
	CompanyID         string        `json:"company_id"`
	CustomerID        string        `json:"customer_id,omitempty"`
	ProjectID         string        `json:"project_id,omitempty"`
	SourceWarehouseID string        `json:"source_warehouse_id"`
	ReturnWarehouseID string        `json:"return_warehouse_id,omitempty"`
	DateStart         *time.Time    `json:"date_start,omitempty"`
	DateEnd           *time.Time    `json:"date_end,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	Lines             []LineRequest `json:"lines"`
}

// BreakdownDTO carries the admission-check arithmetic for diagnostics.
type BreakdownDTO struct {
	ProductID   string  `json:"product_id"`
	WarehouseID string  `json:"warehouse_id"`
	Capacity    float64 `json:"capacity"`
	Committed   float64 `json:"committed"`
	Incoming    float64 `json:"incoming"`
	Available   float64 `json:"available"`
	Requested   float64 `json:"requested"`
}

// BookResponse is returned by the book transition: the booking plus the
// per-line admission breakdowns.
type BookResponse struct {
	Booking    BookingDTO     `json:"booking"`
	Breakdowns []BreakdownDTO `json:"breakdowns"`
}

// NudgeDTO is one advisory finding from the status scan.
type NudgeDTO struct {
	BookingID string     `json:"booking_id"`
	Reference string     `json:"reference"`
	State     string     `json:"state"`
	Kind      string     `json:"kind"`
	DateStart *time.Time `json:"date_start,omitempty"`
	DateEnd   *time.Time `json:"date_end,omitempty"`
}

// =============================================================================
// AVAILABILITY GRID
// =============================================================================

// GridMetaDTO describes the query the grid answered.
type GridMetaDTO struct {
	Mode        string    `json:"mode"`
	BookingID   string    `json:"booking_id,omitempty"`
	CompanyID   string    `json:"company_id"`
	WarehouseID string    `json:"warehouse_id,omitempty"`
	DateStart   time.Time `json:"date_start"`
	DateEnd     time.Time `json:"date_end"`
	WeekCount   int       `json:"week_count"`
}

// GridColumnDTO is one week-bucket column.
type GridColumnDTO struct {
	Key   string    `json:"key"`
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// GridCellDTO is one product × week cell.
type GridCellDTO struct {
	ColumnKey string   `json:"column_key"`
	Committed float64  `json:"committed"`
	Incoming  float64  `json:"incoming"`
	Available float64  `json:"available"`
	Needed    *float64 `json:"needed,omitempty"`
	Status    string   `json:"status"`
	BookingOK *bool    `json:"booking_ok,omitempty"`
}

// GridRowDTO is one product row.
type GridRowDTO struct {
	ProductID string        `json:"product_id"`
	Name      string        `json:"name"`
	Capacity  float64       `json:"capacity"`
	Needed    *float64      `json:"needed,omitempty"`
	Cells     []GridCellDTO `json:"cells"`
}

// GridDTO is the full availability grid response.
type GridDTO struct {
	Meta    GridMetaDTO     `json:"meta"`
	Columns []GridColumnDTO `json:"columns"`
	Rows    []GridRowDTO    `json:"rows"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toProductDTO(p booking.Product) ProductDTO {
	return ProductDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		CompanyID:     string(p.CompanyID),
		FleetCapacity: p.FleetCapacity.InexactFloat64(),
	}
}

func toWarehouseDTO(w booking.Warehouse) WarehouseDTO {
	return WarehouseDTO{ID: string(w.ID), Name: w.Name, CompanyID: string(w.CompanyID)}
}

func toLineDTO(l booking.BookingLine) LineDTO {
	return LineDTO{
		ID:                string(l.ID),
		ProductID:         string(l.ProductID),
		Quantity:          l.Quantity.InexactFloat64(),
		DateStart:         timePtr(l.Window.Start),
		DateEnd:           timePtr(l.Window.End),
		State:             string(l.State),
		SourceWarehouseID: string(l.SourceWarehouseID),
		ReturnWarehouseID: string(l.ReturnWarehouseID),
		ExpectedReturn:    l.ExpectedReturn,
	}
}

func toBookingDTO(b booking.Booking) BookingDTO {
	lines := make([]LineDTO, 0, len(b.Lines))
	for _, l := range b.Lines {
		lines = append(lines, toLineDTO(l))
	}
	return BookingDTO{
		ID:                string(b.ID),
		Reference:         b.Reference,
		CompanyID:         string(b.CompanyID),
		CustomerID:        b.CustomerID,
		ProjectID:         b.ProjectID,
		SourceWarehouseID: string(b.SourceWarehouseID),
		ReturnWarehouseID: string(b.ReturnWarehouseID),
		DateStart:         timePtr(b.Window.Start),
		DateEnd:           timePtr(b.Window.End),
		State:             string(b.State),
		Notes:             b.Notes,
		Lines:             lines,
	}
}

func toBreakdownDTO(b booking.AvailabilityBreakdown) BreakdownDTO {
	return BreakdownDTO{
		ProductID:   string(b.ProductID),
		WarehouseID: string(b.WarehouseID),
		Capacity:    b.Capacity.InexactFloat64(),
		Committed:   b.Committed.InexactFloat64(),
		Incoming:    b.Incoming.InexactFloat64(),
		Available:   b.Available.InexactFloat64(),
		Requested:   b.Requested.InexactFloat64(),
	}
}

func toGridDTO(g *booking.Grid) GridDTO {
	dto := GridDTO{
		Meta: GridMetaDTO{
			Mode:        string(g.Meta.Mode),
			BookingID:   string(g.Meta.BookingID),
			CompanyID:   string(g.Meta.CompanyID),
			WarehouseID: string(g.Meta.WarehouseID),
			DateStart:   g.Meta.DateStart,
			DateEnd:     g.Meta.DateEnd,
			WeekCount:   g.Meta.WeekCount,
		},
		Columns: make([]GridColumnDTO, 0, len(g.Columns)),
		Rows:    make([]GridRowDTO, 0, len(g.Rows)),
	}
	for _, c := range g.Columns {
		dto.Columns = append(dto.Columns, GridColumnDTO{
			Key: c.Key, Label: c.Label, Start: c.Start, End: c.End,
		})
	}
	for _, row := range g.Rows {
		rowDTO := GridRowDTO{
			ProductID: string(row.ProductID),
			Name:      row.Name,
			Capacity:  row.Capacity.InexactFloat64(),
			Needed:    decPtr(row.Needed),
			Cells:     make([]GridCellDTO, 0, len(row.Cells)),
		}
		for _, cell := range row.Cells {
			rowDTO.Cells = append(rowDTO.Cells, GridCellDTO{
				ColumnKey: cell.ColumnKey,
				Committed: cell.Committed.InexactFloat64(),
				Incoming:  cell.Incoming.InexactFloat64(),
				Available: cell.Available.InexactFloat64(),
				Needed:    decPtr(cell.Needed),
				Status:    string(cell.Status),
				BookingOK: cell.BookingOK,
			})
		}
		dto.Rows = append(dto.Rows, rowDTO)
	}
	return dto
}

func toNudgeDTO(n booking.Nudge) NudgeDTO {
	return NudgeDTO{
		BookingID: string(n.BookingID),
		Reference: n.Reference,
		State:     string(n.State),
		Kind:      string(n.Kind),
		DateStart: timePtr(n.Window.Start),
		DateEnd:   timePtr(n.Window.End),
	}
}

func fromLineRequest(req LineRequest) booking.BookingLine {
	line := booking.BookingLine{
		ProductID:         booking.ProductID(req.ProductID),
		Quantity:          decimal.NewFromFloat(req.Quantity),
		SourceWarehouseID: booking.WarehouseID(req.SourceWarehouseID),
		ReturnWarehouseID: booking.WarehouseID(req.ReturnWarehouseID),
		ExpectedReturn:    req.ExpectedReturn,
	}
	if req.DateStart != nil {
		line.Window.Start = *req.DateStart
	}
	if req.DateEnd != nil {
		line.Window.End = *req.DateEnd
	}
	return line
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func decPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
