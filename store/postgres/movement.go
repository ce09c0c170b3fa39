/*
movement.go - Transfer-log movement recorder (PostgreSQL)

Same recording semantics as the SQLite variant: one outbound row per
countable line on start, one inbound row on return. Recording only.
*/
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/booking"
)

const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// TransferRecord is one logged movement row.
type TransferRecord struct {
	ID              string
	BookingID       booking.BookingID
	Reference       string
	Direction       string
	ProductID       booking.ProductID
	Quantity        decimal.Decimal
	FromWarehouseID booking.WarehouseID
	ToWarehouseID   booking.WarehouseID
	CreatedAt       time.Time
}

// CreateOutbound logs one outbound transfer row per countable line.
func (s *Store) CreateOutbound(ctx context.Context, b booking.Booking) error {
	return s.logTransfers(ctx, b, DirectionOutbound)
}

// CreateInbound logs one inbound transfer row per countable line.
func (s *Store) CreateInbound(ctx context.Context, b booking.Booking) error {
	return s.logTransfers(ctx, b, DirectionInbound)
}

func (s *Store) logTransfers(ctx context.Context, b booking.Booking, direction string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, line := range b.Lines {
		if !line.Countable() {
			continue
		}

		var from, to booking.WarehouseID
		if direction == DirectionOutbound {
			from = line.SourceWarehouseID
		} else {
			to = line.ReturnWarehouse()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfer_log
			(id, booking_id, reference, direction, product_id, quantity,
			 from_warehouse_id, to_warehouse_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.NewString(), b.ID, b.Reference, direction,
			line.ProductID, line.Quantity.String(), from, to,
		)
		if err != nil {
			return fmt.Errorf("failed to log %s transfer: %w", direction, err)
		}
	}
	return tx.Commit()
}

// ListTransfers returns the logged movements for one booking, oldest first.
func (s *Store) ListTransfers(ctx context.Context, id booking.BookingID) ([]TransferRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, reference, direction, product_id, quantity,
		       from_warehouse_id, to_warehouse_id, created_at
		FROM transfer_log
		WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TransferRecord
	for rows.Next() {
		var r TransferRecord
		var quantity string
		if err := rows.Scan(&r.ID, &r.BookingID, &r.Reference, &r.Direction,
			&r.ProductID, &quantity, &r.FromWarehouseID, &r.ToWarehouseID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Quantity, _ = decimal.NewFromString(quantity)
		records = append(records, r)
	}
	return records, rows.Err()
}
