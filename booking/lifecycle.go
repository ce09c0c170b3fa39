/*
lifecycle.go - Booking lifecycle controller

PURPOSE:
  Drives bookings through the state machine and owns the transition
  guards. The header state is a coarse gate; the per-line admission check
  at the hard-commitment boundary is what actually protects capacity.

TRANSITIONS AND GUARDS:
  Confirm  draft → reserved     header validation only (soft hold, no
                                capacity check)
  Book     reserved → booked    THE COMMITMENT POINT: admission check for
                                every line, all-or-nothing, inside the
                                store's serializable unit
  Start    booked → ongoing     no re-check; outbound movement collaborator
  Finish   ongoing → finished   no re-check; advisory (cron surfaces it)
  Return   finished → returned  no re-check; inbound movement collaborator
  Cancel   any non-terminal     always permitted; the lines drop out of all
                                aggregation immediately

MOVEMENT FAILURES:
  A movement-collaborator failure after a successful transition is logged
  and surfaced, never rolled back. Capacity accounting is authoritative and
  deliberately decoupled from physical execution outcome; the booking stays
  booked/returned even when the transfer needs manual follow-up.

MUTATION INVARIANT:
  Editing product/window/quantity/company of a line already in a hard
  state re-runs the admission check before the write. Mutation must not
  silently create negative availability.

SEE ALSO:
  - admission.go: The check Book runs
  - ledger.go: Store and movement collaborator interfaces
*/
package booking

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SERVICE
// =============================================================================

// Store is the persistence surface the lifecycle controller needs: direct
// reads/writes plus the transactional boundary for commits.
type Store interface {
	LedgerView
	TxRunner
}

// Service is the booking lifecycle controller.
type Service struct {
	Store    Store
	Movement MovementExecutor

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewService wires a lifecycle controller. The movement executor defaults
// to the no-op implementation.
func NewService(store Store) *Service {
	return &Service{Store: store, Movement: NopMovement{}}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// =============================================================================
// CREATION AND EDITING
// =============================================================================

// Create persists a new draft booking. IDs are assigned where missing,
// line warehouses default from the header, and line windows default to the
// header window. Drafts may be incomplete; validation happens at Confirm.
func (s *Service) Create(ctx context.Context, b Booking) (*Booking, error) {
	if b.ID == "" {
		b.ID = BookingID(uuid.NewString())
	}
	if b.Reference == "" {
		b.Reference = fmt.Sprintf("RB-%.8s", b.ID)
	}
	b.State = StateDraft
	s.normalizeLines(&b)

	if err := s.Store.SaveBooking(ctx, b); err != nil {
		return nil, err
	}
	return &b, nil
}

// normalizeLines fills per-line defaults from the header.
func (s *Service) normalizeLines(b *Booking) {
	for i := range b.Lines {
		line := &b.Lines[i]
		if line.ID == "" {
			line.ID = LineID(uuid.NewString())
		}
		line.BookingID = b.ID
		line.CompanyID = b.CompanyID
		line.State = b.State
		if line.SourceWarehouseID == "" {
			line.SourceWarehouseID = b.SourceWarehouseID
		}
		if line.ReturnWarehouseID == "" {
			line.ReturnWarehouseID = b.ReturnWarehouseID
		}
		if line.Window.IsZero() {
			line.Window = b.Window
		}
	}
}

// Get loads one booking with its lines.
func (s *Service) Get(ctx context.Context, id BookingID) (*Booking, error) {
	return s.Store.GetBooking(ctx, id)
}

// UpdateLine applies edits to one line. When the line is already a hard
// commitment, the admission check re-runs against the edited values inside
// the transactional boundary - the standing invariant that mutation cannot
// create negative availability.
func (s *Service) UpdateLine(ctx context.Context, updated BookingLine) error {
	return s.Store.WithTx(ctx, func(view LedgerView) error {
		b, err := view.GetBooking(ctx, updated.BookingID)
		if err != nil {
			return err
		}

		var current *BookingLine
		for i := range b.Lines {
			if b.Lines[i].ID == updated.ID {
				current = &b.Lines[i]
				break
			}
		}
		if current == nil {
			return ErrLineNotFound
		}

		updated.BookingID = b.ID
		updated.CompanyID = b.CompanyID
		updated.State = current.State

		if current.State.IsHardCommitment() {
			checker := NewAdmissionChecker(view, view)
			if _, err := checker.CheckLine(ctx, updated); err != nil {
				return err
			}
		}
		return view.SaveLine(ctx, updated)
	})
}

// AddLine appends a line to an existing booking. Adding to a booking that
// is already hard-committed runs the admission check first.
func (s *Service) AddLine(ctx context.Context, bookingID BookingID, line BookingLine) (*BookingLine, error) {
	err := s.Store.WithTx(ctx, func(view LedgerView) error {
		b, err := view.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.State.Terminal() {
			return &TransitionError{BookingID: b.ID, From: b.State, To: b.State}
		}

		line.ID = LineID(uuid.NewString())
		line.BookingID = b.ID
		line.CompanyID = b.CompanyID
		line.State = b.State
		if line.SourceWarehouseID == "" {
			line.SourceWarehouseID = b.SourceWarehouseID
		}
		if line.ReturnWarehouseID == "" {
			line.ReturnWarehouseID = b.ReturnWarehouseID
		}
		if line.Window.IsZero() {
			line.Window = b.Window
		}

		if b.State.IsHardCommitment() {
			checker := NewAdmissionChecker(view, view)
			if _, err := checker.CheckLine(ctx, line); err != nil {
				return err
			}
		}
		return view.SaveLine(ctx, line)
	})
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Confirm moves draft → reserved. Header-level validation only: this is a
// soft hold and deliberately does NOT consume capacity.
func (s *Service) Confirm(ctx context.Context, id BookingID) (*Booking, error) {
	return s.transition(ctx, id, StateReserved, func(view LedgerView, b *Booking) error {
		return validateHeader(b)
	})
}

// Book moves reserved → booked: the commitment point. Every line runs the
// admission check; the first failure aborts with no state change. The
// check and the state write share one serializable unit, so a concurrent
// commit attempt re-reads this one's committed quantity.
func (s *Service) Book(ctx context.Context, id BookingID) (*Booking, []AvailabilityBreakdown, error) {
	var breakdowns []AvailabilityBreakdown
	b, err := s.transition(ctx, id, StateBooked, func(view LedgerView, b *Booking) error {
		checker := NewAdmissionChecker(view, view)
		var err error
		breakdowns, err = checker.CheckAll(ctx, b.Lines)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return b, breakdowns, nil
}

// Start moves booked → ongoing and triggers the outbound transfer. The
// commitment was made at Book; no re-check here.
func (s *Service) Start(ctx context.Context, id BookingID) (*Booking, error) {
	b, err := s.transition(ctx, id, StateOngoing, nil)
	if err != nil {
		return nil, err
	}
	if err := s.Movement.CreateOutbound(ctx, *b); err != nil {
		log.Printf("[Booking] outbound transfer for %s failed (state kept): %v", b.Reference, err)
	}
	return b, nil
}

// Finish moves ongoing → finished. Advisory only; surfaced by the periodic
// scan when the end date passes.
func (s *Service) Finish(ctx context.Context, id BookingID) (*Booking, error) {
	return s.transition(ctx, id, StateFinished, nil)
}

// Return moves finished → returned and triggers the inbound transfer.
func (s *Service) Return(ctx context.Context, id BookingID) (*Booking, error) {
	b, err := s.transition(ctx, id, StateReturned, nil)
	if err != nil {
		return nil, err
	}
	if err := s.Movement.CreateInbound(ctx, *b); err != nil {
		log.Printf("[Booking] inbound transfer for %s failed (state kept): %v", b.Reference, err)
	}
	return b, nil
}

// Cancel moves any non-terminal booking to cancelled. Its lines leave all
// aggregation immediately.
func (s *Service) Cancel(ctx context.Context, id BookingID) (*Booking, error) {
	return s.transition(ctx, id, StateCancelled, nil)
}

// transition loads the booking, checks the step is legal, runs the guard,
// and writes the new state - all inside the transactional boundary.
func (s *Service) transition(
	ctx context.Context,
	id BookingID,
	to LineState,
	guard func(view LedgerView, b *Booking) error,
) (*Booking, error) {

	var result *Booking
	err := s.Store.WithTx(ctx, func(view LedgerView) error {
		b, err := view.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(b.State, to) {
			return &TransitionError{BookingID: b.ID, From: b.State, To: to}
		}
		if guard != nil {
			if err := guard(view, b); err != nil {
				return err
			}
		}
		if err := view.SetState(ctx, b.ID, to); err != nil {
			return err
		}
		b.State = to
		for i := range b.Lines {
			if !b.Lines[i].State.Terminal() {
				b.Lines[i].State = to
			}
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validateHeader enforces the Confirm-time requirements. Drafts may be
// incomplete; reserved bookings may not.
func validateHeader(b *Booking) error {
	if b.Window.Start.IsZero() {
		return &ValidationError{BookingID: b.ID, Field: "date_start", Message: "start date is required"}
	}
	if b.Window.End.IsZero() {
		return &ValidationError{BookingID: b.ID, Field: "date_end", Message: "end date is required"}
	}
	if !b.Window.Start.Before(b.Window.End) {
		return &ValidationError{BookingID: b.ID, Field: "date_start", Message: "start date must be before end date"}
	}
	if b.ProjectID == "" {
		return &ValidationError{BookingID: b.ID, Field: "project_id", Message: "project is required for rental bookings"}
	}
	for _, line := range b.Lines {
		if line.ProductID == "" {
			return &ValidationError{BookingID: b.ID, LineID: line.ID, Field: "product_id",
				Message: "each line must have a product before confirming"}
		}
		if line.SourceWarehouseID == "" || line.ReturnWarehouse() == "" {
			return &ValidationError{BookingID: b.ID, LineID: line.ID, Field: "warehouse",
				Message: "each line must have both source and return warehouses set"}
		}
	}
	return nil
}
