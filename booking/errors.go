/*
errors.go - Centralized error types for the availability engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (API layer, lifecycle controller) branch on these to pick HTTP
  status codes and user messaging.

ERROR CATEGORIES:
  1. Validation errors - user-correctable input (missing fields, bad dates,
     insufficient availability at commitment)
  2. Not-found errors - referenced booking/product/warehouse doesn't resolve
  3. Configuration errors - missing setup (zero fleet capacity), distinct
     from availability exhaustion

PROPAGATION POLICY:
  All are raised synchronously at the violated operation and abort it
  entirely. A booking's commit pass is all-or-nothing: the first failing
  line aborts with no partial state. Movement-collaborator failures after a
  successful transition are logged, never rolled back.

USAGE:
  var availErr *booking.AvailabilityError
  if errors.As(err, &availErr) {
      // availErr.Breakdown has capacity/committed/incoming/available/requested
  }

SEE ALSO:
  - admission.go: Raises AvailabilityError and ConfigurationError
  - lifecycle.go: Raises validation and transition errors
*/
package booking

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientAvailability is returned when a hard commitment would
	// exceed fleet capacity for some overlapping window.
	ErrInsufficientAvailability = errors.New("insufficient availability")

	// ErrCapacityNotConfigured is returned when a product being committed
	// has zero or unset fleet capacity. This signals missing setup, not
	// contention.
	ErrCapacityNotConfigured = errors.New("fleet capacity not configured")

	// ErrInvalidTransition is returned for a state change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation is the base for user-correctable input problems.
	ErrValidation = errors.New("validation failed")

	// ErrBookingNotFound is returned when a booking id doesn't resolve.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrProductNotFound is returned when a product id doesn't resolve.
	ErrProductNotFound = errors.New("product not found")

	// ErrWarehouseNotFound is returned when a warehouse id doesn't resolve.
	ErrWarehouseNotFound = errors.New("warehouse not found")

	// ErrLineNotFound is returned when a line id doesn't resolve.
	ErrLineNotFound = errors.New("booking line not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AvailabilityBreakdown is the full numeric context of an admission check.
// Operators use it to decide whether to adjust quantity, dates, or
// warehouse - a boolean rejection is useless to them.
type AvailabilityBreakdown struct {
	ProductID   ProductID
	WarehouseID WarehouseID
	Window      Window

	Capacity  decimal.Decimal // configured fleet ceiling
	Committed decimal.Decimal // overlapping hard commitments
	Incoming  decimal.Decimal // returns landing before the window starts
	Available decimal.Decimal // capacity - committed + incoming
	Requested decimal.Decimal
}

// AvailabilityError is raised when a line fails admission.
type AvailabilityError struct {
	LineID    LineID
	Breakdown AvailabilityBreakdown
}

func (e *AvailabilityError) Error() string {
	b := e.Breakdown
	return fmt.Sprintf(
		"not enough availability for product %q during %s: capacity %s, committed %s, incoming %s, available %s, requested %s",
		b.ProductID, b.Window, b.Capacity, b.Committed, b.Incoming, b.Available, b.Requested)
}

func (e *AvailabilityError) Unwrap() error { return ErrInsufficientAvailability }

// ConfigurationError is raised when a product's fleet capacity is missing
// or zero at commitment time.
type ConfigurationError struct {
	ProductID ProductID
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("product %q has no fleet capacity configured", e.ProductID)
}

func (e *ConfigurationError) Unwrap() error { return ErrCapacityNotConfigured }

// ValidationError describes a user-correctable input problem on a booking
// or line.
type ValidationError struct {
	BookingID BookingID
	LineID    LineID // empty for header-level problems
	Field     string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.LineID != "" {
		return fmt.Sprintf("line %s: %s", e.LineID, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError describes an illegal lifecycle step.
type TransitionError struct {
	BookingID BookingID
	From      LineState
	To        LineState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking %s: cannot transition from %s to %s", e.BookingID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientAvailability) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrWarehouseNotFound) ||
		errors.Is(err, ErrLineNotFound)
}

// IsConfiguration returns true if the error indicates missing setup rather
// than contention.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrCapacityNotConfigured)
}
