package models

import (
	"errors"
	"fmt"
)

// ErrConflict is matched by ConflictError via errors.Is.
var ErrConflict = errors.New("concurrent modification")

// ValidationError reports malformed input. It is returned before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports an operation that is not legal from the
// aggregate's current state. The aggregate is left unchanged.
type InvalidStateError struct {
	Entity    string
	ID        string
	State     string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %q", e.Operation, e.Entity, e.ID, e.State)
}

// StockShortfall classifies why a line could not be reserved.
type StockShortfall string

const (
	// ShortfallNone means the title has no stock at all.
	ShortfallNone StockShortfall = "sin_stock"
	// ShortfallPartial means some units are available but fewer than requested.
	ShortfallPartial StockShortfall = "stock_parcial"
	// ShortfallReserved means stock exists but all of it is held by other checkouts.
	ShortfallReserved StockShortfall = "reservado_por_otros"
)

// InsufficientStockError carries a human-diagnosable breakdown of a shortfall.
type InsufficientStockError struct {
	ProductID string
	Title     string
	Requested int
	Available int
	Total     int
	Reserved  int
	Shortfall StockShortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (%s): requested %d, available %d, total %d, reserved %d",
		e.Title, e.Shortfall, e.Requested, e.Available, e.Total, e.Reserved)
}

// InsufficientFundsError is returned when a withdrawal exceeds the balance.
// Withdrawals are never partially applied.
type InsufficientFundsError struct {
	InstrumentID string
	Requested    Money
	Balance      Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on instrument %s: requested %d, balance %d", e.InstrumentID, e.Requested, e.Balance)
}

// NotFoundError reports an unknown order, return, instrument or record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// ExternalProcessorError wraps a failed capture or credit at the payment processor.
// NeedsRetry is set when the failure left an operation parked for retry.
type ExternalProcessorError struct {
	Operation  string
	Reference  string
	NeedsRetry bool
	Err        error
}

func (e *ExternalProcessorError) Error() string {
	return fmt.Sprintf("payment processor %s failed (ref %s): %v", e.Operation, e.Reference, e.Err)
}

func (e *ExternalProcessorError) Unwrap() error { return e.Err }

// EmptyCartError is returned when the customer has no active cart or it has no lines.
type EmptyCartError struct {
	CustomerID string
}

func (e *EmptyCartError) Error() string {
	return fmt.Sprintf("customer %s has no active cart with items", e.CustomerID)
}

// ConflictError reports a stale version on save.
type ConflictError struct {
	Entity  string
	ID      string
	Version int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently (version %d is stale)", e.Entity, e.ID, e.Version)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StorageError wraps an unclassified persistence failure.
type StorageError struct {
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Classify returns err unchanged when it already belongs to the error
// taxonomy, otherwise wraps it in a StorageError for operation.
func Classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve  *ValidationError
		ise *InvalidStateError
		sto *InsufficientStockError
		fnd *InsufficientFundsError
		nf  *NotFoundError
		ext *ExternalProcessorError
		ec  *EmptyCartError
		ce  *ConflictError
		se  *StorageError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ise), errors.As(err, &sto), errors.As(err, &fnd),
		errors.As(err, &nf), errors.As(err, &ext), errors.As(err, &ec), errors.As(err, &ce), errors.As(err, &se):
		return err
	}
	return &StorageError{Operation: operation, Err: err}
}
