/*
errors.go - Error taxonomy for the assignment engine

ERROR CATEGORIES:
  1. Business rules - deterministic on unchanged state, never retried:
     NotFound, AlreadySold, BuyerInactive, InsufficientFunds, InvalidArgument
  2. Conflict - a concurrent write won; retrying may succeed
  3. Storage - infrastructure failure (unavailable, deadlock, timeout)

USAGE:
  if errors.Is(err, broker.ErrInsufficientFunds) {
      var e *broker.InsufficientFundsError
      errors.As(err, &e) // e.Shortfall
  }

Stores translate driver errors into ErrConflict or *StorageError so callers
never see driver types.
*/
package broker

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound         = errors.New("not found")
	ErrLeadNotFound     = fmt.Errorf("lead %w", ErrNotFound)
	ErrBuyerNotFound    = fmt.Errorf("buyer %w", ErrNotFound)
	ErrCampaignNotFound = fmt.Errorf("campaign %w", ErrNotFound)

	// ErrAlreadySold is returned when a lead is sold to a different buyer
	// than the one requested.
	ErrAlreadySold = errors.New("lead already sold")

	ErrBuyerInactive     = errors.New("buyer is not active")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrInvalidArgument   = errors.New("invalid argument")

	// ErrConflict is returned when the datastore detected a concurrent write.
	// The caller should retry.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrStorage marks infrastructure failures, as opposed to business rules.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientFundsError provides details about a wallet shortage.
type InsufficientFundsError struct {
	BuyerID   BuyerID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient wallet balance for buyer %s: available %s, requested %s",
		e.BuyerID, e.Available.StringFixed(MoneyScale), e.Requested.StringFixed(MoneyScale))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// AlreadySoldError reports who owns a lead that was requested for someone else.
type AlreadySoldError struct {
	LeadID    LeadID
	SoldTo    BuyerID
	Requested BuyerID
}

func (e *AlreadySoldError) Error() string {
	return fmt.Sprintf("lead %s already sold to buyer %s (requested %s)", e.LeadID, e.SoldTo, e.Requested)
}

func (e *AlreadySoldError) Unwrap() error { return ErrAlreadySold }

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// StorageError wraps a datastore failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is makes errors.Is(err, ErrStorage) hold for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// AutoAssignError reports a lead that was stored but whose automatic
// assignment failed. Lead is the persisted, still unassigned lead; Err is
// the assignment failure.
type AutoAssignError struct {
	Lead *Lead
	Err  error
}

func (e *AutoAssignError) Error() string {
	return fmt.Sprintf("lead %s stored but auto-assign failed: %v", e.Lead.ID, e.Err)
}

func (e *AutoAssignError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStorage)
}

// IsBusinessRule returns true for errors that are deterministic on unchanged state.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadySold) ||
		errors.Is(err, ErrBuyerInactive) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidArgument)
}

// IsNotFound returns true if the error indicates a missing lead, buyer or campaign.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
