/*
errors.go - Error taxonomy for the installment ledger

PURPOSE:
  All business errors in one place. Each structured error carries enough
  context (installment, current status, the payable installment) for a
  caller to render an accurate message, and unwraps to a sentinel so
  callers can branch with errors.Is.

ERROR CATEGORIES:
  1. Business rejections - InvalidTerm, InvalidLeaseState, NotPayable,
     AlreadySettled, InvalidTransition, InvalidRange. Never retry these.
  2. Lookup/permission - NotFound, Forbidden
  3. Store faults - Unavailable. Retry with backoff.

USAGE:
  if errors.Is(err, billing.ErrNotPayable) {
      var np *billing.NotPayableError
      errors.As(err, &np)
      // "installment #3 is locked until #2 is paid"
  }

SEE ALSO:
  - api/handlers.go: maps these to HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidTerm       = errors.New("invalid lease term")
	ErrInvalidLeaseState = errors.New("invalid lease state")
	ErrNotPayable        = errors.New("installment is not payable")
	ErrAlreadySettled    = errors.New("installment already settled")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidRange      = errors.New("invalid date range")
	ErrInvalidInput      = errors.New("invalid input")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable wraps persistence and transport faults.
	ErrUnavailable = errors.New("ledger store unavailable")

	// ErrStaleRecord is returned by Store.UpdateInstallment when the stored
	// record no longer matches the guard. The ledger turns it into a business
	// error carrying the fresh state.
	ErrStaleRecord = errors.New("record changed concurrently")

	// ErrScheduleExists is returned by Store.InsertSchedule when the lease
	// already has installments.
	ErrScheduleExists = errors.New("schedule already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type InvalidTermError struct {
	TermMonths int
}

func (e *InvalidTermError) Error() string {
	return fmt.Sprintf("invalid lease term: %d months (supported: 12, 24)", e.TermMonths)
}

func (e *InvalidTermError) Unwrap() error { return ErrInvalidTerm }

type InvalidLeaseStateError struct {
	LeaseID LeaseID
	Status  LeaseStatus
	Reason  string
}

func (e *InvalidLeaseStateError) Error() string {
	return fmt.Sprintf("lease %s (%s): %s", e.LeaseID, e.Status, e.Reason)
}

func (e *InvalidLeaseStateError) Unwrap() error { return ErrInvalidLeaseState }

// NotPayableError rejects a payment on an installment that is not the one
// the gate currently selects.
type NotPayableError struct {
	InstallmentID InstallmentID
	Number        int
	Status        PaymentStatus

	// Payable is the installment currently open for payment, if any.
	PayableID     InstallmentID
	PayableNumber int
}

func (e *NotPayableError) Error() string {
	if e.PayableNumber > 0 {
		return fmt.Sprintf("installment #%d (%s) is locked until #%d is paid", e.Number, e.Status, e.PayableNumber)
	}
	return fmt.Sprintf("installment #%d (%s) is not payable", e.Number, e.Status)
}

func (e *NotPayableError) Unwrap() error { return ErrNotPayable }

type AlreadySettledError struct {
	InstallmentID InstallmentID
	Number        int
	Status        PaymentStatus
}

func (e *AlreadySettledError) Error() string {
	return fmt.Sprintf("installment #%d is already %s", e.Number, e.Status)
}

func (e *AlreadySettledError) Unwrap() error { return ErrAlreadySettled }

// InvalidTransitionError rejects an illegal state change on either axis.
type InvalidTransitionError struct {
	InstallmentID InstallmentID
	Number        int
	Status        PaymentStatus
	From          VerificationStatus
	To            VerificationStatus
	Reason        string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("installment #%d (%s/%s)", e.Number, e.Status, e.From)
	if e.To != "" {
		msg += fmt.Sprintf(" cannot move to %s", e.To)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid date range: start %s must be before end %s",
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

type NotFoundError struct {
	Kind string // "lease" or "installment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type ForbiddenError struct {
	Actor  Actor
	Action Action
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s %q may not %s", e.Actor.Role, e.Actor.ID, e.Action)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// UnavailableError wraps a store or transport fault.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// Unavailable wraps err as an UnavailableError unless it is nil or already a
// ledger error.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStaleRecord) || errors.Is(err, ErrScheduleExists) {
		return err
	}
	return &UnavailableError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsClientError returns true for rejected business actions.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTerm) ||
		errors.Is(err, ErrInvalidLeaseState) ||
		errors.Is(err, ErrNotPayable) ||
		errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing lease or installment.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
