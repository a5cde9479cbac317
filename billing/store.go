/*
store.go - Persistence interface for leases and installments

PURPOSE:
  Defines the boundary between the ledger and its store of record. The
  ledger never caches: every gate decision and every aggregate is computed
  from a fresh read through this interface.

CONDITIONAL WRITES:
  Installments are only ever updated through UpdateInstallment with a
  Guard naming the statuses the stored row must still have. The store
  applies the write atomically (UPDATE ... WHERE id = ? AND status IN ...)
  and returns ErrStaleRecord when the guard no longer holds. This is what
  keeps a racing payment and overdue sweep from corrupting a schedule.

NO DELETES:
  Installments are retained indefinitely for audit. There is no Delete.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: database/sql + SQLite (default)
  - store/gormstore/gormstore.go: GORM, PostgreSQL in production

SEE ALSO:
  - billing/storetest: conformance suite for implementations
*/
package billing

import (
	"context"
	"time"
)

// Store persists leases and installments.
type Store interface {
	// CreateLease persists a new lease.
	CreateLease(ctx context.Context, lease Lease) error

	// GetLease returns a NotFoundError if the lease does not exist.
	GetLease(ctx context.Context, id LeaseID) (Lease, error)

	// ListLeases returns all leases ordered by creation time.
	ListLeases(ctx context.Context) ([]Lease, error)

	// EndLease moves an active lease to ended. ErrStaleRecord if it is not active.
	EndLease(ctx context.Context, id LeaseID, at time.Time) error

	// InsertSchedule writes a lease's installments atomically.
	// Returns ErrScheduleExists if the lease already has any installment.
	InsertSchedule(ctx context.Context, leaseID LeaseID, installments []Installment) error

	// GetInstallment returns a NotFoundError if the installment does not exist.
	GetInstallment(ctx context.Context, id InstallmentID) (Installment, error)

	// ListInstallments returns a lease's installments ordered by due date,
	// then installment number.
	ListInstallments(ctx context.Context, leaseID LeaseID) ([]Installment, error)

	// UpdateInstallment overwrites the mutable fields of inst if the stored
	// record satisfies guard. Returns ErrStaleRecord otherwise.
	UpdateInstallment(ctx context.Context, inst Installment, guard Guard) error

	// MarkOverdue moves every pending installment due strictly before asOf to
	// overdue and returns the records it transitioned.
	MarkOverdue(ctx context.Context, asOf time.Time, now time.Time) ([]Installment, error)

	// ListVerified returns verified installments with CreatedAt in [r.Start, r.End).
	ListVerified(ctx context.Context, r DateRange) ([]Installment, error)
}

// Guard names the states a stored installment must be in for a conditional
// update to apply. An empty slice matches any value on that axis.
type Guard struct {
	Status       []PaymentStatus
	Verification []VerificationStatus
}

// Allows reports whether inst satisfies the guard.
func (g Guard) Allows(inst Installment) bool {
	if len(g.Status) > 0 && !containsStatus(g.Status, inst.Status) {
		return false
	}
	if len(g.Verification) > 0 && !containsVerification(g.Verification, inst.VerificationStatus) {
		return false
	}
	return true
}

// StatusStrings returns the guard's payment statuses as strings for SQL binding.
func (g Guard) StatusStrings() []string {
	out := make([]string, len(g.Status))
	for i, s := range g.Status {
		out[i] = string(s)
	}
	return out
}

// VerificationStrings returns the guard's verification statuses as strings.
func (g Guard) VerificationStrings() []string {
	out := make([]string, len(g.Verification))
	for i, v := range g.Verification {
		out[i] = string(v)
	}
	return out
}

func containsStatus(list []PaymentStatus, s PaymentStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func containsVerification(list []VerificationStatus, v VerificationStatus) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// =============================================================================
// LOCKER - Single writer per lease
// =============================================================================

// Locker serializes writers on a key. The ledger takes the lease key around
// operations that move the payability gate.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func leaseLockKey(id LeaseID) string { return "lease:" + string(id) }
