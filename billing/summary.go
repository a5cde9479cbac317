package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEASE SUMMARY - Tenant-facing totals
// =============================================================================

// LeaseSummary is computed from live installment state on every call.
type LeaseSummary struct {
	LeaseID        LeaseID
	TermMonths     int
	TotalPaid      decimal.Decimal
	TotalPending   decimal.Decimal
	TotalOverdue   decimal.Decimal
	MonthsVerified int
	NextDueDate    *time.Time

	// Next is the gate-selected installment, if any.
	Next *Installment

	PaidCount      int
	PendingCount   int
	OverdueCount   int
	CancelledCount int
}

// Summarize totals a lease's installments. Cancelled installments count
// toward nothing but CancelledCount.
func Summarize(lease Lease, installments []Installment) LeaseSummary {
	s := LeaseSummary{
		LeaseID:      lease.ID,
		TermMonths:   lease.TermMonths,
		TotalPaid:    decimal.Zero,
		TotalPending: decimal.Zero,
		TotalOverdue: decimal.Zero,
	}

	for _, inst := range installments {
		switch inst.Status {
		case StatusPaid:
			s.TotalPaid = s.TotalPaid.Add(inst.Amount)
			s.PaidCount++
			if inst.CountsTowardVerifiedMonths() {
				s.MonthsVerified += inst.CoveredMonths
			}
		case StatusPending:
			s.TotalPending = s.TotalPending.Add(inst.Amount)
			s.PendingCount++
		case StatusOverdue:
			s.TotalOverdue = s.TotalOverdue.Add(inst.Amount)
			s.OverdueCount++
		case StatusCancelled:
			s.CancelledCount++
		}
	}

	if lease.TermMonths > 0 && s.MonthsVerified > lease.TermMonths {
		s.MonthsVerified = lease.TermMonths
	}

	if next, ok := NextPayable(installments); ok {
		due := next.DueDate
		s.NextDueDate = &due
		s.Next = &next
	}
	return s
}
