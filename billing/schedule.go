/*
schedule.go - Installment schedule generation

PURPOSE:
  Builds a lease's installment set once, at lease signing. The first
  installment covers half the term up front; the remainder is paid one
  installment per month.

  term 12 -> #1 covers 6 months, then 6 monthly installments (7 records)
  term 24 -> #1 covers 12 months, then 12 monthly installments (13 records)

DUE DATES:
  #1 is due at lease start. Installment k is due k-1 calendar months after
  the start, clamped to month end, so every due date is one calendar month
  after the previous one and a 31st start never drifts.

AMOUNTS:
  Rent pricing is an external input carried on the lease as MonthlyRent.
  #1 = MonthlyRent x firstPaymentMonths, every other = MonthlyRent.
*/
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SupportedTerms lists the lease terms a schedule can be generated for.
var SupportedTerms = []int{12, 24}

// ValidTerm reports whether term is a supported lease length.
func ValidTerm(term int) bool {
	for _, t := range SupportedTerms {
		if t == term {
			return true
		}
	}
	return false
}

// FirstPaymentMonths returns the months covered by installment #1: term/2.
func FirstPaymentMonths(term int) int {
	return term / 2
}

// IDGenerator mints lease and installment identifiers.
type IDGenerator func() string

func newUUID() string { return uuid.NewString() }

// BuildSchedule produces the installments for lease without persisting them.
// All records start pending/unverified.
func BuildSchedule(lease Lease, now time.Time, newID IDGenerator) ([]Installment, error) {
	if !ValidTerm(lease.TermMonths) {
		return nil, &InvalidTermError{TermMonths: lease.TermMonths}
	}
	if newID == nil {
		newID = newUUID
	}

	firstMonths := FirstPaymentMonths(lease.TermMonths)
	remaining := lease.TermMonths - firstMonths
	start := Date(lease.StartDate)

	installments := make([]Installment, 0, remaining+1)
	installments = append(installments, Installment{
		ID:                 InstallmentID(newID()),
		LeaseID:            lease.ID,
		Number:             1,
		IsFirstPayment:     true,
		CoveredMonths:      firstMonths,
		Type:               PaymentTypeFirst,
		Amount:             lease.MonthlyRent.Mul(decimal.NewFromInt(int64(firstMonths))),
		DueDate:            start,
		Status:             StatusPending,
		VerificationStatus: VerificationUnverified,
		CreatedAt:          now,
		UpdatedAt:          now,
	})

	for k := 2; k <= remaining+1; k++ {
		installments = append(installments, Installment{
			ID:                 InstallmentID(newID()),
			LeaseID:            lease.ID,
			Number:             k,
			CoveredMonths:      1,
			Type:               PaymentTypeMonthly,
			Amount:             lease.MonthlyRent,
			DueDate:            AddMonths(start, k-1),
			Status:             StatusPending,
			VerificationStatus: VerificationUnverified,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}
	return installments, nil
}

// CoveredMonths sums the months covered by every non-cancelled installment.
// For a generated schedule this equals the lease term.
func CoveredMonths(installments []Installment) int {
	total := 0
	for _, inst := range installments {
		if inst.Status == StatusCancelled {
			continue
		}
		total += inst.CoveredMonths
	}
	return total
}
