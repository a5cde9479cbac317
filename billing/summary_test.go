package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-ledger/billing"
)

func TestSummarize_Mixed(t *testing.T) {
	// GIVEN: #1 paid+verified, #2 paid+unverified, #3 overdue, #4 cancelled, rest pending
	lease := testLease(12, billing.NewDate(2025, time.January, 15))
	insts := builtSchedule(t)
	paidAt := scheduleNow

	insts[0].Status = billing.StatusPaid
	insts[0].PaymentDate = &paidAt
	insts[0].VerificationStatus = billing.VerificationVerified
	insts[1].Status = billing.StatusPaid
	insts[1].PaymentDate = &paidAt
	insts[2].Status = billing.StatusOverdue
	insts[3].Status = billing.StatusCancelled

	s := billing.Summarize(lease, insts)

	assert.Equal(t, lease.ID, s.LeaseID)
	assert.True(t, s.TotalPaid.Equal(decimal.NewFromInt(7000)), "paid %s", s.TotalPaid)
	assert.True(t, s.TotalOverdue.Equal(decimal.NewFromInt(1000)))
	assert.True(t, s.TotalPending.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 6, s.MonthsVerified, "only verified installments count")
	assert.Equal(t, 2, s.PaidCount)
	assert.Equal(t, 1, s.OverdueCount)
	assert.Equal(t, 3, s.PendingCount)
	assert.Equal(t, 1, s.CancelledCount)

	require.NotNil(t, s.Next)
	assert.Equal(t, 3, s.Next.Number, "the overdue installment is next")
	require.NotNil(t, s.NextDueDate)
	assert.True(t, insts[2].DueDate.Equal(*s.NextDueDate))
}

func TestSummarize_FullyVerifiedCapsAtTerm(t *testing.T) {
	lease := testLease(12, billing.NewDate(2025, time.January, 15))
	insts := builtSchedule(t)
	paidAt := scheduleNow
	for i := range insts {
		insts[i].Status = billing.StatusPaid
		insts[i].PaymentDate = &paidAt
		insts[i].VerificationStatus = billing.VerificationVerified
	}

	s := billing.Summarize(lease, insts)
	assert.Equal(t, 12, s.MonthsVerified)
	assert.LessOrEqual(t, s.MonthsVerified, lease.TermMonths)
	assert.Nil(t, s.Next)
	assert.Nil(t, s.NextDueDate)
	assert.True(t, s.TotalPending.IsZero())
}

func TestSummarize_Empty(t *testing.T) {
	s := billing.Summarize(testLease(12, billing.NewDate(2025, time.January, 15)), nil)
	assert.True(t, s.TotalPaid.IsZero())
	assert.Zero(t, s.MonthsVerified)
	assert.Nil(t, s.Next)
}
