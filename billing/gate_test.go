package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-ledger/billing"
)

func builtSchedule(t *testing.T) []billing.Installment {
	t.Helper()
	insts, err := billing.BuildSchedule(testLease(12, billing.NewDate(2025, time.January, 15)), scheduleNow, seqIDs("i-"))
	require.NoError(t, err)
	return insts
}

func TestNextPayable_EarliestOpen(t *testing.T) {
	insts := builtSchedule(t)

	next, ok := billing.NextPayable(insts)
	require.True(t, ok)
	assert.Equal(t, 1, next.Number)

	insts[0].Status = billing.StatusPaid
	insts[1].Status = billing.StatusCancelled
	insts[2].Status = billing.StatusOverdue
	next, ok = billing.NextPayable(insts)
	require.True(t, ok)
	assert.Equal(t, 3, next.Number, "overdue stays payable, cancelled is skipped")
}

func TestNextPayable_TieBrokenByNumber(t *testing.T) {
	insts := builtSchedule(t)
	insts[0].Status = billing.StatusPaid
	insts[2].DueDate = insts[1].DueDate

	// reverse the slice: selection must not depend on input order
	for i, j := 0, len(insts)-1; i < j; i, j = i+1, j-1 {
		insts[i], insts[j] = insts[j], insts[i]
	}
	next, ok := billing.NextPayable(insts)
	require.True(t, ok)
	assert.Equal(t, 2, next.Number)
}

func TestNextPayable_NothingOpen(t *testing.T) {
	insts := builtSchedule(t)
	for i := range insts {
		insts[i].Status = billing.StatusPaid
	}
	_, ok := billing.NextPayable(insts)
	assert.False(t, ok)

	_, ok = billing.NextPayable(nil)
	assert.False(t, ok)
}

func TestIsPayable_AtMostOne(t *testing.T) {
	insts := builtSchedule(t)
	insts[0].Status = billing.StatusPaid

	payable := 0
	for _, inst := range insts {
		if billing.IsPayable(inst, insts) {
			payable++
			assert.Equal(t, 2, inst.Number)
		}
	}
	assert.Equal(t, 1, payable)
}

func TestScheduleView_LockedUntil(t *testing.T) {
	insts := builtSchedule(t)
	insts[0].Status = billing.StatusPaid

	view := billing.ScheduleView(insts)
	require.Len(t, view, len(insts))

	assert.False(t, view[0].Payable)
	assert.Zero(t, view[0].LockedUntil, "settled installments are not locked")
	assert.True(t, view[1].Payable)
	assert.Zero(t, view[1].LockedUntil)
	for _, entry := range view[2:] {
		assert.False(t, entry.Payable)
		assert.Equal(t, 2, entry.LockedUntil)
	}
}
