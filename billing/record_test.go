package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordAt = time.Date(2025, time.February, 3, 8, 0, 0, 0, time.UTC)

func pendingInstallment() Installment {
	return Installment{
		ID:                 "inst-2",
		LeaseID:            "lease-1",
		Number:             2,
		CoveredMonths:      1,
		Type:               PaymentTypeMonthly,
		Amount:             decimal.NewFromInt(1000),
		DueDate:            NewDate(2025, time.February, 1),
		Status:             StatusPending,
		VerificationStatus: VerificationUnverified,
	}
}

func paidInstallment(t *testing.T) Installment {
	t.Helper()
	inst, _, err := pay(pendingInstallment(), PaymentMeta{Method: "bank_transfer", Reference: "TRX-9"}, recordAt)
	require.NoError(t, err)
	return inst
}

// =============================================================================
// PAYMENT AXIS
// =============================================================================

func TestPay_FromPendingAndOverdue(t *testing.T) {
	for _, from := range []PaymentStatus{StatusPending, StatusOverdue} {
		inst := pendingInstallment()
		inst.Status = from

		next, guard, err := pay(inst, PaymentMeta{Method: "card", Reference: "R1", Notes: "n", ReceiptURL: "https://r"}, recordAt)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, next.Status)
		require.NotNil(t, next.PaymentDate)
		assert.True(t, recordAt.Equal(*next.PaymentDate))
		assert.Equal(t, "card", next.PaymentMethod)
		assert.Equal(t, "R1", next.TransactionReference)
		assert.Equal(t, "https://r", next.ReceiptURL)
		assert.Equal(t, VerificationUnverified, next.VerificationStatus)
		assert.NoError(t, CheckInvariants(next))

		assert.True(t, guard.Allows(inst))
		assert.False(t, guard.Allows(next), "guard must reject a second payment")
	}
}

func TestPay_SettledIsRejected(t *testing.T) {
	for _, from := range []PaymentStatus{StatusPaid, StatusCancelled} {
		inst := pendingInstallment()
		inst.Status = from
		_, _, err := pay(inst, PaymentMeta{}, recordAt)
		var settled *AlreadySettledError
		require.ErrorAs(t, err, &settled)
		assert.Equal(t, from, settled.Status)
	}
}

func TestCancel(t *testing.T) {
	next, guard, err := cancel(pendingInstallment(), recordAt)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, next.Status)
	assert.Nil(t, next.PaymentDate)
	assert.False(t, guard.Allows(next))

	_, _, err = cancel(next, recordAt)
	assert.ErrorIs(t, err, ErrAlreadySettled, "cancelled is terminal")

	_, _, err = cancel(paidInstallment(t), recordAt)
	assert.ErrorIs(t, err, ErrAlreadySettled)
}

func TestApplyOverdue(t *testing.T) {
	inst := pendingInstallment() // due 2025-02-01

	_, moved := ApplyOverdue(inst, NewDate(2025, time.February, 1), recordAt)
	assert.False(t, moved, "not overdue on the due date itself")

	next, moved := ApplyOverdue(inst, NewDate(2025, time.February, 2), recordAt)
	assert.True(t, moved)
	assert.Equal(t, StatusOverdue, next.Status)

	_, moved = ApplyOverdue(next, NewDate(2025, time.March, 1), recordAt)
	assert.False(t, moved, "already overdue")

	_, moved = ApplyOverdue(paidInstallment(t), NewDate(2025, time.March, 1), recordAt)
	assert.False(t, moved, "paid is never overdue")
}

// =============================================================================
// VERIFICATION AXIS
// =============================================================================

func TestSetVerification_Edges(t *testing.T) {
	tests := []struct {
		from VerificationStatus
		to   VerificationStatus
		ok   bool
	}{
		{VerificationUnverified, VerificationPending, true},
		{VerificationPending, VerificationVerified, true},
		{VerificationPending, VerificationUnverified, true},
		{VerificationUnverified, VerificationVerified, false},
		{VerificationVerified, VerificationPending, false},
		{VerificationVerified, VerificationUnverified, false},
		{VerificationPending, VerificationPending, false},
		{VerificationUnverified, "approved", false},
	}
	for _, tt := range tests {
		inst := paidInstallment(t)
		inst.VerificationStatus = tt.from

		next, guard, err := setVerification(inst, tt.to, "admin-1", "note", recordAt)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tt.from, tt.to)
			continue
		}
		require.NoError(t, err, "%s -> %s", tt.from, tt.to)
		assert.Equal(t, tt.to, next.VerificationStatus)
		assert.Equal(t, StatusPaid, next.Status, "verification never changes the payment axis")
		assert.Equal(t, "admin-1", next.VerifiedBy)
		assert.Equal(t, tt.to == VerificationVerified, next.VerifiedAt != nil)
		assert.True(t, guard.Allows(inst))
		assert.NoError(t, CheckInvariants(next))
	}
}

func TestSetVerification_RequiresPaid(t *testing.T) {
	for _, status := range []PaymentStatus{StatusPending, StatusOverdue, StatusCancelled} {
		inst := pendingInstallment()
		inst.Status = status
		_, _, err := setVerification(inst, VerificationPending, "admin-1", "", recordAt)
		var transition *InvalidTransitionError
		require.ErrorAs(t, err, &transition)
		assert.Equal(t, status, transition.Status)
	}
}

func TestReverseVerification(t *testing.T) {
	inst := paidInstallment(t)
	_, _, err := reverseVerification(inst, "admin-1", "", recordAt)
	assert.ErrorIs(t, err, ErrInvalidTransition, "only verified can be reversed")

	inst.VerificationStatus = VerificationVerified
	verifiedAt := recordAt
	inst.VerifiedAt = &verifiedAt

	next, guard, err := reverseVerification(inst, "admin-2", "bounced", recordAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, VerificationUnverified, next.VerificationStatus)
	assert.Equal(t, StatusPaid, next.Status)
	assert.NotNil(t, next.PaymentDate, "payment stays recorded")
	assert.Nil(t, next.VerifiedAt)
	assert.Equal(t, "bounced", next.VerificationNote)
	assert.True(t, guard.Allows(inst))
	assert.False(t, guard.Allows(next))
}

func TestUpdateMeta(t *testing.T) {
	_, _, err := updateMeta(pendingInstallment(), PaymentMeta{Notes: "x"}, recordAt)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	inst := paidInstallment(t)
	next, _, err := updateMeta(inst, PaymentMeta{Notes: "second transfer", ReceiptURL: "https://r/2"}, recordAt)
	require.NoError(t, err)
	assert.Equal(t, "bank_transfer", next.PaymentMethod, "empty fields keep their value")
	assert.Equal(t, "TRX-9", next.TransactionReference)
	assert.Equal(t, "second transfer", next.Notes)
	assert.Equal(t, "https://r/2", next.ReceiptURL)
}

func TestUpdateMeta_FrozenOnceReviewed(t *testing.T) {
	inst := paidInstallment(t)
	unverified, guard, err := updateMeta(inst, PaymentMeta{Reference: "TRX-10"}, recordAt)
	require.NoError(t, err)

	for _, status := range []VerificationStatus{VerificationPending, VerificationVerified} {
		t.Run(string(status), func(t *testing.T) {
			reviewed := unverified
			reviewed.VerificationStatus = status

			_, _, err := updateMeta(reviewed, PaymentMeta{Reference: "FORGED"}, recordAt)

			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.False(t, guard.Allows(reviewed), "a write computed before review cannot land after it")
		})
	}
}

func TestCheckInvariants(t *testing.T) {
	inst := pendingInstallment()
	require.NoError(t, CheckInvariants(inst))

	paidNoDate := inst
	paidNoDate.Status = StatusPaid
	assert.Error(t, CheckInvariants(paidNoDate))

	verifiedUnpaid := inst
	verifiedUnpaid.VerificationStatus = VerificationVerified
	assert.Error(t, CheckInvariants(verifiedUnpaid))

	misplacedFirst := inst
	misplacedFirst.IsFirstPayment = true
	assert.Error(t, CheckInvariants(misplacedFirst))
}

func TestCanVerify(t *testing.T) {
	assert.True(t, CanVerify(VerificationUnverified, VerificationPending))
	assert.False(t, CanVerify(VerificationVerified, VerificationUnverified), "override is not a standard step")
}
