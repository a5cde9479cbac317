// Package storetest is a conformance suite for billing.Store implementations.
//
// Every implementation runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) billing.Store { return newStore(t) })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-ledger/billing"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) billing.Store

var (
	createdAt = time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC)
	leaseSeq  int
	seqMu     sync.Mutex
)

func nextID(prefix string) string {
	seqMu.Lock()
	defer seqMu.Unlock()
	leaseSeq++
	return fmt.Sprintf("%s-%04d", prefix, leaseSeq)
}

// Lease returns a 12-month lease starting 2025-01-31 at 1000/month.
func Lease() billing.Lease {
	return billing.Lease{
		ID:          billing.LeaseID(nextID("lease")),
		TenantID:    "tenant-1",
		PropertyID:  "property-1",
		StartDate:   billing.NewDate(2025, time.January, 31),
		TermMonths:  12,
		MonthlyRent: decimal.NewFromInt(1000),
		Status:      billing.LeaseActive,
		CreatedAt:   createdAt,
	}
}

// Seed creates a lease with its generated schedule.
func Seed(t *testing.T, s billing.Store) (billing.Lease, []billing.Installment) {
	t.Helper()
	ctx := context.Background()
	lease := Lease()
	require.NoError(t, s.CreateLease(ctx, lease))
	insts, err := billing.BuildSchedule(lease, createdAt, func() string { return nextID("inst") })
	require.NoError(t, err)
	require.NoError(t, s.InsertSchedule(ctx, lease.ID, insts))
	return lease, insts
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("LeaseRoundTrip", func(t *testing.T) { testLeaseRoundTrip(t, newStore(t)) })
	t.Run("MissingRecords", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("EndLease", func(t *testing.T) { testEndLease(t, newStore(t)) })
	t.Run("ScheduleOrdering", func(t *testing.T) { testScheduleOrdering(t, newStore(t)) })
	t.Run("ScheduleExists", func(t *testing.T) { testScheduleExists(t, newStore(t)) })
	t.Run("GuardedUpdate", func(t *testing.T) { testGuardedUpdate(t, newStore(t)) })
	t.Run("ConcurrentGuardedUpdate", func(t *testing.T) { testConcurrentGuardedUpdate(t, newStore(t)) })
	t.Run("ConcurrentPayments", func(t *testing.T) { testConcurrentPayments(t, newStore(t)) })
	t.Run("MarkOverdue", func(t *testing.T) { testMarkOverdue(t, newStore(t)) })
	t.Run("ListVerified", func(t *testing.T) { testListVerified(t, newStore(t)) })
}

func testLeaseRoundTrip(t *testing.T, s billing.Store) {
	ctx := context.Background()
	lease := Lease()
	lease.MonthlyRent = billing.MustParseMoney("1234.56")
	require.NoError(t, s.CreateLease(ctx, lease))

	got, err := s.GetLease(ctx, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, lease.ID, got.ID)
	assert.Equal(t, lease.TenantID, got.TenantID)
	assert.Equal(t, lease.PropertyID, got.PropertyID)
	assert.True(t, lease.StartDate.Equal(got.StartDate))
	assert.Equal(t, 12, got.TermMonths)
	assert.True(t, lease.MonthlyRent.Equal(got.MonthlyRent), "rent %s", got.MonthlyRent)
	assert.Equal(t, billing.LeaseActive, got.Status)
	assert.Nil(t, got.EndedAt)

	leases, err := s.ListLeases(ctx)
	require.NoError(t, err)
	assert.Len(t, leases, 1)
}

func testMissing(t *testing.T, s billing.Store) {
	ctx := context.Background()
	_, err := s.GetLease(ctx, "nope")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	_, err = s.GetInstallment(ctx, "nope")
	assert.ErrorIs(t, err, billing.ErrNotFound)

	insts, err := s.ListInstallments(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, insts)
}

func testEndLease(t *testing.T, s billing.Store) {
	ctx := context.Background()
	lease := Lease()
	require.NoError(t, s.CreateLease(ctx, lease))

	at := createdAt.AddDate(1, 0, 0)
	require.NoError(t, s.EndLease(ctx, lease.ID, at))
	got, err := s.GetLease(ctx, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.LeaseEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.True(t, at.Equal(*got.EndedAt))

	assert.ErrorIs(t, s.EndLease(ctx, lease.ID, at), billing.ErrStaleRecord)
}

func testScheduleOrdering(t *testing.T, s billing.Store) {
	ctx := context.Background()
	lease, built := Seed(t, s)

	got, err := s.ListInstallments(ctx, lease.ID)
	require.NoError(t, err)
	require.Len(t, got, 7)
	for i, inst := range got {
		assert.Equal(t, i+1, inst.Number)
		assert.Equal(t, built[i].ID, inst.ID)
		assert.True(t, built[i].DueDate.Equal(inst.DueDate), "due %s", inst.DueDate)
		assert.True(t, built[i].Amount.Equal(inst.Amount))
		assert.Equal(t, billing.StatusPending, inst.Status)
		assert.Equal(t, billing.VerificationUnverified, inst.VerificationStatus)
		assert.Nil(t, inst.PaymentDate)
	}
	assert.True(t, got[0].IsFirstPayment)
	assert.Equal(t, 6, got[0].CoveredMonths)
	assert.Equal(t, billing.PaymentTypeFirst, got[0].Type)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromInt(6000)))
	// Jan 31 start clamps to Feb 28
	assert.Equal(t, "2025-02-28", billing.FormatDate(got[1].DueDate))
	assert.Equal(t, "2025-03-31", billing.FormatDate(got[2].DueDate))
}

func testScheduleExists(t *testing.T, s billing.Store) {
	ctx := context.Background()
	lease, _ := Seed(t, s)

	again, err := billing.BuildSchedule(lease, createdAt, func() string { return nextID("dup") })
	require.NoError(t, err)
	assert.ErrorIs(t, s.InsertSchedule(ctx, lease.ID, again), billing.ErrScheduleExists)

	got, err := s.ListInstallments(ctx, lease.ID)
	require.NoError(t, err)
	assert.Len(t, got, 7, "failed insert must not add records")
}

func testGuardedUpdate(t *testing.T, s billing.Store) {
	ctx := context.Background()
	_, insts := Seed(t, s)
	first := insts[0]

	paidAt := createdAt.Add(time.Hour)
	paid := first
	paid.Status = billing.StatusPaid
	paid.PaymentDate = &paidAt
	paid.PaymentMethod = "bank_transfer"
	paid.TransactionReference = "TRX-1"
	paid.Notes = "first"
	paid.UpdatedAt = paidAt

	pendingOnly := billing.Guard{Status: []billing.PaymentStatus{billing.StatusPending, billing.StatusOverdue}}
	require.NoError(t, s.UpdateInstallment(ctx, paid, pendingOnly))
	assert.ErrorIs(t, s.UpdateInstallment(ctx, paid, pendingOnly), billing.ErrStaleRecord)

	got, err := s.GetInstallment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, got.Status)
	require.NotNil(t, got.PaymentDate)
	assert.True(t, paidAt.Equal(*got.PaymentDate))
	assert.Equal(t, "bank_transfer", got.PaymentMethod)
	assert.Equal(t, "TRX-1", got.TransactionReference)
	assert.Equal(t, "first", got.Notes)

	verifiedAt := paidAt.Add(time.Hour)
	verified := got
	verified.VerificationStatus = billing.VerificationVerified
	verified.VerifiedAt = &verifiedAt
	verified.VerifiedBy = "admin-1"
	verified.VerificationNote = "ok"

	wrongAxis := billing.Guard{
		Status:       []billing.PaymentStatus{billing.StatusPaid},
		Verification: []billing.VerificationStatus{billing.VerificationPending},
	}
	assert.ErrorIs(t, s.UpdateInstallment(ctx, verified, wrongAxis), billing.ErrStaleRecord)

	rightAxis := billing.Guard{
		Status:       []billing.PaymentStatus{billing.StatusPaid},
		Verification: []billing.VerificationStatus{billing.VerificationUnverified},
	}
	require.NoError(t, s.UpdateInstallment(ctx, verified, rightAxis))
	got, err = s.GetInstallment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.VerificationVerified, got.VerificationStatus)
	assert.Equal(t, "admin-1", got.VerifiedBy)
	assert.Equal(t, "ok", got.VerificationNote)
	require.NotNil(t, got.VerifiedAt)

	missing := first
	missing.ID = "missing"
	assert.ErrorIs(t, s.UpdateInstallment(ctx, missing, billing.Guard{}), billing.ErrNotFound)
}

func testConcurrentGuardedUpdate(t *testing.T, s billing.Store) {
	ctx := context.Background()
	_, insts := Seed(t, s)
	target := insts[0]

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		stale   int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := createdAt.Add(time.Duration(i) * time.Minute)
			next := target
			next.Status = billing.StatusPaid
			next.PaymentDate = &at
			next.TransactionReference = fmt.Sprintf("TRX-%d", i)
			err := s.UpdateInstallment(ctx, next, billing.Guard{Status: []billing.PaymentStatus{billing.StatusPending}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case assert.ErrorIs(t, err, billing.ErrStaleRecord):
				stale++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, success)
	assert.Equal(t, writers-1, stale)
}

// testConcurrentPayments pays the gate installment from several ledgers at
// once, each with its own in-process locker, so only the store's
// conditional update stands between them.
func testConcurrentPayments(t *testing.T, s billing.Store) {
	lease, insts := Seed(t, s)
	tenant := billing.TenantActor(lease.TenantID)
	clock := func() time.Time { return createdAt.Add(time.Hour) }

	const ledgers = 4
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		success    int
		notPayable int
	)
	for i := 0; i < ledgers; i++ {
		l := billing.NewLedger(s, billing.WithClock(clock))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.PayInstallment(context.Background(), tenant, lease.ID, insts[0].ID, billing.PaymentMeta{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case assert.ErrorIs(t, err, billing.ErrNotPayable):
				notPayable++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
	assert.Equal(t, ledgers-1, notPayable)

	got, err := s.ListInstallments(context.Background(), lease.ID)
	require.NoError(t, err)
	paid := 0
	for _, inst := range got {
		require.NoError(t, billing.CheckInvariants(inst))
		if inst.Status == billing.StatusPaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func testMarkOverdue(t *testing.T, s billing.Store) {
	ctx := context.Background()
	lease, insts := Seed(t, s)

	// pay #1 so it must never be marked overdue
	paidAt := createdAt
	paid := insts[0]
	paid.Status = billing.StatusPaid
	paid.PaymentDate = &paidAt
	require.NoError(t, s.UpdateInstallment(ctx, paid, billing.Guard{Status: []billing.PaymentStatus{billing.StatusPending}}))

	// due dates: 01-31, 02-28, 03-31, 04-30 ... ; as of 04-01 -> #2, #3 overdue
	asOf := billing.NewDate(2025, time.April, 1)
	now := asOf.Add(time.Hour)
	moved, err := s.MarkOverdue(ctx, asOf, now)
	require.NoError(t, err)
	require.Len(t, moved, 2)
	assert.Equal(t, 2, moved[0].Number)
	assert.Equal(t, 3, moved[1].Number)
	for _, inst := range moved {
		assert.Equal(t, billing.StatusOverdue, inst.Status)
	}

	again, err := s.MarkOverdue(ctx, asOf, now)
	require.NoError(t, err)
	assert.Empty(t, again, "sweep is idempotent")

	got, err := s.ListInstallments(ctx, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, got[0].Status)
	assert.Equal(t, billing.StatusOverdue, got[1].Status)
	assert.Equal(t, billing.StatusOverdue, got[2].Status)
	assert.Equal(t, billing.StatusPending, got[3].Status, "due 04-30 is not overdue on 04-01")

	// the due date itself is not overdue
	moved, err = s.MarkOverdue(ctx, billing.NewDate(2025, time.April, 30), now)
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func testListVerified(t *testing.T, s billing.Store) {
	ctx := context.Background()
	_, insts := Seed(t, s)

	paidAt := createdAt.Add(time.Hour)
	for i, inst := range insts[:3] {
		next := inst
		next.Status = billing.StatusPaid
		next.PaymentDate = &paidAt
		if i < 2 {
			next.VerificationStatus = billing.VerificationVerified
		}
		require.NoError(t, s.UpdateInstallment(ctx, next, billing.Guard{}))
	}

	in, err := billing.NewDateRange(billing.NewDate(2025, time.January, 1), billing.NewDate(2025, time.February, 1))
	require.NoError(t, err)
	got, err := s.ListVerified(ctx, in)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, inst := range got {
		assert.Equal(t, billing.VerificationVerified, inst.VerificationStatus)
	}

	// end is exclusive
	out, err := billing.NewDateRange(billing.NewDate(2024, time.December, 1), createdAt)
	require.NoError(t, err)
	got, err = s.ListVerified(ctx, out)
	require.NoError(t, err)
	assert.Empty(t, got)
}
