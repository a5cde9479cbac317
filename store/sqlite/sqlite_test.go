package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-ledger/billing"
	"github.com/warp/rent-ledger/billing/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) billing.Store { return newTestStore(t) })
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate())
	require.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_TimeOrderingAcrossFractions(t *testing.T) {
	whole := time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC)
	frac := whole.Add(500 * time.Millisecond)
	assert.Less(t, formatTime(whole), formatTime(frac))

	parsed, err := parseTime(formatTime(frac))
	require.NoError(t, err)
	assert.True(t, frac.Equal(parsed))
}

func TestSQLite_RejectsVerifiedUnpaid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, insts := storetest.Seed(t, s)

	bad := insts[1]
	bad.VerificationStatus = billing.VerificationVerified
	err := s.UpdateInstallment(ctx, bad, billing.Guard{})
	assert.ErrorIs(t, err, billing.ErrUnavailable)

	got, err := s.GetInstallment(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.VerificationUnverified, got.VerificationStatus)
}

func TestSQLite_Reset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	storetest.Seed(t, s)

	require.NoError(t, s.Reset(ctx))
	leases, err := s.ListLeases(ctx)
	require.NoError(t, err)
	assert.Empty(t, leases)
}

type unknownResult struct{}

func (unknownResult) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }
func (unknownResult) RowsAffected() (int64, error) { return 0, errors.New("unsupported") }

func TestSQLite_RowsAffectedFailureIsUnavailable(t *testing.T) {
	_, err := rowsAffected(unknownResult{}, "mark overdue")
	assert.ErrorIs(t, err, billing.ErrUnavailable)
	assert.Contains(t, err.Error(), "mark overdue")
}
