// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/rent-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	leases       map[billing.LeaseID]billing.Lease
	leaseOrder   []billing.LeaseID
	installments map[billing.InstallmentID]billing.Installment
	byLease      map[billing.LeaseID][]billing.InstallmentID
}

func NewMemory() *Memory {
	return &Memory{
		leases:       make(map[billing.LeaseID]billing.Lease),
		installments: make(map[billing.InstallmentID]billing.Installment),
		byLease:      make(map[billing.LeaseID][]billing.InstallmentID),
	}
}

// Reset discards every lease and installment.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases = make(map[billing.LeaseID]billing.Lease)
	m.leaseOrder = nil
	m.installments = make(map[billing.InstallmentID]billing.Installment)
	m.byLease = make(map[billing.LeaseID][]billing.InstallmentID)
	return nil
}

func (m *Memory) CreateLease(_ context.Context, lease billing.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leases[lease.ID]; ok {
		return billing.Unavailable("create lease", errDuplicateLease)
	}
	m.leases[lease.ID] = lease
	m.leaseOrder = append(m.leaseOrder, lease.ID)
	return nil
}

func (m *Memory) GetLease(_ context.Context, id billing.LeaseID) (billing.Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lease, ok := m.leases[id]
	if !ok {
		return billing.Lease{}, &billing.NotFoundError{Kind: "lease", ID: string(id)}
	}
	return lease, nil
}

func (m *Memory) ListLeases(_ context.Context) ([]billing.Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.Lease, 0, len(m.leaseOrder))
	for _, id := range m.leaseOrder {
		out = append(out, m.leases[id])
	}
	return out, nil
}

func (m *Memory) EndLease(_ context.Context, id billing.LeaseID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lease, ok := m.leases[id]
	if !ok {
		return &billing.NotFoundError{Kind: "lease", ID: string(id)}
	}
	if lease.Status != billing.LeaseActive {
		return billing.ErrStaleRecord
	}
	lease.Status = billing.LeaseEnded
	lease.EndedAt = &at
	m.leases[id] = lease
	return nil
}

// InsertSchedule writes all installments or none.
func (m *Memory) InsertSchedule(_ context.Context, leaseID billing.LeaseID, installments []billing.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leases[leaseID]; !ok {
		return &billing.NotFoundError{Kind: "lease", ID: string(leaseID)}
	}
	if len(m.byLease[leaseID]) > 0 {
		return billing.ErrScheduleExists
	}

	// Check everything first (atomic check)
	numbers := make(map[int]bool)
	dueDates := make(map[time.Time]bool)
	for _, inst := range installments {
		if _, ok := m.installments[inst.ID]; ok || inst.LeaseID != leaseID ||
			numbers[inst.Number] || dueDates[billing.Date(inst.DueDate)] {
			return billing.Unavailable("insert schedule", errConstraint)
		}
		numbers[inst.Number] = true
		dueDates[billing.Date(inst.DueDate)] = true
	}

	// Then write (atomic write)
	ids := make([]billing.InstallmentID, 0, len(installments))
	for _, inst := range installments {
		inst.PaymentLink = ""
		m.installments[inst.ID] = inst
		ids = append(ids, inst.ID)
	}
	m.byLease[leaseID] = ids
	return nil
}

func (m *Memory) GetInstallment(_ context.Context, id billing.InstallmentID) (billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.installments[id]
	if !ok {
		return billing.Installment{}, &billing.NotFoundError{Kind: "installment", ID: string(id)}
	}
	return inst, nil
}

func (m *Memory) ListInstallments(_ context.Context, leaseID billing.LeaseID) ([]billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byLease[leaseID]
	out := make([]billing.Installment, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.installments[id])
	}
	sortInstallments(out)
	return out, nil
}

// UpdateInstallment is the compare-and-swap: the guard is checked and the
// write applied under one lock.
func (m *Memory) UpdateInstallment(_ context.Context, inst billing.Installment, guard billing.Guard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.installments[inst.ID]
	if !ok {
		return &billing.NotFoundError{Kind: "installment", ID: string(inst.ID)}
	}
	if !guard.Allows(current) {
		return billing.ErrStaleRecord
	}
	// identity and schedule shape are immutable
	inst.LeaseID = current.LeaseID
	inst.Number = current.Number
	inst.IsFirstPayment = current.IsFirstPayment
	inst.CoveredMonths = current.CoveredMonths
	inst.Type = current.Type
	inst.Amount = current.Amount
	inst.DueDate = current.DueDate
	inst.CreatedAt = current.CreatedAt
	inst.PaymentLink = ""
	m.installments[inst.ID] = inst
	return nil
}

func (m *Memory) MarkOverdue(_ context.Context, asOf time.Time, now time.Time) ([]billing.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var moved []billing.Installment
	for id, inst := range m.installments {
		next, ok := billing.ApplyOverdue(inst, asOf, now)
		if !ok {
			continue
		}
		m.installments[id] = next
		moved = append(moved, next)
	}
	sortInstallments(moved)
	return moved, nil
}

func (m *Memory) ListVerified(_ context.Context, r billing.DateRange) ([]billing.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Installment
	for _, inst := range m.installments {
		if inst.VerificationStatus == billing.VerificationVerified && r.Contains(inst.CreatedAt) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func sortInstallments(insts []billing.Installment) {
	sort.Slice(insts, func(i, j int) bool {
		if !insts[i].DueDate.Equal(insts[j].DueDate) {
			return insts[i].DueDate.Before(insts[j].DueDate)
		}
		if insts[i].LeaseID != insts[j].LeaseID {
			return insts[i].LeaseID < insts[j].LeaseID
		}
		return insts[i].Number < insts[j].Number
	})
}

type memoryError string

func (e memoryError) Error() string { return string(e) }

const (
	errDuplicateLease memoryError = "lease id already exists"
	errConstraint     memoryError = "installment constraint violated"
)
