package billing

// =============================================================================
// PAYABILITY GATE - Pay strictly in sequence
// =============================================================================

// NextPayable selects the single installment currently open for payment:
// the pending or overdue installment with the earliest due date, ties broken
// by the lower installment number. ok is false when nothing is payable.
func NextPayable(installments []Installment) (next Installment, ok bool) {
	for _, inst := range installments {
		if !inst.Status.Open() {
			continue
		}
		if !ok || precedes(inst, next) {
			next, ok = inst, true
		}
	}
	return next, ok
}

func precedes(a, b Installment) bool {
	if !a.DueDate.Equal(b.DueDate) {
		return a.DueDate.Before(b.DueDate)
	}
	return a.Number < b.Number
}

// IsPayable reports whether inst is open and is the gate's selection.
func IsPayable(inst Installment, installments []Installment) bool {
	if !inst.Status.Open() {
		return false
	}
	next, ok := NextPayable(installments)
	return ok && next.ID == inst.ID
}

// checkPayable returns the error a payment attempt on target must fail with,
// or nil if target is the gate's selection.
func checkPayable(target Installment, installments []Installment) error {
	next, ok := NextPayable(installments)
	if ok && next.ID != target.ID {
		return &NotPayableError{
			InstallmentID: target.ID,
			Number:        target.Number,
			Status:        target.Status,
			PayableID:     next.ID,
			PayableNumber: next.Number,
		}
	}
	if !target.Status.Open() {
		return alreadySettled(target)
	}
	return nil
}

// ScheduleEntry is an installment as presented to a tenant.
type ScheduleEntry struct {
	Installment
	Payable     bool
	LockedUntil int // number of the installment that must be paid first; 0 when not locked
}

// ScheduleView annotates every open installment as payable or locked.
func ScheduleView(installments []Installment) []ScheduleEntry {
	next, ok := NextPayable(installments)
	entries := make([]ScheduleEntry, len(installments))
	for i, inst := range installments {
		entry := ScheduleEntry{Installment: inst}
		if inst.Status.Open() && ok {
			if inst.ID == next.ID {
				entry.Payable = true
			} else {
				entry.LockedUntil = next.Number
			}
		}
		if !entry.Payable {
			entry.PaymentLink = ""
		}
		entries[i] = entry
	}
	return entries
}
