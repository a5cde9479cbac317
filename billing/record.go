/*
record.go - Installment state machine

PURPOSE:
  Pure transition functions over a single installment. Each returns the
  next record together with the Guard the store must check when writing
  it, so a transition computed from a stale read can never land.

PAYMENT AXIS:
  pending  -> paid       tenant payment (gate checked by the ledger)
  pending  -> overdue    time-based sweep, guarded by status = pending
  pending  -> cancelled  administrative, terminal
  overdue  -> paid       overdue stays payable while it is next in line
  overdue  -> cancelled  administrative, terminal

PAYMENT METADATA:
  editable only while paid and unverified

VERIFICATION AXIS (only while paid):
  unverified -> pending     under review
  pending    -> verified    approved
  pending    -> unverified  rejected, proof may be re-submitted
  verified   -> unverified  explicit administrative override only

INVARIANTS:
  - paymentDate is set iff status = paid
  - verificationStatus = verified implies status = paid
*/
package billing

import "time"

// pay applies pending/overdue -> paid.
func pay(inst Installment, meta PaymentMeta, at time.Time) (Installment, Guard, error) {
	if !inst.Status.Open() {
		return inst, Guard{}, alreadySettled(inst)
	}
	paidAt := at
	next := inst
	next.Status = StatusPaid
	next.PaymentDate = &paidAt
	next.VerificationStatus = VerificationUnverified
	next.PaymentMethod = meta.Method
	next.TransactionReference = meta.Reference
	next.Notes = meta.Notes
	next.ReceiptURL = meta.ReceiptURL
	next.PaymentLink = ""
	next.UpdatedAt = at
	return next, Guard{Status: []PaymentStatus{StatusPending, StatusOverdue}}, nil
}

// cancel applies pending/overdue -> cancelled.
func cancel(inst Installment, at time.Time) (Installment, Guard, error) {
	if !inst.Status.Open() {
		return inst, Guard{}, alreadySettled(inst)
	}
	next := inst
	next.Status = StatusCancelled
	next.PaymentLink = ""
	next.UpdatedAt = at
	return next, Guard{Status: []PaymentStatus{StatusPending, StatusOverdue}}, nil
}

// ApplyOverdue applies pending -> overdue for an installment due before
// asOf. It is a no-op for anything else, which keeps the sweep idempotent
// and lets a payment that landed first win. Stores use it in MarkOverdue.
func ApplyOverdue(inst Installment, asOf, at time.Time) (Installment, bool) {
	if inst.Status != StatusPending || !Date(inst.DueDate).Before(Date(asOf)) {
		return inst, false
	}
	next := inst
	next.Status = StatusOverdue
	next.UpdatedAt = at
	return next, true
}

// verificationEdges lists the standard verification transitions.
var verificationEdges = map[VerificationStatus][]VerificationStatus{
	VerificationUnverified: {VerificationPending},
	VerificationPending:    {VerificationVerified, VerificationUnverified},
}

// CanVerify reports whether from -> to is a standard verification transition.
func CanVerify(from, to VerificationStatus) bool {
	for _, v := range verificationEdges[from] {
		if v == to {
			return true
		}
	}
	return false
}

// setVerification applies a standard verification transition.
func setVerification(inst Installment, to VerificationStatus, by, note string, at time.Time) (Installment, Guard, error) {
	if !to.Valid() {
		return inst, Guard{}, &InvalidTransitionError{
			InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, To: to, Reason: "unknown verification status",
		}
	}
	if inst.Status != StatusPaid {
		return inst, Guard{}, &InvalidTransitionError{
			InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, To: to, Reason: "installment has not been paid",
		}
	}
	if !CanVerify(inst.VerificationStatus, to) {
		reason := "not a permitted verification step"
		if inst.VerificationStatus == VerificationVerified {
			reason = "verified installments can only be reopened by an administrative override"
		}
		return inst, Guard{}, &InvalidTransitionError{
			InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, To: to, Reason: reason,
		}
	}

	next := inst
	next.VerificationStatus = to
	next.VerificationNote = note
	next.VerifiedBy = by
	next.UpdatedAt = at
	if to == VerificationVerified {
		verifiedAt := at
		next.VerifiedAt = &verifiedAt
	} else {
		next.VerifiedAt = nil
	}
	guard := Guard{
		Status:       []PaymentStatus{StatusPaid},
		Verification: []VerificationStatus{inst.VerificationStatus},
	}
	return next, guard, nil
}

// reverseVerification is the administrative override verified -> unverified.
// The payment stays recorded; the tenant may re-submit proof.
func reverseVerification(inst Installment, by, note string, at time.Time) (Installment, Guard, error) {
	if inst.Status != StatusPaid || inst.VerificationStatus != VerificationVerified {
		return inst, Guard{}, &InvalidTransitionError{
			InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, To: VerificationUnverified,
			Reason: "only verified payments can be reversed",
		}
	}
	next := inst
	next.VerificationStatus = VerificationUnverified
	next.VerificationNote = note
	next.VerifiedBy = by
	next.VerifiedAt = nil
	next.UpdatedAt = at
	guard := Guard{
		Status:       []PaymentStatus{StatusPaid},
		Verification: []VerificationStatus{VerificationVerified},
	}
	return next, guard, nil
}

// updateMeta rewrites payment metadata on a paid, unverified installment.
// Empty fields keep their current value. Once review has started the proof
// is frozen; a verified payment must be reversed before it can change.
func updateMeta(inst Installment, meta PaymentMeta, at time.Time) (Installment, Guard, error) {
	if inst.Status != StatusPaid {
		return inst, Guard{}, &InvalidTransitionError{
			InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, Reason: "payment metadata is writable only once paid",
		}
	}
	if inst.VerificationStatus != VerificationUnverified {
		return inst, Guard{}, &InvalidTransitionError{
			InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, Reason: "payment metadata is frozen once review has started",
		}
	}
	next := inst
	if meta.Method != "" {
		next.PaymentMethod = meta.Method
	}
	if meta.Reference != "" {
		next.TransactionReference = meta.Reference
	}
	if meta.Notes != "" {
		next.Notes = meta.Notes
	}
	if meta.ReceiptURL != "" {
		next.ReceiptURL = meta.ReceiptURL
	}
	next.UpdatedAt = at
	guard := Guard{
		Status:       []PaymentStatus{StatusPaid},
		Verification: []VerificationStatus{VerificationUnverified},
	}
	return next, guard, nil
}

func alreadySettled(inst Installment) error {
	return &AlreadySettledError{InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status}
}

// CheckInvariants returns an error describing the first broken record
// invariant, or nil.
func CheckInvariants(inst Installment) error {
	switch {
	case (inst.PaymentDate != nil) != (inst.Status == StatusPaid):
		return &InvalidTransitionError{InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, Reason: "paymentDate must be present exactly when paid"}
	case inst.VerificationStatus == VerificationVerified && inst.Status != StatusPaid:
		return &InvalidTransitionError{InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, Reason: "verified installment is not paid"}
	case inst.IsFirstPayment && inst.Number != 1:
		return &InvalidTransitionError{InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, Reason: "first payment must be installment #1"}
	}
	return nil
}
