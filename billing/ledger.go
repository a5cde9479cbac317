/*
ledger.go - The installment ledger service

PURPOSE:
  Ledger is the single entry point collaborators call. It authorizes the
  caller, reads live state from the Store, runs the pure transition in
  record.go, writes it back with a conditional update, and informs the
  Notifier.

OPERATIONS:
  GenerateSchedule     lease signing: build and persist the installments
  PayInstallment       tenant payment, gate-checked
  SetVerification      administrative review
  ReverseVerification  administrative override on a verified payment
  CancelInstallment    administrative cancellation
  SweepOverdue         time-based pending -> overdue
  LeaseSummary         per-lease totals
  RevenueReport        platform revenue/profit over [start, end)

CONCURRENCY:
  Operations that move the payability gate (schedule generation, payment,
  cancellation) hold the lease key in the Locker for the read-decide-write
  cycle. Independently of the lock, every write is a conditional update, so
  two processes without a shared Locker still cannot both pay the same
  installment or pay out of order: the loser's guard fails and it receives
  NotPayableError computed from a fresh read.

  Nothing here is cached. Summaries and reports re-read the Store on every
  call, so a verification change is visible to the next read.

SEE ALSO:
  - store.go: Store and Locker
  - record.go: transitions
  - gate.go: NextPayable
*/
package billing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Ledger implements the installment ledger operations over a Store.
type Ledger struct {
	store    Store
	locker   Locker
	notifier Notifier
	receipts ReceiptRenderer
	links    PaymentLinker
	logger   *zap.Logger
	now      Clock
	newID    IDGenerator
}

type Option func(*Ledger)

func WithLocker(lk Locker) Option {
	return func(l *Ledger) { l.locker = lk }
}

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func WithReceiptRenderer(r ReceiptRenderer) Option {
	return func(l *Ledger) { l.receipts = r }
}

func WithPaymentLinker(p PaymentLinker) Option {
	return func(l *Ledger) { l.links = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.now = c }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(l *Ledger) { l.newID = g }
}

// NewLedger creates a ledger over store. Defaults: in-process locker,
// log notifier, plain-text receipts, no payment links, no-op logger.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		locker:   NewKeyedLocker(),
		receipts: TextReceiptRenderer{},
		links:    URLPaymentLinker{},
		logger:   zap.NewNop(),
		now:      systemClock,
		newID:    newUUID,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.notifier == nil {
		l.notifier = LogNotifier{Logger: l.logger}
	}
	return l
}

// Store exposes the underlying store for wiring (scenarios, health checks).
func (l *Ledger) Store() Store { return l.store }

// =============================================================================
// LEASES
// =============================================================================

// CreateLease registers a lease. It does not generate the schedule.
func (l *Ledger) CreateLease(ctx context.Context, actor Actor, in NewLease) (Lease, error) {
	if err := authorize(actor, ActionCreateLease, nil); err != nil {
		return Lease{}, err
	}
	if !ValidTerm(in.TermMonths) {
		return Lease{}, &InvalidTermError{TermMonths: in.TermMonths}
	}
	switch {
	case in.TenantID == "":
		return Lease{}, invalidInput("tenant id is required")
	case in.PropertyID == "":
		return Lease{}, invalidInput("property id is required")
	case in.StartDate.IsZero():
		return Lease{}, invalidInput("start date is required")
	case !in.MonthlyRent.IsPositive():
		return Lease{}, invalidInput("monthly rent must be positive")
	}

	lease := Lease{
		ID:          LeaseID(l.newID()),
		TenantID:    in.TenantID,
		PropertyID:  in.PropertyID,
		StartDate:   Date(in.StartDate),
		TermMonths:  in.TermMonths,
		MonthlyRent: in.MonthlyRent,
		Status:      LeaseActive,
		CreatedAt:   l.now(),
	}
	if err := l.store.CreateLease(ctx, lease); err != nil {
		return Lease{}, err
	}
	l.logger.Info("lease created",
		zap.String("lease_id", string(lease.ID)),
		zap.String("tenant_id", string(lease.TenantID)),
		zap.Int("term_months", lease.TermMonths))
	return lease, nil
}

func (l *Ledger) GetLease(ctx context.Context, actor Actor, id LeaseID) (Lease, error) {
	lease, err := l.store.GetLease(ctx, id)
	if err != nil {
		return Lease{}, err
	}
	if err := authorize(actor, ActionReadLease, &lease); err != nil {
		return Lease{}, err
	}
	return lease, nil
}

// ListLeases returns every lease for administrators and only the caller's
// leases for tenants.
func (l *Ledger) ListLeases(ctx context.Context, actor Actor) ([]Lease, error) {
	leases, err := l.store.ListLeases(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Lease, 0, len(leases))
	for i := range leases {
		if authorize(actor, ActionReadLease, &leases[i]) == nil {
			out = append(out, leases[i])
		}
	}
	return out, nil
}

// EndLease terminates an active lease. Its installments stay payable and
// verifiable for trailing reconciliation.
func (l *Ledger) EndLease(ctx context.Context, actor Actor, id LeaseID) (Lease, error) {
	if err := authorize(actor, ActionEndLease, nil); err != nil {
		return Lease{}, err
	}
	lease, err := l.store.GetLease(ctx, id)
	if err != nil {
		return Lease{}, err
	}
	if lease.Status != LeaseActive {
		return Lease{}, &InvalidLeaseStateError{LeaseID: id, Status: lease.Status, Reason: "lease already ended"}
	}
	at := l.now()
	if err := l.store.EndLease(ctx, id, at); err != nil {
		if errors.Is(err, ErrStaleRecord) {
			return Lease{}, &InvalidLeaseStateError{LeaseID: id, Status: LeaseEnded, Reason: "lease already ended"}
		}
		return Lease{}, err
	}
	lease.Status = LeaseEnded
	lease.EndedAt = &at
	l.logger.Info("lease ended", zap.String("lease_id", string(id)))
	return lease, nil
}

// =============================================================================
// SCHEDULE
// =============================================================================

// GenerateSchedule creates the lease's installments. It fails with
// InvalidTermError for unsupported terms and InvalidLeaseStateError when the
// lease already has a schedule or has ended.
func (l *Ledger) GenerateSchedule(ctx context.Context, actor Actor, leaseID LeaseID, termMonths int) ([]Installment, error) {
	if err := authorize(actor, ActionSchedule, nil); err != nil {
		return nil, err
	}
	if !ValidTerm(termMonths) {
		return nil, &InvalidTermError{TermMonths: termMonths}
	}

	unlock, err := l.locker.Lock(ctx, leaseLockKey(leaseID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	lease, err := l.store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if lease.Status != LeaseActive {
		return nil, &InvalidLeaseStateError{LeaseID: leaseID, Status: lease.Status, Reason: "cannot schedule an ended lease"}
	}
	if lease.TermMonths != termMonths {
		return nil, &InvalidTermError{TermMonths: termMonths}
	}

	existing, err := l.store.ListInstallments(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, scheduleExists(lease)
	}

	installments, err := BuildSchedule(lease, l.now(), l.newID)
	if err != nil {
		return nil, err
	}
	if err := l.store.InsertSchedule(ctx, leaseID, installments); err != nil {
		if errors.Is(err, ErrScheduleExists) {
			return nil, scheduleExists(lease)
		}
		return nil, err
	}

	l.logger.Info("schedule generated",
		zap.String("lease_id", string(leaseID)),
		zap.Int("count", len(installments)),
		zap.Int("first_payment_months", lease.FirstPaymentMonths()))
	return installments, nil
}

// Schedule returns the lease's installments annotated with payability. Only
// the payable installment carries a payment link.
func (l *Ledger) Schedule(ctx context.Context, actor Actor, leaseID LeaseID) ([]ScheduleEntry, error) {
	lease, installments, err := l.loadLease(ctx, actor, leaseID)
	if err != nil {
		return nil, err
	}
	entries := ScheduleView(installments)
	for i := range entries {
		if entries[i].Payable {
			entries[i].PaymentLink = l.links.Link(lease, entries[i].Installment)
		}
	}
	return entries, nil
}

func (l *Ledger) GetInstallment(ctx context.Context, actor Actor, id InstallmentID) (Installment, error) {
	inst, _, err := l.loadInstallment(ctx, actor, ActionReadLease, id)
	return inst, err
}

// =============================================================================
// PAYMENT
// =============================================================================

// PayInstallment records a tenant payment on the gate-selected installment.
// Losing a race for the same installment yields NotPayableError; these
// failures are definitional and must not be retried.
func (l *Ledger) PayInstallment(ctx context.Context, actor Actor, leaseID LeaseID, id InstallmentID, meta PaymentMeta) (Installment, error) {
	lease, err := l.store.GetLease(ctx, leaseID)
	if err != nil {
		return Installment{}, err
	}
	if err := authorize(actor, ActionPay, &lease); err != nil {
		return Installment{}, err
	}

	unlock, err := l.locker.Lock(ctx, leaseLockKey(leaseID))
	if err != nil {
		return Installment{}, err
	}
	defer unlock()

	installments, err := l.store.ListInstallments(ctx, leaseID)
	if err != nil {
		return Installment{}, err
	}
	target, ok := find(installments, id)
	if !ok {
		return Installment{}, &NotFoundError{Kind: "installment", ID: string(id)}
	}
	if err := checkPayable(target, installments); err != nil {
		return Installment{}, err
	}

	at := l.now()
	next, guard, err := pay(target, meta, at)
	if err != nil {
		return Installment{}, err
	}
	if err := l.store.UpdateInstallment(ctx, next, guard); err != nil {
		if errors.Is(err, ErrStaleRecord) {
			return Installment{}, l.notPayableAfterRace(ctx, leaseID, target)
		}
		return Installment{}, err
	}

	l.logger.Info("installment paid",
		zap.String("lease_id", string(leaseID)),
		zap.String("installment_id", string(id)),
		zap.Int("installment_number", next.Number),
		zap.String("actor", actor.ID))
	l.notify(ctx, transitionEvent(EventPaid, lease, target, next, actor, meta.Notes, at))
	return next, nil
}

// notPayableAfterRace builds the error for a payment whose guard failed,
// from a fresh read of the schedule.
func (l *Ledger) notPayableAfterRace(ctx context.Context, leaseID LeaseID, target Installment) error {
	e := &NotPayableError{InstallmentID: target.ID, Number: target.Number, Status: target.Status}
	installments, err := l.store.ListInstallments(ctx, leaseID)
	if err != nil {
		return e
	}
	if current, ok := find(installments, target.ID); ok {
		e.Status = current.Status
	}
	if next, ok := NextPayable(installments); ok && next.ID != target.ID {
		e.PayableID = next.ID
		e.PayableNumber = next.Number
	}
	return e
}

// UpdatePaymentMeta edits method/reference/notes/receipt URL on a paid installment.
func (l *Ledger) UpdatePaymentMeta(ctx context.Context, actor Actor, id InstallmentID, meta PaymentMeta) (Installment, error) {
	inst, _, err := l.loadInstallment(ctx, actor, ActionEditMeta, id)
	if err != nil {
		return Installment{}, err
	}
	next, guard, err := updateMeta(inst, meta, l.now())
	if err != nil {
		return Installment{}, err
	}
	if err := l.store.UpdateInstallment(ctx, next, guard); err != nil {
		if errors.Is(err, ErrStaleRecord) {
			return Installment{}, l.staleTransition(ctx, id, "")
		}
		return Installment{}, err
	}
	return next, nil
}

// =============================================================================
// VERIFICATION
// =============================================================================

// SetVerification applies a standard verification transition:
// unverified -> pending, pending -> verified, pending -> unverified.
func (l *Ledger) SetVerification(ctx context.Context, actor Actor, id InstallmentID, to VerificationStatus, note string) (Installment, error) {
	inst, lease, err := l.loadInstallment(ctx, actor, ActionVerify, id)
	if err != nil {
		return Installment{}, err
	}
	at := l.now()
	next, guard, err := setVerification(inst, to, actor.ID, note, at)
	if err != nil {
		return Installment{}, err
	}
	if err := l.store.UpdateInstallment(ctx, next, guard); err != nil {
		if errors.Is(err, ErrStaleRecord) {
			return Installment{}, l.staleTransition(ctx, id, to)
		}
		return Installment{}, err
	}

	l.logger.Info("verification changed",
		zap.String("installment_id", string(id)),
		zap.String("from", string(inst.VerificationStatus)),
		zap.String("verification_status", string(to)),
		zap.String("actor", actor.ID))
	l.notify(ctx, transitionEvent(EventVerificationChanged, lease, inst, next, actor, note, at))
	return next, nil
}

// ReverseVerification is the administrative override verified -> unverified.
// The payment stays recorded and the tenant may re-submit proof.
func (l *Ledger) ReverseVerification(ctx context.Context, actor Actor, id InstallmentID, note string) (Installment, error) {
	inst, lease, err := l.loadInstallment(ctx, actor, ActionOverride, id)
	if err != nil {
		return Installment{}, err
	}
	at := l.now()
	next, guard, err := reverseVerification(inst, actor.ID, note, at)
	if err != nil {
		return Installment{}, err
	}
	if err := l.store.UpdateInstallment(ctx, next, guard); err != nil {
		if errors.Is(err, ErrStaleRecord) {
			return Installment{}, l.staleTransition(ctx, id, VerificationUnverified)
		}
		return Installment{}, err
	}

	l.logger.Warn("verification reversed",
		zap.String("installment_id", string(id)),
		zap.String("actor", actor.ID),
		zap.String("note", note))
	l.notify(ctx, transitionEvent(EventVerificationRevoked, lease, inst, next, actor, note, at))
	return next, nil
}

func (l *Ledger) staleTransition(ctx context.Context, id InstallmentID, to VerificationStatus) error {
	current, err := l.store.GetInstallment(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{
		InstallmentID: id, Number: current.Number, Status: current.Status,
		From: current.VerificationStatus, To: to, Reason: "installment changed concurrently",
	}
}

// =============================================================================
// CANCELLATION & SWEEP
// =============================================================================

// CancelInstallment administratively cancels a pending or overdue installment.
func (l *Ledger) CancelInstallment(ctx context.Context, actor Actor, id InstallmentID) (Installment, error) {
	if err := authorize(actor, ActionCancel, nil); err != nil {
		return Installment{}, err
	}
	inst, err := l.store.GetInstallment(ctx, id)
	if err != nil {
		return Installment{}, err
	}
	lease, err := l.store.GetLease(ctx, inst.LeaseID)
	if err != nil {
		return Installment{}, err
	}

	unlock, err := l.locker.Lock(ctx, leaseLockKey(lease.ID))
	if err != nil {
		return Installment{}, err
	}
	defer unlock()

	// re-read under the lock
	if inst, err = l.store.GetInstallment(ctx, id); err != nil {
		return Installment{}, err
	}
	at := l.now()
	next, guard, err := cancel(inst, at)
	if err != nil {
		return Installment{}, err
	}
	if err := l.store.UpdateInstallment(ctx, next, guard); err != nil {
		if errors.Is(err, ErrStaleRecord) {
			current, gerr := l.store.GetInstallment(ctx, id)
			if gerr != nil {
				return Installment{}, gerr
			}
			return Installment{}, alreadySettled(current)
		}
		return Installment{}, err
	}

	l.logger.Info("installment cancelled",
		zap.String("lease_id", string(lease.ID)),
		zap.String("installment_id", string(id)),
		zap.String("actor", actor.ID))
	l.notify(ctx, transitionEvent(EventCancelled, lease, inst, next, actor, "", at))
	return next, nil
}

// SweepOverdue marks every pending installment due before asOf as overdue
// and returns how many records it moved. Running it twice for the same date
// moves nothing the second time.
func (l *Ledger) SweepOverdue(ctx context.Context, actor Actor, asOf time.Time) (int, error) {
	if err := authorize(actor, ActionSweep, nil); err != nil {
		return 0, err
	}
	at := l.now()
	moved, err := l.store.MarkOverdue(ctx, Date(asOf), at)
	if err != nil {
		return 0, err
	}

	leases := make(map[LeaseID]Lease)
	for _, inst := range moved {
		lease, ok := leases[inst.LeaseID]
		if !ok {
			lease, err = l.store.GetLease(ctx, inst.LeaseID)
			if err != nil {
				l.logger.Warn("sweep: lease lookup failed", zap.String("lease_id", string(inst.LeaseID)), zap.Error(err))
				lease = Lease{ID: inst.LeaseID}
			}
			leases[inst.LeaseID] = lease
		}
		before := inst
		before.Status = StatusPending
		l.notify(ctx, transitionEvent(EventOverdue, lease, before, inst, actor, "", at))
	}

	l.logger.Info("overdue sweep complete",
		zap.String("as_of", FormatDate(asOf)),
		zap.Int("count", len(moved)))
	return len(moved), nil
}

// =============================================================================
// AGGREGATION
// =============================================================================

// LeaseSummary returns totals for one lease from live state.
func (l *Ledger) LeaseSummary(ctx context.Context, actor Actor, leaseID LeaseID) (LeaseSummary, error) {
	lease, installments, err := l.loadLease(ctx, actor, leaseID)
	if err != nil {
		return LeaseSummary{}, err
	}
	return Summarize(lease, installments), nil
}

// RevenueReport aggregates verified installments created in [start, end).
func (l *Ledger) RevenueReport(ctx context.Context, actor Actor, start, end time.Time) (RevenueReport, error) {
	if err := authorize(actor, ActionReport, nil); err != nil {
		return RevenueReport{}, err
	}
	r, err := NewDateRange(start, end)
	if err != nil {
		return RevenueReport{}, err
	}
	installments, err := l.store.ListVerified(ctx, r)
	if err != nil {
		return RevenueReport{}, err
	}
	return BuildRevenueReport(r, installments)
}

// =============================================================================
// RECEIPTS
// =============================================================================

// Receipt renders a paid installment. Rendering does not touch state.
func (l *Ledger) Receipt(ctx context.Context, actor Actor, id InstallmentID) (Artifact, error) {
	inst, lease, err := l.loadInstallment(ctx, actor, ActionReadLease, id)
	if err != nil {
		return Artifact{}, err
	}
	return l.receipts.Render(ctx, Receipt{Lease: lease, Installment: inst, IssuedAt: l.now()})
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) loadLease(ctx context.Context, actor Actor, leaseID LeaseID) (Lease, []Installment, error) {
	lease, err := l.store.GetLease(ctx, leaseID)
	if err != nil {
		return Lease{}, nil, err
	}
	if err := authorize(actor, ActionReadLease, &lease); err != nil {
		return Lease{}, nil, err
	}
	installments, err := l.store.ListInstallments(ctx, leaseID)
	if err != nil {
		return Lease{}, nil, err
	}
	return lease, installments, nil
}

func (l *Ledger) loadInstallment(ctx context.Context, actor Actor, action Action, id InstallmentID) (Installment, Lease, error) {
	inst, err := l.store.GetInstallment(ctx, id)
	if err != nil {
		return Installment{}, Lease{}, err
	}
	lease, err := l.store.GetLease(ctx, inst.LeaseID)
	if err != nil {
		return Installment{}, Lease{}, err
	}
	if err := authorize(actor, action, &lease); err != nil {
		return Installment{}, Lease{}, err
	}
	return inst, lease, nil
}

func (l *Ledger) notify(ctx context.Context, e Event) {
	if err := l.notifier.Notify(ctx, e); err != nil {
		l.logger.Warn("notification failed",
			zap.String("event", string(e.Kind)),
			zap.String("installment_id", string(e.InstallmentID)),
			zap.Error(err))
	}
}

func find(installments []Installment, id InstallmentID) (Installment, bool) {
	for _, inst := range installments {
		if inst.ID == id {
			return inst, true
		}
	}
	return Installment{}, false
}

func scheduleExists(lease Lease) error {
	return &InvalidLeaseStateError{LeaseID: lease.ID, Status: lease.Status, Reason: "lease already has a payment schedule"}
}

type invalidInputError string

func (e invalidInputError) Error() string { return string(e) }
func (e invalidInputError) Unwrap() error { return ErrInvalidInput }

func invalidInput(msg string) error { return invalidInputError(msg) }
