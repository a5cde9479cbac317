package billing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// NOTIFICATIONS - Informed, never consulted
// =============================================================================

type EventKind string

const (
	EventPaid                EventKind = "installment.paid"
	EventOverdue             EventKind = "installment.overdue"
	EventCancelled           EventKind = "installment.cancelled"
	EventVerificationChanged EventKind = "installment.verification_changed"
	EventVerificationRevoked EventKind = "installment.verification_reversed"
)

// Event describes one status or verification transition.
type Event struct {
	Kind          EventKind
	LeaseID       LeaseID
	TenantID      TenantID
	InstallmentID InstallmentID
	Number        int

	FromStatus       PaymentStatus
	ToStatus         PaymentStatus
	FromVerification VerificationStatus
	ToVerification   VerificationStatus

	Actor Actor
	Note  string
	At    time.Time
}

// Notifier delivers transition events to the lease owner. Delivery is the
// collaborator's business; a failed Notify never fails the transition.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to a zap logger.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, e Event) error {
	n.Logger.Info("installment transition",
		zap.String("event", string(e.Kind)),
		zap.String("lease_id", string(e.LeaseID)),
		zap.String("tenant_id", string(e.TenantID)),
		zap.String("installment_id", string(e.InstallmentID)),
		zap.Int("installment_number", e.Number),
		zap.String("status", string(e.ToStatus)),
		zap.String("verification_status", string(e.ToVerification)),
		zap.String("actor", e.Actor.ID),
	)
	return nil
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

func transitionEvent(kind EventKind, lease Lease, before, after Installment, actor Actor, note string, at time.Time) Event {
	return Event{
		Kind:             kind,
		LeaseID:          lease.ID,
		TenantID:         lease.TenantID,
		InstallmentID:    after.ID,
		Number:           after.Number,
		FromStatus:       before.Status,
		ToStatus:         after.Status,
		FromVerification: before.VerificationStatus,
		ToVerification:   after.VerificationStatus,
		Actor:            actor,
		Note:             note,
		At:               at,
	}
}
