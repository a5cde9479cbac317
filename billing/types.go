/*
Package billing provides the rental payment installment ledger.

PURPOSE:
  This package owns the lifecycle of lease installments: schedule
  generation at lease signing, the two-axis payment/verification state
  machine, the payability gate that forces tenants to pay strictly in
  sequence, and the aggregation that turns verified payments into
  per-lease summaries and platform revenue/profit reports.

KEY CONCEPTS IN THIS FILE (types.go):
  - Lease: tenant + property + term, owns one installment schedule
  - Installment: a single scheduled payment obligation
  - PaymentStatus / VerificationStatus: the two state axes
  - Money helpers: decimal.Decimal, never float64

DESIGN PRINCIPLES:
  1. Single source of truth: payability is computed, never stored
  2. Precision: all amounts are decimal.Decimal
  3. Type Safety: distinct ID types for leases and installments
  4. Auditability: installments are never deleted

USAGE:
  ledger := billing.NewLedger(store.NewMemory(), billing.WithLogger(logger))
  lease, _ := ledger.CreateLease(ctx, billing.AdminActor("ops"), billing.NewLease{...})
  insts, _ := ledger.GenerateSchedule(ctx, admin, lease.ID, 12)

SEE ALSO:
  - schedule.go: schedule generation
  - record.go: state machine transitions
  - gate.go: payability gate
  - summary.go, revenue.go: aggregation
  - ledger.go: the service tying them to a Store
*/
package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// CommissionRate is the platform take-rate applied to verified revenue.
var CommissionRate = decimal.RequireFromString("0.10")

// MoneyPlaces is the number of fractional digits reported for money values.
const MoneyPlaces = 2

// ParseMoney parses a decimal amount such as "1250.50".
func ParseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParseMoney is ParseMoney for constants and tests.
func MustParseMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// FormatMoney renders d exactly, padded to at least MoneyPlaces fractional
// digits: "1200.00", "6.024".
func FormatMoney(d decimal.Decimal) string {
	s := d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > MoneyPlaces {
		return s
	}
	return d.StringFixed(MoneyPlaces)
}

// RoundMoney rounds half away from zero to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LeaseID string
type InstallmentID string
type TenantID string
type PropertyID string

// =============================================================================
// LEASE
// =============================================================================

type LeaseStatus string

const (
	LeaseActive LeaseStatus = "active"
	LeaseEnded  LeaseStatus = "ended"
)

// Lease is the tenancy an installment schedule belongs to.
// Lease data is owned by the tenancy collaborator; the ledger only reads it,
// apart from ending it.
type Lease struct {
	ID          LeaseID
	TenantID    TenantID
	PropertyID  PropertyID
	StartDate   time.Time
	TermMonths  int
	MonthlyRent decimal.Decimal
	Status      LeaseStatus
	CreatedAt   time.Time
	EndedAt     *time.Time
}

// FirstPaymentMonths is the number of months the first installment covers.
func (l Lease) FirstPaymentMonths() int {
	return FirstPaymentMonths(l.TermMonths)
}

// NewLease carries the input for registering a lease.
type NewLease struct {
	TenantID    TenantID
	PropertyID  PropertyID
	StartDate   time.Time
	TermMonths  int
	MonthlyRent decimal.Decimal
}

// =============================================================================
// INSTALLMENT
// =============================================================================

// PaymentStatus is the payment axis of an installment.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPaid      PaymentStatus = "paid"
	StatusOverdue   PaymentStatus = "overdue"
	StatusCancelled PaymentStatus = "cancelled"
)

// Open reports whether the installment still awaits payment.
func (s PaymentStatus) Open() bool {
	return s == StatusPending || s == StatusOverdue
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// VerificationStatus is the verification axis. It only moves once the
// payment axis is paid.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
)

func (v VerificationStatus) Valid() bool {
	switch v {
	case VerificationUnverified, VerificationPending, VerificationVerified:
		return true
	}
	return false
}

// PaymentType classifies installments for revenue breakdowns.
type PaymentType string

const (
	PaymentTypeFirst   PaymentType = "first_payment"
	PaymentTypeMonthly PaymentType = "monthly_rent"
)

// Installment is one scheduled payment obligation within a lease.
type Installment struct {
	ID             InstallmentID
	LeaseID        LeaseID
	Number         int // 1-based, gap-free within a lease
	IsFirstPayment bool
	CoveredMonths  int // months of occupancy this installment pays for
	Type           PaymentType
	Amount         decimal.Decimal
	DueDate        time.Time
	PaymentDate    *time.Time

	Status             PaymentStatus
	VerificationStatus VerificationStatus

	// Payment metadata, writable only once paid.
	PaymentMethod        string
	TransactionReference string
	Notes                string
	ReceiptURL           string

	// Verification audit
	VerificationNote string
	VerifiedBy       string
	VerifiedAt       *time.Time

	// PaymentLink is computed on read and only set on the payable installment.
	// It is never persisted.
	PaymentLink string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CountsTowardVerifiedMonths reports whether the installment is paid and verified.
func (i Installment) CountsTowardVerifiedMonths() bool {
	return i.Status == StatusPaid && i.VerificationStatus == VerificationVerified
}

// PaymentMeta is what a tenant supplies with a payment, and what an
// administrator may later correct.
type PaymentMeta struct {
	Method     string
	Reference  string
	Notes      string
	ReceiptURL string
}
