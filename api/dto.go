/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts are exact decimal strings padded to two places ("1200.00",
  "6.024"), never floats and never rounded.
  Due dates are YYYY-MM-DD; timestamps are RFC 3339 in UTC.

VALIDATION:
  Validation is done in handlers and the ledger, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-ledger/billing"
)

// =============================================================================
// LEASES
// =============================================================================

// LeaseDTO represents a lease in API responses.
type LeaseDTO struct {
	ID                 string  `json:"id"`
	TenantID           string  `json:"tenant_id"`
	PropertyID         string  `json:"property_id"`
	StartDate          string  `json:"start_date"`
	TermMonths         int     `json:"term_months"`
	MonthlyRent        string  `json:"monthly_rent"`
	FirstPaymentMonths int     `json:"first_payment_months"`
	Status             string  `json:"status"`
	CreatedAt          string  `json:"created_at"`
	EndedAt            *string `json:"ended_at,omitempty"`
}

// CreateLeaseRequest is the request body for registering a lease.
type CreateLeaseRequest struct {
	TenantID         string `json:"tenant_id"`
	PropertyID       string `json:"property_id"`
	StartDate        string `json:"start_date"` // YYYY-MM-DD
	TermMonths       int    `json:"term_months"`
	MonthlyRent      string `json:"monthly_rent"`
	GenerateSchedule bool   `json:"generate_schedule"`
}

// CreateLeaseResponse carries the lease and, when requested, its schedule.
type CreateLeaseResponse struct {
	Lease        LeaseDTO         `json:"lease"`
	Installments []InstallmentDTO `json:"installments,omitempty"`
}

// GenerateScheduleRequest selects the term. Zero means the lease's own term.
type GenerateScheduleRequest struct {
	TermMonths int `json:"term_months"`
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

// InstallmentDTO represents one installment in API responses.
type InstallmentDTO struct {
	ID                 string `json:"id"`
	LeaseID            string `json:"lease_id"`
	Number             int    `json:"installment_number"`
	IsFirstPayment     bool   `json:"is_first_payment"`
	CoveredMonths      int    `json:"covered_months"`
	PaymentType        string `json:"payment_type"`
	Amount             string `json:"amount"`
	DueDate            string `json:"due_date"`
	PaymentDate        string `json:"payment_date,omitempty"`
	Status             string `json:"status"`
	VerificationStatus string `json:"verification_status"`

	PaymentMethod        string `json:"payment_method,omitempty"`
	TransactionReference string `json:"transaction_reference,omitempty"`
	Notes                string `json:"notes,omitempty"`
	ReceiptURL           string `json:"receipt_url,omitempty"`

	VerificationNote string `json:"verification_note,omitempty"`
	VerifiedBy       string `json:"verified_by,omitempty"`
	VerifiedAt       string `json:"verified_at,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ScheduleEntryDTO is an installment as a tenant sees it in the schedule.
type ScheduleEntryDTO struct {
	InstallmentDTO
	Payable     bool   `json:"payable"`
	LockedUntil int    `json:"locked_until,omitempty"`
	PaymentLink string `json:"payment_link,omitempty"`
}

// PaymentRequest is the optional body of a payment.
type PaymentRequest struct {
	PaymentMethod        string `json:"payment_method"`
	TransactionReference string `json:"transaction_reference"`
	Notes                string `json:"notes"`
	ReceiptURL           string `json:"receipt_url"`
}

// VerificationRequest moves an installment's verification status.
type VerificationRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// ReverseRequest carries the reason for an administrative override.
type ReverseRequest struct {
	Note string `json:"note"`
}

// SweepRequest optionally fixes the sweep date; empty means today.
type SweepRequest struct {
	AsOf string `json:"as_of"`
}

// SweepResponse reports how many installments moved to overdue.
type SweepResponse struct {
	AsOf  string `json:"as_of"`
	Moved int    `json:"moved"`
}

// =============================================================================
// AGGREGATES
// =============================================================================

// SummaryDTO is a lease's totals.
type SummaryDTO struct {
	LeaseID        string          `json:"lease_id"`
	TermMonths     int             `json:"term_months"`
	TotalPaid      string          `json:"total_paid"`
	TotalPending   string          `json:"total_pending"`
	TotalOverdue   string          `json:"total_overdue"`
	MonthsVerified int             `json:"months_verified"`
	NextDueDate    string          `json:"next_due_date,omitempty"`
	Next           *InstallmentDTO `json:"next_installment,omitempty"`
	PaidCount      int             `json:"paid_count"`
	PendingCount   int             `json:"pending_count"`
	OverdueCount   int             `json:"overdue_count"`
	CancelledCount int             `json:"cancelled_count"`
}

// RevenueReportDTO is platform revenue over [start, end).
type RevenueReportDTO struct {
	Start        string            `json:"start"`
	End          string            `json:"end"`
	Revenue      string            `json:"revenue"`
	Profit       string            `json:"profit"`
	Installments int               `json:"installments"`
	ByType       []TypeRevenueDTO  `json:"by_type"`
	ByMonth      []MonthRevenueDTO `json:"by_month"`
}

type TypeRevenueDTO struct {
	Type   string `json:"type"`
	Amount string `json:"amount"`
	Profit string `json:"profit"`
	Count  int    `json:"count"`
}

type MonthRevenueDTO struct {
	Month   string `json:"month"` // YYYY-MM
	Revenue string `json:"revenue"`
	Profit  string `json:"profit"`
	Count   int    `json:"count"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is returned for every failed request. The installment fields
// are set for payment and verification rejections so a client can show
// "locked until #3 is paid".
type ErrorResponse struct {
	Error                    string `json:"error"`
	Code                     string `json:"code,omitempty"`
	Details                  string `json:"details,omitempty"`
	InstallmentID            string `json:"installment_id,omitempty"`
	InstallmentNumber        int    `json:"installment_number,omitempty"`
	Status                   string `json:"status,omitempty"`
	PayableInstallmentNumber int    `json:"payable_installment_number,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// money keeps sub-cent digits so totals on the wire still add up.
func money(d decimal.Decimal) string { return billing.FormatMoney(d) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func optionalTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timestamp(*t)
}

func toLeaseDTO(l billing.Lease) LeaseDTO {
	dto := LeaseDTO{
		ID:                 string(l.ID),
		TenantID:           string(l.TenantID),
		PropertyID:         string(l.PropertyID),
		StartDate:          billing.FormatDate(l.StartDate),
		TermMonths:         l.TermMonths,
		MonthlyRent:        money(l.MonthlyRent),
		FirstPaymentMonths: l.FirstPaymentMonths(),
		Status:             string(l.Status),
		CreatedAt:          timestamp(l.CreatedAt),
	}
	if l.EndedAt != nil {
		ended := timestamp(*l.EndedAt)
		dto.EndedAt = &ended
	}
	return dto
}

func toLeaseDTOs(leases []billing.Lease) []LeaseDTO {
	out := make([]LeaseDTO, len(leases))
	for i, l := range leases {
		out[i] = toLeaseDTO(l)
	}
	return out
}

func toInstallmentDTO(i billing.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:                   string(i.ID),
		LeaseID:              string(i.LeaseID),
		Number:               i.Number,
		IsFirstPayment:       i.IsFirstPayment,
		CoveredMonths:        i.CoveredMonths,
		PaymentType:          string(i.Type),
		Amount:               money(i.Amount),
		DueDate:              billing.FormatDate(i.DueDate),
		PaymentDate:          optionalTimestamp(i.PaymentDate),
		Status:               string(i.Status),
		VerificationStatus:   string(i.VerificationStatus),
		PaymentMethod:        i.PaymentMethod,
		TransactionReference: i.TransactionReference,
		Notes:                i.Notes,
		ReceiptURL:           i.ReceiptURL,
		VerificationNote:     i.VerificationNote,
		VerifiedBy:           i.VerifiedBy,
		VerifiedAt:           optionalTimestamp(i.VerifiedAt),
		CreatedAt:            timestamp(i.CreatedAt),
		UpdatedAt:            timestamp(i.UpdatedAt),
	}
}

func toInstallmentDTOs(insts []billing.Installment) []InstallmentDTO {
	out := make([]InstallmentDTO, len(insts))
	for i, inst := range insts {
		out[i] = toInstallmentDTO(inst)
	}
	return out
}

func toScheduleDTOs(entries []billing.ScheduleEntry) []ScheduleEntryDTO {
	out := make([]ScheduleEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = ScheduleEntryDTO{
			InstallmentDTO: toInstallmentDTO(e.Installment),
			Payable:        e.Payable,
			LockedUntil:    e.LockedUntil,
			PaymentLink:    e.PaymentLink,
		}
	}
	return out
}

func toSummaryDTO(s billing.LeaseSummary) SummaryDTO {
	dto := SummaryDTO{
		LeaseID:        string(s.LeaseID),
		TermMonths:     s.TermMonths,
		TotalPaid:      money(s.TotalPaid),
		TotalPending:   money(s.TotalPending),
		TotalOverdue:   money(s.TotalOverdue),
		MonthsVerified: s.MonthsVerified,
		PaidCount:      s.PaidCount,
		PendingCount:   s.PendingCount,
		OverdueCount:   s.OverdueCount,
		CancelledCount: s.CancelledCount,
	}
	if s.NextDueDate != nil {
		dto.NextDueDate = billing.FormatDate(*s.NextDueDate)
	}
	if s.Next != nil {
		next := toInstallmentDTO(*s.Next)
		dto.Next = &next
	}
	return dto
}

func toRevenueReportDTO(r billing.RevenueReport) RevenueReportDTO {
	dto := RevenueReportDTO{
		Start:        timestamp(r.Range.Start),
		End:          timestamp(r.Range.End),
		Revenue:      money(r.Revenue),
		Profit:       money(r.Profit),
		Installments: r.Installments,
		ByType:       make([]TypeRevenueDTO, len(r.ByType)),
		ByMonth:      make([]MonthRevenueDTO, len(r.ByMonth)),
	}
	for i, t := range r.ByType {
		dto.ByType[i] = TypeRevenueDTO{Type: string(t.Type), Amount: money(t.Amount), Profit: money(t.Profit), Count: t.Count}
	}
	for i, m := range r.ByMonth {
		dto.ByMonth[i] = MonthRevenueDTO{Month: m.Month.Format("2006-01"), Revenue: money(m.Revenue), Profit: money(m.Profit), Count: m.Count}
	}
	return dto
}
