/*
handlers.go - HTTP API handlers for the rent ledger

PURPOSE:
  Exposes the installment ledger via REST API. Handles HTTP request and
  response, JSON serialization, and delegates every decision to
  billing.Ledger.

ENDPOINTS:
  Leases:
    POST   /api/leases                              Create lease (+ schedule)
    GET    /api/leases                              List leases
    GET    /api/leases/{id}                         Get lease
    POST   /api/leases/{id}/end                     End lease
    POST   /api/leases/{id}/schedule                Generate schedule
    GET    /api/leases/{id}/installments            Schedule with payability
    GET    /api/leases/{id}/summary                 Lease totals
    POST   /api/leases/{id}/installments/{iid}/pay  Pay an installment

  Installments:
    GET    /api/installments/{id}                   Get installment
    PUT    /api/installments/{id}/metadata          Edit payment metadata
    POST   /api/installments/{id}/verification      Change verification status
    POST   /api/installments/{id}/reverse           Override a verified payment
    POST   /api/installments/{id}/cancel            Cancel installment
    GET    /api/installments/{id}/receipt           Receipt for a paid installment

  Admin & reports:
    POST   /api/admin/sweep                         Overdue sweep
    GET    /api/reports/revenue?start&end           Revenue report
    GET    /api/reports/revenue.xlsx?start&end      Revenue report workbook

IDENTITY:
  The caller is read from X-Actor-ID and X-Actor-Role, set by the identity
  proxy in front of this service. A missing or unknown role is forbidden by
  the ledger, not here.

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse with a status from statusFor:
  - 400: Invalid term, range or input; malformed body
  - 403: Forbidden
  - 404: Lease or installment not found
  - 409: Not payable, already settled, invalid transition or lease state
  - 503: Store or lock unavailable (retryable)
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - export.go: XLSX export
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/rent-ledger/billing"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *billing.Ledger
	Logger *zap.Logger

	// Now supplies "today" for the manual sweep. Tests replace it.
	Now billing.Clock

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the given ledger.
func NewHandler(ledger *billing.Ledger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Ledger: ledger,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

// actorFrom reads the caller's identity from the request headers.
func actorFrom(r *http.Request) billing.Actor {
	return billing.Actor{
		ID:   strings.TrimSpace(r.Header.Get(headerActorID)),
		Role: billing.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerActorRole)))),
	}
}

// =============================================================================
// LEASE HANDLERS
// =============================================================================

// CreateLease registers a lease and, with generate_schedule, its installments.
func (h *Handler) CreateLease(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := billing.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	rent, err := billing.ParseMoney(req.MonthlyRent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid monthly_rent", err)
		return
	}

	ctx := r.Context()
	actor := actorFrom(r)
	lease, err := h.Ledger.CreateLease(ctx, actor, billing.NewLease{
		TenantID:    billing.TenantID(req.TenantID),
		PropertyID:  billing.PropertyID(req.PropertyID),
		StartDate:   start,
		TermMonths:  req.TermMonths,
		MonthlyRent: rent,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	resp := CreateLeaseResponse{Lease: toLeaseDTO(lease)}
	if req.GenerateSchedule {
		installments, err := h.Ledger.GenerateSchedule(ctx, actor, lease.ID, lease.TermMonths)
		if err != nil {
			h.Logger.Warn("lease created without schedule",
				zap.String("lease_id", string(lease.ID)), zap.Error(err))
			h.writeLedgerError(w, err)
			return
		}
		resp.Installments = toInstallmentDTOs(installments)
	}

	writeJSON(w, http.StatusCreated, resp)
}

// ListLeases returns the leases visible to the caller.
func (h *Handler) ListLeases(w http.ResponseWriter, r *http.Request) {
	leases, err := h.Ledger.ListLeases(r.Context(), actorFrom(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTOs(leases))
}

// GetLease returns a single lease.
func (h *Handler) GetLease(w http.ResponseWriter, r *http.Request) {
	lease, err := h.Ledger.GetLease(r.Context(), actorFrom(r), leaseParam(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTO(lease))
}

// EndLease terminates an active lease.
func (h *Handler) EndLease(w http.ResponseWriter, r *http.Request) {
	lease, err := h.Ledger.EndLease(r.Context(), actorFrom(r), leaseParam(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaseDTO(lease))
}

// GenerateSchedule creates the installments of an existing lease.
func (h *Handler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	var req GenerateScheduleRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	actor := actorFrom(r)
	leaseID := leaseParam(r)

	term := req.TermMonths
	if term == 0 {
		lease, err := h.Ledger.GetLease(ctx, actor, leaseID)
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		term = lease.TermMonths
	}

	installments, err := h.Ledger.GenerateSchedule(ctx, actor, leaseID, term)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInstallmentDTOs(installments))
}

// GetSchedule returns the lease's installments flagged payable or locked.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.Schedule(r.Context(), actorFrom(r), leaseParam(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTOs(entries))
}

// GetSummary returns the lease's totals.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Ledger.LeaseSummary(r.Context(), actorFrom(r), leaseParam(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// PayInstallment records a tenant payment. The body is optional.
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inst, err := h.Ledger.PayInstallment(r.Context(), actorFrom(r),
		leaseParam(r), billing.InstallmentID(chi.URLParam(r, "iid")), req.meta())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// =============================================================================
// INSTALLMENT HANDLERS
// =============================================================================

// GetInstallment returns a single installment.
func (h *Handler) GetInstallment(w http.ResponseWriter, r *http.Request) {
	inst, err := h.Ledger.GetInstallment(r.Context(), actorFrom(r), installmentParam(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// UpdatePaymentMeta edits the metadata of a paid installment.
func (h *Handler) UpdatePaymentMeta(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inst, err := h.Ledger.UpdatePaymentMeta(r.Context(), actorFrom(r), installmentParam(r), req.meta())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// SetVerification applies a standard verification transition.
func (h *Handler) SetVerification(w http.ResponseWriter, r *http.Request) {
	var req VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	to := billing.VerificationStatus(req.Status)
	if !to.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid verification status",
			fmt.Errorf("status must be unverified, pending or verified, got %q", req.Status))
		return
	}

	inst, err := h.Ledger.SetVerification(r.Context(), actorFrom(r), installmentParam(r), to, req.Note)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// ReverseVerification reopens a verified payment for re-submission.
func (h *Handler) ReverseVerification(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inst, err := h.Ledger.ReverseVerification(r.Context(), actorFrom(r), installmentParam(r), req.Note)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// CancelInstallment cancels a pending or overdue installment.
func (h *Handler) CancelInstallment(w http.ResponseWriter, r *http.Request) {
	inst, err := h.Ledger.CancelInstallment(r.Context(), actorFrom(r), installmentParam(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// GetReceipt renders the receipt of a paid installment.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.Ledger.Receipt(r.Context(), actorFrom(r), installmentParam(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", artifact.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Body)
}

// =============================================================================
// ADMIN & REPORT HANDLERS
// =============================================================================

// TriggerSweep runs the overdue sweep now. as_of defaults to today.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	asOf := billing.Date(h.Now())
	if req.AsOf != "" {
		d, err := billing.ParseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		asOf = d
	}

	moved, err := h.Ledger.SweepOverdue(r.Context(), actorFrom(r), asOf)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{AsOf: billing.FormatDate(asOf), Moved: moved})
}

// GetRevenueReport returns revenue and profit over [start, end).
func (h *Handler) GetRevenueReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.revenueReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRevenueReportDTO(report))
}

func (h *Handler) revenueReport(w http.ResponseWriter, r *http.Request) (billing.RevenueReport, bool) {
	start, err := parseInstant(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start (use YYYY-MM-DD or RFC 3339)", err)
		return billing.RevenueReport{}, false
	}
	end, err := parseInstant(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end (use YYYY-MM-DD or RFC 3339)", err)
		return billing.RevenueReport{}, false
	}

	report, err := h.Ledger.RevenueReport(r.Context(), actorFrom(r), start, end)
	if err != nil {
		h.writeLedgerError(w, err)
		return billing.RevenueReport{}, false
	}
	return report, true
}

// Health reports liveness and, when the store supports it, reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Ledger.Store().(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func leaseParam(r *http.Request) billing.LeaseID {
	return billing.LeaseID(chi.URLParam(r, "id"))
}

func installmentParam(r *http.Request) billing.InstallmentID {
	return billing.InstallmentID(chi.URLParam(r, "id"))
}

func (p PaymentRequest) meta() billing.PaymentMeta {
	return billing.PaymentMeta{
		Method:     p.PaymentMethod,
		Reference:  p.TransactionReference,
		Notes:      p.Notes,
		ReceiptURL: p.ReceiptURL,
	}
}

// decodeOptional decodes a JSON body if there is one.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseInstant accepts a calendar date (midnight UTC) or an RFC 3339 timestamp.
func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing value")
	}
	if d, err := billing.ParseDate(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "invalid_request"}
	if status >= 500 {
		resp.Code = "unavailable"
	}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps a ledger error to its status and structured body.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: http.StatusText(status), Code: code, Details: err.Error()}

	var (
		notPayable *billing.NotPayableError
		settled    *billing.AlreadySettledError
		transition *billing.InvalidTransitionError
	)
	switch {
	case errors.As(err, &notPayable):
		resp.InstallmentID = string(notPayable.InstallmentID)
		resp.InstallmentNumber = notPayable.Number
		resp.Status = string(notPayable.Status)
		resp.PayableInstallmentNumber = notPayable.PayableNumber
	case errors.As(err, &settled):
		resp.InstallmentID = string(settled.InstallmentID)
		resp.InstallmentNumber = settled.Number
		resp.Status = string(settled.Status)
	case errors.As(err, &transition):
		resp.InstallmentID = string(transition.InstallmentID)
		resp.InstallmentNumber = transition.Number
		resp.Status = string(transition.Status)
	}

	if status >= 500 {
		h.Logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// statusFor returns the HTTP status and machine-readable code for err.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, billing.ErrInvalidTerm):
		return http.StatusBadRequest, "invalid_term"
	case errors.Is(err, billing.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, billing.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, billing.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, billing.ErrNotPayable):
		return http.StatusConflict, "not_payable"
	case errors.Is(err, billing.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, billing.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, billing.ErrInvalidLeaseState):
		return http.StatusConflict, "invalid_lease_state"
	case errors.Is(err, billing.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
