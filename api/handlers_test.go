/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Lease creation and schedule generation
- Payment gate rejections and their error bodies
- Verification, reversal and the revenue report
- Error status mapping
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rent-ledger/billing"
	"github.com/warp/rent-ledger/billing/store"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testTenant = "tenant-1"
	testAdmin  = "admin-1"
)

type testServer struct {
	t       *testing.T
	router  *chi.Mux
	handler *Handler
	ledger  *billing.Ledger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := func() time.Time { return testNow }
	ledger := billing.NewLedger(store.NewMemory(),
		billing.WithClock(clock),
		billing.WithLogger(logger),
		billing.WithPaymentLinker(billing.URLPaymentLinker{BaseURL: "https://pay.test"}),
	)
	h := NewHandler(ledger, logger)
	h.Now = clock
	return &testServer{t: t, router: NewRouter(h, []string{"*"}), handler: h, ledger: ledger}
}

// do sends a request as the given role/id and returns the recorder.
func (s *testServer) do(method, path, role, actorID string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(headerActorRole, role)
		req.Header.Set(headerActorID, actorID)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, "admin", testAdmin, body)
}

func (s *testServer) tenant(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, "tenant", testTenant, body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// signLease creates a 12-month lease at 1000/month starting 2025-01-15 with
// its schedule: #1 covers 6 months (6000.00), #2..#7 are monthly.
func (s *testServer) signLease() CreateLeaseResponse {
	s.t.Helper()
	rec := s.admin(http.MethodPost, "/api/leases", CreateLeaseRequest{
		TenantID:         testTenant,
		PropertyID:       "apt-1",
		StartDate:        "2025-01-15",
		TermMonths:       12,
		MonthlyRent:      "1000",
		GenerateSchedule: true,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CreateLeaseResponse](s.t, rec)
}

func payPath(leaseID, instID string) string {
	return fmt.Sprintf("/api/leases/%s/installments/%s/pay", leaseID, instID)
}

// =============================================================================
// LEASES
// =============================================================================

func TestCreateLease_WithSchedule(t *testing.T) {
	s := newTestServer(t)

	resp := s.signLease()

	assert.Equal(t, "active", resp.Lease.Status)
	assert.Equal(t, "1000.00", resp.Lease.MonthlyRent)
	assert.Equal(t, 6, resp.Lease.FirstPaymentMonths)
	require.Len(t, resp.Installments, 7)
	assert.Equal(t, "6000.00", resp.Installments[0].Amount)
	assert.Equal(t, "first_payment", resp.Installments[0].PaymentType)
	assert.Equal(t, "2025-01-15", resp.Installments[0].DueDate)
	assert.Equal(t, "1000.00", resp.Installments[1].Amount)
	assert.Equal(t, "2025-02-15", resp.Installments[1].DueDate)
}

func TestCreateLease_Rejections(t *testing.T) {
	valid := CreateLeaseRequest{TenantID: testTenant, PropertyID: "apt-1", StartDate: "2025-01-15", TermMonths: 12, MonthlyRent: "1000"}

	tests := []struct {
		name   string
		role   string
		mutate func(*CreateLeaseRequest)
		status int
		code   string
	}{
		{"unsupported term", "admin", func(r *CreateLeaseRequest) { r.TermMonths = 6 }, http.StatusBadRequest, "invalid_term"},
		{"bad date", "admin", func(r *CreateLeaseRequest) { r.StartDate = "15/01/2025" }, http.StatusBadRequest, "invalid_request"},
		{"bad rent", "admin", func(r *CreateLeaseRequest) { r.MonthlyRent = "a lot" }, http.StatusBadRequest, "invalid_request"},
		{"zero rent", "admin", func(r *CreateLeaseRequest) { r.MonthlyRent = "0" }, http.StatusBadRequest, "invalid_input"},
		{"tenant cannot create", "tenant", func(*CreateLeaseRequest) {}, http.StatusForbidden, "forbidden"},
		{"anonymous cannot create", "", func(*CreateLeaseRequest) {}, http.StatusForbidden, "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			req := valid
			tt.mutate(&req)

			rec := s.do(http.MethodPost, "/api/leases", tt.role, "someone", req)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCreateLease_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/leases", strings.NewReader("{"))
	req.Header.Set(headerActorRole, "admin")
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateSchedule_Endpoint(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a lease registered without a schedule
	rec := s.admin(http.MethodPost, "/api/leases", CreateLeaseRequest{
		TenantID: testTenant, PropertyID: "apt-1", StartDate: "2025-01-15", TermMonths: 24, MonthlyRent: "500",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[CreateLeaseResponse](t, rec)
	assert.Empty(t, created.Installments)
	path := "/api/leases/" + created.Lease.ID + "/schedule"

	// WHEN: the schedule is generated with the lease's own term
	rec = s.admin(http.MethodPost, path, nil)

	// THEN: 13 installments, and a second generation conflicts
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]InstallmentDTO](t, rec), 13)

	rec = s.admin(http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_lease_state", decode[ErrorResponse](t, rec).Code)

	// A mismatched term is rejected before anything else
	rec = s.admin(http.MethodPost, path, GenerateScheduleRequest{TermMonths: 12})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaseReadsAreScopedToTenant(t *testing.T) {
	s := newTestServer(t)
	lease := s.signLease().Lease

	rec := s.tenant(http.MethodGet, "/api/leases", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]LeaseDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/leases", "tenant", "tenant-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]LeaseDTO](t, rec))

	rec = s.do(http.MethodGet, "/api/leases/"+lease.ID, "tenant", "tenant-2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.tenant(http.MethodGet, "/api/leases/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndLease(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()
	path := "/api/leases/" + resp.Lease.ID + "/end"

	rec := s.admin(http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lease := decode[LeaseDTO](t, rec)
	assert.Equal(t, "ended", lease.Status)
	assert.NotNil(t, lease.EndedAt)

	rec = s.admin(http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// installments of an ended lease stay payable
	rec = s.tenant(http.MethodPost, payPath(resp.Lease.ID, resp.Installments[0].ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// =============================================================================
// PAYMENT GATE
// =============================================================================

func TestSchedule_PayableAndLocked(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()

	rec := s.tenant(http.MethodGet, "/api/leases/"+resp.Lease.ID+"/installments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]ScheduleEntryDTO](t, rec)
	require.Len(t, entries, 7)

	assert.True(t, entries[0].Payable)
	assert.Equal(t, "https://pay.test/"+resp.Lease.ID+"/"+entries[0].ID, entries[0].PaymentLink)
	for _, e := range entries[1:] {
		assert.False(t, e.Payable)
		assert.Equal(t, 1, e.LockedUntil)
		assert.Empty(t, e.PaymentLink)
	}
}

func TestPayInstallment_OutOfOrder(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()

	// WHEN: the tenant tries to pay #2 before #1
	rec := s.tenant(http.MethodPost, payPath(resp.Lease.ID, resp.Installments[1].ID), nil)

	// THEN: 409 with enough detail to render "locked until #1 is paid"
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "not_payable", body.Code)
	assert.Equal(t, resp.Installments[1].ID, body.InstallmentID)
	assert.Equal(t, 2, body.InstallmentNumber)
	assert.Equal(t, "pending", body.Status)
	assert.Equal(t, 1, body.PayableInstallmentNumber)
}

func TestPayInstallment_InOrder(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()
	first := resp.Installments[0]

	rec := s.tenant(http.MethodPost, payPath(resp.Lease.ID, first.ID), PaymentRequest{
		PaymentMethod:        "bank_transfer",
		TransactionReference: "TRX-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[InstallmentDTO](t, rec)
	assert.Equal(t, "paid", paid.Status)
	assert.Equal(t, "unverified", paid.VerificationStatus)
	assert.Equal(t, "bank_transfer", paid.PaymentMethod)
	assert.NotEmpty(t, paid.PaymentDate)

	// paying it again is rejected
	rec = s.tenant(http.MethodPost, payPath(resp.Lease.ID, first.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// #2 is now the payable one
	rec = s.tenant(http.MethodPost, payPath(resp.Lease.ID, resp.Installments[1].ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.tenant(http.MethodGet, "/api/leases/"+resp.Lease.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[SummaryDTO](t, rec)
	assert.Equal(t, "7000.00", summary.TotalPaid)
	assert.Equal(t, "5000.00", summary.TotalPending)
	assert.Equal(t, 0, summary.MonthsVerified)
	assert.Equal(t, "2025-03-15", summary.NextDueDate)
}

func TestPayInstallment_OtherTenantForbidden(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()

	rec := s.do(http.MethodPost, payPath(resp.Lease.ID, resp.Installments[0].ID), "tenant", "tenant-2", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCancelInstallment_MovesGate(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()

	rec := s.tenant(http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/cancel", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.admin(http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[InstallmentDTO](t, rec).Status)

	rec = s.tenant(http.MethodGet, "/api/leases/"+resp.Lease.ID+"/installments", nil)
	entries := decode[[]ScheduleEntryDTO](t, rec)
	assert.False(t, entries[0].Payable)
	assert.True(t, entries[1].Payable)

	rec = s.admin(http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_settled", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// VERIFICATION & REVENUE
// =============================================================================

func TestVerificationFlow_DrivesRevenue(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()
	first := resp.Installments[0]
	verifyPath := "/api/installments/" + first.ID + "/verification"
	reportPath := "/api/reports/revenue?start=2025-03-01&end=2025-04-01"

	// GIVEN: #1 paid
	require.Equal(t, http.StatusOK, s.tenant(http.MethodPost, payPath(resp.Lease.ID, first.ID), nil).Code)

	// tenants cannot verify
	rec := s.tenant(http.MethodPost, verifyPath, VerificationRequest{Status: "verified"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// unverified -> verified skips review
	rec = s.admin(http.MethodPost, verifyPath, VerificationRequest{Status: "verified"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Code)

	// WHEN: reviewed and verified
	rec = s.admin(http.MethodPost, verifyPath, VerificationRequest{Status: "pending", Note: "proof uploaded"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.admin(http.MethodPost, verifyPath, VerificationRequest{Status: "verified", Note: "matched"})
	require.Equal(t, http.StatusOK, rec.Code)
	verified := decode[InstallmentDTO](t, rec)
	assert.Equal(t, "verified", verified.VerificationStatus)
	assert.Equal(t, testAdmin, verified.VerifiedBy)

	// THEN: the report counts it
	rec = s.admin(http.MethodGet, reportPath, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[RevenueReportDTO](t, rec)
	assert.Equal(t, "6000.00", report.Revenue)
	assert.Equal(t, "600.00", report.Profit)
	assert.Equal(t, 1, report.Installments)
	require.Len(t, report.ByType, 1)
	assert.Equal(t, "first_payment", report.ByType[0].Type)

	rec = s.tenant(http.MethodGet, "/api/leases/"+resp.Lease.ID+"/summary", nil)
	assert.Equal(t, 6, decode[SummaryDTO](t, rec).MonthsVerified)

	// WHEN: an administrator reverses the verification
	rec = s.admin(http.MethodPost, "/api/installments/"+first.ID+"/reverse", ReverseRequest{Note: "bounced"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reversed := decode[InstallmentDTO](t, rec)
	assert.Equal(t, "unverified", reversed.VerificationStatus)
	assert.Equal(t, "paid", reversed.Status)

	// THEN: the next report no longer counts it
	rec = s.admin(http.MethodGet, reportPath, nil)
	assert.Equal(t, "0.00", decode[RevenueReportDTO](t, rec).Revenue)
}

func TestRevenueReport_SubCentRentAddsUpOnTheWire(t *testing.T) {
	s := newTestServer(t)
	rec := s.admin(http.MethodPost, "/api/leases", CreateLeaseRequest{
		TenantID: testTenant, PropertyID: "apt-1", StartDate: "2025-01-15",
		TermMonths: 12, MonthlyRent: "1.004", GenerateSchedule: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[CreateLeaseResponse](t, rec)
	assert.Equal(t, "6.024", resp.Installments[0].Amount)
	assert.Equal(t, "1.004", resp.Installments[1].Amount)

	// GIVEN: #1 and #2 paid and verified
	for _, inst := range resp.Installments[:2] {
		require.Equal(t, http.StatusOK, s.tenant(http.MethodPost, payPath(resp.Lease.ID, inst.ID), nil).Code)
		for _, status := range []string{"pending", "verified"} {
			rec := s.admin(http.MethodPost, "/api/installments/"+inst.ID+"/verification", VerificationRequest{Status: status})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}
	}

	// WHEN: the report is read back as JSON
	rec = s.admin(http.MethodGet, "/api/reports/revenue?start=2025-03-01&end=2025-04-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[RevenueReportDTO](t, rec)

	// THEN: the breakdowns add up to the exact total
	assert.Equal(t, "7.028", report.Revenue)
	byType, byMonth := decimal.Zero, decimal.Zero
	for _, tr := range report.ByType {
		byType = byType.Add(decimal.RequireFromString(tr.Amount))
	}
	for _, mr := range report.ByMonth {
		byMonth = byMonth.Add(decimal.RequireFromString(mr.Revenue))
	}
	revenue := decimal.RequireFromString(report.Revenue)
	assert.True(t, byType.Equal(revenue), "by_type sums to %s, revenue is %s", byType, revenue)
	assert.True(t, byMonth.Equal(revenue), "by_month sums to %s, revenue is %s", byMonth, revenue)
}

func TestSetVerification_UnknownStatus(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()

	rec := s.admin(http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/verification",
		VerificationRequest{Status: "approved"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetVerification_RequiresPayment(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()

	rec := s.admin(http.MethodPost, "/api/installments/"+resp.Installments[0].ID+"/verification",
		VerificationRequest{Status: "pending"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "invalid_transition", body.Code)
	assert.Equal(t, 1, body.InstallmentNumber)
}

func TestPaymentMetadata(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()
	first := resp.Installments[0]
	path := "/api/installments/" + first.ID + "/metadata"
	meta := PaymentRequest{PaymentMethod: "card", TransactionReference: "CH-9", ReceiptURL: "https://r.test/9"}

	rec := s.tenant(http.MethodPut, path, meta)
	assert.Equal(t, http.StatusConflict, rec.Code, "metadata is for paid installments")

	require.Equal(t, http.StatusOK, s.tenant(http.MethodPost, payPath(resp.Lease.ID, first.ID), nil).Code)

	rec = s.tenant(http.MethodPut, path, meta)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[InstallmentDTO](t, rec)
	assert.Equal(t, "card", updated.PaymentMethod)
	assert.Equal(t, "CH-9", updated.TransactionReference)
	assert.Equal(t, "https://r.test/9", updated.ReceiptURL)
}

func TestReceipt(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()
	first := resp.Installments[0]
	path := "/api/installments/" + first.ID + "/receipt"

	rec := s.tenant(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, s.tenant(http.MethodPost, payPath(resp.Lease.ID, first.ID), nil).Code)

	rec = s.tenant(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "receipt-")
	assert.Contains(t, rec.Body.String(), "6000.00")
}

func TestRevenueReport_InvalidRange(t *testing.T) {
	s := newTestServer(t)

	rec := s.admin(http.MethodGet, "/api/reports/revenue?start=2025-04-01&end=2025-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decode[ErrorResponse](t, rec).Code)

	rec = s.admin(http.MethodGet, "/api/reports/revenue?end=2025-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.tenant(http.MethodGet, "/api/reports/revenue?start=2025-03-01&end=2025-04-01", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRevenueExport_Workbook(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()
	first := resp.Installments[0]
	require.Equal(t, http.StatusOK, s.tenant(http.MethodPost, payPath(resp.Lease.ID, first.ID), nil).Code)
	for _, status := range []string{"pending", "verified"} {
		rec := s.admin(http.MethodPost, "/api/installments/"+first.ID+"/verification", VerificationRequest{Status: status})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.admin(http.MethodGet, "/api/reports/revenue.xlsx?start=2025-01-01&end=2026-01-01", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "revenue_2025-01-01_2026-01-01.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Summary", "By Type", "By Month"}, f.GetSheetList())

	rows, err := f.GetRows("By Type")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Type", "Count", "Revenue", "Profit"}, rows[0])
	assert.Equal(t, "first_payment", rows[1][0])
	assert.Equal(t, "1", rows[1][1])
	assert.Equal(t, []string{"6000.00", "600.00"}, rows[1][2:4], "amounts are exact decimal strings")

	rows, err = f.GetRows("By Month")
	require.NoError(t, err)
	require.Len(t, rows, 2, "only months with verified revenue")
	assert.Equal(t, "2025-03", rows[1][0])
}

// =============================================================================
// SWEEP & HEALTH
// =============================================================================

func TestTriggerSweep(t *testing.T) {
	s := newTestServer(t)
	resp := s.signLease()

	// WHEN: swept for 2025-03-01, #1 (Jan 15) and #2 (Feb 15) are past due
	rec := s.admin(http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, SweepResponse{AsOf: "2025-03-01", Moved: 2}, decode[SweepResponse](t, rec))

	// THEN: a second run moves nothing
	rec = s.admin(http.MethodPost, "/api/admin/sweep", SweepRequest{AsOf: "2025-03-01"})
	assert.Equal(t, 0, decode[SweepResponse](t, rec).Moved)

	// overdue installments stay payable in order
	rec = s.tenant(http.MethodPost, payPath(resp.Lease.ID, resp.Installments[0].ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.tenant(http.MethodPost, "/api/admin/sweep", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.admin(http.MethodPost, "/api/admin/sweep", SweepRequest{AsOf: "March"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&billing.InvalidTermError{TermMonths: 6}, http.StatusBadRequest, "invalid_term"},
		{&billing.InvalidRangeError{}, http.StatusBadRequest, "invalid_range"},
		{&billing.ForbiddenError{}, http.StatusForbidden, "forbidden"},
		{&billing.NotFoundError{Kind: "lease", ID: "x"}, http.StatusNotFound, "not_found"},
		{&billing.NotPayableError{}, http.StatusConflict, "not_payable"},
		{&billing.AlreadySettledError{}, http.StatusConflict, "already_settled"},
		{&billing.InvalidTransitionError{}, http.StatusConflict, "invalid_transition"},
		{&billing.InvalidLeaseStateError{}, http.StatusConflict, "invalid_lease_state"},
		{billing.Unavailable("get lease", fmt.Errorf("connection refused")), http.StatusServiceUnavailable, "unavailable"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := statusFor(fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
