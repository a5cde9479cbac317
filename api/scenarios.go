/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	leases for demos. Each scenario signs one or more leases, generates
	their schedules and walks some installments through payment,
	verification, cancellation or the overdue sweep.

AVAILABLE SCENARIOS:

	fresh-lease:    12-month lease signed today, nothing paid
	mid-lease:      12-month lease five months in, mixed verification states
	arrears:        24-month lease with unpaid months swept to overdue
	cancellation:   Waived installment, gate moved to the next one
	ended-lease:    Lease ended with a trailing unpaid installment

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create leases as an administrator
 3. Generate schedules
 4. Pay as the tenant, in gate order
 5. Verify, reverse or cancel as an administrator
 6. Optionally run the overdue sweep

Everything goes through billing.Ledger, so a scenario can never produce a
state the API itself could not.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mid-lease"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Ledger-backed handlers
  - billing/ledger.go: Operations the loaders call
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/rent-ledger/billing"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-lease",
		Name:        "Fresh Lease",
		Description: "12-month lease signed today; the first payment is the only payable installment",
	},
	{
		ID:          "mid-lease",
		Name:        "Mid-Lease",
		Description: "12-month lease five months in: first payment verified, one payment pending review, one reversed",
	},
	{
		ID:          "arrears",
		Name:        "Arrears",
		Description: "24-month lease with the first payment verified and later months swept to overdue",
	},
	{
		ID:          "cancellation",
		Name:        "Cancellation",
		Description: "An administrator waives installment #2; installment #3 becomes payable",
	},
	{
		ID:          "ended-lease",
		Name:        "Ended Lease",
		Description: "Lease ended early with a trailing installment still payable",
	},
}

const (
	scenarioAdmin  = "admin-demo"
	scenarioTenant = billing.TenantID("tenant-demo")
)

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if actor := actorFrom(r); actor.Role != billing.RoleAdmin {
		h.writeLedgerError(w, &billing.ForbiddenError{Actor: actor, Action: "load demo scenarios"})
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.resetStore(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h.Ledger, billing.Date(h.Now())); err != nil {
		h.Logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

func (h *Handler) resetStore(ctx context.Context) error {
	resetter, ok := h.Ledger.Store().(interface{ Reset(context.Context) error })
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.Ledger.Store())
	}
	return resetter.Reset(ctx)
}

// =============================================================================
// LOADERS
// =============================================================================

type scenarioLoader func(ctx context.Context, l *billing.Ledger, today time.Time) error

var scenarioLoaders = map[string]scenarioLoader{
	"fresh-lease":  loadFreshLease,
	"mid-lease":    loadMidLease,
	"arrears":      loadArrears,
	"cancellation": loadCancellation,
	"ended-lease":  loadEndedLease,
}

// demo bundles the ledger and actors a loader drives.
type demo struct {
	ctx    context.Context
	ledger *billing.Ledger
	admin  billing.Actor
	tenant billing.Actor
}

func newDemo(ctx context.Context, l *billing.Ledger) demo {
	return demo{
		ctx:    ctx,
		ledger: l,
		admin:  billing.AdminActor(scenarioAdmin),
		tenant: billing.TenantActor(scenarioTenant),
	}
}

// sign creates a lease with its schedule.
func (d demo) sign(property string, start time.Time, term int, rent string) (billing.Lease, []billing.Installment, error) {
	lease, err := d.ledger.CreateLease(d.ctx, d.admin, billing.NewLease{
		TenantID:    scenarioTenant,
		PropertyID:  billing.PropertyID(property),
		StartDate:   start,
		TermMonths:  term,
		MonthlyRent: billing.MustParseMoney(rent),
	})
	if err != nil {
		return billing.Lease{}, nil, err
	}
	installments, err := d.ledger.GenerateSchedule(d.ctx, d.admin, lease.ID, term)
	if err != nil {
		return billing.Lease{}, nil, err
	}
	return lease, installments, nil
}

func (d demo) pay(lease billing.Lease, inst billing.Installment, ref string) error {
	_, err := d.ledger.PayInstallment(d.ctx, d.tenant, lease.ID, inst.ID, billing.PaymentMeta{
		Method:    "bank_transfer",
		Reference: ref,
	})
	return err
}

// verify walks a paid installment unverified -> pending -> verified.
func (d demo) verify(inst billing.Installment) error {
	if _, err := d.ledger.SetVerification(d.ctx, d.admin, inst.ID, billing.VerificationPending, "proof received"); err != nil {
		return err
	}
	_, err := d.ledger.SetVerification(d.ctx, d.admin, inst.ID, billing.VerificationVerified, "matched bank statement")
	return err
}

func (d demo) payAndVerify(lease billing.Lease, inst billing.Installment, ref string) error {
	if err := d.pay(lease, inst, ref); err != nil {
		return err
	}
	return d.verify(inst)
}

func loadFreshLease(ctx context.Context, l *billing.Ledger, today time.Time) error {
	_, _, err := newDemo(ctx, l).sign("apt-101", today, 12, "1200.00")
	return err
}

func loadMidLease(ctx context.Context, l *billing.Ledger, today time.Time) error {
	d := newDemo(ctx, l)
	lease, insts, err := d.sign("apt-202", billing.AddMonths(today, -5), 12, "950.00")
	if err != nil {
		return err
	}

	if err := d.payAndVerify(lease, insts[0], "TRX-1001"); err != nil {
		return err
	}
	// #2 verified, then reversed by an administrator for a bounced transfer
	if err := d.payAndVerify(lease, insts[1], "TRX-1002"); err != nil {
		return err
	}
	if _, err := l.ReverseVerification(ctx, d.admin, insts[1].ID, "transfer bounced"); err != nil {
		return err
	}
	// #3 paid, awaiting review
	if err := d.pay(lease, insts[2], "TRX-1003"); err != nil {
		return err
	}
	if _, err := l.SetVerification(ctx, d.admin, insts[2].ID, billing.VerificationPending, "receipt uploaded"); err != nil {
		return err
	}

	_, err = l.SweepOverdue(ctx, billing.SystemActor, today)
	return err
}

func loadArrears(ctx context.Context, l *billing.Ledger, today time.Time) error {
	d := newDemo(ctx, l)
	lease, insts, err := d.sign("house-7", billing.AddMonths(today, -8), 24, "2100.00")
	if err != nil {
		return err
	}
	if err := d.payAndVerify(lease, insts[0], "TRX-2001"); err != nil {
		return err
	}
	_, err = l.SweepOverdue(ctx, billing.SystemActor, today)
	return err
}

func loadCancellation(ctx context.Context, l *billing.Ledger, today time.Time) error {
	d := newDemo(ctx, l)
	lease, insts, err := d.sign("loft-3", billing.AddMonths(today, -2), 12, "1500.00")
	if err != nil {
		return err
	}
	if err := d.payAndVerify(lease, insts[0], "TRX-3001"); err != nil {
		return err
	}
	_, err = l.CancelInstallment(ctx, d.admin, insts[1].ID)
	return err
}

func loadEndedLease(ctx context.Context, l *billing.Ledger, today time.Time) error {
	d := newDemo(ctx, l)
	lease, insts, err := d.sign("studio-9", billing.AddMonths(today, -11), 12, "800.00")
	if err != nil {
		return err
	}
	for i, inst := range insts {
		// leave the last installment open for trailing reconciliation
		if i == len(insts)-1 {
			break
		}
		if err := d.payAndVerify(lease, inst, fmt.Sprintf("TRX-4%03d", inst.Number)); err != nil {
			return err
		}
	}
	if _, err := l.EndLease(ctx, d.admin, lease.ID); err != nil {
		return err
	}
	_, err = l.SweepOverdue(ctx, billing.SystemActor, today)
	return err
}
