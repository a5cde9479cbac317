/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Default persistence for the installment ledger. Uses database/sql with
  mattn/go-sqlite3. The same schema and conditional-update pattern apply
  to PostgreSQL (see store/gormstore).

KEY TABLES:
  leases:        lease registry (term, start date, monthly rent, status)
  installments:  one row per scheduled payment; never deleted

CONDITIONAL UPDATES:
  UpdateInstallment issues
    UPDATE installments SET ... WHERE id = ? AND status IN (...)
  and checks RowsAffected. Zero rows on an existing id means the guard
  failed (ErrStaleRecord). SQLite serializes writers, so the check and the
  write are one atomic step.

INDEXES:
  - idx_installments_lease_number: UNIQUE (lease_id, installment_number)
  - idx_installments_lease_due:    UNIQUE (lease_id, due_date)
  - idx_installments_first:        at most one first payment per lease
  - idx_installments_status_due:   overdue sweep (hot path)
  - idx_installments_verified:     revenue reporting

ENCODING:
  Money is stored as TEXT so no precision is lost. Due dates are TEXT
  YYYY-MM-DD; timestamps are fixed-width UTC, so text order is time order.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  ledger := billing.NewLedger(store)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/storetest: Conformance suite
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/rent-ledger/billing"
)

// fixed-width so text comparison matches time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" to a
	// single database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return billing.Unavailable("ping", s.db.PingContext(ctx))
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		monthly_rent TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_leases_tenant
		ON leases(tenant_id);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL REFERENCES leases(id),
		installment_number INTEGER NOT NULL,
		is_first_payment BOOLEAN NOT NULL DEFAULT FALSE,
		covered_months INTEGER NOT NULL,
		payment_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		payment_date TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		verification_status TEXT NOT NULL DEFAULT 'unverified',
		payment_method TEXT NOT NULL DEFAULT '',
		transaction_reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		receipt_url TEXT NOT NULL DEFAULT '',
		verification_note TEXT NOT NULL DEFAULT '',
		verified_by TEXT NOT NULL DEFAULT '',
		verified_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (verification_status <> 'verified' OR status = 'paid'),
		CHECK ((payment_date IS NOT NULL) = (status = 'paid'))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_installments_lease_number
		ON installments(lease_id, installment_number);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_installments_lease_due
		ON installments(lease_id, due_date);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_installments_first
		ON installments(lease_id) WHERE is_first_payment;

	-- overdue sweep
	CREATE INDEX IF NOT EXISTS idx_installments_status_due
		ON installments(status, due_date);

	-- revenue reporting
	CREATE INDEX IF NOT EXISTS idx_installments_verified
		ON installments(verification_status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEASES
// =============================================================================

func (s *Store) CreateLease(ctx context.Context, lease billing.Lease) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (id, tenant_id, property_id, start_date, term_months, monthly_rent, status, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(lease.ID),
		string(lease.TenantID),
		string(lease.PropertyID),
		billing.FormatDate(lease.StartDate),
		lease.TermMonths,
		lease.MonthlyRent.String(),
		string(lease.Status),
		formatTime(lease.CreatedAt),
		formatTimePtr(lease.EndedAt),
	)
	return billing.Unavailable("create lease", err)
}

func (s *Store) GetLease(ctx context.Context, id billing.LeaseID) (billing.Lease, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, property_id, start_date, term_months, monthly_rent, status, created_at, ended_at
		FROM leases WHERE id = ?
	`, string(id))
	lease, err := scanLease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Lease{}, &billing.NotFoundError{Kind: "lease", ID: string(id)}
	}
	if err != nil {
		return billing.Lease{}, billing.Unavailable("get lease", err)
	}
	return lease, nil
}

func (s *Store) ListLeases(ctx context.Context) ([]billing.Lease, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, property_id, start_date, term_months, monthly_rent, status, created_at, ended_at
		FROM leases ORDER BY created_at, id
	`)
	if err != nil {
		return nil, billing.Unavailable("list leases", err)
	}
	defer rows.Close()

	var leases []billing.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, billing.Unavailable("list leases", err)
		}
		leases = append(leases, lease)
	}
	return leases, billing.Unavailable("list leases", rows.Err())
}

func (s *Store) EndLease(ctx context.Context, id billing.LeaseID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leases SET status = ?, ended_at = ? WHERE id = ? AND status = ?
	`, string(billing.LeaseEnded), formatTime(at), string(id), string(billing.LeaseActive))
	if err != nil {
		return billing.Unavailable("end lease", err)
	}
	n, err := rowsAffected(res, "end lease")
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetLease(ctx, id); err != nil {
			return err
		}
		return billing.ErrStaleRecord
	}
	return nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

const installmentColumns = `id, lease_id, installment_number, is_first_payment, covered_months, payment_type,
	amount, due_date, payment_date, status, verification_status, payment_method, transaction_reference,
	notes, receipt_url, verification_note, verified_by, verified_at, created_at, updated_at`

// InsertSchedule writes the whole schedule in one transaction.
func (s *Store) InsertSchedule(ctx context.Context, leaseID billing.LeaseID, installments []billing.Installment) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Unavailable("begin transaction", err)
	}
	defer sqlTx.Rollback()

	var exists int
	if err := sqlTx.QueryRowContext(ctx, `SELECT COUNT(1) FROM leases WHERE id = ?`, string(leaseID)).Scan(&exists); err != nil {
		return billing.Unavailable("insert schedule", err)
	}
	if exists == 0 {
		return &billing.NotFoundError{Kind: "lease", ID: string(leaseID)}
	}

	var count int
	if err := sqlTx.QueryRowContext(ctx, `SELECT COUNT(1) FROM installments WHERE lease_id = ?`, string(leaseID)).Scan(&count); err != nil {
		return billing.Unavailable("insert schedule", err)
	}
	if count > 0 {
		return billing.ErrScheduleExists
	}

	stmt, err := sqlTx.PrepareContext(ctx, `INSERT INTO installments (`+installmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return billing.Unavailable("insert schedule", err)
	}
	defer stmt.Close()

	for _, inst := range installments {
		if _, err := stmt.ExecContext(ctx,
			string(inst.ID),
			string(leaseID),
			inst.Number,
			inst.IsFirstPayment,
			inst.CoveredMonths,
			string(inst.Type),
			inst.Amount.String(),
			billing.FormatDate(inst.DueDate),
			formatTimePtr(inst.PaymentDate),
			string(inst.Status),
			string(inst.VerificationStatus),
			inst.PaymentMethod,
			inst.TransactionReference,
			inst.Notes,
			inst.ReceiptURL,
			inst.VerificationNote,
			inst.VerifiedBy,
			formatTimePtr(inst.VerifiedAt),
			formatTime(inst.CreatedAt),
			formatTime(inst.UpdatedAt),
		); err != nil {
			if isConstraint(err) {
				return billing.ErrScheduleExists
			}
			return billing.Unavailable("insert schedule", err)
		}
	}

	return billing.Unavailable("commit schedule", sqlTx.Commit())
}

func (s *Store) GetInstallment(ctx context.Context, id billing.InstallmentID) (billing.Installment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, string(id))
	inst, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Installment{}, &billing.NotFoundError{Kind: "installment", ID: string(id)}
	}
	if err != nil {
		return billing.Installment{}, billing.Unavailable("get installment", err)
	}
	return inst, nil
}

func (s *Store) ListInstallments(ctx context.Context, leaseID billing.LeaseID) ([]billing.Installment, error) {
	return s.queryInstallments(ctx, "list installments", `
		SELECT `+installmentColumns+` FROM installments
		WHERE lease_id = ?
		ORDER BY due_date, installment_number
	`, string(leaseID))
}

// UpdateInstallment writes the mutable columns if the row still matches guard.
func (s *Store) UpdateInstallment(ctx context.Context, inst billing.Installment, guard billing.Guard) error {
	query := `
		UPDATE installments SET
			payment_date = ?, status = ?, verification_status = ?,
			payment_method = ?, transaction_reference = ?, notes = ?, receipt_url = ?,
			verification_note = ?, verified_by = ?, verified_at = ?, updated_at = ?
		WHERE id = ?`
	args := []any{
		formatTimePtr(inst.PaymentDate),
		string(inst.Status),
		string(inst.VerificationStatus),
		inst.PaymentMethod,
		inst.TransactionReference,
		inst.Notes,
		inst.ReceiptURL,
		inst.VerificationNote,
		inst.VerifiedBy,
		formatTimePtr(inst.VerifiedAt),
		formatTime(inst.UpdatedAt),
		string(inst.ID),
	}
	if statuses := guard.StatusStrings(); len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		args = appendStrings(args, statuses)
	}
	if verifications := guard.VerificationStrings(); len(verifications) > 0 {
		query += " AND verification_status IN (" + placeholders(len(verifications)) + ")"
		args = appendStrings(args, verifications)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return billing.Unavailable("update installment", err)
	}
	n, err := rowsAffected(res, "update installment")
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetInstallment(ctx, inst.ID); err != nil {
			return err
		}
		return billing.ErrStaleRecord
	}
	return nil
}

// MarkOverdue flips pending installments due before asOf, each guarded on
// status = 'pending' so a payment that landed first is never overwritten.
func (s *Store) MarkOverdue(ctx context.Context, asOf time.Time, now time.Time) ([]billing.Installment, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, billing.Unavailable("begin transaction", err)
	}
	defer sqlTx.Rollback()

	cutoff := billing.FormatDate(asOf)
	rows, err := sqlTx.QueryContext(ctx, `
		SELECT `+installmentColumns+` FROM installments
		WHERE status = ? AND due_date < ?
		ORDER BY due_date, lease_id, installment_number
	`, string(billing.StatusPending), cutoff)
	if err != nil {
		return nil, billing.Unavailable("mark overdue", err)
	}
	var candidates []billing.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			rows.Close()
			return nil, billing.Unavailable("mark overdue", err)
		}
		candidates = append(candidates, inst)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, billing.Unavailable("mark overdue", err)
	}

	moved := make([]billing.Installment, 0, len(candidates))
	for _, inst := range candidates {
		res, err := sqlTx.ExecContext(ctx, `
			UPDATE installments SET status = ?, updated_at = ? WHERE id = ? AND status = ?
		`, string(billing.StatusOverdue), formatTime(now), string(inst.ID), string(billing.StatusPending))
		if err != nil {
			return nil, billing.Unavailable("mark overdue", err)
		}
		n, err := rowsAffected(res, "mark overdue")
		if err != nil {
			return nil, err
		}
		if n == 1 {
			inst.Status = billing.StatusOverdue
			inst.UpdatedAt = now
			moved = append(moved, inst)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, billing.Unavailable("commit overdue sweep", err)
	}
	return moved, nil
}

// rowsAffected reads the affected row count of a guarded write.
func rowsAffected(res sql.Result, op string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, billing.Unavailable(op, err)
	}
	return n, nil
}

func (s *Store) ListVerified(ctx context.Context, r billing.DateRange) ([]billing.Installment, error) {
	return s.queryInstallments(ctx, "list verified", `
		SELECT `+installmentColumns+` FROM installments
		WHERE verification_status = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at, id
	`, string(billing.VerificationVerified), formatTime(r.Start), formatTime(r.End))
}

// Reset removes all data. Used by the demo scenario loader only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM installments; DELETE FROM leases;`)
	return billing.Unavailable("reset", err)
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanLease(row scanner) (billing.Lease, error) {
	var (
		lease     billing.Lease
		id        string
		tenant    string
		property  string
		startDate string
		rent      string
		status    string
		createdAt string
		endedAt   sql.NullString
	)
	if err := row.Scan(&id, &tenant, &property, &startDate, &lease.TermMonths, &rent, &status, &createdAt, &endedAt); err != nil {
		return billing.Lease{}, err
	}
	lease.ID = billing.LeaseID(id)
	lease.TenantID = billing.TenantID(tenant)
	lease.PropertyID = billing.PropertyID(property)
	lease.Status = billing.LeaseStatus(status)

	var err error
	if lease.StartDate, err = billing.ParseDate(startDate); err != nil {
		return billing.Lease{}, err
	}
	if lease.MonthlyRent, err = decimal.NewFromString(rent); err != nil {
		return billing.Lease{}, err
	}
	if lease.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Lease{}, err
	}
	if lease.EndedAt, err = parseTimePtr(endedAt); err != nil {
		return billing.Lease{}, err
	}
	return lease, nil
}

func scanInstallment(row scanner) (billing.Installment, error) {
	var (
		inst         billing.Installment
		id, leaseID  string
		paymentType  string
		amount       string
		dueDate      string
		paymentDate  sql.NullString
		status       string
		verification string
		verifiedAt   sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(
		&id, &leaseID, &inst.Number, &inst.IsFirstPayment, &inst.CoveredMonths, &paymentType,
		&amount, &dueDate, &paymentDate, &status, &verification, &inst.PaymentMethod, &inst.TransactionReference,
		&inst.Notes, &inst.ReceiptURL, &inst.VerificationNote, &inst.VerifiedBy, &verifiedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return billing.Installment{}, err
	}
	inst.ID = billing.InstallmentID(id)
	inst.LeaseID = billing.LeaseID(leaseID)
	inst.Type = billing.PaymentType(paymentType)
	inst.Status = billing.PaymentStatus(status)
	inst.VerificationStatus = billing.VerificationStatus(verification)

	if inst.Amount, err = decimal.NewFromString(amount); err != nil {
		return billing.Installment{}, err
	}
	if inst.DueDate, err = billing.ParseDate(dueDate); err != nil {
		return billing.Installment{}, err
	}
	if inst.PaymentDate, err = parseTimePtr(paymentDate); err != nil {
		return billing.Installment{}, err
	}
	if inst.VerifiedAt, err = parseTimePtr(verifiedAt); err != nil {
		return billing.Installment{}, err
	}
	if inst.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Installment{}, err
	}
	if inst.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return billing.Installment{}, err
	}
	return inst, nil
}

func (s *Store) queryInstallments(ctx context.Context, op, query string, args ...any) ([]billing.Installment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, billing.Unavailable(op, err)
	}
	defer rows.Close()

	installments := []billing.Installment{}
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, billing.Unavailable(op, err)
		}
		installments = append(installments, inst)
	}
	return installments, billing.Unavailable(op, rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func appendStrings(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
