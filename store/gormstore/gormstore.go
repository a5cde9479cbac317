/*
Package gormstore provides a GORM-backed implementation of billing.Store.

PURPOSE:
  Production persistence on PostgreSQL (gorm.io/driver/postgres). The same
  code runs on SQLite (gorm.io/driver/sqlite), which is what the tests use.

SCHEMA:
  Tables are created by AutoMigrate from leaseRow and installmentRow.
  Money is kept as text so no precision is lost on either dialect.
  Unique indexes on (lease_id, installment_number) and (lease_id, due_date)
  make a second schedule for the same lease fail at the database.
  CHECK constraints hold "paymentDate iff paid" and "verified implies paid"
  on both dialects.

CONDITIONAL UPDATES:
  UpdateInstallment adds the guard to the WHERE clause and checks
  RowsAffected, exactly like store/sqlite. On PostgreSQL the overdue sweep
  also takes row locks (SELECT ... FOR UPDATE) before flipping rows.

USAGE:
  store, err := gormstore.Open("postgres", os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rent-ledger/billing"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// =============================================================================
// MODELS
// =============================================================================

type leaseRow struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	TenantID    string    `gorm:"type:varchar(64);not null;index"`
	PropertyID  string    `gorm:"type:varchar(64);not null"`
	StartDate   time.Time `gorm:"not null"`
	TermMonths  int       `gorm:"not null"`
	MonthlyRent string    `gorm:"type:varchar(32);not null"`
	Status      string    `gorm:"type:varchar(16);not null;default:'active'"`
	CreatedAt   time.Time `gorm:"not null"`
	EndedAt     *time.Time
}

func (leaseRow) TableName() string { return "leases" }

type installmentRow struct {
	ID                   string     `gorm:"primaryKey;type:varchar(64)"`
	LeaseID              string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_installments_lease_number,priority:1;uniqueIndex:idx_installments_lease_due,priority:1"`
	Number               int        `gorm:"column:installment_number;not null;uniqueIndex:idx_installments_lease_number,priority:2"`
	IsFirstPayment       bool       `gorm:"not null;default:false"`
	CoveredMonths        int        `gorm:"not null"`
	PaymentType          string     `gorm:"type:varchar(32);not null"`
	Amount               string     `gorm:"type:varchar(32);not null"`
	DueDate              time.Time  `gorm:"not null;uniqueIndex:idx_installments_lease_due,priority:2;index:idx_installments_status_due,priority:2"`
	PaymentDate          *time.Time `gorm:"check:chk_installments_paid_date,(payment_date IS NOT NULL) = (status = 'paid')"`
	Status               string     `gorm:"type:varchar(16);not null;default:'pending';index:idx_installments_status_due,priority:1"`
	VerificationStatus   string     `gorm:"type:varchar(16);not null;default:'unverified';index:idx_installments_verified,priority:1;check:chk_installments_verified_paid,verification_status <> 'verified' OR status = 'paid'"`
	PaymentMethod        string     `gorm:"type:varchar(64)"`
	TransactionReference string     `gorm:"type:varchar(128)"`
	Notes                string     `gorm:"type:text"`
	ReceiptURL           string     `gorm:"type:text"`
	VerificationNote     string     `gorm:"type:text"`
	VerifiedBy           string     `gorm:"type:varchar(64)"`
	VerifiedAt           *time.Time
	CreatedAt            time.Time `gorm:"not null;index:idx_installments_verified,priority:2"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (installmentRow) TableName() string { return "installments" }

// =============================================================================
// STORE
// =============================================================================

// Store implements billing.Store on top of *gorm.DB.
type Store struct {
	db *gorm.DB
}

// Open connects with the named driver ("postgres" or "sqlite") and migrates.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// single writer; also keeps ":memory:" on one database
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an open connection and runs AutoMigrate.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&leaseRow{}, &installmentRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return billing.Unavailable("ping", err)
	}
	return billing.Unavailable("ping", sqlDB.PingContext(ctx))
}

// Reset removes all data. Used by the demo scenario loader only.
func (s *Store) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&installmentRow{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&leaseRow{}).Error
	})
	return billing.Unavailable("reset", err)
}

func (s *Store) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

// =============================================================================
// LEASES
// =============================================================================

func (s *Store) CreateLease(ctx context.Context, lease billing.Lease) error {
	row := toLeaseRow(lease)
	return billing.Unavailable("create lease", s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetLease(ctx context.Context, id billing.LeaseID) (billing.Lease, error) {
	var row leaseRow
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Lease{}, &billing.NotFoundError{Kind: "lease", ID: string(id)}
	}
	if err != nil {
		return billing.Lease{}, billing.Unavailable("get lease", err)
	}
	return fromLeaseRow(row)
}

func (s *Store) ListLeases(ctx context.Context) ([]billing.Lease, error) {
	var rows []leaseRow
	if err := s.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, billing.Unavailable("list leases", err)
	}
	leases := make([]billing.Lease, 0, len(rows))
	for _, row := range rows {
		lease, err := fromLeaseRow(row)
		if err != nil {
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

func (s *Store) EndLease(ctx context.Context, id billing.LeaseID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&leaseRow{}).
		Where("id = ? AND status = ?", string(id), string(billing.LeaseActive)).
		Updates(map[string]any{"status": string(billing.LeaseEnded), "ended_at": at.UTC()})
	if res.Error != nil {
		return billing.Unavailable("end lease", res.Error)
	}
	if res.RowsAffected == 0 {
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

func (s *Store) InsertSchedule(ctx context.Context, leaseID billing.LeaseID, installments []billing.Installment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var leases int64
		if err := tx.Model(&leaseRow{}).Where("id = ?", string(leaseID)).Count(&leases).Error; err != nil {
			return err
		}
		if leases == 0 {
			return &billing.NotFoundError{Kind: "lease", ID: string(leaseID)}
		}

		var existing int64
		if err := tx.Model(&installmentRow{}).Where("lease_id = ?", string(leaseID)).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return billing.ErrScheduleExists
		}
		if len(installments) == 0 {
			return nil
		}

		rows := make([]installmentRow, 0, len(installments))
		for _, inst := range installments {
			row := toInstallmentRow(inst)
			row.LeaseID = string(leaseID)
			rows = append(rows, row)
		}
		return tx.Create(&rows).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return billing.ErrScheduleExists
	}
	return billing.Unavailable("insert schedule", err)
}

func (s *Store) GetInstallment(ctx context.Context, id billing.InstallmentID) (billing.Installment, error) {
	var row installmentRow
	err := s.db.WithContext(ctx).Where("id = ?", string(id)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Installment{}, &billing.NotFoundError{Kind: "installment", ID: string(id)}
	}
	if err != nil {
		return billing.Installment{}, billing.Unavailable("get installment", err)
	}
	return fromInstallmentRow(row)
}

func (s *Store) ListInstallments(ctx context.Context, leaseID billing.LeaseID) ([]billing.Installment, error) {
	var rows []installmentRow
	err := s.db.WithContext(ctx).
		Where("lease_id = ?", string(leaseID)).
		Order("due_date, installment_number").
		Find(&rows).Error
	if err != nil {
		return nil, billing.Unavailable("list installments", err)
	}
	return fromInstallmentRows(rows)
}

func (s *Store) UpdateInstallment(ctx context.Context, inst billing.Installment, guard billing.Guard) error {
	q := s.db.WithContext(ctx).Model(&installmentRow{}).Where("id = ?", string(inst.ID))
	if statuses := guard.StatusStrings(); len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if verifications := guard.VerificationStrings(); len(verifications) > 0 {
		q = q.Where("verification_status IN ?", verifications)
	}

	res := q.Updates(map[string]any{
		"payment_date":          utcPtr(inst.PaymentDate),
		"status":                string(inst.Status),
		"verification_status":   string(inst.VerificationStatus),
		"payment_method":        inst.PaymentMethod,
		"transaction_reference": inst.TransactionReference,
		"notes":                 inst.Notes,
		"receipt_url":           inst.ReceiptURL,
		"verification_note":     inst.VerificationNote,
		"verified_by":           inst.VerifiedBy,
		"verified_at":           utcPtr(inst.VerifiedAt),
		"updated_at":            inst.UpdatedAt.UTC(),
	})
	if res.Error != nil {
		return billing.Unavailable("update installment", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetInstallment(ctx, inst.ID); err != nil {
			return err
		}
		return billing.ErrStaleRecord
	}
	return nil
}

func (s *Store) MarkOverdue(ctx context.Context, asOf time.Time, now time.Time) ([]billing.Installment, error) {
	var moved []billing.Installment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ? AND due_date < ?", string(billing.StatusPending), billing.Date(asOf)).
			Order("due_date, lease_id, installment_number")
		if s.isPostgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var rows []installmentRow
		if err := q.Find(&rows).Error; err != nil {
			return err
		}

		for _, row := range rows {
			res := tx.Model(&installmentRow{}).
				Where("id = ? AND status = ?", row.ID, string(billing.StatusPending)).
				Updates(map[string]any{"status": string(billing.StatusOverdue), "updated_at": now.UTC()})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				continue
			}
			row.Status = string(billing.StatusOverdue)
			row.UpdatedAt = now.UTC()
			inst, err := fromInstallmentRow(row)
			if err != nil {
				return err
			}
			moved = append(moved, inst)
		}
		return nil
	})
	if err != nil {
		return nil, billing.Unavailable("mark overdue", err)
	}
	return moved, nil
}

func (s *Store) ListVerified(ctx context.Context, r billing.DateRange) ([]billing.Installment, error) {
	var rows []installmentRow
	err := s.db.WithContext(ctx).
		Where("verification_status = ?", string(billing.VerificationVerified)).
		Where("created_at >= ? AND created_at < ?", r.Start.UTC(), r.End.UTC()).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, billing.Unavailable("list verified", err)
	}
	return fromInstallmentRows(rows)
}

// =============================================================================
// MAPPING
// =============================================================================

func toLeaseRow(l billing.Lease) leaseRow {
	return leaseRow{
		ID:          string(l.ID),
		TenantID:    string(l.TenantID),
		PropertyID:  string(l.PropertyID),
		StartDate:   billing.Date(l.StartDate),
		TermMonths:  l.TermMonths,
		MonthlyRent: l.MonthlyRent.String(),
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt.UTC(),
		EndedAt:     utcPtr(l.EndedAt),
	}
}

func fromLeaseRow(row leaseRow) (billing.Lease, error) {
	rent, err := decimal.NewFromString(row.MonthlyRent)
	if err != nil {
		return billing.Lease{}, billing.Unavailable("decode lease", err)
	}
	return billing.Lease{
		ID:          billing.LeaseID(row.ID),
		TenantID:    billing.TenantID(row.TenantID),
		PropertyID:  billing.PropertyID(row.PropertyID),
		StartDate:   billing.Date(row.StartDate),
		TermMonths:  row.TermMonths,
		MonthlyRent: rent,
		Status:      billing.LeaseStatus(row.Status),
		CreatedAt:   row.CreatedAt.UTC(),
		EndedAt:     utcPtr(row.EndedAt),
	}, nil
}

func toInstallmentRow(inst billing.Installment) installmentRow {
	return installmentRow{
		ID:                   string(inst.ID),
		LeaseID:              string(inst.LeaseID),
		Number:               inst.Number,
		IsFirstPayment:       inst.IsFirstPayment,
		CoveredMonths:        inst.CoveredMonths,
		PaymentType:          string(inst.Type),
		Amount:               inst.Amount.String(),
		DueDate:              billing.Date(inst.DueDate),
		PaymentDate:          utcPtr(inst.PaymentDate),
		Status:               string(inst.Status),
		VerificationStatus:   string(inst.VerificationStatus),
		PaymentMethod:        inst.PaymentMethod,
		TransactionReference: inst.TransactionReference,
		Notes:                inst.Notes,
		ReceiptURL:           inst.ReceiptURL,
		VerificationNote:     inst.VerificationNote,
		VerifiedBy:           inst.VerifiedBy,
		VerifiedAt:           utcPtr(inst.VerifiedAt),
		CreatedAt:            inst.CreatedAt.UTC(),
		UpdatedAt:            inst.UpdatedAt.UTC(),
	}
}

func fromInstallmentRow(row installmentRow) (billing.Installment, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return billing.Installment{}, billing.Unavailable("decode installment", err)
	}
	return billing.Installment{
		ID:                   billing.InstallmentID(row.ID),
		LeaseID:              billing.LeaseID(row.LeaseID),
		Number:               row.Number,
		IsFirstPayment:       row.IsFirstPayment,
		CoveredMonths:        row.CoveredMonths,
		Type:                 billing.PaymentType(row.PaymentType),
		Amount:               amount,
		DueDate:              billing.Date(row.DueDate),
		PaymentDate:          utcPtr(row.PaymentDate),
		Status:               billing.PaymentStatus(row.Status),
		VerificationStatus:   billing.VerificationStatus(row.VerificationStatus),
		PaymentMethod:        row.PaymentMethod,
		TransactionReference: row.TransactionReference,
		Notes:                row.Notes,
		ReceiptURL:           row.ReceiptURL,
		VerificationNote:     row.VerificationNote,
		VerifiedBy:           row.VerifiedBy,
		VerifiedAt:           utcPtr(row.VerifiedAt),
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}, nil
}

func fromInstallmentRows(rows []installmentRow) ([]billing.Installment, error) {
	out := make([]billing.Installment, 0, len(rows))
	for _, row := range rows {
		inst, err := fromInstallmentRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
