package billing

import (
	"bytes"
	"context"
	"fmt"
	"text/tabwriter"
	"time"
)

// =============================================================================
// RECEIPTS - Rendering is a collaborator; the ledger only supplies the data
// =============================================================================

// Receipt is the data a renderer needs for one paid installment.
type Receipt struct {
	Lease       Lease
	Installment Installment
	IssuedAt    time.Time
}

// Artifact is an opaque rendered document.
type Artifact struct {
	ContentType string
	Filename    string
	Body        []byte
}

type ReceiptRenderer interface {
	Render(ctx context.Context, r Receipt) (Artifact, error)
}

// TextReceiptRenderer renders a plain-text receipt. Until the payment is
// verified the header marks it provisional.
type TextReceiptRenderer struct {
	Issuer string
}

func (t TextReceiptRenderer) Render(_ context.Context, r Receipt) (Artifact, error) {
	inst := r.Installment
	if inst.Status != StatusPaid || inst.PaymentDate == nil {
		return Artifact{}, &InvalidTransitionError{
			InstallmentID: inst.ID, Number: inst.Number, Status: inst.Status,
			From: inst.VerificationStatus, Reason: "receipts are issued for paid installments only",
		}
	}

	issuer := t.Issuer
	if issuer == "" {
		issuer = "Rent Ledger"
	}

	var buf bytes.Buffer
	if inst.VerificationStatus == VerificationVerified {
		fmt.Fprintf(&buf, "%s - PAYMENT RECEIPT\n\n", issuer)
	} else {
		fmt.Fprintf(&buf, "%s - PROVISIONAL RECEIPT (payment %s)\n\n", issuer, inst.VerificationStatus)
	}
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Receipt no.\t%s\n", inst.ID)
	fmt.Fprintf(w, "Issued\t%s\n", r.IssuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Lease\t%s\n", r.Lease.ID)
	fmt.Fprintf(w, "Tenant\t%s\n", r.Lease.TenantID)
	fmt.Fprintf(w, "Property\t%s\n", r.Lease.PropertyID)
	fmt.Fprintf(w, "Installment\t#%d of %s\n", inst.Number, inst.Type)
	fmt.Fprintf(w, "Months covered\t%d\n", inst.CoveredMonths)
	fmt.Fprintf(w, "Due date\t%s\n", FormatDate(inst.DueDate))
	fmt.Fprintf(w, "Paid on\t%s\n", FormatDate(*inst.PaymentDate))
	fmt.Fprintf(w, "Amount\t%s\n", FormatMoney(inst.Amount))
	if inst.PaymentMethod != "" {
		fmt.Fprintf(w, "Method\t%s\n", inst.PaymentMethod)
	}
	if inst.TransactionReference != "" {
		fmt.Fprintf(w, "Reference\t%s\n", inst.TransactionReference)
	}
	fmt.Fprintf(w, "Verification\t%s\n", inst.VerificationStatus)
	if err := w.Flush(); err != nil {
		return Artifact{}, err
	}

	return Artifact{
		ContentType: "text/plain; charset=utf-8",
		Filename:    fmt.Sprintf("receipt-%s-%02d.txt", r.Lease.ID, inst.Number),
		Body:        buf.Bytes(),
	}, nil
}

// =============================================================================
// PAYMENT LINKS - External payment initiation handle
// =============================================================================

// PaymentLinker produces the payment-initiation handle shown on the payable
// installment.
type PaymentLinker interface {
	Link(lease Lease, inst Installment) string
}

// URLPaymentLinker builds links under a base URL.
type URLPaymentLinker struct {
	BaseURL string
}

func (u URLPaymentLinker) Link(lease Lease, inst Installment) string {
	if u.BaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", u.BaseURL, lease.ID, inst.ID)
}
