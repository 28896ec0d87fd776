package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

const invoiceColumns = `id, tenant_id, kind, payer_party_id, description, product_ref, quantity, unit_price, amount_total, status, reversed_invoice_id, created_at`

// InvoiceRepository is the storage of the ledger adapter.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs an InvoiceRepository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create inserts an invoice or refund document.
func (r *InvoiceRepository) Create(ctx context.Context, exec sqlx.ExtContext, inv *models.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Status == "" {
		inv.Status = models.InvoiceUnpaid
	}
	inv.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO invoices (` + invoiceColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		inv.ID, inv.TenantID, inv.Kind, inv.PayerPartyID, inv.Description, inv.ProductRef, inv.Quantity,
		inv.UnitPrice, inv.AmountTotal, inv.Status, inv.ReversedInvoiceID, inv.CreatedAt); err != nil {
		return writeError("create invoice", err)
	}
	return nil
}

// FindByID fetches an invoice scoped to the tenant.
func (r *InvoiceRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Invoice, error) {
	const query = `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 AND id = $2`
	var inv models.Invoice
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &inv, query, tenantID, id); err != nil {
		return nil, err
	}
	return &inv, nil
}

// TotalsForStudent sums the customer invoices attached to a student's enrollments.
// Outstanding covers every invoice not fully paid.
func (r *InvoiceRepository) TotalsForStudent(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID string) (models.FeeTotals, error) {
	const query = `SELECT COALESCE(SUM(i.amount_total), 0) AS total,
        COALESCE(SUM(i.amount_total) FILTER (WHERE i.status <> 'paid'), 0) AS outstanding
        FROM enrollments e JOIN invoices i ON i.id = e.invoice_id
        WHERE e.tenant_id = $1 AND e.student_id = $2 AND i.kind = 'invoice'`
	var totals models.FeeTotals
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &totals, query, tenantID, studentID); err != nil {
		return totals, fmt.Errorf("sum student invoices: %w", err)
	}
	return totals, nil
}
