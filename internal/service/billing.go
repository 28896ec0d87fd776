package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

// Billing is the invoicing collaborator. exec carries the caller's transaction so that
// a ledger sharing the database commits or rolls back together with the enrollment.
type Billing interface {
	CreateInvoice(ctx context.Context, exec sqlx.ExtContext, req models.InvoiceRequest) (string, error)
	InvoiceStatus(ctx context.Context, exec sqlx.ExtContext, tenantID, invoiceID string) (models.InvoiceStatus, error)
	CreateRefund(ctx context.Context, exec sqlx.ExtContext, tenantID, originalInvoiceID string) (string, error)
	StudentTotals(ctx context.Context, tenantID, studentID string) (models.FeeTotals, error)
}

type invoiceStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, inv *models.Invoice) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Invoice, error)
	TotalsForStudent(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID string) (models.FeeTotals, error)
}

// LedgerBilling is a thin SQL ledger over the invoices table.
type LedgerBilling struct {
	store          invoiceStore
	defaultAccount string
	metrics        *MetricsService
	logger         *zap.Logger
}

// NewLedgerBilling constructs the ledger adapter. defaultAccount tags lines without a product.
func NewLedgerBilling(store invoiceStore, defaultAccount string, metrics *MetricsService, logger *zap.Logger) *LedgerBilling {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerBilling{store: store, defaultAccount: defaultAccount, metrics: metrics, logger: logger}
}

// CreateInvoice raises a single-line unpaid invoice.
func (b *LedgerBilling) CreateInvoice(ctx context.Context, exec sqlx.ExtContext, req models.InvoiceRequest) (string, error) {
	if req.PayerPartyID == "" {
		return "", fmt.Errorf("invoice payer is required")
	}
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	product := req.ProductRef
	if product == "" {
		product = b.defaultAccount
	}
	inv := &models.Invoice{
		TenantID:     req.TenantID,
		Kind:         models.InvoiceKindInvoice,
		PayerPartyID: req.PayerPartyID,
		Description:  req.Description,
		ProductRef:   strPtr(product),
		Quantity:     qty,
		UnitPrice:    req.UnitPrice,
		AmountTotal:  qty * req.UnitPrice,
		Status:       models.InvoiceUnpaid,
	}
	if err := b.store.Create(ctx, exec, inv); err != nil {
		return "", err
	}
	b.metrics.RecordInvoice(string(models.InvoiceKindInvoice))
	b.logger.Info("invoice created", zap.String("tenant_id", req.TenantID), zap.String("invoice_id", inv.ID), zap.Float64("amount", inv.AmountTotal))
	return inv.ID, nil
}

// InvoiceStatus reports the payment state of an invoice.
func (b *LedgerBilling) InvoiceStatus(ctx context.Context, exec sqlx.ExtContext, tenantID, invoiceID string) (models.InvoiceStatus, error) {
	inv, err := b.store.FindByID(ctx, exec, tenantID, invoiceID)
	if err != nil {
		return "", fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}
	return inv.Status, nil
}

// CreateRefund issues a reversing document for the full amount of the original invoice.
func (b *LedgerBilling) CreateRefund(ctx context.Context, exec sqlx.ExtContext, tenantID, originalInvoiceID string) (string, error) {
	original, err := b.store.FindByID(ctx, exec, tenantID, originalInvoiceID)
	if err != nil {
		return "", fmt.Errorf("load invoice %s: %w", originalInvoiceID, err)
	}
	if original.Kind != models.InvoiceKindInvoice {
		return "", fmt.Errorf("invoice %s is not refundable", originalInvoiceID)
	}
	refund := &models.Invoice{
		TenantID:          tenantID,
		Kind:              models.InvoiceKindRefund,
		PayerPartyID:      original.PayerPartyID,
		Description:       "Refund: " + original.Description,
		ProductRef:        original.ProductRef,
		Quantity:          original.Quantity,
		UnitPrice:         original.UnitPrice,
		AmountTotal:       original.AmountTotal,
		Status:            models.InvoiceUnpaid,
		ReversedInvoiceID: &original.ID,
	}
	if err := b.store.Create(ctx, exec, refund); err != nil {
		return "", err
	}
	b.metrics.RecordInvoice(string(models.InvoiceKindRefund))
	b.logger.Info("refund created", zap.String("tenant_id", tenantID), zap.String("refund_id", refund.ID), zap.String("reverses", original.ID))
	return refund.ID, nil
}

// StudentTotals sums the invoices attached to the student's enrollments.
func (b *LedgerBilling) StudentTotals(ctx context.Context, tenantID, studentID string) (models.FeeTotals, error) {
	return b.store.TotalsForStudent(ctx, nil, tenantID, studentID)
}

func integrationError(err error, action string) error {
	return appErrors.Integration(err, "billing failed to "+action)
}
