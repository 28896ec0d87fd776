package models

import "time"

// InvoiceStatus is the payment state reported by the billing ledger.
type InvoiceStatus string

const (
	InvoiceUnpaid        InvoiceStatus = "unpaid"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
)

// InvoiceKind distinguishes customer invoices from reversing documents.
type InvoiceKind string

const (
	InvoiceKindInvoice InvoiceKind = "invoice"
	InvoiceKindRefund  InvoiceKind = "refund"
)

// Invoice is a row of the ledger adapter's invoices table.
type Invoice struct {
	ID                string        `db:"id" json:"id"`
	TenantID          string        `db:"tenant_id" json:"tenant_id"`
	Kind              InvoiceKind   `db:"kind" json:"kind"`
	PayerPartyID      string        `db:"payer_party_id" json:"payer_party_id"`
	Description       string        `db:"description" json:"description"`
	ProductRef        *string       `db:"product_ref" json:"product_ref,omitempty"`
	Quantity          float64       `db:"quantity" json:"quantity"`
	UnitPrice         float64       `db:"unit_price" json:"unit_price"`
	AmountTotal       float64       `db:"amount_total" json:"amount_total"`
	Status            InvoiceStatus `db:"status" json:"status"`
	ReversedInvoiceID *string       `db:"reversed_invoice_id" json:"reversed_invoice_id,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
}

// InvoiceRequest is a single-line invoice to raise against a payer.
type InvoiceRequest struct {
	TenantID     string
	PayerPartyID string
	Description  string
	Quantity     float64
	UnitPrice    float64
	ProductRef   string
}

// FeeTotals sums a student's invoices.
type FeeTotals struct {
	Total       float64 `db:"total" json:"total"`
	Outstanding float64 `db:"outstanding" json:"outstanding"`
}

// FollowUp is a reminder scheduled for a user.
type FollowUp struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
