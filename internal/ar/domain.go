package ar

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusSent      InvoiceStatus = "sent"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s InvoiceStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCheck        PaymentMethod = "check"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodOnline       PaymentMethod = "online"
	MethodOther        PaymentMethod = "other"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCheck, MethodBankTransfer, MethodCreditCard, MethodOnline, MethodOther:
		return true
	}
	return false
}

// PaymentStatus enumerates payment states.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentCancelled:
		return true
	}
	return false
}

// LineItem is a priced invoice line.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Totals holds the derived invoice amounts.
type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Invoice is the ledger view of a receivable.
type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	Number         string          `json:"invoice_number"`
	Currency       string          `json:"currency"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	DueDate        time.Time       `json:"due_date"`
	Items          []LineItem      `json:"items"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Status         InvoiceStatus   `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Payment is a transaction recorded against an invoice.
type Payment struct {
	ID              uuid.UUID       `json:"id"`
	OrganizationID  uuid.UUID       `json:"organization_id"`
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	PaymentDate     time.Time       `json:"payment_date"`
	Amount          decimal.Decimal `json:"amount"`
	Method          PaymentMethod   `json:"payment_method"`
	Status          PaymentStatus   `json:"status"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LineItemInput describes a line before pricing.
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// CreateInvoiceInput carries the fields of a new draft invoice.
type CreateInvoiceInput struct {
	CustomerID  uuid.UUID
	Number      string
	Currency    string
	InvoiceDate time.Time
	DueDate     time.Time
	TaxRate     decimal.Decimal
	Items       []LineItemInput
	Notes       string
}

// RecordPaymentInput carries a payment submission.
type RecordPaymentInput struct {
	InvoiceID       uuid.UUID
	Amount          decimal.Decimal
	PaymentDate     time.Time
	Method          PaymentMethod
	ReferenceNumber string
	Notes           string
	IdempotencyKey  string
}

// Remittance describes money received before it is applied to invoices.
type Remittance struct {
	Amount          decimal.Decimal
	PaymentDate     time.Time
	Method          PaymentMethod
	ReferenceNumber string
	Notes           string
	IdempotencyKey  string
}

// AllocationLine directs part of a remittance to one invoice.
type AllocationLine struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
}

// AllocatePaymentInput splits a remittance across caller-chosen invoices.
type AllocatePaymentInput struct {
	Remittance
	Allocations []AllocationLine
}

// AutoAllocateInput applies a remittance to open invoices, oldest due date first.
// A nil CustomerID spans all customers of the organization.
type AutoAllocateInput struct {
	Remittance
	CustomerID uuid.UUID
}

// Allocation is one invoice's share of a remittance.
type Allocation struct {
	InvoiceID         uuid.UUID       `json:"invoice_id"`
	InvoiceNumber     string          `json:"invoice_number"`
	DueDate           time.Time       `json:"due_date"`
	Amount            decimal.Decimal `json:"allocated_amount"`
	OutstandingBefore decimal.Decimal `json:"outstanding_before"`
	OutstandingAfter  decimal.Decimal `json:"outstanding_after"`
	InvoiceStatus     InvoiceStatus   `json:"invoice_status,omitempty"`
	PaymentID         uuid.UUID       `json:"payment_id,omitzero"`
}

// AllocationResult lists the payments written for one remittance.
type AllocationResult struct {
	Payments    []Payment    `json:"payments"`
	Allocations []Allocation `json:"allocations"`
}

// AllocationPlan is a read-only suggestion for spreading an amount over open invoices.
type AllocationPlan struct {
	Amount      decimal.Decimal `json:"amount"`
	Allocated   decimal.Decimal `json:"allocated"`
	Unallocated decimal.Decimal `json:"unallocated"`
	Allocations []Allocation    `json:"allocations"`
}

// PaymentUpdate lists the editable payment fields; nil leaves a field unchanged.
type PaymentUpdate struct {
	Amount          *decimal.Decimal
	PaymentDate     *time.Time
	Method          *PaymentMethod
	ReferenceNumber *string
	Notes           *string
}

// ListInvoicesRequest filters invoice listings.
type ListInvoicesRequest struct {
	Status     InvoiceStatus
	CustomerID uuid.UUID
	Limit      int
	Offset     int
}
