package ar

import (
	"errors"

	"github.com/arvalox/arvalox/internal/money"
)

var (
	// ErrInvoiceNotFound indicates the invoice does not exist for the organization.
	ErrInvoiceNotFound = errors.New("ar: invoice not found")
	// ErrPaymentNotFound indicates the payment does not exist for the organization.
	ErrPaymentNotFound = errors.New("ar: payment not found")
	// ErrInvalidAmount is the money package's invalid amount error.
	ErrInvalidAmount = money.ErrInvalidAmount
	// ErrDuplicateInvoiceNumber indicates the organization already uses the invoice number.
	ErrDuplicateInvoiceNumber = errors.New("ar: invoice number already exists")
	// ErrInvalidLineItem indicates a non-positive quantity or negative unit price.
	ErrInvalidLineItem = errors.New("ar: invalid line item")
	// ErrInvalidInvoice indicates invoice header fields failed validation.
	ErrInvalidInvoice = errors.New("ar: invalid invoice")
	// ErrInvalidPayment indicates payment fields failed validation.
	ErrInvalidPayment = errors.New("ar: invalid payment")
	// ErrIllegalStatusTransition indicates an edge missing from the status tables.
	ErrIllegalStatusTransition = errors.New("ar: illegal status transition")
	// ErrInvoiceNotPayable indicates the invoice is not sent or overdue.
	ErrInvoiceNotPayable = errors.New("ar: invoice not payable")
	// ErrOverpaymentRejected indicates a payment larger than the outstanding balance.
	ErrOverpaymentRejected = errors.New("ar: payment exceeds outstanding balance")
	// ErrPaymentNotEditable indicates the payment is neither pending nor failed.
	ErrPaymentNotEditable = errors.New("ar: payment can only be changed while pending or failed")
	// ErrLedgerInvariantViolation signals ledger state that should be impossible.
	ErrLedgerInvariantViolation = errors.New("ar: ledger invariant violation")
)
