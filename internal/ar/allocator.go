package ar

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arvalox/arvalox/internal/money"
)

// EnsurePayable rejects invoices that cannot accept payments.
func EnsurePayable(inv Invoice) error {
	if inv.Status != StatusSent && inv.Status != StatusOverdue {
		return fmt.Errorf("%w: invoice %s is %s", ErrInvoiceNotPayable, inv.Number, inv.Status)
	}
	return nil
}

// CheckAllocation validates amount against the invoice without changing it.
// credit is added back to the outstanding balance first, for re-validating an edited payment.
func CheckAllocation(inv Invoice, amount, credit decimal.Decimal) error {
	if err := money.RequirePositive(amount); err != nil {
		return err
	}
	if err := EnsurePayable(inv); err != nil {
		return err
	}
	balance, err := OutstandingBalance(inv)
	if err != nil {
		return err
	}
	available := money.Add(balance, credit)
	if amount.GreaterThan(available) {
		return fmt.Errorf("%w: %s > %s", ErrOverpaymentRejected, amount.StringFixed(money.Scale), available.StringFixed(money.Scale))
	}
	return nil
}

// ApplyPayment adds amount to the invoice's paid amount and settles it when the balance reaches zero.
func ApplyPayment(inv *Invoice, amount decimal.Decimal, asOf time.Time) error {
	amount = money.Round(amount)
	if err := CheckAllocation(*inv, amount, decimal.Zero); err != nil {
		return err
	}
	inv.PaidAmount = money.Add(inv.PaidAmount, amount)
	inv.UpdatedAt = asOf
	balance, err := OutstandingBalance(*inv)
	if err != nil {
		return err
	}
	if balance.IsZero() {
		return Transition(inv, StatusPaid, asOf)
	}
	return nil
}

// SortByDueDate orders invoices oldest due date first, then by invoice date and ID.
func SortByDueDate(invoices []Invoice) {
	slices.SortStableFunc(invoices, func(a, b Invoice) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		if c := a.InvoiceDate.Compare(b.InvoiceDate); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
}

// compareIDs matches PostgreSQL's uuid ordering, so row locks are taken in the same order everywhere.
func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// PlanAllocation spreads amount over invoices oldest due date first without changing them.
// Invoices that cannot take a payment are skipped; the unallocated rest is returned.
func PlanAllocation(invoices []Invoice, amount decimal.Decimal) ([]Allocation, decimal.Decimal, error) {
	remaining := money.Round(amount)
	if err := money.RequirePositive(remaining); err != nil {
		return nil, decimal.Decimal{}, err
	}
	ordered := slices.Clone(invoices)
	SortByDueDate(ordered)
	var plan []Allocation
	for _, inv := range ordered {
		if !remaining.IsPositive() {
			break
		}
		if EnsurePayable(inv) != nil {
			continue
		}
		balance, err := OutstandingBalance(inv)
		if err != nil {
			return nil, decimal.Decimal{}, err
		}
		if !balance.IsPositive() {
			continue
		}
		share := decimal.Min(remaining, balance)
		plan = append(plan, Allocation{
			InvoiceID:         inv.ID,
			InvoiceNumber:     inv.Number,
			DueDate:           inv.DueDate,
			Amount:            share,
			OutstandingBefore: balance,
			OutstandingAfter:  money.Sub(balance, share),
		})
		remaining = money.Sub(remaining, share)
	}
	return plan, remaining, nil
}

// CheckAllocationLines validates caller-chosen shares against the remittance amount.
// Each invoice may appear once. Shares must add up to amount exactly.
func CheckAllocationLines(lines []AllocationLine, amount decimal.Decimal) ([]AllocationLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one allocation required", ErrInvalidPayment)
	}
	seen := make(map[uuid.UUID]bool, len(lines))
	out := make([]AllocationLine, 0, len(lines))
	allocated := money.Zero()
	for i, line := range lines {
		if line.InvoiceID == uuid.Nil {
			return nil, fmt.Errorf("%w: allocation %d has no invoice", ErrInvalidPayment, i+1)
		}
		if seen[line.InvoiceID] {
			return nil, fmt.Errorf("%w: invoice %s allocated twice", ErrInvalidPayment, line.InvoiceID)
		}
		seen[line.InvoiceID] = true
		share := money.Round(line.Amount)
		if err := money.RequirePositive(share); err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i+1, err)
		}
		allocated = money.Add(allocated, share)
		out = append(out, AllocationLine{InvoiceID: line.InvoiceID, Amount: share})
	}
	switch {
	case allocated.GreaterThan(amount):
		return nil, fmt.Errorf("%w: allocations %s exceed payment %s", ErrInvalidPayment,
			allocated.StringFixed(money.Scale), amount.StringFixed(money.Scale))
	case allocated.LessThan(amount):
		return nil, fmt.Errorf("%w: %s of %s left unallocated", ErrOverpaymentRejected,
			money.Sub(amount, allocated).StringFixed(money.Scale), amount.StringFixed(money.Scale))
	}
	return out, nil
}

// contribution is what p has added to its invoice's paid amount.
func contribution(p Payment) decimal.Decimal {
	if p.Status == PaymentCompleted {
		return p.Amount
	}
	return decimal.Zero
}

// EnsurePaymentMutable allows edits and deletes only while pending or failed.
func EnsurePaymentMutable(p Payment) error {
	if p.Status != PaymentPending && p.Status != PaymentFailed {
		return fmt.Errorf("%w: payment %s is %s", ErrPaymentNotEditable, p.ID, p.Status)
	}
	return nil
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentFailed:  {PaymentPending, PaymentCompleted, PaymentCancelled},
}

// CanTransitionPayment checks the payment status table. Completed and cancelled are terminal.
func CanTransitionPayment(from, to PaymentStatus) error {
	for _, candidate := range paymentTransitions[from] {
		if candidate == to {
			return nil
		}
	}
	return fmt.Errorf("%w: payment %s -> %s", ErrIllegalStatusTransition, from, to)
}

// ApplyPaymentUpdate validates updates against the invoice and writes them into p.
func ApplyPaymentUpdate(p *Payment, inv Invoice, upd PaymentUpdate, asOf time.Time) error {
	if err := EnsurePaymentMutable(*p); err != nil {
		return err
	}
	if upd.Amount != nil {
		amount := money.Round(*upd.Amount)
		if err := CheckAllocation(inv, amount, contribution(*p)); err != nil {
			return err
		}
		p.Amount = amount
	}
	if upd.Method != nil {
		if !upd.Method.Valid() {
			return fmt.Errorf("%w: unknown payment method %q", ErrInvalidPayment, *upd.Method)
		}
		p.Method = *upd.Method
	}
	if upd.PaymentDate != nil {
		p.PaymentDate = *upd.PaymentDate
	}
	if upd.ReferenceNumber != nil {
		p.ReferenceNumber = *upd.ReferenceNumber
	}
	if upd.Notes != nil {
		p.Notes = *upd.Notes
	}
	p.UpdatedAt = asOf
	return nil
}
