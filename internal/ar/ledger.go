package ar

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arvalox/arvalox/internal/money"
	"github.com/arvalox/arvalox/internal/platform/clock"
)

// PriceLines validates inputs and computes each line total, rounded per line.
// The unit price is rounded to the money scale first so the stored line always
// satisfies line_total = round(quantity * unit_price).
func PriceLines(inputs []LineItemInput) ([]LineItem, error) {
	items := make([]LineItem, 0, len(inputs))
	for i, in := range inputs {
		if !in.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidLineItem, i+1)
		}
		if in.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: line %d unit price must not be negative", ErrInvalidLineItem, i+1)
		}
		unit := money.Round(in.UnitPrice)
		items = append(items, LineItem{
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   unit,
			LineTotal:   money.Multiply(in.Quantity, unit),
		})
	}
	return items, nil
}

// ComputeTotals derives subtotal, tax and total for the items at taxRate percent.
func ComputeTotals(items []LineItemInput, taxRate decimal.Decimal) (Totals, error) {
	if err := money.RequireNonNegative(taxRate); err != nil {
		return Totals{}, fmt.Errorf("tax rate: %w", err)
	}
	priced, err := PriceLines(items)
	if err != nil {
		return Totals{}, err
	}
	lines := make([]decimal.Decimal, len(priced))
	for i, item := range priced {
		lines[i] = item.LineTotal
	}
	subtotal := money.Round(money.Sum(lines...))
	tax := money.Percent(subtotal, taxRate)
	return Totals{
		Subtotal:    subtotal,
		TaxAmount:   tax,
		TotalAmount: money.Add(subtotal, tax),
	}, nil
}

// OutstandingBalance returns total minus paid. A negative result is reported, never clamped.
func OutstandingBalance(inv Invoice) (decimal.Decimal, error) {
	balance := money.Sub(inv.TotalAmount, inv.PaidAmount)
	if balance.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: invoice %s paid %s exceeds total %s",
			ErrLedgerInvariantViolation, inv.ID, inv.PaidAmount.StringFixed(money.Scale), inv.TotalAmount.StringFixed(money.Scale))
	}
	return balance, nil
}

// CheckInvariants verifies the totals identity and paid amount bounds.
func CheckInvariants(inv Invoice) error {
	if !money.Add(inv.Subtotal, inv.TaxAmount).Equal(inv.TotalAmount) {
		return fmt.Errorf("%w: invoice %s total %s != subtotal %s + tax %s", ErrLedgerInvariantViolation, inv.ID,
			inv.TotalAmount.StringFixed(money.Scale), inv.Subtotal.StringFixed(money.Scale), inv.TaxAmount.StringFixed(money.Scale))
	}
	if inv.PaidAmount.IsNegative() {
		return fmt.Errorf("%w: invoice %s has negative paid amount", ErrLedgerInvariantViolation, inv.ID)
	}
	_, err := OutstandingBalance(inv)
	return err
}

// transitions lists the allowed invoice edges. Guards are applied in Transition.
var transitions = map[InvoiceStatus][]InvoiceStatus{
	StatusDraft:   {StatusSent, StatusCancelled},
	StatusSent:    {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

func edgeAllowed(from, to InvoiceStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether Transition would accept the move without mutating inv.
func CanTransition(inv Invoice, target InvoiceStatus, asOf time.Time) error {
	if !edgeAllowed(inv.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalStatusTransition, inv.Status, target)
	}
	switch target {
	case StatusPaid:
		balance, err := OutstandingBalance(inv)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			return fmt.Errorf("%w: %s -> paid with outstanding balance %s", ErrIllegalStatusTransition, inv.Status, balance.StringFixed(money.Scale))
		}
	case StatusOverdue:
		balance, err := OutstandingBalance(inv)
		if err != nil {
			return err
		}
		if !balance.IsPositive() {
			return fmt.Errorf("%w: sent -> overdue without outstanding balance", ErrIllegalStatusTransition)
		}
		if clock.DaysBetween(inv.DueDate, asOf) <= 0 {
			return fmt.Errorf("%w: sent -> overdue before due date %s", ErrIllegalStatusTransition, inv.DueDate.Format(time.DateOnly))
		}
	}
	return nil
}

// Transition moves inv to target when the edge and its guard allow it.
func Transition(inv *Invoice, target InvoiceStatus, asOf time.Time) error {
	if err := CanTransition(*inv, target, asOf); err != nil {
		return err
	}
	at := asOf
	switch target {
	case StatusSent:
		inv.SentAt = &at
	case StatusPaid:
		inv.PaidAt = &at
	case StatusCancelled:
		inv.CancelledAt = &at
	}
	inv.Status = target
	inv.UpdatedAt = asOf
	return nil
}
