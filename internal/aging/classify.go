package aging

import (
	"fmt"
	"time"

	"github.com/arvalox/arvalox/internal/ar"
	"github.com/arvalox/arvalox/internal/platform/clock"
)

// DaysOverdue counts whole calendar days from due to asOf, floored at zero.
func DaysOverdue(due, asOf time.Time) int {
	return max(0, clock.DaysBetween(due, asOf))
}

// BucketFor maps a day count to its bucket. Edges are closed: 30 is days_1_30, 31 is days_31_60.
func BucketFor(days int) Bucket {
	switch {
	case days <= 0:
		return BucketCurrent
	case days <= 30:
		return BucketDays1To30
	case days <= 60:
		return BucketDays31To60
	case days <= 90:
		return BucketDays61To90
	}
	return BucketOver90
}

// Classify ages one invoice. The amount is its outstanding balance.
func Classify(inv ar.Invoice, asOf time.Time) (Classification, error) {
	balance, err := ar.OutstandingBalance(inv)
	if err != nil {
		return Classification{}, fmt.Errorf("aging: classify %s: %w", inv.Number, err)
	}
	days := DaysOverdue(inv.DueDate, asOf)
	return Classification{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		CustomerID:    inv.CustomerID,
		InvoiceDate:   inv.InvoiceDate,
		DueDate:       inv.DueDate,
		TotalAmount:   inv.TotalAmount,
		PaidAmount:    inv.PaidAmount,
		Amount:        balance,
		DaysOverdue:   days,
		Bucket:        BucketFor(days),
		Status:        inv.Status,
	}, nil
}

// participates reports whether inv is an issued receivable for aging purposes.
func participates(inv ar.Invoice, includePaid bool) bool {
	switch inv.Status {
	case ar.StatusSent, ar.StatusOverdue:
		return true
	case ar.StatusPaid:
		return includePaid
	}
	return false
}

// ClassifyAll ages the issued receivables in invoices. Zero-balance invoices are skipped
// unless includePaid, in which case they appear with a zero amount.
func ClassifyAll(invoices []ar.Invoice, asOf time.Time, includePaid bool) ([]Classification, error) {
	out := make([]Classification, 0, len(invoices))
	for _, inv := range invoices {
		if !participates(inv, includePaid) {
			continue
		}
		c, err := Classify(inv, asOf)
		if err != nil {
			return nil, err
		}
		if c.Amount.IsZero() && !includePaid {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
