package aging

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvalox/arvalox/internal/ar"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func invoice(customer uuid.UUID, number string, due time.Time, total, paid string, status ar.InvoiceStatus) ar.Invoice {
	return ar.Invoice{
		ID:          uuid.New(),
		CustomerID:  customer,
		Number:      number,
		Status:      status,
		InvoiceDate: due.AddDate(0, 0, -30),
		DueDate:     due,
		Subtotal:    dec(total),
		TaxAmount:   decimal.Zero,
		TotalAmount: dec(total),
		PaidAmount:  dec(paid),
	}
}

func TestBucketEdges(t *testing.T) {
	cases := map[int]Bucket{
		-5:  BucketCurrent,
		0:   BucketCurrent,
		1:   BucketDays1To30,
		30:  BucketDays1To30,
		31:  BucketDays31To60,
		60:  BucketDays31To60,
		61:  BucketDays61To90,
		90:  BucketDays61To90,
		91:  BucketOver90,
		400: BucketOver90,
	}
	for days, want := range cases {
		assert.Equal(t, want, BucketFor(days), "days=%d", days)
	}
}

func TestDaysOverdueUsesCalendarDays(t *testing.T) {
	due := day(2024, 1, 1)
	assert.Equal(t, 45, DaysOverdue(due, day(2024, 2, 15)))
	assert.Equal(t, 0, DaysOverdue(due, day(2023, 12, 1)))
	assert.Equal(t, 1, DaysOverdue(due, time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC)))
	assert.Equal(t, 0, DaysOverdue(due, time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)))
}

func TestClassifyFortyFiveDays(t *testing.T) {
	inv := invoice(uuid.New(), "INV-1", day(2024, 1, 1), "110.00", "60.00", ar.StatusSent)
	c, err := Classify(inv, day(2024, 2, 15))
	require.NoError(t, err)
	assert.Equal(t, 45, c.DaysOverdue)
	assert.Equal(t, BucketDays31To60, c.Bucket)
	assert.Equal(t, "50.00", c.Amount.StringFixed(2))
}

func TestClassifyReportsCorruptLedger(t *testing.T) {
	inv := invoice(uuid.New(), "INV-1", day(2024, 1, 1), "10.00", "11.00", ar.StatusSent)
	_, err := Classify(inv, day(2024, 2, 15))
	require.ErrorIs(t, err, ar.ErrLedgerInvariantViolation)
}

func TestClassifyAllFiltersParticipants(t *testing.T) {
	cust := uuid.New()
	due := day(2024, 1, 1)
	invoices := []ar.Invoice{
		invoice(cust, "sent", due, "100.00", "0", ar.StatusSent),
		invoice(cust, "overdue", due, "100.00", "0", ar.StatusOverdue),
		invoice(cust, "paid", due, "100.00", "100.00", ar.StatusPaid),
		invoice(cust, "draft", due, "100.00", "0", ar.StatusDraft),
		invoice(cust, "cancelled", due, "100.00", "0", ar.StatusCancelled),
	}
	asOf := day(2024, 2, 1)

	cs, err := ClassifyAll(invoices, asOf, false)
	require.NoError(t, err)
	require.Len(t, cs, 2)

	cs, err = ClassifyAll(invoices, asOf, true)
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.True(t, cs[2].Amount.IsZero())
	assert.Equal(t, "paid", cs[2].InvoiceNumber)
}
