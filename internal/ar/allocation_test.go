package ar

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvalox/arvalox/internal/shared"
)

// issued creates and sends a tax-free invoice for customer.
func (f *fixture) issued(t *testing.T, customer uuid.UUID, due time.Time, amount string) Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := f.svc.CreateInvoice(ctx, f.org, CreateInvoiceInput{
		CustomerID:  customer,
		InvoiceDate: day(2024, 1, 1),
		DueDate:     due,
		Items:       []LineItemInput{{Description: "Services", Quantity: dec("1"), UnitPrice: dec(amount)}},
	})
	require.NoError(t, err)
	inv, err = f.svc.IssueInvoice(ctx, f.org, inv.ID)
	require.NoError(t, err)
	return inv
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) Invoice {
	t.Helper()
	inv, err := f.svc.GetInvoice(context.Background(), f.org, id)
	require.NoError(t, err)
	return inv
}

func (f *fixture) paymentCount() int {
	f.repo.mu.RLock()
	defer f.repo.mu.RUnlock()
	return len(f.repo.payments)
}

func remittance(amount string) Remittance {
	return Remittance{Amount: dec(amount), Method: MethodBankTransfer, ReferenceNumber: "REM-1"}
}

func TestAllocatePaymentSplitsAcrossInvoices(t *testing.T) {
	f := newFixture(t)
	customer := uuid.New()
	a := f.issued(t, customer, day(2024, 2, 1), "100.00")
	b := f.issued(t, customer, day(2024, 3, 1), "50.00")
	f.repo.lockOrder = nil

	result, err := f.svc.AllocatePayment(context.Background(), f.org, AllocatePaymentInput{
		Remittance: remittance("120.00"),
		Allocations: []AllocationLine{
			{InvoiceID: b.ID, Amount: dec("20.00")},
			{InvoiceID: a.ID, Amount: dec("100.00")},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Payments, 2)
	require.Len(t, result.Allocations, 2)

	assert.Equal(t, b.ID, result.Allocations[0].InvoiceID)
	assert.Equal(t, "30.00", result.Allocations[0].OutstandingAfter.StringFixed(2))
	assert.Equal(t, StatusSent, result.Allocations[0].InvoiceStatus)
	assert.Equal(t, a.ID, result.Allocations[1].InvoiceID)
	assert.Equal(t, StatusPaid, result.Allocations[1].InvoiceStatus)
	for i, p := range result.Payments {
		assert.Equal(t, PaymentCompleted, p.Status)
		assert.Equal(t, "REM-1", p.ReferenceNumber)
		assert.Equal(t, p.ID, result.Allocations[i].PaymentID)
	}

	assert.Equal(t, StatusPaid, f.stored(t, a.ID).Status)
	assert.Equal(t, "20.00", f.stored(t, b.ID).PaidAmount.StringFixed(2))
	assert.True(t, slices.IsSortedFunc(f.repo.lockOrder, compareIDs), "invoice locks taken out of ID order")
	assert.Contains(t, f.audit.actions, "payment.allocated")
}

func TestAllocatePaymentRejectsBadSplits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := uuid.New()
	a := f.issued(t, customer, day(2024, 2, 1), "100.00")
	b := f.issued(t, customer, day(2024, 3, 1), "50.00")

	cases := []struct {
		name   string
		amount string
		lines  []AllocationLine
		want   error
	}{
		{"remainder left over", "130.00", []AllocationLine{{a.ID, dec("100.00")}, {b.ID, dec("20.00")}}, ErrOverpaymentRejected},
		{"shares above payment", "100.00", []AllocationLine{{a.ID, dec("100.00")}, {b.ID, dec("20.00")}}, ErrInvalidPayment},
		{"share above balance", "160.00", []AllocationLine{{a.ID, dec("100.00")}, {b.ID, dec("60.00")}}, ErrOverpaymentRejected},
		{"duplicate invoice", "20.00", []AllocationLine{{a.ID, dec("10.00")}, {a.ID, dec("10.00")}}, ErrInvalidPayment},
		{"no shares", "20.00", nil, ErrInvalidPayment},
		{"unknown invoice", "20.00", []AllocationLine{{a.ID, dec("10.00")}, {uuid.New(), dec("10.00")}}, ErrInvoiceNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AllocatePayment(ctx, f.org, AllocatePaymentInput{
				Remittance:  remittance(tc.amount),
				Allocations: tc.lines,
			})
			require.ErrorIs(t, err, tc.want)
			assert.True(t, f.stored(t, a.ID).PaidAmount.IsZero())
			assert.True(t, f.stored(t, b.ID).PaidAmount.IsZero())
			assert.Zero(t, f.paymentCount())
		})
	}
}

func TestAllocatePaymentRejectsDraftAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := uuid.New()
	sent := f.issued(t, customer, day(2024, 2, 1), "100.00")
	draft, err := f.svc.CreateInvoice(ctx, f.org, CreateInvoiceInput{
		CustomerID: customer,
		Items:      []LineItemInput{{Quantity: dec("1"), UnitPrice: dec("40.00")}},
	})
	require.NoError(t, err)

	_, err = f.svc.AllocatePayment(ctx, f.org, AllocatePaymentInput{
		Remittance:  remittance("140.00"),
		Allocations: []AllocationLine{{sent.ID, dec("100.00")}, {draft.ID, dec("40.00")}},
	})
	require.ErrorIs(t, err, ErrInvoiceNotPayable)
	assert.Equal(t, StatusSent, f.stored(t, sent.ID).Status)
	assert.Zero(t, f.paymentCount())
}

func TestAllocatePaymentIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issued(t, uuid.New(), day(2024, 2, 1), "100.00")
	input := AllocatePaymentInput{
		Remittance:  remittance("10.00"),
		Allocations: []AllocationLine{{inv.ID, dec("10.00")}},
	}
	input.IdempotencyKey = "remit-1"

	_, err := f.svc.AllocatePayment(ctx, f.org, input)
	require.NoError(t, err)
	_, err = f.svc.AllocatePayment(ctx, f.org, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Equal(t, 1, f.paymentCount())
}

func TestAutoAllocateOldestDueFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer, other := uuid.New(), uuid.New()
	march := f.issued(t, customer, day(2024, 3, 1), "100.00")
	feb := f.issued(t, customer, day(2024, 2, 15), "50.00")
	april := f.issued(t, customer, day(2024, 4, 1), "80.00")
	foreign := f.issued(t, other, day(2024, 1, 15), "40.00")
	f.repo.lockOrder = nil

	// Partial: the oldest invoice settles, the next one takes the rest.
	result, err := f.svc.AutoAllocate(ctx, f.org, AutoAllocateInput{Remittance: remittance("120.00"), CustomerID: customer})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, feb.ID, result.Allocations[0].InvoiceID)
	assert.Equal(t, StatusPaid, result.Allocations[0].InvoiceStatus)
	assert.Equal(t, march.ID, result.Allocations[1].InvoiceID)
	assert.Equal(t, "70.00", result.Allocations[1].Amount.StringFixed(2))
	assert.Equal(t, "30.00", result.Allocations[1].OutstandingAfter.StringFixed(2))
	assert.True(t, f.stored(t, april.ID).PaidAmount.IsZero())
	assert.True(t, f.stored(t, foreign.ID).PaidAmount.IsZero())
	assert.True(t, slices.IsSortedFunc(f.repo.lockOrder, compareIDs), "invoice locks taken out of ID order")

	// Exact: the remaining balances absorb the whole amount.
	result, err = f.svc.AutoAllocate(ctx, f.org, AutoAllocateInput{Remittance: remittance("110.00"), CustomerID: customer})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, StatusPaid, f.stored(t, march.ID).Status)
	assert.Equal(t, StatusPaid, f.stored(t, april.ID).Status)
	assert.Contains(t, f.audit.actions, "payment.auto_allocated")

	// Over the total: nothing is written.
	before := f.paymentCount()
	_, err = f.svc.AutoAllocate(ctx, f.org, AutoAllocateInput{Remittance: remittance("40.01")})
	require.ErrorIs(t, err, ErrOverpaymentRejected)
	assert.True(t, f.stored(t, foreign.ID).PaidAmount.IsZero())
	assert.Equal(t, before, f.paymentCount())

	_, err = f.svc.AutoAllocate(ctx, f.org, AutoAllocateInput{Remittance: remittance("1.00"), CustomerID: customer})
	require.ErrorIs(t, err, ErrOverpaymentRejected)
}

func TestAutoAllocateIncludesOverdueInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issued(t, uuid.New(), day(2024, 1, 15), "75.00")
	n, err := f.svc.MarkOverdue(ctx, f.org, testNow)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	result, err := f.svc.AutoAllocate(ctx, f.org, AutoAllocateInput{Remittance: remittance("75.00")})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, StatusPaid, f.stored(t, inv.ID).Status)
}

func TestAllocationSuggestionsWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customer := uuid.New()
	late := f.issued(t, customer, day(2024, 2, 1), "50.00")
	later := f.issued(t, customer, day(2024, 3, 1), "100.00")

	plan, err := f.svc.AllocationSuggestions(ctx, f.org, dec("200.00"), customer)
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, late.ID, plan.Allocations[0].InvoiceID)
	assert.Equal(t, later.ID, plan.Allocations[1].InvoiceID)
	assert.Equal(t, "150.00", plan.Allocated.StringFixed(2))
	assert.Equal(t, "50.00", plan.Unallocated.StringFixed(2))

	plan, err = f.svc.AllocationSuggestions(ctx, f.org, dec("60.00"), uuid.Nil)
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, "10.00", plan.Allocations[1].Amount.StringFixed(2))
	assert.True(t, plan.Unallocated.IsZero())

	assert.Zero(t, f.paymentCount())
	assert.True(t, f.stored(t, late.ID).PaidAmount.IsZero())

	_, err = f.svc.AllocationSuggestions(ctx, f.org, dec("0"), uuid.Nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPlanAllocationSkipsUnpayable(t *testing.T) {
	paid := sentInvoice("10.00", day(2024, 1, 1))
	paid.Status = StatusPaid
	paid.PaidAmount = dec("10.00")
	open := sentInvoice("30.00", day(2024, 2, 1))

	plan, remaining, err := PlanAllocation([]Invoice{open, paid}, dec("25.00"))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, open.ID, plan[0].InvoiceID)
	assert.True(t, remaining.IsZero())
}
