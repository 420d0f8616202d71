package ar

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPaymentSettlesInvoice(t *testing.T) {
	asOf := day(2024, 2, 10)
	inv := sentInvoice("110.00", day(2024, 3, 1))

	require.NoError(t, ApplyPayment(&inv, dec("60.00"), asOf))
	assert.Equal(t, StatusSent, inv.Status)
	balance, err := OutstandingBalance(inv)
	require.NoError(t, err)
	assert.Equal(t, "50.00", balance.StringFixed(2))

	require.NoError(t, ApplyPayment(&inv, dec("50.00"), asOf))
	assert.Equal(t, StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	assert.True(t, inv.PaidAmount.Equal(inv.TotalAmount))
}

func TestApplyPaymentRejectsCumulativeOverpayment(t *testing.T) {
	asOf := day(2024, 2, 10)
	inv := sentInvoice("110.00", day(2024, 3, 1))

	require.NoError(t, ApplyPayment(&inv, dec("60.00"), asOf))
	err := ApplyPayment(&inv, dec("60.00"), asOf)
	require.ErrorIs(t, err, ErrOverpaymentRejected)
	assert.Equal(t, "60.00", inv.PaidAmount.StringFixed(2))
}

func TestApplyPaymentRejections(t *testing.T) {
	asOf := day(2024, 2, 10)

	inv := sentInvoice("10.00", day(2024, 3, 1))
	require.ErrorIs(t, ApplyPayment(&inv, decimal.Zero, asOf), ErrInvalidAmount)
	require.ErrorIs(t, ApplyPayment(&inv, dec("-5"), asOf), ErrInvalidAmount)

	for _, status := range []InvoiceStatus{StatusDraft, StatusPaid, StatusCancelled} {
		inv := sentInvoice("10.00", day(2024, 3, 1))
		inv.Status = status
		require.ErrorIs(t, ApplyPayment(&inv, dec("1.00"), asOf), ErrInvoiceNotPayable, status)
	}

	overdue := sentInvoice("10.00", day(2024, 1, 1))
	overdue.Status = StatusOverdue
	require.NoError(t, ApplyPayment(&overdue, dec("10.00"), asOf))
	assert.Equal(t, StatusPaid, overdue.Status)
}

func TestPaymentStatusTable(t *testing.T) {
	allowed := map[[2]PaymentStatus]bool{
		{PaymentPending, PaymentCompleted}: true,
		{PaymentPending, PaymentFailed}:    true,
		{PaymentPending, PaymentCancelled}: true,
		{PaymentFailed, PaymentPending}:    true,
		{PaymentFailed, PaymentCompleted}:  true,
		{PaymentFailed, PaymentCancelled}:  true,
	}
	all := []PaymentStatus{PaymentPending, PaymentCompleted, PaymentFailed, PaymentCancelled}
	for _, from := range all {
		for _, to := range all {
			err := CanTransitionPayment(from, to)
			if allowed[[2]PaymentStatus{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrIllegalStatusTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestApplyPaymentUpdate(t *testing.T) {
	asOf := day(2024, 2, 10)
	inv := sentInvoice("100.00", day(2024, 3, 1))
	inv.PaidAmount = dec("30.00")

	p := Payment{Amount: dec("20.00"), Method: MethodCash, Status: PaymentPending}
	amount := dec("70.00")
	method := MethodBankTransfer
	require.NoError(t, ApplyPaymentUpdate(&p, inv, PaymentUpdate{Amount: &amount, Method: &method}, asOf))
	assert.Equal(t, "70.00", p.Amount.StringFixed(2))
	assert.Equal(t, MethodBankTransfer, p.Method)

	tooMuch := dec("70.01")
	require.ErrorIs(t, ApplyPaymentUpdate(&p, inv, PaymentUpdate{Amount: &tooMuch}, asOf), ErrOverpaymentRejected)

	bad := PaymentMethod("barter")
	require.ErrorIs(t, ApplyPaymentUpdate(&p, inv, PaymentUpdate{Method: &bad}, asOf), ErrInvalidPayment)

	done := Payment{Amount: dec("10.00"), Status: PaymentCompleted}
	require.ErrorIs(t, ApplyPaymentUpdate(&done, inv, PaymentUpdate{Amount: &amount}, asOf), ErrPaymentNotEditable)
}
