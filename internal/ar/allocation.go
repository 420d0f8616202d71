package ar

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arvalox/arvalox/internal/money"
	"github.com/arvalox/arvalox/internal/shared"
)

// AllocatePayment splits one remittance across the listed invoices in a single transaction.
// Every invoice is locked in ID order before any is changed. Shares must add up to the
// remittance exactly; an unallocated remainder fails with ErrOverpaymentRejected.
func (s *Service) AllocatePayment(ctx context.Context, orgID uuid.UUID, input AllocatePaymentInput) (AllocationResult, error) {
	template, err := s.newRemittance(orgID, input.Remittance, PaymentCompleted)
	if err != nil {
		return AllocationResult{}, err
	}
	lines, err := CheckAllocationLines(input.Allocations, template.Amount)
	if err != nil {
		return AllocationResult{}, err
	}
	ids := make([]uuid.UUID, len(lines))
	for i, line := range lines {
		ids[i] = line.InvoiceID
	}
	release, err := s.claim(ctx, orgID, input.IdempotencyKey)
	if err != nil {
		return AllocationResult{}, err
	}
	var result AllocationResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := lockInvoices(ctx, tx, orgID, ids)
		if err != nil {
			return err
		}
		result = AllocationResult{}
		for _, line := range lines {
			inv := locked[line.InvoiceID]
			if err := s.applyShare(ctx, tx, &inv, line.Amount, template, &result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		release(ctx)
		s.reportLedgerError(orgID, template.ID, err)
		return AllocationResult{}, err
	}
	s.recordAllocation(ctx, orgID, "payment.allocated", result)
	return result, nil
}

// AutoAllocate applies a remittance to open invoices, oldest due date first, in one transaction.
// The whole amount must be absorbed; any remainder fails with ErrOverpaymentRejected.
func (s *Service) AutoAllocate(ctx context.Context, orgID uuid.UUID, input AutoAllocateInput) (AllocationResult, error) {
	template, err := s.newRemittance(orgID, input.Remittance, PaymentCompleted)
	if err != nil {
		return AllocationResult{}, err
	}
	open, err := s.repo.ListOpenInvoices(ctx, orgID, input.CustomerID)
	if err != nil {
		return AllocationResult{}, fmt.Errorf("list open invoices: %w", err)
	}
	if len(open) == 0 {
		return AllocationResult{}, fmt.Errorf("%w: no outstanding invoices", ErrOverpaymentRejected)
	}
	ids := make([]uuid.UUID, len(open))
	for i, inv := range open {
		ids[i] = inv.ID
	}
	release, err := s.claim(ctx, orgID, input.IdempotencyKey)
	if err != nil {
		return AllocationResult{}, err
	}
	var result AllocationResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := lockInvoices(ctx, tx, orgID, ids)
		if err != nil {
			return err
		}
		current := make([]Invoice, 0, len(locked))
		for _, id := range ids {
			current = append(current, locked[id])
		}
		plan, remaining, err := PlanAllocation(current, template.Amount)
		if err != nil {
			return err
		}
		if remaining.IsPositive() {
			return fmt.Errorf("%w: %s of %s left unallocated", ErrOverpaymentRejected,
				remaining.StringFixed(money.Scale), template.Amount.StringFixed(money.Scale))
		}
		result = AllocationResult{}
		for _, share := range plan {
			inv := locked[share.InvoiceID]
			if err := s.applyShare(ctx, tx, &inv, share.Amount, template, &result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		release(ctx)
		s.reportLedgerError(orgID, template.ID, err)
		return AllocationResult{}, err
	}
	s.recordAllocation(ctx, orgID, "payment.auto_allocated", result)
	return result, nil
}

// AllocationSuggestions shows how AutoAllocate would spread amount without writing anything.
func (s *Service) AllocationSuggestions(ctx context.Context, orgID uuid.UUID, amount decimal.Decimal, customerID uuid.UUID) (AllocationPlan, error) {
	if orgID == uuid.Nil {
		return AllocationPlan{}, shared.ErrOrganizationRequired
	}
	open, err := s.repo.ListOpenInvoices(ctx, orgID, customerID)
	if err != nil {
		return AllocationPlan{}, fmt.Errorf("list open invoices: %w", err)
	}
	plan, remaining, err := PlanAllocation(open, amount)
	if err != nil {
		return AllocationPlan{}, err
	}
	if plan == nil {
		plan = []Allocation{}
	}
	amount = money.Round(amount)
	return AllocationPlan{
		Amount:      amount,
		Allocated:   money.Sub(amount, remaining),
		Unallocated: remaining,
		Allocations: plan,
	}, nil
}

// lockInvoices takes the row locks for ids in ascending ID order.
func lockInvoices(ctx context.Context, tx TxRepository, orgID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]Invoice, error) {
	ordered := slices.Clone(ids)
	slices.SortFunc(ordered, compareIDs)
	locked := make(map[uuid.UUID]Invoice, len(ordered))
	for _, id := range ordered {
		inv, err := tx.GetInvoiceForUpdate(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		locked[id] = inv
	}
	return locked, nil
}

// applyShare applies amount to a locked invoice and writes one completed payment for it.
func (s *Service) applyShare(ctx context.Context, tx TxRepository, inv *Invoice, amount decimal.Decimal, template Payment, result *AllocationResult) error {
	before, err := OutstandingBalance(*inv)
	if err != nil {
		return err
	}
	if err := ApplyPayment(inv, amount, s.now()); err != nil {
		return fmt.Errorf("invoice %s: %w", inv.Number, err)
	}
	if err := CheckInvariants(*inv); err != nil {
		return err
	}
	if err := tx.UpdateInvoiceLedger(ctx, *inv); err != nil {
		return err
	}
	p := template
	p.ID = uuid.New()
	p.InvoiceID = inv.ID
	p.Amount = amount
	if err := tx.InsertPayment(ctx, p); err != nil {
		return err
	}
	result.Payments = append(result.Payments, p)
	result.Allocations = append(result.Allocations, Allocation{
		InvoiceID:         inv.ID,
		InvoiceNumber:     inv.Number,
		DueDate:           inv.DueDate,
		Amount:            amount,
		OutstandingBefore: before,
		OutstandingAfter:  money.Sub(before, amount),
		InvoiceStatus:     inv.Status,
		PaymentID:         p.ID,
	})
	return nil
}

func (s *Service) recordAllocation(ctx context.Context, orgID uuid.UUID, action string, result AllocationResult) {
	for _, a := range result.Allocations {
		s.record(ctx, orgID, action, "payment", a.PaymentID, map[string]any{
			"invoice_id": a.InvoiceID.String(),
			"amount":     a.Amount.StringFixed(money.Scale),
			"status":     string(a.InvoiceStatus),
		})
	}
	s.logger.Debug("payment allocated", slog.String("organization_id", orgID.String()),
		slog.Int("invoices", len(result.Allocations)))
}
