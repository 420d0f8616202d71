package ar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arvalox/arvalox/internal/money"
	"github.com/arvalox/arvalox/internal/platform/clock"
	"github.com/arvalox/arvalox/internal/shared"
	"github.com/arvalox/arvalox/internal/usage"
)

const (
	idempotencyModulePayments = "ar.payments"
	defaultPaymentTermDays    = 30
)

// Repository exposes read access and the transactional boundary for the ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, orgID, id uuid.UUID) (Invoice, error)
	ListInvoices(ctx context.Context, orgID uuid.UUID, req ListInvoicesRequest) ([]Invoice, error)
	GetPayment(ctx context.Context, orgID, id uuid.UUID) (Payment, error)
	ListPayments(ctx context.Context, orgID, invoiceID uuid.UUID) ([]Payment, error)
	ListOverdueCandidates(ctx context.Context, orgID uuid.UUID, asOf time.Time) ([]uuid.UUID, error)
	ListOrganizationsWithReceivables(ctx context.Context) ([]uuid.UUID, error)
	ListOpenInvoices(ctx context.Context, orgID, customerID uuid.UUID) ([]Invoice, error)
}

// TxRepository exposes operations that run inside one transaction.
// The ForUpdate readers hold the row until the transaction ends.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, orgID, id uuid.UUID) (Invoice, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	UpdateInvoiceLedger(ctx context.Context, inv Invoice) error
	GetPaymentForUpdate(ctx context.Context, orgID, id uuid.UUID) (Payment, error)
	InsertPayment(ctx context.Context, p Payment) error
	UpdatePayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, orgID, id uuid.UUID) error
}

// UsageGate meters gated actions against the organization's plan.
type UsageGate interface {
	Guard(ctx context.Context, orgID uuid.UUID, action usage.Action, fn func(context.Context) error) error
}

// AuditRecorder stores audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard claims and releases request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, orgID uuid.UUID, key, module string) error
	Delete(ctx context.Context, orgID uuid.UUID, key, module string) error
}

// Service coordinates the invoice ledger and payment allocation.
type Service struct {
	repo   Repository
	gate   UsageGate
	audit  AuditRecorder
	idem   IdempotencyGuard
	logger *slog.Logger
	clock  clock.Clock
}

// NewService builds Service instance. gate, audit and idem may be nil.
func NewService(repo Repository, gate UsageGate, audit AuditRecorder, idem IdempotencyGuard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, gate: gate, audit: audit, idem: idem, logger: logger, clock: clock.System{}}
}

// WithClock overrides the clock, mainly for tests.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = clock.OrSystem(c)
	return s
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

// CreateInvoice prices and stores a draft invoice, metered against the plan's invoice limit.
func (s *Service) CreateInvoice(ctx context.Context, orgID uuid.UUID, input CreateInvoiceInput) (Invoice, error) {
	inv, err := s.buildInvoice(orgID, input)
	if err != nil {
		return Invoice{}, err
	}
	create := func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return tx.InsertInvoice(ctx, inv)
		})
	}
	if s.gate != nil {
		err = s.gate.Guard(ctx, orgID, usage.ActionCreateInvoice, create)
	} else {
		err = create(ctx)
	}
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, orgID, "invoice.created", "invoice", inv.ID, map[string]any{
		"number": inv.Number,
		"total":  inv.TotalAmount.StringFixed(money.Scale),
	})
	return inv, nil
}

func (s *Service) buildInvoice(orgID uuid.UUID, input CreateInvoiceInput) (Invoice, error) {
	if orgID == uuid.Nil {
		return Invoice{}, shared.ErrOrganizationRequired
	}
	if input.CustomerID == uuid.Nil {
		return Invoice{}, fmt.Errorf("%w: customer required", ErrInvalidInvoice)
	}
	if len(input.Items) == 0 {
		return Invoice{}, fmt.Errorf("%w: at least one line item required", ErrInvalidLineItem)
	}
	currency, err := money.NormalizeCurrency(input.Currency)
	if err != nil {
		return Invoice{}, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	now := s.now()
	invoiceDate := input.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = now
	}
	invoiceDate = clock.Date(invoiceDate)
	dueDate := input.DueDate
	if dueDate.IsZero() {
		dueDate = invoiceDate.AddDate(0, 0, defaultPaymentTermDays)
	}
	dueDate = clock.Date(dueDate)
	if dueDate.Before(invoiceDate) {
		return Invoice{}, fmt.Errorf("%w: due date precedes invoice date", ErrInvalidInvoice)
	}
	items, err := PriceLines(input.Items)
	if err != nil {
		return Invoice{}, err
	}
	totals, err := ComputeTotals(input.Items, input.TaxRate)
	if err != nil {
		return Invoice{}, err
	}
	id := uuid.New()
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = fmt.Sprintf("INV-%s-%s", invoiceDate.Format("200601"), strings.ToUpper(id.String()[:8]))
	}
	return Invoice{
		ID:             id,
		OrganizationID: orgID,
		CustomerID:     input.CustomerID,
		Number:         number,
		Currency:       currency,
		InvoiceDate:    invoiceDate,
		DueDate:        dueDate,
		Items:          items,
		TaxRate:        input.TaxRate,
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.TaxAmount,
		TotalAmount:    totals.TotalAmount,
		PaidAmount:     money.Zero(),
		Status:         StatusDraft,
		Notes:          input.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IssueInvoice moves a draft invoice to sent. An invoice with nothing to collect
// is settled to paid in the same transaction.
func (s *Service) IssueInvoice(ctx context.Context, orgID, id uuid.UUID) (Invoice, error) {
	return s.transition(ctx, orgID, id, StatusSent)
}

// CancelInvoice cancels a draft, sent or overdue invoice.
func (s *Service) CancelInvoice(ctx context.Context, orgID, id uuid.UUID) (Invoice, error) {
	return s.transition(ctx, orgID, id, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, orgID, id uuid.UUID, target InvoiceStatus) (Invoice, error) {
	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		from := inv.Status
		now := s.now()
		if err := Transition(&inv, target, now); err != nil {
			return err
		}
		if target == StatusSent {
			balance, err := OutstandingBalance(inv)
			if err != nil {
				return err
			}
			if balance.IsZero() {
				if err := Transition(&inv, StatusPaid, now); err != nil {
					return err
				}
			}
		}
		if err := tx.UpdateInvoiceLedger(ctx, inv); err != nil {
			return err
		}
		updated = inv
		s.logger.Debug("invoice transitioned", slog.String("invoice_id", id.String()),
			slog.String("from", string(from)), slog.String("to", string(inv.Status)))
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, orgID, "invoice."+string(target), "invoice", id, nil)
	if updated.Status != target {
		s.record(ctx, orgID, "invoice."+string(updated.Status), "invoice", id, nil)
	}
	return updated, nil
}

// MarkOverdue moves sent invoices past their due date with a positive balance to overdue.
// Each invoice is handled in its own transaction; the count of transitioned invoices is returned.
func (s *Service) MarkOverdue(ctx context.Context, orgID uuid.UUID, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	ids, err := s.repo.ListOverdueCandidates(ctx, orgID, asOf)
	if err != nil {
		return 0, fmt.Errorf("list overdue candidates: %w", err)
	}
	marked := 0
	for _, id := range ids {
		changed := false
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			inv, err := tx.GetInvoiceForUpdate(ctx, orgID, id)
			if err != nil {
				return err
			}
			if CanTransition(inv, StatusOverdue, asOf) != nil {
				return nil
			}
			if err := Transition(&inv, StatusOverdue, asOf); err != nil {
				return err
			}
			changed = true
			return tx.UpdateInvoiceLedger(ctx, inv)
		})
		if err != nil {
			return marked, fmt.Errorf("mark invoice %s overdue: %w", id, err)
		}
		if changed {
			marked++
		}
	}
	return marked, nil
}

// RecordPayment applies a completed payment to an invoice under the invoice's row lock.
func (s *Service) RecordPayment(ctx context.Context, orgID uuid.UUID, input RecordPaymentInput) (Payment, Invoice, error) {
	payment, err := s.newPayment(orgID, input, PaymentCompleted)
	if err != nil {
		return Payment{}, Invoice{}, err
	}
	release, err := s.claim(ctx, orgID, input.IdempotencyKey)
	if err != nil {
		return Payment{}, Invoice{}, err
	}
	var updated Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, orgID, input.InvoiceID)
		if err != nil {
			return err
		}
		if err := ApplyPayment(&inv, payment.Amount, s.now()); err != nil {
			return err
		}
		if err := CheckInvariants(inv); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceLedger(ctx, inv); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		release(ctx)
		s.reportLedgerError(orgID, input.InvoiceID, err)
		return Payment{}, Invoice{}, err
	}
	s.record(ctx, orgID, "payment.recorded", "payment", payment.ID, map[string]any{
		"invoice_id": payment.InvoiceID.String(),
		"amount":     payment.Amount.StringFixed(money.Scale),
		"status":     string(updated.Status),
	})
	return payment, updated, nil
}

// RecordPendingPayment stores a pending payment, e.g. when a gateway checkout starts.
// The invoice ledger is untouched until the payment completes.
func (s *Service) RecordPendingPayment(ctx context.Context, orgID uuid.UUID, input RecordPaymentInput) (Payment, error) {
	payment, err := s.newPayment(orgID, input, PaymentPending)
	if err != nil {
		return Payment{}, err
	}
	release, err := s.claim(ctx, orgID, input.IdempotencyKey)
	if err != nil {
		return Payment{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, orgID, input.InvoiceID)
		if err != nil {
			return err
		}
		if err := CheckAllocation(inv, payment.Amount, money.Zero()); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		release(ctx)
		return Payment{}, err
	}
	s.record(ctx, orgID, "payment.pending", "payment", payment.ID, map[string]any{
		"invoice_id": payment.InvoiceID.String(),
		"amount":     payment.Amount.StringFixed(money.Scale),
	})
	return payment, nil
}

// EditPayment updates a pending or failed payment.
func (s *Service) EditPayment(ctx context.Context, orgID, paymentID uuid.UUID, upd PaymentUpdate) (Payment, error) {
	var updated Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, orgID, paymentID)
		if err != nil {
			return err
		}
		if err := EnsurePaymentMutable(p); err != nil {
			return err
		}
		inv, err := tx.GetInvoiceForUpdate(ctx, orgID, p.InvoiceID)
		if err != nil {
			return err
		}
		if err := ApplyPaymentUpdate(&p, inv, upd, s.now()); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.record(ctx, orgID, "payment.edited", "payment", paymentID, map[string]any{
		"amount": updated.Amount.StringFixed(money.Scale),
	})
	return updated, nil
}

// DeletePayment removes a pending or failed payment. It never contributed to the ledger.
func (s *Service) DeletePayment(ctx context.Context, orgID, paymentID uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, orgID, paymentID)
		if err != nil {
			return err
		}
		if err := EnsurePaymentMutable(p); err != nil {
			return err
		}
		return tx.DeletePayment(ctx, orgID, paymentID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, orgID, "payment.deleted", "payment", paymentID, nil)
	return nil
}

// UpdatePaymentStatus moves a payment through its state machine.
// Completing a payment applies it to the invoice under the invoice's row lock.
func (s *Service) UpdatePaymentStatus(ctx context.Context, orgID, paymentID uuid.UUID, target PaymentStatus) (Payment, Invoice, error) {
	if !target.Valid() {
		return Payment{}, Invoice{}, fmt.Errorf("%w: unknown status %q", ErrInvalidPayment, target)
	}
	var (
		updated Payment
		invoice Invoice
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, orgID, paymentID)
		if err != nil {
			return err
		}
		if err := CanTransitionPayment(p.Status, target); err != nil {
			return err
		}
		inv, err := tx.GetInvoiceForUpdate(ctx, orgID, p.InvoiceID)
		if err != nil {
			return err
		}
		now := s.now()
		if target == PaymentCompleted {
			if err := ApplyPayment(&inv, p.Amount, now); err != nil {
				return err
			}
			if err := CheckInvariants(inv); err != nil {
				return err
			}
			if err := tx.UpdateInvoiceLedger(ctx, inv); err != nil {
				return err
			}
		}
		p.Status = target
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		updated, invoice = p, inv
		return nil
	})
	if err != nil {
		s.reportLedgerError(orgID, paymentID, err)
		return Payment{}, Invoice{}, err
	}
	s.record(ctx, orgID, "payment."+string(target), "payment", paymentID, map[string]any{
		"invoice_id": updated.InvoiceID.String(),
	})
	return updated, invoice, nil
}

// GetInvoice returns an invoice owned by the organization.
func (s *Service) GetInvoice(ctx context.Context, orgID, id uuid.UUID) (Invoice, error) {
	return s.repo.GetInvoice(ctx, orgID, id)
}

// ListInvoices returns the organization's invoices.
func (s *Service) ListInvoices(ctx context.Context, orgID uuid.UUID, req ListInvoicesRequest) ([]Invoice, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInvoice, req.Status)
	}
	return s.repo.ListInvoices(ctx, orgID, req)
}

// OutstandingBalance loads an invoice and returns total minus paid.
func (s *Service) OutstandingBalance(ctx context.Context, orgID, id uuid.UUID) (decimal.Decimal, error) {
	inv, err := s.repo.GetInvoice(ctx, orgID, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return OutstandingBalance(inv)
}

// GetInvoiceChecked loads an invoice and fails when its ledger is inconsistent.
func (s *Service) GetInvoiceChecked(ctx context.Context, orgID, id uuid.UUID) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, orgID, id)
	if err != nil {
		return Invoice{}, err
	}
	if err := CheckInvariants(inv); err != nil {
		s.reportLedgerError(orgID, id, err)
		return Invoice{}, err
	}
	return inv, nil
}

// GetPayment returns a payment owned by the organization.
func (s *Service) GetPayment(ctx context.Context, orgID, id uuid.UUID) (Payment, error) {
	return s.repo.GetPayment(ctx, orgID, id)
}

// ListPayments returns the payments recorded against an invoice.
func (s *Service) ListPayments(ctx context.Context, orgID, invoiceID uuid.UUID) ([]Payment, error) {
	if _, err := s.repo.GetInvoice(ctx, orgID, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, orgID, invoiceID)
}

// OrganizationsWithReceivables lists organizations holding sent invoices.
func (s *Service) OrganizationsWithReceivables(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListOrganizationsWithReceivables(ctx)
}

func (s *Service) newPayment(orgID uuid.UUID, input RecordPaymentInput, status PaymentStatus) (Payment, error) {
	p, err := s.newRemittance(orgID, Remittance{
		Amount:          input.Amount,
		PaymentDate:     input.PaymentDate,
		Method:          input.Method,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
	}, status)
	if err != nil {
		return Payment{}, err
	}
	if input.InvoiceID == uuid.Nil {
		return Payment{}, fmt.Errorf("%w: invoice required", ErrInvalidPayment)
	}
	p.InvoiceID = input.InvoiceID
	return p, nil
}

// newRemittance validates the money received and returns a payment without an invoice.
func (s *Service) newRemittance(orgID uuid.UUID, in Remittance, status PaymentStatus) (Payment, error) {
	if orgID == uuid.Nil {
		return Payment{}, shared.ErrOrganizationRequired
	}
	amount := money.Round(in.Amount)
	if err := money.RequirePositive(amount); err != nil {
		return Payment{}, err
	}
	if !in.Method.Valid() {
		return Payment{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidPayment, in.Method)
	}
	now := s.now()
	paymentDate := in.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}
	return Payment{
		ID:              uuid.New(),
		OrganizationID:  orgID,
		PaymentDate:     clock.Date(paymentDate),
		Amount:          amount,
		Method:          in.Method,
		Status:          status,
		ReferenceNumber: strings.TrimSpace(in.ReferenceNumber),
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// claim reserves the idempotency key and returns a release func for failed processing.
func (s *Service) claim(ctx context.Context, orgID uuid.UUID, key string) (func(context.Context), error) {
	if key == "" || s.idem == nil {
		return func(context.Context) {}, nil
	}
	if err := s.idem.CheckAndInsert(ctx, orgID, key, idempotencyModulePayments); err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		if err := s.idem.Delete(context.WithoutCancel(ctx), orgID, key, idempotencyModulePayments); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) reportLedgerError(orgID, entityID uuid.UUID, err error) {
	if errors.Is(err, ErrLedgerInvariantViolation) {
		s.logger.Error("ledger invariant violated",
			slog.String("organization_id", orgID.String()),
			slog.String("entity_id", entityID.String()),
			slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, orgID uuid.UUID, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		OrganizationID: orgID,
		ActorID:        shared.ActorFromContext(ctx),
		Action:         action,
		Entity:         entity,
		EntityID:       id.String(),
		Meta:           meta,
		At:             s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
