package ar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arvalox/arvalox/internal/platform/db"
)

// PGRepository provides PostgreSQL backed persistence for the ledger.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const invoiceColumns = `id, organization_id, customer_id, invoice_number, currency, invoice_date, due_date,
	tax_rate, subtotal, tax_amount, total_amount, paid_amount, status, COALESCE(notes, ''),
	sent_at, paid_at, cancelled_at, created_at, updated_at`

const paymentColumns = `id, organization_id, invoice_id, payment_date, amount, payment_method, status,
	COALESCE(reference_number, ''), COALESCE(notes, ''), created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.CustomerID, &inv.Number, &inv.Currency, &inv.InvoiceDate, &inv.DueDate,
		&inv.TaxRate, &inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount, &inv.PaidAmount, &inv.Status, &inv.Notes,
		&inv.SentAt, &inv.PaidAt, &inv.CancelledAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	return inv, err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.OrganizationID, &p.InvoiceID, &p.PaymentDate, &p.Amount, &p.Method, &p.Status,
		&p.ReferenceNumber, &p.Notes, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func getInvoice(ctx context.Context, q dbtx, orgID, id uuid.UUID, lock bool) (Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE organization_id = $1 AND id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	items, err := listItems(ctx, q, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Items = items
	return inv, nil
}

func listItems(ctx context.Context, q dbtx, invoiceID uuid.UUID) ([]LineItem, error) {
	rows, err := q.Query(ctx, `SELECT description, quantity, unit_price, line_total
		FROM invoice_items WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LineItem
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.Description, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func getPayment(ctx context.Context, q dbtx, orgID, id uuid.UUID, lock bool) (Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE organization_id = $1 AND id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	p, err := scanPayment(q.QueryRow(ctx, query, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

// GetInvoice loads an invoice with its items.
func (r *PGRepository) GetInvoice(ctx context.Context, orgID, id uuid.UUID) (Invoice, error) {
	return getInvoice(ctx, r.pool, orgID, id, false)
}

// ListInvoices returns invoice headers without items.
func (r *PGRepository) ListInvoices(ctx context.Context, orgID uuid.UUID, req ListInvoicesRequest) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE organization_id = $1`
	args := []any{orgID}
	if req.Status != "" {
		args = append(args, req.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if req.CustomerID != uuid.Nil {
		args = append(args, req.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	query += " ORDER BY invoice_date DESC, invoice_number DESC"
	if req.Limit > 0 {
		args = append(args, req.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if req.Offset > 0 {
		args = append(args, req.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return r.queryInvoices(ctx, query, args...)
}

// ListOpenInvoices returns sent and overdue invoice headers that still carry a balance,
// oldest due date first. A nil customerID spans the whole organization.
func (r *PGRepository) ListOpenInvoices(ctx context.Context, orgID, customerID uuid.UUID) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE organization_id = $1 AND status IN ('sent', 'overdue') AND total_amount > paid_amount`
	args := []any{orgID}
	if customerID != uuid.Nil {
		args = append(args, customerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	query += " ORDER BY due_date, invoice_date, id"
	return r.queryInvoices(ctx, query, args...)
}

func (r *PGRepository) queryInvoices(ctx context.Context, query string, args ...any) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// GetPayment loads a payment.
func (r *PGRepository) GetPayment(ctx context.Context, orgID, id uuid.UUID) (Payment, error) {
	return getPayment(ctx, r.pool, orgID, id, false)
}

// ListPayments returns payments for an invoice, oldest first.
func (r *PGRepository) ListPayments(ctx context.Context, orgID, invoiceID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE organization_id = $1 AND invoice_id = $2 ORDER BY payment_date, created_at`, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListOverdueCandidates returns sent invoices due before asOf that still carry a balance.
func (r *PGRepository) ListOverdueCandidates(ctx context.Context, orgID uuid.UUID, asOf time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM invoices
		WHERE organization_id = $1 AND status = 'sent' AND due_date < $2::date AND total_amount > paid_amount
		ORDER BY due_date`, orgID, asOf.UTC())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// ListOrganizationsWithReceivables returns organizations that hold sent invoices.
func (r *PGRepository) ListOrganizationsWithReceivables(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT organization_id FROM invoices WHERE status = 'sent'`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, orgID, id uuid.UUID) (Invoice, error) {
	return getInvoice(ctx, t.tx, orgID, id, true)
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoices (
			id, organization_id, customer_id, invoice_number, currency, invoice_date, due_date,
			tax_rate, subtotal, tax_amount, total_amount, paid_amount, status, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16)`,
		inv.ID, inv.OrganizationID, inv.CustomerID, inv.Number, inv.Currency, inv.InvoiceDate, inv.DueDate,
		inv.TaxRate, inv.Subtotal, inv.TaxAmount, inv.TotalAmount, inv.PaidAmount, inv.Status, inv.Notes,
		inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateInvoiceNumber, inv.Number)
		}
		return err
	}
	batch := &pgx.Batch{}
	for i, item := range inv.Items {
		batch.Queue(`INSERT INTO invoice_items (invoice_id, position, description, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)`, inv.ID, i+1, item.Description, item.Quantity, item.UnitPrice, item.LineTotal)
	}
	if batch.Len() == 0 {
		return nil
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) UpdateInvoiceLedger(ctx context.Context, inv Invoice) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices
		SET status = $3, paid_amount = $4, sent_at = $5, paid_at = $6, cancelled_at = $7, updated_at = $8
		WHERE organization_id = $1 AND id = $2`,
		inv.OrganizationID, inv.ID, inv.Status, inv.PaidAmount, inv.SentAt, inv.PaidAt, inv.CancelledAt, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepo) GetPaymentForUpdate(ctx context.Context, orgID, id uuid.UUID) (Payment, error) {
	return getPayment(ctx, t.tx, orgID, id, true)
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO payments (
			id, organization_id, invoice_id, payment_date, amount, payment_method, status,
			reference_number, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)`,
		p.ID, p.OrganizationID, p.InvoiceID, p.PaymentDate, p.Amount, p.Method, p.Status,
		p.ReferenceNumber, p.Notes, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *txRepo) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payments
		SET payment_date = $3, amount = $4, payment_method = $5, status = $6,
			reference_number = NULLIF($7, ''), notes = NULLIF($8, ''), updated_at = $9
		WHERE organization_id = $1 AND id = $2`,
		p.OrganizationID, p.ID, p.PaymentDate, p.Amount, p.Method, p.Status, p.ReferenceNumber, p.Notes, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *txRepo) DeletePayment(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
