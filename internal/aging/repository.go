package aging

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arvalox/arvalox/internal/ar"
)

// PGRepository reads receivables from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListReceivables loads issued invoices without line items, oldest due first.
func (r *PGRepository) ListReceivables(ctx context.Context, orgID uuid.UUID, filter ReceivableFilter) ([]ar.Invoice, error) {
	statuses := []string{string(ar.StatusSent), string(ar.StatusOverdue)}
	if filter.IncludePaid {
		statuses = append(statuses, string(ar.StatusPaid))
	}
	conds := []string{"organization_id = $1", "status = ANY($2)"}
	args := []any{orgID, statuses}
	if !filter.IncludePaid {
		conds = append(conds, "total_amount > paid_amount")
	}
	if filter.CustomerID != uuid.Nil {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	query := `SELECT id, organization_id, customer_id, invoice_number, currency, invoice_date, due_date,
		subtotal, tax_amount, total_amount, paid_amount, status
		FROM invoices WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY due_date, invoice_number`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ar.Invoice, error) {
		var inv ar.Invoice
		err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.CustomerID, &inv.Number, &inv.Currency,
			&inv.InvoiceDate, &inv.DueDate, &inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount, &inv.PaidAmount, &inv.Status)
		return inv, err
	})
}

// CustomerNames maps the organization's customer IDs to display names.
func (r *PGRepository) CustomerNames(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM customers WHERE organization_id = $1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make(map[uuid.UUID]string)
	for rows.Next() {
		var (
			id   uuid.UUID
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}
