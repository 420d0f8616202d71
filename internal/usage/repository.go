package usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arvalox/arvalox/internal/shared"
)

// PGRepository stores usage records and resolves subscriptions in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func counterColumn(action Action) (string, error) {
	switch action {
	case ActionCreateInvoice:
		return "invoices_created", nil
	case ActionAddCustomer:
		return "customers_created", nil
	case ActionAddTeamMember:
		return "team_members_added", nil
	case ActionAPICall:
		return "api_calls_made", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// GetRecord returns the period's counters or a zero record.
func (r *PGRepository) GetRecord(ctx context.Context, orgID uuid.UUID, period shared.Period) (Record, error) {
	rec := Record{OrganizationID: orgID, Period: period}
	err := r.pool.QueryRow(ctx, `SELECT invoices_created, customers_created, team_members_added, api_calls_made
		FROM usage_records WHERE organization_id = $1 AND year = $2 AND month = $3`,
		orgID, period.Year, int(period.Month)).
		Scan(&rec.InvoicesCreated, &rec.CustomersCreated, &rec.TeamMembersAdded, &rec.APICallsMade)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Increment creates the period row on first use and bumps the counter in one statement.
func (r *PGRepository) Increment(ctx context.Context, orgID uuid.UUID, period shared.Period, action Action) (Record, error) {
	col, err := counterColumn(action)
	if err != nil {
		return Record{}, err
	}
	query := fmt.Sprintf(`INSERT INTO usage_records (organization_id, year, month, %[1]s, created_at, updated_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (organization_id, year, month)
		DO UPDATE SET %[1]s = usage_records.%[1]s + 1, updated_at = NOW()
		RETURNING invoices_created, customers_created, team_members_added, api_calls_made`, col)
	rec := Record{OrganizationID: orgID, Period: period}
	err = r.pool.QueryRow(ctx, query, orgID, period.Year, int(period.Month)).
		Scan(&rec.InvoicesCreated, &rec.CustomersCreated, &rec.TeamMembersAdded, &rec.APICallsMade)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ActiveSubscription returns the organization's latest subscription with its plan limits.
func (r *PGRepository) ActiveSubscription(ctx context.Context, orgID uuid.UUID) (*Subscription, error) {
	var (
		sub                           Subscription
		periodEnd, trialEnd           pgtype.Timestamptz
		planName                      pgtype.Text
		maxInvoices, maxCust, maxTeam pgtype.Int4
	)
	err := r.pool.QueryRow(ctx, `SELECT s.organization_id, s.status, s.current_period_end, s.trial_end,
			p.plan_type, p.name, p.max_invoices_per_month, p.max_customers, p.max_team_members
		FROM subscriptions s
		JOIN subscription_plans p ON p.id = s.plan_id
		WHERE s.organization_id = $1
		ORDER BY s.created_at DESC
		LIMIT 1`, orgID).
		Scan(&sub.OrganizationID, &sub.Status, &periodEnd, &trialEnd,
			&sub.Plan.Type, &planName, &maxInvoices, &maxCust, &maxTeam)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = periodEnd.Time
	}
	if trialEnd.Valid {
		sub.TrialEnd = trialEnd.Time
	}
	sub.Plan.Name = planName.String
	sub.Plan.Limits = Limits{
		MaxInvoicesPerMonth: nullableLimit(maxInvoices),
		MaxCustomers:        nullableLimit(maxCust),
		MaxTeamMembers:      nullableLimit(maxTeam),
	}
	return &sub, nil
}

func nullableLimit(v pgtype.Int4) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}
