package aging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/arvalox/arvalox/internal/ar"
	"github.com/arvalox/arvalox/internal/platform/clock"
)

const unknownCustomer = "Unknown"

// ReceivableFilter narrows the receivables loaded for a report.
type ReceivableFilter struct {
	CustomerID  uuid.UUID
	IncludePaid bool
}

// Repository reads ledger snapshots for reporting.
type Repository interface {
	// ListReceivables returns sent and overdue invoices, plus paid ones when IncludePaid.
	ListReceivables(ctx context.Context, orgID uuid.UUID, filter ReceivableFilter) ([]ar.Invoice, error)
	CustomerNames(ctx context.Context, orgID uuid.UUID) (map[uuid.UUID]string, error)
}

// ReportParams selects the as-of date and scope of a report. A zero AsOf means today.
type ReportParams struct {
	AsOf        time.Time
	CustomerID  uuid.UUID
	IncludePaid bool
}

// Service builds aging reports on demand.
type Service struct {
	repo    Repository
	logger  *slog.Logger
	clock   clock.Clock
	atRisk  decimal.Decimal
	reports singleflight.Group
}

// NewService constructs the aging service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, clock: clock.System{}, atRisk: DefaultAtRiskThreshold}
}

// WithClock overrides the clock that supplies "today".
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = clock.OrSystem(c)
	return s
}

// WithAtRiskThreshold sets the 61+ day exposure that flags a customer.
func (s *Service) WithAtRiskThreshold(threshold decimal.Decimal) *Service {
	if threshold.IsPositive() {
		s.atRisk = threshold
	}
	return s
}

func (s *Service) asOf(t time.Time) time.Time {
	if t.IsZero() {
		t = s.clock.Now()
	}
	return clock.Date(t)
}

// Report builds the full aging report. Identical concurrent requests share one build.
func (s *Service) Report(ctx context.Context, orgID uuid.UUID, params ReportParams) (Report, error) {
	asOf := s.asOf(params.AsOf)
	key := fmt.Sprintf("%s|%s|%s|%t", orgID, asOf.Format(time.DateOnly), params.CustomerID, params.IncludePaid)
	ch := s.reports.DoChan(key, func() (any, error) {
		return s.buildReport(context.WithoutCancel(ctx), orgID, asOf, params)
	})
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Report{}, res.Err
		}
		return res.Val.(Report), nil
	}
}

func (s *Service) buildReport(ctx context.Context, orgID uuid.UUID, asOf time.Time, params ReportParams) (Report, error) {
	start := time.Now()
	cs, err := s.classify(ctx, orgID, asOf, ReceivableFilter{CustomerID: params.CustomerID, IncludePaid: params.IncludePaid})
	if err != nil {
		return Report{}, err
	}
	report := BuildReport(orgID, asOf, cs, ReportOptions{
		CustomerID:      params.CustomerID,
		IncludePaid:     params.IncludePaid,
		AtRiskThreshold: s.atRisk,
	})
	s.logger.Debug("aging report built",
		slog.String("organization_id", orgID.String()),
		slog.Int("invoices", report.TotalInvoices),
		slog.Duration("elapsed", time.Since(start)))
	return report, nil
}

// Summary returns the organization-wide bucket totals.
func (s *Service) Summary(ctx context.Context, orgID uuid.UUID, asOf time.Time) (Summary, error) {
	report, err := s.Report(ctx, orgID, ReportParams{AsOf: asOf})
	if err != nil {
		return Summary{}, err
	}
	return report.Summary, nil
}

// CustomerSummaries returns per-customer totals, largest first.
func (s *Service) CustomerSummaries(ctx context.Context, orgID uuid.UUID, asOf time.Time) ([]CustomerSummary, error) {
	report, err := s.Report(ctx, orgID, ReportParams{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return report.Customers, nil
}

// Overdue lists invoices at least minDays past due as of today.
func (s *Service) Overdue(ctx context.Context, orgID uuid.UUID, minDays int, customerID uuid.UUID) ([]Classification, error) {
	cs, err := s.classify(ctx, orgID, s.asOf(time.Time{}), ReceivableFilter{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	return OverdueInvoices(cs, minDays), nil
}

// Trends summarises the last months month-ends, newest first.
func (s *Service) Trends(ctx context.Context, orgID uuid.UUID, months int) ([]TrendPoint, error) {
	invoices, _, err := s.load(ctx, orgID, ReceivableFilter{}, false)
	if err != nil {
		return nil, err
	}
	return Trends(invoices, s.asOf(time.Time{}), months)
}

func (s *Service) classify(ctx context.Context, orgID uuid.UUID, asOf time.Time, filter ReceivableFilter) ([]Classification, error) {
	invoices, names, err := s.load(ctx, orgID, filter, true)
	if err != nil {
		return nil, err
	}
	cs, err := ClassifyAll(invoices, asOf, filter.IncludePaid)
	if err != nil {
		s.logger.Error("aging classification failed", slog.String("organization_id", orgID.String()), slog.Any("error", err))
		return nil, err
	}
	for i := range cs {
		name, ok := names[cs[i].CustomerID]
		if !ok {
			name = unknownCustomer
		}
		cs[i].CustomerName = name
	}
	return cs, nil
}

// load reads receivables and, when withNames, customer names in parallel.
func (s *Service) load(ctx context.Context, orgID uuid.UUID, filter ReceivableFilter, withNames bool) ([]ar.Invoice, map[uuid.UUID]string, error) {
	var (
		invoices []ar.Invoice
		names    map[uuid.UUID]string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoices, err = s.repo.ListReceivables(ctx, orgID, filter)
		if err != nil {
			return fmt.Errorf("aging: list receivables: %w", err)
		}
		return nil
	})
	if withNames {
		g.Go(func() error {
			var err error
			names, err = s.repo.CustomerNames(ctx, orgID)
			if err != nil {
				return fmt.Errorf("aging: customer names: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return invoices, names, nil
}
