package aging

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arvalox/arvalox/internal/ar"
	"github.com/arvalox/arvalox/internal/money"
	"github.com/arvalox/arvalox/internal/platform/clock"
)

// DefaultAtRiskThreshold is the 61+ day exposure above which a customer is flagged.
var DefaultAtRiskThreshold = decimal.NewFromInt(1000)

// ReportOptions shape a report.
type ReportOptions struct {
	CustomerID      uuid.UUID
	IncludePaid     bool
	AtRiskThreshold decimal.Decimal
}

// BuildReport assembles the full aging view from classifications. Details are sorted by days
// overdue, most overdue first.
func BuildReport(orgID uuid.UUID, asOf time.Time, cs []Classification, opts ReportOptions) Report {
	details := make([]Classification, len(cs))
	copy(details, cs)
	sortByDaysDesc(details)

	customers := SummarizeByCustomer(cs)
	report := Report{
		ReportDate:     clock.Date(asOf),
		OrganizationID: orgID,
		IncludePaid:    opts.IncludePaid,
		Summary:        Summarize(cs),
		Customers:      customers,
		Details:        details,
		Metrics:        ComputeMetrics(cs),
		Alerts:         BuildAlerts(cs, customers, opts.AtRiskThreshold),
		TotalCustomers: len(customers),
		TotalInvoices:  len(details),
	}
	if opts.CustomerID != uuid.Nil {
		id := opts.CustomerID
		report.CustomerFilter = &id
	}
	return report
}

// BuildAlerts flags critical (90+) exposure and customers whose 61+ day balance exceeds threshold.
// A non-positive threshold uses DefaultAtRiskThreshold.
func BuildAlerts(cs []Classification, customers []CustomerSummary, threshold decimal.Decimal) Alerts {
	if !threshold.IsPositive() {
		threshold = DefaultAtRiskThreshold
	}
	summary := Summarize(cs)
	alerts := Alerts{
		Critical:          summary.Over90.Count > 0,
		CriticalCount:     summary.Over90.Count,
		CriticalAmount:    summary.Over90.Amount,
		NewOverdueCount:   summary.Days1To30.Count,
		NewOverdueAmount:  summary.Days1To30.Amount,
		AtRiskCustomers:   []string{},
		TotalAtRiskAmount: money.Zero(),
		AtRiskThreshold:   threshold,
	}
	for _, c := range customers {
		risk := c.AtRisk()
		if risk.GreaterThan(threshold) {
			alerts.AtRiskCustomers = append(alerts.AtRiskCustomers, c.CustomerName)
			alerts.TotalAtRiskAmount = alerts.TotalAtRiskAmount.Add(risk)
		}
	}
	return alerts
}

// OverdueInvoices keeps classifications at least minDays overdue, most overdue first.
// minDays below 1 is treated as 1.
func OverdueInvoices(cs []Classification, minDays int) []Classification {
	minDays = max(1, minDays)
	out := make([]Classification, 0, len(cs))
	for _, c := range cs {
		if c.DaysOverdue >= minDays && c.Amount.IsPositive() {
			out = append(out, c)
		}
	}
	sortByDaysDesc(out)
	return out
}

// Trends summarises the receivables at asOf and at each of the preceding months-1 month-ends,
// newest first. Invoices dated after a point are left out of it.
func Trends(invoices []ar.Invoice, asOf time.Time, months int) ([]TrendPoint, error) {
	months = max(1, months)
	asOf = clock.Date(asOf)
	points := make([]TrendPoint, 0, months)
	for i := 0; i < months; i++ {
		at := asOf
		if i > 0 {
			firstOfMonth := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
			at = clock.MonthEnd(firstOfMonth.AddDate(0, -i, 0))
		}
		issued := make([]ar.Invoice, 0, len(invoices))
		for _, inv := range invoices {
			if !clock.Date(inv.InvoiceDate).After(at) {
				issued = append(issued, inv)
			}
		}
		cs, err := ClassifyAll(issued, at, false)
		if err != nil {
			return nil, err
		}
		points = append(points, TrendPoint{
			ReportDate:     at,
			MonthYear:      at.Format("2006-01"),
			Summary:        Summarize(cs),
			TotalCustomers: len(SummarizeByCustomer(cs)),
			TotalInvoices:  len(cs),
		})
	}
	return points, nil
}

func sortByDaysDesc(cs []Classification) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].DaysOverdue != cs[j].DaysOverdue {
			return cs[i].DaysOverdue > cs[j].DaysOverdue
		}
		return cs[i].InvoiceNumber < cs[j].InvoiceNumber
	})
}
