// Package aging classifies receivables by days overdue and folds them into collections reports.
// Everything here is derived on request from ledger snapshots and never stored.
package aging

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arvalox/arvalox/internal/ar"
)

// Bucket labels an overdue range.
type Bucket string

const (
	BucketCurrent    Bucket = "current"
	BucketDays1To30  Bucket = "days_1_30"
	BucketDays31To60 Bucket = "days_31_60"
	BucketDays61To90 Bucket = "days_61_90"
	BucketOver90     Bucket = "days_over_90"
)

// Buckets lists the buckets in report order.
var Buckets = []Bucket{BucketCurrent, BucketDays1To30, BucketDays31To60, BucketDays61To90, BucketOver90}

// Classification is one invoice's aging at an as-of date.
type Classification struct {
	InvoiceID     uuid.UUID        `json:"invoice_id"`
	InvoiceNumber string           `json:"invoice_number"`
	CustomerID    uuid.UUID        `json:"customer_id"`
	CustomerName  string           `json:"customer_name"`
	InvoiceDate   time.Time        `json:"invoice_date"`
	DueDate       time.Time        `json:"due_date"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	PaidAmount    decimal.Decimal  `json:"paid_amount"`
	Amount        decimal.Decimal  `json:"outstanding_amount"`
	DaysOverdue   int              `json:"days_overdue"`
	Bucket        Bucket           `json:"aging_bucket"`
	Status        ar.InvoiceStatus `json:"status"`
}

// BucketTotal counts invoices and sums their outstanding amounts.
type BucketTotal struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

func (t *BucketTotal) add(amount decimal.Decimal) {
	t.Count++
	t.Amount = t.Amount.Add(amount)
}

// Summary holds per-bucket totals and their sum.
type Summary struct {
	Current    BucketTotal `json:"current"`
	Days1To30  BucketTotal `json:"days_1_30"`
	Days31To60 BucketTotal `json:"days_31_60"`
	Days61To90 BucketTotal `json:"days_61_90"`
	Over90     BucketTotal `json:"days_over_90"`
	Total      BucketTotal `json:"total"`
}

// Bucket returns the totals for b.
func (s Summary) Bucket(b Bucket) BucketTotal {
	if slot := s.slot(b); slot != nil {
		return *slot
	}
	return BucketTotal{}
}

func (s *Summary) slot(b Bucket) *BucketTotal {
	switch b {
	case BucketCurrent:
		return &s.Current
	case BucketDays1To30:
		return &s.Days1To30
	case BucketDays31To60:
		return &s.Days31To60
	case BucketDays61To90:
		return &s.Days61To90
	case BucketOver90:
		return &s.Over90
	}
	return nil
}

// CustomerSummary is the per-customer bucket breakdown.
type CustomerSummary struct {
	CustomerID   uuid.UUID       `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Current      decimal.Decimal `json:"current"`
	Days1To30    decimal.Decimal `json:"days_1_30"`
	Days31To60   decimal.Decimal `json:"days_31_60"`
	Days61To90   decimal.Decimal `json:"days_61_90"`
	Over90       decimal.Decimal `json:"days_over_90"`
	Total        decimal.Decimal `json:"total"`
	InvoiceCount int             `json:"invoice_count"`
}

// Overdue is everything past due.
func (c CustomerSummary) Overdue() decimal.Decimal {
	return c.Total.Sub(c.Current)
}

// AtRisk is the 61+ day exposure.
func (c CustomerSummary) AtRisk() decimal.Decimal {
	return c.Days61To90.Add(c.Over90)
}

func (c *CustomerSummary) add(b Bucket, amount decimal.Decimal) {
	switch b {
	case BucketCurrent:
		c.Current = c.Current.Add(amount)
	case BucketDays1To30:
		c.Days1To30 = c.Days1To30.Add(amount)
	case BucketDays31To60:
		c.Days31To60 = c.Days31To60.Add(amount)
	case BucketDays61To90:
		c.Days61To90 = c.Days61To90.Add(amount)
	case BucketOver90:
		c.Over90 = c.Over90.Add(amount)
	}
	c.Total = c.Total.Add(amount)
	c.InvoiceCount++
}

// Metrics are collection KPIs. Ratios are fractions of the total, not percentages.
type Metrics struct {
	TotalOutstanding       decimal.Decimal  `json:"total_outstanding"`
	TotalOverdue           decimal.Decimal  `json:"total_overdue"`
	CollectionEfficiency   decimal.Decimal  `json:"collection_efficiency"`
	OverduePercentage      decimal.Decimal  `json:"overdue_percentage"`
	AverageDaysOutstanding decimal.Decimal  `json:"average_days_outstanding"`
	WorstCustomer          string           `json:"worst_aging_customer,omitempty"`
	WorstCustomerAmount    *decimal.Decimal `json:"worst_aging_amount,omitempty"`
}

// Alerts flags collections risk.
type Alerts struct {
	Critical             bool            `json:"critical"`
	CriticalCount        int             `json:"critical_overdue_count"`
	CriticalAmount       decimal.Decimal `json:"critical_overdue_amount"`
	NewOverdueCount      int             `json:"new_overdue_count"`
	NewOverdueAmount     decimal.Decimal `json:"new_overdue_amount"`
	AtRiskCustomers      []string        `json:"collection_risk_customers"`
	TotalAtRiskAmount    decimal.Decimal `json:"total_at_risk_amount"`
	AtRiskThreshold      decimal.Decimal `json:"at_risk_threshold"`
}

// Report is the full aging view for one organization at one date.
type Report struct {
	ReportDate     time.Time         `json:"report_date"`
	OrganizationID uuid.UUID         `json:"organization_id"`
	CustomerFilter *uuid.UUID        `json:"customer_filter,omitempty"`
	IncludePaid    bool              `json:"include_paid"`
	Summary        Summary           `json:"summary"`
	Customers      []CustomerSummary `json:"customer_summaries"`
	Details        []Classification  `json:"invoice_details"`
	Metrics        Metrics           `json:"metrics"`
	Alerts         Alerts            `json:"alerts"`
	TotalCustomers int               `json:"total_customers"`
	TotalInvoices  int               `json:"total_invoices"`
}

// TrendPoint is the organization summary at one month-end.
type TrendPoint struct {
	ReportDate     time.Time `json:"report_date"`
	MonthYear      string    `json:"month_year"`
	Summary        Summary   `json:"summary"`
	TotalCustomers int       `json:"total_customers"`
	TotalInvoices  int       `json:"total_invoices"`
}
