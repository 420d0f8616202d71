package aging

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arvalox/arvalox/internal/money"
)

const (
	ratioScale = 4
	daysScale  = 2
)

// Summarize folds classifications into bucket totals. Amounts are summed without re-rounding,
// so the buckets always add up to Total.
func Summarize(cs []Classification) Summary {
	s := Summary{
		Current:    BucketTotal{Amount: money.Zero()},
		Days1To30:  BucketTotal{Amount: money.Zero()},
		Days31To60: BucketTotal{Amount: money.Zero()},
		Days61To90: BucketTotal{Amount: money.Zero()},
		Over90:     BucketTotal{Amount: money.Zero()},
		Total:      BucketTotal{Amount: money.Zero()},
	}
	for _, c := range cs {
		if slot := s.slot(c.Bucket); slot != nil {
			slot.add(c.Amount)
		}
		s.Total.add(c.Amount)
	}
	return s
}

// SummarizeByCustomer groups classifications per customer, largest total first.
func SummarizeByCustomer(cs []Classification) []CustomerSummary {
	index := make(map[uuid.UUID]int)
	var out []CustomerSummary
	for _, c := range cs {
		i, ok := index[c.CustomerID]
		if !ok {
			i = len(out)
			index[c.CustomerID] = i
			zero := money.Zero()
			out = append(out, CustomerSummary{
				CustomerID:   c.CustomerID,
				CustomerName: c.CustomerName,
				Current:      zero,
				Days1To30:    zero,
				Days31To60:   zero,
				Days61To90:   zero,
				Over90:       zero,
				Total:        zero,
			})
		}
		out[i].add(c.Bucket, c.Amount)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].Total.Equal(out[b].Total) {
			return out[a].Total.GreaterThan(out[b].Total)
		}
		return out[a].CustomerName < out[b].CustomerName
	})
	return out
}

// ComputeMetrics derives collection KPIs. Every ratio is zero when nothing is outstanding.
func ComputeMetrics(cs []Classification) Metrics {
	summary := Summarize(cs)
	total := summary.Total.Amount
	overdue := money.Sub(total, summary.Current.Amount)
	m := Metrics{
		TotalOutstanding:       total,
		TotalOverdue:           overdue,
		CollectionEfficiency:   decimal.Zero,
		OverduePercentage:      decimal.Zero,
		AverageDaysOutstanding: decimal.Zero,
	}
	if !total.IsPositive() {
		return m
	}
	m.CollectionEfficiency = summary.Current.Amount.DivRound(total, ratioScale)
	m.OverduePercentage = overdue.DivRound(total, ratioScale)

	weighted := decimal.Zero
	for _, c := range cs {
		weighted = weighted.Add(c.Amount.Mul(decimal.NewFromInt(int64(c.DaysOverdue))))
	}
	m.AverageDaysOutstanding = weighted.DivRound(total, daysScale)

	var worst *CustomerSummary
	customers := SummarizeByCustomer(cs)
	for i := range customers {
		c := &customers[i]
		if !c.Overdue().IsPositive() {
			continue
		}
		if worst == nil || c.Overdue().GreaterThan(worst.Overdue()) {
			worst = c
		}
	}
	if worst != nil {
		amount := worst.Overdue()
		m.WorstCustomer = worst.CustomerName
		m.WorstCustomerAmount = &amount
	}
	return m
}
