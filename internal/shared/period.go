package shared

import (
	"fmt"
	"time"
)

// Period identifies a calendar billing month.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the UTC calendar month containing t.
func PeriodOf(t time.Time) Period {
	y, m, _ := t.UTC().Date()
	return Period{Year: y, Month: m}
}

// Start returns the first instant of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Next returns the following period.
func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

// String renders the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
