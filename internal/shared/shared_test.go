package shared

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodOf(t *testing.T) {
	p := PeriodOf(time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, Period{Year: 2024, Month: time.December}, p)
	assert.Equal(t, "2024-12", p.String())
	assert.Equal(t, Period{Year: 2025, Month: time.January}, p.Next())
}

func TestUsageLockKey(t *testing.T) {
	org := uuid.MustParse("6f1c1f53-8c3a-4e4c-9d0a-6a3f7f6f3b11")
	key := UsageLockKey(org, Period{Year: 2024, Month: time.March}, "customers")
	assert.Equal(t, "usage:6f1c1f53-8c3a-4e4c-9d0a-6a3f7f6f3b11:2024-03:customers:lock", key)
}

func TestOrganizationContext(t *testing.T) {
	_, ok := OrganizationFromContext(context.Background())
	require.False(t, ok)

	org := uuid.New()
	got, ok := OrganizationFromContext(ContextWithOrganization(context.Background(), org))
	require.True(t, ok)
	assert.Equal(t, org, got)

	_, ok = OrganizationFromContext(ContextWithOrganization(context.Background(), uuid.Nil))
	assert.False(t, ok)
}

func TestPaginationFromQuery(t *testing.T) {
	p := PaginationFromQuery(url.Values{"page": {"3"}, "per_page": {"1000"}})
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, maxPerPage, p.PerPage)
	assert.Equal(t, 2*maxPerPage, p.Offset())

	p = PaginationFromQuery(url.Values{})
	assert.Equal(t, Pagination{Page: 1, PerPage: defaultPerPage}, p)
}
