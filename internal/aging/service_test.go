package aging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvalox/arvalox/internal/ar"
	"github.com/arvalox/arvalox/internal/platform/clock"
	"github.com/arvalox/arvalox/internal/shared"
)

type memoryRepo struct {
	invoices map[uuid.UUID][]ar.Invoice
	names    map[uuid.UUID]string
	calls    atomic.Int32
	gate     chan struct{}
	err      error
}

func (m *memoryRepo) ListReceivables(ctx context.Context, orgID uuid.UUID, filter ReceivableFilter) ([]ar.Invoice, error) {
	m.calls.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	var out []ar.Invoice
	for _, inv := range m.invoices[orgID] {
		if filter.CustomerID != uuid.Nil && inv.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (m *memoryRepo) CustomerNames(context.Context, uuid.UUID) (map[uuid.UUID]string, error) {
	return m.names, nil
}

var agingNow = time.Date(2024, 2, 15, 14, 0, 0, 0, time.UTC)

func seeded() (*memoryRepo, uuid.UUID, uuid.UUID) {
	orgID, cust := uuid.New(), uuid.New()
	return &memoryRepo{
		invoices: map[uuid.UUID][]ar.Invoice{orgID: {
			invoice(cust, "INV-1", day(2024, 1, 1), "110.00", "60.00", ar.StatusSent),
			invoice(uuid.New(), "INV-2", day(2024, 3, 1), "25.00", "0", ar.StatusSent),
		}},
		names: map[uuid.UUID]string{cust: "Acme"},
	}, orgID, cust
}

func TestServiceReport(t *testing.T) {
	repo, orgID, cust := seeded()
	svc := NewService(repo, nil).WithClock(clock.NewFixed(agingNow))

	report, err := svc.Report(context.Background(), orgID, ReportParams{})
	require.NoError(t, err)
	assert.Equal(t, day(2024, 2, 15), report.ReportDate)
	assert.Equal(t, 1, report.Summary.Days31To60.Count)
	assert.Equal(t, "50.00", report.Summary.Days31To60.Amount.StringFixed(2))
	assert.Equal(t, "75.00", report.Summary.Total.Amount.StringFixed(2))
	require.Len(t, report.Details, 2)
	assert.Equal(t, "Acme", report.Details[0].CustomerName)
	assert.Equal(t, unknownCustomer, report.Details[1].CustomerName)

	filtered, err := svc.Report(context.Background(), orgID, ReportParams{CustomerID: cust})
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.TotalInvoices)
	require.NotNil(t, filtered.CustomerFilter)
}

func TestServiceSharesConcurrentBuilds(t *testing.T) {
	repo, orgID, _ := seeded()
	repo.gate = make(chan struct{})
	svc := NewService(repo, nil).WithClock(clock.NewFixed(agingNow))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Summary(context.Background(), orgID, time.Time{})
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return repo.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()
	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestServiceReportHonoursCallerContext(t *testing.T) {
	repo, orgID, _ := seeded()
	repo.gate = make(chan struct{})
	defer close(repo.gate)
	svc := NewService(repo, nil).WithClock(clock.NewFixed(agingNow))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Report(ctx, orgID, ReportParams{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServiceRepositoryError(t *testing.T) {
	repo, orgID, _ := seeded()
	repo.err = errors.New("connection reset")
	svc := NewService(repo, nil).WithClock(clock.NewFixed(agingNow))
	_, err := svc.Overdue(context.Background(), orgID, 1, uuid.Nil)
	require.ErrorContains(t, err, "connection reset")
}

func TestHandlerEndpoints(t *testing.T) {
	repo, orgID, _ := seeded()
	svc := NewService(repo, nil).WithClock(clock.NewFixed(agingNow))
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/aging", h.MountRoutes)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(shared.ContextWithOrganization(req.Context(), orgID))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := get("/aging/summary?as_of_date=2024-02-15")
	require.Equal(t, http.StatusOK, rr.Code)
	var summary Summary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&summary))
	assert.Equal(t, 1, summary.Days31To60.Count)

	rr = get("/aging/overdue?days_overdue=40")
	require.Equal(t, http.StatusOK, rr.Code)
	var overdue []Classification
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&overdue))
	require.Len(t, overdue, 1)
	assert.Equal(t, "INV-1", overdue[0].InvoiceNumber)

	rr = get("/aging/trends?months_back=3")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"months_back":3`)

	assert.Equal(t, http.StatusBadRequest, get("/aging/trends?months_back=25").Code)
	assert.Equal(t, http.StatusBadRequest, get("/aging/report?as_of_date=15/02/2024").Code)
	assert.Equal(t, http.StatusOK, get("/aging/customers").Code)
	assert.Equal(t, http.StatusOK, get("/aging/report?include_paid=true").Code)
}
