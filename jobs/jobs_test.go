package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/arvalox/arvalox/internal/jobs"
	"github.com/arvalox/arvalox/internal/platform/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarker struct {
	mu      sync.Mutex
	orgs    []uuid.UUID
	marked  map[uuid.UUID]int
	fail    map[uuid.UUID]error
	seen    []uuid.UUID
	asOf    time.Time
	listErr error
}

func (f *fakeMarker) OrganizationsWithReceivables(context.Context) ([]uuid.UUID, error) {
	return f.orgs, f.listErr
}

func (f *fakeMarker) MarkOverdue(_ context.Context, orgID uuid.UUID, asOf time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, orgID)
	f.asOf = asOf
	return f.marked[orgID], f.fail[orgID]
}

func TestOverdueSweepAllOrganizations(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	marker := &fakeMarker{
		orgs:   []uuid.UUID{a, b, c},
		marked: map[uuid.UUID]int{a: 2, b: 0, c: 3},
	}
	now := time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC)
	job := NewOverdueSweepJob(marker, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry())).
		WithClock(clock.NewFixed(now)).
		WithConcurrency(2)

	task, err := NewOverdueSweepTask(OverdueSweepPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.ElementsMatch(t, []uuid.UUID{a, b, c}, marker.seen)
	assert.True(t, marker.asOf.Equal(now))
}

func TestOverdueSweepContinuesPastFailures(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	boom := errors.New("deadlock detected")
	marker := &fakeMarker{
		orgs:   []uuid.UUID{a, b},
		marked: map[uuid.UUID]int{b: 4},
		fail:   map[uuid.UUID]error{a: boom},
	}
	job := NewOverdueSweepJob(marker, discardLogger(), nil)

	marked, err := job.Run(context.Background(), time.Now(), nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 4, marked)
	assert.Len(t, marker.seen, 2)
}

func TestOverdueSweepScopedPayload(t *testing.T) {
	orgID := uuid.New()
	marker := &fakeMarker{listErr: errors.New("should not list")}
	job := NewOverdueSweepJob(marker, discardLogger(), nil)

	task, err := NewOverdueSweepTask(OverdueSweepPayload{OrganizationID: orgID.String(), AsOf: "2024-02-15"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, []uuid.UUID{orgID}, marker.seen)
	assert.Equal(t, "2024-02-15", marker.asOf.Format(time.DateOnly))
}

func TestOverdueSweepRejectsBadPayload(t *testing.T) {
	job := NewOverdueSweepJob(&fakeMarker{}, discardLogger(), nil)
	for _, payload := range []string{`{`, `{"as_of":"15/02/2024"}`, `{"organization_id":"acme"}`} {
		err := job.Handle(context.Background(), asynq.NewTask(TaskOverdueSweep, []byte(payload)))
		assert.ErrorIs(t, err, asynq.SkipRetry, payload)
	}
}

type fakePurger struct {
	olderThan time.Duration
	purged    int64
	err       error
}

func (f *fakePurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.purged, f.err
}

func TestIdempotencyCleanup(t *testing.T) {
	purger := &fakePurger{purged: 7}
	job := NewIdempotencyCleanupJob(purger, 168*time.Hour, discardLogger(), nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 168*time.Hour, purger.olderThan)

	task, err = NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, time.Hour, purger.olderThan)

	purger.err = errors.New("connection reset")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestIdempotencyCleanupNeedsRetention(t *testing.T) {
	job := NewIdempotencyCleanupJob(&fakePurger{}, 0, discardLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Logger: discardLogger()})
	require.Error(t, err)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	serve := func(inspector QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", NewHandler(inspector, discardLogger()).MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}})
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, queueHealth{Queue: QueueDefault, Pending: 3, Retry: 1}, body)

	rr = serve(stubInspector{err: errors.New("redis: connection refused")})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
