package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/arvalox/arvalox/internal/jobs"
	"github.com/arvalox/arvalox/internal/platform/clock"
)

const defaultSweepConcurrency = 4

// OverdueMarker is the slice of the receivables service the sweep needs.
type OverdueMarker interface {
	OrganizationsWithReceivables(ctx context.Context) ([]uuid.UUID, error)
	MarkOverdue(ctx context.Context, orgID uuid.UUID, asOf time.Time) (int, error)
}

// OverdueSweepJob transitions sent invoices past due to overdue for every organization.
type OverdueSweepJob struct {
	service     OverdueMarker
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	clock       clock.Clock
	concurrency int
}

// NewOverdueSweepJob initialises the sweep handler.
func NewOverdueSweepJob(service OverdueMarker, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueSweepJob{
		service:     service,
		logger:      logger,
		metrics:     metrics,
		clock:       clock.System{},
		concurrency: defaultSweepConcurrency,
	}
}

// WithClock overrides the time source.
func (j *OverdueSweepJob) WithClock(c clock.Clock) *OverdueSweepJob {
	j.clock = clock.OrSystem(c)
	return j
}

// WithConcurrency bounds how many organizations are swept in parallel.
func (j *OverdueSweepJob) WithConcurrency(n int) *OverdueSweepJob {
	if n > 0 {
		j.concurrency = n
	}
	return j
}

// Handle executes the sweep for an asynq task.
func (j *OverdueSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.service == nil {
		return errors.New("overdue sweep: handler not configured")
	}
	var payload OverdueSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("overdue sweep: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	asOf := j.clock.Now().UTC()
	if payload.AsOf != "" {
		parsed, err := clock.ParseDate(payload.AsOf)
		if err != nil {
			return fmt.Errorf("overdue sweep: as_of: %v: %w", err, asynq.SkipRetry)
		}
		asOf = parsed
	}
	var orgs []uuid.UUID
	if payload.OrganizationID != "" {
		orgID, err := uuid.Parse(payload.OrganizationID)
		if err != nil {
			return fmt.Errorf("overdue sweep: organization_id: %v: %w", err, asynq.SkipRetry)
		}
		orgs = []uuid.UUID{orgID}
	}
	_, err := j.Run(ctx, asOf, orgs)
	return err
}

// Run sweeps the given organizations, or all organizations with receivables when orgs is empty.
// A failing organization does not stop the others; failures are joined into the returned error.
func (j *OverdueSweepJob) Run(ctx context.Context, asOf time.Time, orgs []uuid.UUID) (marked int, err error) {
	tracker := j.metrics.Track(TaskOverdueSweep)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger.With(slog.String("as_of", asOf.Format(time.DateOnly)))
	if len(orgs) == 0 {
		orgs, err = j.service.OrganizationsWithReceivables(ctx)
		if err != nil {
			logger.Error("list organizations", slog.Any("error", err))
			return 0, fmt.Errorf("overdue sweep: list organizations: %w", err)
		}
	}
	logger.Info("starting overdue sweep", slog.Int("organizations", len(orgs)))

	var (
		mu       sync.Mutex
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, orgID := range orgs {
		g.Go(func() error {
			n, err := j.service.MarkOverdue(gctx, orgID, asOf)
			mu.Lock()
			defer mu.Unlock()
			marked += n
			if err != nil {
				logger.Error("sweep organization", slog.String("organization_id", orgID.String()), slog.Any("error", err))
				failures = append(failures, fmt.Errorf("organization %s: %w", orgID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	j.metrics.AddOverdue(marked)
	logger.Info("overdue sweep finished", slog.Int("marked", marked), slog.Int("failed", len(failures)))
	if len(failures) > 0 {
		return marked, fmt.Errorf("overdue sweep: %w", errors.Join(failures...))
	}
	return marked, nil
}
