package usage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arvalox/arvalox/internal/platform/clock"
	"github.com/arvalox/arvalox/internal/shared"
)

// Repository persists per-period usage counters.
type Repository interface {
	// GetRecord returns the period's record, or a zero record when none exists yet.
	GetRecord(ctx context.Context, orgID uuid.UUID, period shared.Period) (Record, error)
	// Increment atomically bumps the action's counter, creating the record on first use.
	Increment(ctx context.Context, orgID uuid.UUID, period shared.Period, action Action) (Record, error)
}

// PlanLookup resolves an organization's subscription. A nil subscription means none exists.
type PlanLookup interface {
	ActiveSubscription(ctx context.Context, orgID uuid.UUID) (*Subscription, error)
}

// Service meters gated actions.
type Service struct {
	repo    Repository
	plans   PlanLookup
	locker  Locker
	logger  *slog.Logger
	clock   clock.Clock
	denials *prometheus.CounterVec
}

// NewService builds the meter. A nil locker falls back to an in-process lock.
func NewService(repo Repository, plans PlanLookup, locker Locker, logger *slog.Logger) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, plans: plans, locker: locker, logger: logger, clock: clock.System{}}
}

// WithClock overrides the clock used to pick the usage period.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = clock.OrSystem(c)
	return s
}

// WithRegisterer exports a denial counter on reg.
func (s *Service) WithRegisterer(reg prometheus.Registerer) *Service {
	if reg == nil {
		return s
	}
	s.denials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arvalox_usage_denied_total",
		Help: "Gated actions denied by plan limits, by action.",
	}, []string{"action"})
	reg.MustRegister(s.denials)
	return s
}

// CanPerform checks the action against the current period's counter and the plan limit.
func (s *Service) CanPerform(ctx context.Context, orgID uuid.UUID, action Action) (Decision, error) {
	return s.evaluate(ctx, orgID, action, shared.PeriodOf(s.clock.Now()))
}

func (s *Service) evaluate(ctx context.Context, orgID uuid.UUID, action Action, period shared.Period) (Decision, error) {
	if !action.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	sub, err := s.plans.ActiveSubscription(ctx, orgID)
	if err != nil {
		return Decision{}, fmt.Errorf("usage: lookup subscription: %w", err)
	}
	rec, err := s.repo.GetRecord(ctx, orgID, period)
	if err != nil {
		return Decision{}, fmt.Errorf("usage: load record: %w", err)
	}
	return Evaluate(sub, rec, action, s.clock.Now())
}

// RecordUsage increments the action's counter for the current period.
// Call it only after the metered action has succeeded.
func (s *Service) RecordUsage(ctx context.Context, orgID uuid.UUID, action Action) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if _, err := s.repo.Increment(ctx, orgID, shared.PeriodOf(s.clock.Now()), action); err != nil {
		return fmt.Errorf("usage: increment %s: %w", action, err)
	}
	return nil
}

// Guard runs fn when the plan allows action, then records the usage.
// The check, fn and increment hold the (organization, period, resource) lock, so two
// concurrent last-allowed actions cannot both pass. A failing fn records nothing.
func (s *Service) Guard(ctx context.Context, orgID uuid.UUID, action Action, fn func(context.Context) error) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	period := shared.PeriodOf(s.clock.Now())
	unlock, err := s.locker.Lock(ctx, shared.UsageLockKey(orgID, period, action.Resource()))
	if err != nil {
		return err
	}
	defer unlock()

	decision, err := s.evaluate(ctx, orgID, action, period)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		if s.denials != nil {
			s.denials.WithLabelValues(string(action)).Inc()
		}
		s.logger.Info("usage limit reached",
			slog.String("organization_id", orgID.String()),
			slog.String("action", string(action)),
			slog.String("reason", decision.Reason))
		return &LimitError{Action: action, Decision: decision}
	}
	if err := fn(ctx); err != nil {
		return err
	}
	if _, err := s.repo.Increment(ctx, orgID, period, action); err != nil {
		// fn already committed; the action stands and the counter lags by one.
		s.logger.Error("record usage after success",
			slog.String("organization_id", orgID.String()),
			slog.String("action", string(action)),
			slog.Any("error", err))
	}
	return nil
}

// Snapshot reports the current period's usage against the plan.
func (s *Service) Snapshot(ctx context.Context, orgID uuid.UUID) (Snapshot, error) {
	sub, err := s.plans.ActiveSubscription(ctx, orgID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("usage: lookup subscription: %w", err)
	}
	if sub == nil {
		return Snapshot{}, ErrNoSubscription
	}
	rec, err := s.repo.GetRecord(ctx, orgID, shared.PeriodOf(s.clock.Now()))
	if err != nil {
		return Snapshot{}, fmt.Errorf("usage: load record: %w", err)
	}
	return BuildSnapshot(*sub, rec), nil
}

// History returns records for the given number of periods ending with the current one, newest first.
func (s *Service) History(ctx context.Context, orgID uuid.UUID, periods int) ([]Record, error) {
	if periods <= 0 {
		periods = 1
	}
	current := shared.PeriodOf(s.clock.Now())
	out := make([]Record, 0, periods)
	for i := 0; i < periods; i++ {
		p := shared.PeriodOf(current.Start().AddDate(0, -i, 0))
		rec, err := s.repo.GetRecord(ctx, orgID, p)
		if err != nil {
			return nil, fmt.Errorf("usage: load record %s: %w", p, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
