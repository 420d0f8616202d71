package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueSweep moves past-due sent invoices to overdue.
	TaskOverdueSweep = "ar:overdue_sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// OverdueSweepPayload scopes a sweep run. Empty fields mean every organization as of now.
type OverdueSweepPayload struct {
	OrganizationID string `json:"organization_id,omitempty"`
	AsOf           string `json:"as_of,omitempty"`
}

// NewOverdueSweepTask constructs an overdue sweep task.
func NewOverdueSweepTask(payload OverdueSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueSweep, data), nil
}

// IdempotencyCleanupPayload overrides the configured retention when set.
type IdempotencyCleanupPayload struct {
	RetentionSeconds int64 `json:"retention_seconds,omitempty"`
}

// NewIdempotencyCleanupTask constructs a cleanup task. A zero retention uses the job default.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionSeconds: int64(retention / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
