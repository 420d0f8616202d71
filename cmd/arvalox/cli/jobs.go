package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/arvalox/arvalox/jobs"
)

// jobAliases maps CLI names to task types.
var jobAliases = map[string]string{
	"overdue-sweep":       jobs.TaskOverdueSweep,
	"idempotency-cleanup": jobs.TaskIdempotencyCleanup,
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := taskFor(name)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

func taskFor(name string) (*asynq.Task, error) {
	if alias, ok := jobAliases[name]; ok {
		name = alias
	}
	switch name {
	case jobs.TaskOverdueSweep:
		return jobs.NewOverdueSweepTask(jobs.OverdueSweepPayload{})
	case jobs.TaskIdempotencyCleanup:
		return jobs.NewIdempotencyCleanupTask(0)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// JobsRunner is the subset of JobsCLI the command dispatcher uses.
type JobsRunner interface {
	Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// JobsCommand executes `jobs trigger <name>` or `jobs stats [--json]` and returns the exit code.
func JobsCommand(ctx context.Context, runner JobsRunner, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		jobsUsage(stderr)
		return 2
	}
	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			jobsUsage(stderr)
			return 2
		}
		info, err := runner.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(stderr, "trigger %s: %v\n", args[1], err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := runner.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "inspect queue: %v\n", err)
			return 1
		}
		if len(args) > 1 && args[1] == "--json" {
			if err := json.NewEncoder(stdout).Encode(stats); err != nil {
				fmt.Fprintf(stderr, "encode stats: %v\n", err)
				return 1
			}
			return 0
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d at=%s\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry,
			time.Now().UTC().Format(time.RFC3339))
		return 0
	default:
		jobsUsage(stderr)
		return 2
	}
}

func jobsUsage(w io.Writer) {
	names := make([]string, 0, len(jobAliases))
	for name := range jobAliases {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "usage: arvalox jobs trigger <%s>\n       arvalox jobs stats [--json]\n", strings.Join(names, "|"))
}
