package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/dispatch"
	"github.com/dripline/dripline/internal/domain/model"
	"github.com/dripline/dripline/internal/observability/metrics"
	"github.com/dripline/dripline/internal/observability/statsd"
)

// RetryControllerOptions groups dependencies for RetryController.
type RetryControllerOptions struct {
	Tasks  core.TaskRepository   // Required: task repository
	Policy *dispatch.RetryPolicy // Required: backoff policy

	Logger       *slog.Logger      // Optional: structured logger
	Metrics      statsd.Sink       // Optional: metrics sink (StatsD-compatible)
	TimeProvider data.TimeProvider // Optional: defaults to real time
}

// RetryController resolves recoverable pipeline failures. A task below its
// job's retry ceiling goes to retrying status and re-enters the scheduler
// through the run's delay queue after exponential backoff; at the ceiling it
// is marked terminally failed. Only pre-submission failures reach this path.
type RetryController struct {
	tasks        core.TaskRepository
	policy       *dispatch.RetryPolicy
	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider
}

// NewRetryController constructs a new RetryController.
func NewRetryController(opts RetryControllerOptions) (*RetryController, error) {
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Policy == nil {
		return nil, errors.New("RetryPolicy is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "retry_controller")
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	return &RetryController{
		tasks:        opts.Tasks,
		policy:       opts.Policy,
		logger:       logger,
		metrics:      opts.Metrics,
		timeProvider: timeProvider,
	}, nil
}

// MustNewRetryController constructs a new RetryController and panics on error.
func MustNewRetryController(opts RetryControllerOptions) *RetryController {
	c, err := NewRetryController(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create RetryController: %v", err))
	}
	return c
}

// HandleFailure resolves one failed pipeline attempt for a task in
// processing status. The persisted error message carries the stage name and
// the cause, truncated for storage; signing material never appears in it.
func (c *RetryController) HandleFailure(
	ctx context.Context,
	queue *dispatch.DelayQueue,
	job *model.Job,
	task *model.Task,
	stage string,
	cause error,
) error {
	msg := model.TruncateError(fmt.Sprintf("%s: %v", stage, cause))
	decision := c.policy.Resolve(task.Attempts, job.MaxRetries)

	if decision.Outcome == dispatch.OutcomeFail {
		ok, err := c.tasks.MarkFailed(ctx, core.MarkTaskFailedParams{
			TaskID:   task.ID,
			Attempts: decision.Attempts,
			ErrMsg:   msg,
		})
		if err != nil {
			return fmt.Errorf("mark task %s failed: %w", task.ID, err)
		}
		if !ok {
			c.logSkip(task.ID, "failed")
			return nil
		}
		if c.logger != nil {
			c.logger.WarnContext(ctx, "task exhausted retries",
				"job_id", job.ID,
				"task_id", task.ID,
				"stage", stage,
				"attempts", decision.Attempts,
				"error", cause,
			)
		}
		return nil
	}

	ok, err := c.tasks.MarkRetrying(ctx, core.MarkTaskRetryingParams{
		TaskID:   task.ID,
		Attempts: decision.Attempts,
		ErrMsg:   msg,
	})
	if err != nil {
		return fmt.Errorf("mark task %s retrying: %w", task.ID, err)
	}
	if !ok {
		c.logSkip(task.ID, "retrying")
		return nil
	}

	due := c.timeProvider.Now().Add(decision.Delay)
	queue.Push(task.ID, due)
	metrics.EmitRetryScheduled(c.metrics, decision.Attempts, decision.Delay)

	if c.logger != nil {
		c.logger.InfoContext(ctx, "task scheduled for retry",
			"job_id", job.ID,
			"task_id", task.ID,
			"stage", stage,
			"attempts", decision.Attempts,
			"delay", decision.Delay,
			"error", cause,
		)
	}
	return nil
}

func (c *RetryController) logSkip(taskID, target string) {
	if c.logger != nil {
		c.logger.Warn("task left processing before transition",
			"task_id", taskID,
			"target_status", target,
		)
	}
}
