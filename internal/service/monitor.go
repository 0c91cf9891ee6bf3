package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dripline/dripline/config"
	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/observability/metrics"
	"github.com/dripline/dripline/internal/observability/statsd"
)

// ConfirmationRequest is one submitted transaction handed to the monitor pool.
type ConfirmationRequest struct {
	JobID    string
	TaskID   string
	Attempts int
	Params   core.AwaitConfirmationParams

	// OnDone is invoked exactly once when the request has been resolved,
	// whether confirmed, failed, or abandoned on shutdown.
	OnDone func()
}

// ConfirmationMonitorOptions groups dependencies for ConfirmationMonitor.
type ConfirmationMonitorOptions struct {
	Tasks  core.TaskRepository  // Required: task repository
	Ledger core.LedgerClient    // Required: ledger client
	Config config.MonitorConfig // Required: monitor configuration

	Logger       *slog.Logger      // Optional: structured logger
	Metrics      statsd.Sink       // Optional: metrics sink (StatsD-compatible)
	TimeProvider data.TimeProvider // Optional: defaults to real time
}

// ConfirmationMonitor resolves submitted transactions to their ledger
// outcome with a fixed pool of workers. A confirmed transaction records its
// realized fee; an on-chain error or an expired validity window marks the
// task terminally failed. Confirmation outcomes are never fed back into the
// retry path, so a possibly-landed transaction is never resubmitted.
type ConfirmationMonitor struct {
	tasks        core.TaskRepository
	ledger       core.LedgerClient
	config       config.MonitorConfig
	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider

	queue chan ConfirmationRequest
}

// NewConfirmationMonitor constructs a new ConfirmationMonitor.
func NewConfirmationMonitor(opts ConfirmationMonitorOptions) (*ConfirmationMonitor, error) {
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("LedgerClient is required")
	}
	opts.Config.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "confirmation_monitor")
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	return &ConfirmationMonitor{
		tasks:        opts.Tasks,
		ledger:       opts.Ledger,
		config:       opts.Config,
		logger:       logger,
		metrics:      opts.Metrics,
		timeProvider: timeProvider,
		queue:        make(chan ConfirmationRequest, opts.Config.QueueSize),
	}, nil
}

// MustNewConfirmationMonitor constructs a new ConfirmationMonitor and panics on error.
func MustNewConfirmationMonitor(opts ConfirmationMonitorOptions) *ConfirmationMonitor {
	m, err := NewConfirmationMonitor(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create ConfirmationMonitor: %v", err))
	}
	return m
}

// Enqueue hands a submitted transaction to the worker pool. It blocks while
// the queue is full, which backpressures the dispatch pipeline against the
// confirmation rate. Returns the context error when ctx ends first; the
// caller's OnDone is NOT invoked in that case.
func (m *ConfirmationMonitor) Enqueue(ctx context.Context, req ConfirmationRequest) error {
	select {
	case m.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outstanding returns the number of requests currently queued. Used by tests
// and health reporting; in-flight worker requests are tracked by callers
// through OnDone.
func (m *ConfirmationMonitor) Outstanding() int {
	return len(m.queue)
}

// Run starts the worker pool and blocks until the context is cancelled.
// Returns nil on graceful shutdown.
func (m *ConfirmationMonitor) Run(ctx context.Context) error {
	if m.logger != nil {
		m.logger.InfoContext(ctx, "starting confirmation monitor",
			"workers", m.config.Workers,
			"queue_size", m.config.QueueSize,
			"confirmation_timeout", m.config.ConfirmationTimeout,
		)
	}

	var wg sync.WaitGroup
	for i := 0; i < m.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.worker(ctx)
		}()
	}
	wg.Wait()

	if m.logger != nil {
		m.logger.InfoContext(ctx, "confirmation monitor stopped", "reason", ctx.Err())
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (m *ConfirmationMonitor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drainAbandoned()
			return
		case req := <-m.queue:
			m.resolve(ctx, req)
		}
	}
}

// drainAbandoned releases OnDone for requests left in the queue at shutdown
// so finalizers waiting on outstanding confirmations do not hang. The tasks
// stay in sent status; their outcome is recovered by a later inspection.
func (m *ConfirmationMonitor) drainAbandoned() {
	for {
		select {
		case req := <-m.queue:
			if m.logger != nil {
				m.logger.Warn("abandoning confirmation wait on shutdown",
					"job_id", req.JobID,
					"task_id", req.TaskID,
					"signature", req.Params.Signature,
				)
			}
			if req.OnDone != nil {
				req.OnDone()
			}
		default:
			return
		}
	}
}

// resolve waits for the transaction's ledger outcome and records it.
func (m *ConfirmationMonitor) resolve(ctx context.Context, req ConfirmationRequest) {
	if req.OnDone != nil {
		defer req.OnDone()
	}

	start := m.timeProvider.Now()
	waitCtx, cancel := context.WithTimeout(ctx, m.config.ConfirmationTimeout)
	defer cancel()

	result, err := m.ledger.AwaitConfirmation(waitCtx, req.Params)
	elapsed := m.timeProvider.Now().Sub(start)

	switch {
	case err != nil && ctx.Err() != nil:
		// Shutdown, not a transaction outcome. Leave the task in sent status.
		if m.logger != nil {
			m.logger.Warn("confirmation wait interrupted by shutdown",
				"task_id", req.TaskID,
				"signature", req.Params.Signature,
			)
		}
		return

	case err != nil && errors.Is(err, context.DeadlineExceeded):
		msg := fmt.Sprintf("confirmation timeout: no finality for %s within %s",
			req.Params.Signature, m.config.ConfirmationTimeout)
		m.failTask(ctx, req, msg, elapsed, err)

	case err != nil:
		m.failTask(ctx, req, fmt.Sprintf("confirmation check: %v", err), elapsed, err)

	case result.Confirmed:
		m.confirmTask(ctx, req, result, elapsed)

	default:
		m.failTask(ctx, req, result.Err, elapsed, nil)
	}
}

func (m *ConfirmationMonitor) confirmTask(
	ctx context.Context,
	req ConfirmationRequest,
	result *core.ConfirmationResult,
	elapsed time.Duration,
) {
	ok, err := m.tasks.MarkConfirmed(ctx, core.MarkTaskConfirmedParams{
		TaskID:      req.TaskID,
		FeePaid:     result.FeePaid,
		ConfirmedAt: m.timeProvider.Now(),
	})
	if err != nil {
		if m.logger != nil {
			m.logger.ErrorContext(ctx, "failed to record task confirmation",
				"task_id", req.TaskID,
				"signature", req.Params.Signature,
				"error", err,
			)
		}
		metrics.EmitTaskStage(m.metrics, metrics.TaskMetric{
			Stage: "confirm", Result: metrics.ResultError, Duration: elapsed, Err: err,
		})
		return
	}
	if !ok && m.logger != nil {
		m.logger.Warn("task no longer awaiting confirmation",
			"task_id", req.TaskID,
			"signature", req.Params.Signature,
		)
	}

	if m.logger != nil {
		m.logger.InfoContext(ctx, "transfer confirmed",
			"job_id", req.JobID,
			"task_id", req.TaskID,
			"signature", req.Params.Signature,
			"fee_paid", result.FeePaid.String(),
			"wait", elapsed,
		)
	}
	metrics.EmitTaskStage(m.metrics, metrics.TaskMetric{
		Stage: "confirm", Result: metrics.ResultSuccess, Duration: elapsed,
	})
}

// failTask marks a sent task terminally failed. On-chain failures and expired
// validity windows are final because the transaction may still land; a retry
// here could double-pay the recipient.
func (m *ConfirmationMonitor) failTask(
	ctx context.Context,
	req ConfirmationRequest,
	reason string,
	elapsed time.Duration,
	cause error,
) {
	ok, err := m.tasks.MarkFailed(ctx, core.MarkTaskFailedParams{
		TaskID:   req.TaskID,
		Attempts: req.Attempts,
		ErrMsg:   reason,
	})
	if err != nil {
		if m.logger != nil {
			m.logger.ErrorContext(ctx, "failed to record task failure",
				"task_id", req.TaskID,
				"signature", req.Params.Signature,
				"error", err,
			)
		}
		return
	}
	if !ok && m.logger != nil {
		m.logger.Warn("task no longer awaiting confirmation",
			"task_id", req.TaskID,
			"signature", req.Params.Signature,
		)
	}

	if m.logger != nil {
		m.logger.WarnContext(ctx, "transfer failed at confirmation",
			"job_id", req.JobID,
			"task_id", req.TaskID,
			"signature", req.Params.Signature,
			"reason", reason,
		)
	}
	metrics.EmitTaskStage(m.metrics, metrics.TaskMetric{
		Stage: "confirm", Result: metrics.ResultError, Duration: elapsed, Err: cause,
	})
}
