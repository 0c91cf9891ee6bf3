package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dripline/dripline/config"
	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/dispatch"
	"github.com/dripline/dripline/internal/domain/model"
	apperrors "github.com/dripline/dripline/internal/errors"
	obserrors "github.com/dripline/dripline/internal/observability/errors"
	"github.com/dripline/dripline/internal/observability/metrics"
	"github.com/dripline/dripline/internal/observability/notify"
	"github.com/dripline/dripline/internal/observability/statsd"
	"github.com/dripline/dripline/internal/service/failurenotifier"
)

// runHandle carries the per-run coordination state shared by the batch
// scheduler, the pipeline, and the retry controller: the delay queue feeding
// backed-off retries, the outstanding confirmation counter, and the local
// cancellation flag.
type runHandle struct {
	job     *model.Job
	queue   *dispatch.DelayQueue
	started time.Time

	outstanding  sync.WaitGroup
	cancelled    atomic.Bool
	finalizeOnce sync.Once
}

func newRunHandle(job *model.Job, started time.Time) *runHandle {
	return &runHandle{
		job:     job,
		queue:   dispatch.NewDelayQueue(),
		started: started,
	}
}

// EngineServiceOptions groups dependencies for EngineService.
type EngineServiceOptions struct {
	Jobs     core.JobRepository      // Required: job repository
	Tasks    core.TaskRepository     // Required: task repository
	RunState core.RunStateRepository // Required: run lock and cancel flags
	Ledger   core.LedgerClient       // Required: ledger client
	Pipeline *TaskPipeline           // Required: dispatch pipeline
	Config   config.EngineConfig     // Required: engine configuration

	Logger          *slog.Logger             // Optional: structured logger
	Metrics         statsd.Sink              // Optional: metrics sink (StatsD-compatible)
	FailureNotifier *failurenotifier.Service // Optional: job failure notifications
	TimeProvider    data.TimeProvider        // Optional: defaults to real time
}

// EngineService executes distribution jobs: it owns the batch scheduler
// run loop, the single-flight run lock, the balance pre-check, cooperative
// cancellation, and finalization of run statistics.
type EngineService struct {
	jobs     core.JobRepository
	tasks    core.TaskRepository
	runState core.RunStateRepository
	ledger   core.LedgerClient
	pipeline *TaskPipeline
	config   config.EngineConfig

	logger       *slog.Logger
	metrics      statsd.Sink
	notifier     *failurenotifier.Service
	timeProvider data.TimeProvider

	mu      sync.Mutex
	runs    map[string]*runHandle
	baseCtx context.Context
	runsWG  sync.WaitGroup
}

// NewEngineService constructs a new EngineService.
func NewEngineService(opts EngineServiceOptions) (*EngineService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.RunState == nil {
		return nil, errors.New("RunStateRepository is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("LedgerClient is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("TaskPipeline is required")
	}
	opts.Config.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "engine_service")
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	return &EngineService{
		jobs:         opts.Jobs,
		tasks:        opts.Tasks,
		runState:     opts.RunState,
		ledger:       opts.Ledger,
		pipeline:     opts.Pipeline,
		config:       opts.Config,
		logger:       logger,
		metrics:      opts.Metrics,
		notifier:     opts.FailureNotifier,
		timeProvider: timeProvider,
		runs:         make(map[string]*runHandle),
	}, nil
}

// MustNewEngineService constructs a new EngineService and panics on error.
func MustNewEngineService(opts EngineServiceOptions) *EngineService {
	svc, err := NewEngineService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create EngineService: %v", err))
	}
	return svc
}

// Run anchors the engine's run goroutines to ctx and blocks until the
// context is cancelled and all in-flight runs have stopped. Returns nil on
// graceful shutdown.
func (s *EngineService) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting execution engine",
			"batch_pause", s.config.BatchPause,
			"run_lock_ttl", s.config.RunLockTTL,
		)
	}

	<-ctx.Done()
	s.runsWG.Wait()

	if s.logger != nil {
		s.logger.InfoContext(ctx, "execution engine stopped", "reason", ctx.Err())
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// StartExecution begins executing a pending job. It acquires the per-job run
// lock, verifies the source account can cover every outstanding transfer,
// transitions the job to running, and returns once the run goroutine is
// scheduled. A job in any other status is left untouched.
func (s *EngineService) StartExecution(ctx context.Context, jobID string) (*model.Job, error) {
	runCtx := s.runContext()
	if runCtx == nil {
		return nil, apperrors.Conflict("execution engine is not running on this instance")
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "get job")
	}
	if job.Status != model.JobStatusPending {
		return nil, apperrors.Wrapf(model.ErrJobNotStartable, apperrors.ErrCodeConflict,
			"job %s is %s", jobID, job.Status)
	}

	acquired, err := s.runState.AcquireRunLock(ctx, jobID, s.config.RunLockTTL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "acquire run lock")
	}
	if !acquired {
		return nil, apperrors.Conflictf("job %s is being executed by another instance", jobID)
	}

	if err := s.precheckBalance(ctx, job); err != nil {
		s.failSetup(ctx, job, err)
		s.releaseLock(ctx, jobID)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "balance pre-check")
	}

	ok, err := s.jobs.UpdateStatus(ctx, jobID, model.JobStatusPending, model.JobStatusRunning)
	if err != nil {
		s.releaseLock(ctx, jobID)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "transition job to running")
	}
	if !ok {
		s.releaseLock(ctx, jobID)
		return nil, apperrors.Conflictf("job %s is no longer pending", jobID)
	}
	job.Status = model.JobStatusRunning

	run := newRunHandle(job, s.timeProvider.Now())
	s.mu.Lock()
	s.runs[jobID] = run
	s.mu.Unlock()

	s.runsWG.Add(1)
	go s.execute(runCtx, run)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job execution started",
			"job_id", jobID,
			"recipients", job.TotalRecipients,
			"batch_size", job.BatchSize,
			"delivery_mode", job.DeliveryMode,
		)
	}
	return job, nil
}

// CancelExecution requests cooperative cancellation of a running job. The
// flag is honored at the next batch boundary; in-flight tasks finish their
// current pipeline pass and confirmation waits.
func (s *EngineService) CancelExecution(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if errors.Is(err, data.ErrJobNotFound) {
		return apperrors.NotFoundf("job %s not found", jobID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "get job")
	}
	if job.Status != model.JobStatusRunning {
		return apperrors.Conflictf("job %s is %s, only running jobs can be cancelled", jobID, job.Status)
	}

	if err := s.runState.RequestCancel(ctx, jobID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "request cancellation")
	}

	s.mu.Lock()
	if run, ok := s.runs[jobID]; ok {
		run.cancelled.Store(true)
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job cancellation requested", "job_id", jobID)
	}
	return nil
}

func (s *EngineService) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// precheckBalance verifies the source account exists and holds enough of the
// asset to cover every eligible transfer. All amounts are smallest-unit
// integers, so the comparison is exact.
func (s *EngineService) precheckBalance(ctx context.Context, job *model.Job) error {
	rows, err := s.tasks.GetPendingOrRetrying(ctx, job.ID, 0)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if len(rows) == 0 {
		return model.ErrNoTasksEligible
	}

	amounts := make([]string, 0, len(rows))
	for _, task := range rows {
		amounts = append(amounts, task.Amount)
	}
	required, err := model.SumAmounts(amounts)
	if err != nil {
		return fmt.Errorf("sum transfer amounts: %w", err)
	}

	exists, err := s.ledger.AccountExists(ctx, job.SourceAccount)
	if err != nil {
		return fmt.Errorf("check source account: %w", err)
	}
	if !exists {
		return fmt.Errorf("source account %s does not exist", job.SourceAccount)
	}

	balance, err := s.ledger.TokenBalance(ctx, job.SourceAccount)
	if err != nil {
		return fmt.Errorf("fetch source balance: %w", err)
	}
	have, err := decimal.NewFromString(balance)
	if err != nil {
		return fmt.Errorf("parse source balance %q: %w", balance, err)
	}
	need, err := decimal.NewFromString(required)
	if err != nil {
		return fmt.Errorf("parse required amount %q: %w", required, err)
	}
	if have.LessThan(need) {
		return fmt.Errorf("insufficient source balance: have %s, need %s", balance, required)
	}
	return nil
}

// failSetup records an unrecoverable pre-run error on the job and notifies.
func (s *EngineService) failSetup(ctx context.Context, job *model.Job, cause error) {
	if _, err := s.jobs.MarkFailed(ctx, job.ID, model.TruncateError(cause.Error())); err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to record job setup failure",
				"job_id", job.ID,
				"error", err,
			)
		}
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "job setup failed",
			"job_id", job.ID,
			"error", cause,
		)
	}
	s.notifyFailure(ctx, job, cause.Error(), cause, notify.SeverityCritical)
}

func (s *EngineService) notifyFailure(
	ctx context.Context,
	job *model.Job,
	message string,
	cause error,
	severity string,
) {
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	payload := notify.JobFailurePayload{
		JobID:        job.ID,
		Mint:         job.Mint,
		DeliveryMode: string(job.DeliveryMode),
		Error:        message,
		Severity:     severity,
		OccurredAt:   s.timeProvider.Now(),
	}
	if cause != nil {
		payload.ErrorClass = obserrors.Classify(cause)
	}
	s.notifier.NotifyJobFailure(ctx, payload)
}

func (s *EngineService) releaseLock(ctx context.Context, jobID string) {
	if err := s.runState.ReleaseRunLock(ctx, jobID); err != nil && s.logger != nil {
		s.logger.Warn("failed to release run lock", "job_id", jobID, "error", err)
	}
}

// execute is the run goroutine: it drives the batch scheduler, waits for
// outstanding confirmations, and finalizes the run.
func (s *EngineService) execute(ctx context.Context, run *runHandle) {
	defer s.runsWG.Done()
	defer func() {
		s.mu.Lock()
		delete(s.runs, run.job.ID)
		s.mu.Unlock()
	}()

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	go s.refreshRunLock(refreshCtx, run.job.ID)

	cancelled := s.runBatches(ctx, run)
	run.outstanding.Wait()

	if ctx.Err() != nil && !cancelled {
		// Shutdown, not an outcome. Leave the job running and let the lock
		// expire; an operator restarts execution after inspection.
		if s.logger != nil {
			s.logger.Warn("job run interrupted by shutdown", "job_id", run.job.ID)
		}
		s.releaseLock(context.WithoutCancel(ctx), run.job.ID)
		return
	}

	s.finalize(context.WithoutCancel(ctx), run, cancelled)
}

// refreshRunLock extends the run lock for the lifetime of the run goroutine.
func (s *EngineService) refreshRunLock(ctx context.Context, jobID string) {
	ticker := time.NewTicker(s.config.RunLockRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runState.RefreshRunLock(ctx, jobID, s.config.RunLockTTL); err != nil {
				if s.logger != nil {
					s.logger.Warn("failed to refresh run lock", "job_id", jobID, "error", err)
				}
			}
		}
	}
}

// runBatches dispatches eligible tasks in bounded batches until the job
// drains or cancellation is observed at a batch boundary. Returns true when
// the run ended due to cancellation.
func (s *EngineService) runBatches(ctx context.Context, run *runHandle) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		if s.cancelRequested(ctx, run) {
			return true
		}

		now := s.timeProvider.Now()
		run.queue.PopDue(now)

		batch, err := s.nextBatch(ctx, run)
		if err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to load eligible tasks",
					"job_id", run.job.ID,
					"error", err,
				)
			}
			if !s.pause(ctx, s.config.IdlePoll) {
				return false
			}
			continue
		}

		if len(batch) == 0 {
			if run.queue.Len() == 0 {
				// Drained: nothing pending, nothing waiting on backoff.
				return false
			}
			if !s.pause(ctx, s.idleWait(run)) {
				return false
			}
			continue
		}

		s.dispatchBatch(ctx, run, batch)

		if !s.pause(ctx, s.config.BatchPause) {
			return false
		}
	}
}

// nextBatch selects up to BatchSize eligible tasks in creation order,
// excluding retrying tasks whose backoff has not elapsed.
func (s *EngineService) nextBatch(ctx context.Context, run *runHandle) ([]*model.Task, error) {
	rows, err := s.tasks.GetPendingOrRetrying(ctx, run.job.ID, 0)
	if err != nil {
		return nil, err
	}

	held := make(map[string]struct{})
	for _, entry := range run.queue.Entries() {
		held[entry.TaskID] = struct{}{}
	}

	batch := make([]*model.Task, 0, run.job.BatchSize)
	for _, task := range rows {
		if _, waiting := held[task.ID]; waiting {
			continue
		}
		batch = append(batch, task)
		if len(batch) == run.job.BatchSize {
			break
		}
	}
	return batch, nil
}

// dispatchBatch runs one batch of tasks through the pipeline concurrently
// and waits for every pipeline pass to finish before returning.
func (s *EngineService) dispatchBatch(ctx context.Context, run *runHandle, batch []*model.Task) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "dispatching batch",
			"job_id", run.job.ID,
			"size", len(batch),
		)
	}

	// A plain errgroup never cancels siblings: every task in the batch gets
	// its full pipeline pass even when one fails.
	var g errgroup.Group
	for _, task := range batch {
		g.Go(func() error {
			return s.pipeline.Process(ctx, run, task)
		})
	}
	if err := g.Wait(); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "pipeline pass failed",
			"job_id", run.job.ID,
			"error", err,
		)
	}
}

// cancelRequested checks the local flag first, then the shared flag so a
// cancel issued against another instance is still honored.
func (s *EngineService) cancelRequested(ctx context.Context, run *runHandle) bool {
	if run.cancelled.Load() {
		return true
	}
	requested, err := s.runState.CancelRequested(ctx, run.job.ID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to read cancel flag", "job_id", run.job.ID, "error", err)
		}
		return false
	}
	if requested {
		run.cancelled.Store(true)
	}
	return requested
}

// idleWait bounds the sleep while every remaining task waits on backoff.
func (s *EngineService) idleWait(run *runHandle) time.Duration {
	wait := s.config.IdlePoll
	if due, ok := run.queue.NextDue(); ok {
		if until := due.Sub(s.timeProvider.Now()); until < wait {
			wait = until
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// pause sleeps for d, returning false when the context ends first.
func (s *EngineService) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// finalize aggregates task outcomes into the job's terminal statistics,
// releases the run lock, and clears the cancel flag. Guarded so a run
// finalizes at most once.
func (s *EngineService) finalize(ctx context.Context, run *runHandle, cancelled bool) {
	run.finalizeOnce.Do(func() {
		jobID := run.job.ID

		aggs, err := s.tasks.AggregateByStatus(ctx, jobID)
		if err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to aggregate task outcomes",
					"job_id", jobID,
					"error", err,
				)
			}
			s.releaseLock(ctx, jobID)
			return
		}

		counts := make(map[model.TaskStatus]int, len(aggs))
		feeSpent := decimal.Zero
		sent := 0
		for _, agg := range aggs {
			counts[agg.Status] += agg.Count
			// Every submitted task carries a signature, whatever status it
			// ended in. Counting signatures keeps sent-then-failed tasks in
			// the sent total.
			sent += agg.WithSignature
			feeSpent = feeSpent.Add(agg.FeeSum)
		}

		status := model.JobStatusCompleted
		if cancelled {
			status = model.JobStatusCancelled
		}
		confirmed := counts[model.TaskStatusConfirmed]
		failed := counts[model.TaskStatusFailed]

		ok, err := s.jobs.FinalizeStats(ctx, core.FinalizeJobStatsParams{
			JobID:     jobID,
			Status:    status,
			Sent:      sent,
			Confirmed: confirmed,
			Failed:    failed,
			FeeSpent:  feeSpent,
		})
		if err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to finalize job stats",
					"job_id", jobID,
					"error", err,
				)
			}
		} else if !ok && s.logger != nil {
			s.logger.Warn("job was not running at finalization", "job_id", jobID)
		}

		duration := s.timeProvider.Now().Sub(run.started)
		metrics.EmitJobRun(s.metrics, metrics.JobRunMetric{
			Status:    string(status),
			Sent:      sent,
			Confirmed: confirmed,
			Failed:    failed,
			Duration:  duration,
		})

		if failed > 0 {
			s.notifyFailure(ctx, run.job,
				fmt.Sprintf("%d of %d transfers failed", failed, run.job.TotalRecipients),
				nil, notify.SeverityWarning)
		}

		s.releaseLock(ctx, jobID)
		if err := s.runState.ClearCancel(ctx, jobID); err != nil && s.logger != nil {
			s.logger.Warn("failed to clear cancel flag", "job_id", jobID, "error", err)
		}

		if s.logger != nil {
			s.logger.InfoContext(ctx, "job run finalized",
				"job_id", jobID,
				"status", status,
				"sent", sent,
				"confirmed", confirmed,
				"failed", failed,
				"fee_spent", feeSpent.String(),
				"duration", duration,
			)
		}
	})
}
