package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/model"
	"github.com/dripline/dripline/internal/observability/metrics"
	"github.com/dripline/dripline/internal/observability/statsd"
)

// Pipeline stage names used in logs, metrics, and persisted error messages.
const (
	stageBuild    = "build"
	stageOptimize = "optimize"
	stageSign     = "sign"
	stageSubmit   = "submit"
)

// TaskPipelineOptions groups dependencies for TaskPipeline.
type TaskPipelineOptions struct {
	Tasks   core.TaskRepository      // Required: task repository
	Relay   core.RelayClient         // Required: relay client
	Ledger  core.LedgerClient        // Required: ledger client
	Builder core.TransactionBuilder  // Required: transaction builder
	Signer  core.Signer              // Required: authority signer
	Retry   *RetryController         // Required: retry controller
	Monitor *ConfirmationMonitor     // Required: confirmation monitor

	Logger       *slog.Logger      // Optional: structured logger
	Metrics      statsd.Sink       // Optional: metrics sink (StatsD-compatible)
	TimeProvider data.TimeProvider // Optional: defaults to real time
}

// TaskPipeline runs one task through build, optimize, sign, and submit. A
// failure at any of those stages is recoverable and goes to the retry
// controller; a successful submission hands the task to the confirmation
// monitor and the pipeline moves on.
type TaskPipeline struct {
	tasks   core.TaskRepository
	relay   core.RelayClient
	ledger  core.LedgerClient
	builder core.TransactionBuilder
	signer  core.Signer
	retry   *RetryController
	monitor *ConfirmationMonitor

	logger       *slog.Logger
	metrics      statsd.Sink
	timeProvider data.TimeProvider
}

// NewTaskPipeline constructs a new TaskPipeline.
func NewTaskPipeline(opts TaskPipelineOptions) (*TaskPipeline, error) {
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Relay == nil {
		return nil, errors.New("RelayClient is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("LedgerClient is required")
	}
	if opts.Builder == nil {
		return nil, errors.New("TransactionBuilder is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("Signer is required")
	}
	if opts.Retry == nil {
		return nil, errors.New("RetryController is required")
	}
	if opts.Monitor == nil {
		return nil, errors.New("ConfirmationMonitor is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "task_pipeline")
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}

	return &TaskPipeline{
		tasks:        opts.Tasks,
		relay:        opts.Relay,
		ledger:       opts.Ledger,
		builder:      opts.Builder,
		signer:       opts.Signer,
		retry:        opts.Retry,
		monitor:      opts.Monitor,
		logger:       logger,
		metrics:      opts.Metrics,
		timeProvider: timeProvider,
	}, nil
}

// MustNewTaskPipeline constructs a new TaskPipeline and panics on error.
func MustNewTaskPipeline(opts TaskPipelineOptions) *TaskPipeline {
	p, err := NewTaskPipeline(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create TaskPipeline: %v", err))
	}
	return p
}

// Process runs one eligible task through the full dispatch pipeline. A
// returned error means a repository write failed outside the retry path;
// stage failures are absorbed into the task's own retry-or-fail outcome.
func (p *TaskPipeline) Process(ctx context.Context, run *runHandle, task *model.Task) error {
	ok, err := p.tasks.MarkProcessing(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("mark task %s processing: %w", task.ID, err)
	}
	if !ok {
		// Another pass already owns this task.
		return nil
	}

	signedTx, optimized, failedStage, err := p.prepare(ctx, run.job, task)
	if err != nil {
		return p.retry.HandleFailure(ctx, run.queue, run.job, task, failedStage, err)
	}

	start := p.timeProvider.Now()
	signature, err := p.relay.Submit(ctx, signedTx)
	p.emitStage(stageSubmit, p.timeProvider.Now().Sub(start), err)
	if err != nil {
		return p.retry.HandleFailure(ctx, run.queue, run.job, task, stageSubmit, err)
	}

	attempts := task.Attempts + 1
	ok, err = p.recordSent(ctx, core.MarkTaskSentParams{
		TaskID:    task.ID,
		Signature: signature,
		Attempts:  attempts,
	})
	if err != nil {
		// The transfer is in flight, so this must never take the retry path:
		// another pipeline pass would submit a second payment to the same
		// recipient. The task stays in processing for operator recovery.
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "submitted transfer could not be recorded",
				"job_id", run.job.ID,
				"task_id", task.ID,
				"signature", signature,
				"error", err,
			)
		}
		return fmt.Errorf("record task %s sent: %w", task.ID, err)
	}
	if !ok {
		if p.logger != nil {
			p.logger.Warn("task left processing before sent transition", "task_id", task.ID)
		}
		return nil
	}

	if p.logger != nil {
		p.logger.InfoContext(ctx, "transfer submitted",
			"job_id", run.job.ID,
			"task_id", task.ID,
			"recipient", task.Recipient,
			"signature", signature,
			"attempts", attempts,
		)
	}

	run.outstanding.Add(1)
	enqueueErr := p.monitor.Enqueue(ctx, ConfirmationRequest{
		JobID:    run.job.ID,
		TaskID:   task.ID,
		Attempts: attempts,
		Params: core.AwaitConfirmationParams{
			Signature:          signature,
			ReferenceBlockhash: optimized.ReferenceBlockhash,
			ExpiryHeight:       optimized.ExpiryHeight,
		},
		OnDone: run.outstanding.Done,
	})
	if enqueueErr != nil {
		run.outstanding.Done()
		if p.logger != nil {
			p.logger.Warn("confirmation enqueue aborted, task stays sent",
				"task_id", task.ID,
				"signature", signature,
				"error", enqueueErr,
			)
		}
	}
	return nil
}

// recordSent writes the sent transition, retrying the repository call once
// on a transient write failure.
func (p *TaskPipeline) recordSent(ctx context.Context, params core.MarkTaskSentParams) (bool, error) {
	ok, err := p.tasks.MarkSent(ctx, params)
	if err == nil || errors.Is(err, data.ErrDuplicateSignature) || ctx.Err() != nil {
		return ok, err
	}
	return p.tasks.MarkSent(ctx, params)
}

// prepare builds, optimizes, and signs the transfer. On error it reports the
// stage that failed so the retry record names it.
func (p *TaskPipeline) prepare(
	ctx context.Context,
	job *model.Job,
	task *model.Task,
) (signedTx []byte, optimized *core.OptimizeResult, failedStage string, err error) {
	start := p.timeProvider.Now()
	unsigned, err := p.buildTransfer(ctx, job, task)
	p.emitStage(stageBuild, p.timeProvider.Now().Sub(start), err)
	if err != nil {
		return nil, nil, stageBuild, err
	}

	start = p.timeProvider.Now()
	optimized, err = p.relay.Optimize(ctx, core.OptimizeRequest{
		UnsignedTx: unsigned,
		Params:     core.DeliveryParamsForMode(job.DeliveryMode),
	})
	p.emitStage(stageOptimize, p.timeProvider.Now().Sub(start), err)
	if err != nil {
		return nil, nil, stageOptimize, err
	}

	start = p.timeProvider.Now()
	signedTx, err = p.signer.Sign(ctx, optimized.OptimizedTx)
	p.emitStage(stageSign, p.timeProvider.Now().Sub(start), err)
	if err != nil {
		return nil, nil, stageSign, err
	}

	return signedTx, optimized, "", nil
}

// buildTransfer assembles the unsigned transaction, including recipient
// asset account creation when the account does not exist on the ledger yet.
func (p *TaskPipeline) buildTransfer(ctx context.Context, job *model.Job, task *model.Task) ([]byte, error) {
	blockhash, err := p.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch recent blockhash: %w", err)
	}

	assetAccount, err := p.builder.RecipientAssetAccount(job.Mint, task.Recipient)
	if err != nil {
		return nil, err
	}
	exists, err := p.ledger.AccountExists(ctx, assetAccount)
	if err != nil {
		return nil, fmt.Errorf("check recipient asset account: %w", err)
	}

	return p.builder.BuildTransfer(ctx, core.BuildTransferParams{
		Mint:                   job.Mint,
		Decimals:               job.Decimals,
		SourceAccount:          job.SourceAccount,
		Authority:              job.Authority,
		Recipient:              task.Recipient,
		Amount:                 task.Amount,
		CreateRecipientAccount: !exists,
		RecentBlockhash:        blockhash,
	})
}

func (p *TaskPipeline) emitStage(stage string, elapsed time.Duration, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitTaskStage(p.metrics, metrics.TaskMetric{
		Stage:    stage,
		Result:   result,
		Duration: elapsed,
		Err:      err,
	})
}
