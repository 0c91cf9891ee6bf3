// Package core defines the ports of the distribution engine: the repository
// and collaborator contracts the service layer depends on. Service
// implementations depend on these interfaces, never on concrete adapters.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dripline/dripline/internal/domain/model"
)

// JobRepository defines the interface for distribution job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// UpdateStatus performs an atomic compare-and-set status transition.
	// Returns false when the job was not in the expected `from` status.
	UpdateStatus(ctx context.Context, id string, from, to model.JobStatus) (bool, error)
	// MarkFailed records an unrecoverable setup error. Allowed from pending or running.
	MarkFailed(ctx context.Context, id, errMsg string) (bool, error)
	// FinalizeStats writes the terminal counters and status in one statement.
	FinalizeStats(ctx context.Context, params FinalizeJobStatsParams) (bool, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	Delete(ctx context.Context, id string) error
	// DeleteOldTerminal deletes terminal jobs older than MaxAge; tasks cascade.
	DeleteOldTerminal(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// FinalizeJobStatsParams groups parameters for JobRepository.FinalizeStats.
type FinalizeJobStatsParams struct {
	JobID     string
	Status    model.JobStatus // completed or cancelled
	Sent      int
	Confirmed int
	Failed    int
	FeeSpent  decimal.Decimal
}

// DeleteOldJobsParams groups parameters for DeleteOldTerminal to keep param count ≤3.
type DeleteOldJobsParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// TaskRepository defines the interface for recipient task data operations.
// Every status transition is a single atomic compare-and-set keyed by task
// id, so concurrent pipeline instances never contend on the same row.
type TaskRepository interface {
	BulkCreate(ctx context.Context, jobID string, rows []model.CreateTaskRow) (int, error)
	GetByID(ctx context.Context, id string) (*model.Task, error)
	// GetPendingOrRetrying returns eligible tasks for a job in stable
	// creation order, up to limit (0 = no limit).
	GetPendingOrRetrying(ctx context.Context, jobID string, limit int) ([]*model.Task, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, params MarkTaskSentParams) (bool, error)
	MarkConfirmed(ctx context.Context, params MarkTaskConfirmedParams) (bool, error)
	MarkFailed(ctx context.Context, params MarkTaskFailedParams) (bool, error)
	MarkRetrying(ctx context.Context, params MarkTaskRetryingParams) (bool, error)
	ListByJob(ctx context.Context, opts model.TaskListOptions) ([]*model.Task, error)
	AggregateByStatus(ctx context.Context, jobID string) ([]model.TaskStatusAggregate, error)
	// RequeueStaleProcessing returns tasks stuck in processing past staleAfter
	// to pending, making crash leftovers eligible again. Returns rows updated.
	RequeueStaleProcessing(ctx context.Context, staleAfter time.Duration, batchSize int) (int64, error)
}

// MarkTaskSentParams records a successful submission: signature plus the
// incremented attempt count, written atomically.
type MarkTaskSentParams struct {
	TaskID    string
	Signature string
	Attempts  int
}

// MarkTaskConfirmedParams records ledger finality for a sent task.
type MarkTaskConfirmedParams struct {
	TaskID      string
	FeePaid     decimal.Decimal
	ConfirmedAt time.Time
}

// MarkTaskFailedParams records a terminal task failure.
type MarkTaskFailedParams struct {
	TaskID   string
	Attempts int
	ErrMsg   string
}

// MarkTaskRetryingParams records a recoverable failure awaiting backoff.
type MarkTaskRetryingParams struct {
	TaskID   string
	Attempts int
	ErrMsg   string
}

// RunStateRepository coordinates cross-instance execution state: the
// single-flight run lock and the cooperative cancellation flag the batch
// scheduler checks at batch boundaries.
type RunStateRepository interface {
	AcquireRunLock(ctx context.Context, jobID string, ttl time.Duration) (bool, error)
	RefreshRunLock(ctx context.Context, jobID string, ttl time.Duration) error
	ReleaseRunLock(ctx context.Context, jobID string) error
	RequestCancel(ctx context.Context, jobID string) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
	ClearCancel(ctx context.Context, jobID string) error
}
