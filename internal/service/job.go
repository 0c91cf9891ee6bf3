package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/model"
	apperrors "github.com/dripline/dripline/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Jobs   core.JobRepository  // Required: job repository
	Tasks  core.TaskRepository // Required: task repository
	Logger *slog.Logger        // Optional: structured logger
}

// JobService provides business logic for distribution job management.
//
// This service manages:
// - Campaign creation: request validation, exact amount scaling, bulk task insert
// - Job and task reads for the API surface
// - Live per-job status aggregation
// - Job deletion (terminal jobs only).
type JobService struct {
	jobs   core.JobRepository
	tasks  core.TaskRepository
	logger *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		jobs:   opts.Jobs,
		tasks:  opts.Tasks,
		logger: logger,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// CreateJob validates a campaign request, scales every recipient amount to
// the asset's smallest unit, and persists the job with its task rows. A
// request with any unparseable amount is rejected before anything is written.
func (s *JobService) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	rows := make([]model.CreateTaskRow, 0, len(req.Recipients))
	for i, recipient := range req.Recipients {
		smallest, err := model.ToSmallestUnit(recipient.Amount, req.Decimals)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation,
				"recipient %d (%s): invalid amount", i, recipient.Address)
		}
		rows = append(rows, model.CreateTaskRow{
			Recipient: recipient.Address,
			Amount:    smallest,
		})
	}

	job, err := s.jobs.Create(ctx, req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "create job")
	}

	if _, err := s.tasks.BulkCreate(ctx, job.ID, rows); err != nil {
		// Roll back the half-created campaign; cascade removes any partial rows.
		if delErr := s.jobs.Delete(ctx, job.ID); delErr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "rollback of half-created job failed",
				"job_id", job.ID,
				"error", delErr,
			)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "create job tasks")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "distribution job created",
			"job_id", job.ID,
			"mint", job.Mint,
			"recipients", len(rows),
			"delivery_mode", job.DeliveryMode,
		)
	}
	return job, nil
}

// validateJobID rejects malformed IDs before they reach the database, where
// a non-UUID string would surface as a driver error instead of a client one.
func validateJobID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.Validationf("invalid job id %q", id)
	}
	return nil
}

// GetJob returns a job by ID.
func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if err := validateJobID(id); err != nil {
		return nil, err
	}
	job, err := s.jobs.GetByID(ctx, id)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "get job")
	}
	return job, nil
}

// ListJobs returns jobs with optional status filtering.
func (s *JobService) ListJobs(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, apperrors.Validationf("invalid job status %q", opts.Status)
	}
	jobs, err := s.jobs.List(ctx, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "list jobs")
	}
	return jobs, nil
}

// ListTasks returns a job's tasks with optional status filtering.
func (s *JobService) ListTasks(ctx context.Context, opts model.TaskListOptions) ([]*model.Task, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, apperrors.Validationf("invalid task status %q", opts.Status)
	}
	if _, err := s.GetJob(ctx, opts.JobID); err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ListByJob(ctx, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "list tasks")
	}
	return tasks, nil
}

// JobStats is a live aggregate view over a job's tasks.
type JobStats struct {
	Job      *model.Job                  `json:"job"`
	ByStatus map[model.TaskStatus]int    `json:"by_status"`
	FeeSpent decimal.Decimal             `json:"fee_spent"`
	Total    int                         `json:"total"`
	Detail   []model.TaskStatusAggregate `json:"detail"`
}

// GetJobStats aggregates the job's tasks by status. The per-status counts
// always sum to the job's recipient total.
func (s *JobService) GetJobStats(ctx context.Context, jobID string) (*JobStats, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	aggs, err := s.tasks.AggregateByStatus(ctx, jobID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "aggregate tasks")
	}

	stats := &JobStats{
		Job:      job,
		ByStatus: make(map[model.TaskStatus]int, len(aggs)),
		FeeSpent: decimal.Zero,
		Detail:   aggs,
	}
	for _, agg := range aggs {
		stats.ByStatus[agg.Status] += agg.Count
		stats.Total += agg.Count
		stats.FeeSpent = stats.FeeSpent.Add(agg.FeeSum)
	}
	return stats, nil
}

// DeleteJob removes a terminal or pending job along with its tasks.
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	if err := validateJobID(id); err != nil {
		return err
	}
	err := s.jobs.Delete(ctx, id)
	switch {
	case errors.Is(err, data.ErrJobNotFound):
		return apperrors.NotFoundf("job %s not found", id)
	case errors.Is(err, data.ErrJobNotDeletable):
		return apperrors.Conflict("job cannot be deleted while running")
	case err != nil:
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "delete job")
	}
	return nil
}
