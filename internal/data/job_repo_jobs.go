package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data/pgxutil"
	"github.com/dripline/dripline/internal/domain/model"
)

// Create inserts a new distribution job in pending status. Task rows are
// inserted separately via TaskRepo.BulkCreate; a job whose task insert fails
// is deleted by the caller (cascade removes any partial rows).
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query := `
      INSERT INTO jobs(mint, decimals, source_account, authority, delivery_mode, batch_size, max_retries, status, total_recipients)
      VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',$8)
      RETURNING ` + jobColumns

	row := r.DB.QueryRowContext(ctx, query,
		req.Mint,
		req.Decimals,
		req.SourceAccount,
		req.Authority,
		req.DeliveryMode,
		req.BatchSize,
		req.MaxRetries,
		len(req.Recipients),
	)

	job, err := scanJobFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateStatus performs an atomic compare-and-set status transition. The
// WHERE clause enforces the state machine: a job not in `from` is left
// untouched and false is returned.
func (r *JobRepo) UpdateStatus(
	ctx context.Context,
	id string,
	from, to model.JobStatus,
) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid job transition %s -> %s", from, to)
	}

	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $3,
		    started_at = CASE WHEN $3 = 'running' THEN COALESCE(started_at, $4) ELSE started_at END,
		    completed_at = CASE WHEN $3 IN ('completed','failed','cancelled') THEN $4 ELSE completed_at END,
		    updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, currentTime)
	if err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update job status rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkFailed records an unrecoverable setup error. Allowed from pending or running.
func (r *JobRepo) MarkFailed(ctx context.Context, id, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    last_error = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status IN ('pending','running')
	`, id, model.TruncateError(errMsg), currentTime)
	if err != nil {
		return false, fmt.Errorf("mark job failed: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark job failed rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// FinalizeStats writes the terminal counters and status in one statement.
// Only a running job can be finalized, so a run finalizes at most once.
func (r *JobRepo) FinalizeStats(ctx context.Context, params core.FinalizeJobStatsParams) (bool, error) {
	if params.Status != model.JobStatusCompleted && params.Status != model.JobStatusCancelled {
		return false, fmt.Errorf("invalid finalize status: %s", params.Status)
	}

	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2,
		    total_sent = $3,
		    total_confirmed = $4,
		    total_failed = $5,
		    fee_spent = $6::numeric,
		    completed_at = $7,
		    updated_at = $7
		WHERE id = $1 AND status = 'running'
	`, params.JobID, params.Status, params.Sent, params.Confirmed, params.Failed,
		params.FeeSpent.String(), currentTime)
	if err != nil {
		return false, fmt.Errorf("finalize job stats: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize job stats rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// List returns jobs with optional status filtering, newest first.
func (r *JobRepo) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		query := `SELECT ` + jobColumns + ` FROM jobs`
		args := []any{}
		if opts.Status != "" {
			query += ` WHERE status = $1`
			args = append(args, opts.Status)
		}
		query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			job, scanErr := scanJobFromRow(rows)
			if scanErr != nil {
				return scanErr
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job and, via cascade, its tasks. Running jobs cannot be deleted.
func (r *JobRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id = $1 AND status <> 'running'
	`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	return ErrJobNotDeletable
}

// DeleteOldTerminal deletes terminal jobs older than MaxAge in bounded batches
// to prevent long locks. Returns the number of jobs deleted.
func (r *JobRepo) DeleteOldTerminal(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be positive")
	}

	cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('completed','failed','cancelled')
			  AND completed_at IS NOT NULL
			  AND completed_at < $1
			ORDER BY completed_at ASC
			LIMIT $2
		)
	`, cutoff, params.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old jobs rows affected: %w", err)
	}
	return rowsAffected, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	feeSpent             string
	lastError            sql.NullString
	startedAt, completedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Mint,
		&job.Decimals,
		&job.SourceAccount,
		&job.Authority,
		&job.DeliveryMode,
		&job.BatchSize,
		&job.MaxRetries,
		&job.Status,
		&job.TotalRecipients,
		&job.TotalSent,
		&job.TotalConfirmed,
		&job.TotalFailed,
		&d.feeSpent,
		&d.lastError,
		&d.startedAt,
		&d.completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	fee, err := decimal.NewFromString(d.feeSpent)
	if err != nil {
		return fmt.Errorf("parse fee_spent %q: %w", d.feeSpent, err)
	}
	job.FeeSpent = fee
	job.LastError = cloneNullableString(d.lastError)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
