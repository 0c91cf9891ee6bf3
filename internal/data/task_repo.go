package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data/pgxutil"
	"github.com/dripline/dripline/internal/domain/model"
)

// TaskRepo provides database operations for recipient transfer tasks.
type TaskRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTaskRepo creates a new TaskRepo instance with the given database connection and configuration.
func NewTaskRepo(db *sql.DB, cfg RepoConfig) *TaskRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &TaskRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const taskColumns = `
  id,
  job_id,
  recipient,
  amount,
  status,
  attempts,
  last_error,
  signature,
  fee_paid::text,
  confirmed_at,
  created_at,
  updated_at
`

// BulkCreate inserts all recipient tasks for a job using the COPY protocol
// inside one transaction. Either every row lands or none do.
func (r *TaskRepo) BulkCreate(ctx context.Context, jobID string, rows []model.CreateTaskRow) (int, error) {
	if len(rows) == 0 {
		return 0, errors.New("at least one task row is required")
	}

	var inserted int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		copied, copyErr := tx.CopyFrom(ctx,
			pgx.Identifier{"tasks"},
			[]string{"job_id", "recipient", "amount", "status"},
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				return []any{jobID, rows[i].Recipient, rows[i].Amount, string(model.TaskStatusPending)}, nil
			}),
		)
		if copyErr != nil {
			return copyErr
		}
		inserted = copied
		return nil
	}})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return 0, ErrJobMissingForTasks
		}
		return 0, fmt.Errorf("bulk create tasks: %w", err)
	}
	return int(inserted), nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	task, err := scanTaskFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// GetPendingOrRetrying returns a job's eligible tasks in stable creation
// order. A limit of 0 returns all eligible tasks.
func (r *TaskRepo) GetPendingOrRetrying(ctx context.Context, jobID string, limit int) ([]*model.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE job_id = $1 AND status IN ('pending','retrying')
		ORDER BY created_at ASC, id ASC
	`
	args := []any{jobID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	tasks, err := r.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get eligible tasks: %w", err)
	}
	return tasks, nil
}

// MarkProcessing claims an eligible task for a pipeline pass. The status
// guard makes the claim atomic: only one caller wins a given task.
func (r *TaskRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status IN ('pending','retrying')
	`, id, currentTime)
	if err != nil {
		return false, fmt.Errorf("mark task processing: %w", err)
	}
	return oneRowAffected(res, "mark task processing")
}

// MarkSent records a successful submission: the signature and the attempt
// count land in one statement. A duplicate signature from a relay replay is
// surfaced as ErrDuplicateSignature.
func (r *TaskRepo) MarkSent(ctx context.Context, params core.MarkTaskSentParams) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'sent', signature = $2, attempts = $3, last_error = NULL, updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`, params.TaskID, params.Signature, params.Attempts, currentTime)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, ErrDuplicateSignature
		}
		return false, fmt.Errorf("mark task sent: %w", err)
	}
	return oneRowAffected(res, "mark task sent")
}

// MarkConfirmed records ledger finality and the fee paid for a sent task.
func (r *TaskRepo) MarkConfirmed(ctx context.Context, params core.MarkTaskConfirmedParams) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'confirmed', fee_paid = $2::numeric, confirmed_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'sent'
	`, params.TaskID, params.FeePaid.String(), params.ConfirmedAt.UTC(), currentTime)
	if err != nil {
		return false, fmt.Errorf("mark task confirmed: %w", err)
	}
	return oneRowAffected(res, "mark task confirmed")
}

// MarkFailed records a terminal failure from either the pipeline or the
// confirmation monitor.
func (r *TaskRepo) MarkFailed(ctx context.Context, params core.MarkTaskFailedParams) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed', attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status IN ('processing','sent')
	`, params.TaskID, params.Attempts, model.TruncateError(params.ErrMsg), currentTime)
	if err != nil {
		return false, fmt.Errorf("mark task failed: %w", err)
	}
	return oneRowAffected(res, "mark task failed")
}

// MarkRetrying parks a task for its backoff delay after a recoverable failure.
func (r *TaskRepo) MarkRetrying(ctx context.Context, params core.MarkTaskRetryingParams) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'retrying', attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing'
	`, params.TaskID, params.Attempts, model.TruncateError(params.ErrMsg), currentTime)
	if err != nil {
		return false, fmt.Errorf("mark task retrying: %w", err)
	}
	return oneRowAffected(res, "mark task retrying")
}

// ListByJob returns a job's tasks with optional status filtering, oldest first.
func (r *TaskRepo) ListByJob(ctx context.Context, opts model.TaskListOptions) ([]*model.Task, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE job_id = $1`
	args := []any{opts.JobID}
	if opts.Status != "" {
		query += ` AND status = $2`
		args = append(args, opts.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT %d OFFSET %d`, limit, offset)

	tasks, err := r.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// AggregateByStatus groups a job's tasks by status with row counts and the
// summed fees of confirmed tasks.
func (r *TaskRepo) AggregateByStatus(ctx context.Context, jobID string) ([]model.TaskStatusAggregate, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, COUNT(*), COUNT(signature), COALESCE(SUM(fee_paid), 0)::text
		FROM tasks
		WHERE job_id = $1
		GROUP BY status
		ORDER BY status
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("aggregate tasks: %w", err)
	}
	defer rows.Close()

	var aggs []model.TaskStatusAggregate
	for rows.Next() {
		var agg model.TaskStatusAggregate
		var feeSum string
		if scanErr := rows.Scan(&agg.Status, &agg.Count, &agg.WithSignature, &feeSum); scanErr != nil {
			return nil, fmt.Errorf("scan task aggregate: %w", scanErr)
		}
		fee, parseErr := decimal.NewFromString(feeSum)
		if parseErr != nil {
			return nil, fmt.Errorf("parse fee sum %q: %w", feeSum, parseErr)
		}
		agg.FeeSum = fee
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate tasks rows: %w", err)
	}
	return aggs, nil
}

// RequeueStaleProcessing returns tasks stuck in processing past staleAfter to
// pending. An advisory lock keeps concurrent reapers from double scanning.
func (r *TaskRepo) RequeueStaleProcessing(ctx context.Context, staleAfter time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be positive")
	}

	cutoff := r.timeProvider.Now().Add(-staleAfter).UTC()

	var requeued int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		var acquired bool
		if lockErr := tx.QueryRow(ctx,
			`SELECT pg_try_advisory_xact_lock(hashtext('tasks_requeue_stale'))`,
		).Scan(&acquired); lockErr != nil {
			return lockErr
		}
		if !acquired {
			return nil
		}

		tag, execErr := tx.Exec(ctx, `
			UPDATE tasks
			SET status = 'pending', updated_at = now()
			WHERE id IN (
				SELECT id FROM tasks
				WHERE status = 'processing' AND updated_at < $1
				ORDER BY updated_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
		`, cutoff, batchSize)
		if execErr != nil {
			return execErr
		}
		requeued = tag.RowsAffected()
		return nil
	}})
	if err != nil {
		return 0, fmt.Errorf("requeue stale tasks: %w", err)
	}
	return requeued, nil
}

func (r *TaskRepo) queryTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, scanErr := scanTaskFromRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTaskFromRow(scanner jobRowScanner) (*model.Task, error) {
	task := &model.Task{}
	var (
		lastError   sql.NullString
		signature   sql.NullString
		feePaid     sql.NullString
		confirmedAt sql.NullTime
	)

	err := scanner.Scan(
		&task.ID,
		&task.JobID,
		&task.Recipient,
		&task.Amount,
		&task.Status,
		&task.Attempts,
		&lastError,
		&signature,
		&feePaid,
		&confirmedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.LastError = cloneNullableString(lastError)
	task.Signature = cloneNullableString(signature)
	task.ConfirmedAt = cloneNullableTime(confirmedAt)
	if feePaid.Valid {
		fee, parseErr := decimal.NewFromString(feePaid.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parse fee_paid %q: %w", feePaid.String, parseErr)
		}
		task.FeePaid = &fee
	}
	return task, nil
}

func oneRowAffected(res sql.Result, op string) (bool, error) {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return rowsAffected > 0, nil
}
