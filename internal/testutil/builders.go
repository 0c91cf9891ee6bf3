package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/model"
)

// JobBuilder builds a distribution job row with sensible test defaults.
type JobBuilder struct {
	req        model.CreateJobRequest
	recipients []model.CreateTaskRow
}

// NewJobBuilder returns a builder for a three-recipient cost-saver job.
func NewJobBuilder() *JobBuilder {
	return &JobBuilder{
		req: model.CreateJobRequest{
			Mint:          "Mint1111111111111111111111111111111111111111",
			Decimals:      9,
			SourceAccount: "Src11111111111111111111111111111111111111111",
			Authority:     "Auth1111111111111111111111111111111111111111",
			DeliveryMode:  model.DeliveryModeCostSaver,
			BatchSize:     10,
			MaxRetries:    3,
		},
		recipients: []model.CreateTaskRow{
			{Recipient: "Rcpt1111111111111111111111111111111111111111", Amount: "1000000000"},
			{Recipient: "Rcpt2222222222222222222222222222222222222222", Amount: "2500000000"},
			{Recipient: "Rcpt3333333333333333333333333333333333333333", Amount: "1"},
		},
	}
}

// WithMint overrides the token mint.
func (b *JobBuilder) WithMint(mint string) *JobBuilder {
	b.req.Mint = mint
	return b
}

// WithDeliveryMode overrides the delivery mode.
func (b *JobBuilder) WithDeliveryMode(mode model.DeliveryMode) *JobBuilder {
	b.req.DeliveryMode = mode
	return b
}

// WithBatchSize overrides the batch size.
func (b *JobBuilder) WithBatchSize(n int) *JobBuilder {
	b.req.BatchSize = n
	return b
}

// WithMaxRetries overrides the retry ceiling.
func (b *JobBuilder) WithMaxRetries(n int) *JobBuilder {
	b.req.MaxRetries = n
	return b
}

// WithRecipients replaces the default recipient rows. Amounts are
// smallest-unit integer strings.
func (b *JobBuilder) WithRecipients(rows ...model.CreateTaskRow) *JobBuilder {
	b.recipients = rows
	return b
}

// Create inserts the job and its tasks and returns the persisted job.
func (b *JobBuilder) Create(t TestingTB, db *sql.DB) *model.Job {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repoCfg := data.RepoConfig{TimeProvider: &data.RealTimeProvider{}}
	jobs := data.NewJobRepo(db, repoCfg)
	tasks := data.NewTaskRepo(db, repoCfg)

	req := b.req
	req.Recipients = make([]model.RecipientRequest, len(b.recipients))
	for i, row := range b.recipients {
		req.Recipients[i] = model.RecipientRequest{Address: row.Recipient, Amount: row.Amount}
	}

	job, err := jobs.Create(ctx, &req)
	if err != nil {
		t.Fatalf("create test job: %v", err)
	}

	if _, err := tasks.BulkCreate(ctx, job.ID, b.recipients); err != nil {
		t.Fatalf("create test tasks: %v", err)
	}

	return job
}

// MarkJobStatus forces a job row into the given status, bypassing the state
// machine. Only for arranging test fixtures.
func MarkJobStatus(t TestingTB, db *sql.DB, jobID string, status model.JobStatus) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2`, status, jobID)
	if err != nil {
		t.Fatalf("mark job status: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("mark job status: expected 1 row, got %d", n)
	}
}

// AgeTaskUpdatedAt backdates a task's updated_at, used to simulate tasks
// stuck in processing.
func AgeTaskUpdatedAt(t TestingTB, db *sql.DB, taskID string, age time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := fmt.Sprintf(`UPDATE tasks SET updated_at = now() - interval '%d seconds' WHERE id = $1`,
		int(age.Seconds()))
	if _, err := db.ExecContext(ctx, query, taskID); err != nil {
		t.Fatalf("age task updated_at: %v", err)
	}
}

// AgeJobCompletedAt backdates a job's completed_at, used to simulate old
// terminal jobs for retention tests.
func AgeJobCompletedAt(t TestingTB, db *sql.DB, jobID string, age time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := fmt.Sprintf(
		`UPDATE jobs SET completed_at = now() - interval '%d seconds' WHERE id = $1`,
		int(age.Seconds()))
	if _, err := db.ExecContext(ctx, query, jobID); err != nil {
		t.Fatalf("age job completed_at: %v", err)
	}
}
