package model

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// TaskStatus represents the current status of a recipient transfer task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting for pickup by the batch scheduler.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusProcessing indicates the pipeline is actively working on the task.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusRetrying indicates the task failed recoverably and is waiting out its backoff delay.
	TaskStatusRetrying TaskStatus = "retrying"
	// TaskStatusSent indicates a submission returned a signature and confirmation is outstanding.
	TaskStatusSent TaskStatus = "sent"
	// TaskStatusConfirmed indicates the transfer reached finality on the ledger.
	TaskStatusConfirmed TaskStatus = "confirmed"
	// TaskStatusFailed indicates a terminal failure (retries exhausted or on-chain error).
	TaskStatusFailed TaskStatus = "failed"
)

// ErrNoTasksEligible is returned when a job has no pending or retrying tasks left.
var ErrNoTasksEligible = errors.New("no tasks eligible for dispatch")

// MaxTaskErrorLength bounds the persisted last_error message for operator visibility.
const MaxTaskErrorLength = 500

// Valid returns true if the TaskStatus is valid.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusRetrying,
		TaskStatusSent, TaskStatusConfirmed, TaskStatusFailed:
		return true
	}
	return false
}

// Terminal returns true if the status is a terminal task state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusConfirmed || s == TaskStatusFailed
}

// Eligible returns true if a task in this status may be picked up for a pipeline pass.
func (s TaskStatus) Eligible() bool {
	return s == TaskStatusPending || s == TaskStatusRetrying
}

// CanTransitionTo reports whether the task state machine permits moving to next.
//
//	pending/retrying -> processing -> {sent, retrying, failed}
//	sent -> {confirmed, failed}
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending, TaskStatusRetrying:
		return next == TaskStatusProcessing
	case TaskStatusProcessing:
		return next == TaskStatusSent || next == TaskStatusRetrying || next == TaskStatusFailed
	case TaskStatusSent:
		return next == TaskStatusConfirmed || next == TaskStatusFailed
	default:
		return false
	}
}

// Task represents one recipient transfer within a distribution job.
// Amount is an integer string in the asset's smallest unit; it is never
// stored or computed as a float.
type Task struct {
	ID          string           `json:"id"                     db:"id"`
	JobID       string           `json:"job_id"                 db:"job_id"`
	Recipient   string           `json:"recipient"              db:"recipient"`
	Amount      string           `json:"amount"                 db:"amount"`
	Status      TaskStatus       `json:"status"                 db:"status"`
	Attempts    int              `json:"attempts"               db:"attempts"`
	LastError   *string          `json:"last_error,omitempty"   db:"last_error"`
	Signature   *string          `json:"signature,omitempty"    db:"signature"`
	FeePaid     *decimal.Decimal `json:"fee_paid,omitempty"     db:"fee_paid"`
	ConfirmedAt *time.Time       `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt   time.Time        `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"             db:"updated_at"`
}

// CreateTaskRow is one row for bulk task creation at job creation time.
type CreateTaskRow struct {
	Recipient string
	Amount    string // smallest-unit integer string
}

// TaskListOptions holds filtering and pagination options for listing a job's tasks.
type TaskListOptions struct {
	JobID  string
	Status TaskStatus
	Limit  int
	Offset int
}

// TaskStatusAggregate is one row of a group-by-status aggregation over a
// job's tasks. WithSignature counts the rows that carry a signature, so a
// task submitted and then terminally failed at confirmation still shows up
// in the job's sent total.
type TaskStatusAggregate struct {
	Status        TaskStatus      `json:"status"`
	Count         int             `json:"count"`
	WithSignature int             `json:"with_signature"`
	FeeSum        decimal.Decimal `json:"fee_sum"`
}

// TruncateError bounds an error message to MaxTaskErrorLength bytes for
// persistence, cutting on a rune boundary so the stored text stays valid UTF-8.
func TruncateError(msg string) string {
	if len(msg) <= MaxTaskErrorLength {
		return msg
	}
	cut := MaxTaskErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
