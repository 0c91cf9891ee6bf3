// Package model defines the core data types and structures used throughout the dripline distribution system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus represents the current status of a distribution job.
type JobStatus string

// DeliveryMode selects the fee aggressiveness and routing policy used when
// optimizing transactions through the relay.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type DeliveryMode string

const (
	// JobStatusPending indicates a job has been created but execution has not started.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the engine is actively processing the job's tasks.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates all batches drained and stats were finalized.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates an unrecoverable setup error before any task ran.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates execution was cancelled at a batch boundary.
	JobStatusCancelled JobStatus = "cancelled"

	// DeliveryModeCostSaver routes through RPC only with a low priority fee.
	DeliveryModeCostSaver DeliveryMode = "cost-saver"
	// DeliveryModeHighAssurance routes with a high priority fee plus tip.
	DeliveryModeHighAssurance DeliveryMode = "high-assurance"
)

// ErrJobNotStartable is returned when execution is requested for a job that is not pending.
var ErrJobNotStartable = errors.New("job is not in a startable state")

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal returns true if the status is a terminal job state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether the job state machine permits moving to next.
// Transitions are monotonic: pending -> running -> {completed, cancelled},
// with failed reserved for setup errors out of pending or running.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for DeliveryMode to allow
// env and JSON parsing. Empty text decodes to the zero value; request
// validation rejects it where a mode is required.
func (m *DeliveryMode) UnmarshalText(text []byte) error {
	v := DeliveryMode(strings.ToLower(strings.TrimSpace(string(text))))
	if v == "" {
		*m = ""
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("invalid DeliveryMode: %q", string(text))
	}
	*m = v
	return nil
}

// Valid returns true if the DeliveryMode is valid.
func (m DeliveryMode) Valid() bool {
	return m == DeliveryModeCostSaver || m == DeliveryModeHighAssurance
}

// Job represents one distribution run targeting many recipients with one asset.
type Job struct {
	ID              string          `json:"id"                   db:"id"`
	Mint            string          `json:"mint"                 db:"mint"`
	Decimals        int             `json:"decimals"             db:"decimals"`
	SourceAccount   string          `json:"source_account"       db:"source_account"`
	Authority       string          `json:"authority"            db:"authority"`
	DeliveryMode    DeliveryMode    `json:"delivery_mode"        db:"delivery_mode"`
	BatchSize       int             `json:"batch_size"           db:"batch_size"`
	MaxRetries      int             `json:"max_retries"          db:"max_retries"`
	Status          JobStatus       `json:"status"               db:"status"`
	TotalRecipients int             `json:"total_recipients"     db:"total_recipients"`
	TotalSent       int             `json:"total_sent"           db:"total_sent"`
	TotalConfirmed  int             `json:"total_confirmed"      db:"total_confirmed"`
	TotalFailed     int             `json:"total_failed"         db:"total_failed"`
	FeeSpent        decimal.Decimal `json:"fee_spent"            db:"fee_spent"`
	LastError       *string         `json:"last_error,omitempty" db:"last_error"`
	StartedAt       *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time       `json:"created_at"           db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"           db:"updated_at"`
}

// CreateJobRequest represents a request to create a new distribution job.
// Recipients carry human-readable decimal amounts; they are scaled to
// smallest-unit integers at creation time using Decimals.
type CreateJobRequest struct {
	Mint          string             `json:"mint"`
	Decimals      int                `json:"decimals"`
	SourceAccount string             `json:"source_account"`
	Authority     string             `json:"authority"`
	DeliveryMode  DeliveryMode       `json:"delivery_mode"`
	BatchSize     int                `json:"batch_size,omitempty"`
	MaxRetries    int                `json:"max_retries,omitempty"`
	Recipients    []RecipientRequest `json:"recipients"`
}

// RecipientRequest is one validated recipient row from the uploaded list.
type RecipientRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

const (
	defaultBatchSize = 10
	maxBatchSize     = 100
	defaultRetries   = 3
	maxRetryCeiling  = 10
)

// Validate validates the CreateJobRequest fields and applies defaults.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.Mint) == "" {
		return errors.New("mint is required")
	}
	if r.Decimals < 0 || r.Decimals > 18 {
		return errors.New("decimals must be between 0 and 18")
	}
	if strings.TrimSpace(r.SourceAccount) == "" {
		return errors.New("source account is required")
	}
	if strings.TrimSpace(r.Authority) == "" {
		return errors.New("authority is required")
	}
	if !r.DeliveryMode.Valid() {
		return errors.New("invalid delivery mode")
	}
	if len(r.Recipients) == 0 {
		return errors.New("at least one recipient is required")
	}
	if r.BatchSize < 0 || r.BatchSize > maxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d", maxBatchSize)
	}
	if r.BatchSize == 0 {
		r.BatchSize = defaultBatchSize
	}
	if r.MaxRetries < 0 || r.MaxRetries > maxRetryCeiling {
		return fmt.Errorf("max retries must be between 0 and %d", maxRetryCeiling)
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = defaultRetries
	}
	for i := range r.Recipients {
		if strings.TrimSpace(r.Recipients[i].Address) == "" {
			return fmt.Errorf("recipient %d: address is required", i)
		}
		if _, err := ToSmallestUnit(r.Recipients[i].Amount, r.Decimals); err != nil {
			return fmt.Errorf("recipient %d: %w", i, err)
		}
	}
	return nil
}

// JobListOptions holds filtering and pagination options for listing jobs.
type JobListOptions struct {
	Status JobStatus
	Limit  int
	Offset int
}

// JobStatusResponse represents the status information for a specific job.
type JobStatusResponse struct {
	Status      JobStatus  `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}
