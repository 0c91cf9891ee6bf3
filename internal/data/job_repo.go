package data

import (
	"database/sql"
	"log/slog"
)

// RepoConfig holds configuration options shared by the data repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for distribution job management.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  mint,
  decimals,
  source_account,
  authority,
  delivery_mode,
  batch_size,
  max_retries,
  status,
  total_recipients,
  total_sent,
  total_confirmed,
  total_failed,
  fee_spent::text,
  last_error,
  started_at,
  completed_at,
  created_at,
  updated_at
`
