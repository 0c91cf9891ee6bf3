package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a distribution job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotDeletable is returned when attempting to delete a job that is still running.
	ErrJobNotDeletable = errors.New("job cannot be deleted while running")
	// ErrTaskNotFound is returned when a task is not found.
	ErrTaskNotFound = errors.New("task not found")
	// ErrDuplicateSignature is returned when a transaction signature is already
	// recorded against another task.
	ErrDuplicateSignature = errors.New("transaction signature already recorded")
	// ErrJobMissingForTasks is returned when bulk task creation references a
	// job that no longer exists.
	ErrJobMissingForTasks = errors.New("job does not exist for task creation")
)
