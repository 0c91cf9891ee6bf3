// Package mocks provides mock implementations for testing the distribution engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, UpdateStatus, MarkFailed, FinalizeStats, List, Delete, DeleteOldTerminal
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/dripline/dripline/internal/core JobRepository

// Generate mock for TaskRepository interface from internal/core package.
// This creates MockTaskRepository with methods for all TaskRepository interface methods:
// BulkCreate, GetByID, GetPendingOrRetrying, MarkProcessing, MarkSent, MarkConfirmed,
// MarkFailed, MarkRetrying, ListByJob, AggregateByStatus, RequeueStaleProcessing
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_repository_mock.go github.com/dripline/dripline/internal/core TaskRepository

// Generate mock for RunStateRepository interface from internal/core package.
// This creates MockRunStateRepository with methods for all RunStateRepository interface methods:
// AcquireRunLock, RefreshRunLock, ReleaseRunLock, RequestCancel, CancelRequested, ClearCancel
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=run_state_repository_mock.go github.com/dripline/dripline/internal/core RunStateRepository
