package httpx

import (
	"context"
	"net/http"

	"github.com/dripline/dripline/internal/domain/model"
	apperrors "github.com/dripline/dripline/internal/errors"
	"github.com/dripline/dripline/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobsService is the campaign management surface the handlers depend on.
type JobsService interface {
	CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	ListTasks(ctx context.Context, opts model.TaskListOptions) ([]*model.Task, error)
	GetJobStats(ctx context.Context, jobID string) (*service.JobStats, error)
	DeleteJob(ctx context.Context, id string) error
}

// ExecutionService is the engine control surface the handlers depend on.
type ExecutionService interface {
	StartExecution(ctx context.Context, jobID string) (*model.Job, error)
	CancelExecution(ctx context.Context, jobID string) error
}

// JobHandlers serves the distribution job API.
type JobHandlers struct {
	Jobs   JobsService
	Engine ExecutionService
}

// Create handles POST /api/jobs.
func (h *JobHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Jobs.CreateJob(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// List handles GET /api/jobs.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	jobs, err := h.Jobs.ListJobs(r.Context(), model.JobListOptions{
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Delete handles DELETE /api/jobs/{id}.
func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Jobs.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Start handles POST /api/jobs/{id}/start. Execution continues in the
// background after the response; progress is visible through the stats and
// tasks endpoints.
func (h *JobHandlers) Start(w http.ResponseWriter, r *http.Request) {
	job, err := h.Engine.StartExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, job)
}

// Cancel handles POST /api/jobs/{id}/cancel. Cancellation is cooperative:
// the run stops at its next batch boundary.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.Engine.CancelExecution(r.Context(), jobID); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"id":     jobID,
		"status": "cancelling",
	})
}

// Tasks handles GET /api/jobs/{id}/tasks.
func (h *JobHandlers) Tasks(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	tasks, err := h.Jobs.ListTasks(r.Context(), model.TaskListOptions{
		JobID:  r.PathValue("id"),
		Status: model.TaskStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// Stats handles GET /api/jobs/{id}/stats.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Jobs.GetJobStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// writeServiceError maps application error codes onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	errCode := "internal_error"

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNotFound:
		code = http.StatusNotFound
		errCode = "not_found"
	case apperrors.ErrCodeConflict:
		code = http.StatusConflict
		errCode = "conflict"
	case apperrors.ErrCodeValidation:
		code = http.StatusBadRequest
		errCode = "validation_failed"
	}

	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}
