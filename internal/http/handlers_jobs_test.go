package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/domain/model"
	apperrors "github.com/dripline/dripline/internal/errors"
	"github.com/dripline/dripline/internal/service"
)

// fakeJobsService is a func-field test double for JobsService.
type fakeJobsService struct {
	CreateJobFunc   func(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetJobFunc      func(ctx context.Context, id string) (*model.Job, error)
	ListJobsFunc    func(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	ListTasksFunc   func(ctx context.Context, opts model.TaskListOptions) ([]*model.Task, error)
	GetJobStatsFunc func(ctx context.Context, jobID string) (*service.JobStats, error)
	DeleteJobFunc   func(ctx context.Context, id string) error
}

func (f *fakeJobsService) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	return f.CreateJobFunc(ctx, req)
}

func (f *fakeJobsService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return f.GetJobFunc(ctx, id)
}

func (f *fakeJobsService) ListJobs(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	return f.ListJobsFunc(ctx, opts)
}

func (f *fakeJobsService) ListTasks(ctx context.Context, opts model.TaskListOptions) ([]*model.Task, error) {
	return f.ListTasksFunc(ctx, opts)
}

func (f *fakeJobsService) GetJobStats(ctx context.Context, jobID string) (*service.JobStats, error) {
	return f.GetJobStatsFunc(ctx, jobID)
}

func (f *fakeJobsService) DeleteJob(ctx context.Context, id string) error {
	return f.DeleteJobFunc(ctx, id)
}

// fakeExecutionService is a func-field test double for ExecutionService.
type fakeExecutionService struct {
	StartExecutionFunc  func(ctx context.Context, jobID string) (*model.Job, error)
	CancelExecutionFunc func(ctx context.Context, jobID string) error
}

func (f *fakeExecutionService) StartExecution(ctx context.Context, jobID string) (*model.Job, error) {
	return f.StartExecutionFunc(ctx, jobID)
}

func (f *fakeExecutionService) CancelExecution(ctx context.Context, jobID string) error {
	return f.CancelExecutionFunc(ctx, jobID)
}

func TestCreateJobHandler_Success(t *testing.T) {
	reqBody := model.CreateJobRequest{
		Mint:          "Mint1111111111111111111111111111111111111111",
		Decimals:      9,
		SourceAccount: "Src11111111111111111111111111111111111111111",
		Authority:     "Auth1111111111111111111111111111111111111111",
		DeliveryMode:  model.DeliveryModeCostSaver,
		Recipients: []model.RecipientRequest{
			{Address: "Rcpt1111111111111111111111111111111111111111", Amount: "1.5"},
		},
	}
	expected := &model.Job{ID: "job-123", Status: model.JobStatusPending, Mint: reqBody.Mint}

	h := &JobHandlers{Jobs: &fakeJobsService{
		CreateJobFunc: func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			require.Equal(t, reqBody.Mint, req.Mint)
			require.Len(t, req.Recipients, 1)
			return expected, nil
		},
	}}

	b, _ := json.Marshal(reqBody)
	r := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(b))
	w := httptest.NewRecorder()

	h.Create(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, expected.ID, got.ID)
}

func TestCreateJobHandler_InvalidJSON(t *testing.T) {
	h := &JobHandlers{Jobs: &fakeJobsService{}}

	r := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString("{bad"))
	w := httptest.NewRecorder()

	h.Create(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateJobHandler_ValidationError(t *testing.T) {
	h := &JobHandlers{Jobs: &fakeJobsService{
		CreateJobFunc: func(context.Context, *model.CreateJobRequest) (*model.Job, error) {
			return nil, apperrors.Validation("at least one recipient is required")
		},
	}}

	r := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(`{"mint":"x"}`))
	w := httptest.NewRecorder()

	h.Create(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "validation_failed", body["error"])
	assert.Contains(t, body["message"], "recipient")
}

func TestGetJobHandler_NotFound(t *testing.T) {
	h := &JobHandlers{Jobs: &fakeJobsService{
		GetJobFunc: func(_ context.Context, id string) (*model.Job, error) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		},
	}}

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	r.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	h.Get(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobsHandler_PassesFilters(t *testing.T) {
	var gotOpts model.JobListOptions
	h := &JobHandlers{Jobs: &fakeJobsService{
		ListJobsFunc: func(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
			gotOpts = opts
			return nil, nil
		},
	}}

	r := httptest.NewRequest(http.MethodGet, "/api/jobs?status=running&limit=5&offset=10", nil)
	w := httptest.NewRecorder()

	h.List(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.JobStatusRunning, gotOpts.Status)
	assert.Equal(t, 5, gotOpts.Limit)
	assert.Equal(t, 10, gotOpts.Offset)

	// A nil slice from the service still serializes as an empty array.
	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.JSONEq(t, `[]`, string(body["jobs"]))
}

func TestListTasksHandler_Success(t *testing.T) {
	h := &JobHandlers{Jobs: &fakeJobsService{
		ListTasksFunc: func(_ context.Context, opts model.TaskListOptions) ([]*model.Task, error) {
			require.Equal(t, "job-1", opts.JobID)
			require.Equal(t, model.TaskStatusFailed, opts.Status)
			return []*model.Task{{ID: "t1", JobID: "job-1", Status: model.TaskStatusFailed}}, nil
		},
	}}

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/tasks?status=failed", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.Tasks(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tasks []*model.Task `json:"tasks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "t1", body.Tasks[0].ID)
}

func TestJobStatsHandler_Success(t *testing.T) {
	h := &JobHandlers{Jobs: &fakeJobsService{
		GetJobStatsFunc: func(_ context.Context, jobID string) (*service.JobStats, error) {
			require.Equal(t, "job-1", jobID)
			return &service.JobStats{
				Job:      &model.Job{ID: "job-1"},
				ByStatus: map[model.TaskStatus]int{model.TaskStatusConfirmed: 3},
				FeeSpent: decimal.NewFromInt(15000),
				Total:    3,
			}, nil
		},
	}}

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/stats", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.Stats(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got service.JobStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 3, got.Total)
	assert.True(t, got.FeeSpent.Equal(decimal.NewFromInt(15000)))
}

func TestDeleteJobHandler_Conflict(t *testing.T) {
	h := &JobHandlers{Jobs: &fakeJobsService{
		DeleteJobFunc: func(context.Context, string) error {
			return apperrors.Conflict("job cannot be deleted while running")
		},
	}}

	r := httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.Delete(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteJobHandler_NoContent(t *testing.T) {
	h := &JobHandlers{Jobs: &fakeJobsService{
		DeleteJobFunc: func(context.Context, string) error { return nil },
	}}

	r := httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.Delete(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStartJobHandler_Accepted(t *testing.T) {
	h := &JobHandlers{Engine: &fakeExecutionService{
		StartExecutionFunc: func(_ context.Context, jobID string) (*model.Job, error) {
			require.Equal(t, "job-1", jobID)
			return &model.Job{ID: "job-1", Status: model.JobStatusRunning}, nil
		},
	}}

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/start", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.Start(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, model.JobStatusRunning, got.Status)
}

func TestStartJobHandler_AlreadyRunningConflict(t *testing.T) {
	h := &JobHandlers{Engine: &fakeExecutionService{
		StartExecutionFunc: func(context.Context, string) (*model.Job, error) {
			return nil, apperrors.Conflictf("job %s is already being executed by another instance", "job-1")
		},
	}}

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/start", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.Start(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelJobHandler_Accepted(t *testing.T) {
	h := &JobHandlers{Engine: &fakeExecutionService{
		CancelExecutionFunc: func(_ context.Context, jobID string) error {
			require.Equal(t, "job-1", jobID)
			return nil
		},
	}}

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/cancel", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.Cancel(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "cancelling", body["status"])
}
