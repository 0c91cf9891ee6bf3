package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/config"
	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/dispatch"
	"github.com/dripline/dripline/internal/domain/model"
	mockclients "github.com/dripline/dripline/internal/mocks/clients"
)

// memStore is an in-memory implementation of the job and task repositories
// with the same compare-and-set transition semantics as the SQL layer. It
// backs full-run engine tests where a live database would only add noise.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	tasks     map[string]*model.Task
	taskOrder []string
	nextJob   int
	nextTask  int
}

// memStore carries the task state too, but the TaskRepository view is
// provided by taskRepoShim because GetByID and MarkFailed exist on both
// repository interfaces with different shapes.
var _ core.JobRepository = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		jobs:  make(map[string]*model.Job),
		tasks: make(map[string]*model.Task),
	}
}

func (m *memStore) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextJob++
	now := time.Now()
	job := &model.Job{
		ID:              fmt.Sprintf("job-%d", m.nextJob),
		Mint:            req.Mint,
		Decimals:        req.Decimals,
		SourceAccount:   req.SourceAccount,
		Authority:       req.Authority,
		DeliveryMode:    req.DeliveryMode,
		BatchSize:       req.BatchSize,
		MaxRetries:      req.MaxRetries,
		Status:          model.JobStatusPending,
		TotalRecipients: len(req.Recipients),
		FeeSpent:        decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, from, to model.JobStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != from || !from.CanTransitionTo(to) {
		return false, nil
	}
	now := time.Now()
	job.Status = to
	if to == model.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if to.Terminal() {
		job.CompletedAt = &now
	}
	job.UpdatedAt = now
	return true, nil
}

func (m *memStore) MarkFailed(_ context.Context, id, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	now := time.Now()
	job.Status = model.JobStatusFailed
	job.LastError = &errMsg
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (m *memStore) FinalizeStats(_ context.Context, params core.FinalizeJobStatsParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[params.JobID]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := time.Now()
	job.Status = params.Status
	job.TotalSent = params.Sent
	job.TotalConfirmed = params.Confirmed
	job.TotalFailed = params.Failed
	job.FeeSpent = params.FeeSpent
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (m *memStore) List(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, job := range m.jobs {
		if opts.Status != "" && job.Status != opts.Status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	if job.Status == model.JobStatusRunning {
		return data.ErrJobNotDeletable
	}
	delete(m.jobs, id)
	for taskID, task := range m.tasks {
		if task.JobID == id {
			delete(m.tasks, taskID)
		}
	}
	return nil
}

func (m *memStore) DeleteOldTerminal(_ context.Context, _ core.DeleteOldJobsParams) (int64, error) {
	return 0, nil
}

func (m *memStore) BulkCreate(_ context.Context, jobID string, rows []model.CreateTaskRow) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return 0, data.ErrJobMissingForTasks
	}
	now := time.Now()
	for _, row := range rows {
		m.nextTask++
		task := &model.Task{
			ID:        fmt.Sprintf("task-%d", m.nextTask),
			JobID:     jobID,
			Recipient: row.Recipient,
			Amount:    row.Amount,
			Status:    model.TaskStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.tasks[task.ID] = task
		m.taskOrder = append(m.taskOrder, task.ID)
	}
	return len(rows), nil
}

func (m *memStore) taskByID(id string) (*model.Task, bool) {
	task, ok := m.tasks[id]
	return task, ok
}

func (m *memStore) GetByIDTaskErr(_ context.Context, id string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, data.ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

func (m *memStore) GetPendingOrRetrying(_ context.Context, jobID string, limit int) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Task
	for _, id := range m.taskOrder {
		task := m.tasks[id]
		if task == nil || task.JobID != jobID || !task.Status.Eligible() {
			continue
		}
		cp := *task
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.taskByID(id)
	if !ok || !task.Status.Eligible() {
		return false, nil
	}
	task.Status = model.TaskStatusProcessing
	task.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) MarkSent(_ context.Context, params core.MarkTaskSentParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.taskByID(params.TaskID)
	if !ok || task.Status != model.TaskStatusProcessing {
		return false, nil
	}
	sig := params.Signature
	task.Status = model.TaskStatusSent
	task.Signature = &sig
	task.Attempts = params.Attempts
	task.LastError = nil
	task.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) MarkConfirmed(_ context.Context, params core.MarkTaskConfirmedParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.taskByID(params.TaskID)
	if !ok || task.Status != model.TaskStatusSent {
		return false, nil
	}
	fee := params.FeePaid
	at := params.ConfirmedAt
	task.Status = model.TaskStatusConfirmed
	task.FeePaid = &fee
	task.ConfirmedAt = &at
	task.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) MarkFailedTask(params core.MarkTaskFailedParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.taskByID(params.TaskID)
	if !ok || (task.Status != model.TaskStatusProcessing && task.Status != model.TaskStatusSent) {
		return false, nil
	}
	msg := params.ErrMsg
	task.Status = model.TaskStatusFailed
	task.Attempts = params.Attempts
	task.LastError = &msg
	task.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) MarkRetrying(_ context.Context, params core.MarkTaskRetryingParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.taskByID(params.TaskID)
	if !ok || task.Status != model.TaskStatusProcessing {
		return false, nil
	}
	msg := params.ErrMsg
	task.Status = model.TaskStatusRetrying
	task.Attempts = params.Attempts
	task.LastError = &msg
	task.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) ListByJob(_ context.Context, opts model.TaskListOptions) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Task
	for _, id := range m.taskOrder {
		task := m.tasks[id]
		if task == nil || task.JobID != opts.JobID {
			continue
		}
		if opts.Status != "" && task.Status != opts.Status {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) AggregateByStatus(_ context.Context, jobID string) ([]model.TaskStatusAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.TaskStatus]int)
	signatures := make(map[model.TaskStatus]int)
	fees := make(map[model.TaskStatus]decimal.Decimal)
	for _, task := range m.tasks {
		if task.JobID != jobID {
			continue
		}
		counts[task.Status]++
		if task.Signature != nil {
			signatures[task.Status]++
		}
		fee := fees[task.Status]
		if task.FeePaid != nil {
			fee = fee.Add(*task.FeePaid)
		}
		fees[task.Status] = fee
	}
	var out []model.TaskStatusAggregate
	for status, count := range counts {
		out = append(out, model.TaskStatusAggregate{
			Status:        status,
			Count:         count,
			WithSignature: signatures[status],
			FeeSum:        fees[status],
		})
	}
	return out, nil
}

func (m *memStore) RequeueStaleProcessing(_ context.Context, staleAfter time.Duration, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-staleAfter)
	var count int64
	for _, task := range m.tasks {
		if task.Status == model.TaskStatusProcessing && task.UpdatedAt.Before(cutoff) {
			task.Status = model.TaskStatusPending
			count++
			if batchSize > 0 && count == int64(batchSize) {
				break
			}
		}
	}
	return count, nil
}

// memRunState is an in-memory run lock and cancel flag store.
type memRunState struct {
	mu      sync.Mutex
	locks   map[string]bool
	cancels map[string]bool
}

var _ core.RunStateRepository = (*memRunState)(nil)

func newMemRunState() *memRunState {
	return &memRunState{
		locks:   make(map[string]bool),
		cancels: make(map[string]bool),
	}
}

func (m *memRunState) AcquireRunLock(_ context.Context, jobID string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[jobID] {
		return false, nil
	}
	m.locks[jobID] = true
	return true, nil
}

func (m *memRunState) RefreshRunLock(_ context.Context, jobID string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.locks[jobID] {
		return fmt.Errorf("run lock for job %s no longer held", jobID)
	}
	return nil
}

func (m *memRunState) ReleaseRunLock(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, jobID)
	return nil
}

func (m *memRunState) RequestCancel(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[jobID] = true
	return nil
}

func (m *memRunState) CancelRequested(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels[jobID], nil
}

func (m *memRunState) ClearCancel(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, jobID)
	return nil
}

func (m *memRunState) lockHeld(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[jobID]
}

// engineHarness wires an EngineService against in-memory state and fakes.
type engineHarness struct {
	store    *memStore
	runState *memRunState
	relay    *mockclients.FakeRelay
	ledger   *mockclients.FakeLedger
	builder  *mockclients.FakeBuilder
	signer   *mockclients.FakeSigner

	jobs   *JobService
	engine *EngineService

	cancel context.CancelFunc
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	h := &engineHarness{
		store:    newMemStore(),
		runState: newMemRunState(),
		relay:    mockclients.NewFakeRelay(),
		ledger:   mockclients.NewFakeLedger(),
		builder:  mockclients.NewFakeBuilder(),
		signer:   mockclients.NewFakeSigner(),
	}

	tasks := &taskRepoShim{store: h.store}

	jobs, err := NewJobService(JobServiceOptions{Jobs: h.store, Tasks: tasks})
	require.NoError(t, err)
	h.jobs = jobs

	monitor, err := NewConfirmationMonitor(ConfirmationMonitorOptions{
		Tasks:  tasks,
		Ledger: h.ledger,
		Config: config.MonitorConfig{Workers: 4, QueueSize: 16},
	})
	require.NoError(t, err)

	policy, err := dispatch.NewRetryPolicy(100*time.Millisecond, time.Second)
	require.NoError(t, err)

	retry, err := NewRetryController(RetryControllerOptions{Tasks: tasks, Policy: policy})
	require.NoError(t, err)

	pipeline, err := NewTaskPipeline(TaskPipelineOptions{
		Tasks:   tasks,
		Relay:   h.relay,
		Ledger:  h.ledger,
		Builder: h.builder,
		Signer:  h.signer,
		Retry:   retry,
		Monitor: monitor,
	})
	require.NoError(t, err)

	engine, err := NewEngineService(EngineServiceOptions{
		Jobs:     h.store,
		Tasks:    tasks,
		RunState: h.runState,
		Ledger:   h.ledger,
		Pipeline: pipeline,
		Config: config.EngineConfig{
			BatchPause:     10 * time.Millisecond,
			RetryBaseDelay: 100 * time.Millisecond,
			RetryMaxDelay:  time.Second,
			RunLockTTL:     10 * time.Second,
			RunLockRefresh: 3 * time.Second,
			IdlePoll:       50 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	h.engine = engine

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = monitor.Run(ctx) }()
	go func() { _ = engine.Run(ctx) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		return engine.runContext() != nil
	}, time.Second, 5*time.Millisecond)

	return h
}

// taskRepoShim forwards the task repository interface to memStore, resolving
// the method name collisions between the two repository interfaces.
type taskRepoShim struct {
	store *memStore
}

var _ core.TaskRepository = (*taskRepoShim)(nil)

func (s *taskRepoShim) BulkCreate(ctx context.Context, jobID string, rows []model.CreateTaskRow) (int, error) {
	return s.store.BulkCreate(ctx, jobID, rows)
}

func (s *taskRepoShim) GetByID(ctx context.Context, id string) (*model.Task, error) {
	return s.store.GetByIDTaskErr(ctx, id)
}

func (s *taskRepoShim) GetPendingOrRetrying(ctx context.Context, jobID string, limit int) ([]*model.Task, error) {
	return s.store.GetPendingOrRetrying(ctx, jobID, limit)
}

func (s *taskRepoShim) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return s.store.MarkProcessing(ctx, id)
}

func (s *taskRepoShim) MarkSent(ctx context.Context, params core.MarkTaskSentParams) (bool, error) {
	return s.store.MarkSent(ctx, params)
}

func (s *taskRepoShim) MarkConfirmed(ctx context.Context, params core.MarkTaskConfirmedParams) (bool, error) {
	return s.store.MarkConfirmed(ctx, params)
}

func (s *taskRepoShim) MarkFailed(_ context.Context, params core.MarkTaskFailedParams) (bool, error) {
	return s.store.MarkFailedTask(params)
}

func (s *taskRepoShim) MarkRetrying(ctx context.Context, params core.MarkTaskRetryingParams) (bool, error) {
	return s.store.MarkRetrying(ctx, params)
}

func (s *taskRepoShim) ListByJob(ctx context.Context, opts model.TaskListOptions) ([]*model.Task, error) {
	return s.store.ListByJob(ctx, opts)
}

func (s *taskRepoShim) AggregateByStatus(ctx context.Context, jobID string) ([]model.TaskStatusAggregate, error) {
	return s.store.AggregateByStatus(ctx, jobID)
}

func (s *taskRepoShim) RequeueStaleProcessing(ctx context.Context, staleAfter time.Duration, batchSize int) (int64, error) {
	return s.store.RequeueStaleProcessing(ctx, staleAfter, batchSize)
}

func (h *engineHarness) createJob(t *testing.T, req *model.CreateJobRequest) *model.Job {
	t.Helper()
	job, err := h.jobs.CreateJob(context.Background(), req)
	require.NoError(t, err)
	return job
}

func (h *engineHarness) waitForJobStatus(t *testing.T, jobID string, want model.JobStatus) *model.Job {
	t.Helper()
	var job *model.Job
	require.Eventually(t, func() bool {
		j, err := h.store.GetByID(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func (h *engineHarness) jobTasks(t *testing.T, jobID string) []*model.Task {
	t.Helper()
	tasks, err := h.store.ListByJob(context.Background(), model.TaskListOptions{JobID: jobID})
	require.NoError(t, err)
	return tasks
}

func threeRecipientRequest() *model.CreateJobRequest {
	return &model.CreateJobRequest{
		Mint:          "Mint11111111111111111111111111111111111111",
		Decimals:      9,
		SourceAccount: "Source1111111111111111111111111111111111111",
		Authority:     "Authority11111111111111111111111111111111",
		DeliveryMode:  model.DeliveryModeCostSaver,
		BatchSize:     10,
		MaxRetries:    3,
		Recipients: []model.RecipientRequest{
			{Address: "Recipient1111111111111111111111111111111111", Amount: "100.5"},
			{Address: "Recipient2222222222222222222222222222222222", Amount: "1"},
			{Address: "Recipient3333333333333333333333333333333333", Amount: "0.000000001"},
		},
	}
}
