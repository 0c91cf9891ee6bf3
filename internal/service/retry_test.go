package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/dispatch"
	"github.com/dripline/dripline/internal/domain/model"
	"github.com/dripline/dripline/internal/mocks"
)

func newRetryControllerForTest(t *testing.T) (*RetryController, *mocks.MockTaskRepository, *data.FixedTimeProvider) {
	t.Helper()
	ctrl := gomock.NewController(t)
	tasks := mocks.NewMockTaskRepository(ctrl)
	policy, err := dispatch.NewRetryPolicy(time.Second, time.Minute)
	require.NoError(t, err)

	clock := data.NewFixedTimeProvider(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))
	c, err := NewRetryController(RetryControllerOptions{
		Tasks:        tasks,
		Policy:       policy,
		TimeProvider: clock,
	})
	require.NoError(t, err)
	return c, tasks, clock
}

func TestRetryControllerSchedulesBackoff(t *testing.T) {
	c, tasks, clock := newRetryControllerForTest(t)
	queue := dispatch.NewDelayQueue()

	job := &model.Job{ID: "job-1", MaxRetries: 3}
	task := &model.Task{ID: "task-1", JobID: "job-1", Attempts: 1}

	tasks.EXPECT().
		MarkRetrying(gomock.Any(), core.MarkTaskRetryingParams{
			TaskID:   "task-1",
			Attempts: 2,
			ErrMsg:   "optimize: relay returned 502",
		}).
		Return(true, nil)

	err := c.HandleFailure(context.Background(), queue, job, task, stageOptimize,
		errors.New("relay returned 502"))
	require.NoError(t, err)

	// Second failure backs off 2^1 * base.
	require.Equal(t, 1, queue.Len())
	due, ok := queue.NextDue()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(2*time.Second), due)
}

func TestRetryControllerFailsAtCeiling(t *testing.T) {
	c, tasks, _ := newRetryControllerForTest(t)
	queue := dispatch.NewDelayQueue()

	job := &model.Job{ID: "job-1", MaxRetries: 3}
	task := &model.Task{ID: "task-1", JobID: "job-1", Attempts: 2}

	tasks.EXPECT().
		MarkFailed(gomock.Any(), core.MarkTaskFailedParams{
			TaskID:   "task-1",
			Attempts: 3,
			ErrMsg:   "submit: connection refused",
		}).
		Return(true, nil)

	err := c.HandleFailure(context.Background(), queue, job, task, stageSubmit,
		errors.New("connection refused"))
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Len(), "terminal failures never re-enter the queue")
}

func TestRetryControllerTruncatesErrorMessage(t *testing.T) {
	c, tasks, _ := newRetryControllerForTest(t)
	queue := dispatch.NewDelayQueue()

	job := &model.Job{ID: "job-1", MaxRetries: 2}
	task := &model.Task{ID: "task-1", Attempts: 0}

	long := strings.Repeat("x", 2*model.MaxTaskErrorLength)
	tasks.EXPECT().
		MarkRetrying(gomock.Any(), gomock.Cond(func(params core.MarkTaskRetryingParams) bool {
			return len(params.ErrMsg) == model.MaxTaskErrorLength &&
				strings.HasPrefix(params.ErrMsg, "build: ")
		})).
		Return(true, nil)

	err := c.HandleFailure(context.Background(), queue, job, task, stageBuild, errors.New(long))
	require.NoError(t, err)
}

func TestRetryControllerPropagatesWriteErrors(t *testing.T) {
	c, tasks, _ := newRetryControllerForTest(t)
	queue := dispatch.NewDelayQueue()

	job := &model.Job{ID: "job-1", MaxRetries: 3}
	task := &model.Task{ID: "task-1", Attempts: 0}

	tasks.EXPECT().MarkRetrying(gomock.Any(), gomock.Any()).
		Return(false, errors.New("connection reset"))

	err := c.HandleFailure(context.Background(), queue, job, task, stageBuild,
		errors.New("bad blockhash"))
	require.Error(t, err)
	assert.Equal(t, 0, queue.Len())
}
