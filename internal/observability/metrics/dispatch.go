package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/dripline/dripline/internal/observability/errors"
	"github.com/dripline/dripline/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// TaskMetric captures details about a task pipeline event for metric emission.
type TaskMetric struct {
	Stage    string // build, optimize, sign, submit, confirm
	Result   string
	Duration time.Duration
	Err      error
}

// EmitTaskStage emits standardised task pipeline metrics.
func EmitTaskStage(sink statsd.Sink, in TaskMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"stage":  in.Stage,
		"result": in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("task.stage", 1, tags)

	if in.Duration > 0 {
		sink.Timing("task.stage_duration", in.Duration, CloneTags(tags))
	}
}

// JobRunMetric captures details about a whole distribution run for metric emission.
type JobRunMetric struct {
	Status    string // completed, failed, cancelled
	Sent      int
	Confirmed int
	Failed    int
	Duration  time.Duration
}

// EmitJobRun emits run-level outcome metrics when a job finalizes.
func EmitJobRun(sink statsd.Sink, in JobRunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"status": in.Status}

	sink.Count("job.finalized", 1, tags)
	sink.Count("job.tasks_sent", int64(in.Sent), CloneTags(tags))
	sink.Count("job.tasks_confirmed", int64(in.Confirmed), CloneTags(tags))
	sink.Count("job.tasks_failed", int64(in.Failed), CloneTags(tags))

	if in.Duration > 0 {
		sink.Timing("job.run_duration", in.Duration, CloneTags(tags))
	}
}

// EmitRetryScheduled records a task entering backoff before its next attempt.
func EmitRetryScheduled(sink statsd.Sink, attempts int, delay time.Duration) {
	if sink == nil {
		return
	}
	tags := map[string]string{"attempt": strconv.Itoa(attempts)}
	sink.Count("task.retry_scheduled", 1, tags)
	sink.Timing("task.retry_delay", delay, CloneTags(tags))
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
