package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/observability/notify"
)

type recordingSink struct {
	mu       sync.Mutex
	payloads []notify.JobFailurePayload
	err      error
}

func (r *recordingSink) SendJobFailure(_ context.Context, payload notify.JobFailurePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.err
}

func TestNewService_SkipsNilSinks(t *testing.T) {
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "nil", Sink: nil},
			{Name: "real", Sink: &recordingSink{}},
		},
	})

	assert.True(t, svc.Enabled())
	assert.Len(t, svc.sinks, 1)
}

func TestNotifyJobFailure_FansOutToAllSinks(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{err: errors.New("webhook down")}

	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "first", Sink: first},
			{Name: "second", Sink: second},
		},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{
		JobID: "job-1",
		Error: "insufficient source balance",
	})

	require.Len(t, first.payloads, 1)
	require.Len(t, second.payloads, 1)
	assert.Equal(t, "job-1", first.payloads[0].JobID)
	assert.Equal(t, notify.SeverityCritical, first.payloads[0].Severity,
		"empty severity should default to critical")
}

func TestNotifyJobFailure_NoSinksIsNoop(t *testing.T) {
	svc := NewService(Options{})
	assert.False(t, svc.Enabled())
	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "job-1"})
}
