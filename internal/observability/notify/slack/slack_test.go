package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/observability/notify"
)

func TestNewClient_RequiresWebhookURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestSendJobFailure_PostsFormattedMessage(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		WebhookURL:   srv.URL,
		Channel:      "#payouts",
		JobURLPrefix: "https://dripline.example.com/jobs",
	})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{
		JobID:        "job-123",
		Mint:         "So11111111111111111111111111111111111111112",
		DeliveryMode: "cost-saver",
		Error:        "source token account not found",
		ErrorClass:   "errors_errorstring",
		OccurredAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Metadata:     map[string]string{"recipients": "250"},
	})
	require.NoError(t, err)

	text, ok := received["text"].(string)
	require.True(t, ok)
	assert.Contains(t, text, "Distribution job failure")
	assert.Contains(t, text, "https://dripline.example.com/jobs/job-123")
	assert.Contains(t, text, "Delivery mode: cost-saver")
	assert.Contains(t, text, "source token account not found")
	assert.Contains(t, text, "recipients: 250")
	assert.Contains(t, text, "2025-06-01T12:00:00Z")
	assert.Equal(t, "#payouts", received["channel"])
	assert.Equal(t, "dripline", received["username"])
}

func TestSendJobFailure_RetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, RetryLimit: 2})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSendJobFailure_ReturnsLastErrorWhenExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, RetryLimit: 1})
	require.NoError(t, err)

	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "job-1"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no_service"))
}

func TestFormatJobValue(t *testing.T) {
	client, err := NewClient(Config{WebhookURL: "https://hooks.example.com/x"})
	require.NoError(t, err)

	assert.Equal(t, "", client.formatJobValue("  "))
	assert.Equal(t, "`job-1`", client.formatJobValue("job-1"))

	client.jobURLPrefix = "https://dripline.example.com/jobs"
	assert.Equal(t, "<https://dripline.example.com/jobs/job-1|job-1>", client.formatJobValue("job-1"))

	// A prefix without a scheme can't produce a link.
	client.jobURLPrefix = "dripline.example.com/jobs"
	assert.Equal(t, "`job-1`", client.formatJobValue("job-1"))
}
