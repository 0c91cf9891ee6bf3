package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripline/dripline/internal/domain/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireBearer_AcceptsMatchingToken(t *testing.T) {
	h := RequireBearer("sekrit")(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	r.Header.Set("Authorization", "Bearer sekrit")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireBearer_RejectsBadToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "wrong token", header: "Bearer nope"},
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic c2Vrcml0"},
		{name: "empty token", header: "Bearer "},
	}

	h := RequireBearer("sekrit")(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "authentication_required")
		})
	}
}

func TestRequireBearer_CaseInsensitiveScheme(t *testing.T) {
	h := RequireBearer("sekrit")(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	r.Header.Set("Authorization", "bearer sekrit")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireBearer_EmptyTokenDisablesAuth(t *testing.T) {
	h := RequireBearer("")(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNewRouter_HealthBypassesAuth(t *testing.T) {
	router := NewRouter(RouterServices{
		Jobs:     &fakeJobsService{},
		Engine:   &fakeExecutionService{},
		APIToken: "sekrit",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNewRouter_RoutesToJobHandlers(t *testing.T) {
	router := NewRouter(RouterServices{
		Jobs: &fakeJobsService{
			GetJobFunc: func(_ context.Context, id string) (*model.Job, error) {
				return &model.Job{ID: id, Status: model.JobStatusPending}, nil
			},
		},
		Engine:   &fakeExecutionService{},
		APIToken: "sekrit",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/job-42", nil)
	r.Header.Set("Authorization", "Bearer sekrit")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "job-42")
}
