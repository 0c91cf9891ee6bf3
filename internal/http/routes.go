package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	// Required:
	Jobs   JobsService
	Engine ExecutionService

	// Optional: bearer token protecting the /api surface. Empty disables
	// authentication, which is only acceptable for local development.
	APIToken string
	// Optional: logger for request and panic logging.
	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router for the job API.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Jobs: services.Jobs, Engine: services.Engine}
	registerJobRoutes(mux, jobHandlers, services.APIToken)

	// Health stays outside auth so load balancers can probe it.
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	handler = Recover(logger)(handler)
	handler = Logging(logger)(handler)
	return handler
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers, apiToken string) {
	auth := RequireBearer(apiToken)

	mux.Handle("POST /api/jobs", auth(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/jobs", auth(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/jobs/{id}", auth(http.HandlerFunc(h.Get)))
	mux.Handle("DELETE /api/jobs/{id}", auth(http.HandlerFunc(h.Delete)))
	mux.Handle("POST /api/jobs/{id}/start", auth(http.HandlerFunc(h.Start)))
	mux.Handle("POST /api/jobs/{id}/cancel", auth(http.HandlerFunc(h.Cancel)))
	mux.Handle("GET /api/jobs/{id}/tasks", auth(http.HandlerFunc(h.Tasks)))
	mux.Handle("GET /api/jobs/{id}/stats", auth(http.HandlerFunc(h.Stats)))
}
