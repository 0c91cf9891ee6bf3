package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dripline/dripline/config"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/dispatch"
	"github.com/dripline/dripline/internal/domain/model"
	apperrors "github.com/dripline/dripline/internal/errors"
	"github.com/dripline/dripline/internal/service"
)

// ServiceContainer holds all constructed services.
type ServiceContainer struct {
	Jobs    *service.JobService
	Engine  *service.EngineService
	Monitor *service.ConfirmationMonitor
	Reaper  *service.ReaperService

	Observability *ObservabilityContainer
}

// ServiceDeps groups the dependencies needed to construct services.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// Clients is required when the engine service is enabled.
	Clients *ClientContainer
}

// NewServices wires repositories, the dispatch pipeline, and all services.
// The engine, monitor, and pipeline are only built when the engine service
// mode is enabled; an HTTP-only instance serves the job CRUD surface and
// rejects start requests.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil || deps.DB == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeProvider := &data.RealTimeProvider{}
	repoCfg := data.RepoConfig{Logger: logger, TimeProvider: timeProvider}
	jobRepo := data.NewJobRepo(deps.DB, repoCfg)
	taskRepo := data.NewTaskRepo(deps.DB, repoCfg)

	observability, err := BuildObservability(deps.Config, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	container := ServiceContainer{
		Jobs: service.MustNewJobService(service.JobServiceOptions{
			Jobs:   jobRepo,
			Tasks:  taskRepo,
			Logger: logger,
		}),
		Observability: observability,
	}

	if deps.Config.IsReaperEnabled() {
		container.Reaper = service.MustNewReaperService(service.ReaperServiceOptions{
			Jobs:    jobRepo,
			Tasks:   taskRepo,
			Config:  deps.Config.Reaper,
			Logger:  logger,
			Metrics: observability.MetricsSink,
		})
	}

	if !deps.Config.IsEngineEnabled() {
		return container, nil
	}

	if deps.Clients == nil {
		return ServiceContainer{}, errors.New("engine service requires external clients")
	}
	if deps.RedisClient == nil {
		return ServiceContainer{}, errors.New("engine service requires redis for run state")
	}

	runStateRepo := data.NewRedisRunStateRepo(deps.RedisClient)

	monitor := service.MustNewConfirmationMonitor(service.ConfirmationMonitorOptions{
		Tasks:        taskRepo,
		Ledger:       deps.Clients.Ledger,
		Config:       deps.Config.Monitor,
		Logger:       logger,
		Metrics:      observability.MetricsSink,
		TimeProvider: timeProvider,
	})

	policy, err := dispatch.NewRetryPolicy(deps.Config.Engine.RetryBaseDelay, deps.Config.Engine.RetryMaxDelay)
	if err != nil {
		observability.Close()
		return ServiceContainer{}, fmt.Errorf("build retry policy: %w", err)
	}

	retry := service.MustNewRetryController(service.RetryControllerOptions{
		Tasks:        taskRepo,
		Policy:       policy,
		Logger:       logger,
		Metrics:      observability.MetricsSink,
		TimeProvider: timeProvider,
	})

	pipeline := service.MustNewTaskPipeline(service.TaskPipelineOptions{
		Tasks:        taskRepo,
		Relay:        deps.Clients.Relay,
		Ledger:       deps.Clients.Ledger,
		Builder:      deps.Clients.Builder,
		Signer:       deps.Clients.Signer,
		Retry:        retry,
		Monitor:      monitor,
		Logger:       logger,
		Metrics:      observability.MetricsSink,
		TimeProvider: timeProvider,
	})

	container.Monitor = monitor
	container.Engine = service.MustNewEngineService(service.EngineServiceOptions{
		Jobs:            jobRepo,
		Tasks:           taskRepo,
		RunState:        runStateRepo,
		Ledger:          deps.Clients.Ledger,
		Pipeline:        pipeline,
		Config:          deps.Config.Engine,
		Logger:          logger,
		Metrics:         observability.MetricsSink,
		FailureNotifier: observability.FailureNotifier,
		TimeProvider:    timeProvider,
	})

	return container, nil
}

// disabledExecution rejects start and cancel requests on instances that do
// not run the engine.
type disabledExecution struct{}

func (disabledExecution) StartExecution(context.Context, string) (*model.Job, error) {
	return nil, apperrors.Conflict("execution engine is not enabled on this instance")
}

func (disabledExecution) CancelExecution(context.Context, string) error {
	return apperrors.Conflict("execution engine is not enabled on this instance")
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// backgroundService describes a startable background component.
type backgroundService struct {
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

type serviceStartupDeps struct {
	ctx    context.Context
	cfg    *ServiceOrchestrationConfig
	logger *slog.Logger
	errCh  chan error
}

func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.cfg.Config.IsHTTPServerEnabled() {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(deps.ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-deps.ctx.Done():
			default:
				deps.logger.WarnContext(deps.ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(deps.ctx, "background service started", "service", descriptor.name)
	return done
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	services := deps.cfg.Services
	var out []backgroundService

	if services.Engine != nil {
		out = append(out,
			backgroundService{name: "confirmation monitor", start: services.Monitor.Run},
			backgroundService{name: "distribution engine", start: services.Engine.Run},
		)
	}
	if services.Reaper != nil {
		out = append(out, backgroundService{name: "reaper", start: services.Reaper.Run})
	}

	return out
}

func startBackgroundServices(deps *serviceStartupDeps) []backgroundServiceHandle {
	descriptors := buildBackgroundServices(deps)
	handles := make([]backgroundServiceHandle, 0, len(descriptors))
	for _, svc := range descriptors {
		handles = append(handles, backgroundServiceHandle{
			name: svc.name,
			done: launchBackground(deps, svc),
		})
	}
	return handles
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deps := &serviceStartupDeps{
		ctx:    serviceCtx,
		cfg:    cfg,
		logger: logger,
		errCh:  make(chan error, 4),
	}

	httpServer := startHTTPServerIfEnabled(deps)
	backgrounds := startBackgroundServices(deps)

	return waitForShutdown(shutdownConfig{
		ctx:           serviceCtx,
		cancel:        cancel,
		errCh:         deps.errCh,
		httpServer:    httpServer,
		observability: cfg.Services.Observability,
		logger:        logger,
		backgrounds:   backgrounds,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx           context.Context
	cancel        context.CancelFunc
	errCh         <-chan error
	httpServer    *http.Server
	observability *ObservabilityContainer
	logger        *slog.Logger
	backgrounds   []backgroundServiceHandle
}

// waitForShutdown waits for a shutdown signal or a service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if cfg.observability != nil {
		if err := cfg.observability.Close(); err != nil {
			cfg.logger.Warn("closing observability resources failed", "error", err)
		}
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
