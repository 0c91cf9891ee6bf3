package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeEngine runs the distribution execution engine.
	ServiceModeEngine ServiceMode = "engine"
	// ServiceModeReaper runs the reaper for stale task requeue and job cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeEngine,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeEngine, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, engine, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// EngineConfig contains distribution engine configuration.
type EngineConfig struct {
	// BatchPause is the fixed pause between dispatch batches, sized against
	// the relay's request-rate ceiling.
	BatchPause time.Duration `env:"ENGINE_BATCH_PAUSE" envDefault:"10s"`

	// RetryBaseDelay is the base for exponential retry backoff (2^attempts * base).
	RetryBaseDelay time.Duration `env:"ENGINE_RETRY_BASE_DELAY" envDefault:"1s"`

	// RetryMaxDelay caps the computed backoff delay.
	RetryMaxDelay time.Duration `env:"ENGINE_RETRY_MAX_DELAY" envDefault:"2m"`

	// RunLockTTL is the expiry on the per-job run lock in Redis.
	RunLockTTL time.Duration `env:"ENGINE_RUN_LOCK_TTL" envDefault:"60s"`

	// RunLockRefresh is how often a live run extends its lock.
	RunLockRefresh time.Duration `env:"ENGINE_RUN_LOCK_REFRESH" envDefault:"20s"`

	// IdlePoll bounds how long the run loop sleeps while waiting for the
	// next retry entry to come due.
	IdlePoll time.Duration `env:"ENGINE_IDLE_POLL" envDefault:"500ms"`
}

// Sanitize applies guardrails to engine configuration values.
func (e *EngineConfig) Sanitize() {
	if e.BatchPause < 0 {
		e.BatchPause = 0
	}
	if e.RetryBaseDelay < 100*time.Millisecond {
		e.RetryBaseDelay = 100 * time.Millisecond
	}
	if e.RetryMaxDelay < e.RetryBaseDelay {
		e.RetryMaxDelay = e.RetryBaseDelay
	}
	if e.RunLockTTL < 10*time.Second {
		e.RunLockTTL = 10 * time.Second
	}
	if e.RunLockRefresh <= 0 || e.RunLockRefresh >= e.RunLockTTL {
		e.RunLockRefresh = e.RunLockTTL / 3
	}
	if e.IdlePoll < 50*time.Millisecond {
		e.IdlePoll = 50 * time.Millisecond
	}
}

// MonitorConfig contains confirmation monitor pool configuration.
type MonitorConfig struct {
	// Workers is the number of confirmation worker goroutines.
	Workers int `env:"MONITOR_WORKERS" envDefault:"8"`

	// QueueSize is the buffered capacity of the confirmation queue.
	QueueSize int `env:"MONITOR_QUEUE_SIZE" envDefault:"256"`

	// ConfirmationTimeout bounds how long a single confirmation wait may take
	// regardless of the transaction's validity window.
	ConfirmationTimeout time.Duration `env:"MONITOR_CONFIRMATION_TIMEOUT" envDefault:"90s"`
}

// Sanitize applies guardrails to monitor configuration values.
func (m *MonitorConfig) Sanitize() {
	if m.Workers < 1 {
		m.Workers = 1
	}
	if m.QueueSize < m.Workers {
		m.QueueSize = m.Workers
	}
	if m.ConfirmationTimeout < 5*time.Second {
		m.ConfirmationTimeout = 5 * time.Second
	}
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// StaleProcessingAge is how long a task may sit in processing before it
	// is treated as a crash leftover and requeued.
	StaleProcessingAge time.Duration `env:"REAPER_STALE_PROCESSING_AGE" envDefault:"10m"`

	// TerminalMaxAge is the maximum age for terminal jobs before deletion.
	TerminalMaxAge time.Duration `env:"REAPER_TERMINAL_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.StaleProcessingAge < 1*time.Minute {
		r.StaleProcessingAge = 1 * time.Minute
	}
	if r.TerminalMaxAge < 1*time.Hour {
		r.TerminalMaxAge = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
