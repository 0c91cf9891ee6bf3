package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/dripline/dripline/config"
	"github.com/dripline/dripline/internal/adapters/ledger"
	"github.com/dripline/dripline/internal/adapters/relay"
	"github.com/dripline/dripline/internal/adapters/signer"
	"github.com/dripline/dripline/internal/adapters/txbuilder"
	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/observability/notify/slack"
	"github.com/dripline/dripline/internal/observability/statsd"
	"github.com/dripline/dripline/internal/service/failurenotifier"
)

// ClientContainer holds the external clients the engine depends on.
type ClientContainer struct {
	Relay   core.RelayClient
	Ledger  core.LedgerClient
	Builder core.TransactionBuilder
	Signer  core.Signer
}

// BuildClients constructs the relay, ledger, builder, and signer adapters
// from configuration.
func BuildClients(cfg *config.AppConfig, logger *slog.Logger) (ClientContainer, error) {
	relayClient, err := relay.NewClient(relay.Config{
		BaseURL: cfg.Relay.BaseURL,
		APIKey:  cfg.Relay.APIKey,
		Timeout: cfg.Relay.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return ClientContainer{}, fmt.Errorf("create relay client: %w", err)
	}

	ledgerClient, err := ledger.NewClient(ledger.Config{
		Endpoint:     cfg.Ledger.RPCEndpoint,
		PollInterval: cfg.Ledger.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return ClientContainer{}, fmt.Errorf("create ledger client: %w", err)
	}

	// The error from NewLocal never contains key material.
	authority, err := signer.NewLocal(cfg.Signer.PrivateKey)
	if err != nil {
		return ClientContainer{}, fmt.Errorf("create authority signer: %w", err)
	}

	return ClientContainer{
		Relay:   relayClient,
		Ledger:  ledgerClient,
		Builder: txbuilder.NewBuilder(),
		Signer:  authority,
	}, nil
}

// ObservabilityContainer holds the metrics sink and failure notifier shared
// across services.
type ObservabilityContainer struct {
	MetricsSink     statsd.Sink
	FailureNotifier *failurenotifier.Service

	statsdClient *statsd.Client
}

// Close releases observability resources.
func (c *ObservabilityContainer) Close() error {
	if c == nil || c.statsdClient == nil {
		return nil
	}
	return c.statsdClient.Close()
}

// BuildObservability constructs the StatsD sink and the failure notifier
// fan-out from configuration. Disabled components degrade to no-ops rather
// than failing startup.
func BuildObservability(cfg *config.AppConfig, logger *slog.Logger) (*ObservabilityContainer, error) {
	statsdClient, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  "dripline",
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}

	var sinks []failurenotifier.SinkRegistration
	notifications := cfg.Observability.Notifications
	if notifications.Slack.Enabled {
		slackClient, slackErr := slack.NewClient(slack.Config{
			WebhookURL:   notifications.Slack.WebhookURL,
			Channel:      notifications.Slack.Channel,
			Username:     notifications.Slack.Username,
			Timeout:      notifications.Timeout,
			RetryLimit:   notifications.RetryLimit,
			JobURLPrefix: notifications.Slack.JobURLPrefix,
		})
		if slackErr != nil {
			return nil, fmt.Errorf("create slack notifier: %w", slackErr)
		}
		sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: slackClient})
	}

	notifier := failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  sinks,
	})

	return &ObservabilityContainer{
		MetricsSink:     statsdClient,
		FailureNotifier: notifier,
		statsdClient:    statsdClient,
	}, nil
}
