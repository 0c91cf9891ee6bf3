package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[ServiceMode]bool
		wantErr bool
	}{
		{
			name:  "single service",
			input: "http",
			want:  map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:  "multiple services",
			input: "http,engine",
			want:  map[ServiceMode]bool{ServiceModeHTTP: true, ServiceModeEngine: true},
		},
		{
			name:  "all services with whitespace",
			input: " http , engine , reaper ",
			want: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeEngine: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only commas",
			input:   ",,,",
			wantErr: true,
		},
		{
			name:    "invalid service",
			input:   "http,scheduler",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppConfig_ServiceHelpers(t *testing.T) {
	cfg := AppConfig{Services: "http,engine"}
	assert.True(t, cfg.IsHTTPServerEnabled())
	assert.True(t, cfg.IsEngineEnabled())
	assert.False(t, cfg.IsReaperEnabled())

	bad := AppConfig{Services: "nope"}
	assert.False(t, bad.IsHTTPServerEnabled())
	assert.False(t, bad.IsEngineEnabled())
	assert.False(t, bad.IsReaperEnabled())
}

func TestEngineConfig_Sanitize(t *testing.T) {
	cfg := EngineConfig{
		BatchPause:     -1 * time.Second,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  0,
		RunLockTTL:     time.Second,
		RunLockRefresh: 2 * time.Minute,
		IdlePoll:       0,
	}
	cfg.Sanitize()

	assert.Equal(t, time.Duration(0), cfg.BatchPause)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	assert.Equal(t, 10*time.Second, cfg.RunLockTTL)
	assert.Equal(t, cfg.RunLockTTL/3, cfg.RunLockRefresh, "refresh above TTL must be clamped")
	assert.Equal(t, 50*time.Millisecond, cfg.IdlePoll)
}

func TestMonitorConfig_Sanitize(t *testing.T) {
	cfg := MonitorConfig{Workers: 0, QueueSize: 0, ConfirmationTimeout: time.Second}
	cfg.Sanitize()

	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 1, cfg.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.ConfirmationTimeout)
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{
		Interval:           time.Second,
		StaleProcessingAge: time.Second,
		TerminalMaxAge:     time.Minute,
		BatchSize:          50000,
	}
	cfg.Sanitize()

	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, time.Minute, cfg.StaleProcessingAge)
	assert.Equal(t, time.Hour, cfg.TerminalMaxAge)
	assert.Equal(t, 10000, cfg.BatchSize)
}

func TestRelayConfig_Sanitize(t *testing.T) {
	cfg := RelayConfig{BaseURL: " https://relay.example.com/ ", APIKey: " key ", Timeout: 0}
	cfg.Sanitize()

	assert.Equal(t, "https://relay.example.com", cfg.BaseURL)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestObservabilityNotifications_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled: true,
		Slack:   SlackNotificationConfig{Enabled: true},
	}
	cfg.Sanitize()
	assert.False(t, cfg.Slack.Enabled, "slack without webhook URL must be disabled")
	assert.Equal(t, "dripline", cfg.Slack.Username)

	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/x",
		},
	}
	cfg.Sanitize()
	assert.False(t, cfg.Slack.Enabled, "master switch off disables slack")
}

func TestHTTPConfig_Sanitize(t *testing.T) {
	cfg := HTTPConfig{Addr: "  ", BaseURL: "https://dripline.example.com/", APIToken: " t "}
	cfg.Sanitize()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "https://dripline.example.com", cfg.BaseURL)
	assert.Equal(t, "t", cfg.APIToken)
}
