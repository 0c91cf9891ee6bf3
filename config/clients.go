package config

import (
	"strings"
	"time"
)

// RelayConfig contains the transaction relay service configuration.
type RelayConfig struct {
	// BaseURL is the relay service endpoint.
	BaseURL string `env:"RELAY_BASE_URL"`

	// APIKey authenticates against the relay service.
	APIKey string `env:"RELAY_API_KEY"`

	// Timeout bounds a single relay request.
	Timeout time.Duration `env:"RELAY_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to relay configuration values.
func (r *RelayConfig) Sanitize() {
	r.BaseURL = strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	r.APIKey = strings.TrimSpace(r.APIKey)
	if r.Timeout <= 0 {
		r.Timeout = 30 * time.Second
	}
}

// LedgerConfig contains the ledger RPC configuration.
type LedgerConfig struct {
	// RPCEndpoint is the ledger JSON-RPC endpoint.
	RPCEndpoint string `env:"LEDGER_RPC_ENDPOINT" envDefault:"https://api.mainnet-beta.solana.com"`

	// PollInterval is how often confirmation loops poll signature status.
	PollInterval time.Duration `env:"LEDGER_POLL_INTERVAL" envDefault:"2s"`
}

// Sanitize applies guardrails to ledger configuration values.
func (l *LedgerConfig) Sanitize() {
	l.RPCEndpoint = strings.TrimSpace(l.RPCEndpoint)
	if l.PollInterval < 200*time.Millisecond {
		l.PollInterval = 200 * time.Millisecond
	}
}

// SignerConfig contains the distribution authority signing configuration.
type SignerConfig struct {
	// PrivateKey is the base58-encoded authority private key.
	// Never logged; keep it out of error messages.
	PrivateKey string `env:"SIGNER_PRIVATE_KEY"`
}

// Sanitize applies guardrails to signer configuration values.
func (s *SignerConfig) Sanitize() {
	s.PrivateKey = strings.TrimSpace(s.PrivateKey)
}
