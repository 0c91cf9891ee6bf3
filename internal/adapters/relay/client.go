// Package relay implements the HTTP client for the external transaction
// optimization and submission service.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dripline/dripline/internal/core"
)

const maxErrorBodyBytes = 4 << 10

// Error is a typed relay failure carrying the HTTP status for rate-limit
// and availability handling upstream.
type Error struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// RateLimited reports whether the relay rejected the request for rate limiting.
func (e *Error) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Config describes how to reach the relay service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// Client talks to the relay service over JSON/HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

var _ core.RelayClient = (*Client)(nil)

// NewClient builds a relay client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("relay base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "relay_client")
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    hc,
		logger:  logger,
	}, nil
}

type optimizeRequestBody struct {
	Transaction     string `json:"transaction"`
	PriorityFeeTier string `json:"priority_fee_tier"`
	TipTier         string `json:"tip_tier,omitempty"`
	Route           string `json:"route"`
}

type optimizeResponseBody struct {
	Transaction        string `json:"transaction"`
	ReferenceBlockhash string `json:"reference_blockhash"`
	ExpiryHeight       uint64 `json:"expiry_height"`
}

// Optimize sends an unsigned transaction for fee and routing optimization.
func (c *Client) Optimize(ctx context.Context, req core.OptimizeRequest) (*core.OptimizeResult, error) {
	if len(req.UnsignedTx) == 0 {
		return nil, errors.New("unsigned transaction is required")
	}

	body := optimizeRequestBody{
		Transaction:     base64.StdEncoding.EncodeToString(req.UnsignedTx),
		PriorityFeeTier: string(req.Params.PriorityFeeTier),
		TipTier:         string(req.Params.TipTier),
		Route:           string(req.Params.Route),
	}

	var resp optimizeResponseBody
	if err := c.postJSON(ctx, "optimize", "/v1/transactions/optimize", body, &resp); err != nil {
		return nil, err
	}

	optimized, err := base64.StdEncoding.DecodeString(resp.Transaction)
	if err != nil {
		return nil, fmt.Errorf("relay optimize: decode transaction: %w", err)
	}
	if resp.ReferenceBlockhash == "" {
		return nil, errors.New("relay optimize: response missing reference blockhash")
	}

	return &core.OptimizeResult{
		OptimizedTx:        optimized,
		ReferenceBlockhash: resp.ReferenceBlockhash,
		ExpiryHeight:       resp.ExpiryHeight,
	}, nil
}

type submitRequestBody struct {
	Transaction string `json:"transaction"`
}

type submitResponseBody struct {
	Signature string `json:"signature"`
}

// Submit broadcasts a signed transaction and returns its signature.
func (c *Client) Submit(ctx context.Context, signedTx []byte) (string, error) {
	if len(signedTx) == 0 {
		return "", errors.New("signed transaction is required")
	}

	body := submitRequestBody{
		Transaction: base64.StdEncoding.EncodeToString(signedTx),
	}

	var resp submitResponseBody
	if err := c.postJSON(ctx, "submit", "/v1/transactions/submit", body, &resp); err != nil {
		return "", err
	}
	if resp.Signature == "" {
		return "", errors.New("relay submit: response missing signature")
	}
	return resp.Signature, nil
}

func (c *Client) postJSON(ctx context.Context, operation, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("relay %s: encode request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("relay %s: build request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: send request: %w", operation, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.DebugContext(ctx, "close relay response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, readErr := readLimitedBody(resp.Body)
		if readErr != nil {
			msg = fmt.Sprintf("unreadable body: %v", readErr)
		}
		return &Error{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("relay %s: decode response: %w", operation, err)
	}
	return nil
}

func readLimitedBody(body io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
