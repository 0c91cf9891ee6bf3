// Package ledger implements ledger state queries over Solana JSON-RPC.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/dripline/dripline/internal/core"
)

// Config describes how to reach the ledger RPC endpoint and how aggressively
// to poll for confirmations.
type Config struct {
	Endpoint     string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Client implements core.LedgerClient against a Solana RPC node.
type Client struct {
	rpc          *rpc.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ core.LedgerClient = (*Client)(nil)

// NewClient builds a ledger client for the configured RPC endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("ledger rpc endpoint is required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ledger_client")
	}

	return &Client{
		rpc:          rpc.New(cfg.Endpoint),
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// AccountExists reports whether the given account is present on the ledger.
func (c *Client) AccountExists(ctx context.Context, address string) (bool, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false, fmt.Errorf("parse account address %q: %w", address, err)
	}

	_, err = c.rpc.GetAccountInfo(ctx, pubkey)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get account info: %w", err)
	}
	return true, nil
}

// LatestBlockhash returns a recent blockhash for transaction construction.
func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}
	return out.Value.Blockhash.String(), nil
}

// TokenBalance returns the smallest-unit integer balance of a token account.
func (c *Client) TokenBalance(ctx context.Context, tokenAccount string) (string, error) {
	pubkey, err := solana.PublicKeyFromBase58(tokenAccount)
	if err != nil {
		return "", fmt.Errorf("parse token account %q: %w", tokenAccount, err)
	}

	out, err := c.rpc.GetTokenAccountBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("get token account balance: %w", err)
	}
	if out.Value == nil {
		return "", errors.New("token balance response missing value")
	}
	return out.Value.Amount, nil
}

// AwaitConfirmation polls signature status until finality, an on-chain error,
// or expiry of the transaction's validity window.
func (c *Client) AwaitConfirmation(ctx context.Context, params core.AwaitConfirmationParams) (*core.ConfirmationResult, error) {
	sig, err := solana.SignatureFromBase58(params.Signature)
	if err != nil {
		return nil, fmt.Errorf("parse signature %q: %w", params.Signature, err)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		result, pollErr := c.pollSignature(ctx, sig)
		if pollErr != nil {
			c.logger.DebugContext(ctx, "signature status poll failed",
				"signature", params.Signature,
				"error", pollErr,
			)
			continue
		}
		if result != nil {
			return result, nil
		}

		expired, heightErr := c.pastExpiry(ctx, params.ExpiryHeight)
		if heightErr != nil {
			c.logger.DebugContext(ctx, "block height poll failed", "error", heightErr)
			continue
		}
		if expired {
			return &core.ConfirmationResult{
				Confirmed: false,
				Err: fmt.Sprintf("confirmation timeout: block height passed %d for blockhash %s",
					params.ExpiryHeight, params.ReferenceBlockhash),
			}, nil
		}
	}
}

// pollSignature returns a terminal result, or nil when the transaction is
// still in flight.
func (c *Client) pollSignature(ctx context.Context, sig solana.Signature) (*core.ConfirmationResult, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("get signature statuses: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return &core.ConfirmationResult{
			Confirmed: false,
			Err:       fmt.Sprintf("transaction failed on-chain: %v", status.Err),
		}, nil
	}
	if status.ConfirmationStatus != rpc.ConfirmationStatusFinalized {
		return nil, nil
	}

	fee, feeErr := c.transactionFee(ctx, sig)
	if feeErr != nil {
		return nil, feeErr
	}
	return &core.ConfirmationResult{
		Confirmed: true,
		FeePaid:   fee,
	}, nil
}

// transactionFee fetches the realized fee in lamports for a finalized transaction.
func (c *Client) transactionFee(ctx context.Context, sig solana.Signature) (decimal.Decimal, error) {
	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get transaction: %w", err)
	}
	if out.Meta == nil {
		return decimal.Zero, errors.New("transaction response missing meta")
	}
	return decimal.NewFromUint64(out.Meta.Fee), nil
}

func (c *Client) pastExpiry(ctx context.Context, expiryHeight uint64) (bool, error) {
	if expiryHeight == 0 {
		return false, nil
	}
	height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return false, fmt.Errorf("get block height: %w", err)
	}
	return height > expiryHeight, nil
}
