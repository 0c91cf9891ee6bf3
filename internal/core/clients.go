package core

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dripline/dripline/internal/domain/model"
)

// PriorityFeeTier selects how aggressively the relay prices the priority fee.
type PriorityFeeTier string

// DeliveryRoute selects which submission paths the relay uses.
type DeliveryRoute string

const (
	// FeeTierLow is used by cost-saver jobs.
	FeeTierLow PriorityFeeTier = "low"
	// FeeTierHigh is used by high-assurance jobs.
	FeeTierHigh PriorityFeeTier = "high"

	// RouteRPC submits through standard RPC only.
	RouteRPC DeliveryRoute = "rpc"
	// RouteHighAssurance submits through both RPC and the tip-backed path.
	RouteHighAssurance DeliveryRoute = "high-assurance"
)

// DeliveryParams are the optimization knobs derived from a job's delivery mode.
type DeliveryParams struct {
	PriorityFeeTier PriorityFeeTier
	TipTier         PriorityFeeTier // empty when the route carries no tip
	Route           DeliveryRoute
}

// DeliveryParamsForMode maps a job delivery mode to concrete relay parameters.
func DeliveryParamsForMode(mode model.DeliveryMode) DeliveryParams {
	if mode == model.DeliveryModeHighAssurance {
		return DeliveryParams{
			PriorityFeeTier: FeeTierHigh,
			TipTier:         FeeTierHigh,
			Route:           RouteHighAssurance,
		}
	}
	return DeliveryParams{
		PriorityFeeTier: FeeTierLow,
		Route:           RouteRPC,
	}
}

// OptimizeRequest carries an unsigned transaction to the relay for fee and
// routing optimization.
type OptimizeRequest struct {
	UnsignedTx []byte
	Params     DeliveryParams
}

// OptimizeResult is the relay's optimized transaction plus its validity window.
type OptimizeResult struct {
	OptimizedTx        []byte
	ReferenceBlockhash string
	ExpiryHeight       uint64
}

// RelayClient is the external transaction-optimization/relay service.
type RelayClient interface {
	Optimize(ctx context.Context, req OptimizeRequest) (*OptimizeResult, error)
	// Submit broadcasts a signed transaction and returns its signature.
	Submit(ctx context.Context, signedTx []byte) (string, error)
}

// AwaitConfirmationParams identifies a submitted transaction and its validity window.
type AwaitConfirmationParams struct {
	Signature          string
	ReferenceBlockhash string
	ExpiryHeight       uint64
}

// ConfirmationResult reports the ledger outcome for a submitted transaction.
// Exactly one of Confirmed or Err is meaningful: a confirmed transaction
// carries the realized fee, a failed one carries the on-chain error text.
type ConfirmationResult struct {
	Confirmed bool
	FeePaid   decimal.Decimal
	Err       string
}

// LedgerClient queries ledger state: account existence, balances, and
// transaction finality.
type LedgerClient interface {
	AccountExists(ctx context.Context, address string) (bool, error)
	// LatestBlockhash returns a recent blockhash for transaction construction.
	LatestBlockhash(ctx context.Context) (string, error)
	// TokenBalance returns the smallest-unit integer balance of a token account.
	TokenBalance(ctx context.Context, tokenAccount string) (string, error)
	// AwaitConfirmation blocks until finality, an on-chain error, or expiry of
	// the validity window, whichever comes first.
	AwaitConfirmation(ctx context.Context, params AwaitConfirmationParams) (*ConfirmationResult, error)
}

// BuildTransferParams describes one unsigned transfer to construct.
type BuildTransferParams struct {
	Mint          string
	Decimals      int
	SourceAccount string
	Authority     string
	Recipient     string
	Amount        string // smallest-unit integer string
	// CreateRecipientAccount prepends the recipient asset-account creation
	// instruction when the account does not exist yet.
	CreateRecipientAccount bool
	RecentBlockhash        string
}

// TransactionBuilder constructs unsigned transfer transactions for the
// target ledger.
type TransactionBuilder interface {
	BuildTransfer(ctx context.Context, params BuildTransferParams) ([]byte, error)
	// RecipientAssetAccount derives the recipient's asset account address for
	// a mint, used to decide whether account creation must be included.
	RecipientAssetAccount(mint, recipient string) (string, error)
}

// Signer signs optimized transactions with the distribution authority credential.
type Signer interface {
	PublicKey() string
	Sign(ctx context.Context, txBytes []byte) ([]byte, error)
}
