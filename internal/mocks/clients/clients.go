// Package clients contains simple hand-written test doubles for the ledger,
// relay, builder, and signer ports. These are lightweight and suitable for
// unit tests without codegen.
package clients

import (
	"context"
	"sync"

	"github.com/dripline/dripline/internal/core"
)

// Ensure compile-time conformance to ports.
var (
	_ core.RelayClient        = (*FakeRelay)(nil)
	_ core.LedgerClient       = (*FakeLedger)(nil)
	_ core.TransactionBuilder = (*FakeBuilder)(nil)
	_ core.Signer             = (*FakeSigner)(nil)
)

// FakeRelay simulates the relay service with configurable behavior per call.
type FakeRelay struct {
	OptimizeFunc func(ctx context.Context, req core.OptimizeRequest) (*core.OptimizeResult, error)
	SubmitFunc   func(ctx context.Context, signedTx []byte) (string, error)

	mu            sync.Mutex
	optimizeCalls int
	submitCalls   int
}

// NewFakeRelay creates a relay double whose calls succeed with deterministic values.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

func (f *FakeRelay) Optimize(ctx context.Context, req core.OptimizeRequest) (*core.OptimizeResult, error) {
	f.mu.Lock()
	f.optimizeCalls++
	f.mu.Unlock()

	if f.OptimizeFunc != nil {
		return f.OptimizeFunc(ctx, req)
	}
	return &core.OptimizeResult{
		OptimizedTx:        append([]byte{0xfe}, req.UnsignedTx...),
		ReferenceBlockhash: "FakeBlockhash1111111111111111111111111111111",
		ExpiryHeight:       1000,
	}, nil
}

func (f *FakeRelay) Submit(ctx context.Context, signedTx []byte) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	n := f.submitCalls
	f.mu.Unlock()

	if f.SubmitFunc != nil {
		return f.SubmitFunc(ctx, signedTx)
	}
	return fakeSignature(n), nil
}

// OptimizeCalls returns the number of Optimize invocations.
func (f *FakeRelay) OptimizeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.optimizeCalls
}

// SubmitCalls returns the number of Submit invocations.
func (f *FakeRelay) SubmitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func fakeSignature(n int) string {
	const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	return "fakesig" + string(alphabet[n%len(alphabet)])
}

// FakeLedger simulates ledger queries; by default every account exists,
// balances are large, and confirmations succeed immediately.
type FakeLedger struct {
	AccountExistsFunc     func(ctx context.Context, address string) (bool, error)
	LatestBlockhashFunc   func(ctx context.Context) (string, error)
	TokenBalanceFunc      func(ctx context.Context, tokenAccount string) (string, error)
	AwaitConfirmationFunc func(ctx context.Context, params core.AwaitConfirmationParams) (*core.ConfirmationResult, error)
}

// NewFakeLedger creates a ledger double whose calls succeed with deterministic values.
func NewFakeLedger() *FakeLedger {
	return &FakeLedger{}
}

func (f *FakeLedger) AccountExists(ctx context.Context, address string) (bool, error) {
	if f.AccountExistsFunc != nil {
		return f.AccountExistsFunc(ctx, address)
	}
	return true, nil
}

func (f *FakeLedger) LatestBlockhash(ctx context.Context) (string, error) {
	if f.LatestBlockhashFunc != nil {
		return f.LatestBlockhashFunc(ctx)
	}
	return "FakeBlockhash1111111111111111111111111111111", nil
}

func (f *FakeLedger) TokenBalance(ctx context.Context, tokenAccount string) (string, error) {
	if f.TokenBalanceFunc != nil {
		return f.TokenBalanceFunc(ctx, tokenAccount)
	}
	return "1000000000000000000", nil
}

func (f *FakeLedger) AwaitConfirmation(ctx context.Context, params core.AwaitConfirmationParams) (*core.ConfirmationResult, error) {
	if f.AwaitConfirmationFunc != nil {
		return f.AwaitConfirmationFunc(ctx, params)
	}
	return &core.ConfirmationResult{Confirmed: true}, nil
}

// FakeBuilder simulates transaction construction.
type FakeBuilder struct {
	BuildTransferFunc         func(ctx context.Context, params core.BuildTransferParams) ([]byte, error)
	RecipientAssetAccountFunc func(mint, recipient string) (string, error)
}

// NewFakeBuilder creates a builder double whose calls succeed with deterministic bytes.
func NewFakeBuilder() *FakeBuilder {
	return &FakeBuilder{}
}

func (f *FakeBuilder) BuildTransfer(ctx context.Context, params core.BuildTransferParams) ([]byte, error) {
	if f.BuildTransferFunc != nil {
		return f.BuildTransferFunc(ctx, params)
	}
	return []byte("unsigned:" + params.Recipient + ":" + params.Amount), nil
}

func (f *FakeBuilder) RecipientAssetAccount(mint, recipient string) (string, error) {
	if f.RecipientAssetAccountFunc != nil {
		return f.RecipientAssetAccountFunc(mint, recipient)
	}
	return "ata:" + mint + ":" + recipient, nil
}

// FakeSigner simulates the authority signer.
type FakeSigner struct {
	SignFunc func(ctx context.Context, txBytes []byte) ([]byte, error)
	PubKey   string
}

// NewFakeSigner creates a signer double with a fixed public key.
func NewFakeSigner() *FakeSigner {
	return &FakeSigner{PubKey: "FakeAuthority111111111111111111111111111111"}
}

func (f *FakeSigner) PublicKey() string {
	return f.PubKey
}

func (f *FakeSigner) Sign(ctx context.Context, txBytes []byte) ([]byte, error) {
	if f.SignFunc != nil {
		return f.SignFunc(ctx, txBytes)
	}
	return append([]byte("signed:"), txBytes...), nil
}
