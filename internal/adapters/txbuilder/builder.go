// Package txbuilder constructs unsigned token transfer transactions.
package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/dripline/dripline/internal/core"
)

// Builder implements core.TransactionBuilder for SPL token transfers. The
// produced bytes are a serialized unsigned transaction; fee instructions are
// added later by the relay's optimize step.
type Builder struct{}

var _ core.TransactionBuilder = (*Builder)(nil)

// NewBuilder creates a transaction builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildTransfer constructs one unsigned transfer, optionally preceded by the
// recipient's asset account creation.
func (b *Builder) BuildTransfer(_ context.Context, params core.BuildTransferParams) ([]byte, error) {
	keys, err := parseTransferKeys(params)
	if err != nil {
		return nil, err
	}

	amount, err := strconv.ParseUint(params.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", params.Amount, err)
	}
	if amount == 0 {
		return nil, errors.New("transfer amount must be positive")
	}
	if params.Decimals < 0 || params.Decimals > 255 {
		return nil, fmt.Errorf("decimals %d out of range", params.Decimals)
	}

	blockhash, err := solana.HashFromBase58(params.RecentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("parse recent blockhash %q: %w", params.RecentBlockhash, err)
	}

	destination, _, err := solana.FindAssociatedTokenAddress(keys.recipient, keys.mint)
	if err != nil {
		return nil, fmt.Errorf("derive recipient asset account: %w", err)
	}

	var instructions []solana.Instruction
	if params.CreateRecipientAccount {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(keys.authority, keys.recipient, keys.mint).Build(),
		)
	}
	instructions = append(instructions,
		token.NewTransferCheckedInstruction(
			amount,
			uint8(params.Decimals),
			keys.source,
			keys.mint,
			destination,
			keys.authority,
			nil,
		).Build(),
	)

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(keys.authority))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return raw, nil
}

// RecipientAssetAccount derives the associated token account address the
// transfer will credit.
func (b *Builder) RecipientAssetAccount(mint, recipient string) (string, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", fmt.Errorf("parse mint %q: %w", mint, err)
	}
	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("parse recipient %q: %w", recipient, err)
	}
	addr, _, err := solana.FindAssociatedTokenAddress(recipientKey, mintKey)
	if err != nil {
		return "", fmt.Errorf("derive recipient asset account: %w", err)
	}
	return addr.String(), nil
}

type transferKeys struct {
	mint      solana.PublicKey
	source    solana.PublicKey
	authority solana.PublicKey
	recipient solana.PublicKey
}

func parseTransferKeys(params core.BuildTransferParams) (transferKeys, error) {
	var keys transferKeys
	var err error

	if keys.mint, err = solana.PublicKeyFromBase58(params.Mint); err != nil {
		return keys, fmt.Errorf("parse mint %q: %w", params.Mint, err)
	}
	if keys.source, err = solana.PublicKeyFromBase58(params.SourceAccount); err != nil {
		return keys, fmt.Errorf("parse source account %q: %w", params.SourceAccount, err)
	}
	if keys.authority, err = solana.PublicKeyFromBase58(params.Authority); err != nil {
		return keys, fmt.Errorf("parse authority %q: %w", params.Authority, err)
	}
	if keys.recipient, err = solana.PublicKeyFromBase58(params.Recipient); err != nil {
		return keys, fmt.Errorf("parse recipient %q: %w", params.Recipient, err)
	}
	return keys, nil
}
