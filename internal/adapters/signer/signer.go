// Package signer signs optimized transactions with a locally held keypair.
package signer

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/dripline/dripline/internal/core"
)

// Local signs transactions with an in-process private key. Error messages
// never include key material or raw signed bytes.
type Local struct {
	key solana.PrivateKey
}

var _ core.Signer = (*Local)(nil)

// NewLocal parses a base58-encoded private key into a signer.
func NewLocal(privateKey string) (*Local, error) {
	if privateKey == "" {
		return nil, errors.New("signer private key is required")
	}

	key, err := solana.PrivateKeyFromBase58(privateKey)
	if err != nil {
		return nil, errors.New("signer private key is not valid base58")
	}
	return &Local{key: key}, nil
}

// PublicKey returns the signer's base58 public key.
func (s *Local) PublicKey() string {
	return s.key.PublicKey().String()
}

// Sign deserializes an optimized transaction, signs it with the authority
// key, and reserializes it.
func (s *Local) Sign(_ context.Context, txBytes []byte) ([]byte, error) {
	if len(txBytes) == 0 {
		return nil, errors.New("transaction bytes are required")
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	signed, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize signed transaction: %w", err)
	}
	return signed, nil
}
