// Package svm provides ready-made signer implementations for the Solana side
// of the exact scheme: an ed25519 client signer for payers and an RPC-backed
// facilitator signer that simulates, fee-pays, submits and confirms
// transactions.
package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402svm "github.com/qntx/x402/mechanisms/svm"
)

// SignTransactionFunc signs a transaction in place on behalf of the payer.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// ClientSigner implements x402svm.ClientSvmSigner with a signing callback,
// so hardware wallets and remote signers plug in the same way as local keys.
type ClientSigner struct {
	publicKey solana.PublicKey
	sign      SignTransactionFunc
}

// NewClientSigner creates a client signer from a public key and callback.
func NewClientSigner(publicKey solana.PublicKey, sign SignTransactionFunc) (*ClientSigner, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if sign == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &ClientSigner{publicKey: publicKey, sign: sign}, nil
}

// NewClientSignerFromPrivateKey creates a client signer from a base58-encoded
// private key.
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewClientSigner(privateKey.PublicKey(), func(ctx context.Context, tx *solana.Transaction) error {
		return signWithKey(privateKey, tx)
	})
}

// Address returns the signer's public key.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction adds the payer's signature in place. The fee payer slot
// stays empty for the facilitator to fill.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.sign(ctx, tx)
}

// signWithKey places key's ed25519 signature at the key's signer index,
// leaving every other slot untouched.
func signWithKey(key solana.PrivateKey, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	signature, err := key.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	index, err := tx.GetAccountIndex(key.PublicKey())
	if err != nil {
		return fmt.Errorf("signer %s is not a transaction account: %w", key.PublicKey(), err)
	}
	if len(tx.Signatures) <= int(index) {
		grown := make([]solana.Signature, index+1)
		copy(grown, tx.Signatures)
		tx.Signatures = grown
	}
	tx.Signatures[index] = signature
	return nil
}

var _ x402svm.ClientSvmSigner = (*ClientSigner)(nil)
