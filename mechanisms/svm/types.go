// Package svm implements the exact payment scheme on Solana: transaction
// construction around SPL TransferChecked, the facilitator's instruction
// policy gate, and the signer abstractions both sides plug into.
package svm

import (
	"context"
	"encoding/json"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ExactSvmPayload is the scheme-specific payload carried inside a payment
// payload: the partially signed transaction, base64 encoded.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts the payload to the generic map form used inside
// PaymentPayload.Payload.
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap parses the generic payload map into an ExactSvmPayload.
func PayloadFromMap(data map[string]interface{}) (*ExactSvmPayload, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload data: %w", err)
	}

	var payload ExactSvmPayload
	if err := json.Unmarshal(jsonBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.Transaction == "" {
		return nil, fmt.Errorf("missing transaction field in payload")
	}
	return &payload, nil
}

// ClientSvmSigner signs transactions on behalf of the payer.
type ClientSvmSigner interface {
	// Address returns the signer's public key.
	Address() solana.PublicKey

	// SignTransaction adds the payer's signature in place. The fee payer
	// slot stays empty for the facilitator to fill.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSvmSigner abstracts the RPC-side operations the facilitator
// needs. Implementations manage one or more fee-payer keys per network.
type FacilitatorSvmSigner interface {
	// GetAddresses returns all fee-payer addresses available on network.
	GetAddresses(ctx context.Context, network string) []solana.PublicKey

	// SignTransaction signs tx in place with the key matching feePayer.
	SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error

	// SimulateTransaction simulates the signed transaction and returns an
	// error on any program failure.
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error

	// GetTokenAccountBalance returns the token balance of a token account
	// in base units.
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, network string) (uint64, error)

	// SendTransaction submits the transaction with preflight skipped
	// (verification already simulated it).
	SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error)

	// ConfirmTransaction polls the signature status until the configured
	// commitment is reached or the attempt budget runs out.
	ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error
}

// AssetInfo describes an SPL token.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig holds per-network defaults.
type NetworkConfig struct {
	Name         string
	CAIP2        string
	RPCURL       string
	DefaultAsset AssetInfo
}

// ClientConfig carries optional client-side overrides.
type ClientConfig struct {
	RPCURL string

	// ComputeUnitLimit and ComputeUnitPriceMicrolamports override the
	// defaults attached to built transactions. Zero means default.
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicrolamports uint64
}
