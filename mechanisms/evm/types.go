package evm

import (
	"context"
	"fmt"
	"math/big"
)

// ExactEIP3009Authorization represents the EIP-3009 transferWithAuthorization
// message. All numeric fields travel as decimal strings on the wire.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`        // Ethereum address (hex)
	To          string `json:"to"`          // Ethereum address (hex)
	Value       string `json:"value"`       // Amount in base units as string
	ValidAfter  string `json:"validAfter"`  // Unix timestamp as string
	ValidBefore string `json:"validBefore"` // Unix timestamp as string
	Nonce       string `json:"nonce"`       // 32-byte nonce as hex string
}

// ExactEIP3009Payload is the scheme-specific payload carried inside a
// payment payload for the exact scheme on EVM networks.
type ExactEIP3009Payload struct {
	Signature     string                    `json:"signature"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// ToMap converts the payload to the generic map form used inside
// PaymentPayload.Payload.
func (p *ExactEIP3009Payload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signature": p.Signature,
		"authorization": map[string]interface{}{
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
}

// PayloadFromMap parses the generic payload map into an ExactEIP3009Payload.
// Missing or mistyped fields are reported by name.
func PayloadFromMap(m map[string]interface{}) (*ExactEIP3009Payload, error) {
	if m == nil {
		return nil, fmt.Errorf("payload is nil")
	}

	sig, ok := m["signature"].(string)
	if !ok || sig == "" {
		return nil, fmt.Errorf("missing or invalid field: signature")
	}

	authRaw, ok := m["authorization"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid field: authorization")
	}

	auth := ExactEIP3009Authorization{}
	fields := []struct {
		name string
		dst  *string
	}{
		{"from", &auth.From},
		{"to", &auth.To},
		{"value", &auth.Value},
		{"validAfter", &auth.ValidAfter},
		{"validBefore", &auth.ValidBefore},
		{"nonce", &auth.Nonce},
	}
	for _, f := range fields {
		v, ok := authRaw[f.name].(string)
		if !ok || v == "" {
			return nil, fmt.Errorf("missing or invalid field: authorization.%s", f.name)
		}
		*f.dst = v
	}

	return &ExactEIP3009Payload{Signature: sig, Authorization: auth}, nil
}

// TypedDataDomain represents the EIP-712 domain separator fields.
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a single field in an EIP-712 type definition.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TransactionReceipt is the subset of an EVM receipt the settlement path
// cares about.
type TransactionReceipt struct {
	Status      int
	BlockNumber *big.Int
	TxHash      string
}

// AssetInfo describes an EIP-3009 capable token.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig holds per-network defaults.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

// ERC6492SignatureData is the decoded prefix of an ERC-6492 wrapped
// signature: abi.encode(factory, factoryCalldata, innerSignature) followed
// by the magic suffix.
type ERC6492SignatureData struct {
	Factory         string
	FactoryCalldata []byte
	InnerSignature  []byte
}

// ContractCall describes one read in a multicall batch.
type ContractCall struct {
	Address      string
	ABI          []byte
	FunctionName string
	Args         []interface{}
}

// MulticallResult carries one decoded result from a multicall batch.
// Value is nil when the underlying call reverted.
type MulticallResult struct {
	Success bool
	Value   interface{}
}

// ClientEvmSigner signs EIP-712 typed data on behalf of the payer.
type ClientEvmSigner interface {
	// Address returns the signer's hex address.
	Address() string

	// SignTypedData signs the given EIP-712 typed data and returns the
	// 65-byte signature.
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]interface{},
	) ([]byte, error)
}

// FacilitatorEvmSigner abstracts the on-chain operations the facilitator
// side of the exact scheme needs. Implementations wrap an RPC client and
// one or more funded accounts.
type FacilitatorEvmSigner interface {
	// GetAddresses returns the hex addresses this signer can settle from.
	GetAddresses() []string

	// ReadContract performs an eth_call against the given contract.
	ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error)

	// Multicall batches several reads through Multicall3.aggregate3 with
	// allowFailure set. Implementations fall back to sequential calls
	// when the batch itself cannot be executed.
	Multicall(ctx context.Context, calls []ContractCall) ([]MulticallResult, error)

	// WriteContract submits a state-changing transaction and returns its
	// hash without waiting for inclusion.
	WriteContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (string, error)

	// SendTransaction submits a raw call with the given calldata.
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)

	// WaitForTransactionReceipt blocks until the transaction is mined or
	// ctx expires.
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)

	// GetBalance returns the ERC-20 balance of address for tokenAddress.
	GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error)

	// GetChainID returns the chain id the signer is connected to.
	GetChainID(ctx context.Context) (*big.Int, error)

	// GetCode returns the deployed bytecode at address, empty for EOAs
	// and undeployed wallets.
	GetCode(ctx context.Context, address string) ([]byte, error)

	// GetHeadTimestamp returns the latest block timestamp, used as the
	// time reference for validity windows.
	GetHeadTimestamp(ctx context.Context) (uint64, error)
}

// ExactEvmSchemeConfig tunes the facilitator side of the exact scheme.
type ExactEvmSchemeConfig struct {
	// DeployERC4337WithEIP6492 enables deploying counterfactual smart
	// wallets during settlement when the payment carries an ERC-6492
	// wrapped signature with factory data.
	DeployERC4337WithEIP6492 bool
}
