// Package client implements the payer side of the exact scheme on EVM
// networks: it builds and signs EIP-3009 transferWithAuthorization messages.
package client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/qntx/x402"
	"github.com/qntx/x402/mechanisms/evm"
)

// ExactEvmScheme implements x402.SchemeNetworkClient for the exact scheme.
type ExactEvmScheme struct {
	signer evm.ClientEvmSigner
}

// NewExactEvmScheme creates a client scheme handler backed by signer.
func NewExactEvmScheme(signer evm.ClientEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{signer: signer}
}

// Scheme returns the scheme identifier.
func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload signs a transferWithAuthorization for the given
// requirements and returns the scheme payload. The caller wraps it into the
// full payment envelope.
func (c *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	version int,
	requirements x402.PaymentRequirements,
) (x402.PartialPaymentPayload, error) {
	network := string(requirements.Network)
	if !evm.IsValidNetwork(network) {
		return x402.PartialPaymentPayload{}, fmt.Errorf("unsupported network: %s", network)
	}

	config, err := evm.GetNetworkConfig(network)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}
	assetInfo, err := evm.GetAssetInfo(network, requirements.Asset)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	amount := requirements.Amount
	if amount == "" {
		amount = requirements.MaxAmountRequired
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() < 0 {
		return x402.PartialPaymentPayload{}, fmt.Errorf("invalid amount: %s", amount)
	}
	if !evm.IsValidAddress(requirements.PayTo) {
		return x402.PartialPaymentPayload{}, fmt.Errorf("invalid payTo address: %s", requirements.PayTo)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}
	validAfter, validBefore := evm.CreateValidityWindow(requirements.MaxTimeoutSeconds)

	// The server's advertised EIP-712 domain parameters win over our
	// built-in defaults.
	tokenName := assetInfo.Name
	tokenVersion := assetInfo.Version
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			tokenName = name
		}
		if v, ok := requirements.Extra["version"].(string); ok {
			tokenVersion = v
		}
	}

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	signature, err := c.signAuthorization(ctx, authorization, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	evmPayload := &evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}

	return x402.PartialPaymentPayload{
		X402Version: version,
		Payload:     evmPayload.ToMap(),
	}, nil
}

func (c *ExactEvmScheme) signAuthorization(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	chainID *big.Int,
	verifyingContract string,
	tokenName string,
	tokenVersion string,
) ([]byte, error) {
	domain := evm.TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
	}

	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, err := evm.HexToBytes(authorization.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	message := map[string]interface{}{
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return c.signer.SignTypedData(ctx, domain, evm.TransferWithAuthorizationTypes(), "TransferWithAuthorization", message)
}
