// Package v1 adapts the exact EVM scheme to the legacy V1 wire shapes.
// V1 carries scheme and network at the top level of the payload and uses
// human-readable network names instead of CAIP-2 identifiers.
package v1

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qntx/x402"
	"github.com/qntx/x402/mechanisms/evm"
	evmclient "github.com/qntx/x402/mechanisms/evm/exact/client"
	evmfacilitator "github.com/qntx/x402/mechanisms/evm/exact/facilitator"
	"github.com/qntx/x402/types"
)

// ExactEvmClient implements x402.SchemeNetworkClientV1 by delegating to the
// V2 client scheme and re-wrapping the result in the V1 envelope.
type ExactEvmClient struct {
	inner *evmclient.ExactEvmScheme
}

// NewExactEvmClient creates a V1 client scheme handler backed by signer.
func NewExactEvmClient(signer evm.ClientEvmSigner) *ExactEvmClient {
	return &ExactEvmClient{inner: evmclient.NewExactEvmScheme(signer)}
}

// Scheme returns the scheme identifier.
func (c *ExactEvmClient) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload builds and signs a V1 payment payload.
func (c *ExactEvmClient) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	v2Requirements, err := requirementsFromV1(requirements)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	partial, err := c.inner.CreatePaymentPayload(ctx, x402.ProtocolVersionV1, v2Requirements)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	return types.PaymentPayloadV1{
		X402Version: x402.ProtocolVersionV1,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     partial.Payload,
	}, nil
}

// ExactEvmFacilitator implements x402.SchemeNetworkFacilitatorV1 by
// normalizing V1 shapes and delegating to the V2 facilitator scheme.
type ExactEvmFacilitator struct {
	inner *evmfacilitator.ExactEvmScheme
}

// NewExactEvmFacilitator creates a V1 facilitator scheme handler.
func NewExactEvmFacilitator(signer evm.FacilitatorEvmSigner) *ExactEvmFacilitator {
	return &ExactEvmFacilitator{inner: evmfacilitator.NewExactEvmScheme(signer)}
}

// NewExactEvmFacilitatorWithConfig creates a V1 facilitator scheme handler
// with the given config.
func NewExactEvmFacilitatorWithConfig(signer evm.FacilitatorEvmSigner, config evm.ExactEvmSchemeConfig) *ExactEvmFacilitator {
	return &ExactEvmFacilitator{inner: evmfacilitator.NewExactEvmSchemeWithConfig(signer, config)}
}

// Scheme returns the scheme identifier.
func (f *ExactEvmFacilitator) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator serves.
func (f *ExactEvmFacilitator) CaipFamily() string {
	return evm.CaipFamilyEvm
}

// GetExtra returns nil; the exact EVM scheme needs no supported-kind extra.
func (f *ExactEvmFacilitator) GetExtra(network x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the addresses settlement transactions are sent from.
func (f *ExactEvmFacilitator) GetSigners(network x402.Network) []string {
	return f.inner.GetSigners(network)
}

// Verify checks a V1 payment.
func (f *ExactEvmFacilitator) Verify(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.VerifyResponse, error) {
	v2Payload, v2Requirements, err := fromV1(payload, requirements)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat, err.Error(), ""), nil
	}
	return f.inner.Verify(ctx, v2Payload, v2Requirements)
}

// Settle settles a V1 payment.
func (f *ExactEvmFacilitator) Settle(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.SettleResponse, error) {
	v2Payload, v2Requirements, err := fromV1(payload, requirements)
	if err != nil {
		return x402.NewSettleErrorResponse(x402.ReasonInvalidFormat, err.Error(), "", x402.Network(requirements.Network)), nil
	}
	return f.inner.Settle(ctx, v2Payload, v2Requirements)
}

func requirementsFromV1(requirements types.PaymentRequirementsV1) (x402.PaymentRequirements, error) {
	network := x402.Network(requirements.Network)
	if chainId, ok := x402.ChainIdFromV1Network(requirements.Network); ok {
		network = chainId.Network()
	}
	v2 := x402.PaymentRequirements{
		Scheme:            requirements.Scheme,
		Network:           network,
		Asset:             requirements.Asset,
		Amount:            requirements.MaxAmountRequired,
		MaxAmountRequired: requirements.MaxAmountRequired,
		PayTo:             requirements.PayTo,
		MaxTimeoutSeconds: requirements.MaxTimeoutSeconds,
	}
	if requirements.Extra != nil {
		extra := map[string]interface{}{}
		if err := json.Unmarshal(*requirements.Extra, &extra); err != nil {
			return x402.PaymentRequirements{}, fmt.Errorf("invalid extra: %w", err)
		}
		v2.Extra = extra
	}
	return v2, nil
}

func fromV1(payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (x402.PaymentPayload, x402.PaymentRequirements, error) {
	v2Requirements, err := requirementsFromV1(requirements)
	if err != nil {
		return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
	}
	v2Payload := x402.PaymentPayload{
		X402Version: payload.X402Version,
		Payload:     payload.Payload,
		Scheme:      payload.Scheme,
		Network:     payload.Network,
		Accepted:    v2Requirements,
	}
	return v2Payload, v2Requirements, nil
}
