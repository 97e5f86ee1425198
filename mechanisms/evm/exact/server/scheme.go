// Package server implements the resource-server side of the exact scheme on
// EVM networks: price parsing into token base units and requirement
// enrichment with the EIP-712 domain parameters clients need to sign.
package server

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/qntx/x402"
	"github.com/qntx/x402/mechanisms/evm"
)

// ExactEvmScheme implements x402.SchemeNetworkServer for the exact scheme.
type ExactEvmScheme struct{}

// NewExactEvmScheme creates a server scheme handler.
func NewExactEvmScheme() *ExactEvmScheme {
	return &ExactEvmScheme{}
}

// Scheme returns the scheme identifier.
func (s *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// ParsePrice converts a price into base units of the network's default
// stablecoin. Accepted forms: "$0.10" (USD, assumed 1:1 with the default
// stablecoin), a float amount of whole tokens, an integer string of base
// units, or an AssetAmount passed through unchanged.
func (s *ExactEvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	config, err := evm.GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}
	asset := config.DefaultAsset

	switch p := price.(type) {
	case x402.AssetAmount:
		return p, nil
	case *x402.AssetAmount:
		return *p, nil
	case string:
		if strings.HasPrefix(p, "$") {
			amount, err := evm.ParseAmount(strings.TrimPrefix(p, "$"), asset.Decimals)
			if err != nil {
				return x402.AssetAmount{}, fmt.Errorf("invalid money price %q: %w", p, err)
			}
			return s.assetAmount(asset, amount), nil
		}
		// Bare string: already base units.
		amount, ok := new(big.Int).SetString(p, 10)
		if !ok || amount.Sign() < 0 {
			return x402.AssetAmount{}, fmt.Errorf("invalid base-unit price: %s", p)
		}
		return s.assetAmount(asset, amount), nil
	case float64:
		amount, err := evm.ParseAmount(strconv.FormatFloat(p, 'f', -1, 64), asset.Decimals)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		return s.assetAmount(asset, amount), nil
	case int:
		return s.assetAmount(asset, new(big.Int).Mul(
			big.NewInt(int64(p)),
			new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil),
		)), nil
	default:
		return x402.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
	}
}

func (s *ExactEvmScheme) assetAmount(asset evm.AssetInfo, amount *big.Int) x402.AssetAmount {
	return x402.AssetAmount{
		Asset:  asset.Address,
		Amount: amount.String(),
		Extra: map[string]interface{}{
			"name":    asset.Name,
			"version": asset.Version,
		},
	}
}

// EnhancePaymentRequirements fills in the EIP-712 domain parameters for the
// asset when the caller has not pinned them already.
func (s *ExactEvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	extensions []string,
) (x402.PaymentRequirements, error) {
	assetInfo, err := evm.GetAssetInfo(string(requirements.Network), requirements.Asset)
	if err != nil {
		return requirements, err
	}
	if requirements.Asset == "" {
		requirements.Asset = assetInfo.Address
	}

	if requirements.Extra == nil {
		requirements.Extra = map[string]interface{}{}
	}
	if _, ok := requirements.Extra["name"]; !ok && assetInfo.Name != "" {
		requirements.Extra["name"] = assetInfo.Name
	}
	if _, ok := requirements.Extra["version"]; !ok && assetInfo.Version != "" {
		requirements.Extra["version"] = assetInfo.Version
	}
	return requirements, nil
}
