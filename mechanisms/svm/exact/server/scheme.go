// Package server implements the resource-server side of the exact scheme on
// Solana: price parsing into token base units and requirement enrichment with
// the facilitator's advertised fee payer, which clients need before they can
// build a transaction.
package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qntx/x402"
	"github.com/qntx/x402/mechanisms/svm"
)

// ExactSvmScheme implements x402.SchemeNetworkServer for the exact scheme.
type ExactSvmScheme struct{}

// NewExactSvmScheme creates a server scheme handler.
func NewExactSvmScheme() *ExactSvmScheme {
	return &ExactSvmScheme{}
}

// Scheme returns the scheme identifier.
func (s *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// ParsePrice converts a price into base units of the network's default
// stablecoin. Accepted forms: "$0.10" (USD, assumed 1:1 with the default
// stablecoin), a float amount of whole tokens, an integer string of base
// units, or an AssetAmount passed through unchanged.
func (s *ExactSvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	config, err := svm.GetNetworkConfig(string(network))
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
			units, err := svm.ParseAmount(strings.TrimPrefix(p, "$"), asset.Decimals)
			if err != nil {
				return x402.AssetAmount{}, fmt.Errorf("invalid money price %q: %w", p, err)
			}
			return s.assetAmount(asset, units), nil
		}
		units, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return x402.AssetAmount{}, fmt.Errorf("invalid base-unit price: %s", p)
		}
		return s.assetAmount(asset, units), nil
	case float64:
		units, err := svm.ParseAmount(strconv.FormatFloat(p, 'f', -1, 64), asset.Decimals)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		return s.assetAmount(asset, units), nil
	case int:
		units, err := svm.ParseAmount(strconv.Itoa(p), asset.Decimals)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		return s.assetAmount(asset, units), nil
	default:
		return x402.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
	}
}

func (s *ExactSvmScheme) assetAmount(asset svm.AssetInfo, units uint64) x402.AssetAmount {
	return x402.AssetAmount{
		Asset:  asset.Address,
		Amount: strconv.FormatUint(units, 10),
	}
}

// EnhancePaymentRequirements copies the facilitator's advertised fee payer
// into the requirement's extra. Without it clients cannot build the
// transaction shape verification expects.
func (s *ExactSvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements x402.PaymentRequirements,
	supportedKind x402.SupportedKind,
	extensions []string,
) (x402.PaymentRequirements, error) {
	if requirements.Asset == "" {
		assetInfo, err := svm.GetAssetInfo(string(requirements.Network), "")
		if err != nil {
			return requirements, err
		}
		requirements.Asset = assetInfo.Address
	}

	if requirements.Extra == nil {
		requirements.Extra = map[string]interface{}{}
	}
	if _, ok := requirements.Extra["feePayer"]; !ok {
		feePayer, ok := supportedKind.Extra["feePayer"].(string)
		if !ok || feePayer == "" {
			return requirements, fmt.Errorf("facilitator advertises no fee payer for %s", requirements.Network)
		}
		requirements.Extra["feePayer"] = feePayer
	}
	return requirements, nil
}
