// Package evm implements the exact payment scheme for EVM networks using
// EIP-3009 transferWithAuthorization. Client-side payload construction lives
// in exact/client, facilitator-side verification and settlement in
// exact/facilitator.
package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IsValidNetwork reports whether the network has a built-in configuration.
// Both CAIP-2 identifiers and legacy v1 names are accepted.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig returns the configuration for a network.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unsupported network: %s", network)
	}
	return config, nil
}

// GetAssetInfo returns token metadata for the given asset on the network.
// An empty asset selects the network's default stablecoin. Assets other
// than the default are returned with the default EIP-712 parameters; callers
// override them from requirements.extra when present.
func GetAssetInfo(network string, asset string) (AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return AssetInfo{}, err
	}
	if asset == "" || strings.EqualFold(asset, config.DefaultAsset.Address) {
		return config.DefaultAsset, nil
	}
	return AssetInfo{
		Address:  asset,
		Name:     "",
		Version:  "",
		Decimals: DefaultDecimals,
	}, nil
}

// HexToBytes decodes a hex string, with or without 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}

// BytesToHex encodes bytes as a 0x-prefixed lowercase hex string.
func BytesToHex(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}

// CreateNonce returns a random 32-byte nonce as a 0x-prefixed hex string.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce), nil
}

// CreateValidityWindow returns the validAfter/validBefore pair for a new
// authorization. validAfter is backdated to absorb clock skew; the window
// length is the requirement's timeout with a sanity floor.
func CreateValidityWindow(maxTimeoutSeconds int) (validAfter *big.Int, validBefore *big.Int) {
	now := time.Now().Unix()
	timeout := int64(maxTimeoutSeconds)
	if timeout < MinValiditySeconds {
		timeout = MinValiditySeconds
	}
	validAfter = big.NewInt(now - ClockSkewLeadSeconds)
	validBefore = big.NewInt(now + timeout)
	return validAfter, validBefore
}
