// Package facilitator implements verification and settlement of exact-scheme
// payments on EVM networks. Verification recomputes the EIP-3009 digest,
// validates the signature for EOA, EIP-1271 and ERC-6492 wallets, and batches
// the on-chain state checks through Multicall3. Settlement submits the
// bytes-signature overload of transferWithAuthorization.
package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/qntx/x402"
	"github.com/qntx/x402/mechanisms/evm"
)

// ExactEvmScheme implements x402.SchemeNetworkFacilitator for the exact scheme.
type ExactEvmScheme struct {
	signer evm.FacilitatorEvmSigner
	config evm.ExactEvmSchemeConfig
}

// NewExactEvmScheme creates a facilitator scheme handler with default config.
func NewExactEvmScheme(signer evm.FacilitatorEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{signer: signer}
}

// NewExactEvmSchemeWithConfig creates a facilitator scheme handler with the
// given config.
func NewExactEvmSchemeWithConfig(signer evm.FacilitatorEvmSigner, config evm.ExactEvmSchemeConfig) *ExactEvmScheme {
	return &ExactEvmScheme{signer: signer, config: config}
}

// Scheme returns the scheme identifier.
func (f *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator serves.
func (f *ExactEvmScheme) CaipFamily() string {
	return evm.CaipFamilyEvm
}

// GetExtra returns nil; the exact EVM scheme needs no supported-kind extra.
func (f *ExactEvmScheme) GetExtra(network x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns the addresses settlement transactions are sent from.
func (f *ExactEvmScheme) GetSigners(network x402.Network) []string {
	return f.signer.GetAddresses()
}

// verification carries the intermediate state shared between Verify and
// Settle so settlement does not reparse the payload.
type verification struct {
	payload      *evm.ExactEIP3009Payload
	signature    []byte
	value        *big.Int
	chainID      *big.Int
	assetAddress string
}

// Verify checks a payment without touching chain state.
func (f *ExactEvmScheme) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	resp, _, err := f.verify(ctx, payload, requirements)
	return resp, err
}

func (f *ExactEvmScheme) verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.VerifyResponse, *verification, error) {
	if requirements.Scheme != evm.SchemeExact {
		return x402.NewInvalidResponse(x402.ReasonUnsupportedScheme,
			fmt.Sprintf("unsupported scheme: %s", requirements.Scheme), ""), nil, nil
	}

	network := string(requirements.Network)
	config, err := evm.GetNetworkConfig(network)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonUnsupportedScheme,
			fmt.Sprintf("unsupported network: %s", network), ""), nil, nil
	}

	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat, err.Error(), ""), nil, nil
	}
	auth := evmPayload.Authorization
	payer := auth.From

	if !evm.IsValidAddress(auth.From) || !evm.IsValidAddress(auth.To) {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat, "invalid address in authorization", payer), nil, nil
	}
	if !strings.EqualFold(auth.To, requirements.PayTo) {
		return x402.NewInvalidResponse(x402.ReasonRequirementMismatch,
			fmt.Sprintf("authorization pays %s, requirements expect %s", auth.To, requirements.PayTo), payer), nil, nil
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Sign() < 0 {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid authorization value: %s", auth.Value), payer), nil, nil
	}
	requiredAmount := requirements.Amount
	if requiredAmount == "" {
		requiredAmount = requirements.MaxAmountRequired
	}
	required, ok := new(big.Int).SetString(requiredAmount, 10)
	if !ok {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid required amount: %s", requiredAmount), payer), nil, nil
	}
	if value.Cmp(required) < 0 {
		return x402.NewInvalidResponse(x402.ReasonRequirementMismatch,
			fmt.Sprintf("authorization value %s below required amount %s", value, required), payer), nil, nil
	}

	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid validAfter: %s", auth.ValidAfter), payer), nil, nil
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid validBefore: %s", auth.ValidBefore), payer), nil, nil
	}

	nonceBytes, err := evm.HexToBytes(auth.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid nonce: %s", auth.Nonce), payer), nil, nil
	}

	signature, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid signature encoding: %v", err), payer), nil, nil
	}

	assetInfo, err := evm.GetAssetInfo(network, requirements.Asset)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonUnsupportedScheme, err.Error(), payer), nil, nil
	}
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

	// Validity window against the chain's head timestamp, not wall clock.
	headTimestamp, err := f.signer.GetHeadTimestamp(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to read head timestamp: %w", x402.ReasonTransport, err)
	}
	now := new(big.Int).SetUint64(headTimestamp)
	if now.Cmp(validAfter) < 0 || now.Cmp(validBefore) > 0 {
		return x402.NewInvalidResponse(x402.ReasonExpiredAuthorization,
			fmt.Sprintf("authorization valid in [%s, %s], head timestamp is %s", validAfter, validBefore, now), payer), nil, nil
	}

	hash, err := evm.HashEIP3009Authorization(auth, config.ChainID, assetInfo.Address, tokenName, tokenVersion)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("failed to hash authorization: %v", err), payer), nil, nil
	}

	valid, err := f.verifySignature(ctx, payer, hash, signature)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: signature verification: %w", x402.ReasonTransport, err)
	}
	if !valid {
		return x402.NewInvalidResponse(x402.ReasonInvalidSignature,
			"signature does not verify against the authorization", payer), nil, nil
	}

	resp, err := f.checkChainState(ctx, payer, value, nonceBytes, assetInfo.Address, tokenName, tokenVersion)
	if err != nil || resp != nil {
		return resp, nil, err
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, &verification{
		payload:      evmPayload,
		signature:    signature,
		value:        value,
		chainID:      config.ChainID,
		assetAddress: assetInfo.Address,
	}, nil
}

// verifySignature dispatches on the signature's shape. ERC-6492 wrapped
// signatures go through the universal validator; plain signatures are
// EOA-recovered locally or validated via EIP-1271 for deployed wallets.
func (f *ExactEvmScheme) verifySignature(ctx context.Context, from string, hash, signature []byte) (bool, error) {
	if !evm.HasERC6492Suffix(signature) {
		return evm.VerifyUniversalSignature(ctx, f.signer, from, hash, signature)
	}

	if _, err := evm.ParseERC6492Signature(signature); err != nil {
		return false, nil
	}
	method := "isValidSig"
	if f.config.DeployERC4337WithEIP6492 {
		method = "isValidSigWithSideEffects"
	}
	var hash32 [32]byte
	copy(hash32[:], hash)
	result, err := f.signer.ReadContract(
		ctx,
		evm.UniversalSigValidatorAddress,
		evm.UniversalSigValidatorABI,
		method,
		common.HexToAddress(from),
		hash32,
		signature,
	)
	if err != nil {
		return false, fmt.Errorf("universal signature validation failed: %w", err)
	}
	valid, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s result type %T", method, result)
	}
	return valid, nil
}

// checkChainState batches balance, replay and EIP-712 domain probes through
// one multicall. A non-nil response means verification failed.
func (f *ExactEvmScheme) checkChainState(
	ctx context.Context,
	payer string,
	value *big.Int,
	nonce []byte,
	assetAddress string,
	tokenName string,
	tokenVersion string,
) (*x402.VerifyResponse, error) {
	var nonce32 [32]byte
	copy(nonce32[:], nonce)

	calls := []evm.ContractCall{
		{
			Address:      assetAddress,
			ABI:          evm.ERC20BalanceOfABI,
			FunctionName: "balanceOf",
			Args:         []interface{}{common.HexToAddress(payer)},
		},
		{
			Address:      assetAddress,
			ABI:          evm.AuthorizationStateABI,
			FunctionName: evm.FunctionAuthorizationState,
			Args:         []interface{}{common.HexToAddress(payer), nonce32},
		},
		{
			Address:      assetAddress,
			ABI:          evm.ERC20NameABI,
			FunctionName: "name",
		},
		{
			Address:      assetAddress,
			ABI:          evm.ERC20VersionABI,
			FunctionName: "version",
		},
	}

	results, err := f.signer.Multicall(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("%s: multicall failed: %w", x402.ReasonTransport, err)
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("%s: multicall returned %d results for %d calls", x402.ReasonTransport, len(results), len(calls))
	}

	if !results[0].Success {
		return nil, fmt.Errorf("%s: balanceOf call failed", x402.ReasonTransport)
	}
	balance, ok := results[0].Value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected balanceOf result type %T", x402.ReasonTransport, results[0].Value)
	}
	if balance.Cmp(value) < 0 {
		return x402.NewInvalidResponse(x402.ReasonInsufficientFunds,
			fmt.Sprintf("balance %s below authorization value %s", balance, value), payer), nil
	}

	if !results[1].Success {
		return nil, fmt.Errorf("%s: authorizationState call failed", x402.ReasonTransport)
	}
	used, ok := results[1].Value.(bool)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected authorizationState result type %T", x402.ReasonTransport, results[1].Value)
	}
	if used {
		return x402.NewInvalidResponse(x402.ReasonReplayedNonce,
			"authorization nonce already used", payer), nil
	}

	// Domain probes are best-effort: many tokens don't expose version().
	// When a probe succeeds and disagrees with the domain used for hashing,
	// the signature cannot validate on-chain, so reject early.
	if results[2].Success {
		if onchainName, ok := results[2].Value.(string); ok && onchainName != tokenName {
			return x402.NewInvalidResponse(x402.ReasonInvalidSignature,
				fmt.Sprintf("EIP-712 domain name mismatch: signed %q, token reports %q", tokenName, onchainName), payer), nil
		}
	}
	if results[3].Success {
		if onchainVersion, ok := results[3].Value.(string); ok && onchainVersion != tokenVersion {
			return x402.NewInvalidResponse(x402.ReasonInvalidSignature,
				fmt.Sprintf("EIP-712 domain version mismatch: signed %q, token reports %q", tokenVersion, onchainVersion), payer), nil
		}
	}

	return nil, nil
}

// Settle re-verifies the payment and submits transferWithAuthorization.
func (f *ExactEvmScheme) Settle(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := requirements.Network

	// Re-run verification so state that changed since verify (balance spent,
	// nonce burned) is caught before paying gas.
	verifyResp, state, err := f.verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return x402.NewSettleErrorResponse(verifyResp.InvalidReason, verifyResp.InvalidMessage, verifyResp.Payer, network), nil
	}

	auth := state.payload.Authorization
	payer := auth.From

	signature := state.signature
	if evm.HasERC6492Suffix(signature) {
		sigData, err := evm.ParseERC6492Signature(signature)
		if err != nil {
			return x402.NewSettleErrorResponse(x402.ReasonInvalidSignature, err.Error(), payer, network), nil
		}
		if resp := f.deployCounterfactualWallet(ctx, payer, sigData, network); resp != nil {
			return resp, nil
		}
		// The token contract calls isValidSignature on the wallet itself;
		// it never understands the 6492 wrapper.
		signature = sigData.InnerSignature
	}
	if len(signature) == 64 {
		signature, err = evm.NormalizeSignature(signature)
		if err != nil {
			return x402.NewSettleErrorResponse(x402.ReasonInvalidSignature, err.Error(), payer, network), nil
		}
	}

	value := state.value
	validAfter, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(auth.Nonce)
	var nonce32 [32]byte
	copy(nonce32[:], nonceBytes)

	txHash, err := f.signer.WriteContract(
		ctx,
		state.assetAddress,
		evm.TransferWithAuthorizationBytesABI,
		evm.FunctionTransferWithAuthorization,
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce32,
		signature,
	)
	if err != nil {
		return x402.NewSettleErrorResponse(x402.ReasonTransport,
			fmt.Sprintf("failed to submit transferWithAuthorization: %v", err), payer, network), nil
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		resp := x402.NewSettleErrorResponse(x402.ReasonReceiptTimeout,
			fmt.Sprintf("no receipt for %s: %v", txHash, err), payer, network)
		resp.Transaction = txHash
		return resp, nil
	}
	if receipt.Status != evm.TxStatusSuccess {
		resp := x402.NewSettleErrorResponse(x402.ReasonTransactionReverted,
			fmt.Sprintf("transaction %s reverted", txHash), payer, network)
		resp.Transaction = txHash
		return resp, nil
	}

	return &x402.SettleResponse{
		Success:     true,
		Payer:       payer,
		Transaction: receipt.TxHash,
		Network:     network,
	}, nil
}

// deployCounterfactualWallet deploys the payer's smart wallet via the 6492
// factory data when configured to do so. Returns a non-nil response on
// failure; nil means deployed, already deployed, or deployment disabled.
func (f *ExactEvmScheme) deployCounterfactualWallet(
	ctx context.Context,
	payer string,
	sigData *evm.ERC6492SignatureData,
	network x402.Network,
) *x402.SettleResponse {
	if !f.config.DeployERC4337WithEIP6492 {
		return nil
	}

	code, err := f.signer.GetCode(ctx, payer)
	if err != nil {
		return x402.NewSettleErrorResponse(x402.ReasonTransport,
			fmt.Sprintf("failed to check wallet code: %v", err), payer, network)
	}
	if len(code) > 0 {
		return nil
	}

	txHash, err := f.signer.SendTransaction(ctx, sigData.Factory, sigData.FactoryCalldata)
	if err != nil {
		return x402.NewSettleErrorResponse(x402.ReasonTransport,
			fmt.Sprintf("failed to deploy wallet via factory: %v", err), payer, network)
	}
	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		resp := x402.NewSettleErrorResponse(x402.ReasonReceiptTimeout,
			fmt.Sprintf("no receipt for wallet deployment %s: %v", txHash, err), payer, network)
		resp.Transaction = txHash
		return resp
	}
	if receipt.Status != evm.TxStatusSuccess {
		resp := x402.NewSettleErrorResponse(x402.ReasonTransactionReverted,
			fmt.Sprintf("wallet deployment %s reverted", txHash), payer, network)
		resp.Transaction = txHash
		return resp
	}
	return nil
}
