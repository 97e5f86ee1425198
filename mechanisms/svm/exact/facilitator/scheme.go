// Package facilitator implements verification and settlement of exact-scheme
// payments on Solana. Verification applies the instruction policy gate before
// any RPC call, then simulates the transaction and checks the source token
// balance. Settlement signs as fee payer, submits with preflight skipped and
// polls the signature status until the configured commitment.
package facilitator

import (
	"context"
	"fmt"
	"strconv"

	solana "github.com/gagliardetto/solana-go"

	"github.com/qntx/x402"
	"github.com/qntx/x402/mechanisms/svm"
)

// ExactSvmScheme implements x402.SchemeNetworkFacilitator for the exact scheme.
type ExactSvmScheme struct {
	signer svm.FacilitatorSvmSigner
	policy svm.Policy
}

// NewExactSvmScheme creates a facilitator scheme handler with the default
// instruction policy.
func NewExactSvmScheme(signer svm.FacilitatorSvmSigner) *ExactSvmScheme {
	return &ExactSvmScheme{signer: signer, policy: svm.DefaultPolicy()}
}

// NewExactSvmSchemeWithPolicy creates a facilitator scheme handler with a
// custom instruction policy.
func NewExactSvmSchemeWithPolicy(signer svm.FacilitatorSvmSigner, policy svm.Policy) *ExactSvmScheme {
	return &ExactSvmScheme{signer: signer, policy: policy}
}

// Scheme returns the scheme identifier.
func (f *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator serves.
func (f *ExactSvmScheme) CaipFamily() string {
	return svm.CaipFamilySvm
}

// GetExtra advertises the fee payer for the network. Clients must build
// their transactions around it, so it travels in the supported kind.
func (f *ExactSvmScheme) GetExtra(network x402.Network) map[string]interface{} {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	if len(addresses) == 0 {
		return nil
	}
	return map[string]interface{}{
		"feePayer": addresses[0].String(),
	}
}

// GetSigners returns the fee-payer addresses available on the network.
func (f *ExactSvmScheme) GetSigners(network x402.Network) []string {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	out := make([]string, len(addresses))
	for i, addr := range addresses {
		out[i] = addr.String()
	}
	return out
}

// verification carries the decoded state shared between Verify and Settle.
type verification struct {
	tx      *solana.Transaction
	payer   string
	network string
}

// Verify checks the payment against the instruction policy, simulates it and
// confirms the payer's token balance covers the transfer.
func (f *ExactSvmScheme) Verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	resp, _, err := f.verify(ctx, payload, requirements)
	return resp, err
}

func (f *ExactSvmScheme) verify(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.VerifyResponse, *verification, error) {
	if requirements.Scheme != svm.SchemeExact {
		return x402.NewInvalidResponse(x402.ReasonUnsupportedScheme,
			fmt.Sprintf("unsupported scheme: %s", requirements.Scheme), ""), nil, nil
	}

	network, err := svm.NormalizeNetwork(string(requirements.Network))
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonUnsupportedScheme, err.Error(), ""), nil, nil
	}

	svmPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat, err.Error(), ""), nil, nil
	}

	tx, err := svm.DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("transaction does not decode: %v", err), ""), nil, nil
	}

	payer, err := svm.GetTokenPayerFromTransaction(tx)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat, err.Error(), ""), nil, nil
	}

	amount := requirements.Amount
	if amount == "" {
		amount = requirements.MaxAmountRequired
	}
	asset := requirements.Asset
	if asset == "" {
		assetInfo, err := svm.GetAssetInfo(network, "")
		if err != nil {
			return x402.NewInvalidResponse(x402.ReasonUnsupportedScheme, err.Error(), payer), nil, nil
		}
		asset = assetInfo.Address
	}

	// The policy gate runs before any RPC call; a malformed or hostile
	// transaction never reaches the network.
	signers := f.GetSigners(requirements.Network)
	if policyErr := f.policy.CheckTransaction(tx, svm.TransferExpectation{
		Mint:   asset,
		PayTo:  requirements.PayTo,
		Amount: amount,
	}, signers); policyErr != nil {
		return x402.NewInvalidResponse(mapPolicyReason(policyErr.Reason), policyErr.Message, payer), nil, nil
	}

	// The payer must have actually signed; the fee payer slot may still be
	// empty at this point.
	payerKey, err := solana.PublicKeyFromBase58(payer)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid payer key: %v", err), payer), nil, nil
	}
	if !svm.IsSignedBy(tx, payerKey) {
		return x402.NewInvalidResponse(x402.ReasonInvalidSignature,
			"transaction is not signed by the token payer", payer), nil, nil
	}

	// Simulation needs the fee payer signature in place.
	feePayer := tx.Message.AccountKeys[0]
	if err := f.signer.SignTransaction(ctx, tx, feePayer, network); err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("fee payer %s is not managed by this facilitator", feePayer), payer), nil, nil
	}
	if err := f.signer.SimulateTransaction(ctx, tx, network); err != nil {
		return x402.NewInvalidResponse(x402.ReasonTransactionSimulation,
			fmt.Sprintf("transaction simulation failed: %v", err), payer), nil, nil
	}

	if resp := f.checkBalance(ctx, tx, payerKey, asset, amount, network, payer); resp != nil {
		return resp, nil, nil
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, &verification{
		tx:      tx,
		payer:   payer,
		network: network,
	}, nil
}

// checkBalance confirms the payer's source token account covers the required
// amount. A non-nil response means verification failed.
func (f *ExactSvmScheme) checkBalance(
	ctx context.Context,
	tx *solana.Transaction,
	payerKey solana.PublicKey,
	asset string,
	amount string,
	network string,
	payer string,
) *x402.VerifyResponse {
	mintKey, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid asset mint: %v", err), payer)
	}
	sourceATA, _, err := solana.FindAssociatedTokenAddress(payerKey, mintKey)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			"cannot derive source token account", payer)
	}

	balance, err := f.signer.GetTokenAccountBalance(ctx, sourceATA, network)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInsufficientFunds,
			fmt.Sprintf("cannot read source token account balance: %v", err), payer)
	}
	required, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return x402.NewInvalidResponse(x402.ReasonInvalidFormat,
			fmt.Sprintf("invalid required amount: %s", amount), payer)
	}
	if balance < required {
		return x402.NewInvalidResponse(x402.ReasonInsufficientFunds,
			fmt.Sprintf("token balance %d below required amount %d", balance, required), payer)
	}
	return nil
}

// Settle re-verifies the payment, submits the transaction with preflight
// skipped and waits for confirmation.
func (f *ExactSvmScheme) Settle(
	ctx context.Context,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := requirements.Network

	verifyResp, state, err := f.verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return x402.NewSettleErrorResponse(verifyResp.InvalidReason, verifyResp.InvalidMessage, verifyResp.Payer, network), nil
	}

	signature, err := f.signer.SendTransaction(ctx, state.tx, state.network)
	if err != nil {
		return x402.NewSettleErrorResponse(x402.ReasonTransport,
			fmt.Sprintf("failed to submit transaction: %v", err), state.payer, network), nil
	}

	if err := f.signer.ConfirmTransaction(ctx, signature, state.network); err != nil {
		resp := x402.NewSettleErrorResponse(x402.ReasonReceiptTimeout,
			fmt.Sprintf("transaction %s not confirmed: %v", signature, err), state.payer, network)
		resp.Transaction = signature.String()
		return resp, nil
	}

	return &x402.SettleResponse{
		Success:     true,
		Payer:       state.payer,
		Transaction: signature.String(),
		Network:     network,
	}, nil
}

// mapPolicyReason translates policy rejection reasons to the canonical error
// kinds surfaced on the wire. The names already line up; the indirection
// keeps the policy package free of a dependency on the root package.
func mapPolicyReason(reason string) string {
	switch reason {
	case svm.PolicyReasonInvalidFormat:
		return x402.ReasonInvalidFormat
	case svm.PolicyReasonRequirementMismatch:
		return x402.ReasonRequirementMismatch
	case svm.PolicyReasonInvalidSignature:
		return x402.ReasonInvalidSignature
	case svm.PolicyReasonBlockedProgram:
		return x402.ReasonBlockedProgram
	case svm.PolicyReasonProgramNotAllowed:
		return x402.ReasonProgramNotAllowed
	case svm.PolicyReasonCreateATANotSupported:
		return x402.ReasonCreateATANotSupported
	case svm.PolicyReasonMaxComputeUnitLimitExceeded:
		return x402.ReasonMaxComputeUnitLimitExceeded
	case svm.PolicyReasonMaxComputeUnitPriceExceeded:
		return x402.ReasonMaxComputeUnitPriceExceeded
	default:
		return x402.ReasonUnexpectedError
	}
}
