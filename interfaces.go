package x402

import (
	"context"

	"github.com/qntx/x402/types"
)

// MoneyParser is a function that converts a decimal amount to an AssetAmount.
// If the parser cannot handle the conversion, it should return nil.
// Multiple parsers can be registered and will be tried in order; the
// default parser is always used as a fallback.
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

// ============================================================================
// V1 Interfaces (Legacy - explicitly versioned)
// ============================================================================

// SchemeNetworkClientV1 is implemented by client-side V1 payment mechanisms
type SchemeNetworkClientV1 interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirementsV1) (types.PaymentPayloadV1, error)
}

// SchemeNetworkFacilitatorV1 is implemented by facilitator-side V1 payment mechanisms
type SchemeNetworkFacilitatorV1 interface {
	Scheme() string

	// CaipFamily returns the CAIP family pattern this facilitator supports,
	// e.g. "eip155:*" for EVM and "solana:*" for SVM. Used to group signers
	// in the supported response.
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data for the supported kinds
	// endpoint. EVM schemes return nil; SVM schemes return the fee payer.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the signer addresses this facilitator submits with
	// on the given network. Multiple addresses support key rotation and
	// concurrent settlement.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*VerifyResponse, error)
	Settle(ctx context.Context, payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (*SettleResponse, error)
}

// Note: No SchemeNetworkServerV1 - servers are V2 only

// ============================================================================
// V2 Interfaces (Current - default, no version suffix)
// ============================================================================

// SchemeNetworkClient is implemented by client-side payment mechanisms (V2).
// CreatePaymentPayload signs the authorization for the given requirements
// and returns the scheme-specific payload; the x402 client wraps it into
// the full envelope.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PartialPaymentPayload, error)
}

// SchemeNetworkServer is implemented by server-side payment mechanisms (V2).
// ParsePrice converts a Price into asset base units for the scheme's
// networks; EnhancePaymentRequirements enriches requirements with data from
// the facilitator's supported kind (e.g. the Solana fee payer).
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price Price, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements PaymentRequirements,
		supportedKind SupportedKind,
		extensions []string,
	) (PaymentRequirements, error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment mechanisms (V2)
type SchemeNetworkFacilitator interface {
	Scheme() string

	// CaipFamily returns the CAIP family pattern this facilitator supports,
	// e.g. "eip155:*" for EVM and "solana:*" for SVM.
	CaipFamily() string

	// GetExtra returns mechanism-specific extra data for the supported kinds
	// endpoint. EVM schemes return nil; SVM schemes return the fee payer.
	GetExtra(network Network) map[string]interface{}

	// GetSigners returns the signer addresses this facilitator submits with
	// on the given network.
	GetSigners(network Network) []string

	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
}

// ============================================================================
// FacilitatorClient Interface (Network Boundary - uses bytes)
// ============================================================================

// FacilitatorClient is the boundary a resource server talks to. It takes
// raw bytes so the implementation can detect the protocol version and route
// internally; both in-process facilitators and the HTTP facilitator client
// implement it.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
