package x402

import "fmt"

// Canonical error kinds surfaced on the wire in invalidReason / errorReason.
// Scheme handlers map their internal errors to one of these at their outer
// boundary; the facilitator core only rewraps.
const (
	// Protocol
	ReasonMissingVersion = "MissingVersion"
	ReasonInvalidVersion = "InvalidVersion"
	ReasonMissingField   = "MissingField"
	ReasonInvalidFormat  = "InvalidFormat"

	// Verification
	ReasonInvalidSignature     = "InvalidSignature"
	ReasonExpiredAuthorization = "ExpiredAuthorization"
	ReasonReplayedNonce        = "ReplayedNonce"
	ReasonInsufficientFunds    = "InsufficientFunds"
	ReasonUnsupportedScheme    = "UnsupportedScheme"
	ReasonRequirementMismatch  = "RequirementMismatch"

	// Simulation / policy
	ReasonTransactionSimulation       = "TransactionSimulation"
	ReasonBlockedProgram              = "BlockedProgram"
	ReasonProgramNotAllowed           = "ProgramNotAllowed"
	ReasonCreateATANotSupported       = "CreateATANotSupported"
	ReasonMaxComputeUnitLimitExceeded = "MaxComputeUnitLimitExceeded"
	ReasonMaxComputeUnitPriceExceeded = "MaxComputeUnitPriceExceeded"

	// On-chain
	ReasonTransport           = "Transport"
	ReasonPendingTransaction  = "PendingTransaction"
	ReasonTransactionReverted = "TransactionReverted"
	ReasonReceiptTimeout      = "ReceiptTimeout"

	// Unexpected
	ReasonUnexpectedError = "UnexpectedError"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewInvalidResponse builds the VerifyResponse for a failed verification.
func NewInvalidResponse(reason, message, payer string) *VerifyResponse {
	return &VerifyResponse{
		IsValid:        false,
		InvalidReason:  reason,
		InvalidMessage: message,
		Payer:          payer,
	}
}

// NewSettleErrorResponse builds the SettleResponse for a failed settlement.
func NewSettleErrorResponse(reason, message, payer string, network Network) *SettleResponse {
	return &SettleResponse{
		Success:      false,
		ErrorReason:  reason,
		ErrorMessage: message,
		Payer:        payer,
		Network:      network,
	}
}
