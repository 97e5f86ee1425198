package x402

import "fmt"

// ValidatePaymentPayload performs basic validation on a payment payload
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version < 1 || p.X402Version > 2 {
		return fmt.Errorf("%s: unsupported x402 version: %d", ReasonInvalidVersion, p.X402Version)
	}
	if p.X402Version == 2 {
		if p.Accepted.Scheme == "" {
			return fmt.Errorf("%s: payment scheme is required", ReasonMissingField)
		}
		if p.Accepted.Network == "" {
			return fmt.Errorf("%s: payment network is required", ReasonMissingField)
		}
	}
	if p.Payload == nil {
		return fmt.Errorf("%s: payment payload is required", ReasonMissingField)
	}
	return nil
}

// ValidatePaymentRequirements performs basic validation on payment requirements
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("%s: payment scheme is required", ReasonMissingField)
	}
	if r.Network == "" {
		return fmt.Errorf("%s: payment network is required", ReasonMissingField)
	}
	if _, err := r.Network.ChainId(); err != nil {
		if _, ok := ChainIdFromV1Network(string(r.Network)); !ok {
			return err
		}
	}
	if r.Asset == "" {
		return fmt.Errorf("%s: payment asset is required", ReasonMissingField)
	}
	// Amount check is skipped for v1 compatibility (v1 uses maxAmountRequired);
	// version-specific facilitators validate amount fields as needed.
	if r.PayTo == "" {
		return fmt.Errorf("%s: payment recipient is required", ReasonMissingField)
	}
	return nil
}
