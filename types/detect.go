package types

import (
	"encoding/json"
	"fmt"
)

// Version constants for the x402 protocol
const (
	Version1 = 1
	Version2 = 2
)

// The current protocol version is V2; the un-suffixed names refer to it.
type (
	PaymentPayload      = PaymentPayloadV2
	PaymentRequirements = PaymentRequirementsV2
	PaymentRequired     = PaymentRequiredV2
	ResourceInfo        = ResourceInfoV2
)

// SupportedKind is a single (version, scheme, network) tuple a facilitator
// advertises, with optional scheme-specific extra data.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

type versionProbe struct {
	X402Version *int `json:"x402Version"`
}

// DetectVersion reads the x402Version discriminator from a JSON document.
// 1 and 2 are the only supported values; anything else is an error.
func DetectVersion(data []byte) (int, error) {
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("InvalidFormat: %w", err)
	}
	if probe.X402Version == nil {
		return 0, fmt.Errorf("MissingVersion: x402Version field is required")
	}
	v := *probe.X402Version
	if v != Version1 && v != Version2 {
		return 0, fmt.Errorf("InvalidVersion: unsupported x402 version %d", v)
	}
	return v, nil
}
