package types

import "encoding/json"

// V2 wire shapes. The current protocol nests the chosen requirements under
// accepted, identifies networks by CAIP-2, and keeps all chain-bound
// numbers as decimal strings.

type PaymentPayloadV2 struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirementsV2  `json:"accepted"`
	Resource    *ResourceInfoV2        `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

type PaymentRequirementsV2 struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequiredV2 is the 402 challenge, carried base64-encoded in the
// PAYMENT-REQUIRED header.
type PaymentRequiredV2 struct {
	X402Version int                     `json:"x402Version"`
	Error       string                  `json:"error,omitempty"`
	Resource    *ResourceInfoV2         `json:"resource,omitempty"`
	Accepts     []PaymentRequirementsV2 `json:"accepts"`
	Extensions  map[string]interface{}  `json:"extensions,omitempty"`
}

// ResourceInfoV2 describes the protected resource a payment is for.
type ResourceInfoV2 struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ToPaymentPayloadV2 decodes raw JSON into the V2 payload shape.
func ToPaymentPayloadV2(data []byte) (*PaymentPayloadV2, error) {
	var payload PaymentPayloadV2
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ToPaymentRequirementsV2 decodes raw JSON into the V2 requirements shape.
func ToPaymentRequirementsV2(data []byte) (*PaymentRequirementsV2, error) {
	var requirements PaymentRequirementsV2
	if err := json.Unmarshal(data, &requirements); err != nil {
		return nil, err
	}
	return &requirements, nil
}

// ToPaymentRequiredV2 decodes raw JSON into the V2 challenge shape.
func ToPaymentRequiredV2(data []byte) (*PaymentRequiredV2, error) {
	var required PaymentRequiredV2
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}
