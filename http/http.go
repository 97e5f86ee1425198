// Package http carries the HTTP-facing pieces of the x402 protocol: the
// base64-JSON header codec, the client middleware that transparently answers
// 402 challenges, the server paygate that gates handlers on verified
// payments, and the HTTP facilitator client.
package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	x402 "github.com/qntx/x402"
	"github.com/qntx/x402/types"
)

// Header names defined by the protocol. V2 payments travel in
// PAYMENT-SIGNATURE; the X- forms are V1 legacy.
const (
	HeaderPaymentRequired   = "PAYMENT-REQUIRED"
	HeaderPaymentSignature  = "PAYMENT-SIGNATURE"
	HeaderPayment           = "X-PAYMENT"
	HeaderPaymentResponse   = "PAYMENT-RESPONSE"
	HeaderPaymentResponseV1 = "X-PAYMENT-RESPONSE"
)

// EncodeHeaderValue encodes any x402 wire object as base64(json(v)).
func EncodeHeaderValue(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal header value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeHeaderValue reverses EncodeHeaderValue. Leading and trailing
// whitespace in the header value is tolerated.
func DecodeHeaderValue(header string, v interface{}) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("header value is empty")
	}
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("invalid base64 header value: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON in header value: %w", err)
	}
	return nil
}

// DecodeHeaderBytes decodes a header value back to its raw JSON bytes.
func DecodeHeaderBytes(header string) ([]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("header value is empty")
	}
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 header value: %w", err)
	}
	return data, nil
}

// EncodePaymentRequiredHeader encodes a 402 challenge for the
// PAYMENT-REQUIRED header.
func EncodePaymentRequiredHeader(required x402.PaymentRequired) (string, error) {
	return EncodeHeaderValue(required)
}

// DecodePaymentRequiredHeader decodes a PAYMENT-REQUIRED header value.
func DecodePaymentRequiredHeader(header string) (x402.PaymentRequired, error) {
	var required x402.PaymentRequired
	if err := DecodeHeaderValue(header, &required); err != nil {
		return x402.PaymentRequired{}, err
	}
	if required.X402Version != x402.ProtocolVersionV1 && required.X402Version != x402.ProtocolVersion {
		return x402.PaymentRequired{}, fmt.Errorf("%s: unsupported x402 version %d",
			x402.ReasonInvalidVersion, required.X402Version)
	}
	if len(required.Accepts) == 0 {
		return x402.PaymentRequired{}, fmt.Errorf("%s: accepts must not be empty", x402.ReasonMissingField)
	}
	return required, nil
}

// EncodePaymentHeader encodes signed payment payload bytes and returns the
// header name and value appropriate for the payload's protocol version.
func EncodePaymentHeader(payloadBytes []byte) (name string, value string, err error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return "", "", err
	}
	value = base64.StdEncoding.EncodeToString(payloadBytes)
	if version == x402.ProtocolVersionV1 {
		return HeaderPayment, value, nil
	}
	return HeaderPaymentSignature, value, nil
}

// DecodePaymentHeader decodes a PAYMENT-SIGNATURE or X-PAYMENT header value
// into the payment payload.
func DecodePaymentHeader(header string) (x402.PaymentPayload, error) {
	var payload x402.PaymentPayload
	if err := DecodeHeaderValue(header, &payload); err != nil {
		return x402.PaymentPayload{}, err
	}
	return payload, nil
}

// EncodePaymentResponseHeader encodes a settlement receipt for the
// PAYMENT-RESPONSE header.
func EncodePaymentResponseHeader(response x402.SettleResponse) (string, error) {
	return EncodeHeaderValue(response)
}

// DecodePaymentResponseHeader decodes a PAYMENT-RESPONSE or
// X-PAYMENT-RESPONSE header value.
func DecodePaymentResponseHeader(header string) (x402.SettleResponse, error) {
	var response x402.SettleResponse
	if err := DecodeHeaderValue(header, &response); err != nil {
		return x402.SettleResponse{}, err
	}
	return response, nil
}
