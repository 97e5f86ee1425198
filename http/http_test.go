package http

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/qntx/x402"
)

func sampleRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:8453",
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:            "10000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 60,
	}
}

func TestPaymentRequiredHeaderRoundTrip(t *testing.T) {
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       "Payment required",
		Accepts:     []x402.PaymentRequirements{sampleRequirements()},
		Resource:    &x402.ResourceInfo{URL: "https://api.example.com/data"},
	}

	encoded, err := EncodePaymentRequiredHeader(required)
	require.NoError(t, err)

	decoded, err := DecodePaymentRequiredHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, required.X402Version, decoded.X402Version)
	assert.Equal(t, required.Accepts[0].Amount, decoded.Accepts[0].Amount)
	assert.Equal(t, required.Resource.URL, decoded.Resource.URL)
}

func TestDecodeHeaderValueToleratesWhitespace(t *testing.T) {
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Accepts:     []x402.PaymentRequirements{sampleRequirements()},
	}
	encoded, err := EncodePaymentRequiredHeader(required)
	require.NoError(t, err)

	decoded, err := DecodePaymentRequiredHeader("  " + encoded + "\t\n")
	require.NoError(t, err)
	assert.Equal(t, x402.ProtocolVersion, decoded.X402Version)
}

func TestDecodePaymentRequiredHeaderRejectsBadInput(t *testing.T) {
	_, err := DecodePaymentRequiredHeader("")
	assert.Error(t, err, "empty header")

	_, err = DecodePaymentRequiredHeader("not base64!!")
	assert.Error(t, err, "invalid base64")

	badVersion, err := EncodeHeaderValue(map[string]interface{}{
		"x402Version": 9,
		"accepts":     []interface{}{sampleRequirements()},
	})
	require.NoError(t, err)
	_, err = DecodePaymentRequiredHeader(badVersion)
	assert.ErrorContains(t, err, x402.ReasonInvalidVersion)

	emptyAccepts, err := EncodeHeaderValue(map[string]interface{}{
		"x402Version": x402.ProtocolVersion,
		"accepts":     []interface{}{},
	})
	require.NoError(t, err)
	_, err = DecodePaymentRequiredHeader(emptyAccepts)
	assert.ErrorContains(t, err, x402.ReasonMissingField)
}

func TestEncodePaymentHeaderSelectsVersionedName(t *testing.T) {
	v2, err := json.Marshal(x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xsig"},
		Accepted:    sampleRequirements(),
	})
	require.NoError(t, err)

	name, value, err := EncodePaymentHeader(v2)
	require.NoError(t, err)
	assert.Equal(t, HeaderPaymentSignature, name)
	assert.NotEmpty(t, value)

	v1, err := json.Marshal(x402.PaymentPayload{
		X402Version: x402.ProtocolVersionV1,
		Scheme:      "exact",
		Network:     "base",
		Payload:     map[string]interface{}{"signature": "0xsig"},
	})
	require.NoError(t, err)

	name, _, err = EncodePaymentHeader(v1)
	require.NoError(t, err)
	assert.Equal(t, HeaderPayment, name)
}

func TestPaymentHeaderRoundTrip(t *testing.T) {
	payload := x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xsig"},
		Accepted:    sampleRequirements(),
	}
	payloadBytes, err := json.Marshal(payload)
	require.NoError(t, err)

	_, value, err := EncodePaymentHeader(payloadBytes)
	require.NoError(t, err)

	decoded, err := DecodePaymentHeader(value)
	require.NoError(t, err)
	assert.Equal(t, payload.X402Version, decoded.X402Version)
	assert.Equal(t, payload.Accepted.Asset, decoded.Accepted.Asset)
}

func TestPaymentResponseHeaderRoundTrip(t *testing.T) {
	response := x402.SettleResponse{
		Success:     true,
		Transaction: "0xtx",
		Network:     "eip155:8453",
		Payer:       "0xpayer",
	}

	encoded, err := EncodePaymentResponseHeader(response)
	require.NoError(t, err)

	decoded, err := DecodePaymentResponseHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, response, decoded)
}
