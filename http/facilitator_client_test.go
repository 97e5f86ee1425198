package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/qntx/x402"
)

type staticAuthProvider struct{}

func (staticAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return AuthHeaders{
		Verify:    map[string]string{"Authorization": "Bearer verify-token"},
		Settle:    map[string]string{"Authorization": "Bearer settle-token"},
		Supported: map[string]string{"Authorization": "Bearer supported-token"},
	}, nil
}

func v2PaymentBytes(t *testing.T) ([]byte, []byte) {
	t.Helper()
	payloadBytes, err := json.Marshal(x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xsig"},
		Accepted:    sampleRequirements(),
	})
	require.NoError(t, err)
	requirementsBytes, err := json.Marshal(sampleRequirements())
	require.NoError(t, err)
	return payloadBytes, requirementsBytes
}

func TestFacilitatorClientVerify(t *testing.T) {
	var gotEnvelope struct {
		X402Version         int             `json:"x402Version"`
		PaymentPayload      json.RawMessage `json:"paymentPayload"`
		PaymentRequirements json.RawMessage `json:"paymentRequirements"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "Bearer verify-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEnvelope))
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true, Payer: "0xpayer"})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{
		URL:          server.URL,
		AuthProvider: staticAuthProvider{},
	})

	payloadBytes, requirementsBytes := v2PaymentBytes(t)
	resp, err := client.Verify(context.Background(), payloadBytes, requirementsBytes)
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
	assert.Equal(t, "0xpayer", resp.Payer)
	assert.Equal(t, x402.ProtocolVersion, gotEnvelope.X402Version)
	assert.JSONEq(t, string(payloadBytes), string(gotEnvelope.PaymentPayload))
}

func TestFacilitatorClientSettle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/settle", r.URL.Path)
		json.NewEncoder(w).Encode(x402.SettleResponse{
			Success:     true,
			Transaction: "0xtx",
			Network:     "eip155:8453",
		})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	payloadBytes, requirementsBytes := v2PaymentBytes(t)
	resp, err := client.Settle(context.Background(), payloadBytes, requirementsBytes)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0xtx", resp.Transaction)
}

func TestFacilitatorClientNon200IsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	payloadBytes, requirementsBytes := v2PaymentBytes(t)
	_, err := client.Verify(context.Background(), payloadBytes, requirementsBytes)
	assert.ErrorContains(t, err, x402.ReasonTransport)
}

func TestFacilitatorClientGetSupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/supported", r.URL.Path)
		json.NewEncoder(w).Encode(x402.SupportedResponse{
			Kinds: []x402.SupportedKind{
				{X402Version: x402.ProtocolVersion, Scheme: "exact", Network: "eip155:8453"},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	supported, err := client.GetSupported(context.Background())
	require.NoError(t, err)
	require.Len(t, supported.Kinds, 1)
	assert.Equal(t, "exact", supported.Kinds[0].Scheme)
}

func TestFacilitatorClientGetSupportedRetriesOn429(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(x402.SupportedResponse{
			Kinds: []x402.SupportedKind{
				{X402Version: x402.ProtocolVersion, Scheme: "exact", Network: "eip155:8453"},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	supported, err := client.GetSupported(context.Background())
	require.NoError(t, err)
	assert.Len(t, supported.Kinds, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFacilitatorClientGetSupportedNoRetryOn500(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})

	_, err := client.GetSupported(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "only rate limits are retried")
}

func TestFacilitatorClientDefaults(t *testing.T) {
	client := NewHTTPFacilitatorClient(nil)
	assert.Equal(t, DefaultFacilitatorURL, client.url)
	assert.NotNil(t, client.httpClient)
}
