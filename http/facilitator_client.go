package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/qntx/x402"
	"github.com/qntx/x402/types"
)

// DefaultFacilitatorURL is the default public facilitator.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// getSupportedRetries caps retry attempts for GetSupported on 429 responses.
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base for exponential retry backoff.
const getSupportedRetryBaseDelay = 1 * time.Second

// AuthProvider generates authentication headers for facilitator requests.
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers per facilitator endpoint.
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client.
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service. Empty selects
	// DefaultFacilitatorURL.
	URL string

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client

	// AuthProvider provides authentication headers. Optional.
	AuthProvider AuthProvider

	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration
}

// HTTPFacilitatorClient talks to a remote facilitator service over the
// /verify, /settle and /supported routes. It implements
// x402.FacilitatorClient for both protocol versions.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
}

// NewHTTPFacilitatorClient creates a facilitator client. A nil config
// selects the default public facilitator.
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
	}
}

// Verify checks a payment with the remote facilitator.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	body, err := c.post(ctx, "/verify", payloadBytes, requirementsBytes, func(h AuthHeaders) map[string]string { return h.Verify })
	if err != nil {
		return nil, err
	}

	var response x402.VerifyResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%s: invalid verify response: %w", x402.ReasonInvalidFormat, err)
	}
	return &response, nil
}

// Settle submits a payment for settlement with the remote facilitator.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*x402.SettleResponse, error) {
	body, err := c.post(ctx, "/settle", payloadBytes, requirementsBytes, func(h AuthHeaders) map[string]string { return h.Settle })
	if err != nil {
		return nil, err
	}

	var response x402.SettleResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%s: invalid settle response: %w", x402.ReasonInvalidFormat, err)
	}
	return &response, nil
}

// GetSupported fetches supported payment kinds, retrying with exponential
// backoff on 429 rate-limit responses.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := 0; attempt < getSupportedRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return x402.SupportedResponse{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("%s: supported request failed: %w", x402.ReasonTransport, err)
		}
		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read supported response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supported x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supported); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supported, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}
		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// post sends the standard verify/settle envelope and returns the response
// body. Facilitators answer verification and settlement failures with 200
// and a structured body; non-200 means the call itself failed.
func (c *HTTPFacilitatorClient) post(ctx context.Context, route string, payloadBytes, requirementsBytes []byte, pick func(AuthHeaders) map[string]string) ([]byte, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, err
	}

	envelope := struct {
		X402Version         int             `json:"x402Version"`
		PaymentPayload      json.RawMessage `json:"paymentPayload"`
		PaymentRequirements json.RawMessage `json:"paymentRequirements"`
	}{
		X402Version:         version,
		PaymentPayload:      payloadBytes,
		PaymentRequirements: requirementsBytes,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", route, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+route, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.applyAuth(ctx, req, pick); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %s request failed: %w", x402.ReasonTransport, route, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", route, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: facilitator %s failed (%d): %s", x402.ReasonTransport, route, resp.StatusCode, string(responseBody))
	}
	return responseBody, nil
}

func (c *HTTPFacilitatorClient) applyAuth(ctx context.Context, req *http.Request, pick func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	headers, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for name, value := range pick(headers) {
		req.Header.Set(name, value)
	}
	return nil
}

var _ x402.FacilitatorClient = (*HTTPFacilitatorClient)(nil)
