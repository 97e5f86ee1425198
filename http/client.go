package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	x402 "github.com/qntx/x402"
)

// BeforePaymentHook runs after a 402 challenge is decoded and before a
// payment is created. Returning an error aborts payment and surfaces the
// original 402 response to the caller.
type BeforePaymentHook func(ctx context.Context, required x402.PaymentRequired) error

// AfterPaymentHook runs after a payment payload is created, before the
// retried request is sent. Errors are logged and do not block the retry.
type AfterPaymentHook func(ctx context.Context, required x402.PaymentRequired, payload x402.PaymentPayload) error

// PaymentFailureHook runs when payment creation fails. A hook may recover by
// returning substitute headers to attach to the retried request; recovered
// reports whether it did. The first recovering hook wins.
type PaymentFailureHook func(ctx context.Context, required x402.PaymentRequired, cause error) (headers map[string]string, recovered bool)

// PaymentRoundTripper is an http.RoundTripper that answers 402 challenges by
// creating a payment and retrying the request once with the payment header
// attached. Responses that are not 402, and 402 responses the client cannot
// pay, pass through unchanged.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Client    *x402.X402Client

	BeforePaymentHooks []BeforePaymentHook
	AfterPaymentHooks  []AfterPaymentHook
	FailureHooks       []PaymentFailureHook
}

// WrapHTTPClientWithPayment wraps client's transport with x402 payment
// handling. A nil client wraps a copy of http.DefaultClient.
func WrapHTTPClientWithPayment(client *http.Client, x402Client *x402.X402Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	client.Transport = &PaymentRoundTripper{
		Transport: transport,
		Client:    x402Client,
	}
	return client
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	// A request whose body cannot be replayed cannot be retried.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	ctx := req.Context()

	var body []byte
	if resp.Body != nil {
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read 402 response body: %w", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

	required, err := paymentRequiredFromResponse(resp, body)
	if err != nil {
		// An unreadable challenge is the server's problem; hand the
		// caller the original 402.
		return resp, nil
	}

	for _, hook := range t.BeforePaymentHooks {
		if err := hook(ctx, required); err != nil {
			return resp, nil
		}
	}

	headers, ok := t.createPaymentHeaders(ctx, required)
	if !ok {
		return resp, nil
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		retryBody, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = retryBody
	}
	for name, value := range headers {
		retry.Header.Set(name, value)
	}

	resp.Body.Close()
	return transport.RoundTrip(retry)
}

// createPaymentHeaders creates and encodes the payment, running the after
// and failure hooks. ok is false when no payment could be produced and no
// failure hook recovered.
func (t *PaymentRoundTripper) createPaymentHeaders(ctx context.Context, required x402.PaymentRequired) (map[string]string, bool) {
	payload, err := t.Client.CreatePaymentForRequired(ctx, required)
	if err != nil {
		for _, hook := range t.FailureHooks {
			if headers, recovered := hook(ctx, required, err); recovered {
				return headers, true
			}
		}
		return nil, false
	}

	for _, hook := range t.AfterPaymentHooks {
		if err := hook(ctx, required, payload); err != nil {
			log.Printf("x402: after-payment hook failed: %v", err)
		}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, false
	}
	name, value, err := EncodePaymentHeader(payloadBytes)
	if err != nil {
		return nil, false
	}
	return map[string]string{name: value}, true
}

// paymentRequiredFromResponse extracts the 402 challenge from a response:
// the PAYMENT-REQUIRED header for V2 servers, the JSON body for V1.
func paymentRequiredFromResponse(resp *http.Response, body []byte) (x402.PaymentRequired, error) {
	if header := resp.Header.Get(HeaderPaymentRequired); header != "" {
		return DecodePaymentRequiredHeader(header)
	}

	if len(body) > 0 {
		var required x402.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil &&
			required.X402Version == x402.ProtocolVersionV1 && len(required.Accepts) > 0 {
			return required, nil
		}
	}
	return x402.PaymentRequired{}, fmt.Errorf("no payment challenge found in 402 response")
}

// GetPaymentSettleResponse extracts the settlement receipt attached to a
// paid response, checking the V2 header first.
func GetPaymentSettleResponse(header http.Header) (x402.SettleResponse, error) {
	if value := header.Get(HeaderPaymentResponse); value != "" {
		return DecodePaymentResponseHeader(value)
	}
	if value := header.Get(HeaderPaymentResponseV1); value != "" {
		return DecodePaymentResponseHeader(value)
	}
	return x402.SettleResponse{}, fmt.Errorf("payment response header not found")
}
