package x402

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// X402Client is the exported name for the client engine, for packages that
// need to hold one in a struct field.
type X402Client = x402Client

// x402Client manages payment mechanisms and creates payment payloads
// This is used by applications that need to make payments (have wallets/signers)
type x402Client struct {
	mu sync.RWMutex

	schemes *SchemeRegistry[SchemeNetworkClient]

	// Function to select payment requirements when multiple options exist
	requirementsSelector PaymentRequirementsSelector
}

// PaymentRequirementsSelector chooses which payment option to use
type PaymentRequirementsSelector func(version int, requirements []PaymentRequirements) PaymentRequirements

// FirstMatch selects the first requirement the client can fulfill.
// This is the default selector.
func FirstMatch(version int, requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// PreferChain returns a selector that prefers requirements on the given
// networks, in order, falling back to the first supported option.
func PreferChain(networks ...Network) PaymentRequirementsSelector {
	return func(version int, requirements []PaymentRequirements) PaymentRequirements {
		for _, preferred := range networks {
			for _, req := range requirements {
				if req.Network == preferred || req.Network.Match(preferred) {
					return req
				}
			}
		}
		return requirements[0]
	}
}

// MaxAmount returns a selector that skips requirements whose amount exceeds
// the given base-unit ceiling, falling back to the cheapest option.
func MaxAmount(ceiling *big.Int) PaymentRequirementsSelector {
	return func(version int, requirements []PaymentRequirements) PaymentRequirements {
		cheapest := requirements[0]
		cheapestAmount := requirementAmount(cheapest)
		for _, req := range requirements {
			amount := requirementAmount(req)
			if amount == nil {
				continue
			}
			if amount.Cmp(ceiling) <= 0 {
				return req
			}
			if cheapestAmount == nil || amount.Cmp(cheapestAmount) < 0 {
				cheapest = req
				cheapestAmount = amount
			}
		}
		return cheapest
	}
}

func requirementAmount(req PaymentRequirements) *big.Int {
	raw := req.Amount
	if raw == "" {
		raw = req.MaxAmountRequired
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil
	}
	return amount
}

// ClientOption configures the client
type ClientOption func(*x402Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *x402Client) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time
func WithScheme(version int, network Network, client SchemeNetworkClient) ClientOption {
	return func(c *x402Client) {
		c.registerScheme(version, network, client)
	}
}

// Newx402Client creates a new x402 client
func Newx402Client(opts ...ClientOption) *x402Client {
	c := &x402Client{
		schemes:              NewSchemeRegistry[SchemeNetworkClient](),
		requirementsSelector: FirstMatch,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RegisterScheme registers a payment mechanism for protocol v2
func (c *x402Client) RegisterScheme(network Network, client SchemeNetworkClient) *x402Client {
	return c.registerScheme(ProtocolVersion, network, client)
}

// RegisterSchemeV1 registers a payment mechanism for protocol v1
func (c *x402Client) RegisterSchemeV1(network Network, client SchemeNetworkClient) *x402Client {
	return c.registerScheme(ProtocolVersionV1, network, client)
}

func (c *x402Client) registerScheme(version int, network Network, client SchemeNetworkClient) *x402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.schemes.Register(version, network, client.Scheme(), client)
	return c
}

// SelectPaymentRequirements chooses which payment requirements to use.
// Requirements are first filtered to those the client has a scheme for,
// then the configured selector picks one.
func (c *x402Client) SelectPaymentRequirements(version int, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []PaymentRequirements
	for _, req := range requirements {
		if _, ok := c.schemes.Find(version, req.Network, req.Scheme); ok {
			supported = append(supported, req)
		}
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ReasonUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"version":      version,
				"requirements": requirements,
			},
		}
	}

	return c.requirementsSelector(version, supported), nil
}

// CreatePaymentPayload creates a signed payment payload with accepted requirements
// For v2+: includes accepted, resource, and extensions fields
// For v1: includes version and payload only
// The version parameter specifies which x402 protocol version to use
func (c *x402Client) CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	client, ok := c.schemes.Find(version, requirements.Network, requirements.Scheme)
	if !ok {
		return PaymentPayload{}, &PaymentError{
			Code:    ReasonUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s for version %d", requirements.Scheme, requirements.Network, version),
		}
	}

	partialPayload, err := client.CreatePaymentPayload(ctx, version, requirements)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	if partialPayload.X402Version == ProtocolVersionV1 {
		fullPayload := PaymentPayload{
			X402Version: partialPayload.X402Version,
			Payload:     partialPayload.Payload,
			Scheme:      requirements.Scheme,
			Network:     string(requirements.Network),
			Accepted:    requirements,
		}
		if err := ValidatePaymentPayload(fullPayload); err != nil {
			return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
		}
		return fullPayload, nil
	}

	fullPayload := PaymentPayload{
		X402Version: partialPayload.X402Version,
		Payload:     partialPayload.Payload,
		Accepted:    requirements,
		Resource:    resource,
		Extensions:  extensions,
	}
	if err := ValidatePaymentPayload(fullPayload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}
	return fullPayload, nil
}

// CanPay checks if the client can pay with any of the given requirements
func (c *x402Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}

// CreatePaymentForRequired creates a payment for a PaymentRequired response
// This includes resource and extensions from the PaymentRequired response
func (c *x402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.X402Version, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	return c.CreatePaymentPayload(ctx, required.X402Version, selected, required.Resource, required.Extensions)
}
