package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/qntx/x402/types"
)

// X402Facilitator is the exported name for the facilitator engine.
type X402Facilitator = x402Facilitator

// x402Facilitator routes verify/settle requests to registered scheme
// mechanisms. Supports both V1 and V2 for legacy interoperability; V2 is
// the default and carries no suffix.
type x402Facilitator struct {
	mu sync.RWMutex

	schemesV1 *SchemeRegistry[SchemeNetworkFacilitatorV1]
	schemes   *SchemeRegistry[SchemeNetworkFacilitator]

	extensions []string

	// Lifecycle hooks
	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

func Newx402Facilitator() *x402Facilitator {
	return &x402Facilitator{
		schemesV1:  NewSchemeRegistry[SchemeNetworkFacilitatorV1](),
		schemes:    NewSchemeRegistry[SchemeNetworkFacilitator](),
		extensions: []string{},
	}
}

// RegisterV1 registers a V1 facilitator mechanism (legacy)
func (f *x402Facilitator) RegisterV1(network Network, facilitator SchemeNetworkFacilitatorV1) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemesV1.Register(ProtocolVersionV1, network, facilitator.Scheme(), facilitator)
	return f
}

// Register registers a facilitator mechanism (V2, default)
func (f *x402Facilitator) Register(network Network, facilitator SchemeNetworkFacilitator) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemes.Register(ProtocolVersion, network, facilitator.Scheme(), facilitator)
	return f
}

// RegisterForNamespace registers a facilitator mechanism on the namespace
// wildcard slug so it serves every chain in the namespace.
func (f *x402Facilitator) RegisterForNamespace(namespace string, facilitator SchemeNetworkFacilitator) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemes.RegisterForNamespace(ProtocolVersion, namespace, facilitator.Scheme(), facilitator)
	return f
}

// RegisterExtension registers a protocol extension
func (f *x402Facilitator) RegisterExtension(extension string) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}

	f.extensions = append(f.extensions, extension)
	return f
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *x402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *x402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *x402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *x402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *x402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *x402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core Payment Methods (Network Boundary - uses bytes, routes internally)
// ============================================================================

// Verify verifies a payment (detects version from bytes, routes to typed mechanism)
func (f *x402Facilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return NewInvalidResponse(ReasonInvalidVersion, err.Error(), ""), nil
	}

	payload, requirements, err := decodeForVersion(version, payloadBytes, requirementsBytes)
	if err != nil {
		return NewInvalidResponse(ReasonInvalidFormat, err.Error(), ""), nil
	}

	hookCtx := FacilitatorVerifyContext{
		Ctx:                 ctx,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
		Timestamp:           time.Now(),
	}
	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return NewInvalidResponse(result.Reason, "verification aborted", ""), nil
		}
	}

	start := time.Now()
	verifyResult, verifyErr := f.dispatchVerify(ctx, version, payload, requirements)

	if verifyErr != nil {
		failureCtx := FacilitatorVerifyFailureContext{
			FacilitatorVerifyContext: hookCtx,
			Error:                    verifyErr,
			Duration:                 time.Since(start),
		}
		for _, hook := range f.onVerifyFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				recovered := result.Result
				return &recovered, nil
			}
		}
		return verifyResult, verifyErr
	}

	resultCtx := FacilitatorVerifyResultContext{
		FacilitatorVerifyContext: hookCtx,
		Result:                   *verifyResult,
		Duration:                 time.Since(start),
	}
	for _, hook := range f.afterVerifyHooks {
		if err := hook(resultCtx); err != nil {
			log.Printf("x402: after-verify hook error: %v", err)
		}
	}

	return verifyResult, nil
}

// Settle settles a payment (detects version from bytes, routes to typed mechanism)
func (f *x402Facilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return NewSettleErrorResponse(ReasonInvalidVersion, err.Error(), "", ""), nil
	}

	payload, requirements, err := decodeForVersion(version, payloadBytes, requirementsBytes)
	if err != nil {
		return NewSettleErrorResponse(ReasonInvalidFormat, err.Error(), "", requirements.Network), nil
	}

	hookCtx := FacilitatorSettleContext{
		Ctx:                 ctx,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
		Timestamp:           time.Now(),
	}
	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return nil, err
		}
		if result != nil && result.Abort {
			return NewSettleErrorResponse(result.Reason, "settlement aborted", "", requirements.Network), nil
		}
	}

	start := time.Now()
	settleResult, settleErr := f.dispatchSettle(ctx, version, payload, requirements)

	if settleErr != nil {
		failureCtx := FacilitatorSettleFailureContext{
			FacilitatorSettleContext: hookCtx,
			Error:                    settleErr,
			Duration:                 time.Since(start),
		}
		for _, hook := range f.onSettleFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				recovered := result.Result
				return &recovered, nil
			}
		}
		return settleResult, settleErr
	}

	resultCtx := FacilitatorSettleResultContext{
		FacilitatorSettleContext: hookCtx,
		Result:                   *settleResult,
		Duration:                 time.Since(start),
	}
	for _, hook := range f.afterSettleHooks {
		if err := hook(resultCtx); err != nil {
			log.Printf("x402: after-settle hook error: %v", err)
		}
	}

	return settleResult, nil
}

// decodeForVersion unmarshals the raw envelope for the detected version and
// normalizes it into the V2-shaped structs used internally. V1 network
// names are translated to chain ids for dispatch; the originals stay on
// the payload for mechanisms that need them.
func decodeForVersion(version int, payloadBytes, requirementsBytes []byte) (PaymentPayload, PaymentRequirements, error) {
	switch version {
	case ProtocolVersionV1:
		v1Payload, err := types.ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return PaymentPayload{}, PaymentRequirements{}, fmt.Errorf("invalid V1 payload: %w", err)
		}
		v1Requirements, err := types.ToPaymentRequirementsV1(requirementsBytes)
		if err != nil {
			return PaymentPayload{}, PaymentRequirements{}, fmt.Errorf("invalid V1 requirements: %w", err)
		}

		network := Network(v1Requirements.Network)
		if chainId, ok := ChainIdFromV1Network(v1Requirements.Network); ok {
			network = chainId.Network()
		}
		requirements := PaymentRequirements{
			Scheme:            v1Requirements.Scheme,
			Network:           network,
			Asset:             v1Requirements.Asset,
			MaxAmountRequired: v1Requirements.MaxAmountRequired,
			Amount:            v1Requirements.MaxAmountRequired,
			PayTo:             v1Requirements.PayTo,
			MaxTimeoutSeconds: v1Requirements.MaxTimeoutSeconds,
		}
		if v1Requirements.Extra != nil {
			extra := map[string]interface{}{}
			if err := json.Unmarshal(*v1Requirements.Extra, &extra); err == nil {
				requirements.Extra = extra
			}
		}
		payload := PaymentPayload{
			X402Version: v1Payload.X402Version,
			Payload:     v1Payload.Payload,
			Scheme:      v1Payload.Scheme,
			Network:     v1Payload.Network,
			Accepted:    requirements,
		}
		return payload, requirements, nil

	default:
		v2Payload, err := types.ToPaymentPayloadV2(payloadBytes)
		if err != nil {
			return PaymentPayload{}, PaymentRequirements{}, fmt.Errorf("invalid V2 payload: %w", err)
		}
		v2Requirements, err := types.ToPaymentRequirementsV2(requirementsBytes)
		if err != nil {
			return PaymentPayload{}, PaymentRequirements{}, fmt.Errorf("invalid V2 requirements: %w", err)
		}

		requirements := PaymentRequirements{
			Scheme:            v2Requirements.Scheme,
			Network:           Network(v2Requirements.Network),
			Asset:             v2Requirements.Asset,
			Amount:            v2Requirements.Amount,
			PayTo:             v2Requirements.PayTo,
			MaxTimeoutSeconds: v2Requirements.MaxTimeoutSeconds,
			Extra:             v2Requirements.Extra,
		}
		payload := PaymentPayload{
			X402Version: v2Payload.X402Version,
			Payload:     v2Payload.Payload,
			Accepted: PaymentRequirements{
				Scheme:            v2Payload.Accepted.Scheme,
				Network:           Network(v2Payload.Accepted.Network),
				Asset:             v2Payload.Accepted.Asset,
				Amount:            v2Payload.Accepted.Amount,
				PayTo:             v2Payload.Accepted.PayTo,
				MaxTimeoutSeconds: v2Payload.Accepted.MaxTimeoutSeconds,
				Extra:             v2Payload.Accepted.Extra,
			},
			Extensions: v2Payload.Extensions,
		}
		if v2Payload.Resource != nil {
			payload.Resource = &ResourceInfo{
				URL:         v2Payload.Resource.URL,
				Description: v2Payload.Resource.Description,
				MimeType:    v2Payload.Resource.MimeType,
			}
		}
		return payload, requirements, nil
	}
}

func (f *x402Facilitator) dispatchVerify(ctx context.Context, version int, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch version {
	case ProtocolVersionV1:
		facilitator, ok := f.schemesV1.Find(ProtocolVersionV1, requirements.Network, requirements.Scheme)
		if !ok {
			return NewInvalidResponse(ReasonUnsupportedScheme,
				fmt.Sprintf("no facilitator for %s on %s", requirements.Scheme, requirements.Network), ""), nil
		}
		v1Payload, v1Requirements := toV1(payload, requirements)
		return facilitator.Verify(ctx, v1Payload, v1Requirements)
	default:
		facilitator, ok := f.schemes.Find(ProtocolVersion, requirements.Network, requirements.Scheme)
		if !ok {
			return NewInvalidResponse(ReasonUnsupportedScheme,
				fmt.Sprintf("no facilitator for %s on %s", requirements.Scheme, requirements.Network), ""), nil
		}
		return facilitator.Verify(ctx, payload, requirements)
	}
}

func (f *x402Facilitator) dispatchSettle(ctx context.Context, version int, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch version {
	case ProtocolVersionV1:
		facilitator, ok := f.schemesV1.Find(ProtocolVersionV1, requirements.Network, requirements.Scheme)
		if !ok {
			return NewSettleErrorResponse(ReasonUnsupportedScheme,
				fmt.Sprintf("no facilitator for %s on %s", requirements.Scheme, requirements.Network), "", requirements.Network), nil
		}
		v1Payload, v1Requirements := toV1(payload, requirements)
		return facilitator.Settle(ctx, v1Payload, v1Requirements)
	default:
		facilitator, ok := f.schemes.Find(ProtocolVersion, requirements.Network, requirements.Scheme)
		if !ok {
			return NewSettleErrorResponse(ReasonUnsupportedScheme,
				fmt.Sprintf("no facilitator for %s on %s", requirements.Scheme, requirements.Network), "", requirements.Network), nil
		}
		return facilitator.Settle(ctx, payload, requirements)
	}
}

// toV1 converts the normalized internal structs back to the V1 wire shape
// expected by legacy mechanisms. The legacy network name is restored from
// the registry when known.
func toV1(payload PaymentPayload, requirements PaymentRequirements) (types.PaymentPayloadV1, types.PaymentRequirementsV1) {
	networkName := string(requirements.Network)
	if chainId, err := requirements.Network.ChainId(); err == nil {
		if name, ok := V1NetworkFromChainId(chainId); ok {
			networkName = name
		}
	}
	if payload.Network != "" {
		networkName = payload.Network
	}

	v1Requirements := types.PaymentRequirementsV1{
		Scheme:            requirements.Scheme,
		Network:           networkName,
		MaxAmountRequired: requirements.MaxAmountRequired,
		PayTo:             requirements.PayTo,
		MaxTimeoutSeconds: requirements.MaxTimeoutSeconds,
		Asset:             requirements.Asset,
	}
	v1Payload := types.PaymentPayloadV1{
		X402Version: payload.X402Version,
		Scheme:      payload.Scheme,
		Network:     networkName,
		Payload:     payload.Payload,
	}
	return v1Payload, v1Requirements
}

// GetSupported aggregates per-mechanism supported kinds and groups signer
// addresses by CAIP family.
func (f *x402Facilitator) GetSupported(ctx context.Context) (SupportedResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []SupportedKind
	signers := make(map[string][]string)

	addSigners := func(family string, addresses []string) {
		if family == "" || len(addresses) == 0 {
			return
		}
		existing := signers[family]
		for _, addr := range addresses {
			seen := false
			for _, have := range existing {
				if have == addr {
					seen = true
					break
				}
			}
			if !seen {
				existing = append(existing, addr)
			}
		}
		signers[family] = existing
	}

	f.schemesV1.Walk(func(version int, network Network, scheme string, impl SchemeNetworkFacilitatorV1) {
		kinds = append(kinds, SupportedKind{
			X402Version: ProtocolVersionV1,
			Scheme:      scheme,
			Network:     network,
			Extra:       impl.GetExtra(network),
		})
		addSigners(impl.CaipFamily(), impl.GetSigners(network))
	})

	f.schemes.Walk(func(version int, network Network, scheme string, impl SchemeNetworkFacilitator) {
		kinds = append(kinds, SupportedKind{
			X402Version: ProtocolVersion,
			Scheme:      scheme,
			Network:     network,
			Extra:       impl.GetExtra(network),
		})
		addSigners(impl.CaipFamily(), impl.GetSigners(network))
	})

	return SupportedResponse{
		Kinds:      kinds,
		Extensions: f.extensions,
		Signers:    signers,
	}, nil
}
