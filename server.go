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

// DefaultMaxTimeoutSeconds is applied when a resource config does not set
// its own payment timeout.
const DefaultMaxTimeoutSeconds = 300

// X402ResourceServer is the exported name for the resource-server engine.
type X402ResourceServer = x402ResourceServer

// x402ResourceServer manages payment requirements and verification for protected resources
// This is used by servers/APIs that want to charge for access
type x402ResourceServer struct {
	mu                   sync.RWMutex
	schemes              *SchemeRegistry[SchemeNetworkServer]
	facilitatorClients   []FacilitatorClient
	facilitatorsByKind   *SchemeRegistry[FacilitatorClient]
	registeredExtensions map[string]types.ResourceServiceExtension
	supportedCache       *SupportedCache

	// Lifecycle hooks
	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// SupportedCache caches facilitator capabilities keyed by facilitator. The
// cache drives extra-field enrichment (e.g. the Solana fee payer) and is
// refreshed on a TTL.
type SupportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse
	expiry map[string]time.Time
	ttl    time.Duration
}

// ResourceServerOption configures the server
type ResourceServerOption func(*x402ResourceServer)

// WithFacilitatorClient adds a facilitator client
func WithFacilitatorClient(client FacilitatorClient) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.facilitatorClients = append(s.facilitatorClients, client)
	}
}

// WithSchemeServer registers a scheme server implementation
func WithSchemeServer(network Network, schemeServer SchemeNetworkServer) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.registerScheme(network, schemeServer)
	}
}

// WithCacheTTL sets the cache TTL for supported kinds
func WithCacheTTL(ttl time.Duration) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.supportedCache.ttl = ttl
	}
}

func Newx402ResourceServer(opts ...ResourceServerOption) *x402ResourceServer {
	s := &x402ResourceServer{
		schemes:              NewSchemeRegistry[SchemeNetworkServer](),
		facilitatorClients:   []FacilitatorClient{},
		facilitatorsByKind:   NewSchemeRegistry[FacilitatorClient](),
		registeredExtensions: make(map[string]types.ResourceServiceExtension),
		supportedCache: &SupportedCache{
			data:   make(map[string]SupportedResponse),
			expiry: make(map[string]time.Time),
			ttl:    5 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Initialize fetches supported payment kinds from all facilitators.
// Should be called on startup to populate the cache and build the
// facilitator routing table; it is also what the TTL refresher re-runs.
func (s *x402ResourceServer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := NewSchemeRegistry[FacilitatorClient]()

	var lastErr error
	successCount := 0

	// Later facilitators do not override earlier ones for the same kind,
	// so registration order is precedence order.
	claimed := make(map[string]bool)
	for i, client := range s.facilitatorClients {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			lastErr = fmt.Errorf("facilitator %d: %w", i, err)
			continue
		}

		key := fmt.Sprintf("facilitator_%d", i)
		s.supportedCache.Set(key, supported)
		successCount++

		for _, kind := range supported.Kinds {
			slug := fmt.Sprintf("%d/%s/%s", kind.X402Version, kind.Network, kind.Scheme)
			if claimed[slug] {
				continue
			}
			claimed[slug] = true
			fresh.Register(kind.X402Version, kind.Network, kind.Scheme, client)
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to initialize any facilitators: %w", lastErr)
	}

	s.facilitatorsByKind = fresh
	return nil
}

// StartCacheRefresher launches a background task that re-fetches facilitator
// capabilities every TTL until the context is cancelled.
func (s *x402ResourceServer) StartCacheRefresher(ctx context.Context) {
	interval := s.supportedCache.ttl
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Initialize(ctx); err != nil {
					log.Printf("x402: supported-kinds refresh failed: %v", err)
				}
			}
		}
	}()
}

func (s *x402ResourceServer) Register(network Network, schemeServer SchemeNetworkServer) *x402ResourceServer {
	return s.registerScheme(network, schemeServer)
}

func (s *x402ResourceServer) registerScheme(network Network, schemeServer SchemeNetworkServer) *x402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schemes.Register(ProtocolVersion, network, schemeServer.Scheme(), schemeServer)
	return s
}

func (s *x402ResourceServer) RegisterExtension(extension types.ResourceServiceExtension) *x402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registeredExtensions[extension.Key()] = extension
	return s
}

// ============================================================================
// Hook Registration Methods (Chainable)
// ============================================================================

// OnBeforeVerify registers a hook to execute before payment verification.
// Can abort verification by returning a result with Abort=true.
func (s *x402ResourceServer) OnBeforeVerify(hook BeforeVerifyHook) *x402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	return s
}

// OnAfterVerify registers a hook to execute after successful payment verification
func (s *x402ResourceServer) OnAfterVerify(hook AfterVerifyHook) *x402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	return s
}

// OnVerifyFailure registers a hook to execute when payment verification fails.
// Can recover from failure by returning a result with Recovered=true.
func (s *x402ResourceServer) OnVerifyFailure(hook OnVerifyFailureHook) *x402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	return s
}

// OnBeforeSettle registers a hook to execute before payment settlement.
// Can abort settlement by returning a result with Abort=true.
func (s *x402ResourceServer) OnBeforeSettle(hook BeforeSettleHook) *x402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	return s
}

// OnAfterSettle registers a hook to execute after successful payment settlement
func (s *x402ResourceServer) OnAfterSettle(hook AfterSettleHook) *x402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSettleHooks = append(s.afterSettleHooks, hook)
	return s
}

// OnSettleFailure registers a hook to execute when payment settlement fails.
// Can recover from failure by returning a result with Recovered=true.
func (s *x402ResourceServer) OnSettleFailure(hook OnSettleFailureHook) *x402ResourceServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	return s
}

func (s *x402ResourceServer) EnrichExtensions(
	declaredExtensions map[string]interface{},
	transportContext interface{},
) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enriched := make(map[string]interface{})

	for key, declaration := range declaredExtensions {
		if extension, ok := s.registeredExtensions[key]; ok {
			enriched[key] = extension.EnrichDeclaration(declaration, transportContext)
		} else {
			enriched[key] = declaration
		}
	}

	return enriched
}

// BuildPaymentRequirements creates payment requirements for a resource
func (s *x402ResourceServer) BuildPaymentRequirements(ctx context.Context, config ResourceConfig) ([]PaymentRequirements, error) {
	s.mu.RLock()
	schemeServer, ok := s.schemes.Find(ProtocolVersion, config.Network, config.Scheme)
	s.mu.RUnlock()
	if !ok {
		return nil, &PaymentError{
			Code:    ReasonUnsupportedScheme,
			Message: fmt.Sprintf("no server registered for scheme %s on network %s", config.Scheme, config.Network),
		}
	}

	supportedKind := s.findSupportedKind(ProtocolVersion, config.Network, config.Scheme)
	if supportedKind == nil {
		// The cache may simply be stale; one re-fetch before giving up.
		if err := s.Initialize(ctx); err == nil {
			supportedKind = s.findSupportedKind(ProtocolVersion, config.Network, config.Scheme)
		}
	}
	if supportedKind == nil {
		return nil, &PaymentError{
			Code:    ReasonUnsupportedScheme,
			Message: fmt.Sprintf("facilitator does not support %s on %s", config.Scheme, config.Network),
			Details: map[string]interface{}{
				"hint": "call Initialize() to fetch supported kinds from facilitators",
			},
		}
	}

	assetAmount, err := schemeServer.ParsePrice(config.Price, config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	baseRequirements := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Extra:             assetAmount.Extra,
	}
	if baseRequirements.MaxTimeoutSeconds == 0 {
		baseRequirements.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}

	extensions := s.getFacilitatorExtensions(ProtocolVersion, config.Network, config.Scheme)

	enhanced, err := schemeServer.EnhancePaymentRequirements(ctx, baseRequirements, *supportedKind, extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to enhance payment requirements: %w", err)
	}

	return []PaymentRequirements{enhanced}, nil
}

// CreatePaymentRequiredResponse creates a 402 response
func (s *x402ResourceServer) CreatePaymentRequiredResponse(
	requirements []PaymentRequirements,
	info ResourceInfo,
	errorMsg string,
	extensions map[string]interface{},
) PaymentRequired {
	response := PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       errorMsg,
		Resource:    &info,
		Accepts:     requirements,
		Extensions:  extensions,
	}

	if errorMsg == "" {
		response.Error = "Payment required"
	}

	return response
}

// VerifyPayment verifies a payment against requirements.
// Server is boundary: accepts bytes (from client), routes to facilitator.
func (s *x402ResourceServer) VerifyPayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*VerifyResponse, error) {
	hookCtx := VerifyContext{
		Ctx:               ctx,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		Timestamp:         time.Now(),
	}

	s.mu.RLock()
	beforeHooks := s.beforeVerifyHooks
	s.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			log.Printf("x402: before-verify hook error: %v", err)
		}
		if result != nil && result.Abort {
			return NewInvalidResponse(result.Reason, "verification aborted", ""), nil
		}
	}

	start := time.Now()
	verifyResult, verifyErr := s.routeVerify(ctx, payloadBytes, requirementsBytes)

	if verifyErr == nil {
		s.mu.RLock()
		afterHooks := s.afterVerifyHooks
		s.mu.RUnlock()

		resultCtx := VerifyResultContext{
			VerifyContext: hookCtx,
			Result:        *verifyResult,
			Duration:      time.Since(start),
		}
		for _, hook := range afterHooks {
			if err := hook(resultCtx); err != nil {
				log.Printf("x402: after-verify hook error: %v", err)
			}
		}
		return verifyResult, nil
	}

	s.mu.RLock()
	failureHooks := s.onVerifyFailureHooks
	s.mu.RUnlock()

	failureCtx := VerifyFailureContext{
		VerifyContext: hookCtx,
		Error:         verifyErr,
		Duration:      time.Since(start),
	}
	for _, hook := range failureHooks {
		result, err := hook(failureCtx)
		if err != nil {
			log.Printf("x402: on-verify-failure hook error: %v", err)
		}
		if result != nil && result.Recovered {
			recovered := result.Result
			return &recovered, nil
		}
	}

	return verifyResult, verifyErr
}

func (s *x402ResourceServer) routeVerify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*VerifyResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return NewInvalidResponse(ReasonInvalidVersion, err.Error(), ""), nil
	}

	scheme, network, err := extractRoutingInfo(requirementsBytes)
	if err != nil {
		return NewInvalidResponse(ReasonInvalidFormat, err.Error(), ""), nil
	}

	if facilitator := s.findFacilitatorForPayment(version, network, scheme); facilitator != nil {
		return facilitator.Verify(ctx, payloadBytes, requirementsBytes)
	}

	// No routed facilitator; try them all in precedence order.
	var lastErr error
	for _, client := range s.facilitatorClients {
		resp, err := client.Verify(ctx, payloadBytes, requirementsBytes)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return NewInvalidResponse(ReasonTransport, "no facilitator available for verification", ""), lastErr
	}
	return NewInvalidResponse(ReasonUnsupportedScheme, "no facilitator supports this payment type", ""), nil
}

// SettlePayment settles a verified payment.
// Server is boundary: accepts bytes (from client), routes to facilitator.
func (s *x402ResourceServer) SettlePayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*SettleResponse, error) {
	hookCtx := SettleContext{
		Ctx:               ctx,
		PayloadBytes:      payloadBytes,
		RequirementsBytes: requirementsBytes,
		Timestamp:         time.Now(),
	}

	s.mu.RLock()
	beforeHooks := s.beforeSettleHooks
	s.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			log.Printf("x402: before-settle hook error: %v", err)
		}
		if result != nil && result.Abort {
			return NewSettleErrorResponse(result.Reason, "settlement aborted", "", ""),
				fmt.Errorf("settlement aborted: %s", result.Reason)
		}
	}

	start := time.Now()
	settleResult, settleErr := s.routeSettle(ctx, payloadBytes, requirementsBytes)

	if settleErr == nil && settleResult.Success {
		s.mu.RLock()
		afterHooks := s.afterSettleHooks
		s.mu.RUnlock()

		resultCtx := SettleResultContext{
			SettleContext: hookCtx,
			Result:        *settleResult,
			Duration:      time.Since(start),
		}
		for _, hook := range afterHooks {
			if err := hook(resultCtx); err != nil {
				log.Printf("x402: after-settle hook error: %v", err)
			}
		}
		return settleResult, nil
	}

	s.mu.RLock()
	failureHooks := s.onSettleFailureHooks
	s.mu.RUnlock()

	failureCtx := SettleFailureContext{
		SettleContext: hookCtx,
		Error:         settleErr,
		Duration:      time.Since(start),
	}
	for _, hook := range failureHooks {
		result, err := hook(failureCtx)
		if err != nil {
			log.Printf("x402: on-settle-failure hook error: %v", err)
		}
		if result != nil && result.Recovered {
			recovered := result.Result
			return &recovered, nil
		}
	}

	return settleResult, settleErr
}

func (s *x402ResourceServer) routeSettle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*SettleResponse, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return NewSettleErrorResponse(ReasonInvalidVersion, err.Error(), "", ""), nil
	}

	scheme, network, err := extractRoutingInfo(requirementsBytes)
	if err != nil {
		return NewSettleErrorResponse(ReasonInvalidFormat, err.Error(), "", ""), nil
	}

	if facilitator := s.findFacilitatorForPayment(version, network, scheme); facilitator != nil {
		return facilitator.Settle(ctx, payloadBytes, requirementsBytes)
	}

	var lastErr error
	for _, client := range s.facilitatorClients {
		resp, err := client.Settle(ctx, payloadBytes, requirementsBytes)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return NewSettleErrorResponse(ReasonTransport, "no facilitator available for settlement", "", network), lastErr
	}
	return NewSettleErrorResponse(ReasonUnsupportedScheme, "no facilitator supports this payment type", "", network), nil
}

// extractRoutingInfo pulls the scheme and network out of serialized
// requirements without committing to a protocol version.
func extractRoutingInfo(requirementsBytes []byte) (string, Network, error) {
	var probe struct {
		Scheme  string `json:"scheme"`
		Network string `json:"network"`
	}
	if err := json.Unmarshal(requirementsBytes, &probe); err != nil {
		return "", "", fmt.Errorf("invalid requirements: %w", err)
	}
	network := Network(probe.Network)
	if chainId, ok := ChainIdFromV1Network(probe.Network); ok {
		network = chainId.Network()
	}
	return probe.Scheme, network, nil
}

// FindMatchingRequirements finds the synthesized requirement the payment's
// echoed accepted corresponds to. V2 payloads match on scheme, network,
// asset, payTo, and amount; V1 payloads match on scheme and network only
// (V1 carries no echoed requirement).
func (s *x402ResourceServer) FindMatchingRequirements(available []PaymentRequirements, payloadBytes []byte) *PaymentRequirements {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil
	}

	switch version {
	case ProtocolVersionV1:
		payload, err := types.ToPaymentPayloadV1(payloadBytes)
		if err != nil {
			return nil
		}
		payloadNetwork := Network(payload.Network)
		if chainId, ok := ChainIdFromV1Network(payload.Network); ok {
			payloadNetwork = chainId.Network()
		}
		for i, req := range available {
			if req.Scheme == payload.Scheme && (req.Network == payloadNetwork || req.Network.Match(payloadNetwork)) {
				return &available[i]
			}
		}
	default:
		payload, err := types.ToPaymentPayloadV2(payloadBytes)
		if err != nil {
			return nil
		}
		accepted := payload.Accepted
		for i, req := range available {
			if req.Scheme == accepted.Scheme &&
				string(req.Network) == accepted.Network &&
				req.Asset == accepted.Asset &&
				req.PayTo == accepted.PayTo &&
				req.Amount == accepted.Amount {
				return &available[i]
			}
		}
	}

	return nil
}

// Helper methods

// findSupportedKind finds a supported kind from the (unexpired) cache
func (s *x402ResourceServer) findSupportedKind(version int, network Network, scheme string) *SupportedKind {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for key, supported := range s.supportedCache.data {
		if expiry, exists := s.supportedCache.expiry[key]; exists && time.Now().After(expiry) {
			continue
		}

		for _, kind := range supported.Kinds {
			if kind.X402Version == version &&
				kind.Scheme == scheme &&
				kind.Network.Match(network) {
				found := kind
				return &found
			}
		}
	}

	return nil
}

// getFacilitatorExtensions gets extensions for a payment type
func (s *x402ResourceServer) getFacilitatorExtensions(version int, network Network, scheme string) []string {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for _, supported := range s.supportedCache.data {
		for _, kind := range supported.Kinds {
			if kind.X402Version == version &&
				kind.Scheme == scheme &&
				kind.Network.Match(network) {
				return supported.Extensions
			}
		}
	}

	return []string{}
}

// findFacilitatorForPayment finds the facilitator that supports a payment
// type, using the routing table built during Initialize()
func (s *x402ResourceServer) findFacilitatorForPayment(version int, network Network, scheme string) FacilitatorClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.facilitatorsByKind.Find(version, network, scheme)
	if !ok {
		return nil
	}
	return client
}

// Set adds an item to the cache
func (c *SupportedCache) Set(key string, value SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
	c.expiry[key] = time.Now().Add(c.ttl)
}

// Clear clears the cache
func (c *SupportedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]SupportedResponse)
	c.expiry = make(map[string]time.Time)
}
