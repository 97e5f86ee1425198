package x402

import (
	"context"
	"time"
)

// Resource server hooks mirror the facilitator hooks but run around the
// server's outbound verify and settle calls, before the payload bytes are
// handed to the facilitator client.

// VerifyContext carries the raw payment bytes into verify hooks.
type VerifyContext struct {
	Ctx               context.Context
	PayloadBytes      []byte
	RequirementsBytes []byte
	Timestamp         time.Time
	RequestMetadata   map[string]interface{}
}

// VerifyResultContext extends the verify context with the facilitator's
// response and the round-trip duration.
type VerifyResultContext struct {
	VerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// VerifyFailureContext extends the verify context with the error that
// stopped verification.
type VerifyFailureContext struct {
	VerifyContext
	Error    error
	Duration time.Duration
}

// SettleContext carries the raw payment bytes into settle hooks.
type SettleContext struct {
	Ctx               context.Context
	PayloadBytes      []byte
	RequirementsBytes []byte
	Timestamp         time.Time
	RequestMetadata   map[string]interface{}
}

// SettleResultContext extends the settle context with the facilitator's
// response and the round-trip duration.
type SettleResultContext struct {
	SettleContext
	Result   SettleResponse
	Duration time.Duration
}

// SettleFailureContext extends the settle context with the error that
// stopped settlement.
type SettleFailureContext struct {
	SettleContext
	Error    error
	Duration time.Duration
}

// BeforeHookResult aborts the pending operation when Abort is set; Reason
// is surfaced in the rejection response.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// VerifyFailureHookResult substitutes Result for a verify error when
// Recovered is set.
type VerifyFailureHookResult struct {
	Recovered bool
	Result    VerifyResponse
}

// SettleFailureHookResult substitutes Result for a settle error when
// Recovered is set.
type SettleFailureHookResult struct {
	Recovered bool
	Result    SettleResponse
}

// BeforeVerifyHook runs before a payment is sent for verification. A nil
// result lets verification proceed.
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// AfterVerifyHook runs after verification completes. Errors are logged and
// do not change the response.
type AfterVerifyHook func(VerifyResultContext) error

// OnVerifyFailureHook runs when verification fails with an error rather
// than an invalid response.
type OnVerifyFailureHook func(VerifyFailureContext) (*VerifyFailureHookResult, error)

// BeforeSettleHook runs before a payment is sent for settlement. A nil
// result lets settlement proceed.
type BeforeSettleHook func(SettleContext) (*BeforeHookResult, error)

// AfterSettleHook runs after settlement completes. Errors are logged and
// do not change the response.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook runs when settlement fails with an error rather than
// a failed response.
type OnSettleFailureHook func(SettleFailureContext) (*SettleFailureHookResult, error)

// WithBeforeVerifyHook registers a hook that runs before verification.
func WithBeforeVerifyHook(hook BeforeVerifyHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.beforeVerifyHooks = append(s.beforeVerifyHooks, hook)
	}
}

// WithAfterVerifyHook registers a hook that runs after verification.
func WithAfterVerifyHook(hook AfterVerifyHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.afterVerifyHooks = append(s.afterVerifyHooks, hook)
	}
}

// WithOnVerifyFailureHook registers a hook that runs on verification errors.
func WithOnVerifyFailureHook(hook OnVerifyFailureHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.onVerifyFailureHooks = append(s.onVerifyFailureHooks, hook)
	}
}

// WithBeforeSettleHook registers a hook that runs before settlement.
func WithBeforeSettleHook(hook BeforeSettleHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.beforeSettleHooks = append(s.beforeSettleHooks, hook)
	}
}

// WithAfterSettleHook registers a hook that runs after settlement.
func WithAfterSettleHook(hook AfterSettleHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.afterSettleHooks = append(s.afterSettleHooks, hook)
	}
}

// WithOnSettleFailureHook registers a hook that runs on settlement errors.
func WithOnSettleFailureHook(hook OnSettleFailureHook) ResourceServerOption {
	return func(s *x402ResourceServer) {
		s.onSettleFailureHooks = append(s.onSettleFailureHooks, hook)
	}
}
