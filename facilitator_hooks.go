package x402

import (
	"context"
	"time"
)

// Facilitator hooks observe and steer the verify and settle dispatch paths.
// Before-hooks may abort an operation, after-hooks observe its result, and
// failure-hooks may recover a transport error into a response.

// FacilitatorVerifyContext carries the decoded payment into verify hooks.
type FacilitatorVerifyContext struct {
	Ctx                 context.Context
	PaymentPayload      PaymentPayload
	PaymentRequirements PaymentRequirements
	Timestamp           time.Time
	RequestMetadata     map[string]interface{}
}

// FacilitatorVerifyResultContext extends the verify context with the
// response and how long the mechanism took to produce it.
type FacilitatorVerifyResultContext struct {
	FacilitatorVerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// FacilitatorVerifyFailureContext extends the verify context with the error
// that stopped verification.
type FacilitatorVerifyFailureContext struct {
	FacilitatorVerifyContext
	Error    error
	Duration time.Duration
}

// FacilitatorSettleContext carries the decoded payment into settle hooks.
type FacilitatorSettleContext struct {
	Ctx                 context.Context
	PaymentPayload      PaymentPayload
	PaymentRequirements PaymentRequirements
	Timestamp           time.Time
	RequestMetadata     map[string]interface{}
}

// FacilitatorSettleResultContext extends the settle context with the
// response and how long settlement took.
type FacilitatorSettleResultContext struct {
	FacilitatorSettleContext
	Result   SettleResponse
	Duration time.Duration
}

// FacilitatorSettleFailureContext extends the settle context with the error
// that stopped settlement.
type FacilitatorSettleFailureContext struct {
	FacilitatorSettleContext
	Error    error
	Duration time.Duration
}

// FacilitatorBeforeHookResult aborts the pending operation when Abort is
// set; Reason is surfaced in the rejection response.
type FacilitatorBeforeHookResult struct {
	Abort  bool
	Reason string
}

// FacilitatorVerifyFailureHookResult substitutes Result for a verify error
// when Recovered is set.
type FacilitatorVerifyFailureHookResult struct {
	Recovered bool
	Result    VerifyResponse
}

// FacilitatorSettleFailureHookResult substitutes Result for a settle error
// when Recovered is set.
type FacilitatorSettleFailureHookResult struct {
	Recovered bool
	Result    SettleResponse
}

// FacilitatorBeforeVerifyHook runs before a payment is verified. A nil
// result lets verification proceed.
type FacilitatorBeforeVerifyHook func(FacilitatorVerifyContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterVerifyHook runs after verification completes. Errors are
// logged and do not change the response.
type FacilitatorAfterVerifyHook func(FacilitatorVerifyResultContext) error

// FacilitatorOnVerifyFailureHook runs when verification fails with an
// error rather than an invalid response.
type FacilitatorOnVerifyFailureHook func(FacilitatorVerifyFailureContext) (*FacilitatorVerifyFailureHookResult, error)

// FacilitatorBeforeSettleHook runs before a payment is settled. A nil
// result lets settlement proceed.
type FacilitatorBeforeSettleHook func(FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error)

// FacilitatorAfterSettleHook runs after settlement completes. Errors are
// logged and do not change the response.
type FacilitatorAfterSettleHook func(FacilitatorSettleResultContext) error

// FacilitatorOnSettleFailureHook runs when settlement fails with an error
// rather than a failed response.
type FacilitatorOnSettleFailureHook func(FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error)
