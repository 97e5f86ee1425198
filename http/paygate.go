package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	x402 "github.com/qntx/x402"
)

// DefaultFacilitatorTimeout bounds a single verify or settle call made by
// the paygate.
const DefaultFacilitatorTimeout = 30 * time.Second

// DefaultSettlementTTL is how long a settlement receipt stays replayable
// for idempotent retries of the same payment.
const DefaultSettlementTTL = 5 * time.Minute

// PriceTagSource yields the acceptable payments for a request. Static
// configurations use StaticPriceTags; dynamic pricing supplies its own
// function.
type PriceTagSource func(r *http.Request) ([]x402.ResourceConfig, error)

// StaticPriceTags returns a PriceTagSource that serves a fixed list.
func StaticPriceTags(tags ...x402.ResourceConfig) PriceTagSource {
	return func(*http.Request) ([]x402.ResourceConfig, error) {
		return tags, nil
	}
}

// PaygateConfig configures a Paygate.
type PaygateConfig struct {
	// Server is the resource server engine that builds requirements and
	// talks to facilitators. Required, and must be Initialized.
	Server *x402.X402ResourceServer

	// PriceTags yields acceptable payments per request. Required.
	PriceTags PriceTagSource

	// BaseURL prefixes the request path to form the resource URL in
	// challenges, e.g. "https://api.example.com".
	BaseURL string

	// Description and MimeType describe the protected resource.
	Description string
	MimeType    string

	// FacilitatorTimeout bounds each verify/settle call. Zero selects
	// DefaultFacilitatorTimeout.
	FacilitatorTimeout time.Duration

	// SettlementTTL is the idempotency window for repeated settlement of
	// the same payment. Zero selects DefaultSettlementTTL.
	SettlementTTL time.Duration

	// Paywall, when set, serves an HTML paywall to browser clients that
	// hit the route without a payment header.
	Paywall *PaywallConfig
}

// Paygate is an http.Handler middleware that gates an inner handler on a
// verified payment and settles it after the handler succeeds.
type Paygate struct {
	server      *x402.X402ResourceServer
	priceTags   PriceTagSource
	baseURL     string
	description string
	mimeType    string
	timeout     time.Duration
	settlements *x402.SettlementCache
	paywall     *PaywallConfig
}

// NewPaygate validates config and builds a Paygate.
func NewPaygate(config PaygateConfig) (*Paygate, error) {
	if config.Server == nil {
		return nil, fmt.Errorf("server is required")
	}
	if config.PriceTags == nil {
		return nil, fmt.Errorf("price tag source is required")
	}

	timeout := config.FacilitatorTimeout
	if timeout <= 0 {
		timeout = DefaultFacilitatorTimeout
	}
	ttl := config.SettlementTTL
	if ttl <= 0 {
		ttl = DefaultSettlementTTL
	}

	return &Paygate{
		server:      config.Server,
		priceTags:   config.PriceTags,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		description: config.Description,
		mimeType:    config.MimeType,
		timeout:     timeout,
		settlements: x402.NewSettlementCache(ttl),
		paywall:     config.Paywall,
	}, nil
}

// Middleware wraps next with the payment gate.
func (g *Paygate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.Handle(w, r, next)
	})
}

// Handle runs the payment gate for one request, invoking next only after
// the payment verifies.
func (g *Paygate) Handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	tags, err := g.priceTags(r)
	if err != nil || len(tags) == 0 {
		http.Error(w, "failed to resolve resource price", http.StatusInternalServerError)
		return
	}

	var requirements []x402.PaymentRequirements
	for _, tag := range tags {
		built, err := g.server.BuildPaymentRequirements(ctx, tag)
		if err != nil {
			http.Error(w, "failed to build payment requirements", http.StatusInternalServerError)
			return
		}
		requirements = append(requirements, built...)
	}

	info := x402.ResourceInfo{
		URL:         g.baseURL + r.URL.Path,
		Description: g.description,
		MimeType:    g.mimeType,
	}
	required := g.server.CreatePaymentRequiredResponse(requirements, info, "", nil)

	// V2 PAYMENT-SIGNATURE wins when both headers are present.
	header := r.Header.Get(HeaderPaymentSignature)
	if header == "" {
		header = r.Header.Get(HeaderPayment)
	}
	if header == "" {
		if g.paywall != nil && wantsHTML(r) {
			g.paywall.Serve(w, required)
			return
		}
		g.respond402(w, required, "")
		return
	}

	payloadBytes, err := DecodeHeaderBytes(header)
	if err != nil {
		g.respond402(w, required, err.Error())
		return
	}
	if err := ValidatePayloadBytes(payloadBytes); err != nil {
		g.respond402(w, required, err.Error())
		return
	}

	matched := g.server.FindMatchingRequirements(requirements, payloadBytes)
	if matched == nil {
		g.respond402(w, required, fmt.Sprintf("%s: payment does not match any accepted requirements", x402.ReasonRequirementMismatch))
		return
	}
	requirementsBytes, err := json.Marshal(matched)
	if err != nil {
		http.Error(w, "failed to encode payment requirements", http.StatusInternalServerError)
		return
	}

	verifyCtx, cancel := context.WithTimeout(ctx, g.timeout)
	verify, err := g.server.VerifyPayment(verifyCtx, payloadBytes, requirementsBytes)
	cancel()
	if err != nil || verify == nil {
		g.respond402(w, required, "payment verification unavailable")
		return
	}
	if !verify.IsValid {
		message := verify.InvalidMessage
		if message == "" {
			message = verify.InvalidReason
		}
		g.respond402(w, required, message)
		return
	}

	// Run the handler against a buffer so a failed settlement can still
	// replace the response.
	buffer := newBufferedResponse(w)
	next.ServeHTTP(buffer, r)

	if buffer.Status() >= http.StatusBadRequest {
		buffer.Send()
		return
	}

	settle := g.settle(ctx, payloadBytes, requirementsBytes)
	if settle == nil {
		settle = &x402.SettleResponse{
			Success:      false,
			ErrorReason:  x402.ReasonTransport,
			ErrorMessage: "settlement unavailable",
			Network:      matched.Network,
		}
	}

	receipt, err := EncodePaymentResponseHeader(*settle)
	if err == nil {
		buffer.Header().Set(HeaderPaymentResponse, receipt)
	}

	if settle.Success || buffer.Flushed() {
		if !settle.Success {
			log.Printf("x402: settlement failed after response flush: %s", settle.ErrorMessage)
		}
		buffer.Send()
		return
	}

	// Settlement failed with the response still buffered: the client did
	// not pay, so the resource body must not go out.
	buffer.Discard()
	g.respond402With(w, required, settle, "settlement failed: "+settle.ErrorMessage)
}

// settle runs settlement through the idempotency cache, so client retries
// of the same signed payment never submit a second transaction.
func (g *Paygate) settle(ctx context.Context, payloadBytes, requirementsBytes []byte) *x402.SettleResponse {
	key := x402.GenerateSettlementKey(payloadBytes)
	settleID := uuid.NewString()

	status, cached, done := g.settlements.CheckAndMark(key)
	switch status {
	case x402.StatusCached:
		return cached
	case x402.StatusInFlight:
		result, err := g.settlements.WaitForResult(ctx, key, done)
		if err != nil {
			return nil
		}
		return result
	}

	settleCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	response, err := g.server.SettlePayment(settleCtx, payloadBytes, requirementsBytes)
	if err != nil || response == nil {
		log.Printf("x402: settle %s failed: %v", settleID, err)
		g.settlements.Fail(key, done)
		return response
	}
	if response.Success {
		log.Printf("x402: settle %s confirmed tx %s on %s", settleID, response.Transaction, response.Network)
		g.settlements.Complete(key, response, done)
	} else {
		g.settlements.Fail(key, done)
	}
	return response
}

// respond402 writes the 402 challenge as header and JSON body.
func (g *Paygate) respond402(w http.ResponseWriter, required x402.PaymentRequired, errorMsg string) {
	g.respond402With(w, required, nil, errorMsg)
}

func (g *Paygate) respond402With(w http.ResponseWriter, required x402.PaymentRequired, settle *x402.SettleResponse, errorMsg string) {
	if errorMsg != "" {
		required.Error = errorMsg
	}

	if encoded, err := EncodePaymentRequiredHeader(required); err == nil {
		w.Header().Set(HeaderPaymentRequired, encoded)
	}
	if settle != nil {
		if receipt, err := EncodePaymentResponseHeader(*settle); err == nil {
			w.Header().Set(HeaderPaymentResponse, receipt)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(required); err != nil {
		log.Printf("x402: failed to write 402 body: %v", err)
	}
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// bufferedResponse holds the handler's response in memory until the
// paygate decides whether to release it. An explicit Flush from the
// handler streams it through immediately; after that the response can no
// longer be replaced.
type bufferedResponse struct {
	underlying http.ResponseWriter
	header     http.Header
	body       bytes.Buffer
	status     int
	flushed    bool
	discarded  bool
}

func newBufferedResponse(w http.ResponseWriter) *bufferedResponse {
	return &bufferedResponse{
		underlying: w,
		header:     make(http.Header),
		status:     http.StatusOK,
	}
}

func (b *bufferedResponse) Header() http.Header {
	if b.flushed {
		return b.underlying.Header()
	}
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if b.flushed {
		return
	}
	b.status = status
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.flushed {
		return b.underlying.Write(data)
	}
	return b.body.Write(data)
}

// Flush releases everything buffered so far to the client.
func (b *bufferedResponse) Flush() {
	if b.flushed || b.discarded {
		return
	}
	b.release()
	if flusher, ok := b.underlying.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Status returns the status the handler set.
func (b *bufferedResponse) Status() int {
	return b.status
}

// Flushed reports whether any bytes already reached the client.
func (b *bufferedResponse) Flushed() bool {
	return b.flushed
}

// Send releases the buffered response if it has not gone out yet.
func (b *bufferedResponse) Send() {
	if b.flushed || b.discarded {
		return
	}
	b.release()
}

// Discard drops the buffered response so a replacement can be written.
func (b *bufferedResponse) Discard() {
	if !b.flushed {
		b.discarded = true
	}
}

func (b *bufferedResponse) release() {
	dst := b.underlying.Header()
	for name, values := range b.header {
		dst[name] = values
	}
	b.underlying.WriteHeader(b.status)
	if b.body.Len() > 0 {
		b.underlying.Write(b.body.Bytes())
	}
	b.flushed = true
}
