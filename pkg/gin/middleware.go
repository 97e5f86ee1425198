// Package gin binds the x402 paygate to gin routers.
package gin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/qntx/x402"
	x402http "github.com/qntx/x402/http"
)

// Options configures the payment middleware.
type Options func(*middlewareOptions)

type middlewareOptions struct {
	scheme            string
	maxTimeoutSeconds int
	config            x402http.PaygateConfig
}

// WithScheme sets the payment scheme. Default "exact".
func WithScheme(scheme string) Options {
	return func(o *middlewareOptions) { o.scheme = scheme }
}

// WithDescription sets the resource description in challenges.
func WithDescription(description string) Options {
	return func(o *middlewareOptions) { o.config.Description = description }
}

// WithMimeType sets the resource MIME type in challenges.
func WithMimeType(mimeType string) Options {
	return func(o *middlewareOptions) { o.config.MimeType = mimeType }
}

// WithMaxTimeoutSeconds sets the payment validity window.
func WithMaxTimeoutSeconds(maxTimeoutSeconds int) Options {
	return func(o *middlewareOptions) { o.maxTimeoutSeconds = maxTimeoutSeconds }
}

// WithBaseURL sets the base URL used to build resource URLs.
func WithBaseURL(baseURL string) Options {
	return func(o *middlewareOptions) { o.config.BaseURL = baseURL }
}

// WithFacilitatorTimeout bounds each verify/settle call.
func WithFacilitatorTimeout(timeout time.Duration) Options {
	return func(o *middlewareOptions) { o.config.FacilitatorTimeout = timeout }
}

// WithPaywall serves an HTML paywall to browser clients.
func WithPaywall(paywall *x402http.PaywallConfig) Options {
	return func(o *middlewareOptions) { o.config.Paywall = paywall }
}

// WithPriceTagSource replaces the static price with a per-request source.
func WithPriceTagSource(source x402http.PriceTagSource) Options {
	return func(o *middlewareOptions) { o.config.PriceTags = source }
}

// PaymentMiddleware gates the route group on a payment of price to payTo on
// network. The server must be initialized against its facilitators before
// traffic arrives.
func PaymentMiddleware(server *x402.X402ResourceServer, price x402.Price, payTo string, network x402.Network, opts ...Options) (gin.HandlerFunc, error) {
	options := &middlewareOptions{
		scheme: "exact",
		config: x402http.PaygateConfig{Server: server},
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.config.PriceTags == nil {
		options.config.PriceTags = x402http.StaticPriceTags(x402.ResourceConfig{
			Scheme:            options.scheme,
			PayTo:             payTo,
			Price:             price,
			Network:           network,
			MaxTimeoutSeconds: options.maxTimeoutSeconds,
		})
	}

	gate, err := x402http.NewPaygate(options.config)
	if err != nil {
		return nil, err
	}
	return Middleware(gate), nil
}

// Middleware adapts a paygate to a gin handler.
func Middleware(gate *x402http.Paygate) gin.HandlerFunc {
	return func(c *gin.Context) {
		handled := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handled = true
			original := c.Writer
			c.Writer = &paygateWriter{ResponseWriter: original, target: w}
			c.Request = r
			c.Next()
			c.Writer = original
		})

		gate.Handle(c.Writer, c.Request, next)
		if !handled {
			c.Abort()
		}
	}
}

// paygateWriter redirects the handler chain's writes into the paygate's
// buffered response while still satisfying gin.ResponseWriter.
type paygateWriter struct {
	gin.ResponseWriter
	target http.ResponseWriter
	status int
	size   int
}

func (w *paygateWriter) Header() http.Header {
	return w.target.Header()
}

func (w *paygateWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
		w.target.WriteHeader(code)
	}
}

func (w *paygateWriter) WriteHeaderNow() {}

func (w *paygateWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.target.Write(data)
	w.size += n
	return n, err
}

func (w *paygateWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *paygateWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *paygateWriter) Size() int {
	return w.size
}

func (w *paygateWriter) Written() bool {
	return w.status != 0 || w.size > 0
}

func (w *paygateWriter) Flush() {
	if flusher, ok := w.target.(http.Flusher); ok {
		flusher.Flush()
	}
}
