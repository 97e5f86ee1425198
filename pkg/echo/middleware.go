// Package echo binds the x402 paygate to echo routers.
package echo

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

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

// PaymentMiddleware gates routes on a payment of price to payTo on network.
// The server must be initialized against its facilitators before traffic
// arrives.
func PaymentMiddleware(server *x402.X402ResourceServer, price x402.Price, payTo string, network x402.Network, opts ...Options) (echo.MiddlewareFunc, error) {
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

// Middleware adapts a paygate to an echo middleware.
func Middleware(gate *x402http.Paygate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var handlerErr error
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				response := c.Response()
				originalWriter := response.Writer
				response.Writer = w
				c.SetRequest(r)
				handlerErr = next(c)
				response.Writer = originalWriter
				if handlerErr != nil {
					c.Echo().HTTPErrorHandler(handlerErr, c)
					handlerErr = nil
				}
			})

			gate.Handle(c.Response().Writer, c.Request(), inner)
			return handlerErr
		}
	}
}
