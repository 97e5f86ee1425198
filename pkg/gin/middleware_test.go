package gin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/qntx/x402"
	x402http "github.com/qntx/x402/http"
)

type stubSchemeServer struct{}

func (s *stubSchemeServer) Scheme() string { return "exact" }

func (s *stubSchemeServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	amount, ok := price.(string)
	if !ok {
		return x402.AssetAmount{}, errors.New("stub only parses string prices")
	}
	return x402.AssetAmount{
		Asset:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount: amount,
	}, nil
}

func (s *stubSchemeServer) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements, supportedKind x402.SupportedKind, extensions []string) (x402.PaymentRequirements, error) {
	return requirements, nil
}

type stubFacilitator struct{}

func (c *stubFacilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	return &x402.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (c *stubFacilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.SettleResponse, error) {
	return &x402.SettleResponse{Success: true, Transaction: "0xtx", Network: "eip155:8453"}, nil
}

func (c *stubFacilitator) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: x402.ProtocolVersion, Scheme: "exact", Network: "eip155:8453"},
		},
	}, nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server := x402.Newx402ResourceServer(
		x402.WithFacilitatorClient(&stubFacilitator{}),
		x402.WithSchemeServer("eip155:8453", &stubSchemeServer{}),
	)
	require.NoError(t, server.Initialize(context.Background()))

	middleware, err := PaymentMiddleware(
		server,
		"10000",
		"0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		"eip155:8453",
	)
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware)
	router.GET("/data", func(c *gin.Context) {
		c.String(http.StatusOK, "premium data")
	})
	return router
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	payload := x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xsig"},
		Accepted: x402.PaymentRequirements{
			Scheme:            "exact",
			Network:           "eip155:8453",
			Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Amount:            "10000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			MaxTimeoutSeconds: x402.DefaultMaxTimeoutSeconds,
		},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestMiddlewareChallengesWithoutPayment(t *testing.T) {
	router := newRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data", nil))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(x402http.HeaderPaymentRequired))
	assert.NotContains(t, rec.Body.String(), "premium data")
}

func TestMiddlewareAllowsPaidRequest(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set(x402http.HeaderPaymentSignature, paymentHeader(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "premium data", rec.Body.String())

	settle, err := x402http.GetPaymentSettleResponse(rec.Header())
	require.NoError(t, err)
	assert.True(t, settle.Success)
}

func TestPaymentMiddlewareRequiresServer(t *testing.T) {
	_, err := PaymentMiddleware(
		nil,
		"10000",
		"0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		"eip155:8453",
	)
	assert.Error(t, err)
}
