package x402

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

type stubSchemeClient struct {
	scheme  string
	fail    error
	created int
}

func (s *stubSchemeClient) Scheme() string {
	return s.scheme
}

func (s *stubSchemeClient) CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PartialPaymentPayload, error) {
	if s.fail != nil {
		return PartialPaymentPayload{}, s.fail
	}
	s.created++
	return PartialPaymentPayload{
		X402Version: version,
		Payload: map[string]interface{}{
			"signature": "0xstub",
		},
	}, nil
}

func baseRequirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:8453",
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:            "10000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 60,
	}
}

func TestSelectPaymentRequirementsFiltersUnsupported(t *testing.T) {
	client := Newx402Client()
	client.RegisterScheme("eip155:8453", &stubSchemeClient{scheme: "exact"})

	solanaReq := baseRequirements()
	solanaReq.Network = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"

	selected, err := client.SelectPaymentRequirements(ProtocolVersion, []PaymentRequirements{solanaReq, baseRequirements()})
	if err != nil {
		t.Fatal(err)
	}
	if selected.Network != "eip155:8453" {
		t.Errorf("selected unsupported network %s", selected.Network)
	}
}

func TestSelectPaymentRequirementsNoneSupported(t *testing.T) {
	client := Newx402Client()

	_, err := client.SelectPaymentRequirements(ProtocolVersion, []PaymentRequirements{baseRequirements()})
	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("expected PaymentError, got %v", err)
	}
	if paymentErr.Code != ReasonUnsupportedScheme {
		t.Errorf("code: got %s", paymentErr.Code)
	}
}

func TestPreferChainSelector(t *testing.T) {
	base := baseRequirements()
	polygon := baseRequirements()
	polygon.Network = "eip155:137"

	selector := PreferChain("eip155:137")
	selected := selector(ProtocolVersion, []PaymentRequirements{base, polygon})
	if selected.Network != "eip155:137" {
		t.Errorf("PreferChain: got %s", selected.Network)
	}

	// No preferred network present falls back to the first option.
	selector = PreferChain("solana:*")
	selected = selector(ProtocolVersion, []PaymentRequirements{base, polygon})
	if selected.Network != base.Network {
		t.Errorf("fallback: got %s", selected.Network)
	}
}

func TestMaxAmountSelector(t *testing.T) {
	cheap := baseRequirements()
	cheap.Amount = "100"
	expensive := baseRequirements()
	expensive.Amount = "1000000"

	selector := MaxAmount(big.NewInt(500))
	selected := selector(ProtocolVersion, []PaymentRequirements{expensive, cheap})
	if selected.Amount != "100" {
		t.Errorf("ceiling: got amount %s", selected.Amount)
	}

	// Everything over the ceiling selects the cheapest option.
	selector = MaxAmount(big.NewInt(1))
	selected = selector(ProtocolVersion, []PaymentRequirements{expensive, cheap})
	if selected.Amount != "100" {
		t.Errorf("cheapest fallback: got amount %s", selected.Amount)
	}
}

func TestCreatePaymentForRequiredV2(t *testing.T) {
	stub := &stubSchemeClient{scheme: "exact"}
	client := Newx402Client()
	client.RegisterScheme("eip155:8453", stub)

	required := PaymentRequired{
		X402Version: ProtocolVersion,
		Accepts:     []PaymentRequirements{baseRequirements()},
		Resource:    &ResourceInfo{URL: "https://api.example.com/data"},
	}

	payload, err := client.CreatePaymentForRequired(context.Background(), required)
	if err != nil {
		t.Fatal(err)
	}
	if payload.X402Version != ProtocolVersion {
		t.Errorf("version: got %d", payload.X402Version)
	}
	if payload.Accepted.Network != "eip155:8453" {
		t.Errorf("accepted not echoed: %+v", payload.Accepted)
	}
	if payload.Resource == nil || payload.Resource.URL != "https://api.example.com/data" {
		t.Errorf("resource not carried: %+v", payload.Resource)
	}
	if payload.Scheme != "" || payload.Network != "" {
		t.Error("V2 payload should not set top-level scheme/network")
	}
	if stub.created != 1 {
		t.Errorf("scheme client called %d times", stub.created)
	}
}

func TestCreatePaymentForRequiredV1(t *testing.T) {
	client := Newx402Client()
	client.RegisterSchemeV1("eip155:8453", &stubSchemeClient{scheme: "exact"})

	required := PaymentRequired{
		X402Version: ProtocolVersionV1,
		Accepts:     []PaymentRequirements{baseRequirements()},
	}

	payload, err := client.CreatePaymentForRequired(context.Background(), required)
	if err != nil {
		t.Fatal(err)
	}
	if payload.X402Version != ProtocolVersionV1 {
		t.Errorf("version: got %d", payload.X402Version)
	}
	if payload.Scheme != "exact" || payload.Network != "eip155:8453" {
		t.Errorf("V1 payload needs top-level scheme/network: %+v", payload)
	}
}

func TestCreatePaymentPayloadSchemeError(t *testing.T) {
	client := Newx402Client()
	client.RegisterScheme("eip155:8453", &stubSchemeClient{scheme: "exact", fail: errors.New("signer offline")})

	_, err := client.CreatePaymentPayload(context.Background(), ProtocolVersion, baseRequirements(), nil, nil)
	if err == nil {
		t.Fatal("expected error from scheme client")
	}
}

func TestCanPay(t *testing.T) {
	client := Newx402Client()
	client.RegisterScheme("eip155:8453", &stubSchemeClient{scheme: "exact"})

	if !client.CanPay(ProtocolVersion, []PaymentRequirements{baseRequirements()}) {
		t.Error("CanPay should be true for a registered scheme")
	}
	other := baseRequirements()
	other.Network = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	if client.CanPay(ProtocolVersion, []PaymentRequirements{other}) {
		t.Error("CanPay should be false with no registered scheme")
	}
}
