package types

import (
	"strings"
	"testing"
)

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		errPart string
	}{
		{"v2 payload", `{"x402Version": 2, "payload": {}}`, 2, ""},
		{"v1 payload", `{"x402Version": 1, "scheme": "exact"}`, 1, ""},
		{"missing version", `{"payload": {}}`, 0, "MissingVersion"},
		{"unsupported version", `{"x402Version": 9}`, 0, "InvalidVersion"},
		{"zero version", `{"x402Version": 0}`, 0, "InvalidVersion"},
		{"not json", `x402`, 0, "InvalidFormat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectVersion([]byte(tt.input))
			if tt.errPart != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errPart) {
					t.Errorf("error %v should contain %q", err, tt.errPart)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got version %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVersionedParsing(t *testing.T) {
	v2 := `{
		"x402Version": 2,
		"payload": {"signature": "0xsig"},
		"accepted": {"scheme": "exact", "network": "eip155:8453", "amount": "10000"}
	}`
	payload, err := ToPaymentPayloadV2([]byte(v2))
	if err != nil {
		t.Fatal(err)
	}
	if payload.Accepted.Network != "eip155:8453" {
		t.Errorf("accepted network: %s", payload.Accepted.Network)
	}

	v1 := `{
		"x402Version": 1,
		"scheme": "exact",
		"network": "base",
		"payload": {"signature": "0xsig"}
	}`
	legacy, err := ToPaymentPayloadV1([]byte(v1))
	if err != nil {
		t.Fatal(err)
	}
	if legacy.Scheme != "exact" || legacy.Network != "base" {
		t.Errorf("legacy payload: %+v", legacy)
	}

	if _, err := ToPaymentPayloadV2([]byte(`not json`)); err == nil {
		t.Error("garbage input should fail")
	}
}
