package x402

import (
	"testing"
)

func TestParseChainIdRoundTrip(t *testing.T) {
	cases := []string{
		"eip155:8453",
		"eip155:84532",
		"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		"eip155:*",
	}
	for _, s := range cases {
		c, err := ParseChainId(s)
		if err != nil {
			t.Fatalf("ParseChainId(%q): %v", s, err)
		}
		if c.String() != s {
			t.Errorf("round-trip %q: got %q", s, c.String())
		}
	}
}

func TestParseChainIdInvalid(t *testing.T) {
	cases := []string{
		"",
		"eip155",
		"EIP155:1",
		"eip155:",
		"eip155:has spaces",
		"eip155:0123456789012345678901234567890123",
	}
	for _, s := range cases {
		if _, err := ParseChainId(s); err == nil {
			t.Errorf("ParseChainId(%q): expected error", s)
		}
	}
}

func TestChainIdWildcard(t *testing.T) {
	c, err := ParseChainId("eip155:8453")
	if err != nil {
		t.Fatal(err)
	}
	if c.IsWildcard() {
		t.Error("concrete chain id reported as wildcard")
	}

	w := c.AsWildcard()
	if !w.IsWildcard() {
		t.Error("AsWildcard did not produce a wildcard")
	}
	if w.String() != "eip155:*" {
		t.Errorf("wildcard form: got %q", w.String())
	}
}

func TestChainIdPatternMatches(t *testing.T) {
	base := ChainId{Namespace: "eip155", Reference: "8453"}
	polygon := ChainId{Namespace: "eip155", Reference: "137"}
	solana := ChainId{Namespace: "solana", Reference: "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"}

	if !ExactPattern(base).Matches(base) {
		t.Error("exact pattern should match its own chain id")
	}
	if ExactPattern(base).Matches(polygon) {
		t.Error("exact pattern matched a different reference")
	}
	if !WildcardPattern("eip155").Matches(base) || !WildcardPattern("eip155").Matches(polygon) {
		t.Error("wildcard pattern should match every reference in its namespace")
	}
	if WildcardPattern("eip155").Matches(solana) {
		t.Error("wildcard pattern crossed namespaces")
	}
	set := SetPattern("eip155", "8453", "137")
	if !set.Matches(base) || !set.Matches(polygon) {
		t.Error("set pattern should match listed references")
	}
	if set.Matches(ChainId{Namespace: "eip155", Reference: "1"}) {
		t.Error("set pattern matched an unlisted reference")
	}
}

func TestNetworkMatch(t *testing.T) {
	if !Network("eip155:8453").Match("eip155:*") {
		t.Error("concrete network should match namespace wildcard")
	}
	if !Network("eip155:*").Match("eip155:8453") {
		t.Error("wildcard should match concrete network")
	}
	if Network("eip155:8453").Match("solana:*") {
		t.Error("match crossed namespaces")
	}
	if !Network("eip155:8453").Match("eip155:8453") {
		t.Error("identical networks should match")
	}
}

func TestV1NetworkTranslation(t *testing.T) {
	c, ok := ChainIdFromV1Network("base")
	if !ok {
		t.Fatal("base should resolve")
	}
	if c.String() != "eip155:8453" {
		t.Errorf("base: got %q", c.String())
	}

	name, ok := V1NetworkFromChainId(c)
	if !ok || name != "base" {
		t.Errorf("reverse translation: got %q, %t", name, ok)
	}

	if _, ok := ChainIdFromV1Network("no-such-network"); ok {
		t.Error("unknown V1 name should not resolve")
	}
}
