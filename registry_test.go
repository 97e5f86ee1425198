package x402

import "testing"

func TestRegistryExactLookup(t *testing.T) {
	r := NewSchemeRegistry[string]()
	r.Register(ProtocolVersion, "eip155:8453", "exact", "base-handler")

	got, ok := r.Find(ProtocolVersion, "eip155:8453", "exact")
	if !ok || got != "base-handler" {
		t.Fatalf("exact lookup: got %q, %t", got, ok)
	}

	if _, ok := r.Find(ProtocolVersion, "eip155:137", "exact"); ok {
		t.Error("unregistered network should miss")
	}
	if _, ok := r.Find(ProtocolVersion, "eip155:8453", "other"); ok {
		t.Error("unregistered scheme should miss")
	}
	if _, ok := r.Find(ProtocolVersionV1, "eip155:8453", "exact"); ok {
		t.Error("unregistered version should miss")
	}
}

func TestRegistryWildcardFallback(t *testing.T) {
	r := NewSchemeRegistry[string]()
	r.RegisterForNamespace(ProtocolVersion, "eip155", "exact", "namespace-handler")

	got, ok := r.Find(ProtocolVersion, "eip155:8453", "exact")
	if !ok || got != "namespace-handler" {
		t.Fatalf("wildcard fallback: got %q, %t", got, ok)
	}
	got, ok = r.Find(ProtocolVersion, "eip155:1", "exact")
	if !ok || got != "namespace-handler" {
		t.Fatalf("wildcard fallback other reference: got %q, %t", got, ok)
	}
	if _, ok := r.Find(ProtocolVersion, "solana:devnet", "exact"); ok {
		t.Error("wildcard should not cross namespaces")
	}
}

func TestRegistryExactWinsOverWildcard(t *testing.T) {
	r := NewSchemeRegistry[string]()
	r.RegisterForNamespace(ProtocolVersion, "eip155", "exact", "namespace-handler")
	r.Register(ProtocolVersion, "eip155:8453", "exact", "base-handler")

	got, ok := r.Find(ProtocolVersion, "eip155:8453", "exact")
	if !ok || got != "base-handler" {
		t.Fatalf("exact should win over wildcard: got %q, %t", got, ok)
	}

	got, ok = r.Find(ProtocolVersion, "eip155:137", "exact")
	if !ok || got != "namespace-handler" {
		t.Fatalf("other references should still hit the wildcard: got %q, %t", got, ok)
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewSchemeRegistry[string]()
	r.Register(ProtocolVersion, "eip155:8453", "exact", "first")
	r.Register(ProtocolVersion, "eip155:8453", "exact", "second")

	got, _ := r.Find(ProtocolVersion, "eip155:8453", "exact")
	if got != "second" {
		t.Fatalf("collision should overwrite: got %q", got)
	}
}

func TestRegistryLegacyNetworkNameLookup(t *testing.T) {
	r := NewSchemeRegistry[string]()
	r.Register(ProtocolVersionV1, "eip155:8453", "exact", "base-handler")

	got, ok := r.Find(ProtocolVersionV1, "base", "exact")
	if !ok || got != "base-handler" {
		t.Fatalf("legacy name lookup: got %q, %t", got, ok)
	}
	if _, ok := r.Find(ProtocolVersionV1, "no-such-network", "exact"); ok {
		t.Error("unknown legacy name should miss")
	}
}

func TestRegistryWalkAndVersions(t *testing.T) {
	r := NewSchemeRegistry[string]()
	r.Register(ProtocolVersion, "eip155:8453", "exact", "a")
	r.Register(ProtocolVersionV1, "eip155:8453", "exact", "b")

	seen := 0
	r.Walk(func(version int, network Network, scheme string, impl string) {
		seen++
	})
	if seen != 2 {
		t.Errorf("Walk visited %d registrations, want 2", seen)
	}
	if len(r.Versions()) != 2 {
		t.Errorf("Versions: got %v", r.Versions())
	}
}
