package x402

import (
	"fmt"
	"regexp"
	"strings"
)

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "eip155:8453" for Base mainnet)
type Network string

var (
	namespaceRegex = regexp.MustCompile(`^[a-z0-9]+$`)
	referenceRegex = regexp.MustCompile(`^[-_A-Za-z0-9]{1,32}$`)
)

// ChainId is a parsed CAIP-2 identifier. Reference "*" is the namespace
// wildcard used by registry patterns.
type ChainId struct {
	Namespace string
	Reference string
}

// ParseChainId parses a CAIP-2 string into its namespace and reference.
func ParseChainId(s string) (ChainId, error) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return ChainId{}, fmt.Errorf("%s: invalid chain id %q: missing colon", ReasonInvalidFormat, s)
	}
	namespace, reference := s[:idx], s[idx+1:]
	if !namespaceRegex.MatchString(namespace) {
		return ChainId{}, fmt.Errorf("%s: invalid chain namespace %q", ReasonInvalidFormat, namespace)
	}
	if reference != WildcardReference && !referenceRegex.MatchString(reference) {
		return ChainId{}, fmt.Errorf("%s: invalid chain reference %q", ReasonInvalidFormat, reference)
	}
	return ChainId{Namespace: namespace, Reference: reference}, nil
}

// WildcardReference matches any reference within a namespace.
const WildcardReference = "*"

func (c ChainId) String() string {
	return c.Namespace + ":" + c.Reference
}

// AsWildcard returns the chain id with its reference replaced by "*".
func (c ChainId) AsWildcard() ChainId {
	return ChainId{Namespace: c.Namespace, Reference: WildcardReference}
}

// IsWildcard reports whether the reference is the namespace wildcard.
func (c ChainId) IsWildcard() bool {
	return c.Reference == WildcardReference
}

// Network returns the CAIP-2 string form as a Network.
func (c ChainId) Network() Network {
	return Network(c.String())
}

// ChainIdPattern matches chain ids within a single namespace.
// References semantics: nil means any reference (wildcard), otherwise the
// reference must be in the set. A single-element set is an exact pattern.
type ChainIdPattern struct {
	Namespace  string
	References []string
}

// ExactPattern matches only the given chain id.
func ExactPattern(c ChainId) ChainIdPattern {
	return ChainIdPattern{Namespace: c.Namespace, References: []string{c.Reference}}
}

// WildcardPattern matches every chain id in a namespace.
func WildcardPattern(namespace string) ChainIdPattern {
	return ChainIdPattern{Namespace: namespace}
}

// SetPattern matches any of the given references in a namespace.
func SetPattern(namespace string, references ...string) ChainIdPattern {
	return ChainIdPattern{Namespace: namespace, References: references}
}

// Matches reports whether the chain id falls within this pattern.
func (p ChainIdPattern) Matches(c ChainId) bool {
	if p.Namespace != c.Namespace {
		return false
	}
	if p.References == nil {
		return true
	}
	for _, ref := range p.References {
		if ref == c.Reference || ref == WildcardReference {
			return true
		}
	}
	return false
}

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	c, err := ParseChainId(string(n))
	if err != nil {
		return "", "", err
	}
	return c.Namespace, c.Reference, nil
}

// ChainId parses the network as a CAIP-2 chain id.
func (n Network) ChainId() (ChainId, error) {
	return ParseChainId(string(n))
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:1" matches "eip155:*" and "eip155:*" matches "eip155:1"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	// Bidirectional so registered wildcards match concrete lookups and
	// wildcard lookups match concrete registrations.
	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// v1NetworkNames maps legacy V1 network names to CAIP-2 chain ids.
// This table is the single source of truth: V1 code paths translate in,
// V2 code paths translate out.
var v1NetworkNames = map[string]ChainId{
	"base":           {Namespace: "eip155", Reference: "8453"},
	"base-sepolia":   {Namespace: "eip155", Reference: "84532"},
	"avalanche":      {Namespace: "eip155", Reference: "43114"},
	"avalanche-fuji": {Namespace: "eip155", Reference: "43113"},
	"polygon":        {Namespace: "eip155", Reference: "137"},
	"polygon-amoy":   {Namespace: "eip155", Reference: "80002"},
	"solana":         {Namespace: "solana", Reference: "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"},
	"solana-devnet":  {Namespace: "solana", Reference: "EtWTRABZaYq6iMfeYKouRu166VU2xqa1"},
	"sei":            {Namespace: "eip155", Reference: "1329"},
	"sei-testnet":    {Namespace: "eip155", Reference: "1328"},
}

var chainIdToV1Name = func() map[ChainId]string {
	m := make(map[ChainId]string, len(v1NetworkNames))
	for name, c := range v1NetworkNames {
		m[c] = name
	}
	return m
}()

// ChainIdFromV1Network resolves a legacy V1 network name to its chain id.
func ChainIdFromV1Network(name string) (ChainId, bool) {
	c, ok := v1NetworkNames[name]
	return c, ok
}

// V1NetworkFromChainId resolves a chain id back to its legacy V1 name.
func V1NetworkFromChainId(c ChainId) (string, bool) {
	name, ok := chainIdToV1Name[c]
	return name, ok
}
