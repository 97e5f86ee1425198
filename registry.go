package x402

// SchemeRegistry maps (version, network, scheme) slugs to handler instances.
// Lookup is two-phase: the exact slug first, then the slug with its
// reference replaced by the namespace wildcard ("eip155:*"). A single
// handler can therefore serve a whole namespace while per-chain
// registrations override it.
//
// Registration collisions overwrite (last wins). Registries are built once
// during startup and are read-only at request time; no locking is needed
// on the lookup path.
type SchemeRegistry[T any] struct {
	byVersion map[int]map[Network]map[string]T
}

// NewSchemeRegistry creates an empty registry.
func NewSchemeRegistry[T any]() *SchemeRegistry[T] {
	return &SchemeRegistry[T]{byVersion: make(map[int]map[Network]map[string]T)}
}

// Register binds a handler to an exact (version, network, scheme) slug.
func (r *SchemeRegistry[T]) Register(version int, network Network, scheme string, impl T) {
	networks, ok := r.byVersion[version]
	if !ok {
		networks = make(map[Network]map[string]T)
		r.byVersion[version] = networks
	}
	schemes, ok := networks[network]
	if !ok {
		schemes = make(map[string]T)
		networks[network] = schemes
	}
	schemes[scheme] = impl
}

// RegisterForNamespace binds a handler to every reference in a namespace
// by registering on the wildcard slug.
func (r *SchemeRegistry[T]) RegisterForNamespace(version int, namespace, scheme string, impl T) {
	r.Register(version, Network(namespace+":"+WildcardReference), scheme, impl)
}

// Find resolves a slug to its handler. Exact registrations win over
// wildcard registrations for the same namespace.
func (r *SchemeRegistry[T]) Find(version int, network Network, scheme string) (T, bool) {
	var zero T
	networks, ok := r.byVersion[version]
	if !ok {
		return zero, false
	}

	if schemes, ok := networks[network]; ok {
		if impl, ok := schemes[scheme]; ok {
			return impl, true
		}
	}

	chainId, err := network.ChainId()
	if err != nil {
		// Legacy V1 network names resolve through the translation table.
		legacy, ok := ChainIdFromV1Network(string(network))
		if !ok {
			return zero, false
		}
		chainId = legacy
		if schemes, ok := networks[chainId.Network()]; ok {
			if impl, ok := schemes[scheme]; ok {
				return impl, true
			}
		}
	}
	if schemes, ok := networks[chainId.AsWildcard().Network()]; ok {
		if impl, ok := schemes[scheme]; ok {
			return impl, true
		}
	}

	// Pattern registrations other than the plain wildcard (e.g. a network
	// registered with Match semantics) are scanned last.
	for registered, schemes := range networks {
		if registered == network {
			continue
		}
		if network.Match(registered) {
			if impl, ok := schemes[scheme]; ok {
				return impl, true
			}
		}
	}

	return zero, false
}

// SchemesFor returns all schemes registered for a network at a version,
// applying the same exact-then-wildcard fallback.
func (r *SchemeRegistry[T]) SchemesFor(version int, network Network) map[string]T {
	networks, ok := r.byVersion[version]
	if !ok {
		return nil
	}
	if schemes, ok := networks[network]; ok {
		return schemes
	}
	for registered, schemes := range networks {
		if network.Match(registered) || registered.Match(network) {
			return schemes
		}
	}
	return nil
}

// Walk visits every registered (version, network, scheme, handler) tuple.
func (r *SchemeRegistry[T]) Walk(fn func(version int, network Network, scheme string, impl T)) {
	for version, networks := range r.byVersion {
		for network, schemes := range networks {
			for scheme, impl := range schemes {
				fn(version, network, scheme, impl)
			}
		}
	}
}

// Versions returns the protocol versions with at least one registration.
func (r *SchemeRegistry[T]) Versions() []int {
	versions := make([]int, 0, len(r.byVersion))
	for v := range r.byVersion {
		versions = append(versions, v)
	}
	return versions
}
