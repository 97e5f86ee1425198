package types

// ResourceServiceExtension enriches resource declarations before they are
// published, keyed so a service can deduplicate registered extensions.
type ResourceServiceExtension interface {
	Key() string
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}
}
