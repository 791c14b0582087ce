package store

// ArtifactStore defines the interface for durable content-addressed blob
// persistence. It outlines the contract the engine relies on: idempotent
// writes (same content, same address, repeated Put is a no-op) and safe
// concurrent access across plans.
type ArtifactStore interface {
	// Put persists the content and returns its content address. Writing the
	// same bytes twice returns the same address and does not duplicate
	// storage.
	Put(content []byte) (string, error)

	// Get retrieves the content for an address. It returns types.ErrNotFound
	// (wrapped) if the address is unknown.
	Get(address string) ([]byte, error)

	// Has reports whether the address is present without reading the blob.
	Has(address string) (bool, error)

	// Close releases any resources held by the store, such as file locks.
	// It should be called when the store is no longer needed.
	Close() error
}
