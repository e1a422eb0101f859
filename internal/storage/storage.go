package storage

import "context"

// Store defines the interface for the storage layer. Every method also
// has a Column-scoped counterpart below: the raw []byte-key methods
// remain for callers that build their own keys (the Column methods are
// implemented on top of them), but every per-context, per-column access
// path (entity state, the Merkle cursor, the Merkle root checkpoint
// ladder keyed by height, ...) goes through the scoped
// methods so key construction and internal-key filtering live in one
// place instead of being re-derived by every caller.
type Store interface {
	// Get retrieves a value by key
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set sets a value for a key
	Set(ctx context.Context, key, value []byte) error

	// Delete removes a key
	Delete(ctx context.Context, key []byte) error

	// Has checks if a key exists
	Has(ctx context.Context, key []byte) (bool, error)

	// Iterate iterates over all keys with the given prefix
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// GetColumn retrieves the value stored under col/contextID/rest,
	// reporting ok=false (not an error) when the key is absent.
	GetColumn(ctx context.Context, col Column, contextID string, rest ...string) (value []byte, ok bool, err error)

	// SetColumn writes value under col/contextID/rest.
	SetColumn(ctx context.Context, col Column, contextID string, value []byte, rest ...string) error

	// DeleteColumn removes col/contextID/rest.
	DeleteColumn(ctx context.Context, col Column, contextID string, rest ...string) error

	// IterateColumn walks every key stored under col/contextID, handing
	// fn the rest-of-key component with the column/contextID prefix
	// already stripped off and any internal-namespace key already
	// filtered out.
	IterateColumn(ctx context.Context, col Column, contextID string, fn func(rest string, value []byte) error) error

	// Close closes the store and releases resources
	Close() error
}
