// Package metadata stores small opaque values in the local state database,
// keyed by string. Credentials are its main tenant.
package metadata

import (
	"context"
)

type Repository interface {
	// Get returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// List returns all pairs whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}
