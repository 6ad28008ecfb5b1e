package session

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Store.Get when the key holds no value.
var ErrNotFound = errors.New("session: key not found")

// Store is durable key/scalar storage scoped to one namespace (one device, one CLI profile).
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value of key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Clear removes every entry of the namespace.
	Clear(ctx context.Context) error
}

// StoreFactory opens the Store of a namespace.
type StoreFactory interface {
	Store(namespace string) (Store, error)
}

// IsNotFound reports whether err is caused by a missing key.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrNotFound
}
