// Package scope hands out keys identifying the logical unit of work a
// request runs in. Keys travel in the request context.
package scope

import (
	"context"
	"sync/atomic"
)

// Key identifies one active unit of work.
type Key uint64

// Default is the key of every context that was not given one. It is shared,
// so it must only be used where no concurrent access is expected.
const Default Key = 0

var counter atomic.Uint64

// Next returns a key that no other call in this process has returned.
func Next() Key {
	return Key(counter.Add(1))
}

type contextKey struct{}

// WithKey returns a copy of ctx carrying key.
func WithKey(ctx context.Context, key Key) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// FromContext returns the key carried by ctx, or Default.
func FromContext(ctx context.Context) Key {
	key, ok := ctx.Value(contextKey{}).(Key)
	if !ok {
		return Default
	}
	return key
}
