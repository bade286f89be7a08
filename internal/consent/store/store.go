// Package store persists consent state as one JSON blob per visitor.
package store

import "context"

// KV is the durable blob store underneath Storage. Implementations must
// return sentinel.ErrNotFound (optionally wrapped) when a key is absent.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
