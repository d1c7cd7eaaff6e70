// Package storage defines the key/value abstractions the agent persists
// state through.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// KV stores raw values under keys scoped to a prefix.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type KVBroker interface {
	KeyValue(prefix string) KV
}

// KeyValue is a typed view over a KV.
type KeyValue[T any] interface {
	Put(ctx context.Context, key string, obj T) error
	Get(ctx context.Context, key string) (T, error)
	Delete(ctx context.Context, key string) error
}
