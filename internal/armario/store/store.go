package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound: no value under the key (or no record for the slot).
	ErrNotFound = errors.New("not found")
	// ErrCorruptRecord: a value exists but does not decode to a valid record.
	ErrCorruptRecord = errors.New("corrupt record")
)

// KV is a byte-blob store keyed by short strings, the same shape as the
// firmware's flash preferences namespace.
type KV interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete of an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
