package repository

import (
	"context"
	"errors"
)

// ErrConflict is returned when an optimistic update kept losing to concurrent
// writers.
var ErrConflict = errors.New("key updated concurrently, giving up")

// KeyValueRepository stores opaque values under string keys. Get returns nil,
// nil for a missing key. Update runs fn as an atomic read-modify-write; a nil
// result from fn leaves the key untouched.
type KeyValueRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	Close() error
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
