// Package cache stores per-recording analysis results between training runs.
//
// Keys are content addresses computed by the caller; the store itself only
// maps opaque keys to byte values. A Badger-backed store persists entries on
// disk, the in-memory store serves tests and runs with caching disabled.
package cache

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("cache: not found")

// Key is a hierarchical key such as {"features", "<sha256>"}.
type Key []string

func (k Key) String() string { return strings.Join(k, ":") }

func (k Key) bytes() []byte { return []byte(k.String()) }

// Store is a byte-valued key/value store.
type Store interface {
	// Get returns ErrNotFound if key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set overwrites any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	Close() error
}
