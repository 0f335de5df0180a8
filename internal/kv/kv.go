// Package kv is the embedded ordered key-value layer under the class index.
//
// A Store holds any number of named keyspaces. Each keyspace is a sorted
// map from byte-string keys to byte-string values. The only write primitive
// is CompareAndSwap; Update builds an atomic read-modify-write on top of it.
package kv

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrKeyspaceNotFound is returned when an operation names a keyspace that
// has not been created.
var ErrKeyspaceNotFound = errors.New("keyspace not found")

// Store is an embedded, crash-durable, ordered key-value store.
// Implementations are safe for concurrent use.
type Store interface {
	// CreateKeyspace creates name if it does not exist.
	CreateKeyspace(name string) error
	// DropKeyspace deletes name and every key in it.
	DropKeyspace(name string) error
	// Keyspaces lists keyspace names in ascending order.
	Keyspaces() ([]string, error)
	// HasKeyspace reports whether name exists.
	HasKeyspace(name string) (bool, error)

	// Get returns the value stored under key, or nil if the key is absent.
	Get(keyspace string, key []byte) ([]byte, error)
	// CompareAndSwap sets key to new if its current value equals old.
	// A nil old means "key absent"; a nil new deletes the key.
	CompareAndSwap(keyspace string, key, old, new []byte) (bool, error)
	// ForEach visits every key in ascending order. fn must not write to
	// the store.
	ForEach(keyspace string, fn func(key, value []byte) error) error

	// Flush makes all writes to the named keyspaces durable.
	Flush(keyspaces ...string) error
	Close() error
}

// UpdateFunc computes a new value from the current one (nil when absent).
type UpdateFunc func(old []byte) ([]byte, error)

// Update atomically replaces the value under key with fn(old), retrying
// when a concurrent writer changed the key between read and write. fn may
// run more than once and must not have side effects. Returns the stored
// value.
func Update(s Store, keyspace string, key []byte, fn UpdateFunc) ([]byte, error) {
	for {
		old, err := s.Get(keyspace, key)
		if err != nil {
			return nil, err
		}
		next, err := fn(old)
		if err != nil {
			return nil, err
		}
		if old != nil && next != nil && bytes.Equal(old, next) {
			return old, nil
		}
		swapped, err := s.CompareAndSwap(keyspace, key, old, next)
		if err != nil {
			return nil, err
		}
		if swapped {
			return next, nil
		}
	}
}

// ValidateKeyspaceName rejects names no backend can store.
func ValidateKeyspaceName(name string) error {
	if name == "" {
		return fmt.Errorf("keyspace name must not be empty")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("keyspace name %q contains a NUL byte", name)
	}
	return nil
}
