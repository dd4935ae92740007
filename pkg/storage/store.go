package storage

import (
	"errors"
)

// ErrNotFound is returned by Get when the key has no value
var ErrNotFound = errors.New("key not found")

// Store defines the interface for persisted client state.
// Implementations hold a flat string-keyed namespace of small values.
type Store interface {
	// Get returns the value stored under key or ErrNotFound
	Get(key string) ([]byte, error)

	// PutAll writes every entry in one transaction: readers observe
	// either none or all of the new values
	PutAll(entries map[string][]byte) error

	// Delete removes the given keys; missing keys are not an error
	Delete(keys ...string) error

	// Utility
	Close() error
}
