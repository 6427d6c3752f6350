// Package db provides the small key-value stores conversations are persisted in.
package db

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("db: key not found")

// KV is a flat string-keyed byte store. Implementations are safe for use by a
// single owner; cross-process coordination is not provided.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
	DriverNone   = "none"
)

// Open returns the backend selected by driver. DriverNone returns a nil KV,
// which callers treat as storage being unavailable.
func Open(driver, path string) (KV, error) {
	switch driver {
	case DriverSQLite, "":
		kv, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case DriverBolt:
		kv, err := NewBolt(path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case DriverMemory:
		return NewMemory(), nil
	case DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("db: unknown driver %q", driver)
	}
}
