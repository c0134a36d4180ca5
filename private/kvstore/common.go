// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package kvstore declares the key/value store interface the cache
// façade runs against.
package kvstore

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

var (
	// ErrKeyNotFound is returned when a key is absent from the store.
	ErrKeyNotFound = errs.Class("key not found")

	// ErrEmptyKey is returned when an empty key is used in Get or Put.
	ErrEmptyKey = errs.Class("empty key")
)

// Key is the type for the keys in a `Store`.
type Key []byte

// Value is the type for the values in a `Store`.
type Value []byte

// Store describes TTL-capable key/value stores like redis.
type Store interface {
	// Put adds a value to the store. A zero TTL means no expiry.
	Put(ctx context.Context, key Key, value Value, ttl time.Duration) error
	// Get gets a value from the store.
	Get(ctx context.Context, key Key) (Value, error)
	// Delete deletes key and its value.
	Delete(ctx context.Context, key Key) error
	// DeletePrefix deletes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix Key) error
	// Range iterates over all items in unspecified order.
	// The Key and Value are valid only for the duration of the callback.
	Range(ctx context.Context, fn func(context.Context, Key, Value) error) error
	// Close closes the store.
	Close() error
}

// IsZero returns true if the value struct is a zero value.
func (value Value) IsZero() bool {
	return len(value) == 0
}

// IsZero returns true if the key struct is a zero value.
func (key Key) IsZero() bool {
	return len(key) == 0
}

// String implements the Stringer interface.
func (key Key) String() string { return string(key) }
