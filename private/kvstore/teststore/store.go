// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package teststore implements an in-memory kvstore.Store for tests.
package teststore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/datagate/datagate/private/kvstore"
)

type entry struct {
	value   kvstore.Value
	expires time.Time
}

// Store is an in-memory Store with TTL support.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Get implements kvstore.Store.
func (store *Store) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	e, ok := store.entries[key.String()]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		delete(store.entries, key.String())
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	return append(kvstore.Value(nil), e.value...), nil
}

// Put implements kvstore.Store.
func (store *Store) Put(ctx context.Context, key kvstore.Key, value kvstore.Value, ttl time.Duration) error {
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	e := entry{value: append(kvstore.Value(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	store.entries[key.String()] = e
	return nil
}

// Delete implements kvstore.Store.
func (store *Store) Delete(ctx context.Context, key kvstore.Key) error {
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.entries, key.String())
	return nil
}

// DeletePrefix implements kvstore.Store.
func (store *Store) DeletePrefix(ctx context.Context, prefix kvstore.Key) error {
	if prefix.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for key := range store.entries {
		if strings.HasPrefix(key, prefix.String()) {
			delete(store.entries, key)
		}
	}
	return nil
}

// Range implements kvstore.Store.
func (store *Store) Range(ctx context.Context, fn func(context.Context, kvstore.Key, kvstore.Value) error) error {
	store.mu.Lock()
	snapshot := make(map[string]kvstore.Value, len(store.entries))
	for key, e := range store.entries {
		if !e.expires.IsZero() && time.Now().After(e.expires) {
			continue
		}
		snapshot[key] = append(kvstore.Value(nil), e.value...)
	}
	store.mu.Unlock()

	for key, value := range snapshot {
		if err := fn(ctx, kvstore.Key(key), value); err != nil {
			return err
		}
	}
	return nil
}

// Close implements kvstore.Store.
func (store *Store) Close() error { return nil }
