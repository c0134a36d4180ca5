// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package cache is the keyed read-through/write-invalidate façade over
// an external key/value store. Keys embed the invocation target, the
// caller identity and a canonical digest of the arguments, so two
// callers never share an entry unless they would see the same rows.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/private/kvstore"
)

var (
	// Error is a cache façade error.
	Error = errs.Class("cache")

	mon = monkit.Package()
)

// DefaultTTL applies when an object declares caching without a time.
const DefaultTTL = 30 * time.Second

// Cache wraps a kvstore.Store with the gateway's key scheme.
type Cache struct {
	log   *zap.Logger
	store kvstore.Store
}

// New creates a façade over the given store.
func New(log *zap.Logger, store kvstore.Store) *Cache {
	return &Cache{log: log, store: store}
}

// DeriveKey builds "<object>-<method>-<md5 of urlNoMethod#username#json(args)>".
// For select the caller passes the primary-key values as args so
// identical ids share an entry regardless of body shape.
func DeriveKey(object, method, urlNoMethod, username string, args any) string {
	payload, err := json.Marshal(args)
	if err != nil {
		payload = []byte("null")
	}
	sum := md5.Sum([]byte(urlNoMethod + "#" + username + "#" + string(payload)))
	return object + "-" + method + "-" + hex.EncodeToString(sum[:])
}

// Get looks up a cached result. A miss, an expired entry and a cache
// failure all report !ok; failures are logged, never propagated, so a
// flaky cache degrades to re-reading the database.
func (c *Cache) Get(ctx context.Context, key string) (value any, ok bool) {
	defer mon.Task()(&ctx)(nil)

	raw, err := c.store.Get(ctx, kvstore.Key(key))
	if err != nil {
		if !kvstore.ErrKeyNotFound.Has(err) {
			c.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		c.log.Warn("cache entry is not json", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return value, true
}

// Put stores a result under key. A non-positive ttl falls back to
// DefaultTTL. Failures are logged only.
func (c *Cache) Put(ctx context.Context, key string, value any, ttl time.Duration) {
	defer mon.Task()(&ctx)(nil)

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache value is not serialisable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Put(ctx, kvstore.Key(key), raw, ttl); err != nil {
		c.log.Warn("cache put failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes the list- and find_one-cache prefixes of an
// object plus any specific single-row keys. Write paths call it so a
// read after the write never serves the pre-write value. find_one
// entries are keyed by arbitrary conditions, so the whole prefix goes;
// only select keys are addressable individually.
func (c *Cache) Invalidate(ctx context.Context, object string, singleKeys ...string) (err error) {
	defer mon.Task()(&ctx)(&err)

	var group errs.Group
	group.Add(c.store.DeletePrefix(ctx, kvstore.Key(object+"-query-")))
	group.Add(c.store.DeletePrefix(ctx, kvstore.Key(object+"-paged_query-")))
	group.Add(c.store.DeletePrefix(ctx, kvstore.Key(object+"-find_one-")))
	for _, key := range singleKeys {
		group.Add(c.store.Delete(ctx, kvstore.Key(key)))
	}
	if err := group.Err(); err != nil {
		return gerr.Backend.Wrap(Error.Wrap(err))
	}
	return nil
}

// InvalidateQuery removes the cached results of a named query.
func (c *Cache) InvalidateQuery(ctx context.Context, query string) (err error) {
	defer mon.Task()(&ctx)(&err)

	var group errs.Group
	group.Add(c.store.DeletePrefix(ctx, kvstore.Key(query+"-search-")))
	group.Add(c.store.DeletePrefix(ctx, kvstore.Key(query+"-paged_search-")))
	if err := group.Err(); err != nil {
		return gerr.Backend.Wrap(Error.Wrap(err))
	}
	return nil
}
