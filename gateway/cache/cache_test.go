// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/datagate/datagate/gateway/cache"
	"github.com/datagate/datagate/private/kvstore/teststore"
)

func TestDeriveKeyIsStable(t *testing.T) {
	a := cache.DeriveKey("user", "query", "object://crm/user", "alice", []any{map[string]any{"x": 1}})
	b := cache.DeriveKey("user", "query", "object://crm/user", "alice", []any{map[string]any{"x": 1}})
	require.Equal(t, a, b)
	require.Regexp(t, `^user-query-[0-9a-f]{32}$`, a)

	// Any change in caller, target or arguments yields a different entry.
	require.NotEqual(t, a, cache.DeriveKey("user", "query", "object://crm/user", "bob", []any{map[string]any{"x": 1}}))
	require.NotEqual(t, a, cache.DeriveKey("user", "query", "object://crm/user", "alice", []any{map[string]any{"x": 2}}))
	require.NotEqual(t, a, cache.DeriveKey("user", "paged_query", "object://crm/user", "alice", []any{map[string]any{"x": 1}}))
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := cache.New(zaptest.NewLogger(t), teststore.New())

	key := cache.DeriveKey("user", "select", "object://crm/user", "alice", []any{int64(7)})

	_, ok := c.Get(ctx, key)
	require.False(t, ok)

	c.Put(ctx, key, map[string]any{"id": 7, "name": "alice"}, time.Minute)

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	doc, isMap := got.(map[string]any)
	require.True(t, isMap)
	require.Equal(t, "alice", doc["name"])
	require.Equal(t, float64(7), doc["id"]) // json round-trip widens to float64
}

func TestInvalidateClearsListAndRowEntries(t *testing.T) {
	ctx := context.Background()
	c := cache.New(zaptest.NewLogger(t), teststore.New())

	queryKey := cache.DeriveKey("user", "query", "object://crm/user", "alice", nil)
	pagedKey := cache.DeriveKey("user", "paged_query", "object://crm/user", "alice", nil)
	findKey := cache.DeriveKey("user", "find_one", "object://crm/user", "alice",
		[]any{map[string]any{"and": []any{map[string]any{"field": "name", "op": "=", "value": "alice"}}}})
	rowKey := cache.DeriveKey("user", "select", "object://crm/user", "alice", []any{int64(7)})
	otherKey := cache.DeriveKey("order", "query", "object://crm/order", "alice", nil)

	c.Put(ctx, queryKey, []any{"q"}, time.Minute)
	c.Put(ctx, pagedKey, []any{"p"}, time.Minute)
	c.Put(ctx, findKey, map[string]any{"id": 7}, time.Minute)
	c.Put(ctx, rowKey, map[string]any{"id": 7}, time.Minute)
	c.Put(ctx, otherKey, []any{"other"}, time.Minute)

	require.NoError(t, c.Invalidate(ctx, "user", rowKey))

	_, ok := c.Get(ctx, queryKey)
	require.False(t, ok)
	_, ok = c.Get(ctx, pagedKey)
	require.False(t, ok)
	// find_one entries are keyed by arbitrary conditions, so writes drop
	// the whole prefix
	_, ok = c.Get(ctx, findKey)
	require.False(t, ok)
	_, ok = c.Get(ctx, rowKey)
	require.False(t, ok)

	_, ok = c.Get(ctx, otherKey)
	require.True(t, ok)
}

func TestInvalidateQuery(t *testing.T) {
	ctx := context.Background()
	c := cache.New(zaptest.NewLogger(t), teststore.New())

	searchKey := cache.DeriveKey("top_users", "search", "query://crm/top_users", "alice", nil)
	pagedKey := cache.DeriveKey("top_users", "paged_search", "query://crm/top_users", "alice", nil)

	c.Put(ctx, searchKey, []any{1}, time.Minute)
	c.Put(ctx, pagedKey, []any{2}, time.Minute)

	require.NoError(t, c.InvalidateQuery(ctx, "top_users"))

	_, ok := c.Get(ctx, searchKey)
	require.False(t, ok)
	_, ok = c.Get(ctx, pagedKey)
	require.False(t, ok)
}
