// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/datagate/datagate/private/kvstore"
)

func openTestClient(t *testing.T) *Client {
	t.Helper()

	server := miniredis.RunT(t)

	client, err := OpenClient(context.Background(), server.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })

	return client
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	key := kvstore.Key("user-select-abc")

	_, err := client.Get(ctx, key)
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	require.NoError(t, client.Put(ctx, key, kvstore.Value(`{"id":1}`), time.Minute))

	value, err := client.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, kvstore.Value(`{"id":1}`), value)

	require.NoError(t, client.Delete(ctx, key))

	_, err = client.Get(ctx, key)
	require.True(t, kvstore.ErrKeyNotFound.Has(err))
}

func TestEmptyKey(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	_, err := client.Get(ctx, nil)
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	err = client.Put(ctx, nil, kvstore.Value("x"), 0)
	require.True(t, kvstore.ErrEmptyKey.Has(err))
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	keys := []string{
		"user-query-1",
		"user-query-2",
		"user-paged_query-1",
		"order-query-1",
	}
	for _, key := range keys {
		require.NoError(t, client.Put(ctx, kvstore.Key(key), kvstore.Value("v"), time.Minute))
	}

	require.NoError(t, client.DeletePrefix(ctx, kvstore.Key("user-query-")))

	_, err := client.Get(ctx, kvstore.Key("user-query-1"))
	require.True(t, kvstore.ErrKeyNotFound.Has(err))
	_, err = client.Get(ctx, kvstore.Key("user-query-2"))
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	_, err = client.Get(ctx, kvstore.Key("user-paged_query-1"))
	require.NoError(t, err)
	_, err = client.Get(ctx, kvstore.Key("order-query-1"))
	require.NoError(t, err)
}

func TestRange(t *testing.T) {
	ctx := context.Background()
	client := openTestClient(t)

	require.NoError(t, client.Put(ctx, kvstore.Key("a"), kvstore.Value("1"), 0))
	require.NoError(t, client.Put(ctx, kvstore.Key("b"), kvstore.Value("2"), 0))

	seen := map[string]string{}
	err := client.Range(ctx, func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		seen[key.String()] = string(value)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}

func TestInvalidConnection(t *testing.T) {
	_, err := OpenClient(context.Background(), "127.0.0.1:0", "", 0)
	require.Error(t, err)
}
