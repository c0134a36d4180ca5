// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package redis implements kvstore.Store on a redis server.
package redis

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/datagate/datagate/private/kvstore"
)

var (
	// Error is a redis error.
	Error = errs.Class("redis")

	mon = monkit.Package()
)

// deleteBatchSize bounds one DEL issued while deleting a prefix.
const deleteBatchSize = 100

// Client is the entrypoint into redis.
type Client struct {
	db *redis.Client
}

// OpenClient returns a configured Client instance, verifying a
// successful connection to redis.
func OpenClient(ctx context.Context, address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := client.db.Ping(ctx).Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}

	return client, nil
}

// OpenClientFrom returns a configured Client instance from a redis://
// address, verifying a successful connection to redis.
func OpenClientFrom(ctx context.Context, address string) (*Client, error) {
	redisurl, err := url.Parse(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if redisurl.Scheme != "redis" {
		return nil, Error.New("not a redis:// formatted address")
	}

	q := redisurl.Query()

	db := 0
	if dbs := q.Get("db"); dbs != "" {
		db, err = strconv.Atoi(dbs)
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}

	password := q.Get("password")
	if user := redisurl.User; user != nil {
		if p, ok := user.Password(); ok {
			password = p
		}
	}

	return OpenClient(ctx, redisurl.Host, password, db)
}

// Get looks up the provided key from redis returning either an error or the result.
func (client *Client) Get(ctx context.Context, key kvstore.Key) (_ kvstore.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}
	value, err := client.db.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.New("get error: %v", err)
	}
	return value, nil
}

// Put adds a value to the provided key in redis with the given TTL,
// returning an error on failure.
func (client *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	err = client.db.Set(ctx, key.String(), []byte(value), ttl).Err()
	if err != nil {
		return Error.New("put error: %v", err)
	}
	return nil
}

// Delete deletes a key/value pair from redis, for a given the key.
func (client *Client) Delete(ctx context.Context, key kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	err = client.db.Del(ctx, key.String()).Err()
	if err != nil {
		return Error.New("delete error: %v", err)
	}
	return nil
}

// DeletePrefix scans for keys matching prefix* and deletes them in
// batches. Concurrent writers may add keys behind the scan cursor; the
// TTL bounds any staleness that slips through.
func (client *Client) DeletePrefix(ctx context.Context, prefix kvstore.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if prefix.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	it := client.db.Scan(ctx, 0, prefix.String()+"*", 0).Iterator()

	var batch []string
	for it.Next(ctx) {
		batch = append(batch, it.Val())
		if len(batch) >= deleteBatchSize {
			if err := client.db.Del(ctx, batch...).Err(); err != nil {
				return Error.New("delete prefix error: %v", err)
			}
			batch = batch[:0]
		}
	}
	if err := it.Err(); err != nil {
		return Error.New("delete prefix scan error: %v", err)
	}
	if len(batch) > 0 {
		if err := client.db.Del(ctx, batch...).Err(); err != nil {
			return Error.New("delete prefix error: %v", err)
		}
	}
	return nil
}

// Range iterates over all items in unspecified order.
func (client *Client) Range(ctx context.Context, fn func(context.Context, kvstore.Key, kvstore.Value) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	it := client.db.Scan(ctx, 0, "", 0).Iterator()

	var lastKey string
	var lastOk bool
	for it.Next(ctx) {
		key := it.Val()
		// redis may return duplicates
		if lastOk && key == lastKey {
			continue
		}
		lastKey, lastOk = key, true

		value, err := client.Get(ctx, kvstore.Key(key))
		if err != nil {
			// expired between scan and get
			if kvstore.ErrKeyNotFound.Has(err) {
				continue
			}
			return Error.Wrap(err)
		}

		if err := fn(ctx, kvstore.Key(key), value); err != nil {
			return err
		}
	}

	return Error.Wrap(it.Err())
}

// Close closes a redis client.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
