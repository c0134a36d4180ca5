// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package rdb is the relational engine: it compiles declarative object
// and query definitions into SQL and executes them with cascade,
// permission, desensitisation and cache semantics.
package rdb

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	// database drivers selected by namespace db_url scheme
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/datagate/datagate/gateway/gerr"
)

var (
	// Error is a relational engine error.
	Error = errs.Class("rdb")

	mon = monkit.Package()
)

// pooledDB pairs an open pool with its driver, which decides the
// placeholder dialect.
type pooledDB struct {
	db     *sql.DB
	driver string
}

// Pools owns one database pool per namespace.
type Pools struct {
	mu    sync.RWMutex
	items map[string]pooledDB
}

// NewPools creates an empty pool set.
func NewPools() *Pools {
	return &Pools{items: make(map[string]pooledDB)}
}

// driverFor maps a namespace db_url onto a registered driver and its
// DSN. sqlite URLs are `sqlite://<path>`; postgres URLs pass through.
func driverFor(dbURL string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return "postgres", dbURL, nil
	case strings.HasPrefix(dbURL, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(dbURL, "sqlite://"), nil
	case strings.HasPrefix(dbURL, "file:"):
		return "sqlite3", dbURL, nil
	default:
		return "", "", Error.New("unsupported db url %q", dbURL)
	}
}

// Open opens (or replaces) the pool for a namespace and verifies
// connectivity.
func (pools *Pools) Open(ctx context.Context, namespace, dbURL string) (err error) {
	defer mon.Task()(&ctx)(&err)

	driver, dsn, err := driverFor(dbURL)
	if err != nil {
		return err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return gerr.Backend.Wrap(Error.Wrap(err))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return gerr.Backend.Wrap(Error.New("ping %q: %v", namespace, err))
	}

	pools.mu.Lock()
	old, had := pools.items[namespace]
	pools.items[namespace] = pooledDB{db: db, driver: driver}
	pools.mu.Unlock()

	if had {
		_ = old.db.Close()
	}
	return nil
}

// Attach registers an already-open pool, used by tests.
func (pools *Pools) Attach(namespace string, db *sql.DB, driver string) {
	pools.mu.Lock()
	defer pools.mu.Unlock()
	pools.items[namespace] = pooledDB{db: db, driver: driver}
}

// DB returns the pool for a namespace.
func (pools *Pools) DB(namespace string) (*sql.DB, error) {
	pools.mu.RLock()
	defer pools.mu.RUnlock()
	item, ok := pools.items[namespace]
	if !ok {
		return nil, gerr.NotFound.New("no database pool for namespace %q", namespace)
	}
	return item.db, nil
}

// Rebind rewrites ?-placeholders into the namespace driver's dialect.
func (pools *Pools) Rebind(namespace, query string) string {
	pools.mu.RLock()
	item := pools.items[namespace]
	pools.mu.RUnlock()

	if item.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Remove closes and forgets the pool for a namespace.
func (pools *Pools) Remove(namespace string) error {
	pools.mu.Lock()
	item, ok := pools.items[namespace]
	delete(pools.items, namespace)
	pools.mu.Unlock()

	if !ok {
		return nil
	}
	return Error.Wrap(item.db.Close())
}

// Close closes every pool.
func (pools *Pools) Close() error {
	pools.mu.Lock()
	defer pools.mu.Unlock()

	var group errs.Group
	for _, item := range pools.items {
		group.Add(item.db.Close())
	}
	pools.items = make(map[string]pooledDB)
	return Error.Wrap(group.Err())
}
