// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package invoke

import (
	"context"
	"database/sql"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/errs"
)

// HookHandleURI is the context key under which the hook pipeline stores
// the full URI of the invocation being handled.
const HookHandleURI = "HOOK_HANDLE_URI"

// Context is the per-call scratch area. It carries the caller's JWT
// claims, a typed key/value map, a failure flag, and the per-namespace
// pooled connections and transactions pinned to this call. A Context
// lives for one HTTP request or one hook/scheduler invocation and must
// not be shared across goroutines except through Sub.
type Context struct {
	mu     sync.Mutex
	claims jwt.MapClaims
	values map[string]Value
	failed bool
	conns  map[string]*sql.Conn
	txs    map[string]*sql.Tx
}

// NewContext builds a context for the given identity claims. Nil claims
// denote an anonymous caller.
func NewContext(claims jwt.MapClaims) *Context {
	return &Context{
		claims: claims,
		values: make(map[string]Value),
		conns:  make(map[string]*sql.Conn),
		txs:    make(map[string]*sql.Tx),
	}
}

// Sub creates a fresh context sharing only the identity claims. Event
// hooks run on a Sub so they never observe or pin the initiating call's
// transactions.
func (c *Context) Sub() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NewContext(c.claims)
}

// Claims returns the caller's JWT claims, possibly nil.
func (c *Context) Claims() jwt.MapClaims {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims
}

// UserID returns the "id" claim as a string, or empty.
func (c *Context) UserID() string { return c.stringClaim("id") }

// UserName returns the "name" claim as a string, or empty.
func (c *Context) UserName() string { return c.stringClaim("name") }

// Roles returns the "roles" claim.
func (c *Context) Roles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.claims["roles"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (c *Context) stringClaim(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims == nil {
		return ""
	}
	if s, ok := c.claims[key].(string); ok {
		return s
	}
	return ""
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Insert stores a value under key, replacing any previous one.
func (c *Context) Insert(key string, value Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// SetFailed marks the call as failed; the outermost caller rolls back
// every transaction in the context.
func (c *Context) SetFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = true
}

// Failed reports the failure flag.
func (c *Context) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Tx returns the transaction pinned for a namespace, if any.
func (c *Context) Tx(namespace string) (*sql.Tx, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[namespace]
	return tx, ok
}

// SetTx pins a transaction for a namespace. Nested invocations against
// the same namespace reuse it; the outermost caller commits or rolls
// back.
func (c *Context) SetTx(namespace string, tx *sql.Tx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs[namespace] = tx
}

// Conn returns the pooled connection pinned for a namespace, if any.
func (c *Context) Conn(namespace string) (*sql.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[namespace]
	return conn, ok
}

// SetConn pins a pooled connection for a namespace.
func (c *Context) SetConn(namespace string, conn *sql.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[namespace] = conn
}

// CommitAll commits every transaction in the context. Transactions are
// per-namespace; either all commit or the combined error reports the
// ones that did not.
func (c *Context) CommitAll() error {
	c.mu.Lock()
	txs := c.txs
	c.txs = make(map[string]*sql.Tx)
	c.mu.Unlock()

	var group errs.Group
	for ns, tx := range txs {
		if err := tx.Commit(); err != nil {
			group.Add(errs.New("commit %q: %v", ns, err))
		}
	}
	return group.Err()
}

// RollbackAll rolls back every transaction in the context.
func (c *Context) RollbackAll() error {
	c.mu.Lock()
	txs := c.txs
	c.txs = make(map[string]*sql.Tx)
	c.mu.Unlock()

	var group errs.Group
	for ns, tx := range txs {
		if err := tx.Rollback(); err != nil {
			group.Add(errs.New("rollback %q: %v", ns, err))
		}
	}
	return group.Err()
}

// Close releases every pinned pooled connection back to its pool.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*sql.Conn)
	c.mu.Unlock()

	var group errs.Group
	for _, conn := range conns {
		group.Add(conn.Close())
	}
	return group.Err()
}
