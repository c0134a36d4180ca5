// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package invoke contains the URI-addressable invocation surface: the
// invocation URI, the per-call context and the schema registry that
// dispatches a URI to the right backend.
package invoke

import (
	"strings"

	"github.com/datagate/datagate/gateway/gerr"
)

// Reserved schemas handled by the relational engine. Every other schema
// is routed to a plugin registered under that protocol.
const (
	SchemaObject = "object"
	SchemaQuery  = "query"
)

// Methods on stored objects and named queries.
const (
	MethodInsert      = "insert"
	MethodUpdate      = "update"
	MethodUpsert      = "upsert"
	MethodSaveBatch   = "save_batch"
	MethodDelete      = "delete"
	MethodDeleteBy    = "delete_by"
	MethodUpdateBy    = "update_by"
	MethodSelect      = "select"
	MethodFindOne     = "find_one"
	MethodQuery       = "query"
	MethodPagedQuery  = "paged_query"
	MethodSearch      = "search"
	MethodPagedSearch = "paged_search"
)

var writeMethods = map[string]bool{
	MethodInsert:    true,
	MethodUpdate:    true,
	MethodUpsert:    true,
	MethodSaveBatch: true,
	MethodDelete:    true,
	MethodDeleteBy:  true,
	MethodUpdateBy:  true,
}

// URI is the canonical address of an invocable entity:
// schema://namespace/object[#method][?query].
type URI struct {
	Schema    string
	Namespace string
	Object    string
	Method    string
	Query     string
}

// ParseURI parses the textual form of an invocation URI.
func ParseURI(text string) (*URI, error) {
	schema, rest, ok := cut(text, "://")
	if !ok || schema == "" {
		return nil, gerr.Malformed.New("invocation uri %q: missing schema", text)
	}
	var query string
	if i := strings.Index(rest, "?"); i >= 0 {
		rest, query = rest[:i], rest[i+1:]
	}
	var method string
	if i := strings.Index(rest, "#"); i >= 0 {
		rest, method = rest[:i], rest[i+1:]
	}
	ns, object, ok := cut(rest, "/")
	if !ok || ns == "" || object == "" {
		return nil, gerr.Malformed.New("invocation uri %q: expected schema://namespace/object", text)
	}
	if strings.Contains(object, "/") {
		return nil, gerr.Malformed.New("invocation uri %q: object contains '/'", text)
	}
	return &URI{Schema: schema, Namespace: ns, Object: object, Method: method, Query: query}, nil
}

func cut(s, sep string) (before, after string, found bool) {
	i := strings.Index(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// URL formats the URI without its query suffix.
func (u *URI) URL() string {
	var b strings.Builder
	b.WriteString(u.Schema)
	b.WriteString("://")
	b.WriteString(u.Namespace)
	b.WriteString("/")
	b.WriteString(u.Object)
	if u.Method != "" {
		b.WriteString("#")
		b.WriteString(u.Method)
	}
	return b.String()
}

// URLNoMethod formats the URI without method and query suffixes.
func (u *URI) URLNoMethod() string {
	return u.Schema + "://" + u.Namespace + "/" + u.Object
}

// String formats the full URI including the query suffix.
func (u *URI) String() string {
	s := u.URL()
	if u.Query != "" {
		s += "?" + u.Query
	}
	return s
}

// IsWriteMethod reports whether the URI's method mutates data.
func (u *URI) IsWriteMethod() bool {
	return writeMethods[u.Method]
}
