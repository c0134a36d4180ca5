// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package invoke

import (
	"context"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"

	"github.com/datagate/datagate/gateway/gerr"
)

var mon = monkit.Package()

// Invocation is the contract every backend implements: the relational
// object engine, the named-query engine and every plugin adapter.
type Invocation interface {
	InvokeReturnOne(ctx context.Context, ic *Context, uri *URI, args []any) (any, error)
	InvokeReturnVec(ctx context.Context, ic *Context, uri *URI, args []any) ([]any, error)
	InvokeReturnPage(ctx context.Context, ic *Context, uri *URI, args []any) (*Page, error)
}

// DirectQuerier runs ad-hoc SQL against a namespace's database,
// bypassing the declarative engine. Scripts reach it through the
// registry.
type DirectQuerier interface {
	DirectQuery(ctx context.Context, ic *Context, namespace, query string, args []any) ([]any, error)
}

// PluginResolver finds the plugin instance registered for a full URI
// prefix protocol://ns/name.
type PluginResolver interface {
	ResolvePlugin(schema, namespace, name string) (Invocation, bool)
}

// LangExtension is the scripting boundary: a script engine registered
// by file extension providing the three invocation shapes. The core
// never sees interpreter internals.
type LangExtension interface {
	ReturnOne(ctx context.Context, ic *Context, script string, args []any) (any, error)
	ReturnVec(ctx context.Context, ic *Context, script string, args []any) ([]any, error)
	ReturnPage(ctx context.Context, ic *Context, script string, args []any) (*Page, error)
}

// Registry maps schema names to invocation backends. The built-in
// object and query schemas are fixed; every other schema resolves
// through the plugin resolver. Backends register once at startup and
// the registry is immutable afterwards, so dispatch takes only a read
// lock.
type Registry struct {
	mu      sync.RWMutex
	object  Invocation
	query   Invocation
	direct  DirectQuerier
	plugins PluginResolver
	langs   map[string]LangExtension
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{langs: make(map[string]LangExtension)}
}

// RegisterObject installs the relational object engine.
func (r *Registry) RegisterObject(inv Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.object = inv
}

// RegisterQuery installs the named-query engine.
func (r *Registry) RegisterQuery(inv Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.query = inv
}

// RegisterDirect installs the ad-hoc SQL backend.
func (r *Registry) RegisterDirect(d DirectQuerier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct = d
}

// RegisterPlugins installs the plugin resolver.
func (r *Registry) RegisterPlugins(p PluginResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = p
}

// RegisterLang installs a script engine for a file extension.
func (r *Registry) RegisterLang(ext string, lang LangExtension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.langs[ext] = lang
}

// Lang looks up the script engine for a file extension.
func (r *Registry) Lang(ext string) (LangExtension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.langs[ext]
	return lang, ok
}

func (r *Registry) resolve(uri *URI) (Invocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch uri.Schema {
	case SchemaObject:
		if r.object == nil {
			return nil, gerr.NotFound.New("object engine not registered")
		}
		return r.object, nil
	case SchemaQuery:
		if r.query == nil {
			return nil, gerr.NotFound.New("query engine not registered")
		}
		return r.query, nil
	default:
		if r.plugins != nil {
			if inv, ok := r.plugins.ResolvePlugin(uri.Schema, uri.Namespace, uri.Object); ok {
				return inv, nil
			}
		}
		return nil, gerr.NotFound.New("no backend for %q", uri.URL())
	}
}

// InvokeReturnOne dispatches a URI expected to return at most one
// document.
func (r *Registry) InvokeReturnOne(ctx context.Context, ic *Context, uriText string, args []any) (_ any, err error) {
	defer mon.Task()(&ctx)(&err)
	uri, err := ParseURI(uriText)
	if err != nil {
		return nil, err
	}
	inv, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	return inv.InvokeReturnOne(ctx, ic, uri, args)
}

// InvokeReturnVec dispatches a URI expected to return a vector.
func (r *Registry) InvokeReturnVec(ctx context.Context, ic *Context, uriText string, args []any) (_ []any, err error) {
	defer mon.Task()(&ctx)(&err)
	uri, err := ParseURI(uriText)
	if err != nil {
		return nil, err
	}
	inv, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	return inv.InvokeReturnVec(ctx, ic, uri, args)
}

// InvokeReturnPage dispatches a URI expected to return a page.
func (r *Registry) InvokeReturnPage(ctx context.Context, ic *Context, uriText string, args []any) (_ *Page, err error) {
	defer mon.Task()(&ctx)(&err)
	uri, err := ParseURI(uriText)
	if err != nil {
		return nil, err
	}
	inv, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	return inv.InvokeReturnPage(ctx, ic, uri, args)
}

// InvokeDirectQuery runs ad-hoc SQL inside a script against the given
// namespace, sharing the context's transaction when one is pinned.
func (r *Registry) InvokeDirectQuery(ctx context.Context, ic *Context, namespace, query string, args []any) (_ []any, err error) {
	defer mon.Task()(&ctx)(&err)
	r.mu.RLock()
	direct := r.direct
	r.mu.RUnlock()
	if direct == nil {
		return nil, gerr.NotFound.New("direct query backend not registered")
	}
	return direct.DirectQuery(ctx, ic, namespace, query, args)
}
