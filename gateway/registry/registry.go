// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package registry owns the loaded namespace configurations and their
// plugin instances. Readers take an immutable snapshot from an atomic
// pointer; writers clone, mutate and swap, so request paths never hold
// a lock across a database call.
package registry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
	"github.com/datagate/datagate/gateway/plugin"
)

// Error is a namespace registry error.
var Error = errs.Class("registry")

// snapshot is one immutable generation of the registry.
type snapshot struct {
	namespaces map[string]*model.Namespace
	plugins    map[string]plugin.Plugin
}

// DBPools keeps the per-namespace database pools in step with the
// registry; *rdb.Pools implements it. Without one set, namespaces are
// registered without opening a pool.
type DBPools interface {
	Open(ctx context.Context, namespace, dbURL string) error
	Remove(namespace string) error
}

// Registry is the process-wide namespace map.
type Registry struct {
	log        *zap.Logger
	dir        string
	installers *plugin.Installers
	pools      DBPools

	mu      sync.Mutex // serialises writers
	current atomic.Pointer[snapshot]
}

// New creates an empty registry persisting into dir.
func New(log *zap.Logger, dir string, installers *plugin.Installers) *Registry {
	r := &Registry{log: log, dir: dir, installers: installers}
	r.current.Store(&snapshot{
		namespaces: map[string]*model.Namespace{},
		plugins:    map[string]plugin.Plugin{},
	})
	return r
}

// SetPools attaches the database pool set. Set it before LoadAll so
// loaded and hot-added namespaces alike get a pool.
func (r *Registry) SetPools(pools DBPools) { r.pools = pools }

// openPool opens the namespace's database pool when pools are attached.
func (r *Registry) openPool(ctx context.Context, ns *model.Namespace) error {
	if r.pools == nil || ns.DBURL == "" {
		return nil
	}
	return r.pools.Open(ctx, ns.Name, ns.DBURL)
}

// Dir returns the model directory the registry persists into.
func (r *Registry) Dir() string { return r.dir }

func pluginKey(protocol, namespace, name string) string {
	return protocol + "://" + namespace + "/" + name
}

// Namespace returns the current configuration snapshot of a namespace.
func (r *Registry) Namespace(name string) (*model.Namespace, bool) {
	ns, ok := r.current.Load().namespaces[name]
	return ns, ok
}

// ResolvePlugin finds the adapter instance for schema://namespace/name.
func (r *Registry) ResolvePlugin(schema, namespace, name string) (invoke.Invocation, bool) {
	p, ok := r.current.Load().plugins[pluginKey(schema, namespace, name)]
	return p, ok
}

// Plugin returns the adapter instance for schema://namespace/name with
// its full interface.
func (r *Registry) Plugin(schema, namespace, name string) (plugin.Plugin, bool) {
	p, ok := r.current.Load().plugins[pluginKey(schema, namespace, name)]
	return p, ok
}

// Namespaces lists the loaded namespaces sorted by name.
func (r *Registry) Namespaces() []*model.Namespace {
	snap := r.current.Load()
	out := make([]*model.Namespace, 0, len(snap.namespaces))
	for _, ns := range snap.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FullResources lists every addressable URI prefix exactly once.
func (r *Registry) FullResources() []string {
	snap := r.current.Load()
	seen := map[string]bool{}
	var out []string
	add := func(url string) {
		if !seen[url] {
			seen[url] = true
			out = append(out, url)
		}
	}
	for _, ns := range snap.namespaces {
		for _, obj := range ns.Objects {
			add(invoke.SchemaObject + "://" + ns.Name + "/" + obj.Name)
		}
		for _, q := range ns.Querys {
			add(invoke.SchemaQuery + "://" + ns.Name + "/" + q.Name)
		}
		for _, p := range ns.Plugins {
			add(p.Protocol + "://" + ns.Name + "/" + p.Name)
		}
	}
	sort.Strings(out)
	return out
}

// LoadAll parses every namespace file in the model directory, installs
// the declared plugins and opens the database pools.
func (r *Registry) LoadAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(r.dir, "*.toml"))
	if err != nil {
		return Error.Wrap(err)
	}
	sort.Strings(matches)

	next := &snapshot{
		namespaces: map[string]*model.Namespace{},
		plugins:    map[string]plugin.Plugin{},
	}
	for _, path := range matches {
		ns, err := model.ParseFile(path)
		if err != nil {
			return err
		}
		if _, dup := next.namespaces[ns.Name]; dup {
			return Error.New("namespace %q declared twice in %q", ns.Name, r.dir)
		}
		next.namespaces[ns.Name] = ns
		if err := r.installPlugins(next, ns); err != nil {
			return err
		}
		if err := r.openPool(ctx, ns); err != nil {
			return err
		}
	}
	r.current.Store(next)
	r.log.Info("namespaces loaded", zap.Int("count", len(next.namespaces)), zap.String("dir", r.dir))
	return nil
}

// installPlugins instantiates the namespace's declared adapters into
// the snapshot being built.
func (r *Registry) installPlugins(snap *snapshot, ns *model.Namespace) error {
	for _, decl := range ns.Plugins {
		installer, ok := r.installers.Lookup(decl.Protocol)
		if !ok {
			return gerr.NotFound.New("no installer for protocol %q", decl.Protocol)
		}
		instance, err := installer(r.log.Named(decl.Protocol), ns.Name, decl.Name, r.pluginConfigPath(ns.Name, decl))
		if err != nil {
			return Error.New("install %q for namespace %q: %v", decl.Name, ns.Name, err)
		}
		snap.plugins[pluginKey(decl.Protocol, ns.Name, decl.Name)] = instance
	}
	return nil
}

func (r *Registry) pluginConfigPath(namespace string, decl *model.Plugin) string {
	return filepath.Join(r.dir, namespace, decl.Config)
}

// Add creates or replaces a namespace, installs its plugins, opens its
// database pool and persists it. Plugins of a replaced namespace are
// closed first.
func (r *Registry) Add(ctx context.Context, ns *model.Namespace) error {
	if err := ns.Validate(); err != nil {
		return gerr.Validation.Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cloneSnapshot()
	if old, ok := next.namespaces[ns.Name]; ok {
		r.dropPlugins(next, old)
	}
	added := ns.Clone()
	next.namespaces[ns.Name] = added
	if err := r.installPlugins(next, added); err != nil {
		return err
	}
	if err := r.openPool(ctx, added); err != nil {
		return err
	}
	if err := added.SaveFile(r.dir); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// Remove drops a namespace: its plugins are closed, its database pool
// released, the namespace directory pruned with everything in it, and
// the TOML file removed.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cloneSnapshot()
	ns, ok := next.namespaces[name]
	if !ok {
		return gerr.NotFound.New("namespace %q", name)
	}
	r.dropPlugins(next, ns)
	delete(next.namespaces, name)

	var group errs.Group
	if r.pools != nil {
		group.Add(r.pools.Remove(name))
	}
	group.Add(os.RemoveAll(filepath.Join(r.dir, name)))
	file := ns.FileName
	if file == "" {
		file = ns.Name
	}
	group.Add(removeIfExists(filepath.Join(r.dir, file+".toml")))

	r.current.Store(next)
	return Error.Wrap(group.Err())
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AddObject creates or replaces a stored object inside a namespace.
func (r *Registry) AddObject(namespace string, obj *model.Object) error {
	return r.mutate(namespace, func(ns *model.Namespace) error {
		ns.Objects = replaceOrAppend(ns.Objects, obj, func(o *model.Object) string { return o.Name })
		return nil
	})
}

// DeleteObject removes a stored object from a namespace.
func (r *Registry) DeleteObject(namespace, name string) error {
	return r.mutate(namespace, func(ns *model.Namespace) error {
		var kept []*model.Object
		found := false
		for _, o := range ns.Objects {
			if o.Name == name {
				found = true
				continue
			}
			kept = append(kept, o)
		}
		if !found {
			return gerr.NotFound.New("object %q in namespace %q", name, namespace)
		}
		ns.Objects = kept
		return nil
	})
}

// AddQuery creates or replaces a named query inside a namespace.
func (r *Registry) AddQuery(namespace string, q *model.Query) error {
	return r.mutate(namespace, func(ns *model.Namespace) error {
		ns.Querys = replaceOrAppend(ns.Querys, q, func(q *model.Query) string { return q.Name })
		return nil
	})
}

// DeleteQuery removes a named query from a namespace.
func (r *Registry) DeleteQuery(namespace, name string) error {
	return r.mutate(namespace, func(ns *model.Namespace) error {
		var kept []*model.Query
		found := false
		for _, q := range ns.Querys {
			if q.Name == name {
				found = true
				continue
			}
			kept = append(kept, q)
		}
		if !found {
			return gerr.NotFound.New("query %q in namespace %q", name, namespace)
		}
		ns.Querys = kept
		return nil
	})
}

// AddPlugin declares a plugin binding, installs the adapter and
// persists the namespace.
func (r *Registry) AddPlugin(namespace string, decl *model.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cloneSnapshot()
	ns, ok := next.namespaces[namespace]
	if !ok {
		return gerr.NotFound.New("namespace %q", namespace)
	}
	installer, ok := r.installers.Lookup(decl.Protocol)
	if !ok {
		return gerr.NotFound.New("no installer for protocol %q", decl.Protocol)
	}
	instance, err := installer(r.log.Named(decl.Protocol), namespace, decl.Name, r.pluginConfigPath(namespace, decl))
	if err != nil {
		return Error.New("install %q for namespace %q: %v", decl.Name, namespace, err)
	}

	key := pluginKey(decl.Protocol, namespace, decl.Name)
	if old, ok := next.plugins[key]; ok {
		if err := old.Close(); err != nil {
			r.log.Warn("plugin close failed", zap.String("plugin", key), zap.Error(err))
		}
	}
	next.plugins[key] = instance

	changed := ns.Clone()
	changed.Plugins = replaceOrAppend(changed.Plugins, decl, func(p *model.Plugin) string { return p.Name })
	if err := changed.Validate(); err != nil {
		return gerr.Validation.Wrap(err)
	}
	next.namespaces[namespace] = changed
	if err := changed.SaveFile(r.dir); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// DeletePlugin removes a plugin binding, closes the adapter and deletes
// its config file.
func (r *Registry) DeletePlugin(namespace, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cloneSnapshot()
	ns, ok := next.namespaces[namespace]
	if !ok {
		return gerr.NotFound.New("namespace %q", namespace)
	}
	var decl *model.Plugin
	for _, p := range ns.Plugins {
		if p.Name == name {
			decl = p
			break
		}
	}
	if decl == nil {
		return gerr.NotFound.New("plugin %q in namespace %q", name, namespace)
	}

	key := pluginKey(decl.Protocol, namespace, name)
	if instance, ok := next.plugins[key]; ok {
		if err := instance.Close(); err != nil {
			r.log.Warn("plugin close failed", zap.String("plugin", key), zap.Error(err))
		}
		delete(next.plugins, key)
	}

	changed := ns.Clone()
	var kept []*model.Plugin
	for _, p := range changed.Plugins {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	changed.Plugins = kept
	next.namespaces[namespace] = changed
	if err := changed.SaveFile(r.dir); err != nil {
		return err
	}
	r.current.Store(next)
	return Error.Wrap(removeIfExists(r.pluginConfigPath(namespace, decl)))
}

// Save persists one namespace to the model directory.
func (r *Registry) Save(namespace string) error {
	ns, ok := r.Namespace(namespace)
	if !ok {
		return gerr.NotFound.New("namespace %q", namespace)
	}
	return ns.SaveFile(r.dir)
}

// SaveAll persists every namespace to the model directory.
func (r *Registry) SaveAll() error {
	var group errs.Group
	for _, ns := range r.Namespaces() {
		group.Add(ns.SaveFile(r.dir))
	}
	return Error.Wrap(group.Err())
}

// Close closes every plugin instance.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	var group errs.Group
	for _, instance := range snap.plugins {
		group.Add(instance.Close())
	}
	r.current.Store(&snapshot{
		namespaces: map[string]*model.Namespace{},
		plugins:    map[string]plugin.Plugin{},
	})
	return Error.Wrap(group.Err())
}

// mutate applies a change to a cloned namespace, validates the result,
// swaps the snapshot and persists the file.
func (r *Registry) mutate(namespace string, change func(*model.Namespace) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.cloneSnapshot()
	ns, ok := next.namespaces[namespace]
	if !ok {
		return gerr.NotFound.New("namespace %q", namespace)
	}
	changed := ns.Clone()
	if err := change(changed); err != nil {
		return err
	}
	if err := changed.Validate(); err != nil {
		return gerr.Validation.Wrap(err)
	}
	next.namespaces[namespace] = changed
	if err := changed.SaveFile(r.dir); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// cloneSnapshot copies the current generation's maps. Namespace values
// are shared until a writer clones the one it changes.
func (r *Registry) cloneSnapshot() *snapshot {
	snap := r.current.Load()
	next := &snapshot{
		namespaces: make(map[string]*model.Namespace, len(snap.namespaces)),
		plugins:    make(map[string]plugin.Plugin, len(snap.plugins)),
	}
	for k, v := range snap.namespaces {
		next.namespaces[k] = v
	}
	for k, v := range snap.plugins {
		next.plugins[k] = v
	}
	return next
}

// dropPlugins closes and unindexes a namespace's adapters.
func (r *Registry) dropPlugins(snap *snapshot, ns *model.Namespace) {
	for _, decl := range ns.Plugins {
		key := pluginKey(decl.Protocol, ns.Name, decl.Name)
		if instance, ok := snap.plugins[key]; ok {
			if err := instance.Close(); err != nil {
				r.log.Warn("plugin close failed", zap.String("plugin", key), zap.Error(err))
			}
			delete(snap.plugins, key)
		}
	}
}

func replaceOrAppend[T any](list []*T, item *T, name func(*T) string) []*T {
	for i, existing := range list {
		if name(existing) == name(item) {
			out := append([]*T(nil), list...)
			out[i] = item
			return out
		}
	}
	return append(append([]*T(nil), list...), item)
}
