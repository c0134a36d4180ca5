// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package model holds the typed configuration records a namespace is
// declared with: stored objects, columns, named queries, hooks and
// plugin bindings. Records are immutable once loaded; the namespace
// registry swaps whole namespaces instead of mutating them in place.
package model

import (
	"sync"

	"github.com/zeebo/errs"
)

// Error is a model error.
var Error = errs.Class("model")

// Column types understood by the relational engine.
const (
	TypeString   = "string"
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeBool     = "bool"
	TypeDatetime = "datetime"
	TypeDate     = "date"
	TypeTime     = "time"
	TypeNumeric  = "numeric"
	TypeJSON     = "json"
	TypeBinary   = "binary"
	TypeRelation = "relation"
)

// Generator tags.
const (
	GenAutoincrement = "autoincrement"
	GenSnowflakeID   = "snowflakeid"
	GenUUID          = "uuid"
	GenCurUserID     = "cur_user_id"
	GenCurUserName   = "cur_user_name"
	GenCurDatetime   = "cur_datetime"
	GenCurDate       = "cur_date"
	GenCurTime       = "cur_time"
	GenModUserID     = "mod_user_id"
	GenModUserName   = "mod_user_name"
	GenModDatetime   = "mod_datetime"
	GenModDate       = "mod_date"
	GenModTime       = "mod_time"
)

// Desensitisation modes.
const (
	DesensAES     = "aes"
	DesensRSA     = "rsa"
	DesensBase64  = "base64"
	DesensReplace = "replace"
	DesensNull    = "null"
)

// Namespace is the unit of tenancy: one database, a set of stored
// objects, named queries and plugin bindings.
type Namespace struct {
	Name     string `toml:"name"`
	DBURL    string `toml:"db_url"`
	CacheURL string `toml:"cache_url,omitempty"`
	FileName string `toml:"file_name,omitempty"`

	// Encryption material for desensitised columns.
	AESKey        string `toml:"aes_key,omitempty"`
	AESSalt       string `toml:"aes_salt,omitempty"`
	RSAPublicKey  string `toml:"rsa_public_key,omitempty"`
	RSAPrivateKey string `toml:"rsa_private_key,omitempty"`

	// RelaxyTimezone strips trailing Z markers and renders epoch-millis
	// timestamps as local wall-clock strings on the read path.
	RelaxyTimezone bool `toml:"relaxy_timezone,omitempty"`

	Objects []*Object `toml:"objects,omitempty"`
	Querys  []*Query  `toml:"querys,omitempty"`
	Plugins []*Plugin `toml:"plugins,omitempty"`

	indexOnce sync.Once
	objects   map[string]*Object
	querys    map[string]*Query
	plugins   map[string]*Plugin
}

// Object is a declarative table binding.
type Object struct {
	Name       string    `toml:"name"`
	TableName  string    `toml:"table_name"`
	ObjectType string    `toml:"object_type,omitempty"`
	SelectSQL  string    `toml:"select_sql,omitempty"`
	Columns    []*Column `toml:"columns"`
	Hooks      []*Hook   `toml:"hooks,omitempty"`

	Cache     bool  `toml:"cache,omitempty"`
	CacheTime int64 `toml:"cache_time,omitempty"` // seconds, 0 means default

	// Permission is the list of roles allowed to touch the object.
	// Empty means no role restriction.
	Permission []string `toml:"permission,omitempty"`

	// Row-level permission. When enabled, reads join and writes filter
	// against relative_table scoped by the calling user.
	DataPermission  bool   `toml:"data_permission,omitempty"`
	PermissionField string `toml:"permission_field,omitempty"`
	RelativeTable   string `toml:"relative_table,omitempty"`
	RelativeField   string `toml:"relative_field,omitempty"`
	UserField       string `toml:"user_field,omitempty"`

	colOnce sync.Once
	columns map[string]*Column
}

// Column describes one field of a stored object.
type Column struct {
	Name     string `toml:"name"`
	PropName string `toml:"prop_name,omitempty"`
	Length   int    `toml:"length,omitempty"`
	ColType  string `toml:"col_type"`
	Pkey     bool   `toml:"pkey,omitempty"`

	// Binary columns with Base64 set are exchanged as base64 strings.
	Base64 bool `toml:"base64,omitempty"`

	// CryptoStore stores the desensitised form; Desensitize selects the
	// transform (aes, rsa, base64, replace, null).
	CryptoStore bool   `toml:"crypto_store,omitempty"`
	Desensitize string `toml:"desensitize,omitempty"`

	// DetailOnly excludes the column from list queries.
	DetailOnly bool `toml:"detail_only,omitempty"`

	Generator  string   `toml:"generator,omitempty"`
	Permission []string `toml:"permission,omitempty"`

	// Relation attributes; valid when ColType is "relation".
	RelationObject string `toml:"relation_object,omitempty"`
	RelationField  string `toml:"relation_field,omitempty"`
	RelationArray  bool   `toml:"relation_array,omitempty"`
	MiddleTable    string `toml:"middle_table,omitempty"`
}

// Prop returns the logical property name of the column, falling back to
// the physical name.
func (c *Column) Prop() string {
	if c.PropName != "" {
		return c.PropName
	}
	return c.Name
}

// Query is a named parameterised SQL statement.
type Query struct {
	Name       string    `toml:"name"`
	QueryBody  string    `toml:"query"`
	CountQuery string    `toml:"count_query,omitempty"`
	Params     []*Column `toml:"params,omitempty"`
	Fields     []*Column `toml:"fields,omitempty"`
	Hooks      []*Hook   `toml:"hooks,omitempty"`

	Cache      bool     `toml:"cache,omitempty"`
	CacheTime  int64    `toml:"cache_time,omitempty"`
	Permission []string `toml:"permission,omitempty"`
}

// Plugin binds a protocol adapter to a namespace. Config points at the
// per-plugin file below the namespace directory.
type Plugin struct {
	Name     string `toml:"name"`
	Protocol string `toml:"protocol"`
	Config   string `toml:"config"`
}

// Hook attaches a script to an invocation method.
type Hook struct {
	Name    string   `toml:"name,omitempty"`
	Before  bool     `toml:"before"`
	Event   bool     `toml:"event,omitempty"`
	Lang    string   `toml:"lang"`
	Script  string   `toml:"script"`
	Methods []string `toml:"methods,omitempty"`
}

// AppliesTo reports whether the hook is declared for the given method.
// A hook without a method list applies to every method.
func (h *Hook) AppliesTo(method string) bool {
	if len(h.Methods) == 0 {
		return true
	}
	for _, m := range h.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (ns *Namespace) buildIndex() {
	ns.objects = make(map[string]*Object, len(ns.Objects))
	for _, obj := range ns.Objects {
		ns.objects[obj.Name] = obj
	}
	ns.querys = make(map[string]*Query, len(ns.Querys))
	for _, q := range ns.Querys {
		ns.querys[q.Name] = q
	}
	ns.plugins = make(map[string]*Plugin, len(ns.Plugins))
	for _, p := range ns.Plugins {
		ns.plugins[p.Name] = p
	}
}

// Object looks up a stored object by logical name.
func (ns *Namespace) Object(name string) *Object {
	ns.indexOnce.Do(ns.buildIndex)
	return ns.objects[name]
}

// Query looks up a named query.
func (ns *Namespace) Query(name string) *Query {
	ns.indexOnce.Do(ns.buildIndex)
	return ns.querys[name]
}

// Plugin looks up a plugin binding.
func (ns *Namespace) Plugin(name string) *Plugin {
	ns.indexOnce.Do(ns.buildIndex)
	return ns.plugins[name]
}

// Column looks up a column by logical property name or physical name.
// The by-name map is built on first use and kept for the object's
// lifetime.
func (o *Object) Column(name string) *Column {
	o.colOnce.Do(func() {
		o.columns = make(map[string]*Column, len(o.Columns)*2)
		for _, c := range o.Columns {
			o.columns[c.Name] = c
			if c.PropName != "" {
				o.columns[c.PropName] = c
			}
		}
	})
	return o.columns[name]
}

// Keys returns the primary-key columns in declared order.
func (o *Object) Keys() []*Column {
	var keys []*Column
	for _, c := range o.Columns {
		if c.Pkey {
			keys = append(keys, c)
		}
	}
	return keys
}

// Relations returns the relation columns in declared order.
func (o *Object) Relations() []*Column {
	var rels []*Column
	for _, c := range o.Columns {
		if c.ColType == TypeRelation {
			rels = append(rels, c)
		}
	}
	return rels
}

// HooksFor filters the object's hooks down to the ones declared for the
// method and phase.
func (o *Object) HooksFor(method string, before bool) []*Hook {
	var out []*Hook
	for _, h := range o.Hooks {
		if h.Before == before && h.AppliesTo(method) {
			out = append(out, h)
		}
	}
	return out
}

// HooksFor filters the query's hooks for a method and phase.
func (q *Query) HooksFor(method string, before bool) []*Hook {
	var out []*Hook
	for _, h := range q.Hooks {
		if h.Before == before && h.AppliesTo(method) {
			out = append(out, h)
		}
	}
	return out
}

// Validate checks the intra-namespace invariants: unique entity names
// and resolvable relation targets.
func (ns *Namespace) Validate() error {
	if ns.Name == "" {
		return Error.New("namespace name is empty")
	}
	seen := map[string]bool{}
	for _, obj := range ns.Objects {
		if seen["o:"+obj.Name] {
			return Error.New("duplicate object %q in namespace %q", obj.Name, ns.Name)
		}
		seen["o:"+obj.Name] = true
	}
	for _, q := range ns.Querys {
		if seen["q:"+q.Name] {
			return Error.New("duplicate query %q in namespace %q", q.Name, ns.Name)
		}
		seen["q:"+q.Name] = true
	}
	for _, p := range ns.Plugins {
		if seen["p:"+p.Name] {
			return Error.New("duplicate plugin %q in namespace %q", p.Name, ns.Name)
		}
		seen["p:"+p.Name] = true
	}
	for _, obj := range ns.Objects {
		for _, col := range obj.Columns {
			if col.ColType != TypeRelation {
				continue
			}
			if col.RelationObject == "" {
				return Error.New("column %q of object %q has no relation_object", col.Name, obj.Name)
			}
			if ns.Object(col.RelationObject) == nil {
				return Error.New("relation target %q of %q.%q does not resolve in namespace %q",
					col.RelationObject, obj.Name, col.Name, ns.Name)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the namespace with fresh lazy indexes.
// The registry clones before any mutation so readers keep seeing the
// old snapshot.
func (ns *Namespace) Clone() *Namespace {
	out := &Namespace{
		Name:           ns.Name,
		DBURL:          ns.DBURL,
		CacheURL:       ns.CacheURL,
		FileName:       ns.FileName,
		AESKey:         ns.AESKey,
		AESSalt:        ns.AESSalt,
		RSAPublicKey:   ns.RSAPublicKey,
		RSAPrivateKey:  ns.RSAPrivateKey,
		RelaxyTimezone: ns.RelaxyTimezone,
	}
	for _, obj := range ns.Objects {
		out.Objects = append(out.Objects, obj.clone())
	}
	for _, q := range ns.Querys {
		cq := *q
		cq.Params = cloneColumns(q.Params)
		cq.Fields = cloneColumns(q.Fields)
		cq.Hooks = cloneHooks(q.Hooks)
		out.Querys = append(out.Querys, &cq)
	}
	for _, p := range ns.Plugins {
		cp := *p
		out.Plugins = append(out.Plugins, &cp)
	}
	return out
}

func (o *Object) clone() *Object {
	co := &Object{
		Name:            o.Name,
		TableName:       o.TableName,
		ObjectType:      o.ObjectType,
		SelectSQL:       o.SelectSQL,
		Cache:           o.Cache,
		CacheTime:       o.CacheTime,
		Permission:      append([]string(nil), o.Permission...),
		DataPermission:  o.DataPermission,
		PermissionField: o.PermissionField,
		RelativeTable:   o.RelativeTable,
		RelativeField:   o.RelativeField,
		UserField:       o.UserField,
	}
	co.Columns = cloneColumns(o.Columns)
	co.Hooks = cloneHooks(o.Hooks)
	return co
}

func cloneColumns(cols []*Column) []*Column {
	out := make([]*Column, 0, len(cols))
	for _, c := range cols {
		cc := *c
		cc.Permission = append([]string(nil), c.Permission...)
		out = append(out, &cc)
	}
	return out
}

func cloneHooks(hooks []*Hook) []*Hook {
	out := make([]*Hook, 0, len(hooks))
	for _, h := range hooks {
		ch := *h
		ch.Methods = append([]string(nil), h.Methods...)
		out = append(out, &ch)
	}
	return out
}
