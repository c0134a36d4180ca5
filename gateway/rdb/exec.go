// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/cache"
	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/hooks"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
)

// Doc is a decoded JSON object.
type Doc = map[string]any

// NamespaceSource resolves namespace configuration snapshots; the
// namespace registry implements it.
type NamespaceSource interface {
	Namespace(name string) (*model.Namespace, bool)
}

// querier runs statements on either a pool or a pinned transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config tunes the executor.
type Config struct {
	// DataPermission globally enables row-level permission checks for
	// objects that declare them.
	DataPermission bool
	// SnowflakeNode is the 10-bit node id baked into generated ids.
	SnowflakeNode int64
}

// Executor is the relational object engine behind the object:// schema.
type Executor struct {
	log    *zap.Logger
	pools  *Pools
	source NamespaceSource
	cache  *cache.Cache    // nil disables caching
	hooks  *hooks.Pipeline // nil disables hooks
	flake  *snowflake
	config Config
}

// NewExecutor creates the object engine.
func NewExecutor(log *zap.Logger, pools *Pools, source NamespaceSource, cache *cache.Cache, pipeline *hooks.Pipeline, config Config) *Executor {
	return &Executor{
		log:    log,
		pools:  pools,
		source: source,
		cache:  cache,
		hooks:  pipeline,
		flake:  newSnowflake(config.SnowflakeNode),
		config: config,
	}
}

var _ invoke.Invocation = (*Executor)(nil)

// InvokeReturnOne handles the object methods that return at most one
// document.
func (e *Executor) InvokeReturnOne(ctx context.Context, ic *invoke.Context, uri *invoke.URI, args []any) (_ any, err error) {
	defer mon.Task()(&ctx)(&err)
	defer e.flagFailure(ic, &err)

	ns, obj, err := e.resolve(uri)
	if err != nil {
		return nil, err
	}
	if err := checkRole(obj.Permission, ic); err != nil {
		return nil, err
	}

	args, err = e.runPre(ctx, ic, uri, obj, args)
	if err != nil {
		return nil, err
	}

	var out any
	switch uri.Method {
	case invoke.MethodInsert:
		out, err = e.insert(ctx, ic, ns, obj, args)
	case invoke.MethodUpdate:
		out, err = e.update(ctx, ic, ns, obj, args)
	case invoke.MethodUpsert:
		out, err = e.upsert(ctx, ic, ns, obj, args)
	case invoke.MethodSaveBatch:
		out, err = e.saveBatch(ctx, ic, ns, obj, args)
	case invoke.MethodDelete:
		out, err = e.deleteByKey(ctx, ic, ns, obj, args)
	case invoke.MethodDeleteBy:
		out, err = e.deleteBy(ctx, ic, ns, obj, args)
	case invoke.MethodUpdateBy:
		out, err = e.updateBy(ctx, ic, ns, obj, args)
	case invoke.MethodSelect:
		out, err = e.selectByKey(ctx, ic, uri, ns, obj, args)
	case invoke.MethodFindOne:
		out, err = e.findOne(ctx, ic, uri, ns, obj, args)
	default:
		return nil, gerr.NotFound.New("object method %q", uri.Method)
	}
	if err != nil {
		return nil, err
	}

	if uri.IsWriteMethod() {
		if err := e.invalidate(ctx, ic, uri, ns, obj, out); err != nil {
			return nil, err
		}
	}

	post, err := e.runPost(ctx, ic, uri, obj, []any{out})
	if err != nil {
		return nil, err
	}
	if len(post) > 0 {
		out = post[0]
	}
	return out, nil
}

// InvokeReturnVec handles the list read.
func (e *Executor) InvokeReturnVec(ctx context.Context, ic *invoke.Context, uri *invoke.URI, args []any) (_ []any, err error) {
	defer mon.Task()(&ctx)(&err)
	defer e.flagFailure(ic, &err)

	if uri.Method != invoke.MethodQuery {
		return nil, gerr.NotFound.New("object method %q does not return a vector", uri.Method)
	}

	ns, obj, err := e.resolve(uri)
	if err != nil {
		return nil, err
	}
	if err := checkRole(obj.Permission, ic); err != nil {
		return nil, err
	}

	args, err = e.runPre(ctx, ic, uri, obj, args)
	if err != nil {
		return nil, err
	}

	// The cache stores the raw result; post hooks run on every serve so
	// hits and misses answer identically.
	key := ""
	var records []any
	if e.cached(obj) {
		key = cache.DeriveKey(obj.Name, uri.Method, uri.URLNoMethod(), ic.UserName(), args)
		if hit, ok := e.cache.Get(ctx, key); ok {
			records, _ = hit.([]any)
		}
	}
	if records == nil {
		records, err = e.queryList(ctx, ic, ns, obj, args, nil)
		if err != nil {
			return nil, err
		}
		if key != "" {
			e.cache.Put(ctx, key, records, cacheTTL(obj))
		}
	}

	return e.runPost(ctx, ic, uri, obj, records)
}

// InvokeReturnPage handles the paged list read.
func (e *Executor) InvokeReturnPage(ctx context.Context, ic *invoke.Context, uri *invoke.URI, args []any) (_ *invoke.Page, err error) {
	defer mon.Task()(&ctx)(&err)
	defer e.flagFailure(ic, &err)

	if uri.Method != invoke.MethodPagedQuery {
		return nil, gerr.NotFound.New("object method %q does not return a page", uri.Method)
	}

	ns, obj, err := e.resolve(uri)
	if err != nil {
		return nil, err
	}
	if err := checkRole(obj.Permission, ic); err != nil {
		return nil, err
	}

	args, err = e.runPre(ctx, ic, uri, obj, args)
	if err != nil {
		return nil, err
	}

	page, err := e.pagedQuery(ctx, ic, uri, ns, obj, args)
	if err != nil {
		return nil, err
	}

	records, err := e.runPost(ctx, ic, uri, obj, page.Records)
	if err != nil {
		return nil, err
	}
	page.Records = records
	return page, nil
}

func (e *Executor) flagFailure(ic *invoke.Context, err *error) {
	if *err != nil {
		ic.SetFailed()
	}
}

func (e *Executor) resolve(uri *invoke.URI) (*model.Namespace, *model.Object, error) {
	ns, ok := e.source.Namespace(uri.Namespace)
	if !ok {
		return nil, nil, gerr.NotFound.New("namespace %q", uri.Namespace)
	}
	obj := ns.Object(uri.Object)
	if obj == nil {
		return nil, nil, gerr.NotFound.New("object %q in namespace %q", uri.Object, uri.Namespace)
	}
	return ns, obj, nil
}

// checkRole enforces the object's role list against the caller claims.
func checkRole(allowed []string, ic *invoke.Context) error {
	if len(allowed) == 0 {
		return nil
	}
	roles := ic.Roles()
	for _, have := range roles {
		for _, want := range allowed {
			if have == want {
				return nil
			}
		}
	}
	return gerr.PermissionDenied.New("caller roles %v not in %v", roles, allowed)
}

func (e *Executor) runPre(ctx context.Context, ic *invoke.Context, uri *invoke.URI, obj *model.Object, args []any) ([]any, error) {
	if e.hooks == nil {
		return args, nil
	}
	chain := obj.HooksFor(uri.Method, true)
	return e.hooks.RunPre(ctx, ic, uri, chain, args)
}

func (e *Executor) runPost(ctx context.Context, ic *invoke.Context, uri *invoke.URI, obj *model.Object, args []any) ([]any, error) {
	if e.hooks == nil {
		return args, nil
	}
	chain := obj.HooksFor(uri.Method, false)
	return e.hooks.RunPost(ctx, ic, uri, chain, args)
}

func (e *Executor) cached(obj *model.Object) bool {
	return e.cache != nil && obj.Cache
}

// cacheTTL converts the object's declared cache time; zero falls back
// to the façade default.
func cacheTTL(obj *model.Object) time.Duration {
	return time.Duration(obj.CacheTime) * time.Second
}

// invalidate drops the object's list caches and the mutated row's
// single-row key after a successful write.
func (e *Executor) invalidate(ctx context.Context, ic *invoke.Context, uri *invoke.URI, ns *model.Namespace, obj *model.Object, result any) error {
	if e.cache == nil {
		return nil
	}
	var single []string
	if doc, ok := result.(Doc); ok {
		keys := obj.Keys()
		pk := make(Doc, len(keys))
		complete := len(keys) > 0
		for _, col := range keys {
			v, ok := doc[col.Prop()]
			if !ok {
				complete = false
				break
			}
			pk[col.Prop()] = v
		}
		if complete {
			single = append(single, cache.DeriveKey(obj.Name, invoke.MethodSelect, uri.URLNoMethod(), ic.UserName(), pk))
		}
	}
	return e.cache.Invalidate(ctx, obj.Name, single...)
}

// writeQuerier returns the statement runner for mutations, lazily
// beginning a per-namespace transaction and pinning it to the context
// so nested invocations share it.
func (e *Executor) writeQuerier(ctx context.Context, ic *invoke.Context, ns *model.Namespace) (querier, error) {
	if tx, ok := ic.Tx(ns.Name); ok {
		return tx, nil
	}
	db, err := e.pools.DB(ns.Name)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.Wrap(err))
	}
	ic.SetTx(ns.Name, tx)
	return tx, nil
}

// readQuerier prefers the pinned transaction so a caller reads its own
// uncommitted writes, falling back to the pool.
func (e *Executor) readQuerier(ctx context.Context, ic *invoke.Context, ns *model.Namespace) (querier, error) {
	if tx, ok := ic.Tx(ns.Name); ok {
		return tx, nil
	}
	return e.pools.DB(ns.Name)
}

// dataPermOn reports whether row-level permission applies to the
// object for this process.
func (e *Executor) dataPermOn(obj *model.Object) bool {
	return e.config.DataPermission && obj.DataPermission &&
		obj.PermissionField != "" && obj.RelativeTable != "" &&
		obj.RelativeField != "" && obj.UserField != ""
}

// selectColumns lists the physical columns fetched for the object.
// Array relations have no backing column; detail-only columns are
// excluded on list paths.
func selectColumns(obj *model.Object, detail bool) []*model.Column {
	var cols []*model.Column
	for _, col := range obj.Columns {
		if col.ColType == model.TypeRelation && col.RelationArray {
			continue
		}
		if !detail && col.DetailOnly {
			continue
		}
		cols = append(cols, col)
	}
	return cols
}

// buildSelect renders the read statement. With a custom select
// template the condition is appended verbatim; otherwise the canonical
// form is
//
//	select <cols> from <table> _tbl <permission-join?> where <cond-or-1=1>
//
// The returned prefix args (the permission join's user id) precede the
// condition args.
func (e *Executor) buildSelect(ic *invoke.Context, obj *model.Object, detail bool, where string) (string, []any) {
	if obj.SelectSQL != "" {
		stmt := obj.SelectSQL
		if where != "" {
			stmt += " where " + where
		}
		return stmt, nil
	}

	var b strings.Builder
	b.WriteString("select ")
	cols := selectColumns(obj, detail)
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("_tbl.")
		b.WriteString(col.Name)
	}
	b.WriteString(" from ")
	b.WriteString(obj.TableName)
	b.WriteString(" _tbl")

	var prefixArgs []any
	if e.dataPermOn(obj) {
		b.WriteString(" join ")
		b.WriteString(obj.RelativeTable)
		b.WriteString(" __p on __p.")
		b.WriteString(obj.RelativeField)
		b.WriteString(" = _tbl.")
		b.WriteString(obj.PermissionField)
		b.WriteString(" and __p.")
		b.WriteString(obj.UserField)
		b.WriteString(" = ?")
		prefixArgs = append(prefixArgs, ic.UserID())
	}

	b.WriteString(" where ")
	if where == "" {
		b.WriteString("1=1")
	} else {
		b.WriteString(where)
	}
	return b.String(), prefixArgs
}

// writePermFilter renders the row-permission subquery appended to
// mutation where clauses, binding the caller's user id.
func (e *Executor) writePermFilter(ic *invoke.Context, obj *model.Object) (string, []any) {
	if !e.dataPermOn(obj) {
		return "", nil
	}
	clause := " and " + obj.PermissionField +
		" in (select " + obj.RelativeField +
		" from " + obj.RelativeTable +
		" where " + obj.UserField + " = ?)"
	return clause, []any{ic.UserID()}
}

// keyWhere renders "k1 = ? and k2 = ?" for the object's primary keys,
// pulling values from doc. Every key must be present.
func keyWhere(obj *model.Object, doc Doc, alias string) (string, []any, error) {
	keys := obj.Keys()
	if len(keys) == 0 {
		return "", nil, gerr.Validation.New("object %q declares no primary key", obj.Name)
	}
	var b strings.Builder
	var args []any
	for i, col := range keys {
		value, ok := doc[col.Prop()]
		if !ok || value == nil {
			return "", nil, gerr.Validation.New("missing primary key %q for object %q", col.Prop(), obj.Name)
		}
		if i > 0 {
			b.WriteString(" and ")
		}
		if alias != "" {
			b.WriteString(alias)
			b.WriteString(".")
		}
		b.WriteString(col.Name)
		b.WriteString(" = ?")
		args = append(args, value)
	}
	return b.String(), args, nil
}

// asDoc coerces the primary argument into a JSON object.
func asDoc(args []any, what string) (Doc, error) {
	if len(args) == 0 {
		return nil, gerr.Validation.New("%s requires a body", what)
	}
	doc, ok := args[0].(map[string]any)
	if !ok || len(doc) == 0 {
		return nil, gerr.Validation.New("%s requires a non-empty object", what)
	}
	return doc, nil
}
