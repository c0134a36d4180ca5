// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/cache"
	"github.com/datagate/datagate/gateway/condition"
	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/hooks"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
)

// QueryExecutor runs the named parameterised queries behind the
// query:// schema. Queries are read-only; the writable methods are
// rejected at dispatch.
type QueryExecutor struct {
	log    *zap.Logger
	pools  *Pools
	source NamespaceSource
	cache  *cache.Cache
	hooks  *hooks.Pipeline
}

// NewQueryExecutor creates the named-query engine.
func NewQueryExecutor(log *zap.Logger, pools *Pools, source NamespaceSource, cache *cache.Cache, pipeline *hooks.Pipeline) *QueryExecutor {
	return &QueryExecutor{log: log, pools: pools, source: source, cache: cache, hooks: pipeline}
}

var _ invoke.Invocation = (*QueryExecutor)(nil)

// InvokeReturnOne runs a search and keeps the first row.
func (e *QueryExecutor) InvokeReturnOne(ctx context.Context, ic *invoke.Context, uri *invoke.URI, args []any) (_ any, err error) {
	defer mon.Task()(&ctx)(&err)

	if uri.Method != invoke.MethodFindOne {
		return nil, gerr.NotFound.New("query method %q does not return one document", uri.Method)
	}
	records, err := e.search(ctx, ic, uri, invoke.MethodFindOne, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// InvokeReturnVec runs the search method.
func (e *QueryExecutor) InvokeReturnVec(ctx context.Context, ic *invoke.Context, uri *invoke.URI, args []any) (_ []any, err error) {
	defer mon.Task()(&ctx)(&err)

	if uri.Method != invoke.MethodSearch {
		return nil, gerr.NotFound.New("query method %q does not return a vector", uri.Method)
	}
	return e.search(ctx, ic, uri, invoke.MethodSearch, args)
}

// InvokeReturnPage runs the paged search, counting through the declared
// count query or a derived wrapper.
func (e *QueryExecutor) InvokeReturnPage(ctx context.Context, ic *invoke.Context, uri *invoke.URI, args []any) (_ *invoke.Page, err error) {
	defer mon.Task()(&ctx)(&err)

	if uri.Method != invoke.MethodPagedSearch {
		return nil, gerr.NotFound.New("query method %q does not return a page", uri.Method)
	}
	ns, q, err := e.resolve(uri)
	if err != nil {
		return nil, err
	}
	if err := checkRole(q.Permission, ic); err != nil {
		return nil, err
	}
	args, err = e.runPre(ctx, ic, uri, q, args)
	if err != nil {
		return nil, err
	}

	key := ""
	var page *invoke.Page
	if e.cached(q) {
		key = cache.DeriveKey(q.Name, uri.Method, uri.URLNoMethod(), ic.UserName(), args)
		if hit, ok := e.cache.Get(ctx, key); ok {
			page, _ = pageFromCache(hit)
		}
	}

	if page == nil {
		params, err := bindParams(q, args)
		if err != nil {
			return nil, err
		}
		paging := queryPaging(args)

		countStmt := q.CountQuery
		if countStmt == "" {
			countStmt = "select count(1) from (" + q.QueryBody + ") _count"
		}
		querier, err := e.readQuerier(ctx, ic, ns)
		if err != nil {
			return nil, err
		}
		var total int64
		row := querier.QueryRowContext(ctx, e.pools.Rebind(ns.Name, countStmt), params...)
		if err := row.Scan(&total); err != nil {
			return nil, gerr.Backend.Wrap(Error.New("count for query %q: %v", q.Name, err))
		}

		stmt := q.QueryBody +
			" limit " + strconv.FormatInt(paging.Size, 10) +
			" offset " + strconv.FormatInt((paging.Current-1)*paging.Size, 10)
		records, err := e.run(ctx, ic, ns, q, stmt, params)
		if err != nil {
			return nil, err
		}

		page = &invoke.Page{
			Total:    total,
			PageNo:   paging.Current,
			PageSize: paging.Size,
			Records:  records,
		}
		if key != "" {
			e.cache.Put(ctx, key, page, queryTTL(q))
		}
	}

	records, err := e.runPost(ctx, ic, uri, q, page.Records)
	if err != nil {
		return nil, err
	}
	page.Records = records
	return page, nil
}

func (e *QueryExecutor) search(ctx context.Context, ic *invoke.Context, uri *invoke.URI, method string, args []any) ([]any, error) {
	ns, q, err := e.resolve(uri)
	if err != nil {
		return nil, err
	}
	if err := checkRole(q.Permission, ic); err != nil {
		return nil, err
	}
	args, err = e.runPre(ctx, ic, uri, q, args)
	if err != nil {
		return nil, err
	}

	// The cache stores the raw rows; post hooks run on hits too so both
	// paths answer identically.
	key := ""
	var records []any
	if e.cached(q) {
		key = cache.DeriveKey(q.Name, method, uri.URLNoMethod(), ic.UserName(), args)
		if hit, ok := e.cache.Get(ctx, key); ok {
			records, _ = hit.([]any)
		}
	}
	if records == nil {
		params, err := bindParams(q, args)
		if err != nil {
			return nil, err
		}
		records, err = e.run(ctx, ic, ns, q, q.QueryBody, params)
		if err != nil {
			return nil, err
		}
		if key != "" {
			e.cache.Put(ctx, key, records, queryTTL(q))
		}
	}

	return e.runPost(ctx, ic, uri, q, records)
}

// run executes the statement and decodes rows through the query's
// declared field types; undeclared columns pass through untyped.
func (e *QueryExecutor) run(ctx context.Context, ic *invoke.Context, ns *model.Namespace, q *model.Query, stmt string, params []any) ([]any, error) {
	querier, err := e.readQuerier(ctx, ic, ns)
	if err != nil {
		return nil, err
	}
	raw, err := querier.QueryContext(ctx, e.pools.Rebind(ns.Name, stmt), params...)
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.New("query %q: %v", q.Name, err))
	}
	set, err := newRowSet(raw)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]*model.Column, len(q.Fields)*2)
	for _, col := range q.Fields {
		fields[col.Name] = col
		if col.PropName != "" {
			fields[col.PropName] = col
		}
	}

	records := []any{}
	for _, row := range set.rows {
		doc := make(Doc, len(set.columns))
		for i, name := range set.columns {
			if col, ok := fields[name]; ok {
				doc[col.Prop()] = convertValue(ns, col, row[i])
				continue
			}
			doc[name] = normalize(row[i])
		}
		records = append(records, doc)
	}
	return records, nil
}

func (e *QueryExecutor) resolve(uri *invoke.URI) (*model.Namespace, *model.Query, error) {
	ns, ok := e.source.Namespace(uri.Namespace)
	if !ok {
		return nil, nil, gerr.NotFound.New("namespace %q", uri.Namespace)
	}
	q := ns.Query(uri.Object)
	if q == nil {
		return nil, nil, gerr.NotFound.New("query %q in namespace %q", uri.Object, uri.Namespace)
	}
	return ns, q, nil
}

func (e *QueryExecutor) cached(q *model.Query) bool {
	return e.cache != nil && q.Cache
}

func queryTTL(q *model.Query) time.Duration {
	return time.Duration(q.CacheTime) * time.Second
}

func (e *QueryExecutor) runPre(ctx context.Context, ic *invoke.Context, uri *invoke.URI, q *model.Query, args []any) ([]any, error) {
	if e.hooks == nil {
		return args, nil
	}
	return e.hooks.RunPre(ctx, ic, uri, q.HooksFor(uri.Method, true), args)
}

func (e *QueryExecutor) runPost(ctx context.Context, ic *invoke.Context, uri *invoke.URI, q *model.Query, args []any) ([]any, error) {
	if e.hooks == nil {
		return args, nil
	}
	return e.hooks.RunPost(ctx, ic, uri, q.HooksFor(uri.Method, false), args)
}

func (e *QueryExecutor) readQuerier(ctx context.Context, ic *invoke.Context, ns *model.Namespace) (querier, error) {
	if tx, ok := ic.Tx(ns.Name); ok {
		return tx, nil
	}
	return e.pools.DB(ns.Name)
}

// bindParams pulls the declared parameters out of the first argument in
// declaration order, matching the placeholder order of the query body.
func bindParams(q *model.Query, args []any) ([]any, error) {
	if len(q.Params) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if len(args) > 0 && args[0] != nil {
		var ok bool
		doc, ok = args[0].(map[string]any)
		if !ok {
			return nil, gerr.Validation.New("query parameters must be an object")
		}
	}
	params := make([]any, 0, len(q.Params))
	for _, col := range q.Params {
		params = append(params, doc[col.Prop()])
	}
	return params, nil
}

// queryPaging reads the optional paging argument after the parameters.
func queryPaging(args []any) condition.Paging {
	paging := condition.Paging{Current: 1, Size: 10}
	if len(args) < 2 {
		return paging
	}
	doc, ok := args[1].(map[string]any)
	if !ok {
		return paging
	}
	if v, ok := doc["current"].(float64); ok && v > 0 {
		paging.Current = int64(v)
	}
	if v, ok := doc["size"].(float64); ok && v > 0 {
		paging.Size = int64(v)
	}
	return paging
}
