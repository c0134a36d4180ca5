// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"context"

	"github.com/datagate/datagate/gateway/cache"
	"github.com/datagate/datagate/gateway/condition"
	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
)

// keyDoc coerces the select argument into a primary-key document. A
// bare scalar is accepted for single-key objects.
func keyDoc(obj *model.Object, args []any) (Doc, error) {
	if len(args) == 0 {
		return nil, gerr.Validation.New("select requires the primary key")
	}
	if doc, ok := args[0].(map[string]any); ok {
		return doc, nil
	}
	keys := obj.Keys()
	if len(keys) != 1 {
		return nil, gerr.Validation.New("object %q has %d primary keys, pass them as an object", obj.Name, len(keys))
	}
	return Doc{keys[0].Prop(): args[0]}, nil
}

// selectByKey is the primary-key read path. Detail-only columns are
// included and relations expanded.
func (e *Executor) selectByKey(ctx context.Context, ic *invoke.Context, uri *invoke.URI, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	pk, err := keyDoc(obj, args)
	if err != nil {
		return nil, err
	}

	key := ""
	if e.cached(obj) {
		key = cache.DeriveKey(obj.Name, invoke.MethodSelect, uri.URLNoMethod(), ic.UserName(), pk)
		if hit, ok := e.cache.Get(ctx, key); ok {
			return hit, nil
		}
	}

	alias := "_tbl"
	if obj.SelectSQL != "" {
		alias = ""
	}
	where, keyArgs, err := keyWhere(obj, pk, alias)
	if err != nil {
		return nil, err
	}

	stmt, prefixArgs := e.buildSelect(ic, obj, true, where)
	rows, err := e.queryRows(ctx, ic, ns, stmt, append(prefixArgs, keyArgs...))
	if err != nil {
		return nil, err
	}
	records, err := e.decodeRows(ctx, ic, ns, obj, rows, true)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	if key != "" {
		e.cache.Put(ctx, key, records[0], cacheTTL(obj))
	}
	return records[0], nil
}

// findOne is the condition-based single read; extra matches beyond the
// first are dropped.
func (e *Executor) findOne(ctx context.Context, ic *invoke.Context, uri *invoke.URI, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	var condDoc any
	if len(args) > 0 {
		condDoc = args[0]
	}
	cond, err := condition.FromJSON(condDoc)
	if err != nil {
		return nil, err
	}

	key := ""
	if e.cached(obj) {
		key = cache.DeriveKey(obj.Name, invoke.MethodFindOne, uri.URLNoMethod(), ic.UserName(), args)
		if hit, ok := e.cache.Get(ctx, key); ok {
			return hit, nil
		}
	}

	where, condArgs := cond.Where()
	stmt, prefixArgs := e.buildSelect(ic, obj, true, where)
	stmt += cond.SortClause() + " limit 1"

	rows, err := e.queryRows(ctx, ic, ns, stmt, append(prefixArgs, condArgs...))
	if err != nil {
		return nil, err
	}
	records, err := e.decodeRows(ctx, ic, ns, obj, rows, true)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	if key != "" {
		e.cache.Put(ctx, key, records[0], cacheTTL(obj))
	}
	return records[0], nil
}

// queryList runs the condition-based list read. Detail-only columns and
// array relations are excluded.
func (e *Executor) queryList(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, args []any, paging *condition.Paging) ([]any, error) {
	var condDoc any
	if len(args) > 0 {
		condDoc = args[0]
	}
	cond, err := condition.FromJSON(condDoc)
	if err != nil {
		return nil, err
	}
	if paging != nil {
		cond.Paging = paging
	}

	where, condArgs := cond.Where()
	stmt, prefixArgs := e.buildSelect(ic, obj, false, where)
	stmt += cond.SortClause() + cond.LimitClause()

	rows, err := e.queryRows(ctx, ic, ns, stmt, append(prefixArgs, condArgs...))
	if err != nil {
		return nil, err
	}
	records, err := e.decodeRows(ctx, ic, ns, obj, rows, false)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []any{}
	}
	return records, nil
}

// pagedQuery runs the list read plus the derived count statement.
func (e *Executor) pagedQuery(ctx context.Context, ic *invoke.Context, uri *invoke.URI, ns *model.Namespace, obj *model.Object, args []any) (*invoke.Page, error) {
	var condDoc any
	if len(args) > 0 {
		condDoc = args[0]
	}
	cond, err := condition.FromJSON(condDoc)
	if err != nil {
		return nil, err
	}
	if cond.Paging == nil {
		cond.Paging = &condition.Paging{Current: 1, Size: 10}
	}

	key := ""
	if e.cached(obj) {
		key = cache.DeriveKey(obj.Name, invoke.MethodPagedQuery, uri.URLNoMethod(), ic.UserName(), args)
		if hit, ok := e.cache.Get(ctx, key); ok {
			if page, ok := pageFromCache(hit); ok {
				return page, nil
			}
		}
	}

	where, condArgs := cond.Where()
	base, prefixArgs := e.buildSelect(ic, obj, false, where)

	countStmt := "select count(1) from (" + base + ") _count"
	var total int64
	q, err := e.readQuerier(ctx, ic, ns)
	if err != nil {
		return nil, err
	}
	countArgs := append(append([]any(nil), prefixArgs...), condArgs...)
	row := q.QueryRowContext(ctx, e.pools.Rebind(ns.Name, countStmt), countArgs...)
	if err := row.Scan(&total); err != nil {
		return nil, gerr.Backend.Wrap(Error.Wrap(err))
	}

	stmt := base + cond.SortClause() + cond.LimitClause()
	rows, err := e.queryRows(ctx, ic, ns, stmt, append(prefixArgs, condArgs...))
	if err != nil {
		return nil, err
	}
	records, err := e.decodeRows(ctx, ic, ns, obj, rows, false)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []any{}
	}

	page := &invoke.Page{
		Total:    total,
		PageNo:   cond.Paging.Current,
		PageSize: cond.Paging.Size,
		Records:  records,
	}
	if key != "" {
		e.cache.Put(ctx, key, page, cacheTTL(obj))
	}
	return page, nil
}

// pageFromCache rebuilds a page from its JSON round-trip.
func pageFromCache(v any) (*invoke.Page, bool) {
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	total, ok1 := doc["total"].(float64)
	pageNo, ok2 := doc["page_no"].(float64)
	pageSize, ok3 := doc["page_size"].(float64)
	records, ok4 := doc["records"].([]any)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, false
	}
	return &invoke.Page{
		Total:    int64(total),
		PageNo:   int64(pageNo),
		PageSize: int64(pageSize),
		Records:  records,
	}, true
}

// queryRows runs a read statement against the namespace.
func (e *Executor) queryRows(ctx context.Context, ic *invoke.Context, ns *model.Namespace, stmt string, args []any) (rows *rowSet, err error) {
	q, err := e.readQuerier(ctx, ic, ns)
	if err != nil {
		return nil, err
	}
	raw, err := q.QueryContext(ctx, e.pools.Rebind(ns.Name, stmt), args...)
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.New("query %q: %v", stmt, err))
	}
	return newRowSet(raw)
}
