// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"context"
	"strings"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
)

var _ invoke.DirectQuerier = (*Executor)(nil)

// DirectQuery runs ad-hoc SQL for scripts. Statements share the
// context's pinned transaction so a script sees its own uncommitted
// writes. Non-select statements return a single affect_rows document.
func (e *Executor) DirectQuery(ctx context.Context, ic *invoke.Context, namespace, query string, args []any) (_ []any, err error) {
	defer mon.Task()(&ctx)(&err)
	defer e.flagFailure(ic, &err)

	ns, ok := e.source.Namespace(namespace)
	if !ok {
		return nil, gerr.NotFound.New("namespace %q", namespace)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, gerr.Validation.New("direct query is empty")
	}

	if !isSelect(query) {
		q, err := e.writeQuerier(ctx, ic, ns)
		if err != nil {
			return nil, err
		}
		res, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, query), args...)
		if err != nil {
			return nil, gerr.Backend.Wrap(Error.New("direct exec: %v", err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, gerr.Backend.Wrap(Error.Wrap(err))
		}
		return []any{Doc{"affect_rows": n}}, nil
	}

	set, err := e.queryRows(ctx, ic, ns, query, args)
	if err != nil {
		return nil, err
	}
	records := []any{}
	for _, row := range set.rows {
		doc := make(Doc, len(set.columns))
		for i, name := range set.columns {
			doc[name] = normalize(row[i])
		}
		records = append(records, doc)
	}
	return records, nil
}

func isSelect(query string) bool {
	head := strings.ToLower(query)
	return strings.HasPrefix(head, "select") || strings.HasPrefix(head, "with")
}
