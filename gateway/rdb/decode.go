// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/datagate/datagate/gateway/condition"
	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
)

const (
	datetimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
	timeLayout     = "15:04:05"
)

// rowSet is a fully-scanned result set; scanning eagerly lets the
// decoder issue recursive relation queries without holding the cursor
// open.
type rowSet struct {
	columns []string
	rows    [][]any
}

func newRowSet(raw *sql.Rows) (_ *rowSet, err error) {
	defer func() { err = errsCombine(err, raw.Close()) }()

	columns, err := raw.Columns()
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.Wrap(err))
	}

	set := &rowSet{columns: columns}
	for raw.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := raw.Scan(ptrs...); err != nil {
			return nil, gerr.Backend.Wrap(Error.Wrap(err))
		}
		set.rows = append(set.rows, values)
	}
	if err := raw.Err(); err != nil {
		return nil, gerr.Backend.Wrap(Error.Wrap(err))
	}
	return set, nil
}

func errsCombine(a, b error) error {
	if a != nil {
		return a
	}
	if b != nil {
		return gerr.Backend.Wrap(Error.Wrap(b))
	}
	return nil
}

// decodeRows converts raw rows into JSON documents per the object's
// declared column types, expanding relations. Array relations are
// loaded only on detail paths.
func (e *Executor) decodeRows(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, set *rowSet, detail bool) ([]any, error) {
	var out []any
	for _, raw := range set.rows {
		doc := make(Doc, len(set.columns))
		for i, name := range set.columns {
			col := obj.Column(name)
			if col == nil {
				doc[name] = normalize(raw[i])
				continue
			}
			if col.ColType == model.TypeRelation {
				expanded, err := e.expandScalarRelation(ctx, ic, ns, col, raw[i])
				if err != nil {
					return nil, err
				}
				doc[col.Prop()] = expanded
				continue
			}
			doc[col.Prop()] = convertValue(ns, col, raw[i])
		}

		if detail {
			if err := e.expandArrayRelations(ctx, ic, ns, obj, doc); err != nil {
				return nil, err
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

// expandScalarRelation replaces a foreign-key value with the target
// row, or null when the key is null or dangling.
func (e *Executor) expandScalarRelation(ctx context.Context, ic *invoke.Context, ns *model.Namespace, col *model.Column, fk any) (any, error) {
	if fk == nil {
		return nil, nil
	}
	target := ns.Object(col.RelationObject)
	if target == nil {
		return nil, gerr.NotFound.New("relation target %q", col.RelationObject)
	}
	keys := target.Keys()
	if len(keys) == 0 {
		return nil, gerr.Validation.New("relation target %q has no primary key", col.RelationObject)
	}

	cond := &condition.Condition{And: []*condition.Item{
		{Field: keys[0].Name, Op: "=", Value: normalize(fk)},
	}}
	rows, err := e.relationRows(ctx, ic, ns, target, cond)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// expandArrayRelations loads 1..N and N..N children into the document.
func (e *Executor) expandArrayRelations(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, doc Doc) error {
	keys := obj.Keys()
	for _, col := range obj.Relations() {
		if !col.RelationArray {
			continue
		}
		target := ns.Object(col.RelationObject)
		if target == nil {
			return gerr.NotFound.New("relation target %q", col.RelationObject)
		}
		if len(keys) == 0 {
			return gerr.Validation.New("object %q needs a primary key for array relations", obj.Name)
		}
		parentKey := doc[keys[0].Prop()]

		var rows []any
		var err error
		if col.MiddleTable != "" {
			rows, err = e.middleTableRows(ctx, ic, ns, col, target, parentKey)
		} else {
			cond := &condition.Condition{And: []*condition.Item{
				{Field: col.RelationField, Op: "=", Value: parentKey},
			}}
			rows, err = e.relationRows(ctx, ic, ns, target, cond)
		}
		if err != nil {
			return err
		}
		if rows == nil {
			rows = []any{}
		}
		doc[col.Prop()] = rows
	}
	return nil
}

// relationRows runs a bounded sub-query against the relation target.
// Sub-rows are decoded on the list path, so nested array relations do
// not cascade.
func (e *Executor) relationRows(ctx context.Context, ic *invoke.Context, ns *model.Namespace, target *model.Object, cond *condition.Condition) ([]any, error) {
	where, condArgs := cond.Where()
	stmt, prefixArgs := e.buildSelect(ic, target, false, where)
	rows, err := e.queryRows(ctx, ic, ns, stmt, append(prefixArgs, condArgs...))
	if err != nil {
		return nil, err
	}
	return e.decodeRows(ctx, ic, ns, target, rows, false)
}

// middleTableRows resolves an N..N relation through its middle table:
// target rows whose key appears next to the parent key.
func (e *Executor) middleTableRows(ctx context.Context, ic *invoke.Context, ns *model.Namespace, col *model.Column, target *model.Object, parentKey any) ([]any, error) {
	targetKey := target.Keys()[0].Name

	var b strings.Builder
	b.WriteString(targetKey)
	b.WriteString(" in (select ")
	b.WriteString(targetKey)
	b.WriteString(" from ")
	b.WriteString(col.MiddleTable)
	b.WriteString(" where ")
	b.WriteString(col.RelationField)
	b.WriteString(" = ?)")

	stmt, prefixArgs := e.buildSelect(ic, target, false, b.String())
	rows, err := e.queryRows(ctx, ic, ns, stmt, append(prefixArgs, parentKey))
	if err != nil {
		return nil, err
	}
	return e.decodeRows(ctx, ic, ns, target, rows, false)
}

// normalize maps driver values onto JSON-friendly ones.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(datetimeLayout)
	default:
		return v
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// convertValue renders one raw column value per its declared type.
func convertValue(ns *model.Namespace, col *model.Column, v any) any {
	if v == nil {
		return nil
	}
	switch col.ColType {
	case model.TypeString:
		return desensitizeRead(col, toString(v))

	case model.TypeInteger:
		switch t := v.(type) {
		case int64:
			return t
		case float64:
			return int64(t)
		default:
			n, err := strconv.ParseInt(toString(v), 10, 64)
			if err != nil {
				return toString(v)
			}
			return n
		}

	case model.TypeFloat:
		switch t := v.(type) {
		case float64:
			return t
		case int64:
			return float64(t)
		default:
			f, err := strconv.ParseFloat(toString(v), 64)
			if err != nil {
				return toString(v)
			}
			return f
		}

	case model.TypeBool:
		switch t := v.(type) {
		case bool:
			return t
		case int64:
			return t != 0
		default:
			return toString(v) == "true" || toString(v) == "1"
		}

	case model.TypeNumeric:
		d, err := decimal.NewFromString(toString(v))
		if err != nil {
			return toString(v)
		}
		return json.Number(d.String())

	case model.TypeDatetime:
		return convertTimestamp(ns, v, datetimeLayout)
	case model.TypeDate:
		return convertTimestamp(ns, v, dateLayout)
	case model.TypeTime:
		return convertTimestamp(ns, v, timeLayout)

	case model.TypeJSON:
		var decoded any
		if err := json.Unmarshal([]byte(toString(v)), &decoded); err != nil {
			return toString(v)
		}
		return decoded

	case model.TypeBinary:
		raw, ok := v.([]byte)
		if !ok {
			raw = []byte(toString(v))
		}
		if col.Base64 {
			return base64.StdEncoding.EncodeToString(raw)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return string(raw)
		}
		return decoded

	default:
		return normalize(v)
	}
}

// convertTimestamp renders time values as strings. With relaxy_timezone
// a trailing Z is stripped and millisecond epochs become wall-clock
// strings.
func convertTimestamp(ns *model.Namespace, v any, layout string) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout)
	case int64:
		if ns.RelaxyTimezone {
			return time.UnixMilli(t).Format(layout)
		}
		return t
	case float64:
		if ns.RelaxyTimezone {
			return time.UnixMilli(int64(t)).Format(layout)
		}
		return t
	default:
		s := toString(v)
		if ns.RelaxyTimezone {
			s = strings.TrimSuffix(s, "Z")
			s = strings.ReplaceAll(s, "T", " ")
		}
		return s
	}
}
