// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/datagate/datagate/gateway/condition"
	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
)

func placeholders(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
	return b.String()
}

// alwaysGenerated reports whether a generator overwrites a value the
// caller supplied. Id generators only fill gaps; audit stamps are
// always taken server-side.
func alwaysGenerated(tag string) bool {
	switch tag {
	case model.GenSnowflakeID, model.GenUUID, model.GenAutoincrement:
		return false
	}
	return true
}

func emptyValue(v any) bool {
	return v == nil || v == ""
}

// applyGenerators fills generated columns into the document. Results
// land in the document so the caller sees what was stored.
func (e *Executor) applyGenerators(ic *invoke.Context, obj *model.Object, doc Doc, updating bool) {
	for _, col := range obj.Columns {
		if col.Generator == "" || col.Generator == model.GenAutoincrement {
			continue
		}
		v, ok := e.generate(ic, col.Generator, updating)
		if !ok {
			continue
		}
		if alwaysGenerated(col.Generator) || emptyValue(doc[col.Prop()]) {
			doc[col.Prop()] = v
		}
	}
}

// encodeWriteValue converts a document field into its stored form. A
// nested object on a scalar relation is saved first and replaced by its
// primary key.
func (e *Executor) encodeWriteValue(ctx context.Context, ic *invoke.Context, ns *model.Namespace, col *model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch col.ColType {
	case model.TypeRelation:
		child, ok := v.(map[string]any)
		if !ok {
			return v, nil
		}
		target := ns.Object(col.RelationObject)
		if target == nil {
			return nil, gerr.NotFound.New("relation target %q", col.RelationObject)
		}
		keys := target.Keys()
		if len(keys) == 0 {
			return nil, gerr.Validation.New("relation target %q has no primary key", col.RelationObject)
		}
		saved, err := e.upsertDoc(ctx, ic, ns, target, child, nil)
		if err != nil {
			return nil, err
		}
		return saved[keys[0].Prop()], nil

	case model.TypeString:
		if col.CryptoStore {
			return desensitizeWrite(ns, col, toString(v))
		}
		return v, nil

	case model.TypeJSON:
		if s, ok := v.(string); ok {
			return s, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, gerr.Malformed.Wrap(err)
		}
		return string(raw), nil

	case model.TypeBinary:
		if col.Base64 {
			s, ok := v.(string)
			if !ok {
				return nil, gerr.Validation.New("binary column %q expects a base64 string", col.Prop())
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, gerr.Malformed.New("column %q is not valid base64", col.Prop())
			}
			return raw, nil
		}
		return v, nil

	default:
		return v, nil
	}
}

func (e *Executor) insert(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	doc, err := asDoc(args, "insert")
	if err != nil {
		return nil, err
	}
	return e.insertDoc(ctx, ic, ns, obj, doc)
}

func (e *Executor) insertDoc(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, doc Doc) (Doc, error) {
	q, err := e.writeQuerier(ctx, ic, ns)
	if err != nil {
		return nil, err
	}

	e.applyGenerators(ic, obj, doc, false)

	var names []string
	var values []any
	for _, col := range obj.Columns {
		if col.ColType == model.TypeRelation && col.RelationArray {
			continue
		}
		if col.Generator == model.GenAutoincrement {
			continue
		}
		raw, present := doc[col.Prop()]
		if !present {
			continue
		}
		v, err := e.encodeWriteValue(ctx, ic, ns, col, raw)
		if err != nil {
			return nil, err
		}
		names = append(names, col.Name)
		values = append(values, v)
	}
	if len(names) == 0 {
		return nil, gerr.Validation.New("insert into %q has no recognised fields", obj.Name)
	}

	stmt := "insert into " + obj.TableName +
		" (" + strings.Join(names, ", ") + ") values (" + placeholders(len(values)) + ")"
	res, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), values...)
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.New("insert into %q: %v", obj.Name, err))
	}

	for _, col := range obj.Keys() {
		if col.Generator == model.GenAutoincrement {
			// not every driver reports the generated id
			if id, err := res.LastInsertId(); err == nil {
				doc[col.Prop()] = id
			}
		}
	}

	if err := e.syncArrayRelations(ctx, ic, ns, obj, doc, false); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Executor) update(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	doc, err := asDoc(args, "update")
	if err != nil {
		return nil, err
	}
	return e.updateDoc(ctx, ic, ns, obj, doc)
}

func (e *Executor) updateDoc(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, doc Doc) (Doc, error) {
	where, keyArgs, err := keyWhere(obj, doc, "")
	if err != nil {
		return nil, err
	}
	q, err := e.writeQuerier(ctx, ic, ns)
	if err != nil {
		return nil, err
	}

	e.applyGenerators(ic, obj, doc, true)

	if err := e.dropUnchangedDesensitized(ctx, ic, ns, obj, doc, where, keyArgs); err != nil {
		return nil, err
	}

	var sets []string
	var values []any
	for _, col := range obj.Columns {
		if col.Pkey || col.Generator == model.GenAutoincrement {
			continue
		}
		if col.ColType == model.TypeRelation && col.RelationArray {
			continue
		}
		raw, present := doc[col.Prop()]
		if !present {
			continue
		}
		v, err := e.encodeWriteValue(ctx, ic, ns, col, raw)
		if err != nil {
			return nil, err
		}
		sets = append(sets, col.Name+" = ?")
		values = append(values, v)
	}
	if len(sets) == 0 {
		return nil, gerr.Validation.New("update of %q changes no fields", obj.Name)
	}

	permClause, permArgs := e.writePermFilter(ic, obj)
	stmt := "update " + obj.TableName + " set " + strings.Join(sets, ", ") +
		" where " + where + permClause
	wargs := append(append(values, keyArgs...), permArgs...)

	res, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), wargs...)
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.New("update %q: %v", obj.Name, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, gerr.NotFound.New("no row of %q matched the primary key", obj.Name)
	}

	if err := e.syncArrayRelations(ctx, ic, ns, obj, doc, true); err != nil {
		return nil, err
	}
	return doc, nil
}

// dropUnchangedDesensitized removes desensitised fields whose submitted
// value equals the form the read path displays for the current row. A
// client that selects a row and echoes it back on update would
// otherwise store the displayed ciphertext or mask as the new clear
// value, re-encrypting it and destroying the secret.
func (e *Executor) dropUnchangedDesensitized(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, doc Doc, where string, keyArgs []any) error {
	var cols []*model.Column
	for _, col := range obj.Columns {
		if col.Desensitize == "" {
			continue
		}
		if _, present := doc[col.Prop()]; present {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return nil
	}

	names := make([]string, 0, len(cols))
	for _, col := range cols {
		names = append(names, col.Name)
	}
	stmt := "select " + strings.Join(names, ", ") + " from " + obj.TableName + " where " + where
	rows, err := e.queryRows(ctx, ic, ns, stmt, keyArgs)
	if err != nil {
		return err
	}
	if len(rows.rows) == 0 {
		return nil
	}
	for i, col := range cols {
		submitted, ok := doc[col.Prop()].(string)
		if !ok {
			continue
		}
		stored := toString(normalize(rows.rows[0][i]))
		if submitted == desensitizeRead(col, stored) {
			delete(doc, col.Prop())
		}
	}
	return nil
}

func (e *Executor) upsert(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	doc, err := asDoc(args, "upsert")
	if err != nil {
		return nil, err
	}
	var cond *condition.Condition
	if len(args) > 1 && args[1] != nil {
		cond, err = condition.FromJSON(args[1])
		if err != nil {
			return nil, err
		}
	}
	return e.upsertDoc(ctx, ic, ns, obj, doc, cond)
}

// upsertDoc resolves the document against the table. No match inserts,
// one match updates with the matched keys overlaid, more than one match
// is refused.
func (e *Executor) upsertDoc(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, doc Doc, cond *condition.Condition) (Doc, error) {
	keys := obj.Keys()
	if len(keys) == 0 {
		return nil, gerr.Validation.New("object %q declares no primary key", obj.Name)
	}

	var where string
	var whereArgs []any
	if cond != nil && !cond.IsEmpty() {
		where, whereArgs = cond.Where()
	} else {
		complete := true
		for _, col := range keys {
			if emptyValue(doc[col.Prop()]) {
				complete = false
				break
			}
		}
		if !complete {
			return e.insertDoc(ctx, ic, ns, obj, doc)
		}
		var err error
		where, whereArgs, err = keyWhere(obj, doc, "")
		if err != nil {
			return nil, err
		}
	}

	var cols []string
	for _, col := range keys {
		cols = append(cols, col.Name)
	}
	stmt := "select " + strings.Join(cols, ", ") + " from " + obj.TableName +
		" where " + where + " limit 2"
	matches, err := e.queryRows(ctx, ic, ns, stmt, whereArgs)
	if err != nil {
		return nil, err
	}

	switch len(matches.rows) {
	case 0:
		return e.insertDoc(ctx, ic, ns, obj, doc)
	case 1:
		for i, col := range keys {
			doc[col.Prop()] = normalize(matches.rows[0][i])
		}
		return e.updateDoc(ctx, ic, ns, obj, doc)
	default:
		return nil, gerr.AmbiguousUpsert.New("upsert into %q matched more than one row", obj.Name)
	}
}

// saveBatch upserts each element of the array argument. A per-element
// "_cond" object overrides the key match for that element.
func (e *Executor) saveBatch(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	if len(args) == 0 {
		return nil, gerr.Validation.New("save_batch requires an array")
	}
	list, ok := args[0].([]any)
	if !ok || len(list) == 0 {
		return nil, gerr.Validation.New("save_batch requires a non-empty array")
	}

	var affected int64
	for _, element := range list {
		doc, ok := element.(map[string]any)
		if !ok {
			return nil, gerr.Validation.New("save_batch elements must be objects")
		}
		var cond *condition.Condition
		if raw, ok := doc["_cond"]; ok {
			var err error
			cond, err = condition.FromJSON(raw)
			if err != nil {
				return nil, err
			}
			delete(doc, "_cond")
		}
		if _, err := e.upsertDoc(ctx, ic, ns, obj, doc, cond); err != nil {
			return nil, err
		}
		affected++
	}
	return Doc{"affect_rows": affected}, nil
}

// deleteByKey removes one row by primary key, cascading into array
// relation children, and returns the deleted document.
func (e *Executor) deleteByKey(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	pk, err := keyDoc(obj, args)
	if err != nil {
		return nil, err
	}

	alias := "_tbl"
	if obj.SelectSQL != "" {
		alias = ""
	}
	selWhere, selArgs, err := keyWhere(obj, pk, alias)
	if err != nil {
		return nil, err
	}
	selStmt, prefixArgs := e.buildSelect(ic, obj, true, selWhere)
	rows, err := e.queryRows(ctx, ic, ns, selStmt, append(prefixArgs, selArgs...))
	if err != nil {
		return nil, err
	}
	records, err := e.decodeRows(ctx, ic, ns, obj, rows, true)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, gerr.NotFound.New("no row of %q matched the primary key", obj.Name)
	}
	deleted := records[0].(Doc)

	q, err := e.writeQuerier(ctx, ic, ns)
	if err != nil {
		return nil, err
	}

	parentKey := deleted[obj.Keys()[0].Prop()]
	for _, col := range obj.Relations() {
		if !col.RelationArray {
			if err := e.cascadeScalar(ctx, ic, ns, col, deleted); err != nil {
				return nil, err
			}
			continue
		}
		if col.MiddleTable != "" {
			stmt := "delete from " + col.MiddleTable + " where " + col.RelationField + " = ?"
			if _, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), parentKey); err != nil {
				return nil, gerr.Backend.Wrap(Error.New("cascade into %q: %v", col.MiddleTable, err))
			}
			continue
		}
		target := ns.Object(col.RelationObject)
		if target == nil {
			return nil, gerr.NotFound.New("relation target %q", col.RelationObject)
		}
		stmt := "delete from " + target.TableName + " where " + col.RelationField + " = ?"
		if _, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), parentKey); err != nil {
			return nil, gerr.Backend.Wrap(Error.New("cascade into %q: %v", target.Name, err))
		}
	}

	delWhere, delArgs, err := keyWhere(obj, pk, "")
	if err != nil {
		return nil, err
	}
	permClause, permArgs := e.writePermFilter(ic, obj)
	stmt := "delete from " + obj.TableName + " where " + delWhere + permClause
	res, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), append(delArgs, permArgs...)...)
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.New("delete from %q: %v", obj.Name, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, gerr.NotFound.New("no row of %q matched the primary key", obj.Name)
	}
	return deleted, nil
}

// cascadeScalar deletes the row a scalar relation points at by the
// target's own primary key. The decoded parent carries either the
// expanded target row or, when it dangled, nothing to delete.
func (e *Executor) cascadeScalar(ctx context.Context, ic *invoke.Context, ns *model.Namespace, col *model.Column, deleted Doc) error {
	target := ns.Object(col.RelationObject)
	if target == nil {
		return gerr.NotFound.New("relation target %q", col.RelationObject)
	}
	keys := target.Keys()
	if len(keys) == 0 {
		return gerr.Validation.New("relation target %q has no primary key", col.RelationObject)
	}

	fk := deleted[col.Prop()]
	if nested, ok := fk.(Doc); ok {
		fk = nested[keys[0].Prop()]
	}
	if fk == nil {
		return nil
	}

	q, err := e.writeQuerier(ctx, ic, ns)
	if err != nil {
		return err
	}
	stmt := "delete from " + target.TableName + " where " + keys[0].Name + " = ?"
	if _, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), fk); err != nil {
		return gerr.Backend.Wrap(Error.New("cascade into %q: %v", target.Name, err))
	}
	return nil
}

// deleteBy removes rows matching a condition. An empty condition is
// refused rather than emptying the table.
func (e *Executor) deleteBy(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	var condDoc any
	if len(args) > 0 {
		condDoc = args[0]
	}
	cond, err := condition.FromJSON(condDoc)
	if err != nil {
		return nil, err
	}
	if cond.IsEmpty() {
		return nil, gerr.Validation.New("delete_by on %q requires a condition", obj.Name)
	}

	q, err := e.writeQuerier(ctx, ic, ns)
	if err != nil {
		return nil, err
	}
	where, condArgs := cond.Where()
	permClause, permArgs := e.writePermFilter(ic, obj)
	stmt := "delete from " + obj.TableName + " where " + where + permClause

	res, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), append(condArgs, permArgs...)...)
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.New("delete_by on %q: %v", obj.Name, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.Wrap(err))
	}
	return Doc{"affect_rows": n}, nil
}

// updateBy sets plain fields on rows matching a condition. Relation
// columns cannot be changed this way.
func (e *Executor) updateBy(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, args []any) (any, error) {
	if len(args) < 2 {
		return nil, gerr.Validation.New("update_by requires values and a condition")
	}
	values, ok := args[0].(map[string]any)
	if !ok || len(values) == 0 {
		return nil, gerr.Validation.New("update_by requires a non-empty values object")
	}
	cond, err := condition.FromJSON(args[1])
	if err != nil {
		return nil, err
	}
	if cond.IsEmpty() {
		return nil, gerr.Validation.New("update_by on %q requires a condition", obj.Name)
	}

	for name := range values {
		col := obj.Column(name)
		if col == nil {
			return nil, gerr.Validation.New("unknown field %q on object %q", name, obj.Name)
		}
		if col.ColType == model.TypeRelation {
			return nil, gerr.Validation.New("update_by cannot change relation field %q", name)
		}
		if col.Pkey {
			return nil, gerr.Validation.New("update_by cannot change primary key %q", name)
		}
	}

	e.applyGenerators(ic, obj, values, true)

	var sets []string
	var setArgs []any
	for _, col := range obj.Columns {
		raw, present := values[col.Prop()]
		if !present || col.Pkey || col.ColType == model.TypeRelation {
			continue
		}
		v, err := e.encodeWriteValue(ctx, ic, ns, col, raw)
		if err != nil {
			return nil, err
		}
		sets = append(sets, col.Name+" = ?")
		setArgs = append(setArgs, v)
	}
	if len(sets) == 0 {
		return nil, gerr.Validation.New("update_by on %q changes no fields", obj.Name)
	}

	q, err := e.writeQuerier(ctx, ic, ns)
	if err != nil {
		return nil, err
	}
	where, condArgs := cond.Where()
	permClause, permArgs := e.writePermFilter(ic, obj)
	stmt := "update " + obj.TableName + " set " + strings.Join(sets, ", ") +
		" where " + where + permClause
	wargs := append(append(setArgs, condArgs...), permArgs...)

	res, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), wargs...)
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.New("update_by on %q: %v", obj.Name, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, gerr.Backend.Wrap(Error.Wrap(err))
	}
	return Doc{"affect_rows": n}, nil
}

// syncArrayRelations writes the children carried on array relation
// fields. Replacing mode first drops children absent from the new list
// so an update mirrors the document.
func (e *Executor) syncArrayRelations(ctx context.Context, ic *invoke.Context, ns *model.Namespace, obj *model.Object, doc Doc, replacing bool) error {
	keys := obj.Keys()
	q, err := e.writeQuerier(ctx, ic, ns)
	if err != nil {
		return err
	}

	for _, col := range obj.Relations() {
		if !col.RelationArray {
			continue
		}
		raw, present := doc[col.Prop()]
		if !present {
			continue
		}
		children, ok := raw.([]any)
		if !ok {
			return gerr.Validation.New("relation field %q expects an array", col.Prop())
		}
		if len(keys) == 0 {
			return gerr.Validation.New("object %q needs a primary key for array relations", obj.Name)
		}
		parentKey := doc[keys[0].Prop()]
		target := ns.Object(col.RelationObject)
		if target == nil {
			return gerr.NotFound.New("relation target %q", col.RelationObject)
		}
		targetKeys := target.Keys()
		if len(targetKeys) == 0 {
			return gerr.Validation.New("relation target %q has no primary key", col.RelationObject)
		}

		if col.MiddleTable != "" {
			if replacing {
				stmt := "delete from " + col.MiddleTable + " where " + col.RelationField + " = ?"
				if _, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), parentKey); err != nil {
					return gerr.Backend.Wrap(Error.New("clear links in %q: %v", col.MiddleTable, err))
				}
			}
			for _, element := range children {
				child, ok := element.(map[string]any)
				if !ok {
					return gerr.Validation.New("relation field %q expects objects", col.Prop())
				}
				saved, err := e.upsertDoc(ctx, ic, ns, target, child, nil)
				if err != nil {
					return err
				}
				link := "insert into " + col.MiddleTable +
					" (" + col.RelationField + ", " + targetKeys[0].Name + ") values (?, ?)"
				if _, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, link), parentKey, saved[targetKeys[0].Prop()]); err != nil {
					return gerr.Backend.Wrap(Error.New("link in %q: %v", col.MiddleTable, err))
				}
			}
			continue
		}

		fkProp := col.RelationField
		if fkCol := target.Column(col.RelationField); fkCol != nil {
			fkProp = fkCol.Prop()
		}

		if replacing {
			if err := e.dropAbsentChildren(ctx, ic, ns, col, target, parentKey, children); err != nil {
				return err
			}
		}
		for _, element := range children {
			child, ok := element.(map[string]any)
			if !ok {
				return gerr.Validation.New("relation field %q expects objects", col.Prop())
			}
			child[fkProp] = parentKey
			if _, err := e.upsertDoc(ctx, ic, ns, target, child, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// dropAbsentChildren deletes the parent's children whose keys are not in
// the replacement list. A list carrying no keys replaces everything.
func (e *Executor) dropAbsentChildren(ctx context.Context, ic *invoke.Context, ns *model.Namespace, col *model.Column, target *model.Object, parentKey any, children []any) error {
	targetKey := target.Keys()[0]

	var kept []any
	for _, element := range children {
		child, ok := element.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := child[targetKey.Prop()]; ok && v != nil {
			kept = append(kept, v)
		}
	}

	q, err := e.writeQuerier(ctx, ic, ns)
	if err != nil {
		return err
	}
	stmt := "delete from " + target.TableName + " where " + col.RelationField + " = ?"
	args := []any{parentKey}
	if len(kept) > 0 {
		stmt += " and " + targetKey.Name + " not in (" + placeholders(len(kept)) + ")"
		args = append(args, kept...)
	}
	if _, err := q.ExecContext(ctx, e.pools.Rebind(ns.Name, stmt), args...); err != nil {
		return gerr.Backend.Wrap(Error.New("prune children of %q: %v", target.Name, err))
	}
	return nil
}
