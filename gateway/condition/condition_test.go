// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package condition_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datagate/datagate/gateway/condition"
	"github.com/datagate/datagate/gateway/gerr"
)

func fromJSONText(t *testing.T, text string) *condition.Condition {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(text), &doc))
	cond, err := condition.FromJSON(doc)
	require.NoError(t, err)
	return cond
}

func TestWhereBetweenAndIn(t *testing.T) {
	cond := fromJSONText(t, `{
		"and": [
			{"field": "age", "op": "between", "value": 10, "value2": 20},
			{"field": "tag", "op": "in", "value": ["a", "b"]}
		]
	}`)
	where, args := cond.Where()
	require.Equal(t, "(age between ? and ?) and (tag in (?,?))", where)
	require.Equal(t, []any{float64(10), float64(20), "a", "b"}, args)
}

func TestWhereScalarIn(t *testing.T) {
	cond := &condition.Condition{And: []*condition.Item{
		{Field: "id", Op: "not in", Value: 7},
	}}
	where, args := cond.Where()
	require.Equal(t, "(id not in (?))", where)
	require.Equal(t, []any{7}, args)
}

func TestWhereEmptyInList(t *testing.T) {
	cond := fromJSONText(t, `{"and": [{"field": "tag", "op": "in", "value": []}]}`)
	where, args := cond.Where()
	require.Equal(t, "(1=0)", where)
	require.Nil(t, args)

	cond = fromJSONText(t, `{"and": [{"field": "tag", "op": "not in", "value": []}]}`)
	where, args = cond.Where()
	require.Equal(t, "(1=1)", where)
	require.Nil(t, args)
}

func TestWhereNestedChildren(t *testing.T) {
	cond := &condition.Condition{And: []*condition.Item{
		{
			Field: "status", Op: "=", Value: "open",
			And: []*condition.Item{{Field: "kind", Op: "=", Value: "a"}},
			Or:  []*condition.Item{{Field: "kind", Op: "=", Value: "b"}},
		},
	}}
	where, args := cond.Where()
	require.Equal(t, "(status = ? and (kind = ?) or (kind = ?))", where)
	require.Equal(t, []any{"open", "a", "b"}, args)
}

func TestWhereTopLevelAndOr(t *testing.T) {
	cond := &condition.Condition{
		And: []*condition.Item{
			{Field: "a", Op: "=", Value: 1},
			{Field: "b", Op: ">", Value: 2},
		},
		Or: []*condition.Item{
			{Field: "c", Op: "<", Value: 3},
			{Field: "d", Op: "=", Value: 4},
		},
	}
	where, args := cond.Where()
	require.Equal(t, "(a = ?) and (b > ?) or (c < ?) or (d = ?)", where)
	require.Equal(t, []any{1, 2, 3, 4}, args)
}

func TestWhereEmpty(t *testing.T) {
	where, args := (&condition.Condition{}).Where()
	require.Empty(t, where)
	require.Nil(t, args)
	require.True(t, (&condition.Condition{}).IsEmpty())

	cond, err := condition.FromJSON(nil)
	require.NoError(t, err)
	require.True(t, cond.IsEmpty())
}

func TestCompileIsPure(t *testing.T) {
	text := `{
		"and": [
			{"field": "age", "op": "between", "value": 10, "value2": 20},
			{"field": "tag", "op": "in", "value": ["a", "b"]}
		],
		"or": [{"field": "vip", "op": "=", "value": true}]
	}`
	first := fromJSONText(t, text)
	second := fromJSONText(t, text)

	whereA, argsA := first.Where()
	whereB, argsB := second.Where()
	require.Equal(t, whereA, whereB)
	require.Equal(t, argsA, argsB)
}

func TestSortClause(t *testing.T) {
	cond := fromJSONText(t, `{
		"sorts": [{"field": "age", "sort_asc": false}, {"field": "name", "sort_asc": true}],
		"group_by": [{"field": "dept"}, {"field": "team"}]
	}`)
	require.Equal(t, " group by dept,team order by age desc, name asc", cond.SortClause())
	require.Empty(t, (&condition.Condition{}).SortClause())
}

func TestLimitClause(t *testing.T) {
	cond := &condition.Condition{Paging: &condition.Paging{Current: 3, Size: 20}}
	require.Equal(t, " limit 20 offset 40", cond.LimitClause())

	cond = &condition.Condition{Paging: &condition.Paging{Current: 0, Size: 10}}
	require.Equal(t, " limit 10 offset 0", cond.LimitClause())

	require.Empty(t, (&condition.Condition{}).LimitClause())
}

func TestFromJSONMalformed(t *testing.T) {
	_, err := condition.FromJSON(map[string]any{"and": "not an array"})
	require.Error(t, err)
	require.True(t, gerr.Malformed.Has(err))
}
