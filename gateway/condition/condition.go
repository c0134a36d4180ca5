// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package condition models the declarative and/or/sorts/paging tree and
// compiles it into a parameterised SQL where clause. Compilation is
// pure: the same tree always yields the same (sql, args) pair.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/datagate/datagate/gateway/gerr"
)

// Item is one node of the condition tree.
type Item struct {
	Field  string  `json:"field"`
	Op     string  `json:"op"`
	Value  any     `json:"value"`
	Value2 any     `json:"value2,omitempty"`
	And    []*Item `json:"and,omitempty"`
	Or     []*Item `json:"or,omitempty"`
}

// Sort orders or groups by one field.
type Sort struct {
	Field string `json:"field"`
	Asc   bool   `json:"sort_asc"`
}

// Paging selects one page of a result set. Current is 1-based.
type Paging struct {
	Current int64 `json:"current"`
	Size    int64 `json:"size"`
}

// Condition is the top level of the tree.
type Condition struct {
	And     []*Item `json:"and,omitempty"`
	Or      []*Item `json:"or,omitempty"`
	Sorts   []*Sort `json:"sorts,omitempty"`
	GroupBy []*Sort `json:"group_by,omitempty"`
	Paging  *Paging `json:"paging,omitempty"`
}

// FromJSON converts a decoded JSON document into a condition tree.
func FromJSON(doc any) (*Condition, error) {
	if doc == nil {
		return &Condition{}, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, gerr.Malformed.Wrap(err)
	}
	var cond Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return nil, gerr.Malformed.New("condition: %v", err)
	}
	return &cond, nil
}

// IsEmpty reports whether the tree carries no filtering items.
func (c *Condition) IsEmpty() bool {
	return c == nil || (len(c.And) == 0 && len(c.Or) == 0)
}

// Where renders the tree into a where clause body and its positional
// arguments. An empty tree renders to an empty string.
func (c *Condition) Where() (string, []any) {
	if c.IsEmpty() {
		return "", nil
	}
	var b strings.Builder
	var args []any

	for i, item := range c.And {
		if i > 0 {
			b.WriteString(" and ")
		}
		b.WriteString("(")
		args = item.render(&b, args)
		b.WriteString(")")
	}
	if len(c.And) > 0 && len(c.Or) > 0 {
		b.WriteString(" or ")
	}
	for i, item := range c.Or {
		if i > 0 {
			b.WriteString(" or ")
		}
		b.WriteString("(")
		args = item.render(&b, args)
		b.WriteString(")")
	}
	return b.String(), args
}

func (item *Item) render(b *strings.Builder, args []any) []any {
	switch item.Op {
	case "between":
		fmt.Fprintf(b, "%s between ? and ?", item.Field)
		args = append(args, item.Value, item.Value2)
	case "in", "not in":
		list, isList := item.Value.([]any)
		switch {
		case isList && len(list) == 0:
			// an empty list matches nothing; "in ()" is not valid SQL
			if item.Op == "in" {
				b.WriteString("1=0")
			} else {
				b.WriteString("1=1")
			}
		case isList:
			fmt.Fprintf(b, "%s %s (", item.Field, item.Op)
			for i, v := range list {
				if i > 0 {
					b.WriteString(",")
				}
				b.WriteString("?")
				args = append(args, v)
			}
			b.WriteString(")")
		default:
			fmt.Fprintf(b, "%s %s (?)", item.Field, item.Op)
			args = append(args, item.Value)
		}
	default:
		fmt.Fprintf(b, "%s %s ?", item.Field, item.Op)
		args = append(args, item.Value)
	}
	for _, child := range item.And {
		b.WriteString(" and (")
		args = child.render(b, args)
		b.WriteString(")")
	}
	for _, child := range item.Or {
		b.WriteString(" or (")
		args = child.render(b, args)
		b.WriteString(")")
	}
	return args
}

// SortClause renders the group by and order by suffix, with a leading
// space when non-empty.
func (c *Condition) SortClause() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	if len(c.GroupBy) > 0 {
		b.WriteString(" group by ")
		for i, g := range c.GroupBy {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(g.Field)
		}
	}
	if len(c.Sorts) > 0 {
		b.WriteString(" order by ")
		for i, s := range c.Sorts {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(s.Field)
			if s.Asc {
				b.WriteString(" asc")
			} else {
				b.WriteString(" desc")
			}
		}
	}
	return b.String()
}

// LimitClause renders the limit/offset suffix for the requested page,
// with a leading space when paging is present.
func (c *Condition) LimitClause() string {
	if c == nil || c.Paging == nil || c.Paging.Size <= 0 {
		return ""
	}
	current := c.Paging.Current
	if current < 1 {
		current = 1
	}
	return fmt.Sprintf(" limit %d offset %d", c.Paging.Size, (current-1)*c.Paging.Size)
}
