// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package invoke

import "github.com/zeebo/errs"

// ErrWrongType is returned by typed getters when the stored variant does
// not match the requested one.
var ErrWrongType = errs.Class("wrong type")

// Page is the paged result shape shared by executors and plugins.
type Page struct {
	Total    int64 `json:"total"`
	PageNo   int64 `json:"page_no"`
	PageSize int64 `json:"page_size"`
	Records  []any `json:"records"`
}

// Kind tags the variant stored in a Value.
type Kind int

// Value variants.
const (
	KindNull Kind = iota
	KindBool
	KindI64
	KindU64
	KindF64
	KindString
	KindJSON
	KindVec
	KindPage
)

// Value is the tagged variant stored in the invocation context's typed
// map. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	j    any
	vec  []any
	page *Page
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a bool.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// I64 wraps a signed integer.
func I64(v int64) Value { return Value{kind: KindI64, i: v} }

// U64 wraps an unsigned integer.
func U64(v uint64) Value { return Value{kind: KindU64, u: v} }

// F64 wraps a float.
func F64(v float64) Value { return Value{kind: KindF64, f: v} }

// String wraps a string.
func String(v string) Value { return Value{kind: KindString, s: v} }

// JSON wraps a decoded JSON document.
func JSON(v any) Value { return Value{kind: KindJSON, j: v} }

// Vec wraps a vector of JSON documents.
func Vec(v []any) Value { return Value{kind: KindVec, vec: v} }

// PageOf wraps a page of JSON documents.
func PageOf(v *Page) Value { return Value{kind: KindPage, page: v} }

// Kind returns the stored variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool unwraps the bool variant.
func (v Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, ErrWrongType.New("have %v, want bool", v.kind)
	}
	return v.b, nil
}

// I64 unwraps the signed integer variant.
func (v Value) I64() (int64, error) {
	if v.kind != KindI64 {
		return 0, ErrWrongType.New("have %v, want i64", v.kind)
	}
	return v.i, nil
}

// U64 unwraps the unsigned integer variant.
func (v Value) U64() (uint64, error) {
	if v.kind != KindU64 {
		return 0, ErrWrongType.New("have %v, want u64", v.kind)
	}
	return v.u, nil
}

// F64 unwraps the float variant.
func (v Value) F64() (float64, error) {
	if v.kind != KindF64 {
		return 0, ErrWrongType.New("have %v, want f64", v.kind)
	}
	return v.f, nil
}

// String unwraps the string variant.
func (v Value) String() (string, error) {
	if v.kind != KindString {
		return "", ErrWrongType.New("have %v, want string", v.kind)
	}
	return v.s, nil
}

// JSON unwraps the JSON variant.
func (v Value) JSON() (any, error) {
	if v.kind != KindJSON {
		return nil, ErrWrongType.New("have %v, want json", v.kind)
	}
	return v.j, nil
}

// Vec unwraps the vector variant.
func (v Value) Vec() ([]any, error) {
	if v.kind != KindVec {
		return nil, ErrWrongType.New("have %v, want vec", v.kind)
	}
	return v.vec, nil
}

// Page unwraps the page variant.
func (v Value) Page() (*Page, error) {
	if v.kind != KindPage {
		return nil, ErrWrongType.New("have %v, want page", v.kind)
	}
	return v.page, nil
}
