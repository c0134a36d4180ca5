// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datagate/datagate/gateway/model"
)

func TestConvertValueCoercions(t *testing.T) {
	ns := &model.Namespace{Name: "crm"}

	intCol := &model.Column{Name: "n", ColType: model.TypeInteger}
	require.EqualValues(t, 7, convertValue(ns, intCol, int64(7)))
	require.EqualValues(t, 7, convertValue(ns, intCol, float64(7)))
	require.EqualValues(t, 7, convertValue(ns, intCol, []byte("7")))
	require.Equal(t, "x7", convertValue(ns, intCol, "x7"))

	floatCol := &model.Column{Name: "f", ColType: model.TypeFloat}
	require.Equal(t, 1.5, convertValue(ns, floatCol, 1.5))
	require.Equal(t, float64(3), convertValue(ns, floatCol, int64(3)))

	boolCol := &model.Column{Name: "b", ColType: model.TypeBool}
	require.Equal(t, true, convertValue(ns, boolCol, int64(1)))
	require.Equal(t, false, convertValue(ns, boolCol, int64(0)))
	require.Equal(t, true, convertValue(ns, boolCol, "true"))

	require.Nil(t, convertValue(ns, intCol, nil))
}

func TestConvertValueNumeric(t *testing.T) {
	ns := &model.Namespace{Name: "crm"}
	col := &model.Column{Name: "price", ColType: model.TypeNumeric}

	require.Equal(t, json.Number("19.99"), convertValue(ns, col, "19.99"))
	require.Equal(t, json.Number("19.99"), convertValue(ns, col, []byte("19.99")))
	require.Equal(t, "not a number", convertValue(ns, col, "not a number"))
}

func TestConvertValueJSON(t *testing.T) {
	ns := &model.Namespace{Name: "crm"}
	col := &model.Column{Name: "meta", ColType: model.TypeJSON}

	decoded := convertValue(ns, col, `{"a":1}`)
	require.Equal(t, map[string]any{"a": float64(1)}, decoded)

	// malformed payloads fall back to the raw string
	require.Equal(t, "{broken", convertValue(ns, col, "{broken"))
}

func TestConvertValueBinary(t *testing.T) {
	ns := &model.Namespace{Name: "crm"}

	b64 := &model.Column{Name: "blob", ColType: model.TypeBinary, Base64: true}
	require.Equal(t, "aGVsbG8=", convertValue(ns, b64, []byte("hello")))

	plain := &model.Column{Name: "blob", ColType: model.TypeBinary}
	require.Equal(t, map[string]any{"k": "v"}, convertValue(ns, plain, []byte(`{"k":"v"}`)))
	require.Equal(t, "raw bytes", convertValue(ns, plain, []byte("raw bytes")))
}

func TestConvertTimestampRelaxy(t *testing.T) {
	strict := &model.Namespace{Name: "a"}
	relaxed := &model.Namespace{Name: "b", RelaxyTimezone: true}

	// epoch millis stay numeric without relaxy_timezone
	require.EqualValues(t, 1700000000000, convertTimestamp(strict, int64(1700000000000), datetimeLayout))

	rendered, ok := convertTimestamp(relaxed, int64(1700000000000), datetimeLayout).(string)
	require.True(t, ok)
	require.Len(t, rendered, len(datetimeLayout))

	require.Equal(t, "2024-05-01T10:30:00Z", convertTimestamp(strict, "2024-05-01T10:30:00Z", datetimeLayout))
	require.Equal(t, "2024-05-01 10:30:00", convertTimestamp(relaxed, "2024-05-01T10:30:00Z", datetimeLayout))
}
