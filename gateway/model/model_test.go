// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datagate/datagate/gateway/model"
)

const sampleTOML = `
name = "crm"
db_url = "sqlite3://file::memory:?cache=shared"
relaxy_timezone = true

[[objects]]
name = "user"
table_name = "t_user"

  [[objects.columns]]
  name = "id"
  col_type = "integer"
  pkey = true
  generator = "autoincrement"

  [[objects.columns]]
  name = "user_name"
  prop_name = "userName"
  col_type = "string"
  length = 64

  [[objects.columns]]
  name = "orders"
  col_type = "relation"
  relation_object = "order"
  relation_field = "user_id"
  relation_array = true

  [[objects.hooks]]
  before = true
  lang = "lua"
  script = "normalize.lua"
  methods = ["insert", "update"]

[[objects]]
name = "order"
table_name = "t_order"

  [[objects.columns]]
  name = "id"
  col_type = "integer"
  pkey = true

  [[objects.columns]]
  name = "user_id"
  col_type = "integer"

[[querys]]
name = "top_users"
query = "select * from t_user limit 10"

[[plugins]]
name = "feed"
protocol = "mqtt"
config = "feed.toml"
`

func TestParseRoundTrip(t *testing.T) {
	ns, err := model.Parse([]byte(sampleTOML))
	require.NoError(t, err)
	require.Equal(t, "crm", ns.Name)
	require.True(t, ns.RelaxyTimezone)
	require.Len(t, ns.Objects, 2)
	require.Len(t, ns.Querys, 1)
	require.Len(t, ns.Plugins, 1)

	data, err := ns.Encode()
	require.NoError(t, err)

	again, err := model.Parse(data)
	require.NoError(t, err)
	require.Equal(t, ns.Name, again.Name)
	require.Len(t, again.Objects, 2)
	require.Equal(t, "t_user", again.Object("user").TableName)
	require.Equal(t, "userName", again.Object("user").Column("user_name").Prop())
	require.Equal(t, "select * from t_user limit 10", again.Query("top_users").QueryBody)
	require.Equal(t, "mqtt", again.Plugin("feed").Protocol)
}

func TestColumnLookup(t *testing.T) {
	ns, err := model.Parse([]byte(sampleTOML))
	require.NoError(t, err)

	user := ns.Object("user")
	require.NotNil(t, user)

	byName := user.Column("user_name")
	byProp := user.Column("userName")
	require.NotNil(t, byName)
	require.Same(t, byName, byProp)
	require.Nil(t, user.Column("missing"))
}

func TestKeysAndRelations(t *testing.T) {
	ns, err := model.Parse([]byte(sampleTOML))
	require.NoError(t, err)

	user := ns.Object("user")
	keys := user.Keys()
	require.Len(t, keys, 1)
	require.Equal(t, "id", keys[0].Name)

	rels := user.Relations()
	require.Len(t, rels, 1)
	require.Equal(t, "orders", rels[0].Name)
	require.True(t, rels[0].RelationArray)
}

func TestHooksFor(t *testing.T) {
	ns, err := model.Parse([]byte(sampleTOML))
	require.NoError(t, err)

	user := ns.Object("user")
	require.Len(t, user.HooksFor("insert", true), 1)
	require.Empty(t, user.HooksFor("insert", false))
	require.Empty(t, user.HooksFor("delete", true))

	all := &model.Hook{Before: true, Lang: "lua", Script: "x.lua"}
	require.True(t, all.AppliesTo("anything"))
}

func TestValidateDuplicates(t *testing.T) {
	ns := &model.Namespace{
		Name: "dup",
		Objects: []*model.Object{
			{Name: "user", TableName: "t1"},
			{Name: "user", TableName: "t2"},
		},
	}
	err := ns.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate object")
}

func TestValidateUnresolvedRelation(t *testing.T) {
	ns := &model.Namespace{
		Name: "bad",
		Objects: []*model.Object{
			{
				Name:      "user",
				TableName: "t_user",
				Columns: []*model.Column{
					{Name: "id", ColType: model.TypeInteger, Pkey: true},
					{Name: "ghost", ColType: model.TypeRelation, RelationObject: "nowhere"},
				},
			},
		},
	}
	err := ns.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not resolve")
}

func TestCloneIsIndependent(t *testing.T) {
	ns, err := model.Parse([]byte(sampleTOML))
	require.NoError(t, err)

	clone := ns.Clone()
	clone.Objects[0].TableName = "changed"
	clone.Objects[0].Columns[0].Name = "renamed"
	clone.Querys[0].QueryBody = "select 1"

	require.Equal(t, "t_user", ns.Objects[0].TableName)
	require.Equal(t, "id", ns.Objects[0].Columns[0].Name)
	require.Equal(t, "select * from t_user limit 10", ns.Querys[0].QueryBody)

	// The clone rebuilds its lazy indexes from its own slices.
	require.Equal(t, "changed", clone.Object("user").TableName)
}

func TestSaveFileAndParseFile(t *testing.T) {
	dir := t.TempDir()

	ns, err := model.Parse([]byte(sampleTOML))
	require.NoError(t, err)
	require.NoError(t, ns.SaveFile(dir))

	loaded, err := model.ParseFile(dir + "/crm.toml")
	require.NoError(t, err)
	require.Equal(t, "crm", loaded.Name)
	require.Equal(t, "crm", loaded.FileName)
}
