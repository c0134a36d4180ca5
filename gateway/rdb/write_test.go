// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package rdb_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
	"github.com/datagate/datagate/gateway/rdb"
)

const vaultSchema = `
create table t_credential (
	id     integer primary key autoincrement,
	name   text,
	secret text,
	phone  text
);
`

func vaultNamespace() *model.Namespace {
	return &model.Namespace{
		Name:    "vault",
		AESKey:  "vault key material",
		AESSalt: "vault salt",
		Objects: []*model.Object{
			{
				Name:      "credential",
				TableName: "t_credential",
				Columns: []*model.Column{
					{Name: "id", ColType: model.TypeInteger, Pkey: true, Generator: model.GenAutoincrement},
					{Name: "name", ColType: model.TypeString},
					{Name: "secret", ColType: model.TypeString, CryptoStore: true, Desensitize: model.DesensAES},
					{Name: "phone", ColType: model.TypeString, Desensitize: model.DesensReplace},
				},
			},
		},
	}
}

func newVaultExecutor(t *testing.T) *rdb.Executor {
	db, err := sql.Open("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	keeper, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = keeper.Close() })

	_, err = db.Exec(vaultSchema)
	require.NoError(t, err)

	pools := rdb.NewPools()
	pools.Attach("vault", db, "sqlite3")

	ns := vaultNamespace()
	require.NoError(t, ns.Validate())

	return rdb.NewExecutor(zaptest.NewLogger(t), pools, nsSource{"vault": ns}, nil, nil, rdb.Config{})
}

func TestUpdateKeepsEchoedDesensitizedFields(t *testing.T) {
	e := newVaultExecutor(t)
	ic := invoke.NewContext(nil)

	out, err := one(t, e, ic, "object://vault/credential#insert",
		map[string]any{"name": "db", "secret": "hunter2", "phone": "13812345678"})
	require.NoError(t, err)
	id := out.(rdb.Doc)["id"].(int64)

	out, err = one(t, e, ic, "object://vault/credential#select", id)
	require.NoError(t, err)
	row := out.(rdb.Doc)
	ciphertext := row["secret"].(string)
	require.NotEqual(t, "hunter2", ciphertext)
	masked := row["phone"].(string)
	require.Contains(t, masked, "*")

	// a client echoing the displayed row back, changing only the name
	row["name"] = "db primary"
	_, err = one(t, e, ic, "object://vault/credential#update", row)
	require.NoError(t, err)

	out, err = one(t, e, ic, "object://vault/credential#select", id)
	require.NoError(t, err)
	again := out.(rdb.Doc)
	require.Equal(t, "db primary", again["name"])
	// the echoed ciphertext was not re-encrypted and the echoed mask was
	// not stored over the clear value
	require.Equal(t, ciphertext, again["secret"])
	require.Equal(t, masked, again["phone"])
	require.NoError(t, ic.CommitAll())
}

func TestUpdateStoresReplacedSecret(t *testing.T) {
	e := newVaultExecutor(t)
	ic := invoke.NewContext(nil)

	out, err := one(t, e, ic, "object://vault/credential#insert",
		map[string]any{"name": "db", "secret": "hunter2"})
	require.NoError(t, err)
	id := out.(rdb.Doc)["id"].(int64)

	_, err = one(t, e, ic, "object://vault/credential#update",
		map[string]any{"id": id, "secret": "swordfish"})
	require.NoError(t, err)

	out, err = one(t, e, ic, "object://vault/credential#select", id)
	require.NoError(t, err)
	changed := out.(rdb.Doc)["secret"].(string)

	// encryption is deterministic, so a fresh row with the same clear
	// value pins down what the update must have stored
	out, err = one(t, e, ic, "object://vault/credential#insert",
		map[string]any{"name": "twin", "secret": "swordfish"})
	require.NoError(t, err)
	twinID := out.(rdb.Doc)["id"].(int64)

	out, err = one(t, e, ic, "object://vault/credential#select", twinID)
	require.NoError(t, err)
	require.Equal(t, out.(rdb.Doc)["secret"], changed)
	require.NoError(t, ic.CommitAll())
}

const travelSchema = `
create table t_person (
	id          integer primary key autoincrement,
	full_name   text,
	passport_id integer
);
create table t_passport (
	id     integer primary key autoincrement,
	serial text
);
`

func travelNamespace() *model.Namespace {
	return &model.Namespace{
		Name: "travel",
		Objects: []*model.Object{
			{
				Name:      "person",
				TableName: "t_person",
				Columns: []*model.Column{
					{Name: "id", ColType: model.TypeInteger, Pkey: true, Generator: model.GenAutoincrement},
					{Name: "full_name", ColType: model.TypeString},
					{Name: "passport_id", PropName: "passport", ColType: model.TypeRelation, RelationObject: "passport"},
				},
			},
			{
				Name:      "passport",
				TableName: "t_passport",
				Columns: []*model.Column{
					{Name: "id", ColType: model.TypeInteger, Pkey: true, Generator: model.GenAutoincrement},
					{Name: "serial", ColType: model.TypeString},
				},
			},
		},
	}
}

func newTravelExecutor(t *testing.T) *rdb.Executor {
	db, err := sql.Open("sqlite3", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	keeper, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = keeper.Close() })

	_, err = db.Exec(travelSchema)
	require.NoError(t, err)

	pools := rdb.NewPools()
	pools.Attach("travel", db, "sqlite3")

	ns := travelNamespace()
	require.NoError(t, ns.Validate())

	return rdb.NewExecutor(zaptest.NewLogger(t), pools, nsSource{"travel": ns}, nil, nil, rdb.Config{})
}

func TestDeleteCascadesScalarRelation(t *testing.T) {
	e := newTravelExecutor(t)
	ic := invoke.NewContext(nil)

	out, err := one(t, e, ic, "object://travel/person#insert", map[string]any{
		"full_name": "ada",
		"passport":  map[string]any{"serial": "P-100"},
	})
	require.NoError(t, err)
	id := out.(rdb.Doc)["id"].(int64)

	out, err = one(t, e, ic, "object://travel/person#select", id)
	require.NoError(t, err)
	nested := out.(rdb.Doc)["passport"].(rdb.Doc)
	require.Equal(t, "P-100", nested["serial"])

	deleted, err := one(t, e, ic, "object://travel/person#delete", id)
	require.NoError(t, err)
	require.Equal(t, "ada", deleted.(rdb.Doc)["full_name"])

	// the pointed-at row goes with its owner
	orphans, err := vec(t, e, ic, "object://travel/passport#query", nil)
	require.NoError(t, err)
	require.Empty(t, orphans)
	require.NoError(t, ic.CommitAll())
}

func TestDeleteWithDanglingScalarRelation(t *testing.T) {
	e := newTravelExecutor(t)
	ic := invoke.NewContext(nil)

	out, err := one(t, e, ic, "object://travel/person#insert",
		map[string]any{"full_name": "solo"})
	require.NoError(t, err)
	id := out.(rdb.Doc)["id"].(int64)

	_, err = one(t, e, ic, "object://travel/person#delete", id)
	require.NoError(t, err)

	gone, err := one(t, e, ic, "object://travel/person#select", id)
	require.NoError(t, err)
	require.Nil(t, gone)
	require.NoError(t, ic.CommitAll())
}
