// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/datagate/datagate/gateway/gerr"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{gerr.Malformed.New("bad"), http.StatusBadRequest},
		{gerr.Validation.New("bad"), http.StatusBadRequest},
		{gerr.PermissionDenied.New("no"), http.StatusForbidden},
		{gerr.NotFound.New("gone"), http.StatusNotFound},
		{gerr.AmbiguousUpsert.New("two"), http.StatusMethodNotAllowed},
		{gerr.Timeout.New("slow"), http.StatusGatewayTimeout},
		{gerr.Backend.New("db"), http.StatusInternalServerError},
		{Error.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, statusOf(tc.err), tc.err.Error())
	}
}

func TestObjectArgsShaping(t *testing.T) {
	args, err := objectArgs("insert", strings.NewReader(""))
	require.NoError(t, err)
	require.Nil(t, args)

	args, err = objectArgs("insert", strings.NewReader(`{"title":"x"}`))
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"title": "x"}}, args)

	args, err = objectArgs("update_by", strings.NewReader(`{"values":{"a":1},"cond":{"and":[]}}`))
	require.NoError(t, err)
	require.Len(t, args, 2)
	require.Equal(t, map[string]any{"a": float64(1)}, args[0])

	args, err = objectArgs("upsert", strings.NewReader(`{"title":"x","_cond":{"and":[]}}`))
	require.NoError(t, err)
	require.Len(t, args, 2)
	doc := args[0].(map[string]any)
	_, carried := doc["_cond"]
	require.False(t, carried)

	args, err = objectArgs("upsert", strings.NewReader(`{"title":"x"}`))
	require.NoError(t, err)
	require.Len(t, args, 1)

	_, err = objectArgs("insert", strings.NewReader(`{broken`))
	require.Error(t, err)
	require.True(t, gerr.Malformed.Has(err))

	_, err = objectArgs("update_by", strings.NewReader(`[1,2]`))
	require.Error(t, err)
	require.True(t, gerr.Validation.Has(err))
}

func testServer(t *testing.T, config Config) *Server {
	return &Server{log: zaptest.NewLogger(t), config: config}
}

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestClaimsAnonymous(t *testing.T) {
	server := testServer(t, Config{})
	r := httptest.NewRequest("GET", "/", nil)

	claims, err := server.claims(r)
	require.NoError(t, err)
	require.Nil(t, claims)
}

func TestClaimsUnverifiedWithoutSecret(t *testing.T) {
	server := testServer(t, Config{})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "whatever", jwt.MapClaims{"name": "alice"}))

	claims, err := server.claims(r)
	require.NoError(t, err)
	require.Equal(t, "alice", claims["name"])

	r.Header.Set("Authorization", "Bearer not-a-token")
	_, err = server.claims(r)
	require.Error(t, err)
	require.True(t, gerr.Malformed.Has(err))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = server.claims(r)
	require.Error(t, err)
	require.True(t, gerr.Malformed.Has(err))
}

func TestClaimsVerifiedWithSecret(t *testing.T) {
	server := testServer(t, Config{TokenSecret: "s3cret"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "s3cret", jwt.MapClaims{"name": "alice"}))
	claims, err := server.claims(r)
	require.NoError(t, err)
	require.Equal(t, "alice", claims["name"])

	r.Header.Set("Authorization", "Bearer "+signedToken(t, "wrong", jwt.MapClaims{"name": "mallory"}))
	_, err = server.claims(r)
	require.Error(t, err)
	require.True(t, gerr.PermissionDenied.Has(err))
}

func TestWithAdmin(t *testing.T) {
	handled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handled = true })

	// no admin role configured, everything passes
	server := testServer(t, Config{})
	rec := httptest.NewRecorder()
	server.withAdmin(next).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.True(t, handled)

	server = testServer(t, Config{AdminRole: "admin"})

	handled = false
	rec = httptest.NewRecorder()
	server.withAdmin(next).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.False(t, handled)
	require.Equal(t, http.StatusForbidden, rec.Code)

	handled = false
	rec = httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "ignored", jwt.MapClaims{"roles": []any{"admin"}}))
	server.withAdmin(next).ServeHTTP(rec, r)
	require.True(t, handled)
}

func TestHasRole(t *testing.T) {
	require.False(t, hasRole(nil, "admin"))
	require.True(t, hasRole(jwt.MapClaims{"roles": []any{"ops", "admin"}}, "admin"))
	require.True(t, hasRole(jwt.MapClaims{"roles": []string{"admin"}}, "admin"))
	require.False(t, hasRole(jwt.MapClaims{"roles": []any{"ops"}}, "admin"))
	require.False(t, hasRole(jwt.MapClaims{"roles": "admin"}, "admin"))
}

func TestQueryArgsShaping(t *testing.T) {
	args, err := queryArgs(strings.NewReader(""))
	require.NoError(t, err)
	require.Nil(t, args)

	args, err = queryArgs(strings.NewReader(`{"params":{"min_age":18}}`))
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"min_age": float64(18)}}, args)

	args, err = queryArgs(strings.NewReader(`{"params":{"min_age":18},"paging":{"current":2,"size":20}}`))
	require.NoError(t, err)
	require.Len(t, args, 2)

	args, err = queryArgs(strings.NewReader(`{"min_age":18}`))
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"min_age": float64(18)}}, args)
}
