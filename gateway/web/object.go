// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
)

// objectMethod handles POST /api/object/{ns}/{object}/{method}.
func (server *Server) objectMethod(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	method := vars["method"]

	claims, err := server.claims(r)
	if err != nil {
		server.serveError(w, err)
		return
	}
	args, err := objectArgs(method, r.Body)
	if err != nil {
		server.serveError(w, err)
		return
	}

	ctx := r.Context()
	ic := invoke.NewContext(claims)
	uri := invoke.SchemaObject + "://" + vars["namespace"] + "/" + vars["object"] + "#" + method

	var data any
	switch method {
	case invoke.MethodQuery:
		data, err = server.schemas.InvokeReturnVec(ctx, ic, uri, args)
	case invoke.MethodPagedQuery:
		data, err = server.schemas.InvokeReturnPage(ctx, ic, uri, args)
	default:
		data, err = server.schemas.InvokeReturnOne(ctx, ic, uri, args)
	}
	if finErr := server.finish(ctx, ic, err); finErr != nil {
		server.serveError(w, finErr)
		return
	}
	server.serveData(w, data)
}

// objectSelect handles GET /api/object/{ns}/{object}/select/{id}.
func (server *Server) objectSelect(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	claims, err := server.claims(r)
	if err != nil {
		server.serveError(w, err)
		return
	}

	var id any = vars["id"]
	if n, convErr := strconv.ParseInt(vars["id"], 10, 64); convErr == nil {
		id = n
	}

	ctx := r.Context()
	ic := invoke.NewContext(claims)
	uri := invoke.SchemaObject + "://" + vars["namespace"] + "/" + vars["object"] + "#" + invoke.MethodSelect

	data, err := server.schemas.InvokeReturnOne(ctx, ic, uri, []any{id})
	if finErr := server.finish(ctx, ic, err); finErr != nil {
		server.serveError(w, finErr)
		return
	}
	server.serveData(w, data)
}

// objectArgs shapes the request body into the invocation argument
// vector per method.
func objectArgs(method string, body io.Reader) ([]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, gerr.Malformed.Wrap(err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, gerr.Malformed.New("request body is not json: %v", err)
	}

	switch method {
	case invoke.MethodUpdateBy:
		doc, ok := decoded.(map[string]any)
		if !ok {
			return nil, gerr.Validation.New("update_by expects {values, cond}")
		}
		return []any{doc["values"], doc["cond"]}, nil

	case invoke.MethodUpsert:
		doc, ok := decoded.(map[string]any)
		if !ok {
			return nil, gerr.Validation.New("upsert expects an object")
		}
		if cond, ok := doc["_cond"]; ok {
			delete(doc, "_cond")
			return []any{doc, cond}, nil
		}
		return []any{doc}, nil

	default:
		return []any{decoded}, nil
	}
}
