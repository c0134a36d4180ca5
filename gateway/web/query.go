// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package web

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
)

// queryMethod handles POST /api/query/{ns}/{query}/{search|paged_search}.
// The body is either the parameter object itself or {params, paging}.
func (server *Server) queryMethod(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	method := vars["method"]
	if method != invoke.MethodSearch && method != invoke.MethodPagedSearch {
		server.serveError(w, gerr.NotFound.New("query method %q", method))
		return
	}

	claims, err := server.claims(r)
	if err != nil {
		server.serveError(w, err)
		return
	}
	args, err := queryArgs(r.Body)
	if err != nil {
		server.serveError(w, err)
		return
	}

	ctx := r.Context()
	ic := invoke.NewContext(claims)
	uri := invoke.SchemaQuery + "://" + vars["namespace"] + "/" + vars["query"] + "#" + method

	var data any
	if method == invoke.MethodSearch {
		data, err = server.schemas.InvokeReturnVec(ctx, ic, uri, args)
	} else {
		data, err = server.schemas.InvokeReturnPage(ctx, ic, uri, args)
	}
	if finErr := server.finish(ctx, ic, err); finErr != nil {
		server.serveError(w, finErr)
		return
	}
	server.serveData(w, data)
}

func queryArgs(body io.Reader) ([]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, gerr.Malformed.Wrap(err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, gerr.Malformed.New("request body is not a json object: %v", err)
	}

	if params, ok := decoded["params"]; ok {
		if paging, ok := decoded["paging"]; ok {
			return []any{params, paging}, nil
		}
		return []any{params}, nil
	}
	return []any{decoded}, nil
}
