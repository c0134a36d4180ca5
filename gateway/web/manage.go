// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package web

import (
	"io"
	"net/http"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/model"
)

// Management bodies are TOML, the same dialect as the namespace files
// on disk, so an operator can paste a file fragment straight into the
// API.

func (server *Server) addNamespace(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		server.serveError(w, gerr.Malformed.Wrap(err))
		return
	}
	ns, err := model.Parse(raw)
	if err != nil {
		server.serveError(w, gerr.Malformed.Wrap(err))
		return
	}
	if err := server.namespaces.Add(r.Context(), ns); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, ns.Name)
}

func (server *Server) getNamespace(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["namespace"]
	ns, ok := server.namespaces.Namespace(name)
	if !ok {
		server.serveError(w, gerr.NotFound.New("namespace %q", name))
		return
	}
	data, err := ns.Encode()
	if err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, string(data))
}

func (server *Server) deleteNamespace(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["namespace"]
	if err := server.namespaces.Remove(name); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, name)
}

func (server *Server) listNamespaces(w http.ResponseWriter, r *http.Request) {
	var names []string
	for _, ns := range server.namespaces.Namespaces() {
		names = append(names, ns.Name)
	}
	server.serveData(w, names)
}

func (server *Server) listResources(w http.ResponseWriter, r *http.Request) {
	server.serveData(w, server.namespaces.FullResources())
}

func (server *Server) addObject(w http.ResponseWriter, r *http.Request) {
	namespace := mux.Vars(r)["namespace"]
	var obj model.Object
	if err := decodeTOML(r.Body, &obj); err != nil {
		server.serveError(w, err)
		return
	}
	if err := server.namespaces.AddObject(namespace, &obj); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, obj.Name)
}

func (server *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := server.namespaces.DeleteObject(vars["namespace"], vars["name"]); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, vars["name"])
}

func (server *Server) addQuery(w http.ResponseWriter, r *http.Request) {
	namespace := mux.Vars(r)["namespace"]
	var q model.Query
	if err := decodeTOML(r.Body, &q); err != nil {
		server.serveError(w, err)
		return
	}
	if err := server.namespaces.AddQuery(namespace, &q); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, q.Name)
}

func (server *Server) deleteQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := server.namespaces.DeleteQuery(vars["namespace"], vars["name"]); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, vars["name"])
}

func (server *Server) addPlugin(w http.ResponseWriter, r *http.Request) {
	namespace := mux.Vars(r)["namespace"]
	var decl model.Plugin
	if err := decodeTOML(r.Body, &decl); err != nil {
		server.serveError(w, err)
		return
	}
	if err := server.namespaces.AddPlugin(namespace, &decl); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, decl.Name)
}

func (server *Server) deletePlugin(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := server.namespaces.DeletePlugin(vars["namespace"], vars["name"]); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, vars["name"])
}

func (server *Server) exportNamespace(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["namespace"]
	data, err := server.namespaces.Export(name)
	if err != nil {
		server.serveError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.zip"`)
	if _, err := w.Write(data); err != nil {
		server.log.Error("writing export failed", zap.Error(err))
	}
}

func (server *Server) importNamespace(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		server.serveError(w, gerr.Malformed.Wrap(err))
		return
	}
	if err := server.namespaces.Import(r.Context(), data); err != nil {
		server.serveError(w, err)
		return
	}
	server.serveData(w, "imported")
}

func decodeTOML(body io.Reader, v any) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return gerr.Malformed.Wrap(err)
	}
	if err := toml.Unmarshal(raw, v); err != nil {
		return gerr.Malformed.New("body is not valid toml: %v", err)
	}
	return nil
}
