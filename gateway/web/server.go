// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package web is the HTTP adapter over the invocation surface. It owns
// the request envelope, the error-to-status mapping and the outermost
// transaction boundary.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/registry"
)

// Error is a web adapter error.
var Error = errs.Class("web")

// Config holds the HTTP adapter settings.
type Config struct {
	// Address is the listen address, host:port.
	Address string
	// TokenSecret verifies bearer tokens when set. Without it claims are
	// taken from the token unverified, for deployments that terminate
	// auth upstream.
	TokenSecret string
	// AdminRole guards the management API when set.
	AdminRole string
}

// Server serves the object, query and management APIs.
type Server struct {
	log      *zap.Logger
	config   Config
	listener net.Listener
	server   http.Server

	schemas    *invoke.Registry
	namespaces *registry.Registry
}

// NewServer wires the routes onto a listener.
func NewServer(log *zap.Logger, config Config, listener net.Listener, schemas *invoke.Registry, namespaces *registry.Registry) *Server {
	server := &Server{
		log:        log,
		config:     config,
		listener:   listener,
		schemas:    schemas,
		namespaces: namespaces,
	}

	root := mux.NewRouter()
	api := root.PathPrefix("/api/").Subrouter()

	api.HandleFunc("/object/{namespace}/{object}/select/{id}", server.objectSelect).Methods("GET")
	api.HandleFunc("/object/{namespace}/{object}/{method}", server.objectMethod).Methods("POST")
	api.HandleFunc("/query/{namespace}/{query}/{method}", server.queryMethod).Methods("POST")

	manage := api.PathPrefix("/manage").Subrouter()
	manage.Use(server.withAdmin)
	manage.HandleFunc("/namespace", server.addNamespace).Methods("POST", "PUT")
	manage.HandleFunc("/namespace/{namespace}", server.getNamespace).Methods("GET")
	manage.HandleFunc("/namespace/{namespace}", server.deleteNamespace).Methods("DELETE")
	manage.HandleFunc("/namespaces", server.listNamespaces).Methods("GET")
	manage.HandleFunc("/resources", server.listResources).Methods("GET")
	manage.HandleFunc("/export/{namespace}", server.exportNamespace).Methods("GET")
	manage.HandleFunc("/import", server.importNamespace).Methods("POST")
	manage.HandleFunc("/{namespace}/object", server.addObject).Methods("POST", "PUT")
	manage.HandleFunc("/{namespace}/object/{name}", server.deleteObject).Methods("DELETE")
	manage.HandleFunc("/{namespace}/query", server.addQuery).Methods("POST", "PUT")
	manage.HandleFunc("/{namespace}/query/{name}", server.deleteQuery).Methods("DELETE")
	manage.HandleFunc("/{namespace}/plugin", server.addPlugin).Methods("POST", "PUT")
	manage.HandleFunc("/{namespace}/plugin/{name}", server.deletePlugin).Methods("DELETE")

	server.server.Handler = root
	return server
}

// Run serves requests until the context is done.
func (server *Server) Run(ctx context.Context) error {
	if server.listener == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			err = nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close shuts the server down.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

// finish is the outermost transaction boundary: commit everything when
// the call succeeded, roll back everything otherwise.
func (server *Server) finish(ctx context.Context, ic *invoke.Context, err error) error {
	defer func() {
		if closeErr := ic.Close(ctx); closeErr != nil {
			server.log.Warn("releasing pinned connections failed", zap.Error(closeErr))
		}
	}()

	if err != nil || ic.Failed() {
		if rbErr := ic.RollbackAll(); rbErr != nil {
			server.log.Warn("rollback failed", zap.Error(rbErr))
		}
		if err == nil {
			err = gerr.Backend.New("invocation flagged failure")
		}
		return err
	}
	if commitErr := ic.CommitAll(); commitErr != nil {
		return gerr.Backend.Wrap(commitErr)
	}
	return nil
}
