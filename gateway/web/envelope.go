// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package web

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/gerr"
)

// Envelope is the fixed response shape of every endpoint.
type Envelope struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case gerr.Malformed.Has(err), gerr.Validation.Has(err):
		return http.StatusBadRequest
	case gerr.PermissionDenied.Has(err):
		return http.StatusForbidden
	case gerr.NotFound.Has(err):
		return http.StatusNotFound
	case gerr.AmbiguousUpsert.Has(err):
		return http.StatusMethodNotAllowed
	case gerr.Timeout.Has(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (server *Server) serveData(w http.ResponseWriter, data any) {
	server.serveEnvelope(w, Envelope{
		Status:    http.StatusOK,
		Message:   "ok",
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (server *Server) serveError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		server.log.Error("request failed", zap.Error(err))
	} else {
		server.log.Debug("request rejected", zap.Error(err))
	}
	server.serveEnvelope(w, Envelope{
		Status:    status,
		Message:   err.Error(),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (server *Server) serveEnvelope(w http.ResponseWriter, envelope Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(envelope.Status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		server.log.Error("encoding response failed", zap.Error(err))
	}
}
