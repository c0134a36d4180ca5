// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package gateway

import (
	"github.com/datagate/datagate/gateway/rdb"
	"github.com/datagate/datagate/gateway/web"
)

// SchedulerIdentity is the simulated caller scheduled jobs run as.
type SchedulerIdentity struct {
	UserID   string
	UserName string
	Roles    []string
}

// Config is the process configuration.
type Config struct {
	// ModelDir holds the per-namespace TOML files.
	ModelDir string
	// CacheURL connects the shared result cache; empty disables caching.
	CacheURL string
	// Workers sizes the worker pool; zero means GOMAXPROCS.
	Workers int

	Web       web.Config
	Executor  rdb.Config
	Scheduler SchedulerIdentity
}
