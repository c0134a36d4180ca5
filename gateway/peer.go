// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package gateway assembles the data-service gateway process: the
// namespace registry, the relational engines, the hook pipeline, the
// worker pool, the scheduler and the HTTP adapter.
package gateway

import (
	"context"
	"net"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/datagate/datagate/gateway/cache"
	"github.com/datagate/datagate/gateway/hooks"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/plugin"
	"github.com/datagate/datagate/gateway/rdb"
	"github.com/datagate/datagate/gateway/registry"
	"github.com/datagate/datagate/gateway/scheduler"
	"github.com/datagate/datagate/gateway/web"
	"github.com/datagate/datagate/gateway/workpool"
	kvredis "github.com/datagate/datagate/private/kvstore/redis"
)

// Error is a gateway process error.
var Error = errs.Class("gateway")

// Peer is the assembled process. Tests construct private instances
// with their own config; nothing here is a package-level global.
type Peer struct {
	Log *zap.Logger

	Namespaces *registry.Registry
	Schemas    *invoke.Registry
	Pools      *rdb.Pools
	Workers    *workpool.Pool
	Hooks      *hooks.Pipeline
	Cache      *cache.Cache
	Executor   *rdb.Executor
	Queries    *rdb.QueryExecutor
	Scheduler  *scheduler.Scheduler

	Server *web.Server

	store    *kvredis.Client
	listener net.Listener
}

// New assembles a peer from config: loads the model directory, opens a
// database pool per namespace, connects the cache and binds the HTTP
// listener.
func New(ctx context.Context, log *zap.Logger, config Config, installers *plugin.Installers) (*Peer, error) {
	if installers == nil {
		installers = plugin.Default
	}
	peer := &Peer{Log: log}

	// The registry owns pool lifecycle so namespaces added over the
	// admin API are reachable without a restart.
	peer.Pools = rdb.NewPools()
	peer.Namespaces = registry.New(log.Named("registry"), config.ModelDir, installers)
	peer.Namespaces.SetPools(peer.Pools)
	if err := peer.Namespaces.LoadAll(ctx); err != nil {
		_ = peer.Pools.Close()
		return nil, err
	}

	if config.CacheURL != "" {
		store, err := kvredis.OpenClientFrom(ctx, config.CacheURL)
		if err != nil {
			_ = peer.Pools.Close()
			return nil, err
		}
		peer.store = store
		peer.Cache = cache.New(log.Named("cache"), store)
	}

	peer.Workers = workpool.New(log.Named("workpool"), config.Workers)
	peer.Schemas = invoke.NewRegistry()
	peer.Hooks = hooks.New(log.Named("hooks"), peer.Schemas, peer.Workers)

	peer.Executor = rdb.NewExecutor(log.Named("rdb"), peer.Pools, peer.Namespaces, peer.Cache, peer.Hooks, config.Executor)
	peer.Queries = rdb.NewQueryExecutor(log.Named("rdb"), peer.Pools, peer.Namespaces, peer.Cache, peer.Hooks)

	peer.Schemas.RegisterObject(peer.Executor)
	peer.Schemas.RegisterQuery(peer.Queries)
	peer.Schemas.RegisterDirect(peer.Executor)
	peer.Schemas.RegisterPlugins(peer.Namespaces)

	peer.Scheduler = scheduler.New(log.Named("scheduler"), peer.Schemas, config.schedulerClaims())

	if config.Web.Address != "" {
		listener, err := net.Listen("tcp", config.Web.Address)
		if err != nil {
			_ = peer.closeResources()
			return nil, Error.Wrap(err)
		}
		peer.listener = listener
		peer.Server = web.NewServer(log.Named("web"), config.Web, listener, peer.Schemas, peer.Namespaces)
	}

	return peer, nil
}

// Run serves until the context is cancelled.
func (peer *Peer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	if peer.Server != nil {
		group.Go(func() error { return peer.Server.Run(ctx) })
	}
	group.Go(func() error { return peer.Scheduler.Run(ctx) })
	return group.Wait()
}

// Close shuts the peer down in reverse dependency order.
func (peer *Peer) Close() error {
	var group errs.Group
	if peer.Server != nil {
		group.Add(peer.Server.Close())
	}
	group.Add(peer.Scheduler.Close())
	group.Add(peer.Workers.Close())
	group.Add(peer.closeResources())
	return Error.Wrap(group.Err())
}

func (peer *Peer) closeResources() error {
	var group errs.Group
	group.Add(peer.Namespaces.Close())
	group.Add(peer.Pools.Close())
	if peer.store != nil {
		group.Add(peer.store.Close())
	}
	return group.Err()
}

// schedulerClaims builds the simulated identity scheduled jobs run as.
func (config Config) schedulerClaims() jwt.MapClaims {
	if config.Scheduler.UserID == "" && config.Scheduler.UserName == "" {
		return nil
	}
	roles := make([]any, 0, len(config.Scheduler.Roles))
	for _, role := range config.Scheduler.Roles {
		roles = append(roles, role)
	}
	return jwt.MapClaims{
		"id":    config.Scheduler.UserID,
		"name":  config.Scheduler.UserName,
		"roles": roles,
	}
}
