// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package hooks runs the scripted pre/post hook chains around every
// invocation. Non-event hooks run sequentially and may rewrite the
// argument vector; event hooks are dispatched fire-and-forget on the
// worker pool and never contribute to the result.
package hooks

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
	"github.com/datagate/datagate/gateway/workpool"
)

var mon = monkit.Package()

// LangResolver finds the script engine registered for a file extension.
// The schema registry implements it.
type LangResolver interface {
	Lang(ext string) (invoke.LangExtension, bool)
}

// Pipeline executes hook chains.
type Pipeline struct {
	log   *zap.Logger
	langs LangResolver
	pool  *workpool.Pool
}

// New creates a pipeline.
func New(log *zap.Logger, langs LangResolver, pool *workpool.Pool) *Pipeline {
	return &Pipeline{log: log, langs: langs, pool: pool}
}

// RunPre runs the before-hooks of an invocation in declared order and
// returns the (possibly rewritten) argument vector. A failing non-event
// hook short-circuits the chain.
func (p *Pipeline) RunPre(ctx context.Context, ic *invoke.Context, uri *invoke.URI, chain []*model.Hook, args []any) (_ []any, err error) {
	defer mon.Task()(&ctx)(&err)
	return p.run(ctx, ic, uri, chain, args, true)
}

// RunPost runs the after-hooks of an invocation in declared order.
func (p *Pipeline) RunPost(ctx context.Context, ic *invoke.Context, uri *invoke.URI, chain []*model.Hook, args []any) (_ []any, err error) {
	defer mon.Task()(&ctx)(&err)
	return p.run(ctx, ic, uri, chain, args, false)
}

func (p *Pipeline) run(ctx context.Context, ic *invoke.Context, uri *invoke.URI, chain []*model.Hook, args []any, before bool) ([]any, error) {
	if len(chain) == 0 {
		return args, nil
	}

	ic.Insert(invoke.HookHandleURI, invoke.String(uri.String()))

	for _, hook := range chain {
		if hook.Before != before {
			continue
		}
		if hook.Event {
			p.fireEvent(ctx, ic, hook, args)
			continue
		}

		lang, ok := p.langs.Lang(hook.Lang)
		if !ok {
			return nil, gerr.NotFound.New("no script engine for extension %q", hook.Lang)
		}
		out, err := lang.ReturnVec(ctx, ic, hook.Script, args)
		if err != nil {
			return nil, gerr.Backend.New("hook %q: %v", hook.Script, err)
		}
		if len(out) > 0 {
			args = out
		}
	}
	return args, nil
}

// fireEvent schedules an event hook with a fresh sub-context so it can
// never block or fail its initiating call.
func (p *Pipeline) fireEvent(ctx context.Context, ic *invoke.Context, hook *model.Hook, args []any) {
	lang, ok := p.langs.Lang(hook.Lang)
	if !ok {
		p.log.Warn("event hook skipped, no script engine",
			zap.String("script", hook.Script), zap.String("lang", hook.Lang))
		return
	}

	sub := ic.Sub()
	script := hook.Script
	snapshot := append([]any(nil), args...)

	p.pool.Fire(ctx, func(ctx context.Context) (any, error) {
		_, err := lang.ReturnVec(ctx, sub, script, snapshot)
		if err != nil {
			p.log.Warn("event hook failed", zap.String("script", script), zap.Error(err))
		}
		return nil, nil
	})
}
