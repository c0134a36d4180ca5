// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package hooks_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/hooks"
	"github.com/datagate/datagate/gateway/invoke"
	"github.com/datagate/datagate/gateway/model"
	"github.com/datagate/datagate/gateway/workpool"
)

type fakeLang struct {
	mu      sync.Mutex
	calls   []string
	rewrite []any
	err     error
	ran     chan struct{}
}

func (f *fakeLang) ReturnOne(ctx context.Context, ic *invoke.Context, script string, args []any) (any, error) {
	out, err := f.ReturnVec(ctx, ic, script, args)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeLang) ReturnVec(ctx context.Context, ic *invoke.Context, script string, args []any) ([]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, script)
	f.mu.Unlock()
	if f.ran != nil {
		close(f.ran)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rewrite, nil
}

func (f *fakeLang) ReturnPage(ctx context.Context, ic *invoke.Context, script string, args []any) (*invoke.Page, error) {
	return nil, nil
}

func (f *fakeLang) scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeResolver map[string]invoke.LangExtension

func (r fakeResolver) Lang(ext string) (invoke.LangExtension, bool) {
	lang, ok := r[ext]
	return lang, ok
}

func newPipeline(t *testing.T, langs fakeResolver) (*hooks.Pipeline, *workpool.Pool) {
	pool := workpool.New(zaptest.NewLogger(t), 2)
	t.Cleanup(func() { require.NoError(t, pool.Close()) })
	return hooks.New(zaptest.NewLogger(t), langs, pool), pool
}

func mustURI(t *testing.T, text string) *invoke.URI {
	t.Helper()
	uri, err := invoke.ParseURI(text)
	require.NoError(t, err)
	return uri
}

func TestRunPreRewritesArgs(t *testing.T) {
	lang := &fakeLang{rewrite: []any{"rewritten"}}
	pipeline, _ := newPipeline(t, fakeResolver{"lua": lang})

	ic := invoke.NewContext(nil)
	uri := mustURI(t, "object://crm/user#insert")
	chain := []*model.Hook{{Before: true, Lang: "lua", Script: "a.lua"}}

	out, err := pipeline.RunPre(context.Background(), ic, uri, chain, []any{"original"})
	require.NoError(t, err)
	require.Equal(t, []any{"rewritten"}, out)
	require.Equal(t, []string{"a.lua"}, lang.scripts())

	v, ok := ic.Get(invoke.HookHandleURI)
	require.True(t, ok)
	handle, err := v.String()
	require.NoError(t, err)
	require.Equal(t, "object://crm/user#insert", handle)
}

func TestRunPreEmptyOutputKeepsArgs(t *testing.T) {
	lang := &fakeLang{}
	pipeline, _ := newPipeline(t, fakeResolver{"lua": lang})

	chain := []*model.Hook{{Before: true, Lang: "lua", Script: "noop.lua"}}
	out, err := pipeline.RunPre(context.Background(), invoke.NewContext(nil), mustURI(t, "object://crm/user#insert"), chain, []any{"kept"})
	require.NoError(t, err)
	require.Equal(t, []any{"kept"}, out)
}

func TestRunPreShortCircuitsOnError(t *testing.T) {
	failing := &fakeLang{err: errs.New("script blew up")}
	second := &fakeLang{}
	pipeline, _ := newPipeline(t, fakeResolver{"lua": failing, "js": second})

	chain := []*model.Hook{
		{Before: true, Lang: "lua", Script: "first.lua"},
		{Before: true, Lang: "js", Script: "second.js"},
	}
	_, err := pipeline.RunPre(context.Background(), invoke.NewContext(nil), mustURI(t, "object://crm/user#insert"), chain, nil)
	require.Error(t, err)
	require.True(t, gerr.Backend.Has(err))
	require.Empty(t, second.scripts())
}

func TestRunPreUnknownLang(t *testing.T) {
	pipeline, _ := newPipeline(t, fakeResolver{})

	chain := []*model.Hook{{Before: true, Lang: "tcl", Script: "x.tcl"}}
	_, err := pipeline.RunPre(context.Background(), invoke.NewContext(nil), mustURI(t, "object://crm/user#insert"), chain, nil)
	require.Error(t, err)
	require.True(t, gerr.NotFound.Has(err))
}

func TestRunPreSkipsPostHooks(t *testing.T) {
	pre := &fakeLang{}
	post := &fakeLang{}
	pipeline, _ := newPipeline(t, fakeResolver{"lua": pre, "js": post})

	chain := []*model.Hook{
		{Before: true, Lang: "lua", Script: "pre.lua"},
		{Before: false, Lang: "js", Script: "post.js"},
	}
	uri := mustURI(t, "object://crm/user#update")

	_, err := pipeline.RunPre(context.Background(), invoke.NewContext(nil), uri, chain, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"pre.lua"}, pre.scripts())
	require.Empty(t, post.scripts())

	_, err = pipeline.RunPost(context.Background(), invoke.NewContext(nil), uri, chain, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"post.js"}, post.scripts())
}

func TestEventHookDoesNotAffectResult(t *testing.T) {
	event := &fakeLang{rewrite: []any{"must not surface"}, ran: make(chan struct{})}
	pipeline, _ := newPipeline(t, fakeResolver{"lua": event})

	chain := []*model.Hook{{Before: true, Event: true, Lang: "lua", Script: "audit.lua"}}
	out, err := pipeline.RunPre(context.Background(), invoke.NewContext(nil), mustURI(t, "object://crm/user#delete"), chain, []any{"args"})
	require.NoError(t, err)
	require.Equal(t, []any{"args"}, out)

	<-event.ran
}

func TestEventHookErrorIsSwallowed(t *testing.T) {
	event := &fakeLang{err: errs.New("event failed"), ran: make(chan struct{})}
	pipeline, _ := newPipeline(t, fakeResolver{"lua": event})

	chain := []*model.Hook{{Before: true, Event: true, Lang: "lua", Script: "audit.lua"}}
	_, err := pipeline.RunPre(context.Background(), invoke.NewContext(nil), mustURI(t, "object://crm/user#delete"), chain, nil)
	require.NoError(t, err)

	<-event.ran
}
