// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package scheduler runs cron-style jobs against the invocation
// surface. Jobs are keyed by their declaring URI; scheduling the same
// key again replaces the earlier definition. Job failures are logged
// and never propagate.
package scheduler

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robfig/cron/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/invoke"
)

// Error is a scheduler error.
var Error = errs.Class("scheduler")

// Job is one scheduled unit. Either URI or Shell is set.
type Job struct {
	// Key identifies the job, conventionally ns://plugin/name#method.
	Key string
	// Spec is the cron expression.
	Spec string

	// URI invokes the invocation surface with Args.
	URI  string
	Args []any

	// Shell lines are joined with " && " and run through the host shell.
	Shell []string
	// Encoding names the code page shell output arrives in; empty means
	// UTF-8 pass-through.
	Encoding string
}

// Scheduler owns the cron runner and the job index.
type Scheduler struct {
	log      *zap.Logger
	registry *invoke.Registry
	identity jwt.MapClaims
	cron     *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler. Identity is the simulated caller
// placed on every URI job's context.
func New(log *zap.Logger, registry *invoke.Registry, identity jwt.MapClaims) *Scheduler {
	return &Scheduler{
		log:      log,
		registry: registry,
		identity: identity,
		cron:     cron.New(),
		entries:  make(map[string]cron.EntryID),
	}
}

// Upsert schedules a job, replacing any earlier job under the same key.
func (s *Scheduler) Upsert(job Job) error {
	if job.Key == "" || job.Spec == "" {
		return gerr.Validation.New("scheduled job needs a key and a cron spec")
	}
	var run func()
	switch {
	case job.URI != "":
		run = func() { s.runURI(job) }
	case len(job.Shell) > 0:
		run = func() { s.runShell(job) }
	default:
		return gerr.Validation.New("scheduled job %q has neither uri nor shell lines", job.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[job.Key]; ok {
		s.cron.Remove(id)
	}
	id, err := s.cron.AddFunc(job.Spec, run)
	if err != nil {
		return gerr.Malformed.Wrap(Error.Wrap(err))
	}
	s.entries[job.Key] = id
	return nil
}

// Remove unschedules a job. Removing an unknown key is a no-op.
func (s *Scheduler) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[key]; ok {
		s.cron.Remove(id)
		delete(s.entries, key)
	}
}

// Jobs lists the scheduled job keys.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for key := range s.entries {
		out = append(out, key)
	}
	return out
}

// Run starts the cron runner and blocks until the context is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Close stops the runner and waits for running jobs.
func (s *Scheduler) Close() error {
	<-s.cron.Stop().Done()
	return nil
}

// runURI is an outermost caller: it owns commit/rollback of the
// context it builds.
func (s *Scheduler) runURI(job Job) {
	ctx := context.Background()
	ic := invoke.NewContext(s.identity)

	_, err := s.registry.InvokeReturnOne(ctx, ic, job.URI, job.Args)
	if err != nil {
		ic.SetFailed()
	}
	if ic.Failed() {
		if rbErr := ic.RollbackAll(); rbErr != nil {
			s.log.Warn("scheduled rollback failed", zap.String("job", job.Key), zap.Error(rbErr))
		}
		s.log.Warn("scheduled invocation failed", zap.String("job", job.Key), zap.String("uri", job.URI), zap.Error(err))
		return
	}
	if err := ic.CommitAll(); err != nil {
		s.log.Warn("scheduled commit failed", zap.String("job", job.Key), zap.Error(err))
		return
	}
	s.log.Debug("scheduled invocation done", zap.String("job", job.Key), zap.String("uri", job.URI))
}

func (s *Scheduler) runShell(job Job) {
	command := strings.Join(job.Shell, " && ")

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/C", command)
	} else {
		cmd = exec.Command("sh", "-c", command)
	}
	raw, err := cmd.CombinedOutput()
	out := decodeOutput(job.Encoding, raw)
	if err != nil {
		s.log.Warn("scheduled command failed",
			zap.String("job", job.Key), zap.String("output", out), zap.Error(err))
		return
	}
	s.log.Info("scheduled command done",
		zap.String("job", job.Key), zap.String("output", strings.TrimSpace(out)))
}

// decodeOutput converts shell output to UTF-8 per the job's declared
// code page. Unknown names and decode failures fall back to the raw
// bytes.
func decodeOutput(encoding string, raw []byte) string {
	switch strings.ToLower(encoding) {
	case "gbk", "gb2312":
		out, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), raw)
		if err == nil {
			return string(out)
		}
	}
	return string(raw)
}
