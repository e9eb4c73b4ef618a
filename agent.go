// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package agent is the embeddable crash and error reporting agent
// described in SPEC_FULL.md: a host program calls Init once at
// startup, CaptureError (or a panic recovered by Recover) at any error
// site, and Shutdown before exit. A single package-level instance
// mirrors the singleton lifecycle of original_source/agent.c's
// aivory_init/aivory_shutdown pair, since a process only ever wants
// one outbound connection to the collection backend.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aivorynet/agent-go/internal/archival"
	"github.com/aivorynet/agent-go/internal/backtrace"
	"github.com/aivorynet/agent-go/internal/config"
	"github.com/aivorynet/agent-go/internal/hostmonitor"
	"github.com/aivorynet/agent-go/internal/identity"
	"github.com/aivorynet/agent-go/internal/logging"
	"github.com/aivorynet/agent-go/internal/queue"
	"github.com/aivorynet/agent-go/internal/report"
	"github.com/aivorynet/agent-go/internal/signalcapture"
	"github.com/aivorynet/agent-go/internal/transport"
)

// agent bundles every subsystem wired together by Init; package-level
// state is guarded by mu so Init/Shutdown/CaptureError can be called
// from arbitrary host goroutines.
type agent struct {
	cfg     config.Config
	builder *report.Builder

	identity *identity.Identity
	queue    *queue.Queue
	client   *transport.Client
	monitor  *hostmonitor.Monitor
	spool    *archival.Spool
	sched    *archival.Scheduler
	stats    *archival.StatsReporter
	sigs     *signalcapture.Handler

	logger    *slog.Logger
	logCloser interface{ Close() error }
}

var (
	mu      sync.Mutex
	current *agent
)

// Init brings up the agent: validates cfg, installs identity/queue/
// transport/signal capture, and starts every background worker. It is
// an error to call Init twice without an intervening Shutdown.
//
// cfg is taken as-is: Init does not consult the environment. Hosts
// that want AIVORY_* overrides must call config.ApplyEnvironment
// themselves, before setting any explicit field, e.g.:
//
//	cfg := config.ApplyEnvironment(config.Default())
//	cfg.APIKey = apiKey // explicit host value wins over the environment
//	agent.Init(cfg)
//
// This keeps the precedence Default -> env -> explicit host values
// unambiguous: once a Config reaches Init, every field in it is final.
func Init(cfg config.Config) error {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return fmt.Errorf("agent: already initialized")
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, closer := logging.NewLogger(logLevel(cfg), "json", "")

	id := identity.New()
	builder := report.NewBuilder(cfg.Environment, cfg.MaxStringLength, cfg.MaxCollectionSize)

	spool, err := archival.NewSpool(context.Background(), cfg, logger)
	if err != nil {
		closer.Close()
		return fmt.Errorf("agent: %w", err)
	}

	q := queue.New(cfg.QueueSize)
	q.SetEvictionSink(spool.Add)

	client, err := transport.New(cfg, id, q, logger)
	if err != nil {
		closer.Close()
		return err
	}

	a := &agent{
		cfg:       cfg,
		builder:   builder,
		identity:  id,
		queue:     q,
		client:    client,
		monitor:   hostmonitor.New(logger),
		spool:     spool,
		logger:    logger,
		logCloser: closer,
	}

	if cfg.ArchivalEnabled {
		sched, err := archival.NewScheduler(cfg.ArchivalCronSpec, spool, logger)
		if err != nil {
			closer.Close()
			return fmt.Errorf("agent: %w", err)
		}
		a.sched = sched
	}

	a.stats = archival.NewStatsReporter(a, logger)

	if cfg.CaptureSignals {
		a.sigs = signalcapture.New(builder, id, client, cfg.MaxCaptureDepth)
	}

	a.client.Start()
	a.monitor.Start()
	a.stats.Start()
	if a.sched != nil {
		a.sched.Start()
	}
	if a.sigs != nil {
		a.sigs.Install()
	}

	current = a
	logger.Info("agent initialized", "agent_id", id.AgentID(), "environment", cfg.Environment)
	return nil
}

// IsInitialized reports whether Init has succeeded without a matching
// Shutdown.
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return current != nil
}

// Shutdown stops every background worker and releases the package-level
// instance, idempotently: calling Shutdown when not initialized is a
// no-op.
func Shutdown() {
	mu.Lock()
	a := current
	current = nil
	mu.Unlock()

	if a == nil {
		return
	}

	if a.sigs != nil {
		a.sigs.Uninstall()
	}
	if a.sched != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.sched.Stop(ctx)
		cancel()
	}
	a.stats.Stop()
	a.monitor.Stop()
	a.client.Stop()
	a.queue.Close()

	if err := a.spool.Flush(context.Background()); err != nil {
		a.logger.Warn("agent shutdown: final archival flush failed", "error", err)
	}

	a.logger.Info("agent shutdown complete")
	a.logCloser.Close()
}

// CaptureError reports an explicit error, sampled per cfg.SamplingRate,
// at the call site named by file/line. Frames are captured from the
// caller of CaptureError, matching aivory_capture_error's "skip self"
// convention.
func CaptureError(message, file string, line int) {
	CaptureErrorWithContext(message, file, line, "")
}

// CaptureErrorWithContext is CaptureError plus a caller-supplied raw
// JSON object body merged into the record's context field.
func CaptureErrorWithContext(message, file string, line int, contextJSON string) {
	mu.Lock()
	a := current
	mu.Unlock()

	if a == nil {
		return
	}
	if !report.ShouldSample(a.cfg.SamplingRate) {
		return
	}

	frames, err := backtrace.Capture(2, a.cfg.MaxCaptureDepth)
	if err != nil {
		a.logger.Debug("capture error: no backtrace available", "error", err)
	}
	ev := report.Event{
		Kind:          report.KindExplicitError,
		ExceptionType: "Error",
		Message:       message,
		File:          file,
		Line:          line,
		CapturedAt:    time.Now(),
		Frames:        frames,
		ContextJSON:   mergeHostContext(a, contextJSON),
	}

	env := a.builder.Build(ev, a.identity)
	a.client.SendExplicit(env)
}

// Recover, deferred at the top of a goroutine, captures a recovering
// panic as an explicit error and re-panics so normal Go crash behavior
// still applies; it is the idiomatic Go analogue of wrapping a
// try/catch around a call site.
func Recover() {
	r := recover()
	if r == nil {
		return
	}

	mu.Lock()
	a := current
	mu.Unlock()

	if a != nil && report.ShouldSample(a.cfg.SamplingRate) {
		frames, err := backtrace.Capture(3, a.cfg.MaxCaptureDepth)
		if err != nil {
			a.logger.Debug("recover: no backtrace available", "error", err)
		}
		ev := report.Event{
			Kind:          report.KindExplicitError,
			ExceptionType: "PanicRecovered",
			Message:       fmt.Sprint(r),
			CapturedAt:    time.Now(),
			Frames:        frames,
			ContextJSON:   mergeHostContext(a, ""),
		}
		env := a.builder.Build(ev, a.identity)
		a.client.SendExplicit(env)
	}

	panic(r)
}

// SetUser attaches a user descriptor to every subsequently captured
// record. Passing all-empty strings clears it.
func SetUser(id, email, username string) {
	mu.Lock()
	a := current
	mu.Unlock()
	if a == nil {
		return
	}
	if id == "" && email == "" && username == "" {
		a.identity.ClearUser()
		return
	}
	a.identity.SetUser(id, email, username)
}

// SetContext replaces the free-form custom context string attached to
// every subsequently captured record. Pass "" to clear it.
func SetContext(contextJSON string) {
	mu.Lock()
	a := current
	mu.Unlock()
	if a == nil {
		return
	}
	a.identity.SetContext(contextJSON)
}

// ConnectionState reports the transport's current connection state, or
// "uninitialized" if Init has not succeeded.
func ConnectionState() string {
	mu.Lock()
	a := current
	mu.Unlock()
	if a == nil {
		return "uninitialized"
	}
	return a.client.State()
}

// mergeHostContext folds the caller's context JSON together with the
// host resource snapshot and any user descriptor currently attached to
// identity, favoring explicit caller fields on key collision.
func mergeHostContext(a *agent, callerJSON string) string {
	user := a.identity.User()
	idCtx := a.identity.Context()

	parts := []string{a.monitor.ContextJSON()}
	if !user.Empty() {
		parts = append(parts, fmt.Sprintf(`{"user":{"id":%q,"email":%q,"username":%q}}`, user.ID, user.Email, user.Username))
	}
	if idCtx != "" {
		parts = append(parts, idCtx)
	}
	if callerJSON != "" {
		parts = append(parts, callerJSON)
	}

	return mergeJSONObjects(parts)
}

func logLevel(cfg config.Config) string {
	if cfg.Debug {
		return "debug"
	}
	return "info"
}

// StatsSource implementation, so *agent satisfies
// internal/archival.StatsSource without a further adapter type.

func (a *agent) ConnectionState() string { return a.client.State() }
func (a *agent) QueueLength() int        { return a.queue.Len() }
func (a *agent) QueueDropped() uint64    { return a.queue.Dropped() }
func (a *agent) SpoolLength() int        { return a.spool.Len() }
func (a *agent) SpoolDropped() uint64    { return a.spool.Dropped() }
