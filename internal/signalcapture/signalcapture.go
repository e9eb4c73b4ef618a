// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package signalcapture installs handlers for the fatal signals named in
// spec.md §4.4 (SIGSEGV, SIGABRT, SIGFPE, SIGBUS, SIGILL), assembles a
// best-effort crash report, and re-raises so the process terminates the
// way it would have without the agent attached.
//
// Go's runtime treats SIGSEGV/SIGBUS/SIGILL/SIGFPE as synchronous
// faults of its own and will, for faults originating in Go code, already
// turn them into a runtime panic before a registered os/signal handler
// ever sees them; this handler's practical reach is faults that
// originate in cgo/assembly code or an explicit kill/raise from the
// host, which is also the fatal-signal surface original_source's
// sigaction-based handler was written against. There is no Go
// equivalent of libc's per-signal "previous handler" chain reachable
// from os/signal, so "restore previous handler" is implemented as
// signal.Reset, which hands the signal back to the OS default
// disposition before re-raising — the closest portable analogue.
package signalcapture

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aivorynet/agent-go/internal/backtrace"
	"github.com/aivorynet/agent-go/internal/report"
)

// Sender is the best-effort send entry point the handler calls once it
// has assembled a report. Implementations (internal/transport) must
// tolerate being called from this restricted context: no blocking
// beyond a bounded queue push, no allocation that can itself fault.
type Sender interface {
	SendBestEffort(env report.Envelope)
}

// IdentitySource supplies the fields the handler needs to build a
// record: satisfied by *internal/identity.Identity.
type IdentitySource = report.Identity

var watchedSignals = []os.Signal{
	syscall.SIGSEGV,
	syscall.SIGABRT,
	syscall.SIGFPE,
	syscall.SIGBUS,
	syscall.SIGILL,
}

// Handler owns the installed signal notification and its reentry guard.
type Handler struct {
	builder     *report.Builder
	identity    IdentitySource
	sender      Sender
	environment string
	maxDepth    int

	handling atomic.Bool
	sigCh    chan os.Signal
	done     chan struct{}
}

// New constructs a Handler. maxDepth caps the number of frames captured
// per signal, mirroring Config.MaxCaptureDepth; <= 0 means "use
// backtrace.MaxFrames". Install must be called separately to start
// watching signals.
func New(builder *report.Builder, identity IdentitySource, sender Sender, maxDepth int) *Handler {
	return &Handler{
		builder:  builder,
		identity: identity,
		sender:   sender,
		maxDepth: maxDepth,
		sigCh:    make(chan os.Signal, len(watchedSignals)),
		done:     make(chan struct{}),
	}
}

// Install registers the handler for SIGSEGV, SIGABRT, SIGFPE, SIGBUS,
// and SIGILL and starts the goroutine that services them.
func (h *Handler) Install() {
	signal.Notify(h.sigCh, watchedSignals...)
	go h.serve()
}

// Uninstall stops watching the signals and ends the serving goroutine,
// mirroring aivory_uninstall_signal_handlers.
func (h *Handler) Uninstall() {
	signal.Stop(h.sigCh)
	close(h.done)
}

func (h *Handler) serve() {
	for {
		select {
		case <-h.done:
			return
		case sig := <-h.sigCh:
			h.handle(sig)
		}
	}
}

// handle implements the handler contract of spec.md §4.4 steps 1-6.
func (h *Handler) handle(sig os.Signal) {
	sysSig, _ := sig.(syscall.Signal)

	if !h.handling.CompareAndSwap(false, true) {
		os.Exit(128 + int(sysSig))
		return
	}

	// Capture's error (no frames available) is deliberately swallowed
	// here rather than logged: this runs in the handler's restricted
	// context, and report.Build already treats nil frames as empty.
	frames, _ := backtrace.Capture(2, h.maxDepth)

	ev := report.Event{
		Kind:          report.KindFatalSignal,
		ExceptionType: signalName(sysSig),
		Message:       signalDescription(sysSig) + " (address: unknown)",
		SignalNumber:  int(sysSig),
		CapturedAt:    time.Now(),
		Frames:        frames,
	}

	env := h.builder.Build(ev, h.identity)

	h.sender.SendBestEffort(env)
	time.Sleep(100 * time.Millisecond)

	signal.Reset(sig)
	_ = syscall.Kill(os.Getpid(), sysSig)
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGFPE:
		return "SIGFPE"
	case syscall.SIGBUS:
		return "SIGBUS"
	case syscall.SIGILL:
		return "SIGILL"
	default:
		return "UNKNOWN"
	}
}

func signalDescription(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGSEGV:
		return "Segmentation fault"
	case syscall.SIGABRT:
		return "Abort signal"
	case syscall.SIGFPE:
		return "Floating point exception"
	case syscall.SIGBUS:
		return "Bus error"
	case syscall.SIGILL:
		return "Illegal instruction"
	default:
		return "Unknown signal"
	}
}
