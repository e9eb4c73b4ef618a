// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging builds the single structured logger every agent
// subsystem shares, and the "component" scoping convention each of
// them uses to tag its own lines (transport, hostmonitor, archival, ...).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// componentKey is the slog attribute key every subsystem logger is
// scoped under, via Component or an equivalent .With call.
const componentKey = "component"

// NewLogger builds a *slog.Logger at the given level ("debug", "info"
// — the default, "warn", or "error") using either a "json" (default)
// or "text" handler. When filePath is non-empty, log lines are written
// to both stdout and the file (io.MultiWriter); an unopenable file
// falls back to stdout-only and a warning on stderr, rather than
// failing agent startup over a logging misconfiguration. The returned
// io.Closer must be closed on shutdown to flush and release the file;
// it is a no-op when filePath was empty.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer
}

// Component scopes logger under the given subsystem name, the single
// convention every logging agent package (transport, hostmonitor,
// archival) follows for self-identifying its log lines.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(componentKey, name)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
