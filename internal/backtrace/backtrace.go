// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package backtrace captures the current goroutine's call stack as a
// bounded list of frames, mirroring the shape original_source's
// aivory_capture_backtrace produces (method name, file path, native
// flag), but built on runtime.Callers/runtime.CallersFrames instead of
// libunwind or execinfo — there is no native unwinder to call from Go,
// and the corpus's own convention (confirmed elsewhere in the retrieval
// pack) is to walk runtime.Callers directly rather than shell out.
package backtrace

import (
	"errors"
	"runtime"
	"strconv"
	"strings"
)

// MaxFrames is the hard ceiling on how many frames Capture ever
// returns, matching AIVORY_MAX_STACK_FRAMES. A caller-supplied
// maxDepth (Config.MaxCaptureDepth) can only narrow this ceiling, never
// widen it.
const MaxFrames = 50

// ErrUnavailable is returned when the runtime could not produce any
// frames at all (runtime.Callers returned zero program counters),
// mirroring original_source's unwinder failure path where
// aivory_capture_backtrace falls back to an empty trace.
var ErrUnavailable = errors.New("backtrace: no frames available")

// Frame describes a single stack frame.
type Frame struct {
	MethodName      string `json:"method_name"`
	FilePath        string `json:"file_path,omitempty"`
	LineNumber      int    `json:"line_number,omitempty"`
	IsNative        bool   `json:"is_native"`
	SourceAvailable bool   `json:"source_available"`
}

// Capture walks the calling goroutine's stack, skipping skip frames
// beyond Capture itself, and returns up to min(MaxFrames, maxDepth)
// entries in caller-to-outermost order. maxDepth <= 0 means "use
// MaxFrames", the config-unset default. A frame whose symbol could not
// be resolved (no file/line info, typical of cgo or assembly stubs) is
// reported with IsNative true and SourceAvailable false; a normal Go
// frame is reported with SourceAvailable true.
func Capture(skip, maxDepth int) ([]Frame, error) {
	limit := MaxFrames
	if maxDepth > 0 && maxDepth < limit {
		limit = maxDepth
	}

	pcs := make([]uintptr, limit+skip+2)
	// +2: runtime.Callers itself, plus this function's frame.
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil, ErrUnavailable
	}

	framesIter := runtime.CallersFrames(pcs[:n])
	frames := make([]Frame, 0, n)

	for {
		rf, more := framesIter.Next()
		if len(frames) >= limit {
			break
		}

		native := rf.File == ""
		f := Frame{
			MethodName:      functionLabel(rf.Function),
			SourceAvailable: !native,
			IsNative:        native,
		}
		if !native {
			f.FilePath = rf.File
			f.LineNumber = rf.Line
		}
		frames = append(frames, f)

		if !more {
			break
		}
	}

	return frames, nil
}

// functionLabel trims a fully-qualified Go function name
// ("pkg/path.(*Type).Method") down to a readable method name, falling
// back to "<unknown>" for an empty symbol, matching the C unwinder's
// fallback when unw_get_proc_name fails.
func functionLabel(full string) string {
	if full == "" {
		return "<unknown>"
	}
	if idx := strings.LastIndexByte(full, '/'); idx >= 0 {
		full = full[idx+1:]
	}
	return full
}

// ParseSymbolLine parses a raw "module(function+offset) [address]"
// symbol string as produced by backtrace_symbols(3), the format
// original_source/capture/backtrace.c's extract_function_info parses.
// It exists so code handling frames arriving from a foreign (cgo or
// subprocess) unwinder can still be normalized into a Frame the same
// way the C agent does.
func ParseSymbolLine(symbol string) (funcName, filePath string, offset int) {
	if symbol == "" {
		return "", "", 0
	}

	lparen := strings.IndexByte(symbol, '(')
	rparen := strings.IndexByte(symbol, ')')
	if lparen < 0 || rparen < 0 || lparen >= rparen {
		return symbol, "", 0
	}

	filePath = symbol[:lparen]
	inner := symbol[lparen+1 : rparen]

	if plus := strings.IndexByte(inner, '+'); plus >= 0 {
		funcName = inner[:plus]
		if v, err := strconv.ParseInt(strings.TrimSpace(inner[plus+1:]), 0, 64); err == nil {
			offset = int(v)
		}
	} else {
		funcName = inner
	}

	return funcName, filePath, offset
}
