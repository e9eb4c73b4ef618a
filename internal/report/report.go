// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package report turns a captured Event plus the agent's identity into
// the wire-ready "exception" record described in spec.md §6, assigning
// it a deterministic fingerprint along the way.
package report

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/aivorynet/agent-go/internal/backtrace"
)

// Kind distinguishes an explicit, host-reported error from a fatal
// signal capture.
type Kind int

const (
	KindExplicitError Kind = iota
	KindFatalSignal
)

// Event is the data an agent capture path hands to the Builder. Not
// every field applies to every Kind: File/Line are meaningful only for
// KindExplicitError; Address/SignalNumber only for KindFatalSignal.
type Event struct {
	Kind          Kind
	ExceptionType string
	Message       string
	File          string
	Line          int
	Address       string
	SignalNumber  int
	CapturedAt    time.Time
	Frames        []backtrace.Frame
	ContextJSON   string // caller-supplied free-form context, raw JSON object body or ""
}

// RuntimeInfo describes the process runtime, mirroring the
// runtime_info block of the exception payload.
type RuntimeInfo struct {
	Runtime        string `json:"runtime"`
	RuntimeVersion string `json:"runtime_version,omitempty"`
	Platform       string `json:"platform"`
	Arch           string `json:"arch"`
}

// ExceptionPayload is the payload body of an outbound "exception" frame.
type ExceptionPayload struct {
	ID              string              `json:"id"`
	ExceptionType   string              `json:"exception_type"`
	Message         string              `json:"message"`
	Fingerprint     string              `json:"fingerprint"`
	StackTrace      []backtrace.Frame   `json:"stack_trace"`
	LocalVariables  struct{}            `json:"local_variables"`
	Context         json.RawMessage     `json:"context"`
	CapturedAt      string              `json:"captured_at"`
	AgentID         string              `json:"agent_id"`
	Environment     string              `json:"environment"`
	RuntimeInfo     RuntimeInfo         `json:"runtime_info"`
}

// Envelope is the outer {type, payload, timestamp} wrapper common to
// every wire record in spec.md §6.
type Envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// Identity is the subset of the agent's process-wide identity the
// Builder needs; satisfied by *internal/identity.Identity.
type Identity interface {
	AgentID() string
	Hostname() string
	Platform() string
	Arch() string
}

// Builder assembles exception records for one agent instance.
type Builder struct {
	Environment       string
	MaxStringLength   int
	MaxCollectionSize int
}

// NewBuilder constructs a Builder from the configured environment label
// and field-length caps.
func NewBuilder(environment string, maxStringLength, maxCollectionSize int) *Builder {
	return &Builder{
		Environment:       environment,
		MaxStringLength:   maxStringLength,
		MaxCollectionSize: maxCollectionSize,
	}
}

// Build composes the full {type:"exception", payload, timestamp}
// envelope for ev, fingerprinting it from its exception type and encoded
// stack trace and stamping it with id's agent identity. The id suffix matches §4.4: signal events get "<agent-id>-signal", explicit
// errors get a plain "<agent-id>-<captured-at-unixnano>" id.
func (b *Builder) Build(ev Event, id Identity) Envelope {
	frames := ev.Frames
	if frames == nil {
		frames = []backtrace.Frame{}
	}

	message := truncate(escapeString(ev.Message), b.MaxStringLength)
	exceptionType := ev.ExceptionType

	encodedStack := encodeStackTrace(frames)
	fingerprint := Fingerprint(exceptionType, encodedStack)

	recordID := fmt.Sprintf("%s-%d", id.AgentID(), ev.CapturedAt.UnixNano())
	if ev.Kind == KindFatalSignal {
		recordID = id.AgentID() + "-signal"
	}

	ctx := buildContext(ev)

	payload := ExceptionPayload{
		ID:            recordID,
		ExceptionType: exceptionType,
		Message:       message,
		Fingerprint:   fingerprint,
		StackTrace:    frames,
		Context:       ctx,
		CapturedAt:    ev.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"),
		AgentID:       id.AgentID(),
		Environment:   b.Environment,
		RuntimeInfo: RuntimeInfo{
			Runtime:        "go",
			RuntimeVersion: runtime.Version(),
			Platform:       id.Platform(),
			Arch:           id.Arch(),
		},
	}

	return Envelope{
		Type:      "exception",
		Payload:   payload,
		Timestamp: ev.CapturedAt.UnixMilli(),
	}
}

// buildContext folds the event's structural fields (file/line for
// explicit errors, signal/fatal for signal events) together with any
// caller-supplied ContextJSON into a single JSON object, per §4.4's
// context = {signal, fatal} shape for signal events.
func buildContext(ev Event) json.RawMessage {
	fields := map[string]interface{}{}

	switch ev.Kind {
	case KindFatalSignal:
		fields["signal"] = ev.SignalNumber
		fields["fatal"] = true
		if ev.Address != "" {
			fields["address"] = ev.Address
		}
	case KindExplicitError:
		if ev.File != "" {
			fields["file"] = ev.File
			fields["line"] = ev.Line
		}
	}

	if ev.ContextJSON != "" {
		var extra map[string]interface{}
		if err := json.Unmarshal([]byte(ev.ContextJSON), &extra); err == nil {
			for k, v := range extra {
				fields[k] = v
			}
		}
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage("{}")
	}
	return encoded
}

// encodeStackTrace renders frames into the fixed-field JSON-array shape
// original_source's execinfo fallback produces ("method_name",
// "file_path", "is_native", "source_available" in that order), using
// escapeString rather than a general encoder so the bytes fed into
// Fingerprint are reproducible independent of struct field ordering or
// map iteration order.
func encodeStackTrace(frames []backtrace.Frame) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range frames {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`{"method_name":"`)
		b.WriteString(escapeString(f.MethodName))
		b.WriteString(`","file_path":"`)
		b.WriteString(escapeString(f.FilePath))
		b.WriteString(`","is_native":`)
		b.WriteString(strconv.FormatBool(f.IsNative))
		b.WriteString(`,"source_available":`)
		b.WriteString(strconv.FormatBool(f.SourceAvailable))
		b.WriteByte('}')
	}
	b.WriteByte(']')
	return b.String()
}
