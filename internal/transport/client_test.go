// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"log/slog"
	"testing"
	"time"

	"github.com/aivorynet/agent-go/internal/config"
	"github.com/aivorynet/agent-go/internal/identity"
	"github.com/aivorynet/agent-go/internal/queue"
	"github.com/aivorynet/agent-go/internal/report"
)

func TestNewRejectsMalformedBackendURL(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "key"
	cfg.BackendURL = "http://not-ws"

	_, err := New(cfg, identity.New(), queue.New(10), slog.Default())
	if err == nil {
		t.Fatalf("expected error for non-ws scheme")
	}
}

func TestSendExplicitQueuesWhenNotAuthenticated(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "key"
	cfg.BackendURL = "wss://example.invalid/agent"

	q := queue.New(10)
	c, err := New(cfg, identity.New(), q, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env := report.Envelope{Type: "exception", Payload: map[string]string{"id": "1"}, Timestamp: time.Now().UnixMilli()}
	c.SendExplicit(env)

	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
}

func TestSendBestEffortQueuesWhenNotAuthenticated(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "key"
	cfg.BackendURL = "wss://example.invalid/agent"

	q := queue.New(10)
	c, err := New(cfg, identity.New(), q, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env := report.Envelope{Type: "exception", Payload: map[string]string{"id": "1"}, Timestamp: time.Now().UnixMilli()}
	c.SendBestEffort(env)

	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
}

func TestHandleInboundAuthRejectionSetsErr(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "key"
	cfg.BackendURL = "wss://example.invalid/agent"

	c, err := New(cfg, identity.New(), queue.New(10), slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Err() != nil {
		t.Fatalf("expected no error before any rejection, got %v", c.Err())
	}

	c.handleInbound(nil, `{"type":"error","reason":"invalid_api_key"}`)

	if c.Err() != ErrAuthRejected {
		t.Fatalf("Err() = %v, want %v", c.Err(), ErrAuthRejected)
	}
	if !c.terminal.Load() {
		t.Fatalf("expected terminal to be set after auth rejection")
	}
}

func TestInitialStateIsDisconnected(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "key"
	cfg.BackendURL = "wss://example.invalid/agent"

	c, err := New(cfg, identity.New(), queue.New(10), slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %q, want %q", c.State(), StateDisconnected)
	}
	if c.IsAuthenticated() {
		t.Fatalf("expected not authenticated")
	}
}
