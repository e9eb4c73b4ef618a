// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package agent

import (
	"testing"

	"github.com/aivorynet/agent-go/internal/config"
)

func TestInitRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = ""
	if err := Init(cfg); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if IsInitialized() {
		t.Fatalf("agent should not report initialized after a failed Init")
	}
}

func TestCaptureErrorNoopBeforeInit(t *testing.T) {
	if IsInitialized() {
		t.Fatalf("expected clean state at test start")
	}
	CaptureError("boom", "file.go", 1)
}

func TestShutdownNoopWithoutInit(t *testing.T) {
	Shutdown()
	Shutdown()
}

func TestConnectionStateUninitialized(t *testing.T) {
	if state := ConnectionState(); state != "uninitialized" {
		t.Fatalf("state = %q, want uninitialized", state)
	}
}

func TestInitThenDoubleInitFails(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "test-key"
	cfg.BackendURL = "ws://127.0.0.1:1/agent"
	cfg.CaptureSignals = false

	if err := Init(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer Shutdown()

	if !IsInitialized() {
		t.Fatalf("expected agent to report initialized")
	}
	if err := Init(cfg); err == nil {
		t.Fatalf("expected error on double Init")
	}
}

func TestMergeJSONObjectsLaterWins(t *testing.T) {
	merged := mergeJSONObjects([]string{`{"a":1,"b":1}`, `{"b":2}`})
	if merged != `{"a":1,"b":2}` {
		t.Fatalf("merged = %q", merged)
	}
}

func TestMergeJSONObjectsSkipsMalformed(t *testing.T) {
	merged := mergeJSONObjects([]string{`not json`, `{"a":1}`})
	if merged != `{"a":1}` {
		t.Fatalf("merged = %q", merged)
	}
}

func TestMergeJSONObjectsEmpty(t *testing.T) {
	if merged := mergeJSONObjects(nil); merged != "" {
		t.Fatalf("merged = %q, want empty", merged)
	}
}

// TestInitHonorsExplicitOverEnv proves the precedence documented on
// Init: an explicit field set after config.ApplyEnvironment survives a
// conflicting environment variable, since Init itself never consults
// the environment.
func TestInitHonorsExplicitOverEnv(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "env-key")
	t.Setenv(config.EnvEnvironment, "env-environment")

	cfg := config.ApplyEnvironment(config.Default())
	cfg.APIKey = "explicit-key"
	cfg.BackendURL = "ws://127.0.0.1:1/agent"
	cfg.CaptureSignals = false

	if cfg.Environment != "env-environment" {
		t.Fatalf("environment = %q, want env var to have applied to the base config", cfg.Environment)
	}

	if err := Init(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer Shutdown()

	if current.cfg.APIKey != "explicit-key" {
		t.Fatalf("APIKey = %q, want explicit value to survive Init", current.cfg.APIKey)
	}
}
