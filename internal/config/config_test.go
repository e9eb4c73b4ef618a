// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"testing"
)

func TestDefaultPassesValidation(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "test-key"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestValidateRejectsBadScheme(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "k"
	cfg.BackendURL = "http://example.com"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for non-ws scheme")
	}
}

func TestValidateRequiresArchivalBucketWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "k"
	cfg.ArchivalEnabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing archival bucket")
	}
}

func TestApplyEnvironmentOverridesDefaults(t *testing.T) {
	os.Setenv(EnvAPIKey, "env-key")
	os.Setenv(EnvSamplingRate, "0.5")
	defer os.Unsetenv(EnvAPIKey)
	defer os.Unsetenv(EnvSamplingRate)

	cfg := ApplyEnvironment(Default())
	if cfg.APIKey != "env-key" {
		t.Fatalf("api key = %q, want env-key", cfg.APIKey)
	}
	if cfg.SamplingRate != 0.5 {
		t.Fatalf("sampling rate = %v, want 0.5", cfg.SamplingRate)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/path/agent.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/agent.yaml"
	content := "api_key: file-key\nbackend_url: wss://example.com/agent\nsampling_rate: 0.25\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIKey != "file-key" {
		t.Fatalf("api key = %q", cfg.APIKey)
	}
	if cfg.SamplingRate != 0.25 {
		t.Fatalf("sampling rate = %v", cfg.SamplingRate)
	}
}
