// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command agent-demo is a minimal illustration of embedding the agent
// package in a host program: it initializes the agent from environment
// variables and a couple of explicit flags, captures one synthetic
// error, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	agent "github.com/aivorynet/agent-go"
	"github.com/aivorynet/agent-go/internal/config"
)

func main() {
	var (
		apiKey     = flag.String("api-key", os.Getenv(config.EnvAPIKey), "agent API key")
		backendURL = flag.String("backend-url", "", "override the backend ws(s):// URL")
		env        = flag.String("environment", "", "deployment environment label")
	)
	flag.Parse()

	cfg := config.ApplyEnvironment(config.Default())
	cfg.APIKey = *apiKey
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}
	if *env != "" {
		cfg.Environment = *env
	}

	if err := agent.Init(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "agent-demo: failed to initialize agent: %v\n", err)
		os.Exit(1)
	}
	defer agent.Shutdown()

	agent.SetUser("demo-user-1", "demo@example.com", "demo")
	agent.SetContext(`{"component":"agent-demo"}`)

	if err := doWork(); err != nil {
		agent.CaptureError(err.Error(), "main.go", 50)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func doWork() error {
	time.Sleep(10 * time.Millisecond)
	return fmt.Errorf("synthetic demo error: example failure for illustration")
}
