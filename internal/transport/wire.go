// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// RegisterPayload is the payload body of the outbound "register" frame,
// the first application-level frame sent on every connection (§6).
type RegisterPayload struct {
	APIKey         string `json:"api_key"`
	AgentID        string `json:"agent_id"`
	Hostname       string `json:"hostname"`
	Environment    string `json:"environment"`
	AgentVersion   string `json:"agent_version"`
	Runtime        string `json:"runtime"`
	RuntimeVersion string `json:"runtime_version"`
	Platform       string `json:"platform"`
	Arch           string `json:"arch"`
}

// HeartbeatPayload is the payload body of the outbound "heartbeat" frame.
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// frame is the generic {type, payload, timestamp} envelope shape.
type frame struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// AgentVersion is the agent release tag embedded in every register
// frame, settable at build time via -ldflags the way the teacher's
// Version var is.
var AgentVersion = "1.0.0"

// parsedURL is the outcome of parseBackendURL: host:port to dial, the
// request path, and whether the connection should be TLS-wrapped.
type parsedURL struct {
	UseTLS bool
	Host   string
	Port   string
	Path   string
}

// DialTarget returns the websocket dial target scheme://host:port/path,
// suitable for gorilla/websocket.Dialer.Dial.
func (p parsedURL) DialTarget() string {
	scheme := "ws"
	if p.UseTLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%s%s", scheme, p.Host, p.Port, p.Path)
}

// parseBackendURL implements §4.5's URL parsing rule: ws:// (plaintext,
// default port 80) and wss:// (encrypted, default port 443). An
// explicit ":port" overrides the default; an explicit path is
// preserved, else "/" is used. Any other scheme is a configuration
// error.
func parseBackendURL(raw string) (parsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parsedURL{}, fmt.Errorf("transport: malformed backend url %q: %w", raw, err)
	}

	var useTLS bool
	var defaultPort string
	switch strings.ToLower(u.Scheme) {
	case "ws":
		useTLS = false
		defaultPort = "80"
	case "wss":
		useTLS = true
		defaultPort = "443"
	default:
		return parsedURL{}, fmt.Errorf("transport: unsupported backend url scheme %q, want ws or wss", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return parsedURL{}, fmt.Errorf("transport: backend url %q has no host", raw)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return parsedURL{UseTLS: useTLS, Host: host, Port: port, Path: path}, nil
}

// Inbound frame sniffing, per §6: "the worker inspects only for the
// substrings registered, error, auth_error, invalid_api_key". This is
// deliberately brittle per spec.md §9's Open Question; a real parse is
// future work, not this contract.
func inboundIsRegistered(body string) bool {
	return strings.Contains(body, "registered")
}

func inboundIsAuthRejection(body string) bool {
	return strings.Contains(body, "error") &&
		(strings.Contains(body, "auth_error") || strings.Contains(body, "invalid_api_key"))
}
