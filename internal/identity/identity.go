// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package identity tracks the agent's own identity: a stable per-process
// agent ID, the local hostname, the runtime platform/arch, and the
// caller-supplied custom context and user descriptors. Fields that can
// change after Init (context, user) are held behind atomic.Value so
// readers on the report-building path never block on a writer.
package identity

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"
)

// Platform names, matching the enum original_source/agent.c derives from
// compile-time macros (__linux__/__APPLE__/_WIN32).
const (
	PlatformLinux   = "linux"
	PlatformDarwin  = "darwin"
	PlatformWindows = "windows"
	PlatformUnknown = "unknown"
)

// Arch names, matching the wire enum in spec.md §6
// (x64|x86|arm64|arm|unknown).
const (
	ArchX64     = "x64"
	ArchX86     = "x86"
	ArchARM64   = "arm64"
	ArchARM     = "arm"
	ArchUnknown = "unknown"
)

// Identity holds the agent's self-description for the lifetime of a
// single Init/Shutdown cycle.
type Identity struct {
	agentID  string
	hostname string
	platform string
	arch     string

	context atomic.Value // string
	user    atomic.Value // User
}

// User mirrors the object aivory_set_user builds in original_source.
type User struct {
	ID       string
	Email    string
	Username string
}

// Empty reports whether no user field was ever set.
func (u User) Empty() bool {
	return u.ID == "" && u.Email == "" && u.Username == ""
}

// New builds a fresh Identity: a generated agent ID, the local hostname
// (or "unknown" if it cannot be read), and the mapped platform/arch pair.
func New() *Identity {
	id := &Identity{
		agentID:  generateAgentID(),
		hostname: hostnameOrUnknown(),
		platform: platformName(),
		arch:     archName(),
	}
	id.context.Store("")
	id.user.Store(User{})
	return id
}

// AgentID returns the stable id assigned at New.
func (id *Identity) AgentID() string { return id.agentID }

// Hostname returns the local hostname captured at New.
func (id *Identity) Hostname() string { return id.hostname }

// Platform returns the runtime's platform enum value.
func (id *Identity) Platform() string { return id.platform }

// Arch returns the runtime's arch enum value.
func (id *Identity) Arch() string { return id.arch }

// SetContext replaces the free-form custom context string attached to
// every subsequent report, mirroring aivory_set_context. Passing ""
// clears it.
func (id *Identity) SetContext(contextJSON string) {
	id.context.Store(contextJSON)
}

// Context returns the currently set custom context string.
func (id *Identity) Context() string {
	return id.context.Load().(string)
}

// SetUser replaces the attached user descriptor, mirroring
// aivory_set_user. Passing all-empty fields is equivalent to ClearUser.
func (id *Identity) SetUser(userID, email, username string) {
	id.user.Store(User{ID: userID, Email: email, Username: username})
}

// ClearUser mirrors aivory_clear_user.
func (id *Identity) ClearUser() {
	id.user.Store(User{})
}

// User returns the currently attached user descriptor.
func (id *Identity) User() User {
	return id.user.Load().(User)
}

// generateAgentID mirrors aivory_generate_agent_id's "agent-%lx-%08x"
// shape: a hex timestamp, a hyphen, an 8-hex-digit random suffix. It
// prefers crypto/rand for the suffix and falls back to a time/pid mix,
// matching the original's /dev/urandom-with-fallback behavior.
func generateAgentID() string {
	now := time.Now().Unix()

	var buf [4]byte
	var randVal uint32
	if _, err := rand.Read(buf[:]); err == nil {
		randVal = binary.BigEndian.Uint32(buf[:])
	} else {
		randVal = uint32(now) ^ uint32(os.Getpid())
	}

	return fmt.Sprintf("agent-%x-%08x", now, randVal)
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

func platformName() string {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformDarwin
	case "windows":
		return PlatformWindows
	default:
		return PlatformUnknown
	}
}

func archName() string {
	switch runtime.GOARCH {
	case "amd64":
		return ArchX64
	case "arm64":
		return ArchARM64
	case "386":
		return ArchX86
	case "arm":
		return ArchARM
	default:
		return ArchUnknown
	}
}
