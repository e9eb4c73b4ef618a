// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transport implements the agent's reconnecting connection to
// the remote collection service: the register → authenticate → stream
// state machine of spec.md §4.5, built on gorilla/websocket in place of
// the teacher's raw TLS control channel, generalized from a point-to-point
// keepalive/ping protocol into the register/heartbeat/exception wire
// grammar of spec.md §6.
package transport

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aivorynet/agent-go/internal/config"
	"github.com/aivorynet/agent-go/internal/identity"
	"github.com/aivorynet/agent-go/internal/logging"
	"github.com/aivorynet/agent-go/internal/queue"
	"github.com/aivorynet/agent-go/internal/report"
)

// Connection state constants, per spec.md §3's
// DISCONNECTED/CONNECTING/CONNECTED/AUTHENTICATED enum.
const (
	StateDisconnected  = "disconnected"
	StateConnecting    = "connecting"
	StateConnected     = "connected"
	StateAuthenticated = "authenticated"
)

// ErrAuthRejected is returned internally when the backend rejects the
// register frame; the worker treats this as terminal per §4.5.
var ErrAuthRejected = errors.New("transport: backend rejected registration")

// defaultHeartbeatInterval is H from spec.md §4.5 (30s by default).
const defaultHeartbeatInterval = 30 * time.Second

// Client owns the single background connection described in spec.md
// §4.5. External callers never touch the socket directly; they call
// SendExplicit (normal path) or SendBestEffort (signal-context path)
// and otherwise only observe State().
type Client struct {
	cfg      config.Config
	identity *identity.Identity
	queue    *queue.Queue
	logger   *slog.Logger
	limiter  *sendLimiter
	target   parsedURL

	heartbeatInterval time.Duration

	conn    *websocket.Conn
	connMu  sync.Mutex
	writeMu sync.Mutex

	state      atomic.Value // string
	terminal   atomic.Bool
	authedOnce atomic.Bool
	lastErr    atomic.Value // error

	stopCh chan struct{}
	stopMu sync.Once
	wg     sync.WaitGroup
}

// New constructs a Client. It fails synchronously on a malformed
// backend URL, matching the configuration-error propagation policy of
// spec.md §7.
func New(cfg config.Config, id *identity.Identity, q *queue.Queue, logger *slog.Logger) (*Client, error) {
	target, err := parseBackendURL(cfg.BackendURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:               cfg,
		identity:          id,
		queue:             q,
		logger:            logging.Component(logger, "transport"),
		limiter:           newSendLimiter(0),
		target:            target,
		heartbeatInterval: defaultHeartbeatInterval,
		stopCh:            make(chan struct{}),
	}
	c.state.Store(StateDisconnected)
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() string {
	return c.state.Load().(string)
}

// IsAuthenticated reports whether the worker currently holds an
// authenticated connection.
func (c *Client) IsAuthenticated() bool {
	return c.State() == StateAuthenticated
}

// Err returns the terminal error that stopped the worker from
// retrying, if any (currently only ErrAuthRejected).
func (c *Client) Err() error {
	v := c.lastErr.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

// Start launches the background worker goroutine.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
	c.logger.Info("transport worker started", "backend", c.target.DialTarget())
}

// Stop signals the worker to stop and waits for it to exit, per the
// idempotent shutdown interface of spec.md §6.
func (c *Client) Stop() {
	c.stopMu.Do(func() {
		close(c.stopCh)
	})

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	c.state.Store(StateDisconnected)
	c.logger.Info("transport worker stopped")
}

// SendExplicit is the normal-path outbound send entry point for
// explicit error reports. If the connection is authenticated and the
// rate limiter admits the send, the record is written inline;
// otherwise it is pushed onto the bounded queue for the worker to
// drain later, per §4.5's "outbound send" rule.
func (c *Client) SendExplicit(env report.Envelope) {
	if c.IsAuthenticated() && c.limiter.Allow() {
		if err := c.writeFrame(env); err == nil {
			return
		}
	}
	c.enqueue(env)
}

// SendBestEffort implements signalcapture.Sender: a single inline
// attempt if already authenticated, falling back to a queue push.
// Never blocks beyond acquiring writeMu, which is never held by this
// client across I/O that can itself fault.
func (c *Client) SendBestEffort(env report.Envelope) {
	if c.IsAuthenticated() {
		if err := c.writeFrame(env); err == nil {
			return
		}
	}
	c.enqueue(env)
}

func (c *Client) enqueue(env report.Envelope) {
	encoded, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to encode exception record", "error", err)
		return
	}
	if err := c.queue.Push(encoded); err != nil {
		c.logger.Warn("transport enqueue refused", "error", err)
	}
}

// writeFrame JSON-encodes and writes env as a single text frame.
func (c *Client) writeFrame(env report.Envelope) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("transport: no connection")
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, encoded)
}

// writeEncoded writes a pre-encoded record (as stored in the queue)
// verbatim.
func (c *Client) writeEncoded(conn *websocket.Conn, encoded []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, encoded)
}

// run is the worker loop of spec.md §4.5.
func (c *Client) run() {
	defer c.wg.Done()

	attempts := 0

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if c.terminal.Load() {
			c.logger.Error("transport worker stopping: terminal error, will not retry")
			return
		}

		c.state.Store(StateConnecting)
		c.authedOnce.Store(false)

		conn, err := c.connect()
		if err != nil {
			c.logger.Warn("transport connect failed", "error", err)
			c.state.Store(StateDisconnected)
			if !c.backoff(&attempts) {
				return
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.state.Store(StateConnected)

		if err := c.sendRegister(conn); err != nil {
			c.logger.Warn("transport register send failed", "error", err)
			c.closeConn()
			c.state.Store(StateDisconnected)
			if !c.backoff(&attempts) {
				return
			}
			continue
		}

		c.serviceConnection(conn)
		c.closeConn()
		c.state.Store(StateDisconnected)

		if c.terminal.Load() {
			c.logger.Error("transport worker stopping: authentication rejected", "error", c.Err())
			return
		}

		if c.authedOnce.Load() {
			attempts = 0
		}
		if !c.backoff(&attempts) {
			return
		}
	}
}

// backoff sleeps for 2^min(attempts,6) seconds after incrementing
// attempts, returning false if the max-attempts ceiling (M=10) was
// exceeded or the worker was asked to stop mid-sleep.
func (c *Client) backoff(attempts *int) bool {
	*attempts++
	maxAttempts := c.cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxReconnectTries
	}
	if *attempts > maxAttempts {
		c.logger.Error("transport worker stopping: max reconnect attempts exceeded", "attempts", *attempts)
		return false
	}

	delay := time.Duration(math.Pow(2, float64(min(*attempts, 6)))) * time.Second
	c.logger.Debug("transport backing off", "attempts", *attempts, "delay", delay)

	select {
	case <-c.stopCh:
		return false
	case <-time.After(delay):
		return true
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// connect dials the backend over gorilla/websocket, TLS-wrapped when
// the parsed URL scheme was wss://.
func (c *Client) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if c.target.UseTLS {
		dialer.TLSClientConfig = &tls.Config{ServerName: c.target.Host, MinVersion: tls.VersionTLS12}
	}

	conn, _, err := dialer.Dial(c.target.DialTarget(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// sendRegister writes the initial register frame, per §6.
func (c *Client) sendRegister(conn *websocket.Conn) error {
	payload := RegisterPayload{
		APIKey:         c.cfg.APIKey,
		AgentID:        c.identity.AgentID(),
		Hostname:       c.identity.Hostname(),
		Environment:    c.cfg.Environment,
		AgentVersion:   AgentVersion,
		Runtime:        "go",
		RuntimeVersion: runtimeVersion(),
		Platform:       c.identity.Platform(),
		Arch:           c.identity.Arch(),
	}

	f := frame{Type: "register", Payload: payload, Timestamp: time.Now().UnixMilli()}
	encoded, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.writeEncoded(conn, encoded)
}

// serviceConnection runs the read loop, heartbeat ticker, and queue
// drain until the connection drops, an auth rejection arrives, or the
// worker is stopped — the "service I/O" step of §4.5's worker loop.
func (c *Client) serviceConnection(conn *websocket.Conn) {
	done := make(chan struct{})
	var closeOnce sync.Once
	signalDone := func() { closeOnce.Do(func() { close(done) }) }

	go func() {
		defer signalDone()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.handleInbound(conn, string(data))
			if c.terminal.Load() {
				return
			}
		}
	}()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-done:
			return
		case <-ticker.C:
			if !c.IsAuthenticated() {
				continue
			}
			if err := c.sendHeartbeat(conn); err != nil {
				c.logger.Warn("transport heartbeat failed", "error", err)
				return
			}
			c.drainQueue(conn)
		}
	}
}

// handleInbound implements §6's inbound frame contract: substring
// sniffing only, per spec.md §9's Open Question.
func (c *Client) handleInbound(conn *websocket.Conn, body string) {
	switch {
	case inboundIsAuthRejection(body):
		c.logger.Error("transport registration rejected by backend", "body", body, "error", ErrAuthRejected)
		c.lastErr.Store(ErrAuthRejected)
		c.terminal.Store(true)
	case inboundIsRegistered(body):
		c.state.Store(StateAuthenticated)
		c.authedOnce.Store(true)
		c.logger.Info("transport authenticated")
		c.drainQueue(conn)
	}
}

// drainQueue pops and writes queued records in FIFO order until the
// queue is empty or a write fails, per §4.5's drain rule.
func (c *Client) drainQueue(conn *websocket.Conn) {
	if !c.IsAuthenticated() {
		return
	}
	for {
		record, ok := c.queue.Pop()
		if !ok {
			return
		}
		if err := c.writeEncoded(conn, record); err != nil {
			c.logger.Warn("transport drain write failed, requeueing", "error", err)
			if requeueErr := c.queue.Push(record); requeueErr != nil {
				c.logger.Warn("transport requeue refused, record lost", "error", requeueErr)
			}
			return
		}
	}
}

func (c *Client) sendHeartbeat(conn *websocket.Conn) error {
	f := frame{
		Type:      "heartbeat",
		Payload:   HeartbeatPayload{Timestamp: time.Now().UnixMilli()},
		Timestamp: time.Now().UnixMilli(),
	}
	encoded, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.writeEncoded(conn, encoded)
}

func runtimeVersion() string {
	return runtime.Version()
}
