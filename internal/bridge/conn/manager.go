// Package conn implements the gateway connection manager: socket lifecycle,
// the challenge-response device handshake, correlated request/response RPC
// over the duplex channel, and bounded reconnection with backoff.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clawlink/clawlink/internal/bridge/protocol"
	"github.com/clawlink/clawlink/internal/identity"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Default deadlines.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultRPCTimeout     = 60 * time.Second
)

// ReconnectPolicy bounds the automatic reconnection loop that runs after an
// unexpected close of an established connection. Connection-establishment
// failures in Connect are never retried automatically.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
}

// DefaultReconnectPolicy returns the enabled policy with standard bounds.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:         true,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     10,
	}
}

// Options configures a Manager.
type Options struct {
	URL      string
	Token    string
	Identity *identity.Identity // optional; enables the device block
	Client   protocol.ClientInfo
	Role     string
	Scopes   []string

	ConnectTimeout time.Duration
	RPCTimeout     time.Duration
	Reconnect      ReconnectPolicy

	Dialer Dialer
	Logger *slog.Logger

	// OnEvent receives every inbound event frame after the handshake.
	OnEvent func(protocol.Frame)
	// OnClose fires when an established connection closes unexpectedly.
	OnClose func(code int, reason string)
	// Reconnection progress callbacks.
	OnReconnectAttempt func(attempt, max int)
	OnReconnected      func()
	OnReconnectFailed  func(err error)
}

type rpcResult struct {
	payload json.RawMessage
	err     error
}

// Manager owns the gateway socket. At most one transport is live at any
// time; reconnecting first tears down the previous handle.
type Manager struct {
	opts   Options
	logger *slog.Logger

	// connectMu serializes handshakes so overlapping Connect calls cannot
	// race for the transport slot.
	connectMu sync.Mutex

	mu       sync.Mutex
	state    State
	tr       Transport
	gen      int // transport generation; stale read loops check it
	pending  map[string]chan rpcResult
	disposed bool
	hello    protocol.HelloPayload

	onEvent            func(protocol.Frame)
	onClose            func(code int, reason string)
	onReconnectAttempt func(attempt, max int)
	onReconnected      func()
	onReconnectFailed  func(err error)
}

// New creates a Manager. The connection is not opened until Connect.
func New(opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = DefaultRPCTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = DialWebSocket
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Reconnect.Enabled {
		if opts.Reconnect.InitialInterval <= 0 {
			opts.Reconnect.InitialInterval = time.Second
		}
		if opts.Reconnect.MaxInterval <= 0 {
			opts.Reconnect.MaxInterval = 30 * time.Second
		}
		if opts.Reconnect.MaxAttempts <= 0 {
			opts.Reconnect.MaxAttempts = 10
		}
	}

	return &Manager{
		opts:               opts,
		logger:             opts.Logger.With("component", "conn"),
		state:              StateIdle,
		pending:            make(map[string]chan rpcResult),
		onEvent:            opts.OnEvent,
		onClose:            opts.OnClose,
		onReconnectAttempt: opts.OnReconnectAttempt,
		onReconnected:      opts.OnReconnected,
		onReconnectFailed:  opts.OnReconnectFailed,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Hello returns the connect response payload of the current connection.
func (m *Manager) Hello() protocol.HelloPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hello
}

// PendingCount returns the number of outstanding RPCs.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Connect opens the transport and drives the handshake to completion.
// Idempotent: returns immediately when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return newError(KindDisposed, "connection manager disposed")
	}
	if m.state == StateConnected && m.tr != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.establish(ctx)
}

// establish dials and authenticates one connection attempt. Callers hold
// connectMu.
func (m *Manager) establish(ctx context.Context) error {
	m.mu.Lock()
	if prev := m.tr; prev != nil {
		m.tr = nil
		prev.Close()
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	tr, err := m.opts.Dialer(ctx, m.opts.URL)
	if err != nil {
		m.markFailed()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return wrapError(KindConnectTimeout, "dial "+m.opts.URL, err)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return wrapError(KindTransportError, "dial cancelled", ctx.Err())
		}
		return wrapError(KindTransportError, "dial "+m.opts.URL, err)
	}

	done := make(chan error, 1)
	go func() { done <- m.runHandshake(tr) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		tr.Close() // unblocks the handshake read
		<-done
		m.markFailed()
		if errors.Is(ctx.Err(), context.Canceled) {
			return wrapError(KindTransportError, "connect cancelled", ctx.Err())
		}
		return newError(KindConnectTimeout,
			fmt.Sprintf("handshake did not complete within %s", m.opts.ConnectTimeout))
	}
	if err != nil {
		tr.Close()
		m.markFailed()
		return err
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		tr.Close()
		return newError(KindDisposed, "connection manager disposed")
	}
	m.tr = tr
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	go m.readLoop(tr, gen)
	m.logger.Info("connected to gateway", "url", m.opts.URL)
	return nil
}

// runHandshake waits for the connect.challenge event, answers it with a
// signed connect request, and waits for the matching response.
func (m *Manager) runHandshake(tr Transport) error {
	// Wait for the challenge. Anything else arriving first is skipped;
	// the gateway sends the challenge before any business events.
	var nonce string
	for {
		frame, err := readFrame(tr)
		if err != nil {
			return wrapError(KindTransportError, "awaiting challenge", err)
		}
		if frame.Type == protocol.FrameTypeEvent && frame.Event == protocol.EventConnectChallenge {
			var ch protocol.ChallengePayload
			if len(frame.Payload) > 0 {
				if err := json.Unmarshal(frame.Payload, &ch); err != nil {
					return wrapError(KindTransportError, "parsing challenge", err)
				}
			}
			nonce = ch.Nonce
			break
		}
	}

	m.mu.Lock()
	m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()

	params := protocol.ConnectParams{
		MinProtocol: protocol.ProtocolVersion,
		MaxProtocol: protocol.ProtocolVersion,
		Client:      m.opts.Client,
		Role:        m.opts.Role,
		Scopes:      m.opts.Scopes,
	}
	if m.opts.Token != "" {
		params.Auth = &protocol.AuthInfo{Token: m.opts.Token}
	}
	params.Device = signDevice(m.opts.Identity, m.opts.Client, m.opts.Role, m.opts.Scopes, m.opts.Token, nonce)

	raw, err := json.Marshal(params)
	if err != nil {
		return wrapError(KindTransportError, "marshal connect params", err)
	}
	reqID := uuid.NewString()
	data, err := json.Marshal(protocol.Frame{
		Type:   protocol.FrameTypeRequest,
		ID:     reqID,
		Method: protocol.MethodConnect,
		Params: raw,
	})
	if err != nil {
		return wrapError(KindTransportError, "marshal connect frame", err)
	}
	if err := tr.WriteMessage(data); err != nil {
		return wrapError(KindTransportError, "sending connect", err)
	}

	// Wait for the connect response, skipping events that arrive early.
	for {
		frame, err := readFrame(tr)
		if err != nil {
			return wrapError(KindTransportError, "awaiting connect response", err)
		}
		if frame.Type != protocol.FrameTypeResponse || frame.ID != reqID {
			continue
		}
		if frame.OK == nil || !*frame.OK {
			// Rejection reasons are surfaced verbatim.
			e := newError(KindAuthRejected, "connect rejected")
			if frame.Error != nil {
				e.Message = frame.Error.Message
				e.Code = frame.Error.Code
			}
			return e
		}
		var hello protocol.HelloPayload
		if len(frame.Payload) > 0 {
			json.Unmarshal(frame.Payload, &hello) // best effort
		}
		m.mu.Lock()
		m.hello = hello
		m.mu.Unlock()
		return nil
	}
}

func readFrame(tr Transport) (protocol.Frame, error) {
	var frame protocol.Frame
	data, err := tr.ReadMessage()
	if err != nil {
		return frame, err
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("malformed frame: %w", err)
	}
	return frame, nil
}

func (m *Manager) markFailed() {
	m.mu.Lock()
	if !m.disposed {
		m.setStateLocked(StateFailed)
	}
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("connection state", "from", m.state.String(), "to", s.String())
	m.state = s
}

// RPC issues a correlated request and blocks until the matching response,
// the RPC deadline, or ctx cancellation. Correlation identifiers are fresh
// per call, so concurrent RPCs never collide.
func (m *Manager) RPC(ctx context.Context, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	if m.state != StateConnected || m.tr == nil {
		m.mu.Unlock()
		return nil, newError(KindNotConnected, method+": not connected")
	}
	tr := m.tr
	id := uuid.NewString()
	ch := make(chan rpcResult, 1)
	m.pending[id] = ch
	m.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		m.removePending(id)
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	data, err := json.Marshal(protocol.Frame{
		Type:   protocol.FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	})
	if err != nil {
		m.removePending(id)
		return nil, fmt.Errorf("marshal %s frame: %w", method, err)
	}
	if err := tr.WriteMessage(data); err != nil {
		m.removePending(id)
		return nil, wrapError(KindTransportError, "sending "+method, err)
	}

	m.logger.Debug("rpc sent", "method", method, "id", id)

	timer := time.NewTimer(m.opts.RPCTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-timer.C:
		m.removePending(id)
		return nil, newError(KindRPCTimeout,
			fmt.Sprintf("%s: no response within %s", method, m.opts.RPCTimeout))
	case <-ctx.Done():
		m.removePending(id)
		return nil, ctx.Err()
	}
}

func (m *Manager) removePending(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// readLoop pumps inbound frames for one transport generation.
func (m *Manager) readLoop(tr Transport, gen int) {
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			m.handleDisconnect(tr, gen, err)
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed frames are logged and discarded, never fatal.
			m.logger.Warn("discarding malformed frame", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameTypeResponse:
			m.resolvePending(frame)
		case protocol.FrameTypeEvent:
			m.mu.Lock()
			handler := m.onEvent
			m.mu.Unlock()
			if handler != nil {
				handler(frame)
			}
		default:
			m.logger.Debug("ignoring frame", "type", frame.Type)
		}
	}
}

// resolvePending matches a response frame to its pending RPC. Exactly one
// of success or failure is delivered per correlation id; unmatched
// responses (late arrivals after a timeout) are dropped.
func (m *Manager) resolvePending(frame protocol.Frame) {
	m.mu.Lock()
	ch, ok := m.pending[frame.ID]
	if ok {
		delete(m.pending, frame.ID)
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("unmatched response", "id", frame.ID)
		return
	}

	if frame.OK != nil && *frame.OK {
		ch <- rpcResult{payload: frame.Payload}
		return
	}
	e := newError(KindRPCRejected, "request rejected")
	e.Code = protocol.ErrorCodeUnknown
	if frame.Error != nil {
		e.Message = frame.Error.Message
		e.Code = frame.Error.Code
	}
	ch <- rpcResult{err: e}
}

// handleDisconnect tears down a transport that failed mid-session, rejects
// everything pending, and kicks off reconnection when the policy allows.
func (m *Manager) handleDisconnect(tr Transport, gen int, cause error) {
	m.mu.Lock()
	if m.disposed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.tr = nil
	wasConnected := m.state == StateConnected
	m.setStateLocked(StateClosed)
	pend := m.pending
	m.pending = make(map[string]chan rpcResult)
	closeCB := m.onClose
	m.mu.Unlock()

	tr.Close()

	for id, ch := range pend {
		m.logger.Debug("rejecting pending rpc on close", "id", id)
		ch <- rpcResult{err: wrapError(KindTransportError, "connection closed", cause)}
	}

	code, reason := closeInfo(cause)
	m.logger.Warn("gateway connection closed", "code", code, "reason", reason)

	if !wasConnected {
		return
	}
	if closeCB != nil {
		closeCB(code, reason)
	}
	if m.opts.Reconnect.Enabled {
		go m.reconnectLoop()
	}
}

func closeInfo(err error) (int, string) {
	if ce, ok := err.(*CloseError); ok {
		return ce.Code, ce.Reason
	}
	if err != nil {
		return websocket.CloseAbnormalClosure, err.Error()
	}
	return websocket.CloseAbnormalClosure, ""
}

// reconnectLoop re-establishes a dropped session with jittered exponential
// backoff, bounded by the policy's attempt cap.
func (m *Manager) reconnectLoop() {
	pol := m.opts.Reconnect

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pol.InitialInterval
	bo.MaxInterval = pol.MaxInterval

	attempt := 0
	op := func() (struct{}, error) {
		m.mu.Lock()
		if m.disposed {
			m.mu.Unlock()
			return struct{}{}, backoff.Permanent(newError(KindDisposed, "connection manager disposed"))
		}
		attemptCB := m.onReconnectAttempt
		m.mu.Unlock()

		attempt++
		if attemptCB != nil {
			attemptCB(attempt, pol.MaxAttempts)
		}

		m.connectMu.Lock()
		err := m.establish(context.Background())
		m.connectMu.Unlock()
		if err != nil && IsKind(err, KindAuthRejected) {
			// Retrying a rejected identity will not change the outcome.
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(context.Background(), op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(pol.MaxAttempts)),
	)

	m.mu.Lock()
	disposed := m.disposed
	reconnectedCB := m.onReconnected
	failedCB := m.onReconnectFailed
	m.mu.Unlock()
	if disposed {
		return
	}

	if err != nil {
		m.logger.Error("reconnection exhausted", "attempts", attempt, "error", err)
		if failedCB != nil {
			failedCB(err)
		}
		return
	}
	m.logger.Info("reconnected to gateway", "attempts", attempt)
	if reconnectedCB != nil {
		reconnectedCB()
	}
}

// Dispose transitions to CLOSED, closes the transport, rejects all pending
// RPCs with Disposed, and releases listeners. Idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.setStateLocked(StateClosed)
	tr := m.tr
	m.tr = nil
	pend := m.pending
	m.pending = make(map[string]chan rpcResult)
	m.onEvent = nil
	m.onClose = nil
	m.onReconnectAttempt = nil
	m.onReconnected = nil
	m.onReconnectFailed = nil
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	for _, ch := range pend {
		ch <- rpcResult{err: newError(KindDisposed, "connection manager disposed")}
	}
	m.logger.Debug("connection manager disposed")
}
