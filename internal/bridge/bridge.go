// Package bridge exposes the session facade: the narrow public contract a
// host (TUI, relay, CLI) uses to drive one gateway-backed agent session.
// It sequences the connection manager and the event translator and fans
// normalized messages out to registered handlers.
//
// The bridge supports one logical turn in flight per session key. Hosts
// issuing overlapping SendPrompt calls on the same key will interleave the
// streaming accumulator; that is a documented limitation, not a safe
// concurrent API.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clawlink/clawlink/internal/bridge/conn"
	"github.com/clawlink/clawlink/internal/bridge/message"
	"github.com/clawlink/clawlink/internal/bridge/protocol"
	"github.com/clawlink/clawlink/internal/bridge/translate"
	"github.com/clawlink/clawlink/internal/identity"
	"github.com/clawlink/clawlink/internal/journal"
)

// Handler consumes normalized messages. Handlers run synchronously on the
// read loop, in registration order; a panicking handler is isolated and
// logged without interrupting delivery to the rest.
type Handler func(message.Message)

// Options configures a Bridge.
type Options struct {
	URL      string
	Token    string
	Identity *identity.Identity
	Client   protocol.ClientInfo
	Role     string
	Scopes   []string

	ConnectTimeout time.Duration
	RPCTimeout     time.Duration
	Reconnect      conn.ReconnectPolicy
	StreamFamily   translate.Family

	Dialer  conn.Dialer // overridable for tests
	Logger  *slog.Logger
	Journal *journal.Journal // optional; closed on Dispose
}

type handlerReg struct {
	id int
	fn Handler
}

// Bridge is the session facade.
type Bridge struct {
	logger  *slog.Logger
	conn    *conn.Manager
	tr      *translate.Translator
	journal *journal.Journal

	emitted atomic.Int64

	mu         sync.Mutex
	handlers   []handlerReg
	nextID     int
	sessionKey string
	disposed   bool
}

// New creates a Bridge. No connection is opened until StartSession (or an
// explicit Connect).
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		logger:  logger.With("component", "bridge"),
		journal: opts.Journal,
	}
	b.tr = translate.New(opts.StreamFamily, logger)
	b.conn = conn.New(conn.Options{
		URL:            opts.URL,
		Token:          opts.Token,
		Identity:       opts.Identity,
		Client:         opts.Client,
		Role:           opts.Role,
		Scopes:         opts.Scopes,
		ConnectTimeout: opts.ConnectTimeout,
		RPCTimeout:     opts.RPCTimeout,
		Reconnect:      opts.Reconnect,
		Dialer:         opts.Dialer,
		Logger:         logger,

		OnEvent:            b.handleEvent,
		OnClose:            b.handleClose,
		OnReconnectAttempt: b.handleReconnectAttempt,
		OnReconnected:      b.handleReconnected,
		OnReconnectFailed:  b.handleReconnectFailed,
	})
	return b
}

// Connect ensures the gateway connection is established.
func (b *Bridge) Connect(ctx context.Context) error {
	return b.conn.Connect(ctx)
}

// State returns the connection lifecycle state.
func (b *Bridge) State() conn.State {
	return b.conn.State()
}

// Hello returns the gateway's connect response for the live connection.
func (b *Bridge) Hello() protocol.HelloPayload {
	return b.conn.Hello()
}

// SessionKey returns the key allocated by StartSession, or "" before it.
func (b *Bridge) SessionKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionKey
}

// StartSession ensures the connection, allocates a session key, emits the
// starting/idle status pair and, when initialPrompt is non-empty, forwards
// it through SendPrompt. Returns the session key.
func (b *Bridge) StartSession(ctx context.Context, initialPrompt string) (string, error) {
	if err := b.conn.Connect(ctx); err != nil {
		return "", err
	}

	key := "clawlink:" + uuid.NewString()
	b.mu.Lock()
	b.sessionKey = key
	b.mu.Unlock()

	b.journal.RecordConnection("session started " + key)
	b.emit(message.NewStatus(message.StatusStarting, ""))
	b.emit(message.NewStatus(message.StatusIdle, ""))

	if initialPrompt != "" {
		if err := b.SendPrompt(ctx, key, initialPrompt); err != nil {
			return key, err
		}
	}
	return key, nil
}

// SendPrompt submits one prompt for the session. Each call carries a fresh
// idempotency key, so a gateway-side retry of the same request cannot run
// the prompt twice.
func (b *Bridge) SendPrompt(ctx context.Context, sessionKey, text string) error {
	if b.conn.State() != conn.StateConnected {
		return &conn.Error{Kind: conn.KindNotConnected, Message: "send prompt: not connected"}
	}

	b.tr.Reset()
	b.emit(message.NewStatus(message.StatusRunning, ""))

	params := protocol.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        text,
		IdempotencyKey: uuid.NewString(),
	}
	payload, err := b.conn.RPC(ctx, protocol.MethodChatSend, params)
	if err != nil {
		b.tr.EndTurn()
		b.emit(message.NewStatus(message.StatusError, err.Error()))
		return err
	}

	var res protocol.ChatSendResult
	if len(payload) > 0 {
		if uerr := json.Unmarshal(payload, &res); uerr != nil {
			b.logger.Debug("unparseable chat.send result", "error", uerr)
		}
	}
	b.journal.RecordPrompt(sessionKey, res.RunID, text)
	b.logger.Debug("prompt accepted", "session", sessionKey, "runId", res.RunID, "status", res.Status)
	return nil
}

// Cancel asks the gateway to abort the active turn. Best effort: abort may
// be unsupported by the gateway, so failures are swallowed and the bridge
// optimistically reports idle either way.
func (b *Bridge) Cancel(ctx context.Context, sessionKey string) {
	_, err := b.conn.RPC(ctx, protocol.MethodChatAbort, protocol.ChatAbortParams{SessionKey: sessionKey})
	if err != nil {
		b.logger.Debug("chat.abort failed", "error", err)
	}
	b.tr.EndTurn()
	b.journal.RecordTurn(sessionKey, "cancelled", "")
	b.emit(message.NewStatus(message.StatusIdle, ""))
}

// RespondToPermission resolves a pending approval. The local
// permission-response message is emitted before the RPC is issued so the
// host UI never waits on a round trip it cannot observe.
func (b *Bridge) RespondToPermission(ctx context.Context, id string, approved bool) error {
	b.journal.RecordPermission(id, approved)
	b.emit(message.NewPermissionResponse(id, approved))
	_, err := b.conn.RPC(ctx, protocol.MethodApprovalResolve,
		protocol.ApprovalResolveParams{ID: id, Approved: approved})
	return err
}

// OnMessage registers a handler and returns its registration id.
func (b *Bridge) OnMessage(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers = append(b.handlers, handlerReg{id: b.nextID, fn: h})
	return b.nextID
}

// OffMessage removes a previously registered handler.
func (b *Bridge) OffMessage(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, reg := range b.handlers {
		if reg.id == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}

// WaitForResponseComplete polls the turn-active flag until it clears or
// the timeout elapses. Returns true when the turn completed. It never
// cancels the turn itself.
func (b *Bridge) WaitForResponseComplete(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if !b.tr.Responding() {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Dispose tears down the connection manager, clears handler registrations
// and closes the journal. Idempotent.
func (b *Bridge) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.handlers = nil
	b.mu.Unlock()

	b.conn.Dispose()
	b.journal.Close()
}

// Snapshot is a point-in-time view of bridge state for the status API.
type Snapshot struct {
	State       string `json:"state"`
	SessionKey  string `json:"sessionKey,omitempty"`
	PendingRPCs int    `json:"pendingRpcs"`
	TurnActive  bool   `json:"turnActive"`
	Emitted     int64  `json:"messagesEmitted"`
}

// Snapshot returns current bridge state.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	key := b.sessionKey
	b.mu.Unlock()
	return Snapshot{
		State:       b.conn.State().String(),
		SessionKey:  key,
		PendingRPCs: b.conn.PendingCount(),
		TurnActive:  b.tr.Responding(),
		Emitted:     b.emitted.Load(),
	}
}

// handleEvent translates one inbound event frame and delivers the result.
func (b *Bridge) handleEvent(frame protocol.Frame) {
	for _, msg := range b.tr.Translate(frame) {
		b.emit(msg)
	}
}

// handleClose reports an unexpected mid-session disconnect; the host may
// be mid-turn, so the close code travels in the status detail.
func (b *Bridge) handleClose(code int, reason string) {
	detail := fmt.Sprintf("connection closed (code %d)", code)
	if reason != "" {
		detail += ": " + reason
	}
	b.tr.EndTurn()
	b.journal.RecordConnection(detail)
	b.emit(message.NewStatus(message.StatusStopped, detail))
}

func (b *Bridge) handleReconnectAttempt(attempt, max int) {
	b.emit(message.NewStatus(message.StatusStarting,
		fmt.Sprintf("reconnecting (attempt %d/%d)", attempt, max)))
}

func (b *Bridge) handleReconnected() {
	b.journal.RecordConnection("reconnected")
	b.emit(message.NewStatus(message.StatusIdle, "reconnected"))
}

func (b *Bridge) handleReconnectFailed(err error) {
	b.journal.RecordConnection("reconnection failed: " + err.Error())
	b.emit(message.NewStatus(message.StatusError, "reconnection failed: "+err.Error()))
}

// emit delivers one message to every handler in registration order.
func (b *Bridge) emit(msg message.Message) {
	b.mu.Lock()
	regs := make([]handlerReg, len(b.handlers))
	copy(regs, b.handlers)
	b.mu.Unlock()

	b.emitted.Add(1)
	for _, reg := range regs {
		b.deliver(reg, msg)
	}
}

func (b *Bridge) deliver(reg handlerReg, msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked", "handler", reg.id, "panic", r)
		}
	}()
	reg.fn(msg)
}
