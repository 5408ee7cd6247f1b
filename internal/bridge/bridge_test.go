package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clawlink/clawlink/internal/bridge/conn"
	"github.com/clawlink/clawlink/internal/bridge/message"
	"github.com/clawlink/clawlink/internal/bridge/protocol"
)

// fakeTransport is an in-memory conn.Transport driven by the fake gateway.
type fakeTransport struct {
	in      chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:      make(chan []byte, 32),
		written: make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, &conn.CloseError{Code: 1006, Reason: "closed"}
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case t.written <- data:
		return nil
	case <-t.closed:
		return errors.New("write on closed transport")
	}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// fakeGateway answers the handshake and every RPC the bridge issues, and
// records what it saw.
type fakeGateway struct {
	tr *fakeTransport

	mu           sync.Mutex
	chatSends    []protocol.ChatSendParams
	aborts       []protocol.ChatAbortParams
	approvals    []protocol.ApprovalResolveParams
	abortErr     *protocol.ErrorShape
	approvalGate chan struct{}
}

func newFakeGateway() *fakeGateway {
	g := &fakeGateway{tr: newFakeTransport()}
	go g.run()
	return g
}

func (g *fakeGateway) send(frame protocol.Frame) {
	data, _ := json.Marshal(frame)
	select {
	case g.tr.in <- data:
	case <-g.tr.closed:
	}
}

func (g *fakeGateway) respondOK(id string, payload any) {
	raw, _ := json.Marshal(payload)
	ok := true
	g.send(protocol.Frame{Type: protocol.FrameTypeResponse, ID: id, OK: &ok, Payload: raw})
}

func (g *fakeGateway) respondErr(id string, shape *protocol.ErrorShape) {
	ok := false
	g.send(protocol.Frame{Type: protocol.FrameTypeResponse, ID: id, OK: &ok, Error: shape})
}

func (g *fakeGateway) run() {
	challenge, _ := json.Marshal(protocol.ChallengePayload{Nonce: "n"})
	g.send(protocol.Frame{Type: protocol.FrameTypeEvent, Event: protocol.EventConnectChallenge, Payload: challenge})

	for {
		var data []byte
		select {
		case data = <-g.tr.written:
		case <-g.tr.closed:
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Method {
		case protocol.MethodConnect:
			g.respondOK(frame.ID, protocol.HelloPayload{Protocol: protocol.ProtocolVersion})
		case protocol.MethodChatSend:
			var params protocol.ChatSendParams
			json.Unmarshal(frame.Params, &params)
			g.mu.Lock()
			g.chatSends = append(g.chatSends, params)
			g.mu.Unlock()
			g.respondOK(frame.ID, protocol.ChatSendResult{RunID: "run-1", Status: "started"})
		case protocol.MethodChatAbort:
			var params protocol.ChatAbortParams
			json.Unmarshal(frame.Params, &params)
			g.mu.Lock()
			g.aborts = append(g.aborts, params)
			rejection := g.abortErr
			g.mu.Unlock()
			if rejection != nil {
				g.respondErr(frame.ID, rejection)
			} else {
				g.respondOK(frame.ID, struct{}{})
			}
		case protocol.MethodApprovalResolve:
			var params protocol.ApprovalResolveParams
			json.Unmarshal(frame.Params, &params)
			g.mu.Lock()
			g.approvals = append(g.approvals, params)
			gate := g.approvalGate
			g.mu.Unlock()
			if gate != nil {
				select {
				case <-gate:
				case <-g.tr.closed:
					return
				}
			}
			g.respondOK(frame.ID, struct{}{})
		}
	}
}

func (g *fakeGateway) pushAgentEvent(t *testing.T, stream string, data any) {
	t.Helper()
	rawData, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	payload, err := json.Marshal(protocol.AgentEvent{Stream: stream, Data: rawData})
	if err != nil {
		t.Fatalf("marshal agent event: %v", err)
	}
	g.send(protocol.Frame{Type: protocol.FrameTypeEvent, Event: protocol.EventAgent, Payload: payload})
}

// collector gathers delivered messages for assertion.
type collector struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (c *collector) handle(m message.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) snapshot() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *collector) waitFor(t *testing.T, pred func(message.Message) bool) message.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, m := range c.snapshot() {
			if pred(m) {
				return m
			}
		}
		select {
		case <-deadline:
			t.Fatalf("no matching message arrived; have %+v", c.snapshot())
			return message.Message{}
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func newTestBridge(t *testing.T, g *fakeGateway) *Bridge {
	t.Helper()
	b := New(Options{
		URL:       "ws://127.0.0.1:18790",
		Token:     "tok",
		Client:    protocol.ClientInfo{ID: "clawlink-test", Mode: "cli"},
		Role:      "operator",
		Reconnect: conn.ReconnectPolicy{Enabled: false},
		Dialer: func(ctx context.Context, url string) (conn.Transport, error) {
			return g.tr, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(b.Dispose)
	return b
}

func TestStartSession(t *testing.T) {
	g := newFakeGateway()
	b := newTestBridge(t, g)
	var c collector
	b.OnMessage(c.handle)

	key, err := b.StartSession(context.Background(), "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !strings.HasPrefix(key, "clawlink:") {
		t.Errorf("session key = %q; want clawlink: prefix", key)
	}
	if got := b.SessionKey(); got != key {
		t.Errorf("SessionKey() = %q; want %q", got, key)
	}

	msgs := c.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("emitted %d messages; want 2 (starting, idle)", len(msgs))
	}
	if msgs[0].Status != message.StatusStarting || msgs[1].Status != message.StatusIdle {
		t.Errorf("statuses = %v, %v; want starting, idle", msgs[0].Status, msgs[1].Status)
	}
}

func TestSendPrompt(t *testing.T) {
	g := newFakeGateway()
	b := newTestBridge(t, g)
	var c collector
	b.OnMessage(c.handle)

	key, err := b.StartSession(context.Background(), "write a haiku")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	g.mu.Lock()
	sends := append([]protocol.ChatSendParams(nil), g.chatSends...)
	g.mu.Unlock()
	if len(sends) != 1 {
		t.Fatalf("gateway saw %d chat.send calls; want 1", len(sends))
	}
	if sends[0].SessionKey != key || sends[0].Message != "write a haiku" {
		t.Errorf("chat.send params = %+v; want session %q with the prompt", sends[0], key)
	}
	if sends[0].IdempotencyKey == "" {
		t.Error("chat.send carried no idempotency key")
	}

	c.waitFor(t, func(m message.Message) bool {
		return m.Type == message.TypeStatus && m.Status == message.StatusRunning
	})
	if !b.Snapshot().TurnActive {
		t.Error("TurnActive = false right after SendPrompt")
	}

	// Stream the reply and close the turn.
	g.pushAgentEvent(t, protocol.StreamAssistant, map[string]string{"delta": "Leaves fall"})
	c.waitFor(t, func(m message.Message) bool {
		return m.Type == message.TypeModelOutput && m.FullText == "Leaves fall"
	})
	g.pushAgentEvent(t, protocol.StreamLifecycle, map[string]string{"phase": "end"})

	if !b.WaitForResponseComplete(context.Background(), 2*time.Second) {
		t.Fatal("WaitForResponseComplete returned false")
	}
	if b.Snapshot().TurnActive {
		t.Error("TurnActive = true after the turn ended")
	}
}

func TestSendPromptFreshIdempotencyKeys(t *testing.T) {
	g := newFakeGateway()
	b := newTestBridge(t, g)

	key, err := b.StartSession(context.Background(), "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for _, prompt := range []string{"one", "two"} {
		if err := b.SendPrompt(context.Background(), key, prompt); err != nil {
			t.Fatalf("SendPrompt(%q): %v", prompt, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.chatSends) != 2 {
		t.Fatalf("gateway saw %d chat.send calls; want 2", len(g.chatSends))
	}
	if g.chatSends[0].IdempotencyKey == g.chatSends[1].IdempotencyKey {
		t.Error("two prompts reused one idempotency key")
	}
}

func TestSendPromptNotConnected(t *testing.T) {
	b := newTestBridge(t, newFakeGateway())

	err := b.SendPrompt(context.Background(), "clawlink:none", "hi")
	if !conn.IsKind(err, conn.KindNotConnected) {
		t.Fatalf("SendPrompt error kind = %v; want %v", conn.KindOf(err), conn.KindNotConnected)
	}
}

func TestHandlerOrderAndPanicIsolation(t *testing.T) {
	g := newFakeGateway()
	b := newTestBridge(t, g)

	var mu sync.Mutex
	var order []string
	b.OnMessage(func(message.Message) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	b.OnMessage(func(message.Message) { panic("boom") })
	b.OnMessage(func(message.Message) {
		mu.Lock()
		order = append(order, "third")
		mu.Unlock()
	})

	if _, err := b.StartSession(context.Background(), ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// Two statuses, each reaching the surviving handlers in order.
	want := []string{"first", "third", "first", "third"}
	if len(order) != len(want) {
		t.Fatalf("deliveries = %v; want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("deliveries = %v; want %v", order, want)
		}
	}
}

func TestOffMessage(t *testing.T) {
	g := newFakeGateway()
	b := newTestBridge(t, g)

	var c collector
	id := b.OnMessage(c.handle)
	b.OffMessage(id)

	if _, err := b.StartSession(context.Background(), ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if got := len(c.snapshot()); got != 0 {
		t.Errorf("removed handler received %d messages; want 0", got)
	}
}

func TestRespondToPermission(t *testing.T) {
	g := newFakeGateway()
	b := newTestBridge(t, g)
	var c collector
	b.OnMessage(c.handle)

	if _, err := b.StartSession(context.Background(), ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := b.RespondToPermission(context.Background(), "ap-1", true); err != nil {
		t.Fatalf("RespondToPermission: %v", err)
	}

	g.mu.Lock()
	approvals := append([]protocol.ApprovalResolveParams(nil), g.approvals...)
	g.mu.Unlock()
	if len(approvals) != 1 || approvals[0].ID != "ap-1" || !approvals[0].Approved {
		t.Errorf("gateway saw approvals %+v; want one approved ap-1", approvals)
	}

	echo := c.waitFor(t, func(m message.Message) bool {
		return m.Type == message.TypePermissionResponse
	})
	if echo.ID != "ap-1" || !echo.Approved {
		t.Errorf("local echo = %+v; want approved ap-1", echo)
	}
}

func TestPermissionEchoDoesNotWaitForGateway(t *testing.T) {
	g := newFakeGateway()
	gate := make(chan struct{})
	g.mu.Lock()
	g.approvalGate = gate
	g.mu.Unlock()

	b := newTestBridge(t, g)
	var c collector
	b.OnMessage(c.handle)

	if _, err := b.StartSession(context.Background(), ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.RespondToPermission(context.Background(), "ap-9", true) }()

	// The gateway sits on the resolve call; the echo must arrive anyway.
	echo := c.waitFor(t, func(m message.Message) bool {
		return m.Type == message.TypePermissionResponse
	})
	if echo.ID != "ap-9" || !echo.Approved {
		t.Errorf("local echo = %+v; want approved ap-9", echo)
	}
	select {
	case err := <-done:
		t.Fatalf("RespondToPermission returned before the gateway answered: %v", err)
	default:
	}

	close(gate)
	if err := <-done; err != nil {
		t.Errorf("RespondToPermission: %v", err)
	}
	g.mu.Lock()
	approvals := append([]protocol.ApprovalResolveParams(nil), g.approvals...)
	g.mu.Unlock()
	if len(approvals) != 1 || approvals[0].ID != "ap-9" {
		t.Errorf("gateway saw approvals %+v; want one ap-9", approvals)
	}
}

func TestCancelIsOptimistic(t *testing.T) {
	g := newFakeGateway()
	g.mu.Lock()
	g.abortErr = &protocol.ErrorShape{Code: protocol.ErrorCodeMethodNotFound, Message: "chat.abort unsupported"}
	g.mu.Unlock()

	b := newTestBridge(t, g)
	var c collector
	b.OnMessage(c.handle)

	key, err := b.StartSession(context.Background(), "long task")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !b.Snapshot().TurnActive {
		t.Fatal("TurnActive = false before Cancel")
	}

	b.Cancel(context.Background(), key)

	g.mu.Lock()
	aborts := len(g.aborts)
	g.mu.Unlock()
	if aborts != 1 {
		t.Errorf("gateway saw %d chat.abort calls; want 1", aborts)
	}
	if b.Snapshot().TurnActive {
		t.Error("TurnActive = true after Cancel")
	}
	msgs := c.snapshot()
	last := msgs[len(msgs)-1]
	if last.Type != message.TypeStatus || last.Status != message.StatusIdle {
		t.Errorf("last message = %+v; want idle status despite the rejected abort", last)
	}
}

func TestUnexpectedCloseEmitsStopped(t *testing.T) {
	g := newFakeGateway()
	b := newTestBridge(t, g)
	var c collector
	b.OnMessage(c.handle)

	if _, err := b.StartSession(context.Background(), "hi"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	g.tr.Close()

	stopped := c.waitFor(t, func(m message.Message) bool {
		return m.Type == message.TypeStatus && m.Status == message.StatusStopped
	})
	if !strings.Contains(stopped.Detail, "1006") {
		t.Errorf("stopped detail = %q; want the close code", stopped.Detail)
	}
	if b.Snapshot().TurnActive {
		t.Error("TurnActive = true after the connection dropped")
	}
}

func TestSnapshot(t *testing.T) {
	g := newFakeGateway()
	b := newTestBridge(t, g)

	snap := b.Snapshot()
	if snap.State != "idle" || snap.SessionKey != "" || snap.TurnActive {
		t.Errorf("initial snapshot = %+v; want idle and empty", snap)
	}

	key, err := b.StartSession(context.Background(), "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	snap = b.Snapshot()
	if snap.State != "connected" || snap.SessionKey != key {
		t.Errorf("snapshot = %+v; want connected with session %q", snap, key)
	}
	if snap.Emitted < 2 {
		t.Errorf("Emitted = %d; want at least the two lifecycle statuses", snap.Emitted)
	}
}
