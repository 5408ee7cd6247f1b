// Package translate converts inbound gateway event frames into normalized
// messages. The wire format overloads the outer event name for structurally
// different payloads, so dispatch happens on two levels: the event name and,
// for agent events, the stream discriminator nested in the payload.
//
// The translator never fails on malformed input: unknown or missing fields
// default to zero values, and events it does not recognize are forwarded as
// generic-event messages rather than dropped. Only the denylisted periodic
// noise (health, tick, presence, heartbeat) is discarded outright.
package translate

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/clawlink/clawlink/internal/bridge/message"
	"github.com/clawlink/clawlink/internal/bridge/protocol"
)

// Family selects which streaming event family produces model-output. Some
// gateway versions emit agent assistant deltas, some emit chat state
// deltas, and the bridge cannot deduplicate across the two (they carry no
// shared identifier). FamilyAuto translates both independently.
type Family string

const (
	FamilyAuto  Family = "auto"
	FamilyAgent Family = "agent"
	FamilyChat  Family = "chat"
)

// ignoredEvents are periodic signals that never produce a message.
var ignoredEvents = map[string]bool{
	protocol.EventHealth:    true,
	protocol.EventTick:      true,
	protocol.EventPresence:  true,
	protocol.EventHeartbeat: true,
}

// Translator holds the streaming state for the single in-flight turn: the
// assembled-response accumulator and the responding flag. One Translator
// serves one session key at a time; concurrent turns would interleave the
// accumulator.
type Translator struct {
	logger *slog.Logger
	family Family

	mu         sync.Mutex
	buf        strings.Builder
	responding bool
}

// New creates a Translator. An empty family means FamilyAuto.
func New(family Family, logger *slog.Logger) *Translator {
	if family == "" {
		family = FamilyAuto
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		logger: logger.With("component", "translate"),
		family: family,
	}
}

// Reset clears the accumulator and marks a turn active. Called at the
// start of each prompt.
func (t *Translator) Reset() {
	t.mu.Lock()
	t.buf.Reset()
	t.responding = true
	t.mu.Unlock()
}

// Responding reports whether a turn is currently active.
func (t *Translator) Responding() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.responding
}

// EndTurn clears the accumulator and the responding flag. Used by the
// facade for optimistic cancellation.
func (t *Translator) EndTurn() {
	t.mu.Lock()
	t.buf.Reset()
	t.responding = false
	t.mu.Unlock()
}

// FullText returns the accumulated text of the current turn.
func (t *Translator) FullText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Translate converts one event frame into zero or more normalized messages
// and applies the required accumulator updates.
func (t *Translator) Translate(frame protocol.Frame) []message.Message {
	if ignoredEvents[frame.Event] {
		return nil
	}

	switch frame.Event {
	case protocol.EventAgent:
		return t.translateAgent(frame)
	case protocol.EventChat:
		return t.translateChat(frame)
	case protocol.EventApprovalRequested:
		return t.translateApproval(frame)
	case protocol.EventConnectChallenge:
		// Handshake traffic; the connection manager consumes these, but a
		// stray one after reconnect is not host business.
		return nil
	default:
		return []message.Message{message.NewGenericEvent(frame.Event, frame.Payload)}
	}
}

// agentData is the tolerant decode of the stream-specific data object.
// Field aliases cover the shapes noticed across gateway versions.
type agentData struct {
	Phase  string          `json:"phase,omitempty"`
	Delta  string          `json:"delta,omitempty"`
	Text   string          `json:"text,omitempty"`
	Error  string          `json:"error,omitempty"`
	Name   string          `json:"name,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	CallID string          `json:"callId,omitempty"`
}

func (t *Translator) translateAgent(frame protocol.Frame) []message.Message {
	var ev protocol.AgentEvent
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			t.logger.Warn("malformed agent event", "error", err)
			return []message.Message{message.NewGenericEvent(frame.Event, frame.Payload)}
		}
	}

	var data agentData
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.logger.Warn("malformed agent data", "stream", ev.Stream, "error", err)
		}
	}

	switch ev.Stream {
	case protocol.StreamLifecycle:
		switch data.Phase {
		case protocol.PhaseStart:
			t.Reset()
			return []message.Message{message.NewStatus(message.StatusRunning, "")}
		case protocol.PhaseEnd:
			t.EndTurn()
			return []message.Message{message.NewStatus(message.StatusIdle, "")}
		case protocol.PhaseError:
			t.EndTurn()
			return []message.Message{message.NewStatus(message.StatusError, data.Error)}
		default:
			return []message.Message{message.NewGenericEvent(frame.Event, frame.Payload)}
		}

	case protocol.StreamAssistant:
		if t.family == FamilyChat {
			return nil
		}
		delta := data.Delta
		if delta == "" {
			delta = data.Text
		}
		if delta == "" {
			return nil
		}
		return []message.Message{t.appendDelta(delta)}

	case protocol.StreamTool:
		name := data.Name
		if name == "" {
			name = data.Tool
		}
		args := data.Args
		if len(args) == 0 {
			args = data.Input
		}
		switch data.Phase {
		case protocol.PhaseStart:
			callID := data.CallID
			if callID == "" {
				callID = uuid.NewString()
			}
			return []message.Message{message.NewToolCall(name, args, callID)}
		case protocol.PhaseEnd:
			return []message.Message{message.NewToolResult(name, data.Result, data.CallID)}
		default:
			return []message.Message{message.NewGenericEvent(frame.Event, frame.Payload)}
		}

	case protocol.StreamError:
		t.EndTurn()
		detail := data.Error
		if detail == "" {
			detail = data.Text
		}
		return []message.Message{message.NewStatus(message.StatusError, detail)}

	default:
		return []message.Message{message.NewGenericEvent(frame.Event, frame.Payload)}
	}
}

func (t *Translator) translateChat(frame protocol.Frame) []message.Message {
	var ev protocol.ChatEvent
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			t.logger.Warn("malformed chat event", "error", err)
			return []message.Message{message.NewGenericEvent(frame.Event, frame.Payload)}
		}
	}

	switch ev.State {
	case protocol.ChatStateDelta:
		if t.family == FamilyAgent {
			return nil
		}
		delta := extractMessageText(ev.Message)
		if delta == "" {
			return nil
		}
		return []message.Message{t.appendDelta(delta)}

	case protocol.ChatStateFinal:
		t.EndTurn()
		return []message.Message{message.NewStatus(message.StatusIdle, "")}

	case protocol.ChatStateError:
		t.EndTurn()
		return []message.Message{message.NewStatus(message.StatusError, ev.ErrorMessage)}

	default:
		return []message.Message{message.NewGenericEvent(frame.Event, frame.Payload)}
	}
}

func (t *Translator) translateApproval(frame protocol.Frame) []message.Message {
	var ev protocol.ApprovalEvent
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			t.logger.Warn("malformed approval event", "error", err)
			return []message.Message{message.NewGenericEvent(frame.Event, frame.Payload)}
		}
	}
	reason := ev.Reason
	if reason == "" && ev.Command != "" {
		reason = "execute: " + ev.Command
	}
	return []message.Message{message.NewPermissionRequest(ev.ID, reason, frame.Payload)}
}

func (t *Translator) appendDelta(delta string) message.Message {
	t.mu.Lock()
	t.buf.WriteString(delta)
	t.responding = true
	full := t.buf.String()
	t.mu.Unlock()
	return message.NewModelOutput(delta, full)
}

// extractMessageText reconstructs text from a structured chat message:
// either a bare string or an object whose content is a string or a list of
// {type:"text",text} blocks.
func extractMessageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Content json.RawMessage `json:"content"`
		Text    string          `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if obj.Text != "" {
		return obj.Text
	}
	if len(obj.Content) == 0 {
		return ""
	}
	if err := json.Unmarshal(obj.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(obj.Content, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "" || blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}
