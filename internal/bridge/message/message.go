// Package message defines the bridge's host-facing message contract: a
// closed set of normalized variants whose fields are stable regardless of
// gateway wire-format variation. Messages are produced by the event
// translator, delivered to registered handlers, and never retained.
package message

import "encoding/json"

// Type discriminates the message variants.
type Type string

const (
	TypeStatus             Type = "status"
	TypeModelOutput        Type = "model-output"
	TypeToolCall           Type = "tool-call"
	TypeToolResult         Type = "tool-result"
	TypePermissionRequest  Type = "permission-request"
	TypePermissionResponse Type = "permission-response"
	TypeGenericEvent       Type = "generic-event"
)

// Status values carried by status messages.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusIdle     Status = "idle"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Message is one normalized outbound message. Only the fields of the
// active variant are populated; the rest stay zero.
type Message struct {
	Type Type `json:"type"`

	// status
	Status Status `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`

	// model-output
	TextDelta string `json:"textDelta,omitempty"`
	FullText  string `json:"fullText,omitempty"`

	// tool-call / tool-result
	ToolName string          `json:"toolName,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	CallID   string          `json:"callId,omitempty"`

	// permission-request / permission-response
	ID       string `json:"id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Approved bool   `json:"approved,omitempty"`

	// generic-event
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewStatus builds a status message.
func NewStatus(status Status, detail string) Message {
	return Message{Type: TypeStatus, Status: status, Detail: detail}
}

// NewModelOutput builds a model-output message carrying one delta and the
// accumulated text so far.
func NewModelOutput(delta, fullText string) Message {
	return Message{Type: TypeModelOutput, TextDelta: delta, FullText: fullText}
}

// NewToolCall builds a tool-call message.
func NewToolCall(name string, args json.RawMessage, callID string) Message {
	return Message{Type: TypeToolCall, ToolName: name, Args: args, CallID: callID}
}

// NewToolResult builds a tool-result message.
func NewToolResult(name string, result json.RawMessage, callID string) Message {
	return Message{Type: TypeToolResult, ToolName: name, Result: result, CallID: callID}
}

// NewPermissionRequest builds a permission-request. Payload carries the raw
// gateway payload for host inspection.
func NewPermissionRequest(id, reason string, payload json.RawMessage) Message {
	return Message{Type: TypePermissionRequest, ID: id, Reason: reason, Payload: payload}
}

// NewPermissionResponse builds a permission-response.
func NewPermissionResponse(id string, approved bool) Message {
	return Message{Type: TypePermissionResponse, ID: id, Approved: approved}
}

// NewGenericEvent builds the lossless fallback for unrecognized events.
func NewGenericEvent(name string, payload json.RawMessage) Message {
	return Message{Type: TypeGenericEvent, Name: name, Payload: payload}
}
