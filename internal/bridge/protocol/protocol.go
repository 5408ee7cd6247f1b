// Package protocol defines the gateway WebSocket wire protocol consumed by
// the bridge. Frames are JSON, one object per WebSocket message, and follow
// the v3 gateway shape: "req" requests, "res" responses correlated by id,
// and "event" pushes.
package protocol

import "encoding/json"

// ProtocolVersion is the protocol generation the bridge speaks. The bridge
// offers only this version in the connect handshake.
const ProtocolVersion = 3

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Frame is a raw protocol frame. A single shape covers all three frame
// types; the Type discriminator decides which fields are meaningful.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int             `json:"seq,omitempty"`
}

// ErrorShape is an error carried in a response frame.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Gateway error codes.
const (
	ErrorCodeUnknown          = "UNKNOWN"
	ErrorCodeInvalidRequest   = "INVALID_REQUEST"
	ErrorCodeMethodNotFound   = "METHOD_NOT_FOUND"
	ErrorCodeNotAuthorized    = "NOT_AUTHORIZED"
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeInternal         = "INTERNAL"
	ErrorCodeProtocolMismatch = "PROTOCOL_MISMATCH"
)

// RPC methods issued by the bridge.
const (
	MethodConnect         = "connect"
	MethodChatSend        = "chat.send"
	MethodChatAbort       = "chat.abort"
	MethodApprovalResolve = "exec.approval.resolve"
)

// Events consumed by the bridge.
const (
	EventConnectChallenge  = "connect.challenge"
	EventAgent             = "agent"
	EventChat              = "chat"
	EventApprovalRequested = "exec.approval.requested"

	// Periodic noise the translator discards.
	EventHealth    = "health"
	EventTick      = "tick"
	EventPresence  = "presence"
	EventHeartbeat = "heartbeat"
)

// Agent event stream discriminators.
const (
	StreamLifecycle = "lifecycle"
	StreamAssistant = "assistant"
	StreamTool      = "tool"
	StreamError     = "error"
)

// Chat event states.
const (
	ChatStateDelta = "delta"
	ChatStateFinal = "final"
	ChatStateError = "error"
)

// Lifecycle phases inside agent lifecycle/tool stream events.
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
	PhaseError = "error"
)

// ConnectParams is the "connect" request payload sent after the challenge.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role,omitempty"`
	Scopes      []string    `json:"scopes,omitempty"`
	Auth        *AuthInfo   `json:"auth,omitempty"`
	Device      *DeviceInfo `json:"device,omitempty"`
}

// ClientInfo describes the connecting client.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// AuthInfo carries the bearer token, when one is configured.
type AuthInfo struct {
	Token string `json:"token,omitempty"`
}

// DeviceInfo is the signed device identity block. Present only when a
// device keypair is available; the signature binds the connect attempt to
// the challenge nonce.
type DeviceInfo struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
	Nonce     string `json:"nonce,omitempty"`
}

// ChallengePayload is the connect.challenge event payload.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts,omitempty"`
}

// HelloPayload is the successful connect response payload. Only the fields
// the bridge inspects are modeled; gateways attach more.
type HelloPayload struct {
	Protocol int         `json:"protocol,omitempty"`
	Server   ServerInfo  `json:"server,omitempty"`
	Auth     *AuthResult `json:"auth,omitempty"`
}

// ServerInfo identifies the gateway.
type ServerInfo struct {
	Version string `json:"version,omitempty"`
	Host    string `json:"host,omitempty"`
	ConnID  string `json:"connId,omitempty"`
}

// AuthResult reports the role and scopes the gateway granted.
type AuthResult struct {
	Role   string   `json:"role,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// AgentEvent is the payload of an "agent" event. Data is stream-specific
// and deliberately left raw; the translator decodes it defensively.
type AgentEvent struct {
	RunID      string          `json:"runId,omitempty"`
	SessionKey string          `json:"sessionKey,omitempty"`
	Stream     string          `json:"stream,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Seq        int             `json:"seq,omitempty"`
}

// ChatEvent is the payload of a "chat" event.
type ChatEvent struct {
	RunID        string          `json:"runId,omitempty"`
	SessionKey   string          `json:"sessionKey,omitempty"`
	State        string          `json:"state,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// ApprovalEvent is the payload of an exec.approval.requested event.
type ApprovalEvent struct {
	ID      string `json:"id"`
	Command string `json:"command,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ChatSendParams is the chat.send request payload. IdempotencyKey lets the
// gateway collapse a client-side retry of the same logical prompt.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatSendResult is the chat.send response payload.
type ChatSendResult struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// ChatAbortParams is the chat.abort request payload.
type ChatAbortParams struct {
	SessionKey string `json:"sessionKey"`
}

// ApprovalResolveParams is the exec.approval.resolve request payload.
type ApprovalResolveParams struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}
