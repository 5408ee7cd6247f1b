// Package feishu relays Feishu/Lark chats into a bridge session. Messages
// arrive over the SDK long connection and replies go out through the API.
package feishu

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/clawlink/clawlink/internal/relay"
	"github.com/clawlink/clawlink/internal/security"
)

// Config configures the Feishu relay.
type Config struct {
	AppID     string
	AppSecret string
	AllowFrom []string // open_ids allowed to talk, empty requires bind
	StateDir  string   // bind state location, default ~/.clawlink/state
}

// bindState is persisted so a restart keeps the paired operator.
type bindState struct {
	BoundUserID string `json:"boundUserId"`
	BoundAt     string `json:"boundAt"`
}

// Relay holds the SDK clients and pairing state.
type Relay struct {
	cfg       Config
	logger    *slog.Logger
	runner    *relay.Runner
	limiter   *security.SlidingWindowLimiter
	apiClient *lark.Client
	wsClient  *larkws.Client

	mu            sync.RWMutex
	bound         bool
	boundUserID   string
	bindCode      string
	lastMessageID string
}

// New creates a Feishu relay.
func New(cfg Config, runner *relay.Runner, logger *slog.Logger) *Relay {
	return &Relay{
		cfg:     cfg,
		logger:  logger.With("relay", "feishu"),
		runner:  runner,
		limiter: security.NewSlidingWindowLimiter(10, time.Minute),
	}
}

// Run starts the long connection and blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.cfg.AppID == "" || r.cfg.AppSecret == "" {
		return fmt.Errorf("feishu appId and appSecret are required")
	}

	if len(r.cfg.AllowFrom) > 0 {
		r.bound = true
		r.logger.Info("bind skipped, allowlist configured")
	} else if state, err := r.loadBindState(); err == nil && state.BoundUserID != "" {
		r.bound = true
		r.boundUserID = state.BoundUserID
		r.logger.Info("bind restored", "user", maskID(state.BoundUserID))
	} else {
		r.bindCode = generateBindCode(6)
		r.logger.Info("waiting for bind", "code", r.bindCode)
		fmt.Printf("\n  Feishu bot connected. Send to the bot:  bind %s\n\n", r.bindCode)
	}

	r.runner.SetPermissionHandler(func(id, reason string) {
		r.notifyPermission(reason)
	})

	r.apiClient = lark.NewClient(r.cfg.AppID, r.cfg.AppSecret)

	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(r.handleMessageEvent)

	r.wsClient = larkws.NewClient(r.cfg.AppID, r.cfg.AppSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelWarn),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.wsClient.Start(ctx)
	}()

	// Credential errors surface within the first moments of Start.
	select {
	case err := <-errCh:
		return fmt.Errorf("feishu connection failed: %w", err)
	case <-time.After(3 * time.Second):
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) handleMessageEvent(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}

	msg := event.Event.Message
	sender := event.Event.Sender

	if msg.MessageType == nil || *msg.MessageType != "text" {
		return nil
	}

	// Feishu wraps text content in JSON: {"text":"..."}
	var content struct {
		Text string `json:"text"`
	}
	if msg.Content != nil {
		_ = json.Unmarshal([]byte(*msg.Content), &content)
	}
	text := strings.TrimSpace(content.Text)
	if text == "" {
		return nil
	}

	senderID := ptrStr(sender.SenderId.OpenId)
	messageID := ptrStr(msg.MessageId)

	r.mu.RLock()
	bound := r.bound
	r.mu.RUnlock()

	if !bound {
		return r.handleBind(messageID, senderID, text)
	}

	if !r.isAllowed(senderID) {
		r.logger.Warn("message rejected, unauthorized user", "openId", maskID(senderID))
		return nil
	}

	r.mu.Lock()
	r.lastMessageID = messageID
	r.mu.Unlock()

	if strings.HasPrefix(text, "/") {
		r.handleCommand(messageID, text)
		return nil
	}

	if !r.limiter.Allow(senderID) {
		r.replyText(messageID, "Rate limit exceeded, slow down.")
		return nil
	}

	// Turns can run long; keep the SDK event loop unblocked.
	go func() {
		turnCtx, cancel := context.WithTimeout(context.Background(), relay.DefaultTurnTimeout)
		defer cancel()

		reply, err := r.runner.Ask(turnCtx, text)
		if err != nil {
			r.replyText(messageID, "Error: "+err.Error())
			return
		}
		if reply == "" {
			reply = "(no reply)"
		}
		r.replyText(messageID, reply)
	}()

	return nil
}

func (r *Relay) handleCommand(messageID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cmd := strings.Fields(text)[0]
	switch cmd {
	case "/approve", "/deny":
		approved := cmd == "/approve"
		if err := r.runner.ResolvePermission(ctx, approved); err != nil {
			r.replyText(messageID, "Error: "+err.Error())
			return
		}
		verdict := "denied"
		if approved {
			verdict = "approved"
		}
		r.replyText(messageID, "Permission "+verdict+".")

	case "/cancel":
		if err := r.runner.Cancel(ctx); err != nil {
			r.replyText(messageID, "Error: "+err.Error())
			return
		}
		r.replyText(messageID, "Turn cancelled.")

	case "/status":
		snap := r.runner.Snapshot()
		r.replyText(messageID, fmt.Sprintf("State: %s\nSession: %s\nTurn active: %v", snap.State, snap.SessionKey, snap.TurnActive))

	default:
		r.replyText(messageID, "Unknown command: "+cmd)
	}
}

// handleBind pairs the first operator that sends the right code.
func (r *Relay) handleBind(messageID, senderID, text string) error {
	code := strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToLower(code), "bind ") {
		code = strings.TrimSpace(code[5:])
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.EqualFold(code, r.bindCode) {
		r.bound = true
		r.boundUserID = senderID
		r.bindCode = ""
		r.logger.Info("bind successful", "sender", maskID(senderID))

		_ = r.saveBindState(bindState{
			BoundUserID: senderID,
			BoundAt:     time.Now().UTC().Format(time.RFC3339),
		})

		r.replyText(messageID, "Bind successful. You can start chatting now.")
		return nil
	}

	r.logger.Warn("bind code mismatch", "got", code)
	r.replyText(messageID, "Bind code mismatch. Send: bind <code>")
	return nil
}

func (r *Relay) isAllowed(userID string) bool {
	if len(r.cfg.AllowFrom) > 0 {
		for _, u := range r.cfg.AllowFrom {
			if u == "*" || u == userID {
				return true
			}
		}
		return false
	}
	return r.boundUserID != "" && userID == r.boundUserID
}

func (r *Relay) replyText(messageID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	contentJSON, _ := json.Marshal(map[string]string{"text": text})
	resp, err := r.apiClient.Im.Message.Reply(ctx, larkim.NewReplyMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType("text").
			Content(string(contentJSON)).
			Build()).
		Build())
	if err != nil {
		r.logger.Error("reply failed", "error", err)
		return
	}
	if !resp.Success() {
		r.logger.Error("reply rejected", "code", resp.Code, "msg", resp.Msg)
	}
}

func (r *Relay) notifyPermission(reason string) {
	r.mu.RLock()
	messageID := r.lastMessageID
	r.mu.RUnlock()
	if messageID == "" {
		return
	}
	r.replyText(messageID, "Permission requested: "+reason+"\nReply /approve or /deny.")
}

func (r *Relay) statePath() string {
	dir := r.cfg.StateDir
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".clawlink", "state")
	}
	return filepath.Join(dir, "feishu.json")
}

func (r *Relay) loadBindState() (*bindState, error) {
	data, err := os.ReadFile(r.statePath())
	if err != nil {
		return nil, err
	}
	var s bindState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Relay) saveBindState(s bindState) error {
	p := r.statePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(s, "", "  ")
	return os.WriteFile(p, data, 0o644)
}

func ptrStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func maskID(s string) string {
	if len(s) < 10 {
		return "***"
	}
	return s[:5] + "..." + s[len(s)-3:]
}

func generateBindCode(length int) string {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	code := make([]byte, length)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		code[i] = charset[n.Int64()]
	}
	return string(code)
}
