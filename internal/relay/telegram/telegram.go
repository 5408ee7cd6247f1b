// Package telegram relays Telegram chats into a bridge session.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/clawlink/clawlink/internal/relay"
	"github.com/clawlink/clawlink/internal/security"
)

// Telegram caps message bodies at 4096 characters.
const maxMessageLen = 4000

// Config configures the Telegram relay.
type Config struct {
	BotToken  string
	AllowFrom []string // usernames or numeric user ids, empty allows everyone
}

// Relay long-polls the Telegram Bot API and forwards prompts to the runner.
type Relay struct {
	cfg     Config
	logger  *slog.Logger
	runner  *relay.Runner
	bot     *tgbotapi.BotAPI
	limiter *security.SlidingWindowLimiter

	mu         sync.Mutex
	lastChatID int64
}

// New creates a Telegram relay.
func New(cfg Config, runner *relay.Runner, logger *slog.Logger) *Relay {
	return &Relay{
		cfg:     cfg,
		logger:  logger.With("relay", "telegram"),
		runner:  runner,
		limiter: security.NewSlidingWindowLimiter(10, time.Minute),
	}
}

// Run connects the bot and processes updates until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.cfg.BotToken == "" {
		return fmt.Errorf("telegram bot token not configured")
	}

	bot, err := tgbotapi.NewBotAPI(r.cfg.BotToken)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	r.bot = bot
	r.logger.Info("telegram bot connected", "username", bot.Self.UserName)

	r.runner.SetPermissionHandler(func(id, reason string) {
		r.notifyPermission(reason)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			r.handleMessage(ctx, update.Message)
		}
	}
}

func (r *Relay) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !r.isAllowed(msg.From) {
		r.logger.Debug("message from non-allowed user", "username", msg.From.UserName)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	r.mu.Lock()
	r.lastChatID = msg.Chat.ID
	r.mu.Unlock()

	if strings.HasPrefix(text, "/") {
		r.handleCommand(ctx, msg, text)
		return
	}

	if !r.limiter.Allow(fmt.Sprintf("%d", msg.From.ID)) {
		r.reply(msg, "Rate limit exceeded, slow down.")
		return
	}

	// Turns can run long, so each prompt gets its own goroutine. The
	// runner serializes them against the single bridge session.
	go func() {
		turnCtx, cancel := context.WithTimeout(context.Background(), relay.DefaultTurnTimeout)
		defer cancel()

		reply, err := r.runner.Ask(turnCtx, text)
		if err != nil {
			r.reply(msg, "Error: "+err.Error())
			return
		}
		if reply == "" {
			reply = "(no reply)"
		}
		r.reply(msg, reply)
	}()
}

func (r *Relay) handleCommand(ctx context.Context, msg *tgbotapi.Message, text string) {
	cmd := strings.Fields(text)[0]
	switch cmd {
	case "/start", "/help":
		r.reply(msg, "Send a prompt to talk to the agent.\n/approve /deny answer permission requests\n/cancel aborts the running turn\n/status shows the bridge state")

	case "/approve", "/deny":
		approved := cmd == "/approve"
		if err := r.runner.ResolvePermission(ctx, approved); err != nil {
			r.reply(msg, "Error: "+err.Error())
			return
		}
		verdict := "denied"
		if approved {
			verdict = "approved"
		}
		r.reply(msg, "Permission "+verdict+".")

	case "/cancel":
		if err := r.runner.Cancel(ctx); err != nil {
			r.reply(msg, "Error: "+err.Error())
			return
		}
		r.reply(msg, "Turn cancelled.")

	case "/status":
		snap := r.runner.Snapshot()
		r.reply(msg, fmt.Sprintf("State: %s\nSession: %s\nTurn active: %v", snap.State, snap.SessionKey, snap.TurnActive))

	default:
		r.reply(msg, "Unknown command: "+cmd)
	}
}

func (r *Relay) isAllowed(from *tgbotapi.User) bool {
	if from == nil {
		return false
	}
	if len(r.cfg.AllowFrom) == 0 {
		return true
	}
	id := strconv.FormatInt(from.ID, 10)
	for _, allowed := range r.cfg.AllowFrom {
		if allowed == from.UserName || allowed == "@"+from.UserName || allowed == id {
			return true
		}
	}
	return false
}

func (r *Relay) reply(msg *tgbotapi.Message, text string) {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		out := tgbotapi.NewMessage(msg.Chat.ID, chunk)
		out.ReplyToMessageID = msg.MessageID
		if _, err := r.bot.Send(out); err != nil {
			r.logger.Error("send reply failed", "error", err)
			return
		}
	}
}

// notifyPermission pushes a mid-turn approval request to the active chat.
func (r *Relay) notifyPermission(reason string) {
	r.mu.Lock()
	chatID := r.lastChatID
	r.mu.Unlock()
	if chatID == 0 || r.bot == nil {
		return
	}
	out := tgbotapi.NewMessage(chatID, "Permission requested: "+reason+"\nReply /approve or /deny.")
	if _, err := r.bot.Send(out); err != nil {
		r.logger.Error("send permission notice failed", "error", err)
	}
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut < limit/2 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
