// Package relay runs bridge turns on behalf of chat surfaces. A relay
// forwards an operator's prompt to the gateway, waits for the turn to
// finish and hands back the full assistant reply.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clawlink/clawlink/internal/bridge"
	"github.com/clawlink/clawlink/internal/bridge/message"
)

// DefaultTurnTimeout bounds how long a relay waits for one reply.
const DefaultTurnTimeout = 5 * time.Minute

// PermissionFunc is called when the agent asks for approval mid-turn.
// The relay surfaces it to the chat and resolves it out of band.
type PermissionFunc func(id, reason string)

// Runner serializes bridge turns for a chat surface. The bridge carries a
// single session, so concurrent prompts from a group chat queue up here.
type Runner struct {
	bridge *bridge.Bridge
	logger *slog.Logger

	turnMu sync.Mutex

	mu            sync.Mutex
	onPermission  PermissionFunc
	pendingPermID string
}

// NewRunner creates a runner over an already-connected bridge.
func NewRunner(b *bridge.Bridge, logger *slog.Logger) *Runner {
	return &Runner{
		bridge: b,
		logger: logger.With("component", "relay"),
	}
}

// SetPermissionHandler registers the mid-turn approval callback.
func (r *Runner) SetPermissionHandler(fn PermissionFunc) {
	r.mu.Lock()
	r.onPermission = fn
	r.mu.Unlock()
}

// Ask sends one prompt and blocks until the turn finishes, returning the
// accumulated assistant text. Turns run one at a time.
func (r *Runner) Ask(ctx context.Context, prompt string) (string, error) {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()

	done := make(chan struct{})
	var (
		resMu    sync.Mutex
		fullText string
		turnErr  string
		finished bool
	)

	id := r.bridge.OnMessage(func(msg message.Message) {
		switch msg.Type {
		case message.TypeModelOutput:
			resMu.Lock()
			fullText = msg.FullText
			resMu.Unlock()

		case message.TypePermissionRequest:
			r.mu.Lock()
			r.pendingPermID = msg.ID
			fn := r.onPermission
			r.mu.Unlock()
			if fn != nil {
				fn(msg.ID, msg.Reason)
			}

		case message.TypeStatus:
			switch msg.Status {
			case message.StatusIdle, message.StatusStopped:
				resMu.Lock()
				if !finished {
					finished = true
					close(done)
				}
				resMu.Unlock()
			case message.StatusError:
				resMu.Lock()
				if !finished {
					finished = true
					turnErr = msg.Detail
					close(done)
				}
				resMu.Unlock()
			}
		}
	})
	defer r.bridge.OffMessage(id)

	if err := r.bridge.SendPrompt(ctx, r.bridge.SessionKey(), prompt); err != nil {
		return "", err
	}

	select {
	case <-done:
	case <-ctx.Done():
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.bridge.Cancel(cancelCtx, r.bridge.SessionKey())
		return "", ctx.Err()
	}

	resMu.Lock()
	defer resMu.Unlock()
	if turnErr != "" {
		return "", fmt.Errorf("turn failed: %s", turnErr)
	}
	return fullText, nil
}

// Cancel aborts the running turn, if any.
func (r *Runner) Cancel(ctx context.Context) error {
	r.bridge.Cancel(ctx, r.bridge.SessionKey())
	return nil
}

// ResolvePermission answers the most recent approval request.
func (r *Runner) ResolvePermission(ctx context.Context, approved bool) error {
	r.mu.Lock()
	id := r.pendingPermID
	r.pendingPermID = ""
	r.mu.Unlock()

	if id == "" {
		return fmt.Errorf("no pending permission request")
	}
	return r.bridge.RespondToPermission(ctx, id, approved)
}

// Snapshot exposes the bridge snapshot for status commands.
func (r *Runner) Snapshot() bridge.Snapshot {
	return r.bridge.Snapshot()
}
