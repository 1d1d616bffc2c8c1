package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lumeo-app/lumeo/internal/config"
	"github.com/lumeo-app/lumeo/internal/domain"
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateSending
	stateStreaming
)

// Streamer is the transport the controller drives for one turn.
type Streamer interface {
	Stream(ctx context.Context, history []domain.Message, onDelta func(string)) (*StreamResult, error)
}

// ChatController runs the chat session of one user: it owns the in-memory
// message list of the active conversation and orchestrates a single logical
// turn at a time. States move Idle → Sending → Streaming and back to Idle
// on every terminal outcome.
type ChatController struct {
	userID   string
	store    ConversationStore
	streamer Streamer
	crisis   *CrisisDetector
	usage    *UsageRecorder

	mu       sync.Mutex
	state    sessionState
	conv     *domain.Conversation
	messages []domain.Message
	cancel   context.CancelFunc
	flagged  bool
}

func NewChatController(userID string, store ConversationStore, streamer Streamer, crisis *CrisisDetector, usage *UsageRecorder) *ChatController {
	return &ChatController{
		userID:   userID,
		store:    store,
		streamer: streamer,
		crisis:   crisis,
		usage:    usage,
	}
}

// SendTurn runs one user turn to completion. The user message is persisted
// before the network call starts; the assistant reply is persisted exactly
// once, at the terminal state. onDelta (optional) observes every content
// fragment as it arrives, in order.
//
// A second SendTurn while one is in flight returns ErrTurnInProgress with
// no side effects. Cancellation via Stop is not an error: the partial
// content accumulated so far is finalized as if the stream had completed.
func (c *ChatController) SendTurn(ctx context.Context, text string, onDelta func(string)) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return domain.ErrTurnInProgress
	}
	c.state = stateSending
	c.flagged = c.crisis.Scan(text)
	c.mu.Unlock()

	if err := c.beginTurn(ctx, text); err != nil {
		c.toIdle()
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.state = stateStreaming
	c.cancel = cancel
	// Full history, placeholder excluded. Transient fields are stripped
	// by the transport.
	history := make([]domain.Message, len(c.messages)-1)
	copy(history, c.messages[:len(c.messages)-1])
	c.mu.Unlock()

	result, err := c.streamer.Stream(streamCtx, history, func(delta string) {
		c.appendDelta(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		// Nothing useful was produced: drop the placeholder, keep the
		// already persisted user message for retry.
		c.dropPlaceholder()
		c.toIdle()
		return err
	}

	c.finalize(ctx, result)
	c.toIdle()
	return nil
}

// Stop cancels the in-flight stream. It is a no-op unless a turn is
// currently streaming.
func (c *ChatController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateStreaming && c.cancel != nil {
		c.cancel()
	}
}

// NewConversation resets the session; the next turn lazily creates a fresh
// conversation.
func (c *ChatController) NewConversation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return domain.ErrTurnInProgress
	}
	c.conv = nil
	c.messages = nil
	c.flagged = false
	return nil
}

// SwitchTo loads a stored conversation and replaces the in-memory message
// list verbatim.
func (c *ChatController) SwitchTo(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return domain.ErrTurnInProgress
	}

	conv, err := c.store.GetConversation(ctx, c.userID, id)
	if err != nil {
		return err
	}
	msgs, err := c.store.LoadMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", id, err)
	}

	c.conv = conv
	c.messages = msgs
	c.flagged = false
	return nil
}

// Forget drops the in-memory session if it points at the given
// conversation, e.g. after the conversation was deleted.
func (c *ChatController) Forget(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateIdle && c.conv != nil && c.conv.ID == id {
		c.conv = nil
		c.messages = nil
		c.flagged = false
	}
}

// Messages returns a snapshot of the in-memory conversation.
func (c *ChatController) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ActiveConversationID returns the id of the current session, or nil for a
// fresh one.
func (c *ChatController) ActiveConversationID() *uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return nil
	}
	id := c.conv.ID
	return &id
}

// Flagged reports whether the last turn touched safety-relevant content on
// either side.
func (c *ChatController) Flagged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flagged
}

// beginTurn lazily creates the conversation, persists the user message and
// appends the streaming assistant placeholder.
func (c *ChatController) beginTurn(ctx context.Context, text string) error {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()

	if conv == nil {
		created, err := c.store.CreateConversation(ctx, c.userID, deriveTitle(text))
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		c.mu.Lock()
		c.conv = created
		c.mu.Unlock()
		conv = created
	}

	// The user message is durable before the network call begins, so user
	// input survives even if the request never completes.
	if err := c.store.AppendMessage(ctx, conv.ID, domain.RoleUser, text); err != nil {
		slog.Error("persist user message", "error", err, "conversation_id", conv.ID)
	}

	c.mu.Lock()
	c.messages = append(c.messages,
		domain.Message{Role: domain.RoleUser, Content: text},
		domain.Message{Role: domain.RoleAssistant, IsStreaming: true},
	)
	c.mu.Unlock()
	return nil
}

// appendDelta grows the assistant placeholder in place. Per-delta writes
// are in-memory only; persistence happens once, at the terminal state.
func (c *ChatController) appendDelta(delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return
	}
	last := &c.messages[len(c.messages)-1]
	if last.IsStreaming {
		last.Content += delta
	}
}

// finalize seals the assistant message after a completed or cancelled
// stream and persists it. The write runs on a detached context so the
// cancellation that ended the stream cannot abort it mid-flight.
func (c *ChatController) finalize(ctx context.Context, result *StreamResult) {
	c.mu.Lock()
	if len(c.messages) == 0 {
		c.mu.Unlock()
		return
	}
	last := &c.messages[len(c.messages)-1]
	last.IsStreaming = false
	content := last.Content
	conv := c.conv
	if content != "" && c.crisis.Scan(content) {
		c.flagged = true
	}
	c.mu.Unlock()

	persistCtx := context.WithoutCancel(ctx)
	if err := c.store.AppendMessage(persistCtx, conv.ID, domain.RoleAssistant, content); err != nil {
		slog.Error("persist assistant message", "error", err, "conversation_id", conv.ID)
	}

	if c.usage != nil && result != nil && result.Usage != nil {
		if err := c.usage.Record(persistCtx, conv.ID, *result.Usage); err != nil {
			slog.Error("record turn usage", "error", err, "conversation_id", conv.ID)
		}
	}
}

// dropPlaceholder removes the streaming assistant message after a failed
// turn; nothing of it is persisted.
func (c *ChatController) dropPlaceholder() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return
	}
	if c.messages[len(c.messages)-1].IsStreaming {
		c.messages = c.messages[:len(c.messages)-1]
	}
}

func (c *ChatController) toIdle() {
	c.mu.Lock()
	c.state = stateIdle
	c.cancel = nil
	c.mu.Unlock()
}

func deriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	runes := []rune(title)
	if len(runes) > config.MaxTitleLen {
		title = string(runes[:config.MaxTitleLen]) + "…"
	}
	return title
}
