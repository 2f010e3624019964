// ABOUTME: Event bridge turning assistant broker events into persisted messages and room broadcasts
// ABOUTME: Claims each nonce once across instances, then records first and broadcasts second

package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"

	"github.com/2389/switchboard/internal/assign"
	"github.com/2389/switchboard/internal/dedupe"
	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/rooms"
	"github.com/2389/switchboard/internal/store"
)

// Outbound socket events
const (
	EventNewMessage            = "new_message"
	EventConversationEscalated = "conversation_escalated"
	EventNewWidgetConversation = "new_widget_conversation"
	EventStatusUpdated         = "status_updated"
)

const (
	// persistTimeout bounds each store call independently of the subscriber context
	persistTimeout = 5 * time.Second

	DefaultFallbackMessage = "All of our team members are busy right now. I'll keep helping here, and a person will follow up as soon as someone is free."
	DefaultClosingMessage  = "Glad I could help! This conversation is now marked as resolved. Send a message any time if you need anything else."
)

// Emitter is the room fan-out used for broadcasts.
type Emitter interface {
	EmitToRoom(roomID, event string, payload any) int
	EmitToUser(identityID, event string, payload any) int
}

// AgentSelector chooses a human agent for an escalation.
type AgentSelector interface {
	Select(ctx context.Context, preferredTeamID string) (*assign.Assignment, error)
}

// Config holds the bridge's tunables.
type Config struct {
	DedupTTL        time.Duration
	FallbackMessage string
	ClosingMessage  string
}

// Deps are the collaborators a Bridge needs.
type Deps struct {
	Store    store.ConversationStore
	Emitter  Emitter
	Selector AgentSelector
	Claimer  dedupe.Claimer
	Logger   *slog.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// NewMessagePayload is the body of new_message.
type NewMessagePayload struct {
	ConversationID string         `json:"conversationId"`
	Message        *store.Message `json:"message"`
}

// AgentInfo identifies the assigned agent in escalation payloads.
type AgentInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	TeamID string `json:"teamId,omitempty"`
}

// EscalationPayload is the body of conversation_escalated and new_widget_conversation.
type EscalationPayload struct {
	ConversationID string    `json:"conversationId"`
	Reason         string    `json:"reason"`
	Agent          AgentInfo `json:"agent"`
}

// StatusPayload is the body of status_updated.
type StatusPayload struct {
	ConversationID string                   `json:"conversationId"`
	Status         store.ConversationStatus `json:"status"`
	UpdatedBy      string                   `json:"updatedBy"`
	Reason         string                   `json:"reason,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

// Bridge handles assistant events. It is safe for concurrent use.
type Bridge struct {
	store    store.ConversationStore
	emitter  Emitter
	selector AgentSelector
	claimer  dedupe.Claimer
	markdown goldmark.Markdown
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Bridge. Zero config values take their defaults.
func New(cfg Config, deps Deps) *Bridge {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = dedupe.DefaultTTL
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = DefaultFallbackMessage
	}
	if cfg.ClosingMessage == "" {
		cfg.ClosingMessage = DefaultClosingMessage
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Bridge{
		store:    deps.Store,
		emitter:  deps.Emitter,
		selector: deps.Selector,
		claimer:  deps.Claimer,
		markdown: goldmark.New(),
		cfg:      cfg,
		now:      now,
		logger:   logger.With("component", "bridge"),
	}
}

// Handle decodes and processes one broker message. Duplicates return nil.
func (b *Bridge) Handle(ctx context.Context, channel string, body []byte) error {
	_, err := b.handle(ctx, channel, body)
	return err
}

// handle is Handle that also returns the decoded event, nil when decoding failed.
func (b *Bridge) handle(ctx context.Context, channel string, body []byte) (Event, error) {
	start := time.Now()
	defer func() {
		metrics.BridgeHandleDuration.WithLabelValues(channel).Observe(time.Since(start).Seconds())
	}()

	ev, err := Decode(channel, body)
	if err != nil {
		metrics.BridgeEvents.WithLabelValues(channel, "invalid").Inc()
		return nil, err
	}

	logger := b.logger.With("channel", channel, "conversation_id", ev.Conversation(), "nonce", ev.DedupNonce())

	if nonce := ev.DedupNonce(); nonce != "" {
		claimed, err := b.claimer.Claim(ctx, dedupe.Key(nonce), b.cfg.DedupTTL)
		if err != nil {
			metrics.BridgeEvents.WithLabelValues(channel, "error").Inc()
			return ev, fmt.Errorf("dedup claim: %w", err)
		}
		if !claimed {
			metrics.BridgeEvents.WithLabelValues(channel, "duplicate").Inc()
			logger.Debug("duplicate event skipped")
			return ev, nil
		}
	}

	outcome := "ok"
	switch e := ev.(type) {
	case *ResponseEvent:
		err = b.handleResponse(ctx, e)
	case *EscalationEvent:
		var fellBack bool
		fellBack, err = b.handleEscalation(ctx, e)
		if fellBack {
			outcome = "fallback"
		}
	case *ResolutionEvent:
		err = b.handleResolution(ctx, e)
	}
	if err != nil {
		outcome = "error"
	}
	metrics.BridgeEvents.WithLabelValues(channel, outcome).Inc()
	return ev, err
}

// Dispatch handles a message and logs any failure. It never returns an error
// so one bad event cannot stop a subscriber loop.
func (b *Bridge) Dispatch(ctx context.Context, channel string, body []byte) {
	ev, err := b.handle(ctx, channel, body)
	if err == nil {
		return
	}

	logger := b.logger.With("channel", channel)
	if ev != nil {
		logger = logger.With("conversation_id", ev.Conversation(), "nonce", ev.DedupNonce())
	}

	if errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrUnknownChannel) {
		logger.Warn("dropping malformed event", "error", err, "body_bytes", len(body))
		return
	}
	logger.Error("event handling failed", "error", err)
}

// persistCtx detaches store calls from the subscriber context so a shutdown
// does not abandon a half-finished event.
func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// saveAssistantMessage records an assistant-authored message with its
// rendered HTML and broadcasts new_message to the conversation room.
func (b *Bridge) saveAssistantMessage(ctx context.Context, conversationID, content, msgType string) (*store.Message, error) {
	now := b.now()
	msg := &store.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		SenderID:       store.SenderAssistant,
		Content:        content,
		Type:           msgType,
		Metadata: store.MessageMeta{
			Source: "ai",
			HTML:   b.renderMarkdown(content),
		},
		CreatedAt: now,
	}

	sctx, cancel := persistCtx(ctx)
	defer cancel()
	if err := b.store.SaveMessage(sctx, msg); err != nil {
		return nil, fmt.Errorf("saving assistant message: %w", err)
	}

	b.emitter.EmitToRoom(rooms.ConversationRoom(conversationID), EventNewMessage, NewMessagePayload{
		ConversationID: conversationID,
		Message:        msg,
	})
	return msg, nil
}

// requireOpen fails with store.ErrConversationClosed for conversations in a
// terminal status, before any scripted message is written to them.
func (b *Bridge) requireOpen(ctx context.Context, conversationID string) error {
	sctx, cancel := persistCtx(ctx)
	defer cancel()

	conv, err := b.store.GetConversation(sctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if conv.Status.Terminal() {
		return fmt.Errorf("conversation %s: %w", conversationID, store.ErrConversationClosed)
	}
	return nil
}

func (b *Bridge) renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := b.markdown.Convert([]byte(content), &buf); err != nil {
		b.logger.Warn("failed to render markdown", "error", err)
		return ""
	}
	return buf.String()
}

func (b *Bridge) handleResponse(ctx context.Context, e *ResponseEvent) error {
	msg, err := b.saveAssistantMessage(ctx, e.ConversationID, e.Content, store.MessageTypeText)
	if err != nil {
		return err
	}
	b.logger.Debug("assistant response delivered", "conversation_id", e.ConversationID, "message_id", msg.ID)
	return nil
}

// handleEscalation assigns a human agent or, when none is available, posts
// the fallback message. The bool reports whether the fallback was used.
func (b *Bridge) handleEscalation(ctx context.Context, e *EscalationEvent) (bool, error) {
	if err := b.requireOpen(ctx, e.ConversationID); err != nil {
		return false, err
	}

	sctx, cancel := persistCtx(ctx)
	assignment, err := b.selector.Select(sctx, e.PreferredTeam())
	cancel()

	if errors.Is(err, assign.ErrNoAgentAvailable) {
		metrics.Assignments.WithLabelValues("0").Inc()
		if _, err := b.saveAssistantMessage(ctx, e.ConversationID, b.cfg.FallbackMessage, store.MessageTypeSystem); err != nil {
			return true, err
		}
		b.logger.Info("no agent available, assistant keeps conversation",
			"conversation_id", e.ConversationID,
			"preferred_team", e.PreferredTeam())
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("selecting agent: %w", err)
	}
	metrics.Assignments.WithLabelValues(strconv.Itoa(assignment.Tier)).Inc()

	sctx, cancel = persistCtx(ctx)
	_, err = b.store.EscalateConversation(sctx, e.ConversationID, store.Escalation{
		AgentID: assignment.Agent.AgentID,
		TeamID:  assignment.TeamID,
		Reason:  e.Reason,
		At:      b.now(),
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("escalating conversation: %w", err)
	}

	payload := EscalationPayload{
		ConversationID: e.ConversationID,
		Reason:         e.Reason,
		Agent: AgentInfo{
			ID:     assignment.Agent.AgentID,
			Name:   assignment.Agent.DisplayName,
			TeamID: assignment.TeamID,
		},
	}
	b.emitter.EmitToRoom(rooms.ConversationRoom(e.ConversationID), EventConversationEscalated, payload)
	b.emitter.EmitToUser(assignment.Agent.AgentID, EventNewWidgetConversation, payload)

	b.logger.Info("conversation escalated",
		"conversation_id", e.ConversationID,
		"agent_id", assignment.Agent.AgentID,
		"team_id", assignment.TeamID,
		"tier", assignment.Tier)
	return false, nil
}

// handleResolution posts the closing message before marking the conversation
// resolved, so clients never see the status change without it.
func (b *Bridge) handleResolution(ctx context.Context, e *ResolutionEvent) error {
	if err := b.requireOpen(ctx, e.ConversationID); err != nil {
		return err
	}

	if _, err := b.saveAssistantMessage(ctx, e.ConversationID, b.cfg.ClosingMessage, store.MessageTypeText); err != nil {
		return err
	}

	at := b.now()
	sctx, cancel := persistCtx(ctx)
	conv, err := b.store.ResolveConversation(sctx, e.ConversationID, store.Resolution{Reason: e.Reason, At: at})
	cancel()
	if err != nil {
		return fmt.Errorf("resolving conversation: %w", err)
	}

	b.emitter.EmitToRoom(rooms.ConversationRoom(e.ConversationID), EventStatusUpdated, StatusPayload{
		ConversationID: e.ConversationID,
		Status:         conv.Status,
		UpdatedBy:      store.SenderAssistant,
		Reason:         e.Reason,
		Timestamp:      at,
	})

	b.logger.Info("conversation resolved", "conversation_id", e.ConversationID)
	return nil
}
