// ABOUTME: Assistant event payloads arriving on the ai:* broker channels
// ABOUTME: Decode validates each channel's body into a closed set of event types

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Broker channels carrying assistant events
const (
	ChannelResponse   = "ai:response"
	ChannelEscalation = "ai:escalation"
	ChannelResolution = "ai:resolution"
)

// Channels lists every channel the bridge subscribes to.
var Channels = []string{ChannelResponse, ChannelEscalation, ChannelResolution}

// Decode errors
var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrInvalidEvent   = errors.New("invalid event")
)

// Event is one of ResponseEvent, EscalationEvent or ResolutionEvent.
type Event interface {
	Channel() string
	Conversation() string
	// DedupNonce returns the optional nonce; empty means no dedup claim.
	DedupNonce() string

	sealed()
}

// ResponseEvent carries an assistant reply to persist and broadcast.
type ResponseEvent struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Nonce          string `json:"nonce,omitempty"`
}

// EscalationEvent asks for a human agent, optionally from a preferred team.
type EscalationEvent struct {
	ConversationID string  `json:"conversationId"`
	TeamID         *string `json:"teamId"`
	Reason         string  `json:"reason"`
	Nonce          string  `json:"nonce,omitempty"`
}

// ResolutionEvent closes out a conversation the assistant considers answered.
type ResolutionEvent struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
	Nonce          string `json:"nonce,omitempty"`
}

func (e *ResponseEvent) Channel() string      { return ChannelResponse }
func (e *ResponseEvent) Conversation() string { return e.ConversationID }
func (e *ResponseEvent) DedupNonce() string   { return e.Nonce }
func (e *ResponseEvent) sealed()              {}

func (e *EscalationEvent) Channel() string      { return ChannelEscalation }
func (e *EscalationEvent) Conversation() string { return e.ConversationID }
func (e *EscalationEvent) DedupNonce() string   { return e.Nonce }
func (e *EscalationEvent) sealed()              {}

// PreferredTeam returns the requested team or "" when none was given.
func (e *EscalationEvent) PreferredTeam() string {
	if e.TeamID == nil {
		return ""
	}
	return strings.TrimSpace(*e.TeamID)
}

func (e *ResolutionEvent) Channel() string      { return ChannelResolution }
func (e *ResolutionEvent) Conversation() string { return e.ConversationID }
func (e *ResolutionEvent) DedupNonce() string   { return e.Nonce }
func (e *ResolutionEvent) sealed()              {}

// Decode parses body according to channel and checks required fields.
func Decode(channel string, body []byte) (Event, error) {
	var ev Event
	switch channel {
	case ChannelResponse:
		ev = &ResponseEvent{}
	case ChannelEscalation:
		ev = &EscalationEvent{}
	case ChannelResolution:
		ev = &ResolutionEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	if err := json.Unmarshal(body, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if strings.TrimSpace(ev.Conversation()) == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrInvalidEvent)
	}
	if r, ok := ev.(*ResponseEvent); ok && strings.TrimSpace(r.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidEvent)
	}

	return ev, nil
}

// Encode marshals an event for publishing on its channel.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
