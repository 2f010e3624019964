// ABOUTME: Store interfaces and data types for switchboard persistence
// ABOUTME: Defines Conversation, Message, Agent and Team plus the directory query projection

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConversationClosed is returned when a closed conversation would be mutated
var ErrConversationClosed = errors.New("conversation is closed")

// ErrDuplicate is returned when an entity with the same ID already exists
var ErrDuplicate = errors.New("already exists")

// ConversationStatus is the lifecycle state of a conversation
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusPending  ConversationStatus = "pending"
	StatusActive   ConversationStatus = "active"
	StatusResolved ConversationStatus = "resolved"
	StatusClosed   ConversationStatus = "closed"
)

// Terminal reports whether no further transitions are allowed.
func (s ConversationStatus) Terminal() bool {
	return s == StatusClosed
}

// CountsAsLoad reports whether a conversation in this status counts toward
// its assigned agent's load.
func (s ConversationStatus) CountsAsLoad() bool {
	return s == StatusOpen || s == StatusActive
}

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusActive, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Presence is an agent's availability
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceBusy    Presence = "busy"
	PresenceOffline Presence = "offline"
)

// Valid reports whether p is a known presence value.
func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceOffline:
		return true
	}
	return false
}

// SenderAssistant is the synthetic sender ID used for assistant-authored messages
const SenderAssistant = "assistant"

// MessageType constants
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// ConversationMeta holds routing and lifecycle metadata for a conversation
type ConversationMeta struct {
	Source           string     `json:"source,omitempty"`
	TeamID           string     `json:"teamId,omitempty"`
	EscalatedAt      *time.Time `json:"escalatedAt,omitempty"`
	EscalationReason string     `json:"escalationReason,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	ResolutionReason string     `json:"resolutionReason,omitempty"`
}

// Conversation is the durable record of a support conversation
type Conversation struct {
	ID           string             `json:"id"`
	Status       ConversationStatus `json:"status"`
	Participants []string           `json:"participants"`
	AssignedTo   *string            `json:"assignedTo"`
	Priority     string             `json:"priority,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	Metadata     ConversationMeta   `json:"metadata"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// HasParticipant reports whether identityID is listed as a participant.
func (c *Conversation) HasParticipant(identityID string) bool {
	for _, p := range c.Participants {
		if p == identityID {
			return true
		}
	}
	return false
}

// MessageMeta holds delivery metadata for a message
type MessageMeta struct {
	Source string   `json:"source,omitempty"`
	ReadBy []string `json:"readBy,omitempty"`
	HTML   string   `json:"html,omitempty"` // rendered markdown for assistant messages
}

// Message is a single message within a conversation
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           string      `json:"type"`
	Metadata       MessageMeta `json:"metadata"`
	CreatedAt      time.Time   `json:"createdAt"`
	EditedAt       *time.Time  `json:"editedAt,omitempty"`
	DeletedAt      *time.Time  `json:"deletedAt,omitempty"`
}

// Escalation describes the field updates applied when a conversation is
// handed to a human agent
type Escalation struct {
	AgentID string
	TeamID  string
	Reason  string
	At      time.Time
}

// Resolution describes the field updates applied when a conversation is resolved
type Resolution struct {
	Reason string
	At     time.Time
}

// Agent is a human support agent known to the directory
type Agent struct {
	ID          string
	DisplayName string
	Presence    Presence
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Team groups agents; only active teams take part in fallback routing
type Team struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// AgentCandidate is the query-time projection used by agent assignment.
// TeamIDs lists the agent's memberships in active teams; Load counts the
// agent's conversations whose status counts as load.
type AgentCandidate struct {
	AgentID     string
	DisplayName string
	Presence    Presence
	TeamIDs     []string
	Load        int
}

// ConversationStore persists conversations and messages
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// EscalateConversation atomically sets status=open, the assignee and the
	// escalation metadata. Returns ErrConversationClosed for closed conversations.
	EscalateConversation(ctx context.Context, id string, esc Escalation) (*Conversation, error)
	// ResolveConversation atomically sets status=resolved and the resolution
	// metadata. Returns ErrConversationClosed for closed conversations.
	ResolveConversation(ctx context.Context, id string, res Resolution) (*Conversation, error)

	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

// Directory answers agent and team queries for assignment
type Directory interface {
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	SetAgentPresence(ctx context.Context, id string, presence Presence) error
	CreateTeam(ctx context.Context, team *Team) error
	AddTeamMember(ctx context.Context, teamID, agentID string) error
	ListActiveTeams(ctx context.Context) ([]*Team, error)
	// ListCandidates returns agents with the given presence that belong to
	// teamID, or to any active team when teamID is empty. Results are in
	// agent creation order.
	ListCandidates(ctx context.Context, presence Presence, teamID string) ([]*AgentCandidate, error)
}

// Store is everything switchboard persists
type Store interface {
	ConversationStore
	Directory

	Ping(ctx context.Context) error
	Close() error
}
