// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]*Message // keyed by conversation ID
	agents        map[string]*Agent
	teams         map[string]*Team
	members       map[string][]string // keyed by team ID, insertion order

	// Hooks for injecting failures in tests
	SaveMessageErr error
	EscalateErr    error
	ResolveErr     error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		agents:        make(map[string]*Agent),
		teams:         make(map[string]*Team),
		members:       make(map[string][]string),
	}
}

func copyConversation(c *Conversation) *Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.Tags = slices.Clone(c.Tags)
	if c.AssignedTo != nil {
		id := *c.AssignedTo
		cp.AssignedTo = &id
	}
	return &cp
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !conv.Status.Valid() {
		return fmt.Errorf("invalid conversation status %q", conv.Status)
	}
	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicate
	}
	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// EscalateConversation assigns a conversation to an agent and reopens it.
func (m *MockStore) EscalateConversation(ctx context.Context, id string, esc Escalation) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EscalateErr != nil {
		return nil, m.EscalateErr
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status.Terminal() {
		return nil, ErrConversationClosed
	}

	agentID := esc.AgentID
	at := esc.At
	c.Status = StatusOpen
	c.AssignedTo = &agentID
	c.Metadata.TeamID = esc.TeamID
	c.Metadata.EscalatedAt = &at
	c.Metadata.EscalationReason = esc.Reason
	c.UpdatedAt = esc.At
	return copyConversation(c), nil
}

// ResolveConversation marks a conversation resolved.
func (m *MockStore) ResolveConversation(ctx context.Context, id string, res Resolution) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ResolveErr != nil {
		return nil, m.ResolveErr
	}
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status.Terminal() {
		return nil, ErrConversationClosed
	}

	at := res.At
	c.Status = StatusResolved
	c.Metadata.ResolvedAt = &at
	c.Metadata.ResolutionReason = res.Reason
	c.UpdatedAt = res.At
	return copyConversation(c), nil
}

// SaveMessage stores a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveMessageErr != nil {
		return m.SaveMessageErr
	}
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("saving message for conversation %s: %w", msg.ConversationID, ErrNotFound)
	}

	// Make a copy to avoid external modification
	msgCopy := *msg
	if msgCopy.Type == "" {
		msgCopy.Type = MessageTypeText
	}
	msgCopy.Metadata.ReadBy = slices.Clone(msg.Metadata.ReadBy)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)
	return nil
}

// ListMessages retrieves the most recent messages of a conversation in chronological order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	msgs := m.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		msgCopy := *msg
		result[i] = &msgCopy
	}
	return result, nil
}

// UpsertAgent inserts an agent or updates its display name and presence.
func (m *MockStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent.Presence == "" {
		agent.Presence = PresenceOffline
	}
	if !agent.Presence.Valid() {
		return fmt.Errorf("invalid presence %q", agent.Presence)
	}
	if existing, ok := m.agents[agent.ID]; ok {
		existing.DisplayName = agent.DisplayName
		existing.Presence = agent.Presence
		existing.UpdatedAt = time.Now().UTC()
		return nil
	}

	a := *agent
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// SetAgentPresence updates an agent's presence.
func (m *MockStore) SetAgentPresence(ctx context.Context, id string, presence Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !presence.Valid() {
		return fmt.Errorf("invalid presence %q", presence)
	}
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Presence = presence
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateTeam stores a new team.
func (m *MockStore) CreateTeam(ctx context.Context, team *Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.teams[team.ID]; ok {
		return ErrDuplicate
	}
	t := *team
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.teams[t.ID] = &t
	return nil
}

// AddTeamMember adds an agent to a team. Adding an existing member is a no-op.
func (m *MockStore) AddTeamMember(ctx context.Context, teamID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.teams[teamID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.agents[agentID]; !ok {
		return ErrNotFound
	}
	if slices.Contains(m.members[teamID], agentID) {
		return nil
	}
	m.members[teamID] = append(m.members[teamID], agentID)
	return nil
}

// ListActiveTeams returns active teams in creation order.
func (m *MockStore) ListActiveTeams(ctx context.Context) ([]*Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.activeTeamsLocked(), nil
}

func (m *MockStore) activeTeamsLocked() []*Team {
	var teams []*Team
	for _, t := range m.teams {
		if t.Active {
			cp := *t
			teams = append(teams, &cp)
		}
	}
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].CreatedAt.Equal(teams[j].CreatedAt) {
			return teams[i].ID < teams[j].ID
		}
		return teams[i].CreatedAt.Before(teams[j].CreatedAt)
	})
	return teams
}

// ListCandidates returns agents with the given presence restricted to teamID,
// or to members of any active team when teamID is empty.
func (m *MockStore) ListCandidates(ctx context.Context, presence Presence, teamID string) ([]*AgentCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if a.Presence == presence {
			agents = append(agents, a)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})

	active := m.activeTeamsLocked()

	var candidates []*AgentCandidate
	for _, a := range agents {
		var activeTeams []string
		for _, t := range active {
			if slices.Contains(m.members[t.ID], a.ID) {
				activeTeams = append(activeTeams, t.ID)
			}
		}

		if teamID != "" {
			if !slices.Contains(m.members[teamID], a.ID) {
				continue
			}
		} else if len(activeTeams) == 0 {
			continue
		}

		load := 0
		for _, c := range m.conversations {
			if c.AssignedTo != nil && *c.AssignedTo == a.ID && c.Status.CountsAsLoad() {
				load++
			}
		}

		candidates = append(candidates, &AgentCandidate{
			AgentID:     a.ID,
			DisplayName: a.DisplayName,
			Presence:    a.Presence,
			TeamIDs:     activeTeams,
			Load:        load,
		})
	}
	return candidates, nil
}

// Ping always succeeds.
func (m *MockStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure both implementations satisfy Store.
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
