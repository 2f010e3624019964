// ABOUTME: Per-conversation typing indicators with timeout-based expiry
// ABOUTME: Broadcasts start/stop transitions through the room emitter and sweeps stale entries

package typing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/rooms"
)

const (
	// DefaultTimeout is how long an entry stays visible without a refresh
	DefaultTimeout = 30 * time.Second
	// DefaultSweepInterval is how often stale entries are dropped
	DefaultSweepInterval = 60 * time.Second

	EventStart = "user_typing_start"
	EventStop  = "user_typing_stop"
)

// Emitter is the room fan-out the tracker broadcasts through.
type Emitter interface {
	EmitToRoomExcept(roomID, exceptConnID, event string, payload any) int
}

// Entry is one participant currently typing.
type Entry struct {
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Payload is the body of user_typing_start and user_typing_stop.
type Payload struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	Timestamp      time.Time `json:"timestamp"`
}

// Tracker holds conversationID -> userID -> Entry for this instance.
type Tracker struct {
	mu      sync.Mutex
	state   map[string]map[string]*Entry
	emitter Emitter

	timeout       time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTimeout sets the entry expiry.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithSweepInterval sets how often Run sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.sweepInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates a tracker broadcasting through emitter.
func NewTracker(emitter Emitter, opts ...Option) *Tracker {
	t := &Tracker{
		state:         make(map[string]map[string]*Entry),
		emitter:       emitter,
		timeout:       DefaultTimeout,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "typing")
	return t
}

// Start records userID as typing in conversationID and tells the rest of the
// room, excluding the sender's connection.
func (t *Tracker) Start(conversationID, userID, userName, exceptConnID string) {
	now := t.now()

	t.mu.Lock()
	users, ok := t.state[conversationID]
	if !ok {
		users = make(map[string]*Entry)
		t.state[conversationID] = users
	}
	if _, existed := users[userID]; !existed {
		metrics.TypingEntries.Inc()
	}
	users[userID] = &Entry{UserID: userID, UserName: userName, LastSeenAt: now}
	t.mu.Unlock()

	t.emitter.EmitToRoomExcept(rooms.ConversationRoom(conversationID), exceptConnID, EventStart, Payload{
		ConversationID: conversationID,
		UserID:         userID,
		UserName:       userName,
		Timestamp:      now,
	})
}

// Stop removes userID from conversationID and broadcasts the stop. A stop for
// a user who is not typing is silent.
func (t *Tracker) Stop(conversationID, userID, exceptConnID string) bool {
	t.mu.Lock()
	entry, ok := t.removeLocked(conversationID, userID)
	t.mu.Unlock()

	if !ok {
		return false
	}
	t.broadcastStop(conversationID, entry, exceptConnID)
	return true
}

// removeLocked deletes one entry and prunes the empty inner map. Must be called with mu held.
func (t *Tracker) removeLocked(conversationID, userID string) (*Entry, bool) {
	users, ok := t.state[conversationID]
	if !ok {
		return nil, false
	}
	entry, ok := users[userID]
	if !ok {
		return nil, false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.state, conversationID)
	}
	metrics.TypingEntries.Dec()
	return entry, true
}

func (t *Tracker) broadcastStop(conversationID string, entry *Entry, exceptConnID string) {
	t.emitter.EmitToRoomExcept(rooms.ConversationRoom(conversationID), exceptConnID, EventStop, Payload{
		ConversationID: conversationID,
		UserID:         entry.UserID,
		UserName:       entry.UserName,
		Timestamp:      t.now(),
	})
}

// List returns the non-expired typers of a conversation ordered by user ID.
func (t *Tracker) List(conversationID string) []Entry {
	cutoff := t.now().Add(-t.timeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.state[conversationID]
	list := make([]Entry, 0, len(users))
	for _, e := range users {
		if e.LastSeenAt.After(cutoff) {
			list = append(list, *e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UserID < list[j].UserID })
	return list
}

// ClearUser removes userID from every conversation it is typing in and
// broadcasts one stop per conversation. Returns the affected conversation IDs.
func (t *Tracker) ClearUser(userID string) []string {
	type cleared struct {
		conversationID string
		entry          *Entry
	}

	t.mu.Lock()
	var removed []cleared
	for conversationID := range t.state {
		if entry, ok := t.removeLocked(conversationID, userID); ok {
			removed = append(removed, cleared{conversationID, entry})
		}
	}
	t.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].conversationID < removed[j].conversationID })

	ids := make([]string, 0, len(removed))
	for _, r := range removed {
		t.broadcastStop(r.conversationID, r.entry, "")
		ids = append(ids, r.conversationID)
	}
	if len(ids) > 0 {
		t.logger.Debug("cleared typing on disconnect", "user_id", userID, "conversations", len(ids))
	}
	return ids
}

// Sweep silently drops entries older than the timeout. Returns how many were dropped.
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.timeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for conversationID, users := range t.state {
		for userID, e := range users {
			if !e.LastSeenAt.After(cutoff) {
				delete(users, userID)
				dropped++
			}
		}
		if len(users) == 0 {
			delete(t.state, conversationID)
		}
	}
	metrics.TypingEntries.Sub(float64(dropped))
	return dropped
}

// Run sweeps on the configured interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				t.logger.Debug("swept stale typing entries", "count", n)
			}
		}
	}
}
