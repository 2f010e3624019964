// ABOUTME: Room registry mapping connections to conversation and user rooms
// ABOUTME: Fans frames out to room members and notifies disconnect hooks for presence cleanup

package rooms

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/metrics"
)

const (
	conversationPrefix = "conversation:"
	userPrefix         = "user:"

	relayPublishTimeout = 2 * time.Second
)

// ConversationRoom returns the room ID for a conversation.
func ConversationRoom(conversationID string) string {
	return conversationPrefix + conversationID
}

// UserRoom returns the room ID that reaches every connection of an identity.
func UserRoom(identityID string) string {
	return userPrefix + identityID
}

// DisconnectHook runs once per unregistered connection with its identity and
// the conversation IDs it had joined.
type DisconnectHook func(identity auth.Identity, conversationIDs []string)

// Relay carries room frames to other instances.
type Relay interface {
	Publish(ctx context.Context, frame RelayFrame) error
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	Members     map[string]int `json:"members"`
}

// Manager owns every connection on this instance and the rooms they joined.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]*Connection // roomID -> connID -> conn

	hooksMu sync.RWMutex
	hooks   []DisconnectHook

	relay      Relay
	instanceID string
	logger     *slog.Logger
}

// NewManager creates an empty registry. Pass nil logger for default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conns:      make(map[string]*Connection),
		rooms:      make(map[string]map[string]*Connection),
		instanceID: uuid.New().String(),
		logger:     logger.With("component", "rooms"),
	}
}

// InstanceID identifies this process in relayed frames.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// SetRelay enables cluster fan-out. Must be called before connections register.
func (m *Manager) SetRelay(r Relay) {
	m.relay = r
}

// OnDisconnect registers a hook run on every Unregister.
func (m *Manager) OnDisconnect(hook DisconnectHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Register adds a connection and joins it to its identity's user room.
func (m *Manager) Register(conn *Connection) {
	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.joinLocked(conn, UserRoom(conn.Identity.ID))
	m.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	metrics.ConnectionsTotal.WithLabelValues(string(conn.Identity.Role)).Inc()
	m.logger.Debug("connection registered",
		"conn_id", conn.ID,
		"identity_id", conn.Identity.ID,
		"role", conn.Identity.Role)
}

// Unregister removes the connection from every room, closes its queue and
// runs the disconnect hooks. Calling it again for the same connection is a no-op.
func (m *Manager) Unregister(conn *Connection) {
	m.mu.Lock()
	if _, ok := m.conns[conn.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, conn.ID)

	var conversationIDs []string
	for roomID := range conn.rooms {
		if id, ok := strings.CutPrefix(roomID, conversationPrefix); ok {
			conversationIDs = append(conversationIDs, id)
		}
		m.leaveLocked(conn, roomID)
	}
	m.mu.Unlock()

	conn.close()
	sort.Strings(conversationIDs)

	metrics.ConnectionsActive.Dec()
	m.logger.Debug("connection unregistered",
		"conn_id", conn.ID,
		"identity_id", conn.Identity.ID,
		"conversations", len(conversationIDs))

	m.hooksMu.RLock()
	hooks := make([]DisconnectHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(conn.Identity, conversationIDs)
	}
}

// Join adds conn to roomID. Returns false if it was already a member or the
// connection is not registered.
func (m *Manager) Join(conn *Connection, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[conn.ID]; !ok {
		return false
	}
	return m.joinLocked(conn, roomID)
}

func (m *Manager) joinLocked(conn *Connection, roomID string) bool {
	if _, ok := conn.rooms[roomID]; ok {
		return false
	}
	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]*Connection)
		m.rooms[roomID] = members
	}
	members[conn.ID] = conn
	conn.rooms[roomID] = struct{}{}
	return true
}

// Leave removes conn from roomID. Returns false if it was not a member.
func (m *Manager) Leave(conn *Connection, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := conn.rooms[roomID]; !ok {
		return false
	}
	m.leaveLocked(conn, roomID)
	return true
}

func (m *Manager) leaveLocked(conn *Connection, roomID string) {
	delete(conn.rooms, roomID)
	members, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(members, conn.ID)
	if len(members) == 0 {
		delete(m.rooms, roomID)
	}
}

// InRoom reports whether conn has joined roomID.
func (m *Manager) InRoom(conn *Connection, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := conn.rooms[roomID]
	return ok
}

// EmitToRoom delivers an event to every member of roomID on every instance.
// Returns the number of local connections the frame was enqueued to; an
// empty room is not an error.
func (m *Manager) EmitToRoom(roomID, event string, payload any) int {
	return m.EmitToRoomExcept(roomID, "", event, payload)
}

// EmitToRoomExcept is EmitToRoom skipping the connection exceptConnID.
func (m *Manager) EmitToRoomExcept(roomID, exceptConnID, event string, payload any) int {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		m.logger.Error("failed to encode frame", "room", roomID, "event", event, "error", err)
		return 0
	}

	delivered := m.deliverLocal(roomID, exceptConnID, event, frame)

	if m.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
		defer cancel()
		err := m.relay.Publish(ctx, RelayFrame{
			Origin: m.instanceID,
			Room:   roomID,
			Except: exceptConnID,
			Event:  event,
			Frame:  frame,
		})
		if err != nil {
			m.logger.Warn("relay publish failed", "room", roomID, "event", event, "error", err)
		} else {
			metrics.RelayFrames.WithLabelValues("out").Inc()
		}
	}

	return delivered
}

// EmitToUser delivers an event to every live connection of identityID.
func (m *Manager) EmitToUser(identityID, event string, payload any) int {
	return m.EmitToRoom(UserRoom(identityID), event, payload)
}

// Send delivers an event to a single connection only, without relaying.
func (m *Manager) Send(conn *Connection, event string, payload any) bool {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		m.logger.Error("failed to encode frame", "conn_id", conn.ID, "event", event, "error", err)
		return false
	}
	if !conn.enqueue(frame) {
		metrics.FramesDropped.WithLabelValues(event).Inc()
		return false
	}
	metrics.FramesSent.WithLabelValues(event).Inc()
	return true
}

// DeliverRemote delivers a frame received from another instance to local
// members only. Frames that originated here are ignored.
func (m *Manager) DeliverRemote(f RelayFrame) int {
	if f.Origin == m.instanceID {
		return 0
	}
	metrics.RelayFrames.WithLabelValues("in").Inc()
	return m.deliverLocal(f.Room, f.Except, f.Event, f.Frame)
}

func (m *Manager) deliverLocal(roomID, exceptConnID, event string, frame []byte) int {
	m.mu.RLock()
	members := m.rooms[roomID]
	targets := make([]*Connection, 0, len(members))
	for id, conn := range members {
		if exceptConnID != "" && id == exceptConnID {
			continue
		}
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		m.logger.Debug("no local members for emit", "room", roomID, "event", event)
		return 0
	}

	delivered := 0
	for _, conn := range targets {
		if conn.enqueue(frame) {
			delivered++
			continue
		}
		metrics.FramesDropped.WithLabelValues(event).Inc()
		m.logger.Debug("dropped frame for slow connection",
			"room", roomID,
			"event", event,
			"conn_id", conn.ID)
	}
	metrics.FramesSent.WithLabelValues(event).Add(float64(delivered))
	return delivered
}

// Stats returns connection and room counts.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Connections: len(m.conns),
		Rooms:       len(m.rooms),
		Members:     make(map[string]int, len(m.rooms)),
	}
	for roomID, members := range m.rooms {
		s.Members[roomID] = len(members)
	}
	return s
}

// Close unregisters every connection.
func (m *Manager) Close() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.Unregister(c)
	}
	m.logger.Debug("room manager closed")
}
