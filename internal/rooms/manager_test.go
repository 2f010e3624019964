// ABOUTME: Tests for the room manager
// ABOUTME: Covers join/leave, room isolation, user rooms, slow consumers and disconnect hooks

package rooms

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/auth"
)

func newConn(m *Manager, id string, role auth.Role) *Connection {
	conn := NewConnection(auth.Identity{ID: id, Role: role, Name: id}, 8)
	m.Register(conn)
	return conn
}

// drain returns every frame currently queued on conn.
func drain(t *testing.T, conn *Connection) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw, ok := <-conn.Outbound():
			if !ok {
				return frames
			}
			var f Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestRegister_JoinsUserRoom(t *testing.T) {
	m := NewManager(nil)
	conn := newConn(m, "agent-1", auth.RoleAgent)

	assert.True(t, m.InRoom(conn, UserRoom("agent-1")))
	assert.Equal(t, 1, m.Stats().Connections)
	assert.Equal(t, 1, m.Stats().Members["user:agent-1"])
}

func TestJoin_Idempotent(t *testing.T) {
	m := NewManager(nil)
	conn := newConn(m, "visitor-1", auth.RoleVisitor)
	room := ConversationRoom("c1")

	assert.True(t, m.Join(conn, room))
	assert.False(t, m.Join(conn, room), "second join should be a no-op")
	assert.Equal(t, 1, m.Stats().Members[room])

	assert.Equal(t, 1, m.EmitToRoom(room, "new_message", map[string]string{"id": "m1"}))
	assert.Len(t, drain(t, conn), 1, "joined twice but receives once")
}

func TestJoin_UnregisteredConnection(t *testing.T) {
	m := NewManager(nil)
	conn := NewConnection(auth.Identity{ID: "x", Role: auth.RoleVisitor}, 1)

	assert.False(t, m.Join(conn, ConversationRoom("c1")))
}

func TestEmitToRoom_Isolation(t *testing.T) {
	m := NewManager(nil)
	inX := newConn(m, "visitor-x", auth.RoleVisitor)
	inY := newConn(m, "visitor-y", auth.RoleVisitor)
	m.Join(inX, ConversationRoom("X"))
	m.Join(inY, ConversationRoom("Y"))

	m.EmitToRoom(ConversationRoom("X"), "new_message", map[string]string{"conversationId": "X"})

	framesX := drain(t, inX)
	require.Len(t, framesX, 1)
	assert.Equal(t, "new_message", framesX[0].Event)
	assert.JSONEq(t, `{"conversationId":"X"}`, string(framesX[0].Data))
	assert.Empty(t, drain(t, inY))
}

func TestEmitToRoom_EmptyRoomIsNoop(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, 0, m.EmitToRoom(ConversationRoom("nobody"), "new_message", struct{}{}))
}

func TestEmitToRoomExcept(t *testing.T) {
	m := NewManager(nil)
	sender := newConn(m, "visitor-1", auth.RoleVisitor)
	other := newConn(m, "agent-1", auth.RoleAgent)
	room := ConversationRoom("c1")
	m.Join(sender, room)
	m.Join(other, room)

	assert.Equal(t, 1, m.EmitToRoomExcept(room, sender.ID, "user_typing_start", struct{}{}))
	assert.Empty(t, drain(t, sender))
	assert.Len(t, drain(t, other), 1)
}

func TestEmitToUser_AllSessions(t *testing.T) {
	m := NewManager(nil)
	tab1 := newConn(m, "agent-1", auth.RoleAgent)
	tab2 := newConn(m, "agent-1", auth.RoleAgent)
	stranger := newConn(m, "agent-2", auth.RoleAgent)

	assert.Equal(t, 2, m.EmitToUser("agent-1", "new_widget_conversation", struct{}{}))
	assert.Len(t, drain(t, tab1), 1)
	assert.Len(t, drain(t, tab2), 1)
	assert.Empty(t, drain(t, stranger))
}

func TestEmit_SlowConsumerDropsFrame(t *testing.T) {
	m := NewManager(nil)
	slow := NewConnection(auth.Identity{ID: "slow", Role: auth.RoleVisitor}, 1)
	m.Register(slow)
	fast := newConn(m, "fast", auth.RoleVisitor)
	room := ConversationRoom("c1")
	m.Join(slow, room)
	m.Join(fast, room)

	assert.Equal(t, 2, m.EmitToRoom(room, "new_message", 1))
	assert.Equal(t, 1, m.EmitToRoom(room, "new_message", 2), "full queue drops for slow only")

	assert.Len(t, drain(t, slow), 1)
	assert.Len(t, drain(t, fast), 2)
}

func TestLeave(t *testing.T) {
	m := NewManager(nil)
	conn := newConn(m, "visitor-1", auth.RoleVisitor)
	room := ConversationRoom("c1")
	m.Join(conn, room)

	assert.True(t, m.Leave(conn, room))
	assert.False(t, m.Leave(conn, room))
	assert.Equal(t, 0, m.EmitToRoom(room, "new_message", 1))
	_, exists := m.Stats().Members[room]
	assert.False(t, exists, "empty room should be removed")
}

func TestUnregister_RunsHooksOnce(t *testing.T) {
	m := NewManager(nil)
	conn := newConn(m, "visitor-1", auth.RoleVisitor)
	m.Join(conn, ConversationRoom("Y"))
	m.Join(conn, ConversationRoom("X"))

	var mu sync.Mutex
	var calls []struct {
		id    auth.Identity
		convs []string
	}
	m.OnDisconnect(func(id auth.Identity, convs []string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, struct {
			id    auth.Identity
			convs []string
		}{id, convs})
	})

	m.Unregister(conn)
	m.Unregister(conn)

	require.Len(t, calls, 1)
	assert.Equal(t, "visitor-1", calls[0].id.ID)
	assert.Equal(t, []string{"X", "Y"}, calls[0].convs)

	_, open := <-conn.Outbound()
	assert.False(t, open, "queue should be closed")
	assert.Equal(t, 0, m.Stats().Connections)
	assert.Equal(t, 0, m.Stats().Rooms)
	assert.False(t, m.Send(conn, "connected", struct{}{}), "send after close is dropped")
}

func TestClose_UnregistersAll(t *testing.T) {
	m := NewManager(nil)
	newConn(m, "a", auth.RoleAgent)
	newConn(m, "b", auth.RoleVisitor)

	hookCalls := 0
	m.OnDisconnect(func(auth.Identity, []string) { hookCalls++ })
	m.Close()

	assert.Equal(t, 2, hookCalls)
	assert.Equal(t, 0, m.Stats().Connections)
}

func TestConcurrentJoinEmit(t *testing.T) {
	m := NewManager(nil)
	room := ConversationRoom("busy")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			conn := NewConnection(auth.Identity{ID: "v", Role: auth.RoleVisitor}, 256)
			m.Register(conn)
			m.Join(conn, room)
			m.EmitToRoom(room, "new_message", i)
			m.Unregister(conn)
		})
	}
	wg.Wait()

	assert.Equal(t, 0, m.Stats().Connections)
}
