// ABOUTME: Tests for the typing tracker
// ABOUTME: Uses a fake clock and a recording emitter to check broadcasts and expiry

package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	room   string
	except string
	event  string
	data   Payload
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) EmitToRoomExcept(roomID, exceptConnID, event string, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := payload.(Payload)
	r.events = append(r.events, emitted{room: roomID, except: exceptConnID, event: event, data: p})
	return 1
}

func (r *recordingEmitter) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]emitted, len(r.events))
	copy(out, r.events)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestTracker() (*Tracker, *recordingEmitter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	em := &recordingEmitter{}
	return NewTracker(em, WithClock(clock.Now)), em, clock
}

func TestStart_BroadcastsExceptSender(t *testing.T) {
	tr, em, clock := newTestTracker()

	tr.Start("c1", "visitor-1", "Vic", "conn-a")

	events := em.all()
	require.Len(t, events, 1)
	assert.Equal(t, "conversation:c1", events[0].room)
	assert.Equal(t, "conn-a", events[0].except)
	assert.Equal(t, EventStart, events[0].event)
	assert.Equal(t, Payload{ConversationID: "c1", UserID: "visitor-1", UserName: "Vic", Timestamp: clock.Now()}, events[0].data)

	list := tr.List("c1")
	require.Len(t, list, 1)
	assert.Equal(t, "Vic", list[0].UserName)
}

func TestStop_RemovesAndPrunes(t *testing.T) {
	tr, em, _ := newTestTracker()

	tr.Start("c1", "visitor-1", "Vic", "conn-a")
	assert.True(t, tr.Stop("c1", "visitor-1", "conn-a"))

	events := em.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventStop, events[1].event)
	assert.Empty(t, tr.List("c1"))

	tr.mu.Lock()
	_, exists := tr.state["c1"]
	tr.mu.Unlock()
	assert.False(t, exists, "inner map should be deleted with its last entry")
}

func TestStop_AbsentIsSilent(t *testing.T) {
	tr, em, _ := newTestTracker()

	assert.False(t, tr.Stop("c1", "nobody", ""))
	assert.Empty(t, em.all())
}

// Lifecycle: A starts typing in X, B joins and lists, time advances 31s,
// sweep runs, B lists again and A is gone with no stop broadcast.
func TestLifecycle_ExpiryIsSilent(t *testing.T) {
	tr, em, clock := newTestTracker()

	tr.Start("X", "A", "Alice", "conn-a")
	list := tr.List("X")
	require.Len(t, list, 1)
	assert.Equal(t, "A", list[0].UserID)

	clock.Advance(31 * time.Second)
	assert.Empty(t, tr.List("X"), "expired entries are hidden before the sweep")

	assert.Equal(t, 1, tr.Sweep())
	assert.Empty(t, tr.List("X"))

	events := em.all()
	require.Len(t, events, 1, "expiry must not broadcast a stop")
	assert.Equal(t, EventStart, events[0].event)
}

func TestStart_RefreshesLastSeen(t *testing.T) {
	tr, _, clock := newTestTracker()

	tr.Start("X", "A", "Alice", "")
	clock.Advance(20 * time.Second)
	tr.Start("X", "A", "Alice", "")
	clock.Advance(20 * time.Second)

	assert.Equal(t, 0, tr.Sweep())
	assert.Len(t, tr.List("X"), 1)
}

func TestClearUser_StopsEachConversationOnce(t *testing.T) {
	tr, em, _ := newTestTracker()

	tr.Start("X", "A", "Alice", "conn-a")
	tr.Start("Y", "A", "Alice", "conn-a")
	tr.Start("Y", "B", "Bob", "conn-b")

	ids := tr.ClearUser("A")
	assert.Equal(t, []string{"X", "Y"}, ids)

	var stops []emitted
	for _, e := range em.all() {
		if e.event == EventStop {
			stops = append(stops, e)
		}
	}
	require.Len(t, stops, 2)
	assert.Equal(t, "conversation:X", stops[0].room)
	assert.Equal(t, "conversation:Y", stops[1].room)
	for _, s := range stops {
		assert.Equal(t, "A", s.data.UserID)
		assert.Empty(t, s.except)
	}

	assert.Empty(t, tr.ClearUser("A"), "second clear finds nothing")
	assert.Len(t, tr.List("Y"), 1, "other users are untouched")
}

func TestList_SortedByUser(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.Start("X", "zed", "Zed", "")
	tr.Start("X", "amy", "Amy", "")

	list := tr.List("X")
	require.Len(t, list, 2)
	assert.Equal(t, "amy", list[0].UserID)
	assert.Equal(t, "zed", list[1].UserID)
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	tr := NewTracker(&recordingEmitter{}, WithSweepInterval(time.Millisecond), WithTimeout(time.Millisecond))
	tr.Start("X", "A", "Alice", "")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.state) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
