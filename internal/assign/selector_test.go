// ABOUTME: Tests for tiered agent selection
// ABOUTME: Exercises tier fallthrough, load balancing ties and directory errors against MockStore

package assign

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard/internal/store"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	store *store.MockStore
	n     int
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, store: store.NewMockStore()}
}

func (f *fixture) team(id string, active bool) {
	f.t.Helper()
	f.n++
	require.NoError(f.t, f.store.CreateTeam(f.t.Context(), &store.Team{
		ID: id, Name: id, Active: active, CreatedAt: t0.Add(time.Duration(f.n) * time.Second),
	}))
}

// agent creates an agent in the given teams carrying load open conversations.
func (f *fixture) agent(id string, presence store.Presence, load int, teams ...string) {
	f.t.Helper()
	ctx := f.t.Context()
	f.n++
	require.NoError(f.t, f.store.UpsertAgent(ctx, &store.Agent{
		ID: id, DisplayName: "Agent " + id, Presence: presence, CreatedAt: t0.Add(time.Duration(f.n) * time.Second),
	}))
	for _, team := range teams {
		require.NoError(f.t, f.store.AddTeamMember(ctx, team, id))
	}
	for i := range load {
		assignee := id
		require.NoError(f.t, f.store.CreateConversation(ctx, &store.Conversation{
			ID:         fmt.Sprintf("%s-load-%d", id, i),
			Status:     store.StatusOpen,
			AssignedTo: &assignee,
			CreatedAt:  t0,
			UpdatedAt:  t0,
		}))
	}
}

func TestSelect_PreferredTeamLeastLoadedTieKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.team("T", true)
	f.agent("a1", store.PresenceOnline, 3, "T")
	f.agent("a2", store.PresenceOnline, 1, "T")
	f.agent("a3", store.PresenceOnline, 1, "T")

	got, err := NewSelector(f.store, nil).Select(t.Context(), "T")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.Agent.AgentID)
	assert.Equal(t, "T", got.TeamID)
	assert.Equal(t, 1, got.Tier)
	assert.Equal(t, 1, got.Agent.Load)
}

// Agents A (teamX, load 3), B (teamX, load 1) and C (teamY, load 0) are all
// online; escalating to teamX must pick B and never the idle C.
func TestSelect_TeamXPicksLeastLoadedMemberOverIdleOutsider(t *testing.T) {
	f := newFixture(t)
	f.team("teamX", true)
	f.team("teamY", true)
	f.agent("A", store.PresenceOnline, 3, "teamX")
	f.agent("B", store.PresenceOnline, 1, "teamX")
	f.agent("C", store.PresenceOnline, 0, "teamY")

	selector := NewSelector(f.store, nil)
	for range 3 {
		got, err := selector.Select(t.Context(), "teamX")
		require.NoError(t, err)
		assert.Equal(t, "B", got.Agent.AgentID)
		assert.NotEqual(t, "C", got.Agent.AgentID)
		assert.Equal(t, "teamX", got.TeamID)
		assert.Equal(t, 1, got.Tier)
	}
}

func TestSelect_AwayPreferredBeatsOnlineElsewhere(t *testing.T) {
	f := newFixture(t)
	f.team("T", true)
	f.team("U", true)
	f.agent("away-t", store.PresenceAway, 5, "T")
	f.agent("online-u", store.PresenceOnline, 0, "U")

	got, err := NewSelector(f.store, nil).Select(t.Context(), "T")
	require.NoError(t, err)
	assert.Equal(t, "away-t", got.Agent.AgentID)
	assert.Equal(t, 2, got.Tier)
	assert.Equal(t, "T", got.TeamID)
}

func TestSelect_FallsBackToAnyActiveTeam(t *testing.T) {
	f := newFixture(t)
	f.team("T", true)
	f.team("U", true)
	f.team("V", true)
	f.agent("busy-t", store.PresenceBusy, 0, "T")
	f.agent("online-v", store.PresenceOnline, 0, "V", "U")

	got, err := NewSelector(f.store, nil).Select(t.Context(), "T")
	require.NoError(t, err)
	assert.Equal(t, "online-v", got.Agent.AgentID)
	assert.Equal(t, 3, got.Tier)
	assert.Equal(t, "U", got.TeamID, "first active team in team order")
}

func TestSelect_NoPreferredTeamSkipsTiersOneAndTwo(t *testing.T) {
	f := newFixture(t)
	f.team("U", true)
	f.agent("away-u", store.PresenceAway, 0, "U")

	got, err := NewSelector(f.store, nil).Select(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, "away-u", got.Agent.AgentID)
	assert.Equal(t, 4, got.Tier)
	assert.Equal(t, "U", got.TeamID)
}

func TestSelect_InactiveTeamsIgnoredInFallback(t *testing.T) {
	f := newFixture(t)
	f.team("old", false)
	f.agent("online-old", store.PresenceOnline, 0, "old")

	_, err := NewSelector(f.store, nil).Select(t.Context(), "")
	assert.ErrorIs(t, err, ErrNoAgentAvailable)
}

func TestSelect_NoneAvailable(t *testing.T) {
	f := newFixture(t)
	f.team("T", true)
	f.agent("off", store.PresenceOffline, 0, "T")
	f.agent("busy", store.PresenceBusy, 0, "T")

	_, err := NewSelector(f.store, nil).Select(t.Context(), "T")
	assert.ErrorIs(t, err, ErrNoAgentAvailable)
}

func TestSelect_ResolvedConversationsNotCounted(t *testing.T) {
	f := newFixture(t)
	f.team("T", true)
	f.agent("a1", store.PresenceOnline, 0, "T")
	f.agent("a2", store.PresenceOnline, 1, "T")

	assignee := "a1"
	require.NoError(t, f.store.CreateConversation(t.Context(), &store.Conversation{
		ID: "done", Status: store.StatusResolved, AssignedTo: &assignee, CreatedAt: t0, UpdatedAt: t0,
	}))

	got, err := NewSelector(f.store, nil).Select(t.Context(), "T")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.Agent.AgentID)
}

type failingDirectory struct {
	err error
}

func (d failingDirectory) ListCandidates(context.Context, store.Presence, string) ([]*store.AgentCandidate, error) {
	return nil, d.err
}

func (d failingDirectory) ListActiveTeams(context.Context) ([]*store.Team, error) {
	return nil, d.err
}

func TestSelect_DirectoryErrorPropagates(t *testing.T) {
	boom := errors.New("directory down")

	_, err := NewSelector(failingDirectory{err: boom}, nil).Select(t.Context(), "T")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoAgentAvailable)
}

func TestLeastLoaded(t *testing.T) {
	assert.Nil(t, leastLoaded(nil))

	cands := []*store.AgentCandidate{
		{AgentID: "x", Load: 2},
		{AgentID: "y", Load: 0},
		{AgentID: "z", Load: 0},
	}
	assert.Equal(t, "y", leastLoaded(cands).AgentID)
}
