// ABOUTME: Tiered, load-balanced human agent selection for escalations
// ABOUTME: Prefers online agents of the requested team, then away agents, then any active team

package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/2389/switchboard/internal/store"
)

// ErrNoAgentAvailable indicates every tier came back empty.
var ErrNoAgentAvailable = errors.New("no agent available")

// Directory is the part of the store the selector reads.
type Directory interface {
	ListCandidates(ctx context.Context, presence store.Presence, teamID string) ([]*store.AgentCandidate, error)
	ListActiveTeams(ctx context.Context) ([]*store.Team, error)
}

// Assignment is the selector's answer.
type Assignment struct {
	Agent  *store.AgentCandidate
	TeamID string
	Tier   int
}

// tier is one step of the fallback ladder; preferred restricts it to the requested team.
type tier struct {
	presence  store.Presence
	preferred bool
}

var tiers = []tier{
	{presence: store.PresenceOnline, preferred: true},
	{presence: store.PresenceAway, preferred: true},
	{presence: store.PresenceOnline, preferred: false},
	{presence: store.PresenceAway, preferred: false},
}

// Selector picks the least-loaded agent across the tiers.
type Selector struct {
	dir    Directory
	logger *slog.Logger
}

// NewSelector creates a selector over dir. Pass nil logger for default.
func NewSelector(dir Directory, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{dir: dir, logger: logger.With("component", "assign")}
}

// Select walks the tiers in order and returns the first non-empty tier's
// least-loaded agent. Tiers 1 and 2 are skipped when preferredTeamID is
// empty. Directory errors are returned as is.
func (s *Selector) Select(ctx context.Context, preferredTeamID string) (*Assignment, error) {
	for i, t := range tiers {
		teamID := ""
		if t.preferred {
			if preferredTeamID == "" {
				continue
			}
			teamID = preferredTeamID
		}

		candidates, err := s.dir.ListCandidates(ctx, t.presence, teamID)
		if err != nil {
			return nil, fmt.Errorf("listing %s candidates: %w", t.presence, err)
		}

		agent := leastLoaded(candidates)
		if agent == nil {
			continue
		}

		assignment := &Assignment{Agent: agent, TeamID: teamID, Tier: i + 1}
		if !t.preferred {
			assignment.TeamID, err = s.fallbackTeam(ctx, agent, preferredTeamID)
			if err != nil {
				return nil, err
			}
		}

		s.logger.Debug("agent selected",
			"agent_id", agent.AgentID,
			"team_id", assignment.TeamID,
			"tier", assignment.Tier,
			"load", agent.Load)
		return assignment, nil
	}

	return nil, ErrNoAgentAvailable
}

// leastLoaded returns the candidate with the lowest load; ties keep the
// earlier candidate.
func leastLoaded(candidates []*store.AgentCandidate) *store.AgentCandidate {
	var best *store.AgentCandidate
	for _, c := range candidates {
		if best == nil || c.Load < best.Load {
			best = c
		}
	}
	return best
}

// fallbackTeam picks the team recorded for a tier 3/4 assignment: the
// agent's first active team, else the preferred team, else the first active team.
func (s *Selector) fallbackTeam(ctx context.Context, agent *store.AgentCandidate, preferredTeamID string) (string, error) {
	teams, err := s.dir.ListActiveTeams(ctx)
	if err != nil {
		return "", fmt.Errorf("listing active teams: %w", err)
	}

	for _, team := range teams {
		if slices.Contains(agent.TeamIDs, team.ID) {
			return team.ID, nil
		}
	}
	if preferredTeamID != "" {
		return preferredTeamID, nil
	}
	if len(teams) > 0 {
		return teams[0].ID, nil
	}
	return "", nil
}
