// ABOUTME: SQLite implementation of the agent/team Directory
// ABOUTME: Candidate queries compute load and active-team membership at query time

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpsertAgent inserts an agent or updates its display name and presence.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	if agent.Presence == "" {
		agent.Presence = PresenceOffline
	}
	if !agent.Presence.Valid() {
		return fmt.Errorf("invalid presence %q", agent.Presence)
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.UpdatedAt.IsZero() {
		agent.UpdatedAt = now
	}

	query := `
		INSERT INTO agents (id, display_name, presence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			presence = excluded.presence,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.DisplayName,
		string(agent.Presence),
		formatTime(agent.CreatedAt),
		formatTime(agent.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}

	s.logger.Debug("upserted agent", "id", agent.ID, "presence", agent.Presence)
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `SELECT id, display_name, presence, created_at, updated_at FROM agents WHERE id = ?`

	var agent Agent
	var presence, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&agent.ID, &agent.DisplayName, &presence, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}

	agent.Presence = Presence(presence)
	if agent.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if agent.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &agent, nil
}

// SetAgentPresence updates an agent's presence.
func (s *SQLiteStore) SetAgentPresence(ctx context.Context, id string, presence Presence) error {
	if !presence.Valid() {
		return fmt.Errorf("invalid presence %q", presence)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET presence = ?, updated_at = ? WHERE id = ?`,
		string(presence), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTeam inserts a new team.
func (s *SQLiteStore) CreateTeam(ctx context.Context, team *Team) error {
	if team.CreatedAt.IsZero() {
		team.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, active, created_at) VALUES (?, ?, ?, ?)`,
		team.ID, team.Name, boolToInt(team.Active), formatTime(team.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting team: %w", err)
	}
	return nil
}

// AddTeamMember adds an agent to a team. Adding an existing member is a no-op.
func (s *SQLiteStore) AddTeamMember(ctx context.Context, teamID, agentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_members (team_id, agent_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(team_id, agent_id) DO NOTHING`,
		teamID, agentID, formatTime(time.Now()),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return ErrNotFound
		}
		return fmt.Errorf("adding team member: %w", err)
	}
	return nil
}

// ListActiveTeams returns active teams in creation order.
func (s *SQLiteStore) ListActiveTeams(ctx context.Context) ([]*Team, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, active, created_at FROM teams WHERE active = 1 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		var team Team
		var active int
		var createdAt string
		if err := rows.Scan(&team.ID, &team.Name, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning team: %w", err)
		}
		team.Active = active == 1
		if team.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		teams = append(teams, &team)
	}
	return teams, rows.Err()
}

// ListCandidates returns agents with the given presence restricted to teamID,
// or to members of any active team when teamID is empty.
func (s *SQLiteStore) ListCandidates(ctx context.Context, presence Presence, teamID string) ([]*AgentCandidate, error) {
	query := `
		SELECT
			a.id,
			a.display_name,
			a.presence,
			(
				SELECT json_group_array(m.team_id) FROM (
					SELECT tm2.team_id
					FROM team_members tm2
					JOIN teams t2 ON t2.id = tm2.team_id AND t2.active = 1
					WHERE tm2.agent_id = a.id
					ORDER BY t2.created_at ASC, t2.id ASC
				) m
			) AS team_ids,
			(
				SELECT COUNT(*)
				FROM conversations c
				WHERE c.assigned_to = a.id AND c.status IN ('open', 'active')
			) AS load
		FROM agents a
		WHERE a.presence = ?
		  AND EXISTS (
			SELECT 1 FROM team_members tm
			JOIN teams t ON t.id = tm.team_id
			WHERE tm.agent_id = a.id
			  AND ((? != '' AND tm.team_id = ?) OR (? = '' AND t.active = 1))
		  )
		ORDER BY a.created_at ASC, a.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(presence), teamID, teamID, teamID)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*AgentCandidate
	for rows.Next() {
		var c AgentCandidate
		var p string
		var teamIDs sql.NullString
		if err := rows.Scan(&c.AgentID, &c.DisplayName, &p, &teamIDs, &c.Load); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		c.Presence = Presence(p)
		if teamIDs.Valid && teamIDs.String != "" {
			if err := json.Unmarshal([]byte(teamIDs.String), &c.TeamIDs); err != nil {
				return nil, fmt.Errorf("decoding team ids for %s: %w", c.AgentID, err)
			}
		}
		if len(c.TeamIDs) == 0 {
			c.TeamIDs = nil
		}
		candidates = append(candidates, &c)
	}
	return candidates, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
