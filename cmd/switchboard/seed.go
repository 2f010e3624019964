// ABOUTME: seed command: loads agents, teams and memberships from a YAML file
// ABOUTME: Safe to re-run; existing teams and memberships are left in place

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/2389/switchboard/internal/store"
)

// SeedFile is the directory seed format.
type SeedFile struct {
	Agents []SeedAgent `yaml:"agents"`
	Teams  []SeedTeam  `yaml:"teams"`
}

// SeedAgent is one agent entry.
type SeedAgent struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Presence string `yaml:"presence"`
}

// SeedTeam is one team entry with its member agent IDs.
type SeedTeam struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Active  *bool    `yaml:"active"`
	Members []string `yaml:"members"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load agents and teams into the database",
	Long: `Load agents, teams and team memberships from a YAML file.

Example file:
  agents:
    - id: agent-1
      name: Alice
      presence: online
  teams:
    - id: billing
      name: Billing
      members: [agent-1]`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	if err := applySeed(cmd.Context(), s, &seed); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d agents and %d teams into %s\n",
		len(seed.Agents), len(seed.Teams), cfg.Database.Path)
	return nil
}

// applySeed writes agents first so that team memberships can reference them.
func applySeed(ctx context.Context, dir store.Directory, seed *SeedFile) error {
	for _, a := range seed.Agents {
		if a.ID == "" {
			return errors.New("agent entry missing id")
		}
		presence := store.Presence(a.Presence)
		if presence == "" {
			presence = store.PresenceOffline
		}
		if !presence.Valid() {
			return fmt.Errorf("agent %s: unknown presence %q", a.ID, a.Presence)
		}
		if err := dir.UpsertAgent(ctx, &store.Agent{ID: a.ID, DisplayName: a.Name, Presence: presence}); err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
	}

	for _, t := range seed.Teams {
		if t.ID == "" {
			return errors.New("team entry missing id")
		}
		active := t.Active == nil || *t.Active
		err := dir.CreateTeam(ctx, &store.Team{ID: t.ID, Name: t.Name, Active: active})
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("team %s: %w", t.ID, err)
		}
		for _, agentID := range t.Members {
			if err := dir.AddTeamMember(ctx, t.ID, agentID); err != nil {
				return fmt.Errorf("team %s member %s: %w", t.ID, agentID, err)
			}
		}
	}
	return nil
}
