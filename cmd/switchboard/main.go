// ABOUTME: Entry point for the switchboard realtime support server
// ABOUTME: Cobra command tree for serve, init, token, seed and health

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/switchboard/internal/config"
)

// Version is set at build time.
var version = "dev"

const banner = `
               _ _       _     _                         _
 _____      _(_) |_ ___| |__ | |__   ___   __ _ _ __ __| |
/ __\ \ /\ / / | __/ __| '_ \| '_ \ / _ \ / _' | '__/ _' |
\__ \\ V  V /| | || (__| | | | |_) | (_) | (_| | | | (_| |
|___/ \_/\_/ |_|\__\___|_| |_|_.__/ \___/ \__,_|_|  \__,_|
`

// Global flags
var configPath string

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Realtime routing for support conversations",
	Long: `switchboard connects visitors, the support assistant and human agents.

It serves the websocket endpoint clients connect to, consumes assistant
events from the broker, escalates conversations to available agents and
tracks who is typing.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"config file (overridden by "+config.EnvConfigPath+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(healthCmd)
}

// loadConfig loads the config from --config or SWITCHBOARD_CONFIG.
func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
