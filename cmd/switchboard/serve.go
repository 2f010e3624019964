// ABOUTME: serve command: loads config, prints the startup banner and runs the gateway
// ABOUTME: Blocks until SIGINT or SIGTERM, then shuts down gracefully

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/switchboard/internal/gateway"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the switchboard server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Broker:    %s\n", cfg.Broker.Kind)
	if cfg.Redis.URL == "" {
		yellow.Println("    ! no redis.url: dedup and room fan-out are local to this instance")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting switchboard",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"broker", cfg.Broker.Kind,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(cmd.Context())
}
