/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/taskplanner/internal/db"
)

var (
	resetForce   bool
	resetNoSeeds bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and re-create all planner tables",
	Long: `Reset Task Planner to a fresh state.

This command will:
- Drop the tasks, spaces, calendar sources and change log tables
- Re-create empty tables
- Seed the default spaces (or those from TASKPLANNER_SPACES_FILE)

WARNING: This action is irreversible! All data will be lost.

Examples:
  # Interactive reset (will prompt for confirmation)
  taskplanner reset

  # Force reset without confirmation
  taskplanner reset --force

  # Reset and leave the spaces table empty
  taskplanner reset --force --no-seed
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetNoSeeds, "no-seed", false, "Do not seed spaces after the reset")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !resetForce {
		fmt.Fprintln(out, "This will DELETE ALL tasks, spaces, calendar sources and change log entries.")
		fmt.Fprintln(out, "This action CANNOT be undone!")
		fmt.Fprint(out, "Type 'yes' to confirm reset: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintln(out, "Reset cancelled.")
			return nil
		}
	}

	logger.Info().Bool("seed", !resetNoSeeds).Msg("Starting database reset")

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	if err := db.Reset(database); err != nil {
		return fmt.Errorf("reset database: %w", err)
	}

	if !resetNoSeeds {
		seeds, err := spaceSeeds()
		if err != nil {
			return err
		}
		created, err := db.SeedSpaces(database, seeds)
		if err != nil {
			return fmt.Errorf("seed spaces: %w", err)
		}
		logger.Info().Int("spaces", created).Msg("spaces seeded")
	}

	fmt.Fprintln(out, "Reset complete.")
	return nil
}

func spaceSeeds() ([]db.SpaceSeed, error) {
	if cfg.SpacesFile == "" {
		return db.DefaultSpaceSeeds(), nil
	}
	if _, err := os.Stat(cfg.SpacesFile); err != nil {
		return nil, fmt.Errorf("spaces file: %w", err)
	}
	return db.LoadSpaceSeeds(cfg.SpacesFile)
}
