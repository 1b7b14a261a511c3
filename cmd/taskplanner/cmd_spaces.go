/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/taskplanner/internal/availability"
	"github.com/friendsincode/taskplanner/internal/db"
	"github.com/friendsincode/taskplanner/internal/models"
)

var spacesCmd = &cobra.Command{
	Use:   "spaces",
	Short: "Print the availability constraint table",
	Long: `Print every space with the weekly windows the scheduler will use.

A space without windows is available at any time. Spaces whose stored
windows cannot be parsed are flagged; the scheduler excludes their tasks.`,
	RunE: runSpaces,
}

func init() {
	rootCmd.AddCommand(spacesCmd)
}

func runSpaces(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	var spaces []models.Space
	if err := database.Order("name ASC").Find(&spaces).Error; err != nil {
		return fmt.Errorf("list spaces: %w", err)
	}

	printConstraints(cmd.OutOrStdout(), spaces)
	return nil
}

func printConstraints(out io.Writer, spaces []models.Space) {
	constraints, invalid := models.BuildConstraints(spaces)

	names := make([]string, 0, len(spaces))
	for _, s := range spaces {
		names = append(names, s.Name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SPACE\tWINDOWS")
	for _, name := range names {
		if err, bad := invalid[name]; bad {
			fmt.Fprintf(w, "%s\tINVALID: %v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", name, describeWindows(constraints.Windows(name)))
	}
	_ = w.Flush()
}

func describeWindows(windows []availability.Window) string {
	if len(windows) == 0 {
		return "any time"
	}
	parts := make([]string, len(windows))
	for i, win := range windows {
		parts[i] = win.String()
	}
	return strings.Join(parts, ", ")
}
