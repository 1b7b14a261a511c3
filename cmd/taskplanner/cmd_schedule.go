/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/taskplanner/internal/cache"
	"github.com/friendsincode/taskplanner/internal/calendar"
	"github.com/friendsincode/taskplanner/internal/db"
	"github.com/friendsincode/taskplanner/internal/logging"
	"github.com/friendsincode/taskplanner/internal/scheduler"
	"github.com/friendsincode/taskplanner/internal/scheduling"
)

var scheduleJSON bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run one scheduling pass and print the result",
	Long: `Run one scheduling pass against the configured database.

Incomplete, unfrozen tasks are placed into the earliest free slot that
respects their deadline, their space's availability windows and events
from enabled calendar sources. Frozen tasks keep their placement.

Examples:
  # Reschedule and print a table
  taskplanner schedule

  # Print the full report as JSON
  taskplanner schedule --json
`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	log := logging.Component(logger, "cli")

	var feedCache calendar.FeedCache
	if cfg.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		cacheCfg.FeedTTL = cfg.CalendarCacheTTL
		c := cache.New(cacheCfg, log)
		defer c.Close()
		feedCache = c
	}

	fetcher := calendar.NewFetcher(calendar.FetcherConfig{
		DaysAhead: cfg.CalendarDaysAhead,
		Timeout:   cfg.CalendarFetchTimeout,
		Location:  cfg.Location,
	}, feedCache, log)
	svc := scheduler.New(database, fetcher, nil, scheduler.Config{Location: cfg.Location}, log)

	ctx, cancel := context.WithTimeout(cmd.Context(), scheduler.DefaultRunTimeout)
	defer cancel()

	report, err := svc.Run(ctx, scheduler.TriggerCLI)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	out := cmd.OutOrStdout()
	if scheduleJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

func printReport(out io.Writer, report *scheduler.Report) {
	fmt.Fprintf(out, "Considered %d task(s): %d scheduled, %d unscheduled, %d excluded\n\n",
		report.Considered, len(report.Scheduled), len(report.Unscheduled), len(report.Excluded))

	if len(report.Results) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTART\tEND\tDURATION")
		for _, r := range report.Results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				r.TaskID, scheduling.FormatLocal(r.Start), scheduling.FormatLocal(r.End), r.End.Sub(r.Start).Round(time.Minute))
		}
		_ = w.Flush()
	}

	for _, id := range report.Unscheduled {
		fmt.Fprintf(out, "no slot found: %s\n", id)
	}
	for _, reason := range report.Excluded {
		fmt.Fprintf(out, "excluded: %s\n", reason)
	}
	for _, src := range report.Sources {
		if src.Error != "" {
			fmt.Fprintf(out, "calendar %s failed: %s\n", src.Name, src.Error)
		}
	}
}
