/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"time"

	"github.com/friendsincode/taskplanner/internal/availability"
)

// DefaultDuration applies to tasks without an estimate.
const DefaultDuration = 60 * time.Minute

// SlotStep is the granularity the cursor is aligned to.
const SlotStep = 30 * time.Minute

// HorizonDays bounds the search for tasks without a deadline.
const HorizonDays = availability.HorizonDays

// Task is the engine's view of a backlog item.
type Task struct {
	ID                string
	Title             string
	Priority          int // Higher is more urgent
	Deadline          *time.Time
	EstimatedDuration time.Duration // Zero means DefaultDuration
	Space             string        // Empty means unconstrained
	Frozen            bool
	ScheduledStart    *time.Time
	ScheduledEnd      *time.Time
	CreatedAt         time.Time
}

// Duration returns the estimate, falling back to DefaultDuration.
func (t Task) Duration() time.Duration {
	if t.EstimatedDuration <= 0 {
		return DefaultDuration
	}
	return t.EstimatedDuration
}

// Placed reports whether the task carries an existing placement.
func (t Task) Placed() bool {
	return t.ScheduledStart != nil && t.ScheduledEnd != nil
}

// Interval is a half-open busy range [Start, End).
type Interval struct {
	Start  time.Time
	End    time.Time
	Source string // "external", "frozen" or "scheduled"; informational only
	Label  string
}

// Overlaps uses half-open semantics: touching intervals do not overlap.
func (i Interval) Overlaps(start, end time.Time) bool {
	return i.Start.Before(end) && i.End.After(start)
}

// Result is a committed placement for one task.
type Result struct {
	TaskID string    `json:"task_id"`
	Start  time.Time `json:"scheduled_start"`
	End    time.Time `json:"scheduled_end"`
}

// Interval returns the result as a busy interval.
func (r Result) Interval() Interval {
	return Interval{Start: r.Start, End: r.End, Source: "scheduled", Label: r.TaskID}
}

// RoundUp30 clears seconds and sub-seconds, then moves t forward to the next
// half-hour boundary. Times already on a boundary are kept.
func RoundUp30(t time.Time) time.Time {
	y, m, d := t.Date()
	truncated := time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, t.Location())
	rem := t.Minute() % 30
	if rem == 0 {
		return truncated
	}
	return truncated.Add(time.Duration(30-rem) * time.Minute)
}
